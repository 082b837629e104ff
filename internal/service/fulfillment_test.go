package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/indiko7777/callsanta/internal/domain"
	"github.com/indiko7777/callsanta/internal/repository"
)

func newFulfillmentForTest(t *testing.T) (*FulfillmentService, repository.OrderRepository, *captureNotifier) {
	t.Helper()
	orders := newServiceDBForTest(t)
	issuer := NewCodeIssuer(4)
	reconciler := NewReconciler(orders, issuer, testLogger(), 5*time.Minute, 10)
	notifier := &captureNotifier{}
	svc := NewFulfillmentService(orders, issuer, reconciler, notifier, testLogger(), "1-555-SANTA")
	return svc, orders, notifier
}

func TestHandlePaymentSucceededActivatesCodeAndEmails(t *testing.T) {
	svc, orders, notifier := newFulfillmentForTest(t)
	ctx := context.Background()

	order := seedOrder(t, orders, nil)
	if err := svc.HandlePaymentSucceeded(ctx, order.PaymentRef); err != nil {
		t.Fatalf("payment succeeded: %v", err)
	}

	paid, err := orders.FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if paid.Status != domain.StatusPaid {
		t.Fatalf("expected paid, got %s", paid.Status)
	}
	if paid.AccessCode == nil || len(*paid.AccessCode) != 4 {
		t.Fatalf("access code not activated: %+v", paid.AccessCode)
	}
	mail := notifier.last(t)
	if mail.To != order.Email || !strings.Contains(mail.Text, *paid.AccessCode) {
		t.Fatalf("confirmation email missing code: %+v", mail)
	}
	if !strings.Contains(mail.Text, "1-555-SANTA") {
		t.Fatalf("confirmation email missing call number: %+v", mail)
	}
}

func TestHandlePaymentSucceededIsIdempotent(t *testing.T) {
	svc, orders, notifier := newFulfillmentForTest(t)
	ctx := context.Background()

	order := seedOrder(t, orders, nil)
	if err := svc.HandlePaymentSucceeded(ctx, order.PaymentRef); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	first, _ := orders.FindByID(ctx, order.ID)

	if err := svc.HandlePaymentSucceeded(ctx, order.PaymentRef); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	second, _ := orders.FindByID(ctx, order.ID)
	if *first.AccessCode != *second.AccessCode {
		t.Fatalf("redelivery reissued the code: %q vs %q", *first.AccessCode, *second.AccessCode)
	}
	if notifier.count() != 1 {
		t.Fatalf("redelivery resent email: %d sends", notifier.count())
	}
}

func TestHandlePaymentSucceededSkipsCodeForVideoOnly(t *testing.T) {
	svc, orders, notifier := newFulfillmentForTest(t)
	ctx := context.Background()

	order := seedOrder(t, orders, func(o *domain.Order) { o.ProductType = domain.ProductVideo })
	if err := svc.HandlePaymentSucceeded(ctx, order.PaymentRef); err != nil {
		t.Fatalf("payment succeeded: %v", err)
	}
	paid, _ := orders.FindByID(ctx, order.ID)
	if paid.AccessCode != nil {
		t.Fatalf("video order must not get an access code: %v", *paid.AccessCode)
	}
	if mail := notifier.last(t); !strings.Contains(mail.Subject, "video") {
		t.Fatalf("expected video confirmation, got %q", mail.Subject)
	}
}

func TestHandlePaymentSucceededUnknownRef(t *testing.T) {
	svc, _, _ := newFulfillmentForTest(t)
	if err := svc.HandlePaymentSucceeded(context.Background(), "pi_never_seen"); !errors.Is(err, ErrUnknownOrder) {
		t.Fatalf("expected ErrUnknownOrder, got %v", err)
	}
}

func TestHandlePaymentFailedRecordsFailureOnce(t *testing.T) {
	svc, orders, _ := newFulfillmentForTest(t)
	ctx := context.Background()

	order := seedOrder(t, orders, nil)
	if err := svc.HandlePaymentFailed(ctx, order.PaymentRef); err != nil {
		t.Fatalf("payment failed event: %v", err)
	}
	got, _ := orders.FindByID(ctx, order.ID)
	if got.Status != domain.StatusPaymentFailed {
		t.Fatalf("expected payment_failed, got %s", got.Status)
	}
	// Redelivery is a no-op.
	if err := svc.HandlePaymentFailed(ctx, order.PaymentRef); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
}

func TestUpgradePaymentAppliesBenefitToOriginal(t *testing.T) {
	svc, orders, notifier := newFulfillmentForTest(t)
	ctx := context.Background()

	original := seedOrder(t, orders, func(o *domain.Order) { o.Status = domain.StatusCompleted })
	upgrade := seedOrder(t, orders, func(o *domain.Order) {
		o.ProductType = domain.ProductUpgradeReturnCall
		o.OriginalOrderID = &original.ID
	})

	if err := svc.HandlePaymentSucceeded(ctx, upgrade.PaymentRef); err != nil {
		t.Fatalf("upgrade payment: %v", err)
	}
	benefited, _ := orders.FindByID(ctx, original.ID)
	if benefited.ReturnAccessCode == nil || benefited.Overage != domain.OverageUnlimited {
		t.Fatalf("benefit not applied: %+v", benefited)
	}
	mail := notifier.last(t)
	if !strings.Contains(mail.Text, *benefited.ReturnAccessCode) {
		t.Fatalf("upgrade email missing return code: %+v", mail)
	}
}

// conflictingBenefits makes return-code grants collide a fixed number of times
// before delegating to the real store.
type conflictingBenefits struct {
	repository.OrderRepository
	conflicts int
	calls     int
}

func (o *conflictingBenefits) ApplyUpgradeBenefit(ctx context.Context, originalID uint, benefit repository.UpgradeBenefit) error {
	o.calls++
	if o.calls <= o.conflicts {
		return repository.ErrUniqueConflict
	}
	return o.OrderRepository.ApplyUpgradeBenefit(ctx, originalID, benefit)
}

func TestUpgradePaymentRegeneratesCollidingReturnCode(t *testing.T) {
	base := newServiceDBForTest(t)
	orders := &conflictingBenefits{OrderRepository: base, conflicts: 1}
	issuer := NewCodeIssuer(4)
	reconciler := NewReconciler(orders, issuer, testLogger(), 5*time.Minute, 10)
	notifier := &captureNotifier{}
	svc := NewFulfillmentService(orders, issuer, reconciler, notifier, testLogger(), "1-555-SANTA")
	ctx := context.Background()

	original := seedOrder(t, base, func(o *domain.Order) { o.Status = domain.StatusCompleted })
	upgrade := seedOrder(t, base, func(o *domain.Order) {
		o.ProductType = domain.ProductUpgradeReturnCall
		o.OriginalOrderID = &original.ID
	})

	if err := svc.HandlePaymentSucceeded(ctx, upgrade.PaymentRef); err != nil {
		t.Fatalf("upgrade payment: %v", err)
	}
	if orders.calls != 2 {
		t.Fatalf("expected one regeneration, got %d grant attempts", orders.calls)
	}
	benefited, _ := base.FindByID(ctx, original.ID)
	if benefited.ReturnAccessCode == nil {
		t.Fatalf("benefit lost across retry: %+v", benefited)
	}
	// The email must carry the code that actually landed, not a discarded one.
	if mail := notifier.last(t); !strings.Contains(mail.Text, *benefited.ReturnAccessCode) {
		t.Fatalf("email carries stale code: %+v", mail)
	}
}

func TestUpgradePaymentGivesUpAfterRepeatedCollisions(t *testing.T) {
	base := newServiceDBForTest(t)
	orders := &conflictingBenefits{OrderRepository: base, conflicts: 2}
	issuer := NewCodeIssuer(4)
	reconciler := NewReconciler(orders, issuer, testLogger(), 5*time.Minute, 10)
	svc := NewFulfillmentService(orders, issuer, reconciler, &captureNotifier{}, testLogger(), "1-555-SANTA")

	original := seedOrder(t, base, func(o *domain.Order) { o.Status = domain.StatusCompleted })
	upgrade := seedOrder(t, base, func(o *domain.Order) {
		o.ProductType = domain.ProductUpgradeReturnCall
		o.OriginalOrderID = &original.ID
	})

	err := svc.HandlePaymentSucceeded(context.Background(), upgrade.PaymentRef)
	if !errors.Is(err, ErrCodePoolExhausted) {
		t.Fatalf("expected ErrCodePoolExhausted, got %v", err)
	}
}

func TestRecordingUpgradeSetsFlagOnly(t *testing.T) {
	svc, orders, _ := newFulfillmentForTest(t)
	ctx := context.Background()

	original := seedOrder(t, orders, func(o *domain.Order) { o.Status = domain.StatusCompleted })
	upgrade := seedOrder(t, orders, func(o *domain.Order) {
		o.ProductType = domain.ProductUpgradeRecording
		o.OriginalOrderID = &original.ID
	})

	if err := svc.HandlePaymentSucceeded(ctx, upgrade.PaymentRef); err != nil {
		t.Fatalf("upgrade payment: %v", err)
	}
	benefited, _ := orders.FindByID(ctx, original.ID)
	if !benefited.HasRecordingUpgrade {
		t.Fatalf("recording flag not set")
	}
	if benefited.ReturnAccessCode != nil || benefited.Overage != domain.OverageAutoDisconnect {
		t.Fatalf("recording upgrade granted too much: %+v", benefited)
	}
}

func TestRedeemCollapsesAllFailuresToInvalidCode(t *testing.T) {
	svc, orders, _ := newFulfillmentForTest(t)
	ctx := context.Background()

	code := "0042"
	seedOrder(t, orders, func(o *domain.Order) {
		o.Status = domain.StatusPaid
		o.AccessCode = &code
	})

	order, err := svc.Redeem(ctx, "42")
	if err != nil {
		t.Fatalf("redeem padded entry: %v", err)
	}
	if order.Status != domain.StatusInProgress {
		t.Fatalf("winner not in progress: %s", order.Status)
	}

	for _, digits := range []string{"0042", "9999", "abcd", ""} {
		if _, err := svc.Redeem(ctx, digits); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("digits %q: expected ErrInvalidCode, got %v", digits, err)
		}
	}
}

func TestRedeemReturnConsumesReturnPool(t *testing.T) {
	svc, orders, _ := newFulfillmentForTest(t)
	ctx := context.Background()

	code := "0311"
	order := seedOrder(t, orders, func(o *domain.Order) {
		o.Status = domain.StatusCompleted
		o.ReturnAccessCode = &code
	})

	got, err := svc.RedeemReturn(ctx, "311")
	if err != nil || got.ID != order.ID {
		t.Fatalf("redeem return: %v", err)
	}
	if _, err := svc.RedeemReturn(ctx, "311"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected used return code rejected, got %v", err)
	}
}

func TestCompleteFromEventFinishesCallAndDeduplicates(t *testing.T) {
	svc, orders, notifier := newFulfillmentForTest(t)
	ctx := context.Background()

	order := seedOrder(t, orders, func(o *domain.Order) { o.Status = domain.StatusInProgress })
	ref := EventRef{OrderPublicID: order.PublicID, ConversationID: "conv_done"}
	artifacts := repository.CallArtifacts{AudioURL: "https://cdn/rec.mp3", Transcript: "ho ho", DurationSeconds: 180}

	if err := svc.CompleteFromEvent(ctx, ref, artifacts); err != nil {
		t.Fatalf("complete: %v", err)
	}
	done, _ := orders.FindByID(ctx, order.ID)
	if done.Status != domain.StatusCompleted || done.Transcript != "ho ho" {
		t.Fatalf("not completed: %+v", done)
	}
	// A plain call sends no post-call email.
	if notifier.count() != 0 {
		t.Fatalf("unexpected email for plain call")
	}

	// Redelivery converges silently.
	if err := svc.CompleteFromEvent(ctx, ref, artifacts); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
}

func TestCompleteFromEventSendsBundlePostCallEmailOnce(t *testing.T) {
	svc, orders, notifier := newFulfillmentForTest(t)
	ctx := context.Background()

	order := seedOrder(t, orders, func(o *domain.Order) {
		o.Status = domain.StatusInProgress
		o.ProductType = domain.ProductBundle
	})
	ref := EventRef{OrderPublicID: order.PublicID}
	artifacts := repository.CallArtifacts{AudioURL: "https://cdn/rec.mp3"}

	if err := svc.CompleteFromEvent(ctx, ref, artifacts); err != nil {
		t.Fatalf("complete: %v", err)
	}
	mail := notifier.last(t)
	if !strings.Contains(mail.Text, "https://cdn/rec.mp3") {
		t.Fatalf("post-call email missing recording url: %+v", mail)
	}
	if err := svc.CompleteFromEvent(ctx, ref, artifacts); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if notifier.count() != 1 {
		t.Fatalf("post-call email resent: %d", notifier.count())
	}
}

func TestBuildCallContextRendersPersonalization(t *testing.T) {
	svc, orders, _ := newFulfillmentForTest(t)
	ctx := context.Background()

	order := seedOrder(t, orders, func(o *domain.Order) {
		o.Status = domain.StatusInProgress
		o.Overage = domain.OverageUnlimited
		o.Participants = []domain.Participant{
			{Name: "Emma", Wish: "a red bicycle", Deed: "helped grandma", Position: 0},
			{Name: "Noah", Wish: "a robot", Deed: "fed the cat", Position: 1},
		}
	})

	cc, err := svc.BuildCallContext(ctx, EventRef{OrderPublicID: order.PublicID, ConversationID: "conv_ctx"})
	if err != nil {
		t.Fatalf("build context: %v", err)
	}
	if cc.ChildCount != 2 || cc.OrderID != order.PublicID {
		t.Fatalf("unexpected context: %+v", cc)
	}
	if !strings.Contains(cc.ChildrenContext, "Child 1: Name: Emma") || !strings.Contains(cc.ChildrenContext, "Child 2: Name: Noah") {
		t.Fatalf("children context malformed: %q", cc.ChildrenContext)
	}
	if cc.MaxCallSeconds != 7200 || cc.OveragePolicy != string(domain.OverageUnlimited) {
		t.Fatalf("overage not reflected: %+v", cc)
	}
	if cc.DaysUntilChristmas < 1 || cc.DaysUntilChristmas > 366 {
		t.Fatalf("days until christmas out of range: %d", cc.DaysUntilChristmas)
	}
	if !strings.Contains(cc.Summary, "You are calling 2 child(ren)") || !strings.Contains(cc.Summary, cc.NorthPoleTime) {
		t.Fatalf("summary malformed: %q", cc.Summary)
	}

	// The context request must not have bound its session id.
	if _, err := orders.FindByConversationID(ctx, "conv_ctx"); err == nil {
		t.Fatalf("context lookup bound the conversation id")
	}
}

func TestDaysUntilChristmasWrapsAfterTheHoliday(t *testing.T) {
	dec26 := time.Date(2026, time.December, 26, 12, 0, 0, 0, time.UTC)
	if d := daysUntilChristmas(dec26); d < 360 || d > 366 {
		t.Fatalf("expected wrap to next year, got %d", d)
	}
	dec24 := time.Date(2026, time.December, 24, 12, 0, 0, 0, time.UTC)
	if d := daysUntilChristmas(dec24); d != 1 {
		t.Fatalf("expected 1 day on christmas eve, got %d", d)
	}
}
