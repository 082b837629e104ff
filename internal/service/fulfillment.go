package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/indiko7777/callsanta/internal/domain"
	"github.com/indiko7777/callsanta/internal/observability"
	"github.com/indiko7777/callsanta/internal/repository"
)

var (
	ErrInvalidCode  = errors.New("invalid access code")
	ErrUnknownOrder = errors.New("unknown payment reference")
)

// FulfillmentService drives the order state machine from payment and call
// events. Every webhook may arrive more than once and out of order; all
// transitions go through conditional updates so redelivery converges.
type FulfillmentService struct {
	orders     repository.OrderRepository
	issuer     *CodeIssuer
	reconciler *Reconciler
	notifier   Notifier
	logger     *slog.Logger
	callNumber string
}

func NewFulfillmentService(orders repository.OrderRepository, issuer *CodeIssuer, reconciler *Reconciler, notifier Notifier, logger *slog.Logger, callNumber string) *FulfillmentService {
	return &FulfillmentService{
		orders:     orders,
		issuer:     issuer,
		reconciler: reconciler,
		notifier:   notifier,
		logger:     logger,
		callNumber: callNumber,
	}
}

// HandlePaymentSucceeded moves the order to paid, activates the access code
// for call products, applies the upgrade benefit to the original order when
// this is an upgrade purchase, and sends the confirmation email. A redelivered
// event finds the order already past pending_payment and is a no-op.
func (s *FulfillmentService) HandlePaymentSucceeded(ctx context.Context, paymentRef string) error {
	order, err := s.orders.FindByPaymentRef(ctx, paymentRef)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			s.logger.WarnContext(ctx, "payment event for unknown order", "payment_ref", paymentRef)
			return ErrUnknownOrder
		}
		return err
	}
	if order.Status != domain.StatusPendingPayment {
		observability.RecordWebhookEvent(ctx, "payment", "succeeded", "duplicate")
		return nil
	}
	if err := s.orders.UpdateStatusIf(ctx, order.ID, domain.StatusPendingPayment, domain.StatusPaid); err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			// Lost to a concurrent delivery of the same event.
			observability.RecordWebhookEvent(ctx, "payment", "succeeded", "duplicate")
			return nil
		}
		return err
	}
	observability.RecordWebhookEvent(ctx, "payment", "succeeded", "applied")

	extra := map[string]string{"call_number": s.callNumber}
	if order.ProductType.IncludesCall() && order.AccessCode == nil {
		code, err := s.issuer.Activate(ctx, s.orders, order.ID)
		if err != nil {
			return fmt.Errorf("activate access code: %w", err)
		}
		order.AccessCode = &code
	}

	if order.ProductType.IsUpgrade() && order.OriginalOrderID != nil {
		if err := s.applyUpgradeBenefit(ctx, order, extra); err != nil {
			return err
		}
	}

	s.sendEmail(ctx, ConfirmationEmailFor(order.ProductType), order, extra)
	return nil
}

func (s *FulfillmentService) applyUpgradeBenefit(ctx context.Context, upgrade *domain.Order, extra map[string]string) error {
	benefit := repository.UpgradeBenefit{}
	issuesCode := false
	switch upgrade.ProductType {
	case domain.ProductUpgradeRecording:
		benefit.Recording = true
	case domain.ProductUpgradeBundle, domain.ProductUpgradeReturnCall:
		issuesCode = true
		benefit.Overage = domain.OverageUnlimited
	}

	// Return codes live in the same sparse-uniqueness pool as access codes, so
	// a collision with another unused code is regenerated once.
	for attempt := 0; attempt < 2; attempt++ {
		if issuesCode {
			code, err := s.issuer.Generate()
			if err != nil {
				return err
			}
			benefit.ReturnCode = &code
			extra["return_code"] = code
		}
		err := s.orders.ApplyUpgradeBenefit(ctx, *upgrade.OriginalOrderID, benefit)
		if err == nil {
			s.logger.InfoContext(ctx, "upgrade benefit applied",
				"upgrade_order", upgrade.PublicID, "original_order_id", *upgrade.OriginalOrderID,
				"upgrade_type", upgrade.ProductType)
			return nil
		}
		if !issuesCode || !errors.Is(err, repository.ErrUniqueConflict) {
			return fmt.Errorf("apply upgrade benefit: %w", err)
		}
	}
	return ErrCodePoolExhausted
}

// HandlePaymentFailed records the failure. Retrying is a user-initiated new
// checkout, never something this core does.
func (s *FulfillmentService) HandlePaymentFailed(ctx context.Context, paymentRef string) error {
	order, err := s.orders.FindByPaymentRef(ctx, paymentRef)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return ErrUnknownOrder
		}
		return err
	}
	if order.Status != domain.StatusPendingPayment {
		observability.RecordWebhookEvent(ctx, "payment", "failed", "duplicate")
		return nil
	}
	if err := s.orders.UpdateStatusIf(ctx, order.ID, domain.StatusPendingPayment, domain.StatusPaymentFailed); err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil
		}
		return err
	}
	observability.RecordWebhookEvent(ctx, "payment", "failed", "applied")
	return nil
}

// Redeem consumes an access code from the primary pool. Every failure mode
// collapses to ErrInvalidCode: the phone channel must not learn whether a code
// never existed, was already used, or lost a race.
func (s *FulfillmentService) Redeem(ctx context.Context, digits string) (*domain.Order, error) {
	code := s.issuer.NormalizeCode(digits)
	if code == "" {
		observability.RecordRedemption(ctx, "primary", "invalid")
		return nil, ErrInvalidCode
	}
	order, err := s.orders.RedeemAccessCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrCodeNotRedeemable) {
			observability.RecordRedemption(ctx, "primary", "rejected")
			return nil, ErrInvalidCode
		}
		return nil, err
	}
	observability.RecordRedemption(ctx, "primary", "success")
	return order, nil
}

// RedeemReturn consumes a return-call code. Upgrade orders never enter the
// primary flow; this is the only redemption path they have.
func (s *FulfillmentService) RedeemReturn(ctx context.Context, digits string) (*domain.Order, error) {
	code := s.issuer.NormalizeCode(digits)
	if code == "" {
		observability.RecordRedemption(ctx, "return", "invalid")
		return nil, ErrInvalidCode
	}
	order, err := s.orders.RedeemReturnCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrCodeNotRedeemable) {
			observability.RecordRedemption(ctx, "return", "rejected")
			return nil, ErrInvalidCode
		}
		return nil, err
	}
	observability.RecordRedemption(ctx, "return", "success")
	return order, nil
}

// CompleteFromEvent resolves an end-of-interaction event to its order and
// finishes the call. Unresolvable events are dropped (ErrNoOrderResolved);
// duplicates are acknowledged without resending the post-call email.
func (s *FulfillmentService) CompleteFromEvent(ctx context.Context, ref EventRef, artifacts repository.CallArtifacts) error {
	order, err := s.reconciler.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	if err := s.orders.CompleteCall(ctx, order.ID, artifacts); err != nil {
		if errors.Is(err, repository.ErrAlreadyCompleted) {
			observability.RecordWebhookEvent(ctx, "conversation", "call_ended", "duplicate")
			return nil
		}
		if errors.Is(err, repository.ErrIllegalTransition) {
			// A return-call event for an already-completed order; artifacts
			// from follow-up sessions do not rewrite the original record.
			observability.RecordWebhookEvent(ctx, "conversation", "call_ended", "ignored")
			return nil
		}
		return err
	}
	observability.RecordWebhookEvent(ctx, "conversation", "call_ended", "applied")

	if order.ProductType == domain.ProductBundle || order.HasRecordingUpgrade {
		fresh, err := s.orders.FindByID(ctx, order.ID)
		if err == nil {
			s.sendEmail(ctx, EmailBundlePostCall, fresh, map[string]string{"media_url": fresh.AudioURL})
		}
	}
	return nil
}

// CallContext is the personalization payload handed to the voice agent when a
// session starts.
type CallContext struct {
	ChildCount         int    `json:"child_count"`
	ChildrenContext    string `json:"children_context"`
	NorthPoleTime      string `json:"npl_time"`
	OveragePolicy      string `json:"call_overage_option"`
	MaxCallSeconds     int    `json:"max_call_seconds"`
	DaysUntilChristmas int    `json:"days_until_christmas"`
	OrderID            string `json:"order_id"`
	Summary            string `json:"summary"`
}

// BuildCallContext resolves the requesting session to an order and renders
// the agent context. The lowest reconciliation tier covers agents that only
// know the caller id.
func (s *FulfillmentService) BuildCallContext(ctx context.Context, ref EventRef) (*CallContext, error) {
	order, err := s.reconciler.Lookup(ctx, ref)
	if err != nil {
		return nil, err
	}
	var parts []string
	for i, p := range order.Participants {
		parts = append(parts, fmt.Sprintf("Child %d: Name: %s, Wish: %s, Good Deed: %s", i+1, p.Name, p.Wish, p.Deed))
	}
	childrenContext := strings.Join(parts, ". ")
	now := time.Now()
	days := daysUntilChristmas(now)
	// North Pole local time; the agent mentions it in conversation.
	nplTime := now.UTC().Format("15:04")
	cc := &CallContext{
		ChildCount:         len(order.Participants),
		ChildrenContext:    childrenContext,
		NorthPoleTime:      nplTime,
		OveragePolicy:      string(order.Overage),
		MaxCallSeconds:     order.MaxCallSeconds(),
		DaysUntilChristmas: days,
		OrderID:            order.PublicID,
	}
	cc.Summary = fmt.Sprintf("You are calling %d child(ren). %s. Current NPL time is %s. %d days until Christmas. Call overage option: %s.",
		cc.ChildCount, childrenContext, nplTime, days, order.Overage)
	return cc, nil
}

func daysUntilChristmas(now time.Time) int {
	christmas := time.Date(now.Year(), time.December, 25, 0, 0, 0, 0, time.UTC)
	if now.After(christmas) {
		christmas = christmas.AddDate(1, 0, 0)
	}
	return int(christmas.Sub(now).Hours()/24) + 1
}

func (s *FulfillmentService) sendEmail(ctx context.Context, t EmailType, order *domain.Order, extra map[string]string) {
	if t == "" {
		return
	}
	content := BuildEmail(t, order, extra)
	if content == nil {
		return
	}
	if err := s.notifier.Send(ctx, order.Email, content.Subject, content.HTML, content.Text); err != nil {
		s.logger.ErrorContext(ctx, "email send failed",
			"email_type", string(t), "order_id", order.PublicID, "err", err)
	}
}
