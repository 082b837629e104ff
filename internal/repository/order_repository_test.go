package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/indiko7777/callsanta/internal/domain"
)

func TestCreateRejectsDuplicatePaymentRef(t *testing.T) {
	db := newRepositoryDBForTest(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	first := newTestOrder(t, repo, nil)
	dup := &domain.Order{
		PublicID:    first.PublicID + "-dup",
		PaymentRef:  first.PaymentRef,
		Status:      domain.StatusPendingPayment,
		ProductType: domain.ProductCall,
		Email:       "parent@example.com",
		AmountCents: 1000,
		Currency:    "usd",
	}
	if err := repo.Create(ctx, dup); !errors.Is(err, ErrDuplicatePaymentRef) {
		t.Fatalf("expected ErrDuplicatePaymentRef, got %v", err)
	}
}

func TestFindByPaymentRefLoadsParticipantsInOrder(t *testing.T) {
	db := newRepositoryDBForTest(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	created := newTestOrder(t, repo, func(o *domain.Order) {
		o.Participants = []domain.Participant{
			{Name: "Emma", Position: 0},
			{Name: "Noah", Position: 1},
		}
	})
	found, err := repo.FindByPaymentRef(ctx, created.PaymentRef)
	if err != nil {
		t.Fatalf("find by payment ref: %v", err)
	}
	if len(found.Participants) != 2 || found.Participants[0].Name != "Emma" || found.Participants[1].Name != "Noah" {
		t.Fatalf("unexpected participants: %+v", found.Participants)
	}

	if _, err := repo.FindByPaymentRef(ctx, "pi_missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestUpdateStatusIfEnforcesTransitions(t *testing.T) {
	db := newRepositoryDBForTest(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	order := newTestOrder(t, repo, nil)
	if err := repo.UpdateStatusIf(ctx, order.ID, domain.StatusPendingPayment, domain.StatusCompleted); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
	if err := repo.UpdateStatusIf(ctx, order.ID, domain.StatusPendingPayment, domain.StatusPaid); err != nil {
		t.Fatalf("pending -> paid: %v", err)
	}
	// A second delivery of the same transition finds no row to update.
	if err := repo.UpdateStatusIf(ctx, order.ID, domain.StatusPendingPayment, domain.StatusPaid); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound on replay, got %v", err)
	}
}

func TestRedeemAccessCodeWinsExactlyOnce(t *testing.T) {
	db := newRepositoryDBForTest(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	order := newTestOrder(t, repo, func(o *domain.Order) {
		code := "0042"
		o.AccessCode = &code
		o.Status = domain.StatusPaid
	})

	won, err := repo.RedeemAccessCode(ctx, "0042")
	if err != nil {
		t.Fatalf("first redemption: %v", err)
	}
	if won.ID != order.ID || won.Status != domain.StatusInProgress {
		t.Fatalf("unexpected winner: %+v", won)
	}
	if _, err := repo.RedeemAccessCode(ctx, "0042"); !errors.Is(err, ErrCodeNotRedeemable) {
		t.Fatalf("expected second redemption to lose, got %v", err)
	}
}

func TestRedeemAccessCodeRejectsUnpaidOrder(t *testing.T) {
	db := newRepositoryDBForTest(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	newTestOrder(t, repo, func(o *domain.Order) {
		code := "0077"
		o.AccessCode = &code
		// Still pending_payment; the code must not work yet.
	})
	if _, err := repo.RedeemAccessCode(ctx, "0077"); !errors.Is(err, ErrCodeNotRedeemable) {
		t.Fatalf("expected ErrCodeNotRedeemable for unpaid order, got %v", err)
	}
}

func TestRedeemReturnCodeIsSingleUse(t *testing.T) {
	db := newRepositoryDBForTest(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	order := newTestOrder(t, repo, func(o *domain.Order) {
		code := "0911"
		o.ReturnAccessCode = &code
		o.Status = domain.StatusCompleted
	})

	won, err := repo.RedeemReturnCode(ctx, "0911")
	if err != nil {
		t.Fatalf("first return redemption: %v", err)
	}
	if won.ID != order.ID || !won.ReturnCodeUsed {
		t.Fatalf("unexpected winner: %+v", won)
	}
	if _, err := repo.RedeemReturnCode(ctx, "0911"); !errors.Is(err, ErrCodeNotRedeemable) {
		t.Fatalf("expected used return code to be rejected, got %v", err)
	}
}

func TestBindConversationIDIsImmutable(t *testing.T) {
	db := newRepositoryDBForTest(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	order := newTestOrder(t, repo, func(o *domain.Order) { o.Status = domain.StatusInProgress })
	if err := repo.BindConversationID(ctx, order.ID, "conv_1"); err != nil {
		t.Fatalf("first bind: %v", err)
	}
	// Rebinding the same id is a harmless no-op.
	if err := repo.BindConversationID(ctx, order.ID, "conv_1"); err != nil {
		t.Fatalf("rebind same id: %v", err)
	}
	if err := repo.BindConversationID(ctx, order.ID, "conv_2"); !errors.Is(err, ErrConversationBound) {
		t.Fatalf("expected ErrConversationBound, got %v", err)
	}

	found, err := repo.FindByConversationID(ctx, "conv_1")
	if err != nil || found.ID != order.ID {
		t.Fatalf("find by conversation: %v %+v", err, found)
	}
}

func TestCompleteCallStoresArtifactsAndRejectsReplay(t *testing.T) {
	db := newRepositoryDBForTest(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	order := newTestOrder(t, repo, func(o *domain.Order) { o.Status = domain.StatusInProgress })
	artifacts := CallArtifacts{AudioURL: "https://cdn/call.mp3", Transcript: "ho ho ho", DurationSeconds: 240}
	if err := repo.CompleteCall(ctx, order.ID, artifacts); err != nil {
		t.Fatalf("complete call: %v", err)
	}
	done, err := repo.FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if done.Status != domain.StatusCompleted || done.AudioURL != artifacts.AudioURL || done.CallDurationSeconds != 240 {
		t.Fatalf("artifacts not stored: %+v", done)
	}

	if err := repo.CompleteCall(ctx, order.ID, CallArtifacts{AudioURL: "https://cdn/other.mp3"}); !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("expected ErrAlreadyCompleted on replay, got %v", err)
	}
	reloaded, _ := repo.FindByID(ctx, order.ID)
	if reloaded.AudioURL != artifacts.AudioURL {
		t.Fatalf("replay overwrote artifacts: %+v", reloaded)
	}

	paid := newTestOrder(t, repo, func(o *domain.Order) { o.Status = domain.StatusPaid })
	if err := repo.CompleteCall(ctx, paid.ID, artifacts); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition from paid, got %v", err)
	}
}

func TestVideoClaimAndCompletionTransitions(t *testing.T) {
	db := newRepositoryDBForTest(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	order := newTestOrder(t, repo, func(o *domain.Order) {
		o.ProductType = domain.ProductVideo
		o.Status = domain.StatusPaid
	})

	claimed, err := repo.MarkVideoProcessing(ctx, order.ID)
	if err != nil || !claimed {
		t.Fatalf("first claim: claimed=%v err=%v", claimed, err)
	}
	claimed, err = repo.MarkVideoProcessing(ctx, order.ID)
	if err != nil || claimed {
		t.Fatalf("second claim should lose: claimed=%v err=%v", claimed, err)
	}

	if err := repo.SetVideoJob(ctx, order.ID, "job_9"); err != nil {
		t.Fatalf("set job: %v", err)
	}
	byJob, err := repo.FindByVideoJobID(ctx, "job_9")
	if err != nil || byJob.ID != order.ID {
		t.Fatalf("find by job id: %v", err)
	}

	transitioned, err := repo.SetVideoCompleted(ctx, order.ID, "https://cdn/video.mp4")
	if err != nil || !transitioned {
		t.Fatalf("first completion: transitioned=%v err=%v", transitioned, err)
	}
	transitioned, err = repo.SetVideoCompleted(ctx, order.ID, "https://cdn/other.mp4")
	if err != nil || transitioned {
		t.Fatalf("duplicate completion must not transition: transitioned=%v err=%v", transitioned, err)
	}
	final, _ := repo.FindByID(ctx, order.ID)
	if final.VideoURL != "https://cdn/video.mp4" {
		t.Fatalf("duplicate completion overwrote url: %+v", final)
	}
}

func TestForceVideoCompletedOverridesFailedState(t *testing.T) {
	db := newRepositoryDBForTest(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	order := newTestOrder(t, repo, func(o *domain.Order) {
		o.ProductType = domain.ProductVideo
		o.Status = domain.StatusPaid
	})
	if _, err := repo.MarkVideoProcessing(ctx, order.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := repo.SetVideoFailed(ctx, order.ID, "provider exploded"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	transitioned, err := repo.ForceVideoCompleted(ctx, order.ID, "https://cdn/manual.mp4")
	if err != nil || !transitioned {
		t.Fatalf("force complete: transitioned=%v err=%v", transitioned, err)
	}
	fixed, _ := repo.FindByID(ctx, order.ID)
	if fixed.VideoStatus != domain.VideoCompleted || fixed.VideoURL != "https://cdn/manual.mp4" || fixed.VideoError != "" {
		t.Fatalf("unexpected state after override: %+v", fixed)
	}

	transitioned, err = repo.ForceVideoCompleted(ctx, order.ID, "https://cdn/again.mp4")
	if err != nil || transitioned {
		t.Fatalf("second override must be a no-op: transitioned=%v err=%v", transitioned, err)
	}
}

func TestApplyUpgradeBenefitTouchesOnlyGrantedFields(t *testing.T) {
	db := newRepositoryDBForTest(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	original := newTestOrder(t, repo, func(o *domain.Order) { o.Status = domain.StatusCompleted })
	code := "0333"
	benefit := UpgradeBenefit{ReturnCode: &code, Overage: domain.OverageUnlimited}
	if err := repo.ApplyUpgradeBenefit(ctx, original.ID, benefit); err != nil {
		t.Fatalf("apply benefit: %v", err)
	}
	got, _ := repo.FindByID(ctx, original.ID)
	if got.ReturnAccessCode == nil || *got.ReturnAccessCode != "0333" || got.Overage != domain.OverageUnlimited {
		t.Fatalf("benefit not applied: %+v", got)
	}
	if got.Status != domain.StatusCompleted || got.HasRecordingUpgrade {
		t.Fatalf("benefit touched unrelated fields: %+v", got)
	}

	if err := repo.ApplyUpgradeBenefit(ctx, original.ID, UpgradeBenefit{Recording: true}); err != nil {
		t.Fatalf("apply recording benefit: %v", err)
	}
	got, _ = repo.FindByID(ctx, original.ID)
	if !got.HasRecordingUpgrade {
		t.Fatalf("recording flag not set: %+v", got)
	}

	// An empty benefit writes nothing at all.
	if err := repo.ApplyUpgradeBenefit(ctx, original.ID, UpgradeBenefit{}); err != nil {
		t.Fatalf("empty benefit: %v", err)
	}
}

func TestSaveParticipantsReplacesList(t *testing.T) {
	db := newRepositoryDBForTest(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	order := newTestOrder(t, repo, nil)
	update := []domain.Participant{
		{Name: "Liam", Wish: "a puppy"},
		{Name: "Olivia", Deed: "shared her toys"},
	}
	if err := repo.SaveParticipants(ctx, order.ID, update); err != nil {
		t.Fatalf("save participants: %v", err)
	}
	got, _ := repo.FindByID(ctx, order.ID)
	if len(got.Participants) != 2 || got.Participants[0].Name != "Liam" || got.Participants[1].Name != "Olivia" {
		t.Fatalf("list not replaced: %+v", got.Participants)
	}
	if got.Participants[0].Position != 0 || got.Participants[1].Position != 1 {
		t.Fatalf("positions not assigned: %+v", got.Participants)
	}
}

func TestDeleteAbandonedBeforeOnlyTouchesStalePending(t *testing.T) {
	db := newRepositoryDBForTest(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	stale := newTestOrder(t, repo, nil)
	paid := newTestOrder(t, repo, func(o *domain.Order) { o.Status = domain.StatusPaid })
	fresh := newTestOrder(t, repo, nil)

	old := time.Now().Add(-2 * time.Hour)
	if err := db.Model(&domain.Order{}).Where("id = ?", stale.ID).Update("created_at", old).Error; err != nil {
		t.Fatalf("age order: %v", err)
	}
	if err := db.Model(&domain.Order{}).Where("id = ?", paid.ID).Update("created_at", old).Error; err != nil {
		t.Fatalf("age paid order: %v", err)
	}

	removed, err := repo.DeleteAbandonedBefore(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("delete abandoned: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := repo.FindByID(ctx, stale.ID); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("stale order should be gone, got %v", err)
	}
	if _, err := repo.FindByID(ctx, paid.ID); err != nil {
		t.Fatalf("paid order must survive: %v", err)
	}
	if _, err := repo.FindByID(ctx, fresh.ID); err != nil {
		t.Fatalf("fresh pending order must survive: %v", err)
	}
	var orphans int64
	db.Model(&domain.Participant{}).Where("order_id = ?", stale.ID).Count(&orphans)
	if orphans != 0 {
		t.Fatalf("participants of deleted order left behind: %d", orphans)
	}
}

func TestListOrdersPagesAndFiltersByStatus(t *testing.T) {
	db := newRepositoryDBForTest(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		newTestOrder(t, repo, func(o *domain.Order) { o.Status = domain.StatusPaid })
	}
	newTestOrder(t, repo, nil)

	page, err := repo.ListOrders(ctx, PageRequest{Page: 1, PageSize: 2}, domain.StatusPaid)
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if page.Total != 3 || page.TotalPages != 2 || len(page.Items) != 2 {
		t.Fatalf("unexpected page: total=%d pages=%d items=%d", page.Total, page.TotalPages, len(page.Items))
	}
	for _, o := range page.Items {
		if o.Status != domain.StatusPaid {
			t.Fatalf("status filter leaked: %+v", o)
		}
	}

	all, err := repo.ListOrders(ctx, PageRequest{}, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if all.Total != 4 || all.Page != DefaultPage || all.PageSize != DefaultPageSize {
		t.Fatalf("defaults not applied: %+v", all)
	}
}

func TestRecentInProgressHonorsWindowAndLimit(t *testing.T) {
	db := newRepositoryDBForTest(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	inWindow := newTestOrder(t, repo, func(o *domain.Order) { o.Status = domain.StatusInProgress })
	stale := newTestOrder(t, repo, func(o *domain.Order) { o.Status = domain.StatusInProgress })
	if err := db.Model(&domain.Order{}).Where("id = ?", stale.ID).
		Update("updated_at", time.Now().Add(-time.Hour)).Error; err != nil {
		t.Fatalf("age order: %v", err)
	}

	got, err := repo.RecentInProgress(ctx, time.Now().Add(-5*time.Minute), 10)
	if err != nil {
		t.Fatalf("recent in progress: %v", err)
	}
	if len(got) != 1 || got[0].ID != inWindow.ID {
		t.Fatalf("unexpected candidates: %+v", got)
	}
	// Reconciliation personalizes the call from these rows, so the children
	// must ride along.
	if len(got[0].Participants) != 1 || got[0].Participants[0].Name != "Emma" {
		t.Fatalf("participants not loaded: %+v", got[0].Participants)
	}
}

func TestAccessCodeSparseUniquenessAcrossLifecycle(t *testing.T) {
	db := newRepositoryDBForTest(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	first := newTestOrder(t, repo, func(o *domain.Order) { o.Status = domain.StatusPaid })
	second := newTestOrder(t, repo, func(o *domain.Order) { o.Status = domain.StatusPaid })

	if err := repo.ActivateAccessCode(ctx, first.ID, "0042"); err != nil {
		t.Fatalf("activate on first order: %v", err)
	}
	if err := repo.ActivateAccessCode(ctx, second.ID, "0042"); !errors.Is(err, ErrUniqueConflict) {
		t.Fatalf("expected ErrUniqueConflict while holder is live, got %v", err)
	}

	// Redemption moves the holder to in_progress, which releases the code
	// back to the pool.
	if _, err := repo.RedeemAccessCode(ctx, "0042"); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if err := repo.ActivateAccessCode(ctx, second.ID, "0042"); err != nil {
		t.Fatalf("activate after holder left the pool: %v", err)
	}
}

func TestRedeemReturnCodeTargetsOnlyTheResolvedOrder(t *testing.T) {
	db := newRepositoryDBForTest(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	code := "0500"
	spent := newTestOrder(t, repo, func(o *domain.Order) {
		o.Status = domain.StatusCompleted
		o.ReturnAccessCode = &code
		o.ReturnCodeUsed = true
	})
	live := newTestOrder(t, repo, func(o *domain.Order) {
		o.Status = domain.StatusCompleted
		o.ReturnAccessCode = &code
	})

	won, err := repo.RedeemReturnCode(ctx, code)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if won.ID != live.ID {
		t.Fatalf("redeemed the wrong order: got %d want %d", won.ID, live.ID)
	}
	if len(won.Participants) == 0 {
		t.Fatalf("winner missing participants: %+v", won)
	}
	if _, err := repo.RedeemReturnCode(ctx, code); !errors.Is(err, ErrCodeNotRedeemable) {
		t.Fatalf("expected drained code to be rejected, got %v", err)
	}
	// The already-spent holder stays untouched throughout.
	other, _ := repo.FindByID(ctx, spent.ID)
	if !other.ReturnCodeUsed {
		t.Fatalf("spent holder was rewritten: %+v", other)
	}
}

func TestApplyUpgradeBenefitRejectsLiveReturnCodeCollision(t *testing.T) {
	db := newRepositoryDBForTest(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	holder := newTestOrder(t, repo, func(o *domain.Order) { o.Status = domain.StatusCompleted })
	other := newTestOrder(t, repo, func(o *domain.Order) { o.Status = domain.StatusCompleted })

	code := "0777"
	if err := repo.ApplyUpgradeBenefit(ctx, holder.ID, UpgradeBenefit{ReturnCode: &code}); err != nil {
		t.Fatalf("first grant: %v", err)
	}
	err := repo.ApplyUpgradeBenefit(ctx, other.ID, UpgradeBenefit{ReturnCode: &code})
	if !errors.Is(err, ErrUniqueConflict) {
		t.Fatalf("expected ErrUniqueConflict for live duplicate, got %v", err)
	}

	// Once the first grant is consumed the code is free to hand out again.
	if _, err := repo.RedeemReturnCode(ctx, code); err != nil {
		t.Fatalf("consume first grant: %v", err)
	}
	if err := repo.ApplyUpgradeBenefit(ctx, other.ID, UpgradeBenefit{ReturnCode: &code}); err != nil {
		t.Fatalf("regrant after consumption: %v", err)
	}
}

func TestRedeemAccessCodeSingleWinnerUnderContention(t *testing.T) {
	db := newRepositoryFileDBForTest(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	newTestOrder(t, repo, func(o *domain.Order) {
		code := "0042"
		o.AccessCode = &code
		o.Status = domain.StatusPaid
	})

	const callers = 8
	start := make(chan struct{})
	winners := make(chan *domain.Order, callers)
	losses := make(chan error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			won, err := repo.RedeemAccessCode(ctx, "0042")
			if err != nil {
				losses <- err
				return
			}
			winners <- won
		}()
	}
	close(start)
	wg.Wait()
	close(winners)
	close(losses)

	if len(winners) != 1 {
		t.Fatalf("expected exactly one winner, got %d", len(winners))
	}
	won := <-winners
	if won.Status != domain.StatusInProgress {
		t.Fatalf("winner not transitioned: %+v", won)
	}
	for err := range losses {
		if !errors.Is(err, ErrCodeNotRedeemable) {
			t.Fatalf("loser saw unexpected error: %v", err)
		}
	}
}
