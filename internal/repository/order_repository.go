package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/indiko7777/callsanta/internal/domain"
	"github.com/indiko7777/callsanta/internal/observability"
)

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrDuplicatePaymentRef = errors.New("order already exists for payment reference")
	ErrUniqueConflict      = errors.New("unique constraint conflict")
	ErrCodeNotRedeemable   = errors.New("access code not redeemable")
	ErrIllegalTransition   = errors.New("illegal status transition")
	ErrConversationBound   = errors.New("conversation id already bound")
	ErrAlreadyCompleted    = errors.New("order already completed")
)

// CallArtifacts is everything a finished interaction leaves behind.
type CallArtifacts struct {
	AudioURL        string
	Transcript      string
	DurationSeconds int
}

type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order) error
	FindByID(ctx context.Context, id uint) (*domain.Order, error)
	FindByPublicID(ctx context.Context, publicID string) (*domain.Order, error)
	FindByPaymentRef(ctx context.Context, ref string) (*domain.Order, error)
	FindByAccessCodeLatest(ctx context.Context, code string) (*domain.Order, error)
	FindByReturnCodeLatest(ctx context.Context, code string) (*domain.Order, error)
	FindByConversationID(ctx context.Context, conversationID string) (*domain.Order, error)

	UpdateStatusIf(ctx context.Context, id uint, from, to domain.OrderStatus) error
	ActivateAccessCode(ctx context.Context, id uint, code string) error
	RedeemAccessCode(ctx context.Context, code string) (*domain.Order, error)
	RedeemReturnCode(ctx context.Context, code string) (*domain.Order, error)
	BindConversationID(ctx context.Context, id uint, conversationID string) error
	CompleteCall(ctx context.Context, id uint, artifacts CallArtifacts) error

	MarkVideoProcessing(ctx context.Context, id uint) (bool, error)
	SetVideoJob(ctx context.Context, id uint, jobID string) error
	SetVideoCompleted(ctx context.Context, id uint, videoURL string) (bool, error)
	ForceVideoCompleted(ctx context.Context, id uint, videoURL string) (bool, error)
	SetVideoFailed(ctx context.Context, id uint, reason string) error

	ApplyUpgradeBenefit(ctx context.Context, originalID uint, benefit UpgradeBenefit) error
	FindByVideoJobID(ctx context.Context, jobID string) (*domain.Order, error)
	SaveParticipants(ctx context.Context, orderID uint, participants []domain.Participant) error
	SaveContact(ctx context.Context, orderID uint, email, phone string) error
	SetRecordingObjectKey(ctx context.Context, orderID uint, key string) error

	ListOrders(ctx context.Context, page PageRequest, status domain.OrderStatus) (PageResult[domain.Order], error)
	RecentInProgress(ctx context.Context, since time.Time, limit int) ([]domain.Order, error)
	DeleteAbandonedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type GormOrderRepository struct{ db *gorm.DB }

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &GormOrderRepository{db: db}
}

func (r *GormOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		if isUniqueViolation(err) {
			observability.RecordRepositoryOperation(ctx, "order", "create", "conflict")
			return ErrDuplicatePaymentRef
		}
		observability.RecordRepositoryOperation(ctx, "order", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "order", "create", "success")
	return nil
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id uint) (*domain.Order, error) {
	return r.findOne(ctx, "find_by_id", "id = ?", id)
}

func (r *GormOrderRepository) FindByPublicID(ctx context.Context, publicID string) (*domain.Order, error) {
	return r.findOne(ctx, "find_by_public_id", "public_id = ?", publicID)
}

func (r *GormOrderRepository) FindByPaymentRef(ctx context.Context, ref string) (*domain.Order, error) {
	return r.findOne(ctx, "find_by_payment_ref", "payment_ref = ?", ref)
}

func (r *GormOrderRepository) FindByConversationID(ctx context.Context, conversationID string) (*domain.Order, error) {
	return r.findOne(ctx, "find_by_conversation", "conversation_id = ?", conversationID)
}

// FindByAccessCodeLatest returns the newest order carrying the code. Codes
// return to the pool once an order reaches a terminal state, so older matches
// may exist; the newest one is the only plausible owner.
func (r *GormOrderRepository) FindByAccessCodeLatest(ctx context.Context, code string) (*domain.Order, error) {
	var order domain.Order
	err := r.db.WithContext(ctx).
		Preload("Participants", participantOrder).
		Where("access_code = ?", code).
		Order("created_at desc").
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "order", "find_by_access_code", "not_found")
			return nil, ErrOrderNotFound
		}
		observability.RecordRepositoryOperation(ctx, "order", "find_by_access_code", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "order", "find_by_access_code", "success")
	return &order, nil
}

func (r *GormOrderRepository) FindByReturnCodeLatest(ctx context.Context, code string) (*domain.Order, error) {
	var order domain.Order
	err := r.db.WithContext(ctx).
		Preload("Participants", participantOrder).
		Where("return_access_code = ?", code).
		Order("created_at desc").
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "order", "find_by_return_code", "not_found")
			return nil, ErrOrderNotFound
		}
		observability.RecordRepositoryOperation(ctx, "order", "find_by_return_code", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "order", "find_by_return_code", "success")
	return &order, nil
}

func (r *GormOrderRepository) findOne(ctx context.Context, op string, query string, args ...any) (*domain.Order, error) {
	var order domain.Order
	err := r.db.WithContext(ctx).
		Preload("Participants", participantOrder).
		Where(query, args...).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "order", op, "not_found")
			return nil, ErrOrderNotFound
		}
		observability.RecordRepositoryOperation(ctx, "order", op, "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "order", op, "success")
	return &order, nil
}

func participantOrder(db *gorm.DB) *gorm.DB {
	return db.Order("position asc").Order("id asc")
}

// UpdateStatusIf performs one conditional UPDATE gated on the current status,
// so two concurrent handlers cannot both win the same transition.
func (r *GormOrderRepository) UpdateStatusIf(ctx context.Context, id uint, from, to domain.OrderStatus) error {
	if !domain.CanTransition(from, to) {
		observability.RecordRepositoryOperation(ctx, "order", "transition", "illegal")
		return ErrIllegalTransition
	}
	res := r.db.WithContext(ctx).Model(&domain.Order{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "order", "transition", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "order", "transition", "lost")
		return ErrOrderNotFound
	}
	observability.RecordRepositoryOperation(ctx, "order", "transition", "success")
	return nil
}

func (r *GormOrderRepository) ActivateAccessCode(ctx context.Context, id uint, code string) error {
	res := r.db.WithContext(ctx).Model(&domain.Order{}).
		Where("id = ?", id).
		Update("access_code", code)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			observability.RecordRepositoryOperation(ctx, "order", "activate_code", "conflict")
			return ErrUniqueConflict
		}
		observability.RecordRepositoryOperation(ctx, "order", "activate_code", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrOrderNotFound
	}
	observability.RecordRepositoryOperation(ctx, "order", "activate_code", "success")
	return nil
}

// RedeemAccessCode consumes a code in a single conditional UPDATE: the lookup
// and the paid -> in_progress transition happen in one statement, so under N
// concurrent attempts exactly one wins and the rest see ErrCodeNotRedeemable.
func (r *GormOrderRepository) RedeemAccessCode(ctx context.Context, code string) (*domain.Order, error) {
	res := r.db.WithContext(ctx).Model(&domain.Order{}).
		Where("access_code = ? AND status = ?", code, domain.StatusPaid).
		Update("status", domain.StatusInProgress)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "order", "redeem", "error")
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "order", "redeem", "rejected")
		return nil, ErrCodeNotRedeemable
	}
	observability.RecordRepositoryOperation(ctx, "order", "redeem", "success")
	var order domain.Order
	err := r.db.WithContext(ctx).
		Preload("Participants", participantOrder).
		Where("access_code = ? AND status = ?", code, domain.StatusInProgress).
		Order("updated_at desc").
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// RedeemReturnCode resolves the newest unused holder of the code first, then
// flips it by primary key so the update can never touch another order. The
// RowsAffected gate keeps the single-winner property under contention.
func (r *GormOrderRepository) RedeemReturnCode(ctx context.Context, code string) (*domain.Order, error) {
	var order domain.Order
	err := r.db.WithContext(ctx).
		Preload("Participants", participantOrder).
		Where("return_access_code = ? AND return_code_used = ?", code, false).
		Order("updated_at desc").
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "order", "redeem_return", "rejected")
			return nil, ErrCodeNotRedeemable
		}
		observability.RecordRepositoryOperation(ctx, "order", "redeem_return", "error")
		return nil, err
	}
	res := r.db.WithContext(ctx).Model(&domain.Order{}).
		Where("id = ? AND return_code_used = ?", order.ID, false).
		Update("return_code_used", true)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "order", "redeem_return", "error")
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "order", "redeem_return", "rejected")
		return nil, ErrCodeNotRedeemable
	}
	observability.RecordRepositoryOperation(ctx, "order", "redeem_return", "success")
	order.ReturnCodeUsed = true
	return &order, nil
}

// BindConversationID attaches the strong identifier only if the order does not
// already carry a different one. A bound id never changes.
func (r *GormOrderRepository) BindConversationID(ctx context.Context, id uint, conversationID string) error {
	res := r.db.WithContext(ctx).Model(&domain.Order{}).
		Where("id = ? AND conversation_id IS NULL", id).
		Update("conversation_id", conversationID)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "order", "bind_conversation", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		existing, err := r.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if existing.ConversationID != nil && *existing.ConversationID == conversationID {
			return nil
		}
		observability.RecordRepositoryOperation(ctx, "order", "bind_conversation", "rejected")
		return ErrConversationBound
	}
	observability.RecordRepositoryOperation(ctx, "order", "bind_conversation", "success")
	return nil
}

// CompleteCall moves in_progress -> completed and writes the artifacts in the
// same statement. A redelivered end-of-call event finds the order already
// completed and becomes a no-op instead of overwriting terminal state.
func (r *GormOrderRepository) CompleteCall(ctx context.Context, id uint, artifacts CallArtifacts) error {
	updates := map[string]any{"status": domain.StatusCompleted}
	if artifacts.AudioURL != "" {
		updates["audio_url"] = artifacts.AudioURL
	}
	if artifacts.Transcript != "" {
		updates["transcript"] = artifacts.Transcript
	}
	if artifacts.DurationSeconds > 0 {
		updates["call_duration_seconds"] = artifacts.DurationSeconds
	}
	res := r.db.WithContext(ctx).Model(&domain.Order{}).
		Where("id = ? AND status = ?", id, domain.StatusInProgress).
		Updates(updates)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "order", "complete_call", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		existing, err := r.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if existing.Status == domain.StatusCompleted {
			observability.RecordRepositoryOperation(ctx, "order", "complete_call", "duplicate")
			return ErrAlreadyCompleted
		}
		observability.RecordRepositoryOperation(ctx, "order", "complete_call", "rejected")
		return ErrIllegalTransition
	}
	observability.RecordRepositoryOperation(ctx, "order", "complete_call", "success")
	return nil
}

// MarkVideoProcessing claims the generation slot. The not_started -> processing
// guard runs before the first external call is dispatched; a retried start
// request loses the claim and polls instead.
func (r *GormOrderRepository) MarkVideoProcessing(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Order{}).
		Where("id = ? AND video_status = ?", id, domain.VideoNotStarted).
		Update("video_status", domain.VideoProcessing)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "order", "video_claim", "error")
		return false, res.Error
	}
	claimed := res.RowsAffected > 0
	if claimed {
		observability.RecordRepositoryOperation(ctx, "order", "video_claim", "success")
	} else {
		observability.RecordRepositoryOperation(ctx, "order", "video_claim", "lost")
	}
	return claimed, nil
}

func (r *GormOrderRepository) SetVideoJob(ctx context.Context, id uint, jobID string) error {
	return r.updateByID(ctx, "video_job", id, map[string]any{"video_job_id": jobID})
}

// SetVideoCompleted reports whether this caller performed the transition, so
// the delivery email is sent exactly once across duplicate callbacks.
func (r *GormOrderRepository) SetVideoCompleted(ctx context.Context, id uint, videoURL string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Order{}).
		Where("id = ? AND video_status = ?", id, domain.VideoProcessing).
		Updates(map[string]any{"video_status": domain.VideoCompleted, "video_url": videoURL})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "order", "video_complete", "error")
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "order", "video_complete", "duplicate")
		return false, nil
	}
	observability.RecordRepositoryOperation(ctx, "order", "video_complete", "success")
	return true, nil
}

// ForceVideoCompleted is the operator override: it completes the video from
// any state except completed, so a failed or stuck job can be fulfilled by
// hand without replaying the pipeline.
func (r *GormOrderRepository) ForceVideoCompleted(ctx context.Context, id uint, videoURL string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Order{}).
		Where("id = ? AND video_status <> ?", id, domain.VideoCompleted).
		Updates(map[string]any{"video_status": domain.VideoCompleted, "video_url": videoURL, "video_error": ""})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "order", "video_force_complete", "error")
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "order", "video_force_complete", "duplicate")
		return false, nil
	}
	observability.RecordRepositoryOperation(ctx, "order", "video_force_complete", "success")
	return true, nil
}

func (r *GormOrderRepository) SetVideoFailed(ctx context.Context, id uint, reason string) error {
	res := r.db.WithContext(ctx).Model(&domain.Order{}).
		Where("id = ? AND video_status IN ?", id, []domain.VideoStatus{domain.VideoNotStarted, domain.VideoProcessing}).
		Updates(map[string]any{"video_status": domain.VideoFailed, "video_error": reason})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "order", "video_fail", "error")
		return res.Error
	}
	observability.RecordRepositoryOperation(ctx, "order", "video_fail", "success")
	return nil
}

// UpgradeBenefit is the payment-gated side effect an upgrade order grants its
// original order.
type UpgradeBenefit struct {
	ReturnCode *string
	Overage    domain.OveragePolicy
	Recording  bool
}

// ApplyUpgradeBenefit mutates the original order after the upgrade's own
// payment clears: return code, overage policy and recording flag, never status.
func (r *GormOrderRepository) ApplyUpgradeBenefit(ctx context.Context, originalID uint, benefit UpgradeBenefit) error {
	updates := map[string]any{}
	if benefit.ReturnCode != nil {
		updates["return_access_code"] = *benefit.ReturnCode
		updates["return_code_used"] = false
	}
	if benefit.Overage != "" {
		updates["overage"] = benefit.Overage
	}
	if benefit.Recording {
		updates["has_recording_upgrade"] = true
	}
	if len(updates) == 0 {
		return nil
	}
	err := r.updateByID(ctx, "upgrade_benefit", originalID, updates)
	if err != nil && isUniqueViolation(err) {
		return ErrUniqueConflict
	}
	return err
}

func (r *GormOrderRepository) FindByVideoJobID(ctx context.Context, jobID string) (*domain.Order, error) {
	return r.findOne(ctx, "find_by_video_job", "video_job_id = ?", jobID)
}

func (r *GormOrderRepository) SaveParticipants(ctx context.Context, orderID uint, participants []domain.Participant) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("order_id = ?", orderID).Delete(&domain.Participant{}).Error; err != nil {
			return err
		}
		for i := range participants {
			participants[i].ID = 0
			participants[i].OrderID = orderID
			participants[i].Position = i
		}
		if len(participants) == 0 {
			return nil
		}
		return tx.Create(&participants).Error
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "order", "save_participants", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "order", "save_participants", "success")
	return nil
}

func (r *GormOrderRepository) SaveContact(ctx context.Context, orderID uint, email, phone string) error {
	updates := map[string]any{}
	if email != "" {
		updates["email"] = email
	}
	if phone != "" {
		updates["phone"] = phone
	}
	if len(updates) == 0 {
		return nil
	}
	return r.updateByID(ctx, "save_contact", orderID, updates)
}

func (r *GormOrderRepository) SetRecordingObjectKey(ctx context.Context, orderID uint, key string) error {
	return r.updateByID(ctx, "recording_key", orderID, map[string]any{"recording_object_key": key})
}

// ListOrders pages through orders newest-first, optionally filtered by status.
func (r *GormOrderRepository) ListOrders(ctx context.Context, page PageRequest, status domain.OrderStatus) (PageResult[domain.Order], error) {
	page = page.normalized()
	scope := func(db *gorm.DB) *gorm.DB {
		db = db.Model(&domain.Order{})
		if status != "" {
			db = db.Where("status = ?", status)
		}
		return db
	}
	var total int64
	if err := scope(r.db.WithContext(ctx)).Count(&total).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "order", "list", "error")
		return PageResult[domain.Order]{}, err
	}
	var orders []domain.Order
	err := scope(r.db.WithContext(ctx)).
		Preload("Participants", participantOrder).
		Order("created_at desc").
		Offset(page.offset()).
		Limit(page.PageSize).
		Find(&orders).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "order", "list", "error")
		return PageResult[domain.Order]{}, err
	}
	observability.RecordRepositoryOperation(ctx, "order", "list", "success")
	return PageResult[domain.Order]{
		Items:      orders,
		Page:       page.Page,
		PageSize:   page.PageSize,
		Total:      total,
		TotalPages: calcTotalPages(total, page.PageSize),
	}, nil
}

func (r *GormOrderRepository) RecentInProgress(ctx context.Context, since time.Time, limit int) ([]domain.Order, error) {
	var orders []domain.Order
	err := r.db.WithContext(ctx).
		Preload("Participants", participantOrder).
		Where("status = ? AND updated_at >= ?", domain.StatusInProgress, since).
		Order("updated_at desc").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "order", "recent_in_progress", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "order", "recent_in_progress", "success")
	return orders, nil
}

// DeleteAbandonedBefore reclaims orders stuck in pending_payment past the
// retention window. Redeemable-code uniqueness relies on this sweep.
func (r *GormOrderRepository) DeleteAbandonedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint
		if err := tx.Model(&domain.Order{}).
			Where("status = ? AND created_at < ?", domain.StatusPendingPayment, cutoff).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("order_id IN ?", ids).Delete(&domain.Participant{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&domain.Order{})
		removed = res.RowsAffected
		return res.Error
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "order", "expire", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(ctx, "order", "expire", "success")
	return removed, nil
}

func (r *GormOrderRepository) updateByID(ctx context.Context, op string, id uint, updates map[string]any) error {
	res := r.db.WithContext(ctx).Model(&domain.Order{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "order", op, "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "order", op, "not_found")
		return ErrOrderNotFound
	}
	observability.RecordRepositoryOperation(ctx, "order", op, "success")
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique failed") ||
		strings.Contains(msg, "constraint failed: unique")
}
