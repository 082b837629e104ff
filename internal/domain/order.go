package domain

import "time"

type OrderStatus string

const (
	StatusPendingPayment OrderStatus = "pending_payment"
	StatusPaid           OrderStatus = "paid"
	StatusInProgress     OrderStatus = "in_progress"
	StatusCompleted      OrderStatus = "completed"
	StatusPaymentFailed  OrderStatus = "payment_failed"
)

type ProductType string

const (
	ProductCall              ProductType = "call"
	ProductVideo             ProductType = "video"
	ProductBundle            ProductType = "bundle"
	ProductUpgradeRecording  ProductType = "upgrade_recording"
	ProductUpgradeBundle     ProductType = "upgrade_bundle"
	ProductUpgradeReturnCall ProductType = "upgrade_return_call"
)

type OveragePolicy string

const (
	OverageAutoDisconnect OveragePolicy = "auto_disconnect"
	OverageUnlimited      OveragePolicy = "unlimited"
)

type VideoStatus string

const (
	VideoNotStarted VideoStatus = "not_started"
	VideoProcessing VideoStatus = "processing"
	VideoCompleted  VideoStatus = "completed"
	VideoFailed     VideoStatus = "failed"
)

// Order is the single source of truth for one purchase. Payment, telephony
// and generation webhooks all converge on this record.
type Order struct {
	ID       uint   `gorm:"primaryKey" json:"-"`
	PublicID string `gorm:"size:36;not null;uniqueIndex" json:"order_id"`

	PaymentRef  string `gorm:"size:128;not null;uniqueIndex" json:"-"`
	CustomerRef string `gorm:"size:128" json:"-"`

	// AccessCode is unique only among orders that can still redeem it; codes
	// from completed or expired orders return to the pool. The index predicate
	// must stay free of commas, which gorm reads as tag separators.
	AccessCode       *string `gorm:"size:8;uniqueIndex:idx_orders_access_code,where:access_code IS NOT NULL AND status <> 'in_progress' AND status <> 'completed' AND status <> 'payment_failed'" json:"access_code,omitempty"`
	ReturnAccessCode *string `gorm:"size:8;uniqueIndex:idx_orders_return_code,where:return_access_code IS NOT NULL AND NOT return_code_used" json:"return_access_code,omitempty"`
	ReturnCodeUsed   bool    `json:"-"`

	Status      OrderStatus   `gorm:"size:32;not null;index" json:"status"`
	ProductType ProductType   `gorm:"size:32;not null" json:"product_type"`
	Overage     OveragePolicy `gorm:"size:32;not null;default:auto_disconnect" json:"overage_policy"`

	Participants []Participant `gorm:"constraint:OnDelete:CASCADE" json:"participants,omitempty"`

	Email string `gorm:"size:256;not null" json:"email"`
	Phone string `gorm:"size:32" json:"phone"`

	AmountCents int64  `gorm:"not null" json:"amount_cents"`
	Currency    string `gorm:"size:8;not null;default:usd" json:"currency"`

	// ConversationID is bound when an inbound session is attached to the
	// order. Once set it is immutable; it is the strong identifier for every
	// later asynchronous event of the same interaction.
	ConversationID *string `gorm:"size:128;uniqueIndex:idx_orders_conversation,where:conversation_id IS NOT NULL" json:"-"`

	AudioURL            string `gorm:"size:1024" json:"audio_url,omitempty"`
	VideoURL            string `gorm:"size:1024" json:"video_url,omitempty"`
	RecordingObjectKey  string `gorm:"size:512" json:"-"`
	Transcript          string `gorm:"type:text" json:"transcript,omitempty"`
	CallDurationSeconds int    `json:"call_duration_seconds,omitempty"`

	VideoStatus VideoStatus `gorm:"size:32;not null;default:not_started" json:"video_status"`
	VideoJobID  string      `gorm:"size:128" json:"-"`
	VideoError  string      `gorm:"size:512" json:"-"`

	HasRecordingUpgrade bool `json:"-"`

	OriginalOrderID *uint `gorm:"index" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Participant is one child on the order.
type Participant struct {
	ID       uint   `gorm:"primaryKey" json:"-"`
	OrderID  uint   `gorm:"not null;index" json:"-"`
	Position int    `gorm:"not null" json:"position"`
	Name     string `gorm:"size:128;not null" json:"name"`
	Wish     string `gorm:"size:512" json:"wish"`
	Deed     string `gorm:"size:512" json:"deed"`
}

// transitions is the closed set of legal status moves. Anything not listed
// here is rejected instead of silently overwriting state.
var transitions = map[OrderStatus][]OrderStatus{
	StatusPendingPayment: {StatusPaid, StatusPaymentFailed},
	StatusPaid:           {StatusInProgress},
	StatusInProgress:     {StatusCompleted},
}

func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

func (p ProductType) IsUpgrade() bool {
	switch p {
	case ProductUpgradeRecording, ProductUpgradeBundle, ProductUpgradeReturnCall:
		return true
	}
	return false
}

func (p ProductType) IncludesCall() bool {
	return p == ProductCall || p == ProductBundle
}

func (p ProductType) IncludesVideo() bool {
	return p == ProductVideo || p == ProductBundle
}

// MaxCallSeconds is the duration ceiling handed to the telephony bridge.
func (o *Order) MaxCallSeconds() int {
	if o.Overage == OverageUnlimited {
		return 7200
	}
	return 300
}

func (o *Order) FirstParticipantName() string {
	if len(o.Participants) > 0 {
		return o.Participants[0].Name
	}
	return "your child"
}
