package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/indiko7777/callsanta/internal/domain"
	"github.com/indiko7777/callsanta/internal/repository"
)

var ErrNoOrderResolved = errors.New("no order resolved for event")

// EventRef carries whatever identifying data an inbound asynchronous event
// happened to include. Any field may be empty.
type EventRef struct {
	ConversationID string
	AccessCode     string
	OrderPublicID  string
	CallerPhone    string
}

// ResolutionTier is one step of the precedence chain. Tiers run in order and
// the first match wins; a tier that cannot apply returns ErrNoOrderResolved.
type ResolutionTier struct {
	Name    string
	Resolve func(ctx context.Context, ref EventRef) (*domain.Order, error)
}

// Reconciler maps an event of uncertain origin to exactly one order, or drops
// it. It never guesses between multiple candidates and it never binds an
// event to an order that already carries a different conversation id.
type Reconciler struct {
	orders    repository.OrderRepository
	issuer    *CodeIssuer
	logger    *slog.Logger
	window    time.Duration
	maxRecent int
	tiers     []ResolutionTier
}

func NewReconciler(orders repository.OrderRepository, issuer *CodeIssuer, logger *slog.Logger, window time.Duration, maxRecent int) *Reconciler {
	r := &Reconciler{
		orders:    orders,
		issuer:    issuer,
		logger:    logger,
		window:    window,
		maxRecent: maxRecent,
	}
	r.tiers = []ResolutionTier{
		{Name: "conversation_id", Resolve: r.byConversationID},
		{Name: "access_code", Resolve: r.byAccessCode},
		{Name: "order_id", Resolve: r.byOrderID},
		{Name: "phone_suffix", Resolve: r.byPhoneSuffix},
	}
	return r
}

// Tiers exposes the chain in precedence order.
func (r *Reconciler) Tiers() []ResolutionTier {
	out := make([]ResolutionTier, len(r.tiers))
	copy(out, r.tiers)
	return out
}

// Resolve walks the tiers and, on success, binds the event's conversation id
// to the order if the order does not have one yet.
func (r *Reconciler) Resolve(ctx context.Context, ref EventRef) (*domain.Order, error) {
	for _, tier := range r.tiers {
		order, err := tier.Resolve(ctx, ref)
		if errors.Is(err, ErrNoOrderResolved) {
			continue
		}
		if err != nil {
			return nil, err
		}
		r.logger.InfoContext(ctx, "event resolved to order",
			"tier", tier.Name, "order_id", order.PublicID)
		if ref.ConversationID != "" {
			if err := r.orders.BindConversationID(ctx, order.ID, ref.ConversationID); err != nil {
				if errors.Is(err, repository.ErrConversationBound) {
					// A different session already owns this order; refusing
					// the bind keeps the event from hijacking it.
					r.logger.WarnContext(ctx, "conversation bind refused",
						"order_id", order.PublicID, "conversation_id", ref.ConversationID)
					return nil, ErrNoOrderResolved
				}
				return nil, err
			}
		}
		return order, nil
	}
	r.logger.WarnContext(ctx, "event dropped: no order resolved",
		"has_conversation", ref.ConversationID != "",
		"has_code", ref.AccessCode != "",
		"has_order_id", ref.OrderPublicID != "",
		"has_phone", ref.CallerPhone != "")
	return nil, ErrNoOrderResolved
}

// Lookup resolves without binding. Mid-call context requests use it: their
// session identifier is not necessarily the one the post-call event will
// carry, and a premature bind would lock the order to the wrong id.
func (r *Reconciler) Lookup(ctx context.Context, ref EventRef) (*domain.Order, error) {
	for _, tier := range r.tiers {
		order, err := tier.Resolve(ctx, ref)
		if errors.Is(err, ErrNoOrderResolved) {
			continue
		}
		if err != nil {
			return nil, err
		}
		r.logger.InfoContext(ctx, "event looked up",
			"tier", tier.Name, "order_id", order.PublicID)
		return order, nil
	}
	return nil, ErrNoOrderResolved
}

func (r *Reconciler) byConversationID(ctx context.Context, ref EventRef) (*domain.Order, error) {
	if ref.ConversationID == "" {
		return nil, ErrNoOrderResolved
	}
	order, err := r.orders.FindByConversationID(ctx, ref.ConversationID)
	if errors.Is(err, repository.ErrOrderNotFound) {
		return nil, ErrNoOrderResolved
	}
	return order, err
}

func (r *Reconciler) byAccessCode(ctx context.Context, ref EventRef) (*domain.Order, error) {
	code := r.issuer.NormalizeCode(ref.AccessCode)
	if code == "" {
		return nil, ErrNoOrderResolved
	}
	order, err := r.orders.FindByAccessCodeLatest(ctx, code)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, repository.ErrOrderNotFound) {
		return nil, err
	}
	// The return-call pool is part of the same tier.
	order, err = r.orders.FindByReturnCodeLatest(ctx, code)
	if errors.Is(err, repository.ErrOrderNotFound) {
		return nil, ErrNoOrderResolved
	}
	return order, err
}

func (r *Reconciler) byOrderID(ctx context.Context, ref EventRef) (*domain.Order, error) {
	id := strings.TrimSpace(ref.OrderPublicID)
	if id == "" {
		return nil, ErrNoOrderResolved
	}
	order, err := r.orders.FindByPublicID(ctx, id)
	if errors.Is(err, repository.ErrOrderNotFound) {
		return nil, ErrNoOrderResolved
	}
	return order, err
}

// byPhoneSuffix is the lowest-confidence tier: trailing seven digits against
// orders currently inside the in-progress window. Both the window and the
// candidate set are bounded to cap false positives and query cost.
func (r *Reconciler) byPhoneSuffix(ctx context.Context, ref EventRef) (*domain.Order, error) {
	suffix := phoneSuffix(ref.CallerPhone)
	if suffix == "" {
		return nil, ErrNoOrderResolved
	}
	candidates, err := r.orders.RecentInProgress(ctx, time.Now().Add(-r.window), r.maxRecent)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		if stored := phoneSuffix(candidates[i].Phone); stored != "" && stored == suffix {
			return &candidates[i], nil
		}
	}
	return nil, ErrNoOrderResolved
}

const phoneSuffixLen = 7

func phoneSuffix(phone string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) < phoneSuffixLen {
		return ""
	}
	return d[len(d)-phoneSuffixLen:]
}
