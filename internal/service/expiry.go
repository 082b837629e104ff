package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/indiko7777/callsanta/internal/repository"
)

// ExpiryReaper deletes pending_payment orders whose intent was abandoned. The
// delete returns their access codes to the pool; paid and completed orders
// are never touched.
type ExpiryReaper struct {
	orders   repository.OrderRepository
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger
}

func NewExpiryReaper(orders repository.OrderRepository, ttl, interval time.Duration, logger *slog.Logger) *ExpiryReaper {
	return &ExpiryReaper{orders: orders, ttl: ttl, interval: interval, logger: logger}
}

// Run sweeps on a ticker until the context is cancelled. One sweep runs
// immediately so a restart does not delay cleanup by a full interval.
func (r *ExpiryReaper) Run(ctx context.Context) {
	r.sweep(ctx)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// Sweep runs a single pass; exported for the admin endpoint and tests.
func (r *ExpiryReaper) Sweep(ctx context.Context) (int64, error) {
	return r.orders.DeleteAbandonedBefore(ctx, time.Now().Add(-r.ttl))
}

func (r *ExpiryReaper) sweep(ctx context.Context) {
	n, err := r.Sweep(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "expiry sweep failed", "err", err)
		return
	}
	if n > 0 {
		r.logger.InfoContext(ctx, "expired pending orders removed", "count", n)
	}
}
