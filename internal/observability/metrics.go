package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

var (
	countersMu sync.RWMutex
	counters   = map[string]*atomic.Int64{}
)

func counter(name string) *atomic.Int64 {
	countersMu.RLock()
	c, ok := counters[name]
	countersMu.RUnlock()
	if ok {
		return c
	}
	countersMu.Lock()
	defer countersMu.Unlock()
	if c, ok = counters[name]; ok {
		return c
	}
	c = &atomic.Int64{}
	counters[name] = c
	return c
}

// RecordRepositoryOperation counts entity/op/outcome triples for the store.
func RecordRepositoryOperation(_ context.Context, entity, op, outcome string) {
	counter(fmt.Sprintf("repo.%s.%s.%s", entity, op, outcome)).Add(1)
}

// RecordWebhookEvent counts inbound webhook dispositions per source.
func RecordWebhookEvent(_ context.Context, source, event, outcome string) {
	counter(fmt.Sprintf("webhook.%s.%s.%s", source, event, outcome)).Add(1)
}

// RecordRedemption counts access-code redemption outcomes.
func RecordRedemption(_ context.Context, pool, outcome string) {
	counter(fmt.Sprintf("redeem.%s.%s", pool, outcome)).Add(1)
}

// CounterValue is exposed for tests and the debug endpoint.
func CounterValue(name string) int64 {
	countersMu.RLock()
	defer countersMu.RUnlock()
	if c, ok := counters[name]; ok {
		return c.Load()
	}
	return 0
}

type AuditInput struct {
	EventName  string
	Actor      string
	TargetType string
	TargetID   string
	Action     string
	Outcome    string
	Reason     string
}

// EmitAudit writes one structured audit line for operator-facing mutations.
func EmitAudit(ctx context.Context, logger *slog.Logger, in AuditInput, kv ...any) {
	if logger == nil {
		return
	}
	attrs := []any{
		"event", in.EventName,
		"actor", in.Actor,
		"target_type", in.TargetType,
		"target_id", in.TargetID,
		"action", in.Action,
		"outcome", in.Outcome,
		"reason", in.Reason,
	}
	attrs = append(attrs, kv...)
	logger.InfoContext(ctx, "audit", attrs...)
}
