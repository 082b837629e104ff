package service

import (
	"context"
	"sync"
	"time"
)

// WebhookDedup remembers which upstream event ids have already been seen.
// Providers redeliver aggressively; a second sighting means the handler should
// acknowledge and do nothing.
type WebhookDedup interface {
	// FirstSight returns true exactly once per (scope, eventID) within the TTL.
	FirstSight(ctx context.Context, scope, eventID string, ttl time.Duration) (bool, error)
}

// MemoryWebhookDedup is the in-process fallback for dev and tests.
type MemoryWebhookDedup struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func NewMemoryWebhookDedup() *MemoryWebhookDedup {
	return &MemoryWebhookDedup{seen: map[string]time.Time{}}
}

func (d *MemoryWebhookDedup) FirstSight(_ context.Context, scope, eventID string, ttl time.Duration) (bool, error) {
	key := scope + ":" + eventID
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if expires, ok := d.seen[key]; ok && now.Before(expires) {
		return false, nil
	}
	d.seen[key] = now.Add(ttl)
	for k, exp := range d.seen {
		if now.After(exp) {
			delete(d.seen, k)
		}
	}
	return true, nil
}
