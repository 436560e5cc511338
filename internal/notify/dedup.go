// internal/notify/dedup.go
package notify

import (
	"context"
	"sync"
	"time"
)

// Window remembers recently processed event ids so redelivered events from
// the at-least-once feed produce exactly one notification. Seen marks the
// id and reports whether it was already present.
//
// The window is bounded by TTL and size. Redelivery arriving after eviction
// can duplicate a notification; that residual risk is the accepted cost of
// capped memory.
type Window interface {
	Seen(ctx context.Context, eventID string) (bool, error)
}

type memoryEntry struct {
	eventID string
	addedAt time.Time
}

// MemoryWindow is the in-process Window. Suitable for a single notifier
// replica; use RedisWindow when replicas share a queue group.
type MemoryWindow struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	seen       map[string]time.Time
	order      []memoryEntry
	now        func() time.Time
}

func NewMemoryWindow(ttl time.Duration, maxEntries int) *MemoryWindow {
	return &MemoryWindow{
		ttl:        ttl,
		maxEntries: maxEntries,
		seen:       make(map[string]time.Time),
		now:        time.Now,
	}
}

func (w *MemoryWindow) Seen(ctx context.Context, eventID string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.evict(now)

	if addedAt, ok := w.seen[eventID]; ok && now.Sub(addedAt) < w.ttl {
		return true, nil
	}
	w.seen[eventID] = now
	w.order = append(w.order, memoryEntry{eventID: eventID, addedAt: now})
	return false, nil
}

func (w *MemoryWindow) evict(now time.Time) {
	for len(w.order) > 0 {
		head := w.order[0]
		expired := now.Sub(head.addedAt) >= w.ttl
		if !expired && len(w.order) <= w.maxEntries {
			break
		}
		w.order = w.order[1:]
		// Only drop the map entry if it was not re-added more recently.
		if addedAt, ok := w.seen[head.eventID]; ok && addedAt.Equal(head.addedAt) {
			delete(w.seen, head.eventID)
		}
	}
}

func (w *MemoryWindow) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}
