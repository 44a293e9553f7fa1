package queue

import (
	"sync"
	"time"
)

// deliveryTracker counts deliveries per message id for brokers that do not
// report a delivery count. Entries expire after ttl.
type deliveryTracker struct {
	mu      sync.Mutex
	entries map[string]*trackedDelivery
	ttl     time.Duration
	now     func() time.Time
}

type trackedDelivery struct {
	count     int
	expiresAt time.Time
}

func newDeliveryTracker(ttl time.Duration) *deliveryTracker {
	return &deliveryTracker{
		entries: make(map[string]*trackedDelivery),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Seen records a delivery of id and returns how many deliveries it has had,
// this one included.
func (t *deliveryTracker) Seen(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok || t.now().After(e.expiresAt) {
		e = &trackedDelivery{}
		t.entries[id] = e
	}
	e.count++
	e.expiresAt = t.now().Add(t.ttl)
	return e.count
}

func (t *deliveryTracker) Forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}

// Sweep drops expired entries.
func (t *deliveryTracker) Sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for id, e := range t.entries {
		if now.After(e.expiresAt) {
			delete(t.entries, id)
		}
	}
}

func (t *deliveryTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
