// Package alertbus is the concrete in-process fan-out for health.Alert
// events. Alerts are published on an in-process fan-out; subscribers are
// external. A slow subscriber never blocks a publisher:
// its channel is bounded and a full channel drops the alert rather than
// stalling Publish.
package alertbus

import (
	"sync"

	"github.com/go-logr/logr"

	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/health"
)

const subscriberBuffer = 32

// Bus fans out Alerts to any number of subscribers.
type Bus struct {
	log logr.Logger

	mu   sync.RWMutex
	subs map[int]chan health.Alert
	next int
}

// New constructs an empty bus.
func New(log logr.Logger) *Bus {
	return &Bus{log: log, subs: make(map[int]chan health.Alert)}
}

// Subscribe returns a channel of future alerts and an unsubscribe function.
func (b *Bus) Subscribe() (<-chan health.Alert, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan health.Alert, subscriberBuffer)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

// Publish fans alert out to every current subscriber. A subscriber whose
// buffer is full has the alert dropped for it; Publish never blocks.
func (b *Bus) Publish(alert health.Alert) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- alert:
		default:
			b.log.V(1).Info("alertbus: subscriber buffer full, dropping alert", "subscriber", id, "kind", alert.Kind)
		}
	}
}
