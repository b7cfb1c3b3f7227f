// Package realtime fans vote deltas out to connected clients. Brokers move
// deltas between instances; each instance's Hub delivers them to its own
// stream subscribers.
package realtime

import (
	"sync"

	"github.com/tierd/tierd-go/internal/metrics"
	"github.com/tierd/tierd-go/internal/model"
)

const defaultSubscriberBuffer = 16

// Subscription receives deltas for one product, or for every product when
// ProductID is empty.
type Subscription struct {
	ProductID string
	ch        chan model.Delta
}

// Events is closed when the subscription is removed from its hub.
func (s *Subscription) Events() <-chan model.Delta {
	return s.ch
}

// Hub delivers deltas to local subscribers. Delivery is at-most-once: a
// subscriber whose buffer is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{subs: make(map[*Subscription]struct{}), buffer: buffer}
}

func (h *Hub) Subscribe(productID string) *Subscription {
	sub := &Subscription{ProductID: productID, ch: make(chan model.Delta, h.buffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

// Deliver never blocks.
func (h *Hub) Deliver(delta model.Delta) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.ProductID != "" && sub.ProductID != delta.ProductID {
			continue
		}
		select {
		case sub.ch <- delta:
		default:
			metrics.BroadcastDropped.Inc()
		}
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close removes every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
	}
}
