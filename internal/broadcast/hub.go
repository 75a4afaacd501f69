// Package broadcast fans alerts out to live subscribers. Every subscriber
// has a bounded buffer; a full buffer never blocks the publisher.
package broadcast

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/smukkama/geofence-server/internal/domain"
	"github.com/smukkama/geofence-server/internal/metrics"
)

// Policy decides what happens when a subscriber's buffer is full
type Policy string

const (
	// DropOldest discards the oldest buffered alert to make room
	DropOldest Policy = "drop_oldest"
	// Disconnect closes the subscription
	Disconnect Policy = "disconnect"
)

// ParsePolicy validates a policy name
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case DropOldest, Disconnect:
		return Policy(s), nil
	default:
		return "", fmt.Errorf("unknown overflow policy %q", s)
	}
}

// Subscription is one live alert stream. Receive from C until it is
// closed; call Close to stop early.
type Subscription struct {
	id      uint64
	hub     *Hub
	ch      chan domain.Alert
	dropped atomic.Int64
}

// C returns the alert channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan domain.Alert {
	return s.ch
}

// Dropped returns how many alerts this subscriber lost to overflow
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.Unsubscribe(s)
}

// Hub is a registry of subscriptions fed from a bounded publish queue
type Hub struct {
	buffer int
	policy Policy
	queue  chan domain.Alert

	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// NewHub creates a hub. buffer is the per-subscriber capacity and
// queueSize the capacity between publishers and the fan-out loop.
func NewHub(buffer, queueSize int, policy Policy) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Hub{
		buffer: buffer,
		policy: policy,
		queue:  make(chan domain.Alert, queueSize),
		subs:   make(map[uint64]*Subscription),
	}
}

// Subscribe registers a new subscriber. It only receives alerts published
// after this call.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{id: h.nextID, hub: h, ch: make(chan domain.Alert, h.buffer)}
	if h.closed {
		close(sub.ch)
		return sub
	}

	h.subs[sub.id] = sub
	metrics.Subscribers.Add(1)
	return sub
}

// Unsubscribe removes sub and closes its channel
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(sub)
}

// remove must be called with h.mu held
func (h *Hub) remove(sub *Subscription) {
	if _, ok := h.subs[sub.id]; !ok {
		return
	}
	delete(h.subs, sub.id)
	close(sub.ch)
	metrics.Subscribers.Add(-1)
}

// Count returns the number of live subscribers
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Publish enqueues an alert for fan-out without blocking. It returns false
// when the queue is full and the alert was dropped.
func (h *Hub) Publish(alert domain.Alert) bool {
	select {
	case h.queue <- alert:
		return true
	default:
		metrics.AlertQueueDrops.Add(1)
		return false
	}
}

// Run delivers queued alerts until ctx is done, then closes every
// subscription.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()

	for {
		select {
		case alert := <-h.queue:
			h.deliver(alert)
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) deliver(alert domain.Alert) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs {
		select {
		case sub.ch <- alert:
			continue
		default:
		}

		// Buffer full.
		sub.dropped.Add(1)
		switch h.policy {
		case Disconnect:
			metrics.SubscriberDisconnect.Add(1)
			log.Printf("broadcast: subscriber=%d buffer full, disconnecting", sub.id)
			h.remove(sub)
		default:
			metrics.SubscriberDrops.Add(1)
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- alert:
			default:
			}
		}
	}
	metrics.AlertsPublished.Add(1)
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs {
		h.remove(sub)
	}
	h.closed = true
}
