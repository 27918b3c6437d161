// Package pubsub implements the fan-out primitive between the aggregation
// engine and downstream subscribers. Publishing never blocks: every
// subscriber owns a bounded queue and a slow consumer loses its own oldest
// events instead of stalling ingestion or its peers.
package pubsub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"niftyPulse/internal/domain"
	"niftyPulse/internal/metrics"
	"niftyPulse/internal/ports"
)

const defaultQueueCapacity = 256

// Config holds hub configuration.
type Config struct {
	QueueCapacity int // per-subscriber queue size, defaults to 256
	Logger        ports.Logger
}

// Hub is the publication channel. Safe for concurrent Subscribe/Close against
// ongoing Publish calls. Per-subscriber delivery order equals the order of
// Publish calls as long as the caller serializes publishing (the ingestion
// loop is the single publisher in this system).
type Hub struct {
	logger   ports.Logger
	capacity int

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// Subscription is one live sink registered with the hub. Events are consumed
// from Events(); the channel is closed by Close (or Hub.Close), after which
// no further deliveries happen.
type Subscription struct {
	id       uint64
	hub      *Hub
	interest map[string]struct{} // nil means all instruments
	events   chan domain.Event
	dropped  atomic.Uint64
	closed   bool // guarded by hub.mu
}

// New creates a Hub.
func New(cfg Config) (*Hub, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for pubsub hub")
	}
	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &Hub{
		logger:   cfg.Logger,
		capacity: capacity,
		subs:     make(map[uint64]*Subscription),
	}, nil
}

// Subscribe registers a new subscriber. With no instrument ids it receives
// every event; otherwise only events for the listed instruments. A subscriber
// added mid-stream receives events published strictly after registration.
func (h *Hub) Subscribe(instrumentIDs ...string) *Subscription {
	var interest map[string]struct{}
	if len(instrumentIDs) > 0 {
		interest = make(map[string]struct{}, len(instrumentIDs))
		for _, id := range instrumentIDs {
			interest[id] = struct{}{}
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		id:       h.nextID,
		hub:      h,
		interest: interest,
		events:   make(chan domain.Event, h.capacity),
	}
	if h.closed {
		// Late subscriber on a closed hub gets an already-closed stream.
		sub.closed = true
		close(sub.events)
		return sub
	}
	h.subs[sub.id] = sub
	metrics.ActiveSubscribers.Inc()
	h.logger.Debug(context.Background(), "Subscriber registered", map[string]interface{}{
		"subscriberID": sub.id,
		"subscribers":  len(h.subs),
		"interestSize": len(instrumentIDs),
	})
	return sub
}

// Publish delivers an event to every registered subscriber whose interest set
// matches. It never blocks and never fails: when a subscriber's queue is full
// its oldest queued event is discarded to make room, counted per subscriber.
func (h *Hub) Publish(ev domain.Event) {
	metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if !sub.wants(ev.InstrumentID) {
			continue
		}
		select {
		case sub.events <- ev:
		default:
			// Queue full: drop this subscriber's oldest event, then retry once.
			select {
			case <-sub.events:
				sub.dropped.Add(1)
				metrics.EventsDropped.Inc()
			default:
			}
			select {
			case sub.events <- ev:
			default:
				sub.dropped.Add(1)
				metrics.EventsDropped.Inc()
			}
		}
	}
}

// SubscriberCount returns the number of live subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close tears down the hub and every remaining subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		sub.closed = true
		close(sub.events)
		delete(h.subs, id)
		metrics.ActiveSubscribers.Dec()
	}
}

// Events returns the subscriber's delivery stream. The channel is closed when
// the subscription (or the hub) is closed.
func (s *Subscription) Events() <-chan domain.Event {
	return s.events
}

// Dropped returns how many events this subscriber lost to backpressure.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unregisters the subscription and closes its event stream. Safe to
// call more than once and concurrently with Publish; buffered events that
// were not yet consumed are discarded.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	delete(s.hub.subs, s.id)
	metrics.ActiveSubscribers.Dec()
	// Publishers send only under the hub's read lock, so closing here (under
	// the write lock) cannot race a send.
	close(s.events)
	s.hub.logger.Debug(context.Background(), "Subscriber unregistered", map[string]interface{}{
		"subscriberID": s.id,
		"subscribers":  len(s.hub.subs),
		"dropped":      s.dropped.Load(),
	})
}

// wants reports whether the subscriber's interest set covers an instrument.
func (s *Subscription) wants(instrumentID string) bool {
	if s.interest == nil {
		return true
	}
	_, ok := s.interest[instrumentID]
	return ok
}
