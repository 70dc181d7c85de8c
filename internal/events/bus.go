package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tenantguard/backend/internal/metrics"
)

// ErrBusClosed is returned by Publish after shutdown has begun.
var ErrBusClosed = errors.New("event bus is closed")

// TypeAny subscribes to every event type through a single FIFO subscription.
// The context loop uses this so per-user ordering holds across types.
const TypeAny Type = ""

// Handler processes events for one subscription. Handler errors are logged
// and counted; they never reach the publisher.
type Handler func(ctx context.Context, evt *Event) error

// Sink receives every published event after history recording, in delivery
// order. The websocket hub registers itself as a sink; a sink must never
// block the dispatcher.
type Sink interface {
	Fanout(evt *Event)
}

// BusConfig bounds the bus. Zero fields fall back to defaults.
type BusConfig struct {
	QueueHighWater   int           // delivery queue drop threshold
	HistoryPerType   int           // ring capacity per event type
	HistoryPerUser   int           // ring capacity per user
	SubscriberBuffer int           // per-subscription channel buffer
	ShutdownDeadline time.Duration // wait for inflight handlers
}

func (c BusConfig) withDefaults() BusConfig {
	if c.QueueHighWater <= 0 {
		c.QueueHighWater = 10000
	}
	if c.HistoryPerType <= 0 {
		c.HistoryPerType = 1000
	}
	if c.HistoryPerUser <= 0 {
		c.HistoryPerUser = 500
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = 256
	}
	if c.ShutdownDeadline <= 0 {
		c.ShutdownDeadline = 30 * time.Second
	}
	return c
}

// Subscription is one registered handler. Events are delivered to it in
// publish order by a dedicated worker goroutine.
type Subscription struct {
	id     int
	typ    Type
	ch     chan *Event
	cancel func()
	once   sync.Once
}

// Cancel detaches the subscription. Events already queued for it are still
// delivered; no new events arrive afterwards.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Bus is the process-local typed pub/sub fabric: async fan-out to in-process
// subscribers, bounded per-type and per-user history, and a sink hook for
// live websocket clients.
type Bus struct {
	cfg BusConfig

	mu          sync.RWMutex
	subs        map[Type][]*Subscription
	typeHistory map[Type]*Ring[*Event]
	userHistory map[string]*Ring[*Event]
	allHistory  *Ring[*Event]
	sinks       []Sink
	closed      bool
	nextSubID   int

	queue      chan *Event
	dispatched chan struct{} // closed when the dispatcher exits
	workers    sync.WaitGroup
}

// NewBus creates and starts a bus. Callers must Shutdown it to release the
// dispatcher goroutine.
func NewBus(cfg BusConfig) *Bus {
	cfg = cfg.withDefaults()
	b := &Bus{
		cfg:         cfg,
		subs:        make(map[Type][]*Subscription),
		typeHistory: make(map[Type]*Ring[*Event]),
		userHistory: make(map[string]*Ring[*Event]),
		allHistory:  NewRing[*Event](cfg.HistoryPerType),
		queue:       make(chan *Event, cfg.QueueHighWater),
		dispatched:  make(chan struct{}),
	}
	go b.dispatch()
	return b
}

// Publish canonicalizes and enqueues an event for async delivery. It never
// blocks on subscribers: past the high-water mark the event is dropped with a
// warning and a metric, not an error.
func (b *Bus) Publish(t Type, userID, source string, payload Payload) (*Event, error) {
	return b.PublishEvent(New(t, userID, source, payload))
}

// PublishEvent enqueues a pre-built event. The context loop uses this to
// publish events whose intensity it has already filled in.
func (b *Bus) PublishEvent(evt *Event) (*Event, error) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	} else {
		evt.Timestamp = evt.Timestamp.UTC()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}
	b.recordHistory(evt)

	// Enqueue while still holding the lock so no send can race Shutdown's
	// close of the queue.
	select {
	case b.queue <- evt:
		metrics.EventsPublished.WithLabelValues(string(evt.Type)).Inc()
	default:
		metrics.EventsDropped.WithLabelValues("queue").Inc()
		slog.Warn("bus queue full, dropping event", "type", evt.Type, "user_id", evt.UserID)
	}
	b.mu.Unlock()
	return evt, nil
}

// Emit is fire-and-forget Publish for callers that cannot handle the shutdown
// sentinel.
func (b *Bus) Emit(t Type, userID, source string, payload Payload) {
	if _, err := b.Publish(t, userID, source, payload); err != nil {
		slog.Warn("emit after shutdown", "type", t)
	}
}

func (b *Bus) recordHistory(evt *Event) {
	ring, ok := b.typeHistory[evt.Type]
	if !ok {
		ring = NewRing[*Event](b.cfg.HistoryPerType)
		b.typeHistory[evt.Type] = ring
	}
	ring.Append(evt)
	b.allHistory.Append(evt)

	if evt.UserID != "" {
		uring, ok := b.userHistory[evt.UserID]
		if !ok {
			uring = NewRing[*Event](b.cfg.HistoryPerUser)
			b.userHistory[evt.UserID] = uring
		}
		uring.Append(evt)
	}
}

// Subscribe registers a handler for one event type. A dedicated worker drains
// the subscription channel, so events are handled sequentially in publish
// order for this subscription.
func (b *Bus) Subscribe(t Type, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSubID++
	sub := &Subscription{
		id:  b.nextSubID,
		typ: t,
		ch:  make(chan *Event, b.cfg.SubscriberBuffer),
	}
	sub.cancel = func() { b.removeSub(sub) }
	b.subs[t] = append(b.subs[t], sub)

	b.workers.Add(1)
	go func() {
		defer b.workers.Done()
		for evt := range sub.ch {
			if err := handler(context.Background(), evt); err != nil {
				metrics.HandlerFailures.Inc()
				slog.Warn("subscriber handler failed", "type", evt.Type, "error", err)
			}
		}
	}()
	return sub
}

func (b *Bus) removeSub(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[sub.typ]
	for i, s := range list {
		if s.id == sub.id {
			b.subs[sub.typ] = append(list[:i], list[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

// RegisterSink attaches a fan-out sink (the websocket hub).
func (b *Bus) RegisterSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// History returns the most recent events matching the filters, newest-first.
// An empty type or user id means "any".
func (b *Bus) History(t Type, userID string, limit int) []*Event {
	if limit <= 0 {
		limit = 50
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	switch {
	case userID != "" && t != "":
		ring, ok := b.userHistory[userID]
		if !ok {
			return nil
		}
		out := make([]*Event, 0, limit)
		for _, evt := range ring.Recent(0) {
			if evt.Type == t {
				out = append(out, evt)
				if len(out) == limit {
					break
				}
			}
		}
		return out
	case userID != "":
		ring, ok := b.userHistory[userID]
		if !ok {
			return nil
		}
		return ring.Recent(limit)
	case t != "":
		ring, ok := b.typeHistory[t]
		if !ok {
			return nil
		}
		return ring.Recent(limit)
	default:
		return b.allHistory.Recent(limit)
	}
}

// dispatch drains the queue and fans events out to subscriptions and sinks.
// A full subscription channel drops the event for that subscription only.
func (b *Bus) dispatch() {
	defer close(b.dispatched)
	for evt := range b.queue {
		// Sends stay under the read lock: Cancel closes the channel under
		// the write lock, so a send can never race the close. Sends are
		// non-blocking and sinks must not block, so the lock is held only
		// briefly.
		b.mu.RLock()
		for _, sub := range b.subs[evt.Type] {
			select {
			case sub.ch <- evt:
			default:
				metrics.EventsDropped.WithLabelValues("subscriber").Inc()
				slog.Warn("subscriber channel full, dropping event", "type", evt.Type)
			}
		}
		for _, sub := range b.subs[TypeAny] {
			select {
			case sub.ch <- evt:
			default:
				metrics.EventsDropped.WithLabelValues("subscriber").Inc()
				slog.Warn("subscriber channel full, dropping event", "type", evt.Type)
			}
		}
		sinks := b.sinks
		b.mu.RUnlock()

		for _, s := range sinks {
			s.Fanout(evt)
		}
	}
}

// Shutdown refuses new publishes, drains the queue, and waits up to the
// context deadline (or the configured shutdown deadline) for inflight
// handlers to finish.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.ShutdownDeadline)
		defer cancel()
	}

	select {
	case <-b.dispatched:
	case <-ctx.Done():
		return ctx.Err()
	}

	b.mu.Lock()
	for t, list := range b.subs {
		for _, sub := range list {
			close(sub.ch)
		}
		delete(b.subs, t)
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
