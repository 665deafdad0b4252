// Package subscriber implements the Subscriber component of the delivery
// engine: one per-session polling loop that fetches undelivered messages in
// id order, dispatches them to registered callbacks, and marks them
// delivered. Grounded on the teacher's websocket Broadcaster subscriber
// registry and its non-blocking, panic-isolated dispatch pattern.
package subscriber

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/seuros/solid-mcp/internal/store"
)

// Event is the wire-shaped record a Callback receives: the public view of
// a store.Message, carrying only what a subscriber needs to act on a
// delivery.
type Event struct {
	ID        int64  `json:"id"`
	EventType string `json:"event_type"`
	Data      string `json:"data"`
}

// EventFromMessage converts a store.Message to the wire-shaped Event a
// Callback receives. Exported so callers outside this package (Hub's
// Backlog replay query) can produce the same shape from rows they fetch
// directly from the Store.
func EventFromMessage(m store.Message) Event {
	return Event{ID: m.ID, EventType: m.EventType, Data: m.Data}
}

// Callback is invoked once per undelivered message, in id order, for every
// registration in a Subscriber's CallbackSet. A panicking Callback is
// recovered and logged; it never brings down the polling loop or other
// callbacks.
type Callback func(Event)

// CallbackSet is a concurrency-safe collection of Callbacks. Each
// Subscriber dispatches through exactly one, and Hub registers every
// callback for a session on that session's set (via OnMessage), so
// registering a new callback never requires recreating the Subscriber.
type CallbackSet struct {
	mu        sync.RWMutex
	callbacks []Callback
}

// NewCallbackSet returns an empty CallbackSet.
func NewCallbackSet() *CallbackSet {
	return &CallbackSet{}
}

// Add registers cb. Safe to call concurrently with dispatch.
func (c *CallbackSet) Add(cb Callback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, cb)
}

// snapshot returns the current callbacks slice for iteration without
// holding the lock during invocation.
func (c *CallbackSet) snapshot() []Callback {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.callbacks
}

// Option configures a Subscriber at construction time.
type Option func(*Subscriber)

// WithLogger overrides the Subscriber's logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Subscriber) { s.logger = l }
}

// WithPollingInterval overrides how long the Subscriber sleeps between
// polls that find nothing. Defaults to 100ms.
func WithPollingInterval(d time.Duration) Option {
	return func(s *Subscriber) {
		if d > 0 {
			s.pollingInterval = d
		}
	}
}

// WithBatchLimit overrides the maximum number of messages fetched per poll.
// Defaults to 100, matching the fixed fetch size of the poll cycle; it is
// not one of the eight host-configurable keys, so this option exists for
// tests that need a smaller batch to exercise pagination, not for
// production tuning.
func WithBatchLimit(n int) Option {
	return func(s *Subscriber) {
		if n > 0 {
			s.batchLimit = n
		}
	}
}

// WithMaxConsecutiveFailures overrides the retry budget: the Subscriber
// stops itself after this many consecutive FetchUndelivered failures.
// Zero (the default) means unlimited retries.
func WithMaxConsecutiveFailures(n int) Option {
	return func(s *Subscriber) { s.maxFailures = n }
}

// WithCursor seeds the Subscriber's starting cursor, for resuming a
// previously-stopped subscription rather than replaying from id 0.
func WithCursor(id int64) Option {
	return func(s *Subscriber) { s.cursor.Store(id) }
}

// WithCallbackSet supplies a CallbackSet the Subscriber should dispatch
// through, instead of the one New creates internally, for callers that
// build the set before the Subscriber. Hub does not pass one; it relies on
// the set New creates.
func WithCallbackSet(c *CallbackSet) Option {
	return func(s *Subscriber) {
		if c != nil {
			s.callbacks = c
		}
	}
}

// Subscriber polls a single session's undelivered messages and dispatches
// them to its CallbackSet. The zero value is not usable; construct with
// New.
type Subscriber struct {
	store      store.Store
	sessionID  string
	instanceID string
	logger     *slog.Logger

	pollingInterval time.Duration
	batchLimit      int
	maxFailures     int

	callbacks *CallbackSet

	cursor    atomic.Int64
	failures  atomic.Int64
	stopCh    chan struct{}
	exited    chan struct{}
	ready     chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// New constructs a Subscriber for sessionID against s. It does not start
// polling until Start is called. Unless WithCallbackSet is passed, New
// creates a fresh, empty CallbackSet reachable via Callbacks().
func New(s store.Store, sessionID string, opts ...Option) *Subscriber {
	sub := &Subscriber{
		store:           s,
		sessionID:       sessionID,
		instanceID:      uuid.NewString(),
		logger:          slog.Default(),
		pollingInterval: 100 * time.Millisecond,
		batchLimit:      100,
		callbacks:       NewCallbackSet(),
		stopCh:          make(chan struct{}),
		exited:          make(chan struct{}),
		ready:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(sub)
	}
	return sub
}

// SessionID returns the session this Subscriber polls.
func (s *Subscriber) SessionID() string { return s.sessionID }

// Callbacks returns the CallbackSet this Subscriber dispatches through.
func (s *Subscriber) Callbacks() *CallbackSet { return s.callbacks }

// OnMessage registers a callback to invoke for every future delivered
// message. Callbacks may be registered before or after Start.
func (s *Subscriber) OnMessage(cb Callback) {
	s.callbacks.Add(cb)
}

// Cursor returns the id of the highest message dispatched so far.
func (s *Subscriber) Cursor() int64 { return s.cursor.Load() }

// ConsecutiveFailures returns the current consecutive FetchUndelivered
// failure count, for tests and diagnostics.
func (s *Subscriber) ConsecutiveFailures() int64 { return s.failures.Load() }

// Start launches the polling loop. It is idempotent: calling Start more
// than once has no additional effect.
func (s *Subscriber) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

// Stop signals the polling loop to exit and waits for it, up to ctx.
func (s *Subscriber) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	select {
	case <-s.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Subscriber) run() {
	close(s.ready)
	defer close(s.exited)

	ticker := time.NewTicker(s.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.poll() {
				return
			}
		}
	}
}

// poll fetches, dispatches, and marks delivered one batch of undelivered
// messages. It returns false when the retry budget has been exhausted and
// the polling loop should stop itself.
func (s *Subscriber) poll() bool {
	ctx := context.Background()

	msgs, err := s.store.FetchUndelivered(ctx, s.sessionID, s.cursor.Load(), s.batchLimit)
	if err != nil {
		n := s.failures.Add(1)
		s.logger.Error("subscriber: fetch undelivered failed",
			slog.String("session_id", s.sessionID),
			slog.String("instance_id", s.instanceID),
			slog.Int64("consecutive_failures", n),
			slog.Any("error", err),
		)
		if s.maxFailures > 0 && n >= int64(s.maxFailures) {
			s.logger.Error("subscriber: retry budget exhausted, stopping",
				slog.String("session_id", s.sessionID),
				slog.String("instance_id", s.instanceID),
			)
			return false
		}
		return true
	}
	s.failures.Store(0)

	if len(msgs) == 0 {
		return true
	}

	delivered := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		s.dispatch(EventFromMessage(m))
		delivered = append(delivered, m.ID)
		s.cursor.Store(m.ID)
	}

	if err := s.store.MarkDelivered(ctx, delivered, time.Now().UTC()); err != nil {
		s.logger.Error("subscriber: mark delivered failed",
			slog.String("session_id", s.sessionID),
			slog.String("instance_id", s.instanceID),
			slog.Any("error", err),
		)
	}
	return true
}

// dispatch invokes every registered callback for evt, isolating the poll
// loop from a panicking callback.
func (s *Subscriber) dispatch(evt Event) {
	for _, cb := range s.callbacks.snapshot() {
		s.invoke(cb, evt)
	}
}

func (s *Subscriber) invoke(cb Callback, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("subscriber: callback panicked",
				slog.String("session_id", s.sessionID),
				slog.String("instance_id", s.instanceID),
				slog.Int64("message_id", evt.ID),
				slog.Any("panic", r),
			)
		}
	}()
	cb(evt)
}
