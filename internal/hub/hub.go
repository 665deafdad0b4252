// Package hub implements the Hub component: a pub/sub façade that routes
// publishes through a shared Writer and owns one Subscriber per active
// session, created lazily on first Subscribe. Grounded on the teacher's
// websocket Broadcaster, whose client/subscriber registry and get-or-create
// Subscribe/Unsubscribe pair this mirrors with a mutex-guarded map.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/seuros/solid-mcp/internal/store"
	"github.com/seuros/solid-mcp/internal/subscriber"
	"github.com/seuros/solid-mcp/internal/writer"
)

// ErrUnknownSession is returned by operations that target a session with no
// active subscription.
var ErrUnknownSession = errors.New("hub: unknown session")

// ErrClosed is returned by Subscribe when called after Shutdown. Calling
// Subscribe after teardown is a programmer error, not a runtime condition a
// publisher or subscriber should retry around.
var ErrClosed = errors.New("hub: closed")

// Option configures a Hub at construction time.
type Option func(*Hub)

// WithLogger overrides the Hub's logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// WithSubscriberOptions supplies options forwarded to every Subscriber the
// Hub creates (polling interval, batch limit, retry budget, and so on).
func WithSubscriberOptions(opts ...subscriber.Option) Option {
	return func(h *Hub) { h.subOpts = append(h.subOpts, opts...) }
}

// Hub is the pub/sub façade applications interact with: Broadcast enqueues a
// message through the shared Writer, and Subscribe registers a callback on
// the (possibly newly created) Subscriber for a session.
type Hub struct {
	store  store.Store
	writer *writer.Writer
	logger *slog.Logger

	subOpts []subscriber.Option

	mu          sync.Mutex
	subscribers map[string]*subscriber.Subscriber
	closed      bool
}

// New constructs a Hub backed by s and w. w is typically shared across
// every Hub in a process, since only one Writer should own a given Store's
// write path.
func New(s store.Store, w *writer.Writer, opts ...Option) *Hub {
	h := &Hub{
		store:       s,
		writer:      w,
		logger:      slog.Default(),
		subscribers: make(map[string]*subscriber.Subscriber),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Broadcast enqueues a message for sessionID through the shared Writer. It
// returns false if the Writer's intake queue was full; the message is
// dropped, matching Writer.Enqueue's contract.
func (h *Hub) Broadcast(ctx context.Context, sessionID, eventType, data string) bool {
	return h.writer.Enqueue(ctx, sessionID, eventType, data)
}

// BroadcastJSON JSON-encodes payload and broadcasts it as the message data.
func (h *Hub) BroadcastJSON(ctx context.Context, sessionID, eventType string, payload any) bool {
	return h.writer.EnqueueJSON(ctx, sessionID, eventType, payload)
}

// Subscribe registers cb to receive every future message for sessionID,
// creating and starting a Subscriber for that session if one does not
// already exist. It returns ErrClosed if the Hub has already been shut
// down: calling Subscribe after teardown is a programmer mistake, not a
// condition a caller should retry around.
func (h *Hub) Subscribe(sessionID string, cb subscriber.Callback) error {
	sub, err := h.getOrCreate(sessionID)
	if err != nil {
		return err
	}
	sub.OnMessage(cb)
	return nil
}

// getOrCreate returns the Subscriber for sessionID, creating and starting
// one under the Hub's single mutex if this is the first subscriber for
// that session.
func (h *Hub) getOrCreate(sessionID string) (*subscriber.Subscriber, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}

	if sub, ok := h.subscribers[sessionID]; ok {
		return sub, nil
	}

	sub := subscriber.New(h.store, sessionID, h.subOpts...)
	h.subscribers[sessionID] = sub
	sub.Start()
	h.logger.Info("hub: session subscriber created", slog.String("session_id", sessionID))
	return sub, nil
}

// Unsubscribe stops and removes the Subscriber for sessionID. It returns
// ErrUnknownSession if no subscriber is active for that session.
func (h *Hub) Unsubscribe(ctx context.Context, sessionID string) error {
	h.mu.Lock()
	sub, ok := h.subscribers[sessionID]
	if ok {
		delete(h.subscribers, sessionID)
	}
	h.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return sub.Stop(ctx)
}

// ActiveSessions returns the number of sessions with an active subscriber,
// for operator diagnostics.
func (h *Hub) ActiveSessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Backlog is the SSE-reconnection companion query of §4.4/§6: it calls
// Store.FetchUndelivered directly and returns the rows as Events, without
// going through a Subscriber and without marking anything delivered. The
// caller is a one-shot HTTP replay on reconnect (Last-Event-ID), not a
// durable subscriber; a subsequent live Subscriber will mark these rows
// delivered normally once it catches up past afterID.
func (h *Hub) Backlog(ctx context.Context, sessionID string, afterID int64, limit int) ([]subscriber.Event, error) {
	msgs, err := h.store.FetchUndelivered(ctx, sessionID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("hub: backlog fetch for session %s: %w", sessionID, err)
	}
	events := make([]subscriber.Event, len(msgs))
	for i, m := range msgs {
		events[i] = subscriber.EventFromMessage(m)
	}
	return events, nil
}

// Cursor returns the delivery cursor for sessionID's subscriber, for tests
// and diagnostics. It returns ErrUnknownSession if no subscriber is active.
func (h *Hub) Cursor(sessionID string) (int64, error) {
	h.mu.Lock()
	sub, ok := h.subscribers[sessionID]
	h.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return sub.Cursor(), nil
}

// Shutdown stops every active subscriber and the shared Writer, in that
// order so no subscriber is left polling against a writer that has already
// stopped accepting flushes.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	subs := make([]*subscriber.Subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.subscribers = make(map[string]*subscriber.Subscriber)
	h.closed = true
	h.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := h.writer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// FlushAndBroadcastSync broadcasts a message and blocks until the Writer
// has persisted it, for callers (tests, admin endpoints) that need a
// synchronous broadcast rather than the normal fire-and-forget path.
func (h *Hub) FlushAndBroadcastSync(ctx context.Context, sessionID, eventType, data string) error {
	if !h.writer.Enqueue(ctx, sessionID, eventType, data) {
		return fmt.Errorf("hub: enqueue failed for session %s", sessionID)
	}
	return h.writer.Flush(ctx)
}
