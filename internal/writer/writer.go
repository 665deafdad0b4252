// Package writer implements the Writer component of the delivery engine: a
// bounded intake queue drained by a single serial worker goroutine that
// batches messages before handing them to the Store, grounded on the
// teacher's Store.flushLoop ticker-and-buffer design and its single-writer
// SQLite discipline.
package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/seuros/solid-mcp/internal/store"
)

// state values for Writer.state.
const (
	stateRunning int32 = iota
	stateDraining
	stateStopped
)

// Option configures a Writer at construction time.
type Option func(*Writer)

// WithLogger overrides the Writer's logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(w *Writer) { w.logger = l }
}

// WithBatchSize overrides the maximum number of messages inserted per
// round trip. Defaults to 200.
func WithBatchSize(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithQueueSize overrides the bounded intake channel's capacity. Defaults
// to 10000.
func WithQueueSize(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.queueSize = n
		}
	}
}

// WithShutdownTimeout overrides how long Shutdown waits for the intake
// queue to drain before giving up. Defaults to 5s.
func WithShutdownTimeout(d time.Duration) Option {
	return func(w *Writer) {
		if d > 0 {
			w.shutdownTimeout = d
		}
	}
}

// WithFlushInterval overrides the idle heartbeat interval. Defaults to
// 50ms. The batching algorithm itself flushes as soon as any message
// arrives; this interval only bounds how long the worker's idle select
// waits before waking up, which matters for tests that want a bounded
// upper latency guarantee without sending a message.
func WithFlushInterval(d time.Duration) Option {
	return func(w *Writer) {
		if d > 0 {
			w.flushInterval = d
		}
	}
}

// item is what flows through the intake channel: either a message to
// persist or a flush sentinel to signal once everything queued ahead of it
// has been persisted.
type item struct {
	msg   *store.NewMessage
	flush chan struct{}
}

// Writer accepts messages from arbitrary publisher goroutines, batches them,
// and hands batches to a Store on a single serial worker goroutine. It never
// lets more than one goroutine write to the store concurrently, matching the
// single-writer-connection discipline the teacher's SQLite queue relies on.
type Writer struct {
	store  store.Store
	logger *slog.Logger

	batchSize       int
	queueSize       int
	shutdownTimeout time.Duration
	flushInterval   time.Duration

	intake  chan item
	stopCh  chan struct{}
	exited  chan struct{}
	ready   chan struct{}
	state   atomic.Int32
	dropped atomic.Int64
}

// New constructs a Writer backed by s and starts its worker goroutine.
// Construction waits up to 100ms for the worker to signal readiness before
// returning, best-effort; a slow scheduler does not fail construction.
func New(s store.Store, opts ...Option) *Writer {
	w := &Writer{
		store:           s,
		logger:          slog.Default(),
		batchSize:       200,
		queueSize:       10_000,
		shutdownTimeout: 5 * time.Second,
		flushInterval:   50 * time.Millisecond,
		stopCh:          make(chan struct{}),
		exited:          make(chan struct{}),
		ready:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.intake = make(chan item, w.queueSize)

	go w.run()

	select {
	case <-w.ready:
	case <-time.After(100 * time.Millisecond):
	}

	return w
}

// Enqueue submits a message for eventual persistence. It never blocks: if
// the intake queue is full, the message is dropped, a warning is logged,
// and Enqueue returns false. Enqueue also returns false once Shutdown has
// been called. ctx is accepted for symmetry with the rest of the engine's
// blocking operations but is not otherwise consulted, since Enqueue never
// blocks.
func (w *Writer) Enqueue(ctx context.Context, sessionID, eventType, data string) bool {
	if w.state.Load() != stateRunning {
		return false
	}

	msg := &store.NewMessage{
		SessionID: sessionID,
		EventType: eventType,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}

	select {
	case w.intake <- item{msg: msg}:
		return true
	default:
		n := w.dropped.Add(1)
		w.logger.Warn("writer: intake queue full, dropping message",
			slog.String("session_id", sessionID),
			slog.String("event_type", eventType),
			slog.Int64("total_dropped", n),
		)
		return false
	}
}

// EnqueueJSON JSON-encodes payload and enqueues it as the message data,
// per spec §9's dynamic-payload design note: the engine's wire type is a
// string, and structured payloads are the publisher's concern to encode.
// It returns false if encoding failed or the underlying Enqueue was
// dropped.
func (w *Writer) EnqueueJSON(ctx context.Context, sessionID, eventType string, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		w.logger.Error("writer: encode JSON payload failed",
			slog.String("session_id", sessionID),
			slog.String("event_type", eventType),
			slog.Any("error", err),
		)
		return false
	}
	return w.Enqueue(ctx, sessionID, eventType, string(data))
}

// Dropped returns the total number of messages discarded because the
// intake queue was full.
func (w *Writer) Dropped() int64 {
	return w.dropped.Load()
}

// Flush blocks until every message enqueued before this call has been
// handed to the Store, until ctx is done, or until one second has passed,
// whichever comes first; in the latter two cases it returns the context
// error and the queued messages are still written by the worker later. It
// is implemented by enqueuing a sentinel the worker signals once it reaches
// the front of the queue, so Flush observes real drain order rather than an
// approximate timer.
func (w *Writer) Flush(ctx context.Context) error {
	if w.state.Load() == stateStopped {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	done := make(chan struct{})
	select {
	case w.intake <- item{flush: done}:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.exited:
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.exited:
		return nil
	}
}

// Shutdown transitions the Writer to draining, stops accepting new
// messages, and waits for the intake queue to empty, up to the configured
// shutdown timeout. Messages still queued when the timeout elapses are
// logged and lost; Shutdown is idempotent.
func (w *Writer) Shutdown(ctx context.Context) error {
	if !w.state.CompareAndSwap(stateRunning, stateDraining) {
		<-w.exited
		return nil
	}
	close(w.stopCh)

	timeout := w.shutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}

	select {
	case <-w.exited:
		w.state.Store(stateStopped)
		return nil
	case <-time.After(timeout):
		pending := len(w.intake)
		w.logger.Warn("writer: shutdown timed out, messages may be lost",
			slog.Int("pending", pending),
			slog.Int64("total_dropped", w.dropped.Load()),
		)
		w.state.Store(stateStopped)
		return nil
	}
}

// run is the single serial worker goroutine. It owns all writes to the
// Store: no other goroutine ever calls InsertBatch, so there is never
// write contention against a single-connection SQLite backend.
func (w *Writer) run() {
	close(w.ready)
	defer close(w.exited)

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case it := <-w.intake:
			w.handle(it)
		case <-ticker.C:
			// Idle heartbeat; the batching algorithm below already flushes
			// as soon as a message arrives, so there is nothing to do here.
		case <-w.stopCh:
			w.drainRemaining()
			return
		}
	}
}

// handle gathers a batch starting from first (a blocking take already
// performed by run's select), inserts it, and signals any flush sentinels
// collected along the way.
func (w *Writer) handle(first item) {
	batch, waiters := w.gather(first)
	w.flushBatch(batch, waiters)
}

// gather performs the non-blocking drain described in spec §4.2: keep
// taking items until batchSize messages are collected or the queue is
// momentarily empty.
func (w *Writer) gather(first item) ([]store.NewMessage, []chan struct{}) {
	batch := make([]store.NewMessage, 0, w.batchSize)
	var waiters []chan struct{}

	add := func(it item) {
		if it.msg != nil {
			batch = append(batch, *it.msg)
		} else if it.flush != nil {
			waiters = append(waiters, it.flush)
		}
	}

	add(first)
	for len(batch) < w.batchSize {
		select {
		case it := <-w.intake:
			add(it)
		default:
			return batch, waiters
		}
	}
	return batch, waiters
}

// drainRemaining runs after Shutdown, emptying whatever is left in the
// intake channel in batch-sized chunks before the worker exits.
func (w *Writer) drainRemaining() {
	for {
		select {
		case it := <-w.intake:
			w.handle(it)
		default:
			return
		}
	}
}

// flushBatch inserts batch (if non-empty) and always signals waiters
// afterward, even when the batch was empty (spec §4.2: a flush sentinel
// with nothing ahead of it in the queue signals immediately).
func (w *Writer) flushBatch(batch []store.NewMessage, waiters []chan struct{}) {
	if len(batch) > 0 {
		if err := w.store.InsertBatch(context.Background(), batch); err != nil {
			w.logger.Error("writer: insert batch failed, messages dropped",
				slog.Int("count", len(batch)),
				slog.Any("error", err),
			)
		}
	}
	for _, ch := range waiters {
		close(ch)
	}
}
