// Package sweeper implements the Sweeper component: a periodic, transactional
// retention pass that deletes delivered rows older than one cutoff and
// undelivered rows older than another. Grounded on the teacher's
// Agent.processEvents lifecycle (functional-options construction, idempotent
// Start/Stop, a ticker-driven loop run on its own goroutine).
package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/seuros/solid-mcp/internal/store"
)

// Option configures a Sweeper at construction time.
type Option func(*Sweeper)

// WithLogger overrides the Sweeper's logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Sweeper) { s.logger = l }
}

// WithInterval overrides how often the Sweeper runs a retention pass.
// Defaults to 5 minutes.
func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithDeliveredRetention overrides how long a delivered row survives.
// Defaults to 1 hour.
func WithDeliveredRetention(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.deliveredRetention = d
		}
	}
}

// WithUndeliveredRetention overrides how long an undelivered row survives.
// Defaults to 24 hours.
func WithUndeliveredRetention(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.undeliveredRetention = d
		}
	}
}

// Sweeper periodically deletes rows that have aged out of their retention
// window. Both deletes for a given pass run inside a single Store
// transaction (Store.RunRetentionSweep), so a pass never leaves the table in
// a state where delivered rows are gone but undelivered rows are not yet
// evaluated, or vice versa.
type Sweeper struct {
	store  store.Store
	logger *slog.Logger

	interval             time.Duration
	deliveredRetention   time.Duration
	undeliveredRetention time.Duration

	stopCh    chan struct{}
	exited    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// New constructs a Sweeper backed by s. It does not start running until
// Start is called.
func New(s store.Store, opts ...Option) *Sweeper {
	sw := &Sweeper{
		store:                s,
		logger:               slog.Default(),
		interval:             5 * time.Minute,
		deliveredRetention:   time.Hour,
		undeliveredRetention: 24 * time.Hour,
		stopCh:               make(chan struct{}),
		exited:               make(chan struct{}),
	}
	for _, opt := range opts {
		opt(sw)
	}
	return sw
}

// Start launches the periodic sweep loop. Idempotent.
func (sw *Sweeper) Start() {
	sw.startOnce.Do(func() {
		go sw.run()
	})
}

// Stop signals the sweep loop to exit and waits for it, up to ctx.
func (sw *Sweeper) Stop(ctx context.Context) error {
	sw.stopOnce.Do(func() { close(sw.stopCh) })
	select {
	case <-sw.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (sw *Sweeper) run() {
	defer close(sw.exited)

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sw.stopCh:
			return
		case <-ticker.C:
			sw.Run(context.Background())
		}
	}
}

// Run performs a single retention sweep immediately, independent of the
// periodic loop. Hosts can call this directly from an admin endpoint.
func (sw *Sweeper) Run(ctx context.Context) (deletedDelivered, deletedUndelivered int64, err error) {
	now := time.Now().UTC()
	deliveredCutoff := now.Add(-sw.deliveredRetention)
	undeliveredCutoff := now.Add(-sw.undeliveredRetention)

	deletedDelivered, deletedUndelivered, err = sw.store.RunRetentionSweep(ctx, deliveredCutoff, undeliveredCutoff)
	if err != nil {
		sw.logger.Error("sweeper: retention sweep failed", slog.Any("error", err))
		return 0, 0, err
	}

	if deletedDelivered > 0 || deletedUndelivered > 0 {
		sw.logger.Info("sweeper: retention sweep complete",
			slog.Int64("deleted_delivered", deletedDelivered),
			slog.Int64("deleted_undelivered", deletedUndelivered),
		)
	}
	return deletedDelivered, deletedUndelivered, nil
}
