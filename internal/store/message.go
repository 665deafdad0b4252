// Package store provides the persistence layer for the solid-mcp delivery
// engine. It exposes a backend-agnostic Store interface plus two concrete
// implementations — a PostgreSQL backend for production and a WAL-mode
// SQLite backend for tests and small single-process deployments — both
// backed by the same messages table shape and the same Store methods.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable wraps any connection or SQL-level failure from a Store
// method. Callers should treat it as transient: Writer logs and discards the
// affected batch; Subscriber logs, counts the failure, and retries on its
// next poll tick.
var ErrStoreUnavailable = errors.New("store: unavailable")

// Message is the only persisted entity in the engine. id is assigned by the
// store at insert and is the ordering authority across all sessions.
// DeliveredAt is nil until a Subscriber has handed the row to every
// registered callback.
type Message struct {
	ID          int64
	SessionID   string
	EventType   string
	Data        string
	CreatedAt   time.Time
	DeliveredAt *time.Time
}

// NewMessage is the pre-insert tuple a publisher hands to InsertBatch. The
// store assigns ID and leaves DeliveredAt absent.
type NewMessage struct {
	SessionID string
	EventType string
	Data      string
	CreatedAt time.Time
}

// Store is the persistence contract the rest of the engine depends on. Every
// other component — Writer, Subscriber, Hub, Sweeper — reaches persistence
// only through this interface, never through a concrete backend type, so
// that unit tests can substitute an in-memory fake.
type Store interface {
	// InsertBatch atomically inserts rows and returns without row ids (the
	// store assigns them; callers never need them back). Returns an error
	// wrapping ErrStoreUnavailable on connection/SQL failure.
	InsertBatch(ctx context.Context, rows []NewMessage) error

	// FetchUndelivered returns up to limit rows with
	// session_id = sessionID AND delivered_at IS NULL AND id > afterID,
	// ordered by id ascending.
	FetchUndelivered(ctx context.Context, sessionID string, afterID int64, limit int) ([]Message, error)

	// MarkDelivered sets delivered_at = now for every row in ids. Idempotent:
	// already-delivered rows are left unchanged.
	MarkDelivered(ctx context.Context, ids []int64, now time.Time) error

	// DeleteOldDelivered deletes rows with delivered_at IS NOT NULL AND
	// delivered_at < cutoff, returning the number of rows removed.
	DeleteOldDelivered(ctx context.Context, cutoff time.Time) (int64, error)

	// DeleteOldUndelivered deletes rows with delivered_at IS NULL AND
	// created_at < cutoff, returning the number of rows removed.
	DeleteOldUndelivered(ctx context.Context, cutoff time.Time) (int64, error)

	// RunRetentionSweep performs DeleteOldDelivered(deliveredCutoff) and
	// DeleteOldUndelivered(undeliveredCutoff) in a single transaction, for
	// Sweeper.Run. It returns the delivered and undelivered deletion counts.
	RunRetentionSweep(ctx context.Context, deliveredCutoff, undeliveredCutoff time.Time) (deletedDelivered, deletedUndelivered int64, err error)

	// Close releases the underlying connection pool or database handle.
	Close(ctx context.Context) error
}
