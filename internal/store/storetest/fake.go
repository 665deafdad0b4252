// Package storetest provides an in-memory store.Store fake for fast,
// Docker-free unit tests of Writer, Subscriber, and Hub. It implements the
// exact same interface as store.PostgresStore and store.SQLiteStore, so
// tests written against it exercise real orchestration logic without a
// database round-trip.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/seuros/solid-mcp/internal/store"
)

// Fake is a goroutine-safe, in-memory store.Store. The zero value is not
// usable; construct with New.
type Fake struct {
	mu       sync.Mutex
	nextID   int64
	messages map[int64]*store.Message

	// InsertErr, when non-nil, is returned by InsertBatch instead of
	// performing the insert, for exercising Writer's StoreUnavailable path.
	InsertErr error
	// FetchErr, when non-nil, is returned by FetchUndelivered, for
	// exercising Subscriber's retry-budget path.
	FetchErr error

	// InsertCalls counts the number of InsertBatch invocations (not the
	// number of rows), for asserting P3 (no starvation under burst).
	InsertCalls int
}

// New creates an empty Fake store.
func New() *Fake {
	return &Fake{messages: make(map[int64]*store.Message)}
}

func (f *Fake) InsertBatch(_ context.Context, rows []store.NewMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.InsertCalls++
	if f.InsertErr != nil {
		return f.InsertErr
	}

	for _, r := range rows {
		f.nextID++
		f.messages[f.nextID] = &store.Message{
			ID:        f.nextID,
			SessionID: r.SessionID,
			EventType: r.EventType,
			Data:      r.Data,
			CreatedAt: r.CreatedAt,
		}
	}
	return nil
}

func (f *Fake) FetchUndelivered(_ context.Context, sessionID string, afterID int64, limit int) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FetchErr != nil {
		return nil, f.FetchErr
	}

	var out []store.Message
	for _, m := range f.messages {
		if m.SessionID == sessionID && m.DeliveredAt == nil && m.ID > afterID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *Fake) MarkDelivered(_ context.Context, ids []int64, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, id := range ids {
		if m, ok := f.messages[id]; ok && m.DeliveredAt == nil {
			t := now
			m.DeliveredAt = &t
		}
	}
	return nil
}

func (f *Fake) DeleteOldDelivered(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int64
	for id, m := range f.messages {
		if m.DeliveredAt != nil && m.DeliveredAt.Before(cutoff) {
			delete(f.messages, id)
			n++
		}
	}
	return n, nil
}

func (f *Fake) DeleteOldUndelivered(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int64
	for id, m := range f.messages {
		if m.DeliveredAt == nil && m.CreatedAt.Before(cutoff) {
			delete(f.messages, id)
			n++
		}
	}
	return n, nil
}

func (f *Fake) RunRetentionSweep(ctx context.Context, deliveredCutoff, undeliveredCutoff time.Time) (int64, int64, error) {
	d, err := f.DeleteOldDelivered(ctx, deliveredCutoff)
	if err != nil {
		return 0, 0, err
	}
	u, err := f.DeleteOldUndelivered(ctx, undeliveredCutoff)
	if err != nil {
		return 0, 0, err
	}
	return d, u, nil
}

func (f *Fake) Close(_ context.Context) error { return nil }

// Len returns the number of rows currently held, for test assertions.
func (f *Fake) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

// All returns a snapshot of every stored message ordered by id, for test
// assertions that need to inspect the full table.
func (f *Fake) All() []store.Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]store.Message, 0, len(f.messages))
	for _, m := range f.messages {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
