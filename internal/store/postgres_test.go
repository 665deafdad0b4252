//go:build integration

// Run with:
//
//	go test -tags integration -v ./internal/store/...
//
// Requires Docker (for testcontainers-go) and a reachable Docker socket.
package store_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seuros/solid-mcp/internal/store"
)

// migrationsDir returns the absolute path to db/migrations relative to this
// test file, so the test works regardless of the working directory.
func migrationsDir(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	return filepath.Join(filepath.Dir(thisFile), "..", "..", "db", "migrations")
}

// setupStore starts a PostgreSQL container, applies the messages migration,
// and returns a ready store.PostgresStore plus its cleanup.
func setupStore(t *testing.T) (*store.PostgresStore, func()) {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := tcpostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		tcpostgres.WithDatabase("solidmcp_test"),
		tcpostgres.WithUsername("solidmcp"),
		tcpostgres.WithPassword("secret"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("get connection string: %v", err)
	}

	rawPool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("connect for migrations: %v", err)
	}
	applyMigration(t, ctx, rawPool, migrationsDir(t))
	rawPool.Close()

	st, err := store.NewPostgresStore(ctx, connStr)
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("NewPostgresStore: %v", err)
	}

	cleanup := func() {
		st.Close(ctx)
		_ = pgContainer.Terminate(ctx)
	}
	return st, cleanup
}

func applyMigration(t *testing.T, ctx context.Context, pool *pgxpool.Pool, dir string) {
	t.Helper()
	path := filepath.Join(dir, "001_messages.sql")
	sql, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	if _, err := pool.Exec(ctx, string(sql)); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
}

func TestPostgresStore_InsertAndFetchUndelivered(t *testing.T) {
	st, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	err := st.InsertBatch(ctx, []store.NewMessage{
		{SessionID: "sess-1", EventType: "note", Data: "a", CreatedAt: now},
		{SessionID: "sess-1", EventType: "note", Data: "b", CreatedAt: now},
		{SessionID: "sess-2", EventType: "note", Data: "other-session", CreatedAt: now},
	})
	if err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}

	msgs, err := st.FetchUndelivered(ctx, "sess-1", 0, 10)
	if err != nil {
		t.Fatalf("FetchUndelivered: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("want 2 undelivered messages for sess-1, got %d", len(msgs))
	}
	if msgs[0].ID >= msgs[1].ID {
		t.Errorf("want ascending ids, got %d then %d", msgs[0].ID, msgs[1].ID)
	}
	if msgs[0].DeliveredAt != nil {
		t.Error("freshly inserted message should have nil DeliveredAt")
	}
}

func TestPostgresStore_MarkDeliveredIsIdempotent(t *testing.T) {
	st, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	if err := st.InsertBatch(ctx, []store.NewMessage{
		{SessionID: "sess-1", EventType: "note", Data: "a", CreatedAt: now},
	}); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}

	msgs, err := st.FetchUndelivered(ctx, "sess-1", 0, 10)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("FetchUndelivered: %v (%d rows)", err, len(msgs))
	}
	id := msgs[0].ID

	deliveredAt := now.Add(time.Second)
	if err := st.MarkDelivered(ctx, []int64{id}, deliveredAt); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	// Calling it again with a different timestamp must not move delivered_at.
	if err := st.MarkDelivered(ctx, []int64{id}, deliveredAt.Add(time.Hour)); err != nil {
		t.Fatalf("second MarkDelivered: %v", err)
	}

	remaining, err := st.FetchUndelivered(ctx, "sess-1", 0, 10)
	if err != nil {
		t.Fatalf("FetchUndelivered after delivery: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("want 0 undelivered after MarkDelivered, got %d", len(remaining))
	}
}

func TestPostgresStore_RunRetentionSweep(t *testing.T) {
	st, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	old := now.Add(-2 * time.Hour)

	if err := st.InsertBatch(ctx, []store.NewMessage{
		{SessionID: "sess-1", EventType: "note", Data: "old-undelivered", CreatedAt: old},
		{SessionID: "sess-1", EventType: "note", Data: "old-delivered", CreatedAt: old},
		{SessionID: "sess-1", EventType: "note", Data: "recent", CreatedAt: now},
	}); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}

	msgs, err := st.FetchUndelivered(ctx, "sess-1", 0, 10)
	if err != nil {
		t.Fatalf("FetchUndelivered: %v", err)
	}
	for _, m := range msgs {
		if m.Data == "old-delivered" {
			if err := st.MarkDelivered(ctx, []int64{m.ID}, old); err != nil {
				t.Fatalf("MarkDelivered: %v", err)
			}
		}
	}

	deletedDelivered, deletedUndelivered, err := st.RunRetentionSweep(ctx, now.Add(-time.Hour), now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("RunRetentionSweep: %v", err)
	}
	if deletedDelivered != 1 {
		t.Errorf("deletedDelivered = %d, want 1", deletedDelivered)
	}
	if deletedUndelivered != 1 {
		t.Errorf("deletedUndelivered = %d, want 1", deletedUndelivered)
	}

	remaining, err := st.FetchUndelivered(ctx, "sess-1", 0, 10)
	if err != nil {
		t.Fatalf("FetchUndelivered after sweep: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Data != "recent" {
		t.Errorf("expected only 'recent' row to survive, got %+v", remaining)
	}
}
