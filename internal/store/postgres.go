package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the production, pgxpool-backed implementation of Store.
//
// Unlike the teacher's alert Store, PostgresStore does not buffer rows
// in-process before inserting: batching is the Writer's job (spec §4.2).
// PostgresStore's InsertBatch is a single atomic round-trip for whatever
// batch the Writer hands it.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a pgxpool connection to connStr and pings the
// database. Callers should run the migrations in db/migrations before first
// use; NewPostgresStore does not apply schema itself.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("store: pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrStoreUnavailable, err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close(_ context.Context) error {
	s.pool.Close()
	return nil
}

// InsertBatch inserts rows in a single pgx.Batch round-trip. An empty rows
// slice is a no-op.
func (s *PostgresStore) InsertBatch(ctx context.Context, rows []NewMessage) error {
	if len(rows) == 0 {
		return nil
	}

	const query = `
		INSERT INTO messages (session_id, event_type, data, created_at)
		VALUES ($1, $2, $3, $4)`

	b := &pgx.Batch{}
	for _, r := range rows {
		b.Queue(query, r.SessionID, r.EventType, r.Data, r.CreatedAt)
	}

	br := s.pool.SendBatch(ctx, b)
	defer br.Close()

	for range rows {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("%w: insert batch: %v", ErrStoreUnavailable, err)
		}
	}
	return nil
}

// FetchUndelivered returns up to limit undelivered rows for sessionID with
// id > afterID, ordered by id ascending (spec P1, P6).
func (s *PostgresStore) FetchUndelivered(ctx context.Context, sessionID string, afterID int64, limit int) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, event_type, data, created_at, delivered_at
		FROM   messages
		WHERE  session_id = $1 AND delivered_at IS NULL AND id > $2
		ORDER  BY id ASC
		LIMIT  $3`,
		sessionID, afterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch undelivered: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.EventType, &m.Data, &m.CreatedAt, &m.DeliveredAt); err != nil {
			return nil, fmt.Errorf("%w: scan message: %v", ErrStoreUnavailable, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: fetch undelivered rows: %v", ErrStoreUnavailable, err)
	}
	return out, nil
}

// MarkDelivered sets delivered_at = now for the given ids. Idempotent.
func (s *PostgresStore) MarkDelivered(ctx context.Context, ids []int64, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE messages
		SET    delivered_at = $2
		WHERE  id = ANY($1) AND delivered_at IS NULL`,
		ids, now,
	)
	if err != nil {
		return fmt.Errorf("%w: mark delivered: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// DeleteOldDelivered deletes delivered rows older than cutoff.
func (s *PostgresStore) DeleteOldDelivered(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM messages
		WHERE  delivered_at IS NOT NULL AND delivered_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: delete old delivered: %v", ErrStoreUnavailable, err)
	}
	return tag.RowsAffected(), nil
}

// DeleteOldUndelivered deletes undelivered rows created before cutoff.
func (s *PostgresStore) DeleteOldUndelivered(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM messages
		WHERE  delivered_at IS NULL AND created_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: delete old undelivered: %v", ErrStoreUnavailable, err)
	}
	return tag.RowsAffected(), nil
}

// RunRetentionSweep performs both retention deletes in a single transaction,
// per spec §4.5.
func (s *PostgresStore) RunRetentionSweep(ctx context.Context, deliveredCutoff, undeliveredCutoff time.Time) (int64, int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: begin sweep tx: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	deliveredTag, err := tx.Exec(ctx, `
		DELETE FROM messages
		WHERE  delivered_at IS NOT NULL AND delivered_at < $1`,
		deliveredCutoff,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: sweep delivered: %v", ErrStoreUnavailable, err)
	}

	undeliveredTag, err := tx.Exec(ctx, `
		DELETE FROM messages
		WHERE  delivered_at IS NULL AND created_at < $1`,
		undeliveredCutoff,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: sweep undelivered: %v", ErrStoreUnavailable, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("%w: commit sweep tx: %v", ErrStoreUnavailable, err)
	}

	return deliveredTag.RowsAffected(), undeliveredTag.RowsAffected(), nil
}
