package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

// sqliteDDL mirrors db/migrations/001_messages.sql, adapted to SQLite's
// column affinity rules (TIMESTAMPTZ has no SQLite equivalent; timestamps
// are stored as UTC RFC3339 text, same choice the teacher's sqlite_queue.go
// makes for its ts column).
const sqliteDDL = `
CREATE TABLE IF NOT EXISTS messages (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id   TEXT    NOT NULL,
    event_type   TEXT    NOT NULL,
    data         TEXT    NOT NULL DEFAULT '',
    created_at   TEXT    NOT NULL,
    delivered_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_messages_session_id
    ON messages (session_id, id);
CREATE INDEX IF NOT EXISTS idx_messages_delivered_at
    ON messages (delivered_at, created_at);
`

// SQLiteStore is a WAL-mode, single-writer-connection implementation of
// Store, grounded on the teacher's internal/queue/sqlite_queue.go. It is
// intended for tests and small single-process deployments where a separate
// PostgreSQL instance is not worth the operational cost; it implements the
// exact same Store interface and observable contract as PostgresStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the SQLite database at path, enables WAL
// journal mode, and applies the schema. Pass ":memory:" for an ephemeral
// database suitable for unit tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}

	// SQLite allows only one writer at a time; a single connection avoids
	// "database is locked" errors when Writer and Subscriber goroutines both
	// touch the database concurrently.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set synchronous = NORMAL: %w", err)
	}
	if _, err := db.Exec(sqliteDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close(_ context.Context) error {
	return s.db.Close()
}

// timeLayout is RFC3339 in UTC with a fixed nine-digit fraction, so that
// SQLite's text comparison of two timestamps agrees with their time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func (s *SQLiteStore) InsertBatch(ctx context.Context, rows []NewMessage) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin insert tx: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (session_id, event_type, data, created_at)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: prepare insert: %v", ErrStoreUnavailable, err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.SessionID, r.EventType, r.Data, r.CreatedAt.UTC().Format(timeLayout)); err != nil {
			return fmt.Errorf("%w: insert message: %v", ErrStoreUnavailable, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit insert tx: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) FetchUndelivered(ctx context.Context, sessionID string, afterID int64, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, event_type, data, created_at, delivered_at
		FROM   messages
		WHERE  session_id = ? AND delivered_at IS NULL AND id > ?
		ORDER  BY id ASC
		LIMIT  ?`,
		sessionID, afterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch undelivered: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m              Message
			createdAtStr   string
			deliveredAtStr sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.EventType, &m.Data, &createdAtStr, &deliveredAtStr); err != nil {
			return nil, fmt.Errorf("%w: scan message: %v", ErrStoreUnavailable, err)
		}
		m.CreatedAt, err = time.Parse(timeLayout, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("%w: parse created_at: %v", ErrStoreUnavailable, err)
		}
		if deliveredAtStr.Valid {
			t, err := time.Parse(timeLayout, deliveredAtStr.String)
			if err != nil {
				return nil, fmt.Errorf("%w: parse delivered_at: %v", ErrStoreUnavailable, err)
			}
			m.DeliveredAt = &t
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: fetch undelivered rows: %v", ErrStoreUnavailable, err)
	}
	return out, nil
}

func (s *SQLiteStore) MarkDelivered(ctx context.Context, ids []int64, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin mark-delivered tx: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE messages SET delivered_at = ? WHERE id = ? AND delivered_at IS NULL`)
	if err != nil {
		return fmt.Errorf("%w: prepare mark-delivered: %v", ErrStoreUnavailable, err)
	}
	defer stmt.Close()

	nowStr := now.UTC().Format(timeLayout)
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, nowStr, id); err != nil {
			return fmt.Errorf("%w: mark delivered: %v", ErrStoreUnavailable, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit mark-delivered tx: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteOldDelivered(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE  delivered_at IS NOT NULL AND delivered_at < ?`,
		cutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: delete old delivered: %v", ErrStoreUnavailable, err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) DeleteOldUndelivered(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE  delivered_at IS NULL AND created_at < ?`,
		cutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: delete old undelivered: %v", ErrStoreUnavailable, err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) RunRetentionSweep(ctx context.Context, deliveredCutoff, undeliveredCutoff time.Time) (int64, int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: begin sweep tx: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	deliveredRes, err := tx.ExecContext(ctx, `
		DELETE FROM messages
		WHERE  delivered_at IS NOT NULL AND delivered_at < ?`,
		deliveredCutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: sweep delivered: %v", ErrStoreUnavailable, err)
	}
	deletedDelivered, err := deliveredRes.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: sweep delivered rows affected: %v", ErrStoreUnavailable, err)
	}

	undeliveredRes, err := tx.ExecContext(ctx, `
		DELETE FROM messages
		WHERE  delivered_at IS NULL AND created_at < ?`,
		undeliveredCutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: sweep undelivered: %v", ErrStoreUnavailable, err)
	}
	deletedUndelivered, err := undeliveredRes.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: sweep undelivered rows affected: %v", ErrStoreUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("%w: commit sweep tx: %v", ErrStoreUnavailable, err)
	}
	return deletedDelivered, deletedUndelivered, nil
}
