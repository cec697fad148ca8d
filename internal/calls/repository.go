package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"softphone-queue/pkg/utils"

	"github.com/jackc/pgx/v5/pgconn"
)

// Schema creates the call_queue table. Terminal rows stay until the reaper removes them,
// which is what keeps call_sid unique across webhook redeliveries.
const Schema = `
DO $$ BEGIN
  CREATE TYPE call_status AS ENUM ('queued', 'in_progress', 'completed', 'failed', 'on_hold');
EXCEPTION
  WHEN duplicate_object THEN NULL;
END $$;

CREATE TABLE IF NOT EXISTS call_queue (
  id            INTEGER GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
  call_sid      VARCHAR NOT NULL UNIQUE,
  caller_number VARCHAR NOT NULL,
  caller_name   VARCHAR NOT NULL,
  status        call_status NOT NULL DEFAULT 'queued',
  created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS call_queue_status_created_idx ON call_queue (status, created_at);
`

const pgUniqueViolation = "23505"

// PostgresStore is the Store backed by the call_queue table.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

// EnsureSchema applies Schema. Safe to run on every start.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, e CallEntry) error {
	const q = `
INSERT INTO call_queue (call_sid, caller_number, caller_name, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$5)
ON CONFLICT (call_sid) DO NOTHING
`
	now := s.clock().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	res, err := s.db.ExecContext(ctx, q, e.CallID, e.CallerNumber, e.CallerName, e.Status, e.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateKey
		}
		return unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return ErrDuplicateKey
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, callID string) (CallEntry, error) {
	const q = `
SELECT call_sid, caller_number, caller_name, status, created_at, updated_at
FROM call_queue
WHERE call_sid = $1
`
	return scanEntry(s.db.QueryRowContext(ctx, q, callID))
}

func (s *PostgresStore) List(ctx context.Context, activeOnly bool) ([]CallEntry, error) {
	q := `
SELECT call_sid, caller_number, caller_name, status, created_at, updated_at
FROM call_queue
WHERE status IN ('queued', 'on_hold', 'in_progress')
ORDER BY created_at ASC, call_sid ASC
`
	if activeOnly {
		q = `
SELECT call_sid, caller_number, caller_name, status, created_at, updated_at
FROM call_queue
WHERE status IN ('queued', 'on_hold')
ORDER BY created_at ASC, call_sid ASC
`
	}
	return s.queryEntries(ctx, q)
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, callID string, from, to CallStatus) (CallEntry, error) {
	var out CallEntry
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Lock the row so the status check and the update see the same version.
		cur, err := lockEntry(ctx, tx, callID)
		if err != nil {
			return err
		}
		if cur.Status != from {
			return ErrStatusConflict
		}

		const q = `
UPDATE call_queue
SET status = $2, updated_at = $3
WHERE call_sid = $1
RETURNING call_sid, caller_number, caller_name, status, created_at, updated_at
`
		e, err := scanEntry(tx.QueryRowContext(ctx, q, callID, to, s.clock().UTC()))
		if err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return CallEntry{}, classify(err)
	}
	return out, nil
}

func (s *PostgresStore) Remove(ctx context.Context, callID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM call_queue WHERE call_sid = $1`, callID)
	if err != nil {
		return unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListTerminal(ctx context.Context, before time.Time) ([]CallEntry, error) {
	const q = `
SELECT call_sid, caller_number, caller_name, status, created_at, updated_at
FROM call_queue
WHERE status IN ('completed', 'failed') AND updated_at < $1
ORDER BY created_at ASC, call_sid ASC
`
	return s.queryEntries(ctx, q, before)
}

func (s *PostgresStore) queryEntries(ctx context.Context, q string, args ...any) ([]CallEntry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	out := make([]CallEntry, 0)
	for rows.Next() {
		var e CallEntry
		if err := rows.Scan(&e.CallID, &e.CallerNumber, &e.CallerName, &e.Status, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, unavailable(err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

func lockEntry(ctx context.Context, tx *sql.Tx, callID string) (CallEntry, error) {
	const q = `
SELECT call_sid, caller_number, caller_name, status, created_at, updated_at
FROM call_queue
WHERE call_sid = $1
FOR UPDATE
`
	return scanEntry(tx.QueryRowContext(ctx, q, callID))
}

func scanEntry(row *sql.Row) (CallEntry, error) {
	var e CallEntry
	if err := row.Scan(&e.CallID, &e.CallerNumber, &e.CallerName, &e.Status, &e.CreatedAt, &e.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallEntry{}, ErrNotFound
		}
		return CallEntry{}, unavailable(err)
	}
	return e, nil
}

// classify keeps contract errors as-is and marks everything else unavailable.
func classify(err error) error {
	if err == nil || IsBenign(err) || errors.Is(err, ErrUnavailable) {
		return err
	}
	return unavailable(err)
}
