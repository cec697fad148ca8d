package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Schema creates the call_events table. Rows are insert-only.
const Schema = `
CREATE TABLE IF NOT EXISTS call_events (
  id          UUID PRIMARY KEY,
  call_sid    VARCHAR NOT NULL,
  type        VARCHAR NOT NULL,
  op          VARCHAR NOT NULL,
  from_status VARCHAR NOT NULL DEFAULT '',
  to_status   VARCHAR NOT NULL,
  message     TEXT NOT NULL DEFAULT '',
  created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS call_events_call_sid_idx ON call_events (call_sid, created_at);
`

// PostgresRepo appends audit events to call_events.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("audit: ensure schema: %w", err)
	}
	return nil
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO call_events (id, call_sid, type, op, from_status, to_status, message, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`
	_, err := r.db.ExecContext(ctx, q, e.ID, e.CallID, string(e.Type), e.Op, e.FromStatus, e.ToStatus, e.Message, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	return nil
}

func (r *PostgresRepo) ListByCall(ctx context.Context, callID string) ([]Event, error) {
	const q = `
SELECT id, call_sid, type, op, from_status, to_status, message, created_at
FROM call_events
WHERE call_sid = $1
ORDER BY created_at ASC, id ASC
`
	rows, err := r.db.QueryContext(ctx, q, callID)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	return scanEvents(rows)
}

// ListRange returns events with from <= created_at < to, oldest first.
func (r *PostgresRepo) ListRange(ctx context.Context, from, to time.Time) ([]Event, error) {
	const q = `
SELECT id, call_sid, type, op, from_status, to_status, message, created_at
FROM call_events
WHERE created_at >= $1 AND created_at < $2
ORDER BY created_at ASC, id ASC
`
	rows, err := r.db.QueryContext(ctx, q, from, to)
	if err != nil {
		return nil, fmt.Errorf("audit: list range: %w", err)
	}
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	defer rows.Close()

	out := []Event{}
	for rows.Next() {
		var e Event
		var typ string
		if err := rows.Scan(&e.ID, &e.CallID, &typ, &e.Op, &e.FromStatus, &e.ToStatus, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		e.Type = EventType(typ)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	return out, nil
}
