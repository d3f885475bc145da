package callbacks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"voice-orchestrator/internal/calls"

	"github.com/jackc/pgx/v5/pgconn"
)

var SchemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS callbacks (
  callback_id    TEXT PRIMARY KEY,
  customer_id    TEXT NOT NULL,
  phone_number   TEXT NOT NULL,
  scheduled_time TIMESTAMPTZ NOT NULL,
  reason         TEXT NOT NULL DEFAULT '',
  status         TEXT NOT NULL DEFAULT 'scheduled',
  created_at     TIMESTAMPTZ NOT NULL,
  updated_at     TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS callbacks_created_at_idx ON callbacks (created_at DESC)`,
}

type PostgresRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

func (r *PostgresRepo) Create(ctx context.Context, cb Callback) error {
	if cb.CallbackID == "" {
		return ErrInvalidArgument
	}
	cb = cb.withDefaults(r.clock().UTC())
	const q = `
INSERT INTO callbacks (callback_id, customer_id, phone_number, scheduled_time, reason, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`
	_, err := r.db.ExecContext(ctx, q,
		cb.CallbackID,
		cb.CustomerID,
		cb.PhoneNumber,
		cb.ScheduledTime,
		cb.Reason,
		cb.Status,
		cb.CreatedAt,
		cb.UpdatedAt,
	)
	return classify(err)
}

func (r *PostgresRepo) ListRecent(ctx context.Context, limit int) ([]Callback, error) {
	const q = `
SELECT callback_id, customer_id, phone_number, scheduled_time, reason, status, created_at, updated_at
FROM callbacks
ORDER BY created_at DESC
LIMIT $1
`
	rows, err := r.db.QueryContext(ctx, q, clampLimit(limit))
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := make([]Callback, 0)
	for rows.Next() {
		var cb Callback
		if err := rows.Scan(
			&cb.CallbackID,
			&cb.CustomerID,
			&cb.PhoneNumber,
			&cb.ScheduledTime,
			&cb.Reason,
			&cb.Status,
			&cb.CreatedAt,
			&cb.UpdatedAt,
		); err != nil {
			return nil, classify(err)
		}
		out = append(out, cb)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAlreadyExists
	}
	if calls.IsConnectivityError(err) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}
