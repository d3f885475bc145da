package calls

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// SchemaStatements creates the calls table. Transcript and metadata are JSONB documents.
var SchemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS calls (
  call_id        TEXT PRIMARY KEY,
  phone_number   TEXT NOT NULL,
  status         TEXT NOT NULL DEFAULT 'initiated',
  payment_status TEXT NOT NULL DEFAULT 'unknown',
  duration       INTEGER NOT NULL DEFAULT 0 CHECK (duration >= 0),
  transcript     JSONB NOT NULL DEFAULT '[]'::jsonb,
  metadata       JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at     TIMESTAMPTZ NOT NULL,
  updated_at     TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS calls_created_at_idx ON calls (created_at DESC)`,
}

// PostgresRepo stores calls in Postgres through database/sql (pgx stdlib driver).
type PostgresRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

const callColumns = `call_id, phone_number, status, payment_status, duration, transcript, metadata, created_at, updated_at`

func (r *PostgresRepo) Create(ctx context.Context, c Call) error {
	if c.CallID == "" {
		return ErrInvalidArgument
	}
	c = c.withDefaults(r.clock().UTC())
	transcript, metadata, err := encodeDocuments(c)
	if err != nil {
		return err
	}

	const q = `
INSERT INTO calls (` + callColumns + `)
VALUES ($1,$2,$3,$4,$5,$6::jsonb,$7::jsonb,$8,$9)
`
	_, err = r.db.ExecContext(ctx, q,
		c.CallID,
		c.PhoneNumber,
		c.Status,
		c.PaymentStatus,
		c.DurationSeconds,
		transcript,
		metadata,
		c.CreatedAt,
		c.UpdatedAt,
	)
	return classify(err)
}

func (r *PostgresRepo) UpsertStarted(ctx context.Context, c Call) (bool, error) {
	if c.CallID == "" {
		return false, ErrInvalidArgument
	}
	c.Status = CallStatusInProgress
	c = c.withDefaults(r.clock().UTC())
	transcript, metadata, err := encodeDocuments(c)
	if err != nil {
		return false, err
	}

	// xmax = 0 only for the freshly inserted row version.
	const q = `
INSERT INTO calls (` + callColumns + `)
VALUES ($1,$2,$3,$4,$5,$6::jsonb,$7::jsonb,$8,$9)
ON CONFLICT (call_id)
DO UPDATE SET status = EXCLUDED.status,
              updated_at = EXCLUDED.updated_at
RETURNING (xmax = 0)
`
	var created bool
	err = r.db.QueryRowContext(ctx, q,
		c.CallID,
		c.PhoneNumber,
		c.Status,
		c.PaymentStatus,
		c.DurationSeconds,
		transcript,
		metadata,
		c.CreatedAt,
		c.UpdatedAt,
	).Scan(&created)
	if err != nil {
		return false, classify(err)
	}
	return created, nil
}

func (r *PostgresRepo) MarkEnded(ctx context.Context, callID string, durationSeconds int, at time.Time) (bool, error) {
	if durationSeconds < 0 {
		durationSeconds = 0
	}
	const q = `
UPDATE calls SET status = $2, duration = $3, updated_at = $4
WHERE call_id = $1
`
	return r.exec(ctx, q, callID, CallStatusCompleted, durationSeconds, at)
}

func (r *PostgresRepo) AppendTranscript(ctx context.Context, callID string, e TranscriptEntry, at time.Time) (bool, error) {
	doc, err := json.Marshal([]TranscriptEntry{e})
	if err != nil {
		return false, fmt.Errorf("calls: encode transcript entry: %w", err)
	}
	// jsonb array concatenation keeps prior entries in place.
	const q = `
UPDATE calls SET transcript = transcript || $2::jsonb, updated_at = $3
WHERE call_id = $1
`
	return r.exec(ctx, q, callID, string(doc), at)
}

func (r *PostgresRepo) SetPaymentStatus(ctx context.Context, callID string, s PaymentStatus, at time.Time) (bool, error) {
	const q = `
UPDATE calls SET payment_status = $2, updated_at = $3
WHERE call_id = $1
`
	return r.exec(ctx, q, callID, s, at)
}

func (r *PostgresRepo) Get(ctx context.Context, callID string) (Call, error) {
	const q = `SELECT ` + callColumns + ` FROM calls WHERE call_id = $1`
	c, err := scanCall(r.db.QueryRowContext(ctx, q, callID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, classify(err)
	}
	return c, nil
}

func (r *PostgresRepo) ListRecent(ctx context.Context, limit int) ([]Call, error) {
	const q = `SELECT ` + callColumns + ` FROM calls ORDER BY created_at DESC LIMIT $1`
	rows, err := r.db.QueryContext(ctx, q, clampLimit(limit))
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := make([]Call, 0)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (r *PostgresRepo) exec(ctx context.Context, q string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (Call, error) {
	var (
		c          Call
		transcript []byte
		metadata   []byte
	)
	if err := row.Scan(
		&c.CallID,
		&c.PhoneNumber,
		&c.Status,
		&c.PaymentStatus,
		&c.DurationSeconds,
		&transcript,
		&metadata,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return Call{}, err
	}
	if len(transcript) > 0 {
		if err := json.Unmarshal(transcript, &c.Transcript); err != nil {
			return Call{}, fmt.Errorf("calls: decode transcript for %s: %w", c.CallID, err)
		}
	}
	if c.Transcript == nil {
		c.Transcript = []TranscriptEntry{}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return Call{}, fmt.Errorf("calls: decode metadata for %s: %w", c.CallID, err)
		}
	}
	return c, nil
}

func encodeDocuments(c Call) (string, string, error) {
	transcript, err := json.Marshal(c.Transcript)
	if err != nil {
		return "", "", fmt.Errorf("calls: encode transcript: %w", err)
	}
	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return "", "", fmt.Errorf("calls: encode metadata: %w", err)
	}
	return string(transcript), string(metadata), nil
}

const pgUniqueViolation = "23505"

// classify maps driver errors onto the package sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrAlreadyExists
	}
	if IsConnectivityError(err) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}

// IsConnectivityError reports whether err means the database could not be reached.
func IsConnectivityError(err error) bool {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
