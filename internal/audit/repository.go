package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Repository is the persistence contract for audit events.
// It is append-only: there are no Update or Delete methods.
type Repository interface {
	Append(ctx context.Context, e Event) error
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

// MemoryRepo keeps events in process. Used in tests and when Postgres is down.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.Metadata = append(json.RawMessage(nil), e.Metadata...)
	r.events = append(r.events, e)
	return nil
}

func (r *MemoryRepo) ListRecent(ctx context.Context, limit int) ([]Event, error) {
	r.mu.Lock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	r.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if n := clampLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (r *MemoryRepo) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// SchemaStatements creates the insert-only audit table.
var SchemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS audit_events (
		id            TEXT PRIMARY KEY,
		type          TEXT NOT NULL,
		actor_user_id TEXT NOT NULL DEFAULT '',
		actor_role    TEXT NOT NULL DEFAULT '',
		ip_address    TEXT NOT NULL DEFAULT '',
		call_id       TEXT NOT NULL DEFAULT '',
		callback_id   TEXT NOT NULL DEFAULT '',
		message       TEXT NOT NULL DEFAULT '',
		metadata      JSONB,
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS audit_events_created_at_idx ON audit_events (created_at DESC)`,
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	var meta any
	if len(e.Metadata) > 0 {
		meta = string(e.Metadata)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, type, actor_user_id, actor_role, ip_address, call_id, callback_id, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, string(e.Type), e.ActorUserID, e.ActorRole, e.IPAddress, e.CallID, e.CallbackID, e.Message, meta, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: append %s: %w", e.ID, err)
	}
	return nil
}

func (r *PostgresRepo) ListRecent(ctx context.Context, limit int) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, type, actor_user_id, actor_role, ip_address, call_id, callback_id, message, metadata, created_at
		FROM audit_events ORDER BY created_at DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e    Event
			typ  string
			meta sql.NullString
		)
		if err := rows.Scan(&e.ID, &typ, &e.ActorUserID, &e.ActorRole, &e.IPAddress, &e.CallID, &e.CallbackID, &e.Message, &meta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		e.Type = EventType(typ)
		if meta.Valid {
			e.Metadata = json.RawMessage(meta.String)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
