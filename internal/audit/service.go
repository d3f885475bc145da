package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"voice-orchestrator/internal/auth"
	"voice-orchestrator/pkg/logger"

	"github.com/google/uuid"
)

var (
	ErrInvalidEvent  = errors.New("audit: invalid event")
	ErrNotConfigured = errors.New("audit: repository not configured")
)

// Service records actions taken through the API.
// Callers treat auditing as best-effort.
type Service struct {
	repo  Repository
	log   *slog.Logger
	clock func() time.Time
}

func NewService(repo Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, log: log, clock: time.Now}
}

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return ErrNotConfigured
	}
	if !e.Type.Valid() {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// Record appends e with the caller identity taken from ctx, logging failures
// instead of returning them. Safe on a nil Service.
func (s *Service) Record(ctx context.Context, e Event) {
	if s == nil {
		return
	}
	if e.ActorUserID == "" {
		e.ActorUserID, _ = auth.UserID(ctx)
	}
	if e.ActorRole == "" {
		e.ActorRole, _ = auth.Role(ctx)
	}
	if err := s.Append(ctx, e); err != nil {
		logger.FromOr(ctx, s.log).Warn("audit append failed", "type", e.Type, "error", err)
	}
}

func (s *Service) ListRecent(ctx context.Context, limit int) ([]Event, error) {
	if s.repo == nil {
		return nil, ErrNotConfigured
	}
	return s.repo.ListRecent(ctx, limit)
}
