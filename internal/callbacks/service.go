package callbacks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"voice-orchestrator/pkg/logger"
)

var (
	ErrMissingFields = errors.New("callbacks: customer_id, phone_number and callback_time are required")
	ErrInvalidTime   = errors.New("callbacks: callback_time is not a valid timestamp")
)

// RelayPath is where scheduled callbacks are forwarded downstream.
const RelayPath = "schedule_callback"

// Notifier forwards an event downstream without blocking the caller.
type Notifier interface {
	ForwardAsync(ctx context.Context, path string, body any)
}

type ScheduleRequest struct {
	CustomerID   string
	PhoneNumber  string
	CallbackTime string
	Reason       string
}

// relayPayload is the downstream view of a scheduled callback.
type relayPayload struct {
	CallbackID    string    `json:"callback_id"`
	CustomerID    string    `json:"customer_id"`
	PhoneNumber   string    `json:"phone_number"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Reason        string    `json:"reason"`
}

var acceptedTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

// ParseCallbackTime accepts RFC 3339 and the zone-less layouts a browser
// datetime-local input produces. Zone-less values are read as UTC.
func ParseCallbackTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range acceptedTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, ErrInvalidTime
}

type Service struct {
	repo     Repository
	notifier Notifier
	log      *slog.Logger
	clock    func() time.Time
}

func NewService(repo Repository, notifier Notifier, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, notifier: notifier, log: log, clock: time.Now}
}

// Schedule validates req, stores a scheduled callback and relays it downstream.
// Nothing is stored when validation fails.
func (s *Service) Schedule(ctx context.Context, req ScheduleRequest) (Callback, error) {
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	if req.CustomerID == "" || req.PhoneNumber == "" || strings.TrimSpace(req.CallbackTime) == "" {
		return Callback{}, ErrMissingFields
	}
	at, err := ParseCallbackTime(req.CallbackTime)
	if err != nil {
		return Callback{}, err
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = DefaultReason
	}

	now := s.clock().UTC()
	cb := Callback{
		CallbackID:    fmt.Sprintf("cb_%d", now.UnixMilli()),
		CustomerID:    req.CustomerID,
		PhoneNumber:   req.PhoneNumber,
		ScheduledTime: at,
		Reason:        reason,
		Status:        StatusScheduled,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Create(ctx, cb); err != nil {
		return Callback{}, fmt.Errorf("callbacks: create %s: %w", cb.CallbackID, err)
	}
	logger.FromOr(ctx, s.log).Info("callback scheduled",
		"callback_id", cb.CallbackID,
		"customer_id", cb.CustomerID,
		"scheduled_time", cb.ScheduledTime,
	)

	if s.notifier != nil {
		s.notifier.ForwardAsync(ctx, RelayPath, relayPayload{
			CallbackID:    cb.CallbackID,
			CustomerID:    cb.CustomerID,
			PhoneNumber:   cb.PhoneNumber,
			ScheduledTime: cb.ScheduledTime,
			Reason:        cb.Reason,
		})
	}
	return cb, nil
}

// ListRecent returns the newest callbacks first.
func (s *Service) ListRecent(ctx context.Context, limit int) ([]Callback, error) {
	return s.repo.ListRecent(ctx, limit)
}
