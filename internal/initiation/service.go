package initiation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"voice-orchestrator/internal/calls"
	"voice-orchestrator/internal/retell"
	"voice-orchestrator/pkg/logger"
	"voice-orchestrator/pkg/metrics"
)

var (
	ErrPhoneRequired = errors.New("initiation: phone_number is required")
	ErrCallInFlight  = errors.New("initiation: a call to this number is already being placed")
)

// WarningNotPersisted is attached to results that succeeded without a stored record.
// Initiate then returns the provider's call_id; CreateTestCall returns its synthetic test_<ms> id.
const WarningNotPersisted = "Database not available - call not saved"

// testCallIDAttempts bounds the suffixed ids tried when test calls share a millisecond.
const testCallIDAttempts = 5

// TestCallGreeting is the agent line recorded on synthetic test calls.
const TestCallGreeting = "नमस्ते! मैं Rapid Capital का AI एजेंट हूं।"

// PersistError reports a call the provider placed but the store refused.
type PersistError struct {
	CallID string
	Err    error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("initiation: call %s placed but not saved: %v", e.CallID, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// Provider places outbound calls.
type Provider interface {
	CreatePhoneCall(ctx context.Context, req retell.CreatePhoneCallRequest) (retell.CreatePhoneCallResponse, error)
}

type Config struct {
	// DefaultFromNumber is used when a request carries no origination number.
	DefaultFromNumber string
	Policy            calls.PersistencePolicy
}

type Request struct {
	PhoneNumber string `json:"phone_number"`
	CustomerID  string `json:"customer_id"`
	FromNumber  string `json:"from_number"`
}

type Result struct {
	CallID    string
	Persisted bool
	Warning   string
	// ProviderData is the raw provider response; empty for test calls.
	ProviderData json.RawMessage
}

type Service struct {
	provider Provider
	calls    calls.Repository
	guard    Guard
	cfg      Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	clock    func() time.Time
}

// NewService wires the initiation flow. guard may be nil to disable the in-flight cap.
func NewService(provider Provider, repo calls.Repository, guard Guard, cfg Config, log *slog.Logger, m *metrics.Metrics) *Service {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Policy == "" {
		cfg.Policy = calls.PolicyFailOpen
	}
	return &Service{
		provider: provider,
		calls:    repo,
		guard:    guard,
		cfg:      cfg,
		log:      log,
		metrics:  m,
		clock:    time.Now,
	}
}

// Initiate asks the provider for an outbound call and records it as initiated.
//
// Provider failures leave no record. Store failures follow the persistence policy:
// fail_open returns the provider call id with a warning, fail_closed returns a *PersistError.
func (s *Service) Initiate(ctx context.Context, req Request) (Result, error) {
	phone := strings.TrimSpace(req.PhoneNumber)
	if phone == "" {
		return Result{}, ErrPhoneRequired
	}
	from := strings.TrimSpace(req.FromNumber)
	if from == "" {
		from = s.cfg.DefaultFromNumber
	}
	l := logger.FromOr(ctx, s.log).With("to_number", phone)

	if s.guard != nil {
		ok, err := s.guard.Acquire(ctx, phone)
		switch {
		case err != nil:
			// Cap is advisory; a Redis outage must not block calling.
			l.Warn("outbound cap unavailable", "error", err)
		case !ok:
			return Result{}, ErrCallInFlight
		default:
			defer func() {
				if err := s.guard.Release(context.WithoutCancel(ctx), phone); err != nil {
					l.Warn("outbound cap release failed", "error", err)
				}
			}()
		}
	}

	resp, err := s.provider.CreatePhoneCall(ctx, retell.CreatePhoneCallRequest{
		FromNumber: from,
		ToNumber:   phone,
		CustomerID: req.CustomerID,
	})
	if err != nil {
		l.Error("provider call creation failed", "error", err)
		return Result{}, err
	}

	now := s.clock().UTC()
	call := calls.Call{
		CallID:        resp.CallID,
		PhoneNumber:   phone,
		Status:        calls.CallStatusInitiated,
		PaymentStatus: calls.PaymentStatusUnknown,
		Metadata: calls.Metadata{
			CustomerID: req.CustomerID,
			Language:   calls.DefaultLanguage,
			RetryCount: 0,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	res := Result{CallID: resp.CallID, ProviderData: resp.Raw}
	if err := s.calls.Create(ctx, call); err != nil {
		s.metrics.StoreError("create_call")
		if s.cfg.Policy.Tolerates(err) {
			l.Warn("call placed without persistence", "call_id", resp.CallID, "error", err)
			res.Warning = WarningNotPersisted
			return res, nil
		}
		l.Error("call placed but not saved", "call_id", resp.CallID, "error", err)
		return Result{}, &PersistError{CallID: resp.CallID, Err: err}
	}
	res.Persisted = true
	l.Info("outbound call initiated", "call_id", resp.CallID)
	return res, nil
}

// CreateTestCall stores a synthetic completed call without contacting the provider.
func (s *Service) CreateTestCall(ctx context.Context, phoneNumber string) (Result, error) {
	phone := strings.TrimSpace(phoneNumber)
	if phone == "" {
		return Result{}, ErrPhoneRequired
	}
	now := s.clock().UTC()
	base := fmt.Sprintf("test_%d", now.UnixMilli())
	call := calls.Call{
		CallID:          base,
		PhoneNumber:     phone,
		Status:          calls.CallStatusCompleted,
		PaymentStatus:   calls.PaymentStatusPaid,
		DurationSeconds: 120,
		Transcript: []calls.TranscriptEntry{
			{Speaker: "Agent", Message: TestCallGreeting, Timestamp: now},
		},
		Metadata:  calls.Metadata{Language: calls.DefaultLanguage},
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.calls.Create(ctx, call)
	for n := 1; errors.Is(err, calls.ErrAlreadyExists) && n < testCallIDAttempts; n++ {
		call.CallID = fmt.Sprintf("%s_%d", base, n)
		err = s.calls.Create(ctx, call)
	}
	l := logger.FromOr(ctx, s.log).With("call_id", call.CallID)

	res := Result{CallID: call.CallID}
	if err != nil {
		s.metrics.StoreError("create_test_call")
		if s.cfg.Policy.Tolerates(err) {
			l.Warn("test call not saved", "error", err)
			res.Warning = WarningNotPersisted
			return res, nil
		}
		return Result{}, &PersistError{CallID: call.CallID, Err: err}
	}
	res.Persisted = true
	l.Info("test call created")
	return res, nil
}
