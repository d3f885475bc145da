package reporting

import (
	"context"
	"errors"
	"time"

	"voice-orchestrator/internal/callbacks"
	"voice-orchestrator/internal/calls"
)

var ErrNotConfigured = errors.New("reporting: repository not configured")

// Service computes dashboard aggregates from the record stores.
// Aggregates only cover the newest records the stores will list.
type Service struct {
	calls     calls.Repository
	callbacks callbacks.Repository
	clock     func() time.Time
}

func NewService(callRepo calls.Repository, callbackRepo callbacks.Repository) *Service {
	return &Service{calls: callRepo, callbacks: callbackRepo, clock: time.Now}
}

func (s *Service) CallsSummary(ctx context.Context) (CallsSummary, error) {
	if s.calls == nil {
		return CallsSummary{}, ErrNotConfigured
	}
	rows, err := s.calls.ListRecent(ctx, calls.MaxListLimit)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{WindowSize: calls.MaxListLimit}
	for _, c := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += c.DurationSeconds
		out.TranscriptEntries += len(c.Transcript)

		if out.From.IsZero() || c.CreatedAt.Before(out.From) {
			out.From = c.CreatedAt
		}
		if c.CreatedAt.After(out.To) {
			out.To = c.CreatedAt
		}

		switch c.Status {
		case calls.CallStatusInitiated:
			out.InitiatedCalls++
		case calls.CallStatusRinging:
			out.RingingCalls++
		case calls.CallStatusInProgress:
			out.InProgressCalls++
		case calls.CallStatusCompleted:
			out.CompletedCalls++
		case calls.CallStatusFailed:
			out.FailedCalls++
		}

		switch c.PaymentStatus {
		case calls.PaymentStatusPaid:
			out.PaidCalls++
		case calls.PaymentStatusUnpaid:
			out.UnpaidCalls++
		case calls.PaymentStatusPending:
			out.PendingPaymentCalls++
		default:
			out.UnknownPaymentCalls++
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
	}
	if verified := out.PaidCalls + out.UnpaidCalls; verified > 0 {
		out.PaymentRate = float64(out.PaidCalls) / float64(verified)
	}
	return out, nil
}

func (s *Service) CallbacksSummary(ctx context.Context) (CallbacksSummary, error) {
	if s.callbacks == nil {
		return CallbacksSummary{}, ErrNotConfigured
	}
	rows, err := s.callbacks.ListRecent(ctx, callbacks.MaxListLimit)
	if err != nil {
		return CallbacksSummary{}, err
	}

	now := s.clock()
	out := CallbacksSummary{}
	for _, cb := range rows {
		out.TotalCallbacks++
		switch cb.Status {
		case callbacks.StatusScheduled:
			out.Scheduled++
			if cb.ScheduledTime.After(now) {
				out.Upcoming++
			}
		case callbacks.StatusCompleted:
			out.Completed++
		case callbacks.StatusCancelled:
			out.Cancelled++
		case callbacks.StatusMissed:
			out.Missed++
		}
	}
	return out, nil
}

// Summary combines both aggregates for the dashboard overview.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	c, err := s.CallsSummary(ctx)
	if err != nil {
		return Summary{}, err
	}
	cb, err := s.CallbacksSummary(ctx)
	if err != nil {
		return Summary{}, err
	}
	return Summary{Calls: c, Callbacks: cb}, nil
}
