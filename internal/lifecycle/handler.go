package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"voice-orchestrator/internal/calls"
	"voice-orchestrator/internal/payments"
	"voice-orchestrator/pkg/logger"
	"voice-orchestrator/pkg/metrics"
)

const (
	DefaultSpeaker   = "Unknown"
	DefaultDirection = "inbound"

	FunctionCheckPayment     = "check_payment"
	FunctionScheduleCallback = "schedule_callback"
)

var ErrNotConfigured = errors.New("lifecycle: call repository not configured")

// Handler maps provider lifecycle events onto call record mutations.
//
// Store failures are logged and counted, never returned: the event source
// only learns about programmer faults.
type Handler struct {
	calls    calls.Repository
	verifier payments.Verifier
	log      *slog.Logger
	metrics  *metrics.Metrics
	clock    func() time.Time
}

func NewHandler(repo calls.Repository, verifier payments.Verifier, log *slog.Logger, m *metrics.Metrics) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{calls: repo, verifier: verifier, log: log, metrics: m, clock: time.Now}
}

func (h *Handler) Handle(ctx context.Context, ev Event) error {
	if h == nil || h.calls == nil {
		return ErrNotConfigured
	}
	l := logger.FromOr(ctx, h.log).With("event", ev.Name, "call_id", ev.CallID)
	h.metrics.WebhookEvent(ev.Kind.String())

	switch ev.Kind {
	case KindCallStarted:
		h.callStarted(ctx, l, ev)
	case KindCallEnded:
		h.callEnded(ctx, l, ev)
	case KindConversationUpdate:
		h.conversationUpdate(ctx, l, ev)
	case KindFunctionCall:
		h.functionCall(ctx, l, ev)
	case KindUnknown:
		l.Info("unhandled lifecycle event")
	}
	return nil
}

func (h *Handler) callStarted(ctx context.Context, l *slog.Logger, ev Event) {
	now := h.clock().UTC()
	c := calls.Call{
		CallID:      ev.CallID,
		PhoneNumber: ev.Data.TextOr(calls.UnknownPhoneNumber, "phone_number", "from_number"),
		Status:      calls.CallStatusInProgress,
		Metadata: calls.Metadata{
			CustomerID: ev.Data.Text("customer_id"),
			Language:   ev.Data.TextOr(calls.DefaultLanguage, "language"),
			Direction:  ev.Data.TextOr(DefaultDirection, "direction"),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	created, err := h.calls.UpsertStarted(ctx, c)
	if err != nil {
		h.storeFailed(l, "upsert_started", err)
		return
	}
	l.Info("call started", "created", created)
}

func (h *Handler) callEnded(ctx context.Context, l *slog.Logger, ev Event) {
	duration := ev.Data.DurationSeconds()
	found, err := h.calls.MarkEnded(ctx, ev.CallID, duration, h.clock().UTC())
	if err != nil {
		h.storeFailed(l, "mark_ended", err)
		return
	}
	if !found {
		l.Info("call ended for unknown call")
		return
	}
	l.Info("call ended", "duration", duration)
}

func (h *Handler) conversationUpdate(ctx context.Context, l *slog.Logger, ev Event) {
	message := ev.Data.Text("transcript")
	if message == "" {
		return
	}
	now := h.clock().UTC()
	entry := calls.TranscriptEntry{
		Speaker:   ev.Data.TextOr(DefaultSpeaker, "speaker"),
		Message:   message,
		Timestamp: now,
	}
	found, err := h.calls.AppendTranscript(ctx, ev.CallID, entry, now)
	if err != nil {
		h.storeFailed(l, "append_transcript", err)
		return
	}
	if !found {
		l.Info("transcript for unknown call dropped")
	}
}

func (h *Handler) functionCall(ctx context.Context, l *slog.Logger, ev Event) {
	name := ev.Data.Text("function_name")
	params := ev.Data.Object("parameters")
	l = l.With("function_name", name)

	switch name {
	case FunctionCheckPayment:
		h.checkPayment(ctx, l, ev.CallID, params)
	case FunctionScheduleCallback:
		// Callback records are created through the scheduling endpoint.
		l.Info("callback scheduling requested", "parameters", map[string]any(params))
	default:
		l.Info("unhandled function call")
	}
}

func (h *Handler) checkPayment(ctx context.Context, l *slog.Logger, callID string, params Data) {
	if h.verifier == nil {
		l.Warn("payment verifier not configured")
		return
	}
	res, err := h.verifier.Verify(ctx, params.PaymentParams())
	if err != nil {
		l.Error("payment verification failed", "error", err)
		return
	}
	found, err := h.calls.SetPaymentStatus(ctx, callID, res.Status, h.clock().UTC())
	if err != nil {
		h.storeFailed(l, "set_payment_status", err)
		return
	}
	l.Info("payment status recorded", "payment_status", res.Status, "found", found)
}

func (h *Handler) storeFailed(l *slog.Logger, op string, err error) {
	h.metrics.StoreError(op)
	l.Error("call store write failed", "op", op, "error", err)
}
