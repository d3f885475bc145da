package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"voice-orchestrator/internal/audit"
	"voice-orchestrator/internal/callbacks"
	"voice-orchestrator/internal/calls"
	"voice-orchestrator/internal/initiation"
	"voice-orchestrator/internal/lifecycle"
	"voice-orchestrator/internal/payments"
	"voice-orchestrator/internal/relay"
	"voice-orchestrator/internal/reporting"
	"voice-orchestrator/internal/retell"
	"voice-orchestrator/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Lifecycle  *lifecycle.Handler
	Relay      *relay.Client
	Initiation *initiation.Service
	Callbacks  *callbacks.Service
	Calls      calls.Repository
	Payments   payments.Verifier
	Reports    *reporting.Service
	// Audit is optional.
	Audit *audit.Service

	// Clock defaults to time.Now.
	Clock func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Clock != nil {
		return h.Clock().UTC()
	}
	return time.Now().UTC()
}

func notConfigured(c *gin.Context, what string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": what + " not configured"})
}

// --- Webhook ---

// RetellWebhook applies a lifecycle event to the call store and relays the
// untouched body downstream.
func (h Handlers) RetellWebhook(c *gin.Context) {
	if h.Lifecycle == nil {
		notConfigured(c, "webhook handler")
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "could not read request body"})
		return
	}
	ev, err := lifecycle.Parse(body)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid webhook payload"})
		return
	}

	ctx := c.Request.Context()
	handleErr := h.Lifecycle.Handle(ctx, ev)
	h.Relay.ForwardAsync(ctx, relay.PathRetell, json.RawMessage(body))

	if handleErr != nil {
		logger.FromGin(c).Error("webhook processing failed", "event", ev.Name, "call_id", ev.CallID, "error", handleErr)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to process webhook"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Webhook processed"})
}

// --- Calls ---

func (h Handlers) CreateCall(c *gin.Context) {
	if h.Initiation == nil {
		notConfigured(c, "call initiation")
		return
	}
	var req initiation.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid json"})
		return
	}

	res, err := h.Initiation.Initiate(c.Request.Context(), req)
	if err != nil {
		writeInitiationError(c, err)
		return
	}

	h.Audit.Record(c.Request.Context(), audit.Event{
		Type:      audit.EventCallInitiated,
		IPAddress: c.ClientIP(),
		CallID:    res.CallID,
		Message:   res.Warning,
	})

	out := gin.H{
		"success": true,
		"call_id": res.CallID,
		"message": "Call initiated successfully",
	}
	if len(res.ProviderData) > 0 {
		out["retell_data"] = res.ProviderData
	}
	if res.Warning != "" {
		out["warning"] = res.Warning
	}
	c.JSON(http.StatusOK, out)
}

type testCallRequest struct {
	PhoneNumber string `json:"phone_number"`
}

func (h Handlers) CreateTestCall(c *gin.Context) {
	if h.Initiation == nil {
		notConfigured(c, "call initiation")
		return
	}
	var req testCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid json"})
		return
	}

	res, err := h.Initiation.CreateTestCall(c.Request.Context(), req.PhoneNumber)
	if err != nil {
		writeInitiationError(c, err)
		return
	}
	h.Audit.Record(c.Request.Context(), audit.Event{
		Type:      audit.EventTestCallCreated,
		IPAddress: c.ClientIP(),
		CallID:    res.CallID,
		Message:   res.Warning,
	})

	out := gin.H{
		"success": true,
		"call_id": res.CallID,
		"message": "Test call initiated and saved to database",
	}
	if res.Warning != "" {
		out["message"] = "Test call initiated (not saved)"
		out["warning"] = res.Warning
	}
	c.JSON(http.StatusOK, out)
}

func writeInitiationError(c *gin.Context, err error) {
	var (
		persistErr  *initiation.PersistError
		providerErr *retell.ProviderError
	)
	switch {
	case errors.Is(err, initiation.ErrPhoneRequired):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "Phone number is required"})
	case errors.Is(err, initiation.ErrCallInFlight):
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"success": false, "error": "A call to this number is already being placed"})
	case errors.Is(err, retell.ErrNotConfigured):
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Retell.ai API key or Agent ID not configured"})
	case errors.As(err, &persistErr):
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Call placed but could not be saved",
			"call_id": persistErr.CallID,
		})
	case errors.As(err, &providerErr):
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to create call",
			"details": providerErr.Detail(),
		})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to create call",
			"details": err.Error(),
		})
	}
}

func (h Handlers) ListCalls(c *gin.Context) {
	if h.Calls == nil {
		notConfigured(c, "call store")
		return
	}
	rows, err := h.Calls.ListRecent(c.Request.Context(), queryLimit(c, calls.MaxListLimit))
	if err != nil {
		logger.FromGin(c).Error("list calls failed", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to fetch calls"})
		return
	}
	if rows == nil {
		rows = []calls.Call{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "calls": rows})
}

func (h Handlers) GetCall(c *gin.Context) {
	if h.Calls == nil {
		notConfigured(c, "call store")
		return
	}
	call, err := h.Calls.Get(c.Request.Context(), c.Param("callId"))
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"success": false, "error": "Call not found"})
			return
		}
		logger.FromGin(c).Error("get call failed", "call_id", c.Param("callId"), "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to fetch call"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "call": call})
}

// --- Payments ---

type checkPaymentRelay struct {
	CustomerID  string    `json:"customer_id"`
	PhoneNumber string    `json:"phone_number"`
	Amount      float64   `json:"amount"`
	Timestamp   time.Time `json:"timestamp"`
}

func (h Handlers) CheckPayment(c *gin.Context) {
	if h.Payments == nil {
		notConfigured(c, "payment verifier")
		return
	}
	body, ok := bindData(c)
	if !ok {
		return
	}
	p := body.PaymentParams()
	ctx := c.Request.Context()
	h.Relay.ForwardAsync(ctx, relay.PathCheckPayment, checkPaymentRelay{
		CustomerID:  p.CustomerID,
		PhoneNumber: p.PhoneNumber,
		Amount:      p.Amount,
		Timestamp:   h.now(),
	})

	res, err := h.Payments.Verify(ctx, p)
	if err != nil {
		logger.FromGin(c).Error("payment check failed", "customer_id", p.CustomerID, "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to check payment"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"payment_status": res.Status,
		"amount":         res.Amount,
		"payment_date":   res.PaymentDate,
	})
}

// --- Callbacks ---

func (h Handlers) ScheduleCallback(c *gin.Context) {
	if h.Callbacks == nil {
		notConfigured(c, "callback scheduling")
		return
	}
	body, ok := bindData(c)
	if !ok {
		return
	}
	req := callbacks.ScheduleRequest{
		CustomerID:   body.Text("customer_id"),
		PhoneNumber:  body.Text("phone_number"),
		CallbackTime: body.Text("callback_time"),
		Reason:       body.Text("reason"),
	}

	cb, err := h.Callbacks.Schedule(c.Request.Context(), req)
	switch {
	case errors.Is(err, callbacks.ErrMissingFields):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "Missing required fields: customer_id, phone_number, callback_time"})
		return
	case errors.Is(err, callbacks.ErrInvalidTime):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "callback_time must be an ISO 8601 timestamp"})
		return
	case err != nil:
		logger.FromGin(c).Error("schedule callback failed", "customer_id", req.CustomerID, "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to schedule callback"})
		return
	}

	h.Audit.Record(c.Request.Context(), audit.Event{
		Type:       audit.EventCallbackScheduled,
		IPAddress:  c.ClientIP(),
		CallbackID: cb.CallbackID,
	})

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"callback_id":    cb.CallbackID,
		"scheduled_time": cb.ScheduledTime,
		"message":        "Callback scheduled successfully",
	})
}

func (h Handlers) ListCallbacks(c *gin.Context) {
	if h.Callbacks == nil {
		notConfigured(c, "callback scheduling")
		return
	}
	rows, err := h.Callbacks.ListRecent(c.Request.Context(), queryLimit(c, callbacks.MaxListLimit))
	if err != nil {
		logger.FromGin(c).Error("list callbacks failed", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to fetch callbacks"})
		return
	}
	if rows == nil {
		rows = []callbacks.Callback{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "callbacks": rows})
}

// --- Relay ---

// TriggerN8N sends a manual test event to the automation endpoint and returns its answer.
func (h Handlers) TriggerN8N(c *gin.Context) {
	if !h.Relay.Enabled() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "n8n webhook URL not configured"})
		return
	}
	payload := map[string]any{}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid json"})
			return
		}
	}
	if _, ok := payload["action"]; !ok {
		payload["action"] = "test"
	}
	if _, ok := payload["timestamp"]; !ok {
		payload["timestamp"] = h.now().Format(time.RFC3339Nano)
	}

	resp, err := h.Relay.Trigger(c.Request.Context(), payload)
	if err != nil {
		logger.FromGin(c).Error("n8n trigger failed", "error", err)
		details := err.Error()
		var se *relay.StatusError
		if errors.As(err, &se) && se.Body != "" {
			details = se.Body
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to trigger n8n webhook",
			"details": details,
		})
		return
	}
	meta, _ := json.Marshal(payload)
	h.Audit.Record(c.Request.Context(), audit.Event{
		Type:      audit.EventRelayTriggered,
		IPAddress: c.ClientIP(),
		Metadata:  meta,
	})

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"message":  "n8n webhook triggered successfully",
		"response": resp,
	})
}

// --- Reports ---

func (h Handlers) CallsReport(c *gin.Context) {
	if h.Reports == nil {
		notConfigured(c, "reporting")
		return
	}
	out, err := h.Reports.CallsSummary(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Error("calls report failed", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to build report"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "report": out})
}

func (h Handlers) SummaryReport(c *gin.Context) {
	if h.Reports == nil {
		notConfigured(c, "reporting")
		return
	}
	out, err := h.Reports.Summary(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Error("summary report failed", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to build report"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "report": out})
}

// --- Audit ---

func (h Handlers) ListAudit(c *gin.Context) {
	if h.Audit == nil {
		notConfigured(c, "audit log")
		return
	}
	rows, err := h.Audit.ListRecent(c.Request.Context(), queryLimit(c, audit.MaxListLimit))
	if err != nil {
		logger.FromGin(c).Error("list audit failed", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to fetch audit events"})
		return
	}
	if rows == nil {
		rows = []audit.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "events": rows})
}

// --- Health ---

func (h Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": h.now().Format(time.RFC3339Nano)})
}

// bindData decodes a JSON object body for lenient field access. An empty
// body reads as no fields.
func bindData(c *gin.Context) (lifecycle.Data, bool) {
	body := lifecycle.Data{}
	if c.Request.ContentLength == 0 {
		return body, true
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid json"})
		return nil, false
	}
	if body == nil {
		body = lifecycle.Data{}
	}
	return body, true
}

// queryLimit reads ?limit=, falling back to def. Stores clamp the value.
func queryLimit(c *gin.Context, def int) int {
	v := c.Query("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
