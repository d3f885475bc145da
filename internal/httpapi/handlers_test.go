package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"voice-orchestrator/internal/audit"
	"voice-orchestrator/internal/auth"
	"voice-orchestrator/internal/callbacks"
	"voice-orchestrator/internal/calls"
	"voice-orchestrator/internal/config"
	"voice-orchestrator/internal/initiation"
	"voice-orchestrator/internal/lifecycle"
	"voice-orchestrator/internal/payments"
	"voice-orchestrator/internal/relay"
	"voice-orchestrator/internal/reporting"
	"voice-orchestrator/internal/retell"
	"voice-orchestrator/pkg/logger"
	"voice-orchestrator/pkg/metrics"
	"voice-orchestrator/pkg/ratelimit"

	"github.com/gin-gonic/gin"
)

type sink struct {
	mu    sync.Mutex
	paths []string
	body  map[string][]byte
	reply string
}

func newSink(t *testing.T, reply string) (*sink, *httptest.Server) {
	t.Helper()
	s := &sink{body: map[string][]byte{}, reply: reply}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.paths = append(s.paths, r.URL.Path)
		s.body[r.URL.Path] = b
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(s.reply))
	}))
	t.Cleanup(srv.Close)
	return s, srv
}

func (s *sink) get(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.body[path]
	return b, ok
}

type fixture struct {
	calls     *calls.MemoryRepo
	callbacks *callbacks.MemoryRepo
	audit     *audit.MemoryRepo
	relay     *relay.Client
	handlers  Handlers
}

func newFixture(t *testing.T, retellCfg retell.Config, relayURL string) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.Discard()
	m := metrics.New()
	callRepo := calls.NewMemoryRepo()
	cbRepo := callbacks.NewMemoryRepo()
	rl := relay.New(relay.Config{BaseURL: relayURL, Timeout: 2 * time.Second}, log, m)
	verifier := payments.StaticVerifier{Status: calls.PaymentStatusPaid}
	auditRepo := audit.NewMemoryRepo()

	return &fixture{
		calls:     callRepo,
		callbacks: cbRepo,
		audit:     auditRepo,
		relay:     rl,
		handlers: Handlers{
			Lifecycle:  lifecycle.NewHandler(callRepo, verifier, log, m),
			Relay:      rl,
			Initiation: initiation.NewService(retell.NewClient(retellCfg, m), callRepo, nil, initiation.Config{DefaultFromNumber: "+10000000000"}, log, m),
			Callbacks:  callbacks.NewService(cbRepo, rl, log),
			Calls:      callRepo,
			Payments:   verifier,
			Reports:    reporting.NewService(callRepo, cbRepo),
			Audit:      audit.NewService(auditRepo, log),
			Clock:      func() time.Time { return time.Unix(1700000000, 0) },
		},
	}
}

func (f *fixture) router(opts RouteOptions) *gin.Engine {
	if opts.Log == nil {
		opts.Log = logger.Discard()
	}
	return NewRouter(f.handlers, opts)
}

func do(r http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestRetellWebhook_StartedThenEnded(t *testing.T) {
	f := newFixture(t, retell.Config{}, "")
	r := f.router(RouteOptions{})

	w := do(r, http.MethodPost, "/api/retell", `{"event":"call_started","call_id":"c1","data":{"phone_number":"+919876543210"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("started: expected 200, got %d %s", w.Code, w.Body.String())
	}
	w = do(r, http.MethodPost, "/api/retell", `{"event":"call_ended","call_id":"c1","data":{"duration":42}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("ended: expected 200, got %d", w.Code)
	}
	out := decode(t, w)
	if out["success"] != true || out["message"] != "Webhook processed" {
		t.Fatalf("unexpected body %v", out)
	}

	c, err := f.calls.Get(context.Background(), "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.Status != calls.CallStatusCompleted || c.DurationSeconds != 42 {
		t.Fatalf("expected completed/42, got %s/%d", c.Status, c.DurationSeconds)
	}
}

func TestRetellWebhook_InvalidJSON(t *testing.T) {
	f := newFixture(t, retell.Config{}, "")
	w := do(f.router(RouteOptions{}), http.MethodPost, "/api/retell", `{"event":`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if f.calls.Len() != 0 {
		t.Fatalf("expected no records")
	}
}

func TestRetellWebhook_RelaysRawBody(t *testing.T) {
	s, srv := newSink(t, `{}`)
	f := newFixture(t, retell.Config{}, srv.URL+"/webhook")
	body := `{"event":"conversation_update","call_id":"c9","data":{"speaker":"User","message":"haan"},"extra":[1,2]}`

	w := do(f.router(RouteOptions{}), http.MethodPost, "/api/retell", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.relay.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	got, ok := s.get("/webhook/retell")
	if !ok || !bytes.Equal(got, []byte(body)) {
		t.Fatalf("expected raw body relayed, got %q", got)
	}
}

func TestRetellWebhook_OddShapesAcceptedAndRelayed(t *testing.T) {
	s, srv := newSink(t, `{}`)
	f := newFixture(t, retell.Config{}, srv.URL+"/webhook")
	r := f.router(RouteOptions{})

	for _, body := range []string{
		`{"event":"call_started","call_id":"c1","data":"x"}`,
		`{"event":"call_started","call_id":"c2","data":[1,2]}`,
		`{"event":"call_ended","call_id":42}`,
		`{"event":7,"call_id":"c3"}`,
		`[]`,
	} {
		w := do(r, http.MethodPost, "/api/retell", body)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d %s", body, w.Code, w.Body.String())
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := f.relay.Wait(ctx)
		cancel()
		if err != nil {
			t.Fatalf("wait: %v", err)
		}
		got, ok := s.get("/webhook/retell")
		if !ok || !bytes.Equal(got, []byte(body)) {
			t.Fatalf("%s: expected body relayed, got %q", body, got)
		}
	}

	c, err := f.calls.Get(context.Background(), "c1")
	if err != nil || c.Status != calls.CallStatusInProgress {
		t.Fatalf("expected c1 started despite string data, got %+v %v", c, err)
	}
}

func TestCreateCall_WithoutCredentials(t *testing.T) {
	f := newFixture(t, retell.Config{}, "")
	w := do(f.router(RouteOptions{}), http.MethodPost, "/api/calls/create", `{"phone_number":"+919876543210"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	out := decode(t, w)
	if out["error"] != "Retell.ai API key or Agent ID not configured" {
		t.Fatalf("unexpected error %v", out["error"])
	}
	if f.calls.Len() != 0 {
		t.Fatalf("expected no record")
	}
}

func TestCreateCall_MissingPhone(t *testing.T) {
	f := newFixture(t, retell.Config{}, "")
	w := do(f.router(RouteOptions{}), http.MethodPost, "/api/calls/create", `{"customer_id":"cust"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if decode(t, w)["error"] != "Phone number is required" {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}

func TestCreateCall_Success(t *testing.T) {
	s, srv := newSink(t, `{"call_id":"call_abc","call_status":"registered"}`)
	f := newFixture(t, retell.Config{APIKey: "key", AgentID: "agent", BaseURL: srv.URL}, "")

	w := do(f.router(RouteOptions{}), http.MethodPost, "/api/calls/create", `{"phone_number":"+919876543210","customer_id":"cust"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	if out["call_id"] != "call_abc" || out["message"] != "Call initiated successfully" {
		t.Fatalf("unexpected body %v", out)
	}
	data, ok := out["retell_data"].(map[string]any)
	if !ok || data["call_status"] != "registered" {
		t.Fatalf("expected provider payload, got %v", out["retell_data"])
	}
	if _, ok := out["warning"]; ok {
		t.Fatalf("unexpected warning")
	}
	if _, ok := s.get("/create-phone-call"); !ok {
		t.Fatalf("provider not called")
	}

	c, err := f.calls.Get(context.Background(), "call_abc")
	if err != nil || c.Status != calls.CallStatusInitiated || c.Metadata.CustomerID != "cust" {
		t.Fatalf("expected initiated record, got %+v err=%v", c, err)
	}
}

func TestCreateCall_ProviderErrorDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error_message":"invalid to_number"}`))
	}))
	defer srv.Close()
	f := newFixture(t, retell.Config{APIKey: "key", AgentID: "agent", BaseURL: srv.URL}, "")

	w := do(f.router(RouteOptions{}), http.MethodPost, "/api/calls/create", `{"phone_number":"123"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	out := decode(t, w)
	details, ok := out["details"].(map[string]any)
	if out["error"] != "Failed to create call" || !ok || details["error_message"] != "invalid to_number" {
		t.Fatalf("unexpected body %v", out)
	}
	if f.calls.Len() != 0 {
		t.Fatalf("expected no record")
	}
}

func TestCreateTestCall(t *testing.T) {
	f := newFixture(t, retell.Config{}, "")
	w := do(f.router(RouteOptions{}), http.MethodPost, "/api/calls/test-call", `{"phone_number":"+911"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	out := decode(t, w)
	id, _ := out["call_id"].(string)
	if !strings.HasPrefix(id, "test_") || out["message"] != "Test call initiated and saved to database" {
		t.Fatalf("unexpected body %v", out)
	}
	if c, err := f.calls.Get(context.Background(), id); err != nil || c.DurationSeconds != 120 {
		t.Fatalf("expected stored test call, got %+v err=%v", c, err)
	}
}

func TestCreateTestCall_StoreDownWarns(t *testing.T) {
	f := newFixture(t, retell.Config{}, "")
	f.handlers.Initiation = initiation.NewService(nil, calls.UnavailableRepo{}, nil, initiation.Config{}, logger.Discard(), nil)

	w := do(f.router(RouteOptions{}), http.MethodPost, "/api/calls/test-call", `{"phone_number":"+911"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if decode(t, w)["warning"] != initiation.WarningNotPersisted {
		t.Fatalf("expected warning, got %s", w.Body.String())
	}
}

func TestScheduleCallback_MissingPhone(t *testing.T) {
	f := newFixture(t, retell.Config{}, "")
	w := do(f.router(RouteOptions{}), http.MethodPost, "/api/schedule_callback", `{"customer_id":"cust","callback_time":"2026-01-02T10:00:00Z"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if f.callbacks.Len() != 0 {
		t.Fatalf("expected no record")
	}
}

func TestScheduleCallback_InvalidTime(t *testing.T) {
	f := newFixture(t, retell.Config{}, "")
	w := do(f.router(RouteOptions{}), http.MethodPost, "/api/schedule_callback", `{"customer_id":"cust","phone_number":"+91","callback_time":"tomorrow"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if f.callbacks.Len() != 0 {
		t.Fatalf("expected no record")
	}
}

func TestScheduleCallback_CreatesAndLists(t *testing.T) {
	s, srv := newSink(t, `{}`)
	f := newFixture(t, retell.Config{}, srv.URL+"/webhook")
	r := f.router(RouteOptions{})

	w := do(r, http.MethodPost, "/api/schedule_callback", `{"customer_id":"cust","phone_number":"+91","callback_time":"2026-01-02T10:00"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	if out["scheduled_time"] != "2026-01-02T10:00:00Z" || !strings.HasPrefix(out["callback_id"].(string), "cb_") {
		t.Fatalf("unexpected body %v", out)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = f.relay.Wait(ctx)
	if _, ok := s.get("/webhook/schedule_callback"); !ok {
		t.Fatalf("expected callback relayed")
	}

	w = do(r, http.MethodGet, "/api/callbacks", "")
	list, _ := decode(t, w)["callbacks"].([]any)
	if w.Code != http.StatusOK || len(list) != 1 {
		t.Fatalf("expected one callback, got %d %s", w.Code, w.Body.String())
	}
}

func TestCheckPayment(t *testing.T) {
	s, srv := newSink(t, `{}`)
	f := newFixture(t, retell.Config{}, srv.URL+"/webhook")

	w := do(f.router(RouteOptions{}), http.MethodPost, "/api/check_payment", `{"customer_id":"cust","phone_number":"+91","amount":5000}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	out := decode(t, w)
	if out["payment_status"] != "paid" || out["amount"] != float64(5000) {
		t.Fatalf("unexpected body %v", out)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = f.relay.Wait(ctx)
	raw, ok := s.get("/webhook/check_payment")
	if !ok {
		t.Fatalf("expected payment check relayed")
	}
	var relayed map[string]any
	_ = json.Unmarshal(raw, &relayed)
	if relayed["customer_id"] != "cust" || relayed["timestamp"] == nil {
		t.Fatalf("unexpected relay payload %v", relayed)
	}
}

func TestCheckPayment_StringAmount(t *testing.T) {
	f := newFixture(t, retell.Config{}, "")
	w := do(f.router(RouteOptions{}), http.MethodPost, "/api/check_payment", `{"customer_id":123,"phone_number":"+91","amount":"500"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	if out := decode(t, w); out["amount"] != float64(500) {
		t.Fatalf("expected amount 500, got %v", out)
	}

	w = do(f.router(RouteOptions{}), http.MethodPost, "/api/check_payment", `{"customer_id":"cust","amount":"lots"}`)
	if w.Code != http.StatusOK || decode(t, w)["amount"] != float64(0) {
		t.Fatalf("expected non-numeric amount read as 0, got %d %s", w.Code, w.Body.String())
	}
}

func TestScheduleCallback_NumericCustomerID(t *testing.T) {
	f := newFixture(t, retell.Config{}, "")
	w := do(f.router(RouteOptions{}), http.MethodPost, "/api/schedule_callback", `{"customer_id":123,"phone_number":"+91","callback_time":"2026-01-02T10:00:00Z"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	rows, err := f.callbacks.ListRecent(context.Background(), 10)
	if err != nil || len(rows) != 1 || rows[0].CustomerID != "123" {
		t.Fatalf("expected callback for customer 123, got %+v %v", rows, err)
	}
}

func TestTriggerN8N(t *testing.T) {
	f := newFixture(t, retell.Config{}, "")
	w := do(f.router(RouteOptions{}), http.MethodPost, "/api/trigger-n8n", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 when unconfigured, got %d", w.Code)
	}

	s, srv := newSink(t, `{"ok":true}`)
	f = newFixture(t, retell.Config{}, srv.URL+"/webhook")
	w = do(f.router(RouteOptions{}), http.MethodPost, "/api/trigger-n8n", `{"note":"hi"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	resp, _ := out["response"].(map[string]any)
	if resp["ok"] != true {
		t.Fatalf("expected downstream response, got %v", out)
	}
	raw, _ := s.get("/webhook")
	var sent map[string]any
	_ = json.Unmarshal(raw, &sent)
	if sent["action"] != "test" || sent["note"] != "hi" || sent["timestamp"] == nil {
		t.Fatalf("unexpected trigger payload %v", sent)
	}
}

func TestGetCall_NotFound(t *testing.T) {
	f := newFixture(t, retell.Config{}, "")
	w := do(f.router(RouteOptions{}), http.MethodGet, "/api/calls/nope", "")
	if w.Code != http.StatusNotFound || decode(t, w)["error"] != "Call not found" {
		t.Fatalf("expected 404, got %d %s", w.Code, w.Body.String())
	}
}

func TestListCalls_StoreDown(t *testing.T) {
	f := newFixture(t, retell.Config{}, "")
	f.handlers.Calls = calls.UnavailableRepo{}
	w := do(f.router(RouteOptions{}), http.MethodGet, "/api/calls", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestReports(t *testing.T) {
	f := newFixture(t, retell.Config{}, "")
	_ = f.calls.Create(context.Background(), calls.Call{CallID: "c1", PhoneNumber: "+1", Status: calls.CallStatusCompleted, DurationSeconds: 10})
	w := do(f.router(RouteOptions{}), http.MethodGet, "/api/reports/calls", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	report, _ := decode(t, w)["report"].(map[string]any)
	if report["total_calls"] != float64(1) || report["completed_calls"] != float64(1) {
		t.Fatalf("unexpected report %v", report)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, retell.Config{}, "")
	r := f.router(RouteOptions{})
	for _, p := range []string{"/health", "/healthz"} {
		w := do(r, http.MethodGet, p, "")
		if w.Code != http.StatusOK || decode(t, w)["status"] != "ok" {
			t.Fatalf("%s: unexpected %d %s", p, w.Code, w.Body.String())
		}
	}
}

func TestDashboardRequiresToken(t *testing.T) {
	f := newFixture(t, retell.Config{}, "")
	am, err := auth.NewManager(config.AuthConfig{JWTSecret: "s", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	r := f.router(RouteOptions{Auth: am})

	if w := do(r, http.MethodGet, "/api/calls", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	viewer, _ := am.IssuePair(time.Now(), "u1", "viewer")
	if w := do(r, http.MethodGet, "/api/calls", "", "Authorization", "Bearer "+viewer.AccessToken); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for viewer, got %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/api/trigger-n8n", `{}`, "Authorization", "Bearer "+viewer.AccessToken); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer trigger, got %d", w.Code)
	}

	// Provider-facing routes stay open.
	if w := do(r, http.MethodPost, "/api/retell", `{"event":"call_started","call_id":"c1"}`); w.Code != http.StatusOK {
		t.Fatalf("expected public webhook, got %d", w.Code)
	}
}

func TestPublicRoutesRateLimited(t *testing.T) {
	f := newFixture(t, retell.Config{}, "")
	m := metrics.New()
	r := f.router(RouteOptions{Limiter: ratelimit.New(1, 1, time.Minute), Metrics: m})

	body := `{"event":"call_started","call_id":"c1"}`
	if w := do(r, http.MethodPost, "/api/retell", body); w.Code != http.StatusOK {
		t.Fatalf("expected first request allowed, got %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/api/retell", body); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/api/calls", ""); w.Code != http.StatusOK {
		t.Fatalf("dashboard reads must not be limited, got %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/metrics", ""); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "voice_orchestrator_rate_limited_total") {
		t.Fatalf("expected rate limit metric exposed")
	}
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Recovery(logger.Discard()))
	r.GET("/boom", func(*gin.Context) { panic("boom") })

	w := do(r, http.MethodGet, "/boom", "")
	if w.Code != http.StatusInternalServerError || decode(t, w)["success"] != false {
		t.Fatalf("expected JSON 500, got %d %s", w.Code, w.Body.String())
	}
}

func TestWithCORS_Preflight(t *testing.T) {
	f := newFixture(t, retell.Config{}, "")
	h := WithCORS(f.router(RouteOptions{}), "http://localhost:3000")

	w := do(h, http.MethodOptions, "/api/calls", "",
		"Origin", "http://localhost:3000",
		"Access-Control-Request-Method", http.MethodGet,
	)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("expected origin echoed, got %q", got)
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials allowed")
	}

	w = do(h, http.MethodGet, "/api/calls", "", "Origin", "http://evil.example")
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unexpected origin allowed")
	}
}

func TestAudit_RecordsOperatorActions(t *testing.T) {
	_, srv := newSink(t, `{}`)
	f := newFixture(t, retell.Config{}, srv.URL+"/webhook")
	am, _ := auth.NewManager(config.AuthConfig{JWTSecret: "s", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	r := f.router(RouteOptions{Auth: am})

	op, _ := am.IssuePair(time.Now(), "ops-1", "operator")
	if w := do(r, http.MethodPost, "/api/trigger-n8n", `{}`, "Authorization", "Bearer "+op.AccessToken); w.Code != http.StatusOK {
		t.Fatalf("trigger: expected 200, got %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/api/calls/test-call", `{"phone_number":"+911"}`); w.Code != http.StatusOK {
		t.Fatalf("test call: expected 200, got %d", w.Code)
	}

	evs := f.audit.Events()
	if len(evs) != 2 {
		t.Fatalf("expected 2 audit events, got %d", len(evs))
	}
	if evs[0].Type != audit.EventRelayTriggered || evs[0].ActorUserID != "ops-1" || evs[0].ActorRole != "operator" {
		t.Fatalf("unexpected trigger audit %+v", evs[0])
	}
	if evs[1].Type != audit.EventTestCallCreated || evs[1].CallID == "" || evs[1].ActorUserID != "" {
		t.Fatalf("unexpected test call audit %+v", evs[1])
	}

	if w := do(r, http.MethodGet, "/api/audit", "", "Authorization", "Bearer "+op.AccessToken); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for operator, got %d", w.Code)
	}
	admin, _ := am.IssuePair(time.Now(), "root", "admin")
	w := do(r, http.MethodGet, "/api/audit", "", "Authorization", "Bearer "+admin.AccessToken)
	events, _ := decode(t, w)["events"].([]any)
	if w.Code != http.StatusOK || len(events) != 2 {
		t.Fatalf("expected 2 events for admin, got %d %s", w.Code, w.Body.String())
	}
}
