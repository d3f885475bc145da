package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"voice-orchestrator/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type recorded struct {
	path string
	body []byte
}

type sink struct {
	mu   sync.Mutex
	reqs []recorded
}

func (s *sink) handler(status int, resp string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.reqs = append(s.reqs, recorded{path: r.URL.Path, body: b})
		s.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(resp))
	}
}

func (s *sink) all() []recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recorded(nil), s.reqs...)
}

func TestForward_DisabledIsNoop(t *testing.T) {
	c := New(Config{}, nil, nil)
	if c.Enabled() {
		t.Fatalf("expected disabled client")
	}
	if err := c.Forward(context.Background(), PathRetell, map[string]any{"a": 1}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	c.ForwardAsync(context.Background(), PathRetell, nil)
	if err := c.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if _, err := c.Trigger(context.Background(), nil); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestForward_RawBodyUnmodified(t *testing.T) {
	s := &sink{}
	srv := httptest.NewServer(s.handler(http.StatusOK, `{}`))
	defer srv.Close()

	m := metrics.New()
	c := New(Config{BaseURL: srv.URL + "/webhook/"}, nil, m)
	raw := json.RawMessage(`{"event":"call_started",  "call_id":"c1"}`)
	if err := c.Forward(context.Background(), PathRetell, raw); err != nil {
		t.Fatalf("forward: %v", err)
	}

	got := s.all()
	if len(got) != 1 {
		t.Fatalf("expected 1 request, got %d", len(got))
	}
	if got[0].path != "/webhook/retell" {
		t.Fatalf("unexpected path %q", got[0].path)
	}
	if string(got[0].body) != string(raw) {
		t.Fatalf("body altered: %s", got[0].body)
	}
	n, err := testutil.GatherAndCount(m.Registry(), "voice_orchestrator_relay_forwards_total")
	if err != nil || n != 1 {
		t.Fatalf("expected one relay series, got %d %v", n, err)
	}
}

func TestForward_NonSuccessReturnsStatusError(t *testing.T) {
	s := &sink{}
	srv := httptest.NewServer(s.handler(http.StatusBadGateway, `nope`))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, nil, nil)
	err := c.Forward(context.Background(), PathCheckPayment, map[string]any{"customer_id": "c"})
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadGateway || se.Body != "nope" {
		t.Fatalf("expected StatusError 502, got %v", err)
	}
	if len(s.all()) != 1 {
		t.Fatalf("expected exactly one attempt")
	}
}

func TestForward_TransportErrorReturned(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(Config{BaseURL: url, Timeout: time.Second}, nil, nil)
	if err := c.Forward(context.Background(), PathRetell, map[string]any{}); err == nil {
		t.Fatalf("expected transport error")
	}
}

func TestForwardAsync_SurvivesCallerCancellation(t *testing.T) {
	s := &sink{}
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		s.handler(http.StatusOK, `{}`)(w, r)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Timeout: 5 * time.Second}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	c.ForwardAsync(ctx, PathScheduleCallback, map[string]any{"callback_id": "cb_1"})
	cancel()
	close(release)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if err := c.Wait(waitCtx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	got := s.all()
	if len(got) != 1 || got[0].path != "/schedule_callback" {
		t.Fatalf("expected delivered forward, got %+v", got)
	}
}

func TestClose_DropsLateForwards(t *testing.T) {
	s := &sink{}
	srv := httptest.NewServer(s.handler(http.StatusOK, `{}`))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Timeout: 5 * time.Second}, nil, nil)
	c.ForwardAsync(context.Background(), PathRetell, json.RawMessage(`{"n":1}`))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.ForwardAsync(context.Background(), PathRetell, json.RawMessage(`{"n":2}`))
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	wg.Wait()
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	delivered := len(s.all())

	c.ForwardAsync(context.Background(), PathRetell, json.RawMessage(`{"n":3}`))
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	got := s.all()
	if len(got) != delivered || delivered < 1 {
		t.Fatalf("expected no forwards after close, got %d then %d", delivered, len(got))
	}
	for _, r := range got {
		if string(r.body) == `{"n":3}` {
			t.Fatalf("forward after close was delivered")
		}
	}
}

func TestTrigger_DecodesResponse(t *testing.T) {
	s := &sink{}
	srv := httptest.NewServer(s.handler(http.StatusOK, `{"ok":true}`))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, nil, nil)
	out, err := c.Trigger(context.Background(), map[string]any{"test": true})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok || m["ok"] != true {
		t.Fatalf("unexpected response %#v", out)
	}
	if got := s.all(); got[0].path != "/" && got[0].path != "" {
		t.Fatalf("expected base url, got %q", got[0].path)
	}
}
