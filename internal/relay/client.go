package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"voice-orchestrator/pkg/logger"
	"voice-orchestrator/pkg/metrics"

	"github.com/go-resty/resty/v2"
)

// Relay paths below the automation base URL.
const (
	PathRetell           = "retell"
	PathCheckPayment     = "check_payment"
	PathScheduleCallback = "schedule_callback"
)

var ErrNotConfigured = errors.New("relay: N8N_WEBHOOK_URL not configured")

// StatusError is returned when the downstream answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("relay: downstream returned %d", e.StatusCode)
}

type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client forwards events to the workflow-automation endpoint.
// Delivery is best-effort: one attempt, no retry, no ordering.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *resty.Client
	log     *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func New(cfg Config, log *slog.Logger, m *metrics.Metrics) *Client {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		http:    resty.New().SetTimeout(cfg.Timeout).SetHeader("Content-Type", "application/json"),
		log:     log,
		metrics: m,
	}
}

// Enabled reports whether a base URL is configured.
func (c *Client) Enabled() bool { return c != nil && c.baseURL != "" }

// URL returns the target for path; an empty path targets the base URL.
func (c *Client) URL(path string) string {
	path = strings.Trim(path, "/")
	if path == "" {
		return c.baseURL
	}
	return c.baseURL + "/" + path
}

// Forward posts body to path once. Raw bytes are sent unmodified.
// It is a no-op when relaying is disabled.
func (c *Client) Forward(ctx context.Context, path string, body any) error {
	if !c.Enabled() {
		return nil
	}
	_, err := c.post(ctx, path, body)
	return err
}

// ForwardAsync runs Forward on a context detached from the caller's cancellation,
// bounded by the relay timeout. Failures are only logged.
func (c *Client) ForwardAsync(ctx context.Context, path string, body any) {
	if !c.Enabled() {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		logger.FromOr(ctx, c.log).Warn("relay closed, forward dropped", "relay_path", path)
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	go func() {
		defer c.wg.Done()
		defer cancel()
		_ = c.Forward(detached, path, body)
	}()
}

// Wait blocks until in-flight async forwards finish or ctx is done.
func (c *Client) Wait(ctx context.Context) error {
	if c == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting async forwards and waits for those in flight.
// Forwards requested after Close are dropped.
func (c *Client) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.Wait(ctx)
}

// Trigger posts payload to the base URL and returns the decoded response body.
// Non-JSON responses come back as a string.
func (c *Client) Trigger(ctx context.Context, payload any) (any, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}
	resp, err := c.post(ctx, "", payload)
	if err != nil {
		return nil, err
	}
	raw := resp.Body()
	if len(raw) == 0 {
		return nil, nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return string(raw), nil
	}
	return decoded, nil
}

func (c *Client) post(ctx context.Context, path string, body any) (*resty.Response, error) {
	label := path
	if label == "" {
		label = "trigger"
	}
	if raw, ok := body.(json.RawMessage); ok {
		body = []byte(raw)
	}

	l := logger.FromOr(ctx, c.log).With("relay_path", label)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post(c.URL(path))
	if err != nil {
		c.metrics.RelayForward(label, "transport_error")
		l.Warn("relay forward failed", "error", err)
		return nil, fmt.Errorf("relay: post %s: %w", label, err)
	}
	if !resp.IsSuccess() {
		c.metrics.RelayForward(label, "http_error")
		l.Warn("relay forward rejected", "status", resp.StatusCode())
		return nil, &StatusError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	c.metrics.RelayForward(label, "ok")
	l.Debug("relay forward delivered", "status", resp.StatusCode())
	return resp, nil
}
