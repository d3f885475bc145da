package retell

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"voice-orchestrator/pkg/metrics"

	"github.com/go-resty/resty/v2"
)

// Source tags calls placed by this service in the provider metadata.
const Source = "rapid-capital-platform"

var ErrNotConfigured = errors.New("retell: RETELL_API_KEY and RETELL_AGENT_ID are required")

// ProviderError carries a non-2xx response from the provider.
type ProviderError struct {
	StatusCode int
	Body       json.RawMessage
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("retell: create-phone-call returned %d", e.StatusCode)
}

// Detail returns the provider's error payload, decoded when it is JSON.
func (e *ProviderError) Detail() any {
	if len(e.Body) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(e.Body, &v); err != nil {
		return string(e.Body)
	}
	return v
}

type Config struct {
	APIKey  string
	AgentID string
	BaseURL string
	Timeout time.Duration
}

// Configured reports whether credentials are present.
func (c Config) Configured() bool {
	return c.APIKey != "" && c.AgentID != ""
}

type CreatePhoneCallRequest struct {
	FromNumber string
	ToNumber   string
	CustomerID string
}

type CreatePhoneCallResponse struct {
	CallID string
	// Raw is the full provider response body.
	Raw json.RawMessage
}

type createPhoneCallBody struct {
	FromNumber string       `json:"from_number"`
	ToNumber   string       `json:"to_number"`
	AgentID    string       `json:"agent_id"`
	Metadata   callMetadata `json:"metadata"`
}

type callMetadata struct {
	CustomerID string `json:"customer_id"`
	Source     string `json:"source"`
}

// Client talks to the voice-agent provider REST API.
type Client struct {
	cfg     Config
	http    *resty.Client
	metrics *metrics.Metrics
}

func NewClient(cfg Config, m *metrics.Metrics) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:     cfg,
		http:    resty.New().SetTimeout(cfg.Timeout),
		metrics: m,
	}
}

func (c *Client) Name() string { return "retell" }

// CreatePhoneCall asks the provider to place an outbound call.
// Missing credentials fail with ErrNotConfigured before any network call.
func (c *Client) CreatePhoneCall(ctx context.Context, req CreatePhoneCallRequest) (CreatePhoneCallResponse, error) {
	if !c.cfg.Configured() {
		c.metrics.ProviderRequest("not_configured")
		return CreatePhoneCallResponse{}, ErrNotConfigured
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetBody(createPhoneCallBody{
			FromNumber: req.FromNumber,
			ToNumber:   req.ToNumber,
			AgentID:    c.cfg.AgentID,
			Metadata:   callMetadata{CustomerID: req.CustomerID, Source: Source},
		}).
		Post(c.cfg.BaseURL + "/create-phone-call")
	if err != nil {
		c.metrics.ProviderRequest("transport_error")
		return CreatePhoneCallResponse{}, fmt.Errorf("retell: create-phone-call: %w", err)
	}
	if !resp.IsSuccess() {
		c.metrics.ProviderRequest("http_error")
		return CreatePhoneCallResponse{}, &ProviderError{StatusCode: resp.StatusCode(), Body: json.RawMessage(resp.Body())}
	}

	raw := json.RawMessage(resp.Body())
	var decoded struct {
		CallID string `json:"call_id"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		c.metrics.ProviderRequest("decode_error")
		return CreatePhoneCallResponse{}, fmt.Errorf("retell: decode response: %w", err)
	}
	if decoded.CallID == "" {
		c.metrics.ProviderRequest("decode_error")
		return CreatePhoneCallResponse{}, errors.New("retell: response missing call_id")
	}
	c.metrics.ProviderRequest("ok")
	return CreatePhoneCallResponse{CallID: decoded.CallID, Raw: raw}, nil
}
