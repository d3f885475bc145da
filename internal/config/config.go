package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process.
// Values come from env; an optional .env file in the working directory is loaded first.
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Retell    RetellConfig
	Relay     RelayConfig
	Store     StoreConfig
	RateLimit RateLimitConfig
}

type AppConfig struct {
	Env  string
	Port int
	// FrontendURL is the single browser origin allowed by CORS.
	FrontendURL string
	// LogFile optionally mirrors logs to a rotated file.
	LogFile string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

// RedisConfig is optional. An empty Host disables the outbound in-flight cap.
type RedisConfig struct {
	Host string
	Port int
}

// AuthConfig is optional. An empty JWTSecret leaves the dashboard routes open.
type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type RetellConfig struct {
	APIKey     string
	AgentID    string
	FromNumber string
	BaseURL    string
	Timeout    time.Duration
}

// RelayConfig points at the downstream automation endpoint.
// An empty WebhookURL silently disables relaying.
type RelayConfig struct {
	WebhookURL string
	Timeout    time.Duration
}

type StoreConfig struct {
	// FailurePolicy is fail_open or fail_closed.
	FailurePolicy string
	// OutboundCapTTL bounds how long one destination number stays locked while a call is being placed.
	OutboundCapTTL time.Duration
}

// RateLimitConfig applies per client IP on public POST routes. RPS <= 0 disables it.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

const (
	defaultRetellBaseURL = "https://api.retell.ai/v2"
	defaultTimeout       = 10 * time.Second
	defaultFrontendURL   = "http://localhost:3000"
)

func Load() (Config, error) {
	// Missing .env is normal outside local development.
	_ = godotenv.Load()

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.App.FrontendURL = strings.TrimRight(strings.TrimSpace(os.Getenv("FRONTEND_URL")), "/")
	c.App.LogFile = strings.TrimSpace(os.Getenv("LOG_FILE"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	if c.Redis.Host != "" {
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate().
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	// Provider credentials may be absent; call creation then fails per request.
	c.Retell.APIKey = os.Getenv("RETELL_API_KEY")
	c.Retell.AgentID = strings.TrimSpace(os.Getenv("RETELL_AGENT_ID"))
	c.Retell.FromNumber = strings.TrimSpace(os.Getenv("RETELL_FROM_NUMBER"))
	c.Retell.BaseURL = strings.TrimSpace(os.Getenv("RETELL_BASE_URL"))
	c.Retell.Timeout = mustDuration("PROVIDER_TIMEOUT")

	c.Relay.WebhookURL = strings.TrimRight(strings.TrimSpace(os.Getenv("N8N_WEBHOOK_URL")), "/")
	c.Relay.Timeout = mustDuration("RELAY_TIMEOUT")

	c.Store.FailurePolicy = strings.TrimSpace(os.Getenv("STORE_FAILURE_POLICY"))
	c.Store.OutboundCapTTL = mustDuration("OUTBOUND_CAP_TTL")

	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_RPS")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("RATE_LIMIT_RPS must be a number, got %q", v))
		}
		c.RateLimit.RPS = f
	}
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_BURST")); v != "" {
		n, err := mustInt("RATE_LIMIT_BURST")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.RateLimit.Burst = n
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// LoadAuth reads only the JWT keys. Used by tooling that mints dashboard tokens.
func LoadAuth() (AuthConfig, error) {
	_ = godotenv.Load()

	c := Config{}
	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	if c.Auth.JWTSecret == "" {
		return AuthConfig{}, errors.New("JWT_SECRET is required")
	}
	if err := c.validateAuth(); err != nil {
		return AuthConfig{}, err
	}
	return c.Auth, nil
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.FrontendURL == "" {
		c.App.FrontendURL = defaultFrontendURL
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret != "" {
		if err := c.validateAuth(); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Retell.BaseURL == "" {
		c.Retell.BaseURL = defaultRetellBaseURL
	}
	if c.Retell.Timeout <= 0 {
		c.Retell.Timeout = defaultTimeout
	}
	if c.Relay.Timeout <= 0 {
		c.Relay.Timeout = defaultTimeout
	}
	if c.Relay.WebhookURL != "" && !strings.HasPrefix(c.Relay.WebhookURL, "http://") && !strings.HasPrefix(c.Relay.WebhookURL, "https://") {
		errs = append(errs, fmt.Errorf("N8N_WEBHOOK_URL must be an http(s) URL, got %q", c.Relay.WebhookURL))
	}

	if c.Store.FailurePolicy == "" {
		c.Store.FailurePolicy = "fail_open"
	}
	if c.Store.FailurePolicy != "fail_open" && c.Store.FailurePolicy != "fail_closed" {
		errs = append(errs, fmt.Errorf("STORE_FAILURE_POLICY must be one of fail_open, fail_closed, got %q", c.Store.FailurePolicy))
	}
	if c.Store.OutboundCapTTL <= 0 {
		c.Store.OutboundCapTTL = 30 * time.Second
	}

	if c.RateLimit.RPS < 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS must be >= 0, got %v", c.RateLimit.RPS))
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = int(c.RateLimit.RPS * 2)
		if c.RateLimit.Burst < 1 {
			c.RateLimit.Burst = 1
		}
	}

	return joinErrors(errs)
}

func (c *Config) validateAuth() error {
	var errs []error
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}
	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisEnabled() bool {
	return c.Redis.Host != ""
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func (c Config) AuthEnabled() bool {
	return c.Auth.JWTSecret != ""
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
