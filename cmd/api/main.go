package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voice-orchestrator/internal/audit"
	"voice-orchestrator/internal/auth"
	"voice-orchestrator/internal/callbacks"
	"voice-orchestrator/internal/calls"
	"voice-orchestrator/internal/config"
	"voice-orchestrator/internal/httpapi"
	"voice-orchestrator/internal/initiation"
	"voice-orchestrator/internal/lifecycle"
	"voice-orchestrator/internal/payments"
	"voice-orchestrator/internal/relay"
	"voice-orchestrator/internal/reporting"
	"voice-orchestrator/internal/retell"
	"voice-orchestrator/pkg/logger"
	"voice-orchestrator/pkg/metrics"
	"voice-orchestrator/pkg/ratelimit"
	"voice-orchestrator/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log, logFile := logger.NewWithFile(cfg.App.Env, cfg.App.LogFile)
	defer logFile.Close()
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	policy, err := calls.ParsePersistencePolicy(cfg.Store.FailurePolicy)
	if err != nil {
		log.Error("invalid store policy", "err", err)
		os.Exit(1)
	}

	m := metrics.New()

	callRepo, callbackRepo, auditRepo, db := openStores(rootCtx, cfg, policy, log)
	if db != nil {
		defer db.Close()
	}

	var guard initiation.Guard = initiation.NewMemoryGuard(cfg.Store.OutboundCapTTL)
	if cfg.RedisEnabled() {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			// The in-flight cap is advisory; fall back to this instance only.
			log.Warn("redis unavailable, outbound cap is per instance", "err", err)
		} else {
			defer func(rdb *redis.Client) { _ = rdb.Close() }(rdb)
			guard = initiation.NewRedisGuard(rdb, cfg.Store.OutboundCapTTL)
		}
	}

	var authManager *auth.Manager
	if cfg.AuthEnabled() {
		authManager, err = auth.NewManager(cfg.Auth)
		if err != nil {
			log.Error("auth init failed", "err", err)
			os.Exit(1)
		}
	}

	relayClient := relay.New(relay.Config{BaseURL: cfg.Relay.WebhookURL, Timeout: cfg.Relay.Timeout}, log, m)
	if !relayClient.Enabled() {
		log.Info("N8N_WEBHOOK_URL not set, relay disabled")
	}
	retellClient := retell.NewClient(retell.Config{
		APIKey:  cfg.Retell.APIKey,
		AgentID: cfg.Retell.AgentID,
		BaseURL: cfg.Retell.BaseURL,
		Timeout: cfg.Retell.Timeout,
	}, m)
	verifier := payments.NewMockVerifier()

	h := httpapi.Handlers{
		Lifecycle: lifecycle.NewHandler(callRepo, verifier, log, m),
		Relay:     relayClient,
		Initiation: initiation.NewService(retellClient, callRepo, guard, initiation.Config{
			DefaultFromNumber: cfg.Retell.FromNumber,
			Policy:            policy,
		}, log, m),
		Callbacks: callbacks.NewService(callbackRepo, relayClient, log),
		Calls:     callRepo,
		Payments:  verifier,
		Reports:   reporting.NewService(callRepo, callbackRepo),
		Audit:     audit.NewService(auditRepo, log),
	}

	r := httpapi.NewRouter(h, httpapi.RouteOptions{
		Log:     log,
		Metrics: m,
		Auth:    authManager,
		Limiter: ratelimit.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst, 10*time.Minute),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           httpapi.WithCORS(r, cfg.App.FrontendURL),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "auth", authManager != nil, "relay", relayClient.Enabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	if err := relayClient.Close(shutdownCtx); err != nil {
		log.Warn("relay drain incomplete", "err", err)
	}
}

// openStores connects Postgres and applies the schema. Under fail_open an
// unreachable database degrades to stores that report ErrStoreUnavailable.
// The audit log falls back to process memory.
func openStores(ctx context.Context, cfg config.Config, policy calls.PersistencePolicy, log *slog.Logger) (calls.Repository, callbacks.Repository, audit.Repository, *sql.DB) {
	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err == nil {
		var stmts []string
		stmts = append(stmts, calls.SchemaStatements...)
		stmts = append(stmts, callbacks.SchemaStatements...)
		stmts = append(stmts, audit.SchemaStatements...)
		if err = utils.EnsureSchema(ctx, db, stmts...); err != nil {
			_ = db.Close()
		}
	}
	if err != nil {
		if policy != calls.PolicyFailOpen {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		log.Warn("postgres unavailable, records will not be saved", "err", err)
		return calls.UnavailableRepo{}, callbacks.UnavailableRepo{}, audit.NewMemoryRepo(), nil
	}
	log.Info("postgres connected", "host", cfg.DB.Host, "db", cfg.DB.Name)
	return calls.NewPostgresRepo(db), callbacks.NewPostgresRepo(db), audit.NewPostgresRepo(db), db
}
