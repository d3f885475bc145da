package httpapi

import (
	"log/slog"
	"net/http"

	"voice-orchestrator/internal/auth"
	"voice-orchestrator/internal/rbac"
	"voice-orchestrator/pkg/logger"
	"voice-orchestrator/pkg/metrics"
	"voice-orchestrator/pkg/ratelimit"

	"github.com/gin-gonic/gin"
)

// RouteOptions carries the cross-cutting pieces of the router.
// Every field is optional.
type RouteOptions struct {
	Log     *slog.Logger
	Metrics *metrics.Metrics
	// Auth guards dashboard routes. Nil leaves them open.
	Auth *auth.Manager
	// Limiter throttles public POST routes per client IP. Nil disables it.
	Limiter *ratelimit.Limiter
}

// NewRouter wires HTTP routes to handlers.
// Keep this free of business logic. Handlers delegate to internal modules.
func NewRouter(h Handlers, opts RouteOptions) *gin.Engine {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	r := gin.New()
	r.Use(Recovery(log))
	r.Use(logger.Middleware(log))
	r.Use(opts.Metrics.Middleware())

	r.GET("/health", h.Health)
	r.GET("/healthz", h.Health)
	if opts.Metrics != nil {
		r.GET("/metrics", opts.Metrics.Handler())
	}

	api := r.Group("/api")

	// Provider and agent facing routes stay public.
	public := api.Group("")
	public.Use(ratelimit.Middleware(opts.Limiter, opts.Metrics.RateLimited))
	{
		public.POST("/retell", h.RetellWebhook)
		public.POST("/calls/create", h.CreateCall)
		public.POST("/calls/test-call", h.CreateTestCall)
		public.POST("/check_payment", h.CheckPayment)
		public.POST("/schedule_callback", h.ScheduleCallback)
	}

	dashboard := api.Group("")
	if opts.Auth != nil {
		dashboard.Use(auth.RequireAccessToken(opts.Auth))
		dashboard.Use(rbac.RequireAnyRole(rbac.RoleViewer, rbac.RoleOperator, rbac.RoleAdmin))
	}
	{
		dashboard.GET("/calls", h.ListCalls)
		dashboard.GET("/calls/:callId", h.GetCall)
		dashboard.GET("/callbacks", h.ListCallbacks)
		dashboard.GET("/reports/calls", h.CallsReport)
		dashboard.GET("/reports/summary", h.SummaryReport)
	}

	operators := api.Group("")
	if opts.Auth != nil {
		operators.Use(auth.RequireAccessToken(opts.Auth))
		operators.Use(rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleAdmin))
	}
	operators.POST("/trigger-n8n", h.TriggerN8N)

	admins := api.Group("")
	if opts.Auth != nil {
		admins.Use(auth.RequireAccessToken(opts.Auth))
		admins.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
	}
	admins.GET("/audit", h.ListAudit)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Not found"})
	})
	return r
}

// Recovery converts panics into the JSON error envelope.
func Recovery(log *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, rec any) {
		logger.FromOr(c.Request.Context(), log).Error("panic recovered", "panic", rec, "path", c.Request.URL.Path)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Internal server error"})
	})
}
