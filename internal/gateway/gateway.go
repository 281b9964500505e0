// Package gateway is the HTTP composition root spec.md §6 describes: one
// Echo server exposing ingest, query, metrics, queue-depth, and
// notification-stream endpoints, gated by the auth+rate-limit+quota
// middleware chain of spec.md §4.2. Grounded on the teacher's
// internal/server/server.go (Echo setup, route registration, Start/Shutdown
// shape) with the teacher's own routes replaced by pulsegrid's.
package gateway

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/pulsegrid/pulsegrid/internal/breaker"
	"github.com/pulsegrid/pulsegrid/internal/config"
	"github.com/pulsegrid/pulsegrid/internal/identity"
	"github.com/pulsegrid/pulsegrid/internal/ingest"
	"github.com/pulsegrid/pulsegrid/internal/metrics"
	"github.com/pulsegrid/pulsegrid/internal/notify"
	"github.com/pulsegrid/pulsegrid/internal/query"
	"github.com/pulsegrid/pulsegrid/internal/queue"
	"github.com/pulsegrid/pulsegrid/internal/ratelimit"
)

// Deps bundles every collaborator the gateway's handlers call into, mirroring
// spec.md §6's external-interfaces table.
type Deps struct {
	Config    *config.Config
	Log       zerolog.Logger
	Identity  *identity.Cache
	RateLimit *ratelimit.Limiter
	Breakers  *breaker.Registry
	Ingest    *ingest.Front
	Queue     *queue.Queue
	Hub       *notify.Hub
	Query     *query.Store
	Metrics   *metrics.Reader
	Aggregate *metrics.Aggregator
}

// Server holds the Echo app and its dependencies.
type Server struct {
	Echo *echo.Echo
	deps Deps
}

// publicPaths never go through the auth middleware, mirroring
// original_source/services/gateway/gateway_service/middleware/auth.py's
// PUBLIC_PATHS set.
var publicPaths = map[string]bool{
	"/health":      true,
	"/health/deep": true,
}

// New builds the Echo app and registers every route spec.md §6 names.
func New(deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger(deps.Log))

	s := &Server{Echo: e, deps: deps}

	e.GET("/health", s.handleHealth)
	e.GET("/health/deep", s.handleHealthDeep)

	api := e.Group("/api/v1", s.authMiddleware)

	api.POST("/ingest/single", s.handleIngestSingle)
	api.POST("/ingest/batch", s.handleIngestBatch)
	api.GET("/queue/depth", s.handleQueueDepth)

	api.GET("/logs", s.handleQueryLogs)
	api.GET("/logs/search", s.handleSearchLogs)
	api.GET("/logs/:id", s.handleGetLog)

	api.GET("/metrics/error-rate", s.handleErrorRate)
	api.GET("/metrics/log-volume", s.handleLogVolume)
	api.GET("/metrics/top-errors", s.handleTopErrors)
	api.GET("/metrics/usage-stats", s.handleUsageStats)
	api.GET("/metrics/aggregated", s.handleAggregatedMetrics)
	api.GET("/metrics/bottleneck", s.handleBottleneckMetrics)

	api.GET("/notifications/stream", s.handleNotificationStream)

	return s
}

// Start blocks serving on cfg.Server.Port until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.Echo.Shutdown(context.Background())
	}()
	return s.Echo.Start(":" + s.deps.Config.Server.Port)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.Echo.Shutdown(ctx)
}

func requestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			ev := log.Info()
			if err != nil {
				ev = log.Error().Err(err)
			}
			ev.Str("method", c.Request().Method).
				Str("path", c.Path()).
				Int("status", c.Response().Status).
				Msg("request")
			return err
		}
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(200, map[string]string{"status": "ok"})
}

// handleHealthDeep reports the state of every guarded dependency's circuit
// breaker, per spec.md §4.2's "the breaker's Stats() must be observable".
func (s *Server) handleHealthDeep(c echo.Context) error {
	return c.JSON(200, map[string]any{
		"status":   "ok",
		"breakers": s.deps.Breakers.AllStats(),
	})
}
