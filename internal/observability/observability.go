// Package observability wires up New Relic APM: an Application shared by
// all three binaries, an Echo middleware that opens one transaction per
// request, and a pgx query tracer that forwards to both New Relic and
// zerolog. Carried as ambient stack per SPEC_FULL.md §1 even though the
// source's dashboard/UI concerns are out of scope — APM instrumentation is
// not a feature, it is plumbing.
package observability

import (
	"context"
	"net/http"

	pgxzerolog "github.com/jackc/pgx-zerolog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/labstack/echo/v4"
	"github.com/newrelic/go-agent/v3/integrations/nrpgx5"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog"

	"github.com/pulsegrid/pulsegrid/internal/config"
)

// App wraps an optional *newrelic.Application; nil when observability is
// disabled so every call site can be a no-op guard rather than a config
// branch scattered across the codebase.
type App struct {
	nr *newrelic.Application
}

// New builds the New Relic application. Returns a non-nil *App with a nil
// inner application when disabled, so callers never need a nil check on App
// itself, only on whether instrumentation actually happens.
func New(cfg *config.ObservabilityConfig, log zerolog.Logger) (*App, error) {
	if cfg == nil || !cfg.Enabled {
		return &App{}, nil
	}
	nr, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.ServiceName),
		newrelic.ConfigLicense(cfg.LicenseKey),
		newrelic.ConfigDistributedTracerEnabled(cfg.DistributedTracing),
		newrelic.ConfigAppLogForwardingEnabled(false),
		func(c *newrelic.Config) {
			c.Labels = map[string]string{"environment": cfg.Environment}
		},
	)
	if err != nil {
		return nil, err
	}
	log.Info().Str("app", cfg.ServiceName).Msg("newrelic application initialized")
	return &App{nr: nr}, nil
}

// Middleware returns an Echo middleware that starts a New Relic transaction
// per request and ends it when the handler returns. A no-op passthrough when
// observability is disabled.
func (a *App) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if a == nil || a.nr == nil {
				return next(c)
			}
			txn := a.nr.StartTransaction(c.Request().Method + " " + c.Path())
			defer txn.End()
			txn.SetWebRequestHTTP(c.Request())
			w := txn.SetWebResponse(c.Response().Writer)
			c.Response().Writer = w.(http.ResponseWriter)
			c.SetRequest(newrelic.RequestWithTransactionContext(c.Request(), txn))
			return next(c)
		}
	}
}

// multiTracer fans a single pgx.QueryTracer call out to New Relic's tracer
// (when observability is enabled) and a zerolog-backed tracelog.TraceLog
// (always), so every pool the three binaries open gets both without pgx's
// single-Tracer field forcing a choice.
type multiTracer struct {
	nr  pgx.QueryTracer
	log *tracelog.TraceLog
}

func (m *multiTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	if m.nr != nil {
		ctx = m.nr.TraceQueryStart(ctx, conn, data)
	}
	return m.log.TraceQueryStart(ctx, conn, data)
}

func (m *multiTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if m.nr != nil {
		m.nr.TraceQueryEnd(ctx, conn, data)
	}
	m.log.TraceQueryEnd(ctx, conn, data)
}

// PgxTracer returns the pgx.QueryTracer every connection pool (identity DB,
// logs DB) is configured with.
func (a *App) PgxTracer(log zerolog.Logger) pgx.QueryTracer {
	base := &tracelog.TraceLog{
		Logger:   pgxzerolog.NewLogger(log),
		LogLevel: tracelog.LogLevelWarn,
	}
	if a == nil || a.nr == nil {
		return base
	}
	return &multiTracer{nr: nrpgx5.NewTracer(), log: base}
}

// Shutdown drains the New Relic application on process exit.
func (a *App) Shutdown() {
	if a != nil && a.nr != nil {
		a.nr.Shutdown(0)
	}
}
