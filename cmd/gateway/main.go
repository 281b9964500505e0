// Command gateway is pulsegrid's HTTP composition root: it wires config,
// logging, observability, the cache substrate, both connection pools, the
// circuit breaker registry, and every collaborator internal/gateway's
// handlers call into, then serves until an OS signal asks it to stop.
// Grounded on the teacher's cmd/server (never retrieved) via
// internal/server/server.go's Start/Shutdown shape.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pulsegrid/pulsegrid/internal/breaker"
	"github.com/pulsegrid/pulsegrid/internal/cache"
	"github.com/pulsegrid/pulsegrid/internal/config"
	"github.com/pulsegrid/pulsegrid/internal/dbpool"
	"github.com/pulsegrid/pulsegrid/internal/gateway"
	"github.com/pulsegrid/pulsegrid/internal/identity"
	"github.com/pulsegrid/pulsegrid/internal/ingest"
	"github.com/pulsegrid/pulsegrid/internal/logging"
	"github.com/pulsegrid/pulsegrid/internal/metrics"
	"github.com/pulsegrid/pulsegrid/internal/notify"
	"github.com/pulsegrid/pulsegrid/internal/observability"
	"github.com/pulsegrid/pulsegrid/internal/query"
	"github.com/pulsegrid/pulsegrid/internal/queue"
	"github.com/pulsegrid/pulsegrid/internal/ratelimit"
)

func main() {
	cfg, err := config.Load("PULSEGRID_")
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.Primary.Env, "pulsegrid-gateway")

	obs, err := observability.New(cfg.Observability, log)
	if err != nil {
		log.Fatal().Err(err).Msg("observability init failed")
	}
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	identityDB, err := dbpool.Open(ctx, cfg.IdentityDB, obs.PgxTracer(log))
	if err != nil {
		log.Fatal().Err(err).Msg("identity db connect failed")
	}
	defer identityDB.Close()

	logsDB, err := dbpool.Open(ctx, cfg.LogsDB, obs.PgxTracer(log))
	if err != nil {
		log.Fatal().Err(err).Msg("logs db connect failed")
	}
	defer logsDB.Close()

	cachePool := cache.New(cfg.Cache)
	defer cachePool.Close()

	breakers := breaker.NewRegistry(cfg.CircuitBreaker)

	authClient := identity.NewStaticAuthClient(identityDB)
	identityCache := identity.New(cachePool, authClient, breakers, cfg.Cache)
	limiter := ratelimit.New(cachePool, breakers, cfg.RateLimit)

	q := queue.New(cachePool)
	publisher := notify.NewPublisher(cachePool)
	ingestFront := ingest.New(q, publisher, cfg.Queue)
	hub := notify.NewHub(cachePool)

	queryStore := query.NewStore(logsDB)
	metricsReader := metrics.NewReader(cachePool)
	aggregator := metrics.NewAggregator(logsDB, identityDB, cachePool, cfg.Schedule, cfg.Cache)

	srv := gateway.New(gateway.Deps{
		Config:    cfg,
		Log:       log,
		Identity:  identityCache,
		RateLimit: limiter,
		Breakers:  breakers,
		Ingest:    ingestFront,
		Queue:     q,
		Hub:       hub,
		Query:     queryStore,
		Metrics:   metricsReader,
		Aggregate: aggregator,
	})
	srv.Echo.Use(obs.Middleware())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("gateway server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("gateway shutdown error")
	}
}
