// Command storageworker runs C4, the batching Storage Worker of spec.md
// §4.4: it drains every project's Redis queue, bulk-inserts into the
// partitioned logs table, upserts error_groups, and dead-letters rows it
// cannot persist, until an OS signal asks it to drain and stop.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pulsegrid/pulsegrid/internal/cache"
	"github.com/pulsegrid/pulsegrid/internal/config"
	"github.com/pulsegrid/pulsegrid/internal/dbpool"
	"github.com/pulsegrid/pulsegrid/internal/deadletter"
	"github.com/pulsegrid/pulsegrid/internal/logging"
	"github.com/pulsegrid/pulsegrid/internal/observability"
	"github.com/pulsegrid/pulsegrid/internal/queue"
	"github.com/pulsegrid/pulsegrid/internal/storage/logs"
	"github.com/pulsegrid/pulsegrid/internal/storage/partition"
	"github.com/pulsegrid/pulsegrid/internal/worker"
)

func main() {
	cfg, err := config.Load("PULSEGRID_")
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.Primary.Env, "pulsegrid-storageworker")

	obs, err := observability.New(cfg.Observability, log)
	if err != nil {
		log.Fatal().Err(err).Msg("observability init failed")
	}
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logsDB, err := dbpool.Open(ctx, cfg.LogsDB, obs.PgxTracer(log))
	if err != nil {
		log.Fatal().Err(err).Msg("logs db connect failed")
	}
	defer logsDB.Close()

	cachePool := cache.New(cfg.Cache)
	defer cachePool.Close()

	dlSink, err := deadletter.New(cfg.DeadLetter)
	if err != nil {
		log.Fatal().Err(err).Msg("dead letter sink init failed")
	}
	if dlSink != nil {
		if err := dlSink.EnsureBucket(ctx); err != nil {
			log.Error().Err(err).Msg("dead letter bucket ensure failed, uploads may fail")
		}
	}

	q := queue.New(cachePool)
	store := logs.NewStore(logsDB)
	partitions := partition.NewManager(logsDB)

	mgr := worker.NewManager(q, store, partitions, dlSink, cfg.Batcher, log, worker.Opts{
		OnFlush: func(projectID int64, inserted, failed int, latency time.Duration) {
			log.Info().Int64("project_id", projectID).Int("inserted", inserted).Int("failed", failed).
				Dur("latency", latency).Msg("flush completed")
		},
	})
	mgr.Start(ctx)

	<-ctx.Done()
	log.Info().Msg("shutdown signal received, draining")
	mgr.Stop()
}
