// Command aggregator runs C5's six pre-aggregation jobs on cron-expression
// cadences: error_rate, log_volume, top_errors, usage_stats,
// aggregated_metrics, and the supplemented bottleneck_metrics job.
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
	"github.com/pulsegrid/pulsegrid/internal/logging"
	"github.com/pulsegrid/pulsegrid/internal/metrics"
	"github.com/pulsegrid/pulsegrid/internal/observability"
	"github.com/pulsegrid/pulsegrid/internal/schedule"
)

func main() {
	cfg, err := config.Load("PULSEGRID_")
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.Primary.Env, "pulsegrid-aggregator")

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

	identityDB, err := dbpool.Open(ctx, cfg.IdentityDB, obs.PgxTracer(log))
	if err != nil {
		log.Fatal().Err(err).Msg("identity db connect failed")
	}
	defer identityDB.Close()

	cachePool := cache.New(cfg.Cache)
	defer cachePool.Close()

	agg := metrics.NewAggregator(logsDB, identityDB, cachePool, cfg.Schedule, cfg.Cache)

	secs := func(n int) time.Duration { return time.Duration(n) * time.Second }
	runner, err := schedule.NewRunner(log,
		schedule.Job{Name: "error_rate", Cadence: secs(cfg.Schedule.ErrorRateCadenceSec), Run: agg.AggregateErrorRates},
		schedule.Job{Name: "log_volume", Cadence: secs(cfg.Schedule.LogVolumeCadenceSec), Run: agg.AggregateLogVolumes},
		schedule.Job{Name: "top_errors", Cadence: secs(cfg.Schedule.TopErrorsCadenceSec), Run: agg.ComputeTopErrors},
		schedule.Job{Name: "usage_stats", Cadence: secs(cfg.Schedule.UsageStatsCadenceSec), Run: func(ctx context.Context) error {
			return agg.GenerateUsageStats(ctx, cfg.RateLimit.DailyQuotaDefault)
		}},
		schedule.Job{Name: "aggregated_metrics", Cadence: secs(cfg.Schedule.AggregatedMetricsCadenceSec), Run: agg.AggregateHourlyMetrics},
		schedule.Job{Name: "bottleneck_metrics", Cadence: secs(cfg.Schedule.AggregatedMetricsCadenceSec), Run: agg.AggregateBottleneckMetrics},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("schedule runner init failed")
	}

	runner.Start(ctx)
	<-ctx.Done()
	log.Info().Msg("shutdown signal received")
	runner.Stop()
}
