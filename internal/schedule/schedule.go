// Package schedule drives the six pre-aggregation jobs of C5 (spec.md §4.5,
// SPEC_FULL.md §3.5) on cron-expression cadences, replacing the teacher's
// tickers with a real cron-expression scheduler as
// SPEC_FULL.md §2's dependency table commits to. Grounded on
// luci-luci-go's cron/appengine/schedule/schedule.go (cronexpr.Expression,
// Next(now) semantics) and spec.md §5's "scheduled jobs carry a deadline
// equal to half their cadence" rule.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/rs/zerolog"
)

// Job pairs a cron cadence with the function it triggers.
type Job struct {
	Name     string
	Cadence  time.Duration
	Run      func(ctx context.Context) error
	cronExpr *cronexpr.Expression
}

// Runner runs a fixed set of Jobs, each on its own goroutine loop, each
// invocation carrying a deadline of half the job's cadence per spec.md §5.
type Runner struct {
	jobs   []Job
	log    zerolog.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRunner(log zerolog.Logger, jobs ...Job) (*Runner, error) {
	for i := range jobs {
		expr, err := cronexpr.Parse(cadenceToCron(jobs[i].Cadence))
		if err != nil {
			return nil, fmt.Errorf("job %s: parse cadence: %w", jobs[i].Name, err)
		}
		jobs[i].cronExpr = expr
	}
	return &Runner{jobs: jobs, log: log}, nil
}

// Start launches every job's loop. Returns immediately.
func (r *Runner) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{}, len(r.jobs))
	for _, job := range r.jobs {
		go r.loop(ctx, job)
	}
}

// Stop signals every job loop to exit and waits for them to acknowledge.
func (r *Runner) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	for range r.jobs {
		<-r.done
	}
}

func (r *Runner) loop(ctx context.Context, job Job) {
	defer func() { r.done <- struct{}{} }()
	for {
		now := time.Now().UTC()
		next := job.cronExpr.Next(now)
		wait := next.Sub(now)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}

		jobCtx, cancel := context.WithTimeout(ctx, job.Cadence/2)
		start := time.Now()
		err := job.Run(jobCtx)
		cancel()
		if err != nil {
			r.log.Error().Err(err).Str("job", job.Name).Dur("elapsed", time.Since(start)).Msg("schedule: job failed, will retry next cadence")
			continue
		}
		r.log.Info().Str("job", job.Name).Dur("elapsed", time.Since(start)).Msg("schedule: job completed")
	}
}

// cadenceToCron builds a minute/hour-granularity cron expression for a
// cadence given in whole minutes or whole hours — the only granularities
// spec.md §4.5's job table actually uses (5m, 15m, 60m).
func cadenceToCron(cadence time.Duration) string {
	minutes := int(cadence / time.Minute)
	switch {
	case minutes <= 0:
		return "* * * * *"
	case minutes < 60:
		return fmt.Sprintf("*/%d * * * *", minutes)
	case minutes == 60:
		return "0 * * * *"
	default:
		return fmt.Sprintf("0 */%d * * *", minutes/60)
	}
}
