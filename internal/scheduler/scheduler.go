// Package scheduler triggers connector runs on cron schedules. Overlap
// protection lives in the run lock, not here: a trigger that fires while
// a run is still holding the lock is recorded as skipped, never queued.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/jimjcranshaw/janet-contracts-project/internal/domain"
	"github.com/jimjcranshaw/janet-contracts-project/internal/ingest"
)

// Runner executes one connector run. *ingest.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, c ingest.Connector, opts ingest.RunOptions) (ingest.RunResult, error)
}

// Scheduler owns the cron table for all configured connectors.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	log    zerolog.Logger

	// runTimeout bounds each triggered run.
	runTimeout time.Duration
}

// New builds a Scheduler. runTimeout <= 0 disables the per-run deadline.
func New(runner Runner, runTimeout time.Duration, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:       cron.New(),
		runner:     runner,
		log:        logger,
		runTimeout: runTimeout,
	}
}

// Add registers a connector on a cron spec (standard five-field syntax).
func (s *Scheduler) Add(c ingest.Connector, spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx := context.Background()
		if s.runTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
			defer cancel()
		}

		res, err := s.runner.Run(ctx, c, ingest.RunOptions{})
		if err != nil {
			s.log.Error().Err(err).Str("connector", c.Name()).Msg("scheduled run errored")
			return
		}
		ev := s.log.Info()
		if res.Status == domain.RunSkipped {
			ev = s.log.Debug()
		}
		ev.Str("connector", c.Name()).
			Str("run_id", res.RunID).
			Str("status", string(res.Status)).
			Int("seen", res.Seen).
			Int("changed", res.Changed).
			Int("errors", res.Errors).
			Msg("scheduled run finished")
	})
	return err
}

// Start begins firing schedules in a background goroutine.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling and returns a context that is done once any
// in-flight triggered runs have returned.
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }
