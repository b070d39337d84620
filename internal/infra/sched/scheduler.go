package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"dereva-billing/internal/infra/metrics"
)

// ErrSkipped tells the scheduler a run did no work on purpose, e.g. another instance holds the lock.
var ErrSkipped = errors.New("run skipped")

// Job is one unit of periodic work.
type Job interface {
	Name() string
	RunOnce(ctx context.Context) error
}

// Scheduler runs a Job every interval, each run bounded by timeout.
type Scheduler struct {
	job      Job
	interval time.Duration
	timeout  time.Duration
	log      *zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(job Job, interval, timeout time.Duration, logger *zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}
	l := logger.With().Str("component", job.Name()).Logger()
	return &Scheduler{job: job, interval: interval, timeout: timeout, log: &l}
}

// Start launches the loop in the background. Calling Start twice has no effect.
func (s *Scheduler) Start(parent context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer func() {
		ticker.Stop()
		close(s.done)
	}()

	s.log.Info().Dur("interval", s.interval).Msg("scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := s.job.RunOnce(runCtx)
	switch {
	case err == nil:
		metrics.IncJobRun(s.job.Name(), "ok")
		s.log.Debug().Dur("took", time.Since(start)).Msg("job run finished")
	case errors.Is(err, ErrSkipped):
		metrics.IncJobRun(s.job.Name(), "skipped")
	default:
		metrics.IncJobRun(s.job.Name(), "error")
		s.log.Error().Err(err).Msg("job run failed")
	}
}

// Stop cancels the loop and waits for the current run to finish.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
}
