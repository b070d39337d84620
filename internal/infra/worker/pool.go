// File: internal/infra/worker/pool.go
package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/rs/zerolog"
)

type Task func(ctx context.Context) error

// Pool runs tasks with at most n in flight. Submit blocks while the pool is saturated.
type Pool struct {
	wg    sync.WaitGroup
	slots chan struct{}
	log   *zerolog.Logger
}

func NewPool(workers int, logger *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	l := logger.With().Str("component", "WorkerPool").Logger()
	return &Pool{slots: make(chan struct{}, workers), log: &l}
}

// Size is the maximum number of tasks running at once.
func (p *Pool) Size() int { return cap(p.slots) }

// Submit starts task once a slot frees up. It returns ctx.Err() if ctx ends first.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	if task == nil {
		return errors.New("nil task")
	}
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.wg.Add(1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				p.log.Error().Interface("panic", rec).Msg("task panicked")
			}
			<-p.slots
			p.wg.Done()
		}()
		if err := task(ctx); err != nil {
			p.log.Warn().Err(err).Msg("task error")
		}
	}()
	return nil
}

// Wait blocks until every submitted task has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
