package sched

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dereva-billing/internal/domain/ports/repository"
	"dereva-billing/internal/infra/metrics"
	red "dereva-billing/internal/infra/redis"
	"dereva-billing/internal/infra/worker"
	"dereva-billing/internal/usecase"
)

const sweeperLockKey = "lock:payment_sweeper"

type SweeperOptions struct {
	Interval   time.Duration // lock ttl; one run per interval cluster-wide
	StaleAfter time.Duration // pending age before the provider is queried
	Batch      int
}

// StalePaymentSweeper settles pending payments whose callback never arrived.
// Linked payments are queried at the provider; unlinked ones are expired by the use case.
type StalePaymentSweeper struct {
	uc       usecase.PaymentUseCase
	payments repository.PaymentRepository
	locker   red.Locker
	pool     *worker.Pool
	opts     SweeperOptions
	now      func() time.Time
	log      *zerolog.Logger
}

func NewStalePaymentSweeper(
	uc usecase.PaymentUseCase,
	payments repository.PaymentRepository,
	locker red.Locker,
	pool *worker.Pool,
	opts SweeperOptions,
	logger *zerolog.Logger,
) *StalePaymentSweeper {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 2 * time.Minute
	}
	if opts.Batch <= 0 {
		opts.Batch = 100
	}
	l := logger.With().Str("component", "StalePaymentSweeper").Logger()
	return &StalePaymentSweeper{
		uc:       uc,
		payments: payments,
		locker:   locker,
		pool:     pool,
		opts:     opts,
		now:      time.Now,
		log:      &l,
	}
}

func (s *StalePaymentSweeper) Name() string { return "payment_sweeper" }

// RunOnce processes one batch. It returns ErrSkipped when another instance holds the lock.
func (s *StalePaymentSweeper) RunOnce(ctx context.Context) error {
	if s.locker != nil {
		token, err := s.locker.TryLock(ctx, sweeperLockKey, s.opts.Interval)
		if errors.Is(err, red.ErrLockHeld) {
			return ErrSkipped
		}
		if err != nil {
			return fmt.Errorf("acquire sweeper lock: %w", err)
		}
		defer func() {
			if err := s.locker.Unlock(context.WithoutCancel(ctx), sweeperLockKey, token); err != nil {
				s.log.Warn().Err(err).Msg("release sweeper lock")
			}
		}()
	}

	cutoff := s.now().Add(-s.opts.StaleAfter)
	pending, err := s.payments.ListPendingOlderThan(ctx, nil, cutoff, s.opts.Batch)
	if err != nil {
		return fmt.Errorf("list stale payments: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	var (
		mu     sync.Mutex
		counts = map[usecase.SweepAction]int{}
		failed int
	)
	for _, p := range pending {
		p := p
		err := s.pool.Submit(ctx, func(ctx context.Context) error {
			action, err := s.uc.ReconcileStale(ctx, p)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				metrics.IncSweptPayment("error")
				return fmt.Errorf("reconcile payment %s: %w", p.ID, err)
			}
			counts[action]++
			metrics.IncSweptPayment(string(action))
			return nil
		})
		if err != nil {
			break
		}
	}
	s.pool.Wait()

	s.log.Info().
		Int("scanned", len(pending)).
		Int("settled", counts[usecase.SweepSettled]).
		Int("expired", counts[usecase.SweepExpired]).
		Int("skipped", counts[usecase.SweepSkipped]).
		Int("no_change", counts[usecase.SweepNoChange]).
		Int("errors", failed).
		Msg("sweep finished")
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

var _ Job = (*StalePaymentSweeper)(nil)
var _ Job = (*ExpiryWorker)(nil)
