package sched

import (
	"context"

	"github.com/rs/zerolog"

	"dereva-billing/internal/usecase"
)

// ExpiryWorker deactivates lapsed subscriptions and downgrades their owners' snapshots.
type ExpiryWorker struct {
	uc  usecase.EntitlementUseCase
	log *zerolog.Logger
}

func NewExpiryWorker(uc usecase.EntitlementUseCase, logger *zerolog.Logger) *ExpiryWorker {
	l := logger.With().Str("component", "ExpiryWorker").Logger()
	return &ExpiryWorker{uc: uc, log: &l}
}

func (w *ExpiryWorker) Name() string { return "expiry_worker" }

func (w *ExpiryWorker) RunOnce(ctx context.Context) error {
	rep, err := w.uc.ExpireLapsed(ctx)
	if err != nil {
		return err
	}
	if rep.Deactivated > 0 || rep.Downgraded > 0 {
		w.log.Info().
			Int("deactivated", rep.Deactivated).
			Int("downgraded", rep.Downgraded).
			Msg("expired entitlements processed")
	}
	return nil
}
