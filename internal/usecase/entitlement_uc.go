package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"dereva-billing/internal/domain"
	"dereva-billing/internal/domain/model"
	"dereva-billing/internal/domain/ports/repository"
	"dereva-billing/internal/infra/logging"
	"dereva-billing/internal/infra/metrics"
)

var _ EntitlementUseCase = (*entitlementUC)(nil)

type EntitlementUseCase interface {
	// Get returns the user's snapshot, downgrading it first when the premium period lapsed.
	Get(ctx context.Context, userID string) (*EntitlementView, error)
	// ExpireLapsed deactivates ended subscriptions and downgrades lapsed snapshots in bulk.
	ExpireLapsed(ctx context.Context) (ExpiryReport, error)
}

type EntitlementView struct {
	Entitlement  *model.Entitlement
	Subscription *model.Subscription // active subscription, nil when none
}

type ExpiryReport struct {
	Deactivated int
	Downgraded  int
}

type entitlementUC struct {
	users repository.UserRepository
	subs  repository.SubscriptionRepository
	tm    repository.TransactionManager
	log   *zerolog.Logger
	now   func() time.Time
}

func NewEntitlementUseCase(users repository.UserRepository, subs repository.SubscriptionRepository, tm repository.TransactionManager, logger *zerolog.Logger) *entitlementUC {
	return &entitlementUC{users: users, subs: subs, tm: tm, log: logger, now: time.Now}
}

// SetClock overrides time.Now (tests).
func (u *entitlementUC) SetClock(now func() time.Time) { u.now = now }

func (u *entitlementUC) Get(ctx context.Context, userID string) (*EntitlementView, error) {
	if userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	now := u.now().UTC()
	view := &EntitlementView{}

	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		e, err := u.users.FindEntitlement(ctx, tx, userID)
		if err != nil {
			return err
		}
		if e.Expired(now) {
			if err := u.users.SetEntitlement(ctx, tx, userID, model.EntitlementFree, e.ExpiryDate); err != nil {
				return err
			}
			e.Status = model.EntitlementFree
			metrics.IncEntitlementsDowngraded(1)
			logging.With(logging.WithUserID(ctx, userID), u.log).Info().Msg("premium expired, downgraded to FREE")
		}
		view.Entitlement = e

		sub, err := u.subs.FindActiveByUser(ctx, tx, userID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		view.Subscription = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (u *entitlementUC) ExpireLapsed(ctx context.Context) (ExpiryReport, error) {
	defer logging.TraceDuration(u.log, "EntitlementUC.ExpireLapsed")()

	now := u.now().UTC()
	var rep ExpiryReport
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		n, err := u.subs.DeactivateExpired(ctx, tx, now)
		if err != nil {
			return err
		}
		rep.Deactivated = n
		m, err := u.users.DowngradeExpired(ctx, tx, now)
		if err != nil {
			return err
		}
		rep.Downgraded = m
		return nil
	})
	if err != nil {
		return ExpiryReport{}, err
	}
	metrics.IncSubscriptionsExpired(rep.Deactivated)
	metrics.IncEntitlementsDowngraded(rep.Downgraded)
	if rep.Deactivated > 0 || rep.Downgraded > 0 {
		u.log.Info().Int("deactivated", rep.Deactivated).Int("downgraded", rep.Downgraded).Msg("lapsed entitlements expired")
	}
	return rep, nil
}
