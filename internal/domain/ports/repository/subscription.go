package repository

import (
	"context"
	"time"

	"dereva-billing/internal/domain/model"
)

// SubscriptionRepository is the port for subscriptions granted by payments.
type SubscriptionRepository interface {
	// Create inserts a subscription. A second subscription for the same payment
	// returns domain.ErrConflict.
	Create(ctx context.Context, tx Tx, s *model.Subscription) error
	FindByPaymentID(ctx context.Context, tx Tx, paymentID string) (*model.Subscription, error)
	FindActiveByUser(ctx context.Context, tx Tx, userID string) (*model.Subscription, error)
	// DeactivateExpired flips is_active off for subscriptions whose end date passed.
	DeactivateExpired(ctx context.Context, tx Tx, now time.Time) (int, error)
}
