package repository

import (
	"context"
	"time"

	"dereva-billing/internal/domain/model"
)

// -----------------------------
// Users (entitlement snapshot only)
// -----------------------------

type UserRepository interface {
	FindEntitlement(ctx context.Context, tx Tx, userID string) (*model.Entitlement, error)
	// SetEntitlement overwrites the snapshot (last write wins). Returns domain.ErrNotFound
	// when the user row does not exist.
	SetEntitlement(ctx context.Context, tx Tx, userID string, status model.EntitlementStatus, expiry *time.Time) error
	// DowngradeExpired moves lapsed premium snapshots to FREE and returns how many changed.
	DowngradeExpired(ctx context.Context, tx Tx, now time.Time) (int, error)
}
