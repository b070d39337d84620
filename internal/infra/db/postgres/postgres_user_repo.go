package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"dereva-billing/internal/domain"
	"dereva-billing/internal/domain/model"
	"dereva-billing/internal/domain/ports/repository"
)

var _ repository.UserRepository = (*userRepo)(nil)

// userRepo only touches the entitlement snapshot columns; the users table itself is
// owned by the account service.
type userRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *userRepo {
	return &userRepo{pool: pool}
}

func (r *userRepo) FindEntitlement(ctx context.Context, tx repository.Tx, userID string) (*model.Entitlement, error) {
	q := `SELECT id, subscription_status, subscription_expiry_date FROM users WHERE id=$1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, err
	}
	var e model.Entitlement
	if err := row.Scan(&e.UserID, &e.Status, &e.ExpiryDate); err != nil {
		return nil, mapScanError(err)
	}
	return &e, nil
}

func (r *userRepo) SetEntitlement(ctx context.Context, tx repository.Tx, userID string, status model.EntitlementStatus, expiry *time.Time) error {
	const q = `UPDATE users SET subscription_status=$2, subscription_expiry_date=$3, updated_at=NOW() WHERE id=$1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, userID, string(status), expiry)
	if err != nil {
		return mapError("users", err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *userRepo) DowngradeExpired(ctx context.Context, tx repository.Tx, now time.Time) (int, error) {
	const q = `
UPDATE users
   SET subscription_status=$2, updated_at=NOW()
 WHERE subscription_status=$3
   AND subscription_expiry_date IS NOT NULL
   AND subscription_expiry_date < $1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, now, string(model.EntitlementFree), string(model.EntitlementPremium))
	if err != nil {
		return 0, mapError("users", err)
	}
	return int(cmd.RowsAffected()), nil
}

// Upsert inserts a user or refreshes its contact fields. It never touches the snapshot.
// Used by the seed tool; production users arrive from the account service.
func (r *userRepo) Upsert(ctx context.Context, tx repository.Tx, id, phone, fullName string) error {
	const q = `
INSERT INTO users (id, phone_number, full_name)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE
   SET phone_number=EXCLUDED.phone_number, full_name=EXCLUDED.full_name, updated_at=NOW();`
	if _, err := execSQL(ctx, r.pool, tx, q, id, phone, fullName); err != nil {
		return mapError("users", err)
	}
	return nil
}
