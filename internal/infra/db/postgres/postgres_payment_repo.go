package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"dereva-billing/internal/domain"
	"dereva-billing/internal/domain/model"
	"dereva-billing/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentCols = `id, user_id, amount::text, currency, phone_number, payment_method, subscription_type, subscription_months,
  checkout_request_id, status, mpesa_receipt_number, paid_amount::text, result_code, result_desc, created_at, completed_at`

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var (
		p      model.Payment
		amount string
		paid   *string
	)
	if err := row.Scan(&p.ID, &p.UserID, &amount, &p.Currency, &p.PhoneNumber, &p.Method, &p.SubscriptionType, &p.SubscriptionMonths,
		&p.CheckoutRequestID, &p.Status, &p.ReceiptNumber, &paid, &p.ResultCode, &p.ResultDesc, &p.CreatedAt, &p.CompletedAt); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, err
	}
	p.Amount = d
	if paid != nil {
		pd, err := decimal.NewFromString(*paid)
		if err != nil {
			return nil, err
		}
		p.PaidAmount = &pd
	}
	return &p, nil
}

func decimalArg(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func (r *paymentRepo) Create(ctx context.Context, tx repository.Tx, p *model.Payment) (bool, error) {
	const q = `
INSERT INTO payments (
  id, user_id, amount, currency, phone_number, payment_method, subscription_type, subscription_months,
  checkout_request_id, status, created_at
) VALUES ($1,$2,$3::numeric,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO NOTHING;`

	cmd, err := execSQL(ctx, r.pool, tx, q, p.ID, p.UserID, p.Amount.String(), p.Currency, p.PhoneNumber, p.Method,
		p.SubscriptionType, p.SubscriptionMonths, p.CheckoutRequestID, string(p.Status), p.CreatedAt)
	if err != nil {
		return false, mapError("payments", err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	q := `SELECT ` + paymentCols + ` FROM payments WHERE id=$1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	return r.queryOne(ctx, tx, q, id)
}

func (r *paymentRepo) FindByCheckoutRequestID(ctx context.Context, tx repository.Tx, checkoutRequestID string) (*model.Payment, error) {
	q := `SELECT ` + paymentCols + ` FROM payments WHERE checkout_request_id=$1 LIMIT 1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	return r.queryOne(ctx, tx, q, checkoutRequestID)
}

func (r *paymentRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Payment, error) {
	const q = `SELECT ` + paymentCols + ` FROM payments WHERE user_id=$1 ORDER BY created_at DESC;`
	return r.queryMany(ctx, tx, q, userID)
}

func (r *paymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + paymentCols + ` FROM payments WHERE status='pending' AND created_at < $1 ORDER BY created_at ASC LIMIT $2;`
	return r.queryMany(ctx, tx, q, olderThan, limit)
}

func (r *paymentRepo) SetCheckoutRequestID(ctx context.Context, tx repository.Tx, id, checkoutRequestID string) (bool, error) {
	const q = `UPDATE payments SET checkout_request_id=$2 WHERE id=$1 AND status='pending';`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, checkoutRequestID)
	if err != nil {
		return false, mapError("payments", err)
	}
	return cmd.RowsAffected() == 1, nil
}

// The three Complete* methods share one compare-and-set: the row is only written while
// status='pending', so concurrent duplicate callbacks serialize on the row lock and all
// but the first observe zero rows.
const completeSet = `
UPDATE payments
   SET status = $2,
       mpesa_receipt_number = $3,
       paid_amount = $4::numeric,
       result_code = $5,
       result_desc = $6,
       completed_at = $7`

func (r *paymentRepo) CompleteByCheckoutRequestID(ctx context.Context, tx repository.Tx, checkoutRequestID string, out model.PaymentOutcome) (*model.Payment, error) {
	const q = completeSet + `
 WHERE checkout_request_id = $1
   AND status = 'pending'
RETURNING ` + paymentCols + `;`
	return r.complete(ctx, tx, q, checkoutRequestID, out)
}

func (r *paymentRepo) CompleteUnlinkedByPhone(ctx context.Context, tx repository.Tx, phone, checkoutRequestID string, out model.PaymentOutcome) (*model.Payment, error) {
	const q = completeSet + `,
       checkout_request_id = NULLIF($8, '')
 WHERE id = (
         SELECT id FROM payments
          WHERE phone_number = $1 AND status = 'pending' AND checkout_request_id IS NULL
          ORDER BY created_at DESC
          LIMIT 1
          FOR UPDATE SKIP LOCKED)
   AND status = 'pending'
   AND checkout_request_id IS NULL
RETURNING ` + paymentCols + `;`
	return r.complete(ctx, tx, q, phone, out, checkoutRequestID)
}

func (r *paymentRepo) CompleteByID(ctx context.Context, tx repository.Tx, id string, out model.PaymentOutcome) (*model.Payment, error) {
	const q = completeSet + `
 WHERE id = $1
   AND status = 'pending'
RETURNING ` + paymentCols + `;`
	return r.complete(ctx, tx, q, id, out)
}

func (r *paymentRepo) complete(ctx context.Context, tx repository.Tx, q, key string, out model.PaymentOutcome, extra ...interface{}) (*model.Payment, error) {
	if !out.Status.IsTerminal() {
		return nil, domain.ErrInvalidArgument
	}
	args := append([]interface{}{key, string(out.Status), out.ReceiptNumber, decimalArg(out.PaidAmount),
		out.ResultCode, out.ResultDesc, out.CompletedAt}, extra...)
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	return r.scanUpdated(row)
}

func (r *paymentRepo) BackfillReceipt(ctx context.Context, tx repository.Tx, id string, out model.PaymentOutcome) (*model.Payment, error) {
	if out.ReceiptNumber == nil || *out.ReceiptNumber == "" {
		return nil, domain.ErrInvalidArgument
	}
	const q = `
UPDATE payments
   SET mpesa_receipt_number = $2,
       paid_amount = COALESCE(paid_amount, $3::numeric)
 WHERE id = $1
   AND status = 'completed'
   AND mpesa_receipt_number IS NULL
RETURNING ` + paymentCols + `;`
	row, err := pickRow(ctx, r.pool, tx, q, id, out.ReceiptNumber, decimalArg(out.PaidAmount))
	if err != nil {
		return nil, err
	}
	return r.scanUpdated(row)
}

// scanUpdated reads an UPDATE ... RETURNING row; no row means the condition did not hold.
func (r *paymentRepo) scanUpdated(row pgx.Row) (*model.Payment, error) {
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, mapError("payments", err)
	}
	return p, nil
}

func (r *paymentRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Payment, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	p, err := scanPayment(row)
	if err != nil {
		return nil, mapScanError(err)
	}
	return p, nil
}

func (r *paymentRepo) queryMany(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Payment, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapError("payments", err)
	}
	defer rows.Close()

	var out []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, mapScanError(err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("payments", err)
	}
	return out, nil
}
