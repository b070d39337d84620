package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"dereva-billing/internal/domain/model"
	"dereva-billing/internal/domain/ports/repository"
)

var _ repository.CallbackLogRepository = (*callbackLogRepo)(nil)

type callbackLogRepo struct{ pool *pgxpool.Pool }

func NewCallbackLogRepo(pool *pgxpool.Pool) *callbackLogRepo {
	return &callbackLogRepo{pool: pool}
}

func (r *callbackLogRepo) Save(ctx context.Context, tx repository.Tx, e *model.CallbackLogEntry) error {
	const q = `
INSERT INTO payment_callbacks (id, checkout_request_id, result_code, outcome, payment_id, payload, received_at)
VALUES ($1,$2,$3,$4,$5,$6::jsonb,$7);`
	payload := string(e.Payload)
	if payload == "" {
		payload = "{}"
	}
	_, err := execSQL(ctx, r.pool, tx, q, e.ID, e.CheckoutRequestID, e.ResultCode, string(e.Outcome), e.PaymentID, payload, e.ReceivedAt)
	return mapError("payment_callbacks", err)
}

func (r *callbackLogRepo) ListByOutcome(ctx context.Context, tx repository.Tx, outcome model.CallbackOutcome, limit int) ([]*model.CallbackLogEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	const q = `
SELECT id, checkout_request_id, result_code, outcome, payment_id, payload::text, received_at
  FROM payment_callbacks
 WHERE outcome=$1
 ORDER BY id DESC
 LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, string(outcome), limit)
	if err != nil {
		return nil, mapError("payment_callbacks", err)
	}
	defer rows.Close()

	var out []*model.CallbackLogEntry
	for rows.Next() {
		var (
			e       model.CallbackLogEntry
			payload string
		)
		if err := rows.Scan(&e.ID, &e.CheckoutRequestID, &e.ResultCode, &e.Outcome, &e.PaymentID, &payload, &e.ReceivedAt); err != nil {
			return nil, mapScanError(err)
		}
		e.Payload = []byte(payload)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("payment_callbacks", err)
	}
	return out, nil
}
