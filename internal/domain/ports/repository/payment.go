package repository

import (
	"context"
	"time"

	"dereva-billing/internal/domain/model"
)

// -----------------------------
// Payments
// -----------------------------

type PaymentRepository interface {
	// Create inserts a new payment. It returns false (and no error) when a row with
	// the same id already exists. Other uniqueness violations return domain.ErrConflict.
	Create(ctx context.Context, tx Tx, p *model.Payment) (bool, error)
	FindByID(ctx context.Context, tx Tx, id string) (*model.Payment, error)
	FindByCheckoutRequestID(ctx context.Context, tx Tx, checkoutRequestID string) (*model.Payment, error)
	ListByUser(ctx context.Context, tx Tx, userID string) ([]*model.Payment, error)
	ListPendingOlderThan(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.Payment, error)

	// SetCheckoutRequestID attaches the correlation token while the payment is still pending.
	// It returns false when no pending row with that id exists.
	SetCheckoutRequestID(ctx context.Context, tx Tx, id, checkoutRequestID string) (bool, error)

	// CompleteByCheckoutRequestID applies the outcome to the pending payment carrying the token.
	// The write is conditioned on status='pending'; it returns (nil, nil) when nothing changed.
	CompleteByCheckoutRequestID(ctx context.Context, tx Tx, checkoutRequestID string, out model.PaymentOutcome) (*model.Payment, error)

	// CompleteUnlinkedByPhone applies the outcome to the pending payment for the phone that has
	// no correlation token yet. Same conditional semantics as CompleteByCheckoutRequestID.
	// A non-empty checkoutRequestID is stamped on the row so redeliveries resolve by token.
	CompleteUnlinkedByPhone(ctx context.Context, tx Tx, phone, checkoutRequestID string, out model.PaymentOutcome) (*model.Payment, error)

	// CompleteByID applies the outcome to a pending payment by id (used by the sweeper).
	CompleteByID(ctx context.Context, tx Tx, id string, out model.PaymentOutcome) (*model.Payment, error)

	// BackfillReceipt records the receipt (and settled amount, if still unset) on a completed
	// payment that has none, e.g. one settled from a status query. Returns (nil, nil) when
	// the payment is not completed or already carries a receipt.
	BackfillReceipt(ctx context.Context, tx Tx, id string, out model.PaymentOutcome) (*model.Payment, error)
}

// CallbackLogRepository stores every provider callback for audit and manual reconciliation.
type CallbackLogRepository interface {
	Save(ctx context.Context, tx Tx, e *model.CallbackLogEntry) error
	ListByOutcome(ctx context.Context, tx Tx, outcome model.CallbackOutcome, limit int) ([]*model.CallbackLogEntry, error)
}
