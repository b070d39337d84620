package adapter

import (
	"context"

	"github.com/shopspring/decimal"
)

// STKPushRequest asks the provider to prompt the payer's handset for a PIN.
type STKPushRequest struct {
	Amount           decimal.Decimal
	Phone            string // normalized 2547XXXXXXXX
	AccountReference string
	Description      string
	CallbackURL      string // empty means the gateway default
}

// STKPushResult is the synchronous acknowledgment of an STK push.
// CheckoutRequestID is the correlation token later echoed by the callback.
type STKPushResult struct {
	MerchantRequestID   string
	CheckoutRequestID   string
	ResponseCode        string
	ResponseDescription string
	CustomerMessage     string
}

// STKQueryResult is the provider's view of an STK transaction.
// Pending is true while the payer has not answered the prompt yet.
type STKQueryResult struct {
	Pending    bool
	ResultCode int
	ResultDesc string
}

// PaymentGateway is the hex port for the M-Pesa (Daraja) provider.
type PaymentGateway interface {
	Name() string
	// STKPush initiates a Lipa Na M-Pesa Online prompt.
	STKPush(ctx context.Context, req STKPushRequest) (*STKPushResult, error)
	// STKQuery asks the provider for the state of a previously pushed checkout.
	STKQuery(ctx context.Context, checkoutRequestID string) (*STKQueryResult, error)
}
