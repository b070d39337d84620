package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"   // created; awaiting the provider callback
	PaymentStatusCompleted PaymentStatus = "completed" // provider reported success
	PaymentStatusFailed    PaymentStatus = "failed"    // declined, cancelled or expired
)

// IsTerminal reports whether s is an absorbing state.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed
}

const PaymentMethodMpesa = "mpesa"

// Payment records one attempted money transfer through M-Pesa STK push.
type Payment struct {
	ID                 string          // caller-supplied or UUID
	UserID             string          // owner
	PhoneNumber        string          // normalized 2547XXXXXXXX
	Amount             decimal.Decimal // as requested, verbatim
	Currency           string          // "KES"
	Method             string          // "mpesa"
	SubscriptionType   string          // e.g. "monthly"
	SubscriptionMonths int             // duration carried to activation
	CheckoutRequestID  *string         // provider correlation token; nil until linked
	Status             PaymentStatus
	ReceiptNumber      *string          // MpesaReceiptNumber, success only
	PaidAmount         *decimal.Decimal // settled amount reported by provider, verbatim
	ResultCode         *int
	ResultDesc         *string
	CreatedAt          time.Time
	CompletedAt        *time.Time // set when terminal
}

// IsLinked reports whether the provider correlation token is attached.
func (p *Payment) IsLinked() bool {
	return p.CheckoutRequestID != nil && *p.CheckoutRequestID != ""
}

// PaymentOutcome is the terminal transition applied to a pending payment.
type PaymentOutcome struct {
	Status        PaymentStatus
	ReceiptNumber *string
	PaidAmount    *decimal.Decimal
	ResultCode    int
	ResultDesc    string
	CompletedAt   time.Time
}
