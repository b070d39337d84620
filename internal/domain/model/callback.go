package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ResultCodeSuccess is the STK callback ResultCode for a settled payment.
const ResultCodeSuccess = 0

// STKCallback is the typed form of the provider webhook, extracted once at the boundary.
type STKCallback struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	Metadata          CallbackMetadata
	Raw               []byte // original body, kept for the audit log
}

// CallbackMetadata holds the fields of CallbackMetadata.Item[] we act on.
// All are absent on failed or cancelled payments.
type CallbackMetadata struct {
	ReceiptNumber   *string
	Amount          *decimal.Decimal
	PhoneNumber     *string
	TransactionDate *string
}

func (c *STKCallback) Succeeded() bool { return c.ResultCode == ResultCodeSuccess }

// Outcome converts the callback into the terminal transition it requests.
func (c *STKCallback) Outcome(now time.Time) PaymentOutcome {
	out := PaymentOutcome{
		Status:      PaymentStatusFailed,
		ResultCode:  c.ResultCode,
		ResultDesc:  c.ResultDesc,
		CompletedAt: now,
	}
	if c.Succeeded() {
		out.Status = PaymentStatusCompleted
		out.ReceiptNumber = c.Metadata.ReceiptNumber
		out.PaidAmount = c.Metadata.Amount
	}
	return out
}

// NormalizedPhone returns the payer phone reported by the provider in stored form for the
// given country code, or "". An empty code falls back to DefaultCountryCode.
func (c *STKCallback) NormalizedPhone(countryCode string) string {
	if c.Metadata.PhoneNumber == nil {
		return ""
	}
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	return NormalizePhoneWithCode(*c.Metadata.PhoneNumber, countryCode)
}

type CallbackOutcome string

const (
	CallbackMatchedToken CallbackOutcome = "matched_token"
	CallbackMatchedPhone CallbackOutcome = "matched_phone"
	CallbackUnresolved   CallbackOutcome = "unresolved"
	CallbackError        CallbackOutcome = "error"
)

// CallbackLogEntry is the audit row written for every callback delivery.
type CallbackLogEntry struct {
	ID                string // ULID
	CheckoutRequestID string
	ResultCode        int
	Outcome           CallbackOutcome
	PaymentID         *string
	Payload           []byte
	ReceivedAt        time.Time
}

// ResultCodeUnlinkedExpired marks payments failed locally because no checkout was
// ever linked and no callback arrived. It is not a provider code.
const ResultCodeUnlinkedExpired = -1
