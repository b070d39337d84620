//go:build !integration

package payment

import (
	"errors"
	"testing"
	"time"

	"dereva-billing/internal/domain"
	"dereva-billing/internal/domain/model"
)

const successBody = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_abc",
      "ResultCode": 0,
      "ResultDesc": "The service request is processed successfully.",
      "CallbackMetadata": {
        "Item": [
          {"Name": "Amount", "Value": 1.00},
          {"Name": "MpesaReceiptNumber", "Value": "R123"},
          {"Name": "Balance"},
          {"Name": "TransactionDate", "Value": 20191219102115},
          {"Name": "PhoneNumber", "Value": 254712345678}
        ]
      }
    }
  }
}`

func TestParseSTKCallback(t *testing.T) {
	t.Run("success with numeric values", func(t *testing.T) {
		cb, err := ParseSTKCallback([]byte(successBody))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !cb.Succeeded() || cb.CheckoutRequestID != "ws_abc" {
			t.Fatalf("unexpected callback: %+v", cb)
		}
		if cb.Metadata.ReceiptNumber == nil || *cb.Metadata.ReceiptNumber != "R123" {
			t.Errorf("receipt not parsed: %v", cb.Metadata.ReceiptNumber)
		}
		if cb.Metadata.Amount == nil || cb.Metadata.Amount.String() != "1" {
			t.Errorf("amount not parsed: %v", cb.Metadata.Amount)
		}
		if cb.NormalizedPhone("254") != "254712345678" {
			t.Errorf("phone not parsed: %q", cb.NormalizedPhone("254"))
		}
		if cb.Metadata.TransactionDate == nil || *cb.Metadata.TransactionDate != "20191219102115" {
			t.Errorf("transaction date not parsed: %v", cb.Metadata.TransactionDate)
		}
	})

	t.Run("string values and string result code", func(t *testing.T) {
		body := `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_x","ResultCode":"0","ResultDesc":"ok",
			"CallbackMetadata":{"Item":[{"Name":"Amount","Value":"250.50"},{"Name":"PhoneNumber","Value":"0712345678"}]}}}}`
		cb, err := ParseSTKCallback([]byte(body))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cb.ResultCode != 0 || cb.Metadata.Amount.String() != "250.5" {
			t.Errorf("unexpected parse: code=%d amount=%v", cb.ResultCode, cb.Metadata.Amount)
		}
		if cb.NormalizedPhone("254") != "254712345678" {
			t.Errorf("phone should normalize, got %q", cb.NormalizedPhone("254"))
		}
	})

	t.Run("cancelled payment has no metadata", func(t *testing.T) {
		body := `{"Body":{"stkCallback":{"MerchantRequestID":"m","CheckoutRequestID":"ws_c","ResultCode":1032,"ResultDesc":"Request cancelled by user"}}}`
		cb, err := ParseSTKCallback([]byte(body))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cb.Succeeded() || cb.ResultCode != 1032 {
			t.Fatalf("unexpected callback: %+v", cb)
		}
		if cb.Outcome(time.Now()).Status != model.PaymentStatusFailed {
			t.Error("cancelled callback must map to failed")
		}
	})

	t.Run("malformed envelopes", func(t *testing.T) {
		for name, body := range map[string]string{
			"not json":       `{`,
			"no stkCallback": `{"Body":{}}`,
			"no result code": `{"Body":{"stkCallback":{"CheckoutRequestID":"ws"}}}`,
			"bad amount":     `{"Body":{"stkCallback":{"ResultCode":0,"CallbackMetadata":{"Item":[{"Name":"Amount","Value":"abc"}]}}}}`,
		} {
			if _, err := ParseSTKCallback([]byte(body)); !errors.Is(err, domain.ErrInvalidArgument) {
				t.Errorf("%s: expected ErrInvalidArgument, got %v", name, err)
			}
		}
	})
}
