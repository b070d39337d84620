package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"dereva-billing/internal/domain"
	"dereva-billing/internal/domain/model"
)

type stkEnvelope struct {
	Body struct {
		StkCallback *struct {
			MerchantRequestID string          `json:"MerchantRequestID"`
			CheckoutRequestID string          `json:"CheckoutRequestID"`
			ResultCode        json.RawMessage `json:"ResultCode"`
			ResultDesc        string          `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []struct {
					Name  string          `json:"Name"`
					Value json.RawMessage `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseSTKCallback decodes a Daraja STK callback body into its typed form.
// Item values arrive as JSON numbers or strings depending on the field and environment;
// both are accepted and kept verbatim.
func ParseSTKCallback(raw []byte) (*model.STKCallback, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var env stkEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: callback body: %v", domain.ErrInvalidArgument, err)
	}
	cb := env.Body.StkCallback
	if cb == nil {
		return nil, fmt.Errorf("%w: missing Body.stkCallback", domain.ErrInvalidArgument)
	}

	code, ok := scalar(cb.ResultCode)
	if !ok {
		return nil, fmt.Errorf("%w: missing ResultCode", domain.ErrInvalidArgument)
	}
	resultCode, err := strconv.Atoi(code)
	if err != nil {
		return nil, fmt.Errorf("%w: ResultCode %q", domain.ErrInvalidArgument, code)
	}

	out := &model.STKCallback{
		MerchantRequestID: cb.MerchantRequestID,
		CheckoutRequestID: strings.TrimSpace(cb.CheckoutRequestID),
		ResultCode:        resultCode,
		ResultDesc:        cb.ResultDesc,
		Raw:               raw,
	}
	if cb.CallbackMetadata == nil {
		return out, nil
	}
	for _, it := range cb.CallbackMetadata.Item {
		v, ok := scalar(it.Value)
		if !ok {
			continue
		}
		switch it.Name {
		case "MpesaReceiptNumber":
			out.Metadata.ReceiptNumber = &v
		case "Amount":
			d, err := decimal.NewFromString(v)
			if err != nil {
				return nil, fmt.Errorf("%w: Amount %q", domain.ErrInvalidArgument, v)
			}
			out.Metadata.Amount = &d
		case "PhoneNumber":
			out.Metadata.PhoneNumber = &v
		case "TransactionDate":
			out.Metadata.TransactionDate = &v
		}
	}
	return out, nil
}

// scalar returns the textual value of a JSON string or number.
func scalar(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		s = strings.TrimSpace(s)
		return s, s != ""
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", false
	}
	return n.String(), true
}
