package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dereva-billing/internal/config"
	"dereva-billing/internal/domain/model"
	"dereva-billing/internal/domain/ports/adapter"
	"dereva-billing/internal/infra/adapters/payment"
	"dereva-billing/internal/infra/logging"
)

// simulate walks the client side of a purchase against a running service:
// initiate, STK push, link-checkout, then polls status. With the noop gateway it
// also posts a synthetic success callback.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	base := flag.String("base", "http://localhost:8080", "service base URL")
	userID := flag.String("user", "demo-user", "user id")
	phone := flag.String("phone", "0712345678", "payer phone")
	amount := flag.String("amount", "1", "amount in KES")
	subType := flag.String("type", model.SubscriptionTypeMonthly, "subscription type")
	wait := flag.Duration("wait", 90*time.Second, "how long to poll for a terminal status")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, true)
	amt, err := decimal.NewFromString(*amount)
	if err != nil {
		logger.Fatal().Err(err).Msg("amount")
	}

	var gw adapter.PaymentGateway
	if cfg.Mpesa.Enabled() {
		if gw, err = payment.NewDarajaGateway(cfg.Mpesa); err != nil {
			logger.Fatal().Err(err).Msg("daraja gateway")
		}
	} else {
		gw = payment.NewNoopPaymentGateway()
	}

	ctx, cancel := context.WithTimeout(context.Background(), *wait+30*time.Second)
	defer cancel()
	c := &client{base: strings.TrimRight(*base, "/"), http: &http.Client{Timeout: 15 * time.Second}}

	paymentID := uuid.NewString()
	var initRes struct {
		Success   bool   `json:"success"`
		PaymentID string `json:"payment_id"`
	}
	if err := c.post(ctx, "/payments/initiate", map[string]any{
		"id": paymentID, "phone": *phone, "amount": amt, "user_id": *userID, "type": *subType,
	}, &initRes); err != nil {
		logger.Fatal().Err(err).Msg("initiate")
	}
	logger.Info().Str("payment_id", initRes.PaymentID).Msg("payment initiated")

	normalized := model.NormalizePhoneWithCode(*phone, cfg.Mpesa.CountryCode)
	push, err := gw.STKPush(ctx, adapter.STKPushRequest{
		Amount:      amt,
		Phone:       normalized,
		Description: "Subscription " + *subType,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("stk push")
	}
	logger.Info().Str("gateway", gw.Name()).Str("checkout_request_id", push.CheckoutRequestID).
		Str("message", push.CustomerMessage).Msg("stk push accepted")

	if err := c.post(ctx, "/payments/link-checkout", map[string]string{
		"id": initRes.PaymentID, "checkout_request_id": push.CheckoutRequestID,
	}, nil); err != nil {
		logger.Fatal().Err(err).Msg("link checkout")
	}

	if gw.Name() == "noop" {
		if err := c.post(ctx, "/payments/callback", syntheticCallback(push, amt, normalized), nil); err != nil {
			logger.Fatal().Err(err).Msg("synthetic callback")
		}
	}

	status := pollStatus(ctx, c, initRes.PaymentID, *wait, logger)
	logger.Info().Str("status", status).Msg("done")
}

func pollStatus(ctx context.Context, c *client, id string, wait time.Duration, logger *zerolog.Logger) string {
	deadline := time.Now().Add(wait)
	for {
		var st struct {
			Status  string  `json:"status"`
			Receipt *string `json:"mpesa_receipt_number"`
		}
		if err := c.get(ctx, "/payments/status/"+id, &st); err != nil {
			logger.Warn().Err(err).Msg("status")
		} else if st.Status != string(model.PaymentStatusPending) {
			if st.Receipt != nil {
				logger.Info().Str("receipt", *st.Receipt).Msg("payment settled")
			}
			return st.Status
		}
		if time.Now().After(deadline) {
			return string(model.PaymentStatusPending)
		}
		select {
		case <-ctx.Done():
			return string(model.PaymentStatusPending)
		case <-time.After(3 * time.Second):
		}
	}
}

func syntheticCallback(push *adapter.STKPushResult, amt decimal.Decimal, phone string) map[string]any {
	return map[string]any{"Body": map[string]any{"stkCallback": map[string]any{
		"MerchantRequestID": push.MerchantRequestID,
		"CheckoutRequestID": push.CheckoutRequestID,
		"ResultCode":        0,
		"ResultDesc":        "The service request is processed successfully.",
		"CallbackMetadata": map[string]any{"Item": []map[string]any{
			{"Name": "Amount", "Value": amt},
			{"Name": "MpesaReceiptNumber", "Value": "SIM" + strings.ToUpper(uuid.NewString()[:7])},
			{"Name": "TransactionDate", "Value": time.Now().Format("20060102150405")},
			{"Name": "PhoneNumber", "Value": phone},
		}},
	}}}
}

type client struct {
	base string
	http *http.Client
}

func (c *client) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %d %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(b, out)
}
