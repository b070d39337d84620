//go:build !integration

package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dereva-billing/internal/config"
	"dereva-billing/internal/domain"
	"dereva-billing/internal/domain/ports/adapter"
)

func newTestDaraja(t *testing.T, h http.Handler) *DarajaGateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	g, err := NewDarajaGateway(config.MpesaConfig{
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		Shortcode:      "174379",
		Passkey:        "pass",
		CallbackURL:    "https://example.test/payments/callback",
		Sandbox:        true,
		AccountRef:     "Dereva Smart",
	})
	if err != nil {
		t.Fatalf("NewDarajaGateway: %v", err)
	}
	g.SetBaseURL(srv.URL)
	g.now = func() time.Time { return time.Date(2024, 1, 2, 0, 4, 5, 0, time.UTC) }
	return g
}

func writeToken(w http.ResponseWriter) {
	_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok", "expires_in": "3599"})
}

func TestDarajaGateway_STKPush(t *testing.T) {
	var oauthCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&oauthCalls, 1)
		if u, p, ok := r.BasicAuth(); !ok || u != "key" || p != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeToken(w)
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		// 00:04:05 UTC is 03:04:05 EAT
		wantPw := base64.StdEncoding.EncodeToString([]byte("174379" + "pass" + "20240102030405"))
		if body["Password"] != wantPw || body["Timestamp"] != "20240102030405" {
			t.Errorf("bad password/timestamp: %v %v", body["Password"], body["Timestamp"])
		}
		if body["Amount"].(float64) != 2 || body["PhoneNumber"] != "254712345678" {
			t.Errorf("bad amount/phone: %v %v", body["Amount"], body["PhoneNumber"])
		}
		if body["CallBackURL"] != "https://example.test/payments/callback" || body["AccountReference"] != "Dereva Smart" {
			t.Errorf("defaults not applied: %v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"MerchantRequestID":   "m-1",
			"CheckoutRequestID":   "ws_abc",
			"ResponseCode":        "0",
			"ResponseDescription": "Success. Request accepted for processing",
			"CustomerMessage":     "Success. Request accepted for processing",
		})
	})
	g := newTestDaraja(t, mux)

	for i := 0; i < 2; i++ {
		res, err := g.STKPush(context.Background(), adapter.STKPushRequest{
			Amount: decimal.RequireFromString("1.50"),
			Phone:  "254712345678",
		})
		if err != nil {
			t.Fatalf("STKPush: %v", err)
		}
		if res.CheckoutRequestID != "ws_abc" || res.MerchantRequestID != "m-1" {
			t.Fatalf("unexpected result: %+v", res)
		}
	}
	if n := atomic.LoadInt32(&oauthCalls); n != 1 {
		t.Errorf("token should be cached, oauth called %d times", n)
	}
}

func TestDarajaGateway_STKPushRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) { writeToken(w) })
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"requestId": "r", "errorCode": "400.002.02", "errorMessage": "Bad Request - Invalid PhoneNumber"})
	})
	g := newTestDaraja(t, mux)
	_, err := g.STKPush(context.Background(), adapter.STKPushRequest{Amount: decimal.NewFromInt(1), Phone: "254700000000"})
	if !errors.Is(err, domain.ErrGatewayFailed) {
		t.Fatalf("expected ErrGatewayFailed, got %v", err)
	}
}

func TestDarajaGateway_STKQuery(t *testing.T) {
	var answer atomic.Value
	answer.Store("pending")
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) { writeToken(w) })
	mux.HandleFunc("/mpesa/stkpushquery/v1/query", func(w http.ResponseWriter, r *http.Request) {
		switch answer.Load().(string) {
		case "pending":
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"requestId": "r", "errorCode": "500.001.1001", "errorMessage": "The transaction is being processed"})
		case "cancelled":
			_ = json.NewEncoder(w).Encode(map[string]string{"ResponseCode": "0", "ResultCode": "1032", "ResultDesc": "Request cancelled by user"})
		}
	})
	g := newTestDaraja(t, mux)

	res, err := g.STKQuery(context.Background(), "ws_abc")
	if err != nil || !res.Pending {
		t.Fatalf("expected pending, got %+v err=%v", res, err)
	}

	answer.Store("cancelled")
	res, err = g.STKQuery(context.Background(), "ws_abc")
	if err != nil || res.Pending || res.ResultCode != 1032 {
		t.Fatalf("expected result 1032, got %+v err=%v", res, err)
	}

	if _, err := g.STKQuery(context.Background(), ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestNewDarajaGateway_RequiresCredentials(t *testing.T) {
	if _, err := NewDarajaGateway(config.MpesaConfig{ConsumerKey: "k"}); err == nil {
		t.Fatal("expected error for incomplete credentials")
	}
}
