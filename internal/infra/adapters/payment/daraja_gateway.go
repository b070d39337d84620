package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"dereva-billing/internal/config"
	"dereva-billing/internal/domain"
	"dereva-billing/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*DarajaGateway)(nil)

const (
	darajaSandboxBase    = "https://sandbox.safaricom.co.ke"
	darajaProductionBase = "https://api.safaricom.co.ke"

	// errorCode Daraja returns from STK query while the payer has not answered yet.
	darajaStillProcessing = "500.001.1001"
)

// Daraja timestamps are East Africa Time.
var eat = time.FixedZone("EAT", 3*60*60)

// DarajaGateway implements adapter.PaymentGateway against Safaricom's Daraja API
// (OAuth client credentials, STK push, STK query).
type DarajaGateway struct {
	consumerKey    string
	consumerSecret string
	shortcode      string
	passkey        string
	callback       string
	accountRef     string
	baseURL        string
	client         *http.Client
	now            func() time.Time

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

func NewDarajaGateway(cfg config.MpesaConfig) (*DarajaGateway, error) {
	if !cfg.Enabled() {
		return nil, errors.New("daraja credentials incomplete")
	}
	if cfg.CallbackURL != "" {
		if _, err := url.Parse(cfg.CallbackURL); err != nil {
			return nil, fmt.Errorf("invalid callback url: %w", err)
		}
	}
	base := darajaProductionBase
	if cfg.Sandbox {
		base = darajaSandboxBase
	}
	return &DarajaGateway{
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
		shortcode:      cfg.Shortcode,
		passkey:        cfg.Passkey,
		callback:       cfg.CallbackURL,
		accountRef:     cfg.AccountRef,
		baseURL:        base,
		client:         &http.Client{Timeout: 15 * time.Second},
		now:            time.Now,
	}, nil
}

// SetBaseURL points the gateway at another host (tests, proxies).
func (g *DarajaGateway) SetBaseURL(u string) { g.baseURL = u }

func (g *DarajaGateway) Name() string { return "mpesa" }

// password returns base64(shortcode+passkey+timestamp) and the timestamp used.
func (g *DarajaGateway) password() (string, string) {
	ts := g.now().In(eat).Format("20060102150405")
	return base64.StdEncoding.EncodeToString([]byte(g.shortcode + g.passkey + ts)), ts
}

// accessToken returns a cached OAuth token, refreshing it a minute before expiry.
func (g *DarajaGateway) accessToken(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.token != "" && g.now().Before(g.tokenExp) {
		return g.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(g.consumerKey, g.consumerSecret)
	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: oauth: %v", domain.ErrGatewayFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: oauth http %d", domain.ErrGatewayFailed, resp.StatusCode)
	}
	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: oauth decode: %v", domain.ErrGatewayFailed, err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("%w: oauth returned empty token", domain.ErrGatewayFailed)
	}
	ttl := 3599
	if n, err := strconv.Atoi(out.ExpiresIn); err == nil && n > 0 {
		ttl = n
	}
	g.token = out.AccessToken
	g.tokenExp = g.now().Add(time.Duration(ttl)*time.Second - time.Minute)
	return g.token, nil
}

func (g *DarajaGateway) post(ctx context.Context, path string, payload any, out any) (int, error) {
	token, err := g.accessToken(ctx)
	if err != nil {
		return 0, err
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := g.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", domain.ErrGatewayFailed, path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("%w: %s: %v", domain.ErrGatewayFailed, path, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return resp.StatusCode, fmt.Errorf("%w: %s: http %d: %v", domain.ErrGatewayFailed, path, resp.StatusCode, err)
	}
	return resp.StatusCode, nil
}

type darajaError struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// STKPush sends a CustomerPayBillOnline prompt. Daraja only accepts whole shillings,
// so fractional amounts are rounded up.
func (g *DarajaGateway) STKPush(ctx context.Context, in adapter.STKPushRequest) (*adapter.STKPushResult, error) {
	if in.Phone == "" || !in.Amount.IsPositive() {
		return nil, domain.ErrInvalidArgument
	}
	callback := in.CallbackURL
	if callback == "" {
		callback = g.callback
	}
	ref := in.AccountReference
	if ref == "" {
		ref = g.accountRef
	}
	desc := in.Description
	if desc == "" {
		desc = "Subscription"
	}
	pw, ts := g.password()
	payload := map[string]any{
		"BusinessShortCode": g.shortcode,
		"Password":          pw,
		"Timestamp":         ts,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            in.Amount.Ceil().IntPart(),
		"PartyA":            in.Phone,
		"PartyB":            g.shortcode,
		"PhoneNumber":       in.Phone,
		"CallBackURL":       callback,
		"AccountReference":  ref,
		"TransactionDesc":   desc,
	}
	var out struct {
		adapter.STKPushResult
		darajaError
	}
	status, err := g.post(ctx, "/mpesa/stkpush/v1/processrequest", payload, &out)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK || out.ResponseCode != "0" || out.CheckoutRequestID == "" {
		msg := out.ErrorMessage
		if msg == "" {
			msg = out.ResponseDescription
		}
		return nil, fmt.Errorf("%w: stk push http %d: %s", domain.ErrGatewayFailed, status, msg)
	}
	res := out.STKPushResult
	return &res, nil
}

// STKQuery reports the state of a pushed checkout.
func (g *DarajaGateway) STKQuery(ctx context.Context, checkoutRequestID string) (*adapter.STKQueryResult, error) {
	if checkoutRequestID == "" {
		return nil, domain.ErrInvalidArgument
	}
	pw, ts := g.password()
	payload := map[string]any{
		"BusinessShortCode": g.shortcode,
		"Password":          pw,
		"Timestamp":         ts,
		"CheckoutRequestID": checkoutRequestID,
	}
	var out struct {
		ResponseCode string `json:"ResponseCode"`
		ResultCode   string `json:"ResultCode"`
		ResultDesc   string `json:"ResultDesc"`
		darajaError
	}
	status, err := g.post(ctx, "/mpesa/stkpushquery/v1/query", payload, &out)
	if err != nil {
		return nil, err
	}
	if out.ErrorCode == darajaStillProcessing {
		return &adapter.STKQueryResult{Pending: true, ResultDesc: out.ErrorMessage}, nil
	}
	if status != http.StatusOK || out.ResultCode == "" {
		return nil, fmt.Errorf("%w: stk query http %d: %s", domain.ErrGatewayFailed, status, out.ErrorMessage)
	}
	code, err := strconv.Atoi(out.ResultCode)
	if err != nil {
		return nil, fmt.Errorf("%w: stk query result code %q", domain.ErrGatewayFailed, out.ResultCode)
	}
	return &adapter.STKQueryResult{ResultCode: code, ResultDesc: out.ResultDesc}, nil
}
