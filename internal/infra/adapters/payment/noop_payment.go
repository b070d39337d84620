package payment

import (
	"context"
	"fmt"
	"sync"

	"dereva-billing/internal/domain"
	"dereva-billing/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*NoopPaymentGateway)(nil)

// NoopPaymentGateway is an in-memory gateway used when Daraja is not configured
// and in tests. Checkouts stay pending until Resolve is called.
type NoopPaymentGateway struct {
	mu      sync.Mutex
	seq     int64
	results map[string]*adapter.STKQueryResult
}

func NewNoopPaymentGateway() *NoopPaymentGateway {
	return &NoopPaymentGateway{results: make(map[string]*adapter.STKQueryResult)}
}

func (g *NoopPaymentGateway) Name() string { return "noop" }

func (g *NoopPaymentGateway) STKPush(ctx context.Context, req adapter.STKPushRequest) (*adapter.STKPushResult, error) {
	if req.Phone == "" || !req.Amount.IsPositive() {
		return nil, domain.ErrInvalidArgument
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	id := fmt.Sprintf("ws_CO_noop_%d", g.seq)
	g.results[id] = &adapter.STKQueryResult{Pending: true}
	return &adapter.STKPushResult{
		MerchantRequestID:   fmt.Sprintf("noop-%d", g.seq),
		CheckoutRequestID:   id,
		ResponseCode:        "0",
		ResponseDescription: "Success. Request accepted for processing",
		CustomerMessage:     "Success. Request accepted for processing",
	}, nil
}

func (g *NoopPaymentGateway) STKQuery(ctx context.Context, checkoutRequestID string) (*adapter.STKQueryResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.results[checkoutRequestID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown checkout %s", domain.ErrGatewayFailed, checkoutRequestID)
	}
	cp := *r
	return &cp, nil
}

// Resolve sets the answer STKQuery will give for a checkout.
func (g *NoopPaymentGateway) Resolve(checkoutRequestID string, resultCode int, desc string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.results[checkoutRequestID] = &adapter.STKQueryResult{ResultCode: resultCode, ResultDesc: desc}
}
