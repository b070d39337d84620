//go:build !integration

package api

import (
	"context"

	"github.com/rs/zerolog"

	"dereva-billing/internal/domain/model"
	"dereva-billing/internal/usecase"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(nil)
	return &logger
}

type mockPaymentUC struct {
	InitiateFunc       func(ctx context.Context, in usecase.InitiateInput) (*model.Payment, error)
	LinkCheckoutFunc   func(ctx context.Context, in usecase.LinkInput) error
	HandleCallbackFunc func(ctx context.Context, cb *model.STKCallback) (*usecase.CallbackResult, error)
	StatusFunc         func(ctx context.Context, key string) (*model.Payment, error)
	ListByUserFunc     func(ctx context.Context, userID string) ([]*model.Payment, error)
	ListCallbacksFunc  func(ctx context.Context, outcome model.CallbackOutcome, limit int) ([]*model.CallbackLogEntry, error)

	callbacks []*model.STKCallback
}

func (m *mockPaymentUC) Initiate(ctx context.Context, in usecase.InitiateInput) (*model.Payment, error) {
	if m.InitiateFunc != nil {
		return m.InitiateFunc(ctx, in)
	}
	return &model.Payment{ID: "p-1"}, nil
}

func (m *mockPaymentUC) LinkCheckout(ctx context.Context, in usecase.LinkInput) error {
	if m.LinkCheckoutFunc != nil {
		return m.LinkCheckoutFunc(ctx, in)
	}
	return nil
}

func (m *mockPaymentUC) HandleCallback(ctx context.Context, cb *model.STKCallback) (*usecase.CallbackResult, error) {
	m.callbacks = append(m.callbacks, cb)
	if m.HandleCallbackFunc != nil {
		return m.HandleCallbackFunc(ctx, cb)
	}
	return &usecase.CallbackResult{Outcome: model.CallbackUnresolved}, nil
}

func (m *mockPaymentUC) ReconcileStale(ctx context.Context, p *model.Payment) (usecase.SweepAction, error) {
	return usecase.SweepSkipped, nil
}

func (m *mockPaymentUC) Status(ctx context.Context, key string) (*model.Payment, error) {
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx, key)
	}
	return nil, nil
}

func (m *mockPaymentUC) ListByUser(ctx context.Context, userID string) ([]*model.Payment, error) {
	if m.ListByUserFunc != nil {
		return m.ListByUserFunc(ctx, userID)
	}
	return nil, nil
}

func (m *mockPaymentUC) ListCallbacks(ctx context.Context, outcome model.CallbackOutcome, limit int) ([]*model.CallbackLogEntry, error) {
	if m.ListCallbacksFunc != nil {
		return m.ListCallbacksFunc(ctx, outcome, limit)
	}
	return nil, nil
}

func (m *mockPaymentUC) Config() usecase.PaymentConfig {
	return usecase.PaymentConfig{MonthlyPrice: 1, Currency: "KES", DurationDays: 30, Features: []string{"Offline access"}}
}

type mockEntitlementUC struct {
	GetFunc func(ctx context.Context, userID string) (*usecase.EntitlementView, error)
}

func (m *mockEntitlementUC) Get(ctx context.Context, userID string) (*usecase.EntitlementView, error) {
	return m.GetFunc(ctx, userID)
}

func (m *mockEntitlementUC) ExpireLapsed(ctx context.Context) (usecase.ExpiryReport, error) {
	return usecase.ExpiryReport{}, nil
}
