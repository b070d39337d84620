//go:build !integration

package postgres

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"dereva-billing/internal/domain/model"
	"dereva-billing/internal/domain/ports/repository"
	red "dereva-billing/internal/infra/redis"
)

// --- Mocks for Cache Decorator Tests ---

// mockInnerPaymentRepo mocks the database repository that the payment decorator wraps.
type mockInnerPaymentRepo struct {
	FindByIDFunc                func(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error)
	FindByCheckoutRequestIDFunc func(ctx context.Context, tx repository.Tx, token string) (*model.Payment, error)
	BackfillReceiptFunc         func(ctx context.Context, tx repository.Tx, id string, out model.PaymentOutcome) (*model.Payment, error)
	findCalls                   int
}

func (m *mockInnerPaymentRepo) Create(ctx context.Context, tx repository.Tx, p *model.Payment) (bool, error) {
	return true, nil
}
func (m *mockInnerPaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	m.findCalls++
	return m.FindByIDFunc(ctx, tx, id)
}
func (m *mockInnerPaymentRepo) FindByCheckoutRequestID(ctx context.Context, tx repository.Tx, token string) (*model.Payment, error) {
	m.findCalls++
	return m.FindByCheckoutRequestIDFunc(ctx, tx, token)
}
func (m *mockInnerPaymentRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Payment, error) {
	return nil, nil
}
func (m *mockInnerPaymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	return nil, nil
}
func (m *mockInnerPaymentRepo) SetCheckoutRequestID(ctx context.Context, tx repository.Tx, id, token string) (bool, error) {
	return true, nil
}
func (m *mockInnerPaymentRepo) CompleteByCheckoutRequestID(ctx context.Context, tx repository.Tx, token string, out model.PaymentOutcome) (*model.Payment, error) {
	return nil, nil
}
func (m *mockInnerPaymentRepo) CompleteUnlinkedByPhone(ctx context.Context, tx repository.Tx, phone, checkoutRequestID string, out model.PaymentOutcome) (*model.Payment, error) {
	return nil, nil
}
func (m *mockInnerPaymentRepo) BackfillReceipt(ctx context.Context, tx repository.Tx, id string, out model.PaymentOutcome) (*model.Payment, error) {
	if m.BackfillReceiptFunc == nil {
		return nil, nil
	}
	return m.BackfillReceiptFunc(ctx, tx, id, out)
}
func (m *mockInnerPaymentRepo) CompleteByID(ctx context.Context, tx repository.Tx, id string, out model.PaymentOutcome) (*model.Payment, error) {
	return nil, nil
}

var redisNil = redis.Nil

// mockRedisClient is an in-memory stand-in for red.RedisClient.
type mockRedisClient struct {
	data    map[string]string
	GetFunc func(ctx context.Context, key string) (string, error)
	sets    int
}

var _ red.RedisClient = (*mockRedisClient)(nil)

func newMockRedis() *mockRedisClient { return &mockRedisClient{data: map[string]string{}} }

func (m *mockRedisClient) Ping(ctx context.Context) error { return nil }
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, exp time.Duration) error {
	m.sets++
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	case string:
		m.data[key] = v
	}
	return nil
}
func (m *mockRedisClient) SetNX(ctx context.Context, key string, value interface{}, exp time.Duration) (bool, error) {
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	return true, m.Set(ctx, key, value, exp)
}
func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", redisNil
}
func (m *mockRedisClient) Incr(ctx context.Context, key string) (int64, error) { return 1, nil }
func (m *mockRedisClient) Expire(ctx context.Context, key string, exp time.Duration) error {
	return nil
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}
func (m *mockRedisClient) Close() error { return nil }
