package postgres

import (
	"context"
	"encoding/json"
	"time"

	"dereva-billing/internal/domain/model"
	"dereva-billing/internal/domain/ports/repository"
	"dereva-billing/internal/infra/metrics"
	red "dereva-billing/internal/infra/redis"
)

var _ repository.PaymentRepository = (*paymentRepoCacheDecorator)(nil)

// paymentRepoCacheDecorator serves status lookups from Redis. Only terminal payments
// are cached. The one later write to a terminal row, a receipt backfill, drops its keys.
// Reads inside a transaction always go to the database so row locks are taken.
type paymentRepoCacheDecorator struct {
	repository.PaymentRepository
	cache red.RedisClient
	ttl   time.Duration
}

func NewPaymentRepoCacheDecorator(inner repository.PaymentRepository, cache red.RedisClient, ttl time.Duration) repository.PaymentRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &paymentRepoCacheDecorator{PaymentRepository: inner, cache: cache, ttl: ttl}
}

func paymentKey(id string) string       { return "payment:id:" + id }
func paymentTokenKey(tok string) string { return "payment:checkout:" + tok }

func (d *paymentRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	if tx != nil {
		return d.PaymentRepository.FindByID(ctx, tx, id)
	}
	return d.cached(ctx, paymentKey(id), func() (*model.Payment, error) {
		return d.PaymentRepository.FindByID(ctx, tx, id)
	})
}

func (d *paymentRepoCacheDecorator) FindByCheckoutRequestID(ctx context.Context, tx repository.Tx, checkoutRequestID string) (*model.Payment, error) {
	if tx != nil {
		return d.PaymentRepository.FindByCheckoutRequestID(ctx, tx, checkoutRequestID)
	}
	return d.cached(ctx, paymentTokenKey(checkoutRequestID), func() (*model.Payment, error) {
		return d.PaymentRepository.FindByCheckoutRequestID(ctx, tx, checkoutRequestID)
	})
}

func (d *paymentRepoCacheDecorator) cached(ctx context.Context, key string, load func() (*model.Payment, error)) (*model.Payment, error) {
	val, err := d.cache.Get(ctx, key)
	switch {
	case err == nil:
		var p model.Payment
		if json.Unmarshal([]byte(val), &p) == nil {
			metrics.IncCacheRequest("payment", "hit")
			return &p, nil
		}
	case !red.IsNil(err):
		metrics.IncCacheRequest("payment", "error")
	}

	metrics.IncCacheRequest("payment", "miss")
	p, err := load()
	if err != nil {
		return nil, err
	}
	if p != nil && p.Status.IsTerminal() {
		if b, err := json.Marshal(p); err == nil {
			_ = d.cache.Set(ctx, key, b, d.ttl)
		}
	}
	return p, nil
}

func (d *paymentRepoCacheDecorator) BackfillReceipt(ctx context.Context, tx repository.Tx, id string, out model.PaymentOutcome) (*model.Payment, error) {
	p, err := d.PaymentRepository.BackfillReceipt(ctx, tx, id, out)
	if err != nil || p == nil {
		return p, err
	}
	keys := []string{paymentKey(p.ID)}
	if p.CheckoutRequestID != nil {
		keys = append(keys, paymentTokenKey(*p.CheckoutRequestID))
	}
	if err := d.cache.Del(ctx, keys...); err != nil {
		metrics.IncCacheRequest("payment", "error")
	}
	return p, nil
}
