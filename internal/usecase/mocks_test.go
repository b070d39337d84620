//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"dereva-billing/internal/domain"
	"dereva-billing/internal/domain/model"
	"dereva-billing/internal/domain/ports/adapter"
	"dereva-billing/internal/domain/ports/repository"
)

// =============================
// Infra helpers for tests
// =============================

// ---- Mock TransactionManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs fn immediately with NoTX unless WithTxFunc is set.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

func strPtr(s string) *string { return &s }

// =============================
// Payments
// =============================

// MockPaymentRepo keeps payments in memory and mirrors the storage constraints:
// unique CheckoutRequestID, unique receipt, one unlinked pending payment per phone,
// and compare-and-set completion.
type MockPaymentRepo struct {
	mu   sync.Mutex
	data map[string]*model.Payment

	CreateFunc                      func(ctx context.Context, tx repository.Tx, p *model.Payment) (bool, error)
	FindByIDFunc                    func(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error)
	CompleteByCheckoutRequestIDFunc func(ctx context.Context, tx repository.Tx, token string, out model.PaymentOutcome) (*model.Payment, error)
	CompleteUnlinkedByPhoneCalls    int
	BackfillReceiptCalls            int
}

var _ repository.PaymentRepository = (*MockPaymentRepo)(nil)

func NewMockPaymentRepo() *MockPaymentRepo {
	return &MockPaymentRepo{data: map[string]*model.Payment{}}
}

// Put stores p as-is (test setup).
func (r *MockPaymentRepo) Put(p *model.Payment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.data[p.ID] = &cp
}

// Get returns a copy of the stored payment or nil.
func (r *MockPaymentRepo) Get(id string) *model.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.data[id]; ok {
		cp := *p
		return &cp
	}
	return nil
}

func (r *MockPaymentRepo) snapshot() map[string]model.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := make(map[string]model.Payment, len(r.data))
	for k, v := range r.data {
		s[k] = *v
	}
	return s
}

func (r *MockPaymentRepo) restore(s map[string]model.Payment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = make(map[string]*model.Payment, len(s))
	for k, v := range s {
		cp := v
		r.data[k] = &cp
	}
}

func (r *MockPaymentRepo) Create(ctx context.Context, tx repository.Tx, p *model.Payment) (bool, error) {
	if r.CreateFunc != nil {
		return r.CreateFunc(ctx, tx, p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[p.ID]; ok {
		return false, nil
	}
	for _, o := range r.data {
		if p.IsLinked() && o.IsLinked() && *o.CheckoutRequestID == *p.CheckoutRequestID {
			return false, domain.ErrConflict
		}
		if !p.IsLinked() && !o.IsLinked() && o.Status == model.PaymentStatusPending && o.PhoneNumber == p.PhoneNumber {
			return false, domain.ErrConflict
		}
	}
	cp := *p
	r.data[p.ID] = &cp
	return true, nil
}

func (r *MockPaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	if r.FindByIDFunc != nil {
		return r.FindByIDFunc(ctx, tx, id)
	}
	if p := r.Get(id); p != nil {
		return p, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockPaymentRepo) FindByCheckoutRequestID(ctx context.Context, tx repository.Tx, token string) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.data {
		if p.IsLinked() && *p.CheckoutRequestID == token {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockPaymentRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Payment
	for _, p := range r.data {
		if p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MockPaymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Payment
	for _, p := range r.data {
		if p.Status == model.PaymentStatusPending && p.CreatedAt.Before(olderThan) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockPaymentRepo) SetCheckoutRequestID(ctx context.Context, tx repository.Tx, id, token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.data {
		if o.ID != id && o.IsLinked() && *o.CheckoutRequestID == token {
			return false, domain.ErrConflict
		}
	}
	p, ok := r.data[id]
	if !ok || p.Status != model.PaymentStatusPending {
		return false, nil
	}
	tok := token
	p.CheckoutRequestID = &tok
	return true, nil
}

// receiptTaken must be called with r.mu held.
func (r *MockPaymentRepo) receiptTaken(id string, receipt *string) bool {
	if receipt == nil {
		return false
	}
	for _, o := range r.data {
		if o.ID != id && o.ReceiptNumber != nil && *o.ReceiptNumber == *receipt {
			return true
		}
	}
	return false
}

// apply must be called with r.mu held.
func apply(p *model.Payment, out model.PaymentOutcome) *model.Payment {
	p.Status = out.Status
	p.ReceiptNumber = out.ReceiptNumber
	p.PaidAmount = out.PaidAmount
	code, desc, at := out.ResultCode, out.ResultDesc, out.CompletedAt
	p.ResultCode, p.ResultDesc, p.CompletedAt = &code, &desc, &at
	cp := *p
	return &cp
}

func (r *MockPaymentRepo) CompleteByCheckoutRequestID(ctx context.Context, tx repository.Tx, token string, out model.PaymentOutcome) (*model.Payment, error) {
	if r.CompleteByCheckoutRequestIDFunc != nil {
		return r.CompleteByCheckoutRequestIDFunc(ctx, tx, token, out)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.data {
		if p.IsLinked() && *p.CheckoutRequestID == token && p.Status == model.PaymentStatusPending {
			if r.receiptTaken(p.ID, out.ReceiptNumber) {
				return nil, domain.ErrConflict
			}
			return apply(p, out), nil
		}
	}
	return nil, nil
}

func (r *MockPaymentRepo) CompleteUnlinkedByPhone(ctx context.Context, tx repository.Tx, phone, checkoutRequestID string, out model.PaymentOutcome) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CompleteUnlinkedByPhoneCalls++
	for _, p := range r.data {
		if p.PhoneNumber == phone && !p.IsLinked() && p.Status == model.PaymentStatusPending {
			if r.receiptTaken(p.ID, out.ReceiptNumber) {
				return nil, domain.ErrConflict
			}
			if checkoutRequestID != "" {
				tok := checkoutRequestID
				p.CheckoutRequestID = &tok
			}
			return apply(p, out), nil
		}
	}
	return nil, nil
}

func (r *MockPaymentRepo) BackfillReceipt(ctx context.Context, tx repository.Tx, id string, out model.PaymentOutcome) (*model.Payment, error) {
	if out.ReceiptNumber == nil || *out.ReceiptNumber == "" {
		return nil, domain.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.BackfillReceiptCalls++
	p, ok := r.data[id]
	if !ok || p.Status != model.PaymentStatusCompleted || p.ReceiptNumber != nil {
		return nil, nil
	}
	if r.receiptTaken(id, out.ReceiptNumber) {
		return nil, domain.ErrConflict
	}
	receipt := *out.ReceiptNumber
	p.ReceiptNumber = &receipt
	if p.PaidAmount == nil && out.PaidAmount != nil {
		paid := *out.PaidAmount
		p.PaidAmount = &paid
	}
	cp := *p
	return &cp, nil
}

func (r *MockPaymentRepo) CompleteByID(ctx context.Context, tx repository.Tx, id string, out model.PaymentOutcome) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.data[id]; ok && p.Status == model.PaymentStatusPending {
		return apply(p, out), nil
	}
	return nil, nil
}

// =============================
// Subscriptions
// =============================

type MockSubscriptionRepo struct {
	mu   sync.Mutex
	data map[string]*model.Subscription // by payment id

	CreateFunc func(ctx context.Context, tx repository.Tx, s *model.Subscription) error
}

var _ repository.SubscriptionRepository = (*MockSubscriptionRepo)(nil)

func NewMockSubscriptionRepo() *MockSubscriptionRepo {
	return &MockSubscriptionRepo{data: map[string]*model.Subscription{}}
}

func (r *MockSubscriptionRepo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

func (r *MockSubscriptionRepo) Create(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	if r.CreateFunc != nil {
		return r.CreateFunc(ctx, tx, s)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[s.PaymentID]; ok {
		return domain.ErrConflict
	}
	cp := *s
	r.data[s.PaymentID] = &cp
	return nil
}

func (r *MockSubscriptionRepo) FindByPaymentID(ctx context.Context, tx repository.Tx, paymentID string) (*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.data[paymentID]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockSubscriptionRepo) FindActiveByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *model.Subscription
	for _, s := range r.data {
		if s.UserID == userID && s.IsActive && (best == nil || s.EndDate.After(best.EndDate)) {
			best = s
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (r *MockSubscriptionRepo) DeactivateExpired(ctx context.Context, tx repository.Tx, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.data {
		if s.IsActive && !s.EndDate.After(now) {
			s.IsActive = false
			n++
		}
	}
	return n, nil
}

// =============================
// Users
// =============================

type MockUserRepo struct {
	mu   sync.Mutex
	data map[string]*model.Entitlement

	SetEntitlementFunc func(ctx context.Context, tx repository.Tx, userID string, status model.EntitlementStatus, expiry *time.Time) error
}

var _ repository.UserRepository = (*MockUserRepo)(nil)

func NewMockUserRepo(ids ...string) *MockUserRepo {
	r := &MockUserRepo{data: map[string]*model.Entitlement{}}
	for _, id := range ids {
		r.data[id] = &model.Entitlement{UserID: id, Status: model.EntitlementFree}
	}
	return r
}

func (r *MockUserRepo) Get(id string) *model.Entitlement {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.data[id]; ok {
		cp := *e
		return &cp
	}
	return nil
}

func (r *MockUserRepo) Put(e *model.Entitlement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.data[e.UserID] = &cp
}

func (r *MockUserRepo) FindEntitlement(ctx context.Context, tx repository.Tx, userID string) (*model.Entitlement, error) {
	if e := r.Get(userID); e != nil {
		return e, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockUserRepo) SetEntitlement(ctx context.Context, tx repository.Tx, userID string, status model.EntitlementStatus, expiry *time.Time) error {
	if r.SetEntitlementFunc != nil {
		return r.SetEntitlementFunc(ctx, tx, userID, status, expiry)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.data[userID]
	if !ok {
		return domain.ErrNotFound
	}
	e.Status = status
	e.ExpiryDate = expiry
	return nil
}

func (r *MockUserRepo) DowngradeExpired(ctx context.Context, tx repository.Tx, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.data {
		if e.Expired(now) {
			e.Status = model.EntitlementFree
			n++
		}
	}
	return n, nil
}

// =============================
// Callback log
// =============================

type MockCallbackLogRepo struct {
	mu      sync.Mutex
	entries []*model.CallbackLogEntry
	SaveErr error
}

var _ repository.CallbackLogRepository = (*MockCallbackLogRepo)(nil)

func (r *MockCallbackLogRepo) Save(ctx context.Context, tx repository.Tx, e *model.CallbackLogEntry) error {
	if r.SaveErr != nil {
		return r.SaveErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.entries = append(r.entries, &cp)
	return nil
}

func (r *MockCallbackLogRepo) ListByOutcome(ctx context.Context, tx repository.Tx, outcome model.CallbackOutcome, limit int) ([]*model.CallbackLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.CallbackLogEntry
	for _, e := range r.entries {
		if e.Outcome == outcome {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *MockCallbackLogRepo) Outcomes() []model.CallbackOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.CallbackOutcome, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Outcome)
	}
	return out
}

// =============================
// Gateway and limiter
// =============================

type MockPaymentGateway struct {
	STKQueryFunc func(ctx context.Context, checkoutRequestID string) (*adapter.STKQueryResult, error)
}

var _ adapter.PaymentGateway = (*MockPaymentGateway)(nil)

func (g *MockPaymentGateway) Name() string { return "mock" }

func (g *MockPaymentGateway) STKPush(ctx context.Context, req adapter.STKPushRequest) (*adapter.STKPushResult, error) {
	return &adapter.STKPushResult{CheckoutRequestID: "ws_mock", ResponseCode: "0"}, nil
}

func (g *MockPaymentGateway) STKQuery(ctx context.Context, checkoutRequestID string) (*adapter.STKQueryResult, error) {
	if g.STKQueryFunc != nil {
		return g.STKQueryFunc(ctx, checkoutRequestID)
	}
	return &adapter.STKQueryResult{Pending: true}, nil
}

type MockRateLimiter struct {
	mu     sync.Mutex
	counts map[string]int
	Err    error
}

func (l *MockRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if l.Err != nil {
		return false, l.Err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts == nil {
		l.counts = map[string]int{}
	}
	l.counts[key]++
	return l.counts[key] <= limit, nil
}
