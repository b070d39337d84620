package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dereva-billing/internal/domain"
	"dereva-billing/internal/domain/model"
	"dereva-billing/internal/domain/ports/adapter"
	"dereva-billing/internal/domain/ports/repository"
	"dereva-billing/internal/infra/logging"
	"dereva-billing/internal/infra/metrics"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

type PaymentUseCase interface {
	// Initiate records a pending payment. Replaying an identical request returns the existing row.
	Initiate(ctx context.Context, in InitiateInput) (*model.Payment, error)
	// LinkCheckout attaches the provider CheckoutRequestID to a pending payment.
	LinkCheckout(ctx context.Context, in LinkInput) error
	// HandleCallback resolves a provider callback to at most one pending payment and applies it.
	// A callback that matches nothing is not an error.
	HandleCallback(ctx context.Context, cb *model.STKCallback) (*CallbackResult, error)
	// ReconcileStale settles one stale pending payment from the provider's view (sweeper).
	ReconcileStale(ctx context.Context, p *model.Payment) (SweepAction, error)

	Status(ctx context.Context, key string) (*model.Payment, error)
	ListByUser(ctx context.Context, userID string) ([]*model.Payment, error)
	ListCallbacks(ctx context.Context, outcome model.CallbackOutcome, limit int) ([]*model.CallbackLogEntry, error)
	Config() PaymentConfig
}

// RateLimiter is satisfied by the Redis fixed-window limiter.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// PaymentSettings carries the configuration the payment flow depends on.
type PaymentSettings struct {
	CountryCode    string
	Currency       string
	MonthlyPrice   float64
	DurationDays   int
	Features       []string
	InitiateLimit  int
	InitiateWindow time.Duration
	UnlinkedTTL    time.Duration
	Dev            bool
}

type PaymentConfig struct {
	MonthlyPrice float64  `json:"monthlyPrice"`
	Currency     string   `json:"currency"`
	DurationDays int      `json:"durationDays"`
	Features     []string `json:"features"`
}

type InitiateInput struct {
	ID                string          `json:"id" validate:"omitempty,max=64"`
	Phone             string          `json:"phone" validate:"required,max=32"`
	Amount            decimal.Decimal `json:"amount"`
	UserID            string          `json:"user_id" validate:"required,max=64"`
	Type              string          `json:"type" validate:"omitempty,max=32"`
	Months            int             `json:"months" validate:"omitempty,min=1,max=36"`
	CheckoutRequestID string          `json:"checkout_request_id" validate:"omitempty,max=128"`
}

type LinkInput struct {
	ID                string `json:"id" validate:"required,max=64"`
	CheckoutRequestID string `json:"checkout_request_id" validate:"required,max=128"`
}

// CallbackResult describes what a callback did. Payment is nil when nothing matched.
type CallbackResult struct {
	Outcome      model.CallbackOutcome
	Payment      *model.Payment
	Subscription *model.Subscription
	// Duplicate is set when the token belongs to a payment that is already terminal.
	Duplicate bool
}

type SweepAction string

const (
	SweepSkipped  SweepAction = "skipped"   // provider still processing or not old enough
	SweepSettled  SweepAction = "settled"   // provider result applied
	SweepExpired  SweepAction = "expired"   // unlinked payment failed locally
	SweepNoChange SweepAction = "no_change" // lost the race to a callback
)

type paymentUC struct {
	payments  repository.PaymentRepository
	subs      repository.SubscriptionRepository
	users     repository.UserRepository
	callbacks repository.CallbackLogRepository
	tm        repository.TransactionManager
	gateway   adapter.PaymentGateway
	limiter   RateLimiter
	cfg       PaymentSettings
	log       *zerolog.Logger
	now       func() time.Time
}

type PaymentOption func(*paymentUC)

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) PaymentOption {
	return func(u *paymentUC) { u.now = now }
}

func NewPaymentUseCase(
	payments repository.PaymentRepository,
	subs repository.SubscriptionRepository,
	users repository.UserRepository,
	callbacks repository.CallbackLogRepository,
	tm repository.TransactionManager,
	gateway adapter.PaymentGateway,
	limiter RateLimiter,
	cfg PaymentSettings,
	logger *zerolog.Logger,
	opts ...PaymentOption,
) *paymentUC {
	if cfg.Currency == "" {
		cfg.Currency = "KES"
	}
	if cfg.CountryCode == "" {
		cfg.CountryCode = model.DefaultCountryCode
	}
	u := &paymentUC{
		payments:  payments,
		subs:      subs,
		users:     users,
		callbacks: callbacks,
		tm:        tm,
		gateway:   gateway,
		limiter:   limiter,
		cfg:       cfg,
		log:       logger,
		now:       time.Now,
	}
	for _, o := range opts {
		o(u)
	}
	return u
}

func (u *paymentUC) Initiate(ctx context.Context, in InitiateInput) (*model.Payment, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.Initiate")()

	if err := validateInput(in); err != nil {
		return nil, err
	}
	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidArgument)
	}
	phone := model.NormalizePhoneWithCode(in.Phone, u.cfg.CountryCode)
	if !model.IsValidKenyanPhone(phone) {
		return nil, fmt.Errorf("%w: phone %q is not a valid M-Pesa number", domain.ErrInvalidArgument, in.Phone)
	}

	if u.limiter != nil && u.cfg.InitiateLimit > 0 {
		ok, err := u.limiter.Allow(ctx, "initiate:"+phone, u.cfg.InitiateLimit, u.cfg.InitiateWindow)
		if err != nil {
			// fail open: the limiter protects the provider, not correctness
			u.log.Warn().Err(err).Msg("initiate rate limiter unavailable")
		} else if !ok {
			return nil, domain.ErrRateLimited
		}
	}

	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	subType := in.Type
	if subType == "" {
		subType = model.SubscriptionTypeMonthly
	}
	months := in.Months
	if months <= 0 {
		months = model.MonthsForType(subType)
	}
	p := &model.Payment{
		ID:                 id,
		UserID:             in.UserID,
		PhoneNumber:        phone,
		Amount:             in.Amount,
		Currency:           u.cfg.Currency,
		Method:             model.PaymentMethodMpesa,
		SubscriptionType:   subType,
		SubscriptionMonths: months,
		Status:             model.PaymentStatusPending,
		CreatedAt:          u.now().UTC(),
	}
	if in.CheckoutRequestID != "" {
		tok := in.CheckoutRequestID
		p.CheckoutRequestID = &tok
	}

	ctx = logging.WithPaymentID(logging.WithUserID(ctx, p.UserID), p.ID)
	log := logging.With(ctx, u.log)

	created, err := u.payments.Create(ctx, repository.NoTX, p)
	if err != nil {
		log.Error().Err(err).Msg("create payment failed")
		return nil, err
	}
	if !created {
		existing, err := u.payments.FindByID(ctx, repository.NoTX, id)
		if err != nil {
			return nil, err
		}
		if existing.UserID != p.UserID || existing.PhoneNumber != p.PhoneNumber || !existing.Amount.Equal(p.Amount) {
			return nil, fmt.Errorf("%w: payment %s exists with different parameters", domain.ErrConflict, id)
		}
		log.Info().Msg("initiate replayed for existing payment")
		return existing, nil
	}

	metrics.IncPayment(string(model.PaymentStatusPending))
	log.Info().
		Str("phone", logging.Redact(phone, u.cfg.Dev)).
		Str("amount", p.Amount.String()).
		Int("months", months).
		Msg("payment initiated")
	return p, nil
}

func (u *paymentUC) LinkCheckout(ctx context.Context, in LinkInput) error {
	defer logging.TraceDuration(u.log, "PaymentUC.LinkCheckout")()

	if err := validateInput(in); err != nil {
		return err
	}
	ctx = logging.WithCheckoutID(logging.WithPaymentID(ctx, in.ID), in.CheckoutRequestID)
	log := logging.With(ctx, u.log)

	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		p, err := u.payments.FindByID(ctx, tx, in.ID)
		if err != nil {
			return err
		}
		if p.Status.IsTerminal() {
			return fmt.Errorf("%w: payment %s is already %s", domain.ErrConflict, p.ID, p.Status)
		}
		if p.CheckoutRequestID != nil && *p.CheckoutRequestID == in.CheckoutRequestID {
			return nil
		}
		ok, err := u.payments.SetCheckoutRequestID(ctx, tx, in.ID, in.CheckoutRequestID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: payment %s left pending", domain.ErrConflict, p.ID)
		}
		if p.IsLinked() {
			log.Warn().Str("previous", *p.CheckoutRequestID).Msg("checkout request id replaced")
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrConflict) {
			log.Error().Err(err).Msg("link checkout failed")
		}
		return err
	}
	log.Info().Msg("checkout linked")
	return nil
}

func (u *paymentUC) HandleCallback(ctx context.Context, cb *model.STKCallback) (*CallbackResult, error) {
	if cb == nil {
		return nil, domain.ErrInvalidArgument
	}
	start := time.Now()
	ctx = logging.WithCheckoutID(ctx, cb.CheckoutRequestID)
	log := logging.With(ctx, u.log)
	log.Debug().RawJSON("payload", rawOrEmpty(cb.Raw)).Msg("stk callback received")

	res, err := u.reconcile(ctx, cb, true)
	if err != nil {
		metrics.ObserveCallback(string(model.CallbackError), time.Since(start).Seconds())
		log.Error().Err(err).Int("result_code", cb.ResultCode).Msg("callback reconciliation failed")
		u.audit(ctx, cb, model.CallbackError, nil)
		return nil, err
	}
	metrics.ObserveCallback(string(res.Outcome), time.Since(start).Seconds())

	ev := log.Info().Str("outcome", string(res.Outcome)).Int("result_code", cb.ResultCode)
	var paymentID *string
	if res.Payment != nil {
		id := res.Payment.ID
		paymentID = &id
		ev = ev.Str("payment_id", id).Str("status", string(res.Payment.Status))
	}
	switch {
	case res.Duplicate:
		ev.Msg("callback for terminal payment ignored")
	case res.Payment == nil:
		ev.Str("phone", logging.Redact(cb.NormalizedPhone(u.cfg.CountryCode), u.cfg.Dev)).Msg("callback matched no pending payment")
	default:
		ev.Msg("callback applied")
	}
	u.audit(ctx, cb, res.Outcome, paymentID)
	return res, nil
}

// reconcile applies the callback inside one transaction: the pending->terminal compare-and-set,
// then for successful payments the subscription and the user's entitlement snapshot.
// Resolution: pending row carrying the token, then the unlinked pending row for the payer phone.
func (u *paymentUC) reconcile(ctx context.Context, cb *model.STKCallback, allowPhone bool) (*CallbackResult, error) {
	now := u.now().UTC()
	out := cb.Outcome(now)
	var res *CallbackResult

	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		res = &CallbackResult{Outcome: model.CallbackUnresolved}

		if cb.CheckoutRequestID != "" {
			p, err := u.payments.CompleteByCheckoutRequestID(ctx, tx, cb.CheckoutRequestID, out)
			if err != nil {
				return err
			}
			if p != nil {
				res.Outcome, res.Payment = model.CallbackMatchedToken, p
			} else {
				// The token is known but the row is no longer pending: a redelivery.
				// Never fall through to the phone tier for it.
				known, err := u.payments.FindByCheckoutRequestID(ctx, tx, cb.CheckoutRequestID)
				if err != nil && !errors.Is(err, domain.ErrNotFound) {
					return err
				}
				if known != nil {
					res.Duplicate, res.Payment = true, known
					return u.backfillReceipt(ctx, tx, res, out)
				}
			}
		}

		if res.Payment == nil && allowPhone {
			if phone := cb.NormalizedPhone(u.cfg.CountryCode); phone != "" {
				p, err := u.payments.CompleteUnlinkedByPhone(ctx, tx, phone, cb.CheckoutRequestID, out)
				if err != nil {
					return err
				}
				if p != nil {
					res.Outcome, res.Payment = model.CallbackMatchedPhone, p
				}
			}
		}

		if res.Payment == nil || res.Payment.Status != model.PaymentStatusCompleted {
			return nil
		}
		sub, err := u.activate(ctx, tx, res.Payment, now)
		if err != nil {
			return err
		}
		res.Subscription = sub
		return nil
	})
	if errors.Is(err, domain.ErrConflict) {
		// The receipt already settled another payment.
		u.log.Warn().Err(err).Str("checkout_request_id", cb.CheckoutRequestID).Msg("callback receipt already recorded")
		return &CallbackResult{Outcome: model.CallbackUnresolved, Duplicate: true}, nil
	}
	if err != nil {
		return nil, err
	}

	if res.Payment != nil && !res.Duplicate {
		metrics.IncPayment(string(res.Payment.Status))
		if res.Payment.Status == model.PaymentStatusCompleted {
			amount := res.Payment.Amount
			if res.Payment.PaidAmount != nil {
				amount = *res.Payment.PaidAmount
			}
			metrics.AddPaymentRevenue(res.Payment.Currency, amount)
		}
		if res.Subscription != nil {
			metrics.IncSubscriptionActivated(res.Subscription.SubscriptionType)
		}
	}
	return res, nil
}

// backfillReceipt stores the receipt of a redelivered success callback on a payment that was
// settled without one (by the stale sweeper's status query).
func (u *paymentUC) backfillReceipt(ctx context.Context, tx repository.Tx, res *CallbackResult, out model.PaymentOutcome) error {
	p := res.Payment
	if out.Status != model.PaymentStatusCompleted || out.ReceiptNumber == nil || *out.ReceiptNumber == "" ||
		p.Status != model.PaymentStatusCompleted || p.ReceiptNumber != nil {
		return nil
	}
	updated, err := u.payments.BackfillReceipt(ctx, tx, p.ID, out)
	if err != nil {
		return err
	}
	if updated != nil {
		res.Payment = updated
		u.log.Info().Str("payment_id", p.ID).Msg("receipt recorded for settled payment")
	}
	return nil
}

func (u *paymentUC) activate(ctx context.Context, tx repository.Tx, p *model.Payment, now time.Time) (*model.Subscription, error) {
	sub, err := model.NewSubscription(uuid.NewString(), p, now)
	if err != nil {
		return nil, err
	}
	if err := u.subs.Create(ctx, tx, sub); err != nil {
		return nil, err
	}
	end := sub.EndDate
	if err := u.users.SetEntitlement(ctx, tx, p.UserID, model.EntitlementPremium, &end); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		logging.With(ctx, u.log).Warn().Str("user_id", p.UserID).Msg("no user row for entitlement snapshot")
	}
	return sub, nil
}

func (u *paymentUC) audit(ctx context.Context, cb *model.STKCallback, outcome model.CallbackOutcome, paymentID *string) {
	if u.callbacks == nil {
		return
	}
	now := u.now().UTC()
	e := &model.CallbackLogEntry{
		ID:                ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        cb.ResultCode,
		Outcome:           outcome,
		PaymentID:         paymentID,
		Payload:           cb.Raw,
		ReceivedAt:        now,
	}
	if err := u.callbacks.Save(ctx, repository.NoTX, e); err != nil {
		logging.With(ctx, u.log).Warn().Err(err).Msg("callback audit write failed")
	}
}

func (u *paymentUC) ReconcileStale(ctx context.Context, p *model.Payment) (SweepAction, error) {
	if p == nil || p.Status.IsTerminal() {
		return SweepNoChange, nil
	}
	ctx = logging.WithPaymentID(ctx, p.ID)
	log := logging.With(ctx, u.log)

	if !p.IsLinked() {
		if u.cfg.UnlinkedTTL <= 0 || u.now().Sub(p.CreatedAt) < u.cfg.UnlinkedTTL {
			return SweepSkipped, nil
		}
		out := model.PaymentOutcome{
			Status:      model.PaymentStatusFailed,
			ResultCode:  model.ResultCodeUnlinkedExpired,
			ResultDesc:  "expired before a checkout was linked",
			CompletedAt: u.now().UTC(),
		}
		got, err := u.payments.CompleteByID(ctx, repository.NoTX, p.ID, out)
		if err != nil {
			return "", err
		}
		if got == nil {
			return SweepNoChange, nil
		}
		metrics.IncPayment(string(got.Status))
		log.Info().Msg("unlinked payment expired")
		return SweepExpired, nil
	}

	if u.gateway == nil {
		return SweepSkipped, nil
	}
	ctx = logging.WithCheckoutID(ctx, *p.CheckoutRequestID)
	q, err := u.gateway.STKQuery(ctx, *p.CheckoutRequestID)
	if err != nil {
		return "", err
	}
	if q.Pending {
		return SweepSkipped, nil
	}
	cb := &model.STKCallback{
		CheckoutRequestID: *p.CheckoutRequestID,
		ResultCode:        q.ResultCode,
		ResultDesc:        q.ResultDesc,
	}
	res, err := u.reconcile(ctx, cb, false)
	if err != nil {
		return "", err
	}
	if res.Payment == nil || res.Duplicate {
		return SweepNoChange, nil
	}
	log.Info().Str("status", string(res.Payment.Status)).Int("result_code", q.ResultCode).Msg("stale payment settled from provider query")
	return SweepSettled, nil
}

// Status looks the key up as a payment id first, then as a CheckoutRequestID.
func (u *paymentUC) Status(ctx context.Context, key string) (*model.Payment, error) {
	if key == "" {
		return nil, domain.ErrInvalidArgument
	}
	p, err := u.payments.FindByID(ctx, repository.NoTX, key)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return u.payments.FindByCheckoutRequestID(ctx, repository.NoTX, key)
}

func (u *paymentUC) ListByUser(ctx context.Context, userID string) ([]*model.Payment, error) {
	if userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	return u.payments.ListByUser(ctx, repository.NoTX, userID)
}

func (u *paymentUC) ListCallbacks(ctx context.Context, outcome model.CallbackOutcome, limit int) ([]*model.CallbackLogEntry, error) {
	switch outcome {
	case model.CallbackMatchedToken, model.CallbackMatchedPhone, model.CallbackUnresolved, model.CallbackError:
	default:
		return nil, fmt.Errorf("%w: unknown outcome %q", domain.ErrInvalidArgument, outcome)
	}
	return u.callbacks.ListByOutcome(ctx, repository.NoTX, outcome, limit)
}

func (u *paymentUC) Config() PaymentConfig {
	return PaymentConfig{
		MonthlyPrice: u.cfg.MonthlyPrice,
		Currency:     u.cfg.Currency,
		DurationDays: u.cfg.DurationDays,
		Features:     append([]string(nil), u.cfg.Features...),
	}
}

func rawOrEmpty(b []byte) []byte {
	if len(b) == 0 {
		return []byte("{}")
	}
	return b
}
