package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"dereva-billing/internal/domain"
	"dereva-billing/internal/domain/model"
	"dereva-billing/internal/infra/adapters/payment"
	"dereva-billing/internal/infra/logging"
	"dereva-billing/internal/usecase"
)

type errorBody struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// internalError is the body of every 500; the trace id ties it to the server log.
func internalError(r *http.Request) errorBody {
	return errorBody{Error: "internal error", TraceID: logging.TraceID(r.Context())}
}

type successBody struct {
	Success bool `json:"success"`
}

type paymentDTO struct {
	ID                 string           `json:"id"`
	UserID             string           `json:"user_id"`
	PhoneNumber        string           `json:"phone_number"`
	Amount             decimal.Decimal  `json:"amount"`
	Currency           string           `json:"currency"`
	PaymentMethod      string           `json:"payment_method"`
	SubscriptionType   string           `json:"subscription_type"`
	SubscriptionMonths int              `json:"subscription_months"`
	CheckoutRequestID  *string          `json:"checkout_request_id"`
	Status             string           `json:"status"`
	ReceiptNumber      *string          `json:"mpesa_receipt_number"`
	PaidAmount         *decimal.Decimal `json:"paid_amount"`
	ResultCode         *int             `json:"result_code"`
	ResultDesc         *string          `json:"result_desc"`
	CreatedAt          time.Time        `json:"created_at"`
	CompletedAt        *time.Time       `json:"completed_at"`
}

func toPaymentDTO(p *model.Payment) paymentDTO {
	return paymentDTO{
		ID:                 p.ID,
		UserID:             p.UserID,
		PhoneNumber:        p.PhoneNumber,
		Amount:             p.Amount,
		Currency:           p.Currency,
		PaymentMethod:      p.Method,
		SubscriptionType:   p.SubscriptionType,
		SubscriptionMonths: p.SubscriptionMonths,
		CheckoutRequestID:  p.CheckoutRequestID,
		Status:             string(p.Status),
		ReceiptNumber:      p.ReceiptNumber,
		PaidAmount:         p.PaidAmount,
		ResultCode:         p.ResultCode,
		ResultDesc:         p.ResultDesc,
		CreatedAt:          p.CreatedAt,
		CompletedAt:        p.CompletedAt,
	}
}

type entitlementDTO struct {
	UserID             string     `json:"user_id"`
	SubscriptionStatus string     `json:"subscription_status"`
	ExpiryDate         *time.Time `json:"subscription_expiry_date"`
	IsPremium          bool       `json:"is_premium"`
	Subscription       *struct {
		ID        string    `json:"id"`
		PaymentID string    `json:"payment_id"`
		Type      string    `json:"subscription_type"`
		StartDate time.Time `json:"start_date"`
		EndDate   time.Time `json:"end_date"`
	} `json:"subscription,omitempty"`
}

type callbackLogDTO struct {
	ID                string          `json:"id"`
	CheckoutRequestID string          `json:"checkout_request_id"`
	ResultCode        int             `json:"result_code"`
	Outcome           string          `json:"outcome"`
	PaymentID         *string         `json:"payment_id"`
	Payload           json.RawMessage `json:"payload"`
	ReceivedAt        time.Time       `json:"received_at"`
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var in usecase.InitiateInput
	if err := decodeJSON(r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	p, err := s.payments.Initiate(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success   bool   `json:"success"`
		PaymentID string `json:"payment_id"`
	}{true, p.ID})
}

func (s *Server) handleLinkCheckout(w http.ResponseWriter, r *http.Request) {
	var in usecase.LinkInput
	if err := decodeJSON(r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if err := s.payments.LinkCheckout(r.Context(), in); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successBody{Success: true})
}

// handleCallback acknowledges every callback that was processed without a system error,
// matched or not. Storage failures return 500 so the provider retries.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid callback body"})
		return
	}
	cb, err := payment.ParseSTKCallback(raw)
	if err != nil {
		logging.With(r.Context(), s.log).Warn().Err(err).Msg("malformed callback")
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid callback body"})
		return
	}
	ctx := logging.WithCheckoutID(r.Context(), cb.CheckoutRequestID)
	if _, err := s.payments.HandleCallback(ctx, cb); err != nil {
		logging.With(ctx, s.log).Error().Err(err).Msg("callback processing failed")
		writeJSON(w, http.StatusInternalServerError, internalError(r))
		return
	}
	writeJSON(w, http.StatusOK, successBody{Success: true})
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	cfg := s.payments.Config()
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		usecase.PaymentConfig
	}{true, cfg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	p, err := s.payments.Status(r.Context(), chi.URLParam(r, "paymentId"))
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error":  "Payment not found",
			"status": string(model.PaymentStatusPending),
		})
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(p))
}

func (s *Server) handleListByUser(w http.ResponseWriter, r *http.Request) {
	ps, err := s.payments.ListByUser(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]paymentDTO, 0, len(ps))
	for _, p := range ps {
		out = append(out, toPaymentDTO(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEntitlement(w http.ResponseWriter, r *http.Request) {
	v, err := s.entitlements.Get(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	dto := entitlementDTO{
		UserID:             v.Entitlement.UserID,
		SubscriptionStatus: string(v.Entitlement.Status),
		ExpiryDate:         v.Entitlement.ExpiryDate,
		IsPremium:          v.Entitlement.Status == model.EntitlementPremium,
	}
	if sub := v.Subscription; sub != nil {
		dto.Subscription = &struct {
			ID        string    `json:"id"`
			PaymentID string    `json:"payment_id"`
			Type      string    `json:"subscription_type"`
			StartDate time.Time `json:"start_date"`
			EndDate   time.Time `json:"end_date"`
		}{sub.ID, sub.PaymentID, sub.SubscriptionType, sub.StartDate, sub.EndDate}
	}
	writeJSON(w, http.StatusOK, dto)
}

func (s *Server) handleListCallbacks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	entries, err := s.payments.ListCallbacks(r.Context(), model.CallbackOutcome(q.Get("outcome")), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]callbackLogDTO, 0, len(entries))
	for _, e := range entries {
		payload := json.RawMessage(e.Payload)
		if !json.Valid(payload) {
			payload = json.RawMessage("null")
		}
		out = append(out, callbackLogDTO{
			ID:                e.ID,
			CheckoutRequestID: e.CheckoutRequestID,
			ResultCode:        e.ResultCode,
			Outcome:           string(e.Outcome),
			PaymentID:         e.PaymentID,
			Payload:           payload,
			ReceivedAt:        e.ReceivedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// writeError maps domain errors to status codes. Unknown errors never leak their text.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, domain.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many requests"})
	default:
		logging.With(r.Context(), s.log).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, internalError(r))
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxCallbackBody))
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
