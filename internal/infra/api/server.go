package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"dereva-billing/internal/usecase"
)

// maxCallbackBody caps provider webhook payloads.
const maxCallbackBody = 1 << 20

type Server struct {
	payments     usecase.PaymentUseCase
	entitlements usecase.EntitlementUseCase
	auth         *AdminAuth
	log          *zerolog.Logger
	timeout      time.Duration

	srv *http.Server
}

func NewServer(
	payments usecase.PaymentUseCase,
	entitlements usecase.EntitlementUseCase,
	auth *AdminAuth,
	timeout time.Duration,
	logger *zerolog.Logger,
) *Server {
	return &Server{
		payments:     payments,
		entitlements: entitlements,
		auth:         auth,
		timeout:      timeout,
		log:          logger,
	}
}

// Routes builds the full router, middleware included.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(
		TraceID(),
		RequestLog(s.log),
		Recover(s.log),
		Timeout(s.timeout),
		chimw.StripSlashes,
	)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/payments", func(r chi.Router) {
		r.Post("/initiate", s.handleInitiate)
		r.Post("/link-checkout", s.handleLinkCheckout)
		r.Post("/callback", s.handleCallback)
		r.Get("/config", s.handleConfig)
		r.Get("/status/{paymentId}", s.handleStatus)
		r.Get("/{userId}", s.handleListByUser)
	})

	r.Get("/users/{userId}/entitlement", s.handleEntitlement)

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.auth.Guard)
		r.Get("/callbacks", s.handleListCallbacks)
	})

	return r
}

// Start listens on addr and serves until Shutdown. It returns once the listener is bound.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.srv = &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("http server stopped")
		}
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
