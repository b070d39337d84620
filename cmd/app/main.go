// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dereva-billing/internal/config"
	"dereva-billing/internal/domain/ports/adapter"
	"dereva-billing/internal/domain/ports/repository"
	"dereva-billing/internal/infra/adapters/payment"
	"dereva-billing/internal/infra/api"
	pg "dereva-billing/internal/infra/db/postgres"
	"dereva-billing/internal/infra/logging"
	"dereva-billing/internal/infra/metrics"
	red "dereva-billing/internal/infra/redis"
	"dereva-billing/internal/infra/sched"
	"dereva-billing/internal/infra/worker"
	"dereva-billing/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, unredacted phones)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("developer mode enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	go pg.ReportPoolStats(ctx, pool, 15*time.Second)

	// ---- Repositories ----
	var payRepo repository.PaymentRepository = pg.NewPaymentRepo(pool)
	subRepo := pg.NewSubscriptionRepo(pool)
	userRepo := pg.NewUserRepo(pool)
	cbRepo := pg.NewCallbackLogRepo(pool)
	tm := pg.NewTxManager(pool)

	// ---- Redis (optional) ----
	var (
		limiter usecase.RateLimiter
		locker  red.Locker
	)
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()
		payRepo = pg.NewPaymentRepoCacheDecorator(payRepo, redisClient, cfg.Redis.TTL)
		limiter = red.NewRateLimiter(redisClient)
		locker = red.NewLocker(redisClient)
	} else {
		logger.Warn().Msg("redis.url not set: status cache, rate limit and sweeper lock disabled")
	}

	// ---- Payment gateway ----
	var gateway adapter.PaymentGateway
	if cfg.Mpesa.Enabled() {
		gateway, err = payment.NewDarajaGateway(cfg.Mpesa)
		if err != nil {
			logger.Fatal().Err(err).Msg("daraja gateway")
		}
	} else {
		logger.Warn().Msg("mpesa credentials not set: using noop gateway, stale linked payments will stay pending")
		gateway = payment.NewNoopPaymentGateway()
	}
	logger.Info().Str("gateway", gateway.Name()).Bool("sandbox", cfg.Mpesa.Sandbox).Msg("payment gateway ready")

	// ---- Use cases ----
	paymentUC := usecase.NewPaymentUseCase(payRepo, subRepo, userRepo, cbRepo, tm, gateway, limiter,
		usecase.PaymentSettings{
			CountryCode:    cfg.Mpesa.CountryCode,
			Currency:       cfg.Billing.Currency,
			MonthlyPrice:   cfg.Billing.MonthlyPrice,
			DurationDays:   cfg.Billing.DurationDays,
			Features:       cfg.Billing.Features,
			InitiateLimit:  cfg.RateLimit.InitiatePerPhone,
			InitiateWindow: cfg.RateLimit.Window,
			UnlinkedTTL:    cfg.Sweeper.UnlinkedTTL,
			Dev:            cfg.Runtime.Dev,
		}, logger)
	entitlementUC := usecase.NewEntitlementUseCase(userRepo, subRepo, tm, logger)

	// ---- HTTP ----
	srv := api.NewServer(paymentUC, entitlementUC, api.NewAdminAuth(cfg.Admin.JWTSecret), cfg.HTTP.RequestTimeout, logger)
	if err := srv.Start(fmt.Sprintf(":%d", cfg.HTTP.Port)); err != nil {
		logger.Fatal().Err(err).Msg("http")
	}

	// ---- Background jobs ----
	sweeper := sched.NewStalePaymentSweeper(paymentUC, payRepo, locker, worker.NewPool(cfg.Sweeper.Workers, logger),
		sched.SweeperOptions{
			Interval:   cfg.Sweeper.Interval,
			StaleAfter: cfg.Sweeper.StaleAfter,
			Batch:      cfg.Sweeper.Batch,
		}, logger)
	jobs := []*sched.Scheduler{
		sched.NewScheduler(sweeper, cfg.Sweeper.Interval, 0, logger),
		sched.NewScheduler(sched.NewExpiryWorker(entitlementUC, logger), cfg.Expiry.Interval, 5*time.Minute, logger),
	}
	for _, j := range jobs {
		j.Start(ctx)
	}

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	cancel()
	for _, j := range jobs {
		j.Stop()
	}
	logger.Info().Msg("bye")
}
