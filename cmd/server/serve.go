package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/guestgate/access-server-go/internal/booking"
	"github.com/guestgate/access-server-go/internal/clock"
	"github.com/guestgate/access-server-go/internal/config"
	"github.com/guestgate/access-server-go/internal/database"
	"github.com/guestgate/access-server-go/internal/eventlog"
	"github.com/guestgate/access-server-go/internal/handler"
	"github.com/guestgate/access-server-go/internal/health"
	"github.com/guestgate/access-server-go/internal/jobs"
	"github.com/guestgate/access-server-go/internal/kv"
	"github.com/guestgate/access-server-go/internal/lock"
	"github.com/guestgate/access-server-go/internal/middleware"
	"github.com/guestgate/access-server-go/internal/notify"
	"github.com/guestgate/access-server-go/internal/sched"
	"github.com/guestgate/access-server-go/internal/service"
)

// A relock failure this recent keeps the health snapshot degraded so the
// on-call check catches it even after the alert scrolled by.
const relockFailureWindow = time.Hour

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the access server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()
	manager := health.NewManager(clk)

	var source booking.Source
	switch cfg.BookingBackend {
	case config.BookingBackendPostgres:
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect booking database: %w", err)
		}
		defer db.Close()

		pingCtx, cancel := context.WithTimeout(ctx, config.DBPingTimeout)
		err = db.Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("ping booking database: %w", err)
		}
		log.Info().Msg("booking database connected")

		source = booking.NewPostgresSource(db.DB, clk)
		manager.Register(health.NewPingChecker("booking_db", config.DBPingTimeout, db.Ping))

	case config.BookingBackendHTTP:
		client := booking.NewClient(cfg.BookingAPIURL, cfg.BookingAPIToken, clk)
		source = client
		manager.Register(health.NewPingChecker("booking_api", config.BookingRequestTimeout,
			func(ctx context.Context) error {
				_, err := client.Active(ctx)
				return err
			}))
		log.Info().Str("url", cfg.BookingAPIURL).Msg("using booking api")
	}

	var store kv.Store
	switch cfg.KVBackend {
	case config.KVBackendRedis:
		redisStore, err := kv.NewRedis(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		store = redisStore
		manager.Register(health.NewPingChecker("kv_redis", config.KVPingTimeout, redisStore.Ping))
		log.Info().Msg("redis kv store connected")

	case config.KVBackendBadger:
		badgerStore, err := kv.NewBadger(cfg.BadgerDir)
		if err != nil {
			return fmt.Errorf("open badger: %w", err)
		}
		store = badgerStore
		log.Info().Str("dir", cfg.BadgerDir).Msg("badger kv store opened")

	default:
		store = kv.NewMemory(clk)
	}
	defer store.Close()

	var events *eventlog.Log
	if cfg.EventLogPath != "" {
		events, err = eventlog.Open(cfg.EventLogPath, clk)
		if err != nil {
			return fmt.Errorf("open event log: %w", err)
		}
		defer events.Close()
		log.Info().Str("path", cfg.EventLogPath).Msg("event log enabled")
	}

	generator := service.NewCodeGenerator(clk, service.GeneratorOptions{
		Length:      cfg.CodeLength,
		Blacklist:   cfg.CodeBlacklist,
		MaxAttempts: cfg.MaxGenerateAttempts,
		HistoryCap:  cfg.CodeHistoryCap,
		Retention:   cfg.Retention(),
	})

	policyWatcher := service.NewPolicyWatcher(generator, cfg.CodePolicyFile, cfg.CodeBlacklist)
	if err := policyWatcher.Start(ctx); err != nil {
		return fmt.Errorf("start policy watcher: %w", err)
	}
	defer policyWatcher.Close()

	validator := service.NewAccessValidator(clk, service.ValidatorOptions{
		Lead:      cfg.Lead(),
		Trail:     cfg.Trail(),
		Retention: cfg.Retention(),
	})
	defer validator.Close()

	actuator := lock.NewBridge(cfg.LockBridgeURL, cfg.LockBridgeToken)
	notifier := notify.NewWebhook(cfg.NotifyWebhookURL)
	alerter := notify.NewAdminAlerter(notifier, cfg.AdminContact)

	manager.Register(health.NewLockChecker(actuator, config.LockRequestTimeout))
	manager.Register(health.NewPingChecker("notify_webhook", config.NotifyRequestTimeout, notifier.Ping))

	orch := jobs.NewOrchestrator(clk, jobs.OrchestratorDeps{
		Source:    source,
		Generator: generator,
		Validator: validator,
		Lock:      actuator,
		Notifier:  notifier,
		Alerter:   alerter,
		Registry:  sched.NewRegistry(clk),
		Store:     store,
		Events:    events,
		Health:    manager,
		Cleanup: jobs.NewCleanupJob(clk, generator, validator, store, events,
			cfg.CleanupInterval(), cfg.Retention()),
	}, jobs.OrchestratorOptions{
		Lookahead:      cfg.Lookahead(),
		PollInterval:   cfg.PollInterval(),
		HealthInterval: cfg.HealthInterval(),
		RelockBuffer:   cfg.RelockBuffer(),
		Retention:      cfg.Retention(),
	})

	manager.Register(health.NewChecker("relock", func(ctx context.Context) health.CheckResult {
		if at, ok := orch.LastRelockFailure(); ok && clk.Now().Sub(at) < relockFailureWindow {
			return health.CheckResult{
				Status:  health.StatusDegraded,
				Message: fmt.Sprintf("relock failed at %s", at.Format(time.RFC3339)),
			}
		}
		return health.CheckResult{Status: health.StatusHealthy}
	}))
	manager.Register(health.NewChecker("doors", func(ctx context.Context) health.CheckResult {
		if doors := orch.UnsecuredDoors(); len(doors) > 0 {
			return health.CheckResult{
				Status:  health.StatusDegraded,
				Message: fmt.Sprintf("%d door(s) possibly unsecured: %s", len(doors), strings.Join(doors, ", ")),
			}
		}
		return health.CheckResult{Status: health.StatusHealthy}
	}))

	orch.Start(ctx)

	accessHandler := handler.NewAccessHandler(orch, generator, validator, events,
		middleware.PresentRateLimit(cfg.PresentRateLimit, cfg.PresentRateWindow()))
	bookingsHandler := handler.NewBookingsHandler(orch)
	healthHandler := handler.NewHealthHandler(manager)

	pushSignature := middleware.NewPushSignatureMiddleware(cfg.PushSecret)
	bodyLimit := middleware.NewBodyLimitMiddleware(0)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimit.Handler)

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Mount("/v1/access", accessHandler.Routes())

	r.Route("/v1/bookings", func(r chi.Router) {
		r.Use(pushSignature.Handler)
		r.Post("/push", bookingsHandler.Push)
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr()).Str("version", Version).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	// Stop after the listener drains: a late presentment can still unlock,
	// and Stop records any relock it has to cancel.
	orch.Stop()

	log.Info().Msg("server stopped")
	return nil
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
