package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"payplatform/internal/accounts"
	accountsapi "payplatform/internal/accounts/api"
	"payplatform/internal/common/cache"
	"payplatform/internal/common/database"
	"payplatform/internal/common/middleware"
	natsclient "payplatform/internal/common/nats"
	"payplatform/internal/directory"
	"payplatform/internal/notify"
	"payplatform/internal/providers"
	"payplatform/internal/providers/paygate"
	"payplatform/internal/providers/paystack"
	"payplatform/internal/providers/rova"
	"payplatform/internal/settlement"
	settlementapi "payplatform/internal/settlement/api"
	"payplatform/internal/webhook"
)

// Config holds service configuration
type Config struct {
	Port        int    `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	JWTSecret   string `envconfig:"JWT_SECRET" required:"true"`

	Database   database.Config
	NATS       natsclient.Config
	Redis      cache.Config
	Rova       rova.Config
	PayGate    paygate.Config
	Paystack   paystack.Config
	SMTP       notify.SMTPConfig
	Notify     notify.Config
	Settlement settlement.Config
	Webhook    webhook.Config
	Accounts   accounts.Config
}

func main() {
	// A missing .env is normal outside local development
	_ = godotenv.Load()

	// Load configuration
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	// Create context that listens for shutdown signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to database
	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(cfg.Database.URL, logger); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
	}

	// Connect to NATS
	nc, err := natsclient.New(ctx, cfg.NATS, logger)
	if err != nil {
		logger.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer nc.Close()

	if err := nc.EnsureStream(ctx, cfg.NATS.Stream, natsclient.Subjects); err != nil {
		logger.Error("failed to ensure stream", "error", err)
		os.Exit(1)
	}
	publisher := natsclient.NewPublisher(nc, logger)

	// Connect to Redis
	redisCache, err := cache.New(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisCache.Close()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	providerMetrics := providers.NewMetrics(registry)
	settlementMetrics := settlement.NewMetrics(registry)

	// Providers
	rovaClient := rova.NewClient(cfg.Rova, providerMetrics, logger)
	paygateClient := paygate.NewClient(cfg.PayGate, providerMetrics, logger)
	paystackClient := paystack.NewClient(cfg.Paystack, providerMetrics, logger)

	transferrers := map[string]providers.Transferrer{
		providers.Rova:     rovaClient,
		providers.PayGate:  paygateClient,
		providers.Paystack: paystackClient,
	}
	checkouts := map[string]providers.Checkout{
		providers.Paystack: paystackClient,
	}
	bankDirectories := map[string]providers.BankDirectory{
		providers.Rova:     rovaClient,
		providers.Paystack: paystackClient,
	}

	wallet, ok := transferrers[cfg.Settlement.WalletProvider]
	if !ok {
		logger.Error("unknown wallet provider", "provider", cfg.Settlement.WalletProvider)
		os.Exit(1)
	}
	ticketWallet, ok := transferrers[cfg.Settlement.TicketWalletProvider]
	if !ok {
		logger.Error("unknown ticket wallet provider", "provider", cfg.Settlement.TicketWalletProvider)
		os.Exit(1)
	}
	checkout, ok := checkouts[cfg.Settlement.CheckoutProvider]
	if !ok {
		logger.Error("unknown checkout provider", "provider", cfg.Settlement.CheckoutProvider)
		os.Exit(1)
	}
	banks, ok := bankDirectories[cfg.Accounts.BankProvider]
	if !ok {
		logger.Error("unknown bank directory provider", "provider", cfg.Accounts.BankProvider)
		os.Exit(1)
	}

	// Notifications
	var mailer notify.Mailer = notify.NewLogMailer(logger)
	if cfg.SMTP.Host != "" {
		smtpMailer, err := notify.NewSMTPMailer(cfg.SMTP)
		if err != nil {
			logger.Error("failed to configure SMTP", "error", err)
			os.Exit(1)
		}
		mailer = smtpMailer
	}
	dispatcher := notify.NewDispatcher(mailer, publisher, cfg.Notify, logger)

	// Create services
	dir := directory.NewStore(db)
	settlementStore := settlement.NewPostgresStore(db.Pool())

	settlementService := settlement.NewService(settlementStore, dir, publisher, dispatcher, settlementMetrics, cfg.Settlement, logger)
	settlementService.SetWallet(settlement.PurposeScan2Pay, wallet)
	settlementService.SetWallet(settlement.PurposeTicket, ticketWallet)
	settlementService.SetWallet(settlement.PurposeTransfer, wallet)
	settlementService.SetCheckout(checkout)

	reconciler := settlement.NewReconciler(settlementService, settlementStore, redisCache, settlementMetrics, cfg.Settlement, logger)
	reconcilerDone := make(chan struct{})
	go func() {
		defer close(reconcilerDone)
		reconciler.Run(ctx)
	}()

	accountsService := accounts.NewService(banks, rovaClient, dir, redisCache, cfg.Accounts, logger)

	// Create handlers
	settlementHandler := settlementapi.NewHandler(settlementService, dir, logger)
	accountsHandler := accountsapi.NewHandler(accountsService, logger)
	webhookHandler := webhook.NewHandler(
		webhook.Sources(cfg.Webhook),
		webhook.NewPostgresStore(db.Pool()),
		settlementService,
		publisher,
		logger,
	)

	// Setup router
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := nc.HealthCheck(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"not ready","dependency":"nats"}`))
			return
		}
		if err := redisCache.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"not ready","dependency":"redis"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Provider callbacks are authenticated by signature, not by bearer token
		r.Mount("/webhooks", webhookHandler.Routes())

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate([]byte(cfg.JWTSecret)))
			r.Get("/banks", accountsHandler.ListBanks)
			r.Mount("/accounts", accountsHandler.Routes())
			r.Mount("/", settlementHandler.Routes())
		})
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting settlement service",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"wallet_provider", wallet.Name(),
			"ticket_wallet_provider", ticketWallet.Name(),
			"checkout_provider", checkout.Name(),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	<-reconcilerDone
	dispatcher.Wait()

	logger.Info("server stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
