package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/iretilight/retailpos-backend/api/routes"
	"github.com/iretilight/retailpos-backend/internal/gateway"
	"github.com/iretilight/retailpos-backend/internal/ledger"
	"github.com/iretilight/retailpos-backend/internal/reconcile"
	"github.com/iretilight/retailpos-backend/internal/refunds"
	"github.com/iretilight/retailpos-backend/internal/sales"
	"github.com/iretilight/retailpos-backend/internal/webhooks"
	"github.com/iretilight/retailpos-backend/pkg/config"
	"github.com/iretilight/retailpos-backend/pkg/db"
	"github.com/iretilight/retailpos-backend/pkg/logger"
	"github.com/iretilight/retailpos-backend/pkg/metrics"
	"github.com/iretilight/retailpos-backend/pkg/migrate"
	"github.com/iretilight/retailpos-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	paymentMetrics := metrics.NewPaymentMetrics(registry)

	gatewayClient, err := gateway.NewClient(cfg.Gateway, logg, paymentMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create gateway client", err)
		os.Exit(1)
	}

	verifier, err := webhooks.NewVerifier(cfg.Webhook.SigningSecret, cfg.Webhook.Tolerance)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook verifier", err)
		os.Exit(1)
	}

	guard, err := webhooks.NewGuard(redisClient, cfg.Webhook.GuardTTL, "webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}

	eventStore := webhooks.NewStore(dbClient.DB())
	ledgerRepo := ledger.NewRepository(dbClient.DB())
	saleRepo := sales.NewRepository(dbClient.DB())

	ledgerService, err := ledger.NewService(ledgerRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	saleService, err := sales.NewService(sales.ServiceParams{
		Repo:    saleRepo,
		Ledger:  ledgerRepo,
		Gateway: gatewayClient,
		Tx:      dbClient,
		Logger:  logg,
		Metrics: paymentMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create sale service", err)
		os.Exit(1)
	}

	threshold, err := cfg.Refunds.Threshold()
	if err != nil {
		logg.Error(context.Background(), "invalid refund threshold", err)
		os.Exit(1)
	}
	gate, err := refunds.NewGate(threshold)
	if err != nil {
		logg.Error(context.Background(), "failed to create authorization gate", err)
		os.Exit(1)
	}
	refundService, err := refunds.NewService(refunds.ServiceParams{
		Ledger:  ledgerService,
		Gateway: gatewayClient,
		Gate:    gate,
		Tx:      dbClient,
		Logger:  logg,
		Metrics: paymentMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create refund service", err)
		os.Exit(1)
	}

	engine, err := reconcile.NewEngine(reconcile.EngineParams{
		Ledger:  ledgerService,
		Sales:   saleRepo,
		Events:  eventStore,
		Gateway: gatewayClient,
		Tx:      dbClient,
		Logger:  logg,
		Metrics: paymentMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile engine", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:     cfg,
			Logger:     logg,
			DB:         dbClient,
			Redis:      redisClient,
			Gateway:    gatewayClient,
			Sales:      saleService,
			Refunds:    refundService,
			Verifier:   verifier,
			EventStore: eventStore,
			Engine:     engine,
			Guard:      guard,
			MetricsReg: registry,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
