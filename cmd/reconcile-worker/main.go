package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/iretilight/retailpos-backend/internal/gateway"
	"github.com/iretilight/retailpos-backend/internal/ledger"
	"github.com/iretilight/retailpos-backend/internal/reconcile"
	"github.com/iretilight/retailpos-backend/internal/sales"
	"github.com/iretilight/retailpos-backend/internal/webhooks"
	"github.com/iretilight/retailpos-backend/pkg/config"
	"github.com/iretilight/retailpos-backend/pkg/db"
	"github.com/iretilight/retailpos-backend/pkg/logger"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "reconcile-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "reconcile-worker",
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

	gatewayClient, err := gateway.NewClient(cfg.Gateway, logg, nil)
	if err != nil {
		logg.Error(context.Background(), "failed to create gateway client", err)
		os.Exit(1)
	}

	eventStore := webhooks.NewStore(dbClient.DB())
	ledgerRepo := ledger.NewRepository(dbClient.DB())
	ledgerService, err := ledger.NewService(ledgerRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	engine, err := reconcile.NewEngine(reconcile.EngineParams{
		Ledger:  ledgerService,
		Sales:   sales.NewRepository(dbClient.DB()),
		Events:  eventStore,
		Gateway: gatewayClient,
		Tx:      dbClient,
		Logger:  logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile engine", err)
		os.Exit(1)
	}

	worker, err := reconcile.NewWorker(reconcile.WorkerParams{
		Engine:       engine,
		Ledger:       ledgerRepo,
		Events:       eventStore,
		Logger:       logg,
		PollInterval: cfg.Reconcile.PollInterval,
		StaleAfter:   cfg.Reconcile.StaleAfter,
		BatchSize:    cfg.Reconcile.BatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile worker", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env})
	logg.Info(ctx, "starting reconcile worker")

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logg.Error(ctx, "reconcile worker stopped unexpectedly", err)
		os.Exit(1)
	}
}
