package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/harborline/harborline-backend/internal/audit"
	"github.com/harborline/harborline-backend/internal/cron"
	"github.com/harborline/harborline-backend/internal/idempotency"
	"github.com/harborline/harborline-backend/internal/plans"
	"github.com/harborline/harborline-backend/internal/provisioning"
	"github.com/harborline/harborline-backend/internal/subscriptions"
	"github.com/harborline/harborline-backend/internal/tenants"
	"github.com/harborline/harborline-backend/pkg/config"
	"github.com/harborline/harborline-backend/pkg/db"
	"github.com/harborline/harborline-backend/pkg/logger"
	"github.com/harborline/harborline-backend/pkg/metrics"
	"github.com/harborline/harborline-backend/pkg/migrate"
	"github.com/harborline/harborline-backend/pkg/pubsub"
	"github.com/harborline/harborline-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub", err)
		}
	}()

	ledger, err := idempotency.NewLedger(idempotency.LedgerParams{
		Repo:     idempotency.NewRepository(dbClient.DB()),
		Cache:    redisClient,
		CacheTTL: cfg.Idempotency.CacheTTL,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create idempotency ledger", err)
		os.Exit(1)
	}

	auditService, err := audit.NewService(audit.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create audit service", err)
		os.Exit(1)
	}

	dispatcher, err := provisioning.NewDispatcher(
		provisioning.NewGCPPublisher(pubsubClient.ProvisioningPublisher()), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create provisioning dispatcher", err)
		os.Exit(1)
	}

	subscriptionService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:              subscriptions.NewRepository(dbClient.DB()),
		TenantRepo:        tenants.NewRepository(dbClient.DB()),
		PlanRepo:          plans.NewRepository(dbClient.DB()),
		Audit:             auditService,
		Provisioner:       dispatcher,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription service", err)
		os.Exit(1)
	}

	sweepJob, err := cron.NewIdempotencySweepJob(cron.IdempotencySweepJobParams{
		Logger:   logg,
		Ledger:   ledger,
		Interval: cfg.Idempotency.SweepInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create idempotency sweep job", err)
		os.Exit(1)
	}

	cancelJob, err := cron.NewPeriodEndCancelJob(cron.PeriodEndCancelJobParams{
		Logger:        logg,
		Subscriptions: subscriptionService,
		Interval:      cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create period-end cancel job", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(sweepJob, cancelJob),
		Locks:    cron.NewRedisLockFactory(redisClient, cfg.Cron.LockTTL),
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
