package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/harborline/harborline-backend/api/responses"
	"github.com/harborline/harborline-backend/api/routes"
	"github.com/harborline/harborline-backend/internal/audit"
	"github.com/harborline/harborline-backend/internal/idempotency"
	"github.com/harborline/harborline-backend/internal/orders"
	"github.com/harborline/harborline-backend/internal/plans"
	"github.com/harborline/harborline-backend/internal/provisioning"
	"github.com/harborline/harborline-backend/internal/subscriptions"
	"github.com/harborline/harborline-backend/internal/tenants"
	stripewebhook "github.com/harborline/harborline-backend/internal/webhooks/stripe"
	"github.com/harborline/harborline-backend/pkg/config"
	"github.com/harborline/harborline-backend/pkg/db"
	"github.com/harborline/harborline-backend/pkg/logger"
	"github.com/harborline/harborline-backend/pkg/metrics"
	"github.com/harborline/harborline-backend/pkg/migrate"
	"github.com/harborline/harborline-backend/pkg/pubsub"
	"github.com/harborline/harborline-backend/pkg/redis"
	pkgstripe "github.com/harborline/harborline-backend/pkg/stripe"
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

	stripeClient, err := pkgstripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	if cfg.Idempotency.RetryAfter > 0 {
		responses.RetryAfter = cfg.Idempotency.RetryAfter
	}

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

	tenantRepo := tenants.NewRepository(dbClient.DB())
	planRepo := plans.NewRepository(dbClient.DB())

	subscriptionService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:              subscriptions.NewRepository(dbClient.DB()),
		TenantRepo:        tenantRepo,
		PlanRepo:          planRepo,
		Audit:             auditService,
		Provisioner:       dispatcher,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription service", err)
		os.Exit(1)
	}

	orderService, err := orders.NewService(orders.ServiceParams{
		Repo:       orders.NewRepository(dbClient.DB()),
		PlanRepo:   planRepo,
		Reconciler: subscriptionService,
		Audit:      auditService,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create order service", err)
		os.Exit(1)
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Ledger:        ledger,
		Subscriptions: subscriptionService,
		Orders:        orderService,
		TenantRepo:    tenantRepo,
		Metrics:       metrics.NewWebhookMetrics(prometheus.DefaultRegisterer),
		Logger:        logg,
		ClaimTTL:      cfg.Idempotency.WebhookTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
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
			Config:        cfg,
			Logger:        logg,
			DB:            dbClient,
			Redis:         redisClient,
			Ledger:        ledger,
			Orders:        orderService,
			Subscriptions: subscriptionService,
			Audit:         auditService,
			StripeClient:  stripeClient,
			StripeWebhook: webhookService,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
