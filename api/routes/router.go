package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harborline/harborline-backend/api/controllers"
	webhookcontrollers "github.com/harborline/harborline-backend/api/controllers/webhooks"
	"github.com/harborline/harborline-backend/api/middleware"
	"github.com/harborline/harborline-backend/internal/audit"
	"github.com/harborline/harborline-backend/internal/idempotency"
	"github.com/harborline/harborline-backend/internal/orders"
	"github.com/harborline/harborline-backend/internal/subscriptions"
	stripewebhook "github.com/harborline/harborline-backend/internal/webhooks/stripe"
	"github.com/harborline/harborline-backend/pkg/config"
	"github.com/harborline/harborline-backend/pkg/logger"
	pkgstripe "github.com/harborline/harborline-backend/pkg/stripe"
)

// RouterParams collects everything the HTTP surface needs.
type RouterParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            controllers.Pinger
	Redis         controllers.Pinger
	Ledger        *idempotency.Ledger
	Orders        orders.Service
	Subscriptions subscriptions.Service
	Audit         audit.Service
	StripeClient  *pkgstripe.Client
	StripeWebhook stripewebhook.Service
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, params.DB, params.Redis))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(params.StripeWebhook, params.StripeClient, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CORS())
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(params.Ledger, cfg.Idempotency, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", controllers.CreateOrder(params.Orders, logg))
			r.Get("/", controllers.ListOrders(params.Orders, logg))
			r.Get("/{orderID}", controllers.GetOrder(params.Orders, logg))
			r.Post("/{orderID}/pay", controllers.PayOrder(params.Orders, logg))
		})

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/", controllers.ListSubscriptions(params.Subscriptions, logg))
			r.Get("/{subscriptionID}", controllers.GetSubscription(params.Subscriptions, logg))
		})

		r.Get("/audit-events", controllers.ListAuditEvents(params.Audit, logg))
	})

	return r
}
