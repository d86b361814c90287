package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iretilight/retailpos-backend/api/controllers"
	webhookcontrollers "github.com/iretilight/retailpos-backend/api/controllers/webhooks"
	"github.com/iretilight/retailpos-backend/api/middleware"
	"github.com/iretilight/retailpos-backend/internal/gateway"
	"github.com/iretilight/retailpos-backend/internal/reconcile"
	"github.com/iretilight/retailpos-backend/internal/refunds"
	"github.com/iretilight/retailpos-backend/internal/sales"
	"github.com/iretilight/retailpos-backend/internal/webhooks"
	"github.com/iretilight/retailpos-backend/pkg/config"
	"github.com/iretilight/retailpos-backend/pkg/logger"
)

// RouterParams collects everything the HTTP surface needs.
type RouterParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         pinger
	Redis      pinger
	Gateway    *gateway.Client
	Sales      sales.Service
	Refunds    refunds.Service
	Verifier   *webhooks.Verifier
	EventStore webhooks.Store
	Engine     *reconcile.Engine
	Guard      *webhooks.Guard
	MetricsReg *prometheus.Registry
}

type pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter assembles the API surface. Webhooks and health stay outside the
// auth stack; register-facing routes require a bearer principal.
func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins...),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, params.DB, params.Redis, logg))
	})

	if params.MetricsReg != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(params.MetricsReg, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/provider", webhookcontrollers.Provider(webhookcontrollers.HandlerParams{
			Verifier:       params.Verifier,
			Store:          params.EventStore,
			Engine:         params.Engine,
			Guard:          params.Guard,
			Logger:         logg,
			MaxPayloadSize: cfg.Webhook.MaxPayloadSize,
		}))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Post("/sales", controllers.RegisterSale(params.Sales, logg))
		r.Post("/sales/{saleID}/payments", controllers.BeginPayment(params.Sales, logg))
		r.Get("/sales/{saleID}/payment-status", controllers.PaymentStatus(params.Sales, logg))
		r.Post("/payments/{paymentID}/refunds", controllers.RequestRefund(params.Refunds, cfg.JWT, logg))
		r.Post("/terminal/connection-token", controllers.ConnectionToken(params.Gateway, logg))
	})

	return r
}
