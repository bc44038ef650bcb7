package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/frahmantamala/spotpay-billing/internal/auth"
	"github.com/frahmantamala/spotpay-billing/internal/ledger"
	"github.com/frahmantamala/spotpay-billing/internal/payment"
	"github.com/frahmantamala/spotpay-billing/internal/transport/middleware"
	"github.com/frahmantamala/spotpay-billing/internal/transport/swagger"
	"github.com/frahmantamala/spotpay-billing/pkg/metrics"
)

type Routes struct {
	Payments       *payment.Handler
	Webhooks       *payment.WebhookHandler
	Wallets        *ledger.Handler
	Auth           *auth.Middleware
	Health         *HealthHandler
	OpenAPI        *OpenAPIDocument
	AllowedOrigins []string
	MetricsPath    string
	Logger         *slog.Logger
}

func RegisterAllRoutes(router *chi.Mux, routes Routes) {
	router.Use(middleware.CORS(routes.AllowedOrigins))
	router.Use(middleware.RequestID)
	router.Use(middleware.LoggingMiddleware(routes.Logger))
	router.Use(middleware.RecoveryMiddleware(routes.Logger))

	if routes.MetricsPath != "" {
		router.Handle(routes.MetricsPath, metrics.Handler())
	}
	if routes.OpenAPI != nil {
		router.Handle("/openapi.yml", routes.OpenAPI)
		router.Handle("/swagger/*", swagger.Handler("/openapi.yml"))
	}

	router.Route("/api/v1", func(r chi.Router) {
		if routes.Health != nil {
			r.Get("/health", routes.Health.healthCheckHandler)
			r.Get("/ping", routes.Health.pingHandler)
		}

		if routes.Payments != nil {
			r.Post("/payments/initiate", routes.Payments.Initiate)
			r.Get("/payments/status/{reference}", routes.Payments.Status)
		}
		if routes.Webhooks != nil {
			r.Post("/payments/callback", routes.Webhooks.HandlePaymentCallback)
		}

		if routes.Wallets != nil {
			r.Route("/wallets/{vendorID}", func(wr chi.Router) {
				if routes.Auth != nil {
					wr.Use(routes.Auth.RequireVendor("vendorID"))
				} else {
					routes.Logger.Warn("wallet routes are not protected, no jwt secret configured")
				}
				wr.Get("/", routes.Wallets.Statement)
				wr.Put("/password", routes.Wallets.SetPassword)
				wr.Post("/withdrawals", routes.Wallets.Withdraw)
			})
		}
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"type":"NOT_FOUND","code":"ROUTE_NOT_FOUND","message":"route not found"}}`))
	})
}
