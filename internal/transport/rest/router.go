package rest

import (
	"database/sql"
	"log/slog"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/frahmantamala/shop-orders/internal/auth"
	"github.com/frahmantamala/shop-orders/internal/payment"
	"github.com/frahmantamala/shop-orders/internal/shipping"
	"github.com/frahmantamala/shop-orders/internal/transport/middleware"
	"github.com/frahmantamala/shop-orders/internal/transport/swagger"
	"github.com/frahmantamala/shop-orders/internal/user"
)

// Handlers groups everything the router mounts. Nil handlers leave their routes out.
type Handlers struct {
	Auth     *auth.Handler
	RBAC     *auth.RBACAuthorization
	User     *user.Handler
	Payment  *payment.Handler
	Webhook  *payment.WebhookHandler
	Shipping *shipping.Handler

	// EnsureLimiter throttles the polling endpoint per client.
	EnsureLimiter *middleware.RateLimiter
	// AllowedOrigins is the comma separated CORS allow list.
	AllowedOrigins string
	// HealthChecks are probed next to the database on /health.
	HealthChecks []HealthCheck
	// APISpec enables /openapi.yml and the Swagger UI.
	APISpec *swagger.Spec
}

func RegisterAllRoutes(router *chi.Mux, db *sql.DB, h Handlers, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db, h.HealthChecks...)

	router.Use(middleware.CORS(h.AllowedOrigins))
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	if h.APISpec != nil {
		router.Get(swagger.SpecRoute, h.APISpec.Handler())
		router.Handle("/swagger/*", swagger.Handler())
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		if h.Auth != nil {
			r.Route("/auth", func(sr chi.Router) {
				sr.Post("/login", h.Auth.Login)
				sr.Post("/refresh", h.Auth.RefreshToken)
			})
		}

		// storefront and processor facing, no staff auth
		r.Route("/payments", func(pr chi.Router) {
			if h.Payment != nil {
				pr.Post("/intents", h.Payment.CreateIntent)
				pr.Post("/{providerOrderID}/capture", h.Payment.Capture)
				pr.Group(func(er chi.Router) {
					if h.EnsureLimiter != nil {
						er.Use(h.EnsureLimiter.Middleware)
					}
					er.Get("/{providerOrderID}/ensure", h.Payment.Ensure)
				})
			}
			if h.Webhook != nil {
				pr.Post("/webhook/{provider}", h.Webhook.HandleWebhook)
			}
		})

		if h.Auth == nil || h.RBAC == nil {
			return
		}

		r.Group(func(pr chi.Router) {
			pr.Use(h.Auth.AuthMiddleware)

			if h.User != nil {
				pr.Get("/users/me", h.User.GetCurrentUser)
			}

			pr.Route("/admin", func(ar chi.Router) {
				if h.Payment != nil {
					ar.Group(func(rr chi.Router) {
						rr.Use(h.RBAC.RequireReplayPayments())
						rr.Post("/payments/replay", h.Payment.Replay)
					})
				}
				if h.Shipping != nil {
					ar.Group(func(sr chi.Router) {
						sr.Use(h.RBAC.RequireManageShipping())
						sr.Post("/orders/{orderID}/shipping-draft", h.Shipping.BuildDraft)
						sr.Get("/orders/{orderID}/shipping-draft", h.Shipping.GetDraft)
					})
				}
			})
		})
	})
}
