package http

import (
	"net/http"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"querydesk/internal/auth"
	"querydesk/internal/config"
	"querydesk/internal/connections"
	"querydesk/internal/metrics"
)

// Dependencies are the services the router hands to its handlers. Optional
// collaborators must be left as untyped nil when not configured.
type Dependencies struct {
	Auth        *auth.Service
	Verifier    identityVerifier
	Google      googleAuthenticator
	Consent     consentFlow
	GoogleAPI   googleAPI
	Connections *connections.Service
	Aggregator  *connections.Aggregator
	Submitter   querySubmitter
	Limiter     limiter
	InFlight    inFlightGuard
}

// NewRouter wires application routes and middleware using chi.
func NewRouter(cfg config.Config, deps Dependencies, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.WebhookTimeout + 15*time.Second))
	r.Use(newSecurityHeadersMiddleware(cfg.Environment))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(newSlogMiddleware(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"environment": cfg.Environment,
		})
	})
	r.Handle("/metrics", metrics.Handler())

	sessionHandler := NewSessionHandler(deps.Auth, deps.Verifier, cfg.Environment, logger)
	integrationHandler := NewIntegrationHandler(deps.Consent, deps.Connections, cfg.Environment, logger)
	resourceHandler := NewResourceHandler(deps.GoogleAPI, deps.Connections, deps.Aggregator, logger)
	queryHandler := NewQueryHandler(deps.Aggregator, deps.Submitter, deps.Limiter, deps.InFlight, logger)

	pages := newPageHandler(cfg.StaticDir)
	sessionHandler.page = pages

	if deps.Verifier == nil {
		logger.Warn("FIREBASE_PROJECT_ID not set; token sign-in disabled")
	}

	requireAPIUser := newAuthMiddleware(deps.Auth, deps.Verifier, logger)
	requirePageUser := newPageGate(deps.Auth, logger)

	r.Route("/users", func(r chi.Router) {
		r.Post("/login", sessionHandler.Login)
		r.Post("/create", sessionHandler.Create)
	})
	r.Get("/login", sessionHandler.LoginPage)

	r.Route("/api", func(r chi.Router) {
		r.Route("/session", func(r chi.Router) {
			r.Get("/", sessionHandler.Status)
			r.Delete("/", sessionHandler.Logout)
		})

		if deps.Google != nil {
			oauthHandler := NewOAuthHandler(deps.Google, deps.Auth, cfg.FrontendURL, cfg.Environment, logger)
			r.Get("/auth/google", oauthHandler.InitiateGoogle)
			r.Get("/auth/google/callback", oauthHandler.CallbackGoogle)
		}

		r.Group(func(r chi.Router) {
			r.Use(requireAPIUser)

			r.Post("/query", queryHandler.Submit)
			r.Get("/connections", resourceHandler.Connections)

			r.Route("/analytics", func(r chi.Router) {
				r.Get("/accounts", resourceHandler.AnalyticsAccounts)
				r.Get("/properties", resourceHandler.AnalyticsProperties)
				r.Post("/selection", resourceHandler.AnalyticsSelect)
				r.Get("/data", resourceHandler.AnalyticsData)
			})
			r.Route("/google-sheets/files", func(r chi.Router) {
				r.Get("/", resourceHandler.SheetFiles)
				r.Post("/", resourceHandler.AddSheetFile)
				r.Delete("/{id}", resourceHandler.RemoveSheetFile)
			})
			r.Route("/google-ads", func(r chi.Router) {
				r.Get("/accounts", resourceHandler.AdsAccounts)
				r.Post("/selection", resourceHandler.AdsSelect)
			})
		})
	})

	r.Route("/auth/{service}", func(r chi.Router) {
		r.With(requirePageUser).Get("/connect", integrationHandler.Connect)
		r.With(requirePageUser).Get("/callback", integrationHandler.Callback)
		r.With(requireAPIUser).Post("/disconnect", integrationHandler.Disconnect)
	})

	r.Route("/dashboard", func(r chi.Router) {
		r.Use(requirePageUser)
		r.Get("/", pages.ServeHTTP)
		r.Get("/*", pages.ServeHTTP)
	})

	return r
}
