package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"querydesk/internal/auth"
	"querydesk/internal/config"
	"querydesk/internal/connections"
	"querydesk/internal/google"
	transporthttp "querydesk/internal/http"
	"querydesk/internal/http/ratelimit"
	"querydesk/internal/platform/database"
	"querydesk/internal/platform/logging"
	"querydesk/internal/platform/migrate"
	"querydesk/internal/webhook"
)

const (
	sessionCleanupInterval = 30 * time.Minute
	limiterIdleTTL         = 15 * time.Minute
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	stores, cleanup, err := buildStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	authService := auth.NewService(stores.users, cfg.SessionTTL)
	go authService.RunSessionCleanup(ctx, sessionCleanupInterval, logger)

	connectionService := connections.NewService(stores.connections, stores.tokens)
	connector := google.NewConnector(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.IntegrationsBaseURL)

	var aggregatorOpts []connections.AggregatorOption
	if cfg.RefreshExpiredTokens() {
		aggregatorOpts = append(aggregatorOpts, connections.WithRefresher(connector))
	}
	aggregator := connections.NewAggregator(connectionService, logger, aggregatorOpts...)

	limiter := ratelimit.NewKeyedLimiter(ratelimit.PerMinute(cfg.QueryRatePerMinute), cfg.QueryRatePerMinute, limiterIdleTTL)
	go limiter.Run(ctx)

	deps := transporthttp.Dependencies{
		Auth:        authService,
		GoogleAPI:   google.NewClient(nil, google.WithAdsDeveloperToken(cfg.AdsDeveloperToken)),
		Connections: connectionService,
		Aggregator:  aggregator,
		Submitter:   webhook.NewSubmitter(cfg.WebhookURL, cfg.WebhookTimeout, logger),
		Limiter:     limiter,
		InFlight:    ratelimit.NewInFlight(),
	}

	allowlist := auth.NewAllowlist(cfg.GoogleAllowedDomains, cfg.GoogleAllowedEmails)
	if cfg.GoogleOAuthEnabled() {
		deps.Consent = connector

		authenticator, err := auth.NewGoogleAuthenticator(ctx, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL, allowlist)
		if err != nil {
			logger.Error("failed to initialize google sign-in", "error", err)
			os.Exit(1)
		}
		deps.Google = authenticator
	} else {
		logger.Warn("google client credentials not set; integrations and google sign-in disabled")
	}

	if cfg.FirebaseProjectID != "" {
		verifier, err := auth.NewFirebaseVerifier(ctx, cfg.FirebaseProjectID, allowlist)
		if err != nil {
			logger.Error("failed to initialize firebase verifier", "error", err)
			os.Exit(1)
		}
		deps.Verifier = verifier
	}

	router := transporthttp.NewRouter(cfg, deps, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.WebhookTimeout + 20*time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    http.DefaultMaxHeaderBytes,
	}

	go func() {
		logger.Info("querydesk API listening", "addr", srv.Addr, "store", cfg.DataStore)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

type storage struct {
	users       auth.Repository
	connections connections.Store
	tokens      connections.TokenDocuments
}

func buildStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage, func(), error) {
	if cfg.UseInMemoryStore() {
		logger.Info("using in-memory stores")
		return storage{
			users:       auth.NewInMemoryRepository(),
			connections: connections.NewMemoryStore(),
			tokens:      connections.NewMemoryTokenDocuments(),
		}, nil, nil
	}

	db, err := database.NewPostgres(ctx, cfg.DatabaseURL, database.Pool{
		MaxOpenConns:    cfg.DatabasePool.MaxOpenConns,
		ConnMaxLifetime: cfg.DatabasePool.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return storage{}, nil, err
	}

	cleanup := func() {
		_ = db.Close()
	}

	if err := migrate.Apply(ctx, db, logger); err != nil {
		cleanup()
		return storage{}, nil, err
	}

	logger.Info("connected to postgres")
	return storage{
		users:       auth.NewPostgresRepository(db),
		connections: connections.NewPostgresStore(db),
		tokens:      connections.NewPostgresTokenDocuments(db),
	}, cleanup, nil
}
