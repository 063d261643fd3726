package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Token expiry policies for stored integration credentials.
const (
	ExpiryPolicyIgnore  = "ignore"
	ExpiryPolicyRefresh = "refresh"
)

// Config aggregates runtime configuration for the querydesk services.
type Config struct {
	Environment    string
	HTTPPort       int
	DatabaseURL    string
	DatabasePool   DatabasePool
	DataStore      string
	LogLevel       string
	LogFormat      string
	AllowedOrigins []string
	StaticDir      string
	FrontendURL    string
	SessionTTL     time.Duration

	GoogleClientID       string
	GoogleClientSecret   string
	GoogleRedirectURL    string
	GoogleAllowedDomains []string
	GoogleAllowedEmails  []string
	IntegrationsBaseURL  string
	AdsDeveloperToken    string

	FirebaseProjectID string

	WebhookURL         string
	WebhookTimeout     time.Duration
	TokenExpiryPolicy  string
	QueryRatePerMinute int
}

// DatabasePool carries the Postgres pool limits. Zero values defer to the
// database package defaults.
type DatabasePool struct {
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// Load reads configuration from environment variables with sensible defaults for local development.
func Load() (Config, error) {
	databaseURL, err := getEnvOrFile("DATABASE_URL", "/run/secrets/querydesk_database_url")
	if err != nil {
		return Config{}, err
	}

	clientSecret, err := getEnvOrFile("AUTH_GOOGLE_CLIENT_SECRET", "/run/secrets/querydesk_google_client_secret")
	if err != nil {
		return Config{}, err
	}

	adsDeveloperToken, err := getEnvOrFile("GOOGLE_ADS_DEVELOPER_TOKEN", "/run/secrets/querydesk_google_ads_developer_token")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Environment:          getEnv("APP_ENV", "development"),
		DatabaseURL:          databaseURL,
		DataStore:            strings.ToLower(getEnv("DATA_STORE", "memory")),
		LogLevel:             strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:            strings.ToLower(getEnv("LOG_FORMAT", "text")),
		AllowedOrigins:       parseCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:8080")),
		StaticDir:            getEnv("WEB_DIST_PATH", ""),
		FrontendURL:          strings.TrimSuffix(getEnv("FRONTEND_URL", "http://localhost:8080"), "/"),
		GoogleClientID:       strings.TrimSpace(os.Getenv("AUTH_GOOGLE_CLIENT_ID")),
		GoogleClientSecret:   strings.TrimSpace(clientSecret),
		GoogleRedirectURL:    getEnv("AUTH_GOOGLE_REDIRECT_URL", "http://localhost:8080/api/auth/google/callback"),
		GoogleAllowedDomains: parseCSV(os.Getenv("AUTH_GOOGLE_ALLOWED_DOMAINS")),
		GoogleAllowedEmails:  parseCSV(os.Getenv("AUTH_GOOGLE_ALLOWED_EMAILS")),
		IntegrationsBaseURL:  strings.TrimSuffix(getEnv("INTEGRATIONS_CALLBACK_BASE_URL", "http://localhost:8080"), "/"),
		AdsDeveloperToken:    strings.TrimSpace(adsDeveloperToken),
		FirebaseProjectID:    strings.TrimSpace(os.Getenv("FIREBASE_PROJECT_ID")),
		WebhookURL:           strings.TrimSpace(os.Getenv("WEBHOOK_URL")),
		TokenExpiryPolicy:    strings.ToLower(getEnv("TOKEN_EXPIRY_POLICY", ExpiryPolicyIgnore)),
	}

	portValue := getEnv("PORT", getEnv("HTTP_PORT", "8080"))
	port, err := strconv.Atoi(portValue)
	if err != nil {
		return Config{}, fmt.Errorf("invalid port %q: %w", portValue, err)
	}
	cfg.HTTPPort = port

	if cfg.SessionTTL, err = parseDuration("SESSION_TTL", "12h"); err != nil {
		return Config{}, err
	}
	if cfg.WebhookTimeout, err = parseDuration("WEBHOOK_TIMEOUT", "60s"); err != nil {
		return Config{}, err
	}

	if cfg.DatabasePool.MaxOpenConns, err = parseOptionalInt("DATABASE_MAX_OPEN_CONNS"); err != nil {
		return Config{}, err
	}
	if lifetime := os.Getenv("DATABASE_CONN_MAX_LIFETIME"); lifetime != "" {
		if cfg.DatabasePool.ConnMaxLifetime, err = parseDuration("DATABASE_CONN_MAX_LIFETIME", lifetime); err != nil {
			return Config{}, err
		}
	}

	rateValue := getEnv("QUERY_RATE_PER_MINUTE", "20")
	rate, err := strconv.Atoi(rateValue)
	if err != nil || rate <= 0 {
		return Config{}, fmt.Errorf("invalid QUERY_RATE_PER_MINUTE %q", rateValue)
	}
	cfg.QueryRatePerMinute = rate

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	if c.DataStore != "memory" && c.DataStore != "postgres" {
		return fmt.Errorf("DATA_STORE must be memory or postgres, got %q", c.DataStore)
	}
	if c.DataStore == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("DATA_STORE is postgres but DATABASE_URL is not set")
	}
	if c.WebhookURL == "" {
		return fmt.Errorf("WEBHOOK_URL is required")
	}
	switch c.TokenExpiryPolicy {
	case ExpiryPolicyIgnore, ExpiryPolicyRefresh:
	default:
		return fmt.Errorf("TOKEN_EXPIRY_POLICY must be %q or %q, got %q", ExpiryPolicyIgnore, ExpiryPolicyRefresh, c.TokenExpiryPolicy)
	}

	if c.IsDevelopment() {
		return nil
	}
	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("ALLOWED_ORIGINS must define at least one origin outside development")
	}
	for _, origin := range c.AllowedOrigins {
		if origin == "*" {
			return fmt.Errorf("ALLOWED_ORIGINS cannot contain wildcard outside development")
		}
	}
	if c.GoogleClientID == "" {
		return fmt.Errorf("AUTH_GOOGLE_CLIENT_ID is required outside development")
	}
	if c.GoogleClientSecret == "" {
		return fmt.Errorf("AUTH_GOOGLE_CLIENT_SECRET is required outside development")
	}
	if c.FirebaseProjectID == "" {
		return fmt.Errorf("FIREBASE_PROJECT_ID is required outside development")
	}
	return nil
}

// HTTPAddress returns the address the HTTP server should bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// UseInMemoryStore returns true if the in-memory repositories should be used.
func (c Config) UseInMemoryStore() bool {
	return c.DataStore == "memory"
}

// IsDevelopment reports whether the service runs with development defaults.
func (c Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// GoogleOAuthEnabled reports whether Google client credentials are configured.
func (c Config) GoogleOAuthEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// RefreshExpiredTokens reports whether expired integration tokens are refreshed before use.
func (c Config) RefreshExpiredTokens() bool {
	return c.TokenExpiryPolicy == ExpiryPolicyRefresh
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseDuration(key, fallback string) (time.Duration, error) {
	value := getEnv(key, fallback)
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, value)
	}
	return d, nil
}

func parseOptionalInt(key string) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, value)
	}
	return n, nil
}

func parseCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvOrFile(key, defaultPath string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}

	fileKey := key + "_FILE"
	if path := os.Getenv(fileKey); path != "" {
		return readSecret(path, fileKey)
	}

	if defaultPath != "" {
		return readSecret(defaultPath, key)
	}

	return "", nil
}

func readSecret(path, name string) (string, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("config: reading %s (%s): %w", name, path, err)
	}

	value := strings.TrimSpace(string(contents))
	if value == "" {
		return "", fmt.Errorf("config: %s (%s) is empty", name, path)
	}
	return value, nil
}
