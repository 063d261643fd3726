package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATA_STORE", "memory")
	t.Setenv("PORT", "8080")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("WEBHOOK_URL", "https://hooks.example.com/query")
	t.Setenv("AUTH_GOOGLE_CLIENT_ID", "")
	t.Setenv("AUTH_GOOGLE_CLIENT_SECRET", "")
	t.Setenv("FIREBASE_PROJECT_ID", "")
	t.Setenv("TOKEN_EXPIRY_POLICY", "")
	t.Setenv("SESSION_TTL", "")
	t.Setenv("WEBHOOK_TIMEOUT", "")
	t.Setenv("QUERY_RATE_PER_MINUTE", "")
	t.Setenv("ALLOWED_ORIGINS", "")
	t.Setenv("GOOGLE_ADS_DEVELOPER_TOKEN", "")
	t.Setenv("DATABASE_MAX_OPEN_CONNS", "")
	t.Setenv("DATABASE_CONN_MAX_LIFETIME", "")
}

func setProductionEnv(t *testing.T) {
	t.Helper()
	setBaseEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("AUTH_GOOGLE_CLIENT_ID", "client-id")
	t.Setenv("AUTH_GOOGLE_CLIENT_SECRET", "client-secret")
	t.Setenv("FIREBASE_PROJECT_ID", "querydesk-test")
	t.Setenv("ALLOWED_ORIGINS", "https://example.com")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if !cfg.UseInMemoryStore() {
		t.Fatal("expected memory store by default")
	}
	if cfg.HTTPAddress() != ":8080" {
		t.Fatalf("expected :8080, got %q", cfg.HTTPAddress())
	}
	if cfg.SessionTTL != 12*time.Hour {
		t.Fatalf("expected 12h session TTL, got %s", cfg.SessionTTL)
	}
	if cfg.WebhookTimeout != time.Minute {
		t.Fatalf("expected 60s webhook timeout, got %s", cfg.WebhookTimeout)
	}
	if cfg.TokenExpiryPolicy != ExpiryPolicyIgnore || cfg.RefreshExpiredTokens() {
		t.Fatalf("expected ignore expiry policy by default, got %q", cfg.TokenExpiryPolicy)
	}
	if cfg.QueryRatePerMinute != 20 {
		t.Fatalf("expected 20 queries per minute, got %d", cfg.QueryRatePerMinute)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Fatalf("expected default origins, got %v", cfg.AllowedOrigins)
	}
}

func TestLoadRequiresWebhookURL(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("WEBHOOK_URL", "")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "WEBHOOK_URL is required") {
		t.Fatalf("expected webhook error, got %v", err)
	}
}

func TestLoadRejectsUnknownExpiryPolicy(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("TOKEN_EXPIRY_POLICY", "sometimes")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "TOKEN_EXPIRY_POLICY") {
		t.Fatalf("expected expiry policy error, got %v", err)
	}
}

func TestLoadAcceptsRefreshExpiryPolicy(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("TOKEN_EXPIRY_POLICY", "Refresh")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if !cfg.RefreshExpiredTokens() {
		t.Fatal("expected refresh policy to be enabled")
	}
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PORT", "http")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestLoadRejectsInvalidRate(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("QUERY_RATE_PER_MINUTE", "0")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "QUERY_RATE_PER_MINUTE") {
		t.Fatalf("expected rate error, got %v", err)
	}
}

func TestLoadRequiresDatabaseURLForPostgres(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("DATA_STORE", "postgres")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL is not set") {
		t.Fatalf("expected database url error, got %v", err)
	}
}

func TestLoadAllowsEmptyOAuthInDevelopment(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.GoogleOAuthEnabled() {
		t.Fatal("expected Google OAuth to be disabled without credentials")
	}
}

func TestLoadRequiresOAuthOutsideDevelopment(t *testing.T) {
	setProductionEnv(t)
	t.Setenv("AUTH_GOOGLE_CLIENT_ID", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when OAuth config missing outside development")
	}
	if !strings.Contains(err.Error(), "AUTH_GOOGLE_CLIENT_ID is required") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadRequiresFirebaseOutsideDevelopment(t *testing.T) {
	setProductionEnv(t)
	t.Setenv("FIREBASE_PROJECT_ID", "")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "FIREBASE_PROJECT_ID is required") {
		t.Fatalf("expected firebase error, got %v", err)
	}
}

func TestLoadAcceptsProductionConfig(t *testing.T) {
	setProductionEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if !cfg.GoogleOAuthEnabled() {
		t.Fatal("expected Google OAuth to be enabled")
	}
	if cfg.IsDevelopment() {
		t.Fatal("expected production environment")
	}
}

func TestLoadRejectsWildcardOriginsOutsideDevelopment(t *testing.T) {
	setProductionEnv(t)
	t.Setenv("ALLOWED_ORIGINS", "https://example.com,*")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when ALLOWED_ORIGINS contains wildcard")
	}
	if !strings.Contains(err.Error(), "cannot contain wildcard") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadRequiresAllowedOriginsOutsideDevelopment(t *testing.T) {
	setProductionEnv(t)
	t.Setenv("ALLOWED_ORIGINS", "   ")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when ALLOWED_ORIGINS is empty")
	}
	if !strings.Contains(err.Error(), "must define at least one origin") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadReadsSecretFromFile(t *testing.T) {
	setBaseEnv(t)
	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte("  file-secret\n"), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}
	t.Setenv("AUTH_GOOGLE_CLIENT_SECRET_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.GoogleClientSecret != "file-secret" {
		t.Fatalf("expected secret from file, got %q", cfg.GoogleClientSecret)
	}
}

func TestLoadRejectsEmptySecretFile(t *testing.T) {
	setBaseEnv(t)
	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte("\n"), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}
	t.Setenv("AUTH_GOOGLE_CLIENT_SECRET_FILE", path)

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "is empty") {
		t.Fatalf("expected empty secret error, got %v", err)
	}
}

func TestLoadReadsAdsDeveloperToken(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("GOOGLE_ADS_DEVELOPER_TOKEN", " dev-token ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.AdsDeveloperToken != "dev-token" {
		t.Fatalf("expected trimmed developer token, got %q", cfg.AdsDeveloperToken)
	}
}

func TestLoadReadsDatabasePool(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("DATABASE_MAX_OPEN_CONNS", "25")
	t.Setenv("DATABASE_CONN_MAX_LIFETIME", "10m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.DatabasePool.MaxOpenConns != 25 || cfg.DatabasePool.ConnMaxLifetime != 10*time.Minute {
		t.Fatalf("unexpected pool %+v", cfg.DatabasePool)
	}
}

func TestLoadRejectsInvalidDatabasePool(t *testing.T) {
	for key, value := range map[string]string{
		"DATABASE_MAX_OPEN_CONNS":    "-1",
		"DATABASE_CONN_MAX_LIFETIME": "forever",
	} {
		t.Run(key, func(t *testing.T) {
			setBaseEnv(t)
			t.Setenv(key, value)

			if _, err := Load(); err == nil || !strings.Contains(err.Error(), key) {
				t.Fatalf("expected %s error, got %v", key, err)
			}
		})
	}
}
