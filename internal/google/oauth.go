// Package google talks to the Google APIs behind each connectable integration.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"querydesk/internal/connections"
)

// ErrNoRefreshToken is returned when a refresh is requested for a credential without one.
var ErrNoRefreshToken = errors.New("credential has no refresh token")

var providerScopes = map[connections.Provider][]string{
	connections.ProviderAnalytics: {
		"https://www.googleapis.com/auth/analytics.readonly",
	},
	connections.ProviderSheets: {
		"https://www.googleapis.com/auth/drive.readonly",
		"https://www.googleapis.com/auth/spreadsheets.readonly",
	},
	connections.ProviderAds: {
		"https://www.googleapis.com/auth/adwords",
	},
}

// Connector runs the per-integration OAuth consent flows.
type Connector struct {
	configs map[connections.Provider]*oauth2.Config
}

// ConnectorOption configures a Connector.
type ConnectorOption func(*oauth2.Config)

// WithEndpoint overrides Google's OAuth endpoint.
func WithEndpoint(endpoint oauth2.Endpoint) ConnectorOption {
	return func(c *oauth2.Config) {
		c.Endpoint = endpoint
	}
}

// NewConnector builds one OAuth config per provider. Each provider's redirect
// URL is callbackBaseURL + "/auth/{provider}/callback".
func NewConnector(clientID, clientSecret, callbackBaseURL string, opts ...ConnectorOption) *Connector {
	base := strings.TrimRight(callbackBaseURL, "/")
	configs := make(map[connections.Provider]*oauth2.Config, len(providerScopes))
	for provider, scopes := range providerScopes {
		cfg := &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  fmt.Sprintf("%s/auth/%s/callback", base, provider),
			Endpoint:     google.Endpoint,
			Scopes:       scopes,
		}
		for _, opt := range opts {
			opt(cfg)
		}
		configs[provider] = cfg
	}
	return &Connector{configs: configs}
}

// AuthURL returns the consent URL for provider. Offline access is requested so
// Google issues a refresh token.
func (c *Connector) AuthURL(provider connections.Provider, state string) (string, error) {
	cfg, ok := c.configs[provider]
	if !ok {
		return "", connections.ErrInvalidProvider
	}
	return cfg.AuthCodeURL(
		state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	), nil
}

// Exchange trades an authorization code for the provider's credential.
func (c *Connector) Exchange(ctx context.Context, provider connections.Provider, code string) (connections.Credential, error) {
	cfg, ok := c.configs[provider]
	if !ok {
		return connections.Credential{}, connections.ErrInvalidProvider
	}

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return connections.Credential{}, fmt.Errorf("token exchange: %w", err)
	}
	return credentialFromToken(token), nil
}

// Refresh exchanges the credential's refresh token for a new access token.
// It satisfies connections.TokenRefresher.
func (c *Connector) Refresh(ctx context.Context, provider connections.Provider, cred connections.Credential) (connections.Credential, error) {
	cfg, ok := c.configs[provider]
	if !ok {
		return connections.Credential{}, connections.ErrInvalidProvider
	}
	if strings.TrimSpace(cred.RefreshToken) == "" {
		return connections.Credential{}, ErrNoRefreshToken
	}

	// An expiry in the past forces the token source to hit the token endpoint.
	stale := &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		Expiry:       time.Now().Add(-time.Minute),
	}
	token, err := cfg.TokenSource(ctx, stale).Token()
	if err != nil {
		return connections.Credential{}, fmt.Errorf("refresh %s token: %w", provider, err)
	}

	refreshed := credentialFromToken(token)
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = cred.RefreshToken
	}
	return refreshed, nil
}

func credentialFromToken(token *oauth2.Token) connections.Credential {
	cred := connections.Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if !token.Expiry.IsZero() {
		expires := token.Expiry.UTC()
		cred.ExpiresAt = &expires
	}
	return cred
}
