package http

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"querydesk/internal/connections"
)

const connectStateCookiePrefix = "querydesk_connect_"

// consentFlow runs the OAuth consent dance for one integration.
type consentFlow interface {
	AuthURL(provider connections.Provider, state string) (string, error)
	Exchange(ctx context.Context, provider connections.Provider, code string) (connections.Credential, error)
}

// IntegrationHandler connects and disconnects Google integrations.
type IntegrationHandler struct {
	flow         consentFlow
	connections  *connections.Service
	logger       *slog.Logger
	secureCookie bool
}

// NewIntegrationHandler creates a handler. flow may be nil when Google OAuth
// is not configured, in which case Connect and code callbacks answer 503.
func NewIntegrationHandler(flow consentFlow, svc *connections.Service, env string, logger *slog.Logger) *IntegrationHandler {
	return &IntegrationHandler{
		flow:         flow,
		connections:  svc,
		logger:       logger,
		secureCookie: !strings.EqualFold(env, "development"),
	}
}

// Connect handles GET /auth/{service}/connect.
func (h *IntegrationHandler) Connect(w http.ResponseWriter, r *http.Request) {
	provider, ok := providerParam(w, r)
	if !ok {
		return
	}
	if h.flow == nil {
		writeError(w, http.StatusServiceUnavailable, "google integrations are not configured")
		return
	}

	state, err := h.stateFor(provider).issue(w)
	if err != nil {
		h.logger.Error("failed to generate state", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	authURL, err := h.flow.AuthURL(provider, state)
	if err != nil {
		h.logger.Error("build consent url", "provider", provider, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

// Callback handles GET /auth/{service}/callback. The state issued by Connect
// must come back first. A code is then exchanged through the consent flow;
// without one, the provider's own tokens carried on the URL are stored.
func (h *IntegrationHandler) Callback(w http.ResponseWriter, r *http.Request) {
	provider, ok := providerParam(w, r)
	if !ok {
		return
	}
	user := UserFromContext(r.Context())
	query := r.URL.Query()

	if errParam := query.Get("error"); errParam != "" {
		h.logger.Warn("connect callback: provider error", "provider", provider, "error", errParam)
		redirectToDashboard(w, r, "connect_error", errParam)
		return
	}

	code := query.Get("code")
	if code != "" && h.flow == nil {
		writeError(w, http.StatusServiceUnavailable, "google integrations are not configured")
		return
	}

	if !h.stateFor(provider).check(w, r, query.Get("state")) {
		h.logger.Warn("connect callback: state mismatch", "provider", provider)
		redirectToDashboard(w, r, "connect_error", "invalid_state")
		return
	}

	if code == "" {
		captured, err := h.connections.CaptureRedirect(r.Context(), user.ID, provider, query)
		if err != nil {
			h.logger.Error("connect callback: capture tokens failed", "provider", provider, "error", err)
			redirectToDashboard(w, r, "connect_error", "store_failed")
			return
		}
		if !captured {
			redirectToDashboard(w, r, "connect_error", "missing_code")
			return
		}
		h.logger.Info("integration tokens captured", "user_id", user.ID, "provider", provider)
		redirectToDashboard(w, r, "connected", string(provider))
		return
	}

	cred, err := h.flow.Exchange(r.Context(), provider, code)
	if err != nil {
		h.logger.Error("connect callback: exchange failed", "provider", provider, "error", err)
		redirectToDashboard(w, r, "connect_error", "exchange_error")
		return
	}

	if err := h.connections.SaveCredential(r.Context(), user.ID, provider, cred); err != nil {
		h.logger.Error("connect callback: store credential failed", "provider", provider, "error", err)
		redirectToDashboard(w, r, "connect_error", "store_failed")
		return
	}

	h.logger.Info("integration connected", "user_id", user.ID, "provider", provider)
	redirectToDashboard(w, r, "connected", string(provider))
}

// Disconnect handles POST /auth/{service}/disconnect.
func (h *IntegrationHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	provider, ok := providerParam(w, r)
	if !ok {
		return
	}
	user := UserFromContext(r.Context())

	if err := h.connections.Disconnect(r.Context(), user.ID, provider); err != nil {
		h.logger.Error("disconnect failed", "provider", provider, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to disconnect")
		return
	}

	h.logger.Info("integration disconnected", "user_id", user.ID, "provider", provider)
	writeJSON(w, http.StatusOK, map[string]any{"disconnected": provider})
}

// stateFor scopes the state cookie per provider so parallel consent flows do not collide.
func (h *IntegrationHandler) stateFor(provider connections.Provider) stateCookie {
	return stateCookie{name: connectStateCookiePrefix + string(provider), path: "/auth", secure: h.secureCookie}
}

func providerParam(w http.ResponseWriter, r *http.Request) (connections.Provider, bool) {
	provider, err := connections.ParseProvider(chi.URLParam(r, "service"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown integration")
		return "", false
	}
	return provider, true
}

func redirectToDashboard(w http.ResponseWriter, r *http.Request, key, value string) {
	http.Redirect(w, r, dashboardPath+"?"+key+"="+url.QueryEscape(value), http.StatusSeeOther)
}
