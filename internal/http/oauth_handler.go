package http

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"querydesk/internal/auth"
)

const oauthStateCookieName = "querydesk_oauth_state"

type googleAuthenticator interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.GoogleClaims, error)
	IsEmailAllowed(email string) bool
}

// OAuthHandler signs users in through Google's own consent screen, as an
// alternative to posting a Firebase token to /users/login.
type OAuthHandler struct {
	google      googleAuthenticator
	sessions    *sessionIssuer
	state       stateCookie
	logger      *slog.Logger
	frontendURL string
}

// NewOAuthHandler creates a new OAuthHandler. Failures and successes redirect
// to frontendURL, which may be empty when the API serves the pages itself.
func NewOAuthHandler(google googleAuthenticator, authService *auth.Service, frontendURL, env string, logger *slog.Logger) *OAuthHandler {
	secure := !strings.EqualFold(env, "development")
	return &OAuthHandler{
		google:      google,
		sessions:    &sessionIssuer{authService: authService, secureCookie: secure, logger: logger},
		state:       stateCookie{name: oauthStateCookieName, path: "/api/auth", secure: secure},
		logger:      logger,
		frontendURL: strings.TrimSuffix(frontendURL, "/"),
	}
}

// encodeSignInState appends the post-login path to the CSRF nonce. Nonces are
// URL-safe base64, which never contains '.'.
func encodeSignInState(nonce, redirectTo string) string {
	if redirectTo == "" {
		return nonce
	}
	return nonce + "." + base64.RawURLEncoding.EncodeToString([]byte(redirectTo))
}

func decodeSignInState(state string) (nonce, redirectTo string) {
	nonce, encoded, found := strings.Cut(state, ".")
	if !found {
		return nonce, dashboardPath
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nonce, dashboardPath
	}
	return nonce, redirectTarget(string(raw))
}

// InitiateGoogle handles GET /api/auth/google.
func (h *OAuthHandler) InitiateGoogle(w http.ResponseWriter, r *http.Request) {
	nonce, err := h.state.issue(w)
	if err != nil {
		h.logger.Error("failed to generate state", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	var redirectTo string
	if candidate := r.URL.Query().Get("redirectTo"); candidate != "" && isValidRedirectPath(candidate) {
		redirectTo = candidate
	}

	http.Redirect(w, r, h.google.AuthURL(encodeSignInState(nonce, redirectTo)), http.StatusTemporaryRedirect)
}

// CallbackGoogle handles GET /api/auth/google/callback.
func (h *OAuthHandler) CallbackGoogle(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	nonce, redirectTo := decodeSignInState(query.Get("state"))

	if !h.state.check(w, r, nonce) {
		h.logger.Warn("google sign-in: state mismatch")
		h.fail(w, r, "invalid_state")
		return
	}

	if errParam := query.Get("error"); errParam != "" {
		h.logger.Warn("google sign-in: provider error", "error", errParam)
		h.fail(w, r, errParam)
		return
	}

	code := query.Get("code")
	if code == "" {
		h.fail(w, r, "missing_code")
		return
	}

	claims, err := h.google.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("google sign-in: exchange failed", "error", err)
		h.fail(w, r, "exchange_error")
		return
	}

	identity := claims.Identity()
	switch {
	case !identity.EmailVerified:
		h.logger.Warn("google sign-in: email not verified", "email", identity.Email)
		h.fail(w, r, "email_not_verified")
		return
	case !h.google.IsEmailAllowed(identity.Email):
		h.logger.Warn("google sign-in: email not allowed", "email", identity.Email)
		h.fail(w, r, "access_denied")
		return
	}

	user, err := h.sessions.authService.CreateOrUpdateUser(r.Context(), identity)
	if err != nil {
		h.logger.Error("google sign-in: user lookup failed", "error", err)
		h.fail(w, r, "internal_error")
		return
	}
	if err := h.sessions.issue(w, r, user); err != nil {
		h.fail(w, r, "internal_error")
		return
	}

	http.Redirect(w, r, h.frontendURL+redirectTo, http.StatusTemporaryRedirect)
}

func (h *OAuthHandler) fail(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, h.frontendURL+"/login?error="+url.QueryEscape(code), http.StatusTemporaryRedirect)
}
