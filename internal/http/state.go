package http

import (
	"crypto/subtle"
	"net/http"
	"net/url"
	"strings"
	"time"

	"querydesk/internal/auth"
)

const stateCookieTTL = 10 * time.Minute

// stateCookie binds an OAuth state value to the browser that started the flow.
// Each value is single use: check clears the cookie whether or not it matched.
type stateCookie struct {
	name   string
	path   string
	secure bool
}

func (c stateCookie) issue(w http.ResponseWriter) (string, error) {
	state, err := auth.GenerateState()
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    state,
		Path:     c.path,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(stateCookieTTL.Seconds()),
	})
	return state, nil
}

func (c stateCookie) check(w http.ResponseWriter, r *http.Request, presented string) bool {
	cookie, err := r.Cookie(c.name)
	if err != nil || cookie.Value == "" || presented == "" {
		return false
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    "",
		Path:     c.path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
	})
	return subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(presented)) == 1
}

// isValidRedirectPath accepts only same-origin relative paths. The value is
// decoded once first so /%2f%2fhost cannot slip through as a protocol-relative URL.
func isValidRedirectPath(path string) bool {
	decoded, err := url.QueryUnescape(path)
	if err != nil || !strings.HasPrefix(decoded, "/") || strings.HasPrefix(decoded, "//") {
		return false
	}
	parsed, err := url.Parse(decoded)
	if err != nil {
		return false
	}
	return parsed.Scheme == "" && parsed.Host == ""
}

// redirectTarget returns candidate when it is a safe relative path, otherwise the dashboard.
func redirectTarget(candidate string) string {
	if candidate != "" && isValidRedirectPath(candidate) {
		return candidate
	}
	return dashboardPath
}
