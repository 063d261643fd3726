package http

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// newPageHandler serves the dashboard bundle from dir, falling back to
// index.html for client-side routes. Without a directory it reports the
// signed-in user as JSON.
func newPageHandler(dir string) http.Handler {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"path": r.URL.Path,
				"user": UserFromContext(r.Context()),
			})
		})
	}

	files := http.FileServer(http.Dir(dir))
	index := filepath.Join(dir, "index.html")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clean := path.Clean("/" + r.URL.Path)
		if info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(clean))); err == nil && !info.IsDir() {
			files.ServeHTTP(w, r)
			return
		}
		http.ServeFile(w, r, index)
	})
}
