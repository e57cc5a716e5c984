package router

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// serveStatic serves a file from route.StaticPath, refusing to traverse
// outside it, and falling back to index.html when the route is an SPA and
// the requested file does not exist.
func serveStatic(w http.ResponseWriter, req *http.Request, route Route) {
	full := filepath.Join(route.StaticPath, filepath.FromSlash(req.URL.Path))

	rel, err := filepath.Rel(route.StaticPath, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		if route.SPA {
			http.ServeFile(w, req, filepath.Join(route.StaticPath, "index.html"))
			return
		}
		if info != nil && info.IsDir() {
			http.ServeFile(w, req, filepath.Join(full, "index.html"))
			return
		}
		http.NotFound(w, req)
		return
	}

	http.ServeFile(w, req, full)
}
