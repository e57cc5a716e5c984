// Package httpapi exposes Kennel's external HTTP surface: the webhook
// ingest endpoint and an operational health check.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ScottyLabs/kennel/internal/ingress"
	"github.com/ScottyLabs/kennel/internal/logstream"
)

const (
	healthCheckTimeout = 2 * time.Second
	rateWindowDefault  = time.Minute
	rateLimitWebhook   = 120
)

// Router wires the ingress webhook handler, the build log stream, and a
// healthz endpoint behind a mux.
type Router struct {
	mux      *http.ServeMux
	webhook  *ingress.Handler
	logs     *logstream.Handler
	limiter  RateLimiter
	dbHealth func(context.Context) error
	log      *slog.Logger
}

// NewRouter assembles the HTTP surface.
func NewRouter(webhook *ingress.Handler, logs *logstream.Handler, limiter RateLimiter, dbHealth func(context.Context) error, log *slog.Logger) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		webhook:  webhook,
		logs:     logs,
		limiter:  limiter,
		dbHealth: dbHealth,
		log:      log,
	}
	r.routes()
	return r
}

func (r *Router) routes() {
	r.mux.HandleFunc("/healthz", r.handleHealthz)
	r.mux.HandleFunc("/webhook/", r.withRateLimit(rateLimitWebhook, rateWindowDefault, rateLimitKeyIP, r.webhook.ServeHTTP))
	r.mux.HandleFunc("/builds/", r.logs.ServeHTTP)
}

// ServeHTTP delegates to the underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) withRateLimit(limit int, window time.Duration, key func(*http.Request) string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		decision := r.limiter.Allow(key(req), limit, window)
		if !decision.allowed {
			w.Header().Set("Retry-After", time.Until(decision.windowEnd).Round(time.Second).String())
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, req)
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{"status": "down", "error": err.Error()}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "components": components})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
