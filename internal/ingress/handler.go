package ingress

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ScottyLabs/kennel/internal/kennelerr"
)

// Handler exposes the webhook ingest endpoint over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler wraps a Service as an http.Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	project := strings.TrimPrefix(req.URL.Path, "/webhook/")
	if project == "" || strings.Contains(project, "/") {
		writeError(w, http.StatusNotFound, "unknown project")
		return
	}

	eventHeader := req.Header.Get("X-Forgejo-Event")
	signatureHeader := req.Header.Get("X-Forgejo-Signature")
	if eventHeader == "" {
		eventHeader = req.Header.Get("X-GitHub-Event")
		signatureHeader = req.Header.Get("X-Hub-Signature-256")
	}
	if eventHeader == "" || signatureHeader == "" {
		writeError(w, http.StatusBadRequest, "missing event or signature header")
		return
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, 10<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}

	outcome, err := h.svc.HandleWebhook(req.Context(), project, eventHeader, signatureHeader, body)
	switch {
	case err == nil && outcome == OutcomeNoBuild:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
	case errors.Is(err, kennelerr.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, kennelerr.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, kennelerr.ErrBadRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, kennelerr.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
