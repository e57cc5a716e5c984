package logstream

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// Handler upgrades a request to a websocket and tails one build's log lines.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewHandler constructs a Handler backed by hub.
func NewHandler(hub *Hub, log *slog.Logger) *Handler {
	return &Handler{
		hub:      hub,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: func(*http.Request) bool { return true }},
		log:      log,
	}
}

// ServeHTTP handles GET /builds/{id}/logs/stream.
func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	buildID := strings.TrimSuffix(strings.TrimPrefix(req.URL.Path, "/builds/"), "/logs/stream")
	if buildID == "" || strings.Contains(buildID, "/") {
		http.NotFound(w, req)
		return
	}

	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		h.log.Debug("log stream upgrade failed", "error", err)
		return
	}
	client := newWSClient(conn, h.log)
	h.hub.Register(buildID, client)
	defer h.hub.Unregister(buildID, client)

	// Drain and discard any client-sent frames until the connection closes;
	// this is a read-only stream.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			client.Close()
			return
		}
	}
}
