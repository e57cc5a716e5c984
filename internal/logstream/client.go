package logstream

import (
	"log/slog"

	"github.com/gorilla/websocket"
)

// wsClient adapts a websocket connection to the subscriber interface Hub expects.
type wsClient struct {
	conn *websocket.Conn
	log  *slog.Logger
}

func newWSClient(conn *websocket.Conn, log *slog.Logger) *wsClient {
	return &wsClient{conn: conn, log: log}
}

func (c *wsClient) Send(payload []byte) error {
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.log.Debug("log stream send failed", "error", err)
		_ = c.conn.Close()
		return err
	}
	return nil
}

func (c *wsClient) Close() {
	_ = c.conn.Close()
}
