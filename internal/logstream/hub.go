// Package logstream fans out a build's log lines to websocket subscribers,
// so a client can tail a build in progress instead of polling for the log
// file to appear.
package logstream

import "sync"

// subscriber abstracts a streaming client so the hub does not depend on the
// websocket library directly.
type subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans out log lines by build ID.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]map[subscriber]struct{}
	register  chan registration
	unreg     chan registration
	broadcast chan message
}

type registration struct {
	buildID string
	client  subscriber
}

type message struct {
	buildID string
	payload []byte
}

// NewHub starts a Hub's dispatch loop.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[subscriber]struct{}),
		register:  make(chan registration),
		unreg:     make(chan registration),
		broadcast: make(chan message, 256),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case r := <-h.register:
			if h.clients[r.buildID] == nil {
				h.clients[r.buildID] = make(map[subscriber]struct{})
			}
			h.clients[r.buildID][r.client] = struct{}{}
		case r := <-h.unreg:
			if clients, ok := h.clients[r.buildID]; ok {
				delete(clients, r.client)
				if len(clients) == 0 {
					delete(h.clients, r.buildID)
				}
			}
		case m := <-h.broadcast:
			for c := range h.clients[m.buildID] {
				if err := c.Send(m.payload); err != nil {
					c.Close()
					delete(h.clients[m.buildID], c)
				}
			}
		}
	}
}

// Register subscribes client to buildID's log lines.
func (h *Hub) Register(buildID string, client subscriber) {
	h.register <- registration{buildID: buildID, client: client}
}

// Unregister removes client from buildID's subscriber set.
func (h *Hub) Unregister(buildID string, client subscriber) {
	h.unreg <- registration{buildID: buildID, client: client}
}

// Broadcast sends payload to every current subscriber of buildID.
func (h *Hub) Broadcast(buildID string, payload []byte) {
	h.broadcast <- message{buildID: buildID, payload: payload}
}
