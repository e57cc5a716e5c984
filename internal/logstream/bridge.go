package logstream

import (
	"context"
	"encoding/json"

	"github.com/ScottyLabs/kennel/internal/builder"
	"github.com/ScottyLabs/kennel/internal/bus"
)

// Bridge relays EventBuildLog from the event bus into a Hub's per-build
// subscriber fan-out.
type Bridge struct {
	hub *Hub
	bus *bus.Bus
}

// NewBridge constructs a Bridge. Call Run to start relaying.
func NewBridge(hub *Hub, eventBus *bus.Bus) *Bridge {
	return &Bridge{hub: hub, bus: eventBus}
}

// Run relays log lines until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	events, cancel := b.bus.Subscribe(bus.EventBuildLog)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			line, ok := evt.Payload.(builder.LogLine)
			if !ok {
				continue
			}
			payload, err := json.Marshal(line)
			if err != nil {
				continue
			}
			b.hub.Broadcast(line.BuildID, payload)
		}
	}
}
