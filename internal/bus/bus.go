// Package bus is the in-process event bus that lets ingress, the builder,
// the deployer, and the router react to each other's state changes without
// direct dependencies between packages.
package bus

// EventKind names the events Kennel's components publish and subscribe to.
type EventKind string

const (
	// EventBuildQueued fires when ingress accepts a webhook and enqueues a build.
	EventBuildQueued EventKind = "build.queued"
	// EventBuildFinished fires when the builder finishes a build, success or failure.
	EventBuildFinished EventKind = "build.finished"
	// EventDeploymentActive fires when the deployer cuts a deployment over to serving traffic.
	EventDeploymentActive EventKind = "deployment.active"
	// EventDeploymentTornDown fires once a deployment's resources are fully released.
	EventDeploymentTornDown EventKind = "deployment.torn_down"
	// EventRoutingChanged fires whenever the router's table should be recomputed.
	EventRoutingChanged EventKind = "routing.changed"
	// EventBuildLog fires for each line of build output, for log streaming.
	EventBuildLog EventKind = "build.log"
)

// Event is one message published on the bus.
type Event struct {
	Kind    EventKind
	Payload any
}

// subscription registers a channel to receive events of a given kind.
type subscription struct {
	kind EventKind
	ch   chan Event
}

// Bus fans out published events to every subscriber registered for that kind.
type Bus struct {
	register   chan subscription
	unregister chan subscription
	publish    chan Event
	done       chan struct{}
}

// New creates a Bus and starts its dispatch loop.
func New() *Bus {
	b := &Bus{
		register:   make(chan subscription),
		unregister: make(chan subscription),
		publish:    make(chan Event, 64),
		done:       make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Bus) run() {
	subscribers := make(map[EventKind]map[chan Event]struct{})
	for {
		select {
		case <-b.done:
			return
		case sub := <-b.register:
			if subscribers[sub.kind] == nil {
				subscribers[sub.kind] = make(map[chan Event]struct{})
			}
			subscribers[sub.kind][sub.ch] = struct{}{}
		case sub := <-b.unregister:
			delete(subscribers[sub.kind], sub.ch)
		case evt := <-b.publish:
			for ch := range subscribers[evt.Kind] {
				select {
				case ch <- evt:
				default:
					// slow subscriber, drop rather than block the bus
				}
			}
		}
	}
}

// Subscribe returns a channel that receives every future event of kind.
// Call the returned cancel function to stop receiving and release the channel.
func (b *Bus) Subscribe(kind EventKind) (<-chan Event, func()) {
	ch := make(chan Event, 32)
	b.register <- subscription{kind: kind, ch: ch}
	cancel := func() {
		b.unregister <- subscription{kind: kind, ch: ch}
	}
	return ch, cancel
}

// Publish emits an event to every current subscriber of its kind.
func (b *Bus) Publish(kind EventKind, payload any) {
	b.publish <- Event{Kind: kind, Payload: payload}
}

// Close stops the dispatch loop.
func (b *Bus) Close() {
	close(b.done)
}
