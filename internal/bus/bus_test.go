package bus

import (
	"testing"
	"time"
)

// deliveryTimeout bounds how long a test waits for the dispatch goroutine to
// hand a published event to a subscriber; Publish itself returns before
// delivery.
const deliveryTimeout = time.Second

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New()
	defer b.Close()

	ch, cancel := b.Subscribe(EventDeploymentActive)
	defer cancel()

	b.Publish(EventDeploymentActive, "deployment-1")

	select {
	case evt := <-ch:
		if evt.Kind != EventDeploymentActive {
			t.Errorf("Kind = %v, want %v", evt.Kind, EventDeploymentActive)
		}
		if evt.Payload != "deployment-1" {
			t.Errorf("Payload = %v, want deployment-1", evt.Payload)
		}
	case <-time.After(deliveryTimeout):
		t.Fatal("expected event to be delivered to the subscriber's buffered channel")
	}
}

func TestSubscribersOnlyReceiveTheirKind(t *testing.T) {
	b := New()
	defer b.Close()

	active, cancelActive := b.Subscribe(EventDeploymentActive)
	defer cancelActive()
	tornDown, cancelTornDown := b.Subscribe(EventDeploymentTornDown)
	defer cancelTornDown()

	b.Publish(EventDeploymentActive, "d1")

	select {
	case <-active:
	case <-time.After(deliveryTimeout):
		t.Fatal("expected EventDeploymentActive subscriber to receive the event")
	}
	select {
	case <-tornDown:
		t.Fatal("EventDeploymentTornDown subscriber should not receive an active event")
	default:
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	b := New()
	defer b.Close()

	ch, cancel := b.Subscribe(EventRoutingChanged)
	cancel()

	// Publish must not block or panic once the subscriber has unregistered.
	b.Publish(EventRoutingChanged, nil)

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected no event after cancel")
		}
	default:
	}
}
