package dispatch

import (
	"errors"
	"sync"
	"testing"

	"shipper-agent/internal/geo"
	"shipper-agent/internal/subscription"
)

type fakeConn struct {
	mu     sync.Mutex
	sent   []subscription.FeedMessage
	failed bool
	closed bool
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed {
		return errors.New("connection gone")
	}
	c.sent = append(c.sent, v.(subscription.FeedMessage))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) messages() []subscription.FeedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]subscription.FeedMessage(nil), c.sent...)
}

func TestBroadcastFiltersByDistance(t *testing.T) {
	hub := NewHub(testLogger())
	near := &fakeConn{}
	far := &fakeConn{}

	// The test offer delivers to 10.7312,106.7289.
	hub.Add("shp-near", near, geo.Point{Latitude: 10.7285, Longitude: 106.7244}, 3)
	hub.Add("shp-far", far, geo.Point{Latitude: 10.90, Longitude: 106.90}, 3)

	offer := testOffer("ord-1")
	if delivered := hub.Broadcast(offer); delivered != 1 {
		t.Fatalf("Expected 1 delivery, got %d", delivered)
	}

	if msgs := near.messages(); len(msgs) != 1 || msgs[0].Offer.OrderID != "ord-1" {
		t.Errorf("Nearby shipper did not receive the offer: %+v", msgs)
	}
	if msgs := far.messages(); len(msgs) != 0 {
		t.Errorf("Distant shipper should not receive the offer: %+v", msgs)
	}
}

func TestBroadcastDropsDeadSubscribers(t *testing.T) {
	hub := NewHub(testLogger())
	dead := &fakeConn{failed: true}
	hub.Add("shp-1", dead, geo.Point{Latitude: 10.7285, Longitude: 106.7244}, 5)

	if delivered := hub.Broadcast(testOffer("ord-1")); delivered != 0 {
		t.Fatalf("Expected 0 deliveries, got %d", delivered)
	}

	// The dead subscriber is gone; the next broadcast reaches nobody.
	if delivered := hub.Broadcast(testOffer("ord-2")); delivered != 0 {
		t.Errorf("Expected dead subscriber to be removed, got %d deliveries", delivered)
	}
	if !dead.closed {
		t.Error("Dead connection should be closed")
	}
}

func TestReconnectReplacesSubscription(t *testing.T) {
	hub := NewHub(testLogger())
	old := &fakeConn{}
	fresh := &fakeConn{}
	origin := geo.Point{Latitude: 10.7285, Longitude: 106.7244}

	hub.Add("shp-1", old, origin, 5)
	hub.Add("shp-1", fresh, origin, 5)

	if !old.closed {
		t.Error("Replaced connection should be closed")
	}

	// A stale Remove from the old socket must not evict the new one.
	hub.Remove("shp-1", old)
	if delivered := hub.Broadcast(testOffer("ord-1")); delivered != 1 {
		t.Errorf("Expected fresh subscription to survive, got %d deliveries", delivered)
	}
	if msgs := fresh.messages(); len(msgs) != 1 {
		t.Errorf("Fresh connection did not receive the offer: %+v", msgs)
	}
}
