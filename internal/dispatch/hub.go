package dispatch

import (
	"sync"

	"shipper-agent/internal/geo"
	"shipper-agent/internal/logger"
	"shipper-agent/internal/models"
	"shipper-agent/internal/subscription"
)

// feedConn is the websocket surface the hub needs from a subscriber.
type feedConn interface {
	WriteJSON(v interface{}) error
	Close() error
}

type subscriber struct {
	conn          feedConn
	origin        geo.Point
	maxDistanceKm float64
}

// Hub fans confirmed orders out to subscribed shippers. Every shipper holds
// at most one subscription; a reconnect replaces the previous socket.
type Hub struct {
	log *logger.Logger

	mu   sync.Mutex
	subs map[string]*subscriber
}

// NewHub creates an empty hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:  log,
		subs: make(map[string]*subscriber),
	}
}

// Add registers a shipper's feed connection. An existing connection for the
// same shipper is closed and replaced.
func (h *Hub) Add(shipperID string, conn feedConn, origin geo.Point, maxDistanceKm float64) {
	h.mu.Lock()
	prev := h.subs[shipperID]
	h.subs[shipperID] = &subscriber{
		conn:          conn,
		origin:        origin,
		maxDistanceKm: maxDistanceKm,
	}
	h.mu.Unlock()

	if prev != nil {
		prev.conn.Close()
	}

	h.log.WithFields(map[string]interface{}{
		"shipper_id":      shipperID,
		"max_distance_km": maxDistanceKm,
	}).Info("Shipper subscribed to order feed")
}

// Remove drops the shipper's subscription if the connection matches the one
// registered. A stale socket cannot evict its replacement.
func (h *Hub) Remove(shipperID string, conn feedConn) {
	h.mu.Lock()
	sub, ok := h.subs[shipperID]
	removed := ok && sub.conn == conn
	if removed {
		delete(h.subs, shipperID)
	}
	h.mu.Unlock()

	if removed {
		h.log.WithField("shipper_id", shipperID).Info("Shipper unsubscribed from order feed")
	}
}

// Broadcast pushes the offer to every subscribed shipper whose position is
// within their requested radius of the delivery address. Returns the number
// of shippers reached.
func (h *Hub) Broadcast(offer models.OrderOffer) int {
	destination := offer.DeliveryAddress.Location()

	h.mu.Lock()
	targets := make(map[string]*subscriber, len(h.subs))
	for id, sub := range h.subs {
		if geo.Haversine(sub.origin, destination) <= sub.maxDistanceKm {
			targets[id] = sub
		}
	}
	h.mu.Unlock()

	msg := subscription.FeedMessage{Type: "offer", Offer: &offer}
	delivered := 0
	for id, sub := range targets {
		if err := sub.conn.WriteJSON(msg); err != nil {
			h.log.WithError(err).WithField("shipper_id", id).Warn("Failed to push offer, dropping subscriber")
			h.Remove(id, sub.conn)
			sub.conn.Close()
			continue
		}
		delivered++
	}

	h.log.WithFields(map[string]interface{}{
		"order_id":  offer.OrderID,
		"delivered": delivered,
	}).Debug("Offer broadcast")
	return delivered
}

// Close drops every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]*subscriber)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.conn.Close()
	}
}
