package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a dispatch event.
type EventType string

const (
	EventTypeOrderConfirmed  EventType = "order.confirmed"
	EventTypeOrderAccepted   EventType = "order.accepted"
	EventTypeOrderRejected   EventType = "order.rejected"
	EventTypeOrderPickedUp   EventType = "order.picked_up"
	EventTypeOrderDelivered  EventType = "order.delivered"
	EventTypeOrderCancelled  EventType = "order.cancelled"
	EventTypeLocationUpdated EventType = "shipper.location_updated"
)

// Event is the envelope for every message on the dispatch topics. Data is
// kept raw so each handler can decode its own payload.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// OrderConfirmedEvent announces an order that is confirmed by the restaurant
// and looking for a shipper.
type OrderConfirmedEvent struct {
	Offer OrderOffer `json:"offer"`
}

// OrderDecisionEvent records a shipper's accept or reject decision together
// with the response-time metric.
type OrderDecisionEvent struct {
	OrderID             string    `json:"order_id"`
	ShipperID           string    `json:"shipper_id"`
	ResponseTimeSeconds int       `json:"response_time_seconds"`
	Timestamp           time.Time `json:"timestamp"`
}

// OrderProgressEvent records a pickup, completion or cancellation.
type OrderProgressEvent struct {
	OrderID   string    `json:"order_id"`
	ShipperID string    `json:"shipper_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ShipperLocationEvent records a shipper position report.
type ShipperLocationEvent struct {
	ShipperID string    `json:"shipper_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}
