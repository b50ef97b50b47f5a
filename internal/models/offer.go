package models

import (
	"fmt"
	"time"

	"shipper-agent/internal/geo"
)

// Address is a structured street address with resolved coordinates.
type Address struct {
	Street   string `json:"street"`
	Ward     string `json:"ward,omitempty"`
	District string `json:"district,omitempty"`
	City     string `json:"city"`

	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Location returns the address coordinates as a geo point.
func (a Address) Location() geo.Point {
	return geo.Point{Latitude: a.Latitude, Longitude: a.Longitude}
}

// Restaurant is the pickup side of an order.
type Restaurant struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Address Address `json:"address"`
}

// OfferItem is a single line item of an offered order.
type OfferItem struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price,omitempty"`
}

// OrderOffer is a candidate order pushed to the shipper for an accept/reject
// decision. Financial fields beyond the total are optional; older backends do
// not send them.
type OrderOffer struct {
	OrderID         string      `json:"order_id"`
	Restaurant      Restaurant  `json:"restaurant"`
	DeliveryAddress Address     `json:"delivery_address"`
	Total           float64     `json:"total"`
	ShippingFee     float64     `json:"shipping_fee,omitempty"`
	ShipperEarnings float64     `json:"shipper_earnings,omitempty"`
	Items           []OfferItem `json:"items"`

	// DistanceKm is computed locally from the shipper's position, never
	// trusted from the wire.
	DistanceKm float64 `json:"distance_km,omitempty"`

	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// Validate rejects malformed offers before they reach the state machine.
func (o *OrderOffer) Validate() error {
	if o.OrderID == "" {
		return fmt.Errorf("offer missing order id")
	}
	if err := validateCoordinates(o.Restaurant.Address.Latitude, o.Restaurant.Address.Longitude); err != nil {
		return fmt.Errorf("restaurant location: %w", err)
	}
	if err := validateCoordinates(o.DeliveryAddress.Latitude, o.DeliveryAddress.Longitude); err != nil {
		return fmt.Errorf("delivery location: %w", err)
	}
	if o.Total < 0 {
		return fmt.Errorf("offer %s has negative total", o.OrderID)
	}
	for i, item := range o.Items {
		if item.Quantity <= 0 {
			return fmt.Errorf("offer %s item %d has non-positive quantity", o.OrderID, i)
		}
	}
	return nil
}

func validateCoordinates(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("latitude %v out of range", lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("longitude %v out of range", lon)
	}
	if lat == 0 && lon == 0 {
		return fmt.Errorf("coordinates unresolved")
	}
	return nil
}
