package models

// DeliveryState is the shipper's position in the delivery workflow. Exactly
// one state is active per shipper; transitions are driven by shipper actions
// and backend confirmations, never silently.
type DeliveryState int

const (
	StateIdle DeliveryState = iota
	StateOffered
	StateEnRouteToRestaurant
	StatePickedUp
	StateEnRouteToCustomer
	StateCompleted
	StateCancelled
)

// String returns the state name for logs and events.
func (s DeliveryState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOffered:
		return "offered"
	case StateEnRouteToRestaurant:
		return "en_route_to_restaurant"
	case StatePickedUp:
		return "picked_up"
	case StateEnRouteToCustomer:
		return "en_route_to_customer"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}
