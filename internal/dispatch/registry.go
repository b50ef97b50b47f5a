package dispatch

import (
	"errors"
	"sync"

	"shipper-agent/internal/models"
)

var (
	// ErrOrderNotFound means the order id is unknown or no longer active.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderTaken means another shipper already claimed the order.
	ErrOrderTaken = errors.New("order already taken")
	// ErrNotAssigned means the acting shipper does not hold the order.
	ErrNotAssigned = errors.New("order not assigned to shipper")
	// ErrAlreadyPickedUp rejects cancellation after the food left the restaurant.
	ErrAlreadyPickedUp = errors.New("order already picked up")
)

type orderStatus int

const (
	orderAvailable orderStatus = iota
	orderAssigned
	orderPickedUp
)

type activeOrder struct {
	offer     models.OrderOffer
	status    orderStatus
	shipperID string
}

// Registry holds the orders currently moving through dispatch. Finished
// orders leave the registry; their record lives in the store.
type Registry struct {
	mu     sync.Mutex
	orders map[string]*activeOrder
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{orders: make(map[string]*activeOrder)}
}

// Announce makes a confirmed order available for claiming. Re-announcing an
// active order is a no-op so duplicate events cannot reset an assignment.
func (r *Registry) Announce(offer models.OrderOffer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[offer.OrderID]; exists {
		return false
	}
	r.orders[offer.OrderID] = &activeOrder{offer: offer, status: orderAvailable}
	return true
}

// Claim assigns the order to the shipper. First claim wins; everyone after
// gets ErrOrderTaken.
func (r *Registry) Claim(orderID, shipperID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if order.status != orderAvailable {
		return ErrOrderTaken
	}
	order.status = orderAssigned
	order.shipperID = shipperID
	return nil
}

// Pickup marks the order as picked up by its assigned shipper.
func (r *Registry) Pickup(orderID, shipperID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, err := r.assigned(orderID, shipperID)
	if err != nil {
		return err
	}
	order.status = orderPickedUp
	return nil
}

// Complete finishes the order and removes it from the registry. The offer is
// returned so the caller can persist the delivery record.
func (r *Registry) Complete(orderID, shipperID string) (models.OrderOffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, err := r.assigned(orderID, shipperID)
	if err != nil {
		return models.OrderOffer{}, err
	}
	delete(r.orders, orderID)
	return order.offer, nil
}

// Cancel aborts the order before pickup and makes it available again for
// other shippers.
func (r *Registry) Cancel(orderID, shipperID string) (models.OrderOffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, err := r.assigned(orderID, shipperID)
	if err != nil {
		return models.OrderOffer{}, err
	}
	if order.status == orderPickedUp {
		return models.OrderOffer{}, ErrAlreadyPickedUp
	}
	order.status = orderAvailable
	order.shipperID = ""
	return order.offer, nil
}

func (r *Registry) assigned(orderID, shipperID string) (*activeOrder, error) {
	order, ok := r.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if order.status == orderAvailable || order.shipperID != shipperID {
		return nil, ErrNotAssigned
	}
	return order, nil
}
