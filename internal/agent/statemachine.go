package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shipper-agent/internal/geo"
	"shipper-agent/internal/logger"
	"shipper-agent/internal/models"
)

var (
	// ErrInvalidTransition is returned when an action is not legal in the
	// current delivery state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrOfferPending is returned when a new offer arrives while another
	// offer is still awaiting a decision. The earlier offer keeps precedence.
	ErrOfferPending = errors.New("an offer is already pending decision")
)

// defaultResponseTimeSeconds is reported when the offer timestamp is missing,
// so the metric call never fails to send a value.
const defaultResponseTimeSeconds = 30

// ActionClient is the subset of the backend client the state machine drives.
type ActionClient interface {
	AcceptOrder(ctx context.Context, orderID string, responseTimeSeconds int) error
	RejectOrder(ctx context.Context, orderID string, responseTimeSeconds int) error
	NotifyPickup(ctx context.Context, orderID string) error
	NotifyComplete(ctx context.Context, orderID string) error
	CancelOrder(ctx context.Context, orderID string) error
}

// StateMachine owns the shipper's delivery state and drives every legal
// transition. Accept is the only transition gated on backend confirmation;
// the rest complete optimistically and surface notification failures to the
// caller. The machine is not safe for concurrent use: all transitions are
// expected to run on the agent's event loop.
type StateMachine struct {
	client ActionClient
	log    *logger.Logger
	now    func() time.Time

	state       models.DeliveryState
	online      bool
	offer       *models.OrderOffer
	destination *geo.Point
}

// NewStateMachine creates an idle, offline state machine.
func NewStateMachine(client ActionClient, log *logger.Logger) *StateMachine {
	return &StateMachine{
		client: client,
		log:    log,
		now:    time.Now,
		state:  models.StateIdle,
	}
}

// State returns the current delivery state.
func (sm *StateMachine) State() models.DeliveryState {
	return sm.state
}

// Online reports whether the shipper is accepting new offers.
func (sm *StateMachine) Online() bool {
	return sm.online
}

// Offer returns the active offer, if any.
func (sm *StateMachine) Offer() *models.OrderOffer {
	return sm.offer
}

// Destination returns the current navigation target.
func (sm *StateMachine) Destination() (geo.Point, bool) {
	if sm.destination == nil {
		return geo.Point{}, false
	}
	return *sm.destination, true
}

// SetOnline toggles offer eligibility. The flag is only a shipper choice
// while idle; active orders manage it themselves.
func (sm *StateMachine) SetOnline(online bool) error {
	if sm.state != models.StateIdle {
		return fmt.Errorf("%w: cannot toggle online in state %s", ErrInvalidTransition, sm.state)
	}
	sm.online = online
	sm.log.WithField("online", online).Info("Shipper availability changed")
	return nil
}

// OfferReceived presents a new offer to the shipper. A pending undecided
// offer is never overwritten: callers must keep later offers queued until
// this one is decided.
func (sm *StateMachine) OfferReceived(offer models.OrderOffer) error {
	if sm.state != models.StateIdle {
		return ErrOfferPending
	}
	if !sm.online {
		return fmt.Errorf("%w: shipper is offline", ErrInvalidTransition)
	}

	if offer.ReceivedAt.IsZero() {
		offer.ReceivedAt = sm.now()
	}
	sm.offer = &offer
	sm.state = models.StateOffered

	sm.log.WithFields(map[string]interface{}{
		"order_id":    offer.OrderID,
		"distance_km": offer.DistanceKm,
	}).Info("Order offered to shipper")
	return nil
}

// Accept requests the offered order. The transition is gated on the backend:
// on rejection (for example the order was already taken) the machine reverts
// to idle and the backend's message is returned to be surfaced.
func (sm *StateMachine) Accept(ctx context.Context) error {
	if sm.state != models.StateOffered {
		return fmt.Errorf("%w: accept requires an offered order, state is %s", ErrInvalidTransition, sm.state)
	}

	offer := sm.offer
	responseTime := sm.responseTimeSeconds()

	if err := sm.client.AcceptOrder(ctx, offer.OrderID, responseTime); err != nil {
		sm.offer = nil
		sm.state = models.StateIdle
		sm.log.WithError(err).WithField("order_id", offer.OrderID).Warn("Order accept rejected by backend")
		return err
	}

	sm.state = models.StateEnRouteToRestaurant
	sm.online = false
	dest := offer.Restaurant.Address.Location()
	sm.destination = &dest

	sm.log.WithFields(map[string]interface{}{
		"order_id":              offer.OrderID,
		"response_time_seconds": responseTime,
	}).Info("Order accepted, heading to restaurant")
	return nil
}

// Reject declines the offered order. On success the shipper stays online and
// returns to idle; on failure the offer stays pending for a retry.
func (sm *StateMachine) Reject(ctx context.Context) error {
	if sm.state != models.StateOffered {
		return fmt.Errorf("%w: reject requires an offered order, state is %s", ErrInvalidTransition, sm.state)
	}

	offer := sm.offer
	responseTime := sm.responseTimeSeconds()

	if err := sm.client.RejectOrder(ctx, offer.OrderID, responseTime); err != nil {
		return err
	}

	sm.offer = nil
	sm.state = models.StateIdle

	sm.log.WithFields(map[string]interface{}{
		"order_id":              offer.OrderID,
		"response_time_seconds": responseTime,
	}).Info("Order rejected")
	return nil
}

// Pickup marks the food as collected from the restaurant and retargets
// navigation to the delivery address. The transition is irreversible for the
// current order; a failed backend notification is surfaced but does not
// revert it.
func (sm *StateMachine) Pickup(ctx context.Context) error {
	if sm.state != models.StateEnRouteToRestaurant {
		return fmt.Errorf("%w: pickup requires en route to restaurant, state is %s", ErrInvalidTransition, sm.state)
	}

	sm.state = models.StatePickedUp
	dest := sm.offer.DeliveryAddress.Location()
	sm.destination = &dest

	sm.log.WithField("order_id", sm.offer.OrderID).Info("Order picked up, heading to customer")

	if err := sm.client.NotifyPickup(ctx, sm.offer.OrderID); err != nil {
		sm.log.WithError(err).Warn("Failed to notify pickup")
		return err
	}
	return nil
}

// Depart marks the shipper as moving toward the customer.
func (sm *StateMachine) Depart() error {
	if sm.state != models.StatePickedUp {
		return fmt.Errorf("%w: depart requires picked up, state is %s", ErrInvalidTransition, sm.state)
	}
	sm.state = models.StateEnRouteToCustomer
	return nil
}

// Complete finishes the delivery: the machine resets to idle, clears the
// route target and goes back online. The backend notification is optimistic.
func (sm *StateMachine) Complete(ctx context.Context) error {
	if sm.state != models.StatePickedUp && sm.state != models.StateEnRouteToCustomer {
		return fmt.Errorf("%w: complete requires a picked up order, state is %s", ErrInvalidTransition, sm.state)
	}

	orderID := sm.offer.OrderID
	sm.reset(true)

	sm.log.WithField("order_id", orderID).Info("Order completed")

	if err := sm.client.NotifyComplete(ctx, orderID); err != nil {
		sm.log.WithError(err).Warn("Failed to notify completion")
		return err
	}
	return nil
}

// Cancel abandons the order before pickup and goes back online. Cancellation
// after pickup is not supported.
func (sm *StateMachine) Cancel(ctx context.Context) error {
	if sm.state != models.StateEnRouteToRestaurant {
		return fmt.Errorf("%w: cancel requires en route to restaurant, state is %s", ErrInvalidTransition, sm.state)
	}

	orderID := sm.offer.OrderID
	sm.reset(true)

	sm.log.WithField("order_id", orderID).Info("Order cancelled")

	if err := sm.client.CancelOrder(ctx, orderID); err != nil {
		sm.log.WithError(err).Warn("Failed to notify cancellation")
		return err
	}
	return nil
}

// responseTimeSeconds is the whole seconds elapsed since the offer arrived,
// truncated, never negative. Falls back to a default when the timestamp is
// missing.
func (sm *StateMachine) responseTimeSeconds() int {
	if sm.offer == nil || sm.offer.ReceivedAt.IsZero() {
		return defaultResponseTimeSeconds
	}
	secs := int(sm.now().Sub(sm.offer.ReceivedAt) / time.Second)
	if secs < 0 {
		return 0
	}
	return secs
}

func (sm *StateMachine) reset(online bool) {
	sm.state = models.StateIdle
	sm.offer = nil
	sm.destination = nil
	sm.online = online
}
