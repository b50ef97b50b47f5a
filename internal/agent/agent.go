package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"shipper-agent/internal/config"
	"shipper-agent/internal/geo"
	"shipper-agent/internal/logger"
	"shipper-agent/internal/models"
)

// Router fetches a drivable polyline between two points.
type Router interface {
	Route(ctx context.Context, from, to geo.Point) ([]geo.Point, error)
}

// OfferFeed is the live order subscription consumed by the agent.
type OfferFeed interface {
	Start(ctx context.Context, origin geo.Point) error
	Stop()
	Offers() <-chan models.OrderOffer
	Errors() <-chan error
	ClearPending()
}

// Client joins the state-machine actions with location reporting.
type Client interface {
	ActionClient
	LocationPusher
}

// rejectAttempts bounds retries of a failed reject before the agent gives up
// on the session.
const rejectAttempts = 3

// Agent runs the full shipper workflow headlessly: it subscribes to nearby
// confirmed orders, decides offers by distance, simulates driving the route
// and reports its position while an order is active. All state transitions
// happen on the Run loop, one event at a time.
type Agent struct {
	cfg      *config.Config
	log      *logger.Logger
	client   Client
	sm       *StateMachine
	feed     OfferFeed
	router   Router
	movement *Movement
	tracker  *Tracker

	mu          sync.Mutex
	position    geo.Point
	hasPosition bool
}

// New assembles an agent from its collaborators.
func New(cfg *config.Config, client Client, feed OfferFeed, router Router, log *logger.Logger) *Agent {
	a := &Agent{
		cfg:      cfg,
		log:      log,
		client:   client,
		sm:       NewStateMachine(client, log),
		feed:     feed,
		router:   router,
		movement: NewMovement(time.Duration(cfg.Movement.TickMillis)*time.Millisecond, log),
	}
	a.tracker = NewTracker(
		time.Duration(cfg.Tracking.Interval)*time.Second,
		client,
		a.Position,
		log,
	)
	return a
}

// Position returns the last known shipper position.
func (a *Agent) Position() (geo.Point, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.position, a.hasPosition
}

func (a *Agent) setPosition(p geo.Point) {
	a.mu.Lock()
	a.position = p
	a.hasPosition = true
	a.mu.Unlock()
}

// Run drives the agent until the context is cancelled or the session dies.
// A returned error other than the context's means the session is invalid and
// the operator must re-authenticate.
func (a *Agent) Run(ctx context.Context) error {
	defer a.teardown()

	a.setPosition(geo.Point{
		Latitude:  a.cfg.Agent.StartLatitude,
		Longitude: a.cfg.Agent.StartLongitude,
	})

	if err := a.sm.SetOnline(true); err != nil {
		return err
	}
	origin, _ := a.Position()
	if err := a.feed.Start(ctx, origin); err != nil {
		return err
	}

	for {
		// Offers are only drained while the shipper can take one; a nil
		// channel keeps queued offers waiting their turn.
		var offers <-chan models.OrderOffer
		if a.sm.State() == models.StateIdle && a.sm.Online() {
			offers = a.feed.Offers()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-a.feed.Errors():
			return fmt.Errorf("order feed lost, re-authentication required: %w", err)

		case offer := <-offers:
			if err := a.handleOffer(ctx, offer); err != nil {
				return err
			}

		case p := <-a.movement.Positions():
			a.setPosition(p)

		case arrival := <-a.movement.Arrivals():
			if err := a.handleArrival(ctx, arrival); err != nil {
				return err
			}
		}
	}
}

func (a *Agent) handleOffer(ctx context.Context, offer models.OrderOffer) error {
	if err := a.sm.OfferReceived(offer); err != nil {
		a.log.WithError(err).WithField("order_id", offer.OrderID).Warn("Offer not presented")
		return nil
	}

	if offer.DistanceKm > a.cfg.Agent.AcceptWithinKm {
		return a.reject(ctx, offer)
	}

	if err := a.sm.Accept(ctx); err != nil {
		// Recoverable: the order went to someone else, stay online.
		a.log.WithError(err).WithField("order_id", offer.OrderID).Info("Accept failed, staying available")
		return nil
	}

	// Accepted orders take the shipper off the market.
	a.feed.Stop()
	a.feed.ClearPending()
	a.tracker.Start(ctx)
	a.driveTo(ctx, ArrivedAtRestaurant)
	return nil
}

func (a *Agent) reject(ctx context.Context, offer models.OrderOffer) error {
	var err error
	for i := 0; i < rejectAttempts; i++ {
		if err = a.sm.Reject(ctx); err == nil {
			return nil
		}
		a.log.WithError(err).WithField("order_id", offer.OrderID).Warn("Reject failed, retrying")
	}
	return fmt.Errorf("could not reject offer %s: %w", offer.OrderID, err)
}

func (a *Agent) handleArrival(ctx context.Context, arrival Arrival) error {
	switch arrival {
	case ArrivedAtRestaurant:
		if err := a.sm.Pickup(ctx); err != nil {
			a.log.WithError(err).Warn("Pickup notification failed")
		}
		a.driveTo(ctx, ArrivedAtCustomer)
		if err := a.sm.Depart(); err != nil {
			a.log.WithError(err).Warn("Depart transition failed")
		}

	case ArrivedAtCustomer:
		if err := a.sm.Complete(ctx); err != nil {
			a.log.WithError(err).Warn("Completion notification failed")
		}
		a.tracker.Stop()

		// Back on the market: resubscribe from the delivery location.
		origin, _ := a.Position()
		if err := a.feed.Start(ctx, origin); err != nil {
			return err
		}
	}
	return nil
}

// driveTo fetches a route to the state machine's destination and starts the
// simulated drive. A routing failure just means the drive does not start;
// it is logged, not surfaced.
func (a *Agent) driveTo(ctx context.Context, kind Arrival) {
	dest, ok := a.sm.Destination()
	if !ok {
		a.log.Warn("No destination set, skipping drive")
		return
	}
	origin, _ := a.Position()

	polyline, err := a.router.Route(ctx, origin, dest)
	if err != nil {
		a.log.WithError(err).Warn("Routing failed, movement not started")
		return
	}

	track := geo.InterpolateRoute(polyline, a.cfg.Movement.StepMeters)
	a.movement.Follow(ctx, track, kind)
}

func (a *Agent) teardown() {
	a.tracker.Stop()
	a.movement.Stop()
	a.feed.Stop()
}
