package subscription

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"shipper-agent/internal/config"
	"shipper-agent/internal/geo"
	"shipper-agent/internal/logger"
	"shipper-agent/internal/models"

	"github.com/gorilla/websocket"
)

// ErrSessionInvalid marks a dead subscription. Connection and authentication
// failures are treated alike: the caller must re-authenticate before
// resubscribing.
var ErrSessionInvalid = errors.New("subscription session invalid")

// SubscribeRequest opens the offer stream for one shipper at a position.
type SubscribeRequest struct {
	Type          string  `json:"type"`
	ShipperID     string  `json:"shipper_id"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	MaxDistanceKm float64 `json:"max_distance_km"`
}

// FeedMessage is a single message pushed on the feed socket.
type FeedMessage struct {
	Type  string             `json:"type"`
	Offer *models.OrderOffer `json:"offer,omitempty"`
}

// Feed consumes the live stream of confirmed orders near the shipper. It
// holds no connection while stopped: the socket exists only between Start
// and Stop, so toggling offline releases the network resource. Each incoming
// offer is validated, annotated with the haversine distance from the shipper
// and queued for the caller.
type Feed struct {
	cfg       *config.SubscriptionConfig
	shipperID string
	token     func() string
	log       *logger.Logger

	offers chan models.OrderOffer
	errs   chan error

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

// NewFeed creates a feed for one shipper. token is read at connect time so a
// re-login picks up the fresh credential.
func NewFeed(cfg *config.SubscriptionConfig, shipperID string, token func() string, log *logger.Logger) *Feed {
	return &Feed{
		cfg:       cfg,
		shipperID: shipperID,
		token:     token,
		log:       log,
		offers:    make(chan models.OrderOffer, 16),
		errs:      make(chan error, 1),
	}
}

// Offers is the queue of enriched offers awaiting the caller.
func (f *Feed) Offers() <-chan models.OrderOffer {
	return f.offers
}

// Errors delivers the fatal subscription error, if one occurs.
func (f *Feed) Errors() <-chan error {
	return f.errs
}

// Start connects and subscribes. The shipper's position must be resolved
// first: the subscription never opens on unknown coordinates.
func (f *Feed) Start(ctx context.Context, origin geo.Point) error {
	if origin.Latitude == 0 && origin.Longitude == 0 {
		return fmt.Errorf("cannot subscribe: shipper location unknown")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		return nil
	}

	header := http.Header{}
	if token := f.token(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, f.cfg.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: %v", ErrSessionInvalid, err)
		}
		return fmt.Errorf("%w: dial failed: %v", ErrSessionInvalid, err)
	}

	if err := conn.WriteJSON(SubscribeRequest{
		Type:          "subscribe",
		ShipperID:     f.shipperID,
		Latitude:      origin.Latitude,
		Longitude:     origin.Longitude,
		MaxDistanceKm: f.cfg.MaxDistanceKm,
	}); err != nil {
		conn.Close()
		return fmt.Errorf("%w: subscribe failed: %v", ErrSessionInvalid, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	f.conn = conn
	f.cancel = cancel
	f.done = make(chan struct{})

	go f.readLoop(ctx, conn, origin, f.done)

	f.log.WithFields(map[string]interface{}{
		"shipper_id":      f.shipperID,
		"max_distance_km": f.cfg.MaxDistanceKm,
	}).Info("Order feed subscribed")
	return nil
}

// Stop closes the subscription. Safe to call repeatedly.
func (f *Feed) Stop() {
	f.mu.Lock()
	conn := f.conn
	cancel := f.cancel
	done := f.done
	f.conn = nil
	f.cancel = nil
	f.done = nil
	f.mu.Unlock()

	if conn == nil {
		return
	}
	cancel()
	conn.Close()
	<-done
	f.log.Info("Order feed closed")
}

// ClearPending drops all queued offers that have not been consumed yet.
func (f *Feed) ClearPending() {
	for {
		select {
		case <-f.offers:
		default:
			return
		}
	}
}

func (f *Feed) readLoop(ctx context.Context, conn *websocket.Conn, origin geo.Point, done chan struct{}) {
	defer close(done)

	for {
		var msg FeedMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return // closed by Stop
			}
			f.log.WithError(err).Error("Order feed read failed")
			select {
			case f.errs <- fmt.Errorf("%w: %v", ErrSessionInvalid, err):
			default:
			}
			return
		}

		if msg.Type != "offer" || msg.Offer == nil {
			continue
		}

		offer := *msg.Offer
		if err := offer.Validate(); err != nil {
			f.log.WithError(err).Warn("Dropping malformed offer")
			continue
		}

		offer.DistanceKm = geo.Haversine(origin, offer.DeliveryAddress.Location())
		offer.ReceivedAt = time.Now()

		select {
		case f.offers <- offer:
		default:
			f.log.WithField("order_id", offer.OrderID).Warn("Offer queue full, dropping offer")
		}
	}
}
