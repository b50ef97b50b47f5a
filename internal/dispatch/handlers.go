package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"shipper-agent/internal/geo"
	"shipper-agent/internal/logger"
	"shipper-agent/internal/models"
	"shipper-agent/internal/subscription"

	"github.com/gorilla/websocket"
)

// eventPublisher publishes dispatch events to the message broker.
type eventPublisher interface {
	PublishOrderDecision(eventType models.EventType, orderID, shipperID string, responseTimeSeconds int) error
	PublishOrderProgress(eventType models.EventType, orderID, shipperID string) error
	PublishShipperLocation(shipperID string, latitude, longitude float64) error
}

// presenceStore keeps live shipper positions and availability.
type presenceStore interface {
	SetShipperLocation(ctx context.Context, shipperID string, point geo.Point) error
	GetShipperLocation(ctx context.Context, shipperID string) (geo.Point, bool, error)
	SetShipperOnline(ctx context.Context, shipperID string, online bool) error
	IsShipperOnline(ctx context.Context, shipperID string) (bool, error)
}

// reportStore persists decisions and deliveries and serves dashboard queries.
type reportStore interface {
	RecordDecision(ctx context.Context, shipperID, orderID string, accepted bool, responseTimeSeconds int) error
	RecordDelivery(ctx context.Context, shipperID string, offer models.OrderOffer, status string) error
	OrderHistory(ctx context.Context, shipperID string, page, pageSize int) ([]models.HistoryEntry, error)
	EarningsBreakdown(ctx context.Context, shipperID string) (*models.EarningsBreakdown, error)
	Performance(ctx context.Context, shipperID string) (*models.Performance, error)
}

// Handler serves the shipper-facing HTTP and websocket API.
type Handler struct {
	issuer   *TokenIssuer
	otp      *OTPStore
	registry *Registry
	hub      *Hub
	store    reportStore
	presence presenceStore
	producer eventPublisher
	log      *logger.Logger

	upgrader websocket.Upgrader
	checks   map[string]func(ctx context.Context) error
}

// NewHandler wires the shipper API together.
func NewHandler(issuer *TokenIssuer, otp *OTPStore, registry *Registry, hub *Hub, store reportStore, presence presenceStore, producer eventPublisher, log *logger.Logger) *Handler {
	return &Handler{
		issuer:   issuer,
		otp:      otp,
		registry: registry,
		hub:      hub,
		store:    store,
		presence: presence,
		producer: producer,
		log:      log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		checks: make(map[string]func(ctx context.Context) error),
	}
}

// RegisterHealthCheck adds a named dependency check to the health endpoint.
func (h *Handler) RegisterHealthCheck(name string, check func(ctx context.Context) error) {
	h.checks[name] = check
}

// RegisterRoutes attaches all endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", corsMiddleware(h.Health))

	mux.HandleFunc("/shippers/request-otp", corsMiddleware(h.RequestOTP))
	mux.HandleFunc("/shippers/verify-otp", corsMiddleware(h.VerifyOTP))

	mux.HandleFunc("/shippers/request-order", corsMiddleware(h.authMiddleware(h.RequestOrder)))
	mux.HandleFunc("/shippers/reject-order", corsMiddleware(h.authMiddleware(h.RejectOrder)))
	mux.HandleFunc("/shippers/pickup-order", corsMiddleware(h.authMiddleware(h.PickupOrder)))
	mux.HandleFunc("/shippers/complete-order", corsMiddleware(h.authMiddleware(h.CompleteOrder)))
	mux.HandleFunc("/shippers/cancel-order", corsMiddleware(h.authMiddleware(h.CancelOrder)))
	mux.HandleFunc("/shippers/update-location", corsMiddleware(h.authMiddleware(h.UpdateLocation)))
	mux.HandleFunc("/shippers/location", corsMiddleware(h.authMiddleware(h.Location)))

	mux.HandleFunc("/shippers/order-history", corsMiddleware(h.authMiddleware(h.OrderHistory)))
	mux.HandleFunc("/shippers/earnings-breakdown", corsMiddleware(h.authMiddleware(h.EarningsBreakdown)))
	mux.HandleFunc("/shippers/performance", corsMiddleware(h.authMiddleware(h.Performance)))

	mux.HandleFunc("/shippers/feed", h.authMiddleware(h.Feed))
}

type contextKey string

const shipperIDKey contextKey = "shipper_id"

// authMiddleware verifies the bearer token and stores the shipper id in the
// request context.
func (h *Handler) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			writeErrorResponse(w, http.StatusUnauthorized, "Missing bearer token")
			return
		}

		shipperID, err := h.issuer.Verify(strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			writeErrorResponse(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), shipperIDKey, shipperID)
		next(w, r.WithContext(ctx))
	}
}

func shipperFromContext(ctx context.Context) string {
	id, _ := ctx.Value(shipperIDKey).(string)
	return id
}

// Health reports the status of the service and its dependencies.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := "ok"
	components := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status = "degraded"
			components[name] = err.Error()
		} else {
			components[name] = "ok"
		}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, code, map[string]interface{}{
		"status":     status,
		"components": components,
	})
}

type requestOTPRequest struct {
	Phone string `json:"phone"`
}

// RequestOTP issues a one-time login code for the phone number.
func (h *Handler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req requestOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Phone == "" {
		writeErrorResponse(w, http.StatusBadRequest, "Phone number is required")
		return
	}

	if err := h.otp.Request(req.Phone); err != nil {
		h.log.WithError(err).Error("Failed to issue OTP")
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to issue code")
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "Verification code sent"})
}

type verifyOTPRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// VerifyOTP exchanges a valid code for a session token.
func (h *Handler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req verifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Phone == "" || req.Code == "" {
		writeErrorResponse(w, http.StatusBadRequest, "Phone and code are required")
		return
	}

	shipperID, err := h.otp.Verify(req.Phone, req.Code)
	if err != nil {
		writeErrorResponse(w, http.StatusUnauthorized, "Invalid verification code")
		return
	}

	token, err := h.issuer.Issue(shipperID)
	if err != nil {
		h.log.WithError(err).Error("Failed to issue token")
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	h.log.WithField("shipper_id", shipperID).Info("Shipper logged in")
	writeJSONResponse(w, http.StatusOK, map[string]string{
		"token":      token,
		"shipper_id": shipperID,
	})
}

type orderDecisionRequest struct {
	OrderID             string `json:"order_id"`
	ResponseTimeSeconds int    `json:"response_time_seconds"`
}

type orderActionRequest struct {
	OrderID string `json:"order_id"`
}

// RequestOrder claims an offered order for the shipper. First claim wins.
func (h *Handler) RequestOrder(w http.ResponseWriter, r *http.Request) {
	var req orderDecisionRequest
	if !decodeOrderBody(w, r, &req.OrderID, &req) {
		return
	}
	shipperID := shipperFromContext(r.Context())

	if err := h.registry.Claim(req.OrderID, shipperID); err != nil {
		writeRegistryError(w, err)
		return
	}

	if err := h.store.RecordDecision(r.Context(), shipperID, req.OrderID, true, req.ResponseTimeSeconds); err != nil {
		h.log.WithError(err).Error("Failed to record accept decision")
	}
	if err := h.producer.PublishOrderDecision(models.EventTypeOrderAccepted, req.OrderID, shipperID, req.ResponseTimeSeconds); err != nil {
		h.log.WithError(err).Error("Failed to publish accept event")
	}

	h.log.WithFields(map[string]interface{}{
		"order_id":   req.OrderID,
		"shipper_id": shipperID,
	}).Info("Order assigned")
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "Order assigned"})
}

// RejectOrder records that the shipper declined the offer. Rejection does not
// need the order to still exist; a late reject is recorded all the same.
func (h *Handler) RejectOrder(w http.ResponseWriter, r *http.Request) {
	var req orderDecisionRequest
	if !decodeOrderBody(w, r, &req.OrderID, &req) {
		return
	}
	shipperID := shipperFromContext(r.Context())

	if err := h.store.RecordDecision(r.Context(), shipperID, req.OrderID, false, req.ResponseTimeSeconds); err != nil {
		h.log.WithError(err).Error("Failed to record reject decision")
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to record decision")
		return
	}
	if err := h.producer.PublishOrderDecision(models.EventTypeOrderRejected, req.OrderID, shipperID, req.ResponseTimeSeconds); err != nil {
		h.log.WithError(err).Error("Failed to publish reject event")
	}

	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "Order rejected"})
}

// PickupOrder marks the assigned order as picked up.
func (h *Handler) PickupOrder(w http.ResponseWriter, r *http.Request) {
	var req orderActionRequest
	if !decodeOrderBody(w, r, &req.OrderID, &req) {
		return
	}
	shipperID := shipperFromContext(r.Context())

	if err := h.registry.Pickup(req.OrderID, shipperID); err != nil {
		writeRegistryError(w, err)
		return
	}

	if err := h.producer.PublishOrderProgress(models.EventTypeOrderPickedUp, req.OrderID, shipperID); err != nil {
		h.log.WithError(err).Error("Failed to publish pickup event")
	}

	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "Pickup recorded"})
}

// CompleteOrder finishes the delivery and credits the earnings.
func (h *Handler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	var req orderActionRequest
	if !decodeOrderBody(w, r, &req.OrderID, &req) {
		return
	}
	shipperID := shipperFromContext(r.Context())

	offer, err := h.registry.Complete(req.OrderID, shipperID)
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	if err := h.store.RecordDelivery(r.Context(), shipperID, offer, "completed"); err != nil {
		h.log.WithError(err).Error("Failed to record delivery")
	}
	if err := h.producer.PublishOrderProgress(models.EventTypeOrderDelivered, req.OrderID, shipperID); err != nil {
		h.log.WithError(err).Error("Failed to publish delivery event")
	}

	h.log.WithFields(map[string]interface{}{
		"order_id":   req.OrderID,
		"shipper_id": shipperID,
	}).Info("Order delivered")
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "Delivery recorded"})
}

// CancelOrder aborts the delivery before pickup. The order becomes available
// for other shippers again.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req orderActionRequest
	if !decodeOrderBody(w, r, &req.OrderID, &req) {
		return
	}
	shipperID := shipperFromContext(r.Context())

	offer, err := h.registry.Cancel(req.OrderID, shipperID)
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	if err := h.store.RecordDelivery(r.Context(), shipperID, offer, "cancelled"); err != nil {
		h.log.WithError(err).Error("Failed to record cancellation")
	}
	if err := h.producer.PublishOrderProgress(models.EventTypeOrderCancelled, req.OrderID, shipperID); err != nil {
		h.log.WithError(err).Error("Failed to publish cancel event")
	}

	// Surviving offer goes back to the hub so nearby shippers see it again.
	h.hub.Broadcast(offer)

	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "Order cancelled"})
}

type updateLocationRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// UpdateLocation stores the shipper's reported position and publishes it for
// downstream consumers.
func (h *Handler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req updateLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Latitude == 0 && req.Longitude == 0 {
		writeErrorResponse(w, http.StatusBadRequest, "Location is required")
		return
	}
	shipperID := shipperFromContext(r.Context())

	point := geo.Point{Latitude: req.Latitude, Longitude: req.Longitude}
	if err := h.presence.SetShipperLocation(r.Context(), shipperID, point); err != nil {
		h.log.WithError(err).Error("Failed to store shipper location")
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to store location")
		return
	}
	if err := h.producer.PublishShipperLocation(shipperID, req.Latitude, req.Longitude); err != nil {
		h.log.WithError(err).Error("Failed to publish location event")
	}

	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "Location updated"})
}

// Location returns the shipper's last stored position and availability.
func (h *Handler) Location(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	shipperID := shipperFromContext(r.Context())

	point, known, err := h.presence.GetShipperLocation(r.Context(), shipperID)
	if err != nil {
		h.log.WithError(err).Error("Failed to load shipper location")
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to load location")
		return
	}
	online, err := h.presence.IsShipperOnline(r.Context(), shipperID)
	if err != nil {
		h.log.WithError(err).Error("Failed to load shipper availability")
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to load availability")
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"latitude":  point.Latitude,
		"longitude": point.Longitude,
		"known":     known,
		"online":    online,
	})
}

// OrderHistory returns one page of the shipper's finished orders.
func (h *Handler) OrderHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	shipperID := shipperFromContext(r.Context())

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))

	entries, err := h.store.OrderHistory(r.Context(), shipperID, page, pageSize)
	if err != nil {
		h.log.WithError(err).Error("Failed to query order history")
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to load order history")
		return
	}
	writeJSONResponse(w, http.StatusOK, entries)
}

// EarningsBreakdown returns the shipper's earnings grouped by day.
func (h *Handler) EarningsBreakdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	shipperID := shipperFromContext(r.Context())

	breakdown, err := h.store.EarningsBreakdown(r.Context(), shipperID)
	if err != nil {
		h.log.WithError(err).Error("Failed to query earnings")
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to load earnings")
		return
	}
	writeJSONResponse(w, http.StatusOK, breakdown)
}

// Performance returns the shipper's aggregate metrics.
func (h *Handler) Performance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	shipperID := shipperFromContext(r.Context())

	perf, err := h.store.Performance(r.Context(), shipperID)
	if err != nil {
		h.log.WithError(err).Error("Failed to query performance")
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to load performance")
		return
	}
	writeJSONResponse(w, http.StatusOK, perf)
}

// Feed upgrades the connection and subscribes the shipper to the live order
// stream. The connection stays open until the client disconnects.
func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	shipperID := shipperFromContext(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("Feed upgrade failed")
		return
	}
	defer conn.Close()

	var sub subscription.SubscribeRequest
	if err := conn.ReadJSON(&sub); err != nil || sub.Type != "subscribe" {
		h.log.WithError(err).Warn("Invalid subscribe message")
		return
	}
	if sub.Latitude == 0 && sub.Longitude == 0 {
		h.log.WithField("shipper_id", shipperID).Warn("Subscribe without location")
		return
	}
	if sub.MaxDistanceKm <= 0 {
		sub.MaxDistanceKm = 5
	}

	origin := geo.Point{Latitude: sub.Latitude, Longitude: sub.Longitude}
	h.hub.Add(shipperID, conn, origin, sub.MaxDistanceKm)
	if err := h.presence.SetShipperOnline(r.Context(), shipperID, true); err != nil {
		h.log.WithError(err).Error("Failed to mark shipper online")
	}

	// Block until the socket dies. Clients only send the initial subscribe.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.hub.Remove(shipperID, conn)
	if err := h.presence.SetShipperOnline(context.Background(), shipperID, false); err != nil {
		h.log.WithError(err).Error("Failed to mark shipper offline")
	}
}

// decodeOrderBody enforces POST, decodes the body and requires an order id.
func decodeOrderBody(w http.ResponseWriter, r *http.Request, orderID *string, dst interface{}) bool {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if *orderID == "" {
		writeErrorResponse(w, http.StatusBadRequest, "Order ID is required")
		return false
	}
	return true
}

func writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrOrderNotFound):
		writeErrorResponse(w, http.StatusNotFound, err.Error())
	// 403 is reserved for authentication, so assignment conflicts are 409.
	case errors.Is(err, ErrOrderTaken), errors.Is(err, ErrAlreadyPickedUp), errors.Is(err, ErrNotAssigned):
		writeErrorResponse(w, http.StatusConflict, err.Error())
	default:
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
	}
}
