package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"shipper-agent/internal/config"
	"shipper-agent/internal/geo"
	"shipper-agent/internal/models"
	"shipper-agent/internal/subscription"

	"github.com/gorilla/websocket"
)

type fakePublisher struct {
	mu        sync.Mutex
	decisions []models.EventType
	progress  []models.EventType
	locations int
}

func (p *fakePublisher) PublishOrderDecision(eventType models.EventType, orderID, shipperID string, responseTimeSeconds int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.decisions = append(p.decisions, eventType)
	return nil
}

func (p *fakePublisher) PublishOrderProgress(eventType models.EventType, orderID, shipperID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progress = append(p.progress, eventType)
	return nil
}

func (p *fakePublisher) PublishShipperLocation(shipperID string, latitude, longitude float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locations++
	return nil
}

type fakePresence struct {
	mu        sync.Mutex
	locations []geo.Point
	online    map[string]bool
}

func (p *fakePresence) SetShipperLocation(ctx context.Context, shipperID string, point geo.Point) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locations = append(p.locations, point)
	return nil
}

func (p *fakePresence) GetShipperLocation(ctx context.Context, shipperID string) (geo.Point, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.locations) == 0 {
		return geo.Point{}, false, nil
	}
	return p.locations[len(p.locations)-1], true, nil
}

func (p *fakePresence) SetShipperOnline(ctx context.Context, shipperID string, online bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.online == nil {
		p.online = make(map[string]bool)
	}
	p.online[shipperID] = online
	return nil
}

func (p *fakePresence) IsShipperOnline(ctx context.Context, shipperID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[shipperID], nil
}

type decisionRecord struct {
	orderID             string
	accepted            bool
	responseTimeSeconds int
}

type fakeReportStore struct {
	mu         sync.Mutex
	decisions  []decisionRecord
	deliveries []string // "orderID/status"
	history    []models.HistoryEntry
}

func (s *fakeReportStore) RecordDecision(ctx context.Context, shipperID, orderID string, accepted bool, responseTimeSeconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, decisionRecord{orderID, accepted, responseTimeSeconds})
	return nil
}

func (s *fakeReportStore) RecordDelivery(ctx context.Context, shipperID string, offer models.OrderOffer, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = append(s.deliveries, offer.OrderID+"/"+status)
	return nil
}

func (s *fakeReportStore) OrderHistory(ctx context.Context, shipperID string, page, pageSize int) ([]models.HistoryEntry, error) {
	return s.history, nil
}

func (s *fakeReportStore) EarningsBreakdown(ctx context.Context, shipperID string) (*models.EarningsBreakdown, error) {
	return &models.EarningsBreakdown{Total: 25000}, nil
}

func (s *fakeReportStore) Performance(ctx context.Context, shipperID string) (*models.Performance, error) {
	return &models.Performance{CompletedOrders: 3}, nil
}

type testAPI struct {
	srv      *httptest.Server
	handler  *Handler
	registry *Registry
	hub      *Hub
	store    *fakeReportStore
	presence *fakePresence
	producer *fakePublisher
	token    string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	issuer := NewTokenIssuer(&config.AuthConfig{JWTSecret: "test-secret", TokenTTL: 1})
	otp := NewOTPStore("000000", testLogger())
	registry := NewRegistry()
	hub := NewHub(testLogger())
	store := &fakeReportStore{}
	presence := &fakePresence{}
	producer := &fakePublisher{}

	handler := NewHandler(issuer, otp, registry, hub, store, presence, producer, testLogger())
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	token, err := issuer.Issue("shp-1")
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}

	return &testAPI{
		srv:      srv,
		handler:  handler,
		registry: registry,
		hub:      hub,
		store:    store,
		presence: presence,
		producer: producer,
		token:    token,
	}
}

func (a *testAPI) post(t *testing.T, path string, body interface{}, auth bool) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, a.srv.URL+path, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if auth {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestLoginFlow(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post(t, "/shippers/request-otp", map[string]string{"phone": "+84900000001"}, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("request-otp returned %d", resp.StatusCode)
	}

	resp = api.post(t, "/shippers/verify-otp", map[string]string{"phone": "+84900000001", "code": "000000"}, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify-otp returned %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body["token"] == "" || body["shipper_id"] == "" {
		t.Errorf("Expected token and shipper id, got %v", body)
	}

	resp = api.post(t, "/shippers/verify-otp", map[string]string{"phone": "+84900000001", "code": "111111"}, false)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Wrong code should return 401, got %d", resp.StatusCode)
	}
}

func TestRequestOrderConflict(t *testing.T) {
	api := newTestAPI(t)
	api.registry.Announce(testOffer("ord-1"))
	api.registry.Claim("ord-1", "someone-else")

	resp := api.post(t, "/shippers/request-order", map[string]interface{}{
		"order_id": "ord-1", "response_time_seconds": 5,
	}, true)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("Expected 409, got %d", resp.StatusCode)
	}
	var errBody ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err != nil {
		t.Fatalf("Failed to decode error: %v", err)
	}
	if !strings.Contains(errBody.Message, "taken") {
		t.Errorf("Expected taken message, got %q", errBody.Message)
	}
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	api.registry.Announce(testOffer("ord-1"))

	resp := api.post(t, "/shippers/request-order", map[string]interface{}{
		"order_id": "ord-1", "response_time_seconds": 7,
	}, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("request-order returned %d", resp.StatusCode)
	}

	resp = api.post(t, "/shippers/pickup-order", map[string]string{"order_id": "ord-1"}, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pickup-order returned %d", resp.StatusCode)
	}

	// Too late to cancel once the food is picked up.
	resp = api.post(t, "/shippers/cancel-order", map[string]string{"order_id": "ord-1"}, true)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("cancel after pickup should be 409, got %d", resp.StatusCode)
	}

	resp = api.post(t, "/shippers/complete-order", map[string]string{"order_id": "ord-1"}, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("complete-order returned %d", resp.StatusCode)
	}

	api.store.mu.Lock()
	defer api.store.mu.Unlock()
	if len(api.store.decisions) != 1 || !api.store.decisions[0].accepted || api.store.decisions[0].responseTimeSeconds != 7 {
		t.Errorf("Unexpected decisions %+v", api.store.decisions)
	}
	if len(api.store.deliveries) != 1 || api.store.deliveries[0] != "ord-1/completed" {
		t.Errorf("Unexpected deliveries %+v", api.store.deliveries)
	}
}

func TestRejectOrderRecordsDecision(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post(t, "/shippers/reject-order", map[string]interface{}{
		"order_id": "ord-1", "response_time_seconds": 12,
	}, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reject-order returned %d", resp.StatusCode)
	}

	api.store.mu.Lock()
	defer api.store.mu.Unlock()
	if len(api.store.decisions) != 1 || api.store.decisions[0].accepted {
		t.Errorf("Unexpected decisions %+v", api.store.decisions)
	}
}

func TestUpdateLocationStoresAndPublishes(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post(t, "/shippers/update-location", map[string]float64{
		"latitude": 10.7285, "longitude": 106.7244,
	}, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update-location returned %d", resp.StatusCode)
	}

	resp = api.post(t, "/shippers/update-location", map[string]float64{}, true)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Zero location should be 400, got %d", resp.StatusCode)
	}

	api.presence.mu.Lock()
	locations := len(api.presence.locations)
	api.presence.mu.Unlock()
	if locations != 1 {
		t.Errorf("Expected 1 stored location, got %d", locations)
	}

	api.producer.mu.Lock()
	defer api.producer.mu.Unlock()
	if api.producer.locations != 1 {
		t.Errorf("Expected 1 published location, got %d", api.producer.locations)
	}
}

func TestLocationRoundTrip(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post(t, "/shippers/update-location", map[string]float64{
		"latitude": 10.7285, "longitude": 106.7244,
	}, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update-location returned %d", resp.StatusCode)
	}

	req, err := http.NewRequest(http.MethodGet, api.srv.URL+"/shippers/location", nil)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+api.token)
	getResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer getResp.Body.Close()

	var body struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Known     bool    `json:"known"`
	}
	if err := json.NewDecoder(getResp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !body.Known || body.Latitude != 10.7285 || body.Longitude != 106.7244 {
		t.Errorf("Unexpected location %+v", body)
	}
}

func TestEndpointsRequireAuth(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post(t, "/shippers/request-order", map[string]string{"order_id": "ord-1"}, false)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", resp.StatusCode)
	}
}

func TestFeedDeliversBroadcastOffers(t *testing.T) {
	api := newTestAPI(t)

	wsURL := "ws" + strings.TrimPrefix(api.srv.URL, "http") + "/shippers/feed"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+api.token)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	err = conn.WriteJSON(subscription.SubscribeRequest{
		Type:          "subscribe",
		ShipperID:     "shp-1",
		Latitude:      10.7285,
		Longitude:     106.7244,
		MaxDistanceKm: 5,
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	// The subscribe message is handled asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	for api.hub.Broadcast(testOffer("ord-1")) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Subscriber never registered with the hub")
		}
		time.Sleep(10 * time.Millisecond)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg subscription.FeedMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("Failed to read offer: %v", err)
	}
	if msg.Type != "offer" || msg.Offer == nil || msg.Offer.OrderID != "ord-1" {
		t.Errorf("Unexpected feed message %+v", msg)
	}
}
