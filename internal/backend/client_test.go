package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"shipper-agent/internal/config"
	"shipper-agent/internal/logger"
	"shipper-agent/internal/models"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &config.BackendConfig{BaseURL: srv.URL, RequestTimeout: 5}
	log := logger.New(&config.LoggerConfig{Level: "error"})
	return NewClient(cfg, log), srv
}

func TestAcceptOrderSendsDecision(t *testing.T) {
	var got orderDecisionRequest
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/shippers/request-order" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-token" {
			t.Errorf("Unexpected authorization header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	client.SetToken("test-token")

	if err := client.AcceptOrder(context.Background(), "ord-1", 12); err != nil {
		t.Fatalf("AcceptOrder failed: %v", err)
	}
	if got.OrderID != "ord-1" || got.ResponseTimeSeconds != 12 {
		t.Errorf("Unexpected request body %+v", got)
	}
}

func TestAcceptOrderSurfacesBackendMessage(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"message": "order already taken"})
	}))

	err := client.AcceptOrder(context.Background(), "ord-1", 5)
	if err == nil {
		t.Fatal("Expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %T", err)
	}
	if apiErr.Message != "order already taken" {
		t.Errorf("Unexpected message %q", apiErr.Message)
	}
}

func TestUnauthorizedIsFatal(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	err := client.PushLocation(context.Background(), 10.7285, 106.7244)
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized, got %v", err)
	}
}

func TestVerifyOTPStoresToken(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(VerifyOTPResponse{Token: "jwt-token", ShipperID: "shp-1"})
	}))

	resp, err := client.VerifyOTP(context.Background(), "+84900000001", "000000")
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}
	if resp.ShipperID != "shp-1" {
		t.Errorf("Unexpected shipper id %q", resp.ShipperID)
	}
	if client.Token() != "jwt-token" {
		t.Errorf("Token not stored, got %q", client.Token())
	}
}

func TestOrderHistoryPagination(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "2" || r.URL.Query().Get("pageSize") != "10" {
			t.Errorf("Unexpected query %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode([]models.HistoryEntry{{OrderID: "ord-9", Status: "completed"}})
	}))
	client.SetToken("test-token")

	entries, err := client.OrderHistory(context.Background(), 2, 10)
	if err != nil {
		t.Fatalf("OrderHistory failed: %v", err)
	}
	if len(entries) != 1 || entries[0].OrderID != "ord-9" {
		t.Errorf("Unexpected entries %+v", entries)
	}
}
