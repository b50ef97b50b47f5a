package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"shipper-agent/internal/config"
	"shipper-agent/internal/logger"
	"shipper-agent/internal/models"
)

// ErrUnauthorized marks an invalid or expired session. It is fatal to the
// current session; the caller must re-authenticate.
var ErrUnauthorized = errors.New("session unauthorized")

// APIError is a recoverable backend failure carrying the human-readable
// message the backend returned.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("backend returned status %d", e.StatusCode)
}

// Client talks to the dispatch backend on behalf of one shipper. Requests
// carry the bearer token and a bounded timeout.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *logger.Logger
}

// NewClient creates a backend client. The token may be empty until login.
func NewClient(cfg *config.BackendConfig, log *logger.Logger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		http: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeout) * time.Second,
		},
		log: log,
	}
}

// SetToken replaces the bearer token after login or logout.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	return c.token
}

type messageResponse struct {
	Message string `json:"message"`
}

// VerifyOTPResponse is the payload returned on successful OTP verification.
type VerifyOTPResponse struct {
	Token     string `json:"token"`
	ShipperID string `json:"shipper_id"`
}

// RequestOTP asks the backend to send a one-time code to the phone number.
func (c *Client) RequestOTP(ctx context.Context, phone string) error {
	return c.post(ctx, "/shippers/request-otp", map[string]string{"phone": phone}, nil)
}

// VerifyOTP exchanges the phone number and one-time code for a session token.
func (c *Client) VerifyOTP(ctx context.Context, phone, code string) (*VerifyOTPResponse, error) {
	var resp VerifyOTPResponse
	err := c.post(ctx, "/shippers/verify-otp", map[string]string{
		"phone": phone,
		"code":  code,
	}, &resp)
	if err != nil {
		return nil, err
	}
	c.token = resp.Token
	return &resp, nil
}

type orderDecisionRequest struct {
	OrderID             string `json:"order_id"`
	ResponseTimeSeconds int    `json:"response_time_seconds"`
}

type orderActionRequest struct {
	OrderID string `json:"order_id"`
}

// AcceptOrder requests the order for this shipper. The backend response gates
// the local transition: the caller must not advance state on error.
func (c *Client) AcceptOrder(ctx context.Context, orderID string, responseTimeSeconds int) error {
	return c.post(ctx, "/shippers/request-order", orderDecisionRequest{
		OrderID:             orderID,
		ResponseTimeSeconds: responseTimeSeconds,
	}, nil)
}

// RejectOrder declines the offer and reports the response time.
func (c *Client) RejectOrder(ctx context.Context, orderID string, responseTimeSeconds int) error {
	return c.post(ctx, "/shippers/reject-order", orderDecisionRequest{
		OrderID:             orderID,
		ResponseTimeSeconds: responseTimeSeconds,
	}, nil)
}

// NotifyPickup tells the backend the food has been picked up.
func (c *Client) NotifyPickup(ctx context.Context, orderID string) error {
	return c.post(ctx, "/shippers/pickup-order", orderActionRequest{OrderID: orderID}, nil)
}

// NotifyComplete tells the backend the order was delivered.
func (c *Client) NotifyComplete(ctx context.Context, orderID string) error {
	return c.post(ctx, "/shippers/complete-order", orderActionRequest{OrderID: orderID}, nil)
}

// CancelOrder cancels the active order before pickup.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.post(ctx, "/shippers/cancel-order", orderActionRequest{OrderID: orderID}, nil)
}

// PushLocation reports the shipper's current position. Failures are reported
// to the caller but each push is independent; there is no retry.
func (c *Client) PushLocation(ctx context.Context, latitude, longitude float64) error {
	return c.post(ctx, "/shippers/update-location", map[string]float64{
		"latitude":  latitude,
		"longitude": longitude,
	}, nil)
}

// OrderHistory fetches a page of the shipper's past orders.
func (c *Client) OrderHistory(ctx context.Context, page, pageSize int) ([]models.HistoryEntry, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(pageSize))

	var entries []models.HistoryEntry
	if err := c.get(ctx, "/shippers/order-history?"+q.Encode(), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// GetEarnings fetches the earnings breakdown.
func (c *Client) GetEarnings(ctx context.Context) (*models.EarningsBreakdown, error) {
	var breakdown models.EarningsBreakdown
	if err := c.get(ctx, "/shippers/earnings-breakdown", &breakdown); err != nil {
		return nil, err
	}
	return &breakdown, nil
}

// GetPerformance fetches the shipper's performance metrics.
func (c *Client) GetPerformance(ctx context.Context) (*models.Performance, error) {
	var perf models.Performance
	if err := c.get(ctx, "/shippers/performance", &perf); err != nil {
		return nil, err
	}
	return &perf, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}

	if resp.StatusCode >= 400 {
		var msg messageResponse
		_ = json.NewDecoder(resp.Body).Decode(&msg)
		return &APIError{StatusCode: resp.StatusCode, Message: msg.Message}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response from %s: %w", req.URL.Path, err)
		}
	}
	return nil
}
