package models

import "time"

// HistoryEntry is one finished order in the shipper's history.
type HistoryEntry struct {
	OrderID     string    `json:"order_id"`
	Restaurant  string    `json:"restaurant"`
	Status      string    `json:"status"`
	Earnings    float64   `json:"earnings"`
	CompletedAt time.Time `json:"completed_at"`
}

// EarningsDay is the earnings of a single day.
type EarningsDay struct {
	Date     string  `json:"date"`
	Orders   int     `json:"orders"`
	Earnings float64 `json:"earnings"`
}

// EarningsBreakdown summarizes the shipper's earnings per day.
type EarningsBreakdown struct {
	Total float64       `json:"total"`
	Days  []EarningsDay `json:"days"`
}

// Performance holds the shipper's performance metrics reported back to the
// app's dashboard.
type Performance struct {
	CompletedOrders    int     `json:"completed_orders"`
	CancelledOrders    int     `json:"cancelled_orders"`
	RejectedOffers     int     `json:"rejected_offers"`
	AvgResponseSeconds float64 `json:"avg_response_seconds"`
}
