package dispatch

import (
	"context"
	"fmt"

	"shipper-agent/internal/database"
	"shipper-agent/internal/logger"
	"shipper-agent/internal/models"
)

// Store persists decisions and finished deliveries. Reports for the shipper
// dashboard are computed from these tables.
type Store struct {
	db  *database.DB
	log *logger.Logger
}

// NewStore creates the store on an open database connection.
func NewStore(db *database.DB, log *logger.Logger) *Store {
	return &Store{db: db, log: log}
}

// EnsureSchema creates the dispatch tables if they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS shipper_decisions (
			id SERIAL PRIMARY KEY,
			shipper_id TEXT NOT NULL,
			order_id TEXT NOT NULL,
			accepted BOOLEAN NOT NULL,
			response_time_seconds INTEGER NOT NULL,
			decided_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_shipper ON shipper_decisions (shipper_id)`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			id SERIAL PRIMARY KEY,
			shipper_id TEXT NOT NULL,
			order_id TEXT NOT NULL,
			restaurant TEXT NOT NULL,
			status TEXT NOT NULL,
			earnings DOUBLE PRECISION NOT NULL DEFAULT 0,
			completed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_shipper ON deliveries (shipper_id, completed_at DESC)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// RecordDecision stores an accept or reject decision with its response time.
func (s *Store) RecordDecision(ctx context.Context, shipperID, orderID string, accepted bool, responseTimeSeconds int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO shipper_decisions (shipper_id, order_id, accepted, response_time_seconds)
		 VALUES ($1, $2, $3, $4)`,
		shipperID, orderID, accepted, responseTimeSeconds)
	if err != nil {
		return fmt.Errorf("failed to record decision for order %s: %w", orderID, err)
	}
	return nil
}

// RecordDelivery stores a finished order. status is "completed" or
// "cancelled"; earnings are only credited on completion.
func (s *Store) RecordDelivery(ctx context.Context, shipperID string, offer models.OrderOffer, status string) error {
	earnings := 0.0
	if status == "completed" {
		earnings = offer.ShipperEarnings
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries (shipper_id, order_id, restaurant, status, earnings)
		 VALUES ($1, $2, $3, $4, $5)`,
		shipperID, offer.OrderID, offer.Restaurant.Name, status, earnings)
	if err != nil {
		return fmt.Errorf("failed to record delivery for order %s: %w", offer.OrderID, err)
	}
	return nil
}

// OrderHistory returns one page of the shipper's finished orders, newest
// first. page starts at 1.
func (s *Store) OrderHistory(ctx context.Context, shipperID string, page, pageSize int) ([]models.HistoryEntry, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT order_id, restaurant, status, earnings, completed_at
		 FROM deliveries
		 WHERE shipper_id = $1
		 ORDER BY completed_at DESC
		 LIMIT $2 OFFSET $3`,
		shipperID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to query order history: %w", err)
	}
	defer rows.Close()

	entries := []models.HistoryEntry{}
	for rows.Next() {
		var entry models.HistoryEntry
		if err := rows.Scan(&entry.OrderID, &entry.Restaurant, &entry.Status, &entry.Earnings, &entry.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// EarningsBreakdown returns the shipper's completed earnings grouped by day,
// newest day first.
func (s *Store) EarningsBreakdown(ctx context.Context, shipperID string) (*models.EarningsBreakdown, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT TO_CHAR(completed_at, 'YYYY-MM-DD') AS day, COUNT(*), COALESCE(SUM(earnings), 0)
		 FROM deliveries
		 WHERE shipper_id = $1 AND status = 'completed'
		 GROUP BY day
		 ORDER BY day DESC`,
		shipperID)
	if err != nil {
		return nil, fmt.Errorf("failed to query earnings: %w", err)
	}
	defer rows.Close()

	breakdown := &models.EarningsBreakdown{Days: []models.EarningsDay{}}
	for rows.Next() {
		var day models.EarningsDay
		if err := rows.Scan(&day.Date, &day.Orders, &day.Earnings); err != nil {
			return nil, fmt.Errorf("failed to scan earnings row: %w", err)
		}
		breakdown.Days = append(breakdown.Days, day)
		breakdown.Total += day.Earnings
	}
	return breakdown, rows.Err()
}

// Performance returns the shipper's aggregate delivery metrics.
func (s *Store) Performance(ctx context.Context, shipperID string) (*models.Performance, error) {
	perf := &models.Performance{}

	err := s.db.QueryRowContext(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'cancelled')
		 FROM deliveries WHERE shipper_id = $1`,
		shipperID).Scan(&perf.CompletedOrders, &perf.CancelledOrders)
	if err != nil {
		return nil, fmt.Errorf("failed to query delivery counts: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE NOT accepted),
			COALESCE(AVG(response_time_seconds), 0)
		 FROM shipper_decisions WHERE shipper_id = $1`,
		shipperID).Scan(&perf.RejectedOffers, &perf.AvgResponseSeconds)
	if err != nil {
		return nil, fmt.Errorf("failed to query decision metrics: %w", err)
	}

	return perf, nil
}
