package agent

import (
	"context"
	"sync"
	"time"

	"shipper-agent/internal/geo"
	"shipper-agent/internal/logger"
)

// Arrival distinguishes which destination the simulated shipper reached.
type Arrival int

const (
	ArrivedAtRestaurant Arrival = iota
	ArrivedAtCustomer
)

// String returns the arrival name for logs.
func (a Arrival) String() string {
	if a == ArrivedAtRestaurant {
		return "restaurant"
	}
	return "customer"
}

// Movement simulates driving along an interpolated route: on a fixed tick it
// advances one point and emits the new position; reaching the end emits a
// single arrival signal. It substitutes for a live GPS source during demo
// runs; with a real sensor only the route display would use the track.
type Movement struct {
	tick      time.Duration
	log       *logger.Logger
	positions chan geo.Point
	arrivals  chan Arrival

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMovement creates a movement driver with the given tick interval.
func NewMovement(tick time.Duration, log *logger.Logger) *Movement {
	return &Movement{
		tick:      tick,
		log:       log,
		positions: make(chan geo.Point, 16),
		arrivals:  make(chan Arrival, 1),
	}
}

// Positions emits the simulated position after every tick.
func (m *Movement) Positions() <-chan geo.Point {
	return m.positions
}

// Arrivals emits once when the end of the track is reached.
func (m *Movement) Arrivals() <-chan Arrival {
	return m.arrivals
}

// Follow starts advancing along the track toward the given arrival kind. Any
// previous drive is stopped first, so only one drive runs at a time.
func (m *Movement) Follow(ctx context.Context, track []geo.Point, kind Arrival) {
	m.Stop()

	m.mu.Lock()
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	m.log.WithFields(map[string]interface{}{
		"points":      len(track),
		"destination": kind.String(),
	}).Info("Following route")

	go m.drive(ctx, done, track, kind)
}

// Stop halts the current drive, if any. Safe to call repeatedly.
func (m *Movement) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Movement) drive(ctx context.Context, done chan struct{}, track []geo.Point, kind Arrival) {
	defer close(done)

	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	idx := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if idx >= len(track) {
				select {
				case m.arrivals <- kind:
				case <-ctx.Done():
				}
				return
			}
			select {
			case m.positions <- track[idx]:
			case <-ctx.Done():
				return
			}
			idx++
		}
	}
}
