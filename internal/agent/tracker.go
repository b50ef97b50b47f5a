package agent

import (
	"context"
	"sync"
	"time"

	"shipper-agent/internal/geo"
	"shipper-agent/internal/logger"
)

// LocationPusher pushes a single position report to the backend.
type LocationPusher interface {
	PushLocation(ctx context.Context, latitude, longitude float64) error
}

// Tracker is the location reporting session: while active it pushes the
// shipper's position on a fixed interval. At most one timer runs at a time;
// Stop is idempotent and must be called on every exit path. A failed push is
// dropped, the next tick proceeds independently.
type Tracker struct {
	interval time.Duration
	pusher   LocationPusher
	position func() (geo.Point, bool)
	log      *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTracker creates a tracker. position reports the current point and
// whether it is known; unknown positions skip the tick.
func NewTracker(interval time.Duration, pusher LocationPusher, position func() (geo.Point, bool), log *logger.Logger) *Tracker {
	return &Tracker{
		interval: interval,
		pusher:   pusher,
		position: position,
		log:      log,
	}
}

// Start begins periodic reporting. Starting an already running tracker is a
// no-op, so an active-order period never holds more than one timer.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})

	go t.run(ctx, t.done)
	t.log.WithField("interval", t.interval).Info("Location tracking started")
}

// Stop cancels the reporting timer. Safe to call repeatedly.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	done := t.done
	t.cancel = nil
	t.done = nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	t.log.Info("Location tracking stopped")
}

func (t *Tracker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			point, ok := t.position()
			if !ok {
				continue
			}
			if err := t.pusher.PushLocation(ctx, point.Latitude, point.Longitude); err != nil {
				t.log.WithError(err).Debug("Location push failed, dropping")
			}
		}
	}
}
