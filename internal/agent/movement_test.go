package agent

import (
	"context"
	"testing"
	"time"

	"shipper-agent/internal/geo"
)

func collectDrive(t *testing.T, m *Movement, timeout time.Duration) ([]geo.Point, Arrival) {
	t.Helper()

	var positions []geo.Point
	deadline := time.After(timeout)
	for {
		select {
		case p := <-m.Positions():
			positions = append(positions, p)
		case a := <-m.Arrivals():
			return positions, a
		case <-deadline:
			t.Fatalf("Drive did not finish, got %d positions", len(positions))
		}
	}
}

func TestMovementEmitsEveryTrackPoint(t *testing.T) {
	track := []geo.Point{
		{Latitude: 10.7285, Longitude: 106.7244},
		{Latitude: 10.7290, Longitude: 106.7260},
		{Latitude: 10.7300, Longitude: 106.7300},
	}
	m := NewMovement(time.Millisecond, testLogger())

	m.Follow(context.Background(), track, ArrivedAtRestaurant)
	positions, arrival := collectDrive(t, m, time.Second)

	if len(positions) != len(track) {
		t.Fatalf("Expected %d positions, got %d", len(track), len(positions))
	}
	for i := range track {
		if positions[i] != track[i] {
			t.Errorf("Position %d = %v, want %v", i, positions[i], track[i])
		}
	}
	if arrival != ArrivedAtRestaurant {
		t.Errorf("Expected restaurant arrival, got %s", arrival)
	}
}

func TestMovementArrivalDistinguishesDestination(t *testing.T) {
	track := []geo.Point{{Latitude: 10.73, Longitude: 106.73}}
	m := NewMovement(time.Millisecond, testLogger())

	m.Follow(context.Background(), track, ArrivedAtCustomer)
	_, arrival := collectDrive(t, m, time.Second)
	if arrival != ArrivedAtCustomer {
		t.Errorf("Expected customer arrival, got %s", arrival)
	}
}

func TestMovementStopHaltsDrive(t *testing.T) {
	track := make([]geo.Point, 1000)
	m := NewMovement(time.Millisecond, testLogger())

	m.Follow(context.Background(), track, ArrivedAtRestaurant)
	time.Sleep(10 * time.Millisecond)
	m.Stop()

	// Drain whatever was emitted before the stop.
	for {
		select {
		case <-m.Positions():
		case <-m.Arrivals():
			t.Fatal("Arrival should not fire after Stop")
		case <-time.After(20 * time.Millisecond):
			return
		}
	}
}

func TestMovementFollowReplacesPreviousDrive(t *testing.T) {
	m := NewMovement(time.Millisecond, testLogger())

	long := make([]geo.Point, 1000)
	m.Follow(context.Background(), long, ArrivedAtRestaurant)

	short := []geo.Point{{Latitude: 1, Longitude: 1}}
	m.Follow(context.Background(), short, ArrivedAtCustomer)

	deadline := time.After(time.Second)
	for {
		select {
		case <-m.Positions():
		case a := <-m.Arrivals():
			if a != ArrivedAtCustomer {
				t.Errorf("Expected the second drive's arrival, got %s", a)
			}
			return
		case <-deadline:
			t.Fatal("Second drive never arrived")
		}
	}
}
