package transit

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func fixedClock() time.Time {
	return time.Date(2026, 3, 14, 8, 30, 0, 0, time.UTC)
}

func newTestMock(t *testing.T, seed uint64) *MockSource {
	t.Helper()
	fleet, err := DefaultFleet()
	if err != nil {
		t.Fatalf("DefaultFleet: %v", err)
	}
	return NewMockSource(fleet, WithSeed(seed), WithClock(fixedClock))
}

func TestMockSource_Snapshot(t *testing.T) {
	source := newTestMock(t, 42)
	snapshot, err := source.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	fleet := source.Fleet()
	if want := len(fleet.Routes) * fleet.BusesPerRoute; len(snapshot.Buses) != want {
		t.Fatalf("buses = %d, want %d", len(snapshot.Buses), want)
	}
	if len(snapshot.Alerts) != len(fleet.Alerts) {
		t.Fatalf("alerts = %d, want %d", len(snapshot.Alerts), len(fleet.Alerts))
	}
	if !snapshot.GeneratedAt.Equal(fixedClock()) {
		t.Errorf("GeneratedAt = %v", snapshot.GeneratedAt)
	}

	seen := map[string]bool{}
	for _, bus := range snapshot.Buses {
		if seen[bus.ID] {
			t.Errorf("duplicate bus id %s", bus.ID)
		}
		seen[bus.ID] = true

		if bus.Lat < fleet.Center.Lat-fleet.Spread || bus.Lat > fleet.Center.Lat+fleet.Spread {
			t.Errorf("bus %s lat %v outside spread", bus.ID, bus.Lat)
		}
		if bus.CurrentStop == bus.NextStop {
			t.Errorf("bus %s current and next stop are both %q", bus.ID, bus.CurrentStop)
		}
		switch bus.Status {
		case StatusDelayed:
			if bus.DelayMinutes < 1 || bus.DelayMinutes > 15 {
				t.Errorf("delayed bus %s has delay %d", bus.ID, bus.DelayMinutes)
			}
		case StatusOnTime, StatusCancelled:
			if bus.DelayMinutes != 0 {
				t.Errorf("bus %s is %s with delay %d", bus.ID, bus.Status, bus.DelayMinutes)
			}
		default:
			t.Errorf("bus %s has unknown status %q", bus.ID, bus.Status)
		}
		if !bus.ArrivalTime.After(fixedClock()) {
			t.Errorf("bus %s arrives at %v, before now", bus.ID, bus.ArrivalTime)
		}
	}
}

func TestMockSource_SeedIsReproducibleAndIDsStable(t *testing.T) {
	first, _ := newTestMock(t, 7).Snapshot(context.Background())
	second, _ := newTestMock(t, 7).Snapshot(context.Background())
	if !reflect.DeepEqual(first, second) {
		t.Error("same seed produced different snapshots")
	}

	source := newTestMock(t, 7)
	a, _ := source.Snapshot(context.Background())
	b, _ := source.Snapshot(context.Background())
	for i := range a.Buses {
		if a.Buses[i].ID != b.Buses[i].ID {
			t.Errorf("bus %d id changed between snapshots", i)
		}
	}
}

func TestMockSource_DismissAlert(t *testing.T) {
	source := newTestMock(t, 1)
	before, _ := source.Snapshot(context.Background())
	target := before.Alerts[0].ID

	if err := source.DismissAlert(context.Background(), target); err != nil {
		t.Fatalf("DismissAlert: %v", err)
	}
	after, _ := source.Snapshot(context.Background())
	if len(after.Alerts) != len(before.Alerts)-1 {
		t.Fatalf("alerts after dismiss = %d, want %d", len(after.Alerts), len(before.Alerts)-1)
	}
	for _, alert := range after.Alerts {
		if alert.ID == target {
			t.Error("dismissed alert is still present")
		}
	}

	if err := source.DismissAlert(context.Background(), "missing"); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("unknown id err = %v", err)
	}
}

func TestMockSource_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newTestMock(t, 1).Snapshot(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}
