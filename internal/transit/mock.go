package transit

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrAlertNotFound = errors.New("alert not found")

var mockNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("transit-tracker/mock"))

// MockSource simulates a fleet: every snapshot scatters the configured buses
// around the fleet center with random status, delay and occupancy. Bus and
// alert ids are stable across snapshots so they can be tracked and dismissed.
type MockSource struct {
	fleet Fleet
	now   func() time.Time

	mu        sync.Mutex
	rng       *rand.Rand
	dismissed map[string]struct{}
}

type MockOption func(*MockSource)

func WithClock(now func() time.Time) MockOption {
	return func(source *MockSource) {
		source.now = now
	}
}

// WithSeed makes snapshots reproducible.
func WithSeed(seed uint64) MockOption {
	return func(source *MockSource) {
		source.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

func NewMockSource(fleet Fleet, opts ...MockOption) *MockSource {
	now := uint64(time.Now().UnixNano())
	source := &MockSource{
		fleet:     fleet,
		now:       time.Now,
		rng:       rand.New(rand.NewPCG(now, now>>1)),
		dismissed: map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(source)
	}
	return source
}

func (source *MockSource) Fleet() Fleet {
	return source.fleet
}

func (source *MockSource) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	source.mu.Lock()
	defer source.mu.Unlock()

	now := source.now()
	buses := make([]Bus, 0, len(source.fleet.Routes)*source.fleet.BusesPerRoute)
	for _, route := range source.fleet.Routes {
		for i := 0; i < source.fleet.BusesPerRoute; i++ {
			buses = append(buses, source.mockBus(route, i, now))
		}
	}

	alerts := []Alert{}
	for i, fixture := range source.fleet.Alerts {
		alert := mockAlert(fixture, i, now)
		if _, hidden := source.dismissed[alert.ID]; hidden {
			continue
		}
		alerts = append(alerts, alert)
	}

	return Snapshot{Buses: buses, Alerts: alerts, Locations: source.fleet.Locations, GeneratedAt: now}, nil
}

func (source *MockSource) DismissAlert(ctx context.Context, id string) error {
	source.mu.Lock()
	defer source.mu.Unlock()

	for i, fixture := range source.fleet.Alerts {
		if mockAlert(fixture, i, time.Time{}).ID == id {
			source.dismissed[id] = struct{}{}
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrAlertNotFound, id)
}

func (source *MockSource) mockBus(route RouteFixture, index int, now time.Time) Bus {
	rng := source.rng
	spread := source.fleet.Spread

	stop := rng.IntN(len(route.Stops) - 1)
	bus := Bus{
		ID:          uuid.NewSHA1(mockNamespace, []byte(fmt.Sprintf("bus/%s/%d", route.Number, index))).String(),
		RouteNumber: route.Number,
		Destination: route.Destination,
		CurrentStop: route.Stops[stop],
		NextStop:    route.Stops[stop+1],
		Lat:         source.fleet.Center.Lat + (rng.Float64()*2-1)*spread,
		Lng:         source.fleet.Center.Lng + (rng.Float64()*2-1)*spread,
		Status:      StatusOnTime,
		UpdatedAt:   now,
	}

	switch roll := rng.IntN(100); {
	case roll < 5:
		bus.Status = StatusCancelled
	case roll < 30:
		bus.Status = StatusDelayed
		bus.DelayMinutes = 1 + rng.IntN(15)
	}

	switch rng.IntN(3) {
	case 0:
		bus.Occupancy = OccupancyLow
	case 1:
		bus.Occupancy = OccupancyMedium
	default:
		bus.Occupancy = OccupancyHigh
	}

	eta := time.Duration(1+rng.IntN(20)+bus.DelayMinutes) * time.Minute
	bus.ArrivalTime = now.Add(eta).Truncate(time.Minute)
	return bus
}

func mockAlert(fixture AlertFixture, index int, now time.Time) Alert {
	id := uuid.NewSHA1(mockNamespace, []byte(fmt.Sprintf("alert/%d/%s", index, fixture.Title))).String()
	return Alert{
		ID:        id,
		Type:      fixture.Type,
		Title:     fixture.Title,
		Message:   fixture.Message,
		Route:     fixture.Route,
		Timestamp: now.Add(-time.Duration(index*7+2) * time.Minute),
	}
}
