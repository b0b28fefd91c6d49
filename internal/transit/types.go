package transit

import (
	"context"
	"time"
)

type BusStatus string

const (
	StatusOnTime    BusStatus = "on-time"
	StatusDelayed   BusStatus = "delayed"
	StatusCancelled BusStatus = "cancelled"
)

type Occupancy string

const (
	OccupancyLow    Occupancy = "low"
	OccupancyMedium Occupancy = "medium"
	OccupancyHigh   Occupancy = "high"
)

type AlertType string

const (
	AlertInfo    AlertType = "info"
	AlertWarning AlertType = "warning"
	AlertError   AlertType = "error"
	AlertSuccess AlertType = "success"
)

type Bus struct {
	ID           string    `json:"id"`
	RouteNumber  string    `json:"routeNumber"`
	Destination  string    `json:"destination"`
	CurrentStop  string    `json:"currentStop"`
	NextStop     string    `json:"nextStop"`
	Lat          float64   `json:"lat"`
	Lng          float64   `json:"lng"`
	ArrivalTime  time.Time `json:"arrivalTime"`
	Status       BusStatus `json:"status"`
	DelayMinutes int       `json:"delayMinutes,omitempty"`
	Occupancy    Occupancy `json:"occupancy"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Alert struct {
	ID        string    `json:"id"`
	Type      AlertType `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Route     string    `json:"route,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is everything the dashboard shows at one point in time.
// Locations lists the named places a user can filter by; sources without a
// fixed list leave it empty and the stops seen in Buses are used instead.
type Snapshot struct {
	Buses       []Bus     `json:"buses"`
	Alerts      []Alert   `json:"alerts"`
	Locations   []string  `json:"locations,omitempty"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// DataSource fetches the current snapshot, whether mocked, decoded from a
// realtime feed, or read from another dashboard.
type DataSource interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// AlertDismisser is implemented by sources that can hide an alert.
type AlertDismisser interface {
	DismissAlert(ctx context.Context, id string) error
}

type DismissableSource interface {
	DataSource
	AlertDismisser
}

type Summary struct {
	Total     int `json:"total"`
	OnTime    int `json:"onTime"`
	Delayed   int `json:"delayed"`
	Cancelled int `json:"cancelled"`
}

func Summarize(buses []Bus) Summary {
	summary := Summary{Total: len(buses)}
	for _, bus := range buses {
		switch bus.Status {
		case StatusOnTime:
			summary.OnTime++
		case StatusDelayed:
			summary.Delayed++
		case StatusCancelled:
			summary.Cancelled++
		}
	}
	return summary
}

// Routes lists the distinct route numbers in buses, sorted.
func Routes(buses []Bus) []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, bus := range buses {
		if _, ok := seen[bus.RouteNumber]; ok {
			continue
		}
		seen[bus.RouteNumber] = struct{}{}
		out = append(out, bus.RouteNumber)
	}
	sortRoutes(out)
	return out
}
