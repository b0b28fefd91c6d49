package transit

import "time"

// Response bodies of the dashboard JSON API.

type BusesResponse struct {
	Buses       []Bus     `json:"buses"`
	Summary     Summary   `json:"summary"`
	Routes      []string  `json:"routes"`
	GeneratedAt time.Time `json:"generatedAt"`
}

type AlertsResponse struct {
	Alerts []Alert `json:"alerts"`
}

type FocusResponse struct {
	Refetched int `json:"refetched"`
}

type Health struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	// Snapshot is the cache status of the snapshot entry: idle, loading,
	// success or error.
	Snapshot  string    `json:"snapshot"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
	Error     string    `json:"error,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
