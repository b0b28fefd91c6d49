package transit_web

import "html/template"

type DashboardPageVM struct {
	Query         DashboardQuery
	QueryString   template.URL
	Routes        []RouteOptionVM
	Locations     []LocationOptionVM
	Summary       SummaryVM
	Table         BusesTableVM
	Map           BusMapVM
	Alerts        AlertsVM
	FocusRefetch  bool
	ActiveFilters bool
}

type RouteOptionVM struct {
	Value    string
	Label    string
	Selected bool
}

type LocationOptionVM struct {
	Name     string
	Selected bool
}

type SummaryVM struct {
	Total     int `json:"total"`
	OnTime    int `json:"onTime"`
	Delayed   int `json:"delayed"`
	Cancelled int `json:"cancelled"`
	Shown     int `json:"shown"`
}

type BusesTableVM struct {
	UpdatedAt string
	Rows      []BusRowVM
}

type BusRowVM struct {
	ID          string
	Route       string
	Destination string
	CurrentStop string
	NextStop    string
	Arrival     string
	Status      string
	StatusClass string
	Occupancy   string
	LastSeen    string
	Position    string
}

// BusMapVM places bus markers on a box scaled to the buses shown.
type BusMapVM struct {
	Markers []BusMarkerVM
}

type BusMarkerVM struct {
	ID          string
	Route       string
	Title       string
	StatusClass string
	Style       template.CSS
}

type AlertsVM struct {
	Rows []AlertRowVM
}

type AlertRowVM struct {
	ID         string
	Type       string
	Title      string
	Message    string
	Route      string
	Age        string
	DismissURL template.URL
}

// SnapshotEventVM is the payload of one dashboard event stream message.
type SnapshotEventVM struct {
	Status    string     `json:"status"`
	UpdatedAt string     `json:"updatedAt,omitempty"`
	Error     string     `json:"error,omitempty"`
	Stale     bool       `json:"stale"`
	Summary   *SummaryVM `json:"summary,omitempty"`
	Alerts    int        `json:"alerts"`
}
