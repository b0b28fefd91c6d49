package transit_web

import (
	"fmt"
	"html/template"
	"net/url"
	"slices"
	"strings"
	"time"

	"tarediiran-industries.com/transit-tracker/internal/querycache"
	"tarediiran-industries.com/transit-tracker/internal/transit"
)

func BuildDashboardPageVM(snapshot transit.Snapshot, query DashboardQuery, now time.Time, focusRefetch bool) DashboardPageVM {
	buses := query.Filter().Apply(snapshot.Buses)

	routes := []RouteOptionVM{}
	for _, route := range transit.Routes(snapshot.Buses) {
		routes = append(routes, RouteOptionVM{
			Value:    route,
			Label:    "Route " + route,
			Selected: slices.Contains(query.Routes, transit.NormalizeRoute(route)),
		})
	}

	locations := []LocationOptionVM{}
	for _, name := range locationNames(snapshot) {
		locations = append(locations, LocationOptionVM{
			Name:     name,
			Selected: strings.EqualFold(name, query.Location),
		})
	}

	summary := BuildSummaryVM(snapshot.Buses, len(buses))

	return DashboardPageVM{
		Query:         query,
		QueryString:   template.URL(query.Encode()),
		Routes:        routes,
		Locations:     locations,
		Summary:       summary,
		Table:         BuildBusesTableVM(buses, snapshot.GeneratedAt, now),
		Map:           BuildBusMapVM(buses),
		Alerts:        BuildAlertsVM(snapshot.Alerts, query, now),
		FocusRefetch:  focusRefetch,
		ActiveFilters: !query.Filter().IsZero(),
	}
}

func BuildSummaryVM(buses []transit.Bus, shown int) SummaryVM {
	summary := transit.Summarize(buses)
	return SummaryVM{
		Total:     summary.Total,
		OnTime:    summary.OnTime,
		Delayed:   summary.Delayed,
		Cancelled: summary.Cancelled,
		Shown:     shown,
	}
}

func BuildBusesTableVM(buses []transit.Bus, generatedAt, now time.Time) BusesTableVM {
	rows := make([]BusRowVM, 0, len(buses))
	for _, bus := range buses {
		rows = append(rows, BusRowVM{
			ID:          bus.ID,
			Route:       bus.RouteNumber,
			Destination: bus.Destination,
			CurrentStop: bus.CurrentStop,
			NextStop:    bus.NextStop,
			Arrival:     formatArrival(now, bus),
			Status:      formatStatus(bus),
			StatusClass: "status-" + string(bus.Status),
			Occupancy:   string(bus.Occupancy),
			LastSeen:    formatAge(now, bus.UpdatedAt),
			Position:    fmt.Sprintf("%.4f, %.4f", bus.Lat, bus.Lng),
		})
	}

	return BusesTableVM{
		UpdatedAt: generatedAt.Local().Format("15:04:05"),
		Rows:      rows,
	}
}

// Markers stay this far (in percent) from the edges of the map.
const mapMargin = 4.0

// BuildBusMapVM projects bus positions onto percentages of a box that fits
// every located bus. Buses without a position are left off the map.
func BuildBusMapVM(buses []transit.Bus) BusMapVM {
	located := []transit.Bus{}
	for _, bus := range buses {
		if bus.Lat != 0 || bus.Lng != 0 {
			located = append(located, bus)
		}
	}
	if len(located) == 0 {
		return BusMapVM{}
	}

	minLat, maxLat := located[0].Lat, located[0].Lat
	minLng, maxLng := located[0].Lng, located[0].Lng
	for _, bus := range located[1:] {
		minLat, maxLat = min(minLat, bus.Lat), max(maxLat, bus.Lat)
		minLng, maxLng = min(minLng, bus.Lng), max(maxLng, bus.Lng)
	}

	markers := make([]BusMarkerVM, 0, len(located))
	for _, bus := range located {
		left := mapOffset(bus.Lng-minLng, maxLng-minLng)
		// Latitude grows northwards, screen offsets grow downwards.
		top := mapOffset(maxLat-bus.Lat, maxLat-minLat)
		title := "Route " + bus.RouteNumber
		if bus.Destination != "" {
			title += " to " + bus.Destination
		}
		markers = append(markers, BusMarkerVM{
			ID:          bus.ID,
			Route:       bus.RouteNumber,
			Title:       title + ", " + formatStatus(bus),
			StatusClass: "status-" + string(bus.Status),
			Style:       template.CSS(fmt.Sprintf("left: %.2f%%; top: %.2f%%", left, top)),
		})
	}
	return BusMapVM{Markers: markers}
}

func mapOffset(delta, span float64) float64 {
	if span == 0 {
		return 50
	}
	return mapMargin + delta/span*(100-2*mapMargin)
}

func BuildAlertsVM(alerts []transit.Alert, query DashboardQuery, now time.Time) AlertsVM {
	rows := make([]AlertRowVM, 0, len(alerts))
	for _, alert := range alerts {
		row := AlertRowVM{
			ID:      alert.ID,
			Type:    string(alert.Type),
			Title:   alert.Title,
			Message: alert.Message,
			Age:     formatAge(now, alert.Timestamp),
		}
		row.DismissURL = template.URL(withQuery("/dashboard/alerts/"+url.PathEscape(alert.ID)+"/dismiss", query))
		if alert.Route != "" {
			row.Route = "Route " + alert.Route
		}
		rows = append(rows, row)
	}
	return AlertsVM{Rows: rows}
}

func BuildSnapshotEventVM(state querycache.State) SnapshotEventVM {
	event := SnapshotEventVM{
		Status: state.Status.String(),
		Stale:  state.Invalidated,
	}
	if state.Err != nil {
		event.Error = state.Err.Error()
	}
	if !state.UpdatedAt.IsZero() {
		event.UpdatedAt = state.UpdatedAt.Format(time.RFC3339)
	}
	if snapshot, err := querycache.As[transit.Snapshot](state.Data); err == nil && state.Data != nil {
		summary := BuildSummaryVM(snapshot.Buses, len(snapshot.Buses))
		event.Summary = &summary
		event.Alerts = len(snapshot.Alerts)
	}
	return event
}

func withQuery(path string, query DashboardQuery) string {
	if encoded := query.Encode(); encoded != "" {
		return path + "?" + encoded
	}
	return path
}

// locationNames prefers the source's named places and falls back to every
// stop the buses mention.
func locationNames(snapshot transit.Snapshot) []string {
	if len(snapshot.Locations) > 0 {
		return snapshot.Locations
	}

	names := []string{}
	for _, bus := range snapshot.Buses {
		for _, stop := range []string{bus.CurrentStop, bus.NextStop, bus.Destination} {
			if stop != "" && !slices.Contains(names, stop) {
				names = append(names, stop)
			}
		}
	}
	slices.Sort(names)
	return names
}

func formatStatus(bus transit.Bus) string {
	switch bus.Status {
	case transit.StatusDelayed:
		return fmt.Sprintf("Delayed %d min", bus.DelayMinutes)
	case transit.StatusCancelled:
		return "Cancelled"
	}
	return "On time"
}

func formatArrival(now time.Time, bus transit.Bus) string {
	if bus.Status == transit.StatusCancelled || bus.ArrivalTime.IsZero() {
		return "-"
	}
	d := bus.ArrivalTime.Sub(now)
	if d < time.Minute {
		return "Due"
	}
	return fmt.Sprintf("%d min", int(d.Minutes()))
}

func formatAge(now, then time.Time) string {
	if then.IsZero() {
		return "-"
	}
	d := now.Sub(then)
	if d < 0 {
		d = 0
	}
	// Keep it readable at a glance
	if d < 10*time.Second {
		return fmt.Sprintf("%.1fs ago", d.Seconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh ago", int(d.Hours()))
}
