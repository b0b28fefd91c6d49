package transit

import (
	"slices"
	"strconv"
	"strings"
)

type Filter struct {
	Query    string
	Routes   []string
	Location string
}

func (filter Filter) IsZero() bool {
	return strings.TrimSpace(filter.Query) == "" && len(filter.Routes) == 0 && strings.TrimSpace(filter.Location) == ""
}

func (filter Filter) Apply(buses []Bus) []Bus {
	query := strings.ToLower(strings.TrimSpace(filter.Query))
	location := strings.ToLower(strings.TrimSpace(filter.Location))

	routes := map[string]struct{}{}
	for _, route := range filter.Routes {
		if normalized := NormalizeRoute(route); normalized != "" {
			routes[normalized] = struct{}{}
		}
	}

	out := make([]Bus, 0, len(buses))
	for _, bus := range buses {
		if len(routes) > 0 {
			if _, ok := routes[NormalizeRoute(bus.RouteNumber)]; !ok {
				continue
			}
		}
		if query != "" && !matchesQuery(bus, query) {
			continue
		}
		if location != "" && !atLocation(bus, location) {
			continue
		}
		out = append(out, bus)
	}
	return out
}

// NormalizeRoute maps "Route 12", "route 12" and "12" to "12".
func NormalizeRoute(route string) string {
	route = strings.TrimSpace(route)
	if len(route) >= len("route") && strings.EqualFold(route[:len("route")], "route") {
		route = strings.TrimSpace(route[len("route"):])
	}
	return strings.ToUpper(route)
}

func matchesQuery(bus Bus, query string) bool {
	fields := []string{bus.RouteNumber, bus.Destination, bus.CurrentStop, bus.NextStop}
	for _, field := range fields {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
}

func atLocation(bus Bus, location string) bool {
	return strings.ToLower(bus.CurrentStop) == location ||
		strings.ToLower(bus.NextStop) == location ||
		strings.ToLower(bus.Destination) == location
}

// sortRoutes orders numeric routes numerically, then the rest lexically.
func sortRoutes(routes []string) {
	slices.SortFunc(routes, func(a, b string) int {
		na, errA := strconv.Atoi(a)
		nb, errB := strconv.Atoi(b)
		switch {
		case errA == nil && errB == nil:
			return na - nb
		case errA == nil:
			return -1
		case errB == nil:
			return 1
		}
		return strings.Compare(a, b)
	})
}
