package transit_web

import (
	"net/url"
	"slices"
	"strings"

	"tarediiran-industries.com/transit-tracker/internal/transit"
)

type DashboardQuery struct {
	Query    string
	Routes   []string // empty means all routes
	Location string
}

func ParseDashboardQuery(values url.Values) DashboardQuery {
	query := DashboardQuery{
		Query:    strings.TrimSpace(values.Get("q")),
		Location: strings.TrimSpace(values.Get("location")),
	}

	for _, value := range values["route"] {
		for _, route := range strings.Split(value, ",") {
			route = transit.NormalizeRoute(route)
			if route == "" || route == "ALL" || slices.Contains(query.Routes, route) {
				continue
			}
			query.Routes = append(query.Routes, route)
		}
	}
	return query
}

func (query DashboardQuery) Filter() transit.Filter {
	return transit.Filter{Query: query.Query, Routes: query.Routes, Location: query.Location}
}

func (query DashboardQuery) Values() url.Values {
	values := url.Values{}
	if query.Query != "" {
		values.Set("q", query.Query)
	}
	for _, route := range query.Routes {
		values.Add("route", route)
	}
	if query.Location != "" {
		values.Set("location", query.Location)
	}
	return values
}

// Encode renders the query for links back to the dashboard, "" when empty.
func (query DashboardQuery) Encode() string {
	return query.Values().Encode()
}
