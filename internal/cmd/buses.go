package cmd

import (
	"fmt"
	"net/url"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"tarediiran-industries.com/transit-tracker/internal/querycache"
	"tarediiran-industries.com/transit-tracker/internal/transit"
)

type busesOptions struct {
	query    string
	routes   []string
	location string
}

// BusesKey is the cache key, and URL, of a filtered bus listing.
func BusesKey(query string, routes []string, location string) querycache.Key {
	values := url.Values{}
	if query != "" {
		values.Set("q", query)
	}
	for _, route := range routes {
		values.Add("route", route)
	}
	if location != "" {
		values.Set("location", location)
	}
	if len(values) == 0 {
		return querycache.Key{transit.BusesPath}
	}
	return querycache.Key{transit.BusesPath + "?" + values.Encode()}
}

func NewBusesCmd(app *TransitCtlApp) *cobra.Command {
	opts := &busesOptions{}

	cmd := &cobra.Command{
		Use:   "buses",
		Short: "List buses, optionally filtered by search text, route or location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := app.context(cmd)
			defer cancel()

			key := BusesKey(opts.query, opts.routes, opts.location)
			response, err := querycache.FetchAs[transit.BusesResponse](ctx, app.cache, key, nil)
			if err != nil {
				return err
			}
			if app.JSON {
				return app.printJSON(cmd, response)
			}

			out := cmd.OutOrStdout()
			summary := response.Summary
			fmt.Fprintf(out, "%d buses: %d on time, %d delayed, %d cancelled (showing %d)\n\n",
				summary.Total, summary.OnTime, summary.Delayed, summary.Cancelled, len(response.Buses))

			writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "ROUTE\tDESTINATION\tCURRENT STOP\tNEXT STOP\tARRIVAL\tSTATUS\tOCCUPANCY")
			for _, bus := range response.Buses {
				status := string(bus.Status)
				if bus.Status == transit.StatusDelayed {
					status = fmt.Sprintf("%s (+%d min)", bus.Status, bus.DelayMinutes)
				}
				arrival := "-"
				if !bus.ArrivalTime.IsZero() {
					arrival = bus.ArrivalTime.Local().Format("15:04")
				}
				fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					bus.RouteNumber, bus.Destination, bus.CurrentStop, bus.NextStop, arrival, status, bus.Occupancy)
			}
			return writer.Flush()
		},
	}

	cmd.Flags().StringVarP(&opts.query, "query", "q", "", "Search route, destination and stops")
	cmd.Flags().StringSliceVarP(&opts.routes, "route", "r", nil, "Only these routes (repeatable)")
	cmd.Flags().StringVarP(&opts.location, "location", "l", "", "Only buses at this location")

	return cmd
}
