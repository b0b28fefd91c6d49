package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"tarediiran-industries.com/transit-tracker/internal/querycache"
	"tarediiran-industries.com/transit-tracker/internal/transit"
)

var AlertsKey = querycache.Key{transit.AlertsPath}

func NewAlertsCmd(app *TransitCtlApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List active service alerts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := app.context(cmd)
			defer cancel()

			response, err := querycache.FetchAs[transit.AlertsResponse](ctx, app.cache, AlertsKey, nil)
			if err != nil {
				return err
			}
			if app.JSON {
				return app.printJSON(cmd, response)
			}
			return printAlerts(cmd.OutOrStdout(), response.Alerts)
		},
	}

	return cmd
}

func printAlerts(out io.Writer, alerts []transit.Alert) error {
	if len(alerts) == 0 {
		_, err := fmt.Fprintln(out, "No active alerts.")
		return err
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tTYPE\tROUTE\tTITLE\tSINCE")
	for _, alert := range alerts {
		route := alert.Route
		if route == "" {
			route = "-"
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			alert.ID, alert.Type, route, alert.Title, alert.Timestamp.Local().Format("15:04"))
	}
	return writer.Flush()
}
