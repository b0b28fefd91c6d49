package cmd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"tarediiran-industries.com/transit-tracker/internal/querycache"
	"tarediiran-industries.com/transit-tracker/internal/transit"
)

func NewDismissCmd(app *TransitCtlApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dismiss <alert-id>",
		Short: "Dismiss a service alert and show the ones left",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := app.context(cmd)
			defer cancel()

			id := args[0]
			_, err := app.cache.Mutate(ctx, func(ctx context.Context) (any, error) {
				resp, err := app.gateway.Request(ctx, http.MethodPost, transit.DismissPath(id), nil)
				if err != nil {
					return nil, err
				}
				return nil, resp.Body.Close()
			}, AlertsKey)
			if err != nil {
				return fmt.Errorf("dismiss %s: %w", id, err)
			}

			response, err := querycache.FetchAs[transit.AlertsResponse](ctx, app.cache, AlertsKey, nil)
			if err != nil {
				return err
			}
			if app.JSON {
				return app.printJSON(cmd, response)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Dismissed %s, %d alerts remain.\n", id, len(response.Alerts))
			return nil
		},
	}

	return cmd
}
