package cmd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"tarediiran-industries.com/transit-tracker/internal/querycache"
	"tarediiran-industries.com/transit-tracker/internal/transit"
)

func NewRefreshCmd(app *TransitCtlApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Ask the dashboard to fetch a new snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := app.context(cmd)
			defer cancel()

			_, err := app.cache.Mutate(ctx, func(ctx context.Context) (any, error) {
				resp, err := app.gateway.Request(ctx, http.MethodPost, transit.RefreshPath, nil)
				if err != nil {
					return nil, err
				}
				return nil, resp.Body.Close()
			}, querycache.Key{})
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Snapshot invalidated.")
			return nil
		},
	}

	return cmd
}
