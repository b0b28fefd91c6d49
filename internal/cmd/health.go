package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"tarediiran-industries.com/transit-tracker/internal/querycache"
	"tarediiran-industries.com/transit-tracker/internal/transit"
)

func NewHealthCmd(app *TransitCtlApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Inspect health of the dashboard and its snapshot cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := app.context(cmd)
			defer cancel()

			health, err := querycache.FetchAs[transit.Health](ctx, app.cache, querycache.Key{transit.HealthPath}, nil)
			if err != nil {
				return err
			}
			if app.JSON {
				return app.printJSON(cmd, health)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Health: %s (version %s, commit %s)\n", health.Status, health.Version, health.GitCommit)
			fmt.Fprintf(out, "Snapshot: %s", health.Snapshot)
			if !health.UpdatedAt.IsZero() {
				fmt.Fprintf(out, ", updated %s", health.UpdatedAt.Local().Format("15:04:05"))
			}
			if health.Error != "" {
				fmt.Fprintf(out, ", last error: %s", health.Error)
			}
			fmt.Fprintln(out)
			return nil
		},
	}

	return cmd
}
