package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newExecutionsCmd() *cobra.Command {
	var (
		appID string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "executions",
		Short: "List recorded executions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := client.Executions(cmd.Context(), appID, limit)
			if err != nil {
				return fmt.Errorf("list executions: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(list.Executions) == 0 {
				fmt.Fprintln(out, "No executions found.")
				return nil
			}

			fmt.Fprintf(out, "%-8s %-16s %-10s %-10s %10s %10s %8s  %s\n",
				"TASK", "APP", "PLATFORM", "STATUS", "ESTIMATED", "REAL", "OUTPUTS", "COMPLETED")
			for _, e := range list.Executions {
				fmt.Fprintf(out, "%-8d %-16s %-10s %-10s %10s %10s %8d  %s\n",
					e.TaskID, e.AppID, e.Platform, e.Status,
					e.Estimated, e.Real, e.Outputs, humanize.Time(e.CompletedAt))
			}
			fmt.Fprintf(out, "\n%d of %d executions\n", len(list.Executions), list.Total)
			return nil
		},
	}

	cmd.Flags().StringVar(&appID, "app", "", "Only show executions of this application")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of executions (max 100)")
	return cmd
}
