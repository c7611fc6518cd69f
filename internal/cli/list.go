package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/kernsim/pkg/model"
)

func newListCmd() *cobra.Command {
	var (
		flagState string
		flagLimit int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(flagDB)
			if err != nil {
				return err
			}
			defer st.Close()

			opts := model.DefaultListOptions()
			opts.State = flagState
			opts.Limit = flagLimit
			runs, total, err := st.ListRuns(cmd.Context(), opts)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs found.")
				return nil
			}

			fmt.Fprintf(out, "%-14s  %-20s  %-10s  %6s  %8s  %6s  %s\n",
				"ID", "SCENARIO", "STATE", "TICKS", "SWITCHES", "FAILED", "CREATED")
			for _, run := range runs {
				fmt.Fprintf(out, "%-14s  %-20s  %-10s  %6d  %8d  %6d  %s\n",
					run.ID, run.Scenario, run.State, run.Ticks, run.Switches,
					run.FailedChecks, run.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			if total > len(runs) {
				fmt.Fprintf(out, "\n(%d of %d shown)\n", len(runs), total)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flagState, "state", "", "Filter by state (PENDING, RUNNING, COMPLETED, FAILED, PANICKED)")
	cmd.Flags().IntVar(&flagLimit, "limit", 50, "Maximum runs to list")
	return cmd
}
