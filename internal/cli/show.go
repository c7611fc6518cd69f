package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/kernsim/pkg/model"
)

func newShowCmd() *cobra.Command {
	var (
		flagEvents bool
		flagType   string
	)

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(flagDB)
			if err != nil {
				return err
			}
			defer st.Close()

			id := args[0]
			run, err := st.GetRun(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("get run: %w", err)
			}
			if run == nil {
				return fmt.Errorf("run %s not found", id)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run:       %s\n", run.ID)
			fmt.Fprintf(out, "Scenario:  %s\n", run.Scenario)
			fmt.Fprintf(out, "State:     %s\n", run.State)
			fmt.Fprintf(out, "Scheduler: %s\n", schedulerName(run.MLFQS))
			fmt.Fprintf(out, "Ticks:     %d (idle %d, kernel %d)\n", run.Ticks, run.IdleTicks, run.KernelTicks)
			fmt.Fprintf(out, "Switches:  %d\n", run.Switches)
			fmt.Fprintf(out, "Threads:   %d\n", run.ThreadCount)
			if run.FailedChecks > 0 {
				fmt.Fprintf(out, "Failed:    %d checks\n", run.FailedChecks)
			}
			if run.Error != "" {
				fmt.Fprintf(out, "Error:     %s\n", run.Error)
			}

			stats, err := st.ListThreadStats(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("list thread stats: %w", err)
			}
			if len(stats) > 0 {
				fmt.Fprintf(out, "\n%-6s  %-16s  %-8s  %4s  %4s  %5s\n", "TID", "NAME", "STATE", "PRI", "BASE", "CPU")
				for _, ts := range stats {
					fmt.Fprintf(out, "%-6d  %-16s  %-8s  %4d  %4d  %5d\n",
						ts.ThreadID, ts.Name, ts.State, ts.FinalPriority, ts.BasePriority, ts.CPUTicks)
				}
			}

			if flagEvents {
				opts := model.DefaultListOptions()
				opts.Limit = 500
				opts.Type = flagType
				events, total, err := st.ListEvents(cmd.Context(), id, opts)
				if err != nil {
					return fmt.Errorf("list events: %w", err)
				}
				fmt.Fprintf(out, "\n%-6s  %-6s  %-10s  %-16s  %s\n", "SEQ", "TICK", "TYPE", "THREAD", "DETAIL")
				for _, ev := range events {
					fmt.Fprintf(out, "%-6d  %-6d  %-10s  %-16s  %s\n",
						ev.Seq, ev.Tick, ev.Type, ev.ThreadName, ev.Detail)
				}
				if total > len(events) {
					fmt.Fprintf(out, "\n(%d of %d shown)\n", len(events), total)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&flagEvents, "events", false, "Include the scheduling event log")
	cmd.Flags().StringVar(&flagType, "type", "", "Filter events by type (with --events)")
	return cmd
}

func schedulerName(mlfqs bool) string {
	if mlfqs {
		return "mlfqs"
	}
	return "priority"
}
