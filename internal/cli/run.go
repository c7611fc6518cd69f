package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/me/kernsim/internal/config"
	"github.com/me/kernsim/internal/kernel"
	"github.com/me/kernsim/internal/scenario"
	"github.com/me/kernsim/internal/trace"
	"github.com/me/kernsim/pkg/model"
)

// openStore opens the trace database, creating its directory and
// schema as needed.
func openStore(path string) (trace.Store, error) {
	if dir := filepath.Dir(path); dir != "." && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	st, err := trace.NewSQLiteStore(path, logger)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(context.Background()); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

func newRunCmd() *cobra.Command {
	var (
		flagNoRecord bool
		flagMLFQS    bool
		flagMaxTicks int64
		flagJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := scenario.Load(args[0])
			if err != nil {
				return err
			}

			cfg := config.DefaultRunConfig()
			cfg.LogLevel = flagLogLevel
			cfg.LogFormat = flagLogFormat
			cfg.MLFQS = flagMLFQS
			cfg.MaxTicks = flagMaxTicks
			if !flagNoRecord {
				cfg.DBPath = flagDB
			}

			var (
				st  trace.Store
				rec *trace.Recorder
			)
			runID := "run_" + uuid.New().String()[:8]
			if cfg.DBPath != "" {
				st, err = openStore(cfg.DBPath)
				if err != nil {
					return err
				}
				defer st.Close()
				rec = trace.NewRecorder(runID)
			}

			opts := scenario.Options{ForceMLFQS: cfg.MLFQS, MaxTicks: cfg.MaxTicks}
			run := &model.Run{
				ID:        runID,
				Scenario:  sc.Name,
				State:     model.RunStateRunning,
				MLFQS:     sc.Kernel.MLFQS || cfg.MLFQS,
				TimerFreq: sc.Kernel.TimerFreq,
				CreatedAt: time.Now().UTC(),
			}
			if run.TimerFreq == 0 {
				run.TimerFreq = 100
			}
			if st != nil {
				if err := st.CreateRun(cmd.Context(), run); err != nil {
					return fmt.Errorf("record run: %w", err)
				}
			}

			var sink kernel.Sink
			if rec != nil {
				sink = rec
			}
			res, err := scenario.NewRunner(sc, opts, logger, sink).Run()
			if err != nil {
				if st != nil {
					run.State = model.RunStateFailed
					run.Error = err.Error()
					finishRun(cmd.Context(), st, run)
				}
				return err
			}

			if st != nil {
				if err := persistResult(cmd.Context(), st, rec, run, res); err != nil {
					return err
				}
			}

			if flagJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			} else {
				printResult(cmd, runID, res, !flagNoRecord)
			}

			if !res.Passed() {
				return fmt.Errorf("run failed: %d failed checks, panic=%v",
					res.FailedChecks, res.Panic != nil)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&flagNoRecord, "no-record", false, "Do not record the run to the trace database")
	cmd.Flags().BoolVar(&flagMLFQS, "mlfqs", false, "Force the multi-level feedback queue scheduler")
	cmd.Flags().Int64Var(&flagMaxTicks, "max-ticks", 0, "Override the scenario's tick limit")
	cmd.Flags().BoolVar(&flagJSON, "json", false, "Print the full result as JSON")
	return cmd
}

// persistResult writes the final run record, event log, and thread
// stats.
func persistResult(ctx context.Context, st trace.Store, rec *trace.Recorder, run *model.Run, res *scenario.Result) error {
	switch {
	case res.Panic != nil:
		run.State = model.RunStatePanicked
		run.Error = res.Panic.Error()
	case res.FailedChecks > 0:
		run.State = model.RunStateFailed
	default:
		run.State = model.RunStateCompleted
	}
	run.Ticks = res.Stats.Ticks
	run.Switches = res.Stats.Switches
	run.IdleTicks = res.Stats.IdleTicks
	run.KernelTicks = res.Stats.KernelTicks
	run.ThreadCount = len(res.Threads)
	run.FailedChecks = res.FailedChecks
	finishRun(ctx, st, run)

	if rec != nil {
		if err := rec.Flush(ctx, st); err != nil {
			return fmt.Errorf("record events: %w", err)
		}
	}

	stats := make([]model.ThreadStat, len(res.Threads))
	for i, tr := range res.Threads {
		stats[i] = model.ThreadStat{
			RunID:         run.ID,
			ThreadID:      int64(tr.TID),
			Name:          tr.Name,
			State:         tr.State,
			BasePriority:  tr.BasePriority,
			FinalPriority: tr.FinalPriority,
			Nice:          tr.Nice,
			CPUTicks:      tr.CPUTicks,
		}
	}
	if err := st.PutThreadStats(ctx, stats); err != nil {
		return fmt.Errorf("record thread stats: %w", err)
	}
	return nil
}

func finishRun(ctx context.Context, st trace.Store, run *model.Run) {
	now := time.Now().UTC()
	run.CompletedAt = &now
	if err := st.UpdateRun(ctx, run); err != nil {
		logger.Warn("update run record failed", "id", run.ID, "error", err)
	}
}

// printResult writes the human-readable run summary.
func printResult(cmd *cobra.Command, runID string, res *scenario.Result, recorded bool) {
	out := cmd.OutOrStdout()

	status := "PASSED"
	if res.Panic != nil {
		status = "PANICKED"
	} else if res.FailedChecks > 0 {
		status = "FAILED"
	}
	fmt.Fprintf(out, "%s: %s (ticks=%d switches=%d idle=%d)\n",
		res.Scenario, status, res.Stats.Ticks, res.Stats.Switches, res.Stats.IdleTicks)
	if res.Panic != nil {
		fmt.Fprintf(out, "  kernel panic at tick %d: %s\n", res.Panic.Tick, res.Panic.Reason)
	}

	for _, c := range res.Checks {
		mark := "ok"
		if !c.Passed {
			mark = "FAIL"
		}
		fmt.Fprintf(out, "  [%s] at=%d %s", mark, c.At, c.Expr)
		if !c.Passed && c.Detail != "" {
			fmt.Fprintf(out, " (%s)", c.Detail)
		}
		fmt.Fprintln(out)
	}

	fmt.Fprintf(out, "%-6s  %-16s  %-8s  %4s  %4s  %5s\n", "TID", "NAME", "STATE", "PRI", "BASE", "CPU")
	for _, tr := range res.Threads {
		fmt.Fprintf(out, "%-6d  %-16s  %-8s  %4d  %4d  %5d\n",
			tr.TID, tr.Name, tr.State, tr.FinalPriority, tr.BasePriority, tr.CPUTicks)
	}
	if recorded {
		fmt.Fprintf(out, "recorded as %s\n", runID)
	}
}
