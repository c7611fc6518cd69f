// Package cli implements the kernsim command line interface.
package cli

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/me/kernsim/internal/logging"
)

var (
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string
	flagDB        string

	logger *slog.Logger
)

// defaultDBPath returns the trace database path, checking the
// KERNSIM_DB env var first.
func defaultDBPath() string {
	if p := os.Getenv("KERNSIM_DB"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "kernsim.db"
	}
	return filepath.Join(home, ".kernsim", "kernsim.db")
}

// NewRootCmd creates the root cobra command for the kernsim CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kernsim",
		Short: "Deterministic kernel thread scheduler simulator",
		Long: "kernsim runs scripted thread scheduling scenarios against a simulated\n" +
			"kernel with priority donation, sleeping, and an optional multi-level\n" +
			"feedback queue scheduler, recording every scheduling event.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLogger(logging.ParseLevel(flagLogLevel), flagLogFormat)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")
	root.PersistentFlags().StringVar(&flagDB, "db", defaultDBPath(), "Trace database path (or KERNSIM_DB env)")

	root.AddCommand(
		newRunCmd(),
		newServeCmd(),
		newListCmd(),
		newShowCmd(),
	)

	return root
}
