package cli

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/me/kernsim/internal/config"
	"github.com/me/kernsim/internal/server"
)

func newServeCmd() *cobra.Command {
	var flagAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the monitor API over recorded runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(flagDB)
			if err != nil {
				return err
			}
			defer st.Close()

			cfg := config.DefaultServerConfig()
			cfg.Addr = flagAddr
			cfg.LogLevel = flagLogLevel
			cfg.LogFormat = flagLogFormat
			cfg.DBPath = flagDB

			srv := server.New(cfg, st, logger)
			logger.Info("monitor listening", "addr", cfg.Addr, "db", cfg.DBPath)
			if err := http.ListenAndServe(cfg.Addr, srv.Handler()); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flagAddr, "addr", ":8080", "Listen address")
	return cmd
}
