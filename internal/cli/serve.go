package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/me/strider/internal/server"
)

func newServeCmd() *cobra.Command {
	var addr, dbPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve recorded runs over the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srvCfg := cfg.Server
			if cmd.Flags().Changed("addr") {
				srvCfg.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := openStore(ctx, dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			return server.New(srvCfg, st, logger).ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address (default from config)")
	cmd.Flags().StringVar(&dbPath, "db", "", "Trace database path (default from config, ~/.strider/strider.db)")
	return cmd
}
