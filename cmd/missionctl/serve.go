package main

import (
	"github.com/spf13/cobra"

	"github.com/beaconops/missionctl/internal/web"
)

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the debug HTTP server",
		Long: `Serves the read-only debug surface: task messages, notifications,
unread counters, Prometheus metrics at /metrics, and a websocket stream
of state transitions at /ws.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("addr") {
				addr = cfg.HTTP.Addr
			}

			s, bus, err := openStoreWithBus()
			if err != nil {
				return err
			}
			defer func() {
				_ = s.Close()
				bus.Close()
			}()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			srv := web.NewServer(s, bus, nil)
			return srv.ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:7478", "Listen address")
	return cmd
}
