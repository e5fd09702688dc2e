package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/panelsync"
	"pkt.systems/panelsync/httpapi"
	"pkt.systems/panelsync/internal/appconfig"
	"pkt.systems/pslog"
)

func newRelayCmd() *cobra.Command {
	var cfgPath string
	var addr string
	var basePath string
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the websocket relay windows connect to",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Relay.Addr = addr
			}
			if cmd.Flags().Changed("base-path") {
				cfg.Relay.BasePath = basePath
			}
			server, err := panelsync.New(relayServerConfig(cfg), panelsync.WithLogger(logger))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("relay stop failed", "err", err)
				}
			}()
			if err := server.Start(ctx); err != nil {
				return err
			}
			logger.Info("relay listening", "addr", server.Addr(), "codec", cfg.Channel.Codec)
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides relay.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "path prefix (overrides relay.base_path)")
	return cmd
}

func relayServerConfig(cfg appconfig.Config) panelsync.ServerConfig {
	return panelsync.ServerConfig{
		HTTP: httpapi.Config{
			Addr:           cfg.Relay.Addr,
			BasePath:       cfg.Relay.BasePath,
			HistorySize:    cfg.Relay.History,
			AllowedOrigins: cfg.Relay.AllowedOrigins,
		},
		Codec: cfg.Channel.Codec,
	}
}
