package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/mcpbridge/internal/gateway"
)

func newServeCommand(global *globalOptions) *cobra.Command {
	var (
		addr  string
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the assistant as an OpenAI compatible HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, global)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Gateway.Addr = addr
			}
			logger, err := setupLogging(os.Stderr, cfg)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			rt, err := newRuntime(cfg, logger)
			if err != nil {
				return err
			}
			assistant, client, err := rt.newAssistant()
			if err != nil {
				return err
			}
			defer client.Close()

			_ = rt.startServer(ctx)
			defer rt.close()

			if watch && global.configPath != "" {
				go rt.watchConfig(ctx, global.configPath)
			}

			opts := []gateway.Option{
				gateway.WithLogger(logger),
				gateway.WithModelName(cfg.Gateway.ModelName),
				gateway.WithProviderInfo(client.Provider(), client.Model()),
			}
			if cfg.Gateway.Metrics {
				opts = append(opts, gateway.WithRegistry(rt.registry))
			}
			gw, err := gateway.New(assistant, rt.server, opts...)
			if err != nil {
				return err
			}
			return serveUntilDone(ctx, gw, cfg.Gateway.Addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from gateway.addr)")
	cmd.Flags().BoolVar(&watch, "watch", true, "restart the MCP server when the configuration file changes")
	return cmd
}

func serveUntilDone(ctx context.Context, gw *gateway.Gateway, addr string) error {
	err := gw.Serve(ctx, addr)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
