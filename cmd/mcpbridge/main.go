// Command mcpbridge connects a language model to an MCP server running as a
// child process. It can serve an OpenAI compatible HTTP gateway, run an
// interactive chat, or list and call the server's tools directly.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dshills/mcpbridge/internal/config"
	"github.com/dshills/mcpbridge/internal/logging"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "mcpbridge:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var opts globalOptions
	root := &cobra.Command{
		Use:           "mcpbridge",
		Short:         "Bridge a language model and an MCP server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	bindGlobalFlags(root.PersistentFlags(), &opts)

	root.AddCommand(
		newServeCommand(&opts),
		newChatCommand(&opts),
		newToolsCommand(&opts),
		newCallCommand(&opts),
		newVersionCommand(),
	)
	return root
}

func bindGlobalFlags(fs *pflag.FlagSet, opts *globalOptions) {
	fs.StringVarP(&opts.configPath, "config", "c", "", "configuration file (toml, yaml or json)")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	fs.StringVar(&opts.logFormat, "log-format", "", "log format (console or json)")
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mcpbridge %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// loadConfig resolves defaults, file and environment, then applies the
// persistent flags that were set explicitly.
func loadConfig(cmd *cobra.Command, opts *globalOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = opts.logFormat
	}
	return cfg, cfg.Validate()
}

// setupLogging installs the process logger writing to w.
func setupLogging(w io.Writer, cfg config.Config) (zerolog.Logger, error) {
	logger, err := logging.New(w, cfg.Log)
	if err != nil {
		return zerolog.Nop(), err
	}
	logging.Install(logger)
	return logger.With().Str("app", "mcpbridge").Logger(), nil
}
