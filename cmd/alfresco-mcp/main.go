// Command alfresco-mcp serves an Alfresco repository as MCP tools over stdio.
//
// Stdout carries the protocol; every log line goes to stderr.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dshills/mcpbridge/internal/alfresco"
	"github.com/dshills/mcpbridge/internal/config"
	"github.com/dshills/mcpbridge/internal/logging"
	"github.com/dshills/mcpbridge/internal/toolserver"
)

var version = "dev"

type options struct {
	configPath string
	url        string
	user       string
	password   string
	timeout    time.Duration
	logLevel   string
	logFormat  string
	check      bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "alfresco-mcp:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "alfresco-mcp",
		Short:         "Serve Alfresco repository tools over MCP stdio",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, opts)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, opts.check)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "configuration file (toml, yaml or json)")
	flags.StringVar(&opts.url, "url", "", "Alfresco base URL (env ALFRESCO_URL)")
	flags.StringVar(&opts.user, "user", "", "Alfresco user (env ALFRESCO_USER)")
	flags.StringVar(&opts.password, "password", "", "Alfresco password (env ALFRESCO_PASSWORD)")
	flags.DurationVar(&opts.timeout, "timeout", 0, "HTTP timeout for repository requests")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format (console or json)")
	flags.BoolVar(&opts.check, "check", false, "verify the repository is reachable before serving")
	return cmd
}

// resolveConfig loads defaults, file and environment, then applies flags
// that were set explicitly.
func resolveConfig(cmd *cobra.Command, opts options) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("url") {
		cfg.Alfresco.URL = opts.url
	}
	if flags.Changed("user") {
		cfg.Alfresco.User = opts.user
	}
	if flags.Changed("password") {
		cfg.Alfresco.Password = opts.password
	}
	if flags.Changed("timeout") {
		cfg.Alfresco.Timeout = config.Duration(opts.timeout)
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = opts.logFormat
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg config.Config, check bool) error {
	logger, err := logging.New(os.Stderr, cfg.Log)
	if err != nil {
		return err
	}
	logging.Install(logger)
	logger = logger.With().Str("app", "alfresco-mcp").Logger()

	client, err := alfresco.New(alfresco.Config{
		URL:      cfg.Alfresco.URL,
		User:     cfg.Alfresco.User,
		Password: cfg.Alfresco.Password,
		Timeout:  cfg.Alfresco.Timeout.Std(),
	}, alfresco.WithLogger(logger))
	if err != nil {
		return err
	}

	if check {
		checkCtx, cancel := context.WithTimeout(ctx, cfg.Alfresco.Timeout.Std())
		err := client.Check(checkCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("repository check: %w", err)
		}
		logger.Info().Str("url", cfg.Alfresco.URL).Msg("repository reachable")
	}

	srv := toolserver.New(client,
		toolserver.WithLogger(logger),
		toolserver.WithVersion(version),
		toolserver.WithRepositoryInfo(cfg.Alfresco.URL, cfg.Alfresco.User),
	)
	logger.Info().
		Str("url", cfg.Alfresco.URL).
		Str("user", cfg.Alfresco.User).
		Msg("starting stdio server")

	err = srv.Run(ctx, &mcpsdk.StdioTransport{})
	logger.WithLevel(levelFor(err)).Err(err).Msg("server stopped")
	return err
}

func levelFor(err error) zerolog.Level {
	if err != nil {
		return zerolog.ErrorLevel
	}
	return zerolog.InfoLevel
}
