package main

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/dshills/mcpbridge/internal/agent"
	"github.com/dshills/mcpbridge/internal/config"
	"github.com/dshills/mcpbridge/internal/llm"
	"github.com/dshills/mcpbridge/internal/logging"
	"github.com/dshills/mcpbridge/internal/mcp"
	"github.com/dshills/mcpbridge/internal/process"
	"github.com/dshills/mcpbridge/internal/transport"
)

const stopTimeout = 10 * time.Second

// errNoServer is returned by liveServer before a server is attached.
var errNoServer = errors.New("no MCP server is configured")

// runtime holds the long-lived pieces shared by the commands.
type runtime struct {
	cfg      config.Config
	logger   zerolog.Logger
	registry *prometheus.Registry
	metrics  *transport.Metrics
	server   *liveServer
}

func newRuntime(cfg config.Config, logger zerolog.Logger) (*runtime, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := transport.NewMetrics(reg)
	if err != nil {
		return nil, err
	}
	return &runtime{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		metrics:  metrics,
		server:   &liveServer{},
	}, nil
}

// newSupervisor builds a supervisor for the configured MCP server.
func (rt *runtime) newSupervisor(cfg config.Config) *mcp.Supervisor {
	stderrLevel, err := logging.ParseLevel(cfg.Log.StderrLevel)
	if err != nil {
		stderrLevel = zerolog.DebugLevel
	}
	launch := transport.Launch{
		Name: cfg.Server.Name,
		Spec: process.Spec{
			Command: cfg.Server.Command,
			Args:    cfg.Server.Args,
			Env:     cfg.Server.Env,
			Dir:     cfg.Server.Dir,
		},
	}
	supCfg := mcp.SupervisorConfig{
		MaxRestarts:       cfg.Supervisor.MaxRestarts,
		InitialBackoff:    cfg.Supervisor.InitialBackoff.Std(),
		MaxBackoff:        cfg.Supervisor.MaxBackoff.Std(),
		BackoffMultiplier: cfg.Supervisor.BackoffMultiplier,
		ResetWindow:       cfg.Supervisor.ResetWindow.Std(),
	}
	return mcp.NewSupervisor(launch, supCfg,
		mcp.WithLogger(rt.logger),
		mcp.WithTransportOptions(
			transport.WithStderrLevel(stderrLevel),
			transport.WithCallTimeout(cfg.Server.CallTimeout.Std()),
			transport.WithHandshakeTimeout(cfg.Server.HandshakeTimeout.Std()),
			transport.WithShutdownGrace(cfg.Server.ShutdownGrace.Std()),
			transport.WithClientInfo(transport.ClientInfo{Name: "mcpbridge", Version: version}),
			transport.WithMetrics(rt.metrics),
		),
		mcp.WithClientOptions(mcp.WithToolTimeout(cfg.Server.ToolTimeout.Std())),
	)
}

// startServer starts the MCP server. A failed start is logged and leaves a
// failed supervisor in place so that a later restart can revive it.
func (rt *runtime) startServer(ctx context.Context) error {
	sup := rt.newSupervisor(rt.cfg)
	err := sup.Start(ctx)
	if err != nil {
		rt.logger.Warn().Err(err).Str("command", rt.cfg.Server.Command).Msg("MCP server did not start")
	} else {
		st := sup.Status()
		rt.logger.Info().Int("pid", st.PID).Strs("tools", st.Tools).Msg("MCP server ready")
	}
	rt.server.replace(sup)
	go rt.logEvents(sup)
	return err
}

func (rt *runtime) logEvents(sup *mcp.Supervisor) {
	for ev := range sup.Events() {
		event := rt.logger.Info()
		switch ev.Type {
		case mcp.SupervisorEventCrash, mcp.SupervisorEventFailed:
			event = rt.logger.Error()
		}
		event.Str("event", ev.Type.String()).
			Str("server", ev.Server).
			Int("attempt", ev.Attempt).
			Dur("next_retry", ev.NextRetry).
			Err(ev.Err).
			Msg("MCP server event")
	}
}

// reload applies a changed configuration file. A new server is started
// when its launch or supervision settings changed.
func (rt *runtime) reload(ctx context.Context, cfg config.Config, err error) {
	if err != nil {
		return
	}
	if err := cfg.Validate(); err != nil {
		rt.logger.Warn().Err(err).Msg("ignoring invalid configuration")
		return
	}
	if reflect.DeepEqual(cfg.Server, rt.cfg.Server) && reflect.DeepEqual(cfg.Supervisor, rt.cfg.Supervisor) {
		rt.logger.Debug().Msg("MCP server settings unchanged")
		return
	}

	rt.logger.Info().Str("command", cfg.Server.Command).Msg("MCP server settings changed, restarting")
	sup := rt.newSupervisor(cfg)
	if err := sup.Start(ctx); err != nil {
		rt.logger.Error().Err(err).Msg("new MCP server did not start, keeping the current one")
		_ = sup.Stop(ctx)
		return
	}
	rt.cfg.Server, rt.cfg.Supervisor = cfg.Server, cfg.Supervisor
	old := rt.server.replace(sup)
	go rt.logEvents(sup)
	if old != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := old.Stop(stopCtx); err != nil {
			rt.logger.Warn().Err(err).Msg("previous MCP server did not stop cleanly")
		}
	}
}

// watchConfig reloads path until ctx is done.
func (rt *runtime) watchConfig(ctx context.Context, path string) {
	w, err := config.NewWatcher(path, config.WithWatchLogger(rt.logger))
	if err != nil {
		rt.logger.Warn().Err(err).Msg("configuration changes will not be picked up")
		return
	}
	defer w.Close()
	_ = w.Run(ctx, func(cfg config.Config, err error) {
		rt.reload(ctx, cfg, err)
	})
}

// newAssistant builds the LLM client and the assistant on top of the server.
func (rt *runtime) newAssistant() (*agent.Assistant, *llm.Client, error) {
	client, err := llm.New(rt.cfg.LLM, llm.WithLogger(rt.logger))
	if err != nil {
		return nil, nil, err
	}
	a := agent.New(client,
		agent.WithTools(rt.server),
		agent.WithModelInfo(client.Provider(), client.Model()),
		agent.WithLogger(rt.logger),
	)
	return a, client, nil
}

func (rt *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if sup := rt.server.current(); sup != nil {
		if err := sup.Stop(ctx); err != nil {
			rt.logger.Warn().Err(err).Msg("MCP server did not stop cleanly")
		}
	}
}

// liveServer is the MCP server currently in use. It serves both the
// assistant and the gateway and can be swapped on configuration reload.
type liveServer struct {
	sup atomic.Pointer[mcp.Supervisor]
}

func (l *liveServer) current() *mcp.Supervisor {
	return l.sup.Load()
}

func (l *liveServer) replace(sup *mcp.Supervisor) *mcp.Supervisor {
	return l.sup.Swap(sup)
}

func (l *liveServer) IsReady() bool {
	sup := l.current()
	return sup != nil && sup.IsReady()
}

func (l *liveServer) Connected() bool {
	return l.IsReady()
}

func (l *liveServer) Status() mcp.Status {
	sup := l.current()
	if sup == nil {
		return mcp.Status{State: "none"}
	}
	return sup.Status()
}

func (l *liveServer) Restart(ctx context.Context) error {
	sup := l.current()
	if sup == nil {
		return errNoServer
	}
	return sup.Restart(ctx)
}

func (l *liveServer) Tools() []mcp.Tool {
	sup := l.current()
	if sup == nil {
		return nil
	}
	return sup.Client().Tools()
}

func (l *liveServer) Resources() []mcp.Resource {
	sup := l.current()
	if sup == nil {
		return nil
	}
	return sup.Client().Resources()
}

func (l *liveServer) Prompts() []mcp.Prompt {
	sup := l.current()
	if sup == nil {
		return nil
	}
	return sup.Client().Prompts()
}

func (l *liveServer) CallTool(ctx context.Context, name string, args any) (*mcp.CallToolResult, error) {
	sup := l.current()
	if sup == nil {
		return nil, errNoServer
	}
	return sup.Client().CallTool(ctx, name, args)
}
