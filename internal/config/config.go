package config

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Config is the resolved mcpbridge configuration.
type Config struct {
	Log        Log        `toml:"log" yaml:"log" json:"log"`
	Server     Server     `toml:"server" yaml:"server" json:"server"`
	Supervisor Supervisor `toml:"supervisor" yaml:"supervisor" json:"supervisor"`
	Alfresco   Alfresco   `toml:"alfresco" yaml:"alfresco" json:"alfresco"`
	LLM        LLM        `toml:"llm" yaml:"llm" json:"llm"`
	Gateway    Gateway    `toml:"gateway" yaml:"gateway" json:"gateway"`
}

// Log configures process logging.
type Log struct {
	// Level is a zerolog level name: trace, debug, info, warn, error.
	Level string `toml:"level" yaml:"level" json:"level"`
	// Format is "console" or "json".
	Format string `toml:"format" yaml:"format" json:"format"`
	// StderrLevel is the level used for lines the MCP child writes to stderr.
	StderrLevel string `toml:"stderr_level" yaml:"stderr_level" json:"stderr_level"`
}

// Server describes the MCP server child process.
type Server struct {
	Name    string            `toml:"name" yaml:"name" json:"name"`
	Command string            `toml:"command" yaml:"command" json:"command"`
	Args    []string          `toml:"args" yaml:"args" json:"args"`
	Env     map[string]string `toml:"env" yaml:"env" json:"env"`
	Dir     string            `toml:"dir" yaml:"dir" json:"dir"`

	CallTimeout      Duration `toml:"call_timeout" yaml:"call_timeout" json:"call_timeout"`
	HandshakeTimeout Duration `toml:"handshake_timeout" yaml:"handshake_timeout" json:"handshake_timeout"`
	ToolTimeout      Duration `toml:"tool_timeout" yaml:"tool_timeout" json:"tool_timeout"`
	ShutdownGrace    Duration `toml:"shutdown_grace" yaml:"shutdown_grace" json:"shutdown_grace"`
}

// Supervisor configures crash recovery of the MCP child.
type Supervisor struct {
	// MaxRestarts is the number of consecutive restarts attempted before
	// giving up. Zero disables automatic restarts.
	MaxRestarts       int      `toml:"max_restarts" yaml:"max_restarts" json:"max_restarts"`
	InitialBackoff    Duration `toml:"initial_backoff" yaml:"initial_backoff" json:"initial_backoff"`
	MaxBackoff        Duration `toml:"max_backoff" yaml:"max_backoff" json:"max_backoff"`
	BackoffMultiplier float64  `toml:"backoff_multiplier" yaml:"backoff_multiplier" json:"backoff_multiplier"`
	// ResetWindow is how long the child must stay up before the restart
	// counter is cleared.
	ResetWindow Duration `toml:"reset_window" yaml:"reset_window" json:"reset_window"`
}

// Alfresco holds the repository connection used by the tool server.
type Alfresco struct {
	URL      string   `toml:"url" yaml:"url" json:"url"`
	User     string   `toml:"user" yaml:"user" json:"user"`
	Password string   `toml:"password" yaml:"password" json:"password"`
	Timeout  Duration `toml:"timeout" yaml:"timeout" json:"timeout"`
}

// LLM selects and configures the language model provider.
type LLM struct {
	// Provider is one of openai, groq, anthropic or gemini.
	Provider    string   `toml:"provider" yaml:"provider" json:"provider"`
	Model       string   `toml:"model" yaml:"model" json:"model"`
	APIKey      string   `toml:"api_key" yaml:"api_key" json:"api_key"`
	BaseURL     string   `toml:"base_url" yaml:"base_url" json:"base_url"`
	MaxTokens   int      `toml:"max_tokens" yaml:"max_tokens" json:"max_tokens"`
	Temperature float64  `toml:"temperature" yaml:"temperature" json:"temperature"`
	MaxRetries  int      `toml:"max_retries" yaml:"max_retries" json:"max_retries"`
	Timeout     Duration `toml:"timeout" yaml:"timeout" json:"timeout"`
}

// Gateway configures the HTTP gateway started by "mcpbridge serve".
type Gateway struct {
	Addr      string `toml:"addr" yaml:"addr" json:"addr"`
	ModelName string `toml:"model_name" yaml:"model_name" json:"model_name"`
	Metrics   bool   `toml:"metrics" yaml:"metrics" json:"metrics"`
}

// Provider names accepted in LLM.Provider.
const (
	ProviderOpenAI    = "openai"
	ProviderGroq      = "groq"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// GroqBaseURL is used for the groq provider when no base_url is set.
const GroqBaseURL = "https://api.groq.com/openai/v1"

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log: Log{
			Level:       "info",
			Format:      "console",
			StderrLevel: "debug",
		},
		Server: Server{
			Name:             "alfresco",
			Command:          "alfresco-mcp",
			CallTimeout:      Duration(30 * time.Second),
			HandshakeTimeout: Duration(10 * time.Second),
			ToolTimeout:      Duration(60 * time.Second),
			ShutdownGrace:    Duration(5 * time.Second),
		},
		Supervisor: Supervisor{
			MaxRestarts:       5,
			InitialBackoff:    Duration(time.Second),
			MaxBackoff:        Duration(30 * time.Second),
			BackoffMultiplier: 2.0,
			ResetWindow:       Duration(5 * time.Minute),
		},
		Alfresco: Alfresco{
			URL:      "http://localhost:8080",
			User:     "admin",
			Password: "admin",
			Timeout:  Duration(30 * time.Second),
		},
		LLM: LLM{
			Provider:    ProviderOpenAI,
			Model:       "gpt-4o-mini",
			MaxTokens:   400,
			Temperature: 0.3,
			MaxRetries:  3,
			Timeout:     Duration(30 * time.Second),
		},
		Gateway: Gateway{
			Addr:      "127.0.0.1:8002",
			ModelName: "alfresco-mcp-assistant",
			Metrics:   true,
		},
	}
}

var validLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true,
	"fatal": true, "panic": true, "disabled": true,
}

// Validate reports every unusable setting in a single *ValidationError.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if !validLevels[strings.ToLower(c.Log.Level)] {
		add("log.level %q is not a log level", c.Log.Level)
	}
	if c.Log.StderrLevel != "" && !validLevels[strings.ToLower(c.Log.StderrLevel)] {
		add("log.stderr_level %q is not a log level", c.Log.StderrLevel)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		add("log.format must be console or json, got %q", c.Log.Format)
	}

	if strings.TrimSpace(c.Server.Command) == "" {
		add("server.command is required")
	}
	for name, d := range map[string]Duration{
		"server.call_timeout":      c.Server.CallTimeout,
		"server.handshake_timeout": c.Server.HandshakeTimeout,
		"server.tool_timeout":      c.Server.ToolTimeout,
		"server.shutdown_grace":    c.Server.ShutdownGrace,
		"llm.timeout":              c.LLM.Timeout,
		"alfresco.timeout":         c.Alfresco.Timeout,
	} {
		if d <= 0 {
			add("%s must be positive", name)
		}
	}

	if c.Supervisor.MaxRestarts < 0 {
		add("supervisor.max_restarts must not be negative")
	}
	if c.Supervisor.MaxRestarts > 0 {
		if c.Supervisor.InitialBackoff <= 0 {
			add("supervisor.initial_backoff must be positive")
		}
		if c.Supervisor.MaxBackoff < c.Supervisor.InitialBackoff {
			add("supervisor.max_backoff must not be below initial_backoff")
		}
		if c.Supervisor.BackoffMultiplier < 1 {
			add("supervisor.backoff_multiplier must be at least 1")
		}
	}

	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderGroq, ProviderAnthropic, ProviderGemini:
	default:
		add("llm.provider %q is not one of openai, groq, anthropic, gemini", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		add("llm.model is required")
	}
	if c.LLM.MaxTokens <= 0 {
		add("llm.max_tokens must be positive")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		add("llm.temperature must be within [0, 2]")
	}
	if c.LLM.MaxRetries < 1 {
		add("llm.max_retries must be at least 1")
	}

	if c.Gateway.Addr == "" {
		add("gateway.addr is required")
	}

	if len(problems) == 0 {
		return nil
	}
	// Map iteration above is unordered.
	sort.Strings(problems)
	return &ValidationError{Problems: problems}
}
