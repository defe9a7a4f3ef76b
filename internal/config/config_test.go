package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDefault_Validates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestDefault_Values(t *testing.T) {
	cfg := Default()

	if cfg.Server.CallTimeout.Std() != 30*time.Second {
		t.Errorf("Server.CallTimeout = %v, want 30s", cfg.Server.CallTimeout)
	}
	if cfg.Server.ToolTimeout.Std() != time.Minute {
		t.Errorf("Server.ToolTimeout = %v, want 1m", cfg.Server.ToolTimeout)
	}
	if cfg.LLM.Temperature != 0.3 {
		t.Errorf("LLM.Temperature = %v, want 0.3", cfg.LLM.Temperature)
	}
	if cfg.LLM.MaxRetries != 3 {
		t.Errorf("LLM.MaxRetries = %d, want 3", cfg.LLM.MaxRetries)
	}
	if cfg.Alfresco.URL != "http://localhost:8080" {
		t.Errorf("Alfresco.URL = %q", cfg.Alfresco.URL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad stderr level", func(c *Config) { c.Log.StderrLevel = "x" }, "log.stderr_level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"no command", func(c *Config) { c.Server.Command = "  " }, "server.command"},
		{"zero call timeout", func(c *Config) { c.Server.CallTimeout = 0 }, "server.call_timeout"},
		{"negative grace", func(c *Config) { c.Server.ShutdownGrace = Duration(-time.Second) }, "server.shutdown_grace"},
		{"negative restarts", func(c *Config) { c.Supervisor.MaxRestarts = -1 }, "supervisor.max_restarts"},
		{"backoff inverted", func(c *Config) { c.Supervisor.MaxBackoff = Duration(time.Millisecond) }, "supervisor.max_backoff"},
		{"multiplier", func(c *Config) { c.Supervisor.BackoffMultiplier = 0.5 }, "supervisor.backoff_multiplier"},
		{"provider", func(c *Config) { c.LLM.Provider = "llama" }, "llm.provider"},
		{"model", func(c *Config) { c.LLM.Model = "" }, "llm.model"},
		{"max tokens", func(c *Config) { c.LLM.MaxTokens = 0 }, "llm.max_tokens"},
		{"temperature", func(c *Config) { c.LLM.Temperature = 3 }, "llm.temperature"},
		{"retries", func(c *Config) { c.LLM.MaxRetries = 0 }, "llm.max_retries"},
		{"addr", func(c *Config) { c.Gateway.Addr = "" }, "gateway.addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if !errors.Is(err, ErrValidationFailed) {
				t.Fatalf("Validate() = %v, want ErrValidationFailed", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %q, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.LLM.Model = ""
	cfg.Gateway.Addr = ""
	cfg.Server.CallTimeout = 0

	var verr *ValidationError
	if !errors.As(cfg.Validate(), &verr) {
		t.Fatal("expected *ValidationError")
	}
	if len(verr.Problems) != 3 {
		t.Fatalf("Problems = %v, want 3 entries", verr.Problems)
	}
	for i := 1; i < len(verr.Problems); i++ {
		if verr.Problems[i] < verr.Problems[i-1] {
			t.Errorf("Problems not sorted: %v", verr.Problems)
		}
	}
}

func TestValidate_RestartsDisabledSkipsBackoff(t *testing.T) {
	cfg := Default()
	cfg.Supervisor.MaxRestarts = 0
	cfg.Supervisor.InitialBackoff = 0
	cfg.Supervisor.BackoffMultiplier = 0

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestDuration_Text(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("1m30s")); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	if d.Std() != 90*time.Second {
		t.Errorf("Std() = %v, want 1m30s", d.Std())
	}
	text, _ := d.MarshalText()
	if string(text) != "1m30s" {
		t.Errorf("MarshalText() = %q", text)
	}
	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Error("UnmarshalText(soon) should fail")
	}
}
