package config

import (
	"errors"
	"reflect"
	"strconv"
	"testing"
	"time"
)

func TestApplyEnv_Prefixed(t *testing.T) {
	cfg := Default()
	err := ApplyEnv(&cfg, []string{
		"MCPBRIDGE_LOG_LEVEL=debug",
		"MCPBRIDGE_SERVER_COMMAND=python3",
		`MCPBRIDGE_SERVER_ARGS=["alfresco_mcp_server.py", "--verbose"]`,
		"MCPBRIDGE_SERVER_CALL_TIMEOUT=2s",
		"MCPBRIDGE_SUPERVISOR_MAX_RESTARTS=0",
		"MCPBRIDGE_SUPERVISOR_BACKOFF_MULTIPLIER=1.5",
		"MCPBRIDGE_LLM_TEMPERATURE=0.7",
		"MCPBRIDGE_GATEWAY_METRICS=off",
		"UNRELATED=1",
	})
	if err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if cfg.Server.Command != "python3" {
		t.Errorf("Server.Command = %q", cfg.Server.Command)
	}
	if want := []string{"alfresco_mcp_server.py", "--verbose"}; !reflect.DeepEqual(cfg.Server.Args, want) {
		t.Errorf("Server.Args = %v, want %v", cfg.Server.Args, want)
	}
	if cfg.Server.CallTimeout.Std() != 2*time.Second {
		t.Errorf("Server.CallTimeout = %v", cfg.Server.CallTimeout)
	}
	if cfg.Supervisor.MaxRestarts != 0 {
		t.Errorf("Supervisor.MaxRestarts = %d", cfg.Supervisor.MaxRestarts)
	}
	if cfg.Supervisor.BackoffMultiplier != 1.5 {
		t.Errorf("Supervisor.BackoffMultiplier = %v", cfg.Supervisor.BackoffMultiplier)
	}
	if cfg.LLM.Temperature != 0.7 {
		t.Errorf("LLM.Temperature = %v", cfg.LLM.Temperature)
	}
	if cfg.Gateway.Metrics {
		t.Error("Gateway.Metrics = true, want false")
	}
}

func TestApplyEnv_ArgsWhitespaceList(t *testing.T) {
	cfg := Default()
	if err := ApplyEnv(&cfg, []string{"MCPBRIDGE_SERVER_ARGS=  -m  server "}); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}
	if want := []string{"-m", "server"}; !reflect.DeepEqual(cfg.Server.Args, want) {
		t.Errorf("Server.Args = %v, want %v", cfg.Server.Args, want)
	}
}

func TestApplyEnv_PrefixedBeatsWellKnown(t *testing.T) {
	cfg := Default()
	err := ApplyEnv(&cfg, []string{
		"ALFRESCO_URL=http://plain:8080",
		"MCPBRIDGE_ALFRESCO_URL=http://prefixed:8080",
		"ALFRESCO_USER=bob",
	})
	if err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}
	if cfg.Alfresco.URL != "http://prefixed:8080" {
		t.Errorf("Alfresco.URL = %q, want prefixed value", cfg.Alfresco.URL)
	}
	if cfg.Alfresco.User != "bob" {
		t.Errorf("Alfresco.User = %q, want bob", cfg.Alfresco.User)
	}
}

func TestApplyEnv_ProviderKeys(t *testing.T) {
	tests := []struct {
		name    string
		environ []string
		want    string
	}{
		{"openai default", []string{"OPENAI_API_KEY=sk-1"}, "sk-1"},
		{"groq", []string{"MCPBRIDGE_LLM_PROVIDER=groq", "OPENAI_API_KEY=sk-1", "GROQ_API_KEY=gsk"}, "gsk"},
		{"gemini fallback", []string{"MCPBRIDGE_LLM_PROVIDER=gemini", "GOOGLE_API_KEY=g"}, "g"},
		{"gemini preferred", []string{"MCPBRIDGE_LLM_PROVIDER=gemini", "GOOGLE_API_KEY=g", "GEMINI_API_KEY=gem"}, "gem"},
		{"explicit wins", []string{"MCPBRIDGE_LLM_API_KEY=explicit", "OPENAI_API_KEY=sk-1"}, "explicit"},
		{"other provider ignored", []string{"ANTHROPIC_API_KEY=ant"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			if err := ApplyEnv(&cfg, tt.environ); err != nil {
				t.Fatalf("ApplyEnv() error = %v", err)
			}
			if cfg.LLM.APIKey != tt.want {
				t.Errorf("LLM.APIKey = %q, want %q", cfg.LLM.APIKey, tt.want)
			}
		})
	}
}

func TestApplyEnv_ServerEnv(t *testing.T) {
	cfg := Default()
	cfg.Server.Env = map[string]string{"KEEP": "1"}
	err := ApplyEnv(&cfg, []string{`MCPBRIDGE_SERVER_ENV={"ALFRESCO_URL":"http://x"}`})
	if err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}
	want := map[string]string{"KEEP": "1", "ALFRESCO_URL": "http://x"}
	if !reflect.DeepEqual(cfg.Server.Env, want) {
		t.Errorf("Server.Env = %v, want %v", cfg.Server.Env, want)
	}
}

func TestApplyEnv_Errors(t *testing.T) {
	tests := []struct {
		kv   string
		name string
	}{
		{"MCPBRIDGE_LLM_MAX_TOKENS=lots", "MCPBRIDGE_LLM_MAX_TOKENS"},
		{"MCPBRIDGE_LLM_TEMPERATURE=warm", "MCPBRIDGE_LLM_TEMPERATURE"},
		{"MCPBRIDGE_SERVER_CALL_TIMEOUT=30", "MCPBRIDGE_SERVER_CALL_TIMEOUT"},
		{"MCPBRIDGE_GATEWAY_METRICS=maybe", "MCPBRIDGE_GATEWAY_METRICS"},
		{"MCPBRIDGE_SERVER_ARGS=[1,", "MCPBRIDGE_SERVER_ARGS"},
		{"MCPBRIDGE_SERVER_ENV=nope", "MCPBRIDGE_SERVER_ENV"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			err := ApplyEnv(&cfg, []string{tt.kv})

			var envErr *EnvError
			if !errors.As(err, &envErr) {
				t.Fatalf("ApplyEnv() = %v, want *EnvError", err)
			}
			if envErr.Name != tt.name {
				t.Errorf("Name = %q, want %q", envErr.Name, tt.name)
			}
		})
	}
}

func TestApplyEnv_IntegerUnwrap(t *testing.T) {
	cfg := Default()
	err := ApplyEnv(&cfg, []string{"MCPBRIDGE_LLM_MAX_RETRIES=x"})
	if !errors.Is(err, strconv.ErrSyntax) {
		t.Errorf("ApplyEnv() = %v, want wrapped strconv.ErrSyntax", err)
	}
}
