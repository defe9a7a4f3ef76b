package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every mcpbridge environment variable.
const EnvPrefix = "MCPBRIDGE_"

type envSetter func(cfg *Config, value string) error

// envMapping maps prefixed variable names (without EnvPrefix) to setters.
func envMapping() map[string]envSetter {
	return map[string]envSetter{
		"LOG_LEVEL":        setString(func(c *Config) *string { return &c.Log.Level }),
		"LOG_FORMAT":       setString(func(c *Config) *string { return &c.Log.Format }),
		"LOG_STDERR_LEVEL": setString(func(c *Config) *string { return &c.Log.StderrLevel }),

		"SERVER_NAME":              setString(func(c *Config) *string { return &c.Server.Name }),
		"SERVER_COMMAND":           setString(func(c *Config) *string { return &c.Server.Command }),
		"SERVER_ARGS":              setList(func(c *Config) *[]string { return &c.Server.Args }),
		"SERVER_DIR":               setString(func(c *Config) *string { return &c.Server.Dir }),
		"SERVER_CALL_TIMEOUT":      setDuration(func(c *Config) *Duration { return &c.Server.CallTimeout }),
		"SERVER_HANDSHAKE_TIMEOUT": setDuration(func(c *Config) *Duration { return &c.Server.HandshakeTimeout }),
		"SERVER_TOOL_TIMEOUT":      setDuration(func(c *Config) *Duration { return &c.Server.ToolTimeout }),
		"SERVER_SHUTDOWN_GRACE":    setDuration(func(c *Config) *Duration { return &c.Server.ShutdownGrace }),

		"SUPERVISOR_MAX_RESTARTS":       setInt(func(c *Config) *int { return &c.Supervisor.MaxRestarts }),
		"SUPERVISOR_INITIAL_BACKOFF":    setDuration(func(c *Config) *Duration { return &c.Supervisor.InitialBackoff }),
		"SUPERVISOR_MAX_BACKOFF":        setDuration(func(c *Config) *Duration { return &c.Supervisor.MaxBackoff }),
		"SUPERVISOR_BACKOFF_MULTIPLIER": setFloat(func(c *Config) *float64 { return &c.Supervisor.BackoffMultiplier }),
		"SUPERVISOR_RESET_WINDOW":       setDuration(func(c *Config) *Duration { return &c.Supervisor.ResetWindow }),

		"ALFRESCO_URL":      setString(func(c *Config) *string { return &c.Alfresco.URL }),
		"ALFRESCO_USER":     setString(func(c *Config) *string { return &c.Alfresco.User }),
		"ALFRESCO_PASSWORD": setString(func(c *Config) *string { return &c.Alfresco.Password }),
		"ALFRESCO_TIMEOUT":  setDuration(func(c *Config) *Duration { return &c.Alfresco.Timeout }),

		"LLM_PROVIDER":    setString(func(c *Config) *string { return &c.LLM.Provider }),
		"LLM_MODEL":       setString(func(c *Config) *string { return &c.LLM.Model }),
		"LLM_API_KEY":     setString(func(c *Config) *string { return &c.LLM.APIKey }),
		"LLM_BASE_URL":    setString(func(c *Config) *string { return &c.LLM.BaseURL }),
		"LLM_MAX_TOKENS":  setInt(func(c *Config) *int { return &c.LLM.MaxTokens }),
		"LLM_TEMPERATURE": setFloat(func(c *Config) *float64 { return &c.LLM.Temperature }),
		"LLM_MAX_RETRIES": setInt(func(c *Config) *int { return &c.LLM.MaxRetries }),
		"LLM_TIMEOUT":     setDuration(func(c *Config) *Duration { return &c.LLM.Timeout }),

		"GATEWAY_ADDR":       setString(func(c *Config) *string { return &c.Gateway.Addr }),
		"GATEWAY_MODEL_NAME": setString(func(c *Config) *string { return &c.Gateway.ModelName }),
		"GATEWAY_METRICS":    setBool(func(c *Config) *bool { return &c.Gateway.Metrics }),
	}
}

// wellKnown lists unprefixed variables and the prefixed name they stand for.
var wellKnown = map[string]string{
	"ALFRESCO_URL":      "ALFRESCO_URL",
	"ALFRESCO_USER":     "ALFRESCO_USER",
	"ALFRESCO_PASSWORD": "ALFRESCO_PASSWORD",
}

// providerKeys maps a provider to the unprefixed variables holding its API
// key, in order of preference.
var providerKeys = map[string][]string{
	ProviderOpenAI:    {"OPENAI_API_KEY"},
	ProviderGroq:      {"GROQ_API_KEY"},
	ProviderAnthropic: {"ANTHROPIC_API_KEY"},
	ProviderGemini:    {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
}

// ApplyEnv overlays environment variables from environ ("KEY=value" pairs,
// as returned by os.Environ) onto cfg. Empty values are treated as set.
func ApplyEnv(cfg *Config, environ []string) error {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if ok {
			env[name] = value
		}
	}

	mapping := envMapping()

	// Unprefixed names first so prefixed ones overwrite them.
	for _, name := range sortedKeys(wellKnown) {
		if value, ok := env[name]; ok {
			if err := mapping[wellKnown[name]](cfg, value); err != nil {
				return &EnvError{Name: name, Value: value, Err: err}
			}
		}
	}

	for _, key := range sortedKeys(mapping) {
		name := EnvPrefix + key
		if value, ok := env[name]; ok {
			if err := mapping[key](cfg, value); err != nil {
				return &EnvError{Name: name, Value: value, Err: err}
			}
		}
	}

	if value, ok := env[EnvPrefix+"SERVER_ENV"]; ok {
		extra := make(map[string]string)
		if err := json.Unmarshal([]byte(value), &extra); err != nil {
			return &EnvError{Name: EnvPrefix + "SERVER_ENV", Value: value, Err: err}
		}
		if cfg.Server.Env == nil {
			cfg.Server.Env = make(map[string]string, len(extra))
		}
		for k, v := range extra {
			cfg.Server.Env[k] = v
		}
	}

	// The provider may itself come from the environment, so the key lookup
	// runs last.
	if cfg.LLM.APIKey == "" {
		for _, name := range providerKeys[cfg.LLM.Provider] {
			if value := env[name]; value != "" {
				cfg.LLM.APIKey = value
				break
			}
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func setString(field func(*Config) *string) envSetter {
	return func(cfg *Config, value string) error {
		*field(cfg) = value
		return nil
	}
}

// setList accepts a JSON array or a whitespace separated list.
func setList(field func(*Config) *[]string) envSetter {
	return func(cfg *Config, value string) error {
		trimmed := strings.TrimSpace(value)
		if strings.HasPrefix(trimmed, "[") {
			var list []string
			if err := json.Unmarshal([]byte(trimmed), &list); err != nil {
				return fmt.Errorf("invalid list: %w", err)
			}
			*field(cfg) = list
			return nil
		}
		*field(cfg) = strings.Fields(trimmed)
		return nil
	}
}

func setInt(field func(*Config) *int) envSetter {
	return func(cfg *Config, value string) error {
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		*field(cfg) = n
		return nil
	}
}

func setFloat(field func(*Config) *float64) envSetter {
	return func(cfg *Config, value string) error {
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return fmt.Errorf("invalid number: %w", err)
		}
		*field(cfg) = f
		return nil
	}
}

func setDuration(field func(*Config) *Duration) envSetter {
	return func(cfg *Config, value string) error {
		d, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		*field(cfg) = Duration(d)
		return nil
	}
}

// setBool accepts true/yes/on/1 and false/no/off/0.
func setBool(field func(*Config) *bool) envSetter {
	return func(cfg *Config, value string) error {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "yes", "on", "1":
			*field(cfg) = true
		case "false", "no", "off", "0":
			*field(cfg) = false
		default:
			return errors.New("invalid boolean")
		}
		return nil
	}
}
