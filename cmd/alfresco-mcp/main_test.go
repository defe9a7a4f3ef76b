package main

import (
	"testing"
	"time"
)

func TestResolveConfig(t *testing.T) {
	t.Setenv("ALFRESCO_URL", "http://env.example:8080")
	t.Setenv("ALFRESCO_USER", "env-user")
	t.Setenv("MCPBRIDGE_ALFRESCO_PASSWORD", "env-pass")

	cmd := newRootCommand()
	if err := cmd.ParseFlags([]string{"--user", "flag-user", "--timeout", "5s", "--log-level", "debug"}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	opts := options{user: "flag-user", timeout: 5 * time.Second, logLevel: "debug"}

	cfg, err := resolveConfig(cmd, opts)
	if err != nil {
		t.Fatalf("resolveConfig: %v", err)
	}
	if cfg.Alfresco.URL != "http://env.example:8080" {
		t.Errorf("URL = %q, want env value", cfg.Alfresco.URL)
	}
	if cfg.Alfresco.User != "flag-user" {
		t.Errorf("User = %q, want flag value", cfg.Alfresco.User)
	}
	if cfg.Alfresco.Password != "env-pass" {
		t.Errorf("Password = %q, want env value", cfg.Alfresco.Password)
	}
	if cfg.Alfresco.Timeout.Std() != 5*time.Second || cfg.Log.Level != "debug" {
		t.Errorf("timeout = %v level = %q", cfg.Alfresco.Timeout, cfg.Log.Level)
	}
}

func TestResolveConfigRejectsInvalidFlags(t *testing.T) {
	cmd := newRootCommand()
	if err := cmd.ParseFlags([]string{"--log-format", "xml"}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if _, err := resolveConfig(cmd, options{logFormat: "xml"}); err == nil {
		t.Error("resolveConfig accepted log format xml")
	}
}
