package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mtzanidakis/quorum/internal/agent"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.Orchestrator.MaxConcurrency != 4 {
		t.Errorf("expected max_concurrency 4, got %d", cfg.Orchestrator.MaxConcurrency)
	}
	if cfg.Orchestrator.StepTimeout != 60*time.Second {
		t.Errorf("expected step_timeout 60s, got %v", cfg.Orchestrator.StepTimeout)
	}
	if cfg.Orchestrator.MaxRetries != 1 {
		t.Errorf("expected max_retries 1, got %d", cfg.Orchestrator.MaxRetries)
	}
	if cfg.Ledger.Window != 50 {
		t.Errorf("expected ledger window 50, got %d", cfg.Ledger.Window)
	}
	if cfg.NATS.Port != 4222 {
		t.Errorf("expected nats port 4222, got %d", cfg.NATS.Port)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("expected web port 8080, got %d", cfg.Web.Port)
	}
	if !cfg.Web.Enabled {
		t.Error("expected web enabled by default")
	}
	if cfg.Store.Path != "data/quorum.db" {
		t.Errorf("expected store path data/quorum.db, got %s", cfg.Store.Path)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	// Point config to a non-existent file so we use defaults
	t.Setenv("QUORUM_CONFIG", "/nonexistent/config.yaml")
	t.Setenv("QUORUM_TELEGRAM_TOKEN", "test-token-123")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-key")
	t.Setenv("QUORUM_WEB_PASSWORD", "secret")
	t.Setenv("QUORUM_WEB_PORT", "9090")
	t.Setenv("QUORUM_MAX_CONCURRENCY", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Telegram.Token != "test-token-123" {
		t.Errorf("expected telegram token test-token-123, got %s", cfg.Telegram.Token)
	}
	if cfg.Model.APIKey != "sk-test-key" {
		t.Errorf("expected anthropic key sk-test-key, got %s", cfg.Model.APIKey)
	}
	if cfg.Web.Auth != "secret" {
		t.Errorf("expected web auth secret, got %s", cfg.Web.Auth)
	}
	if cfg.Web.Port != 9090 {
		t.Errorf("expected web port 9090, got %d", cfg.Web.Port)
	}
	if cfg.Orchestrator.MaxConcurrency != 2 {
		t.Errorf("expected max_concurrency 2, got %d", cfg.Orchestrator.MaxConcurrency)
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
orchestrator:
  max_concurrency: 8
  step_timeout: 30s
  throttled_max_cost_ms: 5000
resources:
  cpu_threshold: 70
router:
  multi_agent_triggers: ["whole team"]
agents:
  research:
    keywords: ["dig into", "investigate"]
    cost_estimate_ms: 9000
workflows:
  - name: brief
    trigger: "write a brief"
    roles: [research, knowledge, creative]
web:
  port: 3000
  enabled: false
vault:
  passphrase: "${QUORUM_TEST_PASS}"
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("QUORUM_CONFIG", cfgPath)
	t.Setenv("QUORUM_TEST_PASS", "expanded")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Orchestrator.MaxConcurrency != 8 {
		t.Errorf("expected max_concurrency 8, got %d", cfg.Orchestrator.MaxConcurrency)
	}
	if cfg.Orchestrator.StepTimeout != 30*time.Second {
		t.Errorf("expected step_timeout 30s, got %v", cfg.Orchestrator.StepTimeout)
	}
	// Unset keys keep their defaults
	if cfg.Orchestrator.MaxRetries != 1 {
		t.Errorf("expected default max_retries 1, got %d", cfg.Orchestrator.MaxRetries)
	}
	if cfg.Resources.CPUThreshold != 70 {
		t.Errorf("expected cpu threshold 70, got %v", cfg.Resources.CPUThreshold)
	}
	if len(cfg.Router.MultiAgentTriggers) != 1 || cfg.Router.MultiAgentTriggers[0] != "whole team" {
		t.Errorf("unexpected triggers %v", cfg.Router.MultiAgentTriggers)
	}
	if cfg.Web.Port != 3000 || cfg.Web.Enabled {
		t.Errorf("unexpected web config %+v", cfg.Web)
	}
	if cfg.Vault.Passphrase != "expanded" {
		t.Errorf("expected env expansion, got %q", cfg.Vault.Passphrase)
	}

	ov, ok := cfg.AgentOverride(agent.Research)
	if !ok {
		t.Fatal("expected research override")
	}
	if ov.CostEstimateMs != 9000 || len(ov.Keywords) != 2 {
		t.Errorf("unexpected override %+v", ov)
	}
	if _, ok := cfg.AgentOverride(agent.Knowledge); ok {
		t.Error("knowledge has no override")
	}

	if len(cfg.Workflows) != 1 || len(cfg.Workflows[0].Roles) != 3 {
		t.Errorf("unexpected workflows %+v", cfg.Workflows)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := defaults()
	cfg.Orchestrator.MaxConcurrency = 0
	cfg.Resources.CPUThreshold = 150
	cfg.Agents = map[string]AgentConfig{"wizard": {}}
	cfg.Workflows = []WorkflowConfig{{Trigger: "go", Roles: []string{"research", "ghost"}}}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"max_concurrency", "cpu_threshold", `"wizard"`, `"ghost"`} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %s, got: %v", want, err)
		}
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("orchestrator: [unclosed"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("QUORUM_CONFIG", cfgPath)

	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestExampleConfigLoads(t *testing.T) {
	t.Setenv("QUORUM_CONFIG", filepath.Join("..", "..", "config", "quorum.example.yaml"))
	t.Setenv("ANTHROPIC_API_KEY", "sk-example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("example config should load: %v", err)
	}
	if cfg.Model.APIKey != "sk-example" {
		t.Errorf("expected expanded api key, got %q", cfg.Model.APIKey)
	}
	ov, ok := cfg.AgentOverride(agent.CodeArchitecture)
	if !ok || ov.Model == "" {
		t.Errorf("expected code override with model, got %+v", ov)
	}
	if len(cfg.Workflows) != 1 || cfg.Workflows[0].Name != "brief" {
		t.Errorf("unexpected workflows %+v", cfg.Workflows)
	}
	if cfg.Orchestrator.ThrottledMaxCostMs != 0 {
		t.Errorf("example should keep every role admitted under load, got %v", cfg.Orchestrator.ThrottledMaxCostMs)
	}
}
