package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mtzanidakis/quorum/internal/agent"
)

type Config struct {
	Orchestrator OrchestratorConfig     `yaml:"orchestrator"`
	Resources    ResourcesConfig        `yaml:"resources"`
	Ledger       LedgerConfig           `yaml:"ledger"`
	Router       RouterConfig           `yaml:"router"`
	Agents       map[string]AgentConfig `yaml:"agents"`
	Workflows    []WorkflowConfig       `yaml:"workflows"`
	Model        ModelConfig            `yaml:"model"`
	NATS         NATSConfig             `yaml:"nats"`
	Store        StoreConfig            `yaml:"store"`
	Web          WebConfig              `yaml:"web"`
	Telegram     TelegramConfig         `yaml:"telegram"`
	Scheduler    SchedulerConfig        `yaml:"scheduler"`
	Export       ExportConfig           `yaml:"export"`
	Vault        VaultConfig            `yaml:"vault"`
	Log          LogConfig              `yaml:"log"`
}

type OrchestratorConfig struct {
	MaxConcurrency     int           `yaml:"max_concurrency"`
	StepTimeout        time.Duration `yaml:"step_timeout"`
	MaxRetries         int           `yaml:"max_retries"`
	RetryBackoff       time.Duration `yaml:"retry_backoff"`
	ThrottledMaxCostMs float64       `yaml:"throttled_max_cost_ms"`
}

type ResourcesConfig struct {
	CPUThreshold    float64       `yaml:"cpu_threshold"`
	MemoryThreshold float64       `yaml:"memory_threshold"`
	SampleInterval  time.Duration `yaml:"sample_interval"`
	DiskPath        string        `yaml:"disk_path"`
}

type LedgerConfig struct {
	Window int `yaml:"window"`
}

type RouterConfig struct {
	MultiAgentTriggers []string `yaml:"multi_agent_triggers"`
	CacheSize          int      `yaml:"cache_size"`
}

// AgentConfig overrides the built-in descriptor of one role. Empty fields
// keep the defaults.
type AgentConfig struct {
	Description    string   `yaml:"description"`
	Keywords       []string `yaml:"keywords"`
	CostEstimateMs float64  `yaml:"cost_estimate_ms"`
	Model          string   `yaml:"model"`
}

// WorkflowConfig is a pipeline template: a request containing Trigger runs
// Roles in order, each step fed the previous step's output.
type WorkflowConfig struct {
	Name    string   `yaml:"name"`
	Trigger string   `yaml:"trigger"`
	Roles   []string `yaml:"roles"`
}

type ModelConfig struct {
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	MaxTokens int64         `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
	Breaker   BreakerConfig `yaml:"breaker"`
}

type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Interval    time.Duration `yaml:"interval"`
	Timeout     time.Duration `yaml:"timeout"`
}

// NATSConfig configures the embedded bus. URL is used by clients such as
// "quorum ask" to reach a running server; it defaults to the local port.
type NATSConfig struct {
	Port int    `yaml:"port"`
	URL  string `yaml:"url"`
}

// ClientURL returns the URL clients should dial.
func (c NATSConfig) ClientURL() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("nats://127.0.0.1:%d", c.Port)
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Port              int    `yaml:"port"`
	Auth              string `yaml:"auth"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	Burst             int    `yaml:"burst"`
}

type TelegramConfig struct {
	Token     string  `yaml:"token"`
	AllowFrom []int64 `yaml:"allow_from"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type ExportConfig struct {
	Dir string `yaml:"dir"`
}

type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration holding only the built-in defaults.
func Default() *Config {
	cfg := defaults()
	return &cfg
}

func defaults() Config {
	return Config{
		Orchestrator: OrchestratorConfig{
			MaxConcurrency: 4,
			StepTimeout:    60 * time.Second,
			MaxRetries:     1,
			RetryBackoff:   500 * time.Millisecond,
		},
		Resources: ResourcesConfig{
			CPUThreshold:    85,
			MemoryThreshold: 85,
			SampleInterval:  5 * time.Second,
			DiskPath:        "/",
		},
		Ledger: LedgerConfig{
			Window: 50,
		},
		Router: RouterConfig{
			MultiAgentTriggers: []string{"all agents", "every agent", "everyone", "@all"},
			CacheSize:          256,
		},
		Model: ModelConfig{
			Model:     "claude-sonnet-4-5",
			MaxTokens: 2048,
			Timeout:   45 * time.Second,
			Breaker: BreakerConfig{
				MaxFailures: 5,
				Interval:    time.Minute,
				Timeout:     30 * time.Second,
			},
		},
		NATS: NATSConfig{
			Port: 4222,
		},
		Store: StoreConfig{
			Path: "data/quorum.db",
		},
		Web: WebConfig{
			Enabled:           true,
			Port:              8080,
			RequestsPerMinute: 60,
			Burst:             10,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
		Export: ExportConfig{
			Dir: "data/exports",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("QUORUM_CONFIG")
	if path == "" {
		path = "config/quorum.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		// Expand environment variables in YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("QUORUM_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv("QUORUM_MODEL"); v != "" {
		cfg.Model.Model = v
	}
	if v := os.Getenv("QUORUM_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("QUORUM_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("QUORUM_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("QUORUM_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("QUORUM_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("QUORUM_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
	if v := os.Getenv("QUORUM_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Orchestrator.MaxConcurrency = n
		}
	}
	if v := os.Getenv("QUORUM_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate rejects values the orchestrator cannot run with.
func (c *Config) Validate() error {
	var errs []error

	o := c.Orchestrator
	if o.MaxConcurrency < 1 {
		errs = append(errs, fmt.Errorf("orchestrator.max_concurrency must be >= 1, got %d", o.MaxConcurrency))
	}
	if o.StepTimeout <= 0 {
		errs = append(errs, errors.New("orchestrator.step_timeout must be positive"))
	}
	if o.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("orchestrator.max_retries must be >= 0, got %d", o.MaxRetries))
	}
	if o.RetryBackoff < 0 {
		errs = append(errs, errors.New("orchestrator.retry_backoff must not be negative"))
	}

	if !validPercent(c.Resources.CPUThreshold) {
		errs = append(errs, fmt.Errorf("resources.cpu_threshold must be in (0,100], got %v", c.Resources.CPUThreshold))
	}
	if !validPercent(c.Resources.MemoryThreshold) {
		errs = append(errs, fmt.Errorf("resources.memory_threshold must be in (0,100], got %v", c.Resources.MemoryThreshold))
	}
	if c.Ledger.Window < 1 {
		errs = append(errs, fmt.Errorf("ledger.window must be >= 1, got %d", c.Ledger.Window))
	}

	for name := range c.Agents {
		if _, err := agent.ParseRole(name); err != nil {
			errs = append(errs, fmt.Errorf("agents: %w", err))
		}
	}

	for i, wf := range c.Workflows {
		if strings.TrimSpace(wf.Trigger) == "" {
			errs = append(errs, fmt.Errorf("workflows[%d]: trigger is required", i))
		}
		if len(wf.Roles) == 0 {
			errs = append(errs, fmt.Errorf("workflows[%d]: at least one role is required", i))
		}
		for _, r := range wf.Roles {
			if _, err := agent.ParseRole(r); err != nil {
				errs = append(errs, fmt.Errorf("workflows[%d]: %w", i, err))
			}
		}
	}

	return errors.Join(errs...)
}

// AgentOverride returns the configured override for role, if any. Keys may
// be role ids or aliases.
func (c *Config) AgentOverride(role agent.Role) (AgentConfig, bool) {
	for name, ac := range c.Agents {
		if r, err := agent.ParseRole(name); err == nil && r == role {
			return ac, true
		}
	}
	return AgentConfig{}, false
}

func validPercent(v float64) bool {
	return v > 0 && v <= 100
}
