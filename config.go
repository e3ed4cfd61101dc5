package nexus

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "18s" or "350ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts to the standard library type.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds everything the assistant needs at construction time.
// Zero values are usable; Normalize fills in defaults.
type Config struct {
	// DataDir is the root for runtime state files (memory mirror, outbox,
	// continuity, audit log). Defaults to ".nexus".
	DataDir string `yaml:"data_dir"`

	// ProtocolsDir holds declarative protocol files (YAML or JSON).
	// Empty means builtins only.
	ProtocolsDir string `yaml:"protocols_dir"`

	// PersonaPath points at the persona charter file.
	PersonaPath string `yaml:"persona_path"`

	// Sandbox makes side-effect tools return dry-run envelopes.
	Sandbox bool `yaml:"sandbox"`

	Reasoner ReasonerConfig `yaml:"reasoner"`
	Redis    RedisConfig    `yaml:"redis"`
	Memory   MemoryConfig   `yaml:"memory"`
	Security SecurityConfig `yaml:"security"`
	Remote   RemoteConfig   `yaml:"remote"`
	Owner    OwnerConfig    `yaml:"owner"`
}

// ReasonerConfig tunes model routing and timeouts. The actual model
// client is injected with WithReasoner; these values only steer it.
type ReasonerConfig struct {
	MainModel   string   `yaml:"main_model"`
	FastModel   string   `yaml:"fast_model"`
	MainTimeout Duration `yaml:"main_timeout"`
	FillTimeout Duration `yaml:"fill_timeout"`
	FastTimeout Duration `yaml:"fast_timeout"`
	LowLatency  bool     `yaml:"low_latency"`
	Offline     bool     `yaml:"offline"`
	Disabled    bool     `yaml:"disabled"`
}

// RedisConfig locates the conversation buffer backend. An empty address
// disables Redis and the orchestrator keeps history in process.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MemoryConfig tunes the long-term memory manager.
type MemoryConfig struct {
	UserID     string   `yaml:"user_id"`
	MaxItems   int      `yaml:"max_items"`
	ReadBudget Duration `yaml:"read_budget"`
	Redact     *bool    `yaml:"redact"`
}

// SecurityConfig feeds the source access policy.
type SecurityConfig struct {
	Enforce                   *bool    `yaml:"enforce"`
	AllowedTelegramUserIDs    []string `yaml:"allowed_telegram_user_ids"`
	AllowedTelegramUsernames  []string `yaml:"allowed_telegram_usernames"`
	AllowedSourceIPs          []string `yaml:"allowed_source_ips"`
	RequireTailscaleForRemote *bool    `yaml:"require_tailscale_for_remote"`
	TailscaleCIDRs            []string `yaml:"tailscale_cidrs"`
}

// RemoteConfig configures the remote tool gateway. APIKey empty disables
// the gateway; mcp_execute then returns a disabled result.
type RemoteConfig struct {
	APIKey         string `yaml:"api_key"`
	MCPURL         string `yaml:"mcp_url"`
	RouterMode     bool   `yaml:"router_mode"`
	SessionURL     string `yaml:"session_url"`
	EntityID       string `yaml:"entity_id"`
	ExternalUserID string `yaml:"external_user_id"`

	Allowlist      []string `yaml:"allowlist"`
	NoauthToolkits []string `yaml:"noauth_toolkits"`

	TelegramAuthConfigID string `yaml:"telegram_auth_config_id"`
	GmailAuthConfigID    string `yaml:"gmail_auth_config_id"`
	GiphyAuthConfigID    string `yaml:"giphy_auth_config_id"`

	OutboundQueue    *bool    `yaml:"outbound_queue"`
	OutboundRetryMax int      `yaml:"outbound_retry_max"`
	RetryDelay       Duration `yaml:"retry_delay"`
}

// OwnerConfig identifies the default messaging owner.
type OwnerConfig struct {
	ChatID   string `yaml:"chat_id"`
	Username string `yaml:"username"`
}

// LoadConfig reads a YAML config file. A missing file is not an error;
// it returns normalized defaults so the assistant can start bare.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.Normalize()
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", filepath.Base(path), err)
	}
	cfg.Normalize()
	return cfg, nil
}

// Normalize fills defaults in place. Safe to call more than once.
func (c *Config) Normalize() {
	if c.DataDir == "" {
		c.DataDir = ".nexus"
	}
	if c.Reasoner.MainModel == "" {
		c.Reasoner.MainModel = "main"
	}
	if c.Reasoner.FastModel == "" {
		c.Reasoner.FastModel = "fast"
	}
	if c.Memory.UserID == "" {
		c.Memory.UserID = "owner"
	}
	if c.Memory.Redact == nil {
		c.Memory.Redact = boolPtr(true)
	}
	if c.Security.Enforce == nil {
		c.Security.Enforce = boolPtr(true)
	}
	if c.Security.RequireTailscaleForRemote == nil {
		c.Security.RequireTailscaleForRemote = boolPtr(true)
	}
	if len(c.Security.AllowedSourceIPs) == 0 {
		c.Security.AllowedSourceIPs = []string{"127.0.0.1", "::1"}
	}
	if len(c.Security.TailscaleCIDRs) == 0 {
		c.Security.TailscaleCIDRs = []string{"100.64.0.0/10"}
	}
	if c.Remote.OutboundQueue == nil {
		c.Remote.OutboundQueue = boolPtr(true)
	}
	if c.Remote.OutboundRetryMax == 0 {
		c.Remote.OutboundRetryMax = 2
	}
}

func boolPtr(b bool) *bool { return &b }
