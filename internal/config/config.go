package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/floegence/wakeloop/internal/llm"
)

// Config is the on-disk configuration for wakeloop.
//
// Secrets (the provider api key) are never stored here. They come from the environment or from
// the separate secrets file managed by `wakeloop secrets`.
type Config struct {
	// StateDir holds memory/, logs/, the usage ledger and the lock file. Defaults to ~/.wakeloop.
	StateDir string `yaml:"state_dir,omitempty"`
	// RepoDir holds BIBLE.md and is the default review root. Defaults to the working directory.
	RepoDir string `yaml:"repo_dir,omitempty"`

	LLM       LLMConfig       `yaml:"llm,omitempty"`
	Budget    BudgetConfig    `yaml:"budget,omitempty"`
	Scheduler SchedulerConfig `yaml:"scheduler,omitempty"`
	Owner     OwnerConfig     `yaml:"owner,omitempty"`

	// LogFormat is "json" or "text". Empty means auto-detect.
	LogFormat string `yaml:"log_format,omitempty"`
	// LogLevel is "debug|info|warn|error".
	LogLevel string `yaml:"log_level,omitempty"`

	// APIKey is only ever populated from the environment.
	APIKey string `yaml:"-"`
}

type LLMConfig struct {
	BaseURL string `yaml:"base_url,omitempty"`
	// Model is the primary model.
	Model string `yaml:"model,omitempty"`
	// CodeModel is the optional secondary model for code-heavy profiles.
	CodeModel string `yaml:"code_model,omitempty"`
	// LightModel is used for background cycles.
	LightModel     string        `yaml:"light_model,omitempty"`
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`
}

type BudgetConfig struct {
	// Total <= 0 disables the background budget gate.
	Total float64 `yaml:"total,omitempty"`
	// BackgroundPct is the share of Total allotted to background thinking. Defaults to 10.
	BackgroundPct float64 `yaml:"background_pct,omitempty"`
}

type SchedulerConfig struct {
	InitialInterval     time.Duration `yaml:"initial_interval,omitempty"`
	ObservationCapacity int           `yaml:"observation_capacity,omitempty"`
}

type OwnerConfig struct {
	// ChatID 0 means no destination: owner messages are dropped.
	ChatID int64 `yaml:"chat_id,omitempty"`
}

const (
	LogFormatJSON = "json"
	LogFormatText = "text"

	defaultBackgroundPct       = 10.0
	defaultInitialInterval     = 300 * time.Second
	defaultObservationCapacity = 64
	defaultRequestTimeout      = 5 * time.Minute
	defaultLogLevel            = "info"
)

// Environment variables read once by ApplyEnv.
const (
	EnvTotalBudget   = "TOTAL_BUDGET"
	EnvBgBudgetPct   = "OUROBOROS_BG_BUDGET_PCT"
	EnvModel         = "OUROBOROS_MODEL"
	EnvModelCode     = "OUROBOROS_MODEL_CODE"
	EnvModelLight    = "OUROBOROS_MODEL_LIGHT"
	EnvAPIKey        = "OPENROUTER_API_KEY"
	EnvOwnerChatID   = "OWNER_CHAT_ID"
	EnvStateDir      = "WAKELOOP_STATE_DIR"
	defaultConfigDir = ".wakeloop"
)

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if c.Budget.Total < 0 {
		return errors.New("budget.total must be >= 0")
	}
	if c.Budget.BackgroundPct < 0 || c.Budget.BackgroundPct > 100 {
		return errors.New("budget.background_pct must be within [0, 100]")
	}
	if c.Scheduler.InitialInterval < 0 {
		return errors.New("scheduler.initial_interval must be >= 0")
	}
	if c.Scheduler.ObservationCapacity < 0 {
		return errors.New("scheduler.observation_capacity must be >= 0")
	}
	if c.LLM.RequestTimeout < 0 {
		return errors.New("llm.request_timeout must be >= 0")
	}
	if raw := strings.TrimSpace(c.LLM.BaseURL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("invalid llm.base_url: %q", raw)
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "", LogFormatJSON, LogFormatText:
	default:
		return fmt.Errorf("invalid log_format: %q", c.LogFormat)
	}
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level: %q", c.LogLevel)
	}
	return nil
}

// DefaultConfigPath returns the default config path:
//
//	~/.wakeloop/config.yaml
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return "wakeloop.config.yaml"
	}
	return filepath.Join(home, defaultConfigDir, "config.yaml")
}

// Load reads the YAML file at path, applies environment overrides and validates the result.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Save writes cfg as YAML atomically.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ApplyEnv overlays environment settings. Unset or blank variables leave the file value alone.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if c == nil {
		return errors.New("nil config")
	}
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvStateDir); ok {
		c.StateDir = v
	}
	if v, ok := get(EnvTotalBudget); ok {
		f, err := parseFloat(EnvTotalBudget, v)
		if err != nil {
			return err
		}
		c.Budget.Total = f
	}
	if v, ok := get(EnvBgBudgetPct); ok {
		f, err := parseFloat(EnvBgBudgetPct, v)
		if err != nil {
			return err
		}
		c.Budget.BackgroundPct = f
	}
	if v, ok := get(EnvModel); ok {
		c.LLM.Model = v
	}
	if v, ok := get(EnvModelCode); ok {
		c.LLM.CodeModel = v
	}
	if v, ok := get(EnvModelLight); ok {
		c.LLM.LightModel = v
	}
	if v, ok := get(EnvOwnerChatID); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %q", EnvOwnerChatID, v)
		}
		c.Owner.ChatID = id
	}
	if v, ok := get(EnvAPIKey); ok {
		c.APIKey = v
	}
	return nil
}

func parseFloat(key string, v string) (float64, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return f, nil
}

func (c *Config) EffectiveStateDir() string {
	if c != nil {
		if v := strings.TrimSpace(c.StateDir); v != "" {
			return expandHome(v)
		}
	}
	return filepath.Dir(DefaultConfigPath())
}

func (c *Config) EffectiveRepoDir() string {
	if c != nil {
		if v := strings.TrimSpace(c.RepoDir); v != "" {
			return expandHome(v)
		}
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

func (c *Config) MemoryDir() string   { return filepath.Join(c.EffectiveStateDir(), "memory") }
func (c *Config) LogsDir() string     { return filepath.Join(c.EffectiveStateDir(), "logs") }
func (c *Config) LedgerPath() string  { return filepath.Join(c.EffectiveStateDir(), "usage.sqlite") }
func (c *Config) LockPath() string    { return filepath.Join(c.EffectiveStateDir(), "wakeloop.lock") }
func (c *Config) SecretsPath() string { return filepath.Join(c.EffectiveStateDir(), "secrets.json") }

func (c *Config) EffectiveBaseURL() string {
	if c != nil {
		if v := strings.TrimSpace(c.LLM.BaseURL); v != "" {
			return v
		}
	}
	return llm.DefaultBaseURL
}

// EffectiveProfiles returns the primary/code model pair used for task profiles.
func (c *Config) EffectiveProfiles() llm.Profiles {
	if c == nil {
		return llm.Profiles{}
	}
	return llm.Profiles{Model: strings.TrimSpace(c.LLM.Model), CodeModel: strings.TrimSpace(c.LLM.CodeModel)}
}

// EffectiveLightModel is the background model: light model, else primary model, else the default.
func (c *Config) EffectiveLightModel() string {
	if c != nil {
		if v := strings.TrimSpace(c.LLM.LightModel); v != "" {
			return v
		}
		if v := strings.TrimSpace(c.LLM.Model); v != "" {
			return v
		}
	}
	return llm.DefaultModel
}

func (c *Config) EffectiveRequestTimeout() time.Duration {
	if c == nil || c.LLM.RequestTimeout <= 0 {
		return defaultRequestTimeout
	}
	return c.LLM.RequestTimeout
}

func (c *Config) EffectiveBackgroundPct() float64 {
	if c == nil || c.Budget.BackgroundPct <= 0 {
		return defaultBackgroundPct
	}
	return c.Budget.BackgroundPct
}

// BackgroundLimit is the spend allotted to background thinking, or 0 when no budget is set.
func (c *Config) BackgroundLimit() float64 {
	if c == nil || c.Budget.Total <= 0 {
		return 0
	}
	return c.Budget.Total * c.EffectiveBackgroundPct() / 100
}

func (c *Config) EffectiveInitialInterval() time.Duration {
	if c == nil || c.Scheduler.InitialInterval <= 0 {
		return defaultInitialInterval
	}
	return c.Scheduler.InitialInterval
}

func (c *Config) EffectiveObservationCapacity() int {
	if c == nil || c.Scheduler.ObservationCapacity <= 0 {
		return defaultObservationCapacity
	}
	return c.Scheduler.ObservationCapacity
}

// OwnerChatID returns the configured owner destination.
func (c *Config) OwnerChatID() (int64, bool) {
	if c == nil || c.Owner.ChatID == 0 {
		return 0, false
	}
	return c.Owner.ChatID, true
}

// EffectiveLogFormat returns "json" or "text". An unset format resolves to text on an
// interactive terminal and json otherwise.
func (c *Config) EffectiveLogFormat(interactive bool) string {
	if c != nil {
		switch v := strings.ToLower(strings.TrimSpace(c.LogFormat)); v {
		case LogFormatJSON, LogFormatText:
			return v
		}
	}
	if interactive {
		return LogFormatText
	}
	return LogFormatJSON
}

func (c *Config) EffectiveLogLevel() string {
	if c != nil {
		if v := strings.ToLower(strings.TrimSpace(c.LogLevel)); v != "" {
			return v
		}
	}
	return defaultLogLevel
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
