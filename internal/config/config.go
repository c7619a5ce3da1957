// Package config loads skyherd's process configuration (skyherd.yaml) and the
// per-agent YAML files found in the config directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds process-wide settings shared by every agent.
type Config struct {
	// Directories
	ConfigDir  string `yaml:"config_dir"`  // agent YAML files
	DataDir    string `yaml:"data_dir"`    // persisted agent state
	LogsDir    string `yaml:"logs_dir"`    // per-agent daily log files
	ControlDir string `yaml:"control_dir"` // pause/resume control files

	Storage   StorageConfig   `yaml:"storage"`
	LLM       LLMConfig       `yaml:"llm"`
	Network   NetworkConfig   `yaml:"network"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StorageConfig selects the state backend.
type StorageConfig struct {
	Backend      string `yaml:"backend"`       // json, sqlite
	SQLitePath   string `yaml:"sqlite_path"`   // defaults to <data_dir>/skyherd.db
	SQLiteDriver string `yaml:"sqlite_driver"` // sqlite (pure Go) or sqlite3 (cgo)
}

// LLMConfig configures the content-generation backend.
type LLMConfig struct {
	Provider string `yaml:"provider"` // openai, gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// NetworkConfig configures the Bluesky XRPC client.
type NetworkConfig struct {
	ServiceURL        string  `yaml:"service_url"`
	Timeout           string  `yaml:"timeout"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ConfigDir:  "config",
		DataDir:    "data",
		LogsDir:    "logs",
		ControlDir: "control",

		Storage: StorageConfig{
			Backend:      "json",
			SQLiteDriver: "sqlite",
		},

		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
			BaseURL:  "https://api.openai.com/v1",
			Timeout:  "60s",
		},

		Network: NetworkConfig{
			ServiceURL:        "https://bsky.social",
			Timeout:           "30s",
			RequestsPerSecond: 2,
			Burst:             4,
		},

		Scheduler: DefaultSchedulerConfig(),

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// LLM key, later entries win
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.LLM.Provider == "" {
			c.LLM.Provider = "openai"
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
		if c.LLM.Model == "" || c.LLM.Model == DefaultConfig().LLM.Model {
			c.LLM.Model = "gemini-2.5-flash"
		}
	}

	if dir := os.Getenv("SKYHERD_DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
	if dir := os.Getenv("SKYHERD_CONFIG_DIR"); dir != "" {
		c.ConfigDir = dir
	}
	if url := os.Getenv("BLUESKY_SERVICE_URL"); url != "" {
		c.Network.ServiceURL = url
	}
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 60*time.Second)
}

// GetNetworkTimeout returns the per-request network timeout.
func (c *Config) GetNetworkTimeout() time.Duration {
	return parseDuration(c.Network.Timeout, 30*time.Second)
}

// SQLitePath returns the database path, defaulting into the data directory.
func (c *Config) SQLitePath() string {
	if c.Storage.SQLitePath != "" {
		return c.Storage.SQLitePath
	}
	return filepath.Join(c.DataDir, "skyherd.db")
}

// ValidProviders lists the supported content-generation providers.
var ValidProviders = []string{"openai", "gemini"}

// ValidBackends lists the supported state backends.
var ValidBackends = []string{"json", "sqlite"}

// Validate validates the settings every command relies on. The LLM key is
// checked separately by ValidateLLM since only running agents generate content.
func (c *Config) Validate() error {
	if !contains(ValidProviders, c.LLM.Provider) {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}
	if !contains(ValidBackends, c.Storage.Backend) {
		return fmt.Errorf("invalid storage backend: %s (valid: %v)", c.Storage.Backend, ValidBackends)
	}
	if c.Storage.Backend == "sqlite" && c.Storage.SQLiteDriver != "sqlite" && c.Storage.SQLiteDriver != "sqlite3" {
		return fmt.Errorf("invalid sqlite driver: %s (valid: sqlite, sqlite3)", c.Storage.SQLiteDriver)
	}
	if c.Network.ServiceURL == "" {
		return fmt.Errorf("network.service_url must be set")
	}
	return c.Scheduler.Validate()
}

// ValidateLLM checks that content generation is configured.
func (c *Config) ValidateLLM() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set OPENAI_API_KEY or GEMINI_API_KEY)")
	}
	return nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
