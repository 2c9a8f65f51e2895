package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/abelbrown/relay/internal/logging"
)

// Config is the persistent application configuration
type Config struct {
	// Core pipeline tuning
	Core CoreConfig `json:"core"`

	// Chat notification sink
	Notify NotifyConfig `json:"notify"`

	// UI Preferences
	UI UIConfig `json:"ui"`
}

// CoreConfig tunes the extraction/correlation pipeline
type CoreConfig struct {
	SampleIntervalMs int `json:"sample_interval_ms"` // correlator tick
	ToolTimeoutMs    int `json:"tool_timeout_ms"`    // orphan a tool call after this
	MaxBufferSize    int `json:"max_buffer_size"`    // queued events before oldest-eviction
}

// NotifyConfig holds chat webhook settings
type NotifyConfig struct {
	Enabled     bool    `json:"enabled"`
	WebhookURL  string  `json:"webhook_url,omitempty"`
	Channel     string  `json:"channel,omitempty"`
	CallsPerSec float64 `json:"calls_per_sec"`         // outbound post rate
	StateDBPath string  `json:"state_db_path,omitempty"` // thread-token store
}

// UIConfig holds terminal rendering preferences
type UIConfig struct {
	Theme string `json:"theme"`
	Width int    `json:"width"` // card width; 0 = auto
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Core: CoreConfig{
			SampleIntervalMs: 500,
			ToolTimeoutMs:    30000,
			MaxBufferSize:    1000,
		},
		Notify: NotifyConfig{
			Enabled:     false,
			CallsPerSec: 1,
		},
		UI: UIConfig{
			Theme: "dark",
			Width: 0,
		},
	}
}

// SampleInterval returns the correlator tick interval
func (c *Config) SampleInterval() time.Duration {
	if c.Core.SampleIntervalMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.Core.SampleIntervalMs) * time.Millisecond
}

// ToolTimeout returns the orphan timeout for pending tool calls
func (c *Config) ToolTimeout() time.Duration {
	if c.Core.ToolTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Core.ToolTimeoutMs) * time.Millisecond
}

// ConfigPath returns the path to the config file
func ConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".relay", "config.json")
}

// StatePath returns the default thread-state database path
func StatePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".relay", "state.db")
}

// Load reads config from disk, or returns defaults
func Load() (*Config, error) {
	path := ConfigPath()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults and try to auto-populate from environment
			cfg := DefaultConfig()
			cfg.AutoPopulateFromEnv()
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		logging.Warn("config file unreadable, falling back to defaults", "path", path, "error", err)
		fallback := DefaultConfig()
		fallback.AutoPopulateFromEnv()
		return fallback, nil
	}

	cfg.AutoPopulateFromEnv()
	return &cfg, nil
}

// Save writes config to disk
func (c *Config) Save() error {
	path := ConfigPath()

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600) // Restrictive permissions for webhook URLs
}

// AutoPopulateFromEnv fills in webhook settings from environment variables
func (c *Config) AutoPopulateFromEnv() {
	if url := os.Getenv("RELAY_WEBHOOK_URL"); url != "" {
		c.Notify.WebhookURL = url
		c.Notify.Enabled = true
	}
	if url := os.Getenv("SLACK_WEBHOOK_URL"); url != "" && c.Notify.WebhookURL == "" {
		c.Notify.WebhookURL = url
		c.Notify.Enabled = true
	}
	if ch := os.Getenv("RELAY_CHANNEL"); ch != "" {
		c.Notify.Channel = ch
	}
}
