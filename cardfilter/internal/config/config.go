// Package config handles catblock configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Browser BrowserConfig `yaml:"browser"`
	Page    PageConfig    `yaml:"page"`
	Store   StoreConfig   `yaml:"store"`
	Engine  EngineConfig  `yaml:"engine"`
	Sinks   []SinkConfig  `yaml:"sinks"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string   `yaml:"remote"`  // ws:// URL of an existing browser
	Bin              string   `yaml:"bin"`     // Chrome binary, launcher default when empty
	Stealth          string   `yaml:"stealth"` // headless | headful
	ResourceBlocking []string `yaml:"resource_blocking"`
	XvfbDisplay      string   `yaml:"xvfb_display"`
}

// PageConfig defines the page to filter.
type PageConfig struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
}

// StoreConfig locates the block list.
type StoreConfig struct {
	Path         string        `yaml:"path"` // SQLite file; empty means in-memory
	Area         string        `yaml:"area"`
	Key          string        `yaml:"key"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Debounce     time.Duration `yaml:"debounce"`
	BusyTimeout  time.Duration `yaml:"busy_timeout"` // SQLite lock wait
}

// EngineConfig tunes the classification loop.
type EngineConfig struct {
	Debounce          time.Duration   `yaml:"debounce"`
	ReactivationDelay time.Duration   `yaml:"reactivation_delay"`
	Selectors         SelectorsConfig `yaml:"selectors"`
}

// SelectorsConfig overrides the card markup selectors. Empty fields keep
// the built-in defaults.
type SelectorsConfig struct {
	Card  string `yaml:"card"`
	Group string `yaml:"group"`
	Link  string `yaml:"link"`
	Label string `yaml:"label"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type    string `yaml:"type"` // stdout | webhook | sqlite
	URL     string `yaml:"url"`  // for webhook
	Retries int    `yaml:"retries"`
	Path    string `yaml:"path"` // for sqlite
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Store.Area == "" {
		c.Store.Area = "sync"
	}
	if c.Store.Key == "" {
		c.Store.Key = "blockedCategories"
	}
	if c.Store.PollInterval <= 0 {
		c.Store.PollInterval = 500 * time.Millisecond
	}
	if c.Store.BusyTimeout <= 0 {
		c.Store.BusyTimeout = 10 * time.Second
	}
	if c.Engine.Debounce <= 0 {
		c.Engine.Debounce = 100 * time.Millisecond
	}
	if c.Engine.ReactivationDelay <= 0 {
		c.Engine.ReactivationDelay = 500 * time.Millisecond
	}
	for i := range c.Sinks {
		if c.Sinks[i].Type == "" {
			c.Sinks[i].Type = "stdout"
		}
		if c.Sinks[i].Retries <= 0 {
			c.Sinks[i].Retries = 3
		}
	}
}

func (c *Config) validate() error {
	switch c.Browser.Stealth {
	case "headless", "headful":
	default:
		return fmt.Errorf("config: browser.stealth: unknown mode %q", c.Browser.Stealth)
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: sinks[%d]: webhook needs url", i)
			}
		case "sqlite":
			if s.Path == "" {
				return fmt.Errorf("config: sinks[%d]: sqlite needs path", i)
			}
		default:
			return fmt.Errorf("config: sinks[%d]: unknown type %q", i, s.Type)
		}
	}
	return nil
}
