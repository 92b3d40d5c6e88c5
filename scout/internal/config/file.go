// Package config holds the imgscout configuration parsed from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Browser  BrowserConfig  `yaml:"browser"`
	Pages    []PageConfig   `yaml:"pages"`
	Debounce DebounceConfig `yaml:"debounce"`
	Scan     ScanConfig     `yaml:"scan"`
	Sinks    []SinkConfig   `yaml:"sinks"`
	Relay    RelayConfig    `yaml:"relay"`
	History  HistoryConfig  `yaml:"history"`
	// DownloadDir, when set, receives every discovered image.
	DownloadDir string `yaml:"download_dir"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"` // fonts | media; images are never blocked
	Stealth          string        `yaml:"stealth"`           // headless | headful
	XvfbDisplay      string        `yaml:"xvfb_display"`
	NavigateTimeout  time.Duration `yaml:"navigate_timeout"`
}

// PageConfig defines a page to scan.
type PageConfig struct {
	ID           string `yaml:"id"`
	URL          string `yaml:"url"`
	StealthLevel string `yaml:"stealth_level"` // 0 | 1 | 2 | auto
	// Watch keeps the page open and rescans on DOM changes.
	Watch      bool     `yaml:"watch"`
	Attributes []string `yaml:"attributes"`
}

// DebounceConfig controls mutation batching.
type DebounceConfig struct {
	Window    time.Duration `yaml:"window"`
	MaxBuffer int           `yaml:"max_buffer"`
}

// ScanConfig tunes extraction.
type ScanConfig struct {
	// NoSurfaces disables canvas snapshots and SVG serialisation.
	NoSurfaces bool `yaml:"no_surfaces"`
	// BlobLimit bounds the synthetic blob registry.
	BlobLimit int `yaml:"blob_limit"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type  string `yaml:"type"`  // stdout | webhook
	URL   string `yaml:"url"`   // for webhook
	Queue int    `yaml:"queue"` // events buffered ahead of the sink; 0 = 1024
}

// RelayConfig configures the download relay. Listen starts a local relay
// server; URL points the resolver at one (defaulting to the local one).
type RelayConfig struct {
	Listen       string `yaml:"listen"`
	URL          string `yaml:"url"`
	AllowPrivate bool   `yaml:"allow_private"`
	RateLimit    int    `yaml:"rate_limit"`
}

// HistoryConfig enables the SQLite discovery history.
type HistoryConfig struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
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
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero values. It is idempotent.
func (c *Config) ApplyDefaults() {
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}
	if c.Debounce.Window <= 0 {
		c.Debounce.Window = 250 * time.Millisecond
	}
	if c.Debounce.MaxBuffer <= 0 {
		c.Debounce.MaxBuffer = 1000
	}
	if c.Scan.BlobLimit <= 0 {
		c.Scan.BlobLimit = 512
	}
	if c.History.Path != "" && c.History.Retention <= 0 {
		c.History.Retention = 30 * 24 * time.Hour
	}
	for i := range c.Pages {
		if c.Pages[i].StealthLevel == "" {
			c.Pages[i].StealthLevel = "auto"
		}
		if c.Pages[i].ID == "" {
			c.Pages[i].ID = fmt.Sprintf("page%d", i+1)
		}
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	switch c.Browser.Stealth {
	case "headless", "headful":
	default:
		return fmt.Errorf("config: browser.stealth %q: want headless or headful", c.Browser.Stealth)
	}
	seen := make(map[string]bool, len(c.Pages))
	for _, p := range c.Pages {
		if p.URL == "" {
			return fmt.Errorf("config: page %q has no url", p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("config: duplicate page id %q", p.ID)
		}
		seen[p.ID] = true
		switch p.StealthLevel {
		case "0", "1", "2", "auto":
		default:
			return fmt.Errorf("config: page %q: stealth_level %q", p.ID, p.StealthLevel)
		}
	}
	for _, s := range c.Sinks {
		if s.Queue < 0 {
			return fmt.Errorf("config: sink %s: negative queue", s.Type)
		}
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: webhook sink without url")
			}
		default:
			return fmt.Errorf("config: unknown sink type %q", s.Type)
		}
	}
	return nil
}
