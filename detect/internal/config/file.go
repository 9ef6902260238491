// Package config handles scout configuration from YAML files.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level scout configuration.
type Config struct {
	Browser BrowserConfig `yaml:"browser"`
	Detect  DetectConfig  `yaml:"detect"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Brands  BrandsConfig  `yaml:"brands"`
	Similar SimilarConfig `yaml:"similar"`
	Sinks   []SinkConfig  `yaml:"sinks"`
	HTTP    HTTPConfig    `yaml:"http"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	Stealth          string        `yaml:"stealth"` // http | headless | headful
	XvfbDisplay      string        `yaml:"xvfb_display"`
}

// DetectConfig controls the detection pipeline.
type DetectConfig struct {
	MutationDebounce time.Duration `yaml:"mutation_debounce"`
}

// FetchConfig controls the background byte-fetch service.
type FetchConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	MaxBytes  int64         `yaml:"max_bytes"`
	UserAgent string        `yaml:"user_agent"`
}

// BrandsConfig points at the brand sustainability database.
type BrandsConfig struct {
	DBPath string `yaml:"db_path"`
}

// SimilarConfig points at the similarity-search service.
type SimilarConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// SinkConfig defines an output backend for detections.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook
	URL  string `yaml:"url"`  // for webhook
}

// HTTPConfig controls the API server.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills unset fields with production defaults.
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
	if c.Detect.MutationDebounce <= 0 {
		c.Detect.MutationDebounce = 300 * time.Millisecond
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 12 * time.Second
	}
	if c.Fetch.MaxBytes <= 0 {
		c.Fetch.MaxBytes = 10 << 20
	}
	if c.Similar.Timeout <= 0 {
		c.Similar.Timeout = 15 * time.Second
	}
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = ":8170"
	}
}
