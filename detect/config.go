package detect

import (
	"github.com/ecostyle/scout/detect/internal/config"
)

// Config is the top-level scout configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// DetectConfig controls the detection pipeline.
type DetectConfig = config.DetectConfig

// FetchConfig controls the background byte-fetch service.
type FetchConfig = config.FetchConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns a Config with production defaults applied.
func DefaultConfig() *Config {
	var cfg config.Config
	cfg.ApplyDefaults()
	return &cfg
}
