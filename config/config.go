package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/samaelod/wirebench/types"
)

type Config struct {
	LogLines    int    `json:"log_lines" yaml:"log_lines"`
	LogsDir     string `json:"logs_dir" yaml:"logs_dir"`
	RecentDir   string `json:"recent_dir" yaml:"recent_dir"`
	ReceiveDir  string `json:"receive_dir" yaml:"receive_dir"`
	LogLevel    string `json:"log_level" yaml:"log_level"`
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr"`
	Variant     string `json:"variant" yaml:"variant"`
}

var (
	defaultConfig *Config
	defaultErr    error
	once          sync.Once
)

func Default() *Config {
	return &Config{
		LogLines:   1000,
		LogsDir:    "logs",
		RecentDir:  "recent",
		ReceiveDir: "received",
		LogLevel:   "info",
		Variant:    "a",
	}
}

// Load reads path, or the first default location that exists when path is
// empty. Files ending in .yaml or .yml are YAML, anything else is JSON.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		// Try default locations
		defaultPaths := []string{
			"wirebench.json",
			"wirebench.yaml",
			".wirebench.json",
			".wirebench.yaml",
			filepath.Join(os.Getenv("HOME"), ".config", "wirebench", "config.json"),
			filepath.Join(os.Getenv("HOME"), ".config", "wirebench", "config.yaml"),
		}

		for _, p := range defaultPaths {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}

		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Apply defaults for any zero values
func (c *Config) applyDefaults() {
	d := Default()
	if c.LogLines <= 0 {
		c.LogLines = d.LogLines
	}
	if c.LogsDir == "" {
		c.LogsDir = d.LogsDir
	}
	if c.RecentDir == "" {
		c.RecentDir = d.RecentDir
	}
	if c.ReceiveDir == "" {
		c.ReceiveDir = d.ReceiveDir
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.Variant == "" {
		c.Variant = d.Variant
	}
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.Variant) {
	case "a", "b":
	default:
		return fmt.Errorf("unknown variant %q", c.Variant)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return nil
}

// LoadDefault loads the config once and caches it
func LoadDefault() (*Config, error) {
	once.Do(func() {
		defaultConfig, defaultErr = Load("")
	})
	if defaultErr != nil {
		return Default(), defaultErr
	}
	return defaultConfig, nil
}

// Apply fills profile settings left empty with the app settings: the
// default variant, log level and ring size, and the receive directory of
// every server.
func (c *Config) Apply(p *types.Profile) {
	if p.Globals.Variant == "" {
		p.Globals.Variant = c.Variant
	}
	if p.Globals.LogLevel == "" {
		p.Globals.LogLevel = c.LogLevel
	}
	if p.Globals.LogLines <= 0 {
		p.Globals.LogLines = c.LogLines
	}
	for i := range p.Endpoints {
		ep := &p.Endpoints[i]
		if types.IsServerKind(ep.Kind) && ep.ReceiveDir == "" {
			ep.ReceiveDir = c.ReceiveDir
		}
	}
}
