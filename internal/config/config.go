package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxnlabs/hwrt/fixtures"
	"github.com/fxnlabs/hwrt/internal/driver/sim"
	"gopkg.in/yaml.v3"
)

const (
	defaultVerbosity     = "info"
	defaultListenAddress = ":9464"
)

type Config struct {
	Logger struct {
		Verbosity string `yaml:"verbosity"`
		Encoding  string `yaml:"encoding"`
	} `yaml:"logger"`
	Runtime struct {
		EventPoolSize int  `yaml:"eventPoolSize"`
		EagerContexts bool `yaml:"eagerContexts"`
		// HostFallback exposes the host CPU when no platform reports a device.
		HostFallback *bool `yaml:"hostFallback"`
		// CUDA enables the CUDA runtime platform when the binary supports it.
		CUDA bool `yaml:"cuda"`
	} `yaml:"runtime"`
	Metrics struct {
		ListenAddress string `yaml:"listenAddress"`
	} `yaml:"metrics"`
	Platforms []sim.PlatformSpec `yaml:"platforms"`
}

// UseHostFallback reports whether the host platform should stand in for an
// empty discovery. It defaults to true.
func (c *Config) UseHostFallback() bool {
	return c.Runtime.HostFallback == nil || *c.Runtime.HostFallback
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a YAML document and fills in defaults.
func Parse(data []byte) (*Config, error) {
	var config Config
	err := yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, err
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()
	return &config, nil
}

// Default returns the configuration embedded in the binary.
func Default() *Config {
	config, err := Parse(fixtures.ConfigTemplate)
	if err != nil {
		panic(fmt.Sprintf("embedded config template is invalid: %v", err))
	}
	return config
}

// WriteDefault writes the embedded template to path unless a file already
// exists there.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, fixtures.ConfigTemplate, 0o644)
}

func (c *Config) applyDefaults() {
	if c.Logger.Verbosity == "" {
		c.Logger.Verbosity = defaultVerbosity
	}
	if c.Logger.Encoding == "" {
		c.Logger.Encoding = "json"
	}
	if c.Metrics.ListenAddress == "" {
		c.Metrics.ListenAddress = defaultListenAddress
	}
}

func (c *Config) validate() error {
	if c.Runtime.EventPoolSize < 0 {
		return fmt.Errorf("runtime.eventPoolSize must not be negative, got %d", c.Runtime.EventPoolSize)
	}
	switch c.Logger.Encoding {
	case "", "json", "console":
	default:
		return fmt.Errorf("logger.encoding must be json or console, got %q", c.Logger.Encoding)
	}
	seen := make(map[string]bool, len(c.Platforms))
	for i, p := range c.Platforms {
		if p.Name == "" {
			return fmt.Errorf("platforms[%d]: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("platforms[%d]: duplicate platform name %q", i, p.Name)
		}
		seen[p.Name] = true
		switch p.Kind {
		case "", "gpu", "cpu":
		default:
			return fmt.Errorf("platform %s: unknown kind %q", p.Name, p.Kind)
		}
	}
	return nil
}
