package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// AuthMode selects the authorization policy for the admin API surface.
// It is injected at startup; there is no environment-name branching at
// call time.
type AuthMode string

const (
	AuthStrict AuthMode = "strict"
	AuthBypass AuthMode = "bypass"
)

// Config models stratline.yml.
type Config struct {
	Service struct {
		Name string `yaml:"name"`
	} `yaml:"service"`
	Schedule struct {
		// Cron is a standard 5-field cron spec for the external runner.
		Cron string `yaml:"cron"`
		// IntervalHours is the fallback cadence when Cron is empty.
		IntervalHours int `yaml:"interval_hours"`
	} `yaml:"schedule"`
	Execution struct {
		DefaultLimit int `yaml:"default_limit"`
		MaxLimit     int `yaml:"max_limit"`
	} `yaml:"execution"`
	Auth struct {
		Mode AuthMode `yaml:"mode"`
	} `yaml:"auth"`
	RateLimit struct {
		Enabled       bool `yaml:"enabled"`
		MaxRequests   int  `yaml:"max_requests"`
		WindowMinutes int  `yaml:"window_minutes"`
	} `yaml:"rate_limit"`
	Categories struct {
		Catalog map[string]struct {
			Description string `yaml:"description"`
		} `yaml:"catalog"`
	} `yaml:"categories"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it or run with defaults via sl serve", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("config.service.name is required")
	}
	if c.Schedule.Cron == "" && c.Schedule.IntervalHours <= 0 {
		return fmt.Errorf("config.schedule requires cron or interval_hours")
	}
	if c.Schedule.Cron != "" {
		if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
			return fmt.Errorf("config.schedule.cron invalid: %w", err)
		}
	}
	if c.Execution.DefaultLimit <= 0 {
		return fmt.Errorf("config.execution.default_limit must be positive")
	}
	if c.Execution.MaxLimit < c.Execution.DefaultLimit {
		return fmt.Errorf("config.execution.max_limit must be >= default_limit")
	}
	switch c.Auth.Mode {
	case AuthStrict, AuthBypass:
	default:
		return fmt.Errorf("config.auth.mode must be strict or bypass")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.MaxRequests <= 0 {
			return fmt.Errorf("config.rate_limit.max_requests must be positive")
		}
		if c.RateLimit.WindowMinutes <= 0 {
			return fmt.Errorf("config.rate_limit.window_minutes must be positive")
		}
	}
	for name := range c.Categories.Catalog {
		if name == "" {
			return fmt.Errorf("config.categories.catalog contains empty category")
		}
	}
	return nil
}

// KnownCategory reports whether the category is allowed. An empty catalog
// accepts any category.
func (c *Config) KnownCategory(category string) bool {
	if len(c.Categories.Catalog) == 0 {
		return true
	}
	_, ok := c.Categories.Catalog[category]
	return ok
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "stratline.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// WriteDefault writes the default template to path.
func WriteDefault(path string) error {
	return os.WriteFile(path, []byte(defaultTemplate), 0o644)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `service:
  name: stratline

schedule:
  cron: "0 */6 * * *"
  interval_hours: 6

execution:
  default_limit: 5
  max_limit: 25

auth:
  mode: strict

rate_limit:
  enabled: true
  max_requests: 10
  window_minutes: 1

categories:
  catalog:
    seo:
      description: "Search visibility and content structure work"
    content:
      description: "Blog and landing page production"
    cro:
      description: "Conversion rate optimization experiments"
    technical:
      description: "Site performance and infrastructure"
    analytics:
      description: "Measurement and reporting"
`
