// Package config loads the control plane's YAML configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/recoverly-io/recoverly/internal/model"
)

// AccountEntry is one account in the configured roster. Roster entries are
// seeded into the store on first use and can be managed there afterwards.
type AccountEntry struct {
	AccountID string `yaml:"accountId"`
	RoleARN   string `yaml:"roleArn"`
	IsDefault bool   `yaml:"isDefault"`
}

// Config is the full file shape.
type Config struct {
	// Region is the home region holding the capacity-store table.
	Region string `yaml:"region"`
	// Table is the DynamoDB table all record kinds share.
	Table string `yaml:"table"`
	// Regions are the regions the capacity aggregator queries.
	Regions []string `yaml:"regions"`
	// Accounts is the target/staging account roster.
	Accounts []AccountEntry `yaml:"accounts"`

	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Region:    "us-east-1",
		Table:     "recoverly",
		Regions:   []string{"us-east-1", "us-west-2"},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads the file at path, falling back to defaults when path is empty
// or the file does not exist.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if cfg.Table == "" {
		return nil, fmt.Errorf("config %s: table must not be empty", path)
	}
	if len(cfg.Regions) == 0 {
		return nil, fmt.Errorf("config %s: at least one region is required", path)
	}
	return cfg, nil
}

// AccountContexts converts the roster to model records.
func (c *Config) AccountContexts() []*model.AccountContext {
	out := make([]*model.AccountContext, 0, len(c.Accounts))
	for _, a := range c.Accounts {
		out = append(out, &model.AccountContext{
			AccountID: a.AccountID,
			RoleARN:   a.RoleARN,
			IsDefault: a.IsDefault,
		})
	}
	return out
}
