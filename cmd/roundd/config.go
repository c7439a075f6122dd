// config.go - Configuration management for the settlement daemon
package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
)

// Config represents the daemon configuration
type Config struct {
	// Round settings
	Budget            string `json:"budget"`              // settlement-asset base units
	VoiceCreditFactor string `json:"voice_credit_factor"` // asset units per voice credit
	TreeDepth         int    `json:"tree_depth"`
	TallyCommitment   string `json:"tally_commitment,omitempty"` // hex, optional
	ZeroAlphaOnNoBoost bool  `json:"zero_alpha_on_no_boost"`

	// Recipients maps recipient indices to the addresses entitled to claim
	Recipients []RecipientConfig `json:"recipients"`

	// Server
	ListenAddr string `json:"listen_addr"`

	// Logging
	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`

	// Rate limiting for mutating endpoints
	RateLimitBurst  int `json:"rate_limit_burst"`
	RateLimitPerSec int `json:"rate_limit_per_sec"`
}

// RecipientConfig is one registry entry
type RecipientConfig struct {
	Index uint64 `json:"index"`
	Owner string `json:"owner"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Budget:            "1000000000000000000000", // 1000 units at 18 decimals
		VoiceCreditFactor: "1",
		TreeDepth:         4,
		ListenAddr:        ":8460",
		LogLevel:          "info",
		RateLimitBurst:    20,
		RateLimitPerSec:   5,
	}
}

// LoadConfig loads configuration from file or creates default
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); err == nil {
		file, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer file.Close()

		var config Config
		if err := json.NewDecoder(file).Decode(&config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		if err := config.Validate(); err != nil {
			return nil, err
		}
		return &config, nil
	}

	// Create default config file for next time
	config := DefaultConfig()
	if err := config.Save(configPath); err != nil {
		return nil, fmt.Errorf("failed to write default config: %w", err)
	}
	return config, nil
}

// Save writes the configuration as indented JSON
func (c *Config) Save(configPath string) error {
	if dir := filepath.Dir(configPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(configPath)
	if err != nil {
		return err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}

// Validate checks the configuration for unusable values
func (c *Config) Validate() error {
	if _, ok := new(big.Int).SetString(c.Budget, 10); !ok {
		return fmt.Errorf("config: budget %q is not a base-10 integer", c.Budget)
	}
	if _, ok := new(big.Int).SetString(c.VoiceCreditFactor, 10); !ok {
		return fmt.Errorf("config: voice_credit_factor %q is not a base-10 integer", c.VoiceCreditFactor)
	}
	if c.TreeDepth < 0 || c.TreeDepth > 32 {
		return fmt.Errorf("config: tree_depth %d out of range", c.TreeDepth)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen_addr is required")
	}
	if c.RateLimitBurst <= 0 || c.RateLimitPerSec <= 0 {
		return fmt.Errorf("config: rate limit values must be positive")
	}
	capacity := uint64(1) << uint(c.TreeDepth)
	for _, r := range c.Recipients {
		if r.Owner == "" {
			return fmt.Errorf("config: recipient %d has no owner", r.Index)
		}
		if r.Index >= capacity {
			return fmt.Errorf("config: recipient index %d exceeds capacity %d", r.Index, capacity)
		}
	}
	return nil
}

// BudgetInt returns the parsed budget
func (c *Config) BudgetInt() *big.Int {
	v, _ := new(big.Int).SetString(c.Budget, 10)
	return v
}

// VoiceCreditFactorInt returns the parsed voice credit factor
func (c *Config) VoiceCreditFactorInt() *big.Int {
	v, _ := new(big.Int).SetString(c.VoiceCreditFactor, 10)
	return v
}
