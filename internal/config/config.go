// Package config holds the auditgate configuration: chain endpoint and
// contract addresses, analysis service settings, archival settings, logging.
// Values come from a YAML file with environment overrides on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all auditgate configuration.
type Config struct {
	// Chain connectivity and contract addresses
	Chain ChainConfig `yaml:"chain"`

	// Structured analysis service
	Analyzer AnalyzerConfig `yaml:"analyzer"`

	// Report archival (IPFS pinning)
	Archive ArchiveConfig `yaml:"archive"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ChainConfig configures the JSON-RPC reader and the payment flow.
type ChainConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Contract  string `yaml:"contract"` // payment contract address
	Token     string `yaml:"token"`    // ERC-20 used in token mode
	Recipient string `yaml:"recipient"`
	Timeout   string `yaml:"timeout"`

	// Allowance polling after an approval
	AllowanceAttempts int    `yaml:"allowance_attempts"`
	AllowanceInterval string `yaml:"allowance_interval"`
}

// AnalyzerConfig configures the analysis client.
type AnalyzerConfig struct {
	APIKey      string `yaml:"api_key"`
	BaseURL     string `yaml:"base_url"`
	Model       string `yaml:"model"`
	Timeout     string `yaml:"timeout"`
	MaxAttempts int    `yaml:"max_attempts"`
	BackoffBase string `yaml:"backoff_base"`
}

// ArchiveConfig configures the pinning service.
type ArchiveConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Gateway  string `yaml:"gateway"`
	APIKey   string `yaml:"api_key"`
	Timeout  string `yaml:"timeout"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Chain: ChainConfig{
			Endpoint:          "http://localhost:8545",
			Timeout:           "15s",
			AllowanceAttempts: 10,
			AllowanceInterval: "1500ms",
		},
		Analyzer: AnalyzerConfig{
			BaseURL:     "https://generativelanguage.googleapis.com/v1beta",
			Model:       "gemini-2.0-flash",
			Timeout:     "120s",
			MaxAttempts: 3,
			BackoffBase: "2s",
		},
		Archive: ArchiveConfig{
			Enabled:  true,
			Endpoint: "https://api.pinata.cloud/pinning/pinFileToIPFS",
			Gateway:  "gateway.pinata.cloud",
			Timeout:  "60s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
// Environment variables override file values either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Analyzer.APIKey = key
	}
	if key := os.Getenv("AUDITGATE_ANALYZER_KEY"); key != "" {
		c.Analyzer.APIKey = key
	}
	if url := os.Getenv("AUDITGATE_RPC_URL"); url != "" {
		c.Chain.Endpoint = url
	}
	if addr := os.Getenv("AUDITGATE_CONTRACT"); addr != "" {
		c.Chain.Contract = addr
	}
	if addr := os.Getenv("AUDITGATE_TOKEN"); addr != "" {
		c.Chain.Token = addr
	}
	if key := os.Getenv("AUDITGATE_PINNING_KEY"); key != "" {
		c.Archive.APIKey = key
	}
	if level := os.Getenv("AUDITGATE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// Validate checks the fields every command needs.
func (c *Config) Validate() error {
	if c.Chain.Endpoint == "" {
		return fmt.Errorf("chain.endpoint is required")
	}
	if c.Chain.Contract == "" {
		return fmt.Errorf("chain.contract is required")
	}
	if c.Analyzer.MaxAttempts <= 0 {
		return fmt.Errorf("analyzer.max_attempts must be positive")
	}
	return nil
}

// ChainTimeout returns the chain RPC timeout as a duration.
func (c *Config) ChainTimeout() time.Duration {
	return parseDuration(c.Chain.Timeout, 15*time.Second)
}

// AllowanceInterval returns the allowance poll interval as a duration.
func (c *Config) AllowanceInterval() time.Duration {
	return parseDuration(c.Chain.AllowanceInterval, 1500*time.Millisecond)
}

// AnalyzerTimeout returns the analysis request timeout as a duration.
func (c *Config) AnalyzerTimeout() time.Duration {
	return parseDuration(c.Analyzer.Timeout, 120*time.Second)
}

// AnalyzerBackoff returns the first retry delay as a duration.
func (c *Config) AnalyzerBackoff() time.Duration {
	return parseDuration(c.Analyzer.BackoffBase, 2*time.Second)
}

// ArchiveTimeout returns the upload timeout as a duration.
func (c *Config) ArchiveTimeout() time.Duration {
	return parseDuration(c.Archive.Timeout, 60*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
