// Package config loads the proxy's YAML configuration.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mundrapranay/oblivkv/internal/backend"
	"github.com/mundrapranay/oblivkv/internal/ingress"
	"github.com/mundrapranay/oblivkv/internal/proxy"
)

// DefaultListenAddr is the ingress port existing deployments expect.
const DefaultListenAddr = ":5000"

// ErrNoSecret is returned when neither secret nor secret_file is set.
var ErrNoSecret = errors.New("no secret configured")

// Config is the on-disk proxy configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	CacheCapacity  int           `yaml:"cache_capacity"`
	BatchSize      int           `yaml:"batch_size"`
	DummyFillCount int           `yaml:"dummy_fill_count"`
	DummyPoolSize  int           `yaml:"dummy_pool_size"`
	RoundTimeout   time.Duration `yaml:"round_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`

	// Secret is hex encoded. SecretFile holds the same encoding and wins
	// when both are set.
	Secret       string `yaml:"secret"`
	SecretFile   string `yaml:"secret_file"`
	ValuePadSize int    `yaml:"value_pad_size"`

	Backend backend.Options `yaml:"backend"`
	Ingress ingress.Config  `yaml:"ingress"`
	Log     LogConfig       `yaml:"log"`
}

// LogConfig configures the root logger.
type LogConfig struct {
	Level string `yaml:"level"`
	// File is opened for append. Empty logs to stderr.
	File string `yaml:"file"`
	JSON bool   `yaml:"json"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() Config {
	p := proxy.DefaultConfig()
	return Config{
		ListenAddr:     DefaultListenAddr,
		CacheCapacity:  p.CacheCapacity,
		BatchSize:      p.BatchSize,
		DummyFillCount: p.DummyFillCount,
		DummyPoolSize:  p.DummyPoolSize,
		RoundTimeout:   p.RoundTimeout,
		WriteTimeout:   p.WriteTimeout,
		ValuePadSize:   p.ValuePadSize,
		Backend:        backend.Options{Kind: backend.KindMemory},
		Ingress: ingress.Config{
			MaxOps:  1000,
			MaxWait: time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadConfig reads and validates a YAML configuration file on top of
// Default.
func LoadConfig(filePath string) (*Config, error) {
	config, err := ReadConfig(filePath)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// ReadConfig parses a YAML configuration file on top of Default without
// validating it, so callers can apply overrides first.
func ReadConfig(filePath string) (*Config, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &config, nil
}

// SaveConfig writes the configuration as YAML.
func SaveConfig(config *Config, filePath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the configuration, including the scheduler parameters and
// the secret.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.Ingress.MaxOps < 0 {
		return fmt.Errorf("ingress.max_ops must be non-negative")
	}
	if c.Ingress.Rate < 0 || c.Ingress.Burst < 0 || c.Ingress.MaxWait < 0 {
		return fmt.Errorf("ingress rate, burst and max_wait must be non-negative")
	}

	pc, err := c.Proxy()
	if err != nil {
		return err
	}
	return pc.Validate()
}

// Proxy converts the configuration into scheduler parameters, resolving the
// secret.
func (c *Config) Proxy() (proxy.Config, error) {
	secret, err := c.LoadSecret()
	if err != nil {
		return proxy.Config{}, err
	}
	return proxy.Config{
		CacheCapacity:  c.CacheCapacity,
		BatchSize:      c.BatchSize,
		DummyFillCount: c.DummyFillCount,
		DummyPoolSize:  c.DummyPoolSize,
		RoundTimeout:   c.RoundTimeout,
		WriteTimeout:   c.WriteTimeout,
		Secret:         secret,
		ValuePadSize:   c.ValuePadSize,
	}, nil
}

// LoadSecret decodes the hex secret from secret_file or secret.
func (c *Config) LoadSecret() ([]byte, error) {
	encoded := c.Secret
	if c.SecretFile != "" {
		raw, err := os.ReadFile(c.SecretFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read secret file: %w", err)
		}
		encoded = string(raw)
	}

	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, ErrNoSecret
	}
	secret, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("secret is not valid hex: %w", err)
	}
	return secret, nil
}
