// Package config loads and validates the engine configuration from
// YAML, with environment overrides for values that should not live in
// a checked-in file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Sizing modes.
const (
	SizingEquity = "equity"
	SizingFixed  = "fixed"
)

// Ledger backends.
const (
	LedgerFile  = "file"
	LedgerRedis = "redis"
)

// Config is the full engine configuration.
type Config struct {
	TargetAddress     string `yaml:"target_address"`
	ControllerAddress string `yaml:"controller_address"`

	Sizing struct {
		Mode             string  `yaml:"mode"`
		FixedRatio       float64 `yaml:"fixed_ratio"`
		MirrorMarginMode bool    `yaml:"mirror_margin_mode"`
	} `yaml:"sizing"`

	Engine struct {
		PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
		CacheTTLSeconds     int    `yaml:"cache_ttl_seconds"`
		MaxRetries          int    `yaml:"max_retries"`
		RetryBackoffSeconds int    `yaml:"retry_backoff_seconds"`
		Watermark           string `yaml:"watermark"`
	} `yaml:"engine"`

	Rate struct {
		SoftPerMinute      int `yaml:"soft_per_minute"`
		HardPerMinute      int `yaml:"hard_per_minute"`
		WindowSeconds      int `yaml:"window_seconds"`
		MaxDelaySeconds    int `yaml:"max_delay_seconds"`
		Cooldown429Seconds int `yaml:"cooldown_429_seconds"`
	} `yaml:"rate"`

	Ledger struct {
		Backend          string `yaml:"backend"`
		Path             string `yaml:"path"`
		RedisAddr        string `yaml:"redis_addr"`
		RedisKey         string `yaml:"redis_key"`
		RetentionSeconds int    `yaml:"retention_seconds"`
	} `yaml:"ledger"`

	Execution struct {
		InfoURL       string  `yaml:"info_url"`
		Endpoint      string  `yaml:"endpoint"`
		Slippage      float64 `yaml:"slippage"`
		PrivateKeyEnv string  `yaml:"private_key_env"`
	} `yaml:"execution"`

	Monitor struct {
		Enabled    bool   `yaml:"enabled"`
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"monitor"`

	Stream struct {
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url"`
	} `yaml:"stream"`

	Journal struct {
		DSN string `yaml:"dsn"`
	} `yaml:"journal"`
}

// Default returns the configuration used when a field is absent.
func Default() *Config {
	var c Config
	c.Sizing.Mode = SizingEquity
	c.Engine.PollIntervalSeconds = 30
	c.Engine.CacheTTLSeconds = 60
	c.Engine.MaxRetries = 3
	c.Engine.RetryBackoffSeconds = 2
	c.Rate.SoftPerMinute = 15
	c.Rate.HardPerMinute = 20
	c.Rate.WindowSeconds = 60
	c.Rate.MaxDelaySeconds = 10
	c.Rate.Cooldown429Seconds = 30
	c.Ledger.Backend = LedgerFile
	c.Ledger.Path = "api_calls.jsonl"
	c.Ledger.RedisKey = "hypermirror:api_calls"
	c.Ledger.RetentionSeconds = 300
	c.Execution.Slippage = 0.02
	c.Execution.PrivateKeyEnv = "HYPERMIRROR_PRIVATE_KEY"
	c.Monitor.ListenAddr = "127.0.0.1:8090"
	return &c
}

// Load reads path, applies defaults, env overrides, and validation.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes raw YAML on top of the defaults.
func Parse(b []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// applyEnv lets deployment-specific values override the file. Secrets
// never go in the YAML; the signing key itself is only ever named via
// private_key_env and read by the execution gateway.
func (c *Config) applyEnv() {
	if v := os.Getenv("HYPERMIRROR_TARGET_ADDRESS"); v != "" {
		c.TargetAddress = v
	}
	if v := os.Getenv("HYPERMIRROR_CONTROLLER_ADDRESS"); v != "" {
		c.ControllerAddress = v
	}
	if v := os.Getenv("HYPERMIRROR_JOURNAL_DSN"); v != "" {
		c.Journal.DSN = v
	}
	if v := os.Getenv("HYPERMIRROR_REDIS_ADDR"); v != "" {
		c.Ledger.RedisAddr = v
	}
	if v := os.Getenv("HYPERMIRROR_EXECUTION_ENDPOINT"); v != "" {
		c.Execution.Endpoint = v
	}
}

func validAddress(addr string) bool {
	return strings.HasPrefix(addr, "0x") && len(addr) == 42
}

// Validate rejects configurations the engine cannot run safely with.
func (c *Config) Validate() error {
	if !validAddress(c.TargetAddress) {
		return fmt.Errorf("target_address %q is not a 0x-prefixed 40-hex-char address", c.TargetAddress)
	}
	if !validAddress(c.ControllerAddress) {
		return fmt.Errorf("controller_address %q is not a 0x-prefixed 40-hex-char address", c.ControllerAddress)
	}
	if strings.EqualFold(c.TargetAddress, c.ControllerAddress) {
		return fmt.Errorf("target and controller must be different accounts")
	}

	switch c.Sizing.Mode {
	case SizingEquity:
	case SizingFixed:
		if c.Sizing.FixedRatio <= 0 {
			return fmt.Errorf("sizing mode %q requires fixed_ratio > 0", SizingFixed)
		}
	default:
		return fmt.Errorf("unknown sizing mode %q", c.Sizing.Mode)
	}

	if c.Rate.SoftPerMinute <= 0 || c.Rate.HardPerMinute <= 0 {
		return fmt.Errorf("rate thresholds must be positive")
	}
	if c.Rate.SoftPerMinute > c.Rate.HardPerMinute {
		return fmt.Errorf("soft_per_minute %d exceeds hard_per_minute %d", c.Rate.SoftPerMinute, c.Rate.HardPerMinute)
	}

	switch c.Ledger.Backend {
	case LedgerFile:
		if c.Ledger.Path == "" {
			return fmt.Errorf("file ledger requires a path")
		}
	case LedgerRedis:
		if c.Ledger.RedisAddr == "" {
			return fmt.Errorf("redis ledger requires redis_addr")
		}
	default:
		return fmt.Errorf("unknown ledger backend %q", c.Ledger.Backend)
	}

	if c.Execution.Slippage <= 0 || c.Execution.Slippage >= 0.5 {
		return fmt.Errorf("slippage %v outside (0, 0.5)", c.Execution.Slippage)
	}

	if c.Engine.Watermark != "" {
		if _, err := time.Parse(time.RFC3339, c.Engine.Watermark); err != nil {
			return fmt.Errorf("watermark %q is not RFC3339: %w", c.Engine.Watermark, err)
		}
	}
	return nil
}

// PollInterval returns the poll cadence as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Engine.PollIntervalSeconds) * time.Second
}

// CacheTTL returns the snapshot freshness window.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Engine.CacheTTLSeconds) * time.Second
}

// RetryBackoff returns the initial submission retry backoff.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Engine.RetryBackoffSeconds) * time.Second
}

// RateWindow returns the sliding aggregation window.
func (c *Config) RateWindow() time.Duration {
	return time.Duration(c.Rate.WindowSeconds) * time.Second
}

// MaxDelay returns the longest voluntary pre-call wait.
func (c *Config) MaxDelay() time.Duration {
	return time.Duration(c.Rate.MaxDelaySeconds) * time.Second
}

// Cooldown429 returns the shared backoff after an upstream 429.
func (c *Config) Cooldown429() time.Duration {
	return time.Duration(c.Rate.Cooldown429Seconds) * time.Second
}

// LedgerRetention returns how long call records are kept.
func (c *Config) LedgerRetention() time.Duration {
	return time.Duration(c.Ledger.RetentionSeconds) * time.Second
}

// WatermarkTime returns the configured watermark override, zero when
// the engine should start from now.
func (c *Config) WatermarkTime() time.Time {
	if c.Engine.Watermark == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, c.Engine.Watermark)
	if err != nil {
		return time.Time{}
	}
	return t
}
