// Package config loads statexferd's configuration.
//
// Sources are applied in order, later ones overriding earlier ones:
// built-in defaults, a YAML file, then STATEXFER_ environment
// variables (STATEXFER_TRANSFER_BATCH sets transfer.batch).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the default environment variable prefix.
const DefaultEnvPrefix = "STATEXFER_"

// Config is the daemon configuration.
type Config struct {
	// Listen is the gRPC listen address.
	Listen string `koanf:"listen"`
	// DataDir holds the badger part store. Empty keeps it in memory.
	DataDir string `koanf:"datadir"`

	Transfer TransferConfig `koanf:"transfer"`
	Log      LogConfig      `koanf:"log"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	KV       KVConfig       `koanf:"kv"`
}

// TransferConfig tunes both sides of a transfer.
type TransferConfig struct {
	// Batch is the number of part ids per FetchParts call.
	Batch int `koanf:"batch"`
	// Capacity is the install channel capacity.
	Capacity int `koanf:"capacity"`
	// RateLimit caps served part bytes per second; 0 disables it.
	RateLimit int `koanf:"ratelimit"`
	// Burst is the limiter burst in bytes.
	Burst int `koanf:"burst"`
	// Timeout bounds a whole fetch.
	Timeout time.Duration `koanf:"timeout"`
}

// LogConfig configures hclog.
type LogConfig struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the /metrics listen address; empty disables it.
	Listen string `koanf:"listen"`
}

// KVConfig configures the served key/value state.
type KVConfig struct {
	Buckets uint32 `koanf:"buckets"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen: "127.0.0.1:7420",
		Transfer: TransferConfig{
			Batch:    64,
			Capacity: 16,
			Burst:    1 << 20,
			Timeout:  5 * time.Minute,
		},
		Log: LogConfig{Level: "info"},
		KV:  KVConfig{Buckets: 64},
	}
}

// Option configures Load.
type Option func(*loader)

type loader struct {
	envPrefix string
}

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *loader) { l.envPrefix = prefix }
}

// Load builds the configuration from defaults, the YAML file at path
// (skipped when empty) and the environment, then validates it.
func Load(path string, opts ...Option) (Config, error) {
	l := loader{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		opt(&l)
	}

	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load file %s: %w", path, err)
		}
	}

	// STATEXFER_TRANSFER_RATELIMIT -> transfer.ratelimit
	transform := func(s string) string {
		s = strings.TrimPrefix(s, l.envPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "_", ".")
	}
	if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	switch {
	case c.Listen == "":
		return fmt.Errorf("config: listen is required")
	case c.Transfer.Batch <= 0:
		return fmt.Errorf("config: transfer.batch must be positive, got %d", c.Transfer.Batch)
	case c.Transfer.Capacity <= 0:
		return fmt.Errorf("config: transfer.capacity must be positive, got %d", c.Transfer.Capacity)
	case c.Transfer.RateLimit < 0:
		return fmt.Errorf("config: transfer.ratelimit must not be negative, got %d", c.Transfer.RateLimit)
	case c.Transfer.RateLimit > 0 && c.Transfer.Burst <= 0:
		return fmt.Errorf("config: transfer.burst must be positive when ratelimit is set")
	case c.KV.Buckets == 0:
		return fmt.Errorf("config: kv.buckets must be positive")
	case hclog.LevelFromString(c.Log.Level) == hclog.NoLevel:
		return fmt.Errorf("config: unknown log.level %q", c.Log.Level)
	}
	return nil
}

// NewLogger builds the root logger described by c.Log.
func (c Config) NewLogger(name string) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      hclog.LevelFromString(c.Log.Level),
		JSONFormat: c.Log.JSON,
		Output:     os.Stderr,
	})
}
