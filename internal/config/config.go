// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parapet Contributors

// Package config loads engine configuration from an optional YAML file,
// ABAC_-prefixed environment variables, and command-line flags, in
// ascending precedence.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	env "github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix for all engine environment variables.
const EnvPrefix = "ABAC_"

// Defaults for values the spec of the deployment leaves unset.
const (
	DefaultCacheTTLSeconds = 60
	DefaultDeadlineMS      = 50
	DefaultLogFormat       = "json"
	DefaultLogLevel        = "info"
)

// Config holds every engine-level option.
type Config struct {
	Store    StoreConfig    `koanf:"store"`
	Cache    CacheConfig    `koanf:"cache"`
	Decision DecisionConfig `koanf:"decision"`
	Log      LogConfig      `koanf:"log"`
	Metrics  MetricsConfig  `koanf:"metrics"`
}

// StoreConfig selects the policy backend: a file path, or a database
// URL. When both are set the database wins.
type StoreConfig struct {
	Path        string `koanf:"path"`
	DatabaseURL string `koanf:"database_url"`
}

// CacheConfig controls snapshot freshness.
type CacheConfig struct {
	TTLSeconds int `koanf:"ttl_seconds"`
}

// DecisionConfig controls per-decision evaluation bounds.
type DecisionConfig struct {
	DeadlineMS int `koanf:"deadline_ms"`
}

// LogConfig expresses log format and level.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// MetricsConfig controls the observability endpoint. An empty addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// CacheTTL returns the snapshot TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// DecisionDeadline returns the implicit per-decision deadline.
func (c *Config) DecisionDeadline() time.Duration {
	return time.Duration(c.Decision.DeadlineMS) * time.Millisecond
}

// flagKeys maps command-line flag names to config keys. Flags not
// listed here are not config-bearing.
var flagKeys = map[string]string{
	"policies":     "store.path",
	"database-url": "store.database_url",
	"cache-ttl":    "cache.ttl_seconds",
	"deadline-ms":  "decision.deadline_ms",
	"log-format":   "log.format",
	"log-level":    "log.level",
	"metrics-addr": "metrics.addr",
}

// envKeys maps environment variable names (without prefix) whose
// shapes don't follow the mechanical SECTION_KEY convention.
var envKeys = map[string]string{
	"CACHE_TTL_SECONDS":   "cache.ttl_seconds",
	"DEFAULT_DEADLINE_MS": "decision.deadline_ms",
}

// envSections are the config sections recognized in mechanical
// SECTION_KEY environment names.
var envSections = []string{"STORE", "CACHE", "DECISION", "LOG", "METRICS"}

// Load builds the configuration from path (optional, "" to skip), the
// process environment, and flags (optional, nil to skip).
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("INVALID_REQUEST").With("path", path).Wrapf(err, "loading config file")
		}
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return envKey(strings.TrimPrefix(key, EnvPrefix)), value
		},
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, oops.Wrapf(err, "loading environment")
	}

	if flags != nil {
		flagProvider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, bound := flagKeys[f.Name]
			if !bound {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(flagProvider, nil); err != nil {
			return nil, oops.Wrapf(err, "loading flags")
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Wrapf(err, "unmarshaling config")
	}
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps one environment variable name (prefix stripped) to its
// config key.
func envKey(name string) string {
	if key, ok := envKeys[name]; ok {
		return key
	}
	for _, section := range envSections {
		if rest, found := strings.CutPrefix(name, section+"_"); found {
			return strings.ToLower(section) + "." + strings.ToLower(rest)
		}
	}
	return strings.ToLower(name)
}

func applyDefaults(cfg *Config) {
	if cfg.Cache.TTLSeconds <= 0 {
		cfg.Cache.TTLSeconds = DefaultCacheTTLSeconds
	}
	if cfg.Decision.DeadlineMS <= 0 {
		cfg.Decision.DeadlineMS = DefaultDeadlineMS
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
}

func validate(cfg *Config) error {
	switch cfg.Log.Format {
	case "json", "text":
	default:
		return oops.
			Code("INVALID_REQUEST").
			With("format", cfg.Log.Format).
			Errorf("log format must be json or text")
	}
	return nil
}
