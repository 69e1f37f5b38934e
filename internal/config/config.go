package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable read by Load.
// TEXTFLOW_ENGINE_QUIET_PERIOD sets engine.quiet_period.
const EnvPrefix = "TEXTFLOW_"

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Engine   EngineConfig   `koanf:"engine"`
	Log      LogConfig      `koanf:"log"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	SlowRequest     time.Duration `koanf:"slow_request"`
}

// DatabaseConfig selects PostgreSQL persistence. An empty URL keeps flows in memory.
type DatabaseConfig struct {
	URL          string `koanf:"url"`
	MaxOpenConns int    `koanf:"max_open_conns"`
}

// RedisConfig selects Redis for workspace state. An empty Addr keeps it in memory.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Prefix   string `koanf:"prefix"`
}

type EngineConfig struct {
	QuietPeriod  time.Duration `koanf:"quiet_period"`
	MatchTimeout time.Duration `koanf:"match_timeout"`
	CacheSize    int           `koanf:"cache_size"`
	CacheTTL     time.Duration `koanf:"cache_ttl"`
	RealTime     bool          `koanf:"real_time"`
}

type LogConfig struct {
	Level       string `koanf:"level"`
	SampleRate  int    `koanf:"sample_rate"`
	OTEL        bool   `koanf:"otel"`
	ServiceName string `koanf:"service_name"`
}

func defaults() map[string]any {
	return map[string]any{
		"server.addr":             ":8080",
		"server.read_timeout":     "15s",
		"server.write_timeout":    "15s",
		"server.idle_timeout":     "60s",
		"server.shutdown_timeout": "30s",
		"server.slow_request":     "500ms",
		"database.url":            "",
		"database.max_open_conns": 10,
		"redis.addr":              "",
		"redis.password":          "",
		"redis.db":                0,
		"redis.prefix":            "textflow:",
		"engine.quiet_period":     "300ms",
		"engine.match_timeout":    "2s",
		"engine.cache_size":       1024,
		"engine.cache_ttl":        "0s",
		"engine.real_time":        true,
		"log.level":               "INFO",
		"log.sample_rate":         1,
		"log.otel":                false,
		"log.service_name":        "textflow",
	}
}

// Load layers defaults, the optional YAML file at path, and TEXTFLOW_* environment
// variables, in that order.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
		},
	}
	if err := k.UnmarshalWithConf("", &cfg, unmarshalConf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	// DATABASE_URL is honoured for compatibility with common deployment setups
	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DATABASE_URL")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps TEXTFLOW_ENGINE_QUIET_PERIOD to engine.quiet_period. Only the first
// underscore separates the section, so keys keep their own underscores.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(s, "_", ".", 1)
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr cannot be empty")
	}
	if c.Engine.QuietPeriod <= 0 {
		return fmt.Errorf("engine.quiet_period must be positive, got %s", c.Engine.QuietPeriod)
	}
	if c.Engine.MatchTimeout < 0 {
		return fmt.Errorf("engine.match_timeout cannot be negative")
	}
	if c.Engine.CacheSize < 0 {
		return fmt.Errorf("engine.cache_size cannot be negative")
	}
	if c.Log.SampleRate < 1 {
		return fmt.Errorf("log.sample_rate must be at least 1, got %d", c.Log.SampleRate)
	}
	return nil
}
