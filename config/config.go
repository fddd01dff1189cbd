// Package config loads chartfeed configuration from an optional YAML file
// and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"chartfeed/internal/model"
)

// Config holds all application configuration.
type Config struct {
	Service  string `yaml:"service" validate:"required"`
	UserID   string `yaml:"user_id" validate:"required"`
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFile  string `yaml:"log_file"`

	Feed      FeedConfig      `yaml:"feed"`
	History   HistoryConfig   `yaml:"history"`
	Redis     RedisConfig     `yaml:"redis"`
	SQLite    SQLiteConfig    `yaml:"sqlite"`
	Sync      SyncConfig      `yaml:"sync"`
	HTTP      HTTPConfig      `yaml:"http"`
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Static provider keys. When empty, keys are read from the sqlite
	// credentials table.
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

// FeedConfig configures the live trade stream.
type FeedConfig struct {
	URL            string        `yaml:"url" validate:"required,url"`
	Throttle       time.Duration `yaml:"throttle" validate:"gte=50ms"`
	InitialBackoff time.Duration `yaml:"initial_backoff" validate:"gt=0"`
	MaxBackoff     time.Duration `yaml:"max_backoff" validate:"gtefield=InitialBackoff"`
}

// HistoryConfig configures historical bar fetching and caching.
type HistoryConfig struct {
	AlpacaURL    string        `yaml:"alpaca_url" validate:"required,url"`
	AlpacaFeed   string        `yaml:"alpaca_feed" validate:"omitempty,oneof=iex sip"`
	FinnhubURL   string        `yaml:"finnhub_url" validate:"omitempty,url"`
	FinnhubToken string        `yaml:"finnhub_token"`
	Timeout      time.Duration `yaml:"timeout" validate:"gt=0"`
	CacheTTL     time.Duration `yaml:"cache_ttl" validate:"gt=0"`
	Timeframe    string        `yaml:"timeframe" validate:"oneof=1Min 5Min 15Min 1Hour 1Day"`
	Limit        int           `yaml:"limit" validate:"min=1,max=10000"`
}

// RedisConfig configures the cross-context sync transport. Disabled means
// contexts sync through the in-process bus only.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr" validate:"required_if=Enabled true"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"min=0"`
	Channel  string `yaml:"channel" validate:"required"`
}

type SQLiteConfig struct {
	Path string `yaml:"path" validate:"required"`
}

type SyncConfig struct {
	Interval time.Duration `yaml:"interval" validate:"gt=0"`
}

type HTTPConfig struct {
	Addr        string `yaml:"addr" validate:"required"`
	MetricsAddr string `yaml:"metrics_addr" validate:"required"`
}

// SchedulerConfig holds six-field cron expressions (seconds first).
type SchedulerConfig struct {
	SweepSpec      string `yaml:"sweep"`
	ProbeSpec      string `yaml:"probe"`
	SaturationSpec string `yaml:"saturation"`
}

// Default returns the configuration used when no file or env sets a value.
func Default() *Config {
	return &Config{
		Service:  "chartfeed",
		UserID:   "default",
		LogLevel: "info",
		Feed: FeedConfig{
			URL:            "wss://stream.data.alpaca.markets/v2/iex",
			Throttle:       300 * time.Millisecond,
			InitialBackoff: 1000 * time.Millisecond,
			MaxBackoff:     30000 * time.Millisecond,
		},
		History: HistoryConfig{
			AlpacaURL:  "https://data.alpaca.markets/v2",
			AlpacaFeed: "iex",
			FinnhubURL: "https://finnhub.io/api/v1",
			Timeout:    10 * time.Second,
			CacheTTL:   5 * time.Minute,
			Timeframe:  string(model.TF1Min),
			Limit:      500,
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Channel: "chartfeed:sync",
		},
		SQLite: SQLiteConfig{Path: "data/chartfeed.db"},
		Sync:   SyncConfig{Interval: 200 * time.Millisecond},
		HTTP: HTTPConfig{
			Addr:        ":8080",
			MetricsAddr: ":9090",
		},
	}
}

// Load reads path (skipped when empty), applies environment overrides and
// validates the result. Validation failures are *model.ConfigError.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &model.ConfigError{Field: path, Err: err}
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks struct tags and returns the first failure as a
// *model.ConfigError naming the field.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &model.ConfigError{
			Field: fe.Namespace(),
			Err:   fmt.Errorf("failed %q (value %v)", fe.Tag(), fe.Value()),
		}
	}
	return &model.ConfigError{Field: "config", Err: err}
}

// Credentials returns the static provider keys, or nil when none are set.
func (c *Config) Credentials() *model.Credentials {
	if c.APIKey == "" || c.APISecret == "" {
		return nil
	}
	return &model.Credentials{APIKey: c.APIKey, APISecret: c.APISecret}
}

// Timeframe returns the configured bar timeframe.
func (c *Config) Timeframe() model.Timeframe {
	return model.Timeframe(c.History.Timeframe)
}

func (c *Config) applyEnv() error {
	c.UserID = getEnv("CHARTFEED_USER_ID", c.UserID)
	c.LogLevel = strings.ToLower(getEnv("CHARTFEED_LOG_LEVEL", c.LogLevel))
	c.LogFile = getEnv("CHARTFEED_LOG_FILE", c.LogFile)
	c.Feed.URL = getEnv("CHARTFEED_FEED_URL", c.Feed.URL)
	c.History.Timeframe = getEnv("CHARTFEED_TIMEFRAME", c.History.Timeframe)
	c.HTTP.Addr = getEnv("CHARTFEED_HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.MetricsAddr = getEnv("METRICS_ADDR", c.HTTP.MetricsAddr)

	c.APIKey = getEnv("ALPACA_API_KEY", c.APIKey)
	c.APISecret = getEnv("ALPACA_API_SECRET", c.APISecret)
	c.History.FinnhubToken = getEnv("FINNHUB_TOKEN", c.History.FinnhubToken)
	c.SQLite.Path = getEnv("SQLITE_PATH", c.SQLite.Path)

	// Setting REDIS_ADDR turns the redis transport on.
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
		c.Redis.Enabled = true
	}
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)

	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"CHARTFEED_THROTTLE", &c.Feed.Throttle},
		{"CHARTFEED_CACHE_TTL", &c.History.CacheTTL},
		{"CHARTFEED_SYNC_INTERVAL", &c.Sync.Interval},
	} {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return &model.ConfigError{Field: d.key, Err: err}
		}
		*d.dst = parsed
	}

	if v := os.Getenv("CHARTFEED_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &model.ConfigError{Field: "CHARTFEED_LIMIT", Err: err}
		}
		c.History.Limit = n
	}
	return nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
