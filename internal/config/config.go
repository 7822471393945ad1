// Package config handles configuration loading and defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/sheikh-saqib/stakes-ledger/internal/timewindow"
)

// Default values.
const (
	DefaultConfigFile        = "stakes.toml"
	DefaultHTTPAddr          = ":8080"
	DefaultSweepInterval     = 5 * time.Minute
	DefaultAggregateInterval = 24 * time.Hour
	DefaultVoteWindow        = 12 * time.Hour
	DefaultInitialCoins      = 100
	DefaultWeekStart         = "sunday"
	DefaultTimezone          = "UTC"
)

// Duration wraps time.Duration so TOML files can say "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config holds the full configuration for the service and the CLI.
type Config struct {
	HTTPAddr     string   `toml:"http_addr"`
	DatabaseURL  string   `toml:"database_url"` // empty selects the in-memory store
	KafkaBrokers []string `toml:"kafka_brokers"`
	CronSecret   string   `toml:"cron_secret"`

	SweepInterval     Duration `toml:"sweep_interval"`
	AggregateInterval Duration `toml:"aggregate_interval"`
	VoteWindow        Duration `toml:"vote_window"`

	WeekStart           string `toml:"week_start"`
	Timezone            string `toml:"timezone"`
	InitialCoins        int64  `toml:"initial_coins"`
	DefaultGraceMinutes int    `toml:"default_grace_minutes"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	// Spaces are written to the directory at server start.
	Spaces []SpaceSeed `toml:"spaces"`

	// Derived in finalize.
	Calendar timewindow.Calendar `toml:"-"`
}

func setDefaults(cfg *Config) {
	cfg.HTTPAddr = DefaultHTTPAddr
	cfg.SweepInterval = Duration{DefaultSweepInterval}
	cfg.AggregateInterval = Duration{DefaultAggregateInterval}
	cfg.VoteWindow = Duration{DefaultVoteWindow}
	cfg.WeekStart = DefaultWeekStart
	cfg.Timezone = DefaultTimezone
	cfg.InitialCoins = DefaultInitialCoins
	cfg.LogLevel = "info"
	cfg.LogFormat = "text"
}

// Load loads configuration in priority order:
// 1. Defaults
// 2. .env in the working directory (does not override the real environment)
// 3. TOML file named by STAKES_CONFIG, or stakes.toml when present
// 4. STAKES_* environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	setDefaults(cfg)

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	path := os.Getenv("STAKES_CONFIG")
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	if err := loadFile(cfg, path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := loadFromEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := finalize(cfg); err != nil {
		return nil, fmt.Errorf("finalizing config: %w", err)
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	_, err := toml.DecodeFile(path, cfg)
	return err
}

// loadFromEnv overrides config from STAKES_* variables. DATABASE_URL is
// honoured as a fallback for the database key.
func loadFromEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		if err := dst.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		return nil
	}
	integer := func(key string, set func(int64)) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		set(n)
		return nil
	}

	str("DATABASE_URL", &cfg.DatabaseURL)
	str("STAKES_DATABASE_URL", &cfg.DatabaseURL)
	str("STAKES_HTTP_ADDR", &cfg.HTTPAddr)
	str("STAKES_CRON_SECRET", &cfg.CronSecret)
	str("STAKES_WEEK_START", &cfg.WeekStart)
	str("STAKES_TIMEZONE", &cfg.Timezone)
	str("STAKES_LOG_LEVEL", &cfg.LogLevel)
	str("STAKES_LOG_FORMAT", &cfg.LogFormat)
	if v, ok := lookup("STAKES_KAFKA_BROKERS"); ok && v != "" {
		cfg.KafkaBrokers = splitList(v)
	}

	for key, dst := range map[string]*Duration{
		"STAKES_SWEEP_INTERVAL":     &cfg.SweepInterval,
		"STAKES_AGGREGATE_INTERVAL": &cfg.AggregateInterval,
		"STAKES_VOTE_WINDOW":        &cfg.VoteWindow,
	} {
		if err := dur(key, dst); err != nil {
			return err
		}
	}
	if err := integer("STAKES_INITIAL_COINS", func(n int64) { cfg.InitialCoins = n }); err != nil {
		return err
	}
	return integer("STAKES_DEFAULT_GRACE_MINUTES", func(n int64) { cfg.DefaultGraceMinutes = int(n) })
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func finalize(cfg *Config) error {
	weekStart, err := timewindow.ParseWeekday(cfg.WeekStart)
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	if cfg.InitialCoins < 0 {
		return fmt.Errorf("initial_coins must not be negative, got %d", cfg.InitialCoins)
	}
	if cfg.DefaultGraceMinutes < 0 {
		return fmt.Errorf("default_grace_minutes must not be negative, got %d", cfg.DefaultGraceMinutes)
	}
	if cfg.VoteWindow.Duration <= 0 {
		return fmt.Errorf("vote_window must be positive, got %s", cfg.VoteWindow)
	}
	if err := validateSpaces(cfg.Spaces); err != nil {
		return err
	}
	cfg.Calendar = timewindow.NewCalendar(weekStart, loc)
	return nil
}
