// Package config loads and validates replay configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/yt-history-sync/internal/download"
	"github.com/JakeFAU/yt-history-sync/internal/history"
)

// EnvPrefix namespaces environment overrides, e.g. YTSYNC_REPLAY_CONCURRENCY.
const EnvPrefix = "YTSYNC"

// Ledger backends.
const (
	LedgerFile     = "file"
	LedgerSQLite   = "sqlite"
	LedgerPostgres = "postgres"
	LedgerMemory   = "memory"
)

// Config captures all replay knobs loaded via Viper.
type Config struct {
	History  HistoryConfig    `mapstructure:"history"`
	Replay   ReplayConfig     `mapstructure:"replay"`
	Download download.Options `mapstructure:"download"`
	Ledger   LedgerConfig     `mapstructure:"ledger"`
	Metrics  MetricsConfig    `mapstructure:"metrics"`
	Progress ProgressConfig   `mapstructure:"progress"`
	Logging  LoggingConfig    `mapstructure:"logging"`
}

// HistoryConfig selects and filters the takeout export.
type HistoryConfig struct {
	File string `mapstructure:"file"`
	// Cutoff is the inclusive lower bound on event time; empty disables it.
	Cutoff        string `mapstructure:"cutoff"`
	ExcludeShorts bool   `mapstructure:"exclude_shorts"`
}

// FilterOptions converts the history settings for history.Filter.
func (h HistoryConfig) FilterOptions() history.FilterOptions {
	return history.FilterOptions{Cutoff: h.Cutoff, ExcludeShorts: h.ExcludeShorts}
}

// ReplayConfig governs the worker pool and retry behavior.
type ReplayConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	// MaxRetries is the total attempt budget per URL, not the number of retries
	// after the first attempt.
	MaxRetries int           `mapstructure:"max_retries"`
	MinDelay   time.Duration `mapstructure:"min_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	DryRun     bool          `mapstructure:"dry_run"`
}

// LedgerConfig selects the outcome store.
type LedgerConfig struct {
	Backend       string         `mapstructure:"backend"`
	Dir           string         `mapstructure:"dir"`
	ProcessedFile string         `mapstructure:"processed_file"`
	FailedFile    string         `mapstructure:"failed_file"`
	SQLitePath    string         `mapstructure:"sqlite_path"`
	Postgres      PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig configures the Postgres ledger backend.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address; empty disables the endpoint.
	Addr string `mapstructure:"addr"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	LogEvents     bool          `mapstructure:"log_events"`
}

// LoggingConfig selects the zap preset.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// flagKeys maps CLI flag names to config keys.
var flagKeys = map[string]string{
	"history-file":         "history.file",
	"cutoff":               "history.cutoff",
	"exclude-shorts":       "history.exclude_shorts",
	"concurrency":          "replay.concurrency",
	"max-retries":          "replay.max_retries",
	"min-delay":            "replay.min_delay",
	"max-delay":            "replay.max_delay",
	"dry-run":              "replay.dry_run",
	"mode":                 "download.mode",
	"format":               "download.format",
	"cookies-from-browser": "download.cookies_from_browser",
	"cookie-file":          "download.cookie_file",
	"output-dir":           "download.output_dir",
	"ytdlp-path":           "download.executable",
	"ledger-backend":       "ledger.backend",
	"ledger-dir":           "ledger.dir",
	"sqlite-path":          "ledger.sqlite_path",
	"postgres-dsn":         "ledger.postgres.dsn",
	"metrics-addr":         "metrics.addr",
	"log-level":            "logging.level",
	"dev":                  "logging.development",
}

// Load reads defaults, a config file, YTSYNC_* environment variables, and any
// flags in flags that the caller set, then validates. Without an explicit
// path, ytsync.{yaml,json,toml} is looked up in the working directory and
// $HOME/.config/yt-history-sync; a missing file is not an error.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("ytsync")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/yt-history-sync")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyCookieDefault()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("history.file", "./watch-history.json")
	v.SetDefault("history.cutoff", "2022-08-17T11:50:00.000Z")
	v.SetDefault("history.exclude_shorts", false)
	v.SetDefault("replay.concurrency", 5)
	v.SetDefault("replay.max_retries", 3)
	v.SetDefault("replay.min_delay", time.Second)
	v.SetDefault("replay.max_delay", 3*time.Second)
	v.SetDefault("replay.dry_run", false)
	v.SetDefault("download.mode", string(download.ModeMarkWatched))
	v.SetDefault("download.format", "")
	v.SetDefault("download.cookies_from_browser", "")
	v.SetDefault("download.cookie_file", "")
	v.SetDefault("download.output_dir", "")
	v.SetDefault("download.output_template", "")
	v.SetDefault("download.executable", "")
	v.SetDefault("ledger.backend", LedgerFile)
	v.SetDefault("ledger.dir", ".")
	v.SetDefault("ledger.processed_file", "execution_history.log")
	v.SetDefault("ledger.failed_file", "failed_history.log")
	v.SetDefault("ledger.sqlite_path", "ytsync-ledger.db")
	v.SetDefault("ledger.postgres.dsn", "")
	v.SetDefault("ledger.postgres.table", "ledger_entries")
	v.SetDefault("ledger.postgres.max_conns", 4)
	v.SetDefault("ledger.postgres.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.flush_interval", 500*time.Millisecond)
	v.SetDefault("progress.log_events", false)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// DefaultBrowser is used when neither cookie source is configured.
const DefaultBrowser = "chrome"

// applyCookieDefault fills in the browser only when no cookie source was
// chosen, so an explicit cookie file never collides with the default.
func (c *Config) applyCookieDefault() {
	if c.Download.CookieFile == "" && c.Download.CookiesFromBrowser == "" {
		c.Download.CookiesFromBrowser = DefaultBrowser
	}
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate ensures required fields are present and sane.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.History.File) == "" {
		errs = append(errs, errors.New("history.file is required"))
	}
	if err := history.ValidateCutoff(c.History.Cutoff); err != nil {
		errs = append(errs, fmt.Errorf("history.cutoff: %w", err))
	}
	if c.Replay.Concurrency <= 0 {
		errs = append(errs, errors.New("replay.concurrency must be > 0"))
	}
	if c.Replay.MaxRetries < 1 {
		errs = append(errs, errors.New("replay.max_retries must be >= 1"))
	}
	if c.Replay.MinDelay < 0 || c.Replay.MaxDelay < 0 {
		errs = append(errs, errors.New("replay delays must be >= 0"))
	} else if c.Replay.MinDelay > c.Replay.MaxDelay {
		errs = append(errs, errors.New("replay.min_delay must not exceed replay.max_delay"))
	}
	if err := c.Download.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Ledger.Backend {
	case LedgerFile:
		if c.Ledger.ProcessedFile == "" || c.Ledger.FailedFile == "" {
			errs = append(errs, errors.New("ledger.processed_file and ledger.failed_file are required"))
		}
	case LedgerSQLite:
		if c.Ledger.SQLitePath == "" {
			errs = append(errs, errors.New("ledger.sqlite_path is required for the sqlite backend"))
		}
	case LedgerPostgres:
		if c.Ledger.Postgres.DSN == "" {
			errs = append(errs, errors.New("ledger.postgres.dsn is required for the postgres backend"))
		}
		if !tableName.MatchString(c.Ledger.Postgres.Table) {
			errs = append(errs, fmt.Errorf("ledger.postgres.table %q is not a valid identifier", c.Ledger.Postgres.Table))
		}
	case LedgerMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown ledger.backend %q", c.Ledger.Backend))
	}
	if c.Progress.BufferSize < 0 {
		errs = append(errs, errors.New("progress.buffer_size must be >= 0"))
	}
	if c.Progress.FlushInterval < 0 {
		errs = append(errs, errors.New("progress.flush_interval must be >= 0"))
	}
	return errors.Join(errs...)
}
