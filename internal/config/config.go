// Package config loads branchwise settings from defaults, a YAML file,
// BRANCHWISE_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	AppName   = "branchwise"
	EnvPrefix = "BRANCHWISE"

	SourceNative = "native"
	SourceGitCLI = "gitcli"

	FormatText = "text"
	FormatJSON = "json"
)

type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	History  HistoryConfig  `mapstructure:"history"`
	Watch    WatchConfig    `mapstructure:"watch"`
	Notice   NoticeConfig   `mapstructure:"notice"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	// Path of the projects file; empty keeps the registry in memory.
	Path string `mapstructure:"path"`
}

type HistoryConfig struct {
	PageSize  int    `mapstructure:"page_size"`
	Source    string `mapstructure:"source"`
	CacheSize int    `mapstructure:"cache_size"`
}

type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce"`
	Ignore   []string      `mapstructure:"ignore"`
}

type NoticeConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// flagKeys maps command-line flag names onto configuration keys.
var flagKeys = map[string]string{
	"log-level":      "log.level",
	"log-format":     "log.format",
	"database":       "database.path",
	"page-size":      "history.page_size",
	"history-source": "history.source",
	"watch":          "watch.enabled",
	"watch-debounce": "watch.debounce",
}

func Defaults() map[string]any {
	return map[string]any{
		"log.level":          "info",
		"log.format":         FormatText,
		"database.path":      DefaultDatabasePath(),
		"history.page_size":  30,
		"history.source":     SourceNative,
		"history.cache_size": 4096,
		"watch.enabled":      true,
		"watch.debounce":     "350ms",
		"watch.ignore":       []string{"**/*.lock", "**/*.ipc"},
		"notice.timeout":     "5s",
	}
}

func DefaultConfigFile() string {
	return filepath.Join(xdg.ConfigHome, AppName, "config.yaml")
}

func DefaultDatabasePath() string {
	return filepath.Join(xdg.DataHome, AppName, "projects.yaml")
}

// Load resolves the configuration. An explicit path must exist; the default
// file is optional. flags may be nil. Returns the config file used, if any.
func Load(path string, flags *pflag.FlagSet) (Config, string, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(filepath.Join(xdg.ConfigHome, AppName))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, "", fmt.Errorf("read configuration: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, "", fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return Config{}, "", fmt.Errorf("parse configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, "", err
	}
	return cfg, v.ConfigFileUsed(), nil
}

func (c Config) Validate() error {
	var errs []error
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if !slices.Contains([]string{FormatText, FormatJSON}, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	if c.History.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("history.page_size: must be positive, got %d", c.History.PageSize))
	}
	if !slices.Contains([]string{SourceNative, SourceGitCLI}, c.History.Source) {
		errs = append(errs, fmt.Errorf("history.source: unknown source %q", c.History.Source))
	}
	if c.History.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("history.cache_size: must not be negative"))
	}
	if c.Watch.Debounce < 0 {
		errs = append(errs, fmt.Errorf("watch.debounce: must not be negative"))
	}
	for _, pattern := range c.Watch.Ignore {
		if !doublestar.ValidatePattern(pattern) {
			errs = append(errs, fmt.Errorf("watch.ignore: invalid pattern %q", pattern))
		}
	}
	if c.Notice.Timeout < 0 {
		errs = append(errs, fmt.Errorf("notice.timeout: must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// NewLogger builds the process logger described by c.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := ParseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == FormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
