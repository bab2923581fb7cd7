package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"watcherseye/internal/catalog"
	"watcherseye/internal/store"
)

// Config holds all configuration for the price fetcher.
type Config struct {
	// Trade API
	TradeBaseURL     string        `mapstructure:"trade_base_url"`
	League           string        `mapstructure:"league"`
	UserAgent        string        `mapstructure:"user_agent"`
	TargetCurrency   string        `mapstructure:"target_currency"`
	MinItemLevel     int           `mapstructure:"min_item_level"`
	ExcludeCorrupted bool          `mapstructure:"exclude_corrupted"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	RetryCount       int           `mapstructure:"retry_count"`

	// Pacing
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	RateWindow        time.Duration `mapstructure:"rate_window"`
	CooldownTicks     int           `mapstructure:"cooldown_ticks"`
	TickInterval      time.Duration `mapstructure:"tick_interval"`

	// Relays
	ProxyEnabled bool   `mapstructure:"proxy_enabled"`
	ProxyListURL string `mapstructure:"proxy_list_url"`

	// Persistence
	StoreDriver string `mapstructure:"store_driver"`
	ResultsPath string `mapstructure:"results_path"`
	SQLitePath  string `mapstructure:"sqlite_path"`

	// Run
	Mode     string `mapstructure:"mode"`
	HTTPAddr string `mapstructure:"http_addr"`
	LogLevel string `mapstructure:"log_level"`
}

// RunMode returns the parsed Mode. Load has already validated it.
func (c *Config) RunMode() catalog.Mode {
	mode, _ := catalog.ParseMode(c.Mode)
	return mode
}

// SlogLevel returns the configured log level
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// ProxySourceURL returns the relay list URL, or "" when relays are disabled
func (c *Config) ProxySourceURL() string {
	if !c.ProxyEnabled {
		return ""
	}
	return c.ProxyListURL
}

// Flags returns the command-line flags Load understands
func Flags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("watcherseye", pflag.ContinueOnError)
	flags.String("mode", "", "worklist to fetch: single or pair")
	flags.String("config", "", "path to a config file (yaml)")
	flags.String("http-addr", "", "serve the control API on this address")
	flags.String("store", "", "result store driver: jsonl or sqlite")
	flags.Bool("proxies", false, "route requests through relays from proxy_list_url")
	return flags
}

// Load reads configuration from flags, environment variables, an optional
// .env file and an optional config file. Flags take precedence over
// environment variables, which take precedence over the config file.
//
// Environment variables use the key name upper-cased with a WATCHERSEYE_
// prefix, e.g. WATCHERSEYE_TARGET_CURRENCY or WATCHERSEYE_HTTP_ADDR.
func Load(flags *pflag.FlagSet) (*Config, error) {
	// Load .env file. Ignore error if file doesn't exist.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	v := viper.New()

	v.SetEnvPrefix("WATCHERSEYE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		v.BindPFlag("mode", flags.Lookup("mode"))
		v.BindPFlag("http_addr", flags.Lookup("http-addr"))
		v.BindPFlag("store_driver", flags.Lookup("store"))
		v.BindPFlag("proxy_enabled", flags.Lookup("proxies"))
	}

	// Optionally read from config file if it exists
	configFile := ""
	if flags != nil {
		configFile, _ = flags.GetString("config")
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.watcherseye")

		// Read config file (ignore if not found)
		_ = v.ReadInConfig()
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("trade_base_url", "https://www.pathofexile.com/api/trade")
	v.SetDefault("league", "Mercenaries")
	v.SetDefault("user_agent", "poe-watchers-eye-analyzer/1.0")
	v.SetDefault("target_currency", "divine")
	v.SetDefault("min_item_level", 86)
	v.SetDefault("exclude_corrupted", true)
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("retry_count", 0)

	v.SetDefault("requests_per_minute", 15)
	v.SetDefault("rate_window", time.Minute)
	v.SetDefault("cooldown_ticks", 10)
	v.SetDefault("tick_interval", time.Second)

	v.SetDefault("proxy_enabled", false)
	v.SetDefault("proxy_list_url", "https://raw.githubusercontent.com/TheSpeedX/PROXY-List/master/http.txt")

	v.SetDefault("store_driver", store.DriverJSONL)
	v.SetDefault("results_path", "watcher_prices.jsonl")
	v.SetDefault("sqlite_path", "watcher_prices.db")

	v.SetDefault("mode", string(catalog.ModePair))
	v.SetDefault("http_addr", "")
	v.SetDefault("log_level", "info")
}

// Validate reports every invalid field at once
func (c *Config) Validate() error {
	var problems []string

	if c.TradeBaseURL == "" {
		problems = append(problems, "trade_base_url is required")
	}
	if c.League == "" {
		problems = append(problems, "league is required")
	}
	if c.TargetCurrency == "" {
		problems = append(problems, "target_currency is required")
	}
	if c.MinItemLevel < 0 {
		problems = append(problems, "min_item_level must not be negative")
	}
	if c.RetryCount < 0 {
		problems = append(problems, "retry_count must not be negative")
	}
	if c.RequestsPerMinute < 2 {
		problems = append(problems, "requests_per_minute must be at least 2")
	}
	if c.RateWindow <= 0 {
		problems = append(problems, "rate_window must be positive")
	}
	if c.CooldownTicks <= 0 {
		problems = append(problems, "cooldown_ticks must be positive")
	}
	if c.TickInterval <= 0 {
		problems = append(problems, "tick_interval must be positive")
	}
	if c.ProxyEnabled && c.ProxyListURL == "" {
		problems = append(problems, "proxy_list_url is required when proxy_enabled is set")
	}
	switch c.StoreDriver {
	case store.DriverJSONL:
		if c.ResultsPath == "" {
			problems = append(problems, "results_path is required for the jsonl store")
		}
	case store.DriverSQLite:
		if c.SQLitePath == "" {
			problems = append(problems, "sqlite_path is required for the sqlite store")
		}
	default:
		problems = append(problems, fmt.Sprintf("store_driver %q is not one of jsonl, sqlite", c.StoreDriver))
	}
	if _, err := catalog.ParseMode(c.Mode); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
