// Package config provides configuration loading and validation for the
// clock service. Values come from defaults, an optional config.yaml, and
// CLOCK_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration for the clock service.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// TelegramConfig identifies the bot credentials and the source channel.
// Both values are required; startup fails without them.
type TelegramConfig struct {
	Token   string `mapstructure:"token"   validate:"required"`
	Channel string `mapstructure:"channel" validate:"required"`
}

// DatabaseConfig locates the SQLite file.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port" validate:"min=1,max=65535"`
	WebDir string `mapstructure:"web_dir"`
}

// FetchConfig tunes the ingestion pipeline.
type FetchConfig struct {
	Limit      int           `mapstructure:"limit"       validate:"min=1"`
	WindowDays int           `mapstructure:"window_days"`
	Interval   time.Duration `mapstructure:"interval"    validate:"min=1s"`
	Background bool          `mapstructure:"background"`
}

// Default values for optional parameters.
const (
	DefaultLogLevel      = "info"
	DefaultDBPath        = "clock_data.db"
	DefaultServerHost    = "0.0.0.0"
	DefaultServerPort    = 8000
	DefaultWebDir        = "web"
	DefaultFetchLimit    = 5
	DefaultWindowDays    = 30
	DefaultFetchInterval = 300 * time.Second
)

// Load reads configuration from defaults, an optional config.yaml in the
// working directory, and CLOCK_* environment variables, then validates it.
func Load() (*Config, error) {
	setDefaults()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("CLOCK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Keys without defaults are invisible to Unmarshal unless bound.
	for _, key := range []string{"telegram.token", "telegram.channel"} {
		if err := viper.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Missing config file is fine, defaults plus env cover everything.
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("log.level", DefaultLogLevel)
	viper.SetDefault("log.json", false)

	viper.SetDefault("database.path", DefaultDBPath)

	viper.SetDefault("server.host", DefaultServerHost)
	viper.SetDefault("server.port", DefaultServerPort)
	viper.SetDefault("server.web_dir", DefaultWebDir)

	viper.SetDefault("fetch.limit", DefaultFetchLimit)
	viper.SetDefault("fetch.window_days", DefaultWindowDays)
	viper.SetDefault("fetch.interval", DefaultFetchInterval)
	viper.SetDefault("fetch.background", true)
}
