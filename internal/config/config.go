// Package config loads service settings from an optional config file and the
// environment. Precedence: flags (bound by the command layer) > environment >
// config file > defaults.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds everything the service needs to start.
type Config struct {
	// DBPath is the SQLite database file, or ":memory:" for an ephemeral
	// queue.
	DBPath string `mapstructure:"db_path"`

	// ImagesDir is where completed artifacts are written.
	ImagesDir string `mapstructure:"images_dir"`

	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// OTELEnabled turns on metric export. Off by default; the service runs
	// fine without a collector.
	OTELEnabled bool `mapstructure:"otel_enabled"`
}

// Addr returns the host:port the HTTP server binds to.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load reads configuration. cfgFile may be empty, in which case dig.yaml is
// searched for in the working directory and is optional.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("db_path", "db/image_tasks.db")
	v.SetDefault("images_dir", "images")
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8000)
	v.SetDefault("otel_enabled", false)

	v.SetEnvPrefix("DIG")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	// DB_PATH without the prefix is honored for compatibility with older
	// deployments.
	_ = v.BindEnv("db_path", "DIG_DB_PATH", "DB_PATH")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	} else {
		v.SetConfigName("dig")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}
	return &cfg, nil
}
