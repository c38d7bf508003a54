package main

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the daemon settings. Every key can be provided through
// the config file or an environment variable of the same name.
type Config struct {
	Listen   string `mapstructure:"LISTEN"`
	Driver   string `mapstructure:"DRIVER"` // mem, sqlite, postgres, mysql
	DSN      string `mapstructure:"DSN"`
	Schema   string `mapstructure:"SCHEMA"`
	Policy   string `mapstructure:"POLICY"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
	Dev      bool   `mapstructure:"DEV"`
}

// LoadConfig reads the optional config file at path and merges it with
// environment variables and defaults.
func LoadConfig(path string) (*Config, error) {
	viper.SetDefault("LISTEN", ":8080")
	viper.SetDefault("DRIVER", "mem")
	viper.SetDefault("DSN", "")
	viper.SetDefault("SCHEMA", "schema.yaml")
	viper.SetDefault("POLICY", "policy.yaml")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("DEV", false)

	viper.SetEnvPrefix("WARDEN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	switch cfg.Driver {
	case "mem", "sqlite", "postgres", "mysql":
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}
	if cfg.Driver != "mem" && cfg.DSN == "" {
		return nil, fmt.Errorf("driver %q requires a DSN", cfg.Driver)
	}
	return &cfg, nil
}
