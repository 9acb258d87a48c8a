package config

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/readsync/internal/kvstore"
	"github.com/spf13/viper"
)

const (
	envPrefix           = "READSYNC"
	defaultHTTPAddress  = "0.0.0.0:3030"
	defaultStoreDriver  = kvstore.DriverRedis
	defaultRedisURL     = "redis://127.0.0.1:6379/0"
	defaultDatabasePath = "readsync.db"
	defaultLogLevel     = "info"
	defaultLogFormat    = "json"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	StoreDriver    string
	RedisURL       string
	DatabasePath   string
	LogLevel       string
	LogFormat      string
	MetricsEnabled bool
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("store.driver", defaultStoreDriver)
	configViper.SetDefault("redis.url", defaultRedisURL)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("metrics.enabled", false)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		StoreDriver:    configViper.GetString("store.driver"),
		RedisURL:       configViper.GetString("redis.url"),
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       configViper.GetString("log.level"),
		LogFormat:      configViper.GetString("log.format"),
		MetricsEnabled: configViper.GetBool("metrics.enabled"),
	}

	driver, err := kvstore.NormalizeDriver(cfg.StoreDriver)
	if err != nil {
		return AppConfig{}, fmt.Errorf("store.driver: %w", err)
	}
	cfg.StoreDriver = driver

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	switch c.StoreDriver {
	case kvstore.DriverRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("redis.url is required for the redis store")
		}
	case kvstore.DriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required for the sqlite store")
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.LogFormat)
	}
	return nil
}
