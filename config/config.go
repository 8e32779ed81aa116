package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds the process settings read from app.env and the environment.
type Config struct {
	ServerAddress        string        `mapstructure:"SERVER_ADDRESS"`
	StorageDriver        string        `mapstructure:"STORAGE_DRIVER"`
	DatabaseURL          string        `mapstructure:"DATABASE_URL"`
	MigrationURL         string        `mapstructure:"MIGRATION_URL"`
	JWTSecret            string        `mapstructure:"JWT_SECRET"`
	AMQPURL              string        `mapstructure:"AMQP_URL"`
	AMQPExchange         string        `mapstructure:"AMQP_EXCHANGE"`
	Timezone             string        `mapstructure:"TIMEZONE"`
	LogLevel             string        `mapstructure:"LOG_LEVEL"`
	LogFormat            string        `mapstructure:"LOG_FORMAT"`
	RequestTimeout       time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	OutboxPollInterval   time.Duration `mapstructure:"OUTBOX_POLL_INTERVAL"`
	SettlementCutoffHour int           `mapstructure:"SETTLEMENT_CUTOFF_HOUR"`
}

var defaults = map[string]any{
	"SERVER_ADDRESS":         ":8080",
	"STORAGE_DRIVER":         DriverPostgres,
	"DATABASE_URL":           "",
	"MIGRATION_URL":          "file://migrations",
	"JWT_SECRET":             "",
	"AMQP_URL":               "",
	"AMQP_EXCHANGE":          "freightflow.events",
	"TIMEZONE":               "America/Sao_Paulo",
	"LOG_LEVEL":              "info",
	"LOG_FORMAT":             "json",
	"REQUEST_TIMEOUT":        "15s",
	"OUTBOX_POLL_INTERVAL":   "2s",
	"SETTLEMENT_CUTOFF_HOUR": 12,
}

// LoadConfig reads path/app.env when present; environment variables win
// over the file and the file over the defaults.
func LoadConfig(path string) (cfg Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("config: read app.env: %w", err)
		}
	}
	if err = v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch strings.ToLower(c.StorageDriver) {
	case DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.JWTSecret == "" {
		return errors.New("config: JWT_SECRET is required")
	}
	if c.SettlementCutoffHour < 0 || c.SettlementCutoffHour > 23 {
		return fmt.Errorf("config: SETTLEMENT_CUTOFF_HOUR %d out of range", c.SettlementCutoffHour)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: TIMEZONE: %w", err)
	}
	return nil
}

// Location resolves Timezone. Validate has already checked it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
