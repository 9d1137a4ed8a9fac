/*
config.go - Runtime configuration and logger construction

PURPOSE:
  Loads server, database, retry, logging and CORS settings with viper.
  Every key has a default, so the server starts with no file and no env.

SOURCES (later wins):
  1. Defaults below
  2. config.yaml in "." or "./config" (optional)
  3. Environment, prefix LEDGER_, dots become underscores
     (LEDGER_DATABASE_DRIVER → database.driver)
  4. Command-line flags, applied by cmd/server after Load

KEYS:
  server.port                   8080
  server.mode                   development | production
  database.driver               sqlite | postgres | memory
  database.dsn                  file path for sqlite, URL for postgres
  database.max_open_conns       postgres pool size
  ledger.retry.max_attempts     attempts per unit of work
  ledger.retry.initial_delay    first backoff
  ledger.retry.max_delay        backoff ceiling
  log.level                     debug | info | warn | error
  log.format                    console | json
  cors.allowed_origins          list of origins

SEE ALSO:
  - cmd/server/main.go: flag overrides and wiring
*/
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/warp/storeledger/ledger"
)

const EnvPrefix = "LEDGER"

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Log      LogConfig      `mapstructure:"log"`
	CORS     CORSConfig     `mapstructure:"cors"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type LedgerConfig struct {
	Retry RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads configuration. A missing config file is not an error.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	retry := ledger.DefaultRetryPolicy()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "development")
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.dsn", "ledger.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("ledger.retry.max_attempts", retry.MaxAttempts)
	v.SetDefault("ledger.retry.initial_delay", retry.InitialDelay)
	v.SetDefault("ledger.retry.max_delay", retry.MaxDelay)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for driver %q", c.Database.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	if c.Ledger.Retry.MaxAttempts < 1 {
		return fmt.Errorf("ledger.retry.max_attempts must be at least 1, got %d", c.Ledger.Retry.MaxAttempts)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level %q: %w", c.Log.Level, err)
	}
	return nil
}

// RetryPolicy converts the retry section, keeping the default backoff factor.
func (c *Config) RetryPolicy() ledger.RetryPolicy {
	p := ledger.DefaultRetryPolicy()
	p.MaxAttempts = c.Ledger.Retry.MaxAttempts
	if c.Ledger.Retry.InitialDelay > 0 {
		p.InitialDelay = c.Ledger.Retry.InitialDelay
	}
	if c.Ledger.Retry.MaxDelay > 0 {
		p.MaxDelay = c.Ledger.Retry.MaxDelay
	}
	return p
}

// Logger builds the process logger: human-readable console output unless
// log.format is json.
func (c *Config) Logger() zerolog.Logger {
	return c.LoggerTo(os.Stderr)
}

func (c *Config) LoggerTo(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	out := w
	if c.Log.Format != "json" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "storeledger").Logger()
}
