/*
Package config loads runtime settings for the leave engine.

SOURCES (later wins):
  1. Defaults below
  2. .env in the working directory (optional, loaded with godotenv)
  3. LEAVE_* environment variables, e.g. LEAVE_DB_PATH, LEAVE_AMQP_URL
  4. Command-line flags bound by cmd/server

KEYS:
  port                 HTTP port (8080)
  db_path              SQLite file, ":memory:" for a throwaway database
  log_level            debug | info | warn | error
  log_format           text | json
  catalog_file         YAML leave-type catalog; empty uses the built-in one
  amqp_url             RabbitMQ URL; empty logs events instead of publishing
  amqp_exchange        topic exchange for workflow events
  cors_origins         comma separated list
  close_scheduler      close the previous year automatically
  close_interval       how often the scheduler checks
  close_concurrency    employees archived in parallel per year close
  shutdown_timeout     grace period for in-flight requests

SEE ALSO:
  - cmd/server/main.go: flag binding
  - factory/catalog.go: catalog_file format
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "LEAVE"

type Config struct {
	Port             int
	DBPath           string
	LogLevel         string
	LogFormat        string
	CatalogFile      string
	AMQPURL          string
	AMQPExchange     string
	CORSOrigins      []string
	CloseScheduler   bool
	CloseInterval    time.Duration
	CloseConcurrency int
	ShutdownTimeout  time.Duration
}

// SetDefaults registers every key on v so AutomaticEnv can find them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("db_path", "leave.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("catalog_file", "")
	v.SetDefault("amqp_url", "")
	v.SetDefault("amqp_exchange", "leave.events")
	v.SetDefault("cors_origins", []string{"http://localhost:5173", "http://localhost:8080"})
	v.SetDefault("close_scheduler", true)
	v.SetDefault("close_interval", time.Hour)
	v.SetDefault("close_concurrency", 4)
	v.SetDefault("shutdown_timeout", 30*time.Second)
}

// NewViper returns a viper instance reading LEAVE_* variables.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// LoadDotEnv loads the given files (".env" when none) into the process
// environment. Missing files are ignored; existing variables are kept.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads a Config from v and validates it.
func Load(v *viper.Viper) (Config, error) {
	c := Config{
		Port:             v.GetInt("port"),
		DBPath:           strings.TrimSpace(v.GetString("db_path")),
		LogLevel:         strings.ToLower(v.GetString("log_level")),
		LogFormat:        strings.ToLower(v.GetString("log_format")),
		CatalogFile:      strings.TrimSpace(v.GetString("catalog_file")),
		AMQPURL:          strings.TrimSpace(v.GetString("amqp_url")),
		AMQPExchange:     strings.TrimSpace(v.GetString("amqp_exchange")),
		CORSOrigins:      splitList(v.GetStringSlice("cors_origins")),
		CloseScheduler:   v.GetBool("close_scheduler"),
		CloseInterval:    v.GetDuration("close_interval"),
		CloseConcurrency: v.GetInt("close_concurrency"),
		ShutdownTimeout:  v.GetDuration("shutdown_timeout"),
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("config: db_path is required")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log_format %q", c.LogFormat)
	}
	if c.AMQPURL != "" && c.AMQPExchange == "" {
		return fmt.Errorf("config: amqp_exchange is required with amqp_url")
	}
	if c.CloseScheduler && c.CloseInterval <= 0 {
		return fmt.Errorf("config: close_interval must be positive")
	}
	if c.CloseConcurrency < 1 {
		return fmt.Errorf("config: close_concurrency must be at least 1")
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("config: shutdown_timeout must not be negative")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }

// splitList accepts both a real list and a single comma separated value from
// the environment.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, s := range strings.Split(item, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
