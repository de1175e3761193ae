// Package config loads moneytracker settings from the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/ArionMiles/moneytracker/pkg/store/postgres"
)

// Defaults applied when a variable is unset or empty.
const (
	DefaultStore            = "sqlite"
	DefaultSQLitePath       = "data/moneytracker.db"
	DefaultQueueSize        = 100
	DefaultRolloverInterval = time.Hour
	DefaultHTTPAddr         = ":8080"
	DefaultClientSecretFile = "data/client_secret.json"
	DefaultTokenFile        = "data/token.json"
	DefaultSheetName        = "Expenses"
	DefaultSheetTitle       = "moneytracker"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	// Store selects the backend: "sqlite" or "postgres".
	// Environment variable: MONEYTRACKER_STORE
	Store string `koanf:"MONEYTRACKER_STORE"`

	// SQLitePath is the database file of the sqlite backend.
	// Environment variable: SQLITE_DB_PATH
	SQLitePath string `koanf:"SQLITE_DB_PATH"`

	// Postgres holds the connection settings of the postgres backend.
	Postgres PostgresConfig `koanf:",squash"`

	// Source is the notification source plugin. Empty means HTTP push only.
	// Environment variable: MONEYTRACKER_SOURCE
	Source string `koanf:"MONEYTRACKER_SOURCE"`

	// SourceConfig is the JSON configuration for the source plugin.
	// Environment variable: MONEYTRACKER_SOURCE_CONFIG
	SourceConfig json.RawMessage `koanf:"MONEYTRACKER_SOURCE_CONFIG"`

	// QueueSize bounds the ingestion queue.
	// Environment variable: INGEST_QUEUE_SIZE
	QueueSize int `koanf:"INGEST_QUEUE_SIZE"`

	// RolloverInterval is the period of the rollover check.
	// Environment variable: ROLLOVER_CHECK_INTERVAL
	RolloverInterval time.Duration `koanf:"ROLLOVER_CHECK_INTERVAL"`

	// HTTPAddr is the listen address of the review API.
	// Environment variable: HTTP_ADDR
	HTTPAddr string `koanf:"HTTP_ADDR"`

	// LogLevel is one of DEBUG, INFO, WARN or ERROR.
	// Environment variable: LOG_LEVEL
	LogLevel string `koanf:"LOG_LEVEL"`

	// LogJSON switches to JSON log output.
	// Environment variable: LOG_JSON
	LogJSON bool `koanf:"LOG_JSON"`

	// BankRulesFile replaces the built-in bank table when set.
	// Environment variable: BANK_RULES_FILE
	BankRulesFile string `koanf:"BANK_RULES_FILE"`

	Google GoogleConfig `koanf:",squash"`
}

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	Host        string `koanf:"POSTGRES_HOST"`
	Port        int    `koanf:"POSTGRES_PORT"`
	Database    string `koanf:"POSTGRES_DB"`
	User        string `koanf:"POSTGRES_USER"`
	Password    string `koanf:"POSTGRES_PASSWORD"`
	SSLMode     string `koanf:"POSTGRES_SSLMODE"`
	MaxPoolSize int    `koanf:"POSTGRES_MAX_POOL_SIZE"`
}

// Store converts the settings for the postgres backend.
func (p PostgresConfig) Store() postgres.Config {
	return postgres.Config{
		Host:        p.Host,
		Port:        p.Port,
		Database:    p.Database,
		User:        p.User,
		Password:    p.Password,
		SSLMode:     p.SSLMode,
		MaxPoolSize: p.MaxPoolSize,
	}
}

// GoogleConfig holds OAuth and Sheets export settings.
type GoogleConfig struct {
	ClientSecretFile string `koanf:"GOOGLE_CLIENT_SECRET_FILE"`
	TokenFile        string `koanf:"GOOGLE_TOKEN_FILE"`
	SheetID          string `koanf:"GSHEETS_ID"`
	SheetTitle       string `koanf:"GSHEETS_TITLE"`
	SheetName        string `koanf:"GSHEETS_NAME"`
}

// Load reads envFiles (".env" when none are given) into the process
// environment without overriding variables already set, then unmarshals the
// environment. Missing env files are ignored.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", nil), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Store == "" {
		c.Store = DefaultStore
	}
	c.Store = strings.ToLower(c.Store)
	if c.SQLitePath == "" {
		c.SQLitePath = DefaultSQLitePath
	}
	if c.QueueSize == 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.RolloverInterval == 0 {
		c.RolloverInterval = DefaultRolloverInterval
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = DefaultHTTPAddr
	}
	if c.Google.ClientSecretFile == "" {
		c.Google.ClientSecretFile = DefaultClientSecretFile
	}
	if c.Google.TokenFile == "" {
		c.Google.TokenFile = DefaultTokenFile
	}
	if c.Google.SheetName == "" {
		c.Google.SheetName = DefaultSheetName
	}
	if c.Google.SheetTitle == "" {
		c.Google.SheetTitle = DefaultSheetTitle
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var problems []string

	switch c.Store {
	case "sqlite":
		if c.SQLitePath == "" {
			problems = append(problems, "SQLITE_DB_PATH is required for the sqlite store")
		}
	case "postgres":
		if c.Postgres.Host == "" {
			problems = append(problems, "POSTGRES_HOST is required for the postgres store")
		}
		if c.Postgres.Database == "" {
			problems = append(problems, "POSTGRES_DB is required for the postgres store")
		}
		if c.Postgres.User == "" {
			problems = append(problems, "POSTGRES_USER is required for the postgres store")
		}
		if c.Postgres.Port < 0 || c.Postgres.Port > 65535 {
			problems = append(problems, fmt.Sprintf("invalid POSTGRES_PORT %d: must be between 1 and 65535", c.Postgres.Port))
		}
	default:
		problems = append(problems, fmt.Sprintf("invalid MONEYTRACKER_STORE %q: must be sqlite or postgres", c.Store))
	}

	if c.QueueSize < 1 {
		problems = append(problems, fmt.Sprintf("invalid INGEST_QUEUE_SIZE %d: must be positive", c.QueueSize))
	}
	if c.RolloverInterval < time.Second {
		problems = append(problems, fmt.Sprintf("invalid ROLLOVER_CHECK_INTERVAL %s: must be at least 1s", c.RolloverInterval))
	}
	if _, _, err := net.SplitHostPort(c.HTTPAddr); err != nil {
		problems = append(problems, fmt.Sprintf("invalid HTTP_ADDR %q: %v", c.HTTPAddr, err))
	}
	if len(c.SourceConfig) > 0 && !json.Valid(c.SourceConfig) {
		problems = append(problems, "MONEYTRACKER_SOURCE_CONFIG is not valid JSON")
	}
	switch strings.ToUpper(c.LogLevel) {
	case "", "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		problems = append(problems, fmt.Sprintf("invalid LOG_LEVEL %q", c.LogLevel))
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}
