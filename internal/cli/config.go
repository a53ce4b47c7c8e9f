package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aussiebroadwan/rbs/pkg/rbs"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store drivers selectable through RBS_STORE.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Config is the rbsctl configuration, read from the environment.
type Config struct {
	Env       string `env:"ENV" envDefault:"dev"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"warn"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	ProjectID   string `env:"RBS_PROJECT_ID"`
	Region      string `env:"RBS_REGION" envDefault:"eu-west-1"`
	BaseURL     string `env:"RBS_BASE_URL"`
	RealtimeURL string `env:"RBS_REALTIME_URL"`
	Culture     string `env:"RBS_CULTURE"`
	DeveloperID string `env:"RBS_DEVELOPER_ID"`
	ServiceID   string `env:"RBS_SERVICE_ID"`

	// Timeout bounds every command except listen.
	Timeout time.Duration `env:"RBS_TIMEOUT" envDefault:"30s"`

	Store      string      `env:"RBS_STORE" envDefault:"sqlite"`
	SQLitePath string      `env:"RBS_SQLITE_PATH" envDefault:"rbs.db"`
	Redis      RedisConfig `envPrefix:"RBS_REDIS_"`
}

// RedisConfig is used when Store is "redis".
type RedisConfig struct {
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
	Prefix   string `env:"PREFIX" envDefault:"rbs:"`
}

// LoadConfig reads a .env file when one exists, then the environment.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	return cfg, cfg.Validate()
}

// Validate checks the values the SDK does not check itself.
func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreSQLite, StoreRedis:
	default:
		return fmt.Errorf("RBS_STORE: unknown store %q (want memory, sqlite or redis)", c.Store)
	}
	if c.Store == StoreSQLite && c.SQLitePath == "" {
		return errors.New("RBS_SQLITE_PATH is required for the sqlite store")
	}
	if c.Timeout <= 0 {
		return errors.New("RBS_TIMEOUT must be positive")
	}
	return nil
}

// SDKConfig maps the environment onto rbs.Config.
func (c Config) SDKConfig() (rbs.Config, error) {
	region, err := rbs.ParseRegion(c.Region)
	if err != nil {
		return rbs.Config{}, err
	}
	return rbs.Config{
		ProjectID:   c.ProjectID,
		Region:      region,
		BaseURL:     c.BaseURL,
		RealtimeURL: c.RealtimeURL,
		Culture:     c.Culture,
		DeveloperID: c.DeveloperID,
		ServiceID:   c.ServiceID,
	}, nil
}
