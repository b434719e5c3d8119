package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const configPathEnv = "CONFIG_FILE"

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

type Config struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	StoreBackend    string `yaml:"store_backend"`
	DatabaseURL     string `yaml:"database_url"`
	MongoURL        string `yaml:"mongo_url"`
	MongoDatabase   string `yaml:"mongo_database"`
	MongoCollection string `yaml:"mongo_collection"`

	NatsURL   string `yaml:"nats_url"`
	NatsToken string `yaml:"nats_token"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	TelegramToken string `yaml:"telegram_token"`
	APIToken      string `yaml:"api_token"`

	SessionIdleTimeout   time.Duration `yaml:"session_idle_timeout"`
	SessionSweepInterval time.Duration `yaml:"session_sweep_interval"`
	StoreTimeout         time.Duration `yaml:"store_timeout"`
	DedupTTL             time.Duration `yaml:"dedup_ttl"`
	LedgerPageSize       int           `yaml:"ledger_page_size"`
}

func defaults() Config {
	return Config{
		Port:                 8760,
		LogLevel:             "info",
		StoreBackend:         BackendMemory,
		MongoDatabase:        "tenere_fuel",
		MongoCollection:      "history",
		SessionIdleTimeout:   30 * time.Minute,
		SessionSweepInterval: 5 * time.Minute,
		StoreTimeout:         5 * time.Second,
		DedupTTL:             24 * time.Hour,
		LedgerPageSize:       100,
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (or $CONFIG_FILE when path is empty), then environment variables.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode yaml: %w", err)
		}
	}

	cfg.Port = envInt("TENERE_PORT", cfg.Port)
	cfg.LogLevel = envStr("LOG_LEVEL", cfg.LogLevel)
	cfg.StoreBackend = envStr("STORE_BACKEND", cfg.StoreBackend)
	cfg.DatabaseURL = envStr("DATABASE_URL", cfg.DatabaseURL)
	cfg.MongoURL = envStr("MONGO_URL", cfg.MongoURL)
	cfg.MongoDatabase = envStr("MONGO_DATABASE", cfg.MongoDatabase)
	cfg.MongoCollection = envStr("MONGO_COLLECTION", cfg.MongoCollection)
	cfg.NatsURL = envStr("NATS_URL", cfg.NatsURL)
	cfg.NatsToken = envStr("NATS_TOKEN", cfg.NatsToken)
	cfg.RedisAddr = envStr("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = envStr("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = envInt("REDIS_DB", cfg.RedisDB)
	cfg.TelegramToken = envStr("TELEGRAM_TOKEN", cfg.TelegramToken)
	cfg.APIToken = envStr("TENERE_API_TOKEN", cfg.APIToken)
	cfg.SessionIdleTimeout = envDuration("SESSION_IDLE_TIMEOUT", cfg.SessionIdleTimeout)
	cfg.SessionSweepInterval = envDuration("SESSION_SWEEP_INTERVAL", cfg.SessionSweepInterval)
	cfg.StoreTimeout = envDuration("STORE_TIMEOUT", cfg.StoreTimeout)
	cfg.DedupTTL = envDuration("DEDUP_TTL", cfg.DedupTTL)
	cfg.LedgerPageSize = envInt("LEDGER_PAGE_SIZE", cfg.LedgerPageSize)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports settings the service cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	case BackendMongo:
		if c.MongoURL == "" {
			errs = append(errs, errors.New("MONGO_URL is required for the mongo backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.StoreBackend))
	}
	if c.SessionIdleTimeout <= 0 {
		errs = append(errs, errors.New("SESSION_IDLE_TIMEOUT must be positive"))
	}
	if c.SessionSweepInterval < 0 {
		errs = append(errs, errors.New("SESSION_SWEEP_INTERVAL must not be negative"))
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("STORE_TIMEOUT must be positive"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
