package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for connector-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`

	// Connectors holds timeouts and pooling for outbound calls to external systems.
	Connectors ConnectorsConfig `yaml:"connectors"`

	// PushRetry controls how submissions are retried after transient connector failures.
	PushRetry PushRetryConfig `yaml:"push_retry"`

	// Key used to encrypt stored connection configurations.
	// Generate with: openssl rand -base64 32
	CredentialsKey string `yaml:"-" env:"CREDENTIALS_KEY"` // Secret - not in YAML
}

// AuthConfig holds admin API authentication settings.
type AuthConfig struct {
	// EnableVerification controls whether bearer tokens are validated.
	// Set to false for local development.
	EnableVerification bool   `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`
	JWTSecret          string `yaml:"-" env:"JWT_SECRET"` // Secret - not in YAML
	AdminRole          string `yaml:"admin_role" env:"AUTH_ADMIN_ROLE" env-default:"admin"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"connector"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"connector_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds the optional schema cache settings.
// An empty host disables caching.
type RedisConfig struct {
	Host      string        `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port      int           `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password  string        `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB        int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	SchemaTTL time.Duration `yaml:"schema_ttl" env:"REDIS_SCHEMA_TTL" env-default:"5m"`
}

// ConnectorsConfig holds outbound connector settings.
type ConnectorsConfig struct {
	// ConnectionTTLMinutes is how long idle SQL connector pools are kept alive.
	ConnectionTTLMinutes int `yaml:"connection_ttl_minutes" env:"CONNECTOR_CONNECTION_TTL_MINUTES" env-default:"5"`
	// PoolMaxConns is the maximum number of open connections per SQL connector pool.
	PoolMaxConns int `yaml:"pool_max_conns" env:"CONNECTOR_POOL_MAX_CONNS" env-default:"5"`

	DHIS2 TimeoutConfig `yaml:"dhis2" env-prefix:"DHIS2_"`
	SQL   TimeoutConfig `yaml:"sql" env-prefix:"SQL_"`
}

// TimeoutConfig bounds a single external call.
type TimeoutConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT" env-default:"10s"`
	ReadTimeout    time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT" env-default:"30s"`
}

// PushRetryConfig mirrors retry.Config for submission pushes.
type PushRetryConfig struct {
	MaxRetries   int           `yaml:"max_retries" env:"PUSH_MAX_RETRIES" env-default:"3"`
	InitialDelay time.Duration `yaml:"initial_delay" env:"PUSH_INITIAL_DELAY" env-default:"500ms"`
	MaxDelay     time.Duration `yaml:"max_delay" env:"PUSH_MAX_DELAY" env-default:"10s"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// When config.yaml does not exist, configuration comes from the environment only.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Auth.EnableVerification && c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when auth verification is enabled")
	}
	if c.Connectors.DHIS2.ConnectTimeout <= 0 || c.Connectors.SQL.ConnectTimeout <= 0 {
		return fmt.Errorf("connector connect_timeout must be positive")
	}
	return nil
}

// IsLocal reports whether the engine runs in a developer environment.
func (c *Config) IsLocal() bool {
	return c.Env == "local" || c.Env == "test"
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
