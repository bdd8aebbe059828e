// Package config loads the qPCR engine's runtime configuration, adapted
// from the teacher's viper-backed internal/config/config.go: the same
// env-prefix/search-path/defaults/validate shape, with the teacher's
// external_api.{clinvar,gnomad,cosmic} section replaced by the three
// qPCR-specific configuration blobs (pathogen library, fixed-threshold
// table, ML configuration) that spec §6 treats as "supplied as
// configuration blobs".
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/qpcr-scurve/engine/internal/domain"
)

// ServerConfig carries the thin HTTP host's listen settings.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  string
	WriteTimeout string
	IdleTimeout  string
}

// DatabaseConfig carries the Postgres training-data store connection
// settings, mirroring the teacher's domain.DatabaseConfig fields.
type DatabaseConfig struct {
	Driver          string // "sqlite" or "postgres"
	SQLitePath      string
	Host            string
	Port            int
	Database        string
	Username        string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime string
}

// CacheConfig carries the Redis connection settings for internal/cache.
type CacheConfig struct {
	RedisURL   string
	DefaultTTL string
	MaxRetries int
	PoolSize   int
}

// LoggingConfig mirrors the teacher's logging section.
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// AppConfig is the fully unmarshaled configuration tree, the qPCR
// analogue of the teacher's domain.Config.
type AppConfig struct {
	Server   ServerConfig
	Database DatabaseConfig
	Cache    CacheConfig
	Logging  LoggingConfig

	PathogenLibrary     domain.PathogenLibrary
	FixedThresholdTable domain.FixedThresholdTable
	ML                  domain.MLConfig
}

// Manager loads and validates an AppConfig via viper, exactly as the
// teacher's Manager does for domain.Config.
type Manager struct {
	config *AppConfig
}

// NewManager builds a Manager, reading config.yaml (if present) layered
// over defaults and QPCR_-prefixed environment variables.
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

func (m *Manager) loadConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/qpcr-scurve-analyzer/")

	viper.SetEnvPrefix("QPCR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	m.setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; using defaults and environment variables.
	}

	config := &AppConfig{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	if config.PathogenLibrary == nil {
		config.PathogenLibrary = domain.PathogenLibrary{}
	}
	if config.FixedThresholdTable == nil {
		config.FixedThresholdTable = domain.FixedThresholdTable{}
	}
	if config.ML.PerChannel == nil {
		config.ML = domain.DefaultMLConfig()
	}

	m.config = config
	return nil
}

func (m *Manager) setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")

	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.sqlite_path", "./data/training_examples.db")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "qpcr_scurve")
	viper.SetDefault("database.username", "postgres")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")

	viper.SetDefault("cache.redis_url", "redis://localhost:6379")
	viper.SetDefault("cache.default_ttl", "15m")
	viper.SetDefault("cache.max_retries", 3)
	viper.SetDefault("cache.pool_size", 10)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")

	viper.SetDefault("ml.global_enabled", true)
	viper.SetDefault("ml.min_training_examples", 10)
	viper.SetDefault("ml.prediction_gate", 20)
	viper.SetDefault("ml.auto_training_enabled", true)
	viper.SetDefault("ml.reset_protection_enabled", true)
}

// GetConfig returns the complete configuration.
func (m *Manager) GetConfig() *AppConfig { return m.config }

// GetDatabaseConfig returns the database configuration section.
func (m *Manager) GetDatabaseConfig() *DatabaseConfig { return &m.config.Database }

// GetServerConfig returns the server configuration section.
func (m *Manager) GetServerConfig() *ServerConfig { return &m.config.Server }

// GetCacheConfig returns the cache configuration section.
func (m *Manager) GetCacheConfig() *CacheConfig { return &m.config.Cache }

// Reload re-reads configuration from disk/env, refreshing blob
// validation (pathogen library, fixed-threshold table, ML config).
func (m *Manager) Reload() error { return m.loadConfig() }

// Validate enforces structural validity of every section, including the
// qPCR configuration blobs — "validated at load; disallow silent
// fallthrough except where specified" (spec §9).
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Database.Driver {
	case "sqlite":
		if config.Database.SQLitePath == "" {
			return fmt.Errorf("database sqlite_path is required")
		}
	case "postgres":
		if config.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if config.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	default:
		return fmt.Errorf("invalid database driver: %s", config.Database.Driver)
	}

	if config.Cache.RedisURL == "" {
		return fmt.Errorf("redis URL is required")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	if err := config.PathogenLibrary.Validate(); err != nil {
		return fmt.Errorf("pathogen library: %w", err)
	}
	if err := config.FixedThresholdTable.Validate(); err != nil {
		return fmt.Errorf("fixed threshold table: %w", err)
	}
	if err := config.ML.Validate(); err != nil {
		return fmt.Errorf("ml config: %w", err)
	}

	return nil
}

// GetDatabaseConnectionString formats a libpq-style DSN, mirroring the
// teacher's Manager.GetDatabaseConnectionString.
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// GetRedisConnectionString returns the Redis connection string.
func (m *Manager) GetRedisConnectionString() string {
	return m.config.Cache.RedisURL
}

// IsProduction returns true if QPCR_ENVIRONMENT=production.
func (m *Manager) IsProduction() bool {
	return strings.ToLower(viper.GetString("environment")) == "production"
}

// IsDevelopment returns true if running in development mode (the default).
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(viper.GetString("environment"))
	return env == "development" || env == "dev" || env == ""
}
