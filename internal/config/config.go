// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Security   SecurityConfig   `mapstructure:"security"`
	Session    SessionConfig    `mapstructure:"session"`
	Validation ValidationConfig `mapstructure:"validation"`
	Games      GamesConfig      `mapstructure:"games"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// SecurityConfig holds the message channel security configuration.
// Secret is the key shared out-of-band with the embedded content.
type SecurityConfig struct {
	Secret         string        `mapstructure:"secret"`
	Scheme         string        `mapstructure:"scheme"` // "hmac" or "fallback"
	Staleness      time.Duration `mapstructure:"staleness"`
	SkewTolerance  time.Duration `mapstructure:"skew_tolerance"`
	ReplayCacheTTL time.Duration `mapstructure:"replay_cache_ttl"`
}

// SessionConfig holds session lifecycle configuration.
type SessionConfig struct {
	CheckpointInterval time.Duration `mapstructure:"checkpoint_interval"`
	EmergencyWindow    time.Duration `mapstructure:"emergency_window"`
	AssumedDuration    time.Duration `mapstructure:"assumed_duration"`
	XPPerPoint         float64       `mapstructure:"xp_per_point"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
}

// ValidationConfig holds anti-cheat heuristic tuning. These are
// sensitivity knobs, not protocol constants.
type ValidationConfig struct {
	TimingVarianceFloor float64 `mapstructure:"timing_variance_floor"` // squared ms
}

// GamesConfig holds the per-game catalog configuration.
type GamesConfig struct {
	DefaultMaxScoreRate float64               `mapstructure:"default_max_score_rate"`
	Catalog             map[string]GameConfig `mapstructure:"catalog"`
}

// GameConfig describes the limits for one known game.
type GameConfig struct {
	Name         string  `mapstructure:"name"`
	MaxScoreRate float64 `mapstructure:"max_score_rate"` // points per second
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables use underscore separator and uppercase,
	// e.g., SECURITY_SECRET, DATABASE_HOST, SERVER_ADDR.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is optional; env vars can provide all config.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Security.Secret == "" {
		return nil, fmt.Errorf("security.secret is required")
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "15s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "gamesession")
	v.SetDefault("database.name", "gamesession")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	// Security defaults
	v.SetDefault("security.scheme", "hmac")
	v.SetDefault("security.staleness", "30s")
	v.SetDefault("security.skew_tolerance", "5s")
	v.SetDefault("security.replay_cache_ttl", "30s")

	// Session defaults
	v.SetDefault("session.checkpoint_interval", "5s")
	v.SetDefault("session.emergency_window", "10m")
	v.SetDefault("session.assumed_duration", "3m")
	v.SetDefault("session.xp_per_point", 0.1)
	v.SetDefault("session.sweep_interval", "1m")

	// Validation heuristics
	v.SetDefault("validation.timing_variance_floor", 100.0)

	// Game catalog defaults
	v.SetDefault("games.default_max_score_rate", 10.0)
	v.SetDefault("games.catalog.tile-matcher.name", "Tile Matcher")
	v.SetDefault("games.catalog.tile-matcher.max_score_rate", 25.0)
	v.SetDefault("games.catalog.gem-collector.name", "Gem Collector")
	v.SetDefault("games.catalog.gem-collector.max_score_rate", 50.0)
}
