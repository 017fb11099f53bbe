// Package config loads the server configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Compaction CompactionConfig `yaml:"compaction"`
	RateLimit  RateLimitConfig  `yaml:"ratelimit"`
	Logging    LoggingConfig    `yaml:"logging"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Outbound frames buffered per session before it is evicted
	SendBuffer int `yaml:"send_buffer"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

type StorageConfig struct {
	// Driver is one of sqlite, postgres or memory.
	Driver         string `yaml:"driver"`
	Path           string `yaml:"path"`
	DSN            string `yaml:"dsn"`
	MaxConnections int    `yaml:"max_connections"`
}

type CompactionConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Interval  time.Duration `yaml:"interval"`
	Threshold int           `yaml:"threshold"`
}

type RateLimitConfig struct {
	MessagesPerSecond float64 `yaml:"messages_per_second"`
	MessageBurst      int     `yaml:"message_burst"`
	CommitsPerSecond  float64 `yaml:"commits_per_second"`
	CommitBurst       int     `yaml:"commit_burst"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type DiscoveryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{
		Compaction: CompactionConfig{Enabled: true},
	}
	applyDefaults(cfg)
	return cfg
}

// Load reads the configuration file at path. An empty path yields the
// defaults. SYNCBOARD_DB_PATH and PORT override the file in both cases.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Expand environment variables
		expanded := os.ExpandEnv(string(data))

		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if dbPath := os.Getenv("SYNCBOARD_DB_PATH"); dbPath != "" {
		cfg.Storage.Path = dbPath
	}
	if port := os.Getenv("PORT"); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		cfg.Server.Port = n
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.SendBuffer == 0 {
		cfg.Server.SendBuffer = 512
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverSQLite
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "./data/syncboard.db"
	}
	if cfg.Storage.MaxConnections == 0 {
		cfg.Storage.MaxConnections = 10
	}
	if cfg.Compaction.Interval == 0 {
		cfg.Compaction.Interval = 5 * time.Minute
	}
	if cfg.Compaction.Threshold == 0 {
		cfg.Compaction.Threshold = 100
	}
	if cfg.RateLimit.MessagesPerSecond == 0 {
		cfg.RateLimit.MessagesPerSecond = 100
	}
	if cfg.RateLimit.MessageBurst == 0 {
		cfg.RateLimit.MessageBurst = 200
	}
	if cfg.RateLimit.CommitsPerSecond == 0 {
		cfg.RateLimit.CommitsPerSecond = 20
	}
	if cfg.RateLimit.CommitBurst == 0 {
		cfg.RateLimit.CommitBurst = 40
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Discovery.Instance == "" {
		cfg.Discovery.Instance = "syncboard"
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Storage.Driver {
	case DriverSQLite, DriverMemory:
	case DriverPostgres:
		if strings.TrimSpace(c.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown logging.level %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown logging.format %q", c.Logging.Format))
	}
	if c.RateLimit.MessagesPerSecond < 0 || c.RateLimit.CommitsPerSecond < 0 {
		errs = append(errs, errors.New("ratelimit rates must not be negative"))
	}

	return errors.Join(errs...)
}
