// Package config provides configuration management for the orderstream CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Supported database drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Supported projection backends.
const (
	BackendDatabase = "database"
	BackendRedis    = "redis"
)

// Supported serializers.
const (
	SerializerJSON    = "json"
	SerializerMsgpack = "msgpack"
)

// Config represents the orderstream CLI configuration
type Config struct {
	// Version of the config file format
	Version string `yaml:"version"`

	Database   DatabaseConfig   `yaml:"database"`
	Projection ProjectionConfig `yaml:"projection"`

	// Serializer is the event payload encoding: json or msgpack
	Serializer string `yaml:"serializer"`

	Logging       LoggingConfig       `yaml:"logging"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Tracing       TracingConfig       `yaml:"tracing"`
}

// DatabaseConfig contains event store connection settings
type DatabaseConfig struct {
	// Driver is the database driver (memory, sqlite, postgres)
	Driver string `yaml:"driver"`

	// URL is the postgres connection string
	URL string `yaml:"url,omitempty"`

	// Path is the sqlite database file
	Path string `yaml:"path,omitempty"`

	// Schema is the postgres schema to use
	Schema string `yaml:"schema,omitempty"`
}

// ProjectionConfig contains read model settings
type ProjectionConfig struct {
	// Backend is database (same driver as the event store) or redis
	Backend string `yaml:"backend"`

	RedisAddr   string `yaml:"redis_addr,omitempty"`
	RedisPrefix string `yaml:"redis_prefix,omitempty"`

	// RebuildConcurrency bounds the workers used by projection rebuild
	RebuildConcurrency int `yaml:"rebuild_concurrency"`
}

// LoggingConfig contains logger settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`

	// File enables rotated file output when set
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
}

// KafkaConfig enables publishing committed events to Kafka
type KafkaConfig struct {
	Brokers []string `yaml:"brokers,omitempty"`
	Topic   string   `yaml:"topic,omitempty"`
}

// NotificationsConfig enables customer notifications through SNS
type NotificationsConfig struct {
	SNSTopicARN string `yaml:"sns_topic_arn,omitempty"`
	Region      string `yaml:"region,omitempty"`
	Endpoint    string `yaml:"endpoint,omitempty"`
}

// TracingConfig contains tracing settings
type TracingConfig struct {
	// Stdout exports spans to standard output
	Stdout bool `yaml:"stdout"`
}

// envConfig holds the environment overrides applied on top of the file.
type envConfig struct {
	DatabaseURL  string   `env:"ORDERSTREAM_DATABASE_URL"`
	Driver       string   `env:"ORDERSTREAM_DRIVER"`
	SQLitePath   string   `env:"ORDERSTREAM_SQLITE_PATH"`
	RedisAddr    string   `env:"ORDERSTREAM_REDIS_ADDR"`
	KafkaBrokers []string `env:"ORDERSTREAM_KAFKA_BROKERS" envSeparator:","`
	LogLevel     string   `env:"ORDERSTREAM_LOG_LEVEL"`
	SNSTopicARN  string   `env:"ORDERSTREAM_SNS_TOPIC_ARN"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			Path:   "orderstream.db",
			Schema: "orderstream",
		},
		Projection: ProjectionConfig{
			Backend:            BackendDatabase,
			RedisPrefix:        "orderstream",
			RebuildConcurrency: 4,
		},
		Serializer: SerializerJSON,
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Kafka: KafkaConfig{
			Topic: "orderstream.orders",
		},
		Notifications: NotificationsConfig{
			Region: "us-east-1",
		},
	}
}

// ConfigFileName is the default config file name
const ConfigFileName = "orderstream.yaml"

// Load loads configuration from the specified directory
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, ConfigFileName)
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path. Fields absent from
// the file keep their defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// Save saves the configuration to the specified directory
func (c *Config) Save(dir string) error {
	path := filepath.Join(dir, ConfigFileName)
	return c.SaveFile(path)
}

// SaveFile saves the configuration to a specific file path
func (c *Config) SaveFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Exists checks if a config file exists in the directory
func Exists(dir string) bool {
	path := filepath.Join(dir, ConfigFileName)
	_, err := os.Stat(path)
	return err == nil
}

// FindConfig searches for a config file starting from dir and going up
func FindConfig(dir string) (string, *Config, error) {
	current := dir
	for {
		configPath := filepath.Join(current, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			cfg, err := LoadFile(configPath)
			if err != nil {
				return "", nil, err
			}
			return current, cfg, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			// Reached root, config not found
			return "", nil, os.ErrNotExist
		}
		current = parent
	}
}

// Resolve finds the config file from dir upward, falling back to defaults
// when none exists, then applies environment overrides.
func Resolve(dir string) (*Config, error) {
	_, cfg, err := FindConfig(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg = DefaultConfig()
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from ORDERSTREAM_* environment variables.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(env.Options{})
}

func (c *Config) applyEnv(opts env.Options) error {
	var e envConfig
	if err := env.ParseWithOptions(&e, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	if e.DatabaseURL != "" {
		c.Database.URL = e.DatabaseURL
		if e.Driver == "" {
			c.Database.Driver = DriverPostgres
		}
	}
	if e.Driver != "" {
		c.Database.Driver = e.Driver
	}
	if e.SQLitePath != "" {
		c.Database.Path = e.SQLitePath
	}
	if e.RedisAddr != "" {
		c.Projection.RedisAddr = e.RedisAddr
		c.Projection.Backend = BackendRedis
	}
	if len(e.KafkaBrokers) > 0 {
		c.Kafka.Brokers = e.KafkaBrokers
	}
	if e.LogLevel != "" {
		c.Logging.Level = e.LogLevel
	}
	if e.SNSTopicARN != "" {
		c.Notifications.SNSTopicARN = e.SNSTopicARN
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() []string {
	var errors []string

	switch c.Database.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Database.Path == "" {
			errors = append(errors, "database.path is required for sqlite driver")
		}
	case DriverPostgres:
		if c.Database.URL == "" {
			errors = append(errors, "database.url is required for postgres driver")
		}
	case "":
		errors = append(errors, "database.driver is required")
	default:
		errors = append(errors, "database.driver must be 'memory', 'sqlite' or 'postgres'")
	}

	switch c.Projection.Backend {
	case BackendDatabase:
	case BackendRedis:
		if c.Projection.RedisAddr == "" {
			errors = append(errors, "projection.redis_addr is required for redis backend")
		}
	default:
		errors = append(errors, "projection.backend must be 'database' or 'redis'")
	}

	if c.Projection.RebuildConcurrency < 0 {
		errors = append(errors, "projection.rebuild_concurrency must not be negative")
	}

	if c.Serializer != SerializerJSON && c.Serializer != SerializerMsgpack {
		errors = append(errors, "serializer must be 'json' or 'msgpack'")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errors = append(errors, "logging.level must be debug, info, warn or error")
	}

	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errors = append(errors, "logging.format must be 'text' or 'json'")
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errors = append(errors, "kafka.topic is required when brokers are set")
	}

	if c.Notifications.SNSTopicARN != "" && c.Notifications.Region == "" {
		errors = append(errors, "notifications.region is required for SNS")
	}

	return errors
}

// GenerateYAML generates YAML content with comments
func GenerateYAML(cfg *Config) string {
	return `# orderstream configuration file
# Environment variables ORDERSTREAM_DATABASE_URL, ORDERSTREAM_DRIVER,
# ORDERSTREAM_SQLITE_PATH, ORDERSTREAM_REDIS_ADDR, ORDERSTREAM_KAFKA_BROKERS,
# ORDERSTREAM_LOG_LEVEL and ORDERSTREAM_SNS_TOPIC_ARN override these values.

version: "1"

# Event store
database:
  # Driver: memory, sqlite or postgres
  driver: "` + cfg.Database.Driver + `"

  # sqlite database file
  path: "` + cfg.Database.Path + `"

  # Connection URL (postgres only)
  url: "` + cfg.Database.URL + `"

  # Database schema (postgres only)
  schema: "` + cfg.Database.Schema + `"

# Read model
projection:
  # Backend: database or redis
  backend: "` + cfg.Projection.Backend + `"
  redis_prefix: "` + cfg.Projection.RedisPrefix + `"
  rebuild_concurrency: ` + fmt.Sprint(cfg.Projection.RebuildConcurrency) + `

# Event payload encoding: json or msgpack
serializer: "` + cfg.Serializer + `"

logging:
  level: "` + cfg.Logging.Level + `"
  format: "` + cfg.Logging.Format + `"
  # Set file to write rotated logs instead of stderr
  # file: "orderstream.log"

# Publish committed events (leave brokers empty to disable)
kafka:
  topic: "` + cfg.Kafka.Topic + `"

# Customer notifications (leave sns_topic_arn empty to disable)
notifications:
  region: "` + cfg.Notifications.Region + `"

tracing:
  stdout: false
`
}
