// Package config provides configuration management for the cloudbackend server.
// Settings come from built-in defaults, an optional YAML file and environment
// variables, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// Entity store backends.
const (
	StoreSQL       = "sql"
	StoreFirestore = "firestore"
)

// Push transports.
const (
	PushLoopback = "loopback"
	PushRedis    = "redis"
	PushGCP      = "gcp"
)

// Config holds all configuration for the cloudbackend server.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     string          `yaml:"store"`
	Database  DatabaseConfig  `yaml:"database"`
	Firestore FirestoreConfig `yaml:"firestore"`
	Push      PushConfig      `yaml:"push"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Retention RetentionConfig `yaml:"retention"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// PushRatePerMinute and PushBurst limit the push ingress per client.
	PushRatePerMinute int `yaml:"push_rate_per_minute"`
	PushBurst         int `yaml:"push_burst"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // mysql, postgres, sqlite3
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Prefix   string `yaml:"prefix"` // Table prefix (default: "cloudbackend_")
}

// FirestoreConfig selects the Firestore project and collection.
type FirestoreConfig struct {
	ProjectID  string `yaml:"project_id"`
	Collection string `yaml:"collection"`
}

// PushConfig selects and configures the push transport.
type PushConfig struct {
	Transport string `yaml:"transport"`
	Buffer    int    `yaml:"buffer"` // loopback only

	Redis RedisConfig `yaml:"redis"`
	GCP   GCPConfig   `yaml:"gcp"`

	// ReconnectAttempts bounds receiver reconnects; 0 retries forever.
	ReconnectAttempts int `yaml:"reconnect_attempts"`
}

// RedisConfig configures the Redis push transport.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// GCPConfig configures the Cloud Pub/Sub push transport.
type GCPConfig struct {
	ProjectID      string `yaml:"project_id"`
	TopicID        string `yaml:"topic_id"`
	SubscriptionID string `yaml:"subscription_id"`
}

// DispatchConfig sizes the backlog fetch worker pool.
type DispatchConfig struct {
	PoolSize int `yaml:"pool_size"`
}

// RetentionConfig schedules the expired-message sweep.
type RetentionConfig struct {
	Schedule  string `yaml:"schedule"` // cron spec, empty disables the sweep
	BatchSize int    `yaml:"batch_size"`
}

// LoggingConfig configures the zerolog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// Default returns the built-in configuration: SQLite storage and the
// in-process push loopback.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			PushRatePerMinute: 600,
			PushBurst:         100,
		},
		Store: StoreSQL,
		Database: DatabaseConfig{
			Driver:   "sqlite3",
			Host:     "localhost",
			Database: "cloudbackend.db",
			Prefix:   "cloudbackend_",
		},
		Firestore: FirestoreConfig{
			Collection: "cloud_entities",
		},
		Push: PushConfig{
			Transport: PushLoopback,
			Buffer:    256,
		},
		Dispatch: DispatchConfig{
			PoolSize: 16,
		},
		Retention: RetentionConfig{
			Schedule:  "@every 1m",
			BatchSize: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the configuration. An empty path skips the YAML file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	overrideFromEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// overrideFromEnv applies environment variables on top of the file.
// Follows 12-factor app principles - configuration via environment.
func overrideFromEnv(cfg *Config) {
	cfg.Server.Host = getEnv("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("SERVER_PORT", cfg.Server.Port)
	cfg.Server.PushRatePerMinute = getEnvInt("PUSH_RATE_PER_MINUTE", cfg.Server.PushRatePerMinute)

	cfg.Store = getEnv("STORE", cfg.Store)
	cfg.Database.Driver = getEnv("DB_DRIVER", cfg.Database.Driver)
	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvInt("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnv("DB_NAME", cfg.Database.Database)
	cfg.Database.Prefix = getEnv("DB_PREFIX", cfg.Database.Prefix)

	cfg.Firestore.ProjectID = getEnv("FIRESTORE_PROJECT_ID", cfg.Firestore.ProjectID)
	cfg.Firestore.Collection = getEnv("FIRESTORE_COLLECTION", cfg.Firestore.Collection)

	cfg.Push.Transport = getEnv("PUSH_TRANSPORT", cfg.Push.Transport)
	cfg.Push.Redis.Addr = getEnv("REDIS_ADDR", cfg.Push.Redis.Addr)
	cfg.Push.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Push.Redis.Password)
	cfg.Push.Redis.Channel = getEnv("REDIS_CHANNEL", cfg.Push.Redis.Channel)
	cfg.Push.GCP.ProjectID = getEnv("PUBSUB_PROJECT_ID", cfg.Push.GCP.ProjectID)
	cfg.Push.GCP.TopicID = getEnv("PUBSUB_TOPIC_ID", cfg.Push.GCP.TopicID)
	cfg.Push.GCP.SubscriptionID = getEnv("PUBSUB_SUBSCRIPTION_ID", cfg.Push.GCP.SubscriptionID)

	cfg.Dispatch.PoolSize = getEnvInt("DISPATCH_POOL_SIZE", cfg.Dispatch.PoolSize)
	cfg.Retention.Schedule = getEnv("RETENTION_SCHEDULE", cfg.Retention.Schedule)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)
}

// Validate checks the configuration.
func (c Config) Validate() error {
	fields := []*validation.FieldRules{
		validation.Field(&c.Server),
		validation.Field(&c.Store, validation.Required, validation.In(StoreSQL, StoreFirestore)),
		validation.Field(&c.Push),
		validation.Field(&c.Dispatch),
		validation.Field(&c.Retention),
		validation.Field(&c.Logging),
	}
	switch c.Store {
	case StoreSQL:
		fields = append(fields, validation.Field(&c.Database))
	case StoreFirestore:
		fields = append(fields, validation.Field(&c.Firestore))
	}
	return validation.ValidateStruct(&c, fields...)
}

// Validate checks the server section.
func (c ServerConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.PushRatePerMinute, validation.Min(0)),
		validation.Field(&c.PushBurst, validation.Min(0)),
	)
}

// Validate checks the database section.
func (c DatabaseConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Driver, validation.Required, validation.In("mysql", "postgres", "sqlite3")),
		validation.Field(&c.Database, validation.Required),
		validation.Field(&c.Password, validation.Required.When(c.Driver != "sqlite3").Error("is required for network databases")),
	)
}

// Validate checks the Firestore section.
func (c FirestoreConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ProjectID, validation.Required),
	)
}

// Validate checks the push section.
func (c PushConfig) Validate() error {
	fields := []*validation.FieldRules{
		validation.Field(&c.Transport, validation.Required, validation.In(PushLoopback, PushRedis, PushGCP)),
		validation.Field(&c.Buffer, validation.Min(0)),
		validation.Field(&c.ReconnectAttempts, validation.Min(0)),
	}
	switch c.Transport {
	case PushRedis:
		fields = append(fields, validation.Field(&c.Redis))
	case PushGCP:
		fields = append(fields, validation.Field(&c.GCP))
	}
	return validation.ValidateStruct(&c, fields...)
}

// Validate checks the Redis section.
func (c RedisConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Addr, validation.Required),
		validation.Field(&c.DB, validation.Min(0)),
	)
}

// Validate checks the Pub/Sub section.
func (c GCPConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ProjectID, validation.Required),
		validation.Field(&c.TopicID, validation.Required),
		validation.Field(&c.SubscriptionID, validation.Required),
	)
}

// Validate checks the dispatch section.
func (c DispatchConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.PoolSize, validation.Required, validation.Min(1)),
	)
}

// Validate checks the retention section. An empty schedule disables the
// sweeper and leaves BatchSize unchecked.
func (c RetentionConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.BatchSize, validation.Required.When(c.Schedule != ""), validation.Min(0)),
	)
}

// Validate checks the logging section.
func (c LoggingConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Level, validation.In("trace", "debug", "info", "warn", "error")),
		validation.Field(&c.Format, validation.In("json", "console")),
	)
}

// Addr returns the HTTP listen address.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// GetDSN returns the database connection string based on driver.
func (c *DatabaseConfig) GetDSN() string {
	switch strings.ToLower(c.Driver) {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.User, c.Password, c.Host, c.Port, c.Database)
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			c.Host, c.Port, c.User, c.Password, c.Database)
	case "sqlite3":
		return c.Database // SQLite uses file path as DSN
	default:
		return ""
	}
}

// getEnv retrieves environment variable or returns default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves environment variable as integer or returns default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
