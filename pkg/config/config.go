// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Index, Async, Reindex, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Index    IndexConfig    `yaml:"index"`
	Async    AsyncConfig    `yaml:"async"`
	Reindex  ReindexConfig  `yaml:"reindex"`
	Versions VersionsConfig `yaml:"versions"`
	Settings SettingsConfig `yaml:"settings"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds the admin HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters for the map store.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings for the distributed
// event queue.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical queue names to their Kafka topic strings. Names
// are kept short; some brokers restrict queue name length.
type KafkaTopics struct {
	IndexEvents   string `yaml:"indexEvents"`
	UtilityEvents string `yaml:"utilityEvents"`
	DeleteEvents  string `yaml:"deleteEvents"`
}

// RedisConfig holds Redis connection parameters for the shared cache tier
// and cross-region index location metadata.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// IndexConfig controls index batching and physical index layout.
type IndexConfig struct {
	BatchSize           int    `yaml:"batchSize"`
	Prefix              string `yaml:"prefix"`
	AliasPostfix        string `yaml:"aliasPostfix"`
	Shards              int    `yaml:"shards"`
	Replicas            int    `yaml:"replicas"`
	ManagementIndexName string `yaml:"managementIndexName"`
	ManagementShards    int    `yaml:"managementShards"`
	ManagementReplicas  int    `yaml:"managementReplicas"`
}

// AsyncConfig selects and tunes the asynchronous index dispatch backend.
// Impl must be one of "local" or "distributed".
type AsyncConfig struct {
	Impl              string        `yaml:"impl"`
	Workers           int           `yaml:"workers"`
	ReadTimeout       time.Duration `yaml:"readTimeout"`
	VisibilityTimeout time.Duration `yaml:"visibilityTimeout"`
	RejectedRetryWait time.Duration `yaml:"rejectedRetryWait"`
	DeletesPerEvent   int           `yaml:"deletesPerEvent"`
}

// ReindexConfig controls bulk reindex buffering and cursor sampling.
type ReindexConfig struct {
	SampleInterval time.Duration `yaml:"sampleInterval"`
	BufferSize     int           `yaml:"bufferSize"`
	CursorTTL      time.Duration `yaml:"cursorTTL"`
}

// VersionsConfig controls collection versioning.
type VersionsConfig struct {
	MinInterval time.Duration `yaml:"minInterval"`
	CacheSize   int           `yaml:"cacheSize"`
	CacheTTL    time.Duration `yaml:"cacheTTL"`
}

// SettingsConfig controls the collection settings and schema caches.
type SettingsConfig struct {
	CacheSize int           `yaml:"cacheSize"`
	CacheTTL  time.Duration `yaml:"cacheTTL"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "indexpipeline",
			User:            "indexpipeline",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "indexpipeline-group",
			Topics: KafkaTopics{
				IndexEvents:   "index",
				UtilityEvents: "utility",
				DeleteEvents:  "delete",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Index: IndexConfig{
			BatchSize:           1000,
			Prefix:              "",
			AliasPostfix:        "alias",
			Shards:              6,
			Replicas:            1,
			ManagementIndexName: "management",
			ManagementShards:    1,
			ManagementReplicas:  1,
		},
		Async: AsyncConfig{
			Impl:              "local",
			Workers:           8,
			ReadTimeout:       60 * time.Second,
			VisibilityTimeout: 30 * time.Second,
			RejectedRetryWait: time.Second,
			DeletesPerEvent:   100,
		},
		Reindex: ReindexConfig{
			SampleInterval: 30 * time.Second,
			BufferSize:     1000,
			CursorTTL:      10 * 24 * time.Hour,
		},
		Versions: VersionsConfig{
			MinInterval: 60 * time.Second,
			CacheSize:   1000,
			CacheTTL:    30 * time.Second,
		},
		Settings: SettingsConfig{
			CacheSize: 2000,
			CacheTTL:  2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads IP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("IP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("IP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("IP_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("IP_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("IP_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("IP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("IP_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("IP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("IP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("IP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("IP_ASYNC_IMPL"); v != "" {
		cfg.Async.Impl = v
	}
	if v := os.Getenv("IP_ASYNC_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Async.Workers = n
		}
	}
	if v := os.Getenv("IP_INDEX_PREFIX"); v != "" {
		cfg.Index.Prefix = v
	}
	if v := os.Getenv("IP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("IP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
