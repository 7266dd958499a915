// Package config provides configuration for the docsql engine and its hosts.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported storage backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendMySQL    = "mysql"
	BackendMongo    = "mongodb"
	BackendRedis    = "redis"
	BackendS3       = "s3"
	BackendDynamoDB = "dynamodb"
)

// Config holds the configuration for docsql.
type Config struct {
	// DataDir is the base directory for local data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// GRPC configuration
	GRPC GRPCConfig `json:"grpc" yaml:"grpc"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Engine tuning
	Engine EngineConfig `json:"engine" yaml:"engine"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the listen address of the query endpoint
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`

	// MaxBodyBytes caps the size of a query request body
	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes"`
}

// GRPCConfig holds gRPC server configuration.
type GRPCConfig struct {
	// Addr is the gRPC server address
	Addr string `json:"addr" yaml:"addr"`

	// Enabled controls whether gRPC is enabled
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// StorageConfig selects and configures the document store backend.
type StorageConfig struct {
	// Backend is one of memory, sqlite, mysql, mongodb, redis, s3, dynamodb
	Backend string `json:"backend" yaml:"backend"`

	// RateLimit caps store operations per second (0 disables limiting)
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"`

	// RateBurst is the limiter burst size
	RateBurst int `json:"rate_burst" yaml:"rate_burst"`

	SQLite   SQLiteConfig   `json:"sqlite" yaml:"sqlite"`
	MySQL    MySQLConfig    `json:"mysql" yaml:"mysql"`
	Mongo    MongoConfig    `json:"mongodb" yaml:"mongodb"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	S3       S3Config       `json:"s3" yaml:"s3"`
	DynamoDB DynamoDBConfig `json:"dynamodb" yaml:"dynamodb"`
}

// SQLiteConfig holds SQLite backend configuration.
type SQLiteConfig struct {
	// Path is the database file; defaults to <data_dir>/docsql.db
	Path string `json:"path" yaml:"path"`
}

// MySQLConfig holds MySQL backend configuration.
type MySQLConfig struct {
	// DSN is a go-sql-driver/mysql data source name
	DSN string `json:"dsn" yaml:"dsn"`

	// MaxOpenConns limits the connection pool
	MaxOpenConns int `json:"max_open_conns" yaml:"max_open_conns"`
}

// MongoConfig holds MongoDB backend configuration.
type MongoConfig struct {
	// URI is the connection string
	URI string `json:"uri" yaml:"uri"`

	// DatabasePrefix is prepended to every Mongo database name
	DatabasePrefix string `json:"database_prefix" yaml:"database_prefix"`

	// ConnectTimeout bounds the initial connection
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
}

// RedisConfig holds Redis backend configuration.
type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	PoolSize  int    `json:"pool_size" yaml:"pool_size"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`

	// DialTimeout bounds connection setup
	DialTimeout time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
}

// S3Config holds S3 backend configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Prefix is prepended to every object key
	Prefix string `json:"prefix" yaml:"prefix"`

	// UsePathStyle enables path-style addressing (required for MinIO)
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`

	// Concurrency is the number of parallel object fetches
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// MaxRetries is the number of retries per request
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// DynamoDBConfig holds DynamoDB backend configuration.
type DynamoDBConfig struct {
	Table           string `json:"table" yaml:"table"`
	Region          string `json:"region" yaml:"region"`
	Endpoint        string `json:"endpoint" yaml:"endpoint"`
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
}

// EngineConfig tunes query execution.
type EngineConfig struct {
	// JoinBatchSize is the number of driving rows processed per join batch
	JoinBatchSize int `json:"join_batch_size" yaml:"join_batch_size"`

	// JoinCacheCapacity bounds the per-batch join lookup cache
	JoinCacheCapacity int `json:"join_cache_capacity" yaml:"join_cache_capacity"`

	// JoinScanCap bounds the matches a scan-strategy join lookup returns
	JoinScanCap int `json:"join_scan_cap" yaml:"join_scan_cap"`

	// ScanBatchSize is the document batch size for table scans
	ScanBatchSize int `json:"scan_batch_size" yaml:"scan_batch_size"`

	// BloomFalsePositiveRate sizes the join scan bloom filters
	BloomFalsePositiveRate float64 `json:"bloom_false_positive_rate" yaml:"bloom_false_positive_rate"`

	// SlowStatementThreshold marks statements logged at warn level
	SlowStatementThreshold time.Duration `json:"slow_statement_threshold" yaml:"slow_statement_threshold"`

	// PredicateStatsWindow is how long unseen predicate statistics are kept
	PredicateStatsWindow time.Duration `json:"predicate_stats_window" yaml:"predicate_stats_window"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `json:"level" yaml:"level"`

	// Development selects the human readable console encoder
	Development bool `json:"development" yaml:"development"`
}

// DefaultEngineConfig returns the default engine tuning.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		JoinBatchSize:          10000,
		JoinCacheCapacity:      5000,
		JoinScanCap:            1000,
		ScanBatchSize:          1000,
		BloomFalsePositiveRate: 0.01,
		SlowStatementThreshold: time.Second,
		PredicateStatsWindow:   24 * time.Hour,
	}
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/docsql",
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  120 * time.Second,
			MaxBodyBytes: 10 * 1024 * 1024,
		},
		GRPC: GRPCConfig{
			Addr: ":9090",
		},
		Storage: StorageConfig{
			Backend:   BackendMemory,
			RateBurst: 100,
			Mongo: MongoConfig{
				URI:            "mongodb://localhost:27017",
				ConnectTimeout: 10 * time.Second,
			},
			Redis: RedisConfig{
				Addr:        "localhost:6379",
				PoolSize:    10,
				KeyPrefix:   "docsql",
				DialTimeout: 5 * time.Second,
			},
			S3: S3Config{
				Region:      "us-east-1",
				Concurrency: 16,
				MaxRetries:  3,
			},
			MySQL: MySQLConfig{
				MaxOpenConns: 10,
			},
			DynamoDB: DynamoDBConfig{
				Table:  "docsql",
				Region: "us-east-1",
			},
		},
		Engine: DefaultEngineConfig(),
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/docsql"
	}

	if c.Storage.SQLite.Path == "" {
		c.Storage.SQLite.Path = filepath.Join(c.DataDir, "docsql.db")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendSQLite:
	case BackendMySQL:
		if c.Storage.MySQL.DSN == "" {
			return fmt.Errorf("storage.mysql.dsn is required when backend is mysql")
		}
	case BackendMongo:
		if c.Storage.Mongo.URI == "" {
			return fmt.Errorf("storage.mongodb.uri is required when backend is mongodb")
		}
	case BackendRedis:
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required when backend is redis")
		}
	case BackendS3:
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when backend is s3")
		}
	case BackendDynamoDB:
		if c.Storage.DynamoDB.Table == "" {
			return fmt.Errorf("storage.dynamodb.table is required when backend is dynamodb")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (must be memory, sqlite, mysql, mongodb, redis, s3 or dynamodb)", c.Storage.Backend)
	}

	if c.GRPC.Enabled && c.GRPC.Addr == "" {
		return fmt.Errorf("grpc.addr is required when grpc is enabled")
	}

	if c.Storage.RateLimit < 0 {
		return fmt.Errorf("storage.rate_limit must not be negative, got %v", c.Storage.RateLimit)
	}

	e := c.Engine
	if e.JoinBatchSize <= 0 {
		return fmt.Errorf("engine.join_batch_size must be positive, got %d", e.JoinBatchSize)
	}
	if e.JoinCacheCapacity <= 0 {
		return fmt.Errorf("engine.join_cache_capacity must be positive, got %d", e.JoinCacheCapacity)
	}
	if e.JoinScanCap <= 0 {
		return fmt.Errorf("engine.join_scan_cap must be positive, got %d", e.JoinScanCap)
	}
	if e.ScanBatchSize <= 0 {
		return fmt.Errorf("engine.scan_batch_size must be positive, got %d", e.ScanBatchSize)
	}
	if e.BloomFalsePositiveRate <= 0 || e.BloomFalsePositiveRate >= 1 {
		return fmt.Errorf("engine.bloom_false_positive_rate must be between 0 and 1, got %v", e.BloomFalsePositiveRate)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the DOCSQL_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("DOCSQL_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// HTTP configuration
	if v := os.Getenv("DOCSQL_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}

	// gRPC configuration
	if v := os.Getenv("DOCSQL_GRPC_ADDR"); v != "" {
		cfg.GRPC.Addr = v
	}
	if v := os.Getenv("DOCSQL_GRPC_ENABLED"); v != "" {
		cfg.GRPC.Enabled = v == "true" || v == "1"
	}

	// Storage configuration
	if v := os.Getenv("DOCSQL_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("DOCSQL_STORAGE_RATE_LIMIT"); v != "" {
		fmt.Sscanf(v, "%g", &cfg.Storage.RateLimit)
	}
	if v := os.Getenv("DOCSQL_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLite.Path = v
	}
	if v := os.Getenv("DOCSQL_MYSQL_DSN"); v != "" {
		cfg.Storage.MySQL.DSN = v
	}
	if v := os.Getenv("DOCSQL_MONGODB_URI"); v != "" {
		cfg.Storage.Mongo.URI = v
	}
	if v := os.Getenv("DOCSQL_REDIS_ADDR"); v != "" {
		cfg.Storage.Redis.Addr = v
	}
	if v := os.Getenv("DOCSQL_REDIS_PASSWORD"); v != "" {
		cfg.Storage.Redis.Password = v
	}
	if v := os.Getenv("DOCSQL_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("DOCSQL_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("DOCSQL_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
	if v := os.Getenv("DOCSQL_DYNAMODB_TABLE"); v != "" {
		cfg.Storage.DynamoDB.Table = v
	}
	if v := os.Getenv("DOCSQL_DYNAMODB_REGION"); v != "" {
		cfg.Storage.DynamoDB.Region = v
	}
	if v := os.Getenv("DOCSQL_DYNAMODB_ENDPOINT"); v != "" {
		cfg.Storage.DynamoDB.Endpoint = v
	}

	// Engine configuration
	if v := os.Getenv("DOCSQL_ENGINE_JOIN_BATCH_SIZE"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Engine.JoinBatchSize)
	}
	if v := os.Getenv("DOCSQL_ENGINE_JOIN_CACHE_CAPACITY"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Engine.JoinCacheCapacity)
	}
	if v := os.Getenv("DOCSQL_ENGINE_JOIN_SCAN_CAP"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Engine.JoinScanCap)
	}
	if v := os.Getenv("DOCSQL_ENGINE_SLOW_STATEMENT_THRESHOLD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.SlowStatementThreshold = d
		}
	}
	if v := os.Getenv("DOCSQL_ENGINE_PREDICATE_STATS_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.PredicateStatsWindow = d
		}
	}

	// Logging configuration
	if v := os.Getenv("DOCSQL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DOCSQL_LOG_DEVELOPMENT"); v != "" {
		cfg.Logging.Development = v == "true" || v == "1"
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	if c.Storage.Backend == BackendSQLite && c.Storage.SQLite.Path != "" {
		dirs = append(dirs, filepath.Dir(c.Storage.SQLite.Path))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
