package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/restaurant-iam/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       StorageConfig
	Cache         CacheConfig
	IAM           IAMConfig
	Audit         AuditConfig
	Archive       ArchiveConfig
	Worker        WorkerConfig
	Catalog       CatalogConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// StorageConfig selects and configures the relational store
type StorageConfig struct {
	// Type is "postgres" or "memory"
	Type string

	PostgresURL         string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresMaxLifetime time.Duration
	PostgresTimeout     time.Duration

	// RunMigrations applies pending schema migrations on startup
	RunMigrations bool
}

// CacheConfig selects the snapshot cache backend
type CacheConfig struct {
	// Backend is "redis", "memory" or "none"
	Backend string

	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisPoolSize   int
	RedisMaxRetries int

	// MemorySize bounds the in-process LRU by entry count
	MemorySize int

	TTL time.Duration
}

// IAMConfig tunes permission resolution
type IAMConfig struct {
	StrictVersionCheck bool
	CoalesceRebuilds   bool
}

// AuditConfig configures audit sinks
type AuditConfig struct {
	DatabaseEnabled bool
	FilePath        string
	RetentionDays   int
}

// ArchiveConfig configures where expired audit records are exported before cleanup
type ArchiveConfig struct {
	Enabled        bool
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3Prefix       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
}

// WorkerConfig holds cron schedules for background jobs
type WorkerConfig struct {
	TrialExpirySchedule  string
	AuditArchiveSchedule string
}

// CatalogConfig points at the YAML catalog definition
type CatalogConfig struct {
	Path  string
	Watch bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Cache:         loadCacheConfig(),
		IAM:           loadIAMConfig(),
		Audit:         loadAuditConfig(),
		Archive:       loadArchiveConfig(),
		Worker:        loadWorkerConfig(),
		Catalog:       loadCatalogConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("IAM_HOST", "0.0.0.0"),
		Port:            getEnv("IAM_PORT", "8080"),
		ReadTimeout:     getEnvDuration("IAM_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("IAM_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("IAM_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("IAM_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{
		Type:                strings.ToLower(getEnv("IAM_STORAGE_TYPE", "postgres")),
		PostgresURL:         getEnv("IAM_POSTGRES_URL", ""),
		PostgresMaxConns:    getEnvInt("IAM_POSTGRES_MAX_CONNS", 20),
		PostgresMinConns:    getEnvInt("IAM_POSTGRES_MIN_CONNS", 5),
		PostgresMaxLifetime: getEnvDuration("IAM_POSTGRES_MAX_LIFETIME", 30*time.Minute),
		PostgresTimeout:     getEnvDuration("IAM_POSTGRES_TIMEOUT", 5*time.Second),
		RunMigrations:       getEnvBool("IAM_RUN_MIGRATIONS", true),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Backend:         strings.ToLower(getEnv("IAM_CACHE_BACKEND", "redis")),
		RedisURL:        getEnv("IAM_REDIS_URL", "localhost:6379"),
		RedisPassword:   getEnv("IAM_REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("IAM_REDIS_DB", 0),
		RedisPoolSize:   getEnvInt("IAM_REDIS_POOL_SIZE", 10),
		RedisMaxRetries: getEnvInt("IAM_REDIS_MAX_RETRIES", 3),
		MemorySize:      getEnvInt("IAM_MEMORY_CACHE_SIZE", 10000),
		TTL:             getEnvDuration("IAM_CACHE_TTL", time.Hour),
	}
}

func loadIAMConfig() IAMConfig {
	return IAMConfig{
		StrictVersionCheck: getEnvBool("IAM_STRICT_VERSION_CHECK", false),
		CoalesceRebuilds:   getEnvBool("IAM_COALESCE_REBUILDS", true),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		DatabaseEnabled: getEnvBool("IAM_AUDIT_DB_ENABLED", true),
		FilePath:        getEnv("IAM_AUDIT_FILE_PATH", ""),
		RetentionDays:   getEnvInt("IAM_AUDIT_RETENTION_DAYS", 90),
	}
}

func loadArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		Enabled:        getEnvBool("IAM_ARCHIVE_ENABLED", false),
		S3Endpoint:     getEnv("IAM_S3_ENDPOINT", ""),
		S3Region:       getEnv("IAM_S3_REGION", "us-east-1"),
		S3Bucket:       getEnv("IAM_S3_BUCKET", ""),
		S3Prefix:       getEnv("IAM_S3_PREFIX", "audit/"),
		S3AccessKey:    getEnv("IAM_S3_ACCESS_KEY", ""),
		S3SecretKey:    getEnv("IAM_S3_SECRET_KEY", ""),
		S3UsePathStyle: getEnvBool("IAM_S3_USE_PATH_STYLE", false),
	}
}

func loadWorkerConfig() WorkerConfig {
	return WorkerConfig{
		TrialExpirySchedule:  getEnv("IAM_TRIAL_EXPIRY_SCHEDULE", "*/15 * * * *"),
		AuditArchiveSchedule: getEnv("IAM_AUDIT_ARCHIVE_SCHEDULE", "0 3 * * *"),
	}
}

func loadCatalogConfig() CatalogConfig {
	return CatalogConfig{
		Path:  getEnv("IAM_CATALOG_PATH", ""),
		Watch: getEnvBool("IAM_CATALOG_WATCH", false),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("IAM_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("IAM_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("IAM_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("IAM_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("IAM_OTEL_SERVICE_NAME", "restaurant-iam"),
		OTelServiceVersion: getEnv("IAM_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("IAM_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("IAM_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Storage.Type {
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid storage type: %s (must be postgres or memory)", c.Storage.Type)
	}

	switch c.Cache.Backend {
	case "redis":
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis cache")
		}
	case "memory":
		if c.Cache.MemorySize <= 0 {
			return fmt.Errorf("memory cache size must be positive")
		}
	case "none":
	default:
		return fmt.Errorf("invalid cache backend: %s (must be redis, memory, or none)", c.Cache.Backend)
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}

	if c.Audit.DatabaseEnabled && c.Storage.Type != "postgres" {
		return fmt.Errorf("database audit logging requires postgres storage")
	}
	if c.Audit.RetentionDays <= 0 {
		return fmt.Errorf("audit retention days must be positive")
	}

	if c.Archive.Enabled && c.Archive.S3Bucket == "" {
		return fmt.Errorf("S3 bucket is required when audit archiving is enabled")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
