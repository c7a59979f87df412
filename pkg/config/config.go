package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/modhost/pkg/capabilities"
	"github.com/platinummonkey/modhost/pkg/middleware"
	"github.com/platinummonkey/modhost/pkg/storage"
)

const envPrefix = "MODHOST_"

// Files capability backends
const (
	FilesBackendNone  = "none"
	FilesBackendLocal = "local"
	FilesBackendS3    = "s3"
)

// Config holds all host configuration
type Config struct {
	Server        ServerConfig
	Database      storage.ConnectionConfig
	Modules       ModulesConfig
	Redis         RedisConfig
	RateLimit     middleware.RateLimitConfig
	Capabilities  CapabilitiesConfig
	Audit         AuditConfig
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
	MaxBodyBytes    int64
	CORSOrigins     []string

	// Health and metrics listen on their own port
	HealthPort string
}

// Addr is the main listen address
func (s ServerConfig) Addr() string { return s.Host + ":" + s.Port }

// HealthAddr is the health and metrics listen address
func (s ServerConfig) HealthAddr() string { return s.Host + ":" + s.HealthPort }

// ModulesConfig controls discovery and lifecycle execution
type ModulesConfig struct {
	Root              string
	AutoRegister      bool
	Watch             bool
	WatchDebounce     time.Duration
	TransitionTimeout time.Duration
	ReloadConcurrency int
	ProcessTimeout    time.Duration
	ManifestCacheSize int
	ManifestCacheTTL  time.Duration
}

// RedisConfig enables the distributed lock and rate limiter when URL is set
type RedisConfig struct {
	URL     string
	LockTTL time.Duration
}

// CapabilitiesConfig configures what permissioned modules receive
type CapabilitiesConfig struct {
	HTTPTimeout   time.Duration
	FilesBackend  string
	FilesRoot     string
	S3            capabilities.S3Config
	NotifyWebhook string
}

// AuditConfig controls the lifecycle audit trail. Events always go to the
// database when enabled; FileDir adds a rotating JSON lines copy.
type AuditConfig struct {
	Enabled  bool
	FileDir  string
	MaxSize  int64
	MaxFiles int
}

// ObservabilityConfig holds logging, metrics and tracing settings
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from MODHOST_* environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Modules:       loadModulesConfig(),
		Redis:         loadRedisConfig(),
		RateLimit:     loadRateLimitConfig(),
		Capabilities:  loadCapabilitiesConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("HOST", "0.0.0.0"),
		Port:            getEnv("PORT", "8080"),
		ReadTimeout:     getEnvDuration("READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:     getEnvDuration("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("MAX_BODY_BYTES", 1<<20),
		CORSOrigins:     getEnvList("CORS_ORIGINS"),
		HealthPort:      getEnv("HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() storage.ConnectionConfig {
	return storage.ConnectionConfig{
		Driver:      getEnv("DB_DRIVER", string(storage.DialectSQLite)),
		DSN:         getEnv("DB_DSN", "file:modhost.db?_foreign_keys=on"),
		MaxConns:    getEnvInt("DB_MAX_CONNS", 20),
		MinConns:    getEnvInt("DB_MIN_CONNS", 2),
		Timeout:     getEnvDuration("DB_TIMEOUT", 5*time.Second),
		MaxLifetime: getEnvDuration("DB_MAX_LIFETIME", time.Hour),
		MaxIdleTime: getEnvDuration("DB_MAX_IDLE_TIME", 10*time.Minute),
	}
}

func loadModulesConfig() ModulesConfig {
	return ModulesConfig{
		Root:              getEnv("MODULES_ROOT", "./modules"),
		AutoRegister:      getEnvBool("MODULES_AUTO_REGISTER", true),
		Watch:             getEnvBool("MODULES_WATCH", false),
		WatchDebounce:     getEnvDuration("MODULES_WATCH_DEBOUNCE", 500*time.Millisecond),
		TransitionTimeout: getEnvDuration("MODULES_TRANSITION_TIMEOUT", 5*time.Minute),
		ReloadConcurrency: getEnvInt("MODULES_RELOAD_CONCURRENCY", 8),
		ProcessTimeout:    getEnvDuration("MODULES_PROCESS_TIMEOUT", 10*time.Second),
		ManifestCacheSize: getEnvInt("MODULES_MANIFEST_CACHE_SIZE", 256),
		ManifestCacheTTL:  getEnvDuration("MODULES_MANIFEST_CACHE_TTL", 5*time.Minute),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:     getEnv("REDIS_URL", ""),
		LockTTL: getEnvDuration("REDIS_LOCK_TTL", 10*time.Minute),
	}
}

func loadRateLimitConfig() middleware.RateLimitConfig {
	def := middleware.DefaultRateLimitConfig()
	return middleware.RateLimitConfig{
		RequestsPerWindow: getEnvInt("RATELIMIT_REQUESTS", def.RequestsPerWindow),
		WindowDuration:    getEnvDuration("RATELIMIT_WINDOW", def.WindowDuration),
		BurstSize:         getEnvInt("RATELIMIT_BURST", def.BurstSize),
	}
}

func loadCapabilitiesConfig() CapabilitiesConfig {
	return CapabilitiesConfig{
		HTTPTimeout:  getEnvDuration("HTTP_CLIENT_TIMEOUT", 30*time.Second),
		FilesBackend: strings.ToLower(getEnv("FILES_BACKEND", FilesBackendLocal)),
		FilesRoot:    getEnv("FILES_ROOT", "./data/files"),
		S3: capabilities.S3Config{
			Bucket:       getEnv("S3_BUCKET", ""),
			Region:       getEnv("S3_REGION", "us-east-1"),
			Endpoint:     getEnv("S3_ENDPOINT", ""),
			AccessKey:    getEnv("S3_ACCESS_KEY", ""),
			SecretKey:    getEnv("S3_SECRET_KEY", ""),
			UsePathStyle: getEnvBool("S3_USE_PATH_STYLE", false),
		},
		NotifyWebhook: getEnv("NOTIFY_WEBHOOK_URL", ""),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:  getEnvBool("AUDIT_ENABLED", true),
		FileDir:  getEnv("AUDIT_FILE_DIR", ""),
		MaxSize:  getEnvInt64("AUDIT_FILE_MAX_BYTES", 100*1024*1024),
		MaxFiles: getEnvInt("AUDIT_FILE_MAX_FILES", 10),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "json"),
		MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("OTEL_SERVICE_NAME", "modhost"),
		OTelServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		OTelInsecure:       getEnvBool("OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("OTEL_SAMPLE_RATIO", 1),
	}
}

// Validate checks the configuration for contradictions
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if _, err := storage.ParseDialect(c.Database.Driver); err != nil {
		return err
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}

	if c.Modules.Root == "" {
		return fmt.Errorf("modules root is required")
	}
	if c.Modules.ReloadConcurrency < 1 {
		return fmt.Errorf("reload concurrency must be at least 1")
	}

	switch c.Capabilities.FilesBackend {
	case FilesBackendNone:
	case FilesBackendLocal:
		if c.Capabilities.FilesRoot == "" {
			return fmt.Errorf("files root is required for the local files backend")
		}
	case FilesBackendS3:
		if c.Capabilities.S3.Bucket == "" {
			return fmt.Errorf("S3 bucket is required for the s3 files backend")
		}
	default:
		return fmt.Errorf("invalid files backend: %s (must be none, local, or s3)", c.Capabilities.FilesBackend)
	}

	if c.Audit.FileDir != "" && (c.Audit.MaxSize <= 0 || c.Audit.MaxFiles < 1) {
		return fmt.Errorf("audit file rotation needs a positive max size and max files")
	}

	if _, err := logrus.ParseLevel(c.Observability.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}
	return nil
}

// ModulesRoot returns the absolute modules root
func (c *Config) ModulesRoot() (string, error) {
	return filepath.Abs(c.Modules.Root)
}

// getEnv returns MODHOST_<key> or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := getEnv(key, ""); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := getEnv(key, ""); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := getEnv(key, ""); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := getEnv(key, ""); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := getEnv(key, ""); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value, dropping empty items
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, ""), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
