// Package config provides configuration management for the article pipeline service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for every environment variable read by Load.
const EnvPrefix = "ARTPIPE"

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Config holds all configuration for the article pipeline service.
type Config struct {
	// Server contains HTTP/gRPC server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Temporal contains Temporal workflow orchestration settings.
	Temporal TemporalConfig `mapstructure:"temporal"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Redis contains the Redis connection used for per-entity leases.
	Redis RedisConfig `mapstructure:"redis"`
	// Kafka contains Kafka publisher settings for the outbox relay.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Outbox contains outbox relay settings.
	Outbox OutboxConfig `mapstructure:"outbox"`
	// Intake contains the topic intake listener settings.
	Intake IntakeConfig `mapstructure:"intake"`
	// Pipeline contains stage execution and provider settings.
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	// Ingestion contains scraping and scheduling settings.
	Ingestion IngestionConfig `mapstructure:"ingestion"`
	// Publish contains the public content store settings.
	Publish PublishConfig `mapstructure:"publish"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// GRPCPort is the gRPC health server port (default: 9090).
	GRPCPort int `mapstructure:"grpc_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// IdleTimeout is the keep-alive idle timeout.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (use environment variable in production).
	Password string `mapstructure:"password"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool (default: 30).
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open (default: 5).
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
	// StatementCacheCapacity is the size of the prepared statement cache.
	StatementCacheCapacity int `mapstructure:"statement_cache_capacity"`
}

// TemporalConfig holds Temporal workflow configuration.
type TemporalConfig struct {
	// HostPort is the Temporal server address.
	HostPort string `mapstructure:"host_port"`
	// Namespace is the Temporal namespace.
	Namespace string `mapstructure:"namespace"`
	// TaskQueue is the task queue name for article generation workflows.
	TaskQueue string `mapstructure:"task_queue"`
	// MaxConcurrentActivities caps concurrently executing stage activities per worker.
	MaxConcurrentActivities int `mapstructure:"max_concurrent_activities"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace"`
}

// RedisConfig holds the Redis connection used for leases.
type RedisConfig struct {
	// Enabled selects the Redis lease backend. When false an in-process lease is used,
	// which is only safe for a single worker process.
	Enabled bool `mapstructure:"enabled"`
	// Addr is the Redis address (host:port).
	Addr string `mapstructure:"addr"`
	// Password is the Redis password (env only).
	Password string `mapstructure:"-"`
	// DB is the Redis logical database.
	DB int `mapstructure:"db"`
	// KeyPrefix namespaces all lease keys.
	KeyPrefix string `mapstructure:"key_prefix"`
}

// KafkaConfig holds Kafka connection settings.
type KafkaConfig struct {
	// Enabled enables Kafka publishing and consuming.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the topic outbox events are relayed to.
	Topic string `mapstructure:"topic"`
	// BatchSize is the maximum number of messages per write batch.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait before flushing a batch.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// OutboxConfig holds outbox relay settings.
type OutboxConfig struct {
	// PollInterval is the time between relay polls.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// BatchSize is the number of events fetched per poll.
	BatchSize int `mapstructure:"batch_size"`
	// MaxAttempts is the number of delivery attempts before an event is marked failed.
	MaxAttempts int `mapstructure:"max_attempts"`
}

// IntakeConfig holds settings for the Kafka topic intake listener.
type IntakeConfig struct {
	// Enabled starts the listener in the worker process.
	Enabled bool `mapstructure:"enabled"`
	// Topic is the Kafka topic carrying approved topics.
	Topic string `mapstructure:"topic"`
	// GroupID is the consumer group ID.
	GroupID string `mapstructure:"group_id"`
}

// PipelineConfig holds stage execution settings.
type PipelineConfig struct {
	// StageTimeout is the default per-stage timeout.
	StageTimeout time.Duration `mapstructure:"stage_timeout"`
	// LeaseTTL is how long an article lease is held before it expires.
	LeaseTTL time.Duration `mapstructure:"lease_ttl"`
	// MaxConcurrentStages caps in-flight provider calls across all articles.
	MaxConcurrentStages int64 `mapstructure:"max_concurrent_stages"`
	// ProviderRPS is the sustained provider request rate across all articles.
	ProviderRPS float64 `mapstructure:"provider_rps"`
	// ProviderBurst is the provider request burst size.
	ProviderBurst int `mapstructure:"provider_burst"`
	// DefaultProvider seeds the generation config when none is stored.
	DefaultProvider string `mapstructure:"default_provider"`
	// DefaultModel seeds the generation config when none is stored.
	DefaultModel string `mapstructure:"default_model"`
	// ImageProvider seeds the image stage default.
	ImageProvider string `mapstructure:"image_provider"`
	// ImageModel seeds the image stage default.
	ImageModel string `mapstructure:"image_model"`
	// Providers maps provider names to their gateway endpoints.
	Providers map[string]ProviderConfig `mapstructure:"providers"`
}

// ProviderConfig describes one provider gateway endpoint.
type ProviderConfig struct {
	// BaseURL is the gateway base URL; stages are posted to {BaseURL}/stages/{stage}.
	BaseURL string `mapstructure:"base_url"`
	// APIKey is read from ARTPIPE_PIPELINE_PROVIDERS_<NAME>_API_KEY.
	APIKey string `mapstructure:"-"`
	// Timeout is the HTTP client timeout.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the per-provider request rate.
	RateLimit float64 `mapstructure:"rate_limit"`
}

// IngestionConfig holds scraping settings.
type IngestionConfig struct {
	// InterConfigDelay is the pause between configs in a scrape-all run.
	InterConfigDelay time.Duration `mapstructure:"inter_config_delay"`
	// HTTPTimeout is the timeout for fetching source pages.
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
	// UserAgent is sent with every scrape request.
	UserAgent string `mapstructure:"user_agent"`
	// RateLimit is the request rate per scraped host.
	RateLimit float64 `mapstructure:"rate_limit"`
	// MaxBodyBytes caps the size of fetched pages.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
	// ExtractContent enables readability extraction for candidates without a summary.
	ExtractContent bool `mapstructure:"extract_content"`
	// SchedulerEnabled runs scheduled scrapes from scrape_frequency.
	SchedulerEnabled bool `mapstructure:"scheduler_enabled"`
	// SchedulerRefresh is how often the scheduler reloads source configs.
	SchedulerRefresh time.Duration `mapstructure:"scheduler_refresh"`
}

// PublishConfig holds the S3 content store settings.
type PublishConfig struct {
	// Bucket is the S3 bucket published articles are written to.
	Bucket string `mapstructure:"bucket"`
	// Region is the AWS region.
	Region string `mapstructure:"region"`
	// Profile selects a shared AWS config profile.
	Profile string `mapstructure:"profile"`
	// Prefix is the key prefix for published objects.
	Prefix string `mapstructure:"prefix"`
	// PublicBaseURL is prepended to object keys to build public URLs.
	PublicBaseURL string `mapstructure:"public_base_url"`
	// UsePathStyle forces path-style addressing for S3-compatible stores.
	UsePathStyle bool `mapstructure:"use_path_style"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}
	if c.StatementCacheCapacity > 0 {
		params.Set("statement_cache_capacity", fmt.Sprintf("%d", c.StatementCacheCapacity))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// GRPCAddress returns the gRPC health server address.
func (c *ServerConfig) GRPCAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort)
}

// Load reads configuration from defaults, an optional config.yaml and the
// environment, then validates it.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/article-pipeline")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates fields tagged `mapstructure:"-"` from the environment.
func loadSecrets(cfg *Config) {
	cfg.Redis.Password = os.Getenv(EnvPrefix + "_REDIS_PASSWORD")

	for name, p := range cfg.Pipeline.Providers {
		p.APIKey = os.Getenv(fmt.Sprintf("%s_PIPELINE_PROVIDERS_%s_API_KEY", EnvPrefix, strings.ToUpper(name)))
		cfg.Pipeline.Providers[name] = p
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "artpipe")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "article_pipeline")
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 30)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)
	v.SetDefault("database.statement_cache_capacity", 512)

	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "article-pipeline")
	v.SetDefault("temporal.task_queue", "article-generation")
	v.SetDefault("temporal.max_concurrent_activities", 50)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "article_pipeline")

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "artpipe:lease:")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "events.outbox.article_pipeline")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")

	v.SetDefault("outbox.poll_interval", "1s")
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.max_attempts", 5)

	v.SetDefault("intake.enabled", false)
	v.SetDefault("intake.topic", "editorial.topics.approved")
	v.SetDefault("intake.group_id", "article-pipeline-intake")

	v.SetDefault("pipeline.stage_timeout", "5m")
	v.SetDefault("pipeline.lease_ttl", "15m")
	v.SetDefault("pipeline.max_concurrent_stages", 16)
	v.SetDefault("pipeline.provider_rps", 5.0)
	v.SetDefault("pipeline.provider_burst", 10)
	v.SetDefault("pipeline.default_provider", "openai")
	v.SetDefault("pipeline.default_model", "gpt-4o")
	v.SetDefault("pipeline.image_provider", "openai")
	v.SetDefault("pipeline.image_model", "dall-e-3")

	v.SetDefault("ingestion.inter_config_delay", "2s")
	v.SetDefault("ingestion.http_timeout", "30s")
	v.SetDefault("ingestion.user_agent", "ArticlePipeline/1.0 (+https://helixir.io/bot)")
	v.SetDefault("ingestion.rate_limit", 2.0)
	v.SetDefault("ingestion.max_body_bytes", 5*1024*1024)
	v.SetDefault("ingestion.extract_content", true)
	v.SetDefault("ingestion.scheduler_enabled", false)
	v.SetDefault("ingestion.scheduler_refresh", "5m")

	v.SetDefault("publish.region", "us-east-1")
	v.SetDefault("publish.prefix", "articles")
	v.SetDefault("publish.use_path_style", false)
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.GRPCPort <= 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.Server.GRPCPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required when redis is enabled")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when kafka is enabled")
	}
	if c.Intake.Enabled && !c.Kafka.Enabled {
		return fmt.Errorf("intake listener requires kafka to be enabled")
	}

	if c.Pipeline.StageTimeout <= 0 {
		return fmt.Errorf("pipeline stage_timeout must be positive")
	}
	if c.Pipeline.LeaseTTL < c.Pipeline.StageTimeout {
		return fmt.Errorf("pipeline lease_ttl (%s) must be >= stage_timeout (%s)", c.Pipeline.LeaseTTL, c.Pipeline.StageTimeout)
	}
	if c.Pipeline.MaxConcurrentStages <= 0 {
		return fmt.Errorf("pipeline max_concurrent_stages must be positive")
	}
	if c.Pipeline.ProviderRPS <= 0 {
		return fmt.Errorf("pipeline provider_rps must be positive")
	}
	for name, p := range c.Pipeline.Providers {
		if p.BaseURL == "" {
			return fmt.Errorf("provider %q requires base_url", name)
		}
	}

	if c.Ingestion.InterConfigDelay < 0 {
		return fmt.Errorf("ingestion inter_config_delay must not be negative")
	}
	if c.Ingestion.RateLimit <= 0 {
		return fmt.Errorf("ingestion rate_limit must be positive")
	}

	if c.Publish.Bucket != "" && c.Publish.PublicBaseURL == "" {
		return fmt.Errorf("publish public_base_url is required when a bucket is configured")
	}

	return nil
}
