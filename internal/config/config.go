package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/marketplace-ops/internal/domain"
	"github.com/ignite/marketplace-ops/internal/templates"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig           `yaml:"server"`
	Auth      AuthConfig             `yaml:"auth"`
	Log       LogConfig              `yaml:"log"`
	Database  DatabaseConfig         `yaml:"database"`
	Redis     RedisConfig            `yaml:"redis"`
	Storage   StorageConfig          `yaml:"storage"`
	Audience  AudienceConfig         `yaml:"audience"`
	Dispatch  DispatchConfig         `yaml:"dispatch"`
	Channels  ChannelsConfig         `yaml:"channels"`
	Routes    []domain.EventRoute    `yaml:"routes"`
	Templates []templates.Definition `yaml:"templates"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port for http.Server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// AuthConfig holds admin API authentication. Console users sign in with
// Google OAuth; services send one of APIKeys as a bearer token.
type AuthConfig struct {
	Enabled            bool     `yaml:"enabled"`
	BaseURL            string   `yaml:"base_url"`
	GoogleClientID     string   `yaml:"google_client_id"`
	GoogleClientSecret string   `yaml:"google_client_secret"`
	AllowedDomain      string   `yaml:"allowed_domain"`
	CookieName         string   `yaml:"cookie_name"`
	CookieMaxAge       int      `yaml:"cookie_max_age"`
	APIKeys            []string `yaml:"api_keys"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether PII redaction is on. It defaults to true.
func (c LogConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// RedisConfig holds Redis settings. An empty URL runs without Redis:
// rate limiting falls back to a process-local limiter.
type RedisConfig struct {
	URL       string `yaml:"url"`
	KeyPrefix string `yaml:"key_prefix"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type          string `yaml:"type"`
	LocalPath     string `yaml:"local_path"`
	S3Bucket      string `yaml:"s3_bucket"`
	DynamoDBTable string `yaml:"dynamodb_table"`
	AWSRegion     string `yaml:"aws_region"`
	AWSProfile    string `yaml:"aws_profile"` // Empty string uses default credential chain (IAM role on ECS)
}

// GetAWSProfile returns the AWS profile, with environment variable override
func (c StorageConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return "" // Use default credential chain (IAM role)
		}
		return envProfile
	}
	// On ECS/Lambda, don't use a profile - use IAM role
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// AudienceConfig holds estimator settings.
type AudienceConfig struct {
	BasePopulation int64 `yaml:"base_population"`
}

// DispatchConfig tunes the dispatch worker and the retry backoff.
type DispatchConfig struct {
	RetryBaseDelayMs int    `yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs  int    `yaml:"retry_max_delay_ms"`
	RateLimitPolicy  string `yaml:"rate_limit_policy"`
	PollIntervalMs   int    `yaml:"poll_interval_ms"`
	BatchSize        int    `yaml:"batch_size"`
	Concurrency      int    `yaml:"concurrency"`
	// MaxQueueDepth pauses admission of low and medium priority
	// notifications while this many jobs are waiting.
	MaxQueueDepth        int64 `yaml:"max_queue_depth"`
	AttemptRetentionDays int   `yaml:"attempt_retention_days"`
	DropRetentionDays    int   `yaml:"drop_retention_days"`
}

// RetryBaseDelay returns the first retry delay as a time.Duration
func (c DispatchConfig) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMs) * time.Millisecond
}

// RetryMaxDelay returns the retry delay cap as a time.Duration
func (c DispatchConfig) RetryMaxDelay() time.Duration {
	return time.Duration(c.RetryMaxDelayMs) * time.Millisecond
}

// PollInterval returns the worker poll interval as a time.Duration
func (c DispatchConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// ChannelsConfig holds the provider settings of every delivery channel.
type ChannelsConfig struct {
	SES SESConfig `yaml:"ses"`
	SQS SQSConfig `yaml:"sqs"`
	SMS SMSConfig `yaml:"sms"`
}

// SESConfig holds AWS SES settings for the email channel
type SESConfig struct {
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	Region           string `yaml:"region"`
	From             string `yaml:"from"`
	ConfigurationSet string `yaml:"configuration_set"`
}

// Enabled reports whether the email channel is configured.
func (c SESConfig) Enabled() bool {
	return c.From != "" && c.Region != ""
}

// SQSConfig holds the queues the push and in-app channels publish to.
type SQSConfig struct {
	Region        string `yaml:"region"`
	PushQueueURL  string `yaml:"push_queue_url"`
	InAppQueueURL string `yaml:"in_app_queue_url"`
}

// SMSConfig holds the SMS gateway settings.
type SMSConfig struct {
	GatewayURL     string `yaml:"gateway_url"`
	APIKey         string `yaml:"api_key"`
	DefaultRegion  string `yaml:"default_region"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

// Timeout returns the gateway timeout as a time.Duration
func (c SMSConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Auth.CookieName == "" {
		cfg.Auth.CookieName = "marketplace_ops_session"
	}
	if cfg.Auth.CookieMaxAge == 0 {
		cfg.Auth.CookieMaxAge = 8 * 3600
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "marketplace"
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "local"
	}
	if cfg.Storage.LocalPath == "" {
		cfg.Storage.LocalPath = "./data"
	}
	if cfg.Storage.AWSRegion == "" {
		cfg.Storage.AWSRegion = "us-east-1"
	}
	if cfg.Audience.BasePopulation == 0 {
		cfg.Audience.BasePopulation = 50000
	}
	if cfg.Dispatch.RetryBaseDelayMs == 0 {
		cfg.Dispatch.RetryBaseDelayMs = 1000
	}
	if cfg.Dispatch.RetryMaxDelayMs == 0 {
		cfg.Dispatch.RetryMaxDelayMs = 30000
	}
	if cfg.Dispatch.RateLimitPolicy == "" {
		cfg.Dispatch.RateLimitPolicy = "queue"
	}
	if cfg.Dispatch.PollIntervalMs == 0 {
		cfg.Dispatch.PollIntervalMs = 200
	}
	if cfg.Dispatch.BatchSize == 0 {
		cfg.Dispatch.BatchSize = 50
	}
	if cfg.Dispatch.Concurrency == 0 {
		cfg.Dispatch.Concurrency = 8
	}
	if cfg.Dispatch.MaxQueueDepth == 0 {
		cfg.Dispatch.MaxQueueDepth = 100000
	}
	if cfg.Dispatch.AttemptRetentionDays == 0 {
		cfg.Dispatch.AttemptRetentionDays = 30
	}
	if cfg.Dispatch.DropRetentionDays == 0 {
		cfg.Dispatch.DropRetentionDays = 90
	}
	if cfg.Channels.SMS.TimeoutSeconds == 0 {
		cfg.Channels.SMS.TimeoutSeconds = 10
	}
	if cfg.Channels.SMS.DefaultRegion == "" {
		cfg.Channels.SMS.DefaultRegion = "KE"
	}
	if cfg.Channels.SMS.MaxRetries == 0 {
		cfg.Channels.SMS.MaxRetries = 2
	}
	if cfg.Channels.SQS.Region == "" {
		cfg.Channels.SQS.Region = cfg.Storage.AWSRegion
	}
}

// Validate checks the settings that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	switch c.Dispatch.RateLimitPolicy {
	case "queue", "drop":
	default:
		return fmt.Errorf("dispatch.rate_limit_policy must be queue or drop, got %q", c.Dispatch.RateLimitPolicy)
	}
	switch c.Storage.Type {
	case "local", "aws":
	default:
		return fmt.Errorf("storage.type must be local or aws, got %q", c.Storage.Type)
	}
	if c.Auth.Enabled && c.Auth.GoogleClientID == "" && len(c.Auth.APIKeys) == 0 {
		return fmt.Errorf("auth is enabled but neither google_client_id nor api_keys is set")
	}
	if c.Audience.BasePopulation < 0 {
		return fmt.Errorf("audience.base_population must not be negative")
	}
	for _, r := range c.Routes {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("routes: %w", err)
		}
	}
	return nil
}

// LoadFromEnv loads config with environment variable overrides
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.Auth.GoogleClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.Auth.GoogleClientSecret = v
	}
	if v := os.Getenv("ADMIN_API_KEYS"); v != "" {
		cfg.Auth.APIKeys = strings.Split(v, ",")
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("STORAGE_S3_BUCKET"); v != "" {
		cfg.Storage.S3Bucket = v
	}
	if v := os.Getenv("AUDIENCE_BASE_POPULATION"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Audience.BasePopulation = n
		}
	}
	// AWS SES overrides
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Channels.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Channels.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Channels.SES.Region = v
	}
	// Push / in-app queues
	if v := os.Getenv("PUSH_QUEUE_URL"); v != "" {
		cfg.Channels.SQS.PushQueueURL = v
	}
	if v := os.Getenv("IN_APP_QUEUE_URL"); v != "" {
		cfg.Channels.SQS.InAppQueueURL = v
	}
	// SMS gateway
	if v := os.Getenv("SMS_GATEWAY_URL"); v != "" {
		cfg.Channels.SMS.GatewayURL = v
	}
	if v := os.Getenv("SMS_GATEWAY_API_KEY"); v != "" {
		cfg.Channels.SMS.APIKey = v
	}

	return cfg, nil
}
