package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ignite/zns-dispatch/internal/dispatch"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig             `yaml:"server"`
	ZNS        ZNSConfig                `yaml:"zns"`
	Dispatch   dispatch.RateLimitConfig `yaml:"dispatch"`
	Redis      RedisConfig              `yaml:"redis"`
	Recipients RecipientsConfig         `yaml:"recipients"`
	S3         S3Config                 `yaml:"s3"`
	Archive    ArchiveConfig            `yaml:"archive"`
	Log        LogConfig                `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port                   int      `yaml:"port"`
	Host                   string   `yaml:"host"`
	CORSOrigins            []string `yaml:"cors_origins"`
	ShutdownTimeoutSeconds int      `yaml:"shutdown_timeout_seconds"`
	MaxUploadMB            int      `yaml:"max_upload_mb"`
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

// Addr returns host:port for the listener.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// MaxUploadBytes returns the multipart upload limit in bytes.
func (c ServerConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// ZNSConfig holds Zalo Notification Service API configuration.
//
// Either a long-lived AccessToken or the RefreshToken/AppID/SecretKey triple
// must be set. With a refresh token the access token is renewed before it
// expires and the rotated refresh token is persisted.
type ZNSConfig struct {
	BaseURL        string `yaml:"base_url"`
	OAuthURL       string `yaml:"oauth_url"`
	OAID           string `yaml:"oa_id"`
	AccessToken    string `yaml:"access_token"`
	RefreshToken   string `yaml:"refresh_token"`
	AppID          string `yaml:"app_id"`
	SecretKey      string `yaml:"secret_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`

	// Development sends in Zalo's development mode, which only delivers to
	// the OA's admins and does not consume quota.
	Development    bool  `yaml:"development"`
	RateLimitCodes []int `yaml:"rate_limit_codes"`
	TransientCodes []int `yaml:"transient_codes"`
}

// Timeout returns the configured HTTP timeout as a duration
func (c ZNSConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CanRefresh reports whether the access token can be renewed.
func (c ZNSConfig) CanRefresh() bool {
	return c.RefreshToken != "" && c.AppID != "" && c.SecretKey != ""
}

// ErrMissingCredentials is returned when no ZNS credentials are configured.
var ErrMissingCredentials = errors.New("zns: access_token or refresh_token/app_id/secret_key required")

// Validate checks that the ZNS section can authenticate.
func (c ZNSConfig) Validate() error {
	if c.AccessToken == "" && !c.CanRefresh() {
		return ErrMissingCredentials
	}
	return nil
}

// RedisConfig holds the Redis connection used for run records, locks and
// the refresh token.
type RedisConfig struct {
	URL            string `yaml:"url"`
	KeyPrefix      string `yaml:"key_prefix"`
	RunTTLHours    int    `yaml:"run_ttl_hours"`
	LockTTLSeconds int    `yaml:"lock_ttl_seconds"`
}

// RunTTL returns how long run records are kept.
func (c RedisConfig) RunTTL() time.Duration {
	return time.Duration(c.RunTTLHours) * time.Hour
}

// LockTTL returns the TTL of the per-OA dispatch lock.
func (c RedisConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// RecipientsConfig controls recipient file parsing.
type RecipientsConfig struct {
	CountryCode string `yaml:"country_code"`
	MaxRows     int    `yaml:"max_rows"`
	PhoneColumn string `yaml:"phone_column"`
	// ParamMapping maps template parameter names to Liquid expressions
	// evaluated against each CSV row, e.g. {"name": "{{ first_name | capitalize }}"}.
	ParamMapping map[string]string `yaml:"param_mapping"`
	// AllowLocalSources lets API callers name files on the server's disk.
	AllowLocalSources bool `yaml:"allow_local_sources"`
}

// S3Config holds settings for s3:// recipient sources.
type S3Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	AWSProfile      string `yaml:"aws_profile"` // Empty string uses default credential chain (IAM role on ECS)
}

// GetAWSProfile returns the AWS profile, with environment variable override
func (c S3Config) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return ""
		}
		return envProfile
	}
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// ArchiveConfig controls where finished runs are archived. Type is "s3",
// "local" or empty to disable archiving.
type ArchiveConfig struct {
	Type      string `yaml:"type"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	LocalPath string `yaml:"local_path"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level            string `yaml:"level"`
	DisableRedaction bool   `yaml:"disable_redaction"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Dispatch: dispatch.DefaultRateLimitConfig()}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses the configuration file. An empty path yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{Dispatch: dispatch.DefaultRateLimitConfig()}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.ShutdownTimeoutSeconds == 0 {
		cfg.Server.ShutdownTimeoutSeconds = 30
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 10
	}
	if cfg.ZNS.BaseURL == "" {
		cfg.ZNS.BaseURL = "https://business.openapi.zalo.me"
	}
	if cfg.ZNS.OAuthURL == "" {
		cfg.ZNS.OAuthURL = "https://oauth.zaloapp.com/v4/oa/access_token"
	}
	if cfg.ZNS.TimeoutSeconds == 0 {
		cfg.ZNS.TimeoutSeconds = 30
	}
	if cfg.Redis.URL == "" {
		cfg.Redis.URL = "redis://localhost:6379/0"
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "zns"
	}
	if cfg.Redis.RunTTLHours == 0 {
		cfg.Redis.RunTTLHours = 24
	}
	if cfg.Redis.LockTTLSeconds == 0 {
		cfg.Redis.LockTTLSeconds = 60
	}
	if cfg.Recipients.CountryCode == "" {
		cfg.Recipients.CountryCode = "84"
	}
	if cfg.Recipients.MaxRows == 0 {
		cfg.Recipients.MaxRows = 50000
	}
	if cfg.S3.Region == "" {
		cfg.S3.Region = "ap-southeast-1"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("PORT: %w", err)
		}
		cfg.Server.Port = port
	}

	// ZNS credentials
	if v := os.Getenv("ZNS_BASE_URL"); v != "" {
		cfg.ZNS.BaseURL = v
	}
	if v := os.Getenv("ZNS_OA_ID"); v != "" {
		cfg.ZNS.OAID = v
	}
	if v := os.Getenv("ZNS_ACCESS_TOKEN"); v != "" {
		cfg.ZNS.AccessToken = v
	}
	if v := os.Getenv("ZNS_REFRESH_TOKEN"); v != "" {
		cfg.ZNS.RefreshToken = v
	}
	if v := os.Getenv("ZNS_APP_ID"); v != "" {
		cfg.ZNS.AppID = v
	}
	if v := os.Getenv("ZNS_SECRET_KEY"); v != "" {
		cfg.ZNS.SecretKey = v
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}

	// S3 overrides
	if v := os.Getenv("S3_REGION"); v != "" {
		cfg.S3.Region = v
	}
	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		cfg.S3.Endpoint = v
	}
	if v := os.Getenv("S3_ACCESS_KEY_ID"); v != "" {
		cfg.S3.AccessKeyID = v
	}
	if v := os.Getenv("S3_SECRET_ACCESS_KEY"); v != "" {
		cfg.S3.SecretAccessKey = v
	}

	if v := os.Getenv("ARCHIVE_TYPE"); v != "" {
		cfg.Archive.Type = v
	}
	if v := os.Getenv("ARCHIVE_BUCKET"); v != "" {
		cfg.Archive.Bucket = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	return cfg, nil
}

// Validate checks the sections every binary depends on.
func (c *Config) Validate() error {
	if err := c.Dispatch.Validate(); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	if c.Recipients.MaxRows < 0 {
		return fmt.Errorf("recipients: max_rows must be >= 0, got %d", c.Recipients.MaxRows)
	}
	return nil
}
