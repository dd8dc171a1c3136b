package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/zns-dispatch/internal/dispatch"
)

func TestLoad(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "0.0.0.0"
  cors_origins: ["https://ops.example.vn"]

zns:
  oa_id: "4318301893405"
  access_token: "file-token"
  timeout_seconds: 15
  rate_limit_codes: [-32, -429]

dispatch:
  requests_per_second: 5
  batch_size: 100
  concurrent_requests: 4
  max_retries: 5

redis:
  url: "redis://cache:6379/2"
  run_ttl_hours: 48

recipients:
  country_code: "84"
  param_mapping:
    customer_name: "{{ name | capitalize }}"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, []string{"https://ops.example.vn"}, cfg.Server.CORSOrigins)

	assert.Equal(t, "4318301893405", cfg.ZNS.OAID)
	assert.Equal(t, "file-token", cfg.ZNS.AccessToken)
	assert.Equal(t, 15*time.Second, cfg.ZNS.Timeout())
	assert.Equal(t, []int{-32, -429}, cfg.ZNS.RateLimitCodes)

	// unset dispatch fields keep their defaults
	assert.Equal(t, 5.0, cfg.Dispatch.RequestsPerSecond)
	assert.Equal(t, 100, cfg.Dispatch.BatchSize)
	assert.Equal(t, 4, cfg.Dispatch.ConcurrentRequests)
	assert.Equal(t, 5, cfg.Dispatch.MaxRetries)
	assert.Equal(t, 2000, cfg.Dispatch.BaseRetryDelayMs)
	assert.Equal(t, 2.0, cfg.Dispatch.RateLimitBackoffFactor)

	assert.Equal(t, "redis://cache:6379/2", cfg.Redis.URL)
	assert.Equal(t, 48*time.Hour, cfg.Redis.RunTTL())
	assert.Equal(t, "{{ name | capitalize }}", cfg.Recipients.ParamMapping["customer_name"])

	require.NoError(t, cfg.Validate())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout())
	assert.Equal(t, int64(10<<20), cfg.Server.MaxUploadBytes())
	assert.Equal(t, "https://business.openapi.zalo.me", cfg.ZNS.BaseURL)
	assert.Equal(t, "https://oauth.zaloapp.com/v4/oa/access_token", cfg.ZNS.OAuthURL)
	assert.Equal(t, 30, cfg.ZNS.TimeoutSeconds)
	assert.Equal(t, dispatch.DefaultRateLimitConfig(), cfg.Dispatch)
	assert.Equal(t, "zns", cfg.Redis.KeyPrefix)
	assert.Equal(t, 24*time.Hour, cfg.Redis.RunTTL())
	assert.Equal(t, time.Minute, cfg.Redis.LockTTL())
	assert.Equal(t, "84", cfg.Recipients.CountryCode)
	assert.Equal(t, 50000, cfg.Recipients.MaxRows)
	assert.Equal(t, "info", cfg.Log.Level)

	assert.Equal(t, cfg, Default())
}

func TestLoadFromEnv(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
zns:
  access_token: "file-token"
redis:
  url: "redis://file:6379/0"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	t.Setenv("ZNS_ACCESS_TOKEN", "env-token")
	t.Setenv("ZNS_REFRESH_TOKEN", "env-refresh")
	t.Setenv("ZNS_APP_ID", "1234")
	t.Setenv("ZNS_SECRET_KEY", "s3cr3t")
	t.Setenv("REDIS_URL", "redis://env:6379/1")
	t.Setenv("PORT", "9191")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ARCHIVE_TYPE", "s3")
	t.Setenv("ARCHIVE_BUCKET", "zns-archive")

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)

	// Environment variables should override file values
	assert.Equal(t, "env-token", cfg.ZNS.AccessToken)
	assert.True(t, cfg.ZNS.CanRefresh())
	assert.Equal(t, "redis://env:6379/1", cfg.Redis.URL)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ArchiveConfig{Type: "s3", Bucket: "zns-archive"}, cfg.Archive)
}

func TestLoadFromEnv_InvalidPort(t *testing.T) {
	t.Setenv("PORT", "eighty")
	_, err := LoadFromEnv("")
	assert.Error(t, err)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestValidate_RejectsBadDispatch(t *testing.T) {
	cfg := Default()
	cfg.Dispatch.ConcurrentRequests = cfg.Dispatch.BatchSize + 1

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, dispatch.ErrInvalidConfig)
}

func TestZNSConfig_Validate(t *testing.T) {
	assert.ErrorIs(t, ZNSConfig{}.Validate(), ErrMissingCredentials)
	assert.ErrorIs(t, ZNSConfig{RefreshToken: "r", AppID: "a"}.Validate(), ErrMissingCredentials)
	assert.NoError(t, ZNSConfig{AccessToken: "t"}.Validate())
	assert.NoError(t, ZNSConfig{RefreshToken: "r", AppID: "a", SecretKey: "s"}.Validate())
}

func TestTimeout(t *testing.T) {
	cfg := ZNSConfig{TimeoutSeconds: 45}
	assert.Equal(t, 45*1000000000, int(cfg.Timeout().Nanoseconds()))
}
