package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadWithPath_Defaults(t *testing.T) {
	path := writeEnvFile(t, "APP_NAME=booking-client\n")

	cfg, err := LoadWithPath(path)
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:8000", cfg.API.BaseURL)
	assert.Equal(t, "/auth/login/", cfg.API.LoginPath)
	assert.Equal(t, "/api/token/refresh/", cfg.API.RefreshPath)
	assert.Equal(t, 15*time.Second, cfg.API.Timeout)
	assert.True(t, cfg.API.ProactiveRenewal)
	assert.Equal(t, StoreFile, cfg.Session.Store)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.False(t, cfg.OTel.Enabled)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadWithPath_Overrides(t *testing.T) {
	path := writeEnvFile(t, `API_BASE_URL=https://api.homeservice.example/
SESSION_STORE=Redis
REDIS_HOST=cache
REDIS_PORT=6380
API_TIMEOUT=3s
APP_ENVIRONMENT=production
`)

	cfg, err := LoadWithPath(path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.homeservice.example", cfg.API.BaseURL)
	assert.Equal(t, StoreRedis, cfg.Session.Store)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr())
	assert.Equal(t, 3*time.Second, cfg.API.Timeout)
	assert.True(t, cfg.IsProduction())
}

func TestLoadWithPath_MissingFile(t *testing.T) {
	_, err := LoadWithPath(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			App: AppConfig{Name: "booking-client"},
			API: APIConfig{
				BaseURL:     "http://localhost:8000",
				Timeout:     time.Second,
				LoginPath:   "/auth/login/",
				RefreshPath: "/api/token/refresh/",
			},
			Session: SessionConfig{Store: StoreMemory},
			Redis:   RedisConfig{Port: 6379},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing app name", func(c *Config) { c.App.Name = "" }, true},
		{"relative base url", func(c *Config) { c.API.BaseURL = "/api" }, true},
		{"missing refresh path", func(c *Config) { c.API.RefreshPath = "" }, true},
		{"zero timeout", func(c *Config) { c.API.Timeout = 0 }, true},
		{"unknown store", func(c *Config) { c.Session.Store = "cookie" }, true},
		{"file store without path", func(c *Config) { c.Session.Store = StoreFile }, true},
		{"redis store without key", func(c *Config) { c.Session.Store = StoreRedis }, true},
		{"redis store ok", func(c *Config) {
			c.Session.Store = StoreRedis
			c.Session.RedisKey = "k"
			c.Session.RedisChannel = "ch"
		}, false},
		{"negative retries", func(c *Config) { c.Retry.MaxRetries = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
