package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Session store backends
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// Config holds all client configuration
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	API     APIConfig     `mapstructure:"api"`
	Session SessionConfig `mapstructure:"session"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Retry   RetryConfig   `mapstructure:"retry"`
	OTel    OTelConfig    `mapstructure:"otel"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	Debug       bool   `mapstructure:"debug"`
	Version     string `mapstructure:"version"`
	LogLevel    string `mapstructure:"log_level"`
}

// APIConfig holds backend endpoint settings
type APIConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	Timeout            time.Duration `mapstructure:"timeout"`
	LoginPath          string        `mapstructure:"login_path"`
	RegisterPath       string        `mapstructure:"register_path"`
	WorkerRegisterPath string        `mapstructure:"worker_register_path"`
	RefreshPath        string        `mapstructure:"refresh_path"`
	ExpiryLeeway       time.Duration `mapstructure:"expiry_leeway"`
	ProactiveRenewal   bool          `mapstructure:"proactive_renewal"`
}

// SessionConfig selects where the credential store keeps the session
type SessionConfig struct {
	Store        string `mapstructure:"store"` // memory, file, redis
	File         string `mapstructure:"file"`
	RedisKey     string `mapstructure:"redis_key"`
	RedisChannel string `mapstructure:"redis_channel"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// RetryConfig is the caller-side retry policy for network failures
type RetryConfig struct {
	MaxRetries      int           `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	ServiceName   string  `mapstructure:"service_name"`
	CollectorAddr string  `mapstructure:"collector_addr"`
	SampleRatio   float64 `mapstructure:"sample_ratio"`
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")

	// A missing .env is fine, environment variables still apply
	_ = v.ReadInConfig()

	return load(v)
}

// LoadWithPath loads configuration from a specific path
func LoadWithPath(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{}
	bindConfig(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("APP_NAME", "booking-client")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_DEBUG", false)
	v.SetDefault("APP_VERSION", "1.0.0")
	v.SetDefault("APP_LOG_LEVEL", "info")

	// Backend API defaults (Django dev server)
	v.SetDefault("API_BASE_URL", "http://127.0.0.1:8000")
	v.SetDefault("API_TIMEOUT", "15s")
	v.SetDefault("API_LOGIN_PATH", "/auth/login/")
	v.SetDefault("API_REGISTER_PATH", "/api/user/register")
	v.SetDefault("API_WORKER_REGISTER_PATH", "/auth/worker/register")
	v.SetDefault("API_REFRESH_PATH", "/api/token/refresh/")
	v.SetDefault("API_EXPIRY_LEEWAY", "10s")
	v.SetDefault("API_PROACTIVE_RENEWAL", true)

	// Session store defaults
	v.SetDefault("SESSION_STORE", StoreFile)
	v.SetDefault("SESSION_FILE", ".homeservice/session.json")
	v.SetDefault("SESSION_REDIS_KEY", "homeservice:session")
	v.SetDefault("SESSION_REDIS_CHANNEL", "homeservice:session:changed")

	// Redis defaults
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 10)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	// Retry defaults
	v.SetDefault("RETRY_MAX_RETRIES", 3)
	v.SetDefault("RETRY_INITIAL_INTERVAL", "500ms")
	v.SetDefault("RETRY_MAX_INTERVAL", "5s")

	// OTel defaults
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "booking-client")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")
	v.SetDefault("OTEL_SAMPLE_RATIO", 1.0)
}

func bindConfig(v *viper.Viper, cfg *Config) {
	// App
	cfg.App.Name = v.GetString("APP_NAME")
	cfg.App.Environment = v.GetString("APP_ENVIRONMENT")
	cfg.App.Debug = v.GetBool("APP_DEBUG")
	cfg.App.Version = v.GetString("APP_VERSION")
	cfg.App.LogLevel = v.GetString("APP_LOG_LEVEL")

	// API
	cfg.API.BaseURL = strings.TrimRight(v.GetString("API_BASE_URL"), "/")
	cfg.API.Timeout = v.GetDuration("API_TIMEOUT")
	cfg.API.LoginPath = v.GetString("API_LOGIN_PATH")
	cfg.API.RegisterPath = v.GetString("API_REGISTER_PATH")
	cfg.API.WorkerRegisterPath = v.GetString("API_WORKER_REGISTER_PATH")
	cfg.API.RefreshPath = v.GetString("API_REFRESH_PATH")
	cfg.API.ExpiryLeeway = v.GetDuration("API_EXPIRY_LEEWAY")
	cfg.API.ProactiveRenewal = v.GetBool("API_PROACTIVE_RENEWAL")

	// Session
	cfg.Session.Store = strings.ToLower(v.GetString("SESSION_STORE"))
	cfg.Session.File = v.GetString("SESSION_FILE")
	cfg.Session.RedisKey = v.GetString("SESSION_REDIS_KEY")
	cfg.Session.RedisChannel = v.GetString("SESSION_REDIS_CHANNEL")

	// Redis
	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetInt("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.PoolSize = v.GetInt("REDIS_POOL_SIZE")
	cfg.Redis.DialTimeout = v.GetDuration("REDIS_DIAL_TIMEOUT")
	cfg.Redis.ReadTimeout = v.GetDuration("REDIS_READ_TIMEOUT")
	cfg.Redis.WriteTimeout = v.GetDuration("REDIS_WRITE_TIMEOUT")

	// Retry
	cfg.Retry.MaxRetries = v.GetInt("RETRY_MAX_RETRIES")
	cfg.Retry.InitialInterval = v.GetDuration("RETRY_INITIAL_INTERVAL")
	cfg.Retry.MaxInterval = v.GetDuration("RETRY_MAX_INTERVAL")

	// OTel
	cfg.OTel.Enabled = v.GetBool("OTEL_ENABLED")
	cfg.OTel.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.OTel.CollectorAddr = v.GetString("OTEL_COLLECTOR_ADDR")
	cfg.OTel.SampleRatio = v.GetFloat64("OTEL_SAMPLE_RATIO")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}

	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid API_BASE_URL: %q", c.API.BaseURL)
	}

	if c.API.LoginPath == "" || c.API.RefreshPath == "" {
		return fmt.Errorf("API_LOGIN_PATH and API_REFRESH_PATH are required")
	}

	if c.API.Timeout <= 0 {
		return fmt.Errorf("invalid API_TIMEOUT: %v", c.API.Timeout)
	}

	switch c.Session.Store {
	case StoreMemory:
	case StoreFile:
		if c.Session.File == "" {
			return fmt.Errorf("SESSION_FILE is required for the file session store")
		}
	case StoreRedis:
		if c.Session.RedisKey == "" || c.Session.RedisChannel == "" {
			return fmt.Errorf("SESSION_REDIS_KEY and SESSION_REDIS_CHANNEL are required for the redis session store")
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			return fmt.Errorf("invalid redis port: %d", c.Redis.Port)
		}
	default:
		return fmt.Errorf("unknown SESSION_STORE %q", c.Session.Store)
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("RETRY_MAX_RETRIES must not be negative")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
