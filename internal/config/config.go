package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Backend     BackendConfig     `mapstructure:"backend"`
	Chat        ChatConfig        `mapstructure:"chat"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	Attachments AttachmentsConfig `mapstructure:"attachments"`
	Security    SecurityConfig    `mapstructure:"security"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host" validate:"required"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// BackendConfig points at the chat backend REST API
type BackendConfig struct {
	BaseURL        string        `mapstructure:"base_url" validate:"required,url"`
	APIPrefix      string        `mapstructure:"api_prefix"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RefreshLeeway  time.Duration `mapstructure:"refresh_leeway"`
}

// APIURL returns the base URL joined with the API prefix
func (c BackendConfig) APIURL() string {
	return c.BaseURL + c.APIPrefix
}

// ChatConfig tunes the session controller
type ChatConfig struct {
	StreamTimeout   time.Duration `mapstructure:"stream_timeout" validate:"gt=0"`
	NoticeTTL       time.Duration `mapstructure:"notice_ttl"`
	// DefaultSections is the preferred selection; empty means every
	// section /info lists
	DefaultSections []string      `mapstructure:"default_sections"`
	Greeting        string        `mapstructure:"greeting"`
	TimeoutText     string        `mapstructure:"timeout_text"`
	StreamErrorText string        `mapstructure:"stream_error_text"`
}

// CredentialsConfig selects where the token pair lives
type CredentialsConfig struct {
	Store   string `mapstructure:"store" validate:"oneof=memory file redis"`
	File    string `mapstructure:"file"`
	Profile string `mapstructure:"profile"`
	Secret  string `mapstructure:"secret"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	BlobTTL  time.Duration `mapstructure:"blob_ttl"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ArchiveConfig controls the transcript archive. The sqlite driver keeps
// a local file; postgres lets several bridges share one archive.
type ArchiveConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Driver   string `mapstructure:"driver" validate:"omitempty,oneof=sqlite postgres"`
	Path     string `mapstructure:"path"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

type AttachmentsConfig struct {
	MaxBytes int64    `mapstructure:"max_bytes" validate:"gt=0"`
	Allowed  []string `mapstructure:"allowed"`
}

type SecurityConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

type LoggingConfig struct {
	Level        string        `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format       string        `mapstructure:"format" validate:"oneof=json console"`
	File         string        `mapstructure:"file"`
	MaxAge       time.Duration `mapstructure:"max_age"`
	RotationTime time.Duration `mapstructure:"rotation_time"`
}

// MetricsConfig controls the Prometheus endpoint. Path is relative to
// /api/v1.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	// Set config file path
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks field constraints
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Credentials.Store != "memory" && c.Credentials.Secret == "" {
		return fmt.Errorf("invalid configuration: credentials.secret is required for the %s store", c.Credentials.Store)
	}
	if c.Credentials.Store == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("invalid configuration: redis credential store requires redis.enabled")
	}
	if c.Archive.Enabled && c.Archive.Driver == "postgres" && c.Archive.DSN == "" {
		return fmt.Errorf("invalid configuration: archive.dsn is required for the postgres driver")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	// Backend
	v.SetDefault("backend.base_url", "http://127.0.0.1:8000")
	v.SetDefault("backend.api_prefix", "/api/")
	v.SetDefault("backend.request_timeout", "30s")
	v.SetDefault("backend.refresh_leeway", "30s")

	// Chat
	v.SetDefault("chat.stream_timeout", "120s")
	v.SetDefault("chat.notice_ttl", "3s")
	v.SetDefault("chat.default_sections", []string{})
	v.SetDefault("chat.greeting", "Hello! How can I help you today?")
	v.SetDefault("chat.timeout_text", "Error: timed out waiting for a response.")
	v.SetDefault("chat.stream_error_text", "Error receiving the response.")

	// Credentials
	v.SetDefault("credentials.store", "memory")
	v.SetDefault("credentials.file", "./.chatstream/credentials")
	v.SetDefault("credentials.profile", "default")

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.blob_ttl", "10m")

	// Archive
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.driver", "sqlite")
	v.SetDefault("archive.path", "./.chatstream/transcripts.db")
	v.SetDefault("archive.max_conns", 5)
	v.SetDefault("archive.min_conns", 1)

	// Attachments
	v.SetDefault("attachments.max_bytes", 10<<20)
	v.SetDefault("attachments.allowed", []string{"image/*", "application/pdf", "audio/wav"})

	// Security
	v.SetDefault("security.rate_limit.requests_per_minute", 120)
	v.SetDefault("security.rate_limit.burst", 20)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.max_age", "168h")
	v.SetDefault("logging.rotation_time", "24h")

	// Metrics
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

func bindEnvVars(v *viper.Viper) {
	// Backend
	v.BindEnv("backend.base_url", "CHAT_API_URL")

	// Credentials
	v.BindEnv("credentials.store", "CREDENTIAL_STORE")
	v.BindEnv("credentials.secret", "CREDENTIAL_SECRET")

	// Redis
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Archive
	v.BindEnv("archive.dsn", "ARCHIVE_DSN")

	// Logging
	v.BindEnv("logging.level", "LOG_LEVEL")
}
