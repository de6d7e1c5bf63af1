// Package config provides configuration management for the Cloudidada upload server.
// Configuration can be loaded from YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Deployment modes.
const (
	// ModePersistent runs as a long-lived process with a writable disk.
	ModePersistent = "persistent"

	// ModeServerless runs on a platform with an ephemeral, read-only filesystem.
	ModeServerless = "serverless"
)

// Database drivers.
const (
	DriverMongoDB  = "mongodb"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Object store backends.
const (
	BackendS3    = "s3"
	BackendB2    = "b2"
	BackendLocal = "local"
)

// Config represents the complete application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Deployment  DeploymentConfig  `mapstructure:"deployment"`
	Database    DatabaseConfig    `mapstructure:"database"`
	ObjectStore ObjectStoreConfig `mapstructure:"object_store"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Seed        SeedConfig        `mapstructure:"seed"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Environment     string        `mapstructure:"environment"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address in host:port format.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsProduction reports whether internal error details must be hidden.
func (c ServerConfig) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// DeploymentConfig describes the runtime environment and upload policy.
type DeploymentConfig struct {
	// Mode is "persistent" or "serverless". Serverless buffers uploads in
	// memory and disables the local-disk fallback.
	Mode string `mapstructure:"mode"`

	MaxUploadBytes   int64    `mapstructure:"max_upload_bytes"`
	AllowedMimeTypes []string `mapstructure:"allowed_mime_types"`

	// TempDir receives multipart spools in persistent mode.
	TempDir string `mapstructure:"temp_dir"`

	// UploadsDir holds local-disk fallback copies, served under /uploads.
	UploadsDir string `mapstructure:"uploads_dir"`

	// PublicBaseURL prefixes URLs of locally stored files.
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// IsServerless reports whether the process runs in serverless mode.
func (c DeploymentConfig) IsServerless() bool {
	return c.Mode == ModeServerless
}

// DatabaseConfig selects and configures the remote store.
type DatabaseConfig struct {
	// Driver is one of "mongodb", "postgres", "sqlite" or "memory".
	// "memory" runs without a remote store.
	Driver string `mapstructure:"driver"`

	// ProbeTimeout bounds the startup connectivity check.
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`

	Mongo    MongoConfig    `mapstructure:"mongo"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
}

// MongoConfig holds MongoDB settings.
type MongoConfig struct {
	URI                string        `mapstructure:"uri"`
	Database           string        `mapstructure:"database"`
	Timeout            time.Duration `mapstructure:"timeout"`
	RequireProvisioned bool          `mapstructure:"require_provisioned"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// DSN returns the PostgreSQL connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// SQLiteConfig holds embedded SQLite settings.
type SQLiteConfig struct {
	Path            string `mapstructure:"path"`
	JournalMode     string `mapstructure:"journal_mode"`
	BusyTimeout     int    `mapstructure:"busy_timeout"`
	SynchronousMode string `mapstructure:"synchronous_mode"`
}

// ObjectStoreConfig selects the file storage provider.
type ObjectStoreConfig struct {
	// Backend is "s3", "b2" or "local".
	Backend       string   `mapstructure:"backend"`
	DefaultFolder string   `mapstructure:"default_folder"`
	S3            S3Config `mapstructure:"s3"`
	B2            B2Config `mapstructure:"b2"`
}

// S3Config holds S3-compatible provider settings.
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
	PublicBaseURL   string `mapstructure:"public_base_url"`
}

// B2Config holds Backblaze B2 settings.
type B2Config struct {
	KeyID          string `mapstructure:"key_id"`
	ApplicationKey string `mapstructure:"application_key"`
	Bucket         string `mapstructure:"bucket"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	Password      string        `mapstructure:"password"`
	DB            int           `mapstructure:"db"`
	PoolSize      int           `mapstructure:"pool_size"`
	DialTimeout   time.Duration `mapstructure:"dial_timeout"`
	Enabled       bool          `mapstructure:"enabled"`
	ChannelPrefix string        `mapstructure:"channel_prefix"`
}

// Addr returns the Redis address in host:port format.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	// JWTSecret signs login tokens. Required.
	JWTSecret     string        `mapstructure:"jwt_secret"`
	JWTExpiration time.Duration `mapstructure:"jwt_expiration"`
	JWTIssuer     string        `mapstructure:"jwt_issuer"`

	APIKeyPrefix    string `mapstructure:"api_key_prefix"`
	APIKeyMinLength int    `mapstructure:"api_key_min_length"`

	// AutoProvision creates an account for any unknown but well-formed API key.
	AutoProvision   bool   `mapstructure:"auto_provision"`
	AutoEmailDomain string `mapstructure:"auto_email_domain"`
}

// SeedConfig lists users created at startup.
type SeedConfig struct {
	DemoUser bool             `mapstructure:"demo_user"`
	Users    []SeedUserConfig `mapstructure:"users"`
}

// SeedUserConfig is one fixed-key user.
type SeedUserConfig struct {
	ID       string `mapstructure:"id"`
	UserName string `mapstructure:"user_name"`
	Email    string `mapstructure:"email"`
	APIKey   string `mapstructure:"api_key"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from the specified file and environment variables.
// Environment variables take precedence over file values.
// Environment variables are prefixed with CLOUDIDADA_ and use _ as separator.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("CLOUDIDADA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/cloudidada")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Vercel sets VERCEL on every deployment.
	if _, ok := os.LookupEnv("VERCEL"); ok {
		cfg.Deployment.Mode = ModeServerless
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("deployment.mode", ModePersistent)
	v.SetDefault("deployment.max_upload_bytes", 10*1024*1024) // 10MB
	v.SetDefault("deployment.allowed_mime_types", []string{
		"image/*",
		"video/*",
		"audio/*",
		"application/pdf",
		"text/plain",
		"application/zip",
	})
	v.SetDefault("deployment.temp_dir", os.TempDir())
	v.SetDefault("deployment.uploads_dir", "./uploads")
	v.SetDefault("deployment.public_base_url", "http://localhost:5000")

	v.SetDefault("database.driver", DriverMongoDB)
	v.SetDefault("database.probe_timeout", 5*time.Second)
	v.SetDefault("database.mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("database.mongo.database", "cloudidada")
	v.SetDefault("database.mongo.timeout", 10*time.Second)
	v.SetDefault("database.mongo.require_provisioned", true)
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "cloudidada")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "cloudidada")
	v.SetDefault("database.postgres.ssl_mode", "prefer")
	v.SetDefault("database.postgres.max_conns", 10)
	v.SetDefault("database.postgres.min_conns", 0)
	v.SetDefault("database.postgres.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.postgres.conn_max_idle_time", 5*time.Minute)
	v.SetDefault("database.postgres.connect_timeout", 10*time.Second)
	v.SetDefault("database.sqlite.path", "./data/cloudidada.db")
	v.SetDefault("database.sqlite.journal_mode", "WAL")
	v.SetDefault("database.sqlite.busy_timeout", 5000)
	v.SetDefault("database.sqlite.synchronous_mode", "NORMAL")

	v.SetDefault("object_store.backend", BackendS3)
	v.SetDefault("object_store.default_folder", "cloudidada")
	v.SetDefault("object_store.s3.endpoint", "")
	v.SetDefault("object_store.s3.region", "us-east-1")
	v.SetDefault("object_store.s3.bucket", "")
	v.SetDefault("object_store.s3.access_key_id", "")
	v.SetDefault("object_store.s3.secret_access_key", "")
	v.SetDefault("object_store.s3.use_path_style", false)
	v.SetDefault("object_store.s3.public_base_url", "")
	v.SetDefault("object_store.b2.key_id", "")
	v.SetDefault("object_store.b2.application_key", "")
	v.SetDefault("object_store.b2.bucket", "")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.channel_prefix", "cloudidada")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_expiration", 7*24*time.Hour)
	v.SetDefault("auth.jwt_issuer", "cloudidada")
	v.SetDefault("auth.api_key_prefix", "cld_")
	v.SetDefault("auth.api_key_min_length", 10)
	v.SetDefault("auth.auto_provision", true)
	v.SetDefault("auth.auto_email_domain", "cloudidada.com")

	v.SetDefault("seed.demo_user", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9091)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate checks the configuration for required values and valid ranges.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	switch c.Deployment.Mode {
	case ModePersistent, ModeServerless:
	default:
		return fmt.Errorf("deployment.mode must be 'persistent' or 'serverless'")
	}
	if c.Deployment.MaxUploadBytes <= 0 {
		return fmt.Errorf("deployment.max_upload_bytes must be positive")
	}
	if c.Deployment.Mode == ModePersistent && c.Deployment.UploadsDir == "" {
		return fmt.Errorf("deployment.uploads_dir is required in persistent mode")
	}

	switch c.Database.Driver {
	case DriverMongoDB:
		if c.Database.Mongo.URI == "" {
			return fmt.Errorf("database.mongo.uri is required for mongodb driver")
		}
		if c.Database.Mongo.Database == "" {
			return fmt.Errorf("database.mongo.database is required for mongodb driver")
		}
	case DriverPostgres:
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required for postgres driver")
		}
		if c.Database.Postgres.User == "" {
			return fmt.Errorf("database.postgres.user is required for postgres driver")
		}
		if c.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required for postgres driver")
		}
	case DriverSQLite:
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required for sqlite driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("database.driver must be one of: mongodb, postgres, sqlite, memory")
	}

	switch c.ObjectStore.Backend {
	case BackendS3:
		if c.ObjectStore.S3.Bucket == "" {
			return fmt.Errorf("object_store.s3.bucket is required for s3 backend")
		}
	case BackendB2:
		b2 := c.ObjectStore.B2
		if b2.KeyID == "" || b2.ApplicationKey == "" || b2.Bucket == "" {
			return fmt.Errorf("object_store.b2.key_id, application_key and bucket are required for b2 backend")
		}
	case BackendLocal:
		if c.Deployment.IsServerless() {
			return fmt.Errorf("object_store.backend 'local' is not available in serverless mode")
		}
	default:
		return fmt.Errorf("object_store.backend must be one of: s3, b2, local")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Auth.JWTExpiration <= 0 {
		return fmt.Errorf("auth.jwt_expiration must be positive")
	}
	if c.Auth.APIKeyPrefix == "" {
		return fmt.Errorf("auth.api_key_prefix is required")
	}
	if c.Auth.APIKeyMinLength <= len(c.Auth.APIKeyPrefix) {
		return fmt.Errorf("auth.api_key_min_length must exceed the prefix length")
	}

	for i, u := range c.Seed.Users {
		if u.ID == "" || u.Email == "" || u.APIKey == "" {
			return fmt.Errorf("seed.users[%d] requires id, email and api_key", i)
		}
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error, fatal, panic")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console'")
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port must be between 1 and 65535")
	}

	return nil
}

// MustLoad loads configuration or panics on error.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
