// Package config provides layered configuration loading (env vars, YAML file, defaults)
// for the Backend, Executor Manager, and Executor binaries.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every configuration section shared by the three services. Each binary
// only reads the sections relevant to it; unused sections are harmless.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Docker   DockerConfig   `mapstructure:"docker"`
	S3       S3Config       `mapstructure:"s3"`
	Internal InternalConfig `mapstructure:"internal"`
	Pull     PullConfig     `mapstructure:"pull"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`
	WriteTimeout int    `mapstructure:"writeTimeout"`
}

func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// DatabaseConfig holds database connection configuration; the same struct covers both
// the sqlite (dev) and postgres (prod) drivers, mirroring the teacher's shape.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // "sqlite" or "postgres"
	Path     string `mapstructure:"path"`   // sqlite file path
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// NATSConfig holds event-bus configuration. An empty URL selects the in-memory bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
	Namespace     string `mapstructure:"namespace"`
}

// RedisConfig backs the multi-replica config-resolver cache. An empty URL selects the
// in-process cache instead.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// DockerConfig holds the container pool's Docker client configuration.
type DockerConfig struct {
	Host           string `mapstructure:"host"`
	APIVersion     string `mapstructure:"apiVersion"`
	TLSVerify      bool   `mapstructure:"tlsVerify"`
	DefaultNetwork string `mapstructure:"defaultNetwork"`
	VolumeBasePath string `mapstructure:"volumeBasePath"`
}

// S3Config holds the blob store adapter's connection details.
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	PublicEndpoint  string `mapstructure:"publicEndpoint"`
	AccessKey       string `mapstructure:"accessKey"`
	SecretKey       string `mapstructure:"secretKey"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	ForcePathStyle  bool   `mapstructure:"forcePathStyle"`
	PresignExpires  int    `mapstructure:"presignExpires"` // seconds
}

func (s *S3Config) PresignExpiresDuration() time.Duration {
	return time.Duration(s.PresignExpires) * time.Second
}

// InternalConfig holds the shared secrets used for service-to-service auth.
type InternalConfig struct {
	APIToken         string `mapstructure:"apiToken"`
	CallbackBaseURL  string `mapstructure:"callbackBaseUrl"`
	CallbackToken    string `mapstructure:"callbackToken"`
	ExecutorManagerURL string `mapstructure:"executorManagerUrl"`
	BackendURL       string `mapstructure:"backendUrl"`
	ExecutorURL      string `mapstructure:"executorUrl"`
}

// PullConfig holds the pull loop's concurrency and lease defaults.
type PullConfig struct {
	MaxConcurrentTasks     int `mapstructure:"maxConcurrentTasks"`
	TaskClaimLeaseSeconds  int `mapstructure:"taskClaimLeaseSeconds"`
	TriggerDebounceMillis  int `mapstructure:"triggerDebounceMillis"`
}

func (p *PullConfig) LeaseDuration() time.Duration {
	return time.Duration(p.TaskClaimLeaseSeconds) * time.Second
}

func (p *PullConfig) DebounceDuration() time.Duration {
	return time.Duration(p.TriggerDebounceMillis) * time.Millisecond
}

// WorkspaceConfig holds the workspace-export defaults.
type WorkspaceConfig struct {
	CleanupEnabled  bool     `mapstructure:"cleanupEnabled"`
	ExcludeNames    []string `mapstructure:"excludeNames"`
	ExcludeDotfiles bool     `mapstructure:"excludeDotfiles"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// TracingConfig holds OpenTelemetry exporter configuration. An empty endpoint disables
// tracing (spans become no-ops).
type TracingConfig struct {
	OTLPEndpoint string `mapstructure:"otlpEndpoint"`
	ServiceName  string `mapstructure:"serviceName"`
}

// detectDefaultLogFormat mirrors logger.detectLogFormat so config defaults and the
// logger's own fallback agree absent an explicit override.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("RUNFLOW_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./runflow.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "runflow")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "runflow")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "runflow-client")
	v.SetDefault("nats.maxReconnects", 10)
	v.SetDefault("nats.namespace", "")

	v.SetDefault("redis.url", "")

	v.SetDefault("docker.host", DefaultDockerHost())
	v.SetDefault("docker.apiVersion", "1.44")
	v.SetDefault("docker.tlsVerify", false)
	v.SetDefault("docker.defaultNetwork", "runflow-network")
	v.SetDefault("docker.volumeBasePath", defaultDockerVolumePath())

	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.publicEndpoint", "")
	v.SetDefault("s3.accessKey", "")
	v.SetDefault("s3.secretKey", "")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.bucket", "runflow-workspaces")
	v.SetDefault("s3.forcePathStyle", true)
	v.SetDefault("s3.presignExpires", 900)

	v.SetDefault("internal.apiToken", "")
	v.SetDefault("internal.callbackBaseUrl", "http://localhost:8081")
	v.SetDefault("internal.callbackToken", "")
	v.SetDefault("internal.executorManagerUrl", "http://localhost:8081")
	v.SetDefault("internal.backendUrl", "http://localhost:8080")
	v.SetDefault("internal.executorUrl", "http://localhost:8082")

	v.SetDefault("pull.maxConcurrentTasks", 8)
	v.SetDefault("pull.taskClaimLeaseSeconds", 30)
	v.SetDefault("pull.triggerDebounceMillis", 50)

	v.SetDefault("workspace.cleanupEnabled", true)
	v.SetDefault("workspace.excludeNames", []string{".git", "node_modules", "__pycache__", ".venv", ".claude_data", ".DS_Store"})
	v.SetDefault("workspace.excludeDotfiles", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("tracing.otlpEndpoint", "")
	v.SetDefault("tracing.serviceName", "runflow")
}

// DefaultDockerHost returns the platform-appropriate Docker socket path, respecting
// DOCKER_HOST as an override (standard Docker convention).
func DefaultDockerHost() string {
	if host := os.Getenv("DOCKER_HOST"); host != "" {
		return host
	}
	if runtime.GOOS == "windows" {
		return "npipe:////./pipe/docker_engine"
	}
	return "unix:///var/run/docker.sock"
}

func defaultDockerVolumePath() string {
	if runtime.GOOS == "windows" {
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			localAppData = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Local")
		}
		return filepath.Join(localAppData, "runflow", "volumes")
	}
	return "/var/lib/runflow/volumes"
}

// Load reads configuration from environment variables (RUNFLOW_ prefix), an optional
// config.yaml, and the defaults above.
func Load() (*Config, error) {
	return LoadWithPath("")
}

func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RUNFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for the env var names spec.md §6 names literally, which do not
	// follow the RUNFLOW_<SECTION>_<KEY> convention AutomaticEnv would derive.
	_ = v.BindEnv("internal.executorManagerUrl", "EXECUTOR_MANAGER_URL")
	_ = v.BindEnv("internal.backendUrl", "BACKEND_URL")
	_ = v.BindEnv("internal.executorUrl", "EXECUTOR_URL")
	_ = v.BindEnv("internal.apiToken", "INTERNAL_API_TOKEN")
	_ = v.BindEnv("internal.callbackBaseUrl", "CALLBACK_BASE_URL")
	_ = v.BindEnv("internal.callbackToken", "CALLBACK_TOKEN")
	_ = v.BindEnv("pull.maxConcurrentTasks", "MAX_CONCURRENT_TASKS")
	_ = v.BindEnv("pull.taskClaimLeaseSeconds", "TASK_CLAIM_LEASE_SECONDS")
	_ = v.BindEnv("s3.endpoint", "S3_ENDPOINT")
	_ = v.BindEnv("s3.publicEndpoint", "S3_PUBLIC_ENDPOINT")
	_ = v.BindEnv("s3.accessKey", "S3_ACCESS_KEY")
	_ = v.BindEnv("s3.secretKey", "S3_SECRET_KEY")
	_ = v.BindEnv("s3.region", "S3_REGION")
	_ = v.BindEnv("s3.bucket", "S3_BUCKET")
	_ = v.BindEnv("s3.forcePathStyle", "S3_FORCE_PATH_STYLE")
	_ = v.BindEnv("s3.presignExpires", "S3_PRESIGN_EXPIRES")
	_ = v.BindEnv("workspace.cleanupEnabled", "WORKSPACE_CLEANUP_ENABLED")
	_ = v.BindEnv("nats.url", "NATS_URL")
	_ = v.BindEnv("redis.url", "REDIS_URL")
	_ = v.BindEnv("logging.level", "LOG_LEVEL")
	_ = v.BindEnv("tracing.otlpEndpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/runflow/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Database.Driver == "postgres" {
		if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
			errs = append(errs, "database.port must be between 1 and 65535")
		}
		if cfg.Database.User == "" {
			errs = append(errs, "database.user is required for postgres driver")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required for postgres driver")
		}
	}

	if cfg.Pull.MaxConcurrentTasks <= 0 {
		errs = append(errs, "pull.maxConcurrentTasks must be positive")
	}
	if cfg.Pull.TaskClaimLeaseSeconds <= 0 {
		errs = append(errs, "pull.taskClaimLeaseSeconds must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
