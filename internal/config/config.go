// Package config loads and hot-reloads the orchestrator configuration.
// Typed settings come from config/orchestrator.yaml with explicit environment
// overrides for the values that differ between deployments.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config is the root orchestrator configuration.
type Config struct {
	Environment string          `mapstructure:"environment"`
	Service     ServiceConfig   `mapstructure:"service"`
	Auth        AuthConfig      `mapstructure:"auth"`
	Temporal    TemporalConfig  `mapstructure:"temporal"`
	LLM         LLMConfig       `mapstructure:"llm"`
	Postgres    PostgresConfig  `mapstructure:"postgres"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Session     SessionConfig   `mapstructure:"session"`
	Streaming   StreamingConfig `mapstructure:"streaming"`
	Interview   InterviewConfig `mapstructure:"interview"`
	Policy      PolicyConfig    `mapstructure:"policy"`
	Prompts     PromptsConfig   `mapstructure:"prompts"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	Tracing     TracingConfig   `mapstructure:"tracing"`
	Health      HealthConfig    `mapstructure:"health"`
}

// ServiceConfig contains HTTP server settings.
type ServiceConfig struct {
	Port            int           `mapstructure:"port"`
	MetricsPort     int           `mapstructure:"metrics_port"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	SkipAuth           bool          `mapstructure:"skip_auth"`
	JWTSecret          string        `mapstructure:"jwt_secret"`
	AccessTokenExpiry  time.Duration `mapstructure:"access_token_expiry"`
	RefreshTokenExpiry time.Duration `mapstructure:"refresh_token_expiry"`
}

// TemporalConfig contains workflow runtime settings.
type TemporalConfig struct {
	HostPort    string            `mapstructure:"host_port"`
	Namespace   string            `mapstructure:"namespace"`
	TaskQueue   string            `mapstructure:"task_queue"`
	RetryPolicy RetryPolicyConfig `mapstructure:"retry_policy"`
}

// RetryPolicyConfig contains default activity retry settings.
type RetryPolicyConfig struct {
	InitialInterval    time.Duration `mapstructure:"initial_interval"`
	BackoffCoefficient float64       `mapstructure:"backoff_coefficient"`
	MaximumInterval    time.Duration `mapstructure:"maximum_interval"`
	MaximumAttempts    int32         `mapstructure:"maximum_attempts"`
}

// LLMConfig contains model endpoint settings.
type LLMConfig struct {
	Endpoint          string        `mapstructure:"endpoint"`
	Model             string        `mapstructure:"model"`
	EvaluatorModel    string        `mapstructure:"evaluator_model"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// PostgresConfig contains interview store settings.
type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	WriteQueueSize  int           `mapstructure:"write_queue_size"`
	WriteWorkers    int           `mapstructure:"write_workers"`
}

// ConnectionString renders a lib/pq DSN.
func (c PostgresConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig contains session registry and event mirror settings.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr renders host:port for redis clients.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SessionConfig contains session registry settings.
type SessionConfig struct {
	TTL        time.Duration `mapstructure:"ttl"`
	CacheSize  int           `mapstructure:"cache_size"`
	MaxHistory int           `mapstructure:"max_history"`
}

// StreamingConfig contains event streaming settings.
type StreamingConfig struct {
	RingCapacity int           `mapstructure:"ring_capacity"`
	RedisMirror  bool          `mapstructure:"redis_mirror"`
	EventTTL     time.Duration `mapstructure:"event_ttl"`
}

// InterviewConfig contains interview loop settings.
type InterviewConfig struct {
	// MaxCycles caps hypothesis retry cycles before the interview fails.
	MaxCycles int `mapstructure:"max_cycles"`
	// AnswerTimeout bounds how long the interview waits on a human response.
	AnswerTimeout time.Duration `mapstructure:"answer_timeout"`
	// MaxCalcRounds caps calculation tool calls in one verification pass.
	MaxCalcRounds int `mapstructure:"max_calc_rounds"`
	// CalcTimeout bounds a single calculation script run.
	CalcTimeout time.Duration `mapstructure:"calc_timeout"`
}

// PolicyConfig contains script guard settings.
type PolicyConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Mode        string `mapstructure:"mode"`
	Path        string `mapstructure:"path"`
	FailClosed  bool   `mapstructure:"fail_closed"`
	Environment string `mapstructure:"environment"`
}

// PromptsConfig contains prompt catalog settings.
type PromptsConfig struct {
	OverridesPath string `mapstructure:"overrides_path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Development      bool     `mapstructure:"development"`
	Encoding         string   `mapstructure:"encoding"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// TracingConfig contains OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// HealthConfig contains health check settings.
type HealthConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Port          int           `mapstructure:"port"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Environment: "dev",
		Service: ServiceConfig{
			Port:            8080,
			MetricsPort:     2112,
			GracefulTimeout: 30 * time.Second,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
		},
		Auth: AuthConfig{
			Enabled:            false,
			SkipAuth:           true,
			JWTSecret:          "change-this-to-a-secure-32-char-minimum-secret",
			AccessTokenExpiry:  30 * time.Minute,
			RefreshTokenExpiry: 7 * 24 * time.Hour,
		},
		Temporal: TemporalConfig{
			HostPort:  "localhost:7233",
			Namespace: "default",
			TaskQueue: "interviews",
			RetryPolicy: RetryPolicyConfig{
				InitialInterval:    1 * time.Second,
				BackoffCoefficient: 2.0,
				MaximumInterval:    100 * time.Second,
				MaximumAttempts:    5,
			},
		},
		LLM: LLMConfig{
			Endpoint:          "http://localhost:11434/v1/chat/completions",
			Model:             "gemma3:27b",
			EvaluatorModel:    "gpt-oss:20b",
			MaxTokens:         4096,
			RequestsPerSecond: 2,
			Burst:             4,
			Timeout:           120 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "drill",
			Password:        "drill",
			Database:        "designdrill",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			WriteQueueSize:  1024,
			WriteWorkers:    2,
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		Session: SessionConfig{
			TTL:        30 * 24 * time.Hour,
			CacheSize:  1024,
			MaxHistory: 500,
		},
		Streaming: StreamingConfig{
			RingCapacity: 256,
			RedisMirror:  true,
			EventTTL:     24 * time.Hour,
		},
		Interview: InterviewConfig{
			MaxCycles:     25,
			AnswerTimeout: 72 * time.Hour,
			MaxCalcRounds: 8,
			CalcTimeout:   10 * time.Second,
		},
		Policy: PolicyConfig{
			Enabled:     false,
			Mode:        "off",
			Path:        "config/policies",
			FailClosed:  false,
			Environment: "dev",
		},
		Prompts: PromptsConfig{
			OverridesPath: "",
		},
		Logging: LoggingConfig{
			Level:            "info",
			Development:      false,
			Encoding:         "json",
			OutputPaths:      []string{"stdout"},
			ErrorOutputPaths: []string{"stderr"},
		},
		Tracing: TracingConfig{
			Enabled:      false,
			ServiceName:  "designdrill-orchestrator",
			OTLPEndpoint: "localhost:4317",
		},
		Health: HealthConfig{
			Enabled:       true,
			Port:          8081,
			CheckInterval: 30 * time.Second,
			Timeout:       5 * time.Second,
		},
	}
}

// Load reads config/orchestrator.yaml (or CONFIG_PATH) over the defaults and
// applies environment overrides. A missing file is not an error; the defaults
// plus environment carry a development setup.
func Load() (*Config, error) {
	cfg := Default()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config/orchestrator.yaml"
	}
	if _, err := os.Stat(path); err == nil {
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies the deployment-level environment variables that
// win over file settings.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.Environment = v
		cfg.Policy.Environment = v
	}
	if v := os.Getenv("API_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			cfg.Service.Port = p
		}
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			cfg.Service.MetricsPort = p
		}
	}
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			cfg.Postgres.Port = p
		}
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			cfg.Redis.Port = p
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("TEMPORAL_HOST"); v != "" {
		cfg.Temporal.HostPort = v
	}
	if v := os.Getenv("TEMPORAL_NAMESPACE"); v != "" {
		cfg.Temporal.Namespace = v
	}
	if v := os.Getenv("TEMPORAL_TASK_QUEUE"); v != "" {
		cfg.Temporal.TaskQueue = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		cfg.LLM.Endpoint = v
	}
	if v := os.Getenv("DRILL_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("DRILL_EVALUATOR_MODEL"); v != "" {
		cfg.LLM.EvaluatorModel = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.OTLPEndpoint = v
		cfg.Tracing.Enabled = true
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("service port must be between 1 and 65535, got %d", c.Service.Port)
	}
	if c.Service.MetricsPort < 1 || c.Service.MetricsPort > 65535 {
		return fmt.Errorf("metrics port must be between 1 and 65535, got %d", c.Service.MetricsPort)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	switch c.Policy.Mode {
	case "off", "dry-run", "enforce":
	default:
		return fmt.Errorf("unknown policy mode %q", c.Policy.Mode)
	}
	if c.LLM.Endpoint == "" {
		return fmt.Errorf("llm endpoint cannot be empty")
	}
	if c.Interview.MaxCycles < 1 {
		return fmt.Errorf("interview max_cycles must be at least 1, got %d", c.Interview.MaxCycles)
	}
	if c.Interview.MaxCalcRounds < 1 {
		return fmt.Errorf("interview max_calc_rounds must be at least 1, got %d", c.Interview.MaxCalcRounds)
	}
	if c.Auth.Enabled && !c.Auth.SkipAuth && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("jwt secret must be at least 32 characters when auth is enforced")
	}
	return nil
}
