package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

// Queue drivers
const (
	QueueDriverRedis  = "redis"
	QueueDriverMemory = "memory"
)

// Inference providers
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderMock   = "mock"
)

const defaultSystemPrompt = "You are an intelligent assistant tasked with generating professional, coherent, and accurate responses based on user inputs. Maintain a formal tone and ensure clarity in communication."

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Queue     QueueConfig
	Task      TaskConfig
	Render    RenderConfig
	Inference InferenceConfig
	OpenAI    OpenAIConfig
	Gemini    GeminiConfig
	R2        R2Config
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type QueueConfig struct {
	Driver               string
	InferenceConcurrency int
	RenderConcurrency    int
	Retention            time.Duration
	PollInterval         time.Duration
}

type TaskConfig struct {
	Timeout time.Duration
}

type RenderConfig struct {
	Timeout time.Duration
	TempDir string
}

type InferenceConfig struct {
	Provider     string
	SystemPrompt string
	MaxTokens    int
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
	URLExpiry       time.Duration
}

type RateLimitConfig struct {
	ConnectionsPerMin int
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("OPENAI_API_KEY")
	readSecret("GEMINI_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables
	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.allowed_origins", "ALLOWED_ORIGINS")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("queue.driver", "QUEUE_DRIVER")
	_ = v.BindEnv("queue.inference_concurrency", "QUEUE_INFERENCE_CONCURRENCY")
	_ = v.BindEnv("queue.render_concurrency", "QUEUE_RENDER_CONCURRENCY")
	_ = v.BindEnv("queue.retention", "QUEUE_RETENTION")
	_ = v.BindEnv("queue.poll_interval", "QUEUE_POLL_INTERVAL")
	_ = v.BindEnv("task.timeout", "TASK_TIMEOUT")
	_ = v.BindEnv("render.timeout", "RENDER_TIMEOUT")
	_ = v.BindEnv("render.temp_dir", "RENDER_TEMP_DIR")
	_ = v.BindEnv("inference.provider", "INFERENCE_PROVIDER")
	_ = v.BindEnv("inference.system_prompt", "INFERENCE_SYSTEM_PROMPT")
	_ = v.BindEnv("inference.max_tokens", "INFERENCE_MAX_TOKENS")
	_ = v.BindEnv("openai.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("openai.base_url", "OPENAI_BASE_URL")
	_ = v.BindEnv("openai.model", "OPENAI_MODEL")
	_ = v.BindEnv("gemini.api_key", "GEMINI_API_KEY")
	_ = v.BindEnv("gemini.model", "GEMINI_MODEL")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = v.BindEnv("r2.url_expiry", "R2_URL_EXPIRY")
	_ = v.BindEnv("ratelimit.connections_per_min", "RATELIMIT_CONNECTIONS_PER_MIN")

	// Defaults
	v.SetDefault("server.port", "3001")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.allowed_origins", "http://localhost:5173")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Queue defaults
	v.SetDefault("queue.driver", QueueDriverRedis)
	v.SetDefault("queue.inference_concurrency", 4)
	v.SetDefault("queue.render_concurrency", 2)
	v.SetDefault("queue.retention", time.Hour)
	v.SetDefault("queue.poll_interval", 2*time.Second)

	// Lifecycle budgets
	v.SetDefault("task.timeout", 60*time.Second)
	v.SetDefault("render.timeout", 30*time.Second)
	v.SetDefault("render.temp_dir", os.TempDir())

	// Inference defaults
	v.SetDefault("inference.provider", ProviderOpenAI)
	v.SetDefault("inference.system_prompt", defaultSystemPrompt)
	v.SetDefault("inference.max_tokens", 1000)
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("gemini.model", "gemini-2.0-flash")

	// R2 defaults
	v.SetDefault("r2.url_expiry", time.Hour)

	v.SetDefault("ratelimit.connections_per_min", 30)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:           v.GetString("server.port"),
			Env:            v.GetString("server.env"),
			LogLevel:       v.GetString("server.log_level"),
			AllowedOrigins: v.GetString("server.allowed_origins"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Queue: QueueConfig{
			Driver:               strings.ToLower(v.GetString("queue.driver")),
			InferenceConcurrency: v.GetInt("queue.inference_concurrency"),
			RenderConcurrency:    v.GetInt("queue.render_concurrency"),
			Retention:            v.GetDuration("queue.retention"),
			PollInterval:         v.GetDuration("queue.poll_interval"),
		},
		Task: TaskConfig{
			Timeout: v.GetDuration("task.timeout"),
		},
		Render: RenderConfig{
			Timeout: v.GetDuration("render.timeout"),
			TempDir: v.GetString("render.temp_dir"),
		},
		Inference: InferenceConfig{
			Provider:     strings.ToLower(v.GetString("inference.provider")),
			SystemPrompt: v.GetString("inference.system_prompt"),
			MaxTokens:    v.GetInt("inference.max_tokens"),
		},
		OpenAI: OpenAIConfig{
			APIKey:  v.GetString("openai.api_key"),
			BaseURL: v.GetString("openai.base_url"),
			Model:   v.GetString("openai.model"),
		},
		Gemini: GeminiConfig{
			APIKey: v.GetString("gemini.api_key"),
			Model:  v.GetString("gemini.model"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
			URLExpiry:       v.GetDuration("r2.url_expiry"),
		},
		RateLimit: RateLimitConfig{
			ConnectionsPerMin: v.GetInt("ratelimit.connections_per_min"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings the service cannot run with
func (c *Config) Validate() error {
	switch c.Queue.Driver {
	case QueueDriverRedis, QueueDriverMemory:
	default:
		return fmt.Errorf("unknown queue driver %q", c.Queue.Driver)
	}

	switch c.Inference.Provider {
	case ProviderOpenAI, ProviderGemini, ProviderMock:
	default:
		return fmt.Errorf("unknown inference provider %q", c.Inference.Provider)
	}

	if c.Queue.InferenceConcurrency <= 0 || c.Queue.RenderConcurrency <= 0 {
		return fmt.Errorf("queue concurrency must be positive")
	}
	if c.Task.Timeout <= 0 {
		return fmt.Errorf("task timeout must be positive")
	}
	if c.Render.Timeout <= 0 {
		return fmt.Errorf("render timeout must be positive")
	}
	if c.Queue.PollInterval <= 0 {
		return fmt.Errorf("queue poll interval must be positive")
	}

	return nil
}

// R2Configured reports whether object storage credentials are present
func (c *Config) R2Configured() bool {
	return c.R2.AccountID != "" && c.R2.AccessKeyID != "" && c.R2.SecretAccessKey != "" && c.R2.BucketName != ""
}
