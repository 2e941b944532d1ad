package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the GenFlow server.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Orchestrator OrchestratorConfig
	Worker       WorkerConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// OrchestratorConfig tunes the generation-job synchronization loops.
type OrchestratorConfig struct {
	PollInterval    time.Duration
	PushThrottle    time.Duration
	JobTimeout      time.Duration
	SubmitAttempts  int
	SubmitBaseDelay time.Duration
	CacheTTL        time.Duration
}

// WorkerConfig selects and configures the generation worker per modality.
type WorkerConfig struct {
	TextProvider  string
	AudioProvider string
	ImageProvider string
	OpenAI        OpenAIConfig
	Relay         RelayConfig
}

type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	TextModel  string
	AudioModel string
	AudioVoice string
	ImageModel string
	ImageSize  string
	Timeout    time.Duration
}

// RelayConfig configures the asynchronous relay worker, which accepts job
// submissions over HTTP and completes them via the callback endpoint.
type RelayConfig struct {
	BaseURL     string
	Token       string
	CallbackURL string
	Timeout     time.Duration
}

var validProviders = map[string]bool{
	"openai": true,
	"relay":  true,
	"mock":   true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("GENFLOW_PORT", 8080),
			Env:  envString("GENFLOW_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Orchestrator: OrchestratorConfig{
			PollInterval:    envDuration("GENFLOW_POLL_INTERVAL", 4*time.Second),
			PushThrottle:    envDuration("GENFLOW_PUSH_THROTTLE", 2*time.Second),
			JobTimeout:      envDuration("GENFLOW_JOB_TIMEOUT", 2*time.Minute),
			SubmitAttempts:  envInt("GENFLOW_SUBMIT_ATTEMPTS", 3),
			SubmitBaseDelay: envDuration("GENFLOW_SUBMIT_BASE_DELAY", 1500*time.Millisecond),
			CacheTTL:        envDuration("GENFLOW_CACHE_TTL", 24*time.Hour),
		},
		Worker: WorkerConfig{
			TextProvider:  envString("GENFLOW_TEXT_PROVIDER", "openai"),
			AudioProvider: envString("GENFLOW_AUDIO_PROVIDER", "relay"),
			ImageProvider: envString("GENFLOW_IMAGE_PROVIDER", "openai"),
			OpenAI: OpenAIConfig{
				APIKey:     os.Getenv("OPENAI_API_KEY"),
				BaseURL:    envString("OPENAI_BASE_URL", "https://api.openai.com/v1"),
				TextModel:  envString("OPENAI_TEXT_MODEL", "gpt-4o-mini"),
				AudioModel: envString("OPENAI_AUDIO_MODEL", "tts-1"),
				AudioVoice: envString("OPENAI_AUDIO_VOICE", "alloy"),
				ImageModel: envString("OPENAI_IMAGE_MODEL", "dall-e-3"),
				ImageSize:  envString("OPENAI_IMAGE_SIZE", "1024x1024"),
				Timeout:    envDurationSecs("OPENAI_TIMEOUT_SECS", 90*time.Second),
			},
			Relay: RelayConfig{
				BaseURL:     os.Getenv("RELAY_BASE_URL"),
				Token:       os.Getenv("RELAY_TOKEN"),
				CallbackURL: os.Getenv("RELAY_CALLBACK_URL"),
				Timeout:     envDurationSecs("RELAY_TIMEOUT_SECS", 30*time.Second),
			},
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Orchestrator.PollInterval <= 0 {
		return fmt.Errorf("GENFLOW_POLL_INTERVAL must be positive")
	}
	if c.Orchestrator.JobTimeout <= c.Orchestrator.PollInterval {
		return fmt.Errorf("GENFLOW_JOB_TIMEOUT must exceed GENFLOW_POLL_INTERVAL")
	}
	if c.Orchestrator.SubmitAttempts < 1 {
		return fmt.Errorf("GENFLOW_SUBMIT_ATTEMPTS must be at least 1")
	}

	usesOpenAI := false
	usesRelay := false
	for name, provider := range map[string]string{
		"GENFLOW_TEXT_PROVIDER":  c.Worker.TextProvider,
		"GENFLOW_AUDIO_PROVIDER": c.Worker.AudioProvider,
		"GENFLOW_IMAGE_PROVIDER": c.Worker.ImageProvider,
	} {
		if !validProviders[provider] {
			return fmt.Errorf("%s must be one of openai, relay, mock; got %q", name, provider)
		}
		usesOpenAI = usesOpenAI || provider == "openai"
		usesRelay = usesRelay || provider == "relay"
	}

	if usesOpenAI && c.Worker.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when a provider is openai")
	}
	if usesRelay {
		if c.Worker.Relay.BaseURL == "" {
			return fmt.Errorf("RELAY_BASE_URL is required when a provider is relay")
		}
		if !strings.HasPrefix(c.Worker.Relay.BaseURL, "http://") && !strings.HasPrefix(c.Worker.Relay.BaseURL, "https://") {
			return fmt.Errorf("RELAY_BASE_URL must start with http:// or https://, got %q", c.Worker.Relay.BaseURL)
		}
		if c.Worker.Relay.CallbackURL == "" {
			return fmt.Errorf("RELAY_CALLBACK_URL is required when a provider is relay")
		}
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
