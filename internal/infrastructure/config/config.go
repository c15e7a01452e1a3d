package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full gateway configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Tasks     TasksConfig     `mapstructure:"tasks"`
	Security  SecurityConfig  `mapstructure:"security"`

	// Services maps logical service names (intent, memory, feeling, drive,
	// policy, telemetry, tools, merger, vision) to base URLs. Loaded from
	// services.json and hot-reloaded; empty URL means the in-process engine
	// is used directly.
	Services map[string]string `mapstructure:"services"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // local, production
}

// LogConfig controls logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig selects the trait/episode store backend.
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // sqlite, postgres
	DSN  string `mapstructure:"dsn"`
}

// RedisConfig configures the shared Redis store (rate limits, tasks, cache).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ProviderConfig configures model providers and the routing model table.
type ProviderConfig struct {
	OpenRouterAPIKey  string `mapstructure:"openrouter_api_key"`
	OpenRouterAPIBase string `mapstructure:"openrouter_api_base"`
	DefaultModel      string `mapstructure:"default_model"`
	ToolCallModel     string `mapstructure:"toolcall_model"`
	VisionModel       string `mapstructure:"vision_model"`
	ExplicitModel     string `mapstructure:"explicit_model"`
	CoderModel        string `mapstructure:"coder_model"`

	OllamaBase        string `mapstructure:"ollama_base"`
	DefaultLocalModel string `mapstructure:"default_local_model"`

	// FamilyPriorities overrides the per-family model priority lists, keyed
	// by family name (e.g. "TECH"). Values are comma-separated model slugs;
	// env override is OPENROUTER_PRIORITIES_<FAMILY>.
	FamilyPriorities map[string]string `mapstructure:"family_priorities"`
}

// RateLimitConfig controls the per-user token bucket.
type RateLimitConfig struct {
	PerMin    int           `mapstructure:"per_min"`
	Burst     int           `mapstructure:"burst"`
	BucketTTL time.Duration `mapstructure:"bucket_ttl"`
}

// PipelineConfig tunes the chat pipeline.
type PipelineConfig struct {
	TimeoutSeconds int     `mapstructure:"timeout_seconds"` // 0 = disabled
	MaxToolIters   int     `mapstructure:"max_tool_iters"`
	Temperature    float64 `mapstructure:"temperature"`
	BaseSystem     string  `mapstructure:"base_system"`
}

// TasksConfig tunes the async task queue.
type TasksConfig struct {
	MaxRetries        int           `mapstructure:"max_retries"`
	MaxDepth          int           `mapstructure:"max_depth"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	WorkerEnabled     bool          `mapstructure:"worker_enabled"`
}

// SecurityConfig holds the inter-service shared secret and opt-ins.
type SecurityConfig struct {
	SharedSecret string `mapstructure:"shared_secret"`

	// AllowExternalForRegulated lets REGULATED-family traffic leave the
	// local provider. Off by default.
	AllowExternalForRegulated bool `mapstructure:"allow_external_for_regulated"`
}

// Load reads configuration with layered precedence:
// defaults → gateway.yaml (global, then local) → services.json → env vars.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("gateway")
	v.SetConfigType("yaml")

	globalDir := filepath.Join(os.Getenv("HOME"), ".halcyon")
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read global config: %w", err)
		}
	}

	// Local overlay: ./config/gateway.yaml or ./gateway.yaml, first found wins.
	for _, localDir := range []string{"./config", "."} {
		localPath := filepath.Join(localDir, "gateway.yaml")
		if _, err := os.Stat(localPath); err == nil {
			v2 := viper.New()
			v2.SetConfigFile(localPath)
			if err := v2.ReadInConfig(); err == nil {
				_ = v.MergeConfigMap(v2.AllSettings())
			}
			break
		}
	}

	// services.json maps logical service names to base URLs.
	_ = loadServicesFile(v, ServicesFilePath())

	v.SetEnvPrefix("HALCYON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindDocumentedEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// bindDocumentedEnv wires the flat, documented environment names that do not
// follow the HALCYON_ prefix convention.
func bindDocumentedEnv(v *viper.Viper) {
	bindings := map[string]string{
		"provider.openrouter_api_key":           "OPENROUTER_API_KEY",
		"provider.openrouter_api_base":          "OPENROUTER_API_BASE",
		"provider.default_model":                "OPENROUTER_MODEL_DEFAULT",
		"provider.toolcall_model":               "OPENROUTER_MODEL_TOOLCALL",
		"provider.vision_model":                 "OPENROUTER_MODEL_VISION",
		"provider.explicit_model":               "OPENROUTER_MODEL_EXPLICIT",
		"provider.coder_model":                  "OPENROUTER_MODEL_CODER",
		"provider.ollama_base":                  "OLLAMA_BASE",
		"provider.default_local_model":          "DEFAULT_LOCAL_MODEL",
		"rate_limit.per_min":                    "RATE_LIMIT_PER_MIN",
		"rate_limit.burst":                      "RATE_LIMIT_BURST",
		"pipeline.timeout_seconds":              "PIPELINE_TIMEOUT_SECONDS",
		"tasks.max_retries":                     "TASK_MAX_RETRIES",
		"tasks.max_depth":                       "TASK_MAX_DEPTH",
		"tasks.visibility_timeout":              "TASK_VISIBILITY_TIMEOUT",
		"security.shared_secret":                "SUITE_SHARED_SECRET",
		"security.allow_external_for_regulated": "ALLOW_EXTERNAL_FOR_REGULATED",
		"redis.addr":                            "REDIS_ADDR",
	}
	for key, env := range bindings {
		_ = v.BindEnv(key, env)
	}

	for _, family := range []string{"TECH", "LEGAL", "REGULATED", "PSYCHOTHERAPY", "GENERAL_PRECISION", "OPEN_ENDED"} {
		_ = v.BindEnv("provider.family_priorities."+strings.ToLower(family), "OPENROUTER_PRIORITIES_"+family)
	}
}

// setDefaults installs defaults for every tunable.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.mode", "local")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "halcyon.db")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("provider.openrouter_api_base", "https://openrouter.ai/api/v1")
	v.SetDefault("provider.default_model", "openai/gpt-4o-mini")
	v.SetDefault("provider.toolcall_model", "openai/gpt-4o-mini")
	v.SetDefault("provider.vision_model", "openai/gpt-4o")
	v.SetDefault("provider.explicit_model", "x-ai/grok-2")
	v.SetDefault("provider.coder_model", "qwen/qwen-2.5-coder-32b-instruct")
	v.SetDefault("provider.ollama_base", "http://localhost:11434")
	v.SetDefault("provider.default_local_model", "q4_7b.gguf")

	v.SetDefault("rate_limit.per_min", 60)
	v.SetDefault("rate_limit.burst", 10)
	v.SetDefault("rate_limit.bucket_ttl", "120s")

	v.SetDefault("pipeline.timeout_seconds", 0)
	v.SetDefault("pipeline.max_tool_iters", 3)
	v.SetDefault("pipeline.temperature", 0.3)
	v.SetDefault("pipeline.base_system", "You are a helpful assistant.")

	v.SetDefault("tasks.max_retries", 3)
	v.SetDefault("tasks.max_depth", 4)
	v.SetDefault("tasks.visibility_timeout", "120s")
	v.SetDefault("tasks.worker_enabled", true)
}

// ServiceURL returns the configured base URL for a logical service, or ""
// when the service should be served in-process.
func (c *Config) ServiceURL(name string) string {
	if c.Services == nil {
		return ""
	}
	return strings.TrimRight(c.Services[name], "/")
}
