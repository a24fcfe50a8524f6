// Package config loads and validates the alert engine's runtime
// configuration from a YAML file, overlaid with environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP surfaces the service exposes.
type ServerConfig struct {
	APIPort     string `yaml:"api_port"`
	WebhookPort string `yaml:"webhook_port"`
	MetricsPort string `yaml:"metrics_port"`
}

// LLMConfig configures the natural-language rule compiler's model
// provider (C3's Parse step).
type LLMConfig struct {
	Endpoint       string        `yaml:"endpoint"`
	Model          string        `yaml:"model"`
	Timeout        time.Duration `yaml:"timeout"`
	RetryCount     int           `yaml:"retry_count"`
	Provider       string        `yaml:"provider"`
	Temperature    float32       `yaml:"temperature"`
	MaxTokens      int           `yaml:"max_tokens"`
	MaxContextSize int           `yaml:"max_context_size"`
	APIKey         string        `yaml:"api_key"`
	Region         string        `yaml:"region"`
}

// UnmarshalYAML lets Timeout be written as a duration string ("30s")
// while keeping the field itself a time.Duration.
func (c *LLMConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain struct {
		Endpoint       string  `yaml:"endpoint"`
		Model          string  `yaml:"model"`
		Timeout        string  `yaml:"timeout"`
		RetryCount     int     `yaml:"retry_count"`
		Provider       string  `yaml:"provider"`
		Temperature    float32 `yaml:"temperature"`
		MaxTokens      int     `yaml:"max_tokens"`
		MaxContextSize int     `yaml:"max_context_size"`
		APIKey         string  `yaml:"api_key"`
		Region         string  `yaml:"region"`
	}
	var p plain
	if err := unmarshal(&p); err != nil {
		return err
	}
	c.Endpoint = p.Endpoint
	c.Model = p.Model
	c.RetryCount = p.RetryCount
	c.Provider = p.Provider
	c.Temperature = p.Temperature
	c.MaxTokens = p.MaxTokens
	c.MaxContextSize = p.MaxContextSize
	c.APIKey = p.APIKey
	c.Region = p.Region
	if p.Timeout != "" {
		d, err := time.ParseDuration(p.Timeout)
		if err != nil {
			return fmt.Errorf("invalid llm timeout %q: %w", p.Timeout, err)
		}
		c.Timeout = d
	}
	return nil
}

// TenancyConfig scopes which account group and deployment region this
// instance evaluates rules for.
type TenancyConfig struct {
	Region           string `yaml:"region"`
	DefaultUserGroup string `yaml:"default_user_group"`
}

// EvaluationConfig controls how the rule evaluator and orchestrator
// run (C4/C7).
type EvaluationConfig struct {
	DryRun         bool          `yaml:"dry_run"`
	MaxConcurrent  int           `yaml:"max_concurrent"`
	CooldownPeriod time.Duration `yaml:"cooldown_period"`
}

// UnmarshalYAML lets CooldownPeriod be written as a duration string
// ("5m") while keeping the field itself a time.Duration.
func (c *EvaluationConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain struct {
		DryRun         bool   `yaml:"dry_run"`
		MaxConcurrent  int    `yaml:"max_concurrent"`
		CooldownPeriod string `yaml:"cooldown_period"`
	}
	var p plain
	if err := unmarshal(&p); err != nil {
		return err
	}
	c.DryRun = p.DryRun
	c.MaxConcurrent = p.MaxConcurrent
	if p.CooldownPeriod != "" {
		d, err := time.ParseDuration(p.CooldownPeriod)
		if err != nil {
			return fmt.Errorf("invalid cooldown period %q: %w", p.CooldownPeriod, err)
		}
		c.CooldownPeriod = d
	}
	return nil
}

// CompilerConfig holds the rule compiler's confidence and duplicate-
// similarity cutoffs. These are safe to hot-swap from a config file
// watch since they only gate Compile decisions, not held connections.
type CompilerConfig struct {
	MinConfidence          float64 `yaml:"min_confidence"`
	DupSimilarityThreshold float64 `yaml:"dup_similarity_threshold"`
}

// FilterConfig narrows which transactions a named filter applies to,
// keyed by field name (e.g. "user_group", "severity").
type FilterConfig struct {
	Name       string              `yaml:"name"`
	Conditions map[string][]string `yaml:"conditions"`
}

// LoggingConfig controls the logrus/zap output format and verbosity.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// WebhookConfig is where inbound notification acknowledgements and
// rule-authoring requests land.
type WebhookConfig struct {
	Port string `yaml:"port"`
	Path string `yaml:"path"`
}

// SMTPConfig configures the outbound mail relay used by the email
// notification channel (C6).
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// WebhookDispatchConfig configures the outbound webhook notification
// channel (C6), distinct from the inbound WebhookConfig above.
type WebhookDispatchConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// UnmarshalYAML lets DefaultTimeout be written as a duration string.
func (c *WebhookDispatchConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain struct {
		DefaultTimeout string `yaml:"default_timeout"`
	}
	var p plain
	if err := unmarshal(&p); err != nil {
		return err
	}
	if p.DefaultTimeout != "" {
		d, err := time.ParseDuration(p.DefaultTimeout)
		if err != nil {
			return fmt.Errorf("invalid webhook default_timeout %q: %w", p.DefaultTimeout, err)
		}
		c.DefaultTimeout = d
	}
	return nil
}

// RedisConfig addresses the Redis instance backing the orchestrator's
// evaluation and dispatch queues (C7).
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// OrchestrationConfig sizes the orchestrator's worker pools and queue
// bounds (C7).
type OrchestrationConfig struct {
	EvalWorkers     int           `yaml:"eval_workers"`
	DispatchWorkers int           `yaml:"dispatch_workers"`
	EvalQueueMax    int64         `yaml:"eval_queue_max"`
	DrainTimeout    time.Duration `yaml:"drain_timeout"`
}

// UnmarshalYAML lets DrainTimeout be written as a duration string
// ("30s") while keeping the field itself a time.Duration.
func (c *OrchestrationConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain struct {
		EvalWorkers     int    `yaml:"eval_workers"`
		DispatchWorkers int    `yaml:"dispatch_workers"`
		EvalQueueMax    int64  `yaml:"eval_queue_max"`
		DrainTimeout    string `yaml:"drain_timeout"`
	}
	var p plain
	if err := unmarshal(&p); err != nil {
		return err
	}
	c.EvalWorkers = p.EvalWorkers
	c.DispatchWorkers = p.DispatchWorkers
	c.EvalQueueMax = p.EvalQueueMax
	if p.DrainTimeout != "" {
		d, err := time.ParseDuration(p.DrainTimeout)
		if err != nil {
			return fmt.Errorf("invalid orchestration drain_timeout %q: %w", p.DrainTimeout, err)
		}
		c.DrainTimeout = d
	}
	return nil
}

// Config is the top-level application configuration.
type Config struct {
	Server        ServerConfig          `yaml:"server"`
	LLM           LLMConfig             `yaml:"llm"`
	Compiler      CompilerConfig        `yaml:"compiler"`
	Tenancy       TenancyConfig         `yaml:"tenancy"`
	Actions       EvaluationConfig      `yaml:"actions"`
	Filters       []FilterConfig        `yaml:"filters"`
	Logging       LoggingConfig         `yaml:"logging"`
	Webhook       WebhookConfig         `yaml:"webhook"`
	Database      DatabaseConfig        `yaml:"database"`
	VectorDB      VectorDBConfig        `yaml:"vector_db"`
	SMTP          SMTPConfig            `yaml:"smtp"`
	WebhookDispatch WebhookDispatchConfig `yaml:"webhook_dispatch"`
	Redis         RedisConfig           `yaml:"redis"`
	Orchestration OrchestrationConfig   `yaml:"orchestration"`
}

// Load reads configFile, applies defaults, overlays environment
// variables, and validates the result.
func Load(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			APIPort: "8080",
		},
		Tenancy: TenancyConfig{
			DefaultUserGroup: "default",
		},
		Actions: EvaluationConfig{
			MaxConcurrent: 5,
		},
		LLM: LLMConfig{
			Provider:  "localai",
			MaxTokens: 512,
		},
		Compiler: CompilerConfig{
			MinConfidence:          0.6,
			DupSimilarityThreshold: 0.92,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Orchestration: OrchestrationConfig{
			DrainTimeout: 30 * time.Second,
		},
	}
}

func validate(cfg *Config) error {
	switch cfg.LLM.Provider {
	case "localai", "anthropic", "bedrock", "vertexai", "mistral":
	default:
		return fmt.Errorf("unsupported LLM provider: %s", cfg.LLM.Provider)
	}

	if cfg.LLM.Endpoint == "" {
		cfg.LLM.Endpoint = "http://localhost:8080"
	}

	if cfg.LLM.Provider == "localai" && cfg.LLM.Model == "" {
		return fmt.Errorf("LLM model is required for localai provider")
	}

	if cfg.LLM.Temperature < 0.0 || cfg.LLM.Temperature > 1.0 {
		return fmt.Errorf("LLM temperature must be between 0.0 and 1.0")
	}

	if cfg.LLM.MaxTokens <= 0 {
		return fmt.Errorf("LLM max tokens must be greater than 0")
	}

	if cfg.Tenancy.DefaultUserGroup == "" {
		return fmt.Errorf("default user group is required")
	}

	if cfg.Actions.MaxConcurrent <= 0 {
		return fmt.Errorf("max concurrent actions must be greater than 0")
	}

	return nil
}

func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("SLM_ENDPOINT"); v != "" {
		cfg.LLM.Endpoint = v
	}
	if v := os.Getenv("SLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("SLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("SLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("SLM_REGION"); v != "" {
		cfg.LLM.Region = v
	}
	if v := os.Getenv("API_PORT"); v != "" {
		cfg.Server.APIPort = v
	}
	if v := os.Getenv("WEBHOOK_PORT"); v != "" {
		cfg.Server.WebhookPort = v
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		cfg.Server.MetricsPort = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DRY_RUN"); v != "" {
		dryRun, err := strconv.ParseBool(v)
		if err == nil {
			cfg.Actions.DryRun = dryRun
		}
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.SMTP.Password = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	return nil
}
