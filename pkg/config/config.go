package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/common/model"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/opscart/lambda-sizer/pkg/optimizer"
	"github.com/opscart/lambda-sizer/pkg/pricing"
	"github.com/opscart/lambda-sizer/pkg/sampler"
)

// Model repository backends
const (
	RepositoryFile     = "file"
	RepositoryPostgres = "postgres"
	RepositoryRedis    = "redis"
)

// Config holds application configuration
type Config struct {
	// Pricing
	Region               string  `mapstructure:"aws_region"`
	Architecture         string  `mapstructure:"architecture"`
	UnitPrice            float64 `mapstructure:"unit_price"`
	StaticInvocationCost float64 `mapstructure:"static_invocation_cost"`

	// Sampling
	MemorySizes      []int `mapstructure:"-"`
	RunsPerSize      int   `mapstructure:"runs_per_size"`
	ColdStartRetries int   `mapstructure:"cold_start_retries"`

	// Sizing
	MinMemoryMB    int     `mapstructure:"min_memory_mb"`
	MaxMemoryMB    int     `mapstructure:"max_memory_mb"`
	MemoryStepMB   int     `mapstructure:"memory_step_mb"`
	BalancedWeight float64 `mapstructure:"balanced_weight"`

	// Workflows
	TransitionTimeMs float64       `mapstructure:"transition_time_ms"`
	TransitionCost   float64       `mapstructure:"transition_cost"`
	PenaltyCost      float64       `mapstructure:"penalty_cost"`
	PollInterval     time.Duration `mapstructure:"-"`
	WorkflowRuns     int           `mapstructure:"workflow_runs"`

	// Storage
	ModelRepository     string `mapstructure:"model_repository"`
	ModelRepositoryPath string `mapstructure:"model_repository_path"`
	DatabaseURL         string `mapstructure:"database_url"`
	RedisURL            string `mapstructure:"redis_url"`
	LogDir              string `mapstructure:"log_dir"`
	LogBucket           string `mapstructure:"log_bucket"`

	// Output
	MetricsTextfile string `mapstructure:"metrics_textfile"`
	PushgatewayURL  string `mapstructure:"pushgateway_url"`
	OutputFormat    string `mapstructure:"output_format"`
	Verbose         bool   `mapstructure:"verbose"`
}

// NewConfig creates a configuration from defaults and the environment
func NewConfig() *Config {
	cfg, err := Load("")
	if err != nil {
		// only malformed environment values get here
		log.Warn().Err(err).Msg("Invalid environment configuration, using defaults")
		cfg, _ = decode(newViper())
	}
	return cfg
}

// Load reads defaults, then the YAML file at path when given, then the
// environment, each overriding the previous one.
func Load(path string) (*Config, error) {
	v := newViper()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		log.Debug().Str("file", v.ConfigFileUsed()).Msg("Using config file")
	}

	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("aws_region", "us-east-1")
	v.SetDefault("architecture", pricing.ArchX86)
	v.SetDefault("unit_price", 0.0)
	v.SetDefault("static_invocation_cost", 0.0)

	v.SetDefault("memory_sizes", "128,512,1024,2048,3008")
	v.SetDefault("runs_per_size", 5)
	v.SetDefault("cold_start_retries", 1)

	v.SetDefault("min_memory_mb", 128)
	v.SetDefault("max_memory_mb", 3008)
	v.SetDefault("memory_step_mb", 64)
	v.SetDefault("balanced_weight", 0.5)

	v.SetDefault("transition_time_ms", 20.0)
	v.SetDefault("transition_cost", 0.000025)
	v.SetDefault("penalty_cost", 1.0)
	v.SetDefault("poll_interval", "10s")
	v.SetDefault("workflow_runs", 6)

	v.SetDefault("model_repository", RepositoryFile)
	v.SetDefault("model_repository_path", "./performance_model_repository.json")
	v.SetDefault("database_url", "host=localhost port=5432 user=sizer password=devpassword dbname=lambdasizer sslmode=disable")
	v.SetDefault("redis_url", "redis://localhost:6379/0")
	v.SetDefault("log_dir", "./logs")
	v.SetDefault("log_bucket", "")

	v.SetDefault("metrics_textfile", "")
	v.SetDefault("pushgateway_url", "")
	v.SetDefault("output_format", "text")
	v.SetDefault("verbose", false)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	interval, err := model.ParseDuration(v.GetString("poll_interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid POLL_INTERVAL: %w", err)
	}
	cfg.PollInterval = time.Duration(interval)

	sizes, err := parseSizes(v.Get("memory_sizes"))
	if err != nil {
		return nil, fmt.Errorf("invalid MEMORY_SIZES: %w", err)
	}
	cfg.MemorySizes = sizes

	return &cfg, nil
}

// parseSizes accepts "128,512" from the environment or a YAML list.
func parseSizes(raw interface{}) ([]int, error) {
	var items []string
	switch t := raw.(type) {
	case string:
		items = strings.FieldsFunc(t, func(r rune) bool { return r == ',' || r == ' ' })
	case []interface{}:
		for _, item := range t {
			items = append(items, fmt.Sprint(item))
		}
	case []int:
		return t, nil
	default:
		return nil, fmt.Errorf("unsupported value %v", raw)
	}

	sizes := make([]int, 0, len(items))
	for _, item := range items {
		size, err := strconv.Atoi(strings.TrimSpace(item))
		if err != nil {
			return nil, fmt.Errorf("invalid memory size %q", item)
		}
		sizes = append(sizes, size)
	}
	return sizes, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Architecture != pricing.ArchX86 && c.Architecture != pricing.ArchARM64 {
		return fmt.Errorf("ARCHITECTURE must be %s or %s", pricing.ArchX86, pricing.ArchARM64)
	}
	if c.MinMemoryMB < 128 || c.MaxMemoryMB > 10240 || c.MinMemoryMB > c.MaxMemoryMB {
		return fmt.Errorf("memory range [%d, %d] must lie within [128, 10240]", c.MinMemoryMB, c.MaxMemoryMB)
	}
	if c.MemoryStepMB <= 0 {
		return fmt.Errorf("MEMORY_STEP_MB must be positive")
	}
	if len(c.MemorySizes) < 3 {
		return fmt.Errorf("at least 3 memory sizes must be sampled to fit a model")
	}
	for _, size := range c.MemorySizes {
		if size < c.MinMemoryMB || size > c.MaxMemoryMB {
			return fmt.Errorf("memory size %d is outside [%d, %d]", size, c.MinMemoryMB, c.MaxMemoryMB)
		}
	}
	if c.RunsPerSize < 1 {
		return fmt.Errorf("RUNS_PER_SIZE must be at least 1")
	}
	if c.ColdStartRetries < 0 {
		return fmt.Errorf("COLD_START_RETRIES must not be negative")
	}
	if c.BalancedWeight < 0 || c.BalancedWeight > 1 {
		return fmt.Errorf("BALANCED_WEIGHT must be within [0, 1]")
	}
	if c.TransitionTimeMs < 0 || c.TransitionCost < 0 {
		return fmt.Errorf("transition overhead must not be negative")
	}
	if c.PenaltyCost <= 0 {
		return fmt.Errorf("PENALTY_COST must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.WorkflowRuns < 2 {
		return fmt.Errorf("WORKFLOW_RUNS must be at least 2, the first run is discarded")
	}

	switch c.ModelRepository {
	case RepositoryFile:
		if c.ModelRepositoryPath == "" {
			return fmt.Errorf("MODEL_REPOSITORY_PATH must be set for the file repository")
		}
	case RepositoryPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set for the postgres repository")
		}
	case RepositoryRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set for the redis repository")
		}
	default:
		return fmt.Errorf("unknown MODEL_REPOSITORY %q", c.ModelRepository)
	}
	return nil
}

// PricingConfig returns the pricing settings. The provider is left empty
// so each resource ARN selects it, unless prices are overridden.
func (c *Config) PricingConfig() *pricing.Config {
	provider := ""
	if c.UnitPrice > 0 || c.StaticInvocationCost > 0 {
		provider = "custom"
	}
	return &pricing.Config{
		Provider:             provider,
		Region:               c.Region,
		Architecture:         c.Architecture,
		UnitPrice:            c.UnitPrice,
		StaticInvocationCost: c.StaticInvocationCost,
	}
}

// SamplerConfig returns the sampling settings
func (c *Config) SamplerConfig() sampler.Config {
	return sampler.Config{RunsPerSize: c.RunsPerSize, ColdStartRetries: c.ColdStartRetries}
}

// OptimizerConfig returns the workflow optimizer settings
func (c *Config) OptimizerConfig() optimizer.Config {
	return optimizer.Config{
		MinMemoryMB:      c.MinMemoryMB,
		MaxMemoryMB:      c.MaxMemoryMB,
		TransitionTimeMs: c.TransitionTimeMs,
		TransitionCost:   c.TransitionCost,
		Penalty:          c.PenaltyCost,
	}
}
