// Package config loads and validates runtime configuration through viper.
// Values come from an optional YAML file, SKIMMER_* environment variables,
// and built-in defaults, in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root of the runtime configuration tree.
type Config struct {
	Workers    int              `mapstructure:"workers"`
	QueueDepth int              `mapstructure:"queue_depth"`
	Seeds      []string         `mapstructure:"seeds"`
	Seed       int64            `mapstructure:"seed"`
	Rate       RateConfig       `mapstructure:"rate"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Rotation   RotationConfig   `mapstructure:"rotation"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Selector   SelectorConfig   `mapstructure:"selector"`
	Pagination PaginationConfig `mapstructure:"pagination"`
	Parser     ParserConfig     `mapstructure:"parser"`
	Sink       SinkConfig       `mapstructure:"sink"`
	Dedupe     DedupeConfig     `mapstructure:"dedupe"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type RateConfig struct {
	Mode          string  `mapstructure:"mode"`
	RPS           float64 `mapstructure:"rps"`
	Burst         int     `mapstructure:"burst"`
	MinRPS        float64 `mapstructure:"min_rps"`
	MaxRPS        float64 `mapstructure:"max_rps"`
	SuccessStreak int     `mapstructure:"success_streak"`
	IncreaseStep  float64 `mapstructure:"increase_step"`
	DecayFactor   float64 `mapstructure:"decay_factor"`
}

type RetryConfig struct {
	MaxRetries  int           `mapstructure:"max_retries"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffCap  time.Duration `mapstructure:"backoff_cap"`
}

type IdentityConfig struct {
	Proxy     string  `mapstructure:"proxy"`
	UserAgent string  `mapstructure:"user_agent"`
	Weight    float64 `mapstructure:"weight"`
}

type RotationConfig struct {
	Strategy    string           `mapstructure:"strategy"`
	MaxFailures int              `mapstructure:"max_failures"`
	Identities  []IdentityConfig `mapstructure:"identities"`
}

type RenderedConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	MaxParallel       int           `mapstructure:"max_parallel"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	Proxy             string        `mapstructure:"proxy"`
}

type FetchConfig struct {
	Timeout       time.Duration  `mapstructure:"timeout"`
	RespectRobots bool           `mapstructure:"respect_robots"`
	MaxBodyBytes  int            `mapstructure:"max_body_bytes"`
	Rendered      RenderedConfig `mapstructure:"rendered"`
}

type SelectorConfig struct {
	Overrides         map[string]string `mapstructure:"overrides"`
	APIPatterns       []string          `mapstructure:"api_patterns"`
	MinBodyBytes      int               `mapstructure:"min_body_bytes"`
	ScriptCoveragePct int               `mapstructure:"script_coverage_pct"`
}

type PaginationConfig struct {
	Strategy   string `mapstructure:"strategy"`
	Param      string `mapstructure:"param"`
	MaxPages   int    `mapstructure:"max_pages"`
	MaxScrolls int    `mapstructure:"max_scrolls"`
}

type ParserConfig struct {
	RecordSelector string            `mapstructure:"record_selector"`
	Fields         map[string]string `mapstructure:"fields"`
	NextSelector   string            `mapstructure:"next_selector"`
	FollowLinks    bool              `mapstructure:"follow_links"`
	MaxLinks       int               `mapstructure:"max_links"`
}

type SinkConfig struct {
	Type      string `mapstructure:"type"`
	Path      string `mapstructure:"path"`
	DSN       string `mapstructure:"dsn"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

type DedupeConfig struct {
	Backend   string        `mapstructure:"backend"`
	RedisAddr string        `mapstructure:"redis_addr"`
	Prefix    string        `mapstructure:"prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ConfigurationError marks a config value the engine cannot run with.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// Load reads configuration from path (optional), the environment, and the
// defaults, then validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SKIMMER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("workers", 4)
	v.SetDefault("queue_depth", 256)
	v.SetDefault("seed", 0)

	v.SetDefault("rate.mode", "fixed")
	v.SetDefault("rate.rps", 1.0)
	v.SetDefault("rate.burst", 1)
	v.SetDefault("rate.min_rps", 0.1)
	v.SetDefault("rate.max_rps", 8.0)
	v.SetDefault("rate.success_streak", 10)
	v.SetDefault("rate.increase_step", 0.5)
	v.SetDefault("rate.decay_factor", 0.5)

	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.backoff_base", 250*time.Millisecond)
	v.SetDefault("retry.backoff_cap", 5*time.Second)

	v.SetDefault("rotation.strategy", "round_robin")
	v.SetDefault("rotation.max_failures", 3)

	v.SetDefault("fetch.timeout", 15*time.Second)
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("fetch.rendered.enabled", false)
	v.SetDefault("fetch.rendered.max_parallel", 2)
	v.SetDefault("fetch.rendered.navigation_timeout", 45*time.Second)
	v.SetDefault("fetch.rendered.settle_delay", 500*time.Millisecond)

	v.SetDefault("selector.min_body_bytes", 2048)
	v.SetDefault("selector.script_coverage_pct", 25)

	v.SetDefault("pagination.strategy", "numbered")
	v.SetDefault("pagination.max_pages", 10)
	v.SetDefault("pagination.max_scrolls", 10)

	v.SetDefault("parser.follow_links", false)
	v.SetDefault("parser.max_links", 50)

	v.SetDefault("sink.type", "jsonl")
	v.SetDefault("sink.path", "records.jsonl")

	v.SetDefault("dedupe.backend", "memory")
	v.SetDefault("dedupe.prefix", "skimmer:seen")
	v.SetDefault("dedupe.ttl", 24*time.Hour)

	v.SetDefault("server.port", 8077)
	v.SetDefault("logging.development", false)
}

// Validate rejects values the engine refuses to start with.
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return &ConfigurationError{Field: "workers", Reason: "must be positive"}
	}
	if c.QueueDepth <= 0 {
		return &ConfigurationError{Field: "queue_depth", Reason: "must be positive"}
	}

	switch c.Rate.Mode {
	case "fixed", "adaptive":
	default:
		return &ConfigurationError{Field: "rate.mode", Reason: fmt.Sprintf("unknown mode %q", c.Rate.Mode)}
	}
	if c.Rate.RPS <= 0 {
		return &ConfigurationError{Field: "rate.rps", Reason: "must be positive"}
	}
	if c.Rate.Mode == "adaptive" {
		if c.Rate.MinRPS <= 0 {
			return &ConfigurationError{Field: "rate.min_rps", Reason: "must be positive"}
		}
		if c.Rate.MaxRPS < c.Rate.MinRPS {
			return &ConfigurationError{Field: "rate.max_rps", Reason: "must be >= rate.min_rps"}
		}
	}

	if c.Retry.MaxRetries < 0 {
		return &ConfigurationError{Field: "retry.max_retries", Reason: "must be >= 0"}
	}
	if c.Retry.BackoffBase <= 0 {
		return &ConfigurationError{Field: "retry.backoff_base", Reason: "must be positive"}
	}
	if c.Retry.BackoffCap < c.Retry.BackoffBase {
		return &ConfigurationError{Field: "retry.backoff_cap", Reason: "must be >= retry.backoff_base"}
	}

	switch c.Rotation.Strategy {
	case "round_robin", "random", "weighted":
	default:
		return &ConfigurationError{Field: "rotation.strategy", Reason: fmt.Sprintf("unknown strategy %q", c.Rotation.Strategy)}
	}

	switch c.Pagination.Strategy {
	case "", "none", "numbered", "scroll", "token":
	default:
		return &ConfigurationError{Field: "pagination.strategy", Reason: fmt.Sprintf("unknown strategy %q", c.Pagination.Strategy)}
	}

	switch c.Sink.Type {
	case "jsonl", "csv", "memory":
	case "postgres":
		if c.Sink.DSN == "" {
			return &ConfigurationError{Field: "sink.dsn", Reason: "required for postgres sink"}
		}
	case "pubsub":
		if c.Sink.ProjectID == "" || c.Sink.Topic == "" {
			return &ConfigurationError{Field: "sink", Reason: "project_id and topic required for pubsub sink"}
		}
	default:
		return &ConfigurationError{Field: "sink.type", Reason: fmt.Sprintf("unknown sink %q", c.Sink.Type)}
	}

	switch c.Dedupe.Backend {
	case "memory":
	case "redis":
		if c.Dedupe.RedisAddr == "" {
			return &ConfigurationError{Field: "dedupe.redis_addr", Reason: "required for redis backend"}
		}
	default:
		return &ConfigurationError{Field: "dedupe.backend", Reason: fmt.Sprintf("unknown backend %q", c.Dedupe.Backend)}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return &ConfigurationError{Field: "server.port", Reason: "must be a valid tcp port"}
	}
	return nil
}
