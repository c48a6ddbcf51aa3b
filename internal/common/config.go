package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"

	"github.com/ternarybob/reperio/internal/models"
)

// Config represents the application configuration.
type Config struct {
	Environment  string             `toml:"environment"` // "development" or "production"
	Logging      LoggingConfig      `toml:"logging"`
	Storage      StorageConfig      `toml:"storage"`
	Queues       QueuesConfig       `toml:"queues"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Scraper      ScraperConfig      `toml:"scraper"`
	Gemini       GeminiConfig       `toml:"gemini"`
	Claude       ClaudeConfig       `toml:"claude"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration.
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// QueuesConfig carries per-queue overrides keyed by queue name. Queues not
// listed here run with DefaultQueueConfig values.
type QueuesConfig struct {
	PollInterval      time.Duration                 `toml:"poll_interval"`
	VisibilityTimeout time.Duration                 `toml:"visibility_timeout"`
	Overrides         map[string]QueueOverrideConfig `toml:"overrides"`
}

// QueueOverrideConfig overrides select defaults for one named queue.
// Zero values mean "keep the default".
type QueueOverrideConfig struct {
	Concurrency      int           `toml:"concurrency"`
	RateLimitMax     int           `toml:"rate_limit_max"`
	RateLimitWindow  time.Duration `toml:"rate_limit_window"`
	RetryAttempts    int           `toml:"retry_attempts"`
	BackoffType      string        `toml:"backoff_type"` // "fixed" or "exponential"
	BackoffDelay     time.Duration `toml:"backoff_delay"`
	CompletedRetain  int           `toml:"completed_retain"`
}

// OrchestratorConfig tunes the profile discovery pipeline.
type OrchestratorConfig struct {
	RateLimitingEnabled   bool          `toml:"rate_limiting_enabled"`
	MinExecutionInterval  time.Duration `toml:"min_execution_interval"` // Global gate between pipeline starts
	MaxQueriesPerProfile  int           `toml:"max_queries_per_profile"`
	StatusPollInterval    time.Duration `toml:"status_poll_interval"` // Search completion poll cadence
	SearchWaitTimeout     time.Duration `toml:"search_wait_timeout"`  // Completion wait ceiling
	RelevanceThreshold    float64       `toml:"relevance_threshold" validate:"gte=0,lte=1"`
	MaxConcurrentAnalyses int           `toml:"max_concurrent_analyses"`
	TrustedDomains        []string      `toml:"trusted_domains"`
	BlockedDomains        []string      `toml:"blocked_domains"`
	StaleAfter            time.Duration `toml:"stale_after"` // Executions running longer than this are swept failed
}

// ScraperConfig controls outbound page fetching politeness.
type ScraperConfig struct {
	UserAgent      string        `toml:"user_agent"`
	RequestDelay   time.Duration `toml:"request_delay"` // Minimum delay between requests to same domain
	RequestTimeout time.Duration `toml:"request_timeout"`
	MaxBodySize    int           `toml:"max_body_size"`
}

// GeminiConfig contains Google Gemini API configuration for query generation
// and grounded web search.
type GeminiConfig struct {
	APIKey string `toml:"api_key"`
	Model  string `toml:"model"` // default: "gemini-2.0-flash"
}

// ClaudeConfig contains Anthropic Claude API configuration for opportunity
// relevance analysis.
type ClaudeConfig struct {
	APIKey    string `toml:"api_key"`
	Model     string `toml:"model"`      // default: "claude-haiku-4-5"
	MaxTokens int    `toml:"max_tokens"` // default: 1024
}

// DefaultConfig returns a configuration with all defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{Path: "./data/reperio"},
		},
		Queues: QueuesConfig{
			PollInterval:      250 * time.Millisecond,
			VisibilityTimeout: 5 * time.Minute,
			Overrides: map[string]QueueOverrideConfig{
				// Scraping queues run serialized to stay polite to remote sites.
				string(models.JobTypeOrganizationScrape): {Concurrency: 1, RateLimitMax: 10, RateLimitWindow: time.Minute},
				string(models.JobTypeBookmarkScrape):     {Concurrency: 1, RateLimitMax: 10, RateLimitWindow: time.Minute},
				string(models.JobTypeSearchExecution):    {Concurrency: 2, RetryAttempts: 2},
				string(models.JobTypeResultProcessing):   {Concurrency: 5},
			},
		},
		Orchestrator: OrchestratorConfig{
			RateLimitingEnabled:   true,
			MinExecutionInterval:  5 * time.Second,
			MaxQueriesPerProfile:  15,
			StatusPollInterval:    2 * time.Second,
			SearchWaitTimeout:     5 * time.Minute,
			RelevanceThreshold:    0.6,
			MaxConcurrentAnalyses: 3,
			BlockedDomains: []string{
				"facebook.com", "instagram.com", "twitter.com", "x.com",
				"pinterest.com", "etsy.com", "ebay.com", "amazon.com",
			},
			StaleAfter: 30 * time.Minute,
		},
		Scraper: ScraperConfig{
			UserAgent:      "reperio/1.0 (+https://github.com/ternarybob/reperio)",
			RequestDelay:   2 * time.Second,
			RequestTimeout: 30 * time.Second,
			MaxBodySize:    2 << 20,
		},
		Gemini: GeminiConfig{Model: "gemini-2.0-flash"},
		Claude: ClaudeConfig{Model: "claude-haiku-4-5", MaxTokens: 1024},
	}
}

// LoadFromFile loads configuration from a TOML file over the defaults, then
// applies environment variable overrides, then validates.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnvOverrides applies REPERIO_* environment variables on top of the
// file configuration. API keys are the usual case for env-only values.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("REPERIO_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("REPERIO_BADGER_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		config.Gemini.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		config.Claude.APIKey = v
	}
	if v := os.Getenv("REPERIO_RATE_LIMITING"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			config.Orchestrator.RateLimitingEnabled = enabled
		}
	}
}

// Validate checks cross-field invariants the struct tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if c.Storage.Badger.Path == "" {
		return fmt.Errorf("storage.badger.path is required")
	}
	if c.Orchestrator.MaxQueriesPerProfile < 1 {
		return fmt.Errorf("orchestrator.max_queries_per_profile must be at least 1")
	}
	if c.Orchestrator.StatusPollInterval <= 0 {
		return fmt.Errorf("orchestrator.status_poll_interval must be positive")
	}
	if c.Orchestrator.SearchWaitTimeout <= 0 {
		return fmt.Errorf("orchestrator.search_wait_timeout must be positive")
	}
	for name, override := range c.Queues.Overrides {
		if override.Concurrency < 0 {
			return fmt.Errorf("queues.overrides.%s: concurrency cannot be negative", name)
		}
		if override.BackoffType != "" &&
			override.BackoffType != string(models.BackoffFixed) &&
			override.BackoffType != string(models.BackoffExponential) {
			return fmt.Errorf("queues.overrides.%s: unknown backoff type %q", name, override.BackoffType)
		}
	}
	return nil
}

// QueueConfigFor builds the effective QueueConfig for a named queue by
// applying any override on top of the defaults. Values are fixed once the
// queue is created; there is no hot reload.
func (c *Config) QueueConfigFor(name string) models.QueueConfig {
	qc := models.DefaultQueueConfig(name)
	if c.Queues.PollInterval > 0 {
		qc.PollInterval = c.Queues.PollInterval
	}
	if c.Queues.VisibilityTimeout > 0 {
		qc.VisibilityTimeout = c.Queues.VisibilityTimeout
	}
	override, ok := c.Queues.Overrides[name]
	if !ok {
		return qc
	}
	if override.Concurrency > 0 {
		qc.Concurrency = override.Concurrency
	}
	if override.RateLimitMax > 0 {
		qc.RateLimit.Max = override.RateLimitMax
		qc.RateLimit.Duration = override.RateLimitWindow
		if qc.RateLimit.Duration <= 0 {
			qc.RateLimit.Duration = time.Minute
		}
	}
	if override.RetryAttempts > 0 {
		qc.Retry.Attempts = override.RetryAttempts
	}
	if override.BackoffType != "" {
		qc.Retry.Backoff.Type = models.BackoffType(override.BackoffType)
	}
	if override.BackoffDelay > 0 {
		qc.Retry.Backoff.Delay = override.BackoffDelay
	}
	if override.CompletedRetain > 0 {
		qc.CompletedRetention = override.CompletedRetain
	}
	return qc
}

// ValidateSchedule validates a cron expression using the same parser the
// scheduler runs with, so a bad expression fails at call time rather than at
// first fire.
func ValidateSchedule(schedule string) error {
	if schedule == "" {
		return fmt.Errorf("schedule is required")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", schedule, err)
	}
	return nil
}
