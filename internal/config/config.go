// Package config provides configuration loading for taskd.
//
// Configuration precedence (highest to lowest): environment variables,
// YAML config file, hardcoded defaults.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete taskd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
	Pipeline      PipelineConfig      `koanf:"pipeline"`
	Collaborators CollaboratorsConfig `koanf:"collaborators"`
	Notifier      NotifierConfig      `koanf:"notifier"`
	GitHub        GitHubConfig        `koanf:"github"`
	NATS          NATSConfig          `koanf:"nats"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	Endpoint        string `koanf:"endpoint"`
	Protocol        string `koanf:"protocol"` // grpc or http/protobuf
	Insecure        bool   `koanf:"insecure"`
}

// PipelineConfig holds the stage tunables.
type PipelineConfig struct {
	MaxSpecRevisions      int      `koanf:"max_spec_revisions"`
	AutoApproveThreshold  float64  `koanf:"auto_approve_threshold"`
	HumanReviewThreshold  float64  `koanf:"human_review_threshold"`
	MaxCodingIterations   int      `koanf:"max_coding_iterations"`
	MaxTestFixIterations  int      `koanf:"max_test_fix_iterations"`
	MinCoveragePct        float64  `koanf:"min_coverage_pct"`
	PollInterval          Duration `koanf:"poll_interval"`
	MaxPolls              int      `koanf:"max_polls"`
	ContextTokenBudget    int      `koanf:"context_token_budget"`
	DimensionFeedbackFloor float64 `koanf:"dimension_feedback_floor"`
}

// CollaboratorsConfig holds the collaborator service endpoints and timeouts.
type CollaboratorsConfig struct {
	ContextURL string `koanf:"context_url"`
	LLMURL     string `koanf:"llm_url"`
	LLMModel   string `koanf:"llm_model"`
	ScorerURL  string `koanf:"scorer_url"`
	AgentURL   string `koanf:"agent_url"`
	GateURL    string `koanf:"gate_url"`
	TracerURL  string `koanf:"tracer_url"`

	// ShortTimeout bounds scoring, context, and gate calls.
	ShortTimeout Duration `koanf:"short_timeout"`

	// LongTimeout bounds coding, improve, and fix calls, which can run
	// for minutes inside the sandbox.
	LongTimeout Duration `koanf:"long_timeout"`

	SandboxImage string `koanf:"sandbox_image"`

	RetryMaxRetries     int      `koanf:"retry_max_retries"`
	RetryInitialBackoff Duration `koanf:"retry_initial_backoff"`
	RetryMaxBackoff     Duration `koanf:"retry_max_backoff"`
}

// NotifierConfig holds chat notification configuration.
type NotifierConfig struct {
	WebhookURL    string  `koanf:"webhook_url"`
	Channel       string  `koanf:"channel"`
	ReviewChannel string  `koanf:"review_channel"`
	RatePerSecond float64 `koanf:"rate_per_second"`
	Burst         int     `koanf:"burst"`
}

// GitHubConfig holds VCS host configuration.
type GitHubConfig struct {
	Token     Secret   `koanf:"token"`
	BaseURL   string   `koanf:"base_url"`
	Labels    []string `koanf:"labels"`
	Reviewers []string `koanf:"reviewers"`
}

// NATSConfig holds the optional progress fan-out configuration.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "taskd"
	}
	if cfg.Observability.Endpoint == "" {
		cfg.Observability.Endpoint = "localhost:4317"
	}

	if cfg.Pipeline.MaxSpecRevisions == 0 {
		cfg.Pipeline.MaxSpecRevisions = 2
	}
	if cfg.Pipeline.AutoApproveThreshold == 0 {
		cfg.Pipeline.AutoApproveThreshold = 8.0
	}
	if cfg.Pipeline.HumanReviewThreshold == 0 {
		cfg.Pipeline.HumanReviewThreshold = 6.0
	}
	if cfg.Pipeline.MaxCodingIterations == 0 {
		cfg.Pipeline.MaxCodingIterations = 3
	}
	if cfg.Pipeline.MaxTestFixIterations == 0 {
		cfg.Pipeline.MaxTestFixIterations = 2
	}
	if cfg.Pipeline.MinCoveragePct == 0 {
		cfg.Pipeline.MinCoveragePct = 80
	}
	if cfg.Pipeline.PollInterval == 0 {
		cfg.Pipeline.PollInterval = Duration(10 * time.Second)
	}
	if cfg.Pipeline.MaxPolls == 0 {
		cfg.Pipeline.MaxPolls = 60
	}
	if cfg.Pipeline.ContextTokenBudget == 0 {
		cfg.Pipeline.ContextTokenBudget = 8000
	}
	if cfg.Pipeline.DimensionFeedbackFloor == 0 {
		cfg.Pipeline.DimensionFeedbackFloor = 7.0
	}

	if cfg.Collaborators.LLMModel == "" {
		cfg.Collaborators.LLMModel = "claude-sonnet-4-5-20250929"
	}
	if cfg.Collaborators.ShortTimeout == 0 {
		cfg.Collaborators.ShortTimeout = Duration(30 * time.Second)
	}
	if cfg.Collaborators.LongTimeout == 0 {
		cfg.Collaborators.LongTimeout = Duration(5 * time.Minute)
	}
	if cfg.Collaborators.SandboxImage == "" {
		cfg.Collaborators.SandboxImage = "taskd-sandbox:latest"
	}
	if cfg.Collaborators.RetryMaxRetries == 0 {
		cfg.Collaborators.RetryMaxRetries = 3
	}
	if cfg.Collaborators.RetryInitialBackoff == 0 {
		cfg.Collaborators.RetryInitialBackoff = Duration(time.Second)
	}
	if cfg.Collaborators.RetryMaxBackoff == 0 {
		cfg.Collaborators.RetryMaxBackoff = Duration(30 * time.Second)
	}

	if cfg.Notifier.Channel == "" {
		cfg.Notifier.Channel = "#builds"
	}
	if cfg.Notifier.ReviewChannel == "" {
		cfg.Notifier.ReviewChannel = "#spec-review"
	}
	if cfg.Notifier.RatePerSecond == 0 {
		cfg.Notifier.RatePerSecond = 1
	}
	if cfg.Notifier.Burst == 0 {
		cfg.Notifier.Burst = 5
	}

	if len(cfg.GitHub.Labels) == 0 {
		cfg.GitHub.Labels = []string{"automated", "taskd"}
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	p := c.Pipeline
	if p.AutoApproveThreshold < 0 || p.AutoApproveThreshold > 10 {
		return fmt.Errorf("auto_approve_threshold must be within 0-10, got %v", p.AutoApproveThreshold)
	}
	if p.HumanReviewThreshold < 0 || p.HumanReviewThreshold > 10 {
		return fmt.Errorf("human_review_threshold must be within 0-10, got %v", p.HumanReviewThreshold)
	}
	if p.HumanReviewThreshold > p.AutoApproveThreshold {
		return fmt.Errorf("human_review_threshold (%v) must not exceed auto_approve_threshold (%v)",
			p.HumanReviewThreshold, p.AutoApproveThreshold)
	}
	if p.MaxSpecRevisions < 0 {
		return errors.New("max_spec_revisions must not be negative")
	}
	if p.MinCoveragePct < 0 || p.MinCoveragePct > 100 {
		return fmt.Errorf("min_coverage_pct must be within 0-100, got %v", p.MinCoveragePct)
	}
	if p.PollInterval.Duration() <= 0 {
		return errors.New("poll_interval must be positive")
	}
	if p.MaxPolls <= 0 {
		return errors.New("max_polls must be positive")
	}

	return nil
}
