// Package config loads and validates the overseer YAML configuration.
// Invalid configuration is a hard startup error naming the offending key,
// the expected shape, and the actual value.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all overseer configuration.
type Config struct {
	Agent         AgentConfig         `yaml:"agent"`
	Model         ModelConfig         `yaml:"model"`
	Orchestration OrchestrationConfig `yaml:"orchestration"`
	Context       ContextConfig       `yaml:"context"`
	Validation    ValidationConfig    `yaml:"validation"`
	NL            NLConfig            `yaml:"nl"`
	Monitoring    MonitoringConfig    `yaml:"monitoring"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// AgentConfig configures the implementer agent port.
type AgentConfig struct {
	Type            string `yaml:"type"`             // registry key, e.g. "scripted"
	ResponseTimeout int    `yaml:"response_timeout"` // seconds, >= 60
	Retries         int    `yaml:"retries"`
}

// ResponseTimeoutDuration returns the timeout as a duration.
func (a AgentConfig) ResponseTimeoutDuration() time.Duration {
	return time.Duration(a.ResponseTimeout) * time.Second
}

// ModelConfig configures the validator model port.
type ModelConfig struct {
	Type          string  `yaml:"type"`
	ContextWindow int     `yaml:"context_window"` // tokens
	Temperature   float64 `yaml:"temperature"`
}

// MaxTurnsConfig bounds the adaptive turn budget.
type MaxTurnsConfig struct {
	Min             int     `yaml:"min"`     // >= 3
	Max             int     `yaml:"max"`     // <= 30
	Default         int     `yaml:"default"` // within [min, max]
	RetryMultiplier float64 `yaml:"retry_multiplier"`
	MaxRetries      int     `yaml:"max_retries"`
	AutoRetry       bool    `yaml:"auto_retry"`
}

// OrchestrationConfig configures the task iteration loop.
type OrchestrationConfig struct {
	MaxIterations    int            `yaml:"max_iterations"`
	IterationTimeout int            `yaml:"iteration_timeout"` // seconds, 0 disables
	MaxTurns         MaxTurnsConfig `yaml:"max_turns"`
}

// IterationTimeoutDuration returns the per-iteration deadline; zero means
// no deadline.
func (o OrchestrationConfig) IterationTimeoutDuration() time.Duration {
	return time.Duration(o.IterationTimeout) * time.Second
}

// ThresholdsConfig holds the context-window zone boundaries as fractions.
type ThresholdsConfig struct {
	Warning  float64 `yaml:"warning"`
	Refresh  float64 `yaml:"refresh"`
	Critical float64 `yaml:"critical"`
}

// ContextConfig wraps the threshold section.
type ContextConfig struct {
	Thresholds ThresholdsConfig `yaml:"thresholds"`
}

// ValidationConfig configures the validation pipeline floors and targets.
type ValidationConfig struct {
	QualityFloor                  int `yaml:"quality_floor"`
	QualityTarget                 int `yaml:"quality_target"`
	ConfidenceFloor               int `yaml:"confidence_floor"`
	ConfidenceTarget              int `yaml:"confidence_target"`
	BreakpointConfidenceThreshold int `yaml:"breakpoint_confidence_threshold"`
}

// NLConfig configures the natural-language pipeline.
type NLConfig struct {
	ConfidenceThreshold     float64 `yaml:"confidence_threshold"`
	ConfirmationTimeout     int     `yaml:"confirmation_timeout"` // seconds
	BulkRequireConfirmation bool    `yaml:"bulk_require_confirmation"`
}

// ConfirmationTimeoutDuration returns the timeout as a duration.
func (n NLConfig) ConfirmationTimeoutDuration() time.Duration {
	return time.Duration(n.ConfirmationTimeout) * time.Second
}

// PrivacyConfig selects the redaction filters.
type PrivacyConfig struct {
	RedactPII     bool `yaml:"redact_pii"`
	RedactSecrets bool `yaml:"redact_secrets"`
}

// RotationConfig bounds the production log on disk.
type RotationConfig struct {
	MaxFileSizeMB int `yaml:"max_file_size_mb"`
	MaxFiles      int `yaml:"max_files"`
}

// ProductionLoggingConfig configures the JSONL production log.
type ProductionLoggingConfig struct {
	Enabled  bool            `yaml:"enabled"`
	Path     string          `yaml:"path"`
	Events   map[string]bool `yaml:"events"`
	Privacy  PrivacyConfig   `yaml:"privacy"`
	Rotation RotationConfig  `yaml:"rotation"`
}

// MonitoringConfig wraps production logging.
type MonitoringConfig struct {
	ProductionLogging ProductionLoggingConfig `yaml:"production_logging"`
}

// LoggingConfig configures the debug category loggers.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

// Default returns a configuration with all documented defaults applied.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Type:            "scripted",
			ResponseTimeout: 7200,
			Retries:         3,
		},
		Model: ModelConfig{
			Type:          "scripted",
			ContextWindow: 128000,
			Temperature:   0.2,
		},
		Orchestration: OrchestrationConfig{
			MaxIterations:    5,
			IterationTimeout: 7200,
			MaxTurns: MaxTurnsConfig{
				Min:             3,
				Max:             30,
				Default:         10,
				RetryMultiplier: 2.0,
				MaxRetries:      2,
				AutoRetry:       true,
			},
		},
		Context: ContextConfig{
			Thresholds: ThresholdsConfig{
				Warning:  0.50,
				Refresh:  0.70,
				Critical: 0.85,
			},
		},
		Validation: ValidationConfig{
			QualityFloor:                  50,
			QualityTarget:                 70,
			ConfidenceFloor:               30,
			ConfidenceTarget:              50,
			BreakpointConfidenceThreshold: 20,
		},
		NL: NLConfig{
			ConfidenceThreshold:     0.7,
			ConfirmationTimeout:     60,
			BulkRequireConfirmation: true,
		},
		Monitoring: MonitoringConfig{
			ProductionLogging: ProductionLoggingConfig{
				Enabled: false,
				Privacy: PrivacyConfig{RedactPII: true, RedactSecrets: true},
				Rotation: RotationConfig{
					MaxFileSizeMB: 50,
					MaxFiles:      5,
				},
			},
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads the YAML file at path, applies it over the defaults, and
// validates the result. A missing file returns the validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// keyError formats the hard-startup-error shape: offending key, expected
// shape, actual value.
func keyError(key, expected string, actual any) error {
	return fmt.Errorf("invalid config: key %q expects %s, got %v", key, expected, actual)
}

// Validate checks every constraint the design requires. It returns the
// first violation found.
func (c *Config) Validate() error {
	if c.Agent.Type == "" {
		return keyError("agent.type", "a registered agent name", `""`)
	}
	if c.Agent.ResponseTimeout < 60 {
		return keyError("agent.response_timeout", "seconds >= 60", c.Agent.ResponseTimeout)
	}
	if c.Agent.Retries < 0 {
		return keyError("agent.retries", "a non-negative integer", c.Agent.Retries)
	}

	if c.Model.Type == "" {
		return keyError("model.type", "a registered model name", `""`)
	}
	if c.Model.ContextWindow <= 0 {
		return keyError("model.context_window", "a positive token count", c.Model.ContextWindow)
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return keyError("model.temperature", "a float in [0, 2]", c.Model.Temperature)
	}

	if c.Orchestration.MaxIterations <= 0 {
		return keyError("orchestration.max_iterations", "a positive integer", c.Orchestration.MaxIterations)
	}
	if c.Orchestration.IterationTimeout < 0 {
		return keyError("orchestration.iteration_timeout", "a non-negative number of seconds", c.Orchestration.IterationTimeout)
	}
	mt := c.Orchestration.MaxTurns
	if mt.Min < 3 {
		return keyError("orchestration.max_turns.min", "an integer >= 3", mt.Min)
	}
	if mt.Max > 30 || mt.Max < mt.Min {
		return keyError("orchestration.max_turns.max", fmt.Sprintf("an integer in [%d, 30]", mt.Min), mt.Max)
	}
	if mt.Default < mt.Min || mt.Default > mt.Max {
		return keyError("orchestration.max_turns.default", fmt.Sprintf("an integer in [%d, %d]", mt.Min, mt.Max), mt.Default)
	}
	if mt.RetryMultiplier < 1.0 {
		return keyError("orchestration.max_turns.retry_multiplier", "a float >= 1.0", mt.RetryMultiplier)
	}
	if mt.MaxRetries < 0 {
		return keyError("orchestration.max_turns.max_retries", "a non-negative integer", mt.MaxRetries)
	}

	th := c.Context.Thresholds
	if !(th.Warning > 0 && th.Warning < th.Refresh && th.Refresh < th.Critical && th.Critical < 1) {
		return keyError("context.thresholds", "0 < warning < refresh < critical < 1",
			fmt.Sprintf("warning=%v refresh=%v critical=%v", th.Warning, th.Refresh, th.Critical))
	}

	v := c.Validation
	for _, check := range []struct {
		key string
		val int
	}{
		{"validation.quality_floor", v.QualityFloor},
		{"validation.quality_target", v.QualityTarget},
		{"validation.confidence_floor", v.ConfidenceFloor},
		{"validation.confidence_target", v.ConfidenceTarget},
		{"validation.breakpoint_confidence_threshold", v.BreakpointConfidenceThreshold},
	} {
		if check.val < 0 || check.val > 100 {
			return keyError(check.key, "an integer in [0, 100]", check.val)
		}
	}
	if v.QualityFloor > v.QualityTarget {
		return keyError("validation.quality_floor", fmt.Sprintf("an integer <= quality_target (%d)", v.QualityTarget), v.QualityFloor)
	}
	if v.ConfidenceFloor > v.ConfidenceTarget {
		return keyError("validation.confidence_floor", fmt.Sprintf("an integer <= confidence_target (%d)", v.ConfidenceTarget), v.ConfidenceFloor)
	}

	if c.NL.ConfidenceThreshold <= 0 || c.NL.ConfidenceThreshold > 1 {
		return keyError("nl.confidence_threshold", "a float in (0, 1]", c.NL.ConfidenceThreshold)
	}
	if c.NL.ConfirmationTimeout <= 0 {
		return keyError("nl.confirmation_timeout", "a positive number of seconds", c.NL.ConfirmationTimeout)
	}

	pl := c.Monitoring.ProductionLogging
	if pl.Enabled && pl.Path == "" {
		return keyError("monitoring.production_logging.path", "a file path when enabled", `""`)
	}
	if pl.Rotation.MaxFileSizeMB < 0 {
		return keyError("monitoring.production_logging.rotation.max_file_size_mb", "a non-negative integer", pl.Rotation.MaxFileSizeMB)
	}
	if pl.Rotation.MaxFiles < 0 {
		return keyError("monitoring.production_logging.rotation.max_files", "a non-negative integer", pl.Rotation.MaxFiles)
	}

	return nil
}
