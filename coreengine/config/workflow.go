// Package config provides the workflow configuration: retry budgets, unit
// model settings, and the ambient logging/tracing/LLM endpoint settings.
//
// Only the retry limits and unit registration are consumed by the
// orchestration core. Everything else configures the capability layer.
package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jeeves-cluster-organization/answerflow/coreengine/envelope"
)

// UnitConfig is the declarative configuration of one capability unit.
type UnitConfig struct {
	Model        string   `mapstructure:"model" json:"model" yaml:"model"`
	Temperature  float64  `mapstructure:"temperature" json:"temperature" yaml:"temperature"`
	MaxTokens    int      `mapstructure:"max_tokens" json:"max_tokens" yaml:"max_tokens"`
	PromptKey    string   `mapstructure:"prompt_key" json:"prompt_key" yaml:"prompt_key"`
	AllowedTools []string `mapstructure:"allowed_tools" json:"allowed_tools" yaml:"allowed_tools"`
}

// LLMConfig configures the OpenAI-compatible chat endpoint.
type LLMConfig struct {
	Provider       string `mapstructure:"provider" json:"provider" yaml:"provider"`
	BaseURL        string `mapstructure:"base_url" json:"base_url" yaml:"base_url"`
	APIKey         string `mapstructure:"api_key" json:"-" yaml:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" json:"timeout_seconds" yaml:"timeout_seconds"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" json:"level" yaml:"level"`
	Format string `mapstructure:"format" json:"format" yaml:"format"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	Endpoint    string `mapstructure:"endpoint" json:"endpoint" yaml:"endpoint"`
	ServiceName string `mapstructure:"service_name" json:"service_name" yaml:"service_name"`
}

// WorkflowConfig is the complete configuration of a Runner and its units.
type WorkflowConfig struct {
	Name string `mapstructure:"name" json:"name" yaml:"name"`

	// RetryLimits maps a unit name (planner, researcher, synthesizer) to the
	// number of rejections after which the run is forced to finalize.
	RetryLimits map[string]int `mapstructure:"retry_limits" json:"retry_limits" yaml:"retry_limits"`

	// MaxToolIterations bounds the internal tool loop of research and synthesis.
	MaxToolIterations int `mapstructure:"max_tool_iterations" json:"max_tool_iterations" yaml:"max_tool_iterations"`

	Units map[string]UnitConfig `mapstructure:"units" json:"units" yaml:"units"`

	// PromptsFile optionally overrides built-in prompt templates.
	PromptsFile string `mapstructure:"prompts_file" json:"prompts_file" yaml:"prompts_file"`

	// FilesRoot is the directory the file-reading tool is confined to.
	FilesRoot string `mapstructure:"files_root" json:"files_root" yaml:"files_root"`

	LLM     LLMConfig     `mapstructure:"llm" json:"llm" yaml:"llm"`
	Logging LoggingConfig `mapstructure:"logging" json:"logging" yaml:"logging"`
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing" yaml:"tracing"`
}

// Default returns a WorkflowConfig with default values.
func Default() *WorkflowConfig {
	return &WorkflowConfig{
		Name: "answerflow",
		RetryLimits: map[string]int{
			string(envelope.UnitPlanner):     3,
			string(envelope.UnitResearcher):  3,
			string(envelope.UnitSynthesizer): 3,
		},
		MaxToolIterations: 10,
		Units: map[string]UnitConfig{
			string(envelope.UnitPlanner): {
				Model: "gpt-4o-mini", Temperature: 0, MaxTokens: 2000, PromptKey: "planner",
			},
			string(envelope.UnitResearcher): {
				Model: "gpt-4o-mini", Temperature: 0, MaxTokens: 4000, PromptKey: "researcher",
				AllowedTools: []string{"read_text_file", "calculator"},
			},
			string(envelope.UnitSynthesizer): {
				Model: "gpt-4o-mini", Temperature: 0, MaxTokens: 4000, PromptKey: "synthesizer",
				AllowedTools: []string{"calculator", "unit_converter"},
			},
			string(envelope.UnitReviewer): {
				Model: "gpt-4o-mini", Temperature: 0, MaxTokens: 1000, PromptKey: "reviewer",
			},
			string(envelope.UnitFinalizer): {
				Model: "gpt-4o-mini", Temperature: 0, MaxTokens: 2000, PromptKey: "finalizer",
			},
		},
		FilesRoot: ".",
		LLM: LLMConfig{
			Provider:       "openai",
			BaseURL:        "https://api.openai.com/v1",
			TimeoutSeconds: 120,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Tracing: TracingConfig{Enabled: false, Endpoint: "localhost:4317", ServiceName: "answerflow"},
	}
}

// RetryLimitsByUnit returns the retry limits keyed by unit.
func (c *WorkflowConfig) RetryLimitsByUnit() map[envelope.Unit]int {
	out := make(map[envelope.Unit]int, len(c.RetryLimits))
	for name, n := range c.RetryLimits {
		out[envelope.Unit(name)] = n
	}
	return out
}

// Unit returns the configuration of the named unit.
func (c *WorkflowConfig) Unit(u envelope.Unit) (UnitConfig, bool) {
	uc, ok := c.Units[string(u)]
	return uc, ok
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a single validation failure.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels.
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the configuration and returns every problem found, or nil.
func (c *WorkflowConfig) Validate() error {
	var errs ValidationErrors

	if c.Name == "" {
		errs = append(errs, ValidationError{Field: "name", Value: c.Name, Message: "must not be empty"})
	}

	for _, name := range sortedKeys(c.RetryLimits) {
		limit := c.RetryLimits[name]
		if !envelope.Unit(name).IsRetryable() {
			errs = append(errs, ValidationError{
				Field:   "retry_limits." + name,
				Value:   limit,
				Message: "only planner, researcher and synthesizer accept a retry limit",
			})
			continue
		}
		if limit < 1 {
			errs = append(errs, ValidationError{Field: "retry_limits." + name, Value: limit, Message: "must be at least 1"})
		}
	}

	if c.MaxToolIterations < 1 {
		errs = append(errs, ValidationError{Field: "max_tool_iterations", Value: c.MaxToolIterations, Message: "must be at least 1"})
	}

	for _, u := range []envelope.Unit{
		envelope.UnitPlanner, envelope.UnitResearcher, envelope.UnitSynthesizer,
		envelope.UnitReviewer, envelope.UnitFinalizer,
	} {
		uc, ok := c.Units[string(u)]
		field := "units." + string(u)
		if !ok {
			errs = append(errs, ValidationError{Field: field, Value: nil, Message: "unit is not configured"})
			continue
		}
		if uc.Model == "" {
			errs = append(errs, ValidationError{Field: field + ".model", Value: uc.Model, Message: "must not be empty"})
		}
		if uc.Temperature < 0 || uc.Temperature > 2 {
			errs = append(errs, ValidationError{Field: field + ".temperature", Value: uc.Temperature, Message: "must be between 0 and 2"})
		}
		if uc.MaxTokens < 0 {
			errs = append(errs, ValidationError{Field: field + ".max_tokens", Value: uc.MaxTokens, Message: "must not be negative"})
		}
	}

	if !contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errs = append(errs, ValidationError{Field: "logging.level", Value: c.Logging.Level, Message: "must be one of debug, info, warn, error"})
	}
	if f := strings.ToLower(c.Logging.Format); f != "json" && f != "text" {
		errs = append(errs, ValidationError{Field: "logging.format", Value: c.Logging.Format, Message: "must be json or text"})
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		errs = append(errs, ValidationError{Field: "tracing.endpoint", Value: "", Message: "required when tracing is enabled"})
	}
	if c.LLM.TimeoutSeconds < 0 {
		errs = append(errs, ValidationError{Field: "llm.timeout_seconds", Value: c.LLM.TimeoutSeconds, Message: "must not be negative"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
