package tools

import (
	"time"

	"github.com/mb0/glob"
	"github.com/rs/zerolog/log"
)

// ToolConfig controls how tool calls are executed.
type ToolConfig struct {
	ExecutionTimeout  time.Duration     `json:"execution_timeout" yaml:"execution_timeout" mapstructure:"execution_timeout"`
	MaxParallelTools  int               `json:"max_parallel_tools" yaml:"max_parallel_tools" mapstructure:"max_parallel_tools"`
	AllowedTools      []string          `json:"allowed_tools" yaml:"allowed_tools" mapstructure:"allowed_tools"`
	ToolErrorHandling ToolErrorHandling `json:"tool_error_handling" yaml:"tool_error_handling" mapstructure:"tool_error_handling"`
	ValidateArguments bool              `json:"validate_arguments" yaml:"validate_arguments" mapstructure:"validate_arguments"`
	RetryConfig       RetryConfig       `json:"retry_config" yaml:"retry_config" mapstructure:"retry_config"`
}

func DefaultToolConfig() ToolConfig {
	return ToolConfig{
		ExecutionTimeout:  30 * time.Second,
		MaxParallelTools:  3,
		AllowedTools:      nil,
		ToolErrorHandling: ToolErrorContinue,
		ValidateArguments: true,
		RetryConfig: RetryConfig{
			MaxRetries:    2,
			BackoffBase:   time.Second,
			BackoffFactor: 2.0,
		},
	}
}

func (tc ToolConfig) WithExecutionTimeout(timeout time.Duration) ToolConfig {
	tc.ExecutionTimeout = timeout
	return tc
}

func (tc ToolConfig) WithMaxParallelTools(maxParallel int) ToolConfig {
	tc.MaxParallelTools = maxParallel
	return tc
}

func (tc ToolConfig) WithAllowedTools(patterns []string) ToolConfig {
	tc.AllowedTools = patterns
	return tc
}

func (tc ToolConfig) WithToolErrorHandling(handling ToolErrorHandling) ToolConfig {
	tc.ToolErrorHandling = handling
	return tc
}

func (tc ToolConfig) WithValidateArguments(validate bool) ToolConfig {
	tc.ValidateArguments = validate
	return tc
}

func (tc ToolConfig) WithRetryConfig(cfg RetryConfig) ToolConfig {
	tc.RetryConfig = cfg
	return tc
}

type RetryConfig struct {
	MaxRetries    int           `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
	BackoffBase   time.Duration `json:"backoff_base" yaml:"backoff_base" mapstructure:"backoff_base"`
	BackoffFactor float64       `json:"backoff_factor" yaml:"backoff_factor" mapstructure:"backoff_factor"`
}

// Backoff returns the wait before retry number attempt, starting at 0.
func (rc RetryConfig) Backoff(attempt int) time.Duration {
	d := float64(rc.BackoffBase)
	for i := 0; i < attempt; i++ {
		d *= rc.BackoffFactor
	}
	return time.Duration(d)
}

type ToolErrorHandling string

const (
	ToolErrorContinue ToolErrorHandling = "continue" // report the error in the result
	ToolErrorAbort    ToolErrorHandling = "abort"    // stop a batch at the first error
	ToolErrorRetry    ToolErrorHandling = "retry"    // retry with exponential backoff
)

// IsToolAllowed matches name against the AllowedTools globs. A nil list
// allows everything.
func (tc *ToolConfig) IsToolAllowed(name string) bool {
	if tc.AllowedTools == nil {
		return true
	}
	for _, pattern := range tc.AllowedTools {
		matching, err := glob.Match(pattern, name)
		if err != nil {
			log.Warn().Err(err).Str("pattern", pattern).Msg("invalid allowed tool pattern")
			continue
		}
		if matching {
			return true
		}
	}
	return false
}

// FilterTools returns only the allowed tools.
func (tc *ToolConfig) FilterTools(tools []ToolDefinition) []ToolDefinition {
	if tc.AllowedTools == nil {
		return tools
	}
	filtered := make([]ToolDefinition, 0, len(tools))
	for _, tool := range tools {
		if tc.IsToolAllowed(tool.Name) {
			filtered = append(filtered, tool)
		}
	}
	return filtered
}
