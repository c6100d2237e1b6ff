package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. ANSWERFLOW_LLM_API_KEY.
const EnvPrefix = "ANSWERFLOW"

// SetDefaults registers default values with v.
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("name", defaults.Name)
	v.SetDefault("max_tool_iterations", defaults.MaxToolIterations)
	v.SetDefault("prompts_file", defaults.PromptsFile)
	v.SetDefault("files_root", defaults.FilesRoot)

	for name, limit := range defaults.RetryLimits {
		v.SetDefault("retry_limits."+name, limit)
	}

	for name, uc := range defaults.Units {
		prefix := "units." + name + "."
		v.SetDefault(prefix+"model", uc.Model)
		v.SetDefault(prefix+"temperature", uc.Temperature)
		v.SetDefault(prefix+"max_tokens", uc.MaxTokens)
		v.SetDefault(prefix+"prompt_key", uc.PromptKey)
		v.SetDefault(prefix+"allowed_tools", uc.AllowedTools)
	}

	v.SetDefault("llm.provider", defaults.LLM.Provider)
	v.SetDefault("llm.base_url", defaults.LLM.BaseURL)
	v.SetDefault("llm.api_key", defaults.LLM.APIKey)
	v.SetDefault("llm.timeout_seconds", defaults.LLM.TimeoutSeconds)

	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)

	v.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	v.SetDefault("tracing.endpoint", defaults.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)
}

// Init prepares v for loading: defaults, environment overrides and the
// optional config file. A missing config file is not an error when cfgFile
// is empty.
func Init(v *viper.Viper, cfgFile string) error {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("llm.api_key", EnvPrefix+"_LLM_API_KEY", "OPENAI_API_KEY")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
		return nil
	}

	v.SetConfigName("answerflow")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/answerflow")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	return nil
}

// Load reads the configuration from v into a WorkflowConfig and validates it.
func Load(v *viper.Viper) (*WorkflowConfig, error) {
	var cfg WorkflowConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
