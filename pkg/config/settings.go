// Package config loads ctxrelay's settings from a config file, CTXRELAY_
// environment variables and command line flags.
package config

import (
	"io"
	"os"
	"strings"

	"github.com/go-go-golems/ctxrelay/pkg/executor"
	"github.com/go-go-golems/ctxrelay/pkg/interceptor"
	"github.com/go-go-golems/ctxrelay/pkg/locale"
	"github.com/go-go-golems/ctxrelay/pkg/tools"
	"github.com/go-go-golems/ctxrelay/pkg/userdir"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix = "ctxrelay"
	AppName   = "ctxrelay"
)

type ServerSettings struct {
	Address string `json:"address" yaml:"address" mapstructure:"address"`
}

type LocaleSettings struct {
	Language string `json:"language" yaml:"language" mapstructure:"language"`
	TimeZone string `json:"time_zone" yaml:"time_zone" mapstructure:"time_zone"`
}

func (l LocaleSettings) Context() (locale.Context, error) {
	return locale.Parse(l.Language, l.TimeZone)
}

type Settings struct {
	Server      ServerSettings     `json:"server" yaml:"server" mapstructure:"server"`
	Executor    executor.Config    `json:"executor" yaml:"executor" mapstructure:"executor"`
	UserDir     userdir.Config     `json:"userdir" yaml:"userdir" mapstructure:"userdir"`
	Locale      LocaleSettings     `json:"locale" yaml:"locale" mapstructure:"locale"`
	Interceptor interceptor.Config `json:"interceptor" yaml:"interceptor" mapstructure:"interceptor"`
	Tools       tools.ToolConfig   `json:"tools" yaml:"tools" mapstructure:"tools"`
}

func Default() *Settings {
	return &Settings{
		Server:      ServerSettings{Address: ":8080"},
		Executor:    executor.DefaultConfig(),
		UserDir:     userdir.DefaultConfig(),
		Locale:      LocaleSettings{Language: "en-US", TimeZone: "UTC"},
		Interceptor: interceptor.DefaultConfig(),
		Tools:       tools.DefaultToolConfig(),
	}
}

// SetDefaults registers every default so that environment variables can
// override keys that appear in no config file.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.address", d.Server.Address)

	v.SetDefault("executor.name_prefix", d.Executor.NamePrefix)
	v.SetDefault("executor.core_size", d.Executor.CoreSize)
	v.SetDefault("executor.max_size", d.Executor.MaxSize)
	v.SetDefault("executor.queue_capacity", d.Executor.QueueCapacity)
	v.SetDefault("executor.keep_alive", d.Executor.KeepAlive)

	v.SetDefault("userdir.base_url", d.UserDir.BaseURL)
	v.SetDefault("userdir.timeout", d.UserDir.Timeout)
	v.SetDefault("userdir.cache_ttl", d.UserDir.CacheTTL)
	v.SetDefault("userdir.outbound.allow_http", d.UserDir.Outbound.AllowHTTP)
	v.SetDefault("userdir.outbound.allow_local_networks", d.UserDir.Outbound.AllowLocalNetworks)

	v.SetDefault("locale.language", d.Locale.Language)
	v.SetDefault("locale.time_zone", d.Locale.TimeZone)

	v.SetDefault("interceptor.header_allow_list", d.Interceptor.HeaderAllowList)
	v.SetDefault("interceptor.traffic_color", d.Interceptor.TrafficColor)
	v.SetDefault("interceptor.traffic_type", d.Interceptor.TrafficType)
	v.SetDefault("interceptor.correlation_header", d.Interceptor.CorrelationHeader)

	v.SetDefault("tools.execution_timeout", d.Tools.ExecutionTimeout)
	v.SetDefault("tools.max_parallel_tools", d.Tools.MaxParallelTools)
	v.SetDefault("tools.allowed_tools", d.Tools.AllowedTools)
	v.SetDefault("tools.tool_error_handling", string(d.Tools.ToolErrorHandling))
	v.SetDefault("tools.validate_arguments", d.Tools.ValidateArguments)
	v.SetDefault("tools.retry_config.max_retries", d.Tools.RetryConfig.MaxRetries)
	v.SetDefault("tools.retry_config.backoff_base", d.Tools.RetryConfig.BackoffBase)
	v.SetDefault("tools.retry_config.backoff_factor", d.Tools.RetryConfig.BackoffFactor)
}

// NewViper prepares a viper instance. With an empty configPath it looks for
// ctxrelay.yaml in the current directory, $HOME/.ctxrelay, /etc/ctxrelay and
// the XDG config directory. A missing config file is not an error.
func NewViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(AppName)
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/." + AppName)
		v.AddConfigPath("/etc/" + AppName)

		xdgConfigPath, err := os.UserConfigDir()
		if err == nil {
			v.AddConfigPath(xdgConfigPath + "/" + AppName)
		}
	}

	SetDefaults(v)

	err := v.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		log.Debug().Msg("no config file found, using defaults")
	} else if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// Load decodes and validates the settings held by v.
func Load(v *viper.Viper) (*Settings, error) {
	s := Default()
	if err := v.Unmarshal(s); err != nil {
		return nil, errors.Wrap(err, "decoding settings")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) Validate() error {
	if s.Server.Address == "" {
		return errors.New("server.address must not be empty")
	}
	if err := s.Executor.Validate(); err != nil {
		return errors.Wrap(err, "executor")
	}
	if _, err := s.Locale.Context(); err != nil {
		return errors.Wrap(err, "locale")
	}
	switch s.Tools.ToolErrorHandling {
	case tools.ToolErrorContinue, tools.ToolErrorAbort, tools.ToolErrorRetry:
	default:
		return errors.Errorf("tools.tool_error_handling: unknown mode %q", s.Tools.ToolErrorHandling)
	}
	if s.Tools.MaxParallelTools < 1 {
		return errors.New("tools.max_parallel_tools must be at least 1")
	}
	return nil
}

// WriteYAML writes s in the config file format NewViper reads.
func (s *Settings) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return errors.Wrap(err, "encoding settings")
	}
	return enc.Close()
}
