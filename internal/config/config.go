package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Config interface {
	EnvConfig
	TimeoutConfig
	PipelineConfig
	StoreConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetBaseURL() string
	GetLogLevel() string
	GetMetricsAddr() string
}

type mainConfig struct {
	EnvVars
	Timeouts
	Pipeline
	Store
}

// New reads configuration from COMPTA_* environment variables and, when
// configFile is not empty, from that file. Environment variables win.
func New(configFile string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "[config.New] reading %s", configFile)
		}
	}

	return mainConfig{
		EnvVars:  EnvVars{v: v},
		Timeouts: Timeouts{v: v},
		Pipeline: Pipeline{v: v},
		Store:    Store{v: v},
	}, nil
}

// Default returns the configuration with only environment overrides applied.
func Default() Config {
	c, _ := New("")
	return c
}
