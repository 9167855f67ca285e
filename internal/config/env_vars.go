package config

import (
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "COMPTA"

const (
	appNameKey     = "app_name"
	envKey         = "env"
	baseURLKey     = "base_url"
	logLevelKey    = "log_level"
	metricsAddrKey = "metrics_addr"
)

type EnvVars struct {
	v *viper.Viper
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetAppName() string {
	return e.v.GetString(appNameKey)
}

func (e EnvVars) GetEnv() string {
	env := strings.ToUpper(e.v.GetString(envKey))
	if env == "" {
		return "DEV"
	}
	return env
}

// GetBaseURL returns the backend API root (e.g., "http://localhost:8090").
func (e EnvVars) GetBaseURL() string {
	return strings.TrimRight(e.v.GetString(baseURLKey), "/")
}

func (e EnvVars) GetLogLevel() string {
	return e.v.GetString(logLevelKey)
}

// GetMetricsAddr is the listen address for the prometheus endpoint; empty disables it.
func (e EnvVars) GetMetricsAddr() string {
	return e.v.GetString(metricsAddrKey)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(appNameKey, "Compta Zero Saisie")
	v.SetDefault(envKey, "DEV")
	v.SetDefault(baseURLKey, "http://localhost:8090")
	v.SetDefault(logLevelKey, "info")
	v.SetDefault(metricsAddrKey, "")

	v.SetDefault(defaultTimeoutKey, defaultTimeout)
	v.SetDefault(uploadTimeoutKey, uploadTimeout)
	v.SetDefault(analysisTimeoutKey, analysisTimeout)

	v.SetDefault(batchConcurrencyKey, 2)
	v.SetDefault(storePathKey, defaultStorePath())
}
