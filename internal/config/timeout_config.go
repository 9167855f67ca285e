package config

import (
	"time"

	"github.com/spf13/viper"
)

// TimeoutConfig bounds remote calls. Analysis covers the slow extract,
// classify and generate-entries stages.
type TimeoutConfig interface {
	GetDefaultTimeout() time.Duration
	GetUploadTimeout() time.Duration
	GetAnalysisTimeout() time.Duration
}

const (
	defaultTimeoutKey  = "timeouts.default"
	uploadTimeoutKey   = "timeouts.upload"
	analysisTimeoutKey = "timeouts.analysis"

	defaultTimeout  = 60 * time.Second
	uploadTimeout   = 120 * time.Second
	analysisTimeout = 5 * time.Minute
)

type Timeouts struct {
	v *viper.Viper
}

var _ TimeoutConfig = Timeouts{}

func (t Timeouts) GetDefaultTimeout() time.Duration {
	return positive(t.v.GetDuration(defaultTimeoutKey), defaultTimeout)
}

func (t Timeouts) GetUploadTimeout() time.Duration {
	return positive(t.v.GetDuration(uploadTimeoutKey), uploadTimeout)
}

func (t Timeouts) GetAnalysisTimeout() time.Duration {
	return positive(t.v.GetDuration(analysisTimeoutKey), analysisTimeout)
}

func positive(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
