package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

type PipelineConfig interface {
	GetBatchConcurrency() int
}

type StoreConfig interface {
	GetStorePath() string
}

const (
	batchConcurrencyKey = "pipeline.batch_concurrency"
	storePathKey        = "store.path"
)

type Pipeline struct {
	v *viper.Viper
}

var _ PipelineConfig = Pipeline{}

func (p Pipeline) GetBatchConcurrency() int {
	n := p.v.GetInt(batchConcurrencyKey)
	if n < 1 {
		return 1
	}
	return n
}

type Store struct {
	v *viper.Viper
}

var _ StoreConfig = Store{}

// GetStorePath is the SQLite file holding the session credentials.
func (s Store) GetStorePath() string {
	return s.v.GetString(storePathKey)
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "comptactl", "session.db")
}
