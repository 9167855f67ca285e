package pipeline

import (
	"sync"

	ierrors "github.com/jrsteele09/go-compta-client/internal/errors"
	"github.com/pkg/errors"
)

// ErrRunInProgress is returned when a facture already has a run in flight.
var ErrRunInProgress = ierrors.ErrRunInProgress

// Locks serialises runs per facture. Runs on different factures never block
// each other.
type Locks struct {
	lock    sync.Mutex
	running map[int64]string
}

func NewLocks() *Locks {
	return &Locks{running: make(map[int64]string)}
}

// Acquire claims the facture for runID. It fails fast rather than waiting.
func (l *Locks) Acquire(factureID int64, runID string) (release func(), err error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if owner, busy := l.running[factureID]; busy && owner != runID {
		return nil, errors.Wrapf(ErrRunInProgress, "facture %d", factureID)
	}
	l.running[factureID] = runID

	var once sync.Once
	return func() {
		once.Do(func() {
			l.lock.Lock()
			defer l.lock.Unlock()
			if l.running[factureID] == runID {
				delete(l.running, factureID)
			}
		})
	}, nil
}

// Running reports whether a run holds the facture.
func (l *Locks) Running(factureID int64) bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	_, busy := l.running[factureID]
	return busy
}
