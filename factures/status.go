package factures

import (
	"strings"

	"github.com/pkg/errors"
)

// Status is the lifecycle state of a facture, owned by the backend.
type Status string

const (
	StatusImported   Status = "IMPORTED"
	StatusExtracted  Status = "EXTRACTED"
	StatusClassified Status = "CLASSIFIED"
	StatusDraft      Status = "DRAFT"
	StatusValidated  Status = "VALIDATED"
	StatusExported   Status = "EXPORTED"
	StatusError      Status = "ERROR"
)

// ErrUnknownStatus is returned by ParseStatus for values outside the enum.
var ErrUnknownStatus = errors.New("unknown facture status")

// Statuses lists every status in display order.
var Statuses = []Status{
	StatusImported,
	StatusExtracted,
	StatusClassified,
	StatusDraft,
	StatusValidated,
	StatusExported,
	StatusError,
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if st.Order() < 0 {
		return "", errors.Wrapf(ErrUnknownStatus, "%q", s)
	}
	return st, nil
}

// Order is the position of the status in Statuses, or -1 if unknown.
func (s Status) Order() int {
	for i, st := range Statuses {
		if st == s {
			return i
		}
	}
	return -1
}

func (s Status) Valid() bool {
	return s.Order() >= 0
}

// IsTerminal reports whether no pipeline stage can move the facture any further.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusValidated, StatusExported, StatusError:
		return true
	}
	return false
}

// successors holds the forward transitions driven by explicit operations.
// ERROR is reachable from every non-terminal state and is handled separately.
var successors = map[Status]Status{
	StatusImported:   StatusExtracted,
	StatusExtracted:  StatusClassified,
	StatusClassified: StatusDraft,
	StatusDraft:      StatusValidated,
	StatusValidated:  StatusExported,
}

// Next returns the status produced by the forward operation from s.
func (s Status) Next() (Status, bool) {
	next, ok := successors[s]
	return next, ok
}

// CanTransition reports whether the backend may move a facture from one status to another.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if to == StatusError {
		return !from.IsTerminal()
	}
	next, ok := from.Next()
	return ok && next == to
}
