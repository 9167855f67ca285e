package errors

import (
	"errors"
)

// Common error types shared across packages
var (
	// Session errors
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotScoped        = errors.New("no société selected")
	ErrNotAdmin         = errors.New("administrator access required")

	// Selection errors
	ErrInvalidSelection = errors.New("a cabinet and a société must both be selected")

	// Pipeline errors
	ErrRunInProgress      = errors.New("a pipeline run is already in progress for this facture")
	ErrContextInvalidated = errors.New("tenant context changed during the run")

	// Accounting errors
	ErrUnbalanced = errors.New("écriture non équilibrée")
)
