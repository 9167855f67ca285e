package auth

import (
	ierrors "github.com/jrsteele09/go-compta-client/internal/errors"
	"github.com/pkg/errors"
)

var (
	ErrNotAuthenticated = ierrors.ErrNotAuthenticated
	ErrNotScoped        = ierrors.ErrNotScoped
	ErrNotAdmin         = ierrors.ErrNotAdmin
	ErrInvalidSelection = ierrors.ErrInvalidSelection
	ErrSessionExpired   = errors.New("session expired")
	ErrScopeMismatch    = errors.New("backend returned a context for another société")
)

// Step names the authentication step that failed.
type Step string

const (
	StepLogin         Step = "login"
	StepAdminLogin    Step = "admin-login"
	StepListSocietes  Step = "list-societes"
	StepSelectSociete Step = "select-societe"
)

// AuthError is a rejected login or tenant selection. Its message is the
// backend's message, unchanged.
type AuthError struct {
	Step Step
	Err  error
}

func (e *AuthError) Error() string {
	return e.Err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
