package auth

import (
	"github.com/jrsteele09/go-compta-client/tenants"
	"github.com/jrsteele09/go-compta-client/token"
)

// State is the session state. Exactly one variant holds at a time:
//
//	LoggedOut -> Authenticated -> Scoped -> Scoped' (switch)
//	LoggedOut -> AdminAuthenticated
//
// and any state -> LoggedOut on logout.
type State interface {
	Name() string
	isState()
}

type LoggedOut struct{}

// Authenticated holds an identity token but no tenant scope yet.
type Authenticated struct {
	Cabinets []tenants.Cabinet
}

// Scoped holds a tenant context for one société.
type Scoped struct {
	Context token.Payload
}

// AdminAuthenticated holds an admin session. It never carries a tenant context.
type AdminAuthenticated struct {
	Admin AdminUser
}

func (LoggedOut) Name() string          { return "logged-out" }
func (Authenticated) Name() string      { return "authenticated" }
func (Scoped) Name() string             { return "scoped" }
func (AdminAuthenticated) Name() string { return "admin-authenticated" }

func (LoggedOut) isState()          {}
func (Authenticated) isState()      {}
func (Scoped) isState()             {}
func (AdminAuthenticated) isState() {}
