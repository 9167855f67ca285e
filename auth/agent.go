package auth

import (
	"github.com/jrsteele09/go-compta-client/tenants"
	"github.com/jrsteele09/go-compta-client/token"
)

// Agent is an operator account as returned by the backend.
type Agent struct {
	ID           int64  `json:"id"`
	CabinetID    int64  `json:"cabinet_id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	Nom          string `json:"nom,omitempty"`
	Prenom       string `json:"prenom,omitempty"`
	IsAdmin      bool   `json:"is_admin"`
	IsSuperAdmin bool   `json:"is_super_admin"`
	IsActive     bool   `json:"is_active"`
}

// AdminUser is the identity half of an admin session.
type AdminUser struct {
	AgentID      int64  `json:"agent_id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	Nom          string `json:"nom,omitempty"`
	Prenom       string `json:"prenom,omitempty"`
	IsAdmin      bool   `json:"is_admin"`
	IsSuperAdmin bool   `json:"is_super_admin"`
	CabinetID    int64  `json:"cabinet_id"`
}

// PinnedCabinet returns the cabinet a cabinet-scoped admin is limited to.
// Super admins see every cabinet and are not pinned.
func (u AdminUser) PinnedCabinet() (int64, bool) {
	if u.IsSuperAdmin {
		return 0, false
	}
	return u.CabinetID, true
}

// CanManageCabinet reports whether the admin may act on the given cabinet.
func (u AdminUser) CanManageCabinet(cabinetID int64) bool {
	if !u.IsAdmin {
		return false
	}
	pinned, ok := u.PinnedCabinet()
	return !ok || pinned == cabinetID
}

func adminUserFromAgent(a Agent) AdminUser {
	return AdminUser{
		AgentID:      a.ID,
		Username:     a.Username,
		Email:        a.Email,
		Nom:          a.Nom,
		Prenom:       a.Prenom,
		IsAdmin:      a.IsAdmin,
		IsSuperAdmin: a.IsSuperAdmin,
		CabinetID:    a.CabinetID,
	}
}

// LoginResult is the backend's answer to a login.
type LoginResult struct {
	AccessToken string            `json:"access_token"`
	TokenType   string            `json:"token_type"`
	Agent       Agent             `json:"agent"`
	Cabinets    []tenants.Cabinet `json:"cabinets"`
}

// SelectResult is the backend's answer to a société selection.
type SelectResult struct {
	SessionToken string          `json:"session_token"`
	Societe      tenants.Societe `json:"societe"`
	Context      token.Payload   `json:"context"`
}
