package auth

import (
	"github.com/jrsteele09/go-compta-client/store"
	"github.com/rs/zerolog/log"
)

// CredentialClass tells which stored token a call carries.
type CredentialClass string

const (
	CredentialNone     CredentialClass = "NONE"
	CredentialIdentity CredentialClass = "ACCESS"
	CredentialTenant   CredentialClass = "SESSION"
	CredentialAdmin    CredentialClass = "ADMIN"
)

// Credential is a bearer token and its class.
type Credential struct {
	Class CredentialClass
	Token string
}

func (c Credential) Present() bool {
	return c.Class != CredentialNone && c.Token != ""
}

// CredentialSource reads the active credentials from the store on every call,
// so a switch or logout is picked up by the very next request.
type CredentialSource struct {
	repo store.Repo
}

func NewCredentialSource(repo store.Repo) *CredentialSource {
	return &CredentialSource{repo: repo}
}

// AgentCredential applies the agent precedence: tenant context token, then
// identity token, then nothing.
func (c *CredentialSource) AgentCredential() Credential {
	if tok := c.lookup(store.KeySessionToken); tok != "" {
		return Credential{Class: CredentialTenant, Token: tok}
	}
	if tok := c.lookup(store.KeyAccessToken); tok != "" {
		return Credential{Class: CredentialIdentity, Token: tok}
	}
	return Credential{Class: CredentialNone}
}

// AdminCredential returns the admin session token, if any. It never falls back
// to agent credentials.
func (c *CredentialSource) AdminCredential() Credential {
	if tok := c.lookup(store.KeyAdminToken); tok != "" {
		return Credential{Class: CredentialAdmin, Token: tok}
	}
	return Credential{Class: CredentialNone}
}

func (c *CredentialSource) lookup(key store.Key) string {
	v, _, err := store.Lookup(c.repo, key)
	if err != nil {
		log.Warn().Err(err).Str("key", string(key)).Msg("credential store read failed")
		return ""
	}
	return v
}
