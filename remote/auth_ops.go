package remote

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/jrsteele09/go-compta-client/auth"
	"github.com/jrsteele09/go-compta-client/tenants"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login exchanges a username and password for an identity token. No
// credential is sent.
func (c *Client) Login(ctx context.Context, username, password string) (*auth.LoginResult, error) {
	r, err := c.jsonRequest("login", http.MethodPost, "/auth/login", loginRequest{Username: username, Password: password})
	if err != nil {
		return nil, err
	}
	var out auth.LoginResult
	if err := c.do(ctx, r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSocietes lists the sociétés of a cabinet the identity may select. The
// identity token travels both as bearer and as the token query parameter.
func (c *Client) ListSocietes(ctx context.Context, identityToken string, cabinetID int64) ([]tenants.Societe, error) {
	r := &request{
		op:     "list-societes",
		method: http.MethodGet,
		path:   "/auth/societes",
		query: url.Values{
			"token":      {identityToken},
			"cabinet_id": {strconv.FormatInt(cabinetID, 10)},
		},
		credential: auth.Credential{Class: auth.CredentialIdentity, Token: identityToken},
	}
	var out []tenants.Societe
	if err := c.do(ctx, r, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SelectSociete asks the backend for a tenant context token.
func (c *Client) SelectSociete(ctx context.Context, identityToken string, selection tenants.Selection) (*auth.SelectResult, error) {
	r, err := c.jsonRequest("select-societe", http.MethodPost, "/auth/select-societe", selection)
	if err != nil {
		return nil, err
	}
	r.query = url.Values{"token": {identityToken}}
	r.credential = auth.Credential{Class: auth.CredentialIdentity, Token: identityToken}

	var out auth.SelectResult
	if err := c.do(ctx, r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Me returns the agent behind an identity token.
func (c *Client) Me(ctx context.Context, identityToken string) (*auth.Agent, error) {
	r := &request{
		op:         "me",
		method:     http.MethodGet,
		path:       "/auth/me",
		query:      url.Values{"token": {identityToken}},
		credential: auth.Credential{Class: auth.CredentialIdentity, Token: identityToken},
	}
	var out auth.Agent
	if err := c.do(ctx, r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AgentStats is the dashboard summary of the logged-in agent.
type AgentStats struct {
	TotalFacturesValidees int    `json:"total_factures_validees"`
	TotalSocietesGerees   int    `json:"total_societes_gerees"`
	CabinetNom            string `json:"cabinet_nom"`
}

// AgentStats works with the identity or the tenant context token. The token is
// sent as bearer only.
func (c *Client) AgentStats(ctx context.Context) (*AgentStats, error) {
	r := c.agent(&request{op: "agent-stats", method: http.MethodGet, path: "/auth/stats"})
	if !r.credential.Present() {
		return nil, auth.ErrNotAuthenticated
	}
	var out AgentStats
	if err := c.do(ctx, r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
