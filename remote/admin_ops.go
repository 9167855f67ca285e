package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/jrsteele09/go-compta-client/auth"
	"github.com/jrsteele09/go-compta-client/tenants"
)

// AdminClient issues admin-space calls. Every call carries the admin session
// token; agent credentials are never used here.
type AdminClient struct {
	c *Client
}

func (c *Client) Admin() *AdminClient {
	return &AdminClient{c: c}
}

// GlobalStats are the system-wide counters of the admin dashboard.
type GlobalStats struct {
	TotalCabinets int `json:"total_cabinets"`
	TotalAgents   int `json:"total_agents"`
	TotalSocietes int `json:"total_societes"`
	TotalFactures int `json:"total_factures"`
}

// AdminSociete is a société as listed in admin space, with its cabinet.
type AdminSociete struct {
	tenants.Societe
	CabinetNom string `json:"cabinet_nom,omitempty"`
}

func (a *AdminClient) request(op, method, path string, query url.Values) (*request, error) {
	cred := a.c.creds.AdminCredential()
	if !cred.Present() {
		return nil, auth.ErrNotAdmin
	}
	return &request{op: "admin-" + op, method: method, path: path, query: query, credential: cred}, nil
}

func (a *AdminClient) ListCabinets(ctx context.Context) ([]tenants.Cabinet, error) {
	r, err := a.request("list-cabinets", http.MethodGet, "/admin/cabinets", nil)
	if err != nil {
		return nil, err
	}
	var out []tenants.Cabinet
	if err := a.c.do(ctx, r, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *AdminClient) ListSocietes(ctx context.Context) ([]AdminSociete, error) {
	r, err := a.request("list-societes", http.MethodGet, "/admin/societes", nil)
	if err != nil {
		return nil, err
	}
	var out []AdminSociete
	if err := a.c.do(ctx, r, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *AdminClient) ListAgents(ctx context.Context) ([]auth.Agent, error) {
	r, err := a.request("list-agents", http.MethodGet, "/admin/agents", nil)
	if err != nil {
		return nil, err
	}
	var out []auth.Agent
	if err := a.c.do(ctx, r, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AssignSociete grants an agent access to a société of the cabinet.
func (a *AdminClient) AssignSociete(ctx context.Context, cabinetID, agentID, societeID int64) (*Ack, error) {
	r, err := a.request("assign-societe", http.MethodPost,
		fmt.Sprintf("/admin/cabinets/%d/agents/assign-societe", cabinetID),
		url.Values{
			"agent_id":   {strconv.FormatInt(agentID, 10)},
			"societe_id": {strconv.FormatInt(societeID, 10)},
		})
	if err != nil {
		return nil, err
	}
	var out Ack
	if err := a.c.do(ctx, r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *AdminClient) GlobalStats(ctx context.Context) (*GlobalStats, error) {
	r, err := a.request("global-stats", http.MethodGet, "/admin/stats/global", nil)
	if err != nil {
		return nil, err
	}
	var out GlobalStats
	if err := a.c.do(ctx, r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
