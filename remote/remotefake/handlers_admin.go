package remotefake

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/jrsteele09/go-compta-client/auth"
	"github.com/jrsteele09/go-compta-client/tenants"
)

// adminLocked resolves an admin caller. Cabinet-scoped admins only see their
// own cabinet. The caller must hold b.lock.
func (b *Backend) adminLocked(w http.ResponseWriter, r *http.Request) (*agentRecord, bool) {
	rec, status, detail := b.identityLocked(r)
	if rec == nil {
		writeDetail(w, status, detail)
		return nil, false
	}
	if !rec.agent.IsAdmin {
		writeDetail(w, http.StatusForbidden, "Accès refusé")
		return nil, false
	}
	return rec, true
}

func visibleTo(admin auth.Agent, cabinetID int64) bool {
	return admin.IsSuperAdmin || admin.CabinetID == cabinetID
}

func (b *Backend) handleAdminCabinets(w http.ResponseWriter, r *http.Request) {
	b.lock.Lock()
	defer b.lock.Unlock()

	admin, ok := b.adminLocked(w, r)
	if !ok {
		return
	}
	out := []tenants.Cabinet{}
	for _, c := range b.cabinets {
		if visibleTo(admin.agent, c.ID) {
			out = append(out, c)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) handleAdminSocietes(w http.ResponseWriter, r *http.Request) {
	b.lock.Lock()
	defer b.lock.Unlock()

	admin, ok := b.adminLocked(w, r)
	if !ok {
		return
	}
	type societeOut struct {
		tenants.Societe
		CabinetNom string `json:"cabinet_nom,omitempty"`
	}
	out := []societeOut{}
	for _, s := range b.societes {
		if !visibleTo(admin.agent, s.CabinetID) {
			continue
		}
		c, _ := tenants.FindCabinet(b.cabinets, s.CabinetID)
		out = append(out, societeOut{Societe: s, CabinetNom: c.Nom})
	}
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) handleAdminAgents(w http.ResponseWriter, r *http.Request) {
	b.lock.Lock()
	defer b.lock.Unlock()

	admin, ok := b.adminLocked(w, r)
	if !ok {
		return
	}
	out := []auth.Agent{}
	for _, rec := range b.agents {
		if visibleTo(admin.agent, rec.agent.CabinetID) {
			out = append(out, rec.agent)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) handleAdminAssign(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cabinetID, err1 := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	agentID, err2 := strconv.ParseInt(q.Get("agent_id"), 10, 64)
	societeID, err3 := strconv.ParseInt(q.Get("societe_id"), 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Paramètres invalides")
		return
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	admin, ok := b.adminLocked(w, r)
	if !ok {
		return
	}
	if !visibleTo(admin.agent, cabinetID) {
		writeDetail(w, http.StatusForbidden, "Cabinet non autorisé")
		return
	}
	societe, found := tenants.FindSociete(b.societes, societeID)
	if !found || societe.CabinetID != cabinetID {
		writeDetail(w, http.StatusNotFound, "Société introuvable")
		return
	}
	for _, rec := range b.agents {
		if rec.agent.ID == agentID && rec.agent.CabinetID == cabinetID {
			rec.societes[societeID] = true
			writeJSON(w, http.StatusOK, map[string]any{"message": "Société assignée à l'agent"})
			return
		}
	}
	writeDetail(w, http.StatusNotFound, "Agent introuvable")
}

func (b *Backend) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if _, ok := b.adminLocked(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"total_cabinets": len(b.cabinets),
		"total_agents":   len(b.agents),
		"total_societes": len(b.societes),
		"total_factures": len(b.factures),
	})
}
