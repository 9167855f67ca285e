package remotefake

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jrsteele09/go-compta-client/auth"
	"github.com/jrsteele09/go-compta-client/tenants"
	"github.com/jrsteele09/go-compta-client/token"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

const expiryLayout = "2006-01-02T15:04:05.999999"

func (b *Backend) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(b.corsMiddleware)

	r.Route("/auth", func(api chi.Router) {
		api.Post("/login", b.handle("login", b.handleLogin))
		api.Get("/societes", b.handle("list-societes", b.handleListSocietes))
		api.Post("/select-societe", b.handle("select-societe", b.handleSelectSociete))
		api.Get("/me", b.handle("me", b.handleMe))
		api.Get("/stats", b.handle("agent-stats", b.handleAgentStats))
	})

	r.Route("/pcm", func(api chi.Router) {
		api.Get("/accounts", b.handle("pcm-accounts", b.handlePcmAccounts))
		api.Get("/tva-rates", b.handle("tva-rates", b.handleTVARates))
	})

	r.Route("/mappings", func(api chi.Router) {
		api.Get("/", b.handle("list-mappings", b.handleListMappings))
		api.Delete("/{id}", b.handle("delete-mapping", b.handleDeleteMapping))
	})

	r.Route("/factures", func(api chi.Router) {
		api.Get("/", b.handle("list", b.handleList))
		api.Post("/upload", b.handle("upload", b.handleUpload))
		api.Put("/invoice-lines/{lineID}", b.handle("update-invoice-line", b.handleUpdateInvoiceLine))
		api.Put("/entry-lines/{lineID}", b.handle("update-entry-line", b.handleUpdateEntryLine))
		api.Get("/{id}", b.handle("get", b.handleGet))
		api.Put("/{id}", b.handle("update", b.handleUpdate))
		api.Delete("/{id}", b.handle("delete", b.handleDelete))
		api.Post("/{id}/extract", b.handle("extract", b.handleExtract))
		api.Post("/{id}/classify", b.handle("classify", b.handleClassify))
		api.Post("/{id}/generate-entries", b.handle("generate-entries", b.handleGenerateEntries))
		api.Post("/{id}/validate", b.handle("validate", b.handleValidate))
		api.Post("/{id}/reject", b.handle("reject", b.handleReject))
		api.Get("/{id}/lines", b.handle("lines", b.handleLines))
		api.Get("/{id}/entries", b.handle("entries", b.handleEntries))
	})

	r.Route("/admin", func(api chi.Router) {
		api.Get("/cabinets", b.handle("admin-list-cabinets", b.handleAdminCabinets))
		api.Get("/societes", b.handle("admin-list-societes", b.handleAdminSocietes))
		api.Get("/agents", b.handle("admin-list-agents", b.handleAdminAgents))
		api.Post("/cabinets/{id}/agents/assign-societe", b.handle("admin-assign-societe", b.handleAdminAssign))
		api.Get("/stats/global", b.handle("admin-global-stats", b.handleAdminStats))
	})

	return r
}

func bearer(r *http.Request) string {
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return r.URL.Query().Get("token")
}

// identity resolves the caller from any token this backend issued. The
// caller must hold b.lock.
func (b *Backend) identityLocked(r *http.Request) (*agentRecord, int, string) {
	raw := bearer(r)
	if raw == "" || !b.issued[raw] {
		return nil, http.StatusUnauthorized, "Token invalide ou expiré"
	}
	claims, err := token.DecodeIdentity(raw)
	if err != nil {
		return nil, http.StatusUnauthorized, "Token invalide ou expiré"
	}
	if exp, ok := claims.ExpiresAt(); ok && exp.Before(b.nowFunc()) {
		return nil, http.StatusUnauthorized, "Token invalide ou expiré"
	}
	rec, ok := b.agents[claims.Username]
	if !ok || rec.agent.ID != claims.AgentID {
		return nil, http.StatusUnauthorized, "Agent introuvable"
	}
	if !rec.agent.IsActive {
		return nil, http.StatusForbidden, "Agent désactivé"
	}
	return rec, 0, ""
}

// sessionLocked resolves the caller and its tenant scope. The scope is checked
// against the current grants, never trusted from the token alone.
func (b *Backend) sessionLocked(r *http.Request) (*agentRecord, *token.Payload, int, string) {
	rec, status, detail := b.identityLocked(r)
	if rec == nil {
		return nil, nil, status, detail
	}
	payload, err := token.Decode(bearer(r))
	if err != nil {
		return nil, nil, http.StatusForbidden, "Aucune société sélectionnée"
	}
	if !rec.agent.IsAdmin && !rec.societes[payload.SocieteID] {
		return nil, nil, http.StatusForbidden, "Accès refusé à cette société"
	}
	return rec, payload, 0, ""
}

func (b *Backend) issueLocked(v any) (string, error) {
	var (
		raw string
		err error
	)
	switch claims := v.(type) {
	case token.Payload:
		raw, err = token.Encode(claims)
	case token.IdentityClaims:
		raw, err = token.EncodeIdentity(claims)
	default:
		err = errors.Errorf("unsupported claims %T", v)
	}
	if err != nil {
		return "", err
	}
	b.issued[raw] = true
	return raw, nil
}

func (b *Backend) expiry() string {
	return b.nowFunc().UTC().Add(b.tokenTTL).Format(expiryLayout)
}

func (b *Backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Requête invalide")
		return
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	rec, ok := b.agents[in.Username]
	if !ok || bcrypt.CompareHashAndPassword(rec.passwordHash, []byte(in.Password)) != nil {
		writeDetail(w, http.StatusUnauthorized, "Identifiants invalides")
		return
	}
	if !rec.agent.IsActive {
		writeDetail(w, http.StatusForbidden, "Agent désactivé")
		return
	}

	access, err := b.issueLocked(token.IdentityClaims{
		AgentID:   rec.agent.ID,
		CabinetID: rec.agent.CabinetID,
		Username:  rec.agent.Username,
		IsAdmin:   rec.agent.IsAdmin,
		Exp:       b.expiry(),
	})
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	cabinets := []tenants.Cabinet{}
	if c, ok := tenants.FindCabinet(b.cabinets, rec.agent.CabinetID); ok {
		cabinets = append(cabinets, c)
	}
	writeJSON(w, http.StatusOK, auth.LoginResult{
		AccessToken: access,
		TokenType:   "bearer",
		Agent:       rec.agent,
		Cabinets:    cabinets,
	})
}

func (b *Backend) handleListSocietes(w http.ResponseWriter, r *http.Request) {
	b.lock.Lock()
	defer b.lock.Unlock()

	rec, status, detail := b.identityLocked(r)
	if rec == nil {
		writeDetail(w, status, detail)
		return
	}
	cabinetID, err := strconv.ParseInt(r.URL.Query().Get("cabinet_id"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "cabinet_id invalide")
		return
	}
	if cabinetID != rec.agent.CabinetID {
		writeDetail(w, http.StatusForbidden, "Cabinet non autorisé")
		return
	}

	out := []tenants.Societe{}
	for _, s := range b.societes {
		if s.CabinetID == cabinetID && (rec.agent.IsAdmin || rec.societes[s.ID]) {
			out = append(out, s)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) handleSelectSociete(w http.ResponseWriter, r *http.Request) {
	var sel tenants.Selection
	if err := json.NewDecoder(r.Body).Decode(&sel); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Requête invalide")
		return
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	rec, status, detail := b.identityLocked(r)
	if rec == nil {
		writeDetail(w, status, detail)
		return
	}
	if rec.agent.CabinetID != sel.CabinetID {
		writeDetail(w, http.StatusForbidden, "Cabinet non autorisé")
		return
	}
	societe, ok := tenants.FindSociete(b.societes, sel.SocieteID)
	if !ok || societe.CabinetID != sel.CabinetID {
		writeDetail(w, http.StatusNotFound, "Société introuvable")
		return
	}
	if !rec.societes[societe.ID] && !rec.agent.IsAdmin {
		writeDetail(w, http.StatusForbidden, "Accès refusé à cette société")
		return
	}

	payload := token.Payload{
		AgentID:              rec.agent.ID,
		CabinetID:            sel.CabinetID,
		SocieteID:            societe.ID,
		Username:             rec.agent.Username,
		SocieteRaisonSociale: societe.RaisonSociale,
		Exp:                  b.expiry(),
	}
	session, err := b.issueLocked(payload)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, auth.SelectResult{SessionToken: session, Societe: societe, Context: payload})
}

func (b *Backend) handleMe(w http.ResponseWriter, r *http.Request) {
	b.lock.Lock()
	defer b.lock.Unlock()

	rec, status, detail := b.identityLocked(r)
	if rec == nil {
		writeDetail(w, status, detail)
		return
	}
	writeJSON(w, http.StatusOK, rec.agent)
}
