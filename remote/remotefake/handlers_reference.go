package remotefake

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/jrsteele09/go-compta-client/factures"
	"github.com/jrsteele09/go-compta-client/internal/utils"
	"github.com/jrsteele09/go-compta-client/tenants"
)

func pcmChart() []factures.PcmAccount {
	account := func(code, label string, t factures.AccountType) factures.PcmAccount {
		class, _ := strconv.Atoi(code[:1])
		return factures.PcmAccount{Code: code, Label: label, PcmClass: class, GroupCode: utils.Ptr(code[:4]), AccountType: t}
	}
	tva := func(a factures.PcmAccount, kind string) factures.PcmAccount {
		a.IsTVAAccount = true
		a.TVAType = utils.Ptr(kind)
		return a
	}
	return []factures.PcmAccount{
		tva(account("34551", "État, TVA récupérable sur les immobilisations", factures.AccountTiers), "DEDUCTIBLE"),
		tva(account("34552", "État, TVA récupérable sur les charges", factures.AccountTiers), "DEDUCTIBLE"),
		account("44111", "Fournisseurs", factures.AccountTiers),
		tva(account("44552", "État, TVA facturée", factures.AccountTiers), "COLLECTEE"),
		account("51411", "Banques", factures.AccountActif),
		account("61111", "Achats de marchandises", factures.AccountCharge),
		account("61221", "Achats de matières et fournitures consommables", factures.AccountCharge),
		account("61251", "Achats de fournitures de bureau", factures.AccountCharge),
		account("61261", "Achats de fournitures non stockables (eau, électricité)", factures.AccountCharge),
		account("61313", "Locations de bâtiments", factures.AccountCharge),
		account("61331", "Entretien et réparations des biens immobiliers", factures.AccountCharge),
		account("61365", "Honoraires", factures.AccountCharge),
		account("61455", "Frais postaux et frais de télécommunications", factures.AccountCharge),
		account("71111", "Ventes de marchandises au Maroc", factures.AccountProduit),
	}
}

var tvaRates = []factures.TVARate{
	{Rate: 0, Label: "Exonéré"},
	{Rate: 7, Label: "7% (eau, médicaments, transport)"},
	{Rate: 10, Label: "10% (restauration, hôtellerie)"},
	{Rate: 14, Label: "14% (transport de voyageurs)"},
	{Rate: 20, Label: "20% (taux normal)"},
}

func (b *Backend) handlePcmAccounts(w http.ResponseWriter, r *http.Request) {
	var filter factures.AccountFilter
	if raw := r.URL.Query().Get("pcm_class"); raw != "" {
		class, err := strconv.Atoi(raw)
		if err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, "pcm_class invalide")
			return
		}
		filter.PcmClass = class
	}
	if raw := r.URL.Query().Get("account_type"); raw != "" {
		t, err := factures.ParseAccountType(raw)
		if err != nil {
			// An unknown type matches nothing, like an unknown filter value upstream.
			writeJSON(w, http.StatusOK, []factures.PcmAccount{})
			return
		}
		filter.AccountType = t
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	out := []factures.PcmAccount{}
	for _, a := range b.accounts {
		if filter.Match(a) {
			out = append(out, a)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) handleTVARates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, tvaRates)
}

func (b *Backend) handleListMappings(w http.ResponseWriter, r *http.Request) {
	b.lock.Lock()
	defer b.lock.Unlock()

	_, payload, status, detail := b.sessionLocked(r)
	if payload == nil {
		writeDetail(w, status, detail)
		return
	}
	if payload.CabinetID == 0 {
		writeDetail(w, http.StatusBadRequest, "Cabinet ID manquant dans la session")
		return
	}

	out := []factures.SupplierMapping{}
	for id, m := range b.mappings {
		if m.cabinetID != payload.CabinetID {
			continue
		}
		label := "Compte inconnu"
		if a, ok := factures.FindAccount(b.accounts, m.accountCode); ok {
			label = a.Label
		}
		out = append(out, factures.SupplierMapping{
			ID:              id,
			SupplierICE:     m.supplierICE,
			PCMAccountCode:  m.accountCode,
			PCMAccountLabel: label,
			UpdatedAt:       utils.Ptr(m.updatedAt.UTC().Format(expiryLayout)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) handleDeleteMapping(w http.ResponseWriter, r *http.Request) {
	b.lock.Lock()
	defer b.lock.Unlock()

	_, payload, status, detail := b.sessionLocked(r)
	if payload == nil {
		writeDetail(w, status, detail)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Identifiant invalide")
		return
	}
	m, ok := b.mappings[id]
	if !ok || m.cabinetID != payload.CabinetID {
		writeDetail(w, http.StatusNotFound, "Mapping introuvable")
		return
	}
	delete(b.mappings, id)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Mapping supprimé"})
}

func (b *Backend) handleAgentStats(w http.ResponseWriter, r *http.Request) {
	b.lock.Lock()
	defer b.lock.Unlock()

	rec, status, detail := b.identityLocked(r)
	if rec == nil {
		writeDetail(w, status, detail)
		return
	}
	validated := 0
	for _, f := range b.factures {
		if f.validatedBy == rec.agent.Username {
			validated++
		}
	}
	cabinet := "Sans cabinet"
	if c, ok := tenants.FindCabinet(b.cabinets, rec.agent.CabinetID); ok {
		cabinet = c.Nom
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_factures_validees": validated,
		"total_societes_gerees":   len(rec.societes),
		"cabinet_nom":             cabinet,
	})
}

func (b *Backend) cabinetOfLocked(rec *factureRecord) int64 {
	if s, ok := tenants.FindSociete(b.societes, rec.societeID); ok {
		return s.CabinetID
	}
	return 0
}

// mappedAccountLocked returns the account learnt for the facture's supplier.
func (b *Backend) mappedAccountLocked(rec *factureRecord) (factures.PcmAccount, bool) {
	ice := utils.Value(rec.facture.SupplierICE)
	if ice == "" {
		return factures.PcmAccount{}, false
	}
	cabinetID := b.cabinetOfLocked(rec)
	for _, m := range b.mappings {
		if m.cabinetID == cabinetID && m.supplierICE == ice {
			return factures.FindAccount(b.accounts, m.accountCode)
		}
	}
	return factures.PcmAccount{}, false
}

// learnMappingLocked records the account of the first line for the supplier
// of a validated facture, replacing any earlier mapping.
func (b *Backend) learnMappingLocked(rec *factureRecord) {
	ice := utils.Value(rec.facture.SupplierICE)
	if ice == "" || len(rec.lines) == 0 {
		return
	}
	code := utils.Value(rec.lines[0].PCMAccountCode)
	if code == "" {
		return
	}
	cabinetID := b.cabinetOfLocked(rec)
	for _, m := range b.mappings {
		if m.cabinetID == cabinetID && m.supplierICE == ice {
			m.accountCode = code
			m.updatedAt = b.nowFunc()
			return
		}
	}
	b.mappings[b.nextMappingID] = &mappingRecord{cabinetID: cabinetID, supplierICE: ice, accountCode: code, updatedAt: b.nowFunc()}
	b.nextMappingID++
}
