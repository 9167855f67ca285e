package remotefake

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/jrsteele09/go-compta-client/factures"
	"github.com/jrsteele09/go-compta-client/internal/utils"
	"github.com/shopspring/decimal"
)

const maxUploadSize = 32 << 20

// scopedFacture resolves the caller's scope and the facture named in the URL.
// It writes the error response itself and returns nil when the call must stop.
// The caller must hold b.lock.
func (b *Backend) scopedFactureLocked(w http.ResponseWriter, r *http.Request) *factureRecord {
	_, payload, status, detail := b.sessionLocked(r)
	if payload == nil {
		writeDetail(w, status, detail)
		return nil
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Identifiant invalide")
		return nil
	}
	rec, ok := b.factures[id]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Facture introuvable")
		return nil
	}
	if rec.societeID != payload.SocieteID {
		writeDetail(w, http.StatusForbidden, "Accès refusé à cette facture")
		return nil
	}
	return rec
}

// advanceLocked moves a facture to the next status, refusing anything the
// workflow does not allow.
func advanceLocked(w http.ResponseWriter, rec *factureRecord, to factures.Status) bool {
	if !factures.CanTransition(rec.facture.Status, to) {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("Statut invalide: %s. Attendu: %s", rec.facture.Status, expectedBefore(to)))
		return false
	}
	rec.facture.Status = to
	return true
}

func expectedBefore(to factures.Status) factures.Status {
	for _, s := range factures.Statuses {
		if next, ok := s.Next(); ok && next == to {
			return s
		}
	}
	return ""
}

func stageResponse(rec *factureRecord, message string) map[string]any {
	return map[string]any{"message": message, "id": rec.facture.ID, "status": rec.facture.Status}
}

func (b *Backend) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Formulaire invalide")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Fichier manquant")
		return
	}
	defer file.Close()
	if _, err := io.Copy(io.Discard, file); err != nil {
		writeDetail(w, http.StatusBadRequest, "Lecture du fichier impossible")
		return
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	_, payload, status, detail := b.sessionLocked(r)
	if payload == nil {
		writeDetail(w, status, detail)
		return
	}

	id := b.nextID
	b.nextID++
	path := fmt.Sprintf("uploads/%d/%s", payload.SocieteID, header.Filename)
	createdAt := b.nowFunc().UTC().Format(expiryLayout)
	b.factures[id] = &factureRecord{
		societeID: payload.SocieteID,
		facture: factures.Facture{
			ID:        id,
			Status:    factures.StatusImported,
			FilePath:  &path,
			CreatedAt: &createdAt,
		},
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "Facture uploadée",
		"id":        id,
		"status":    factures.StatusImported,
		"file_path": path,
	})
}

func (b *Backend) handleExtract(w http.ResponseWriter, r *http.Request) {
	b.lock.Lock()
	defer b.lock.Unlock()

	rec := b.scopedFactureLocked(w, r)
	if rec == nil || !advanceLocked(w, rec, factures.StatusExtracted) {
		return
	}
	f := &rec.facture
	f.NumeroFacture = utils.Ptr(fmt.Sprintf("F-%05d", f.ID))
	f.DateFacture = utils.Ptr(b.nowFunc().UTC().Format("2006-01-02"))
	f.InvoiceType = utils.Ptr("ACHAT")
	f.SupplierName = utils.Ptr("Maroc Fournitures SARL")
	f.SupplierICE = utils.Ptr("003456789000045")
	f.MontantHT = utils.Ptr(1000.0)
	f.MontantTVA = utils.Ptr(200.0)
	f.MontantTTC = utils.Ptr(1200.0)
	f.TauxTVA = utils.Ptr(20.0)
	f.Devise = utils.Ptr("MAD")
	f.ExtractionSource = utils.Ptr("fake")
	f.DGIFlags = []factures.ComplianceFlag{{
		Code:     "IF_MISSING",
		Message:  "Identifiant fiscal du fournisseur absent",
		Severity: factures.SeverityWarning,
		Field:    "supplier_if",
	}}
	rec.lines = []factures.InvoiceLine{{
		ID:            f.ID*100 + 1,
		LineNumber:    utils.Ptr(1),
		Description:   utils.Ptr("Fournitures de bureau"),
		Quantity:      utils.Ptr(10.0),
		UnitPriceHT:   utils.Ptr(100.0),
		LineAmountHT:  utils.Ptr(1000.0),
		TVARate:       utils.Ptr(20.0),
		TVAAmount:     utils.Ptr(200.0),
		LineAmountTTC: utils.Ptr(1200.0),
	}}
	writeJSON(w, http.StatusOK, stageResponse(rec, "Extraction terminée"))
}

func (b *Backend) handleClassify(w http.ResponseWriter, r *http.Request) {
	b.lock.Lock()
	defer b.lock.Unlock()

	rec := b.scopedFactureLocked(w, r)
	if rec == nil || !advanceLocked(w, rec, factures.StatusClassified) {
		return
	}
	account, _ := factures.FindAccount(b.accounts, "61251")
	confidence, reason := 0.87, "Libellé proche de fournitures"
	if learnt, ok := b.mappedAccountLocked(rec); ok {
		account, confidence, reason = learnt, 1.0, "Mapping fournisseur appris"
	}
	for i := range rec.lines {
		l := &rec.lines[i]
		l.PCMClass = utils.Ptr(account.PcmClass)
		l.PCMAccountCode = utils.Ptr(account.Code)
		l.PCMAccountLabel = utils.Ptr(account.Label)
		l.ClassificationConfidence = utils.Ptr(confidence)
		l.ClassificationReason = utils.Ptr(reason)
	}
	writeJSON(w, http.StatusOK, stageResponse(rec, "Classification terminée"))
}

func (b *Backend) handleGenerateEntries(w http.ResponseWriter, r *http.Request) {
	b.lock.Lock()
	defer b.lock.Unlock()

	rec := b.scopedFactureLocked(w, r)
	if rec == nil || !advanceLocked(w, rec, factures.StatusDraft) {
		return
	}

	entry := factures.JournalEntry{
		ID:          rec.facture.ID,
		JournalCode: "ACH",
		EntryDate:   rec.facture.DateFacture,
		Reference:   rec.facture.NumeroFacture,
		Description: rec.facture.SupplierName,
	}
	ttc := decimal.Zero
	for i, l := range rec.lines {
		ht := decimal.NewFromFloat(utils.Value(l.LineAmountHT))
		tva := decimal.NewFromFloat(utils.Value(l.TVAAmount))
		entry.Lines = append(entry.Lines,
			factures.EntryLine{ID: rec.facture.ID*100 + int64(2*i+1), AccountCode: utils.Value(l.PCMAccountCode), AccountLabel: l.PCMAccountLabel, Debit: ht},
			factures.EntryLine{ID: rec.facture.ID*100 + int64(2*i+2), AccountCode: "34552", AccountLabel: utils.Ptr("État, TVA récupérable sur les charges"), Debit: tva},
		)
		ttc = ttc.Add(ht).Add(tva)
	}
	entry.Lines = append(entry.Lines, factures.EntryLine{
		ID:           rec.facture.ID*100 + 99,
		AccountCode:  "44111",
		AccountLabel: utils.Ptr("Fournisseurs"),
		Credit:       ttc,
		TiersName:    rec.facture.SupplierName,
		TiersICE:     rec.facture.SupplierICE,
	})
	for i := range entry.Lines {
		entry.Lines[i].LineOrder = utils.Ptr(i + 1)
	}
	report := entry.Balance(factures.DefaultBalanceTolerance, factures.Inclusive)
	entry.TotalDebit, entry.TotalCredit = report.TotalDebit, report.TotalCredit
	rec.entries = []factures.JournalEntry{entry}

	resp := stageResponse(rec, "Écritures générées")
	resp["journal_entry_id"] = entry.ID
	resp["balance"] = report
	writeJSON(w, http.StatusOK, resp)
}

func (b *Backend) handleValidate(w http.ResponseWriter, r *http.Request) {
	b.lock.Lock()
	defer b.lock.Unlock()

	rec := b.scopedFactureLocked(w, r)
	if rec == nil {
		return
	}
	if len(rec.entries) == 0 {
		writeDetail(w, http.StatusBadRequest, "Aucune écriture brouillon à valider. Lancez d'abord /generate-entries")
		return
	}
	for _, e := range rec.entries {
		if report := e.Balance(factures.DefaultBalanceTolerance, factures.Inclusive); !report.Balanced {
			writeDetail(w, http.StatusUnprocessableEntity, map[string]any{
				"message":  "Écriture non équilibrée, validation refusée",
				"entry_id": e.ID,
				"balance":  report,
			})
			return
		}
	}
	if !advanceLocked(w, rec, factures.StatusValidated) {
		return
	}
	for i := range rec.entries {
		rec.entries[i].IsValidated = true
	}
	if agent, _, _, _ := b.sessionLocked(r); agent != nil {
		rec.validatedBy = agent.agent.Username
	}
	b.learnMappingLocked(rec)
	writeJSON(w, http.StatusOK, stageResponse(rec, "Facture validée"))
}

func (b *Backend) handleReject(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")

	b.lock.Lock()
	defer b.lock.Unlock()

	rec := b.scopedFactureLocked(w, r)
	if rec == nil {
		return
	}
	if reason == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "Motif du rejet requis")
		return
	}
	if !advanceLocked(w, rec, factures.StatusError) {
		return
	}
	resp := stageResponse(rec, "Facture rejetée")
	resp["reason"] = reason
	writeJSON(w, http.StatusOK, resp)
}

func (b *Backend) handleDelete(w http.ResponseWriter, r *http.Request) {
	b.lock.Lock()
	defer b.lock.Unlock()

	rec := b.scopedFactureLocked(w, r)
	if rec == nil {
		return
	}
	delete(b.factures, rec.facture.ID)
	writeJSON(w, http.StatusOK, map[string]any{"message": "Facture supprimée"})
}

func (b *Backend) handleGet(w http.ResponseWriter, r *http.Request) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if rec := b.scopedFactureLocked(w, r); rec != nil {
		writeJSON(w, http.StatusOK, rec.facture)
	}
}

// handleUpdate applies a partial header correction by merging the patch into
// the stored facture.
func (b *Backend) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var patch map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Requête invalide")
		return
	}
	delete(patch, "id")
	delete(patch, "status")

	b.lock.Lock()
	defer b.lock.Unlock()

	rec := b.scopedFactureLocked(w, r)
	if rec == nil {
		return
	}
	current, err := json.Marshal(rec.facture)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	merged := map[string]json.RawMessage{}
	_ = json.Unmarshal(current, &merged)
	for k, v := range patch {
		merged[k] = v
	}
	raw, _ := json.Marshal(merged)
	var updated factures.Facture
	if err := json.Unmarshal(raw, &updated); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	rec.facture = updated
	writeJSON(w, http.StatusOK, rec.facture)
}

func (b *Backend) handleList(w http.ResponseWriter, r *http.Request) {
	status := factures.Status(r.URL.Query().Get("status"))

	b.lock.Lock()
	defer b.lock.Unlock()

	_, payload, st, detail := b.sessionLocked(r)
	if payload == nil {
		writeDetail(w, st, detail)
		return
	}
	out := []factures.Facture{}
	for id := int64(1); id < b.nextID; id++ {
		rec, ok := b.factures[id]
		if !ok || rec.societeID != payload.SocieteID {
			continue
		}
		if status != "" && rec.facture.Status != status {
			continue
		}
		out = append(out, rec.facture)
	}
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) handleLines(w http.ResponseWriter, r *http.Request) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if rec := b.scopedFactureLocked(w, r); rec != nil {
		out := rec.lines
		if out == nil {
			out = []factures.InvoiceLine{}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (b *Backend) handleEntries(w http.ResponseWriter, r *http.Request) {
	b.lock.Lock()
	defer b.lock.Unlock()

	rec := b.scopedFactureLocked(w, r)
	if rec == nil {
		return
	}
	if len(rec.entries) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"journal_entries": []any{}, "message": "Aucune écriture générée"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"journal_entries": rec.entries})
}

// findLineLocked locates a line of a facture in the caller's société.
func (b *Backend) findLineLocked(w http.ResponseWriter, r *http.Request, match func(*factureRecord, int64) bool) (int64, bool) {
	_, payload, status, detail := b.sessionLocked(r)
	if payload == nil {
		writeDetail(w, status, detail)
		return 0, false
	}
	lineID, err := strconv.ParseInt(chi.URLParam(r, "lineID"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Identifiant invalide")
		return 0, false
	}
	for _, rec := range b.factures {
		if rec.societeID == payload.SocieteID && match(rec, lineID) {
			return lineID, true
		}
	}
	writeDetail(w, http.StatusNotFound, "Ligne introuvable")
	return 0, false
}

func (b *Backend) handleUpdateInvoiceLine(w http.ResponseWriter, r *http.Request) {
	var c factures.InvoiceLineCorrection
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Requête invalide")
		return
	}
	if err := c.Validate(); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	lineID, ok := b.findLineLocked(w, r, func(rec *factureRecord, id int64) bool {
		for i := range rec.lines {
			if rec.lines[i].ID == id {
				rec.lines[i].Apply(c)
				return true
			}
		}
		return false
	})
	if ok {
		writeJSON(w, http.StatusOK, map[string]any{"message": "Ligne mise à jour", "line_id": lineID})
	}
}

func (b *Backend) handleUpdateEntryLine(w http.ResponseWriter, r *http.Request) {
	var c factures.EntryLineCorrection
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Requête invalide")
		return
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	lineID, ok := b.findLineLocked(w, r, func(rec *factureRecord, id int64) bool {
		for i := range rec.entries {
			for j := range rec.entries[i].Lines {
				l := &rec.entries[i].Lines[j]
				if l.ID != id {
					continue
				}
				if c.AccountCode != nil {
					l.AccountCode = *c.AccountCode
				}
				if c.AccountLabel != nil {
					l.AccountLabel = c.AccountLabel
				}
				if c.Debit != nil {
					l.Debit = *c.Debit
				}
				if c.Credit != nil {
					l.Credit = *c.Credit
				}
				if c.TiersName != nil {
					l.TiersName = c.TiersName
				}
				return true
			}
		}
		return false
	})
	if ok {
		writeJSON(w, http.StatusOK, map[string]any{"message": "Ligne d'écriture mise à jour", "entry_line_id": lineID})
	}
}
