package factures

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// ErrInvalidConfidence is returned when a classification confidence is outside [0,1].
var ErrInvalidConfidence = errors.New("confidence must be between 0 and 1")

// Severity of a compliance flag.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
)

// ComplianceFlag is an advisory warning raised by the remote extraction system
// (DGI rules). It is consumed as data.
type ComplianceFlag struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Field    string   `json:"field"`
}

// Facture is a supplier invoice owned by exactly one société.
type Facture struct {
	ID               int64            `json:"id"`
	Status           Status           `json:"status"`
	NumeroFacture    *string          `json:"numero_facture"`
	DateFacture      *string          `json:"date_facture"`
	DueDate          *string          `json:"due_date"`
	InvoiceType      *string          `json:"invoice_type"`
	SupplierName     *string          `json:"supplier_name"`
	SupplierICE      *string          `json:"supplier_ice"`
	SupplierIF       *string          `json:"supplier_if"`
	SupplierRC       *string          `json:"supplier_rc"`
	SupplierAddress  *string          `json:"supplier_address"`
	ClientName       *string          `json:"client_name"`
	ClientICE        *string          `json:"client_ice"`
	ClientIF         *string          `json:"client_if"`
	ClientAddress    *string          `json:"client_address"`
	MontantHT        *float64         `json:"montant_ht"`
	MontantTVA       *float64         `json:"montant_tva"`
	MontantTTC       *float64         `json:"montant_ttc"`
	TauxTVA          *float64         `json:"taux_tva"`
	Devise           *string          `json:"devise"`
	PaymentMode      *string          `json:"payment_mode"`
	PaymentTerms     *string          `json:"payment_terms"`
	ExtractionSource *string          `json:"extraction_source"`
	DGIFlags         []ComplianceFlag `json:"dgi_flags"`
	FilePath         *string          `json:"file_path"`
	CreatedAt        *string          `json:"created_at"`
}

// HasBlockingFlags reports whether any compliance flag has ERROR severity.
func (f Facture) HasBlockingFlags() bool {
	for _, flag := range f.DGIFlags {
		if flag.Severity == SeverityError {
			return true
		}
	}
	return false
}

// UploadResult is returned by the upload stage.
type UploadResult struct {
	ID     int64  `json:"id"`
	Status Status `json:"status,omitempty"`
}

// StageResult is the part of a stage response the client cares about. The
// backend may return more; unknown fields are ignored.
type StageResult struct {
	ID      int64  `json:"id,omitempty"`
	Status  Status `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// InvoiceLine is one product line of a facture with its classification outcome.
// Confidence is advisory; any value may be overwritten by a manual correction.
type InvoiceLine struct {
	ID                       int64    `json:"id"`
	LineNumber               *int     `json:"line_number"`
	Description              *string  `json:"description"`
	Quantity                 *float64 `json:"quantity"`
	Unit                     *string  `json:"unit"`
	UnitPriceHT              *float64 `json:"unit_price_ht"`
	LineAmountHT             *float64 `json:"line_amount_ht"`
	TVARate                  *float64 `json:"tva_rate"`
	TVAAmount                *float64 `json:"tva_amount"`
	LineAmountTTC            *float64 `json:"line_amount_ttc"`
	PCMClass                 *int     `json:"pcm_class"`
	PCMAccountCode           *string  `json:"pcm_account_code"`
	PCMAccountLabel          *string  `json:"pcm_account_label"`
	ClassificationConfidence *float64 `json:"classification_confidence"`
	ClassificationReason     *string  `json:"classification_reason"`
	IsCorrected              bool     `json:"is_corrected"`
}

// InvoiceLineCorrection is a partial manual correction of an invoice line.
// Only non-nil fields are sent; the correction flag is always set.
type InvoiceLineCorrection struct {
	Description              *string  `json:"description,omitempty"`
	Quantity                 *float64 `json:"quantity,omitempty"`
	UnitPriceHT              *float64 `json:"unit_price_ht,omitempty"`
	LineAmountHT             *float64 `json:"line_amount_ht,omitempty"`
	TVARate                  *float64 `json:"tva_rate,omitempty"`
	TVAAmount                *float64 `json:"tva_amount,omitempty"`
	LineAmountTTC            *float64 `json:"line_amount_ttc,omitempty"`
	PCMClass                 *int     `json:"pcm_class,omitempty"`
	PCMAccountCode           *string  `json:"pcm_account_code,omitempty"`
	PCMAccountLabel          *string  `json:"pcm_account_label,omitempty"`
	ClassificationConfidence *float64 `json:"classification_confidence,omitempty"`
}

func (c InvoiceLineCorrection) Validate() error {
	if v := c.ClassificationConfidence; v != nil && (*v < 0 || *v > 1) {
		return errors.Wrapf(ErrInvalidConfidence, "got %v", *v)
	}
	return nil
}

func (c InvoiceLineCorrection) MarshalJSON() ([]byte, error) {
	type alias InvoiceLineCorrection
	return json.Marshal(struct {
		alias
		IsCorrected bool `json:"is_corrected"`
	}{alias: alias(c), IsCorrected: true})
}

// Apply copies the correction onto the line and marks it corrected.
func (l *InvoiceLine) Apply(c InvoiceLineCorrection) {
	setIf(&l.Description, c.Description)
	setIf(&l.Quantity, c.Quantity)
	setIf(&l.UnitPriceHT, c.UnitPriceHT)
	setIf(&l.LineAmountHT, c.LineAmountHT)
	setIf(&l.TVARate, c.TVARate)
	setIf(&l.TVAAmount, c.TVAAmount)
	setIf(&l.LineAmountTTC, c.LineAmountTTC)
	setIf(&l.PCMClass, c.PCMClass)
	setIf(&l.PCMAccountCode, c.PCMAccountCode)
	setIf(&l.PCMAccountLabel, c.PCMAccountLabel)
	setIf(&l.ClassificationConfidence, c.ClassificationConfidence)
	l.IsCorrected = true
}

func setIf[T any](dst **T, src *T) {
	if src != nil {
		v := *src
		*dst = &v
	}
}
