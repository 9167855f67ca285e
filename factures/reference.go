package factures

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrUnknownAccount is returned when a correction names an account that is not
// in the chart of accounts.
var ErrUnknownAccount = errors.New("compte PCM inconnu")

// AccountType groups PCM accounts the way the backend filters them.
type AccountType string

const (
	AccountCharge  AccountType = "CHARGE"
	AccountProduit AccountType = "PRODUIT"
	AccountActif   AccountType = "ACTIF"
	AccountPassif  AccountType = "PASSIF"
	AccountTiers   AccountType = "TIERS"
)

// ParseAccountType accepts any letter case.
func ParseAccountType(raw string) (AccountType, error) {
	t := AccountType(strings.ToUpper(strings.TrimSpace(raw)))
	switch t {
	case AccountCharge, AccountProduit, AccountActif, AccountPassif, AccountTiers:
		return t, nil
	}
	return "", errors.Errorf("unknown account type %q", raw)
}

// PcmAccount is an entry of the Moroccan chart of accounts (Plan Comptable
// Marocain).
type PcmAccount struct {
	Code         string      `json:"code"`
	Label        string      `json:"label"`
	PcmClass     int         `json:"pcm_class"`
	GroupCode    *string     `json:"group_code"`
	AccountType  AccountType `json:"account_type"`
	IsTVAAccount bool        `json:"is_tva_account"`
	TVAType      *string     `json:"tva_type"`
}

// AccountFilter narrows a chart of accounts listing. Zero values match all.
type AccountFilter struct {
	PcmClass    int
	AccountType AccountType
}

func (f AccountFilter) Match(a PcmAccount) bool {
	if f.PcmClass != 0 && a.PcmClass != f.PcmClass {
		return false
	}
	return f.AccountType == "" || a.AccountType == f.AccountType
}

// FindAccount looks up an account by its exact code.
func FindAccount(accounts []PcmAccount, code string) (PcmAccount, bool) {
	for _, a := range accounts {
		if a.Code == code {
			return a, true
		}
	}
	return PcmAccount{}, false
}

// TVARate is a VAT rate accepted in Morocco.
type TVARate struct {
	Rate  float64 `json:"rate"`
	Label string  `json:"label"`
}

// IsValidTVARate reports whether rate is one of rates.
func IsValidTVARate(rates []TVARate, rate float64) bool {
	for _, r := range rates {
		if r.Rate == rate {
			return true
		}
	}
	return false
}

// SupplierMapping is an account the backend learnt for a supplier when one of
// its factures was validated. It is used first by later classifications.
type SupplierMapping struct {
	ID              int64   `json:"id"`
	SupplierICE     string  `json:"supplier_ice"`
	PCMAccountCode  string  `json:"pcm_account_code"`
	PCMAccountLabel string  `json:"pcm_account_label"`
	UpdatedAt       *string `json:"updated_at"`
}

// WithAccount points the correction at account, carrying its label and class.
// The code must exist in accounts.
func (c InvoiceLineCorrection) WithAccount(accounts []PcmAccount, code string) (InvoiceLineCorrection, error) {
	account, ok := FindAccount(accounts, code)
	if !ok {
		return c, errors.Wrapf(ErrUnknownAccount, "%q", code)
	}
	c.PCMAccountCode = &account.Code
	c.PCMAccountLabel = &account.Label
	c.PCMClass = &account.PcmClass
	return c, nil
}
