package factures

import (
	"github.com/shopspring/decimal"
)

// DefaultBalanceTolerance is the largest debit/credit gap still considered balanced.
var DefaultBalanceTolerance = decimal.RequireFromString("0.01")

// BalanceMode selects whether a difference equal to the tolerance is balanced.
type BalanceMode int

const (
	// Exclusive: balanced iff |debit - credit| < tolerance.
	Exclusive BalanceMode = iota
	// Inclusive: balanced iff |debit - credit| <= tolerance.
	Inclusive
)

// EntryLine is one debit or credit line of a journal entry. In the common case
// exactly one of Debit and Credit is non-zero.
type EntryLine struct {
	ID           int64           `json:"id"`
	LineOrder    *int            `json:"line_order"`
	AccountCode  string          `json:"account_code"`
	AccountLabel *string         `json:"account_label"`
	Debit        decimal.Decimal `json:"debit"`
	Credit       decimal.Decimal `json:"credit"`
	TiersName    *string         `json:"tiers_name"`
	TiersICE     *string         `json:"tiers_ice"`
}

// OneSided reports whether exactly one of debit and credit is non-zero.
func (l EntryLine) OneSided() bool {
	return l.Debit.IsZero() != l.Credit.IsZero()
}

// JournalEntry is a draft accounting entry generated from a facture's lines.
type JournalEntry struct {
	ID          int64           `json:"id"`
	JournalCode string          `json:"journal_code"`
	EntryDate   *string         `json:"entry_date"`
	Reference   *string         `json:"reference"`
	Description *string         `json:"description"`
	IsValidated bool            `json:"is_validated"`
	TotalDebit  decimal.Decimal `json:"total_debit"`
	TotalCredit decimal.Decimal `json:"total_credit"`
	Lines       []EntryLine     `json:"entry_lines"`
}

// BalanceReport is the outcome of a balance check. Unbalanced entries are
// flagged, never hidden.
type BalanceReport struct {
	TotalDebit  decimal.Decimal `json:"total_debit"`
	TotalCredit decimal.Decimal `json:"total_credit"`
	Difference  decimal.Decimal `json:"difference"`
	Balanced    bool            `json:"balanced"`
}

// Balance sums the entry lines and compares debit and credit. Entries without
// lines fall back to the totals reported by the backend.
func (e JournalEntry) Balance(tolerance decimal.Decimal, mode BalanceMode) BalanceReport {
	debit, credit := e.TotalDebit, e.TotalCredit
	if len(e.Lines) > 0 {
		debit, credit = decimal.Zero, decimal.Zero
		for _, l := range e.Lines {
			debit = debit.Add(l.Debit)
			credit = credit.Add(l.Credit)
		}
	}

	diff := debit.Sub(credit).Abs()
	balanced := diff.LessThan(tolerance)
	if mode == Inclusive {
		balanced = diff.LessThanOrEqual(tolerance)
	}
	return BalanceReport{
		TotalDebit:  debit,
		TotalCredit: credit,
		Difference:  diff,
		Balanced:    balanced,
	}
}

// IsBalanced applies the default tolerance in exclusive mode.
func (e JournalEntry) IsBalanced() bool {
	return e.Balance(DefaultBalanceTolerance, Exclusive).Balanced
}

// EntryLineCorrection is a partial manual correction of a journal entry line.
type EntryLineCorrection struct {
	AccountCode  *string          `json:"account_code,omitempty"`
	AccountLabel *string          `json:"account_label,omitempty"`
	Debit        *decimal.Decimal `json:"debit,omitempty"`
	Credit       *decimal.Decimal `json:"credit,omitempty"`
	TiersName    *string          `json:"tiers_name,omitempty"`
}

