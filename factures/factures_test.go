package factures_test

import (
	"encoding/json"
	"testing"

	"github.com/jrsteele09/go-compta-client/factures"
	"github.com/jrsteele09/go-compta-client/internal/utils"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestJournalEntry_Balance(t *testing.T) {
	entry := factures.JournalEntry{
		ID:          1,
		JournalCode: "ACH",
		Lines: []factures.EntryLine{
			{AccountCode: "61111", Debit: d("833.33")},
			{AccountCode: "34552", Debit: d("166.67")},
			{AccountCode: "44111", Credit: d("999.99")},
		},
	}

	t.Run("exclusive boundary is unbalanced", func(t *testing.T) {
		report := entry.Balance(factures.DefaultBalanceTolerance, factures.Exclusive)
		require.True(t, report.TotalDebit.Equal(d("1000.00")))
		require.True(t, report.TotalCredit.Equal(d("999.99")))
		require.True(t, report.Difference.Equal(d("0.01")))
		require.False(t, report.Balanced)
		require.False(t, entry.IsBalanced())
	})

	t.Run("inclusive boundary is balanced", func(t *testing.T) {
		report := entry.Balance(factures.DefaultBalanceTolerance, factures.Inclusive)
		require.True(t, report.Balanced)
	})

	t.Run("below tolerance is balanced in both modes", func(t *testing.T) {
		e := factures.JournalEntry{Lines: []factures.EntryLine{
			{Debit: d("1000.00")},
			{Credit: d("999.995")},
		}}
		require.True(t, e.Balance(factures.DefaultBalanceTolerance, factures.Exclusive).Balanced)
		require.True(t, e.Balance(factures.DefaultBalanceTolerance, factures.Inclusive).Balanced)
	})

	t.Run("above tolerance is unbalanced in both modes", func(t *testing.T) {
		e := factures.JournalEntry{Lines: []factures.EntryLine{
			{Debit: d("1000.00")},
			{Credit: d("999.98")},
		}}
		require.False(t, e.Balance(factures.DefaultBalanceTolerance, factures.Exclusive).Balanced)
		require.False(t, e.Balance(factures.DefaultBalanceTolerance, factures.Inclusive).Balanced)
	})

	t.Run("credit heavy difference is absolute", func(t *testing.T) {
		e := factures.JournalEntry{Lines: []factures.EntryLine{
			{Debit: d("10")},
			{Credit: d("12.5")},
		}}
		report := e.Balance(factures.DefaultBalanceTolerance, factures.Exclusive)
		require.True(t, report.Difference.Equal(d("2.5")))
	})

	t.Run("totals used when no lines", func(t *testing.T) {
		e := factures.JournalEntry{TotalDebit: d("50"), TotalCredit: d("50")}
		require.True(t, e.IsBalanced())
	})
}

func TestJournalEntry_DecodesBackendNumbers(t *testing.T) {
	body := `{"id":7,"journal_code":"ACH","is_validated":false,"total_debit":1200.5,"total_credit":1200.5,
		"entry_lines":[{"id":1,"account_code":"61111","debit":1000.5,"credit":0},{"id":2,"account_code":"44111","debit":0,"credit":"1000.50"}]}`

	var entry factures.JournalEntry
	require.NoError(t, json.Unmarshal([]byte(body), &entry))
	require.Len(t, entry.Lines, 2)
	require.True(t, entry.Lines[0].OneSided())
	require.True(t, entry.Lines[1].OneSided())
	require.True(t, entry.IsBalanced())
}

func TestEntryLine_OneSided(t *testing.T) {
	require.True(t, factures.EntryLine{Debit: d("1")}.OneSided())
	require.True(t, factures.EntryLine{Credit: d("1")}.OneSided())
	require.False(t, factures.EntryLine{}.OneSided())
	require.False(t, factures.EntryLine{Debit: d("1"), Credit: d("1")}.OneSided())
}

func TestStatus(t *testing.T) {
	t.Run("parse", func(t *testing.T) {
		st, err := factures.ParseStatus(" draft ")
		require.NoError(t, err)
		require.Equal(t, factures.StatusDraft, st)

		_, err = factures.ParseStatus("ARCHIVED")
		require.True(t, errors.Is(err, factures.ErrUnknownStatus))
	})

	t.Run("terminal", func(t *testing.T) {
		for _, st := range factures.Statuses {
			want := st == factures.StatusValidated || st == factures.StatusExported || st == factures.StatusError
			require.Equal(t, want, st.IsTerminal(), st)
		}
	})

	tests := []struct {
		from, to factures.Status
		allowed  bool
	}{
		{factures.StatusImported, factures.StatusExtracted, true},
		{factures.StatusExtracted, factures.StatusClassified, true},
		{factures.StatusClassified, factures.StatusDraft, true},
		{factures.StatusDraft, factures.StatusValidated, true},
		{factures.StatusValidated, factures.StatusExported, true},
		{factures.StatusImported, factures.StatusClassified, false},
		{factures.StatusDraft, factures.StatusExtracted, false},
		{factures.StatusImported, factures.StatusError, true},
		{factures.StatusDraft, factures.StatusError, true},
		{factures.StatusValidated, factures.StatusError, false},
		{factures.StatusError, factures.StatusExtracted, false},
		{factures.StatusExported, factures.StatusError, false},
		{factures.Status("BOGUS"), factures.StatusError, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			require.Equal(t, tt.allowed, factures.CanTransition(tt.from, tt.to))
		})
	}
}

func TestDescribe(t *testing.T) {
	p := factures.Describe(factures.StatusClassified)
	require.Equal(t, factures.StatusClassified, p.Status)
	require.Equal(t, 2, p.Order)
	require.False(t, p.Terminal)
	require.True(t, p.Allows(factures.ActionGenerateEntries))
	require.True(t, p.Allows(factures.ActionReject))
	require.False(t, p.Allows(factures.ActionValidate))

	imported := factures.Describe(factures.StatusImported)
	require.False(t, imported.Allows(factures.ActionReject))

	for _, st := range []factures.Status{factures.StatusValidated, factures.StatusExported, factures.StatusError} {
		p := factures.Describe(st)
		require.True(t, p.Terminal)
		require.Empty(t, p.Actions)
	}

	unknown := factures.Describe("ARCHIVED")
	require.Equal(t, factures.ToneNeutral, unknown.Tone)
	require.Equal(t, -1, unknown.Order)
	require.Empty(t, unknown.Actions)

	// Mutating a returned projection must not leak into later calls.
	p.Actions[0] = factures.ActionValidate
	require.True(t, factures.Describe(factures.StatusClassified).Allows(factures.ActionGenerateEntries))
}

func TestInvoiceLineCorrection(t *testing.T) {
	t.Run("marshal always sets correction flag", func(t *testing.T) {
		c := factures.InvoiceLineCorrection{PCMAccountCode: utils.Ptr("61251")}
		b, err := json.Marshal(c)
		require.NoError(t, err)
		require.JSONEq(t, `{"pcm_account_code":"61251","is_corrected":true}`, string(b))
	})

	t.Run("confidence bounds", func(t *testing.T) {
		require.NoError(t, factures.InvoiceLineCorrection{ClassificationConfidence: utils.Ptr(0.0)}.Validate())
		require.NoError(t, factures.InvoiceLineCorrection{ClassificationConfidence: utils.Ptr(1.0)}.Validate())
		err := factures.InvoiceLineCorrection{ClassificationConfidence: utils.Ptr(1.2)}.Validate()
		require.True(t, errors.Is(err, factures.ErrInvalidConfidence))
	})

	t.Run("apply", func(t *testing.T) {
		line := factures.InvoiceLine{
			ID:                       3,
			PCMAccountCode:           utils.Ptr("61111"),
			ClassificationConfidence: utils.Ptr(0.42),
		}
		line.Apply(factures.InvoiceLineCorrection{PCMAccountCode: utils.Ptr("61251"), ClassificationConfidence: utils.Ptr(1.0)})
		require.Equal(t, "61251", utils.Value(line.PCMAccountCode))
		require.Equal(t, 1.0, utils.Value(line.ClassificationConfidence))
		require.True(t, line.IsCorrected)
	})
}
