package factures_test

import (
	"encoding/json"
	"testing"

	"github.com/jrsteele09/go-compta-client/factures"
	"github.com/jrsteele09/go-compta-client/internal/utils"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

var chart = []factures.PcmAccount{
	{Code: "61251", Label: "Achats de fournitures de bureau", PcmClass: 6, AccountType: factures.AccountCharge},
	{Code: "61311", Label: "Locations de constructions", PcmClass: 6, AccountType: factures.AccountCharge},
	{Code: "34552", Label: "État, TVA récupérable sur les charges", PcmClass: 3, AccountType: factures.AccountTiers, IsTVAAccount: true},
	{Code: "71111", Label: "Ventes de marchandises au Maroc", PcmClass: 7, AccountType: factures.AccountProduit},
}

func TestAccountFilter(t *testing.T) {
	tests := []struct {
		name   string
		filter factures.AccountFilter
		want   []string
	}{
		{"no filter", factures.AccountFilter{}, []string{"61251", "61311", "34552", "71111"}},
		{"by class", factures.AccountFilter{PcmClass: 6}, []string{"61251", "61311"}},
		{"by type", factures.AccountFilter{AccountType: factures.AccountTiers}, []string{"34552"}},
		{"class and type disagree", factures.AccountFilter{PcmClass: 7, AccountType: factures.AccountCharge}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, a := range chart {
				if tt.filter.Match(a) {
					got = append(got, a.Code)
				}
			}
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseAccountType(t *testing.T) {
	got, err := factures.ParseAccountType(" charge ")
	require.NoError(t, err)
	require.Equal(t, factures.AccountCharge, got)

	_, err = factures.ParseAccountType("dépense")
	require.Error(t, err)
}

func TestInvoiceLineCorrection_WithAccount(t *testing.T) {
	c := factures.InvoiceLineCorrection{Description: utils.Ptr("Loyer mars")}

	got, err := c.WithAccount(chart, "61311")
	require.NoError(t, err)
	require.Equal(t, "61311", utils.Value(got.PCMAccountCode))
	require.Equal(t, "Locations de constructions", utils.Value(got.PCMAccountLabel))
	require.Equal(t, 6, utils.Value(got.PCMClass))
	require.Equal(t, "Loyer mars", utils.Value(got.Description))

	b, err := json.Marshal(got)
	require.NoError(t, err)
	require.JSONEq(t, `{"description":"Loyer mars","pcm_class":6,"pcm_account_code":"61311",
		"pcm_account_label":"Locations de constructions","is_corrected":true}`, string(b))

	_, err = c.WithAccount(chart, "99999")
	require.True(t, errors.Is(err, factures.ErrUnknownAccount))
	require.Nil(t, c.PCMAccountCode)
}

func TestIsValidTVARate(t *testing.T) {
	rates := []factures.TVARate{{Rate: 0, Label: "Exonéré"}, {Rate: 20, Label: "20% Taux normal"}}
	require.True(t, factures.IsValidTVARate(rates, 20))
	require.True(t, factures.IsValidTVARate(rates, 0))
	require.False(t, factures.IsValidTVARate(rates, 19.6))
}
