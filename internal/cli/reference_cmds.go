package cli

import (
	"fmt"

	"github.com/jrsteele09/go-compta-client/factures"
	"github.com/jrsteele09/go-compta-client/internal/utils"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newAccountsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List the chart of accounts (PCM)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var filter factures.AccountFilter
			filter.PcmClass, _ = cmd.Flags().GetInt("class")
			if raw, _ := cmd.Flags().GetString("type"); raw != "" {
				t, err := factures.ParseAccountType(raw)
				if err != nil {
					return err
				}
				filter.AccountType = t
			}
			accounts, err := app.client.PcmAccounts(cmd.Context(), filter)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, a := range accounts {
				tva := ""
				if a.IsTVAAccount {
					tva = " TVA " + utils.Value(a.TVAType)
				}
				fmt.Fprintf(out, "%-8s %-8s %s%s\n", a.Code, a.AccountType, a.Label, tva)
			}
			return nil
		},
	}
	cmd.Flags().Int("class", 0, "only accounts of this PCM class (1-8)")
	cmd.Flags().String("type", "", "only accounts of this type (CHARGE, PRODUIT, ACTIF, PASSIF, TIERS)")
	return cmd
}

func newTVARatesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "tva-rates",
		Short: "List the VAT rates accepted in Morocco",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rates, err := app.client.TVARates(cmd.Context())
			if err != nil {
				return err
			}
			for _, r := range rates {
				fmt.Fprintf(cmd.OutOrStdout(), "%5.1f%%  %s\n", r.Rate, r.Label)
			}
			return nil
		},
	}
}

// newCorrectLineCmd corrects an invoice line. The account and the VAT rate are
// checked against the backend's reference data before anything is sent.
func newCorrectLineCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "correct-line LINE_ID",
		Short: "Correct the account, description or VAT rate of an invoice line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lineID, err := parseID(args[0])
			if err != nil {
				return err
			}
			var correction factures.InvoiceLineCorrection
			flags := cmd.Flags()
			if flags.Changed("description") {
				description, _ := flags.GetString("description")
				correction.Description = &description
			}
			if flags.Changed("account") {
				code, _ := flags.GetString("account")
				accounts, err := app.client.PcmAccounts(cmd.Context(), factures.AccountFilter{})
				if err != nil {
					return err
				}
				if correction, err = correction.WithAccount(accounts, code); err != nil {
					return err
				}
			}
			if flags.Changed("tva-rate") {
				rate, _ := flags.GetFloat64("tva-rate")
				rates, err := app.client.TVARates(cmd.Context())
				if err != nil {
					return err
				}
				if !factures.IsValidTVARate(rates, rate) {
					return errors.Errorf("%v%% is not a valid VAT rate", rate)
				}
				correction.TVARate = &rate
			}
			if correction == (factures.InvoiceLineCorrection{}) {
				return errors.New("nothing to correct, pass --account, --description or --tva-rate")
			}

			ack, err := app.client.UpdateInvoiceLine(cmd.Context(), lineID, correction)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ack.Message)
			return nil
		},
	}
	cmd.Flags().String("account", "", "PCM account code")
	cmd.Flags().String("description", "", "line description")
	cmd.Flags().Float64("tva-rate", 0, "VAT rate in percent")
	return cmd
}

func newMappingsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "Supplier accounts learnt from validated factures",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List the mappings of the current cabinet",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				mappings, err := app.client.Mappings(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(mappings) == 0 {
					fmt.Fprintln(out, "Aucun mapping appris")
				}
				for _, m := range mappings {
					fmt.Fprintf(out, "#%-4d ICE %-15s -> %s %s\n", m.ID, m.SupplierICE, m.PCMAccountCode, m.PCMAccountLabel)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete MAPPING_ID",
			Short: "Forget a learnt mapping",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				ack, err := app.client.DeleteMapping(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), ack.Message)
				return nil
			},
		},
	)
	return cmd
}

func newStatsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the counters of the logged-in agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := app.client.AgentStats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "cabinet:            %s\n", stats.CabinetNom)
			fmt.Fprintf(out, "sociétés gérées:    %d\n", stats.TotalSocietesGerees)
			fmt.Fprintf(out, "factures validées:  %d\n", stats.TotalFacturesValidees)
			return nil
		},
	}
}
