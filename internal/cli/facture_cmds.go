package cli

import (
	"fmt"
	"io"

	"github.com/jrsteele09/go-compta-client/factures"
	ierrors "github.com/jrsteele09/go-compta-client/internal/errors"
	"github.com/jrsteele09/go-compta-client/internal/utils"
	"github.com/jrsteele09/go-compta-client/pipeline"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// ErrUnbalanced is returned when validation is refused locally.
var ErrUnbalanced = ierrors.ErrUnbalanced

func newUploadCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload FILE...",
		Short: "Upload invoices and run them through extraction, classification and entry generation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			concurrency, _ := cmd.Flags().GetInt("concurrency")
			if concurrency <= 0 {
				concurrency = app.cfg.GetBatchConcurrency()
			}
			out := cmd.OutOrStdout()
			orchestrator, err := pipeline.NewOrchestrator(app.client, app.manager,
				pipeline.WithLocks(app.orchestrator.Locks()),
				pipeline.WithProgress(func(_ *pipeline.Run, _ pipeline.Stage, msg string) {
					app.printf(out, "%s\n", msg)
				}))
			if err != nil {
				return err
			}

			docs := make([]pipeline.Document, len(args))
			for i, path := range args {
				docs[i] = pipeline.FileDocument(path)
			}
			var firstErr error
			failed := 0
			for _, res := range orchestrator.RunBatch(cmd.Context(), docs, concurrency) {
				if res.Err != nil {
					failed++
					if firstErr == nil {
						firstErr = res.Err
					}
					app.printf(out, "%s: échec, %v\n", res.Document.Name, res.Err)
					continue
				}
				app.printf(out, "%s: facture #%d prête\n", res.Document.Name, res.Run.FactureID)
			}
			if failed > 0 {
				return errors.Wrapf(firstErr, "%d of %d documents failed", failed, len(docs))
			}
			return nil
		},
	}
	cmd.Flags().IntP("concurrency", "c", 0, "documents processed at once")
	return cmd
}

func newResumeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "resume FACTURE_ID",
		Short: "Continue the pipeline from the last confirmed status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			f, err := app.client.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			run, err := app.orchestrator.Resume(cmd.Context(), id, f.Status)
			if run != nil {
				printProgress(cmd.OutOrStdout(), run)
			}
			return err
		},
	}
}

func newStageCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:       "stage FACTURE_ID STAGE",
		Short:     "Re-run one stage (extract, classify or generate-entries)",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{string(pipeline.StageExtract), string(pipeline.StageClassify), string(pipeline.StageGenerate)},
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			run, err := app.orchestrator.RunStage(cmd.Context(), id, pipeline.Stage(args[1]))
			if run != nil {
				printProgress(cmd.OutOrStdout(), run)
			}
			return err
		},
	}
}

func newListCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the factures of the current société",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var status factures.Status
			if raw, _ := cmd.Flags().GetString("status"); raw != "" {
				parsed, err := factures.ParseStatus(raw)
				if err != nil {
					return err
				}
				status = parsed
			}
			list, err := app.client.List(cmd.Context(), status)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, f := range list {
				p := factures.Describe(f.Status)
				fmt.Fprintf(out, "#%-5d %s %-11s %-20s %s\n", f.ID, p.Icon, p.Label,
					utils.Value(f.NumeroFacture), utils.Value(f.SupplierName))
			}
			return nil
		},
	}
	cmd.Flags().String("status", "", "only factures with this status")
	return cmd
}

func newShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show FACTURE_ID",
		Short: "Show a facture, its lines and its compliance flags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			f, err := app.client.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			lines, err := app.client.Lines(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			p := factures.Describe(f.Status)
			fmt.Fprintf(out, "Facture #%d %s %s\n", f.ID, p.Icon, p.Label)
			fmt.Fprintf(out, "  numéro:      %s\n", utils.ValueOr(f.NumeroFacture, "-"))
			fmt.Fprintf(out, "  date:        %s\n", utils.ValueOr(f.DateFacture, "-"))
			fmt.Fprintf(out, "  fournisseur: %s (ICE %s)\n", utils.ValueOr(f.SupplierName, "-"), utils.ValueOr(f.SupplierICE, "-"))
			fmt.Fprintf(out, "  HT %.2f  TVA %.2f  TTC %.2f %s\n",
				utils.Value(f.MontantHT), utils.Value(f.MontantTVA), utils.Value(f.MontantTTC), utils.ValueOr(f.Devise, "MAD"))
			for _, l := range lines {
				fmt.Fprintf(out, "  ligne %d (#%d): %s  %.2f  compte %s\n", utils.Value(l.LineNumber), l.ID, utils.Value(l.Description),
					utils.Value(l.LineAmountHT), utils.Value(l.PCMAccountCode))
			}
			for _, flag := range f.DGIFlags {
				fmt.Fprintf(out, "  [%s] %s: %s\n", flag.Severity, flag.Code, flag.Message)
			}
			if len(p.Actions) > 0 {
				fmt.Fprintf(out, "  actions: %v\n", p.Actions)
			}
			return nil
		},
	}
}

func newEntriesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entries FACTURE_ID",
		Short: "Show the journal entries of a facture and their balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			entries, err := app.client.Entries(cmd.Context(), id)
			if err != nil {
				return err
			}
			mode := factures.Exclusive
			if inclusive, _ := cmd.Flags().GetBool("inclusive"); inclusive {
				mode = factures.Inclusive
			}
			printEntries(cmd.OutOrStdout(), entries, mode)
			return nil
		},
	}
	cmd.Flags().Bool("inclusive", false, "treat a difference equal to the tolerance as balanced")
	return cmd
}

func newValidateCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate FACTURE_ID",
		Short: "Validate the journal entries of a draft facture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := requireAction(cmd, app, id, factures.ActionValidate); err != nil {
				return err
			}
			entries, err := app.client.Entries(cmd.Context(), id)
			if err != nil {
				return err
			}
			for _, e := range entries {
				if !e.IsBalanced() {
					printEntries(cmd.OutOrStdout(), entries, factures.Exclusive)
					return errors.Wrapf(ErrUnbalanced, "facture %d", id)
				}
			}
			res, err := app.client.Validate(cmd.Context(), id)
			if err != nil {
				return err
			}
			printOutcome(cmd.OutOrStdout(), id, res)
			return nil
		},
	}
	return cmd
}

func newRejectCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reject FACTURE_ID",
		Short: "Reject a facture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			reason, _ := cmd.Flags().GetString("reason")
			if err := requireAction(cmd, app, id, factures.ActionReject); err != nil {
				return err
			}
			res, err := app.client.Reject(cmd.Context(), id, reason)
			if err != nil {
				return err
			}
			printOutcome(cmd.OutOrStdout(), id, res)
			return nil
		},
	}
	cmd.Flags().StringP("reason", "r", "", "why the facture is rejected")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newDeleteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete FACTURE_ID",
		Short: "Delete a facture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ack, err := app.client.Delete(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ack.Message)
			return nil
		},
	}
}

// requireAction refuses actions the facture's status does not offer.
func requireAction(cmd *cobra.Command, app *App, id int64, action factures.Action) error {
	f, err := app.client.Get(cmd.Context(), id)
	if err != nil {
		return err
	}
	if p := factures.Describe(f.Status); !p.Allows(action) {
		return errors.Errorf("facture %d is %s, %s is not available", id, p.Label, action)
	}
	return nil
}

func printOutcome(out io.Writer, id int64, res *factures.StageResult) {
	if res.Status == "" {
		fmt.Fprintf(out, "Facture #%d: %s\n", id, res.Message)
		return
	}
	fmt.Fprintf(out, "Facture #%d: %s\n", id, factures.Describe(res.Status).Label)
}

func printProgress(out io.Writer, run *pipeline.Run) {
	for _, msg := range run.Progress {
		fmt.Fprintln(out, msg)
	}
}

func printEntries(out io.Writer, entries []factures.JournalEntry, mode factures.BalanceMode) {
	for _, e := range entries {
		fmt.Fprintf(out, "Écriture %s %s\n", e.JournalCode, utils.Value(e.Reference))
		for _, l := range e.Lines {
			fmt.Fprintf(out, "  %-8s %-30s %12s %12s\n", l.AccountCode, utils.Value(l.AccountLabel),
				l.Debit.StringFixed(2), l.Credit.StringFixed(2))
		}
		report := e.Balance(factures.DefaultBalanceTolerance, mode)
		state := "équilibrée"
		if !report.Balanced {
			state = "NON équilibrée"
		}
		fmt.Fprintf(out, "  total débit %s, crédit %s, écart %s: %s\n",
			report.TotalDebit.StringFixed(2), report.TotalCredit.StringFixed(2), report.Difference.StringFixed(2), state)
	}
}
