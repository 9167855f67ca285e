package cli

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newAdminCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administration commands, available after admin-login",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Global counters",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				stats, err := app.client.Admin().GlobalStats(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "cabinets: %d\n", stats.TotalCabinets)
				fmt.Fprintf(out, "sociétés: %d\n", stats.TotalSocietes)
				fmt.Fprintf(out, "agents:   %d\n", stats.TotalAgents)
				fmt.Fprintf(out, "factures: %d\n", stats.TotalFactures)
				return nil
			},
		},
		&cobra.Command{
			Use:   "cabinets",
			Short: "List cabinets",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cabinets, err := app.client.Admin().ListCabinets(cmd.Context())
				if err != nil {
					return err
				}
				printCabinets(cmd.OutOrStdout(), cabinets)
				return nil
			},
		},
		&cobra.Command{
			Use:   "societes",
			Short: "List sociétés with their cabinet",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				societes, err := app.client.Admin().ListSocietes(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, s := range societes {
					fmt.Fprintf(out, "  société #%-4d %-30s %s\n", s.ID, s.RaisonSociale, s.CabinetNom)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "agents",
			Short: "List agents",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				agents, err := app.client.Admin().ListAgents(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, a := range agents {
					role := "agent"
					switch {
					case a.IsSuperAdmin:
						role = "super-admin"
					case a.IsAdmin:
						role = "admin"
					}
					fmt.Fprintf(out, "  agent #%-4d %-16s %-12s cabinet #%d\n", a.ID, a.Username, role, a.CabinetID)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "assign CABINET_ID AGENT_ID SOCIETE_ID",
			Short: "Give an agent access to a société",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				ids := make([]int64, len(args))
				for i, arg := range args {
					id, err := parseID(arg)
					if err != nil {
						return err
					}
					ids[i] = id
				}
				if admin, err := app.manager.AdminSession(); err == nil && !admin.CanManageCabinet(ids[0]) {
					return errors.Errorf("cabinet %d is outside this admin's scope", ids[0])
				}
				ack, err := app.client.Admin().AssignSociete(cmd.Context(), ids[0], ids[1], ids[2])
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
