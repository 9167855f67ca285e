package cli

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jrsteele09/go-compta-client/auth"
	"github.com/jrsteele09/go-compta-client/tenants"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func addCredentialFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("username", "u", "", "username")
	cmd.Flags().StringP("password", "p", "", "password, read from stdin when empty")
	_ = cmd.MarkFlagRequired("username")
}

func credentials(cmd *cobra.Command) (string, string, error) {
	username, _ := cmd.Flags().GetString("username")
	password, _ := cmd.Flags().GetString("password")
	if password == "" {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && err != io.EOF {
			return "", "", errors.Wrap(err, "reading password")
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return "", "", errors.New("a password is required")
	}
	return username, password, nil
}

func newLoginCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in as an agent",
		Long: `Log in as an agent. When the agent can reach a single société it is
selected straight away, otherwise use "comptactl select".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			username, password, err := credentials(cmd)
			if err != nil {
				return err
			}
			outcome, err := app.manager.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if _, ok := outcome.State.(auth.AdminAuthenticated); ok {
				fmt.Fprintf(out, "Connecté en administrateur: %s\n", outcome.Agent.Username)
				return nil
			}
			fmt.Fprintf(out, "Connecté: %s\n", outcome.Agent.Username)
			if scoped, ok := outcome.State.(auth.Scoped); ok {
				fmt.Fprintf(out, "Société: %s (#%d)\n", scoped.Context.SocieteRaisonSociale, scoped.Context.SocieteID)
				return nil
			}
			if len(outcome.Societes) > 0 {
				printSocietes(out, outcome.Societes)
			} else {
				printCabinets(out, outcome.Cabinets)
			}
			fmt.Fprintln(out, `Choisissez une société avec "comptactl select".`)
			return nil
		},
	}
	addCredentialFlags(cmd)
	return cmd
}

func newAdminLoginCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin-login",
		Short: "Open an admin session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			username, password, err := credentials(cmd)
			if err != nil {
				return err
			}
			admin, err := app.manager.AdminLogin(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			scope := "tous les cabinets"
			if id, pinned := admin.PinnedCabinet(); pinned {
				scope = fmt.Sprintf("cabinet #%d", id)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Administrateur: %s (%s)\n", admin.Username, scope)
			return nil
		},
	}
	addCredentialFlags(cmd)
	return cmd
}

func newSocietesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "societes",
		Short: "List the sociétés of a cabinet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cabinetID, err := cabinetFlag(cmd, app)
			if err != nil {
				return err
			}
			societes, err := app.manager.ListSocietes(cmd.Context(), cabinetID)
			if err != nil {
				return err
			}
			printSocietes(cmd.OutOrStdout(), societes)
			return nil
		},
	}
	cmd.Flags().Int64("cabinet", 0, "cabinet id, defaults to the only cabinet")
	return cmd
}

func newSelectCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "select SOCIETE_ID",
		Short: "Select or switch the société to work on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			societeID, err := parseID(args[0])
			if err != nil {
				return err
			}
			cabinetID, err := cabinetFlag(cmd, app)
			if err != nil {
				return err
			}
			selection := tenants.Selection{CabinetID: cabinetID, SocieteID: societeID}

			selectFn := app.manager.SelectSociete
			if app.manager.IsAgentScoped() {
				selectFn = app.manager.SwitchSociete
			}
			payload, err := selectFn(cmd.Context(), selection)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Société: %s (#%d)\n", payload.SocieteRaisonSociale, payload.SocieteID)
			return nil
		},
	}
	cmd.Flags().Int64("cabinet", 0, "cabinet id, defaults to the only cabinet")
	return cmd
}

func newWhoamiCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			switch s := app.manager.State().(type) {
			case auth.Scoped:
				fmt.Fprintf(out, "%s: %s, société %s (#%d), cabinet #%d\n",
					s.Name(), s.Context.Username, s.Context.SocieteRaisonSociale, s.Context.SocieteID, s.Context.CabinetID)
				if exp, ok := s.Context.ExpiresAt(); ok {
					fmt.Fprintf(out, "expire: %s\n", exp.Format("2006-01-02 15:04"))
				}
			case auth.Authenticated:
				fmt.Fprintf(out, "%s: aucune société sélectionnée\n", s.Name())
				printCabinets(out, s.Cabinets)
			case auth.AdminAuthenticated:
				fmt.Fprintf(out, "%s: %s\n", s.Name(), s.Admin.Username)
			default:
				fmt.Fprintln(out, s.Name())
			}
			return nil
		},
	}
}

func newLogoutCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Forget every stored credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			adminOnly, _ := cmd.Flags().GetBool("admin")
			if adminOnly {
				return app.manager.AdminLogout()
			}
			if err := app.manager.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Déconnecté")
			return nil
		},
	}
	cmd.Flags().Bool("admin", false, "only close the admin session")
	return cmd
}

// cabinetFlag returns --cabinet, or the agent's only cabinet when unset.
func cabinetFlag(cmd *cobra.Command, app *App) (int64, error) {
	if id, _ := cmd.Flags().GetInt64("cabinet"); id > 0 {
		return id, nil
	}
	cabinets, err := app.manager.Cabinets()
	if err != nil {
		return 0, err
	}
	if len(cabinets) != 1 {
		return 0, errors.Errorf("%d cabinets available, pass --cabinet", len(cabinets))
	}
	return cabinets[0].ID, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Errorf("invalid id %q", s)
	}
	return id, nil
}

func printCabinets(out io.Writer, cabinets []tenants.Cabinet) {
	for _, c := range cabinets {
		fmt.Fprintf(out, "  cabinet #%-4d %s\n", c.ID, c.Nom)
	}
}

func printSocietes(out io.Writer, societes []tenants.Societe) {
	for _, s := range societes {
		fmt.Fprintf(out, "  société #%-4d %s\n", s.ID, s.RaisonSociale)
	}
}
