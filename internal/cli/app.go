// Package cli is the comptactl command tree. It wires the credential store,
// the remote client, the session manager and the pipeline orchestrator, then
// exposes them as cobra commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jrsteele09/go-compta-client/auth"
	"github.com/jrsteele09/go-compta-client/internal/config"
	"github.com/jrsteele09/go-compta-client/internal/logging"
	"github.com/jrsteele09/go-compta-client/internal/metrics"
	"github.com/jrsteele09/go-compta-client/pipeline"
	"github.com/jrsteele09/go-compta-client/remote"
	"github.com/jrsteele09/go-compta-client/store"
	"github.com/jrsteele09/go-compta-client/store/sqlitestore"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const skipSetup = "skip-setup"

// App holds what the commands share. It is built once, before the first
// command that needs a session runs.
type App struct {
	cfg        config.Config
	configFile string
	baseURL    string
	repo       store.Repo
	httpClient *http.Client

	client       *remote.Client
	manager      *auth.Manager
	orchestrator *pipeline.Orchestrator

	outLock sync.Mutex
	closers []func() error
}

type Option func(*App)

// WithRepo replaces the sqlite credential store.
func WithRepo(repo store.Repo) Option {
	return func(a *App) {
		a.repo = repo
	}
}

// WithConfig skips loading configuration from the environment.
func WithConfig(cfg config.Config) Option {
	return func(a *App) {
		a.cfg = cfg
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(a *App) {
		a.httpClient = c
	}
}

// NewRootCommand builds the comptactl command tree.
func NewRootCommand(options ...Option) *cobra.Command {
	app := &App{}
	for _, opt := range options {
		opt(app)
	}

	root := &cobra.Command{
		Use:           "comptactl",
		Short:         "Client for the Compta Zero Saisie backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.loadConfig(); err != nil {
				return err
			}
			if cmd.Annotations[skipSetup] == "true" {
				return nil
			}
			return app.setup(cmd.Context())
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return app.close()
		},
	}
	root.PersistentFlags().StringVar(&app.configFile, "config", "", "configuration file (yaml, json or toml)")
	root.PersistentFlags().StringVar(&app.baseURL, "base-url", "", "backend URL, overrides COMPTA_BASE_URL")

	root.AddCommand(
		newLoginCmd(app),
		newAdminLoginCmd(app),
		newSocietesCmd(app),
		newSelectCmd(app),
		newWhoamiCmd(app),
		newLogoutCmd(app),
		newUploadCmd(app),
		newResumeCmd(app),
		newStageCmd(app),
		newListCmd(app),
		newShowCmd(app),
		newEntriesCmd(app),
		newValidateCmd(app),
		newRejectCmd(app),
		newDeleteCmd(app),
		newCorrectLineCmd(app),
		newAccountsCmd(app),
		newTVARatesCmd(app),
		newMappingsCmd(app),
		newStatsCmd(app),
		newAdminCmd(app),
		newDevBackendCmd(app),
	)
	return root
}

// Execute runs the command tree with ctx and returns the first error.
func Execute(ctx context.Context, options ...Option) error {
	return NewRootCommand(options...).ExecuteContext(ctx)
}

func (a *App) loadConfig() error {
	if a.cfg != nil {
		return nil
	}
	cfg, err := config.New(a.configFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	logging.Setup(cfg.GetEnv(), cfg.GetLogLevel())
	return nil
}

func (a *App) setup(ctx context.Context) error {
	if a.repo == nil {
		repo, err := sqlitestore.Open(a.cfg.GetStorePath())
		if err != nil {
			return errors.Wrap(err, "opening the credential store")
		}
		a.repo = repo
		a.closers = append(a.closers, repo.Close)
	}

	baseURL := a.baseURL
	if baseURL == "" {
		baseURL = a.cfg.GetBaseURL()
	}
	clientOptions := []remote.Option{remote.WithTimeoutConfig(a.cfg)}
	if a.httpClient != nil {
		clientOptions = append(clientOptions, remote.WithHTTPClient(a.httpClient))
	}
	client, err := remote.New(baseURL, auth.NewCredentialSource(a.repo), clientOptions...)
	if err != nil {
		return err
	}
	manager, err := auth.NewManager(client, a.repo)
	if err != nil {
		return err
	}
	orchestrator, err := pipeline.NewOrchestrator(client, manager)
	if err != nil {
		return err
	}
	a.client, a.manager, a.orchestrator = client, manager, orchestrator

	if addr := a.cfg.GetMetricsAddr(); addr != "" {
		a.serveMetrics(ctx, addr)
	}
	return nil
}

func (a *App) serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	a.closers = append(a.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func (a *App) close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// printf serialises output from concurrent pipeline runs.
func (a *App) printf(w io.Writer, format string, args ...any) {
	a.outLock.Lock()
	defer a.outLock.Unlock()
	fmt.Fprintf(w, format, args...)
}
