package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jrsteele09/go-compta-client/internal/metrics"
	"github.com/jrsteele09/go-compta-client/remote/remotefake"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newDevBackendCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dev-backend",
		Short: "Serve an in-memory backend with demo accounts",
		Long: `Serve an in-memory backend with demo accounts (agent, solo and admin,
password "demo"). Stop it with Ctrl-C.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipSetup: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			origins, _ := cmd.Flags().GetStringSlice("allow-origin")
			backend := remotefake.New(remotefake.WithAllowedOrigins(origins...))
			if err := backend.Seed(); err != nil {
				return err
			}

			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.Handle("/", backend)
			server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

			errs := make(chan error, 1)
			go func() {
				errs <- listenAndServe(server)
			}()
			select {
			case err := <-errs:
				return err
			case <-waitForStopSignal(cmd.Context()):
			}
			return shutdown(server)
		},
	}
	cmd.Flags().String("addr", ":8090", "listen address")
	cmd.Flags().StringSlice("allow-origin", []string{"http://localhost:5173"}, "browser origins allowed to call the backend")
	return cmd
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("dev backend listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "server.ListenAndServe")
	}
	return nil
}

func waitForStopSignal(ctx context.Context) <-chan struct{} {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		stop()
		close(done)
	}()
	return done
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "server.Shutdown")
	}
	log.Info().Msg("dev backend stopped")
	return nil
}
