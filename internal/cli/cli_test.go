package cli_test

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jrsteele09/go-compta-client/auth"
	"github.com/jrsteele09/go-compta-client/factures"
	"github.com/jrsteele09/go-compta-client/internal/cli"
	"github.com/jrsteele09/go-compta-client/internal/config"
	"github.com/jrsteele09/go-compta-client/remote/remotefake"
	"github.com/jrsteele09/go-compta-client/store"
	storerepofakes "github.com/jrsteele09/go-compta-client/store/repofakes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type harness struct {
	backend *remotefake.Backend
	repo    *storerepofakes.FakeStoreRepo
	url     string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	backend := remotefake.New()
	require.NoError(t, backend.Seed())
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)
	return &harness{backend: backend, repo: storerepofakes.NewFakeStoreRepo(), url: srv.URL}
}

// run executes one comptactl invocation. Every invocation builds a fresh
// command tree over the same credential store, like separate processes would.
func (h *harness) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := cli.NewRootCommand(cli.WithRepo(h.repo), cli.WithConfig(config.Default()))
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append(args, "--base-url", h.url))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeInvoice(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 facture"), 0o600))
	return path
}

func TestLogin(t *testing.T) {
	t.Run("single société is selected", func(t *testing.T) {
		h := newHarness(t)
		out, err := h.run(t, "", "login", "-u", "solo", "-p", "demo")
		require.NoError(t, err)
		require.Contains(t, out, "Alpha Distribution SARL")

		out, err = h.run(t, "", "whoami")
		require.NoError(t, err)
		require.Contains(t, out, "scoped")
		require.Contains(t, out, "#1")
	})

	t.Run("password from stdin", func(t *testing.T) {
		h := newHarness(t)
		out, err := h.run(t, "demo\n", "login", "-u", "agent")
		require.NoError(t, err)
		require.Contains(t, out, "Beta Services SA")
		require.Contains(t, out, "comptactl select")
	})

	t.Run("rejected credentials", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.run(t, "", "login", "-u", "agent", "-p", "wrong")
		require.Error(t, err)
		_, ok, lerr := store.Lookup(h.repo, store.KeyAccessToken)
		require.NoError(t, lerr)
		require.False(t, ok)
	})

	t.Run("missing password", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.run(t, "", "login", "-u", "agent")
		require.Error(t, err)
	})
}

func TestAgentSession(t *testing.T) {
	h := newHarness(t)
	h.backend.SetNextFactureID(100)

	_, err := h.run(t, "", "upload", writeInvoice(t, "early.pdf"))
	require.True(t, errors.Is(err, auth.ErrNotScoped), err)

	_, err = h.run(t, "", "login", "-u", "agent", "-p", "demo")
	require.NoError(t, err)

	out, err := h.run(t, "", "societes")
	require.NoError(t, err)
	require.Contains(t, out, "Alpha Distribution SARL")
	require.Contains(t, out, "Beta Services SA")

	out, err = h.run(t, "", "select", "2")
	require.NoError(t, err)
	require.Contains(t, out, "Beta Services SA")

	out, err = h.run(t, "", "upload", writeInvoice(t, "a.pdf"), writeInvoice(t, "b.pdf"), "-c", "2")
	require.NoError(t, err)
	require.Contains(t, out, "a.pdf: facture #")
	require.Contains(t, out, "b.pdf: facture #")
	require.Equal(t, 2, strings.Count(out, "Brouillon"))

	out, err = h.run(t, "", "list", "--status", "draft")
	require.NoError(t, err)
	require.Contains(t, out, "#100")
	require.Contains(t, out, "#101")

	out, err = h.run(t, "", "entries", "100")
	require.NoError(t, err)
	require.Contains(t, out, "44111")
	require.Contains(t, out, ": équilibrée")

	out, err = h.run(t, "", "validate", "100")
	require.NoError(t, err)
	require.Contains(t, out, factures.Describe(factures.StatusValidated).Label)

	_, err = h.run(t, "", "validate", "100")
	require.Error(t, err)

	_, err = h.run(t, "", "reject", "101")
	require.Error(t, err, "reason is required")
	out, err = h.run(t, "", "reject", "101", "-r", "doublon")
	require.NoError(t, err)
	require.Contains(t, out, factures.Describe(factures.StatusError).Label)

	// A switch keeps the identity and drops the old société's view.
	_, err = h.run(t, "", "select", "1")
	require.NoError(t, err)
	_, err = h.run(t, "", "show", "100")
	require.Error(t, err)

	_, err = h.run(t, "", "logout")
	require.NoError(t, err)
	out, err = h.run(t, "", "whoami")
	require.NoError(t, err)
	require.Contains(t, out, "logged-out")
	require.Empty(t, h.repo.Keys())
}

func TestResumeAfterFailure(t *testing.T) {
	h := newHarness(t)
	h.backend.SetNextFactureID(42)
	_, err := h.run(t, "", "login", "-u", "solo", "-p", "demo")
	require.NoError(t, err)

	h.backend.FailOn("classify", remotefake.Failure{Status: 500, Detail: "Service indisponible"})
	out, err := h.run(t, "", "upload", writeInvoice(t, "f.pdf"))
	require.Error(t, err)
	require.Contains(t, out, "classify (facture 42): Service indisponible")
	require.Zero(t, h.backend.Calls("generate-entries"))

	h.backend.ClearFailures()
	out, err = h.run(t, "", "resume", "42")
	require.NoError(t, err)
	require.Contains(t, out, "Facture 42: Classifiée")
	require.Contains(t, out, "Facture 42: Brouillon")

	_, err = h.run(t, "", "stage", "42", "generate-entries")
	require.Error(t, err, "the backend refuses to regenerate a draft")

	_, err = h.run(t, "", "stage", "42", "upload")
	require.Error(t, err)

	out, err = h.run(t, "", "delete", "42")
	require.NoError(t, err)
	require.NotEmpty(t, strings.TrimSpace(out))
}

func TestAdminSession(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "", "admin", "stats")
	require.True(t, errors.Is(err, auth.ErrNotAdmin), err)

	_, err = h.run(t, "", "admin-login", "-u", "solo", "-p", "demo")
	require.True(t, errors.Is(err, auth.ErrNotAdmin), err)

	out, err := h.run(t, "", "admin-login", "-u", "admin", "-p", "demo")
	require.NoError(t, err)
	require.Contains(t, out, "cabinet #1")

	out, err = h.run(t, "", "admin", "stats")
	require.NoError(t, err)
	require.Contains(t, out, "sociétés: 2")

	out, err = h.run(t, "", "admin", "agents")
	require.NoError(t, err)
	require.Contains(t, out, "solo")
	require.Contains(t, out, "admin")

	_, err = h.run(t, "", "admin", "assign", "2", "2", "2")
	require.Error(t, err)
	out, err = h.run(t, "", "admin", "assign", "1", "2", "2")
	require.NoError(t, err)
	require.NotEmpty(t, strings.TrimSpace(out))

	out, err = h.run(t, "", "whoami")
	require.NoError(t, err)
	require.Contains(t, out, "admin-authenticated")

	_, ok, err := store.Lookup(h.repo, store.KeySessionToken)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = h.run(t, "", "logout", "--admin")
	require.NoError(t, err)
	_, err = h.run(t, "", "admin", "stats")
	require.Error(t, err)
}

func TestReferenceData(t *testing.T) {
	h := newHarness(t)
	h.backend.SetNextFactureID(7)

	out, err := h.run(t, "", "accounts", "--class", "6")
	require.NoError(t, err)
	require.Contains(t, out, "61313")
	require.NotContains(t, out, "44111")

	out, err = h.run(t, "", "accounts", "--type", "tiers")
	require.NoError(t, err)
	require.Contains(t, out, "44111")
	_, err = h.run(t, "", "accounts", "--type", "dépense")
	require.Error(t, err)

	out, err = h.run(t, "", "tva-rates")
	require.NoError(t, err)
	require.Contains(t, out, "20.0%")

	_, err = h.run(t, "", "stats")
	require.True(t, errors.Is(err, auth.ErrNotAuthenticated), err)

	_, err = h.run(t, "", "login", "-u", "solo", "-p", "demo")
	require.NoError(t, err)
	out, err = h.run(t, "", "stats")
	require.NoError(t, err)
	require.Contains(t, out, "Cabinet Atlas")

	_, err = h.run(t, "", "upload", writeInvoice(t, "loyer.pdf"))
	require.NoError(t, err)
	out, err = h.run(t, "", "show", "7")
	require.NoError(t, err)
	require.Contains(t, out, "(#701)")

	_, err = h.run(t, "", "correct-line", "701")
	require.Error(t, err, "nothing to correct")
	_, err = h.run(t, "", "correct-line", "701", "--account", "99999")
	require.True(t, errors.Is(err, factures.ErrUnknownAccount), err)
	_, err = h.run(t, "", "correct-line", "701", "--tva-rate", "19.6")
	require.Error(t, err)
	require.Zero(t, h.backend.Calls("update-invoice-line"))

	_, err = h.run(t, "", "correct-line", "701", "--account", "61313", "--tva-rate", "20")
	require.NoError(t, err)
	out, err = h.run(t, "", "show", "7")
	require.NoError(t, err)
	require.Contains(t, out, "compte 61313")

	out, err = h.run(t, "", "mappings", "list")
	require.NoError(t, err)
	require.Contains(t, out, "Aucun mapping")

	_, err = h.run(t, "", "validate", "7")
	require.NoError(t, err)
	out, err = h.run(t, "", "mappings", "list")
	require.NoError(t, err)
	require.Contains(t, out, "61313 Locations de bâtiments")

	out, err = h.run(t, "", "stats")
	require.NoError(t, err)
	require.Contains(t, out, "factures validées:  1")

	_, err = h.run(t, "", "mappings", "delete", "1")
	require.NoError(t, err)
	_, err = h.run(t, "", "mappings", "delete", "1")
	require.Error(t, err)
}
