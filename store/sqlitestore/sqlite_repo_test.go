package sqlitestore_test

import (
	"path/filepath"
	"testing"

	"github.com/jrsteele09/go-compta-client/store"
	"github.com/jrsteele09/go-compta-client/store/sqlitestore"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestRepo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.db")
	repo, err := sqlitestore.Open(path)
	require.NoError(t, err)

	t.Run("missing key", func(t *testing.T) {
		_, err := repo.Get(store.KeySessionToken)
		require.True(t, errors.Is(err, store.ErrKeyNotFound))
	})

	t.Run("upsert and overwrite", func(t *testing.T) {
		require.NoError(t, repo.Upsert(map[store.Key]string{
			store.KeyAccessToken:  "identity-1",
			store.KeySessionToken: "context-1",
		}))
		require.NoError(t, repo.Upsert(map[store.Key]string{store.KeySessionToken: "context-2"}))

		v, err := repo.Get(store.KeySessionToken)
		require.NoError(t, err)
		require.Equal(t, "context-2", v)
	})

	t.Run("survives reopen", func(t *testing.T) {
		require.NoError(t, repo.Close())
		repo, err = sqlitestore.Open(path)
		require.NoError(t, err)

		v, err := repo.Get(store.KeyAccessToken)
		require.NoError(t, err)
		require.Equal(t, "identity-1", v)
	})

	t.Run("replace drops and writes together", func(t *testing.T) {
		require.NoError(t, repo.Upsert(map[store.Key]string{store.KeyCurrentSocieteID: "7"}))
		require.NoError(t, repo.Replace(map[store.Key]string{store.KeyAccessToken: "identity-2"},
			store.KeySessionToken, store.KeyCurrentSocieteID))

		v, err := repo.Get(store.KeyAccessToken)
		require.NoError(t, err)
		require.Equal(t, "identity-2", v)
		_, err = repo.Get(store.KeySessionToken)
		require.True(t, errors.Is(err, store.ErrKeyNotFound))
		_, err = repo.Get(store.KeyCurrentSocieteID)
		require.True(t, errors.Is(err, store.ErrKeyNotFound))
	})

	t.Run("delete all keys", func(t *testing.T) {
		require.NoError(t, repo.Delete(store.AllKeys...))
		for _, k := range store.AllKeys {
			_, err := repo.Get(k)
			require.True(t, errors.Is(err, store.ErrKeyNotFound), k)
		}
		// Deleting absent keys is not an error.
		require.NoError(t, repo.Delete(store.KeyAdminToken))
	})

	require.NoError(t, repo.Close())
}

func TestLookup(t *testing.T) {
	repo, err := sqlitestore.Open(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	defer repo.Close()

	v, ok, err := store.Lookup(repo, store.KeyAdminToken)
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, v)

	require.NoError(t, repo.Upsert(map[store.Key]string{store.KeyAdminToken: "adm"}))
	v, ok, err = store.Lookup(repo, store.KeyAdminToken)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "adm", v)
}
