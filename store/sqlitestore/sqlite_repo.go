// Package sqlitestore persists session credentials in a local SQLite file so
// that a login survives across CLI invocations until logout.
package sqlitestore

import (
	"database/sql"
	"os"
	"path/filepath"

	"github.com/jrsteele09/go-compta-client/store"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

var _ store.Repo = (*Repo)(nil)

func migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS credentials (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	}
}

type Repo struct {
	db *sql.DB
}

// Open creates (if needed) and opens the credential database at path.
func Open(path string) (*Repo, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, errors.Wrap(err, "[sqlitestore.Open] create directory")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "[sqlitestore.Open] sql.Open")
	}
	// A single connection keeps transactions serialised within the process.
	db.SetMaxOpenConns(1)

	for _, stmt := range migrations() {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, "[sqlitestore.Open] migrate")
		}
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() error {
	return r.db.Close()
}

func (r *Repo) Get(key store.Key) (string, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM credentials WHERE key = ?`, string(key)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrKeyNotFound
	}
	if err != nil {
		return "", errors.Wrapf(err, "[sqlitestore.Get] %s", key)
	}
	return value, nil
}

func (r *Repo) Upsert(values map[store.Key]string) error {
	return r.inTx(func(tx *sql.Tx) error {
		return upsert(tx, values)
	})
}

func (r *Repo) Delete(keys ...store.Key) error {
	return r.inTx(func(tx *sql.Tx) error {
		return remove(tx, keys)
	})
}

func (r *Repo) Replace(values map[store.Key]string, keys ...store.Key) error {
	return r.inTx(func(tx *sql.Tx) error {
		if err := remove(tx, keys); err != nil {
			return err
		}
		return upsert(tx, values)
	})
}

func upsert(tx *sql.Tx, values map[store.Key]string) error {
	for k, v := range values {
		if _, err := tx.Exec(
			`INSERT INTO credentials (key, value, updated_at) VALUES (?, ?, datetime('now'))
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			string(k), v,
		); err != nil {
			return errors.Wrapf(err, "[sqlitestore.Upsert] %s", k)
		}
	}
	return nil
}

func remove(tx *sql.Tx, keys []store.Key) error {
	for _, k := range keys {
		if _, err := tx.Exec(`DELETE FROM credentials WHERE key = ?`, string(k)); err != nil {
			return errors.Wrapf(err, "[sqlitestore.Delete] %s", k)
		}
	}
	return nil
}

func (r *Repo) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := r.db.Begin()
	if err != nil {
		return errors.Wrap(err, "[sqlitestore] begin")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "[sqlitestore] commit")
}
