package store

import "github.com/pkg/errors"

// Key names a persisted client-side credential value.
type Key string

const (
	KeyAccessToken      Key = "access_token"  // identity token
	KeySessionToken     Key = "session_token" // tenant context token
	KeyAdminToken       Key = "admin_token"
	KeyAdminUser        Key = "admin_user"
	KeyCabinets         Key = "cabinets"
	KeyCurrentCabinetID Key = "current_cabinet_id"
	KeyCurrentSocieteID Key = "current_societe_id"
)

// AllKeys lists every key owned by the session. Logout clears all of them.
var AllKeys = []Key{
	KeyAccessToken,
	KeySessionToken,
	KeyAdminToken,
	KeyAdminUser,
	KeyCabinets,
	KeyCurrentCabinetID,
	KeyCurrentSocieteID,
}

var ErrKeyNotFound = errors.New("key not found")

// Repo is durable client-side storage for credentials. Upsert, Delete and
// Replace are atomic: either every key in the call is written (or removed) or
// none is.
type Repo interface {
	Get(key Key) (string, error)
	Upsert(values map[Key]string) error
	Delete(keys ...Key) error
	// Replace removes the listed keys and writes values in one step.
	Replace(values map[Key]string, remove ...Key) error
}

// Lookup returns the value of key, treating a missing key as empty.
func Lookup(r Repo, key Key) (string, bool, error) {
	v, err := r.Get(key)
	if errors.Is(err, ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, v != "", nil
}
