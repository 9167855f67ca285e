package storerepofakes

import (
	"sync"

	"github.com/jrsteele09/go-compta-client/store"
	"github.com/pkg/errors"
)

var _ store.Repo = (*FakeStoreRepo)(nil)

type FakeStoreRepo struct {
	values map[store.Key]string
	lock   sync.RWMutex

	// FailUpserts makes every Upsert and Replace fail; used to exercise rollback paths.
	FailUpserts bool
}

func NewFakeStoreRepo() *FakeStoreRepo {
	return &FakeStoreRepo{
		values: make(map[store.Key]string),
	}
}

func (r *FakeStoreRepo) Get(key store.Key) (string, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	v, ok := r.values[key]
	if !ok {
		return "", store.ErrKeyNotFound
	}
	return v, nil
}

func (r *FakeStoreRepo) Upsert(values map[store.Key]string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.FailUpserts {
		return errors.New("fake store: upsert failed")
	}
	for k, v := range values {
		r.values[k] = v
	}
	return nil
}

func (r *FakeStoreRepo) Delete(keys ...store.Key) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	for _, k := range keys {
		delete(r.values, k)
	}
	return nil
}

func (r *FakeStoreRepo) Replace(values map[store.Key]string, keys ...store.Key) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.FailUpserts {
		return errors.New("fake store: replace failed")
	}
	for _, k := range keys {
		delete(r.values, k)
	}
	for k, v := range values {
		r.values[k] = v
	}
	return nil
}

// Keys returns a snapshot of the stored keys.
func (r *FakeStoreRepo) Keys() []store.Key {
	r.lock.RLock()
	defer r.lock.RUnlock()
	keys := make([]store.Key, 0, len(r.values))
	for k := range r.values {
		keys = append(keys, k)
	}
	return keys
}
