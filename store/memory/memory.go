// Package memory is an in-memory store
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/micro/go-kv/store"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
)

// NewStore returns a memory store
func NewStore(opts ...store.Option) store.Store {
	s := &memoryStore{
		// expiry is decided by the record deadline, not the cache
		store: cache.New(cache.NoExpiration, 0),
	}
	s.Init(opts...)
	return s
}

type memoryStore struct {
	sync.RWMutex
	options store.Options

	store *cache.Cache
}

func (m *memoryStore) key(k string) string {
	return store.Prefix(m.options.Namespace, k)
}

func (m *memoryStore) Init(opts ...store.Option) error {
	m.Lock()
	defer m.Unlock()
	for _, o := range opts {
		o(&m.options)
	}
	return nil
}

func (m *memoryStore) Options() store.Options {
	m.RLock()
	defer m.RUnlock()
	return m.options
}

func (m *memoryStore) Get(ctx context.Context, key string) (*store.Record, error) {
	if len(key) == 0 {
		return nil, store.ErrMissingKey
	}

	v, found := m.store.Get(m.key(key))
	if !found {
		return nil, store.ErrNotFound
	}
	r, ok := v.(*store.Record)
	if !ok {
		return nil, errors.Errorf("retrieved a %T from the cache", v)
	}

	// copy the record on the way out
	return r.Copy(), nil
}

func (m *memoryStore) Set(ctx context.Context, key string, r *store.Record) error {
	if len(key) == 0 {
		return store.ErrMissingKey
	}
	if r == nil {
		return errors.New("nil record")
	}
	m.store.Set(m.key(key), r.Copy(), cache.NoExpiration)
	return nil
}

func (m *memoryStore) Remove(ctx context.Context, key string) error {
	if len(key) == 0 {
		return store.ErrMissingKey
	}
	m.store.Delete(m.key(key))
	return nil
}

// items returns the records of this namespace by unprefixed key.
func (m *memoryStore) items() map[string]*store.Record {
	out := make(map[string]*store.Record)
	for k, item := range m.store.Items() {
		key, ok := store.Unprefix(m.options.Namespace, k)
		if !ok {
			continue
		}
		if r, ok := item.Object.(*store.Record); ok {
			out[key] = r
		}
	}
	return out
}

func (m *memoryStore) Keys(ctx context.Context, opts ...store.KeysOption) ([]string, error) {
	o := store.NewKeysOptions(opts...)
	items := m.items()
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	return store.FilterKeys(keys, o), nil
}

func (m *memoryStore) Clear(ctx context.Context, opts ...store.ClearOption) error {
	o := store.NewClearOptions(opts...)
	for k, r := range m.items() {
		if store.ClearMatchRecord(k, r, o) {
			m.store.Delete(m.key(k))
		}
	}
	return nil
}

// Query evaluates match over every record of the namespace, in key order.
func (m *memoryStore) Query(ctx context.Context, match store.Matcher) ([]store.RecordEntry, error) {
	items := m.items()
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []store.RecordEntry
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r := items[k]
		if match != nil && !match(r.Value) {
			continue
		}
		out = append(out, store.RecordEntry{Key: k, Record: r.Copy()})
	}
	return out, nil
}

func (m *memoryStore) Close() error {
	return nil
}

func (m *memoryStore) String() string {
	return "memory"
}
