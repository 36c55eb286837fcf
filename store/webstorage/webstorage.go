// Package webstorage adapts a string item area, the shape of the browser
// storage areas, into a store. The local and session backends compose it
// with their own areas.
package webstorage

import (
	"context"
	"io"
	"sync"

	"github.com/micro/go-kv/codec"
	"github.com/micro/go-kv/store"
	"github.com/pkg/errors"
)

// Area is a flat string keyed item store.
type Area interface {
	// GetItem returns the item and whether it exists
	GetItem(key string) (string, bool, error)
	SetItem(key, value string) error
	RemoveItem(key string) error
	// Keys returns every item key in the area
	Keys() ([]string, error)
}

type webStore struct {
	sync.RWMutex
	options store.Options

	name string
	area Area
}

// NewStore returns a store named name keeping its records in area.
func NewStore(name string, area Area, opts ...store.Option) store.Store {
	s := &webStore{name: name, area: area}
	s.Init(opts...)
	return s
}

func (w *webStore) key(k string) string {
	w.RLock()
	defer w.RUnlock()
	return store.Prefix(w.options.Namespace, k)
}

func (w *webStore) Init(opts ...store.Option) error {
	w.Lock()
	defer w.Unlock()
	for _, o := range opts {
		o(&w.options)
	}
	return nil
}

func (w *webStore) Options() store.Options {
	w.RLock()
	defer w.RUnlock()
	return w.options
}

func (w *webStore) Get(ctx context.Context, key string) (*store.Record, error) {
	if len(key) == 0 {
		return nil, store.ErrMissingKey
	}

	item, ok, err := w.area.GetItem(w.key(key))
	if err != nil {
		return nil, errors.Wrapf(err, "get %s", key)
	}
	if !ok {
		return nil, store.ErrNotFound
	}

	r, err := codec.DecodeRecord([]byte(item))
	if err != nil {
		return nil, errors.Wrapf(err, "get %s", key)
	}
	return r, nil
}

func (w *webStore) Set(ctx context.Context, key string, r *store.Record) error {
	if len(key) == 0 {
		return store.ErrMissingKey
	}
	if r == nil {
		return errors.New("nil record")
	}

	b, err := codec.EncodeRecord(r)
	if err != nil {
		return errors.Wrapf(err, "set %s", key)
	}
	return w.area.SetItem(w.key(key), string(b))
}

func (w *webStore) Remove(ctx context.Context, key string) error {
	if len(key) == 0 {
		return store.ErrMissingKey
	}
	return w.area.RemoveItem(w.key(key))
}

func (w *webStore) Keys(ctx context.Context, opts ...store.KeysOption) ([]string, error) {
	raw, err := w.area.Keys()
	if err != nil {
		return nil, err
	}

	ns := w.Options().Namespace
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		if key, ok := store.Unprefix(ns, k); ok {
			keys = append(keys, key)
		}
	}
	return store.FilterKeys(keys, store.NewKeysOptions(opts...)), nil
}

func (w *webStore) Clear(ctx context.Context, opts ...store.ClearOption) error {
	return store.ClearEach(ctx, w, store.NewClearOptions(opts...))
}

// Close closes the area when it holds resources.
func (w *webStore) Close() error {
	if c, ok := w.area.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (w *webStore) String() string {
	return w.name
}
