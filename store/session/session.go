// Package session is a store whose records live as long as the store: they
// are kept in process and dropped on Close.
package session

import (
	"sync"

	"github.com/micro/go-kv/store"
	"github.com/micro/go-kv/store/webstorage"
)

// NewStore returns a session store
func NewStore(opts ...store.Option) store.Store {
	return webstorage.NewStore("session", &area{items: make(map[string]string)}, opts...)
}

type area struct {
	sync.RWMutex
	items map[string]string
}

func (a *area) GetItem(key string) (string, bool, error) {
	a.RLock()
	defer a.RUnlock()
	v, ok := a.items[key]
	return v, ok, nil
}

func (a *area) SetItem(key, value string) error {
	a.Lock()
	a.items[key] = value
	a.Unlock()
	return nil
}

func (a *area) RemoveItem(key string) error {
	a.Lock()
	delete(a.items, key)
	a.Unlock()
	return nil
}

func (a *area) Keys() ([]string, error) {
	a.RLock()
	defer a.RUnlock()
	keys := make([]string, 0, len(a.items))
	for k := range a.items {
		keys = append(keys, k)
	}
	return keys, nil
}

// Close ends the session.
func (a *area) Close() error {
	a.Lock()
	a.items = make(map[string]string)
	a.Unlock()
	return nil
}
