// Package local is a store keeping one file per record in a directory, the
// persistent storage area of the process.
package local

import (
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/micro/go-kv/store"
	"github.com/micro/go-kv/store/webstorage"
	"github.com/pkg/errors"
)

// DefaultDir is used when the store has no Dir option.
var DefaultDir = filepath.Join(os.TempDir(), "go-kv", "local")

// suffix of item files, temporary files don't carry it
const suffix = ".item"

// NewStore returns a local store
func NewStore(opts ...store.Option) store.Store {
	var options store.Options
	for _, o := range opts {
		o(&options)
	}
	dir := options.Dir
	if dir == "" {
		dir = DefaultDir
	}
	return webstorage.NewStore("local", &area{dir: dir}, opts...)
}

// area keeps each item in its own file named after the escaped key.
type area struct {
	sync.Mutex
	dir string
}

func (a *area) path(key string) string {
	return filepath.Join(a.dir, url.PathEscape(key)+suffix)
}

func (a *area) GetItem(key string) (string, bool, error) {
	b, err := os.ReadFile(a.path(key))
	if os.IsNotExist(err) {
		return "", false, nil
	} else if err != nil {
		return "", false, err
	}
	return string(b), true, nil
}

func (a *area) SetItem(key, value string) error {
	a.Lock()
	defer a.Unlock()

	if err := os.MkdirAll(a.dir, 0o700); err != nil {
		return errors.Wrap(err, "local dir")
	}

	// write aside and rename so readers never see a partial item
	tmp, err := os.CreateTemp(a.dir, ".tmp-")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), a.path(key)); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

func (a *area) RemoveItem(key string) error {
	a.Lock()
	defer a.Unlock()

	err := os.Remove(a.path(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (a *area) Keys() ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		key, err := url.PathUnescape(strings.TrimSuffix(name, suffix))
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
