// Package file is a bbolt backed store for large records. Each namespace is
// a bucket of one database file.
package file

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/micro/go-kv/codec"
	"github.com/micro/go-kv/store"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var (
	// DefaultDir is the default directory for bbolt files
	DefaultDir = filepath.Join(os.TempDir(), "go-kv")
	// DefaultBucket holds records when no namespace is given
	DefaultBucket = "kv"
	// FileName of the database in the directory
	FileName = "kv.db"
)

// NewStore returns a file store. The database is opened by Init, errors
// surface on first use.
func NewStore(opts ...store.Option) store.Store {
	s := &fileStore{}
	if err := s.Init(opts...); err != nil {
		s.err = err
	}
	return s
}

type fileStore struct {
	sync.RWMutex
	options store.Options
	dbPath  string
	bucket  []byte
	// the database handle
	db *bolt.DB
	// error from opening the database
	err error
}

func (m *fileStore) Init(opts ...store.Option) error {
	m.Lock()
	defer m.Unlock()

	for _, o := range opts {
		o(&m.options)
	}

	dir := m.options.Dir
	if dir == "" {
		dir = DefaultDir
	}
	bucket := m.options.Namespace
	if bucket == "" {
		// bbolt requires bucketname to not be empty
		bucket = DefaultBucket
	}
	m.bucket = []byte(bucket)

	if err := os.MkdirAll(dir, 0o700); err != nil {
		m.err = errors.Wrap(err, "file store dir")
		return m.err
	}
	dbPath := filepath.Join(dir, FileName)

	if m.db == nil || dbPath != m.dbPath {
		// close existing handle
		if m.db != nil {
			m.db.Close()
			m.db = nil
		}
		db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 5 * time.Second})
		if err != nil {
			m.err = errors.Wrapf(err, "open %s", dbPath)
			return m.err
		}
		m.db = db
		m.dbPath = dbPath
	}
	m.err = nil

	// create the table
	return m.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(m.bucket)
		return err
	})
}

func (m *fileStore) handle() (*bolt.DB, []byte, error) {
	m.RLock()
	defer m.RUnlock()
	if m.err != nil {
		return nil, nil, m.err
	}
	if m.db == nil {
		return nil, nil, errors.New("file store closed")
	}
	return m.db, m.bucket, nil
}

func (m *fileStore) Options() store.Options {
	m.RLock()
	defer m.RUnlock()
	return m.options
}

func (m *fileStore) Get(ctx context.Context, key string) (*store.Record, error) {
	if len(key) == 0 {
		return nil, store.ErrMissingKey
	}
	db, bucket, err := m.handle()
	if err != nil {
		return nil, err
	}

	var value []byte
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		// the slice is only valid in the transaction
		if v := b.Get([]byte(key)); v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, store.ErrNotFound
	}
	return codec.DecodeRecord(value)
}

func (m *fileStore) Set(ctx context.Context, key string, r *store.Record) error {
	if len(key) == 0 {
		return store.ErrMissingKey
	}
	if r == nil {
		return errors.New("nil record")
	}
	db, bucket, err := m.handle()
	if err != nil {
		return err
	}

	data, err := codec.EncodeRecord(r)
	if err != nil {
		return errors.Wrapf(err, "set %s", key)
	}

	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

func (m *fileStore) Remove(ctx context.Context, key string) error {
	if len(key) == 0 {
		return store.ErrMissingKey
	}
	db, bucket, err := m.handle()
	if err != nil {
		return err
	}

	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

// Keys walks the bucket in key order, seeking to the prefix when one is given.
func (m *fileStore) Keys(ctx context.Context, opts ...store.KeysOption) ([]string, error) {
	o := store.NewKeysOptions(opts...)
	db, bucket, err := m.handle()
	if err != nil {
		return nil, err
	}

	var keys []string
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		prefix := []byte(o.Prefix)
		c := b.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			if o.MatchKey(string(k)) {
				keys = append(keys, string(k))
			}
		}
		return nil
	})
	return keys, err
}

// Clear removes the matching records in a single transaction.
func (m *fileStore) Clear(ctx context.Context, opts ...store.ClearOption) error {
	o := store.NewClearOptions(opts...)
	db, bucket, err := m.handle()
	if err != nil {
		return err
	}

	return db.Update(func(tx *bolt.Tx) error {
		if o.All() {
			if tx.Bucket(bucket) == nil {
				return nil
			}
			if err := tx.DeleteBucket(bucket); err != nil {
				return err
			}
			_, err := tx.CreateBucket(bucket)
			return err
		}

		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}

		var remove [][]byte
		err := b.ForEach(func(k, v []byte) error {
			if !o.KeysOptions.MatchKey(string(k)) {
				return nil
			}
			if o.NeedsRecord() {
				r, err := codec.DecodeRecord(v)
				if err != nil {
					return errors.Wrapf(err, "clear %s", k)
				}
				if !store.ClearMatchRecord(string(k), r, o) {
					return nil
				}
			}
			remove = append(remove, append([]byte(nil), k...))
			return nil
		})
		if err != nil {
			return err
		}

		// deleting while iterating skips keys
		for _, k := range remove {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (m *fileStore) Close() error {
	m.Lock()
	defer m.Unlock()
	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	return err
}

func (m *fileStore) String() string {
	return "file"
}
