// Package redis implements the store on a redis server
package redis

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/micro/go-kv/codec"
	"github.com/micro/go-kv/store"
	"github.com/pkg/errors"
)

// scanCount is the hint passed to SCAN per round trip
var scanCount int64 = 100

type rkv struct {
	sync.RWMutex
	options store.Options
	Client  *redis.Client
}

// NewStore returns a redis store. The first node is a redis:// url or a
// plain host:port.
func NewStore(opts ...store.Option) store.Store {
	r := &rkv{}
	r.Init(opts...)
	return r
}

func (r *rkv) Init(opts ...store.Option) error {
	r.Lock()
	defer r.Unlock()
	for _, o := range opts {
		o(&r.options)
	}
	return r.configure()
}

func (r *rkv) configure() error {
	nodes := r.options.Nodes

	if len(nodes) == 0 {
		nodes = []string{"redis://127.0.0.1:6379"}
	}

	redisOptions, err := redis.ParseURL(nodes[0])
	if err != nil {
		// backwards compatibility
		redisOptions = &redis.Options{
			Addr:     nodes[0],
			Password: "",
			DB:       0,
		}
	}

	if r.Client != nil {
		r.Client.Close()
	}
	r.Client = redis.NewClient(redisOptions)
	return nil
}

func (r *rkv) client() (*redis.Client, error) {
	r.RLock()
	defer r.RUnlock()
	if r.Client == nil {
		return nil, errors.New("redis store closed")
	}
	return r.Client, nil
}

func (r *rkv) key(k string) string {
	return store.Prefix(r.options.Namespace, k)
}

func (r *rkv) Options() store.Options {
	r.RLock()
	defer r.RUnlock()
	return r.options
}

func (r *rkv) Get(ctx context.Context, key string) (*store.Record, error) {
	if len(key) == 0 {
		return nil, store.ErrMissingKey
	}
	c, err := r.client()
	if err != nil {
		return nil, err
	}

	val, err := c.Get(ctx, r.key(key)).Bytes()
	if err == redis.Nil {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, errors.Wrapf(err, "get %s", key)
	}
	return codec.DecodeRecord(val)
}

// Set writes without a redis expiry; records outlive their deadline until swept.
func (r *rkv) Set(ctx context.Context, key string, rec *store.Record) error {
	if len(key) == 0 {
		return store.ErrMissingKey
	}
	if rec == nil {
		return errors.New("nil record")
	}
	c, err := r.client()
	if err != nil {
		return err
	}

	val, err := codec.EncodeRecord(rec)
	if err != nil {
		return errors.Wrapf(err, "set %s", key)
	}
	return c.Set(ctx, r.key(key), val, 0).Err()
}

func (r *rkv) Remove(ctx context.Context, key string) error {
	if len(key) == 0 {
		return store.ErrMissingKey
	}
	c, err := r.client()
	if err != nil {
		return err
	}
	return c.Del(ctx, r.key(key)).Err()
}

// globEscape quotes the characters SCAN MATCH treats as wildcards.
func globEscape(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (r *rkv) Keys(ctx context.Context, opts ...store.KeysOption) ([]string, error) {
	o := store.NewKeysOptions(opts...)
	c, err := r.client()
	if err != nil {
		return nil, err
	}

	match := globEscape(r.key(o.Prefix)) + "*"
	var keys []string
	iter := c.Scan(ctx, 0, match, scanCount).Iterator()
	for iter.Next(ctx) {
		k, ok := store.Unprefix(r.options.Namespace, iter.Val())
		if !ok {
			continue
		}
		if o.MatchKey(k) {
			keys = append(keys, k)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "keys")
	}

	// SCAN may return a key more than once
	sort.Strings(keys)
	out := keys[:0]
	for i, k := range keys {
		if i > 0 && keys[i-1] == k {
			continue
		}
		out = append(out, k)
	}
	return out, nil
}

func (r *rkv) Clear(ctx context.Context, opts ...store.ClearOption) error {
	return store.ClearEach(ctx, r, store.NewClearOptions(opts...))
}

func (r *rkv) Close() error {
	r.Lock()
	defer r.Unlock()
	if r.Client == nil {
		return nil
	}
	err := r.Client.Close()
	r.Client = nil
	return err
}

func (r *rkv) String() string {
	return "redis"
}
