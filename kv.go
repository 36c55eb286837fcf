/*
Package kv is a key/value store with record expiry, document queries and
change synchronization across instances, on top of a pluggable backend.

	store, err := kv.New(kv.Backend(local.NewStore()))
	if err != nil {
		return err
	}
	defer store.Close()

	store.Set(ctx, "user:1", map[string]interface{}{"name": "ada"}, kv.TTL(time.Hour))
	users, err := store.Query(ctx, map[string]interface{}{"name": "ada"})
*/
package kv

import (
	"context"
	gosync "sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/micro/go-kv/events"
	"github.com/micro/go-kv/logger"
	"github.com/micro/go-kv/query"
	"github.com/micro/go-kv/store"
	"github.com/micro/go-kv/store/memory"
	"github.com/micro/go-kv/sync"
	"github.com/micro/go-kv/ttl"
	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned for missing and expired keys
	ErrNotFound = store.ErrNotFound
	// ErrClosed is returned by every operation after Close
	ErrClosed = errors.New("kv closed")
)

// KV composes a backend with the expiration and synchronization managers.
type KV struct {
	opts    Options
	log     *logger.Helper
	backend store.Store
	ttl     *ttl.Manager
	sync    *sync.Manager
	remote  *events.Subscription

	gosync.RWMutex
	closed bool
}

// New builds the store, connects the sync transports and starts the
// cleanup timer. A transport that fails to connect is logged and left out.
func New(opts ...Option) (*KV, error) {
	options := newOptions(opts...)
	if options.Backend == nil {
		options.Backend = memory.NewStore()
	}

	log := options.Logger.Fields(map[string]interface{}{"backend": options.Backend.String()})
	k := &KV{
		opts:    options,
		log:     logger.NewHelper(log),
		backend: options.Backend,
		ttl:     ttl.NewManager(append([]ttl.Option{ttl.WithLogger(options.Logger)}, options.Expiry...)...),
		sync:    sync.NewManager(append([]sync.Option{sync.WithLogger(options.Logger)}, options.Sync...)...),
	}

	if err := k.sync.Init(options.Context); err != nil {
		if errors.Is(err, sync.ErrClosed) {
			return nil, err
		}
		k.log.WithError(err).Warn("sync transports unavailable")
	}
	if options.ApplyRemote {
		k.remote = k.sync.Subscribe(k.applyRemote)
	}
	k.ttl.Start(k.backend)
	return k, nil
}

// Options returns the options the store was built with.
func (k *KV) Options() Options {
	return k.opts
}

// Backend returns the underlying store.
func (k *KV) Backend() store.Store {
	return k.backend
}

// Expiry returns the expiration manager.
func (k *KV) Expiry() *ttl.Manager {
	return k.ttl
}

// Sync returns the synchronization manager.
func (k *KV) Sync() *sync.Manager {
	return k.sync
}

func (k *KV) now() time.Time {
	return k.ttl.Options().Clock()
}

func (k *KV) check() error {
	k.RLock()
	defer k.RUnlock()
	if k.closed {
		return ErrClosed
	}
	return nil
}

// live reads a record, removing it when expired.
func (k *KV) live(ctx context.Context, key string) (*store.Record, error) {
	r, err := k.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if k.ttl.IsExpired(r) {
		if err := k.backend.Remove(ctx, key); err != nil {
			k.log.WithError(err).Errorf("removing expired %s", key)
		}
		return nil, ErrNotFound
	}
	return r, nil
}

// GetRecord returns the live record under key. Reading a sliding record
// renews its deadline.
func (k *KV) GetRecord(ctx context.Context, key string) (*store.Record, error) {
	if err := k.check(); err != nil {
		return nil, err
	}
	r, err := k.live(ctx, key)
	if err != nil {
		return nil, err
	}
	if k.ttl.Touch(r) {
		if err := k.backend.Set(ctx, key, r); err != nil {
			return nil, errors.Wrapf(err, "renew %s", key)
		}
	}
	return r, nil
}

// Get returns the live value under key.
func (k *KV) Get(ctx context.Context, key string) (interface{}, error) {
	r, err := k.GetRecord(ctx, key)
	if err != nil {
		return nil, err
	}
	return r.Value, nil
}

// Has reports whether a live record is stored under key.
func (k *KV) Has(ctx context.Context, key string) (bool, error) {
	if err := k.check(); err != nil {
		return false, err
	}
	_, err := k.live(ctx, key)
	if err == ErrNotFound {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}

// Set writes value under key. The creation time of a live record being
// replaced is kept.
func (k *KV) Set(ctx context.Context, key string, value interface{}, opts ...SetOption) error {
	if err := k.check(); err != nil {
		return err
	}
	var o SetOptions
	for _, fn := range opts {
		fn(&o)
	}

	now := k.now()
	r := store.NewRecord(value, now)
	r.Tags = o.Tags
	r.Metadata = o.Metadata

	var old interface{}
	prev, err := k.live(ctx, key)
	switch {
	case err == nil:
		old = prev.Value
		r.Created = prev.Created
		r.Touch(now)
	case err != ErrNotFound:
		return err
	}

	k.ttl.Stamp(r, o.Expiry...)
	if err := k.backend.Set(ctx, key, r); err != nil {
		return err
	}

	k.announce(sync.Message{Kind: sync.KindSet, Key: key, Value: value, OldValue: old, Metadata: recordMeta(r)})
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (k *KV) Remove(ctx context.Context, key string) error {
	if err := k.check(); err != nil {
		return err
	}

	var old interface{}
	if r, err := k.backend.Get(ctx, key); err == nil {
		old = r.Value
	}
	if err := k.backend.Remove(ctx, key); err != nil {
		return err
	}
	k.ttl.CancelDispose(key)

	k.announce(sync.Message{Kind: sync.KindRemove, Key: key, OldValue: old})
	return nil
}

// Keys returns the sorted live keys passing the filter.
func (k *KV) Keys(ctx context.Context, opts ...store.KeysOption) ([]string, error) {
	if err := k.check(); err != nil {
		return nil, err
	}
	keys, err := k.backend.Keys(ctx, opts...)
	if err != nil {
		return nil, err
	}

	now := k.now()
	out := keys[:0]
	for _, key := range keys {
		r, err := k.backend.Get(ctx, key)
		if err == ErrNotFound {
			continue
		} else if err != nil {
			return nil, err
		}
		if !ttl.Expired(r, now) {
			out = append(out, key)
		}
	}
	return out, nil
}

// Clear removes the records selected by opts, every record without any.
func (k *KV) Clear(ctx context.Context, opts ...store.ClearOption) error {
	if err := k.check(); err != nil {
		return err
	}
	if err := k.backend.Clear(ctx, append([]store.ClearOption{store.ClearAt(k.now())}, opts...)...); err != nil {
		return err
	}
	k.announce(sync.Message{Kind: sync.KindClear, Metadata: clearMeta(store.NewClearOptions(opts...))})
	return nil
}

// announce broadcasts a local mutation and notifies local subscribers.
// Transport failures are reported through the sync error event.
func (k *KV) announce(msg sync.Message) {
	msg.Backend = k.backend.String()
	msg.Timestamp = k.now()

	if err := k.sync.Broadcast(msg); err != nil {
		k.log.WithError(err).Debugf("broadcast %s %s", msg.Kind, msg.Key)
	}
	k.sync.Notify(sync.Change{
		Kind:      msg.Kind,
		Key:       msg.Key,
		OldValue:  msg.OldValue,
		NewValue:  msg.Value,
		Metadata:  msg.Metadata,
		Source:    sync.Local,
		Backend:   msg.Backend,
		Timestamp: msg.Timestamp,
	})
}

// Query returns the live entries whose value matches condition, a decoded
// JSON-like condition tree. A nil condition matches everything.
func (k *KV) Query(ctx context.Context, condition interface{}, opts ...QueryOption) ([]store.Entry, error) {
	if err := k.check(); err != nil {
		return nil, err
	}
	var o QueryOptions
	for _, fn := range opts {
		fn(&o)
	}

	var cond query.Condition
	if condition != nil {
		c, err := query.Parse(condition)
		if err != nil {
			return nil, err
		}
		cond = c
	}

	entries, err := k.scan(ctx, cond)
	if err != nil {
		return nil, err
	}

	if len(o.Sort) > 0 {
		query.SortFunc(entries, value, o.Sort)
	}
	if o.Offset > 0 {
		if o.Offset >= len(entries) {
			entries = nil
		} else {
			entries = entries[o.Offset:]
		}
	}
	if o.Limit > 0 && o.Limit < len(entries) {
		entries = entries[:o.Limit]
	}

	out := make([]store.Entry, 0, len(entries))
	for _, e := range entries {
		v := e.Record.Value
		if len(o.Project) > 0 {
			v = query.Project(v, o.Project)
		}
		out = append(out, store.Entry{Key: e.Key, Value: v})
	}
	return out, nil
}

func value(e store.RecordEntry) interface{} {
	return e.Record.Value
}

// scan uses the backend's own query when it has one and walks every key
// through the query engine otherwise. Expired records are left out.
func (k *KV) scan(ctx context.Context, cond query.Condition) ([]store.RecordEntry, error) {
	now := k.now()
	var entries []store.RecordEntry

	if q, ok := k.backend.(store.Querier); ok {
		var match store.Matcher
		if cond != nil {
			match = func(v interface{}) bool { return query.Match(v, cond) }
		}
		found, err := q.Query(ctx, match)
		if err != nil {
			return nil, err
		}
		for _, e := range found {
			if !ttl.Expired(e.Record, now) {
				entries = append(entries, e)
			}
		}
		return entries, nil
	}

	keys, err := k.backend.Keys(ctx)
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := k.backend.Get(ctx, key)
		if err == ErrNotFound {
			continue
		} else if err != nil {
			return nil, errors.Wrapf(err, "query %s", key)
		}
		if !ttl.Expired(r, now) {
			entries = append(entries, store.RecordEntry{Key: key, Record: r})
		}
	}
	if cond == nil {
		return entries, nil
	}
	return query.Filter(entries, value, cond), nil
}

// TTL returns the time left before key expires. False means the record
// never expires.
func (k *KV) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	if err := k.check(); err != nil {
		return 0, false, err
	}
	r, err := k.live(ctx, key)
	if err != nil {
		return 0, false, err
	}
	d, ok := k.ttl.TimeToLive(r)
	return d, ok, nil
}

// update applies fn to the live record under key and writes it back when
// fn reports a change.
func (k *KV) update(ctx context.Context, key string, fn func(r *store.Record) bool) (bool, error) {
	if err := k.check(); err != nil {
		return false, err
	}
	r, err := k.live(ctx, key)
	if err != nil {
		return false, err
	}
	if !fn(r) {
		return false, nil
	}
	if err := k.backend.Set(ctx, key, r); err != nil {
		return false, err
	}
	return true, nil
}

// Touch renews the deadline of a sliding record, reporting whether it did.
func (k *KV) Touch(ctx context.Context, key string) (bool, error) {
	return k.update(ctx, key, k.ttl.Touch)
}

// Extend pushes the deadline of key d further.
func (k *KV) Extend(ctx context.Context, key string, d time.Duration) error {
	_, err := k.update(ctx, key, func(r *store.Record) bool {
		k.ttl.Extend(r, d)
		return true
	})
	return err
}

// Persist removes the deadline of key.
func (k *KV) Persist(ctx context.Context, key string) error {
	_, err := k.update(ctx, key, func(r *store.Record) bool {
		k.ttl.Persist(r)
		return true
	})
	return err
}

// ExpiringSoon returns the keys expiring within d, soonest first.
func (k *KV) ExpiringSoon(ctx context.Context, d time.Duration) ([]ttl.Expiring, error) {
	if err := k.check(); err != nil {
		return nil, err
	}
	return k.ttl.ExpiringSoon(ctx, k.backend, d)
}

// Sweep runs one cleanup batch now.
func (k *KV) Sweep(ctx context.Context) (*ttl.SweepResult, error) {
	if err := k.check(); err != nil {
		return nil, err
	}
	return k.ttl.Sweep(ctx, k.backend)
}

// OnDispose calls fn with the value of key when a sweep removes it.
func (k *KV) OnDispose(key string, fn ttl.Disposer) {
	k.ttl.OnDispose(key, fn)
}

// OnExpire registers fn for every sweep that removed keys.
func (k *KV) OnExpire(fn func(ttl.Event)) *events.Subscription {
	return k.ttl.Subscribe(ttl.EventExpired, fn)
}

// Subscribe registers fn for local and remote changes.
func (k *KV) Subscribe(fn func(sync.Change)) *events.Subscription {
	return k.sync.Subscribe(fn)
}

// Resolve picks the winner among candidates with the configured strategy.
func (k *KV) Resolve(candidates []interface{}) interface{} {
	return k.sync.Resolve(candidates)
}

// Close sends pending sync messages, stops the cleanup timer and closes the
// managers and the backend.
func (k *KV) Close() error {
	k.Lock()
	if k.closed {
		k.Unlock()
		return nil
	}
	k.closed = true
	k.Unlock()

	var merr *multierror.Error
	if err := k.sync.Flush(); err != nil {
		merr = multierror.Append(merr, errors.Wrap(err, "flush"))
	}
	if k.remote != nil {
		k.remote.Unsubscribe()
	}
	k.ttl.Close()
	if err := k.sync.Close(); err != nil {
		merr = multierror.Append(merr, err)
	}
	if err := k.backend.Close(); err != nil {
		merr = multierror.Append(merr, errors.Wrap(err, "close backend"))
	}
	return merr.ErrorOrNil()
}

func (k *KV) String() string {
	return "kv"
}
