// Package ttl turns write time expiry policy into record deadlines, answers
// liveness, renews sliding records and evicts expired keys in bounded sweeps.
package ttl

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/micro/go-kv/events"
	"github.com/micro/go-kv/logger"
	"github.com/micro/go-kv/store"
)

const (
	// MetaTTL is the metadata key holding the lifetime in milliseconds that produced the deadline.
	MetaTTL = "ttl"
	// MetaSliding marks records renewed on read.
	MetaSliding = "sliding"
	// MetaPastDeadline marks records written with an absolute deadline that had already passed.
	MetaPastDeadline = "expireAtPast"
)

const (
	// EventExpired is emitted once per sweep that removed keys.
	EventExpired = "expired"
	// EventError is emitted for every key a sweep failed on and for failed scheduled sweeps.
	EventError = "error"
)

// Event is the payload of the expired and error events.
type Event struct {
	// Keys removed by the sweep
	Keys []string
	// Key the error relates to, if any
	Key string
	Err error
	// Time of the sweep
	Time time.Time
}

// Expiring is a live key whose deadline is near.
type Expiring struct {
	Key     string
	Expires time.Time
	TTL     time.Duration
}

// Disposer is called once when its key is evicted.
type Disposer func(key string, value interface{})

// Manager owns the expiry policy and the sweep timer of one store.
type Manager struct {
	opts Options
	log  *logger.Helper

	events *events.Emitter[Event]

	sync.RWMutex
	disposers map[string]Disposer
	// last key visited by the previous sweep
	cursor  string
	exit    chan bool
	done    chan bool
	running bool
}

// NewManager returns a manager. The sweep timer is started by Start.
func NewManager(opts ...Option) *Manager {
	options := NewOptions(opts...)
	log := options.Logger.Fields(map[string]interface{}{"component": "ttl"})
	return &Manager{
		opts:      options,
		log:       logger.NewHelper(log),
		events:    events.NewEmitter[Event](log),
		disposers: make(map[string]Disposer),
	}
}

// Options returns the manager options.
func (m *Manager) Options() Options {
	return m.opts
}

func (m *Manager) now() time.Time {
	return m.opts.Clock()
}

// policy resolves the deadline and the lifetime it was derived from. past
// reports an absolute deadline that had already passed, which leaves the
// record without one.
func (m *Manager) policy(o WriteOptions) (expires time.Time, ttl time.Duration, past bool) {
	now := m.now()

	switch {
	case !o.ExpireAt.IsZero():
		if !o.ExpireAt.After(now) {
			return time.Time{}, 0, true
		}
		return o.ExpireAt, o.ExpireAt.Sub(now), false
	case !o.ExpireAfter.IsZero():
		ttl = o.TTL
		if ttl <= 0 {
			ttl = m.opts.DefaultTTL
		}
		return o.ExpireAfter.Add(ttl), ttl, false
	case o.TTL > 0:
		return now.Add(o.TTL), o.TTL, false
	case m.opts.DefaultTTL > 0:
		return now.Add(m.opts.DefaultTTL), m.opts.DefaultTTL, false
	}
	return time.Time{}, 0, false
}

// Expiration returns the deadline for a write with opts. The zero time means
// the record never expires. An absolute deadline in the past also yields the
// zero time rather than an already expired record.
func (m *Manager) Expiration(opts ...WriteOption) time.Time {
	expires, _, _ := m.policy(NewWriteOptions(opts...))
	return expires
}

// Stamp sets the deadline of r and records the policy in its metadata so
// sliding reads can renew it.
func (m *Manager) Stamp(r *store.Record, opts ...WriteOption) {
	o := NewWriteOptions(opts...)
	expires, ttl, past := m.policy(o)

	r.Expires = expires
	delete(r.Metadata, MetaTTL)
	delete(r.Metadata, MetaSliding)
	delete(r.Metadata, MetaPastDeadline)

	if past {
		m.log.Warnf("deadline %s already passed, record written without expiry", o.ExpireAt.Format(time.RFC3339))
		setMeta(r, MetaPastDeadline, true)
	}
	if expires.IsZero() {
		return
	}
	if ttl > 0 {
		setMeta(r, MetaTTL, ttl.Milliseconds())
	}
	if o.Sliding {
		setMeta(r, MetaSliding, true)
	}
}

func setMeta(r *store.Record, k string, v interface{}) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]interface{})
	}
	r.Metadata[k] = v
}

// Expired reports whether r carries a deadline that now strictly exceeds.
func Expired(r *store.Record, now time.Time) bool {
	return r.Expired(now)
}

// IsExpired reports whether r is dead at the current time.
func (m *Manager) IsExpired(r *store.Record) bool {
	return Expired(r, m.now())
}

// IsSliding reports whether r renews on read.
func IsSliding(r *store.Record) bool {
	if r == nil {
		return false
	}
	b, _ := r.Metadata[MetaSliding].(bool)
	return b
}

// RecordedTTL returns the lifetime that produced the deadline of r.
func RecordedTTL(r *store.Record) (time.Duration, bool) {
	if r == nil {
		return 0, false
	}
	var ms float64
	switch v := r.Metadata[MetaTTL].(type) {
	case int64:
		ms = float64(v)
	case int:
		ms = float64(v)
	case float64:
		ms = v
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		ms = f
	default:
		return 0, false
	}
	if ms <= 0 {
		return 0, false
	}
	return time.Duration(ms * float64(time.Millisecond)), true
}

// Touch renews the deadline of a sliding record to now plus its recorded
// lifetime, or the default one. It returns false when r has no deadline or
// no sliding policy and was left untouched.
func (m *Manager) Touch(r *store.Record) bool {
	if r == nil || r.Expires.IsZero() || !IsSliding(r) {
		return false
	}
	ttl, ok := RecordedTTL(r)
	if !ok {
		ttl = m.opts.DefaultTTL
	}
	if ttl <= 0 {
		return false
	}
	now := m.now()
	r.Expires = now.Add(ttl)
	r.Touch(now)
	return true
}

// Extend pushes the deadline of r back by d, or sets one d from now.
func (m *Manager) Extend(r *store.Record, d time.Duration) {
	now := m.now()
	if r.Expires.IsZero() {
		r.Expires = now.Add(d)
	} else {
		r.Expires = r.Expires.Add(d)
	}
	r.Touch(now)
}

// Persist strips the deadline of r.
func (m *Manager) Persist(r *store.Record) {
	r.Expires = time.Time{}
	delete(r.Metadata, MetaTTL)
	delete(r.Metadata, MetaSliding)
	r.Touch(m.now())
}

// TimeToLive returns the time left before r expires, zero once it has. The
// boolean is false when r never expires.
func (m *Manager) TimeToLive(r *store.Record) (time.Duration, bool) {
	if r == nil || r.Expires.IsZero() {
		return 0, false
	}
	d := r.Expires.Sub(m.now())
	if d < 0 {
		d = 0
	}
	return d, true
}

// OnDispose registers fn to run when key is evicted. It replaces any earlier callback.
func (m *Manager) OnDispose(key string, fn Disposer) {
	m.Lock()
	defer m.Unlock()
	if fn == nil {
		delete(m.disposers, key)
		return
	}
	m.disposers[key] = fn
}

// CancelDispose drops the callback of key.
func (m *Manager) CancelDispose(key string) {
	m.Lock()
	delete(m.disposers, key)
	m.Unlock()
}

func (m *Manager) dispose(key string, value interface{}) {
	m.Lock()
	fn, ok := m.disposers[key]
	delete(m.disposers, key)
	m.Unlock()

	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Errorf("dispose %s panicked: %v", key, r)
		}
	}()
	fn(key, value)
}

// Subscribe registers h for the expired or error event.
func (m *Manager) Subscribe(topic string, h events.Handler[Event]) *events.Subscription {
	return m.events.On(topic, h)
}

func sortExpiring(items []Expiring) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].TTL < items[j].TTL
	})
}

func (m *Manager) String() string {
	return "ttl"
}
