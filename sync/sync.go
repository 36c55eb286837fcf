// Package sync announces local mutations to other instances sharing a
// channel and turns their announcements into change notifications.
package sync

import (
	"context"
	"fmt"
	"sort"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	lru "github.com/hashicorp/golang-lru"
	"github.com/micro/go-kv/broker"
	"github.com/micro/go-kv/events"
	"github.com/micro/go-kv/logger"
	"github.com/mitchellh/hashstructure"
	"github.com/pkg/errors"
)

// ErrClosed is returned by a manager after Close.
var ErrClosed = errors.New("sync manager closed")

const (
	// EventChange carries a Change for every local or remote mutation.
	EventChange = "change"
)

type state int

const (
	uninitialized state = iota
	initialized
	closed
)

func (s state) String() string {
	switch s {
	case initialized:
		return "initialized"
	case closed:
		return "closed"
	}
	return "uninitialized"
}

// pending is a debounced outbound message.
type pending struct {
	msg   Message
	timer *time.Timer
	seq   uint64
}

// wire is a broker the manager publishes on and listens to.
type wire struct {
	broker broker.Broker
	sub    broker.Subscriber
}

// Manager owns the outbound debounce timers and inbound listeners of one instance.
type Manager struct {
	opts Options
	log  *logger.Helper

	changes *events.Emitter[Change]
	errors  *events.Emitter[error]
	seen    *lru.Cache

	gosync.Mutex
	state   state
	wires   []*wire
	pending map[string]*pending
	seq     uint64
}

// NewManager returns an uninitialized manager.
func NewManager(opts ...Option) *Manager {
	options := NewOptions(opts...)
	log := options.Logger.Fields(map[string]interface{}{"component": "sync"})

	// only fails for a non positive size
	seen, _ := lru.New(options.DedupeSize)

	return &Manager{
		opts:    options,
		log:     logger.NewHelper(log),
		changes: events.NewEmitter[Change](log),
		errors:  events.NewEmitter[error](log),
		seen:    seen,
		pending: make(map[string]*pending),
	}
}

// Options returns the manager options.
func (m *Manager) Options() Options {
	return m.opts
}

// Origin returns the identifier stamped on outbound messages.
func (m *Manager) Origin() string {
	return m.opts.Origin
}

// State returns uninitialized, initialized or closed.
func (m *Manager) State() string {
	m.Lock()
	defer m.Unlock()
	return m.state.String()
}

// Init connects and subscribes the configured brokers. Without any, or
// when disabled, the manager is initialized as a local no-op. A broker that
// fails is reported and skipped. Calling Init again does nothing.
func (m *Manager) Init(ctx context.Context) error {
	m.Lock()
	defer m.Unlock()

	switch m.state {
	case initialized:
		return nil
	case closed:
		return ErrClosed
	}
	m.state = initialized

	if !m.opts.Enabled {
		m.log.Debug("sync disabled")
		return nil
	}

	var merr *multierror.Error
	for _, w := range []*wire{{broker: m.opts.Broker}, {broker: m.opts.Fallback}} {
		if w.broker == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			merr = multierror.Append(merr, err)
			break
		}
		if err := w.broker.Connect(); err != nil {
			merr = multierror.Append(merr, m.report(errors.Wrapf(err, "connect %s", w.broker.String())))
			continue
		}
		sub, err := w.broker.Subscribe(m.opts.Channel, m.handle)
		if err != nil {
			merr = multierror.Append(merr, m.report(errors.Wrapf(err, "subscribe %s", w.broker.String())))
			continue
		}
		w.sub = sub
		m.wires = append(m.wires, w)
		m.log.Debugf("listening on %s via %s", m.opts.Channel, w.broker.String())
	}

	if len(m.wires) == 0 {
		m.log.Debug("no delivery mechanism, sync is local only")
	}
	return merr.ErrorOrNil()
}

// Broadcast announces a mutation. Messages for the same kind and key within
// the debounce window are coalesced and only the latest is sent.
func (m *Manager) Broadcast(msg Message) error {
	m.Lock()
	if m.state == closed {
		m.Unlock()
		return ErrClosed
	}
	if len(m.wires) == 0 {
		m.Unlock()
		return nil
	}

	msg.Origin = m.opts.Origin
	if msg.Timestamp.IsZero() {
		msg.Timestamp = m.opts.Clock()
	}
	msg.ID = uuid.New().String()

	if m.opts.Debounce <= 0 {
		wires := m.wires
		m.Unlock()
		return m.send(wires, msg)
	}

	k := msg.coalesceKey()
	if p, ok := m.pending[k]; ok {
		p.timer.Stop()
		m.log.Tracef("coalescing %s", k)
	}
	m.seq++
	p := &pending{msg: msg, seq: m.seq}
	p.timer = time.AfterFunc(m.opts.Debounce, func() { m.fire(k, p) })
	m.pending[k] = p
	m.Unlock()
	return nil
}

func (m *Manager) fire(k string, p *pending) {
	m.Lock()
	if m.pending[k] != p {
		// superseded or flushed
		m.Unlock()
		return
	}
	delete(m.pending, k)
	wires := m.wires
	m.Unlock()

	// transport errors were reported
	m.send(wires, p.msg)
}

// Flush sends every pending message now, in the order they were broadcast.
func (m *Manager) Flush() error {
	m.Lock()
	items := make([]*pending, 0, len(m.pending))
	for k, p := range m.pending {
		p.timer.Stop()
		items = append(items, p)
		delete(m.pending, k)
	}
	wires := m.wires
	m.Unlock()

	sort.Slice(items, func(i, j int) bool { return items[i].seq < items[j].seq })

	var merr *multierror.Error
	for _, p := range items {
		if err := m.send(wires, p.msg); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}

// send publishes msg on every wire. Failures are reported, not fatal to the others.
func (m *Manager) send(wires []*wire, msg Message) error {
	b, err := msg.Encode()
	if err != nil {
		return m.report(errors.Wrapf(err, "encode %s %s", msg.Kind, msg.Key))
	}

	bmsg := &broker.Message{
		Header: map[string]string{
			"id":     msg.ID,
			"kind":   string(msg.Kind),
			"origin": msg.Origin,
		},
		Body: b,
	}

	var merr *multierror.Error
	for _, w := range wires {
		if err := w.broker.Publish(m.opts.Channel, bmsg); err != nil {
			merr = multierror.Append(merr, m.report(errors.Wrapf(err, "publish via %s", w.broker.String())))
			continue
		}
		m.log.Tracef("sent %s %s via %s", msg.Kind, msg.Key, w.broker.String())
	}
	return merr.ErrorOrNil()
}

// handle processes an inbound broker message. Errors are reported and the
// message dropped, the subscription stays up.
func (m *Manager) handle(e broker.Event) error {
	if e.Message() == nil {
		m.report(errors.New("empty sync message"))
		return nil
	}

	msg, err := DecodeMessage(e.Message().Body)
	if err != nil {
		m.report(err)
		return nil
	}

	if msg.Origin == m.opts.Origin {
		return nil
	}
	if !m.mirrors(msg.Backend) {
		return nil
	}
	if seen, _ := m.seen.ContainsOrAdd(fingerprint(msg), true); seen {
		m.log.Tracef("dropping duplicate %s %s", msg.Kind, msg.Key)
		return nil
	}

	m.Lock()
	done := m.state == closed
	m.Unlock()
	if done {
		return nil
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = m.opts.Clock()
	}
	m.changes.Emit(EventChange, Change{
		Kind:      msg.Kind,
		Key:       msg.Key,
		OldValue:  msg.OldValue,
		NewValue:  msg.Value,
		Metadata:  msg.Metadata,
		Source:    Remote,
		Backend:   msg.Backend,
		Timestamp: ts,
	})
	return nil
}

func (m *Manager) mirrors(backend string) bool {
	if len(m.opts.Storages) == 0 {
		return true
	}
	for _, name := range m.opts.Storages {
		if name == backend {
			return true
		}
	}
	return false
}

// fingerprint identifies a message for deduplication. Messages without an
// id are identified by their announcement.
func fingerprint(msg Message) string {
	if msg.ID != "" {
		return msg.ID
	}
	h, err := hashstructure.Hash(struct {
		Kind      Kind
		Key       string
		Backend   string
		Timestamp int64
		Origin    string
	}{msg.Kind, msg.Key, msg.Backend, msg.Timestamp.UnixNano(), msg.Origin}, nil)
	if err != nil {
		return fmt.Sprintf("%s/%s/%s/%d", msg.Origin, msg.Kind, msg.Key, msg.Timestamp.UnixNano())
	}
	return fmt.Sprintf("%x", h)
}

// Notify emits a change to local subscribers without broadcasting it.
func (m *Manager) Notify(c Change) {
	if c.Timestamp.IsZero() {
		c.Timestamp = m.opts.Clock()
	}
	if c.Source == "" {
		c.Source = Local
	}
	m.changes.Emit(EventChange, c)
}

// Subscribe registers fn for every change.
func (m *Manager) Subscribe(fn func(Change)) *events.Subscription {
	return m.changes.On(EventChange, fn)
}

// OnError registers fn for transport and decoding failures.
func (m *Manager) OnError(fn func(error)) *events.Subscription {
	return m.errors.On("error", fn)
}

// Resolve picks the winner among candidates with the configured strategy.
func (m *Manager) Resolve(candidates []interface{}) interface{} {
	return Resolve(candidates, m.opts.Strategy)
}

func (m *Manager) report(err error) error {
	m.log.WithError(err).Error("sync failed")
	m.errors.Emit("error", err)
	return err
}

// Close cancels pending messages, detaches the listeners, disconnects every
// broker Init connected and releases every subscriber. The manager can't be reused.
func (m *Manager) Close() error {
	m.Lock()
	if m.state == closed {
		m.Unlock()
		return nil
	}
	m.state = closed
	for k, p := range m.pending {
		p.timer.Stop()
		delete(m.pending, k)
	}
	wires := m.wires
	m.wires = nil
	m.Unlock()

	var merr *multierror.Error
	for _, w := range wires {
		if err := w.sub.Unsubscribe(); err != nil {
			merr = multierror.Append(merr, errors.Wrapf(err, "unsubscribe %s", w.broker.String()))
		}
		if err := w.broker.Disconnect(); err != nil {
			merr = multierror.Append(merr, errors.Wrapf(err, "disconnect %s", w.broker.String()))
		}
	}

	m.changes.Close()
	m.errors.Close()
	return merr.ErrorOrNil()
}

func (m *Manager) String() string {
	return "sync"
}
