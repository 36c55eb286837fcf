package sync

import (
	"context"
	gosync "sync"
	"testing"
	"time"

	"github.com/micro/go-kv/broker"
	bfile "github.com/micro/go-kv/broker/file"
	"github.com/micro/go-kv/broker/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	gosync.Mutex
	changes []Change
	errs    []error
}

func (r *recorder) change(c Change) {
	r.Lock()
	r.changes = append(r.changes, c)
	r.Unlock()
}

func (r *recorder) err(err error) {
	r.Lock()
	r.errs = append(r.errs, err)
	r.Unlock()
}

func (r *recorder) Changes() []Change {
	r.Lock()
	defer r.Unlock()
	return append([]Change(nil), r.changes...)
}

func (r *recorder) Errors() []error {
	r.Lock()
	defer r.Unlock()
	return append([]error(nil), r.errs...)
}

func newPair(t *testing.T, hub *memory.Hub, opts ...Option) (*Manager, *Manager, *recorder, *recorder) {
	t.Helper()

	a := NewManager(append([]Option{WithBroker(memory.NewBroker(memory.WithHub(hub)))}, opts...)...)
	b := NewManager(append([]Option{WithBroker(memory.NewBroker(memory.WithHub(hub)))}, opts...)...)
	require.NoError(t, a.Init(context.Background()))
	require.NoError(t, b.Init(context.Background()))

	ra, rb := &recorder{}, &recorder{}
	a.Subscribe(ra.change)
	b.Subscribe(rb.change)
	a.OnError(ra.err)
	b.OnError(rb.err)

	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b, ra, rb
}

func TestBroadcastImmediate(t *testing.T) {
	a, _, ra, rb := newPair(t, memory.NewHub(), Debounce(0))

	when := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, a.Broadcast(Message{
		Kind:    KindSet,
		Key:     "user",
		Value:   map[string]interface{}{"name": "ann", "seen": when},
		Backend: "memory",
	}))

	got := rb.Changes()
	require.Len(t, got, 1)
	assert.Equal(t, KindSet, got[0].Kind)
	assert.Equal(t, "user", got[0].Key)
	assert.Equal(t, Remote, got[0].Source)
	assert.Equal(t, "memory", got[0].Backend)
	value := got[0].NewValue.(map[string]interface{})
	assert.Equal(t, "ann", value["name"])
	assert.True(t, when.Equal(value["seen"].(time.Time)))

	// the hub echoes to the sender, its own origin is dropped
	assert.Empty(t, ra.Changes())
}

func TestBroadcastDebounce(t *testing.T) {
	a, _, _, rb := newPair(t, memory.NewHub(), Debounce(30*time.Millisecond))

	require.NoError(t, a.Broadcast(Message{Kind: KindSet, Key: "k", Value: "first", Backend: "memory"}))
	require.NoError(t, a.Broadcast(Message{Kind: KindSet, Key: "k", Value: "second", Backend: "memory"}))
	require.NoError(t, a.Broadcast(Message{Kind: KindRemove, Key: "other", Backend: "memory"}))

	require.Eventually(t, func() bool { return len(rb.Changes()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	got := rb.Changes()
	require.Len(t, got, 2)
	var set Change
	for _, c := range got {
		if c.Key == "k" {
			set = c
		}
	}
	assert.Equal(t, "second", set.NewValue)
}

func TestFlush(t *testing.T) {
	a, _, _, rb := newPair(t, memory.NewHub(), Debounce(time.Hour))

	require.NoError(t, a.Broadcast(Message{Kind: KindSet, Key: "a", Value: 1.0, Backend: "memory"}))
	require.NoError(t, a.Broadcast(Message{Kind: KindSet, Key: "b", Value: 2.0, Backend: "memory"}))
	assert.Empty(t, rb.Changes())

	require.NoError(t, a.Flush())
	got := rb.Changes()
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Key)
	assert.Equal(t, "b", got[1].Key)
}

func TestOriginFilter(t *testing.T) {
	hub := memory.NewHub()
	a, _, ra, _ := newPair(t, hub, Debounce(0))

	raw := memory.NewBroker(memory.WithHub(hub))
	require.NoError(t, raw.Connect())

	b, err := Message{Kind: KindSet, Key: "k", Value: "v", Origin: a.Origin(), ID: "x", Timestamp: time.Now()}.Encode()
	require.NoError(t, err)
	require.NoError(t, raw.Publish(DefaultChannel, &broker.Message{Body: b}))
	assert.Empty(t, ra.Changes())

	b, err = Message{Kind: KindSet, Key: "k", Value: "v", Origin: "someone-else", ID: "y", Timestamp: time.Now()}.Encode()
	require.NoError(t, err)
	require.NoError(t, raw.Publish(DefaultChannel, &broker.Message{Body: b}))
	assert.Len(t, ra.Changes(), 1)
}

func TestStoragesFilter(t *testing.T) {
	a, _, _, rb := newPair(t, memory.NewHub(), Debounce(0), Storages("local"))

	require.NoError(t, a.Broadcast(Message{Kind: KindSet, Key: "k", Value: "v", Backend: "session"}))
	assert.Empty(t, rb.Changes())

	require.NoError(t, a.Broadcast(Message{Kind: KindSet, Key: "k", Value: "v", Backend: "local"}))
	assert.Len(t, rb.Changes(), 1)
}

func TestMalformedMessage(t *testing.T) {
	hub := memory.NewHub()
	_, b, _, rb := newPair(t, hub, Debounce(0))

	raw := memory.NewBroker(memory.WithHub(hub))
	require.NoError(t, raw.Connect())
	require.NoError(t, raw.Publish(DefaultChannel, &broker.Message{Body: []byte("{not json")}))
	require.NoError(t, raw.Publish(DefaultChannel, &broker.Message{Body: []byte(`{"kind":"explode","originId":"x"}`)}))

	assert.Empty(t, rb.Changes())
	assert.Len(t, rb.Errors(), 2)
	assert.Equal(t, "initialized", b.State())
}

func TestDedupeAcrossMechanisms(t *testing.T) {
	channel, legacy := memory.NewHub(), memory.NewHub()

	fallback := memory.NewBroker(memory.WithHub(legacy))
	newManager := func(fb broker.Broker) *Manager {
		return NewManager(
			Debounce(0),
			WithBroker(memory.NewBroker(memory.WithHub(channel))),
			Fallback(fb),
		)
	}
	a, b := newManager(fallback), newManager(memory.NewBroker(memory.WithHub(legacy)))
	require.NoError(t, a.Init(context.Background()))
	require.NoError(t, b.Init(context.Background()))
	defer a.Close()
	defer b.Close()

	rb := &recorder{}
	b.Subscribe(rb.change)

	require.NoError(t, a.Broadcast(Message{Kind: KindRemove, Key: "k", Backend: "memory"}))
	assert.Len(t, rb.Changes(), 1)

	// closing detaches and disconnects both brokers of a only
	require.NoError(t, a.Close())
	assert.Equal(t, 1, channel.Subscribers(DefaultChannel))
	assert.Equal(t, 1, legacy.Subscribers(DefaultChannel))
	assert.ErrorIs(t, fallback.Publish(DefaultChannel, &broker.Message{}), broker.ErrNotConnected)
}

func TestCloseDisconnectsFallback(t *testing.T) {
	dir := t.TempDir()

	for i := 0; i < 3; i++ {
		fallback := bfile.NewBroker(broker.Addrs(dir))
		m := NewManager(Debounce(0), Fallback(fallback))
		require.NoError(t, m.Init(context.Background()))
		require.NoError(t, m.Broadcast(Message{Kind: KindRemove, Key: "k", Backend: "local"}))

		require.NoError(t, m.Close())
		assert.ErrorIs(t, fallback.Publish(DefaultChannel, &broker.Message{}), broker.ErrNotConnected)
	}
}

func TestClearFiltersNotCoalesced(t *testing.T) {
	a, _, _, rb := newPair(t, memory.NewHub(), Debounce(time.Hour))

	require.NoError(t, a.Broadcast(Message{Kind: KindClear, Backend: "memory", Metadata: map[string]interface{}{"prefix": "a/"}}))
	require.NoError(t, a.Broadcast(Message{Kind: KindClear, Backend: "memory", Metadata: map[string]interface{}{"prefix": "b/"}}))
	require.NoError(t, a.Broadcast(Message{Kind: KindClear, Backend: "memory", Metadata: map[string]interface{}{"prefix": "b/"}}))
	require.NoError(t, a.Flush())

	got := rb.Changes()
	require.Len(t, got, 2)
	assert.Equal(t, "a/", got[0].Metadata["prefix"])
	assert.Equal(t, "b/", got[1].Metadata["prefix"])
}

func TestFingerprintWithoutID(t *testing.T) {
	ts := time.UnixMilli(1700000000000)
	m1 := Message{Kind: KindSet, Key: "k", Origin: "o", Timestamp: ts}
	m2 := m1
	assert.Equal(t, fingerprint(m1), fingerprint(m2))
	m2.Key = "other"
	assert.NotEqual(t, fingerprint(m1), fingerprint(m2))
	m1.ID = "abc"
	assert.Equal(t, "abc", fingerprint(m1))
}

func TestLifecycle(t *testing.T) {
	m := NewManager()
	assert.Equal(t, "uninitialized", m.State())

	// no broker, local only
	require.NoError(t, m.Init(context.Background()))
	assert.Equal(t, "initialized", m.State())
	require.NoError(t, m.Broadcast(Message{Kind: KindClear}))

	var local []Change
	m.Subscribe(func(c Change) { local = append(local, c) })
	m.Notify(Change{Kind: KindSet, Key: "k", NewValue: 1})
	require.Len(t, local, 1)
	assert.Equal(t, Local, local[0].Source)
	assert.False(t, local[0].Timestamp.IsZero())

	require.NoError(t, m.Close())
	assert.Equal(t, "closed", m.State())
	assert.ErrorIs(t, m.Broadcast(Message{Kind: KindClear}), ErrClosed)
	assert.ErrorIs(t, m.Init(context.Background()), ErrClosed)

	// subscribers were released
	m.Notify(Change{Kind: KindSet, Key: "k"})
	assert.Len(t, local, 1)
	assert.NoError(t, m.Close())
}

func TestDisabled(t *testing.T) {
	hub := memory.NewHub()
	m := NewManager(Enabled(false), WithBroker(memory.NewBroker(memory.WithHub(hub))))
	require.NoError(t, m.Init(context.Background()))
	assert.Equal(t, 0, hub.Subscribers(DefaultChannel))
	require.NoError(t, m.Broadcast(Message{Kind: KindSet, Key: "k"}))
	require.NoError(t, m.Close())
}

func TestMessageRoundTrip(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	in := Message{
		ID:        "1",
		Kind:      KindSet,
		Key:       "k",
		Value:     []interface{}{1.0, "x"},
		OldValue:  "old",
		Metadata:  map[string]interface{}{"expires": 1700000060000.0, "tags": []interface{}{"a"}},
		Backend:   "local",
		Timestamp: ts,
		Origin:    "o",
	}
	b, err := in.Encode()
	require.NoError(t, err)

	out, err := DecodeMessage(b)
	require.NoError(t, err)
	assert.Equal(t, in.Kind, out.Kind)
	assert.Equal(t, in.Key, out.Key)
	assert.Equal(t, in.Value, out.Value)
	assert.Equal(t, in.OldValue, out.OldValue)
	assert.Equal(t, in.Metadata, out.Metadata)
	assert.Equal(t, in.Backend, out.Backend)
	assert.Equal(t, in.Origin, out.Origin)
	assert.True(t, ts.Equal(out.Timestamp))

	_, err = DecodeMessage([]byte(`{"kind":"set","originId":"o"}`))
	assert.Error(t, err)
	_, err = DecodeMessage([]byte(`{"kind":"clear"}`))
	assert.Error(t, err)
	_, err = DecodeMessage([]byte(`[1,2]`))
	assert.Error(t, err)
}
