// Package memory provides an in-process broker. Brokers sharing a Hub see
// each other's messages, the sender included.
package memory

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/micro/go-kv/broker"
	"github.com/micro/go-kv/logger"
)

// Hub routes messages between the memory brokers attached to it.
type Hub struct {
	sync.RWMutex
	subscribers map[string][]*subscriber
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[string][]*subscriber)}
}

// DefaultHub is shared by brokers created without a Hub option.
var DefaultHub = NewHub()

type hubKey struct{}

// WithHub attaches the broker to h instead of DefaultHub.
func WithHub(h *Hub) broker.Option {
	return broker.SetOption(hubKey{}, h)
}

type memoryBroker struct {
	opts broker.Options
	hub  *Hub

	sync.RWMutex
	connected bool
	addr      string
	subs      map[string]*subscriber
}

type subscriber struct {
	id      string
	topic   string
	handler broker.Handler
	opts    broker.SubscribeOptions
	broker  *memoryBroker
}

func (m *memoryBroker) Init(opts ...broker.Option) error {
	for _, o := range opts {
		o(&m.opts)
	}
	if h, ok := m.opts.Context.Value(hubKey{}).(*Hub); ok && h != nil {
		m.hub = h
	}
	return nil
}

func (m *memoryBroker) Options() broker.Options {
	return m.opts
}

func (m *memoryBroker) Address() string {
	return m.addr
}

func (m *memoryBroker) Connect() error {
	m.Lock()
	defer m.Unlock()

	if m.connected {
		return nil
	}
	m.addr = fmt.Sprintf("memory://%s", uuid.New().String())
	m.connected = true
	return nil
}

// Disconnect detaches every subscription of this broker from the hub.
func (m *memoryBroker) Disconnect() error {
	m.Lock()
	if !m.connected {
		m.Unlock()
		return nil
	}
	m.connected = false
	subs := m.subs
	m.subs = make(map[string]*subscriber)
	m.Unlock()

	for _, s := range subs {
		m.hub.remove(s)
	}
	return nil
}

func (m *memoryBroker) Publish(topic string, msg *broker.Message, opts ...broker.PublishOption) error {
	if len(topic) == 0 {
		return broker.ErrMissingTopic
	}

	m.RLock()
	connected := m.connected
	m.RUnlock()
	if !connected {
		return broker.ErrNotConnected
	}

	m.hub.RLock()
	subs := m.hub.subscribers[topic]
	m.hub.RUnlock()

	for _, sub := range subs {
		// every subscriber gets its own copy
		cp := &broker.Message{Header: make(map[string]string, len(msg.Header)), Body: append([]byte(nil), msg.Body...)}
		for k, v := range msg.Header {
			cp.Header[k] = v
		}

		p := broker.NewEvent(topic, cp, nil)
		if err := sub.handler(p); err != nil {
			sub.broker.opts.Logger.Logf(logger.ErrorLevel, "[memory] handler for %s failed: %v", topic, err)
			if eh := sub.broker.opts.ErrorHandler; eh != nil {
				eh(broker.NewEvent(topic, cp, err))
			}
		}
	}

	return nil
}

func (m *memoryBroker) Subscribe(topic string, handler broker.Handler, opts ...broker.SubscribeOption) (broker.Subscriber, error) {
	if len(topic) == 0 {
		return nil, broker.ErrMissingTopic
	}

	m.Lock()
	defer m.Unlock()
	if !m.connected {
		return nil, broker.ErrNotConnected
	}

	sub := &subscriber{
		id:      uuid.New().String(),
		topic:   topic,
		handler: handler,
		opts:    broker.NewSubscribeOptions(opts...),
		broker:  m,
	}
	m.subs[sub.id] = sub

	m.hub.Lock()
	m.hub.subscribers[topic] = append(m.hub.subscribers[topic], sub)
	m.hub.Unlock()

	return sub, nil
}

func (m *memoryBroker) String() string {
	return "memory"
}

func (h *Hub) remove(sub *subscriber) {
	h.Lock()
	defer h.Unlock()

	var next []*subscriber
	for _, s := range h.subscribers[sub.topic] {
		if s.id == sub.id {
			continue
		}
		next = append(next, s)
	}
	if len(next) == 0 {
		delete(h.subscribers, sub.topic)
		return
	}
	h.subscribers[sub.topic] = next
}

// Subscribers returns how many subscriptions the hub holds for topic.
func (h *Hub) Subscribers(topic string) int {
	h.RLock()
	defer h.RUnlock()
	return len(h.subscribers[topic])
}

func (s *subscriber) Options() broker.SubscribeOptions {
	return s.opts
}

func (s *subscriber) Topic() string {
	return s.topic
}

func (s *subscriber) Unsubscribe() error {
	s.broker.Lock()
	delete(s.broker.subs, s.id)
	s.broker.Unlock()

	s.broker.hub.remove(s)
	return nil
}

// NewBroker returns a memory broker.
func NewBroker(opts ...broker.Option) broker.Broker {
	m := &memoryBroker{
		opts: broker.NewOptions(),
		hub:  DefaultHub,
		subs: make(map[string]*subscriber),
	}
	m.Init(opts...)
	return m
}
