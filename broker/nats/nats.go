// Package nats provides a NATS broker
package nats

import (
	"strings"
	"sync"

	"github.com/micro/go-kv/broker"
	"github.com/micro/go-kv/logger"
	natsp "github.com/nats-io/nats.go"
)

type natsBroker struct {
	sync.Once
	sync.RWMutex

	// indicate if we're connected
	connected bool

	addrs []string
	conn  *natsp.Conn
	opts  broker.Options
	nopts natsp.Options

	// should we drain the connection
	drain bool
}

type subscriber struct {
	s    *natsp.Subscription
	opts broker.SubscribeOptions
}

func (s *subscriber) Options() broker.SubscribeOptions {
	return s.opts
}

func (s *subscriber) Topic() string {
	return s.s.Subject
}

func (s *subscriber) Unsubscribe() error {
	return s.s.Unsubscribe()
}

func (n *natsBroker) Address() string {
	if n.conn != nil && n.conn.IsConnected() {
		return n.conn.ConnectedUrl()
	}

	if len(n.addrs) > 0 {
		return n.addrs[0]
	}

	return ""
}

func setAddrs(addrs []string) []string {
	//nolint:prealloc
	var cAddrs []string
	for _, addr := range addrs {
		if len(addr) == 0 {
			continue
		}
		if !strings.HasPrefix(addr, "nats://") {
			addr = "nats://" + addr
		}
		cAddrs = append(cAddrs, addr)
	}
	if len(cAddrs) == 0 {
		cAddrs = []string{natsp.DefaultURL}
	}
	return cAddrs
}

func (n *natsBroker) Connect() error {
	n.Lock()
	defer n.Unlock()

	if n.connected {
		return nil
	}

	status := natsp.CLOSED
	if n.conn != nil {
		status = n.conn.Status()
	}

	switch status {
	case natsp.CONNECTED, natsp.RECONNECTING, natsp.CONNECTING:
		n.connected = true
		return nil
	default: // DISCONNECTED or CLOSED or DRAINING
		opts := n.nopts
		opts.Servers = n.addrs

		c, err := opts.Connect()
		if err != nil {
			return err
		}
		n.conn = c
		n.connected = true
		return nil
	}
}

func (n *natsBroker) Disconnect() error {
	n.Lock()
	defer n.Unlock()

	if n.conn != nil {
		// drain the connection if specified
		if n.drain {
			if err := n.conn.Drain(); err != nil {
				n.opts.Logger.Log(logger.ErrorLevel, "error draining connection:", err)
			}
		}

		// close the client connection
		n.conn.Close()
		n.conn = nil
	}

	// set not connected
	n.connected = false

	return nil
}

func (n *natsBroker) Init(opts ...broker.Option) error {
	n.setOption(opts...)
	return nil
}

func (n *natsBroker) Options() broker.Options {
	return n.opts
}

func (n *natsBroker) Publish(topic string, msg *broker.Message, opts ...broker.PublishOption) error {
	if len(topic) == 0 {
		return broker.ErrMissingTopic
	}

	n.RLock()
	defer n.RUnlock()

	if n.conn == nil {
		return broker.ErrNotConnected
	}

	b, err := n.opts.Codec.Marshal(msg)
	if err != nil {
		return err
	}

	return n.conn.Publish(topic, b)
}

func (n *natsBroker) Subscribe(topic string, handler broker.Handler, opts ...broker.SubscribeOption) (broker.Subscriber, error) {
	if len(topic) == 0 {
		return nil, broker.ErrMissingTopic
	}

	n.RLock()
	defer n.RUnlock()

	if n.conn == nil {
		return nil, broker.ErrNotConnected
	}

	opt := broker.NewSubscribeOptions(opts...)

	fn := func(msg *natsp.Msg) {
		var m broker.Message
		eh := n.opts.ErrorHandler
		if err := n.opts.Codec.Unmarshal(msg.Data, &m); err != nil {
			m.Body = msg.Data
			n.opts.Logger.Log(logger.ErrorLevel, err)
			if eh != nil {
				eh(broker.NewEvent(msg.Subject, &m, err))
			}
			return
		}
		if err := handler(broker.NewEvent(msg.Subject, &m, nil)); err != nil {
			n.opts.Logger.Log(logger.ErrorLevel, err)
			if eh != nil {
				eh(broker.NewEvent(msg.Subject, &m, err))
			}
		}
	}

	var sub *natsp.Subscription
	var err error
	if len(opt.Queue) > 0 {
		sub, err = n.conn.QueueSubscribe(topic, opt.Queue, fn)
	} else {
		sub, err = n.conn.Subscribe(topic, fn)
	}
	if err != nil {
		return nil, err
	}
	return &subscriber{s: sub, opts: opt}, nil
}

func (n *natsBroker) String() string {
	return "nats"
}

func (n *natsBroker) setOption(opts ...broker.Option) {
	for _, o := range opts {
		o(&n.opts)
	}

	n.Once.Do(func() {
		n.nopts = natsp.GetDefaultOptions()
	})

	if nopts, ok := n.opts.Context.Value(optionsKey{}).(natsp.Options); ok {
		n.nopts = nopts
	}

	// broker.Options have higher priority than nats.Options
	// only if Addrs were not set through a broker.Option
	// we read them from nats.Option
	if len(n.opts.Addrs) == 0 {
		n.opts.Addrs = n.nopts.Servers
	}
	n.addrs = setAddrs(n.opts.Addrs)

	if n.opts.Context.Value(drainConnectionKey{}) != nil {
		n.drain = true
	}
}

// NewBroker returns a broker publishing on NATS subjects.
func NewBroker(opts ...broker.Option) broker.Broker {
	n := &natsBroker{
		opts: broker.NewOptions(),
	}
	n.setOption(opts...)

	return n
}
