// Package redis provides a broker on redis pub/sub channels
package redis

import (
	"context"
	"sync"

	rclient "github.com/go-redis/redis/v8"
	"github.com/micro/go-kv/broker"
	"github.com/micro/go-kv/logger"
	"github.com/pkg/errors"
)

type redisOptionsContextKey struct{}

// WithRedisOptions sets advanced options for redis.
func WithRedisOptions(options rclient.UniversalOptions) broker.Option {
	return broker.SetOption(redisOptionsContextKey{}, options)
}

type redisBroker struct {
	opts broker.Options

	sync.RWMutex
	client rclient.UniversalClient
}

type subscriber struct {
	topic  string
	opts   broker.SubscribeOptions
	pubsub *rclient.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

func newUniversalClient(options broker.Options) rclient.UniversalClient {
	if options.Context == nil {
		options.Context = context.Background()
	}

	opts, ok := options.Context.Value(redisOptionsContextKey{}).(rclient.UniversalOptions)
	if !ok {
		addr := "redis://127.0.0.1:6379"
		if len(options.Addrs) > 0 {
			addr = options.Addrs[0]
		}

		redisOptions, err := rclient.ParseURL(addr)
		if err != nil {
			redisOptions = &rclient.Options{Addr: addr}
		}

		return rclient.NewClient(redisOptions)
	}

	if len(opts.Addrs) == 0 && len(options.Addrs) > 0 {
		opts.Addrs = options.Addrs
	}

	return rclient.NewUniversalClient(&opts)
}

func (r *redisBroker) Init(opts ...broker.Option) error {
	for _, o := range opts {
		o(&r.opts)
	}
	return nil
}

func (r *redisBroker) Options() broker.Options {
	return r.opts
}

func (r *redisBroker) Address() string {
	if len(r.opts.Addrs) > 0 {
		return r.opts.Addrs[0]
	}
	return "127.0.0.1:6379"
}

func (r *redisBroker) Connect() error {
	r.Lock()
	defer r.Unlock()

	if r.client != nil {
		return nil
	}

	c := newUniversalClient(r.opts)
	if err := c.Ping(r.opts.Context).Err(); err != nil {
		c.Close()
		return errors.Wrap(err, "redis connect")
	}
	r.client = c
	return nil
}

func (r *redisBroker) Disconnect() error {
	r.Lock()
	defer r.Unlock()

	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}

func (r *redisBroker) Publish(topic string, msg *broker.Message, opts ...broker.PublishOption) error {
	if len(topic) == 0 {
		return broker.ErrMissingTopic
	}

	r.RLock()
	c := r.client
	r.RUnlock()
	if c == nil {
		return broker.ErrNotConnected
	}

	var options broker.PublishOptions
	for _, o := range opts {
		o(&options)
	}
	ctx := options.Context
	if ctx == nil {
		ctx = context.Background()
	}

	b, err := r.opts.Codec.Marshal(msg)
	if err != nil {
		return err
	}
	return c.Publish(ctx, topic, b).Err()
}

func (r *redisBroker) Subscribe(topic string, handler broker.Handler, opts ...broker.SubscribeOption) (broker.Subscriber, error) {
	if len(topic) == 0 {
		return nil, broker.ErrMissingTopic
	}

	r.RLock()
	c := r.client
	r.RUnlock()
	if c == nil {
		return nil, broker.ErrNotConnected
	}

	opt := broker.NewSubscribeOptions(opts...)
	ctx, cancel := context.WithCancel(opt.Context)

	ps := c.Subscribe(ctx, topic)
	// wait for the subscription to be confirmed
	if _, err := ps.Receive(ctx); err != nil {
		cancel()
		ps.Close()
		return nil, errors.Wrapf(err, "subscribe %s", topic)
	}

	sub := &subscriber{
		topic:  topic,
		opts:   opt,
		pubsub: ps,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go r.receive(sub, handler)

	return sub, nil
}

func (r *redisBroker) receive(sub *subscriber, handler broker.Handler) {
	defer close(sub.done)

	for msg := range sub.pubsub.Channel() {
		var m broker.Message
		eh := r.opts.ErrorHandler
		if err := r.opts.Codec.Unmarshal([]byte(msg.Payload), &m); err != nil {
			m.Body = []byte(msg.Payload)
			r.opts.Logger.Logf(logger.ErrorLevel, "[redis] failed to unmarshal message on %s: %v", msg.Channel, err)
			if eh != nil {
				eh(broker.NewEvent(msg.Channel, &m, err))
			}
			continue
		}
		if err := handler(broker.NewEvent(msg.Channel, &m, nil)); err != nil {
			r.opts.Logger.Logf(logger.ErrorLevel, "[redis] handler for %s failed: %v", msg.Channel, err)
			if eh != nil {
				eh(broker.NewEvent(msg.Channel, &m, err))
			}
		}
	}
}

func (r *redisBroker) String() string {
	return "redis"
}

func (s *subscriber) Options() broker.SubscribeOptions {
	return s.opts
}

func (s *subscriber) Topic() string {
	return s.topic
}

// Unsubscribe closes the subscription and waits for its receive loop to end.
func (s *subscriber) Unsubscribe() error {
	s.cancel()
	err := s.pubsub.Close()
	<-s.done
	return err
}

// NewBroker returns a broker publishing on redis channels.
func NewBroker(opts ...broker.Option) broker.Broker {
	r := &redisBroker{
		opts: broker.NewOptions(),
	}
	r.Init(opts...)
	return r
}
