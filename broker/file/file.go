// Package file provides a broker on a shared directory. Publishing replaces
// the file named after the topic and subscribers are told about the change
// through filesystem notifications, so only the latest message of a topic
// is guaranteed to be seen.
package file

import (
	"bytes"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/micro/go-kv/broker"
	"github.com/micro/go-kv/logger"
	"github.com/pkg/errors"
)

// DefaultDir is used when no address is given.
var DefaultDir = filepath.Join(os.TempDir(), "go-kv", "broker")

type fileBroker struct {
	opts broker.Options

	sync.RWMutex
	dir     string
	watcher *fsnotify.Watcher
	done    chan struct{}
	subs    map[string][]*subscriber
}

type subscriber struct {
	id      string
	topic   string
	opts    broker.SubscribeOptions
	handler broker.Handler
	broker  *fileBroker

	// last body delivered, notifications for one write can repeat
	last []byte
}

func (f *fileBroker) Init(opts ...broker.Option) error {
	for _, o := range opts {
		o(&f.opts)
	}
	f.dir = DefaultDir
	if len(f.opts.Addrs) > 0 && len(f.opts.Addrs[0]) > 0 {
		f.dir = f.opts.Addrs[0]
	}
	return nil
}

func (f *fileBroker) Options() broker.Options {
	return f.opts
}

func (f *fileBroker) Address() string {
	return f.dir
}

func (f *fileBroker) Connect() error {
	f.Lock()
	defer f.Unlock()

	if f.watcher != nil {
		return nil
	}

	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return errors.Wrap(err, "file broker dir")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "file broker watcher")
	}
	if err := w.Add(f.dir); err != nil {
		w.Close()
		return errors.Wrapf(err, "watch %s", f.dir)
	}

	f.watcher = w
	f.done = make(chan struct{})
	go f.watch(w, f.done)
	return nil
}

func (f *fileBroker) Disconnect() error {
	f.Lock()
	w, done := f.watcher, f.done
	f.watcher = nil
	f.subs = make(map[string][]*subscriber)
	f.Unlock()

	if w == nil {
		return nil
	}
	err := w.Close()
	<-done
	return err
}

func path(dir, topic string) string {
	return filepath.Join(dir, url.PathEscape(topic))
}

func (f *fileBroker) Publish(topic string, msg *broker.Message, opts ...broker.PublishOption) error {
	if len(topic) == 0 {
		return broker.ErrMissingTopic
	}

	f.RLock()
	connected := f.watcher != nil
	dir := f.dir
	f.RUnlock()
	if !connected {
		return broker.ErrNotConnected
	}

	b, err := f.opts.Codec.Marshal(msg)
	if err != nil {
		return err
	}

	// write aside and rename so readers never see a partial message
	tmp, err := os.CreateTemp(dir, ".tmp-")
	if err != nil {
		return errors.Wrap(err, "publish")
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "publish")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "publish")
	}
	if err := os.Rename(tmp.Name(), path(dir, topic)); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "publish")
	}
	return nil
}

func (f *fileBroker) Subscribe(topic string, handler broker.Handler, opts ...broker.SubscribeOption) (broker.Subscriber, error) {
	if len(topic) == 0 {
		return nil, broker.ErrMissingTopic
	}

	f.Lock()
	defer f.Unlock()
	if f.watcher == nil {
		return nil, broker.ErrNotConnected
	}

	sub := &subscriber{
		id:      uuid.New().String(),
		topic:   topic,
		opts:    broker.NewSubscribeOptions(opts...),
		handler: handler,
		broker:  f,
	}
	// content already there predates the subscription
	if b, err := os.ReadFile(path(f.dir, topic)); err == nil {
		sub.last = b
	}
	f.subs[topic] = append(f.subs[topic], sub)
	return sub, nil
}

func (f *fileBroker) watch(w *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			topic, err := url.PathUnescape(filepath.Base(ev.Name))
			if err != nil {
				continue
			}
			f.notify(topic, ev.Name)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			f.opts.Logger.Logf(logger.ErrorLevel, "[file] watch error: %v", err)
		}
	}
}

func (f *fileBroker) notify(topic, name string) {
	f.RLock()
	subs := f.subs[topic]
	f.RUnlock()
	if len(subs) == 0 {
		return
	}

	b, err := os.ReadFile(name)
	if err != nil || len(b) == 0 {
		return
	}

	for _, sub := range subs {
		f.Lock()
		seen := bytes.Equal(sub.last, b)
		sub.last = b
		f.Unlock()
		if seen {
			continue
		}

		var m broker.Message
		eh := f.opts.ErrorHandler
		if err := f.opts.Codec.Unmarshal(b, &m); err != nil {
			m.Body = b
			f.opts.Logger.Logf(logger.ErrorLevel, "[file] failed to unmarshal %s: %v", topic, err)
			if eh != nil {
				eh(broker.NewEvent(topic, &m, err))
			}
			continue
		}
		if err := sub.handler(broker.NewEvent(topic, &m, nil)); err != nil {
			f.opts.Logger.Logf(logger.ErrorLevel, "[file] handler for %s failed: %v", topic, err)
			if eh != nil {
				eh(broker.NewEvent(topic, &m, err))
			}
		}
	}
}

func (f *fileBroker) String() string {
	return "file"
}

func (s *subscriber) Options() broker.SubscribeOptions {
	return s.opts
}

func (s *subscriber) Topic() string {
	return s.topic
}

func (s *subscriber) Unsubscribe() error {
	f := s.broker
	f.Lock()
	defer f.Unlock()

	var next []*subscriber
	for _, sb := range f.subs[s.topic] {
		if sb.id != s.id {
			next = append(next, sb)
		}
	}
	f.subs[s.topic] = next
	return nil
}

// NewBroker returns a broker on the directory given as the first address.
func NewBroker(opts ...broker.Option) broker.Broker {
	f := &fileBroker{
		opts: broker.NewOptions(),
		subs: make(map[string][]*subscriber),
	}
	f.Init(opts...)
	return f
}
