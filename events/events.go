// Package events is a typed publish/subscribe primitive. Components own an
// Emitter and callers register handlers for the named events it emits.
package events

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/micro/go-kv/logger"
)

// Handler receives the payload of an emitted event.
type Handler[T any] func(T)

// Subscription is a registered handler.
type Subscription struct {
	ID    string
	Topic string

	off func()
}

// Unsubscribe removes the handler. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.off == nil {
		return
	}
	s.off()
}

type subscriber[T any] struct {
	id      string
	handler Handler[T]
}

// Emitter dispatches events of type T to the handlers registered for a topic.
type Emitter[T any] struct {
	sync.RWMutex
	closed bool
	subs   map[string][]subscriber[T]
	log    logger.Logger
}

// NewEmitter returns an emitter. Handler panics are reported to the logger.
func NewEmitter[T any](log logger.Logger) *Emitter[T] {
	if log == nil {
		log = logger.DefaultLogger
	}
	return &Emitter[T]{
		subs: make(map[string][]subscriber[T]),
		log:  log,
	}
}

// On registers h for topic. Registering on a closed emitter returns a
// subscription that never fires.
func (e *Emitter[T]) On(topic string, h Handler[T]) *Subscription {
	sub := &Subscription{ID: uuid.New().String(), Topic: topic}

	e.Lock()
	defer e.Unlock()

	if e.closed || h == nil {
		return sub
	}
	e.subs[topic] = append(e.subs[topic], subscriber[T]{id: sub.ID, handler: h})
	sub.off = func() { e.off(topic, sub.ID) }
	return sub
}

// Off removes the subscription.
func (e *Emitter[T]) Off(sub *Subscription) {
	sub.Unsubscribe()
}

func (e *Emitter[T]) off(topic, id string) {
	e.Lock()
	defer e.Unlock()

	subs := e.subs[topic]
	for i, s := range subs {
		if s.id != id {
			continue
		}
		// copy so an in-flight Emit keeps its snapshot
		next := make([]subscriber[T], 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		if len(next) == 0 {
			delete(e.subs, topic)
		} else {
			e.subs[topic] = next
		}
		return
	}
}

// Emit calls every handler of topic in registration order and returns how
// many were called.
func (e *Emitter[T]) Emit(topic string, v T) int {
	e.RLock()
	subs := e.subs[topic]
	e.RUnlock()

	for _, s := range subs {
		e.call(topic, s.handler, v)
	}
	return len(subs)
}

func (e *Emitter[T]) call(topic string, h Handler[T], v T) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Logf(logger.ErrorLevel, "handler for %s panicked: %v", topic, fmt.Sprint(r))
		}
	}()
	h(v)
}

// Len returns the number of handlers registered for topic.
func (e *Emitter[T]) Len(topic string) int {
	e.RLock()
	defer e.RUnlock()
	return len(e.subs[topic])
}

// Close releases every handler. Later registrations are ignored.
func (e *Emitter[T]) Close() {
	e.Lock()
	defer e.Unlock()
	e.closed = true
	e.subs = make(map[string][]subscriber[T])
}
