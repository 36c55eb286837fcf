// Package broker is an interface used for asynchronous messaging
package broker

import (
	"errors"
)

var (
	// ErrNotConnected is returned when publishing or subscribing before Connect.
	ErrNotConnected = errors.New("not connected")
	// ErrMissingTopic is returned when no topic is given.
	ErrMissingTopic = errors.New("missing topic")
)

// Broker is an interface used for asynchronous messaging.
type Broker interface {
	Init(...Option) error
	Options() Options
	Address() string
	Connect() error
	Disconnect() error
	Publish(topic string, m *Message, opts ...PublishOption) error
	Subscribe(topic string, h Handler, opts ...SubscribeOption) (Subscriber, error)
	String() string
}

// Handler is used to process messages via a subscription of a topic.
// The handler is passed a publication interface which contains the
// message and optional Ack method to acknowledge receipt of the message.
type Handler func(Event) error

// Message is the unit carried by a broker.
type Message struct {
	Header map[string]string `json:"header,omitempty"`
	Body   []byte            `json:"body"`
}

// Event is given to a subscription handler for processing.
type Event interface {
	Topic() string
	Message() *Message
	Ack() error
	Error() error
}

// Subscriber is a convenience return type for the Subscribe method.
type Subscriber interface {
	Options() SubscribeOptions
	Topic() string
	Unsubscribe() error
}

// publication is the Event passed to handlers by the brokers of this package.
type publication struct {
	topic string
	msg   *Message
	err   error
}

// NewEvent returns an Event carrying m, used by broker implementations.
func NewEvent(topic string, m *Message, err error) Event {
	return &publication{topic: topic, msg: m, err: err}
}

func (p *publication) Topic() string {
	return p.topic
}

func (p *publication) Message() *Message {
	return p.msg
}

func (p *publication) Ack() error {
	return nil
}

func (p *publication) Error() error {
	return p.err
}
