package sync

import (
	"time"

	"github.com/google/uuid"
	"github.com/micro/go-kv/broker"
	"github.com/micro/go-kv/logger"
)

// DefaultChannel is the topic used when none is configured.
const DefaultChannel = "kv-sync"

type Options struct {
	// Enabled turns sync off entirely when false
	Enabled bool
	// Channel is the logical channel shared by the instances
	Channel string
	// Storages are the backend names mirrored. Empty mirrors all.
	Storages []string
	// Strategy resolves conflicting candidates
	Strategy Strategy
	// Debounce coalesces mutations of the same key. Zero sends at once.
	Debounce time.Duration
	// Broker is the native pub/sub channel
	Broker broker.Broker
	// Fallback is the legacy change notification mechanism
	Fallback broker.Broker
	// Origin identifies this instance
	Origin string
	// DedupeSize is how many message ids are remembered
	DedupeSize int
	// Logger to use
	Logger logger.Logger
	// Clock returns the current time
	Clock func() time.Time
}

type Option func(o *Options)

// NewOptions returns the options with defaults applied
func NewOptions(opts ...Option) Options {
	options := Options{
		Enabled:    true,
		Channel:    DefaultChannel,
		Strategy:   Latest,
		Debounce:   100 * time.Millisecond,
		Origin:     uuid.New().String(),
		DedupeSize: 1024,
		Logger:     logger.DefaultLogger,
		Clock:      time.Now,
	}
	for _, o := range opts {
		o(&options)
	}
	if options.Channel == "" {
		options.Channel = DefaultChannel
	}
	if options.Origin == "" {
		options.Origin = uuid.New().String()
	}
	if options.DedupeSize <= 0 {
		options.DedupeSize = 1024
	}
	if options.Logger == nil {
		options.Logger = logger.DefaultLogger
	}
	if options.Clock == nil {
		options.Clock = time.Now
	}
	return options
}

// Enabled turns sync on or off
func Enabled(b bool) Option {
	return func(o *Options) {
		o.Enabled = b
	}
}

// Channel sets the logical channel name
func Channel(name string) Option {
	return func(o *Options) {
		o.Channel = name
	}
}

// Storages limits the mirrored backends
func Storages(names ...string) Option {
	return func(o *Options) {
		o.Storages = names
	}
}

// Conflict sets the conflict resolution strategy
func Conflict(s Strategy) Option {
	return func(o *Options) {
		o.Strategy = s
	}
}

// Debounce sets the coalescing window
func Debounce(d time.Duration) Option {
	return func(o *Options) {
		o.Debounce = d
	}
}

// WithBroker sets the native channel
func WithBroker(b broker.Broker) Option {
	return func(o *Options) {
		o.Broker = b
	}
}

// Fallback sets the legacy change notification broker
func Fallback(b broker.Broker) Option {
	return func(o *Options) {
		o.Fallback = b
	}
}

// Origin sets the instance identifier
func Origin(id string) Option {
	return func(o *Options) {
		o.Origin = id
	}
}

// DedupeSize sets how many message ids are remembered
func DedupeSize(n int) Option {
	return func(o *Options) {
		o.DedupeSize = n
	}
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithClock replaces the time source
func WithClock(fn func() time.Time) Option {
	return func(o *Options) {
		o.Clock = fn
	}
}
