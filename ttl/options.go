package ttl

import (
	"time"

	"github.com/micro/go-kv/logger"
)

type Options struct {
	// DefaultTTL applies to writes without an explicit policy. Zero means none.
	DefaultTTL time.Duration
	// CleanupInterval is the time between scheduled sweeps
	CleanupInterval time.Duration
	// AutoCleanup enables the sweep timer
	AutoCleanup bool
	// BatchSize is the most keys a sweep visits
	BatchSize int
	// OnExpire is called with the keys removed by a sweep
	OnExpire func(keys []string)
	// Logger to use
	Logger logger.Logger
	// Clock returns the current time
	Clock func() time.Time
}

type Option func(o *Options)

// NewOptions returns the options with defaults applied
func NewOptions(opts ...Option) Options {
	options := Options{
		CleanupInterval: time.Minute,
		AutoCleanup:     true,
		BatchSize:       100,
		Logger:          logger.DefaultLogger,
		Clock:           time.Now,
	}
	for _, o := range opts {
		o(&options)
	}
	if options.BatchSize <= 0 {
		options.BatchSize = 100
	}
	if options.Logger == nil {
		options.Logger = logger.DefaultLogger
	}
	if options.Clock == nil {
		options.Clock = time.Now
	}
	return options
}

// DefaultTTL sets the lifetime of writes that carry no policy
func DefaultTTL(d time.Duration) Option {
	return func(o *Options) {
		o.DefaultTTL = d
	}
}

// CleanupInterval sets the time between sweeps
func CleanupInterval(d time.Duration) Option {
	return func(o *Options) {
		o.CleanupInterval = d
	}
}

// AutoCleanup enables or disables the sweep timer
func AutoCleanup(b bool) Option {
	return func(o *Options) {
		o.AutoCleanup = b
	}
}

// BatchSize bounds the keys visited per sweep
func BatchSize(n int) Option {
	return func(o *Options) {
		o.BatchSize = n
	}
}

// OnExpire is called with the keys each sweep removed
func OnExpire(fn func(keys []string)) Option {
	return func(o *Options) {
		o.OnExpire = fn
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

// WriteOptions is the expiry policy of a single write.
type WriteOptions struct {
	// TTL is a lifetime from now
	TTL time.Duration
	// Sliding renews the deadline on every read
	Sliding bool
	// ExpireAt is an absolute deadline
	ExpireAt time.Time
	// ExpireAfter anchors TTL (or the default) to this instant instead of now
	ExpireAfter time.Time
}

type WriteOption func(o *WriteOptions)

// NewWriteOptions applies opts over the zero policy
func NewWriteOptions(opts ...WriteOption) WriteOptions {
	var o WriteOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithTTL expires the record d from now
func WithTTL(d time.Duration) WriteOption {
	return func(o *WriteOptions) {
		o.TTL = d
	}
}

// Sliding renews the deadline on every read
func Sliding() WriteOption {
	return func(o *WriteOptions) {
		o.Sliding = true
	}
}

// ExpireAt expires the record at t
func ExpireAt(t time.Time) WriteOption {
	return func(o *WriteOptions) {
		o.ExpireAt = t
	}
}

// ExpireAfter measures the lifetime from anchor instead of now
func ExpireAfter(anchor time.Time) WriteOption {
	return func(o *WriteOptions) {
		o.ExpireAfter = anchor
	}
}
