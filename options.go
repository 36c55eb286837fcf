package kv

import (
	"context"
	"time"

	"github.com/micro/go-kv/logger"
	"github.com/micro/go-kv/query"
	"github.com/micro/go-kv/store"
	"github.com/micro/go-kv/sync"
	"github.com/micro/go-kv/ttl"
)

type Options struct {
	// Backend persists the records
	Backend store.Store
	// Expiry configures the expiration manager
	Expiry []ttl.Option
	// Sync configures the synchronization manager
	Sync []sync.Option
	// ApplyRemote writes changes received from other instances to the backend
	ApplyRemote bool
	Logger      logger.Logger

	// Other options for implementations of the interface
	// can be stored in a context
	Context context.Context
}

type Option func(o *Options)

func newOptions(opts ...Option) Options {
	opt := Options{
		Logger:  logger.DefaultLogger,
		Context: context.Background(),
	}
	for _, o := range opts {
		o(&opt)
	}
	return opt
}

// Backend sets the store records are kept in
func Backend(s store.Store) Option {
	return func(o *Options) {
		o.Backend = s
	}
}

// Expiry passes options to the expiration manager
func Expiry(opts ...ttl.Option) Option {
	return func(o *Options) {
		o.Expiry = append(o.Expiry, opts...)
	}
}

// Sync passes options to the synchronization manager
func Sync(opts ...sync.Option) Option {
	return func(o *Options) {
		o.Sync = append(o.Sync, opts...)
	}
}

// ApplyRemote mirrors remote changes into the backend
func ApplyRemote(b bool) Option {
	return func(o *Options) {
		o.ApplyRemote = b
	}
}

func WithLogger(l logger.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// Context is used by Init to connect the sync transports
func Context(ctx context.Context) Option {
	return func(o *Options) {
		o.Context = ctx
	}
}

// SetOptions describe a single write.
type SetOptions struct {
	Expiry   []ttl.WriteOption
	Tags     []string
	Metadata map[string]interface{}
}

type SetOption func(o *SetOptions)

// TTL expires the record d from now
func TTL(d time.Duration) SetOption {
	return func(o *SetOptions) {
		o.Expiry = append(o.Expiry, ttl.WithTTL(d))
	}
}

// Sliding renews the deadline on every read
func Sliding() SetOption {
	return func(o *SetOptions) {
		o.Expiry = append(o.Expiry, ttl.Sliding())
	}
}

// ExpireAt expires the record at t
func ExpireAt(t time.Time) SetOption {
	return func(o *SetOptions) {
		o.Expiry = append(o.Expiry, ttl.ExpireAt(t))
	}
}

// ExpireAfter counts the ttl from anchor instead of now
func ExpireAfter(anchor time.Time) SetOption {
	return func(o *SetOptions) {
		o.Expiry = append(o.Expiry, ttl.ExpireAfter(anchor))
	}
}

// Tags labels the record
func Tags(tags ...string) SetOption {
	return func(o *SetOptions) {
		o.Tags = append(o.Tags, tags...)
	}
}

// Metadata attaches md to the record
func Metadata(md map[string]interface{}) SetOption {
	return func(o *SetOptions) {
		if o.Metadata == nil {
			o.Metadata = make(map[string]interface{}, len(md))
		}
		for k, v := range md {
			o.Metadata[k] = v
		}
	}
}

// QueryOptions shape the result of a query.
type QueryOptions struct {
	Sort    query.Order
	Project query.Projection
	Limit   int
	Offset  int
}

type QueryOption func(o *QueryOptions)

// Sort orders the results
func Sort(order query.Order) QueryOption {
	return func(o *QueryOptions) {
		o.Sort = order
	}
}

// Project reshapes every value
func Project(p query.Projection) QueryOption {
	return func(o *QueryOptions) {
		o.Project = p
	}
}

// Limit caps the number of results, 0 is unlimited
func Limit(n int) QueryOption {
	return func(o *QueryOptions) {
		o.Limit = n
	}
}

// Offset skips the first n results
func Offset(n int) QueryOption {
	return func(o *QueryOptions) {
		o.Offset = n
	}
}
