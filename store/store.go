// Package store is the adapter contract every key/value backend implements.
// Backends persist the full Record envelope and know nothing about expiry
// policy, querying or synchronization; those are composed on top of them.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a key doesn't exist.
	ErrNotFound = errors.New("not found")
	// ErrMissingKey is returned when an empty key is passed to Get/Set/Remove.
	ErrMissingKey = errors.New("missing key")
)

// Store is a data storage interface.
type Store interface {
	// Init initializes the store. It must perform any required setup on the backing storage implementation and check that it is ready for use, returning any errors.
	Init(...Option) error
	// Options allows you to view the current options.
	Options() Options
	// Get returns the record stored under key or ErrNotFound. Expired records are returned as stored.
	Get(ctx context.Context, key string) (*Record, error)
	// Set writes the record under key, replacing any previous record.
	Set(ctx context.Context, key string, r *Record) error
	// Remove deletes the key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
	// Keys returns the matching keys in ascending order.
	Keys(ctx context.Context, opts ...KeysOption) ([]string, error)
	// Clear removes every record matching the filter, or all of them when none is given.
	Clear(ctx context.Context, opts ...ClearOption) error
	// Close the store
	Close() error
	// String returns the name of the implementation.
	String() string
}

// Matcher decides whether a stored value is selected by a query.
type Matcher func(value interface{}) bool

// Querier is implemented by backends that can evaluate a query without the
// caller scanning every key.
type Querier interface {
	Query(ctx context.Context, match Matcher) ([]RecordEntry, error)
}

// Entry is a key and the live value stored under it.
type Entry struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

// RecordEntry is a key and its full record.
type RecordEntry struct {
	Key    string
	Record *Record
}
