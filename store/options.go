package store

import (
	"context"
	"regexp"
	"time"
)

type Options struct {
	// nodes to connect to
	Nodes []string
	// Namespace isolates stores sharing the same backing storage
	Namespace string
	// Dir is where file based backends keep their data
	Dir string
	// Alternative options
	Context context.Context
}

type Option func(o *Options)

// Nodes is a list of nodes used to back the store
func Nodes(a ...string) Option {
	return func(o *Options) {
		o.Nodes = a
	}
}

// Namespace offers a way to have multiple isolated
// stores in the same backend, if supported.
func Namespace(ns string) Option {
	return func(o *Options) {
		o.Namespace = ns
	}
}

// Dir sets the data directory of file based stores
func Dir(d string) Option {
	return func(o *Options) {
		o.Dir = d
	}
}

// WithContext sets the stores context, for any extra configuration
func WithContext(c context.Context) Option {
	return func(o *Options) {
		o.Context = c
	}
}

// KeysOptions filter the keys returned by Keys.
type KeysOptions struct {
	// Prefix the key must start with
	Prefix string
	// Pattern the key must contain
	Pattern string
	// Match is a compiled pattern the key must match
	Match *regexp.Regexp
}

// KeysOption sets values in KeysOptions
type KeysOption func(o *KeysOptions)

// KeysPrefix returns only keys starting with p
func KeysPrefix(p string) KeysOption {
	return func(o *KeysOptions) {
		o.Prefix = p
	}
}

// KeysPattern returns only keys containing s
func KeysPattern(s string) KeysOption {
	return func(o *KeysOptions) {
		o.Pattern = s
	}
}

// KeysMatch returns only keys matching re
func KeysMatch(re *regexp.Regexp) KeysOption {
	return func(o *KeysOptions) {
		o.Match = re
	}
}

// NewKeysOptions applies opts over the zero options
func NewKeysOptions(opts ...KeysOption) KeysOptions {
	var o KeysOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Empty reports whether no filter was set
func (o KeysOptions) Empty() bool {
	return o.Prefix == "" && o.Pattern == "" && o.Match == nil
}

// ClearOptions select the records removed by Clear.
type ClearOptions struct {
	KeysOptions
	// Tags removes records carrying any of the tags
	Tags []string
	// ExpiredOnly removes only records whose deadline passed
	ExpiredOnly bool
	// Now is the instant expiry is judged against
	Now time.Time
}

// ClearOption sets values in ClearOptions
type ClearOption func(o *ClearOptions)

// ClearPrefix clears keys starting with p
func ClearPrefix(p string) ClearOption {
	return func(o *ClearOptions) {
		o.Prefix = p
	}
}

// ClearPattern clears keys containing s
func ClearPattern(s string) ClearOption {
	return func(o *ClearOptions) {
		o.Pattern = s
	}
}

// ClearMatch clears keys matching re
func ClearMatch(re *regexp.Regexp) ClearOption {
	return func(o *ClearOptions) {
		o.Match = re
	}
}

// ClearTags clears records tagged with any of tags
func ClearTags(tags ...string) ClearOption {
	return func(o *ClearOptions) {
		o.Tags = tags
	}
}

// ClearExpired clears only expired records
func ClearExpired() ClearOption {
	return func(o *ClearOptions) {
		o.ExpiredOnly = true
	}
}

// ClearAt judges expiry against t instead of the current time
func ClearAt(t time.Time) ClearOption {
	return func(o *ClearOptions) {
		o.Now = t
	}
}

// NewClearOptions applies opts, defaulting Now to the current time
func NewClearOptions(opts ...ClearOption) ClearOptions {
	var o ClearOptions
	for _, fn := range opts {
		fn(&o)
	}
	if o.Now.IsZero() {
		o.Now = time.Now()
	}
	return o
}

// All reports whether the options select every record
func (o ClearOptions) All() bool {
	return o.KeysOptions.Empty() && len(o.Tags) == 0 && !o.ExpiredOnly
}

// NeedsRecord reports whether the record must be read to decide
func (o ClearOptions) NeedsRecord() bool {
	return len(o.Tags) > 0 || o.ExpiredOnly
}
