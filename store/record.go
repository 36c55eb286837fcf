package store

import (
	"math/big"
	"reflect"
	"regexp"
	"time"

	"github.com/mitchellh/copystructure"
)

// Record is the envelope stored for every key.
type Record struct {
	// The caller's data
	Value interface{} `json:"value"`
	// Set on first write
	Created time.Time `json:"created"`
	// Set on every write, never before Created
	Updated time.Time `json:"updated"`
	// Deadline after which the record is dead. Zero means it never expires.
	Expires time.Time `json:"expires,omitempty"`
	// Labels used for bulk filtering
	Tags []string `json:"tags,omitempty"`
	// Any associated metadata
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// copier walks plain data but keeps opaque values with unexported state by reference.
var copier = copystructure.Config{
	ShallowCopiers: map[reflect.Type]struct{}{
		reflect.TypeOf(&regexp.Regexp{}): {},
		reflect.TypeOf(regexp.Regexp{}):  {},
		reflect.TypeOf(&big.Int{}):       {},
		reflect.TypeOf(big.Int{}):        {},
	},
}

// NewRecord returns a record for value created and updated at now.
func NewRecord(value interface{}, now time.Time) *Record {
	return &Record{
		Value:   value,
		Created: now,
		Updated: now,
	}
}

// Expired reports whether the record carries a deadline that now has passed.
func (r *Record) Expired(now time.Time) bool {
	if r == nil || r.Expires.IsZero() {
		return false
	}
	return now.After(r.Expires)
}

// HasTag reports whether the record carries any of the tags.
func (r *Record) HasTag(tags ...string) bool {
	for _, want := range tags {
		for _, t := range r.Tags {
			if t == want {
				return true
			}
		}
	}
	return false
}

// Touch stamps Updated with now, keeping it at or after Created.
func (r *Record) Touch(now time.Time) {
	if now.Before(r.Created) {
		now = r.Created
	}
	r.Updated = now
}

// Copy returns a deep copy so callers can't mutate what a backend holds.
func (r *Record) Copy() *Record {
	if r == nil {
		return nil
	}

	nr := &Record{
		Created: r.Created,
		Updated: r.Updated,
		Expires: r.Expires,
	}
	if len(r.Tags) > 0 {
		nr.Tags = append([]string(nil), r.Tags...)
	}
	nr.Value = copyValue(r.Value)
	if r.Metadata != nil {
		nr.Metadata = make(map[string]interface{}, len(r.Metadata))
		for k, v := range r.Metadata {
			nr.Metadata[k] = copyValue(v)
		}
	}
	return nr
}

func copyValue(v interface{}) interface{} {
	switch v.(type) {
	case nil, string, bool, float64, int, int64, time.Time:
		return v
	}
	c, err := copier.Copy(v)
	if err != nil {
		// not walkable, share it
		return v
	}
	return c
}
