// Package codec converts values to and from the bytes stored by backends and
// carried by sync messages.
package codec

import (
	"errors"
)

var (
	// ErrInvalidTarget is returned when Unmarshal is given a target it can't fill.
	ErrInvalidTarget = errors.New("invalid unmarshal target")
)

// Marshaler is a simple encoding interface used for the broker/transport
// where headers are not supported by the underlying implementation.
type Marshaler interface {
	Marshal(interface{}) ([]byte, error)
	Unmarshal([]byte, interface{}) error
	String() string
}

// DefaultMarshaler is the codec used when none is configured.
var DefaultMarshaler Marshaler = Tagged{}
