package sync

import (
	"fmt"
	"time"

	"github.com/micro/go-kv/codec"
	"github.com/pkg/errors"
)

// Kind is the mutation a message announces.
type Kind string

const (
	KindSet    Kind = "set"
	KindRemove Kind = "remove"
	KindClear  Kind = "clear"
)

// Message announces a mutation to the other instances sharing a channel.
type Message struct {
	// Unique per message, used to drop duplicates
	ID   string
	Kind Kind
	Key  string
	// Value written by a set
	Value interface{}
	// Value replaced by the mutation, if known
	OldValue interface{}
	// Metadata describes the mutation beyond its value, the record policy
	// of a set or the filter of a clear
	Metadata map[string]interface{}
	// Backend is the name of the store that was mutated
	Backend   string
	Timestamp time.Time
	// Origin identifies the sending instance, not the message
	Origin string
}

// Encode serializes m with the tagged codec as a flat record.
func (m Message) Encode() ([]byte, error) {
	wire := map[string]interface{}{
		"kind":        string(m.Kind),
		"backendName": m.Backend,
		"timestamp":   m.Timestamp.UnixMilli(),
		"originId":    m.Origin,
	}
	if m.ID != "" {
		wire["id"] = m.ID
	}
	if m.Key != "" {
		wire["key"] = m.Key
	}
	if m.Value != nil {
		wire["value"] = m.Value
	}
	if m.OldValue != nil {
		wire["oldValue"] = m.OldValue
	}
	if len(m.Metadata) > 0 {
		wire["meta"] = m.Metadata
	}
	return codec.Tagged{}.Marshal(wire)
}

// DecodeMessage parses a message written by Encode.
func DecodeMessage(b []byte) (Message, error) {
	var v interface{}
	if err := (codec.Tagged{}).Unmarshal(b, &v); err != nil {
		return Message{}, errors.Wrap(err, "decode sync message")
	}
	wire, ok := v.(map[string]interface{})
	if !ok {
		return Message{}, errors.Errorf("decode sync message: want an object, got %T", v)
	}

	var m Message
	kind, _ := wire["kind"].(string)
	switch Kind(kind) {
	case KindSet, KindRemove, KindClear:
		m.Kind = Kind(kind)
	default:
		return Message{}, errors.Errorf("decode sync message: unknown kind %q", kind)
	}

	origin, ok := wire["originId"].(string)
	if !ok || origin == "" {
		return Message{}, errors.New("decode sync message: missing originId")
	}
	m.Origin = origin
	m.ID, _ = wire["id"].(string)
	m.Key, _ = wire["key"].(string)
	m.Backend, _ = wire["backendName"].(string)
	m.Value = wire["value"]
	m.OldValue = wire["oldValue"]

	switch md := wire["meta"].(type) {
	case map[string]interface{}:
		m.Metadata = md
	case nil:
	default:
		return Message{}, errors.Errorf("decode sync message: bad meta %T", md)
	}

	switch ts := wire["timestamp"].(type) {
	case float64:
		m.Timestamp = time.UnixMilli(int64(ts))
	case time.Time:
		m.Timestamp = ts
	case nil:
	default:
		return Message{}, errors.Errorf("decode sync message: bad timestamp %v", ts)
	}

	if m.Kind != KindClear && m.Key == "" {
		return Message{}, errors.Errorf("decode sync message: %s without key", m.Kind)
	}
	return m, nil
}

// coalesceKey groups messages replacing each other within the debounce
// window. Clears with different filters remove different records.
func (m Message) coalesceKey() string {
	if m.Kind == KindClear && len(m.Metadata) > 0 {
		return fmt.Sprintf("%s:%v", m.Kind, m.Metadata)
	}
	return fmt.Sprintf("%s:%s", m.Kind, m.Key)
}

// Source tells local changes from remote ones.
type Source string

const (
	Local  Source = "local"
	Remote Source = "remote"
)

// Change is the notification emitted to subscribers for every mutation.
type Change struct {
	Kind      Kind
	Key       string
	OldValue  interface{}
	NewValue  interface{}
	Metadata  map[string]interface{}
	Source    Source
	Backend   string
	Timestamp time.Time
}
