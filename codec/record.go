package codec

import (
	"time"

	"github.com/micro/go-kv/store"
	"github.com/pkg/errors"
)

// envelope is the stored form of a record. Timestamps are milliseconds since
// the epoch.
type envelope struct {
	Value    interface{}            `json:"value"`
	Created  int64                  `json:"created"`
	Updated  int64                  `json:"updated"`
	Expires  *int64                 `json:"expires,omitempty"`
	Tags     []string               `json:"tags,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// EncodeRecord returns the tagged JSON form of r.
func EncodeRecord(r *store.Record) ([]byte, error) {
	value, err := Encode(r.Value)
	if err != nil {
		return nil, err
	}
	env := envelope{
		Value:   value,
		Created: r.Created.UnixMilli(),
		Updated: r.Updated.UnixMilli(),
		Tags:    r.Tags,
	}
	if !r.Expires.IsZero() {
		ms := r.Expires.UnixMilli()
		env.Expires = &ms
	}
	if len(r.Metadata) > 0 {
		md, err := Encode(r.Metadata)
		if err != nil {
			return nil, err
		}
		env.Metadata, _ = md.(map[string]interface{})
	}
	return json.Marshal(env)
}

// DecodeRecord parses a record written by EncodeRecord.
func DecodeRecord(b []byte) (*store.Record, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, errors.Wrap(err, "decode record")
	}
	value, err := Decode(env.Value)
	if err != nil {
		return nil, errors.Wrap(err, "decode record value")
	}

	r := &store.Record{
		Value:   value,
		Created: time.UnixMilli(env.Created),
		Updated: time.UnixMilli(env.Updated),
		Tags:    env.Tags,
	}
	if env.Expires != nil {
		r.Expires = time.UnixMilli(*env.Expires)
	}
	if len(env.Metadata) > 0 {
		md, err := Decode(env.Metadata)
		if err != nil {
			return nil, errors.Wrap(err, "decode record metadata")
		}
		r.Metadata, _ = md.(map[string]interface{})
	}
	return r, nil
}
