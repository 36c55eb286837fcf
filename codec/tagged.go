package codec

import (
	"fmt"
	"math/big"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// Type tags for values JSON can't represent natively.
const (
	TypeKey   = "__type"
	ValueKey  = "value"
	TagDate   = "Date"
	TagRegExp = "RegExp"
	TagMap    = "Map"
	TagSet    = "Set"
	TagBigInt = "BigInt"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Pair is one entry of a Map.
type Pair struct {
	Key   interface{}
	Value interface{}
}

// Map is an ordered map whose keys need not be strings.
type Map []Pair

// Get returns the value stored under key.
func (m Map) Get(key interface{}) (interface{}, bool) {
	for _, p := range m {
		if reflect.DeepEqual(p.Key, key) {
			return p.Value, true
		}
	}
	return nil, false
}

// Set is an ordered collection of distinct values.
type Set []interface{}

// Tagged is a JSON codec that wraps dates, patterns, non-string keyed maps,
// sets and big integers in {"__type": ..., "value": ...} envelopes so they
// survive the round trip.
type Tagged struct{}

func (Tagged) Marshal(v interface{}) ([]byte, error) {
	tree, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(tree)
}

// Unmarshal decodes into *interface{} restoring tagged values, or into any
// other pointer with plain JSON rules.
func (Tagged) Unmarshal(b []byte, v interface{}) error {
	switch t := v.(type) {
	case nil:
		return ErrInvalidTarget
	case *interface{}:
		var tree interface{}
		if err := json.Unmarshal(b, &tree); err != nil {
			return err
		}
		d, err := Decode(tree)
		if err != nil {
			return err
		}
		*t = d
		return nil
	default:
		if reflect.TypeOf(v).Kind() != reflect.Ptr {
			return ErrInvalidTarget
		}
		return json.Unmarshal(b, v)
	}
}

func (Tagged) String() string {
	return "tagged"
}

func tag(name string, value interface{}) map[string]interface{} {
	return map[string]interface{}{TypeKey: name, ValueKey: value}
}

// Encode converts v into a tree of JSON-native values with tagged envelopes.
func Encode(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case nil, string, bool, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return t, nil
	case time.Time:
		return tag(TagDate, t.UTC().Format(time.RFC3339Nano)), nil
	case *time.Time:
		if t == nil {
			return nil, nil
		}
		return tag(TagDate, t.UTC().Format(time.RFC3339Nano)), nil
	case *regexp.Regexp:
		if t == nil {
			return nil, nil
		}
		return tag(TagRegExp, t.String()), nil
	case *big.Int:
		if t == nil {
			return nil, nil
		}
		return tag(TagBigInt, t.String()), nil
	case big.Int:
		return tag(TagBigInt, t.String()), nil
	case Set:
		out := make([]interface{}, len(t))
		for i, e := range t {
			ev, err := Encode(e)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return tag(TagSet, out), nil
	case Map:
		return encodePairs(t)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			ev, err := Encode(e)
			if err != nil {
				return nil, err
			}
			out[k] = ev
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			ev, err := Encode(e)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	case []byte:
		return t, nil
	}

	return encodeReflect(v)
}

func encodeReflect(v interface{}) (interface{}, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return Encode(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			ev, err := Encode(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			out := make(map[string]interface{}, rv.Len())
			iter := rv.MapRange()
			for iter.Next() {
				ev, err := Encode(iter.Value().Interface())
				if err != nil {
					return nil, err
				}
				out[iter.Key().String()] = ev
			}
			return out, nil
		}
		pairs := make(Map, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			pairs = append(pairs, Pair{Key: iter.Key().Interface(), Value: iter.Value().Interface()})
		}
		// go maps are unordered, keep the output stable
		sort.SliceStable(pairs, func(i, j int) bool {
			return fmt.Sprint(pairs[i].Key) < fmt.Sprint(pairs[j].Key)
		})
		return encodePairs(pairs)
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}

	// structs and anything else go through their JSON form
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %T", v)
	}
	var tree interface{}
	if err := json.Unmarshal(b, &tree); err != nil {
		return nil, errors.Wrapf(err, "encode %T", v)
	}
	return tree, nil
}

func encodePairs(m Map) (interface{}, error) {
	out := make([]interface{}, 0, len(m))
	for _, p := range m {
		k, err := Encode(p.Key)
		if err != nil {
			return nil, err
		}
		v, err := Encode(p.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, []interface{}{k, v})
	}
	return tag(TagMap, out), nil
}

// Decode restores tagged envelopes in a tree produced by JSON decoding.
func Decode(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case map[string]interface{}:
		if name, inner, ok := tagged(t); ok {
			return decodeTag(name, inner)
		}
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			d, err := Decode(e)
			if err != nil {
				return nil, err
			}
			out[k] = d
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			d, err := Decode(e)
			if err != nil {
				return nil, err
			}
			out[i] = d
		}
		return out, nil
	}
	return v, nil
}

func tagged(m map[string]interface{}) (string, interface{}, bool) {
	if len(m) != 2 {
		return "", nil, false
	}
	name, ok := m[TypeKey].(string)
	if !ok {
		return "", nil, false
	}
	inner, ok := m[ValueKey]
	if !ok {
		return "", nil, false
	}
	switch name {
	case TagDate, TagRegExp, TagMap, TagSet, TagBigInt:
		return name, inner, true
	}
	return "", nil, false
}

func decodeTag(name string, v interface{}) (interface{}, error) {
	switch name {
	case TagDate:
		switch t := v.(type) {
		case string:
			ts, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return nil, errors.Wrap(err, "decode Date")
			}
			return ts, nil
		case float64:
			return time.UnixMilli(int64(t)).UTC(), nil
		}
	case TagRegExp:
		switch t := v.(type) {
		case string:
			re, err := regexp.Compile(t)
			if err != nil {
				return nil, errors.Wrap(err, "decode RegExp")
			}
			return re, nil
		case map[string]interface{}:
			// {"source": ..., "flags": ...} as written by javascript peers
			src, _ := t["source"].(string)
			flags, _ := t["flags"].(string)
			re, err := regexp.Compile(inlineFlags(flags) + src)
			if err != nil {
				return nil, errors.Wrap(err, "decode RegExp")
			}
			return re, nil
		}
	case TagBigInt:
		s, ok := v.(string)
		if !ok {
			break
		}
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, errors.Errorf("decode BigInt: invalid value %q", s)
		}
		return n, nil
	case TagSet:
		items, ok := v.([]interface{})
		if !ok {
			break
		}
		out := make(Set, len(items))
		for i, e := range items {
			d, err := Decode(e)
			if err != nil {
				return nil, err
			}
			out[i] = d
		}
		return out, nil
	case TagMap:
		items, ok := v.([]interface{})
		if !ok {
			break
		}
		out := make(Map, 0, len(items))
		for _, e := range items {
			pair, ok := e.([]interface{})
			if !ok || len(pair) != 2 {
				return nil, errors.New("decode Map: entries must be [key, value] pairs")
			}
			k, err := Decode(pair[0])
			if err != nil {
				return nil, err
			}
			val, err := Decode(pair[1])
			if err != nil {
				return nil, err
			}
			out = append(out, Pair{Key: k, Value: val})
		}
		return out, nil
	}
	return nil, errors.Errorf("decode %s: unexpected value %T", name, v)
}

func inlineFlags(flags string) string {
	var b strings.Builder
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			b.WriteRune(f)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "(?" + b.String() + ")"
}
