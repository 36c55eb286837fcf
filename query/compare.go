package query

import (
	"fmt"
	"math"
	"math/big"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/micro/go-kv/codec"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

type undefined struct{}

func (undefined) String() string { return "undefined" }

// Undefined is the value of a path that does not resolve. It is distinct from nil.
var Undefined interface{} = undefined{}

// IsUndefined reports whether v is the Undefined value.
func IsUndefined(v interface{}) bool {
	_, ok := v.(undefined)
	return ok
}

func absent(v interface{}) bool {
	if v == nil || IsUndefined(v) {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface:
		// typed nil pointers behave like null, nil maps and slices are still values
		return rv.Kind() == reflect.Ptr && rv.IsNil()
	}
	return false
}

// collator is not safe for concurrent use
var (
	collatorMu sync.Mutex
	collator   = collate.New(language.Und)
)

func localeCompare(a, b string) int {
	collatorMu.Lock()
	defer collatorMu.Unlock()
	return collator.CompareString(a, b)
}

// Equal is deep structural equality: numbers by value, dates by instant,
// sequences by length and element, objects by identical key sets.
func Equal(a, b interface{}) bool {
	if absent(a) || absent(b) {
		if !absent(a) || !absent(b) {
			return false
		}
		return IsUndefined(a) == IsUndefined(b)
	}

	if x, ok := toNumber(a); ok {
		y, ok := toNumber(b)
		return ok && x == y
	}
	if x, ok := toTime(a); ok {
		y, ok := toTime(b)
		return ok && x.Equal(y)
	}

	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case *regexp.Regexp:
		y, ok := b.(*regexp.Regexp)
		return ok && x.String() == y.String()
	case *big.Int:
		y, ok := b.(*big.Int)
		return ok && x.Cmp(y) == 0
	}

	if xs, ok := asSlice(a); ok {
		ys, ok := asSlice(b)
		if !ok || len(xs) != len(ys) {
			return false
		}
		for i := range xs {
			if !Equal(xs[i], ys[i]) {
				return false
			}
		}
		return true
	}
	if xo, ok := asObject(a); ok {
		yo, ok := asObject(b)
		if !ok || len(xo) != len(yo) {
			return false
		}
		for k, xv := range xo {
			yv, ok := yo[k]
			if !ok || !Equal(xv, yv) {
				return false
			}
		}
		return true
	}
	if _, ok := asSlice(b); ok {
		return false
	}
	if _, ok := asObject(b); ok {
		return false
	}

	return reflect.DeepEqual(a, b)
}

// Compare orders two values: numbers by difference, dates by instant and
// everything else by locale aware comparison of their string forms. Absent
// values sort before any defined value.
func Compare(a, b interface{}) int {
	aa, ba := absent(a), absent(b)
	switch {
	case aa && ba:
		return 0
	case aa:
		return -1
	case ba:
		return 1
	}

	if x, ok := toNumber(a); ok {
		if y, ok := toNumber(b); ok {
			return sign(x - y)
		}
	}
	if x, ok := toTime(a); ok {
		if y, ok := toTime(b); ok {
			return sign(float64(x.Sub(y)))
		}
	}
	if x, ok := a.(*big.Int); ok {
		if y, ok := b.(*big.Int); ok {
			return x.Cmp(y)
		}
	}
	return localeCompare(toString(a), toString(b))
}

func sign(f float64) int {
	switch {
	case f > 0:
		return 1
	case f < 0:
		return -1
	}
	// zero and NaN
	return 0
}

// TypeOf returns the type tag checked by $type.
func TypeOf(v interface{}) string {
	if v == nil {
		return "null"
	}
	if IsUndefined(v) {
		return "undefined"
	}
	switch v.(type) {
	case time.Time, *time.Time:
		return "date"
	case *regexp.Regexp:
		return "regexp"
	case *big.Int:
		return "bigint"
	case string:
		return "string"
	case bool:
		return "boolean"
	}
	if _, ok := toNumber(v); ok {
		return "number"
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return "null"
		}
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Func:
		return "function"
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	}
	return "object"
}

func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

func toTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t != nil {
			return *t, true
		}
	}
	return time.Time{}, false
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case *regexp.Regexp:
		return "/" + t.String() + "/"
	case fmt.Stringer:
		return t.String()
	}
	if n, ok := toNumber(v); ok {
		if math.IsInf(n, 0) {
			if n > 0 {
				return "Infinity"
			}
			return "-Infinity"
		}
		if math.IsNaN(n) {
			return "NaN"
		}
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	if items, ok := asSlice(v); ok {
		parts := make([]string, len(items))
		for i, item := range items {
			if !absent(item) {
				parts[i] = toString(item)
			}
		}
		return strings.Join(parts, ",")
	}
	if _, ok := asObject(v); ok {
		return "[object Object]"
	}
	return fmt.Sprint(v)
}

// truthy follows javascript truthiness for the flags of projections and $exists.
func truthy(v interface{}) bool {
	if absent(v) {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	}
	if n, ok := toNumber(v); ok {
		return n != 0 && !math.IsNaN(n)
	}
	return true
}

// asObject returns v as a string keyed map when it is one. Structs are read
// through their JSON form, the shape byte backed stores hold them in.
func asObject(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case nil, undefined, time.Time, *time.Time, *regexp.Regexp, big.Int, *big.Int:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Struct || (rv.Kind() == reflect.Ptr && !rv.IsNil() && rv.Elem().Kind() == reflect.Struct) {
		tree, err := codec.Encode(v)
		if err != nil {
			return nil, false
		}
		m, ok := tree.(map[string]interface{})
		return m, ok
	}
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]interface{}, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

// asSlice returns v as a list when it is a slice or array.
func asSlice(v interface{}) ([]interface{}, bool) {
	switch s := v.(type) {
	case []interface{}:
		return s, true
	case nil, string:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
