package query

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Key is one sort key.
type Key struct {
	Path string
	Desc bool
}

// Asc sorts path ascending.
func Asc(path string) Key {
	return Key{Path: path}
}

// Desc sorts path descending.
func Desc(path string) Key {
	return Key{Path: path, Desc: true}
}

// Order is a list of sort keys, most significant first.
type Order []Key

// ParseOrder reads "a,-b" as a ascending then b descending.
func ParseOrder(s string) (Order, error) {
	var o Order
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		k := Key{Path: f}
		switch f[0] {
		case '-':
			k = Key{Path: f[1:], Desc: true}
		case '+':
			k = Key{Path: f[1:]}
		}
		if k.Path == "" {
			return nil, errors.Errorf("invalid sort key %q", f)
		}
		o = append(o, k)
	}
	return o, nil
}

// OrderOf builds an order from path and direction pairs. A direction is
// descending when it is negative or "desc".
func OrderOf(pairs ...interface{}) Order {
	var o Order
	for i := 0; i+1 < len(pairs); i += 2 {
		path, ok := pairs[i].(string)
		if !ok {
			continue
		}
		o = append(o, Key{Path: path, Desc: descending(pairs[i+1])})
	}
	return o
}

func descending(dir interface{}) bool {
	if s, ok := dir.(string); ok {
		return strings.EqualFold(s, "desc") || strings.EqualFold(s, "descending")
	}
	if n, ok := toNumber(dir); ok {
		return n < 0
	}
	return false
}

// Compare orders a and b by the keys, falling through to the next key on ties.
func (o Order) Compare(a, b interface{}) int {
	for _, k := range o {
		c := Compare(Get(a, k.Path), Get(b, k.Path))
		if k.Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// Sort stably sorts values in place.
func Sort(values []interface{}, o Order) {
	if len(o) == 0 {
		return
	}
	sort.SliceStable(values, func(i, j int) bool {
		return o.Compare(values[i], values[j]) < 0
	})
}

// SortFunc stably sorts items in place by the value valueOf returns for each.
func SortFunc[T any](items []T, valueOf func(T) interface{}, o Order) {
	if len(o) == 0 {
		return
	}
	sort.SliceStable(items, func(i, j int) bool {
		return o.Compare(valueOf(items[i]), valueOf(items[j])) < 0
	})
}
