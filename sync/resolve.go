package sync

import (
	"strings"

	"github.com/pkg/errors"
)

// Resolver picks the winning value among candidates given in arrival order.
type Resolver func(candidates []interface{}) interface{}

// Strategy is a named conflict resolution policy.
type Strategy struct {
	Name     string
	Resolver Resolver
}

var (
	// Latest lets the last candidate win.
	Latest = Strategy{Name: "latest"}
	// Merge shallow merges plain objects left to right and falls back to
	// Latest for anything else.
	Merge = Strategy{Name: "merge"}
)

// Custom resolves with fn.
func Custom(fn Resolver) Strategy {
	return Strategy{Name: "custom", Resolver: fn}
}

func (s Strategy) String() string {
	return s.Name
}

// ParseStrategy returns the named builtin strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "latest":
		return Latest, nil
	case "merge":
		return Merge, nil
	}
	return Strategy{}, errors.Errorf("unknown conflict resolution %q", name)
}

// Resolve picks the winner among candidates. It never fails: unknown
// strategies and unmergeable shapes resolve to the last candidate, and no
// candidates resolve to nil.
func Resolve(candidates []interface{}, s Strategy) interface{} {
	if len(candidates) == 0 {
		return nil
	}
	if s.Resolver != nil {
		return s.Resolver(candidates)
	}
	if s.Name == Merge.Name {
		if merged, ok := merge(candidates); ok {
			return merged
		}
	}
	return candidates[len(candidates)-1]
}

func merge(candidates []interface{}) (map[string]interface{}, bool) {
	out := make(map[string]interface{})
	for _, c := range candidates {
		obj, ok := plain(c)
		if !ok {
			return nil, false
		}
		for k, v := range obj {
			out[k] = v
		}
	}
	return out, true
}

// plain returns c when it is a string keyed object.
func plain(c interface{}) (map[string]interface{}, bool) {
	switch m := c.(type) {
	case map[string]interface{}:
		return m, true
	case map[string]string:
		out := make(map[string]interface{}, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out, true
	}
	return nil, false
}
