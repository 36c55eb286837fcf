package query

import (
	"sort"
	"strings"
)

// Projection maps field paths to include (truthy) or exclude (falsy) flags.
type Projection map[string]interface{}

// Inclusive reports whether the projection copies named paths rather than
// removing them. Any truthy flag makes it inclusive.
func (p Projection) Inclusive() bool {
	for _, flag := range p {
		if truthy(flag) {
			return true
		}
	}
	return false
}

// ParseProjection reads "a,b.c" as an inclusion and "-a,-b" as an exclusion.
// Mixing both resolves to an inclusion like any other projection.
func ParseProjection(s string) Projection {
	p := make(Projection)
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		switch {
		case f == "":
		case strings.HasPrefix(f, "-"):
			p[f[1:]] = 0
		default:
			p[strings.TrimPrefix(f, "+")] = 1
		}
	}
	return p
}

// Project returns a copy of v shaped by the projection. Values that are not
// objects, and empty projections, return v unchanged.
func Project(v interface{}, p Projection) interface{} {
	obj, ok := asObject(v)
	if !ok || len(p) == 0 {
		return v
	}

	paths := make([]string, 0, len(p))
	for path := range p {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	if p.Inclusive() {
		out := make(map[string]interface{})
		for _, path := range paths {
			if !truthy(p[path]) {
				continue
			}
			if val, ok := obj[path]; ok {
				out[path] = val
				continue
			}
			val := Get(obj, path)
			if IsUndefined(val) {
				continue
			}
			set(out, strings.Split(path, "."), val)
		}
		return out
	}

	out := make(map[string]interface{}, len(obj))
	for k, val := range obj {
		out[k] = val
	}
	for _, path := range paths {
		del(out, strings.Split(path, "."))
	}
	return out
}
