package query

import (
	"strconv"
	"strings"
)

// Get resolves a dot separated path into v. A key that literally contains the
// remaining path wins over splitting it. Segments that don't resolve yield
// Undefined.
func Get(v interface{}, path string) interface{} {
	return get(v, strings.Split(path, "."))
}

func get(v interface{}, segs []string) interface{} {
	if len(segs) == 0 {
		return v
	}

	if obj, ok := asObject(v); ok {
		if len(segs) > 1 {
			if val, ok := obj[strings.Join(segs, ".")]; ok {
				return val
			}
		}
		val, ok := obj[segs[0]]
		if !ok {
			return Undefined
		}
		return get(val, segs[1:])
	}

	if items, ok := asSlice(v); ok {
		i, err := strconv.Atoi(segs[0])
		if err != nil || i < 0 || i >= len(items) {
			return Undefined
		}
		return get(items[i], segs[1:])
	}

	return Undefined
}

// set writes val at the path in dst, creating intermediate maps.
func set(dst map[string]interface{}, segs []string, val interface{}) {
	for len(segs) > 1 {
		next, ok := dst[segs[0]].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			dst[segs[0]] = next
		}
		dst = next
		segs = segs[1:]
	}
	dst[segs[0]] = val
}

// del removes the path from m. Maps along the path are copied before they
// are changed so the caller's value is left intact.
func del(m map[string]interface{}, segs []string) {
	if len(segs) > 1 {
		if _, ok := m[strings.Join(segs, ".")]; ok {
			delete(m, strings.Join(segs, "."))
			return
		}
	}
	if len(segs) == 1 {
		delete(m, segs[0])
		return
	}

	child, ok := asObject(m[segs[0]])
	if !ok {
		return
	}
	cp := make(map[string]interface{}, len(child))
	for k, v := range child {
		cp[k] = v
	}
	del(cp, segs[1:])
	m[segs[0]] = cp
}
