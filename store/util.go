package store

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// MatchKey reports whether key passes the filter.
func (o KeysOptions) MatchKey(key string) bool {
	if o.Prefix != "" && !strings.HasPrefix(key, o.Prefix) {
		return false
	}
	if o.Pattern != "" && !strings.Contains(key, o.Pattern) {
		return false
	}
	if o.Match != nil && !o.Match.MatchString(key) {
		return false
	}
	return true
}

// FilterKeys returns the sorted keys that pass the filter.
func FilterKeys(keys []string, o KeysOptions) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if o.MatchKey(k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// ClearMatchRecord reports whether Clear with o removes the record stored under key.
func ClearMatchRecord(key string, r *Record, o ClearOptions) bool {
	if !o.KeysOptions.MatchKey(key) {
		return false
	}
	if len(o.Tags) > 0 && !r.HasTag(o.Tags...) {
		return false
	}
	if o.ExpiredOnly && !r.Expired(o.Now) {
		return false
	}
	return true
}

// ClearEach implements Clear for backends without a native filtered delete.
func ClearEach(ctx context.Context, s Store, o ClearOptions) error {
	keys, err := s.Keys(ctx, func(ko *KeysOptions) { *ko = o.KeysOptions })
	if err != nil {
		return err
	}

	for _, k := range keys {
		if o.NeedsRecord() {
			r, err := s.Get(ctx, k)
			if err == ErrNotFound {
				continue
			} else if err != nil {
				return errors.Wrapf(err, "clear %s", k)
			}
			if !ClearMatchRecord(k, r, o) {
				continue
			}
		}
		if err := s.Remove(ctx, k); err != nil {
			return errors.Wrapf(err, "clear %s", k)
		}
	}
	return nil
}

// Prefix returns the namespaced form of key.
func Prefix(namespace, key string) string {
	if namespace == "" {
		return key
	}
	return namespace + "/" + key
}

// Unprefix strips the namespace, reporting whether key belonged to it.
func Unprefix(namespace, key string) (string, bool) {
	if namespace == "" {
		return key, true
	}
	if !strings.HasPrefix(key, namespace+"/") {
		return "", false
	}
	return strings.TrimPrefix(key, namespace+"/"), true
}
