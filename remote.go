package kv

import (
	"regexp"
	"time"

	"github.com/micro/go-kv/store"
	"github.com/micro/go-kv/sync"
	"github.com/pkg/errors"
)

// Metadata keys of set and clear messages.
const (
	metaExpires     = "expires"
	metaTags        = "tags"
	metaMetadata    = "metadata"
	metaPrefix      = "prefix"
	metaPattern     = "pattern"
	metaMatch       = "match"
	metaExpiredOnly = "expiredOnly"
)

// recordMeta describes the policy of a written record so other instances
// store it with the same deadline, tags and metadata.
func recordMeta(r *store.Record) map[string]interface{} {
	md := make(map[string]interface{})
	if !r.Expires.IsZero() {
		md[metaExpires] = r.Expires.UnixMilli()
	}
	if len(r.Tags) > 0 {
		md[metaTags] = append([]string(nil), r.Tags...)
	}
	if len(r.Metadata) > 0 {
		cp := make(map[string]interface{}, len(r.Metadata))
		for k, v := range r.Metadata {
			cp[k] = v
		}
		md[metaMetadata] = cp
	}
	return md
}

// applyRecordMeta replaces the policy of r with the one sent by recordMeta.
func applyRecordMeta(r *store.Record, md map[string]interface{}) error {
	r.Expires = time.Time{}
	switch v := md[metaExpires].(type) {
	case float64:
		r.Expires = time.UnixMilli(int64(v))
	case int64:
		r.Expires = time.UnixMilli(v)
	case time.Time:
		r.Expires = v
	case nil:
	default:
		return errors.Errorf("bad %s %T", metaExpires, v)
	}

	tags, err := stringList(md[metaTags])
	if err != nil {
		return err
	}
	r.Tags = tags

	r.Metadata = nil
	if m, ok := md[metaMetadata].(map[string]interface{}); ok {
		r.Metadata = m
	}
	return nil
}

// clearMeta describes the filter of a clear, empty when it removes everything.
func clearMeta(o store.ClearOptions) map[string]interface{} {
	md := make(map[string]interface{})
	if o.Prefix != "" {
		md[metaPrefix] = o.Prefix
	}
	if o.Pattern != "" {
		md[metaPattern] = o.Pattern
	}
	if o.Match != nil {
		md[metaMatch] = o.Match
	}
	if len(o.Tags) > 0 {
		md[metaTags] = append([]string(nil), o.Tags...)
	}
	if o.ExpiredOnly {
		md[metaExpiredOnly] = true
	}
	return md
}

// clearOptions rebuilds the filter sent by clearMeta.
func clearOptions(md map[string]interface{}) ([]store.ClearOption, error) {
	var opts []store.ClearOption
	if p, ok := md[metaPrefix].(string); ok && p != "" {
		opts = append(opts, store.ClearPrefix(p))
	}
	if p, ok := md[metaPattern].(string); ok && p != "" {
		opts = append(opts, store.ClearPattern(p))
	}
	switch re := md[metaMatch].(type) {
	case *regexp.Regexp:
		opts = append(opts, store.ClearMatch(re))
	case string:
		c, err := regexp.Compile(re)
		if err != nil {
			return nil, errors.Wrapf(err, "bad %s", metaMatch)
		}
		opts = append(opts, store.ClearMatch(c))
	case nil:
	default:
		return nil, errors.Errorf("bad %s %T", metaMatch, re)
	}
	tags, err := stringList(md[metaTags])
	if err != nil {
		return nil, err
	}
	if len(tags) > 0 {
		opts = append(opts, store.ClearTags(tags...))
	}
	if b, _ := md[metaExpiredOnly].(bool); b {
		opts = append(opts, store.ClearExpired())
	}
	return opts, nil
}

func stringList(v interface{}) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return t, nil
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, errors.Errorf("bad tag %v", e)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, errors.Errorf("bad tags %T", v)
}

// applyRemote writes a change received from another instance of the same
// backend. A remote set is resolved against the live local value and keeps
// the deadline, tags and metadata it was written with. A set that arrives
// already expired is dropped. A remote clear removes what its filter
// selects and nothing else.
func (k *KV) applyRemote(c sync.Change) {
	if c.Source != sync.Remote || (c.Backend != "" && c.Backend != k.backend.String()) {
		return
	}
	if k.check() != nil {
		return
	}

	ctx := k.opts.Context
	var err error

	switch c.Kind {
	case sync.KindSet:
		err = k.applySet(c)
	case sync.KindRemove:
		err = k.backend.Remove(ctx, c.Key)
	case sync.KindClear:
		var opts []store.ClearOption
		if opts, err = clearOptions(c.Metadata); err == nil {
			err = k.backend.Clear(ctx, append([]store.ClearOption{store.ClearAt(k.now())}, opts...)...)
		}
	}
	if err != nil {
		k.log.WithError(err).Errorf("applying remote %s %s", c.Kind, c.Key)
	}
}

func (k *KV) applySet(c sync.Change) error {
	ctx := k.opts.Context
	now := k.now()

	r := store.NewRecord(c.NewValue, now)
	if local, err := k.live(ctx, c.Key); err == nil {
		r = local
		r.Value = k.Resolve([]interface{}{local.Value, c.NewValue})
		r.Touch(now)
	}
	if err := applyRecordMeta(r, c.Metadata); err != nil {
		return err
	}
	if r.Expired(now) {
		k.log.Debugf("dropping remote %s, expired on arrival", c.Key)
		return nil
	}
	return k.backend.Set(ctx, c.Key, r)
}
