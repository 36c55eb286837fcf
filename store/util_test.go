package store

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFilterKeys(t *testing.T) {
	keys := []string{"b:2", "a:1", "b:10", "c"}

	assert.Equal(t, []string{"a:1", "b:10", "b:2", "c"}, FilterKeys(keys, NewKeysOptions()))
	assert.Equal(t, []string{"b:10", "b:2"}, FilterKeys(keys, NewKeysOptions(KeysPrefix("b:"))))
	assert.Equal(t, []string{"a:1", "b:10"}, FilterKeys(keys, NewKeysOptions(KeysPattern("1"))))
	assert.Equal(t, []string{"c"}, FilterKeys(keys, NewKeysOptions(KeysMatch(regexp.MustCompile(`^\w$`)))))
	assert.Empty(t, FilterKeys(keys, NewKeysOptions(KeysPrefix("z"))))
}

func TestClearOptions(t *testing.T) {
	o := NewClearOptions()
	assert.True(t, o.All())
	assert.False(t, o.NeedsRecord())
	assert.False(t, o.Now.IsZero())

	o = NewClearOptions(ClearPrefix("a"))
	assert.False(t, o.All())
	assert.False(t, o.NeedsRecord())

	o = NewClearOptions(ClearTags("x"))
	assert.True(t, o.NeedsRecord())

	at := time.Unix(100, 0)
	o = NewClearOptions(ClearExpired(), ClearAt(at))
	assert.True(t, o.NeedsRecord())
	assert.Equal(t, at, o.Now)
}

func TestClearMatchRecord(t *testing.T) {
	now := time.Now()
	live := &Record{Tags: []string{"red"}, Expires: now.Add(time.Hour)}
	dead := &Record{Tags: []string{"blue"}, Expires: now.Add(-time.Hour)}

	tests := []struct {
		name string
		key  string
		r    *Record
		opts []ClearOption
		want bool
	}{
		{"everything", "k", live, nil, true},
		{"prefix miss", "k", live, []ClearOption{ClearPrefix("x")}, false},
		{"tag hit", "k", live, []ClearOption{ClearTags("red")}, true},
		{"tag miss", "k", dead, []ClearOption{ClearTags("red")}, false},
		{"expired only live", "k", live, []ClearOption{ClearExpired()}, false},
		{"expired only dead", "k", dead, []ClearOption{ClearExpired()}, true},
		{"all filters", "x:k", dead, []ClearOption{ClearPrefix("x:"), ClearTags("blue"), ClearExpired()}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := append([]ClearOption{ClearAt(now)}, tt.opts...)
			assert.Equal(t, tt.want, ClearMatchRecord(tt.key, tt.r, NewClearOptions(opts...)))
		})
	}
}

func TestPrefix(t *testing.T) {
	assert.Equal(t, "k", Prefix("", "k"))
	assert.Equal(t, "ns/k", Prefix("ns", "k"))

	k, ok := Unprefix("ns", "ns/k")
	assert.True(t, ok)
	assert.Equal(t, "k", k)

	_, ok = Unprefix("ns", "other/k")
	assert.False(t, ok)

	k, ok = Unprefix("", "any")
	assert.True(t, ok)
	assert.Equal(t, "any", k)
}
