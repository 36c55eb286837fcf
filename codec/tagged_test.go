package codec

import (
	"math/big"
	"regexp"
	"testing"
	"time"

	"github.com/micro/go-kv/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaggedRoundTrip(t *testing.T) {
	when := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	n, _ := new(big.Int).SetString("123456789012345678901234567890", 10)

	in := map[string]interface{}{
		"when":    when,
		"pattern": regexp.MustCompile(`^a.c$`),
		"big":     n,
		"set":     Set{"a", float64(1)},
		"map":     Map{{Key: float64(1), Value: "one"}, {Key: true, Value: "yes"}},
		"nested":  []interface{}{map[string]interface{}{"at": when}},
		"plain":   "text",
	}

	b, err := Tagged{}.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"__type":"Date"`)

	var out interface{}
	require.NoError(t, Tagged{}.Unmarshal(b, &out))
	m := out.(map[string]interface{})

	assert.True(t, when.Equal(m["when"].(time.Time)))
	assert.Equal(t, `^a.c$`, m["pattern"].(*regexp.Regexp).String())
	assert.Equal(t, 0, n.Cmp(m["big"].(*big.Int)))
	assert.Equal(t, Set{"a", float64(1)}, m["set"])
	v, ok := m["map"].(Map).Get(float64(1))
	assert.True(t, ok)
	assert.Equal(t, "one", v)
	nested := m["nested"].([]interface{})[0].(map[string]interface{})
	assert.True(t, when.Equal(nested["at"].(time.Time)))
	assert.Equal(t, "text", m["plain"])
}

func TestEncodeNativeMap(t *testing.T) {
	tree, err := Encode(map[int]string{2: "b", 1: "a"})
	require.NoError(t, err)

	env := tree.(map[string]interface{})
	assert.Equal(t, TagMap, env[TypeKey])
	pairs := env[ValueKey].([]interface{})
	assert.Equal(t, []interface{}{1, "a"}, pairs[0])
}

func TestEncodeStruct(t *testing.T) {
	type user struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
	}
	tree, err := Encode(user{Name: "x", Age: 3})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"name": "x", "age": float64(3)}, tree)
}

func TestDecodeJavascriptRegExp(t *testing.T) {
	var out interface{}
	err := Tagged{}.Unmarshal([]byte(`{"__type":"RegExp","value":{"source":"abc","flags":"gi"}}`), &out)
	require.NoError(t, err)
	assert.True(t, out.(*regexp.Regexp).MatchString("xABCx"))
}

func TestDecodeErrors(t *testing.T) {
	var out interface{}
	assert.Error(t, Tagged{}.Unmarshal([]byte(`{"__type":"Date","value":"yesterday"}`), &out))
	assert.Error(t, Tagged{}.Unmarshal([]byte(`{"__type":"BigInt","value":"12x"}`), &out))
	assert.Error(t, Tagged{}.Unmarshal([]byte(`{"__type":"Map","value":[[1]]}`), &out))
	assert.Error(t, Tagged{}.Unmarshal([]byte(`not json`), &out))
	assert.Equal(t, ErrInvalidTarget, Tagged{}.Unmarshal([]byte(`{}`), out))
}

func TestUnknownTagIsPlainObject(t *testing.T) {
	var out interface{}
	require.NoError(t, Tagged{}.Unmarshal([]byte(`{"__type":"Symbol","value":"x"}`), &out))
	assert.Equal(t, map[string]interface{}{"__type": "Symbol", "value": "x"}, out)
}

func TestRecordRoundTrip(t *testing.T) {
	now := time.UnixMilli(time.Now().UnixMilli())
	r := &store.Record{
		Value:    map[string]interface{}{"seen": now},
		Created:  now,
		Updated:  now.Add(time.Second),
		Expires:  now.Add(time.Hour),
		Tags:     []string{"a"},
		Metadata: map[string]interface{}{"ttl": float64(3600000), "sliding": true},
	}

	b, err := EncodeRecord(r)
	require.NoError(t, err)

	got, err := DecodeRecord(b)
	require.NoError(t, err)
	assert.True(t, r.Created.Equal(got.Created))
	assert.True(t, r.Updated.Equal(got.Updated))
	assert.True(t, r.Expires.Equal(got.Expires))
	assert.Equal(t, r.Tags, got.Tags)
	assert.Equal(t, r.Metadata, got.Metadata)
	assert.True(t, now.Equal(got.Value.(map[string]interface{})["seen"].(time.Time)))

	r.Expires = time.Time{}
	b, err = EncodeRecord(r)
	require.NoError(t, err)
	got, err = DecodeRecord(b)
	require.NoError(t, err)
	assert.True(t, got.Expires.IsZero())
}
