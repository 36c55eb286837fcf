package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortMultiKey(t *testing.T) {
	values := []interface{}{
		obj{"a": 1, "b": 2},
		obj{"a": 1, "b": 1},
	}
	Sort(values, Order{Asc("a"), Asc("b")})
	assert.Equal(t, obj{"a": 1, "b": 1}, values[0])
	assert.Equal(t, obj{"a": 1, "b": 2}, values[1])
}

func TestSortStable(t *testing.T) {
	values := []interface{}{
		obj{"g": "x", "id": 1},
		obj{"g": "y", "id": 2},
		obj{"g": "x", "id": 3},
		obj{"g": "y", "id": 4},
	}
	Sort(values, Order{Desc("g")})

	var ids []interface{}
	for _, v := range values {
		ids = append(ids, v.(obj)["id"])
	}
	assert.Equal(t, []interface{}{2, 4, 1, 3}, ids)
}

func TestSortMissingFirst(t *testing.T) {
	values := []interface{}{obj{"n": 2}, obj{}, obj{"n": nil}, obj{"n": 1}}
	Sort(values, Order{Asc("n")})
	assert.Equal(t, obj{}, values[0])
	assert.Equal(t, obj{"n": nil}, values[1])
	assert.Equal(t, obj{"n": 1}, values[2])
}

func TestSortFunc(t *testing.T) {
	type entry struct {
		key   string
		value interface{}
	}
	items := []entry{
		{"k1", obj{"score": 5}},
		{"k2", obj{"score": 9}},
		{"k3", obj{"score": 7}},
	}
	SortFunc(items, func(e entry) interface{} { return e.value }, Order{Desc("score")})
	assert.Equal(t, "k2", items[0].key)
	assert.Equal(t, "k3", items[1].key)
	assert.Equal(t, "k1", items[2].key)
}

func TestParseOrder(t *testing.T) {
	o, err := ParseOrder("a, -b.c,+d")
	require.NoError(t, err)
	assert.Equal(t, Order{Asc("a"), Desc("b.c"), Asc("d")}, o)

	_, err = ParseOrder("a,-")
	assert.Error(t, err)

	assert.Equal(t, Order{Asc("a"), Desc("b"), Desc("c")}, OrderOf("a", 1, "b", -1, "c", "desc"))
}
