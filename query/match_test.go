package query

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type obj = map[string]interface{}
type list = []interface{}

func match(t *testing.T, v interface{}, cond interface{}) bool {
	t.Helper()
	ok, err := Matches(v, cond)
	require.NoError(t, err)
	return ok
}

func TestMatchLiteral(t *testing.T) {
	now := time.Now()

	assert.True(t, match(t, "x", "x"))
	assert.False(t, match(t, "x", "y"))
	assert.True(t, match(t, float64(3), 3))
	assert.True(t, match(t, int64(3), float64(3)))
	assert.False(t, match(t, "3", 3))
	assert.True(t, match(t, now, now.UTC()))
	assert.True(t, match(t, list{1, "a", list{true}}, list{1, "a", list{true}}))
	assert.False(t, match(t, list{1, 2}, list{1}))
	assert.False(t, match(t, list{1, 2}, list{2, 1}))
}

func TestMatchSelf(t *testing.T) {
	values := []interface{}{
		"text",
		float64(42),
		true,
		list{},
		list{float64(1), "two", obj{"three": float64(3)}},
		obj{},
		obj{"a": obj{"b": list{float64(1), "x"}}, "c.d": true, "e": nil},
		obj{"user": obj{"name": "ann", "tags": list{"a", "b"}, "address": obj{"zip": "1000"}}},
	}

	for _, v := range values {
		assert.Truef(t, match(t, v, v), "%v should match itself", v)
	}
}

func TestMatchFields(t *testing.T) {
	doc := obj{
		"name": "ann",
		"age":  float64(31),
		"address": obj{
			"city": "Oslo",
			"geo":  obj{"lat": 59.9},
		},
		"tags":   list{"admin", "dev"},
		"joined": time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	t.Run("Equality", func(t *testing.T) {
		assert.True(t, match(t, doc, obj{"name": "ann"}))
		assert.True(t, match(t, doc, obj{"address.city": "Oslo"}))
		assert.True(t, match(t, doc, obj{"address": obj{"geo.lat": 59.9}}))
		assert.False(t, match(t, doc, obj{"address.city": "Bergen"}))
		assert.True(t, match(t, doc, obj{"name": obj{"$eq": "ann"}, "age": obj{"$ne": 30}}))
		assert.True(t, match(t, doc, obj{"tags": list{"admin", "dev"}}))
		assert.True(t, match(t, doc, obj{"tags.1": "dev"}))
	})

	t.Run("Ordering", func(t *testing.T) {
		assert.True(t, match(t, doc, obj{"age": obj{"$gt": 30, "$lte": 31}}))
		assert.False(t, match(t, doc, obj{"age": obj{"$gte": 32}}))
		assert.True(t, match(t, doc, obj{"age": obj{"$lt": 100}}))
		assert.True(t, match(t, doc, obj{"name": obj{"$gt": "abe", "$lt": "bob"}}))
		assert.True(t, match(t, doc, obj{"joined": obj{"$lt": time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)}}))
	})

	t.Run("Membership", func(t *testing.T) {
		assert.True(t, match(t, doc, obj{"name": obj{"$in": list{"bob", "ann"}}}))
		assert.False(t, match(t, doc, obj{"name": obj{"$nin": list{"bob", "ann"}}}))
		assert.True(t, match(t, doc, obj{"tags": obj{"$in": list{"ops", "dev"}}}))
		assert.False(t, match(t, doc, obj{"tags": obj{"$in": list{"ops"}}}))
		// $nin compares a collection whole
		assert.True(t, match(t, doc, obj{"tags": obj{"$nin": list{"admin"}}}))
		assert.False(t, match(t, doc, obj{"tags": obj{"$nin": list{list{"admin", "dev"}}}}))
		assert.True(t, match(t, doc, obj{"age": obj{"$in": float64(31)}}))
	})

	t.Run("Pattern", func(t *testing.T) {
		assert.True(t, match(t, doc, obj{"name": obj{"$regex": "^a"}}))
		assert.True(t, match(t, doc, obj{"address.city": obj{"$regex": regexp.MustCompile(`(?i)^oslo$`)}}))
		assert.False(t, match(t, doc, obj{"age": obj{"$regex": "31"}}))
	})

	t.Run("Type", func(t *testing.T) {
		assert.True(t, match(t, doc, obj{"tags": obj{"$type": "array"}}))
		assert.True(t, match(t, doc, obj{"joined": obj{"$type": "date"}}))
		assert.True(t, match(t, doc, obj{"age": obj{"$type": "number"}}))
		assert.True(t, match(t, doc, obj{"address": obj{"$type": "object"}}))
		assert.False(t, match(t, doc, obj{"name": obj{"$type": "number"}}))
	})

	t.Run("Combinators", func(t *testing.T) {
		assert.True(t, match(t, doc, obj{"$or": list{obj{"name": "bob"}, obj{"age": 31}}}))
		assert.False(t, match(t, doc, obj{"$and": list{obj{"name": "ann"}, obj{"age": 30}}}))
		assert.True(t, match(t, doc, obj{"age": obj{"$not": obj{"$gt": 40}}}))
		assert.True(t, match(t, doc, obj{"$or": list{obj{"name": "bob"}, obj{"tags": "x"}, obj{"age": obj{"$gt": 1}}}, "address.city": "Oslo"}))
		assert.False(t, match(t, doc, obj{"$or": list{obj{"name": "ann"}}, "address.city": "Bergen"}))
		assert.True(t, match(t, float64(5), obj{"$and": list{obj{"$gt": 1}, obj{"$lt": 10}}}))
	})
}

func TestMatchAbsent(t *testing.T) {
	doc := obj{"a": float64(1), "n": nil}

	assert.True(t, match(t, doc, obj{"b": obj{"$exists": false}}))
	assert.False(t, match(t, doc, obj{"b": obj{"$exists": true}}))
	assert.True(t, match(t, doc, obj{"n": obj{"$exists": true}}))
	assert.True(t, match(t, doc, obj{"b": obj{"$ne": 1}}))
	assert.False(t, match(t, doc, obj{"b": obj{"$eq": 1}}))
	assert.True(t, match(t, doc, obj{"n": nil}))
	assert.True(t, match(t, doc, obj{"n": obj{"$eq": nil}}))
	assert.False(t, match(t, doc, obj{"b": nil}))

	// anything else never matches an absent value
	assert.False(t, match(t, doc, obj{"b": obj{"$lt": 5}}))
	assert.False(t, match(t, doc, obj{"n": obj{"$in": list{nil}}}))
	assert.False(t, match(t, doc, obj{"b": obj{"$type": "undefined"}}))
	assert.True(t, match(t, doc, obj{"b": obj{"$exists": false, "$type": "undefined"}}))
	assert.False(t, match(t, doc, obj{"b": obj{"x": 1}}))
	assert.False(t, match(t, nil, obj{}))
	assert.True(t, match(t, nil, nil))
	assert.True(t, Match(nil, nil))
}

func TestParseErrors(t *testing.T) {
	_, err := Parse(obj{"name": obj{"$regex": "("}})
	assert.ErrorIs(t, err, ErrInvalidCondition)

	_, err = Parse(obj{"$where": "1"})
	assert.ErrorIs(t, err, ErrUnknownOperator)

	_, err = Parse(obj{"a": obj{"b": obj{"$bad": 1}}})
	assert.ErrorIs(t, err, ErrUnknownOperator)

	_, err = Parse(obj{"$or": "a"})
	assert.ErrorIs(t, err, ErrInvalidCondition)

	_, err = Parse(obj{"a": obj{"$type": 1}})
	assert.ErrorIs(t, err, ErrInvalidCondition)

	_, err = Parse(obj{"a": obj{"$regex": 5}})
	assert.ErrorIs(t, err, ErrInvalidCondition)

	assert.Panics(t, func() { MustParse(obj{"$nope": true}) })
}

func TestParseShape(t *testing.T) {
	c := MustParse(obj{"$gt": 1, "$lt": 5})
	ops, ok := c.(Operators)
	require.True(t, ok)
	assert.Len(t, ops, 2)
	assert.Equal(t, Gt, ops[0].Op)

	c = MustParse(obj{"$or": list{obj{"a": 1}}, "b": 2})
	f, ok := c.(Fields)
	require.True(t, ok)
	assert.Len(t, f.Ops, 1)
	assert.Equal(t, "b", f.Paths[0].Path)

	c = MustParse("x")
	assert.Equal(t, Literal{Value: "x"}, c)

	// parsed conditions pass through
	assert.Equal(t, c, MustParse(c))
}

func TestMatchNativeGoValues(t *testing.T) {
	v := map[string]int{"count": 3}
	assert.True(t, match(t, v, obj{"count": obj{"$gte": 3}}))

	type point struct{ X int }
	assert.True(t, match(t, []point{{1}}, []point{{1}}))
}

func TestMatchStructValues(t *testing.T) {
	type address struct {
		City string `json:"city"`
	}
	type user struct {
		Name    string    `json:"name"`
		Age     int       `json:"age"`
		Address *address  `json:"address"`
		Seen    time.Time `json:"seen"`
	}
	u := user{Name: "ada", Age: 36, Address: &address{City: "london"}, Seen: time.Now()}

	assert.True(t, match(t, u, obj{"name": "ada"}))
	assert.True(t, match(t, &u, obj{"age": obj{"$gt": 30}}))
	assert.True(t, match(t, u, obj{"address.city": "london"}))
	assert.False(t, match(t, u, obj{"name": "bob"}))
	assert.Equal(t, "ada", Get(u, "name"))
	assert.Equal(t, obj{"name": "ada"}, Project(u, Projection{"name": 1}))

	// values with their own comparison are not objects
	_, ok := asObject(u.Seen)
	assert.False(t, ok)
	_, ok = asObject(Undefined)
	assert.False(t, ok)
}

func TestFilter(t *testing.T) {
	items := []obj{{"n": 1}, {"n": 5}, {"n": 3}}
	got := Filter(items, func(o obj) interface{} { return o }, MustParse(obj{"n": obj{"$gte": 3}}))
	assert.Equal(t, []obj{{"n": 5}, {"n": 3}}, got)
}
