package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProjectInclude(t *testing.T) {
	assert.Equal(t, obj{"name": "x"}, Project(obj{"name": "x", "age": 1}, Projection{"name": 1}))

	doc := obj{"a": obj{"b": 1, "c": 2}, "d": 3}
	assert.Equal(t, obj{"a": obj{"b": 1}}, Project(doc, Projection{"a.b": true}))
	assert.Equal(t, obj{"d": 3}, Project(doc, Projection{"d": 1, "missing": 1}))
}

func TestProjectExclude(t *testing.T) {
	doc := obj{"a": obj{"b": 1, "c": 2}, "d": 3}

	got := Project(doc, Projection{"a.c": 0, "d": false})
	assert.Equal(t, obj{"a": obj{"b": 1}}, got)
	// the input is left intact
	assert.Equal(t, obj{"a": obj{"b": 1, "c": 2}, "d": 3}, doc)
}

func TestProjectMixedIsInclusion(t *testing.T) {
	doc := obj{"name": "x", "age": 1, "city": "y"}
	assert.Equal(t, obj{"name": "x"}, Project(doc, Projection{"name": 1, "age": 0}))
}

func TestProjectPassThrough(t *testing.T) {
	assert.Equal(t, "scalar", Project("scalar", Projection{"a": 1}))
	doc := obj{"a": 1}
	assert.Equal(t, doc, Project(doc, Projection{}))
}

func TestParseProjection(t *testing.T) {
	assert.Equal(t, Projection{"a": 1, "b.c": 1}, ParseProjection("a, b.c"))
	p := ParseProjection("-a,-b")
	assert.False(t, p.Inclusive())
	assert.True(t, ParseProjection("a,-b").Inclusive())
}
