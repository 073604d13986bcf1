package rtype

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsUnboxed(t *testing.T) {
	assert.True(t, IsUnboxed(RInt))
	assert.True(t, IsUnboxed(RBool))
	assert.True(t, IsUnboxed(RFloat))
	assert.True(t, IsUnboxed(&RTuple{Items: []RType{RInt, RBool}}))
	assert.False(t, IsUnboxed(&RTuple{Items: []RType{RInt, RStr}}))
	assert.False(t, IsUnboxed(RStr))
	assert.False(t, IsUnboxed(RObject))
	assert.False(t, IsUnboxed(&RUnion{Members: []RType{RInt, RStr}}))
}

func TestErrorOverlap(t *testing.T) {
	assert.True(t, ErrorOverlap(RBool), "bool's sentinel 2 is never a legal bool, but overlap still requires a flag per spec")
	assert.True(t, ErrorOverlap(RFloat))
	assert.False(t, ErrorOverlap(RInt), "tagged int's sentinel bit pattern never overlaps a legal tagged value")
	assert.False(t, ErrorOverlap(RStr))
}

func TestFloatSentinelIsNaN(t *testing.T) {
	require.True(t, math.IsNaN(RFloat.ErrorFloat))
}

func TestNeedsRefcount(t *testing.T) {
	assert.False(t, NeedsRefcount(RInt))
	assert.False(t, NeedsRefcount(&RStruct{Name: "GenState"}))
	assert.False(t, NeedsRefcount(Void))
	assert.True(t, NeedsRefcount(RStr))
	assert.True(t, NeedsRefcount(RObject))
	assert.True(t, NeedsRefcount(&RUnion{Members: []RType{RInt, RStr}}),
		"a union able to carry a boxed member is always treated as boxed")
	assert.True(t, NeedsRefcount(&RInstance{ClassName: "pkg.Foo"}))
}

func TestBox(t *testing.T) {
	assert.Equal(t, RInt, Box(RInt))
	assert.Equal(t, RInt, Box(RI32))
	assert.Equal(t, RHeapTuple, Box(&RTuple{Items: []RType{RInt, RInt}}))
	assert.Equal(t, RObject, Box(RObject))
}

func TestJoin(t *testing.T) {
	assert.Equal(t, RInt, Join(RInt, RInt))
	assert.Equal(t, RFloat, Join(RInt, RFloat), "numeric join widens towards float")
	assert.Equal(t, RObject, Join(RStr, RInt), "no tighter join exists across unrelated primitives")

	a := &RInstance{ClassName: "pkg.Animal"}
	b := &RInstance{ClassName: "pkg.Animal"}
	assert.Equal(t, a, Join(a, b))

	c := &RInstance{ClassName: "pkg.Other"}
	assert.Equal(t, RObject, Join(a, c))
}
