package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mypyc-go/pyc/internal/rtype"
)

func TestDefaultRegistryValidates(t *testing.T) {
	r := Default()
	require.NotEmpty(t, r.Shapes())
}

func TestLookupPrefersMostSpecific(t *testing.T) {
	r := New()
	r.Register(Rule{Shape: "call:len", ArgKinds: []rtype.Primitive{Wildcard()}, CHelper: "generic"})
	r.Register(Rule{Shape: "call:len", ArgKinds: []rtype.Primitive{rtype.Str}, CHelper: "specific"})
	require.NoError(t, r.Validate())

	rule, ok := r.Lookup("call:len", []rtype.Primitive{rtype.Str})
	require.True(t, ok)
	assert.Equal(t, "specific", rule.CHelper)

	rule, ok = r.Lookup("call:len", []rtype.Primitive{rtype.List})
	require.True(t, ok)
	assert.Equal(t, "generic", rule.CHelper)
}

func TestLookupMissReturnsFalse(t *testing.T) {
	r := New()
	_, ok := r.Lookup("call:nope", []rtype.Primitive{rtype.Int})
	assert.False(t, ok)
}

func TestValidateRejectsAmbiguousTies(t *testing.T) {
	r := New()
	r.Register(Rule{Shape: "binop:+", ArgKinds: []rtype.Primitive{rtype.Int, rtype.Int}, CHelper: "a"})
	r.Register(Rule{Shape: "binop:+", ArgKinds: []rtype.Primitive{rtype.Int, rtype.Int}, CHelper: "b"})
	assert.Error(t, r.Validate())
}

func TestDefaultCoversIntAndFloatArithmetic(t *testing.T) {
	r := Default()
	rule, ok := r.Lookup("binop:+", []rtype.Primitive{rtype.Int, rtype.Int})
	require.True(t, ok)
	assert.True(t, rule.Direct)

	rule, ok = r.Lookup("binop:/", []rtype.Primitive{rtype.Float, rtype.Float})
	require.True(t, ok)
	assert.Equal(t, rtype.Float, rule.ReturnKind)
}

func TestDefaultLenDispatchesPerContainer(t *testing.T) {
	r := Default()
	rule, ok := r.Lookup("call:len", []rtype.Primitive{rtype.Dict})
	require.True(t, ok)
	assert.Equal(t, "CPyDict_Size", rule.CHelper)

	rule, ok = r.Lookup("call:len", []rtype.Primitive{rtype.Object})
	require.True(t, ok)
	assert.Equal(t, "CPyObject_Size", rule.CHelper, "object falls through to the wildcard rule")
}
