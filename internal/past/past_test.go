package past

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/mypyc-go/pyc/internal/rtype"
)

func TestBuilderRegistersTypes(t *testing.T) {
	b := NewBuilder()
	x := b.Name("x", rtype.RInt)
	y := b.IntLit(1, rtype.RInt)
	sum := b.BinOp("+", x, y, rtype.RInt)

	assert.Equal(t, rtype.RInt, b.Types[x])
	assert.Equal(t, rtype.RInt, b.Types[y])
	assert.Equal(t, rtype.RInt, b.Types[sum])
}

func TestPositionString(t *testing.T) {
	assert.Equal(t, "<unknown>", Position{}.String())
	assert.Equal(t, "a.py:3:5", Position{File: "a.py", Line: 3, Col: 5}.String())
	assert.Equal(t, "a.py:3", Position{File: "a.py", Line: 3}.String())
}
