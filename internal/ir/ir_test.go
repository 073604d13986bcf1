package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/mypyc-go/pyc/internal/rtype"
)

func TestBuilderGotoBranch(t *testing.T) {
	b := NewBuilder()
	entry := b.NewBlock()
	then := b.NewBlock()
	els := b.NewBlock()
	join := b.NewBlock()

	b.Activate(entry)
	cond := b.Regs.New("cond", rtype.RBool)
	b.Branch(cond, then, els)

	b.Activate(then)
	b.Goto(join)

	b.Activate(els)
	b.Goto(join)

	b.Activate(join)
	b.Emit(&Return{Value: cond})

	require.NotNil(t, entry.Terminator())
	assert.Equal(t, OBranch, entry.Terminator().Kind())
	assert.ElementsMatch(t, []*BasicBlock{then, els}, entry.Successors())
	assert.ElementsMatch(t, []*BasicBlock{entry}, then.Predecessors())
	assert.ElementsMatch(t, []*BasicBlock{then, els}, join.Predecessors())
}

func TestBlockSingleTerminatorInvariant(t *testing.T) {
	b := NewBuilder()
	blk := b.NewBlock()
	other := b.NewBlock()
	b.Activate(blk)
	b.Goto(other)

	assert.Panics(t, func() {
		blk.Append(&Unreachable{})
	}, "a second terminator must never be appended after the first")
}

func TestReachablePrunesDeadBlocks(t *testing.T) {
	b := NewBuilder()
	entry := b.NewBlock()
	live := b.NewBlock()
	dead := b.NewBlock() // never reached from entry

	b.Activate(entry)
	b.Goto(live)
	b.Activate(live)
	b.Emit(&Return{})
	_ = dead

	reach := Reachable(entry)
	assert.Len(t, reach, 2)
	assert.Contains(t, reach, entry)
	assert.Contains(t, reach, live)
	assert.NotContains(t, reach, dead)
}

func TestVTableRespectsBase(t *testing.T) {
	base := &ClassIR{
		Name: "pkg.Animal",
		VTable: []VTableEntry{
			{Name: "speak", FuncName: "pkg.Animal.speak"},
			{Name: "name", FuncName: "pkg.Animal.name"},
		},
	}
	derivedOK := &ClassIR{
		Name: "pkg.Dog",
		Base: "pkg.Animal",
		VTable: []VTableEntry{
			{Name: "speak", FuncName: "pkg.Dog.speak"}, // override in place
			{Name: "name", FuncName: "pkg.Animal.name"},
			{Name: "fetch", FuncName: "pkg.Dog.fetch"}, // new method appended
		},
	}
	derivedBad := &ClassIR{
		Name: "pkg.Cat",
		Base: "pkg.Animal",
		VTable: []VTableEntry{
			{Name: "name", FuncName: "pkg.Animal.name"}, // reordered: violates invariant
			{Name: "speak", FuncName: "pkg.Cat.speak"},
		},
	}

	assert.True(t, VTableRespectsBase(derivedOK, base))
	assert.False(t, VTableRespectsBase(derivedBad, base))
	assert.True(t, VTableRespectsBase(base, nil))
}

func TestRecomputePredecessorsReflectsRetargetedTerminator(t *testing.T) {
	b := NewBuilder()
	entry := b.NewBlock()
	a := b.NewBlock()
	c := b.NewBlock()

	b.Activate(entry)
	b.Goto(a)
	assert.ElementsMatch(t, []*BasicBlock{entry}, a.Predecessors())
	assert.Empty(t, c.Predecessors())

	// Retarget entry's terminator from a to c directly, as a pass would.
	entry.Ops[len(entry.Ops)-1].(*Goto).Target = c
	RecomputePredecessors(b.Blocks())

	assert.Empty(t, a.Predecessors())
	assert.ElementsMatch(t, []*BasicBlock{entry}, c.Predecessors())
}

func TestFuncDumpIncludesBlocksAndOps(t *testing.T) {
	b := NewBuilder()
	entry := b.NewBlock()
	b.Activate(entry)
	x := b.Regs.New("x", rtype.RInt)
	b.Emit(&Return{Value: x})

	f := &FuncIR{
		Name:   "pkg.f",
		Sig:    Signature{RetType: rtype.RInt},
		Blocks: b.Blocks(),
		Entry:  entry,
	}
	dump := f.Dump()
	assert.Contains(t, dump, "func pkg.f")
	assert.Contains(t, dump, "bb0:")
	assert.Contains(t, dump, "return x")
}
