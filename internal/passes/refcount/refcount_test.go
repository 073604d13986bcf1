package refcount

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mypyc-go/pyc/internal/ir"
	"github.com/mypyc-go/pyc/internal/rtype"
)

// buildAttrReadReturn models spec.md §8 scenario 2: getx(p: P) -> int:
// return p.x, except with an object-typed attribute so the result
// participates in refcounting. GetAttr's result is owned and is the
// sole, immediately-consumed use, so no ops should be inserted.
func buildAttrReadReturn(t *testing.T) *ir.FuncIR {
	t.Helper()
	b := ir.NewBuilder()
	entry := b.NewBlock()
	b.Activate(entry)

	p := b.Regs.New("p", &rtype.RInstance{ClassName: "P"})
	x := b.Regs.New("x", rtype.RObject)
	b.Emit(&ir.GetAttr{Dest: x, Obj: p, Name: "x"})
	b.Emit(&ir.Return{Value: x})

	return &ir.FuncIR{
		Name:  "pkg.getx",
		Sig:   ir.Signature{ArgTypes: []rtype.RType{&rtype.RInstance{ClassName: "P"}}, ArgNames: []string{"p"}, RetType: rtype.RObject},
		Args:  []*ir.Register{p},
		Blocks: b.Blocks(),
		Entry: entry,
	}
}

func TestRunInsertsNothingWhenOwnedResultImmediatelyReturned(t *testing.T) {
	f := buildAttrReadReturn(t)
	inserted := Run(f)
	assert.Equal(t, 0, inserted)
}

// buildMergeWithBorrowedBranch models spec.md §8 scenario 5:
//
//	if cond: s = "a"
//	else:    s = borrowed_param
//	return s
//
// s is owned along the then-edge (a fresh string literal) and borrowed
// along the else-edge (an aliased parameter), so the join must receive
// a harmonizing IncRef on the else predecessor's out-edge.
func buildMergeWithBorrowedBranch(t *testing.T) (*ir.FuncIR, *ir.Register) {
	t.Helper()
	b := ir.NewBuilder()
	entry := b.NewBlock()
	thenBlk := b.NewBlock()
	elseBlk := b.NewBlock()
	join := b.NewBlock()

	cond := b.Regs.New("cond", rtype.RBool)
	borrowed := b.Regs.New("borrowed_param", rtype.RStr)
	s := b.Regs.New("s", rtype.RStr)

	f := &ir.FuncIR{
		Name: "pkg.pick",
		Sig: ir.Signature{
			ArgTypes: []rtype.RType{rtype.RBool, rtype.RStr},
			ArgNames: []string{"cond", "borrowed_param"},
			RetType:  rtype.RStr,
		},
		Args:  []*ir.Register{cond, borrowed},
		Entry: entry,
	}

	b.Activate(entry)
	b.Branch(cond, thenBlk, elseBlk)

	b.Activate(thenBlk)
	lit := b.Regs.New("lit", rtype.RStr)
	b.Emit(&ir.LoadLiteral{Dest: lit, LitK: ir.LitStr, StrVal: "a"})
	b.Emit(&ir.Assign{Dest: s, Src: lit})
	b.Goto(join)

	b.Activate(elseBlk)
	b.Emit(&ir.Assign{Dest: s, Src: borrowed})
	b.Goto(join)

	b.Activate(join)
	b.Emit(&ir.Return{Value: s})

	f.Blocks = b.Blocks()
	return f, s
}

func TestRunHarmonizesOwnershipAtMergeWithIncRefOnBorrowedEdge(t *testing.T) {
	f, s := buildMergeWithBorrowedBranch(t)
	inserted := Run(f)
	require.GreaterOrEqual(t, inserted, 1)

	var found bool
	for _, blk := range f.Blocks {
		for _, op := range blk.Ops {
			if inc, ok := op.(*ir.IncRef); ok && inc.Src == s {
				found = true
			}
		}
	}
	assert.True(t, found, "expected an IncRef(s) harmonizing the borrowed else-branch")

	// s is read at the join block's Return, so it must not be released
	// anywhere on the path into the join — a premature DecRef(s) on the
	// then-edge would free the pointer the join's Return still needs
	// (spec.md §8: "every owned register is released on every path to
	// exit exactly once", "Return always receives an owned value").
	for _, blk := range f.Blocks {
		for _, op := range blk.Ops {
			if dec, ok := op.(*ir.DecRef); ok {
				assert.NotEqual(t, s, dec.Src, "s is still live at the join's Return; must not be DecRef'd beforehand")
			}
		}
	}
}

// buildDeadOwnedResult produces an owned value via GetAttr that is
// never read again; spec.md §4.7 step 2 requires an immediate DecRef.
func buildDeadOwnedResult(t *testing.T) (*ir.FuncIR, *ir.Register) {
	t.Helper()
	b := ir.NewBuilder()
	entry := b.NewBlock()
	b.Activate(entry)

	p := b.Regs.New("p", &rtype.RInstance{ClassName: "P"})
	dead := b.Regs.New("dead", rtype.RObject)
	b.Emit(&ir.GetAttr{Dest: dead, Obj: p, Name: "y"})
	b.Emit(&ir.Return{})

	f := &ir.FuncIR{
		Name:  "pkg.sidefx",
		Sig:   ir.Signature{ArgTypes: []rtype.RType{&rtype.RInstance{ClassName: "P"}}, ArgNames: []string{"p"}, RetType: rtype.Void},
		Args:  []*ir.Register{p},
		Blocks: b.Blocks(),
		Entry: entry,
	}
	return f, dead
}

func TestRunDecrefsDeadOwnedResultImmediately(t *testing.T) {
	f, dead := buildDeadOwnedResult(t)
	inserted := Run(f)
	require.GreaterOrEqual(t, inserted, 1)

	ops := f.Entry.Ops
	var getAttrIdx, decIdx int = -1, -1
	for i, op := range ops {
		if _, ok := op.(*ir.GetAttr); ok {
			getAttrIdx = i
		}
		if dec, ok := op.(*ir.DecRef); ok && dec.Src == dead {
			decIdx = i
		}
	}
	require.NotEqual(t, -1, getAttrIdx)
	require.NotEqual(t, -1, decIdx)
	assert.Equal(t, getAttrIdx+1, decIdx, "DecRef must immediately follow the dead result's definition")
}

func TestRunSkipsUnboxedRegisters(t *testing.T) {
	b := ir.NewBuilder()
	entry := b.NewBlock()
	b.Activate(entry)

	x := b.Regs.New("x", rtype.RInt)
	y := b.Regs.New("y", rtype.RInt)
	sum := b.Regs.New("sum", rtype.RInt)
	b.Emit(&ir.IntOp{Dest: sum, OpK: ir.IntAdd, Lhs: x, Rhs: y})
	b.Emit(&ir.Return{Value: sum})

	f := &ir.FuncIR{
		Name:  "pkg.add",
		Sig:   ir.Signature{ArgTypes: []rtype.RType{rtype.RInt, rtype.RInt}, ArgNames: []string{"x", "y"}, RetType: rtype.RInt},
		Args:  []*ir.Register{x, y},
		Blocks: b.Blocks(),
		Entry: entry,
	}

	inserted := Run(f)
	assert.Equal(t, 0, inserted, "tagged int is unboxed and never participates in refcounting")
}
