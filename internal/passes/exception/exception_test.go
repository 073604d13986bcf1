package exception

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mypyc-go/pyc/internal/ir"
	"github.com/mypyc-go/pyc/internal/rtype"
)

// buildGetAttrReturn models spec.md §8 scenario 2: `def getx(p: P) ->
// int: return p.x`. GetAttr's error signal is ErrorSentinelValue (int
// has no error overlap), so the pass must branch on a CheckError test
// rather than on a paired flag, with the raised edge reaching the
// function's epilogue (there is no active handler).
func buildGetAttrReturn(t *testing.T) (*ir.FuncIR, *ir.GetAttr) {
	t.Helper()
	b := ir.NewBuilder()
	entry := b.NewBlock()
	b.Activate(entry)

	pArg := b.Regs.New("p", rtype.RObject)
	x := b.Regs.New("x", rtype.RInt)
	get := &ir.GetAttr{Dest: x, Obj: pArg, Name: "x"}
	b.Emit(get)
	b.Emit(&ir.Return{Value: x})

	f := &ir.FuncIR{
		Name:   "pkg.getx",
		Sig:    ir.Signature{ArgTypes: []rtype.RType{rtype.RObject}, ArgNames: []string{"p"}, RetType: rtype.RInt},
		Args:   []*ir.Register{pArg},
		Blocks: b.Blocks(),
		Entry:  entry,
	}
	return f, get
}

func TestRunRoutesUnhandledSentinelRaiseToEpilogue(t *testing.T) {
	f, _ := buildGetAttrReturn(t)
	inserted := Run(f, nil)
	require.Equal(t, 1, inserted)

	var foundCheck bool
	var foundEpilogue bool
	for _, blk := range f.Blocks {
		for _, op := range blk.Ops {
			if _, ok := op.(*ir.CheckError); ok {
				foundCheck = true
			}
			if _, ok := op.(*ir.RaiseAndReturn); ok {
				foundEpilogue = true
			}
		}
	}
	assert.True(t, foundCheck, "expected a CheckError op testing GetAttr's sentinel result")
	assert.True(t, foundEpilogue, "expected a RaiseAndReturn epilogue block for the unhandled raise")

	// The block containing the GetAttr must end in a Branch whose
	// false edge is the epilogue (CheckError true means failure).
	for _, blk := range f.Blocks {
		for _, op := range blk.Ops {
			if _, ok := op.(*ir.GetAttr); !ok {
				continue
			}
			br, ok := blk.Terminator().(*ir.Branch)
			require.True(t, ok, "block containing GetAttr must be split and end in a Branch")
			_, epilogueTrue := br.TrueBlock.Ops[0].(*ir.RaiseAndReturn)
			assert.True(t, epilogueTrue, "the raised edge must target the epilogue block")
		}
	}
}

// buildFloatOpReturn models `def add(x: float, y: float) -> float:
// return x + y`. float always carries error overlap, so FloatOp's
// ErrorSignal is ErrorPairedFlag: the pass must branch directly on the
// op's own Flag register, inserting no CheckError.
func buildFloatOpReturn(t *testing.T) (*ir.FuncIR, *ir.FloatOp) {
	t.Helper()
	b := ir.NewBuilder()
	entry := b.NewBlock()
	b.Activate(entry)

	xArg := b.Regs.New("x", rtype.RFloat)
	yArg := b.Regs.New("y", rtype.RFloat)
	sum := b.Regs.New("sum", rtype.RFloat)
	flag := b.Regs.New("flag", rtype.RBool)
	op := &ir.FloatOp{Dest: sum, OpK: ir.IntAdd, Lhs: xArg, Rhs: yArg, Flag: flag}
	b.Emit(op)
	b.Emit(&ir.Return{Value: sum})

	f := &ir.FuncIR{
		Name:   "pkg.add",
		Sig:    ir.Signature{ArgTypes: []rtype.RType{rtype.RFloat, rtype.RFloat}, ArgNames: []string{"x", "y"}, RetType: rtype.RFloat},
		Args:   []*ir.Register{xArg, yArg},
		Blocks: b.Blocks(),
		Entry:  entry,
	}
	return f, op
}

func TestRunBranchesOnOwnFlagForPairedFlagOps(t *testing.T) {
	f, op := buildFloatOpReturn(t)
	inserted := Run(f, nil)
	require.Equal(t, 1, inserted)

	for _, blk := range f.Blocks {
		for _, o := range blk.Ops {
			_, isCheck := o.(*ir.CheckError)
			assert.False(t, isCheck, "a paired-flag op must never get a CheckError, only a direct branch on its own flag")
		}
		br, ok := blk.Terminator().(*ir.Branch)
		if !ok {
			continue
		}
		for _, o := range blk.Ops {
			if o == op {
				assert.Equal(t, op.Flag, br.Cond, "the branch guarding a paired-flag op must test its own Flag register")
			}
		}
	}
}

// buildHandledRaise models a raising op inside a try/except span: the
// caller-supplied HandlerMap should route the raised edge to the
// handler block instead of a fresh epilogue.
func TestRunRoutesHandledRaiseToHandlerBlock(t *testing.T) {
	f, get := buildGetAttrReturn(t)
	handlerBlock := &ir.BasicBlock{Label: "handler", Ops: []ir.Op{&ir.Unreachable{}}}

	var raisingBlock *ir.BasicBlock
	for _, blk := range f.Blocks {
		for _, op := range blk.Ops {
			if op == get {
				raisingBlock = blk
			}
		}
	}
	require.NotNil(t, raisingBlock)

	handlers := HandlerMap{raisingBlock: handlerBlock}
	inserted := Run(f, handlers)
	require.Equal(t, 1, inserted)

	for _, blk := range f.Blocks {
		br, ok := blk.Terminator().(*ir.Branch)
		if !ok {
			continue
		}
		if br.TrueBlock == handlerBlock || br.FalseBlock == handlerBlock {
			return
		}
	}
	t.Fatal("expected the raised edge to target the supplied handler block")
}

func TestRunIsNoOpOnFunctionWithNoRaisingOps(t *testing.T) {
	f := buildAssignThenReturn(t)
	inserted := Run(f, nil)
	assert.Equal(t, 0, inserted)
}

func buildAssignThenReturn(t *testing.T) *ir.FuncIR {
	t.Helper()
	b := ir.NewBuilder()
	entry := b.NewBlock()
	b.Activate(entry)

	one := b.Regs.New("one", rtype.RInt)
	x := b.Regs.New("x", rtype.RInt)
	b.Emit(&ir.LoadLiteral{Dest: one, LitK: ir.LitInt, IntVal: 1})
	b.Emit(&ir.Assign{Dest: x, Src: one})
	b.Emit(&ir.Return{Value: x})

	return &ir.FuncIR{
		Name:   "pkg.f",
		Sig:    ir.Signature{RetType: rtype.RInt},
		Blocks: b.Blocks(),
		Entry:  entry,
	}
}
