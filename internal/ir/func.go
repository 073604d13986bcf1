package ir

import "github.com/mypyc-go/pyc/internal/rtype"

// FuncFlags records boolean properties of a FuncIR.
type FuncFlags struct {
	IsGenerator bool
	IsProperty  bool
	IsStatic    bool
	IsAbstract  bool
}

// Signature is a function's declared argument/return RTypes.
type Signature struct {
	ArgTypes []rtype.RType
	ArgNames []string
	RetType  rtype.RType
	Variadic bool
}

// FuncIR is a compiled function: name, signature, argument registers,
// basic blocks, and flags (spec.md §3). A FuncIR owns its BasicBlocks
// and Registers.
type FuncIR struct {
	Name      string
	Sig       Signature
	Args      []*Register
	Blocks    []*BasicBlock
	Entry     *BasicBlock
	Flags     FuncFlags
	GenState  *rtype.RStruct // non-nil when Flags.IsGenerator: the reified state-machine frame
}

// Finalize prunes blocks unreachable from Entry, the step spec.md §3
// assigns to "the refcount pass or earlier". Called once building and
// all three transform passes have run.
func (f *FuncIR) Finalize() {
	if f.Entry == nil {
		return
	}
	reach := Reachable(f.Entry)
	keep := make(map[*BasicBlock]bool, len(reach))
	for _, b := range reach {
		keep[b] = true
	}
	f.Blocks = reach
	_ = keep
}

// AllOps iterates every op across every block in order.
func (f *FuncIR) AllOps() []Op {
	var ops []Op
	for _, b := range f.Blocks {
		ops = append(ops, b.Ops...)
	}
	return ops
}
