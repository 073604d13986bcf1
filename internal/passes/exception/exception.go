// Package exception implements the second mandatory transform pass
// (spec.md §4.6): it walks every function's blocks once and, for each
// Op whose CanRaise annotation is non-never, splits the block
// immediately after the op and inserts an explicit branch on the op's
// error indicator. The "raised" edge targets the active handler (if the
// op sits inside a try/except span) or a shared exception epilogue that
// returns the function's own error sentinel to the caller.
//
// Unlike the uninit pass, this transformation needs no whole-function
// dataflow fixpoint: whether an op can raise, and which handler (if
// any) is active at that point, are both local facts already recorded
// on the op and in the caller-supplied HandlerMap. The block-splitting
// mechanics mirror internal/passes/uninit's (mutate the original block
// in place, append the new continuation/epilogue blocks once, then call
// ir.RecomputePredecessors), grounded on the same
// std/compiler/dce.go-derived splice pattern.
package exception

import (
	"fmt"

	"github.com/mypyc-go/pyc/internal/ir"
	"github.com/mypyc-go/pyc/internal/rtype"
)

// HandlerMap associates a block, as built by internal/irbuild, with the
// entry block of its innermost active try/except handler. A block
// absent from the map has no active handler; ops inside it that raise
// are routed to the function's exception epilogue instead. A nil
// HandlerMap is equivalent to an empty one — every raise is unhandled.
//
// internal/irbuild.Builder.lowerTry/lowerWith populate this map while
// lowering a protected region's blocks (internal/irbuild/build.go's
// mapUnhandledBlocksSince); BuildFunc returns it alongside the FuncIR
// for the caller to pass straight through to Run. A function with no
// try/except/with in its body returns an empty map, so every raise in
// it lands on the epilogue, same as if HandlerMap were nil.
type HandlerMap map[*ir.BasicBlock]*ir.BasicBlock

type splitState struct {
	newBlocks []*ir.BasicBlock
	counter   int
	epilogue  *ir.BasicBlock
}

// Run mutates f in place, making every raising op's control flow
// explicit. It returns the number of branches inserted.
func Run(f *ir.FuncIR, handlers HandlerMap) int {
	if f.Entry == nil || len(f.Blocks) == 0 {
		return 0
	}

	st := &splitState{}
	original := f.Blocks
	total := 0
	for _, b := range original {
		total += processBlock(st, f, b, handlers[b])
	}
	if total > 0 {
		f.Blocks = append(f.Blocks, st.newBlocks...)
		ir.RecomputePredecessors(f.Blocks)
	}
	return total
}

// processBlock splits b at every raising op, wiring the normal edge to
// a continuation block and the raised edge to handler (or a shared
// epilogue, lazily created via st). Returns the number of branches
// inserted.
func processBlock(st *splitState, f *ir.FuncIR, b *ir.BasicBlock, handler *ir.BasicBlock) int {
	cur := b
	inserted := 0

	for i := 0; i < len(cur.Ops); i++ {
		op := cur.Ops[i]
		if op.CanRaise() == ir.NeverRaises {
			continue
		}

		remainder := append([]ir.Op{}, cur.Ops[i+1:]...)
		cur.Ops = cur.Ops[:i+1] // keep the raising op itself in cur

		cont := &ir.BasicBlock{Label: fmt.Sprintf("%s.ok%d", b.Label, st.counter)}
		st.counter++
		cont.Ops = remainder

		target := handler
		if target == nil {
			target = epilogueFor(st, f)
		}

		hb := ir.NewBuilder()
		hb.Activate(cur)
		switch op.ErrorSignal() {
		case ir.ErrorPairedFlag:
			hb.Branch(op.ErrorFlag(), target, cont)
		case ir.ErrorSentinelValue, ir.ErrorAlwaysChecked:
			checkReg := &ir.Register{ID: -1, Name: fmt.Sprintf("errflag_%d", st.counter), Type: rtype.RBool}
			hb.Emit(&ir.CheckError{Dest: checkReg, Value: op.Defines()})
			hb.Branch(checkReg, target, cont)
		default:
			// Every CanRaise()-non-never Op in the closed variant set
			// reports ErrorSentinelValue, ErrorPairedFlag, or
			// ErrorAlwaysChecked; this default has no live op to hit.
			hb.Goto(cont)
		}

		st.newBlocks = append(st.newBlocks, cont)
		inserted++

		cur = cont
		i = -1 // restart scanning cont's ops (index 0 next iteration)
	}
	return inserted
}

// epilogueFor returns the function's shared exception epilogue block,
// creating it on first use. Every unhandled raise in f ends up here.
func epilogueFor(st *splitState, f *ir.FuncIR) *ir.BasicBlock {
	if st.epilogue != nil {
		return st.epilogue
	}
	blk := &ir.BasicBlock{Label: "epilogue"}
	blk.Ops = []ir.Op{&ir.RaiseAndReturn{RetType: f.Sig.RetType}}
	st.epilogue = blk
	st.newBlocks = append(st.newBlocks, blk)
	return blk
}
