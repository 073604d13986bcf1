package ir

import "fmt"

// BasicBlock is an ordered sequence of ops ending in exactly one
// terminator (spec.md §3). No terminator may appear mid-block.
type BasicBlock struct {
	Label       string
	Ops         []Op
	preds       []*BasicBlock
	Unreachable bool // not set by any pass; FuncIR.Finalize prunes by reachability from Entry instead
}

// Terminator returns the block's terminating Op, or nil if the block
// has not yet been closed by the builder.
func (b *BasicBlock) Terminator() Op {
	if len(b.Ops) == 0 {
		return nil
	}
	last := b.Ops[len(b.Ops)-1]
	switch last.Kind() {
	case OGoto, OBranch, OReturn, OUnreachable, ORaiseAndReturn:
		return last
	default:
		return nil
	}
}

// Successors returns the blocks this block's terminator can transfer
// control to, or nil if unterminated or a sink terminator.
func (b *BasicBlock) Successors() []*BasicBlock {
	switch t := b.Terminator().(type) {
	case *Goto:
		return []*BasicBlock{t.Target}
	case *Branch:
		return []*BasicBlock{t.TrueBlock, t.FalseBlock}
	default:
		return nil
	}
}

func (b *BasicBlock) Predecessors() []*BasicBlock { return b.preds }

func (b *BasicBlock) addPred(p *BasicBlock) {
	for _, existing := range b.preds {
		if existing == p {
			return
		}
	}
	b.preds = append(b.preds, p)
}

// Append adds a non-terminating op to the block. Panics if the block
// is already terminated, enforcing the "exactly one terminator, at the
// end" invariant (spec.md §3, §8) at construction time rather than
// discovering the violation later during a pass.
func (b *BasicBlock) Append(op Op) {
	if b.Terminator() != nil {
		panic(fmt.Sprintf("ir: append to already-terminated block %s", b.Label))
	}
	b.Ops = append(b.Ops, op)
}

// Builder constructs a CFG for one function: new_block/goto/branch/
// activate, per spec.md §4.2.
type Builder struct {
	Regs    *RegisterAllocator
	blocks  []*BasicBlock
	active  *BasicBlock
	nextLbl int
}

func NewBuilder() *Builder {
	return &Builder{Regs: NewRegisterAllocator()}
}

func (b *Builder) NewBlock() *BasicBlock {
	blk := &BasicBlock{Label: fmt.Sprintf("bb%d", b.nextLbl)}
	b.nextLbl++
	b.blocks = append(b.blocks, blk)
	return blk
}

// Activate makes blk the current insertion target.
func (b *Builder) Activate(blk *BasicBlock) { b.active = blk }

func (b *Builder) Active() *BasicBlock { return b.active }

// Emit appends op to the active block.
func (b *Builder) Emit(op Op) { b.active.Append(op) }

// Goto closes the active block with an unconditional jump to target.
func (b *Builder) Goto(target *BasicBlock) {
	b.active.Append(&Goto{Target: target})
	target.addPred(b.active)
}

// Branch closes the active block with a conditional jump.
func (b *Builder) Branch(cond *Register, t, f *BasicBlock) {
	b.active.Append(&Branch{Cond: cond, TrueBlock: t, FalseBlock: f})
	t.addPred(b.active)
	f.addPred(b.active)
}

// Blocks returns every block created by this builder, in creation
// order (which is also reverse-postorder for a structured-control-flow
// source language, matching spec.md §4.2's iteration contract).
func (b *Builder) Blocks() []*BasicBlock { return b.blocks }

// RecomputePredecessors rebuilds every block's predecessor list from
// scratch by scanning Successors() across blocks, the "derive from
// current terminators" counterpart to the incremental addPred bookkeeping
// Builder.Goto/Branch do at construction time. The three transform
// passes (spec.md §4.5–§4.7) splice new blocks into an already-built CFG
// and retarget existing terminators' Target/TrueBlock/FalseBlock fields
// directly (those are plain exported fields); call this once after such
// a restructuring so Predecessors() reflects the new shape rather than
// the stale one recorded when the blocks were first built.
func RecomputePredecessors(blocks []*BasicBlock) {
	for _, b := range blocks {
		b.preds = nil
	}
	for _, b := range blocks {
		for _, s := range b.Successors() {
			s.addPred(b)
		}
	}
}

// Reachable returns the blocks reachable from entry via a BFS over
// Successors, used by FuncIR.Finalize to prune unreachable blocks
// (spec.md §3: "unreachable blocks are pruned by the refcount pass or
// earlier").
func Reachable(entry *BasicBlock) []*BasicBlock {
	seen := map[*BasicBlock]bool{entry: true}
	order := []*BasicBlock{entry}
	queue := []*BasicBlock{entry}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, s := range cur.Successors() {
			if !seen[s] {
				seen[s] = true
				order = append(order, s)
				queue = append(queue, s)
			}
		}
	}
	return order
}
