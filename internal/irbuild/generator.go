package irbuild

// generator.go implements spec.md §4.4's generator-as-state-machine
// lowering, the one follow-on DESIGN.md flagged as open after trait
// dispatch landed: "the function's locals become fields of a generated
// RStruct; yield points become transitions between basic blocks keyed
// by a state integer." A generator function compiles to a single
// resume-entry FuncIR (spec.md's "send" entry point; this builder's
// dialect subset never distinguishes a thrown-in exception at a yield
// site, so a separate "throw" entry point is not modeled) taking the
// reified frame as its only argument. A dispatch chain at the top of
// the function loads the frame's saved state and jumps straight to the
// block the previous call suspended at; every `yield` spills the
// locals live at that point into the frame, advances the state, and
// returns the yielded value to the caller.

import (
	"github.com/mypyc-go/pyc/internal/ir"
	"github.com/mypyc-go/pyc/internal/passes/exception"
	"github.com/mypyc-go/pyc/internal/past"
	"github.com/mypyc-go/pyc/internal/rtype"
)

// containsYield reports whether n or any descendant expression is a
// `yield`/`yield from`, the signal BuildFunc uses to route a function
// through buildGeneratorFunc instead of the ordinary straight-line path.
func containsYield(n *past.Node) bool {
	if n == nil {
		return false
	}
	if n.Kind == past.NYield || n.Kind == past.NYieldFrom {
		return true
	}
	if containsYield(n.X) || containsYield(n.Y) || containsYield(n.Body) || containsYield(n.Handler) {
		return true
	}
	for _, c := range n.Nodes {
		if containsYield(c) {
			return true
		}
	}
	return false
}

const genStateField = "__state"
const genSentField = "__sent"

// genState records one resume point: the integer value stored in the
// frame's __state field and the block a dispatch check must jump to
// when it sees that value.
type genState struct {
	id     int
	target *ir.BasicBlock
}

// genFrame accumulates the reified generator frame's field layout (one
// field per distinct local/arg name ever spilled) and the table of
// resume points discovered while lowering the body.
type genFrame struct {
	st        *rtype.RStruct
	fieldIdx  map[string]int
	nextState int
	states    []genState
}

// genStateNotStarted is the frame's state value before the first call, a
// constant rather than 0's Go zero-value relying on C struct
// zero-initialization matching: state ids handed out to actual yield
// points start at 1 (see newGenFrame), so this is never confused with a
// real resume point.
const genStateNotStarted = 0

func newGenFrame(name string) *genFrame {
	return &genFrame{st: &rtype.RStruct{Name: name}, fieldIdx: map[string]int{}, nextState: 1}
}

// field returns the byte offset of name in the frame, registering a new
// field of type t the first time name is seen. Every field gets a flat
// 8-byte slot rather than a naturally aligned/packed one: this frame is
// never read by anything outside this compiler's own emitted loads and
// stores, so exact C struct packing buys nothing but complexity.
func (g *genFrame) field(name string, t rtype.RType) int {
	if idx, ok := g.fieldIdx[name]; ok {
		return idx * 8
	}
	idx := len(g.st.Fields)
	g.st.Fields = append(g.st.Fields, rtype.RStructField{Name: name, Type: t})
	g.fieldIdx[name] = idx
	return idx * 8
}

// hasField reports whether name has already been given a frame slot,
// without allocating one.
func (g *genFrame) hasField(name string) bool {
	_, ok := g.fieldIdx[name]
	return ok
}

// buildGeneratorFunc lowers a generator function body to its resume
// FuncIR. The frame argument replaces the function's declared
// parameter list in the emitted native signature (spec.md's state
// machine carries arguments across calls via the frame, not via a
// fresh argument list every resume), and FuncIR.GenState/Flags.IsGenerator
// are set so internal/emit recognizes it as a generator during C
// emission rather than an ordinary function.
func (b *Builder) buildGeneratorFunc(qualName string, fn *past.Node) (*ir.FuncIR, exception.HandlerMap, []error) {
	sig := b.Decl.Sigs[qualName]
	b.cfg = ir.NewBuilder()
	b.locals = map[string]*ir.Register{}
	b.errs = nil
	b.handlers = exception.HandlerMap{}

	frame := newGenFrame(qualName + "__frame")
	frame.field(genStateField, rtype.RI32)
	b.gen = frame

	dispatch := b.cfg.NewBlock()
	b.cfg.Activate(dispatch)
	frameReg := b.cfg.Regs.New("frame", rtype.RObject)
	b.genFrameReg = frameReg

	stateReg := b.loadFrameField(genStateField, rtype.RI32)

	entry := b.cfg.NewBlock()
	b.cfg.Activate(entry)
	for i, name := range sig.ArgNames {
		b.locals[name] = b.loadFrameField(name, sig.ArgTypes[i])
	}

	if fn.Body != nil {
		b.lowerStmtList(fn.Body.Nodes, nil)
	}
	if b.cfg.Active().Terminator() == nil {
		b.emitGeneratorExit()
	}

	b.finalizeDispatch(dispatch, stateReg, entry)

	f := &ir.FuncIR{
		Name:   qualName,
		Sig:    ir.Signature{ArgTypes: []rtype.RType{rtype.RObject}, ArgNames: []string{"frame"}, RetType: sig.RetType},
		Args:   []*ir.Register{frameReg},
		Blocks: b.cfg.Blocks(),
		Entry:  dispatch,
	}
	f.Flags.IsGenerator = true
	f.GenState = frame.st

	b.gen = nil
	b.genFrameReg = nil
	return f, b.handlers, b.errs
}

// loadFrameField emits the GetElementPtr+LoadMem pair that reads field
// name (of type t) out of the active generator's frame, allocating the
// field's frame slot if this is its first use.
func (b *Builder) loadFrameField(name string, t rtype.RType) *ir.Register {
	off := b.gen.field(name, t)
	addr := b.cfg.Regs.New("", rtype.RObject)
	b.cfg.Emit(&ir.GetElementPtr{Dest: addr, Base: b.genFrameReg, Offset: off})
	dest := b.cfg.Regs.New("", t)
	b.cfg.Emit(&ir.LoadMem{Dest: dest, Addr: addr})
	return dest
}

// storeFrameField emits the GetElementPtr+StoreMem pair that writes
// value into field name of the active generator's frame.
func (b *Builder) storeFrameField(name string, value *ir.Register) {
	off := b.gen.field(name, value.Type)
	addr := b.cfg.Regs.New("", rtype.RObject)
	b.cfg.Emit(&ir.GetElementPtr{Dest: addr, Base: b.genFrameReg, Offset: off})
	b.cfg.Emit(&ir.StoreMem{Addr: addr, Value: value})
}

// spillLocals writes every currently bound local into its frame slot,
// immediately before a yield suspends the function.
func (b *Builder) spillLocals() {
	for name, reg := range b.locals {
		b.storeFrameField(name, reg)
	}
}

// reloadLocals re-reads every currently bound local's frame slot into a
// fresh register, immediately after a resume reenters at a yield point.
// Replacing the register (rather than reusing the pre-suspend one)
// matches spec.md §3's "a register's type never changes across its
// lifetime, produced exactly once": the value living in a local after a
// resume is a new definition, not a continuation of the suspended one.
func (b *Builder) reloadLocals() {
	for name, reg := range b.locals {
		b.locals[name] = b.loadFrameField(name, reg.Type)
	}
}

// lowerYield lowers a `yield value` expression: spill locals, advance
// state, return the yielded value, then reload locals on resume and
// produce whatever the next `send()` call passed in.
func (b *Builder) lowerYield(n *past.Node) *ir.Register {
	if b.gen == nil {
		b.fail(n, "yield outside a generator function")
		return b.cfg.Regs.New("", rtype.RObject)
	}
	var val *ir.Register
	if n.X != nil {
		val = b.lowerExpr(n.X)
	} else {
		val = b.cfg.Regs.New("", rtype.RNone)
		b.cfg.Emit(&ir.LoadLiteral{Dest: val, LitK: ir.LitNone})
	}
	return b.emitYield(val, b.typeOf(n, rtype.RObject))
}

// emitYield is the shared suspend/resume machinery lowerYield and
// lowerYieldFrom both drive, parameterized on the already-lowered
// value register so yield-from's per-item yield doesn't have to
// round-trip its item back through a synthetic past.Node.
func (b *Builder) emitYield(val *ir.Register, sentType rtype.RType) *ir.Register {
	b.spillLocals()
	state := b.gen.nextState
	b.gen.nextState++
	stateConst := b.cfg.Regs.New("", rtype.RI32)
	b.cfg.Emit(&ir.LoadLiteral{Dest: stateConst, LitK: ir.LitInt, IntVal: int64(state)})
	b.storeFrameField(genStateField, stateConst)
	b.cfg.Emit(&ir.Return{Value: val})

	resume := b.cfg.NewBlock()
	b.gen.states = append(b.gen.states, genState{id: state, target: resume})
	b.cfg.Activate(resume)
	b.reloadLocals()

	if !b.gen.hasField(genSentField) {
		b.gen.field(genSentField, sentType)
	}
	return b.loadFrameField(genSentField, sentType)
}

// lowerYieldFrom lowers `yield from iterable` as the equivalent
// `for v in iterable: yield v` over the iterator protocol — a
// documented simplification of full PEP 380 delegation (it neither
// forwards a value sent into the outer generator to the inner iterator
// nor surfaces the inner iterator's return value); both dialect
// features this compiler otherwise skips under spec.md §1's Non-goals
// for dynamic semantics beyond the supported subset.
func (b *Builder) lowerYieldFrom(n *past.Node) *ir.Register {
	if b.gen == nil {
		b.fail(n, "yield from outside a generator function")
		return b.cfg.Regs.New("", rtype.RObject)
	}
	iterable := b.lowerExpr(n.X)
	iter := b.cfg.Regs.New("", rtype.RObject)
	b.cfg.Emit(&ir.CallC{Dest: iter, CFunc: "CPyObject_GetIter", Args: []*ir.Register{iterable}})

	header := b.cfg.NewBlock()
	body := b.cfg.NewBlock()
	exit := b.cfg.NewBlock()

	b.cfg.Goto(header)
	b.cfg.Activate(header)
	hasNext := b.cfg.Regs.New("", rtype.RBool)
	b.cfg.Emit(&ir.CallC{Dest: hasNext, CFunc: "CPyIter_HasNext", Args: []*ir.Register{iter}})
	b.cfg.Branch(hasNext, body, exit)

	b.cfg.Activate(body)
	itemType := b.typeOf(n, rtype.RObject)
	item := b.cfg.Regs.New("", itemType)
	b.cfg.Emit(&ir.CallC{Dest: item, CFunc: "CPyIter_Next", Args: []*ir.Register{iter}})
	b.emitYield(item, itemType)
	b.cfg.Goto(header)

	b.cfg.Activate(exit)
	none := b.cfg.Regs.New("", rtype.RNone)
	b.cfg.Emit(&ir.LoadLiteral{Dest: none, LitK: ir.LitNone})
	return none
}

// finalizeDispatch closes out the dispatch block deferred at the start
// of buildGeneratorFunc: first a check for the exhausted sentinel (a
// call resumed after the generator already returned, which must not
// replay any part of the body), then a chain of equality checks against
// stateReg, one per resume point discovered while lowering the body,
// falling through to entry (the not-yet-started state) when none match.
func (b *Builder) finalizeDispatch(dispatch *ir.BasicBlock, stateReg *ir.Register, entry *ir.BasicBlock) {
	exhausted := b.cfg.NewBlock()
	afterExhaustedCheck := b.cfg.NewBlock()

	b.cfg.Activate(dispatch)
	exhaustedLit := b.cfg.Regs.New("", rtype.RI32)
	b.cfg.Emit(&ir.LoadLiteral{Dest: exhaustedLit, LitK: ir.LitInt, IntVal: -1})
	isExhausted := b.cfg.Regs.New("", rtype.RBool)
	b.cfg.Emit(&ir.ComparisonOp{Dest: isExhausted, CmpK: ir.CmpEq, Lhs: stateReg, Rhs: exhaustedLit})
	b.cfg.Branch(isExhausted, exhausted, afterExhaustedCheck)

	b.cfg.Activate(exhausted)
	b.cfg.Emit(&ir.Return{})

	cur := afterExhaustedCheck
	for _, st := range b.gen.states {
		b.cfg.Activate(cur)
		lit := b.cfg.Regs.New("", rtype.RI32)
		b.cfg.Emit(&ir.LoadLiteral{Dest: lit, LitK: ir.LitInt, IntVal: int64(st.id)})
		cmp := b.cfg.Regs.New("", rtype.RBool)
		b.cfg.Emit(&ir.ComparisonOp{Dest: cmp, CmpK: ir.CmpEq, Lhs: stateReg, Rhs: lit})
		next := b.cfg.NewBlock()
		b.cfg.Branch(cmp, st.target, next)
		cur = next
	}
	b.cfg.Activate(cur)
	b.cfg.Goto(entry)
}

// emitGeneratorExit closes a generator body that fell off the end
// without an explicit `return`: mark the frame exhausted (a state no
// dispatch check will ever match again) and emit a Return with no
// value. No StopIteration is raised here.
func (b *Builder) emitGeneratorExit() {
	b.markGenExhausted()
	b.cfg.Emit(&ir.Return{})
}

// markGenExhausted stores the sentinel -1 into the frame's __state
// field, the value finalizeDispatch checks first and returns on
// immediately. Both an explicit `return` inside a generator body
// (lowerStmt's NReturn case) and falling off the end of the body
// (emitGeneratorExit) route through this so a call resumed after either
// one can't replay any part of the suspended function.
func (b *Builder) markGenExhausted() {
	stateConst := b.cfg.Regs.New("", rtype.RI32)
	b.cfg.Emit(&ir.LoadLiteral{Dest: stateConst, LitK: ir.LitInt, IntVal: -1})
	b.storeFrameField(genStateField, stateConst)
}
