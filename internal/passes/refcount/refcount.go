// Package refcount implements the third and final mandatory transform
// pass (spec.md §4.7): it inserts IncRef/DecRef so that every
// heap-allocated value's reference count matches the CPython invariant
// at every operation boundary and at every function exit, normal or
// exceptional.
//
// Grounded, like internal/passes/uninit and internal/passes/exception,
// on the teacher's dce.go worklist/sweep shape (std/compiler/dce.go
// eliminateDeadFunctions): a forward fixpoint over a per-block fact
// (here, "is this register currently owned"), followed by a single
// sweep that inserts the ops the fixpoint decided were needed. The
// fixpoint's merge rule is spec.md §4.7 step 4 ("if a register is
// owned along some predecessors and borrowed along others, insert
// IncRef on the borrowed predecessors' out-edge"); the sweep implements
// steps 2, 3, and 5.
package refcount

import (
	"fmt"
	"sort"

	"github.com/mypyc-go/pyc/internal/ir"
	"github.com/mypyc-go/pyc/internal/rtype"
)

// ownMap tracks, for every refcounted register reachable at a program
// point, whether it currently holds an owned or a borrowed reference.
// Presence in the map means "defined on this path"; absence means "not
// yet defined" (treated the same as borrowed by every reader of the map).
type ownMap map[*ir.Register]bool

func (m ownMap) clone() ownMap {
	out := make(ownMap, len(m))
	for r, v := range m {
		out[r] = v
	}
	return out
}

func ownEqual(a, b ownMap) bool {
	if len(a) != len(b) {
		return false
	}
	for r, v := range a {
		if bv, ok := b[r]; !ok || bv != v {
			return false
		}
	}
	return true
}

func needsRC(r *ir.Register) bool {
	return r != nil && rtype.NeedsRefcount(r.Type)
}

// Run mutates f in place, inserting IncRef/DecRef ops. It returns the
// number of ops inserted, for tests and diagnostics.
func Run(f *ir.FuncIR) int {
	if f.Entry == nil || len(f.Blocks) == 0 {
		return 0
	}

	useCount := countUses(f)
	entry, fixups := reconcile(f)
	total := applyFixups(f, fixups)

	// Liveness is computed once the merge fixups are in place (so the
	// edge blocks applyFixups may have spliced in already count toward
	// every register's true extent) but before the per-block sweep below
	// inserts any exit DecRef, since those are exactly the ops liveness
	// must gate.
	liveIn := computeLiveness(f)

	var edgeBlocks []*ir.BasicBlock
	for _, b := range f.Blocks {
		n, edges := processBlock(b, entry[b], useCount, liveIn)
		total += n
		edgeBlocks = append(edgeBlocks, edges...)
	}
	if len(edgeBlocks) > 0 {
		f.Blocks = append(f.Blocks, edgeBlocks...)
	}

	if total > 0 {
		ir.RecomputePredecessors(f.Blocks)
	}
	return total
}

// regSet is a set of refcounted registers, used by the liveness fixpoint
// below.
type regSet map[*ir.Register]bool

func regSetEqual(a, b regSet) bool {
	if len(a) != len(b) {
		return false
	}
	for r := range a {
		if !b[r] {
			return false
		}
	}
	return true
}

// blockUseDef computes, for a single block, the registers it reads
// before any local definition of them (use) and the registers it
// defines (def) — the standard inputs to backward liveness analysis.
// Since every refcounted register is defined at most once in the whole
// function (spec.md §3's SSA-like registers), a register referenced in b
// is only ever a genuine "use" here if b itself never defines it: if b
// does define it, every use of it in b necessarily comes after that
// definition (a register's def always dominates its uses), so it can
// never be a liveness driver for b's predecessors.
func blockUseDef(b *ir.BasicBlock) (use, def regSet) {
	use, def = regSet{}, regSet{}
	for _, op := range b.Ops {
		for _, u := range op.Uses() {
			if needsRC(u) && !def[u] {
				use[u] = true
			}
		}
		if d := op.Defines(); d != nil && needsRC(d) {
			def[d] = true
		}
	}
	return use, def
}

// computeLiveness runs the standard backward "may be used later" dataflow
// fixpoint over f's CFG and returns each block's live-in set: the
// registers that some op in or beyond that block may still read. The
// exit sweep in processBlock below uses a successor's live-in set — not
// a blanket "nothing after this block reads it" assumption — to decide
// which owned registers are actually safe to release, per spec.md §8
// ("every owned register is released on every path to exit exactly
// once") and the teacher's own worklist/fixpoint shape (see the package
// doc comment).
func computeLiveness(f *ir.FuncIR) map[*ir.BasicBlock]regSet {
	use := map[*ir.BasicBlock]regSet{}
	def := map[*ir.BasicBlock]regSet{}
	liveIn := map[*ir.BasicBlock]regSet{}
	liveOut := map[*ir.BasicBlock]regSet{}
	for _, b := range f.Blocks {
		u, d := blockUseDef(b)
		use[b], def[b] = u, d
		liveIn[b], liveOut[b] = regSet{}, regSet{}
	}

	for {
		changed := false
		for _, b := range f.Blocks {
			newOut := regSet{}
			for _, s := range b.Successors() {
				for r := range liveIn[s] {
					newOut[r] = true
				}
			}
			newIn := regSet{}
			for r := range use[b] {
				newIn[r] = true
			}
			for r := range newOut {
				if !def[b][r] {
					newIn[r] = true
				}
			}
			if !regSetEqual(newIn, liveIn[b]) {
				liveIn[b] = newIn
				changed = true
			}
			if !regSetEqual(newOut, liveOut[b]) {
				liveOut[b] = newOut
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return liveIn
}

// countUses counts every use of every register across the whole,
// not-yet-transformed function — used to detect a "dead result" (spec.md
// §4.7 step 2: a register produced owned but never consumed anywhere).
func countUses(f *ir.FuncIR) map[*ir.Register]int {
	counts := map[*ir.Register]int{}
	for _, op := range f.AllOps() {
		for _, u := range op.Uses() {
			counts[u]++
		}
	}
	return counts
}

// ownedDefine classifies the register an op defines: directly owned,
// directly borrowed, or (for Assign/Cast, which transfer rather than
// create ownership per spec.md §4.7's "Assign transfers ownership")
// propagated from another register already tracked in the ownMap.
func ownedDefine(op ir.Op) (owned bool, propagateFrom *ir.Register, propagate bool) {
	switch o := op.(type) {
	case *ir.Assign:
		return false, o.Src, true
	case *ir.Cast:
		return false, o.Src, true
	case *ir.Box, *ir.GetAttr, *ir.Call, *ir.CallC, *ir.MethodCall, *ir.PyCall, *ir.ContainerOp, *ir.LoadLiteral:
		return true, nil, false
	default:
		return false, nil, false
	}
}

// consumesOwnership reports whether op takes ownership of reg rather
// than merely borrowing it: the CPython container/attribute protocols
// this dialect lowers to (PyList_SetItem-style stores, an attribute
// store, Return) steal the reference handed to them.
func consumesOwnership(op ir.Op, reg *ir.Register) bool {
	switch o := op.(type) {
	case *ir.Return:
		return o.Value == reg
	case *ir.SetAttr:
		return o.Value == reg
	case *ir.ContainerOp:
		switch o.OpK {
		case ir.ListSet, ir.ListAppend, ir.DictSet, ir.SetAdd:
			return len(o.Args) > 0 && o.Args[len(o.Args)-1] == reg
		}
	}
	return false
}

func isTerminatorOp(op ir.Op) bool {
	switch op.Kind() {
	case ir.OGoto, ir.OBranch, ir.OReturn, ir.OUnreachable, ir.ORaiseAndReturn:
		return true
	}
	return false
}

// simulateOwn walks ops read-only from in, returning the ownMap at the
// block's exit — used only to drive the whole-function fixpoint below.
// When an op propagates ownership (Assign/Cast), the source register's
// own entry is cleared to false: "Assign transfers ownership" (spec.md
// §3) means the destination is now the sole owner of that pointer, not
// that both registers independently own it — leaving the source marked
// owned would make both it and the destination eligible for their own,
// separate release of what is really one reference.
func simulateOwn(in ownMap, ops []ir.Op) ownMap {
	cur := in.clone()
	for _, op := range ops {
		d := op.Defines()
		if d == nil || !needsRC(d) {
			continue
		}
		if owned, src, propagate := ownedDefine(op); propagate {
			cur[d] = cur[src]
			cur[src] = false
		} else {
			cur[d] = owned
		}
	}
	return cur
}

// fixup records that reg must be promoted from borrowed to owned on the
// edge from pred to target, per spec.md §4.7 step 4.
type fixup struct {
	pred, target *ir.BasicBlock
	reg          *ir.Register
}

// reconcile computes, for every block, the ownMap holding at its entry
// once every predecessor's ownership state has been harmonized, plus
// the set of edges that need an explicit IncRef to achieve that
// harmonization. Structured as the same round-bounded intersection-style
// fixpoint internal/passes/uninit uses, merging via "mixed along
// predecessors promotes to owned" instead of uninit's "assigned along
// every predecessor."
func reconcile(f *ir.FuncIR) (map[*ir.BasicBlock]ownMap, []fixup) {
	argOwn := ownMap{}
	for _, a := range f.Args {
		if needsRC(a) {
			argOwn[a] = false // function arguments are borrowed (spec.md §4.7)
		}
	}

	entry := map[*ir.BasicBlock]ownMap{f.Entry: argOwn}
	exit := map[*ir.BasicBlock]ownMap{}
	computed := map[*ir.BasicBlock]bool{}
	exit[f.Entry] = simulateOwn(argOwn, f.Entry.Ops)
	computed[f.Entry] = true

	var fixups []fixup

	for round := 0; round <= len(f.Blocks)+1; round++ {
		changed := false
		fixups = nil
		for _, b := range f.Blocks {
			if b == f.Entry {
				continue
			}
			preds := b.Predecessors()
			var cpreds []*ir.BasicBlock
			for _, p := range preds {
				if computed[p] {
					cpreds = append(cpreds, p)
				}
			}
			if len(cpreds) == 0 {
				continue
			}
			// A register only merges forward if every predecessor defines
			// it — one that exists along only one incoming path is a local
			// temporary the join never actually reads, and must not be
			// carried into a later exit-sweep where it was never defined
			// (that would DecRef a register nothing owns on that path).
			merged := ownMap{}
			for r, owned := range exit[cpreds[0]] {
				inAll := true
				mixed := false
				for _, p := range cpreds[1:] {
					pv, ok := exit[p][r]
					if !ok {
						inAll = false
						break
					}
					if pv != owned {
						mixed = true
					}
				}
				if !inAll {
					continue
				}
				if mixed {
					merged[r] = true // mixed along predecessors promotes to owned
				} else {
					merged[r] = owned
				}
			}
			for _, p := range preds {
				if !computed[p] {
					continue
				}
				for r, owned := range merged {
					if pv, ok := exit[p][r]; ok && !pv && owned {
						fixups = append(fixups, fixup{pred: p, target: b, reg: r})
					}
				}
			}
			if !computed[b] || !ownEqual(entry[b], merged) {
				entry[b] = merged
				exit[b] = simulateOwn(merged, b.Ops)
				computed[b] = true
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return entry, fixups
}

// applyFixups splices the harmonizing IncRefs the reconcile fixpoint
// decided were needed onto their specific edges, creating a dedicated
// edge block when the predecessor has more than one successor (so the
// IncRef does not leak onto a path that didn't need it) and splicing
// directly before the predecessor's terminator otherwise.
func applyFixups(f *ir.FuncIR, fixups []fixup) int {
	if len(fixups) == 0 {
		return 0
	}
	type key struct{ pred, target *ir.BasicBlock }
	grouped := map[key][]*ir.Register{}
	var order []key
	for _, fx := range fixups {
		k := key{fx.pred, fx.target}
		if _, ok := grouped[k]; !ok {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], fx.reg)
	}

	var newBlocks []*ir.BasicBlock
	counter := 0
	total := 0
	for _, k := range order {
		regs := grouped[k]
		total += len(regs)
		if len(k.pred.Successors()) <= 1 {
			insertBeforeTerminator(k.pred, regs)
			continue
		}
		edge := &ir.BasicBlock{Label: fmt.Sprintf("%s.inc%d", k.pred.Label, counter)}
		counter++
		for _, r := range regs {
			edge.Ops = append(edge.Ops, &ir.IncRef{Src: r})
		}
		edge.Ops = append(edge.Ops, &ir.Goto{Target: k.target})
		retarget(k.pred, k.target, edge)
		newBlocks = append(newBlocks, edge)
	}
	if len(newBlocks) > 0 {
		f.Blocks = append(f.Blocks, newBlocks...)
	}
	return total
}

func insertBeforeTerminator(b *ir.BasicBlock, regs []*ir.Register) {
	if len(b.Ops) == 0 {
		return
	}
	term := b.Ops[len(b.Ops)-1]
	rest := append([]ir.Op{}, b.Ops[:len(b.Ops)-1]...)
	for _, r := range regs {
		rest = append(rest, &ir.IncRef{Src: r})
	}
	b.Ops = append(rest, term)
}

func retarget(pred, oldTarget, newTarget *ir.BasicBlock) {
	if len(pred.Ops) == 0 {
		return
	}
	retargetTerminator(pred.Ops[len(pred.Ops)-1], oldTarget, newTarget)
}

// retargetTerminator repoints a terminator op's Goto/Branch target(s)
// away from oldTarget and onto newTarget, used both by applyFixups
// (retargeting through an already-appended block's terminator) and by
// processBlock below (retargeting the in-hand terminator op before it is
// appended to the block's output).
func retargetTerminator(term ir.Op, oldTarget, newTarget *ir.BasicBlock) {
	switch t := term.(type) {
	case *ir.Goto:
		if t.Target == oldTarget {
			t.Target = newTarget
		}
	case *ir.Branch:
		if t.TrueBlock == oldTarget {
			t.TrueBlock = newTarget
		}
		if t.FalseBlock == oldTarget {
			t.FalseBlock = newTarget
		}
	}
}

// terminatorDeaths decides, for a block's terminator op, which owned
// registers in own are safe to release unconditionally before the
// terminator (before) versus which die on only one edge of a two-way
// Branch and so may only be released on that specific edge (onEdge),
// per spec.md §4.7 step 5 ("if a register is live on only one successor
// and owned, insert a DecRef on the edge where it dies"). A register
// live into every successor a terminator can reach is never released
// here at all — it is some later block's job, once it is truly dead.
func terminatorDeaths(term ir.Op, own ownMap, liveIn map[*ir.BasicBlock]regSet) (before []*ir.Register, onEdge map[*ir.BasicBlock][]*ir.Register) {
	switch t := term.(type) {
	case *ir.Return:
		for r, owned := range own {
			if owned && r != t.Value {
				before = append(before, r)
			}
		}
	case *ir.Goto:
		in := liveIn[t.Target]
		for r, owned := range own {
			if owned && !in[r] {
				before = append(before, r)
			}
		}
	case *ir.Branch:
		inTrue, inFalse := liveIn[t.TrueBlock], liveIn[t.FalseBlock]
		onEdge = map[*ir.BasicBlock][]*ir.Register{}
		for r, owned := range own {
			if !owned {
				continue
			}
			liveTrue, liveFalse := inTrue[r], inFalse[r]
			switch {
			case liveTrue && liveFalse:
				// still needed past both edges; leave it owned
			case !liveTrue && !liveFalse:
				before = append(before, r)
			case liveTrue && !liveFalse:
				onEdge[t.FalseBlock] = append(onEdge[t.FalseBlock], r)
			default:
				onEdge[t.TrueBlock] = append(onEdge[t.TrueBlock], r)
			}
		}
	case *ir.Unreachable, *ir.RaiseAndReturn:
		for r, owned := range own {
			if owned {
				before = append(before, r)
			}
		}
	}
	sort.Slice(before, func(i, j int) bool { return before[i].Name < before[j].Name })
	for _, regs := range onEdge {
		sort.Slice(regs, func(i, j int) bool { return regs[i].Name < regs[j].Name })
	}
	return before, onEdge
}

// processBlock performs the per-op sweep (spec.md §4.7 steps 2, 3, 5)
// given b's already-harmonized entry ownMap: insert an IncRef before
// any consuming use of a borrowed register, insert a DecRef right after
// a dead (never-used) owned result, and — immediately before the
// block's terminator — release only the owned registers terminatorDeaths
// reports as dead on every path the terminator can take. A register a
// successor still reads (spec.md §8 scenario 5: a value returned at a
// join block downstream) is never released here; it is carried forward
// owned and released wherever it actually dies. Registers that die on
// only one edge of a Branch are released on a dedicated edge block
// (edges) rather than the block itself, so the DecRef never executes on
// the path where the register survives.
func processBlock(b *ir.BasicBlock, entryOwn ownMap, useCount map[*ir.Register]int, liveIn map[*ir.BasicBlock]regSet) (int, []*ir.BasicBlock) {
	own := entryOwn.clone()
	var out []ir.Op
	var edges []*ir.BasicBlock
	inserted := 0
	edgeCounter := 0

	for _, op := range b.Ops {
		for _, u := range op.Uses() {
			if needsRC(u) && consumesOwnership(op, u) && !own[u] {
				out = append(out, &ir.IncRef{Src: u})
				own[u] = true
				inserted++
			}
		}

		if isTerminatorOp(op) {
			before, onEdge := terminatorDeaths(op, own, liveIn)
			for _, r := range before {
				out = append(out, &ir.DecRef{Src: r, IsXDec: true})
				own[r] = false
				inserted++
			}
			var targets []*ir.BasicBlock
			for target := range onEdge {
				targets = append(targets, target)
			}
			sort.Slice(targets, func(i, j int) bool { return targets[i].Label < targets[j].Label })
			for _, target := range targets {
				regs := onEdge[target]
				edge := &ir.BasicBlock{Label: fmt.Sprintf("%s.dec%d", b.Label, edgeCounter)}
				edgeCounter++
				for _, r := range regs {
					edge.Ops = append(edge.Ops, &ir.DecRef{Src: r, IsXDec: true})
					own[r] = false
					inserted++
				}
				edge.Ops = append(edge.Ops, &ir.Goto{Target: target})
				retargetTerminator(op, target, edge)
				edges = append(edges, edge)
			}
		}

		out = append(out, op)

		if d := op.Defines(); d != nil && needsRC(d) {
			if owned, src, propagate := ownedDefine(op); propagate {
				own[d] = own[src]
				own[src] = false // ownership moved to d; src no longer independently owns it
			} else {
				own[d] = owned
			}
			if useCount[d] == 0 {
				out = append(out, &ir.DecRef{Src: d})
				own[d] = false
				inserted++
			}
		}
	}

	b.Ops = out
	return inserted, edges
}
