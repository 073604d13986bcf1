// Package uninit implements the first of the three mandatory transform
// passes (spec.md §4.5): a per-function forward "definitely assigned"
// dataflow analysis that inserts an explicit CheckAssigned/Branch guard
// before every local read that isn't dominated by a prior assignment,
// routing the failing case to a block that raises UnboundLocalError.
//
// Grounded on the teacher's dce.go worklist/reachability shape
// (std/compiler/dce.go eliminateDeadFunctions): a map keyed by the
// dataflow fact, propagated over a worklist until no entry changes,
// generalized here from a boolean reachable-or-not fact to a per-local
// "assigned" set propagated with intersection at merge points instead of
// dce's union.
package uninit

import (
	"fmt"

	"github.com/mypyc-go/pyc/internal/ir"
	"github.com/mypyc-go/pyc/internal/rtype"
)

type regSet map[*ir.Register]bool

func (s regSet) clone() regSet {
	out := make(regSet, len(s))
	for r := range s {
		out[r] = true
	}
	return out
}

func intersect(a, b regSet) regSet {
	out := regSet{}
	for r := range a {
		if b[r] {
			out[r] = true
		}
	}
	return out
}

// Run mutates f in place, inserting uninit checks. It returns the number
// of checks inserted, for tests and diagnostics.
func Run(f *ir.FuncIR) int {
	if f.Entry == nil || len(f.Blocks) == 0 {
		return 0
	}

	argsAssigned := regSet{}
	for _, a := range f.Args {
		argsAssigned[a] = true
	}

	entrySets := map[*ir.BasicBlock]regSet{f.Entry: argsAssigned}
	computed := map[*ir.BasicBlock]bool{f.Entry: true}
	exitSets := map[*ir.BasicBlock]regSet{}

	// Iterative fixpoint: intersection only shrinks sets, so this
	// converges within len(f.Blocks) rounds for any finite CFG.
	for round := 0; round <= len(f.Blocks); round++ {
		changed := false
		for _, b := range f.Blocks {
			if b == f.Entry {
				if _, ok := exitSets[b]; !ok {
					exitSets[b] = simulate(entrySets[b], b.Ops)
				}
				continue
			}
			preds := b.Predecessors()
			var merged regSet
			anyComputed := false
			for _, p := range preds {
				if !computed[p] {
					continue
				}
				anyComputed = true
				if merged == nil {
					merged = exitSets[p].clone()
				} else {
					merged = intersect(merged, exitSets[p])
				}
			}
			if !anyComputed {
				continue
			}
			if merged == nil {
				merged = regSet{}
			}
			if !computed[b] || !setEqual(entrySets[b], merged) {
				entrySets[b] = merged
				exitSets[b] = simulate(merged, b.Ops)
				computed[b] = true
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	st := &splitState{}
	total := 0
	for _, b := range f.Blocks {
		entry := entrySets[b]
		if entry == nil {
			entry = regSet{}
		}
		total += processBlock(st, b, entry)
	}
	if total > 0 {
		f.Blocks = append(f.Blocks, st.newBlocks...)
		ir.RecomputePredecessors(f.Blocks)
	}
	return total
}

// splitState is scoped to a single Run call so concurrent Run calls
// over different FuncIRs (spec.md §9's "parallel per-function work")
// never share mutable pass state.
type splitState struct {
	newBlocks []*ir.BasicBlock
	counter   int
}

func setEqual(a, b regSet) bool {
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

// simulate walks ops from entry (read-only) and returns the assigned set
// at the block's exit, used only to drive the whole-function fixpoint.
func simulate(entry regSet, ops []ir.Op) regSet {
	cur := entry.clone()
	for _, op := range ops {
		if d := op.Defines(); d != nil {
			cur[d] = true
		}
	}
	return cur
}

// processBlock finds every read in b not covered by entry (or by an
// earlier check/def within b) and splices in a CheckAssigned + Branch
// guard immediately before it. Returns the number of checks inserted.
func processBlock(st *splitState, b *ir.BasicBlock, entry regSet) int {
	assigned := entry.clone()
	cur := b
	inserted := 0

	for i := 0; i < len(cur.Ops); i++ {
		op := cur.Ops[i]
		for _, u := range op.Uses() {
			if assigned[u] {
				continue
			}
			// Split cur at i: cur keeps [:i], a continuation block gets
			// [i:], and a new raise block handles the failing case.
			remainder := append([]ir.Op{}, cur.Ops[i:]...)
			cur.Ops = cur.Ops[:i]

			cont := &ir.BasicBlock{Label: fmt.Sprintf("%s.chk%d", b.Label, st.counter)}
			raise := &ir.BasicBlock{Label: fmt.Sprintf("%s.uninit%d", b.Label, st.counter)}
			st.counter++
			cont.Ops = remainder

			checkReg := &ir.Register{ID: -1, Name: fmt.Sprintf("assigned_%s", u.Name), Type: rtype.RBool}
			hb := ir.NewBuilder()
			hb.Activate(cur)
			hb.Emit(&ir.CheckAssigned{Dest: checkReg, Local: u})
			hb.Branch(checkReg, cont, raise)

			raise.Ops = []ir.Op{
				&ir.RaiseStandardError{ErrK: ir.ErrUnboundLocalError, Message: "local variable '" + u.Name + "' referenced before assignment"},
				&ir.Unreachable{},
			}

			st.newBlocks = append(st.newBlocks, cont, raise)
			inserted++
			assigned[u] = true // the check just proved it, for the rest of this scan

			cur = cont
			i = -1 // restart scanning cont's ops (index 0 next iteration)
			break
		}
		if d := op.Defines(); d != nil {
			assigned[d] = true
		}
	}
	return inserted
}
