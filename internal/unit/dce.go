package unit

import "github.com/mypyc-go/pyc/internal/ir"

// EliminateDead removes FuncIRs unreachable from the unit's root set,
// mirroring dce.go's mark-and-sweep (worklist seeded from roots, BFS
// over call-edge ops, sweep Funcs down to the reachable set). The root
// set is generalized from "main.main + init funcs + interface method
// table" to this unit's own externally-visible surface: every
// top-level function (emitModuleInit exports each one as a module
// attribute, so any of them may be called from outside the unit) and
// every vtable/trait-slot target (a MethodCall's callee is resolved at
// runtime, so every slot a live class could dispatch into must stay
// live even with no static caller). A private helper method that is
// neither a vtable slot nor statically called is the only thing this
// pass can actually remove.
func EliminateDead(modules map[string]*ir.ModuleIR) {
	byName := map[string]*ir.FuncIR{}
	for _, m := range modules {
		for _, f := range m.Funcs {
			byName[f.Name] = f
		}
	}

	reachable := map[string]bool{}
	var worklist []string
	addRoot := func(name string) {
		if _, exists := byName[name]; exists && !reachable[name] {
			reachable[name] = true
			worklist = append(worklist, name)
		}
	}

	for _, m := range modules {
		for _, f := range m.Funcs {
			if isTopLevelName(f.Name) {
				addRoot(f.Name)
			}
		}
		for _, c := range m.Classes {
			for _, entry := range c.VTable {
				addRoot(entry.FuncName)
			}
			for _, slot := range c.TraitSlots {
				addRoot(slot.FuncName)
			}
		}
	}

	for len(worklist) > 0 {
		name := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		f, ok := byName[name]
		if !ok {
			continue
		}
		for _, op := range f.AllOps() {
			for _, edge := range callEdges(op) {
				if !reachable[edge] {
					reachable[edge] = true
					worklist = append(worklist, edge)
				}
			}
		}
	}

	for _, m := range modules {
		filtered := make([]*ir.FuncIR, 0, len(m.Funcs))
		for _, f := range m.Funcs {
			if reachable[f.Name] {
				filtered = append(filtered, f)
			}
		}
		m.Funcs = filtered
	}
}

// isTopLevelName reports whether name names a module-level function
// rather than a "Class.method" (irbuild.declareClass's naming
// convention, decl.go: funcName := cls.Name + "." + member.Name).
func isTopLevelName(name string) bool {
	for _, r := range name {
		if r == '.' {
			return false
		}
	}
	return true
}

// callEdges extracts the statically-known function names op calls.
// MethodCall and PyCall targets are resolved dynamically (vtable slot,
// or an arbitrary PyObject callee) and so contribute no static edge
// here — their targets are already kept live via the vtable/trait-slot
// root set above.
func callEdges(op ir.Op) []string {
	switch o := op.(type) {
	case *ir.Call:
		return []string{o.FuncName}
	case *ir.CallC:
		return []string{o.CFunc}
	default:
		return nil
	}
}
