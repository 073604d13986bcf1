// Package unit implements compilation-unit glue (spec.md §4.9): it
// resolves a set of modules into an import-ordered unit, builds the
// combined cross-module declaration table, validates unit-wide class
// name uniqueness and base-class ancestry, and eliminates dead native
// functions before emission.
//
// Grounded on the teacher's frontend.go ResolveModule/topologicalSort
// for import resolution and ordering, generalized from its
// non-cycle-detecting single-color DFS to a proper three-color DFS so
// an import cycle is reported as a diagnostic instead of silently
// truncated, and on dce.go's mark-and-sweep for EliminateDead, with the
// root set changed from main.main to every top-level function and every
// native class's vtable/trait-slot targets.
package unit

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/mypyc-go/pyc/internal/diag"
	"github.com/mypyc-go/pyc/internal/ir"
	"github.com/mypyc-go/pyc/internal/irbuild"
	"github.com/mypyc-go/pyc/internal/past"
)

// ModuleSource is one module's front-end inputs before IR is built:
// its import list (for ordering/cycle detection) and its top-level
// declaration nodes (for irbuild.Declare).
type ModuleSource struct {
	Name    string
	Imports []string
	Top     []*past.Node
}

// Unit is a resolved compilation unit: every module's declaration
// table, in import-respecting order, tagged with a UUID (SPEC_FULL.md
// §2's identifiers) that the driver prints in its closing summary line.
type Unit struct {
	ID      uuid.UUID
	Order   []string // module names, import-respecting (dependencies first)
	Decls   map[string]*irbuild.DeclTable
	Sources map[string]ModuleSource
}

// Resolve builds the import graph across sources, detects cycles, and
// returns modules in dependency-first order together with each
// module's declaration table. A cycle is reported as a diagnostic
// (NameCollision's sibling category, UnsupportedConstruct, since an
// import cycle is not a name clash but a structural one the unit
// cannot lower) and aborts resolution — spec.md §4.9 lists cycle
// detection as a unit-fatal responsibility.
func Resolve(sources []ModuleSource, types past.TypeMap, sink *diag.Sink) (*Unit, bool) {
	bySrc := make(map[string]ModuleSource, len(sources))
	for _, s := range sources {
		bySrc[s.Name] = s
	}

	order, ok := topoSort(bySrc, sink)
	if !ok {
		return nil, false
	}

	u := &Unit{
		ID:      uuid.New(),
		Order:   order,
		Decls:   map[string]*irbuild.DeclTable{},
		Sources: bySrc,
	}

	ok = true
	for _, name := range order {
		src := bySrc[name]
		dt, errs := irbuild.Declare(src.Top, types)
		for _, err := range errs {
			sink.Report(diag.Diagnostic{
				Category: diag.UnsupportedConstruct,
				Severity: diag.FatalToDefinition,
				Module:   name,
				Message:  err.Error(),
			})
		}
		u.Decls[name] = dt
	}
	return u, ok
}

// color marks a node's DFS state for cycle detection.
type color int

const (
	white color = iota
	gray
	black
)

// topoSort performs a three-color DFS over the import graph, reporting
// a unit-fatal diagnostic and returning ok=false the first time a back
// edge (gray-to-gray) is found, rather than the teacher's visited-bool
// DFS, which cannot distinguish "already finished" from "on the
// current path" and so never notices a cycle at all.
func topoSort(srcs map[string]ModuleSource, sink *diag.Sink) ([]string, bool) {
	colors := make(map[string]color, len(srcs))
	var order []string
	var path []string
	ok := true

	var visit func(name string)
	visit = func(name string) {
		if !ok {
			return
		}
		switch colors[name] {
		case black:
			return
		case gray:
			cyclePath := append(append([]string(nil), path...), name)
			sink.Report(diag.Diagnostic{
				Category: diag.UnsupportedConstruct,
				Severity: diag.FatalToUnit,
				Module:   name,
				Message:  fmt.Sprintf("import cycle detected: %s", joinCycle(cyclePath)),
			})
			ok = false
			return
		}
		src, known := srcs[name]
		if !known {
			// An import of a module outside this unit (e.g. a stdlib or
			// not-yet-compiled dependency); nothing to order here.
			return
		}
		colors[name] = gray
		path = append(path, name)
		for _, imp := range src.Imports {
			visit(imp)
			if !ok {
				return
			}
		}
		path = path[:len(path)-1]
		colors[name] = black
		order = append(order, name)
	}

	names := make([]string, 0, len(srcs))
	for name := range srcs {
		names = append(names, name)
	}
	sort.Strings(names) // deterministic visitation order

	for _, name := range names {
		visit(name)
		if !ok {
			return nil, false
		}
	}
	return order, true
}

func joinCycle(path []string) string {
	out := ""
	for i, p := range path {
		if i > 0 {
			out += " -> "
		}
		out += p
	}
	return out
}

// QualifiedSig looks up a function's signature by its "module.name"
// (or "module.Class.method") qualified name across the whole unit.
func (u *Unit) QualifiedSig(qualName string) (sig ir.Signature, ok bool) {
	for _, dt := range u.Decls {
		if s, found := dt.Sigs[qualName]; found {
			return s, true
		}
	}
	return ir.Signature{}, false
}

// QualifiedClass looks up a class by its unqualified name across the
// whole unit (class names must be unique unit-wide per spec.md §4.9).
func (u *Unit) QualifiedClass(name string) (cls *ir.ClassIR, module string, ok bool) {
	for mod, dt := range u.Decls {
		if c, found := dt.Classes[name]; found {
			return c, mod, true
		}
	}
	return nil, "", false
}
