// Package irbuild implements the two-pass IR builder: a declaration
// pass that registers every function's signature and every class's full
// attribute/vtable layout before any body is translated, followed by a
// body pass that lowers each past.Node function body into an
// ir.FuncIR. Grounded on the teacher's CompileModule (std/compiler/ir.go):
// it walks mod.Order twice — once to register globals/types, once to
// compile bodies — so that a function can reference a sibling declared
// later in source order. irbuild generalizes that two-pass discipline
// from the teacher's Go-subset frontend to the typed Python dialect.
package irbuild

import (
	"fmt"

	"github.com/mypyc-go/pyc/internal/ir"
	"github.com/mypyc-go/pyc/internal/past"
	"github.com/mypyc-go/pyc/internal/rtype"
)

// DeclTable is the output of the declaration pass: every function's
// signature and every class's full layout, keyed by qualified name,
// populated before any function body is translated (spec.md §4.4's
// "early binding" requires every call site to see the full set of
// sibling declarations regardless of source order).
type DeclTable struct {
	Sigs    map[string]ir.Signature
	Classes map[string]*ir.ClassIR

	// Finals maps a module-level name declared Final with a
	// compile-time-constant initializer to that initializer's literal
	// node, so the body pass can substitute the constant at every read
	// site instead of emitting a name lookup (spec.md §4.4's
	// "Final-attribute inlining").
	Finals map[string]*past.Node

	// order preserves the input order of every FuncDef node, top-level
	// functions and class methods alike, so the body pass can iterate
	// them deterministically.
	FuncNodes []*past.Node
}

func newDeclTable() *DeclTable {
	return &DeclTable{
		Sigs:    map[string]ir.Signature{},
		Classes: map[string]*ir.ClassIR{},
		Finals:  map[string]*past.Node{},
	}
}

// isLiteralConst reports whether n is one of the literal kinds eligible
// for Final-attribute inlining (spec.md §4.4): a module-level Final
// name initialized to anything else still gets its declared RType and
// ordinary late-bound lookup, it just isn't substitutable at compile time.
func isLiteralConst(n *past.Node) bool {
	if n == nil {
		return false
	}
	switch n.Kind {
	case past.NIntLit, past.NFloatLit, past.NStrLit, past.NBoolLit, past.NNoneLit:
		return true
	}
	return false
}

// Declare runs the declaration pass over top, a module's top-level
// FuncDef/ClassDef nodes, in the order given. Classes referencing a base
// by name must appear after that base in top, mirroring the teacher's
// reliance on mod.Order being a valid topological order.
func Declare(top []*past.Node, types past.TypeMap) (*DeclTable, []error) {
	var errs []error
	dt := newDeclTable()

	for _, n := range top {
		switch n.Kind {
		case past.NFuncDef:
			dt.Sigs[n.Name] = signatureOf(n, types)
			dt.FuncNodes = append(dt.FuncNodes, n)
		case past.NClassDef:
			cls, err := declareClass(n, dt, types)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			dt.Classes[n.Name] = cls
		case past.NAssign:
			if n.IsFinal && n.X != nil && n.X.Kind == past.NName && isLiteralConst(n.Y) {
				dt.Finals[n.X.Name] = n.Y
			}
		}
	}
	return dt, errs
}

func signatureOf(fn *past.Node, types past.TypeMap) ir.Signature {
	sig := ir.Signature{RetType: types[fn]}
	for _, p := range fn.Nodes {
		if p.Kind != past.NParam {
			continue
		}
		sig.ArgNames = append(sig.ArgNames, p.Name)
		sig.ArgTypes = append(sig.ArgTypes, types[p])
	}
	return sig
}

// declareClass computes cls's attribute layout and vtable, inheriting
// the base's vtable as a mandatory prefix per spec.md §3's vtable
// invariant: "the first len(base.VTable) entries ... must match
// positionally by name".
func declareClass(n *past.Node, dt *DeclTable, types past.TypeMap) (*ir.ClassIR, error) {
	cls := &ir.ClassIR{Name: n.Name}
	cls.Flags.IsFinal = n.IsFinal
	cls.Flags.IsTrait = n.IsTraitDef
	cls.Flags.AllowInterpretedSubclasses = n.AllowInterpretedSubclasses
	cls.Traits = append(cls.Traits, n.Traits...)

	// traitMethods collects, per declaring trait, which method names that
	// trait requires — so a class body's methods matching a trait's name
	// can be routed into TraitSlots instead of (or in addition to) the
	// primary VTable. A trait's own body is itself just a set of method
	// names with no implementation, the same "interface" role the
	// teacher's Go-subset dialect doesn't have but the generalization to
	// Python's trait-like mixins needs.
	traitMethods := map[string]map[string]int{} // trait -> method name -> slot
	for _, traitName := range n.Traits {
		trait, ok := dt.Classes[traitName]
		if !ok {
			return nil, fmt.Errorf("irbuild: class %s: trait %s not yet declared", n.Name, traitName)
		}
		slots := map[string]int{}
		for _, e := range trait.VTable {
			slots[e.Name] = len(slots)
		}
		traitMethods[traitName] = slots
	}

	var base *ir.ClassIR
	if n.X != nil {
		baseName := n.X.Name
		cls.Base = baseName
		var ok bool
		base, ok = dt.Classes[baseName]
		if !ok {
			return nil, fmt.Errorf("irbuild: class %s: base %s not yet declared", n.Name, baseName)
		}
		cls.VTable = append(cls.VTable, base.VTable...)
		cls.Attrs = append(cls.Attrs, base.Attrs...)
	}

	if n.Body != nil {
		seen := map[string]int{}
		for i, e := range cls.VTable {
			seen[e.Name] = i
		}
		for _, member := range n.Body.Nodes {
			switch member.Kind {
			case past.NFuncDef:
				funcName := cls.Name + "." + member.Name

				// A trait's own declaration body (cls.Flags.IsTrait) just
				// registers the method's slot in its own VTable, same as an
				// ordinary class — TraitSlots only gets populated on the
				// classes that *implement* a trait, below.
				if idx, ok := seen[member.Name]; ok {
					cls.VTable[idx].FuncName = funcName // override in place
				} else {
					seen[member.Name] = len(cls.VTable)
					cls.VTable = append(cls.VTable, ir.VTableEntry{Name: member.Name, FuncName: funcName})
				}
				for traitName, slots := range traitMethods {
					if slot, ok := slots[member.Name]; ok {
						cls.TraitSlots = append(cls.TraitSlots, ir.TraitSlot{
							Trait: traitName, Slot: slot, Name: member.Name, FuncName: funcName,
						})
					}
				}
				dt.Sigs[funcName] = methodSignatureOf(member, cls, types)
				dt.FuncNodes = append(dt.FuncNodes, member)
			case past.NAssign:
				if member.X != nil && member.X.Kind == past.NName {
					cls.Attrs = append(cls.Attrs, ir.AttrInfo{Name: member.X.Name, Type: rtype.RObject, HasDefault: member.Y != nil})
				}
			}
		}
	}
	if base != nil && !ir.VTableRespectsBase(cls, base) {
		return nil, fmt.Errorf("irbuild: class %s: vtable does not respect base %s's prefix", cls.Name, cls.Base)
	}
	for traitName, slots := range traitMethods {
		for name := range slots {
			if !hasTraitSlot(cls.TraitSlots, traitName, name) {
				return nil, fmt.Errorf("irbuild: class %s: missing implementation of trait %s method %s", cls.Name, traitName, name)
			}
		}
	}
	return cls, nil
}

func hasTraitSlot(slots []ir.TraitSlot, trait, name string) bool {
	for _, s := range slots {
		if s.Trait == trait && s.Name == name {
			return true
		}
	}
	return false
}

func methodSignatureOf(fn *past.Node, cls *ir.ClassIR, types past.TypeMap) ir.Signature {
	sig := ir.Signature{
		RetType:  types[fn],
		ArgNames: []string{"self"},
		ArgTypes: []rtype.RType{&rtype.RInstance{ClassName: cls.Name}},
	}
	for _, p := range fn.Nodes {
		if p.Kind != past.NParam {
			continue
		}
		sig.ArgNames = append(sig.ArgNames, p.Name)
		sig.ArgTypes = append(sig.ArgTypes, types[p])
	}
	return sig
}
