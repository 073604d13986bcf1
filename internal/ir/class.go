package ir

import "github.com/mypyc-go/pyc/internal/rtype"

// AttrInfo is one entry of a class's attribute layout: spec.md §3
// "attribute layout (ordered list of (name, RType, has_default))".
type AttrInfo struct {
	Name       string
	Type       rtype.RType
	HasDefault bool
}

// VTableEntry pairs a method slot name with its implementing FuncIR
// name, preserving declaration order (spec.md §3's "ordered list of
// (name, FuncIR)").
type VTableEntry struct {
	Name     string
	FuncName string
}

// TraitSlot is one entry of a trait's secondary dispatch table, keyed
// by (trait name, slot index) per spec.md §3's vtable invariant text:
// "Trait dispatch uses a separate secondary table keyed by
// (trait-id, slot-index)".
type TraitSlot struct {
	Trait    string
	Slot     int
	Name     string
	FuncName string
}

// PropertyInfo records a property accessor pair.
type PropertyInfo struct {
	Name   string
	Getter string
	Setter string // empty if read-only
}

// ClassFlags records boolean properties of a ClassIR.
type ClassFlags struct {
	IsTrait                    bool
	AllowInterpretedSubclasses bool
	IsFinal                    bool
	IsGenerated                bool
}

// ClassIR is a native class within the compilation unit (spec.md §3).
type ClassIR struct {
	Name       string
	Base       string // qualified name of the base ClassIR, or "" if none
	Traits     []string
	Attrs      []AttrInfo
	VTable     []VTableEntry
	TraitSlots []TraitSlot
	Flags      ClassFlags
	Properties []PropertyInfo
	ClassVars  []AttrInfo
}

// VTableRespectsBase reports whether c's vtable satisfies spec.md §3's
// vtable invariant with respect to base's vtable: the first
// len(base.VTable) entries of c.VTable must match base.VTable
// positionally by name (overrides replace in place, never reorder).
func VTableRespectsBase(c, base *ClassIR) bool {
	if base == nil {
		return true
	}
	if len(c.VTable) < len(base.VTable) {
		return false
	}
	for i, be := range base.VTable {
		if c.VTable[i].Name != be.Name {
			return false
		}
	}
	return true
}
