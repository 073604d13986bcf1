package ir

import "github.com/mypyc-go/pyc/internal/rtype"

// GlobalVar is a module-level global with its declared RType.
type GlobalVar struct {
	Name string
	Type rtype.RType
}

// FinalConst is a module- or class-level Final name whose
// compile-time-constant initializer the IR builder has already
// substituted at every read site (spec.md §4.4's "Final-attribute
// inlining"); it is retained here only so the emitter can still define
// the symbol for code outside the unit that imports it late-bound.
type FinalConst struct {
	Name     string
	Type     rtype.RType
	IntVal   int64
	StrVal   string
	IsString bool
}

// ModuleIR is one compiled module: FuncIRs, ClassIRs, final constants,
// and module-level globals (spec.md §3).
type ModuleIR struct {
	Name    string
	Funcs   []*FuncIR
	Classes []*ClassIR
	Consts  []FinalConst
	Globals []GlobalVar
}

func (m *ModuleIR) FuncByName(name string) *FuncIR {
	for _, f := range m.Funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func (m *ModuleIR) ClassByName(name string) *ClassIR {
	for _, c := range m.Classes {
		if c.Name == name {
			return c
		}
	}
	return nil
}
