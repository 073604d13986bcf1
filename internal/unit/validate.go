package unit

import (
	"fmt"

	"github.com/mypyc-go/pyc/internal/diag"
)

// Validate checks cross-module invariants spec.md §4.9 assigns to the
// unit boundary rather than any single module's declaration pass:
// class names are unique across the whole unit, and every class's base
// resolves to another native class within the unit (the base-class
// allowlist — a base outside the unit, or one that was never declared
// native, cannot be laid out). It does not check the vtable-prefix
// invariant. Returns false if any diagnostic was reported (a duplicate
// class name is unit-fatal; an unresolved base is class-fatal).
func Validate(u *Unit, sink *diag.Sink) bool {
	ok := true

	seenClass := map[string]string{} // class name -> owning module
	for _, modName := range u.Order {
		dt := u.Decls[modName]
		for clsName := range dt.Classes {
			if owner, dup := seenClass[clsName]; dup {
				sink.Report(diag.Diagnostic{
					Category: diag.NameCollision,
					Severity: diag.FatalToUnit,
					Module:   modName,
					Message:  fmt.Sprintf("class %s already declared in module %s", clsName, owner),
				})
				ok = false
				continue
			}
			seenClass[clsName] = modName
		}
	}
	if !ok {
		return false
	}

	for _, modName := range u.Order {
		dt := u.Decls[modName]
		for clsName, cls := range dt.Classes {
			if cls.Base == "" {
				continue
			}
			if _, _, found := u.QualifiedClass(cls.Base); !found {
				sink.Report(diag.Diagnostic{
					Category: diag.LayoutConflict,
					Severity: diag.FatalToClass,
					Module:   modName,
					Message:  fmt.Sprintf("class %s: base %s is not a native class within this unit", clsName, cls.Base),
				})
				ok = false
			}
		}
	}

	return ok
}
