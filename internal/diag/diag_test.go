package diag

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mypyc-go/pyc/internal/ir"
	"github.com/mypyc-go/pyc/internal/rtype"
)

func TestDefaultSeverityMatchesTaxonomy(t *testing.T) {
	assert.Equal(t, FatalToDefinition, DefaultSeverity(UnsupportedConstruct))
	assert.Equal(t, FatalToFunction, DefaultSeverity(TypeContractViolation))
	assert.Equal(t, FatalToClass, DefaultSeverity(LayoutConflict))
	assert.Equal(t, FatalToUnit, DefaultSeverity(NameCollision))
	assert.Equal(t, FatalToUnit, DefaultSeverity(InternalInvariantFailure))
}

func TestReportAccumulatesWithoutStopping(t *testing.T) {
	s := NewSink(nil)
	s.Report(Diagnostic{Category: UnsupportedConstruct, Severity: FatalToDefinition, Module: "m", Message: "walrus in lambda default"})
	s.Report(Diagnostic{Category: TypeContractViolation, Severity: FatalToFunction, Module: "m", Message: "arg 2 expects int"})

	assert.Len(t, s.Diagnostics(), 2)
	assert.False(t, s.FatalToUnit(), "neither diagnostic is unit-fatal")
}

func TestFatalToUnitDetectsUnitSeverity(t *testing.T) {
	s := NewSink(nil)
	s.Report(Diagnostic{Category: NameCollision, Severity: FatalToUnit, Module: "m", Message: "two classes named Point"})
	assert.True(t, s.FatalToUnit())
}

func TestReportInvariantFailureAttachesBugDump(t *testing.T) {
	s := NewSink(nil)
	b := ir.NewBuilder()
	entry := b.NewBlock()
	b.Activate(entry)
	b.Emit(&ir.Unreachable{})

	fn := &ir.FuncIR{
		Name:   "broken",
		Sig:    ir.Signature{RetType: rtype.Void},
		Blocks: b.Blocks(),
		Entry:  entry,
	}

	s.ReportInvariantFailure("m", "refcount", fn, "register r3 never defined")

	diags := s.Diagnostics()
	assert.Len(t, diags, 1)
	d := diags[0]
	assert.Equal(t, InternalInvariantFailure, d.Category)
	assert.Equal(t, FatalToUnit, d.Severity)
	assert.Equal(t, "broken", d.Function)
	assert.Contains(t, d.Message, "refcount")
	assert.NotEmpty(t, d.BugDump)
	assert.Contains(t, d.BugDump, "broken")
}

func TestBySeverityFiltersAndSorts(t *testing.T) {
	s := NewSink(nil)
	s.Report(Diagnostic{Category: LayoutConflict, Severity: FatalToClass, Module: "m", Message: "attr x redefined with a different type"})
	s.Report(Diagnostic{Category: NameCollision, Severity: FatalToUnit, Module: "m", Message: "dup"})
	s.Report(Diagnostic{Category: InternalInvariantFailure, Severity: FatalToUnit, Module: "m", Message: "bug"})

	unitFatal := s.BySeverity(FatalToUnit)
	assert.Len(t, unitFatal, 2)
	assert.Equal(t, NameCollision, unitFatal[0].Category)
	assert.Equal(t, InternalInvariantFailure, unitFatal[1].Category)

	classFatal := s.BySeverity(FatalToClass)
	assert.Len(t, classFatal, 1)
}

func TestDiagnosticStringIncludesLocationAndCategory(t *testing.T) {
	d := Diagnostic{Category: TypeContractViolation, Module: "pkg", Pos: "pkg.py:12:4", Message: "bad arg"}
	s := d.String()
	assert.Contains(t, s, "pkg.py:12:4")
	assert.Contains(t, s, "type_contract_violation")
	assert.Contains(t, s, "bad arg")
}
