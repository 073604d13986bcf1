package emit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mypyc-go/pyc/internal/ir"
	"github.com/mypyc-go/pyc/internal/rtype"
)

// buildAddModule builds a one-function module: def add(x: int, y: int)
// -> int: return x + y, wrapped in a ModuleIR so EmitModule can be
// exercised end-to-end.
func buildAddModule(t *testing.T) *ir.ModuleIR {
	t.Helper()
	b := ir.NewBuilder()
	entry := b.NewBlock()
	b.Activate(entry)

	x := b.Regs.New("x", rtype.RInt)
	y := b.Regs.New("y", rtype.RInt)
	sum := b.Regs.New("sum", rtype.RInt)
	b.Emit(&ir.IntOp{Dest: sum, OpK: ir.IntAdd, Lhs: x, Rhs: y})
	b.Emit(&ir.Return{Value: sum})

	fn := &ir.FuncIR{
		Name:   "add",
		Sig:    ir.Signature{ArgTypes: []rtype.RType{rtype.RInt, rtype.RInt}, ArgNames: []string{"x", "y"}, RetType: rtype.RInt},
		Args:   []*ir.Register{x, y},
		Blocks: b.Blocks(),
		Entry:  entry,
	}

	return &ir.ModuleIR{Name: "arith", Funcs: []*ir.FuncIR{fn}}
}

func TestEmitModuleProducesNativeAndWrapperFunctions(t *testing.T) {
	m := buildAddModule(t)
	out, err := EmitModule(DefaultConfig(), m)
	require.NoError(t, err)

	assert.Contains(t, out.Source, "arith__add_native")
	assert.Contains(t, out.Source, "arith__add_wrapper")
	assert.Contains(t, out.Source, "PyInit_arith")
	assert.Contains(t, out.Prototypes, "arith__add_native")
	assert.Equal(t, []string{"arith__add_wrapper"}, out.Exports)
}

func TestEmitModuleEmitsIntOpAndReturn(t *testing.T) {
	m := buildAddModule(t)
	out, err := EmitModule(DefaultConfig(), m)
	require.NoError(t, err)

	assert.True(t, strings.Contains(out.Source, " + "), "expected the int_op to lower to a C '+' expression")
	assert.Contains(t, out.Source, "return")
}

// buildClassModule builds one native class P with a single int attribute
// and one method in its vtable, exercising emitClass.
func buildClassModule(t *testing.T) *ir.ModuleIR {
	t.Helper()
	c := &ir.ClassIR{
		Name:  "P",
		Attrs: []ir.AttrInfo{{Name: "x", Type: rtype.RInt}},
		VTable: []ir.VTableEntry{
			{Name: "getx", FuncName: "pkg.P.getx"},
		},
	}
	return &ir.ModuleIR{Name: "pkg", Classes: []*ir.ClassIR{c}}
}

func TestEmitModuleEmitsClassStructAndVTable(t *testing.T) {
	m := buildClassModule(t)
	out, err := EmitModule(DefaultConfig(), m)
	require.NoError(t, err)

	assert.Contains(t, out.Prototypes, "PyObject_HEAD")
	assert.Contains(t, out.Prototypes, "pkg__P_Type")
	assert.Contains(t, out.Source, "pkg__P_vtable")
	assert.Contains(t, out.Source, "pkg_P_getx")
}

func TestCTypeMapsUnboxedAndBoxedRepresentations(t *testing.T) {
	assert.Equal(t, "int64_t", cType(rtype.RInt))
	assert.Equal(t, "double", cType(rtype.RFloat))
	assert.Equal(t, "char", cType(rtype.RBool))
	assert.Equal(t, "PyObject *", cType(rtype.RStr))
	assert.Equal(t, "PyObject *", cType(&rtype.RInstance{ClassName: "P"}))
	assert.Equal(t, "void", cType(rtype.Void))
}

func TestWriteManifestRoundTripsThroughJSON(t *testing.T) {
	m := buildAddModule(t)
	out, err := EmitModule(DefaultConfig(), m)
	require.NoError(t, err)

	manifest := BuildManifest("arith.h", []ModuleOutput{out}, []string{"CPyList_GetItem", "CPy_GetAttr"})
	require.Len(t, manifest.Modules, 1)
	assert.Equal(t, "arith", manifest.Modules[0].Module)
	assert.Equal(t, []string{"CPyList_GetItem", "CPy_GetAttr"}, manifest.RuntimeDeps)

	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	require.NoError(t, WriteManifest(path, manifest))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\"arith__add_wrapper\"")
}
