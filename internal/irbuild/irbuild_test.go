package irbuild

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mypyc-go/pyc/internal/ir"
	"github.com/mypyc-go/pyc/internal/past"
	"github.com/mypyc-go/pyc/internal/registry"
	"github.com/mypyc-go/pyc/internal/rtype"
)

func TestDeclareAndBuildSimpleFunc(t *testing.T) {
	pb := past.NewBuilder()
	xp := pb.Param("x", rtype.RInt)
	yp := pb.Param("y", rtype.RInt)
	xRef := pb.Name("x", rtype.RInt)
	yRef := pb.Name("y", rtype.RInt)
	sum := pb.BinOp("+", xRef, yRef, rtype.RInt)
	body := pb.Block(pb.Return(sum))
	fn := pb.FuncDef("add", []*past.Node{xp, yp}, rtype.RInt, body)

	dt, errs := Declare([]*past.Node{fn}, pb.Types)
	require.Empty(t, errs)
	sig, ok := dt.Sigs["add"]
	require.True(t, ok)
	assert.Equal(t, rtype.RInt, sig.RetType)
	assert.Equal(t, []string{"x", "y"}, sig.ArgNames)

	builder := New(dt, registry.Default(), pb.Types)
	f, _, buildErrs := builder.BuildFunc("add", fn)
	require.Empty(t, buildErrs)
	assert.Equal(t, "add", f.Name)
	dump := f.Dump()
	assert.Contains(t, dump, "func add")
	assert.Contains(t, dump, "int_op")
	assert.Contains(t, dump, "return")
}

func TestBuildIfProducesBranchingBlocks(t *testing.T) {
	pb := past.NewBuilder()
	flag := pb.Param("flag", rtype.RBool)
	cond := pb.Name("flag", rtype.RBool)
	thenRet := pb.Return(pb.IntLit(1, rtype.RInt))
	elseRet := pb.Return(pb.IntLit(0, rtype.RInt))
	ifNode := pb.If(cond, thenRet, elseRet)
	body := pb.Block(ifNode)
	fn := pb.FuncDef("pick", []*past.Node{flag}, rtype.RInt, body)

	dt, errs := Declare([]*past.Node{fn}, pb.Types)
	require.Empty(t, errs)

	builder := New(dt, registry.Default(), pb.Types)
	f, _, buildErrs := builder.BuildFunc("pick", fn)
	require.Empty(t, buildErrs)
	assert.GreaterOrEqual(t, len(f.Blocks), 4, "entry, then, else, join")
}

func TestBuildWhileLoopsBackToHeader(t *testing.T) {
	pb := past.NewBuilder()
	n := pb.Param("n", rtype.RInt)
	cond := pb.Compare("<", pb.Name("n", rtype.RInt), pb.IntLit(10, rtype.RInt))
	bump := pb.Assign(pb.Name("n", rtype.RInt), pb.BinOp("+", pb.Name("n", rtype.RInt), pb.IntLit(1, rtype.RInt), rtype.RInt))
	loop := pb.While(cond, pb.Block(bump))
	body := pb.Block(loop, pb.Return(pb.Name("n", rtype.RInt)))
	fn := pb.FuncDef("count", []*past.Node{n}, rtype.RInt, body)

	dt, errs := Declare([]*past.Node{fn}, pb.Types)
	require.Empty(t, errs)

	builder := New(dt, registry.Default(), pb.Types)
	f, _, buildErrs := builder.BuildFunc("count", fn)
	require.Empty(t, buildErrs)
	assert.GreaterOrEqual(t, len(f.Blocks), 3, "header, body, exit")
}

func TestDeclareClassInheritsVTablePrefix(t *testing.T) {
	pb := past.NewBuilder()
	speakBase := pb.FuncDef("speak", nil, rtype.RStr, pb.Block(pb.Return(pb.StrLit("..."))))
	base := pb.ClassDef("Animal", "", pb.Block(speakBase))

	speakDerived := pb.FuncDef("speak", nil, rtype.RStr, pb.Block(pb.Return(pb.StrLit("Woof"))))
	fetch := pb.FuncDef("fetch", nil, rtype.RNone, pb.Block())
	derived := pb.ClassDef("Dog", "Animal", pb.Block(speakDerived, fetch))

	dt, errs := Declare([]*past.Node{base, derived}, pb.Types)
	require.Empty(t, errs)

	dog, ok := dt.Classes["Dog"]
	require.True(t, ok)
	require.Len(t, dog.VTable, 2)
	assert.Equal(t, "speak", dog.VTable[0].Name)
	assert.Equal(t, "Dog.speak", dog.VTable[0].FuncName)
	assert.Equal(t, "fetch", dog.VTable[1].Name)
}

func TestUndefinedNameProducesError(t *testing.T) {
	pb := past.NewBuilder()
	body := pb.Block(pb.Return(pb.Name("mystery", rtype.RInt)))
	fn := pb.FuncDef("broken", nil, rtype.RInt, body)

	dt, errs := Declare([]*past.Node{fn}, pb.Types)
	require.Empty(t, errs)

	builder := New(dt, registry.Default(), pb.Types)
	_, _, buildErrs := builder.BuildFunc("broken", fn)
	require.Len(t, buildErrs, 1)
	assert.Contains(t, buildErrs[0].Error(), "undefined name")
}

func TestAttributeReadLowersToGetAttr(t *testing.T) {
	pb := past.NewBuilder()
	obj := pb.Param("obj", &rtype.RInstance{ClassName: "pkg.Point"})
	attr := pb.Attribute(pb.Name("obj", &rtype.RInstance{ClassName: "pkg.Point"}), "x", rtype.RInt)
	body := pb.Block(pb.Return(attr))
	fn := pb.FuncDef("get_x", []*past.Node{obj}, rtype.RInt, body)

	dt, errs := Declare([]*past.Node{fn}, pb.Types)
	require.Empty(t, errs)

	builder := New(dt, registry.Default(), pb.Types)
	f, _, buildErrs := builder.BuildFunc("get_x", fn)
	require.Empty(t, buildErrs)
	assert.Contains(t, f.Dump(), "get_attr")
}

func TestBuiltinLenCallLowersToCHelper(t *testing.T) {
	pb := past.NewBuilder()
	xs := pb.Param("xs", rtype.RList)
	callLen := pb.Call(pb.Name("len", nil), []*past.Node{pb.Name("xs", rtype.RList)}, rtype.RInt)
	body := pb.Block(pb.Return(callLen))
	fn := pb.FuncDef("count_items", []*past.Node{xs}, rtype.RInt, body)

	dt, errs := Declare([]*past.Node{fn}, pb.Types)
	require.Empty(t, errs)

	builder := New(dt, registry.Default(), pb.Types)
	f, _, buildErrs := builder.BuildFunc("count_items", fn)
	require.Empty(t, buildErrs)
	assert.Contains(t, f.Dump(), "CPyList_GetItemCount")
}

func TestRaiseStandardErrorLowersAndTerminatesBlock(t *testing.T) {
	pb := past.NewBuilder()
	exc := pb.Call(pb.Name("ValueError", nil), []*past.Node{pb.StrLit("bad")}, nil)
	body := pb.Block(pb.Raise(exc))
	fn := pb.FuncDef("boom", nil, rtype.Void, body)

	dt, errs := Declare([]*past.Node{fn}, pb.Types)
	require.Empty(t, errs)

	builder := New(dt, registry.Default(), pb.Types)
	f, _, buildErrs := builder.BuildFunc("boom", fn)
	require.Empty(t, buildErrs)
	dump := f.Dump()
	assert.Contains(t, dump, "raise_standard_error")
	assert.Contains(t, dump, "unreachable")
}

func TestBareRaiseReraises(t *testing.T) {
	pb := past.NewBuilder()
	body := pb.Block(pb.Raise(nil))
	fn := pb.FuncDef("reraise", nil, rtype.Void, body)

	dt, errs := Declare([]*past.Node{fn}, pb.Types)
	require.Empty(t, errs)

	builder := New(dt, registry.Default(), pb.Types)
	f, _, buildErrs := builder.BuildFunc("reraise", fn)
	require.Empty(t, buildErrs)
	assert.Contains(t, f.Dump(), "CPyErr_Reraise")
}

func TestForOverListUsesIndexedFastPath(t *testing.T) {
	pb := past.NewBuilder()
	xs := pb.Param("xs", rtype.RList)
	target := pb.Name("item", rtype.RObject)
	loopBody := pb.Block(pb.ExprStmt(target))
	loop := pb.For(target, pb.Name("xs", rtype.RList), loopBody)
	body := pb.Block(loop, pb.Return(nil))
	fn := pb.FuncDef("walk", []*past.Node{xs}, rtype.Void, body)

	dt, errs := Declare([]*past.Node{fn}, pb.Types)
	require.Empty(t, errs)

	builder := New(dt, registry.Default(), pb.Types)
	f, _, buildErrs := builder.BuildFunc("walk", fn)
	require.Empty(t, buildErrs)
	dump := f.Dump()
	assert.Contains(t, dump, "container_op")
	assert.NotContains(t, dump, "CPyObject_GetIter")
}

func TestForOverGenericIterableUsesProtocol(t *testing.T) {
	pb := past.NewBuilder()
	xs := pb.Param("xs", rtype.RObject)
	target := pb.Name("item", rtype.RObject)
	loopBody := pb.Block(pb.ExprStmt(target))
	loop := pb.For(target, pb.Name("xs", rtype.RObject), loopBody)
	body := pb.Block(loop, pb.Return(nil))
	fn := pb.FuncDef("walk_generic", []*past.Node{xs}, rtype.Void, body)

	dt, errs := Declare([]*past.Node{fn}, pb.Types)
	require.Empty(t, errs)

	builder := New(dt, registry.Default(), pb.Types)
	f, _, buildErrs := builder.BuildFunc("walk_generic", fn)
	require.Empty(t, buildErrs)
	dump := f.Dump()
	assert.Contains(t, dump, "CPyObject_GetIter")
	assert.Contains(t, dump, "CPyIter_HasNext")
	assert.Contains(t, dump, "CPyIter_Next")
}

func TestTryExceptFinallyRoutesRaisingOpsToHandler(t *testing.T) {
	pb := past.NewBuilder()
	obj := pb.Param("obj", &rtype.RInstance{ClassName: "pkg.Point"})
	riskyRead := pb.ExprStmt(pb.Attribute(pb.Name("obj", &rtype.RInstance{ClassName: "pkg.Point"}), "x", rtype.RInt))
	handler := pb.ExceptHandler(pb.Name("AttributeError", nil), "err", pb.Block(pb.Pass()))
	finallyBody := pb.Block(pb.Pass())
	tryStmt := pb.Try(pb.Block(riskyRead), []*past.Node{handler}, finallyBody)
	body := pb.Block(tryStmt, pb.Return(nil))
	fn := pb.FuncDef("guarded", []*past.Node{obj}, rtype.Void, body)

	dt, errs := Declare([]*past.Node{fn}, pb.Types)
	require.Empty(t, errs)

	builder := New(dt, registry.Default(), pb.Types)
	f, handlers, buildErrs := builder.BuildFunc("guarded", fn)
	require.Empty(t, buildErrs)
	assert.NotEmpty(t, handlers, "a handler map entry should route the GetAttr op's block to the dispatch block")
	dump := f.Dump()
	assert.Contains(t, dump, "get_attr")
	assert.Contains(t, dump, "CPyErr_ExceptionMatches_AttributeError")
	assert.Contains(t, dump, "CPyErr_FetchValue")
}

func TestTryWithoutFinallyReraisesWhenNoHandlerMatches(t *testing.T) {
	pb := past.NewBuilder()
	handler := pb.ExceptHandler(pb.Name("KeyError", nil), "", pb.Block(pb.Pass()))
	tryStmt := pb.Try(pb.Block(pb.Pass()), []*past.Node{handler}, nil)
	body := pb.Block(tryStmt, pb.Return(nil))
	fn := pb.FuncDef("maybe_catches", nil, rtype.Void, body)

	dt, errs := Declare([]*past.Node{fn}, pb.Types)
	require.Empty(t, errs)

	builder := New(dt, registry.Default(), pb.Types)
	f, _, buildErrs := builder.BuildFunc("maybe_catches", fn)
	require.Empty(t, buildErrs)
	assert.Contains(t, f.Dump(), "CPyErr_Reraise")
}

func TestWithStatementCallsEnterAndExit(t *testing.T) {
	pb := past.NewBuilder()
	ctxParam := pb.Param("ctx", &rtype.RInstance{ClassName: "pkg.Lock"})
	ctxRef := pb.Name("ctx", &rtype.RInstance{ClassName: "pkg.Lock"})
	withStmt := pb.With(ctxRef, "handle", pb.Block(pb.Pass()))
	body := pb.Block(withStmt, pb.Return(nil))
	fn := pb.FuncDef("locked", []*past.Node{ctxParam}, rtype.Void, body)

	dt, errs := Declare([]*past.Node{fn}, pb.Types)
	require.Empty(t, errs)

	builder := New(dt, registry.Default(), pb.Types)
	f, handlers, buildErrs := builder.BuildFunc("locked", fn)
	require.Empty(t, buildErrs)
	dump := f.Dump()
	assert.Contains(t, dump, "__enter__")
	assert.Contains(t, dump, "__exit__")
	_ = handlers
}

func TestAugAssignDesugarsToBinOpAndStore(t *testing.T) {
	pb := past.NewBuilder()
	n := pb.Param("n", rtype.RInt)
	aug := pb.AugAssign("+=", pb.Name("n", rtype.RInt), pb.IntLit(1, rtype.RInt))
	body := pb.Block(aug, pb.Return(pb.Name("n", rtype.RInt)))
	fn := pb.FuncDef("bump_once", []*past.Node{n}, rtype.RInt, body)

	dt, errs := Declare([]*past.Node{fn}, pb.Types)
	require.Empty(t, errs)

	builder := New(dt, registry.Default(), pb.Types)
	f, _, buildErrs := builder.BuildFunc("bump_once", fn)
	require.Empty(t, buildErrs)
	assert.Contains(t, f.Dump(), "int_op")
}

func TestAttributeAssignLowersToSetAttr(t *testing.T) {
	pb := past.NewBuilder()
	obj := pb.Param("obj", &rtype.RInstance{ClassName: "pkg.Point"})
	target := pb.Attribute(pb.Name("obj", &rtype.RInstance{ClassName: "pkg.Point"}), "x", rtype.RInt)
	assign := pb.Assign(target, pb.IntLit(5, rtype.RInt))
	body := pb.Block(assign, pb.Return(nil))
	fn := pb.FuncDef("set_x", []*past.Node{obj}, rtype.Void, body)

	dt, errs := Declare([]*past.Node{fn}, pb.Types)
	require.Empty(t, errs)

	builder := New(dt, registry.Default(), pb.Types)
	f, _, buildErrs := builder.BuildFunc("set_x", fn)
	require.Empty(t, buildErrs)
	assert.Contains(t, f.Dump(), "set_attr")
}

func TestFinalAttributeInliningSubstitutesConstant(t *testing.T) {
	pb := past.NewBuilder()
	finalDecl := pb.FinalAssign(pb.Name("MAX", rtype.RInt), pb.IntLit(100, rtype.RInt))
	body := pb.Block(pb.Return(pb.Name("MAX", rtype.RInt)))
	fn := pb.FuncDef("limit", nil, rtype.RInt, body)

	dt, errs := Declare([]*past.Node{finalDecl, fn}, pb.Types)
	require.Empty(t, errs)
	require.Contains(t, dt.Finals, "MAX")

	builder := New(dt, registry.Default(), pb.Types)
	f, _, buildErrs := builder.BuildFunc("limit", fn)
	require.Empty(t, buildErrs)
	dump := f.Dump()
	assert.Contains(t, dump, "literal")
	assert.NotContains(t, dump, "undefined")
}

func TestIsinstanceAgainstNativeClassUsesTypePtrCompare(t *testing.T) {
	pb := past.NewBuilder()
	speak := pb.FuncDef("speak", nil, rtype.RStr, pb.Block(pb.Return(pb.StrLit("..."))))
	animalCls := pb.ClassDef("Animal", "", pb.Block(speak))

	objParam := pb.Param("obj", rtype.RObject)
	objRef := pb.Name("obj", rtype.RObject)
	isInstCall := pb.Call(pb.Name("isinstance", nil), []*past.Node{objRef, pb.Name("Animal", nil)}, rtype.RBool)
	body := pb.Block(pb.Return(isInstCall))
	fn := pb.FuncDef("is_animal", []*past.Node{objParam}, rtype.RBool, body)

	dt, errs := Declare([]*past.Node{animalCls, fn}, pb.Types)
	require.Empty(t, errs)

	builder := New(dt, registry.Default(), pb.Types)
	f, _, buildErrs := builder.BuildFunc("is_animal", fn)
	require.Empty(t, buildErrs)
	assert.Contains(t, f.Dump(), "CPy_TypePtrEq_Animal")
}

// TestTraitDispatchRoutesThroughSecondaryTable models the trait scenario:
// trait T declares foo(self) -> int; classes A and B implement it;
// function call(t: T) -> int: return t.foo(). A's and B's own
// TraitSlots must each carry an entry for T.foo, and a call against a
// T-typed parameter must set MethodCall.Trait rather than dispatching
// through the primary vtable (there is no single vtable for a trait-typed
// receiver, since its runtime class is unknown at compile time).
func TestTraitDispatchRoutesThroughSecondaryTable(t *testing.T) {
	pb := past.NewBuilder()
	traitFoo := pb.FuncDef("foo", nil, rtype.RInt, pb.Block())
	trait := pb.TraitDef("T", pb.Block(traitFoo))

	aFoo := pb.FuncDef("foo", nil, rtype.RInt, pb.Block(pb.Return(pb.IntLit(1, rtype.RInt))))
	classA := pb.ClassDef("A", "", pb.Block(aFoo), "T")
	bFoo := pb.FuncDef("foo", nil, rtype.RInt, pb.Block(pb.Return(pb.IntLit(2, rtype.RInt))))
	classB := pb.ClassDef("B", "", pb.Block(bFoo), "T")

	tParam := pb.Param("t", &rtype.RInstance{ClassName: "T"})
	tRef := pb.Name("t", &rtype.RInstance{ClassName: "T"})
	callFoo := pb.Call(pb.Attribute(tRef, "foo", rtype.RInt), nil, rtype.RInt)
	body := pb.Block(pb.Return(callFoo))
	fn := pb.FuncDef("call", []*past.Node{tParam}, rtype.RInt, body)

	dt, errs := Declare([]*past.Node{trait, classA, classB, fn}, pb.Types)
	require.Empty(t, errs)

	traitIR, ok := dt.Classes["T"]
	require.True(t, ok)
	assert.True(t, traitIR.Flags.IsTrait)

	aIR, ok := dt.Classes["A"]
	require.True(t, ok)
	require.Len(t, aIR.TraitSlots, 1)
	assert.Equal(t, "T", aIR.TraitSlots[0].Trait)
	assert.Equal(t, "foo", aIR.TraitSlots[0].Name)
	assert.Equal(t, "A.foo", aIR.TraitSlots[0].FuncName)

	bIR, ok := dt.Classes["B"]
	require.True(t, ok)
	require.Len(t, bIR.TraitSlots, 1)
	assert.Equal(t, "B.foo", bIR.TraitSlots[0].FuncName)

	builder := New(dt, registry.Default(), pb.Types)
	f, _, buildErrs := builder.BuildFunc("call", fn)
	require.Empty(t, buildErrs)
	assert.Contains(t, f.Dump(), "method_call")

	var mc *ir.MethodCall
	for _, op := range f.AllOps() {
		if m, ok := op.(*ir.MethodCall); ok {
			mc = m
		}
	}
	require.NotNil(t, mc)
	assert.Equal(t, "T", mc.Trait)
}

// TestDeclareClassMissingTraitMethodErrors checks that a class naming a
// trait but never defining one of its methods is rejected at
// declaration time rather than silently producing an incomplete
// TraitSlots table.
func TestDeclareClassMissingTraitMethodErrors(t *testing.T) {
	pb := past.NewBuilder()
	traitFoo := pb.FuncDef("foo", nil, rtype.RInt, pb.Block())
	trait := pb.TraitDef("T", pb.Block(traitFoo))
	classA := pb.ClassDef("A", "", pb.Block(), "T")

	_, errs := Declare([]*past.Node{trait, classA}, pb.Types)
	require.NotEmpty(t, errs)
}
