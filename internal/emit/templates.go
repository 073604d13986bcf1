package emit

import (
	"fmt"

	"github.com/mypyc-go/pyc/internal/ir"
	"github.com/mypyc-go/pyc/internal/rtype"
)

// cType maps an RType to its C representation: a narrow scalar for an
// unboxed primitive, "PyObject *" for anything boxed, and the generated
// struct name for an unboxed value tuple or raw struct (spec.md §4.1/§4.8).
func cType(t rtype.RType) string {
	switch v := t.(type) {
	case *rtype.RPrimitive:
		if !v.UnboxedFlag {
			return "PyObject *"
		}
		switch v.Prim {
		case rtype.Int:
			return "int64_t"
		case rtype.I8:
			return "int8_t"
		case rtype.I16:
			return "int16_t"
		case rtype.I32:
			return "int32_t"
		case rtype.I64:
			return "int64_t"
		case rtype.U8:
			return "uint8_t"
		case rtype.U16:
			return "uint16_t"
		case rtype.U32:
			return "uint32_t"
		case rtype.U64:
			return "uint64_t"
		case rtype.Bool:
			return "char" // sentinel 2 doesn't fit C99 _Bool's {0,1} range
		case rtype.Float:
			return "double"
		default:
			return "PyObject *"
		}
	case *rtype.RTuple:
		if rtype.IsUnboxed(v) {
			return "struct " + tupleStructName(v)
		}
		return "PyObject *"
	case *rtype.RStruct:
		return "struct " + v.Name
	case *rtype.RInstance:
		return "PyObject *"
	case *rtype.RUnion:
		return "PyObject *"
	case *rtype.RVoid, nil:
		return "void"
	default:
		return "PyObject *"
	}
}

func tupleStructName(t *rtype.RTuple) string {
	h := 0
	for i, it := range t.Items {
		for _, r := range it.String() {
			h = h*31 + int(r) + i
		}
	}
	if h < 0 {
		h = -h
	}
	return fmt.Sprintf("tuple_t%d", h)
}

// errorSentinelLiteral returns the C literal this type's error sentinel
// compares against for a non-overlap unboxed primitive. Bool/Float carry
// their own ErrorScalar/ErrorFloat (spec.md §9's decided bit patterns);
// the other unboxed integer widths have no spec-mandated sentinel, so we
// pick each signed type's minimum representable value and each unsigned
// type's maximum — an open gap spec.md
// leaves implicit, resolved the same way DESIGN.md already resolves the
// bool/float cases (see DESIGN.md's Open Question decisions).
func errorSentinelLiteral(p *rtype.RPrimitive) string {
	if p.OverlapFlag {
		if p.ErrorIsFloat {
			return fmt.Sprintf("%#x /* reserved NaN payload */", int64(0x7ff8000000000001))
		}
		return fmt.Sprintf("%d", p.ErrorScalar)
	}
	switch p.Prim {
	case rtype.Int, rtype.I64:
		return "INT64_MIN"
	case rtype.I8:
		return "INT8_MIN"
	case rtype.I16:
		return "INT16_MIN"
	case rtype.I32:
		return "INT32_MIN"
	case rtype.U8:
		return "UINT8_MAX"
	case rtype.U16:
		return "UINT16_MAX"
	case rtype.U32:
		return "UINT32_MAX"
	case rtype.U64:
		return "UINT64_MAX"
	default:
		return "0"
	}
}

// errorCheckExpr returns a C boolean expression that is true when expr
// (of type t) holds t's error sentinel.
func errorCheckExpr(t rtype.RType, expr string) string {
	p, ok := t.(*rtype.RPrimitive)
	if !ok || !p.UnboxedFlag {
		return expr + " == NULL"
	}
	if p.ErrorIsFloat {
		return fmt.Sprintf("is_error_nan(%s)", expr)
	}
	return fmt.Sprintf("%s == %s", expr, errorSentinelLiteral(p))
}

// boxExpr returns the C expression that boxes a native-representation
// value into a PyObject*, used by wrapper functions (spec.md §4.8).
func boxExpr(t rtype.RType, expr string) string {
	p, ok := t.(*rtype.RPrimitive)
	if !ok {
		return expr // already boxed (instance/union/boxed tuple)
	}
	if !p.UnboxedFlag {
		return expr
	}
	switch p.Prim {
	case rtype.Int, rtype.I8, rtype.I16, rtype.I32, rtype.I64:
		return fmt.Sprintf("PyLong_FromLongLong((long long)%s)", expr)
	case rtype.U8, rtype.U16, rtype.U32, rtype.U64:
		return fmt.Sprintf("PyLong_FromUnsignedLongLong((unsigned long long)%s)", expr)
	case rtype.Bool:
		return fmt.Sprintf("PyBool_FromLong((long)%s)", expr)
	case rtype.Float:
		return fmt.Sprintf("PyFloat_FromDouble(%s)", expr)
	default:
		return expr
	}
}

// parseTupleFormat returns the PyArg_ParseTuple format character for an
// unboxed argument type, or "O" (take the PyObject* itself) for anything
// boxed.
func parseTupleFormat(t rtype.RType) string {
	p, ok := t.(*rtype.RPrimitive)
	if !ok || !p.UnboxedFlag {
		return "O"
	}
	switch p.Prim {
	case rtype.Int, rtype.I64:
		return "L"
	case rtype.I8, rtype.I16, rtype.I32:
		return "i"
	case rtype.U8, rtype.U16, rtype.U32, rtype.U64:
		return "K"
	case rtype.Bool:
		return "p"
	case rtype.Float:
		return "d"
	default:
		return "O"
	}
}

// emitOp renders one Op to a C statement (or several, newline-joined),
// the per-Op fixed emission template spec.md §4.8 requires: "never
// introduce implicit control flow, never allocate without a
// corresponding refcount op, always check the error sentinel of any
// sub-expression." Dispatched by type switch, the C-text analogue of
// the teacher's backend_ir.go opcodeName/instArgs dispatch table.
//
// Ops whose ErrorSignal is ErrorPairedFlag (spec.md §4.6) carry their
// own Flag register; this wrapper appends the single statement that
// computes it from the op's own Defines() result, so every paired-flag
// op's template only has to worry about computing its value, not its
// error signalling.
func (e *CEmitter) emitOp(op ir.Op) (string, error) {
	stmt, err := e.emitOpBase(op)
	if err != nil {
		return stmt, err
	}
	if op.ErrorSignal() == ir.ErrorPairedFlag {
		if flag, dest := op.ErrorFlag(), op.Defines(); flag != nil && dest != nil {
			stmt += fmt.Sprintf("    %s = %s;\n", cIdent(flag), errorCheckExpr(dest.Type, cIdent(dest)))
		}
	}
	return stmt, nil
}

func (e *CEmitter) emitOpBase(op ir.Op) (string, error) {
	switch o := op.(type) {
	case *ir.Goto:
		return fmt.Sprintf("    goto %s;\n", cLabel(o.Target)), nil
	case *ir.Branch:
		cond := cIdent(o.Cond)
		if o.Negate {
			cond = "!" + cond
		}
		return fmt.Sprintf("    if (%s) goto %s; else goto %s;\n", cond, cLabel(o.TrueBlock), cLabel(o.FalseBlock)), nil
	case *ir.Return:
		if o.Value == nil {
			return "    return;\n", nil
		}
		return fmt.Sprintf("    return %s;\n", cIdent(o.Value)), nil
	case *ir.Unreachable:
		return "    __builtin_unreachable();\n", nil
	case *ir.RaiseAndReturn:
		return fmt.Sprintf("    return %s;\n", errorValueExpr(o.RetType)), nil
	case *ir.Assign:
		return fmt.Sprintf("    %s = %s;\n", cIdent(o.Dest), cIdent(o.Src)), nil
	case *ir.LoadLiteral:
		return e.emitLoadLiteral(o), nil
	case *ir.LoadAddress:
		return fmt.Sprintf("    %s = (PyObject *)&%s;\n", cIdent(o.Dest), sanitizeIdent(o.Static)), nil
	case *ir.IntOp:
		return fmt.Sprintf("    %s = %s %s %s;\n", cIdent(o.Dest), cIdent(o.Lhs), intOpSym(o.OpK), cIdent(o.Rhs)), nil
	case *ir.ComparisonOp:
		return fmt.Sprintf("    %s = (%s %s %s);\n", cIdent(o.Dest), cIdent(o.Lhs), cmpSym(o.CmpK), cIdent(o.Rhs)), nil
	case *ir.FloatOp:
		return fmt.Sprintf("    %s = %s %s %s;\n", cIdent(o.Dest), cIdent(o.Lhs), intOpSym(o.OpK), cIdent(o.Rhs)), nil
	case *ir.FloatComparisonOp:
		return fmt.Sprintf("    %s = (%s %s %s);\n", cIdent(o.Dest), cIdent(o.Lhs), cmpSym(o.CmpK), cIdent(o.Rhs)), nil
	case *ir.FloatNeg:
		return fmt.Sprintf("    %s = -%s;\n", cIdent(o.Dest), cIdent(o.Src)), nil
	case *ir.BoolOp:
		return e.emitBoolOp(o), nil
	case *ir.GetAttr:
		return fmt.Sprintf("    %s = CPy_GetAttr(%s, %q);\n", cIdent(o.Dest), cIdent(o.Obj), o.Name), nil
	case *ir.SetAttr:
		return fmt.Sprintf("    CPy_SetAttr(%s, %q, %s);\n", cIdent(o.Obj), o.Name, cIdent(o.Value)), nil
	case *ir.GetElementPtr:
		return fmt.Sprintf("    %s = ((char *)%s) + %d;\n", cIdent(o.Dest), cIdent(o.Base), o.Offset), nil
	case *ir.LoadMem:
		return fmt.Sprintf("    %s = *(%s *)%s;\n", cIdent(o.Dest), cType(o.Dest.Type), cIdent(o.Addr)), nil
	case *ir.StoreMem:
		return fmt.Sprintf("    *(%s *)%s = %s;\n", cType(o.Value.Type), cIdent(o.Addr), cIdent(o.Value)), nil
	case *ir.Box:
		return fmt.Sprintf("    %s = %s;\n", cIdent(o.Dest), boxExpr(o.Src.Type, cIdent(o.Src))), nil
	case *ir.Unbox:
		return fmt.Sprintf("    %s = CPy_Unbox_%s(%s);\n", cIdent(o.Dest), sanitizeIdent(o.Target.String()), cIdent(o.Src)), nil
	case *ir.Cast:
		return fmt.Sprintf("    %s = CPy_Cast_%s(%s);\n", cIdent(o.Dest), sanitizeIdent(o.Target.String()), cIdent(o.Src)), nil
	case *ir.Call:
		return e.emitCall(o), nil
	case *ir.MethodCall:
		return e.emitMethodCall(o), nil
	case *ir.CallC:
		return e.emitCallC(o), nil
	case *ir.PyCall:
		return e.emitPyCall(o), nil
	case *ir.IncRef:
		return fmt.Sprintf("    Py_INCREF(%s);\n", cIdent(o.Src)), nil
	case *ir.DecRef:
		if o.IsXDec {
			return fmt.Sprintf("    Py_XDECREF(%s);\n", cIdent(o.Src)), nil
		}
		return fmt.Sprintf("    Py_DECREF(%s);\n", cIdent(o.Src)), nil
	case *ir.KeepAlive:
		return e.emitKeepAlive(o), nil
	case *ir.RaiseStandardError:
		return fmt.Sprintf("    PyErr_SetString(%s, %q);\n", standardErrorCType(o.ErrK), o.Message), nil
	case *ir.ErrorValue:
		return fmt.Sprintf("    %s = %s;\n", cIdent(o.Dest), errorValueExpr(o.Dest.Type)), nil
	case *ir.ContainerOp:
		return e.emitContainerOp(o), nil
	case *ir.CheckAssigned:
		return e.emitCheckAssigned(o), nil
	case *ir.CheckError:
		return e.emitCheckError(o), nil
	default:
		return "", fmt.Errorf("emit: no C template for op kind %d", op.Kind())
	}
}

func (e *CEmitter) emitLoadLiteral(o *ir.LoadLiteral) string {
	switch o.LitK {
	case ir.LitInt:
		return fmt.Sprintf("    %s = %d;\n", cIdent(o.Dest), o.IntVal)
	case ir.LitFloat:
		return fmt.Sprintf("    %s = %g;\n", cIdent(o.Dest), o.FloatVal)
	case ir.LitBool:
		v := 0
		if o.BoolVal {
			v = 1
		}
		return fmt.Sprintf("    %s = %d;\n", cIdent(o.Dest), v)
	case ir.LitStr:
		sym := e.internString(o.StrVal)
		return fmt.Sprintf("    %s = %s;\n", cIdent(o.Dest), sym)
	case ir.LitNone:
		return fmt.Sprintf("    %s = Py_None;\n", cIdent(o.Dest))
	default:
		return fmt.Sprintf("    /* unknown literal kind for %s */\n", cIdent(o.Dest))
	}
}

func (e *CEmitter) emitBoolOp(o *ir.BoolOp) string {
	switch o.OpK {
	case ir.BoolNot:
		return fmt.Sprintf("    %s = !%s;\n", cIdent(o.Dest), cIdent(o.Lhs))
	case ir.BoolAnd:
		return fmt.Sprintf("    %s = %s && %s;\n", cIdent(o.Dest), cIdent(o.Lhs), cIdent(o.Rhs))
	default:
		return fmt.Sprintf("    %s = %s || %s;\n", cIdent(o.Dest), cIdent(o.Lhs), cIdent(o.Rhs))
	}
}

func (e *CEmitter) emitCall(o *ir.Call) string {
	args := joinIdents(o.Args)
	if o.Dest == nil {
		return fmt.Sprintf("    %s(%s);\n", sanitizeIdent(o.FuncName), args)
	}
	return fmt.Sprintf("    %s = %s(%s);\n", cIdent(o.Dest), sanitizeIdent(o.FuncName), args)
}

func (e *CEmitter) emitMethodCall(o *ir.MethodCall) string {
	args := cIdent(o.Obj)
	if len(o.Args) > 0 {
		args += ", " + joinIdents(o.Args)
	}
	table := "vtable"
	if o.Trait != "" {
		table = "trait_" + sanitizeIdent(o.Trait)
	}
	call := fmt.Sprintf("((PyObject *(*)(PyObject *, ...))CPy_%s_Slot(%s, %q))(%s)",
		table, cIdent(o.Obj), o.Method, args)
	if o.Dest == nil {
		return "    " + call + ";\n"
	}
	return fmt.Sprintf("    %s = %s;\n", cIdent(o.Dest), call)
}

func (e *CEmitter) emitCallC(o *ir.CallC) string {
	args := joinIdents(o.Args)
	if o.Dest == nil {
		return fmt.Sprintf("    %s(%s);\n", o.CFunc, args)
	}
	return fmt.Sprintf("    %s = %s(%s);\n", cIdent(o.Dest), o.CFunc, args)
}

func (e *CEmitter) emitPyCall(o *ir.PyCall) string {
	argsTuple := fmt.Sprintf("CPy_BuildArgsTuple(%d, %s)", len(o.Args), joinIdents(o.Args))
	kwDict := "NULL"
	if len(o.Kwargs) > 0 {
		kwDict = fmt.Sprintf("CPy_BuildKwargsDict(%d, %s)", len(o.Kwargs), joinIdents(o.Kwargs))
	}
	return fmt.Sprintf("    %s = PyObject_Call(%s, %s, %s);\n", cIdent(o.Dest), cIdent(o.Callee), argsTuple, kwDict)
}

func (e *CEmitter) emitKeepAlive(o *ir.KeepAlive) string {
	s := "    (void)0"
	for _, v := range o.Vars {
		s += fmt.Sprintf("; (void)%s", cIdent(v))
	}
	return s + ";\n"
}

func (e *CEmitter) emitContainerOp(o *ir.ContainerOp) string {
	call := containerHelper(o.OpK)
	args := joinIdents(o.Args)
	if o.Dest == nil {
		return fmt.Sprintf("    %s(%s);\n", call, args)
	}
	return fmt.Sprintf("    %s = %s(%s);\n", cIdent(o.Dest), call, args)
}

func containerHelper(k ir.ContainerOpKind) string {
	switch k {
	case ir.ListGet:
		return "CPyList_GetItem"
	case ir.ListSet:
		return "CPyList_SetItem"
	case ir.ListAppend:
		return "CPyList_Append"
	case ir.ListLen:
		return "CPyList_Len"
	case ir.DictGet:
		return "CPyDict_GetItem"
	case ir.DictSet:
		return "CPyDict_SetItem"
	case ir.DictContains:
		return "CPyDict_Contains"
	case ir.SetAdd:
		return "CPySet_Add"
	case ir.SetContains:
		return "CPySet_Contains"
	case ir.TupleGet:
		return "CPyTuple_GetItem"
	case ir.StrConcat:
		return "CPyStr_Concat"
	case ir.StrLen:
		return "CPyStr_Len"
	case ir.BytesConcat:
		return "CPyBytes_Concat"
	default:
		return "CPy_UnknownContainerOp"
	}
}

func (e *CEmitter) emitCheckAssigned(o *ir.CheckAssigned) string {
	return fmt.Sprintf("    %s = (%s);\n", cIdent(o.Dest), errorCheckExpr(o.Local.Type, cIdent(o.Local))+" ? 0 : 1")
}

func (e *CEmitter) emitCheckError(o *ir.CheckError) string {
	if o.Value == nil {
		return fmt.Sprintf("    %s = PyErr_Occurred() != NULL;\n", cIdent(o.Dest))
	}
	return fmt.Sprintf("    %s = (%s);\n", cIdent(o.Dest), errorCheckExpr(o.Value.Type, cIdent(o.Value)))
}

func joinIdents(regs []*ir.Register) string {
	s := ""
	for i, r := range regs {
		if i > 0 {
			s += ", "
		}
		s += cIdent(r)
	}
	return s
}

func intOpSym(k ir.IntOpKind) string {
	switch k {
	case ir.IntAdd:
		return "+"
	case ir.IntSub:
		return "-"
	case ir.IntMul:
		return "*"
	case ir.IntDiv:
		return "/"
	case ir.IntMod:
		return "%"
	case ir.IntShl:
		return "<<"
	case ir.IntShr:
		return ">>"
	case ir.IntAnd:
		return "&"
	case ir.IntOr:
		return "|"
	case ir.IntXor:
		return "^"
	default:
		return "+"
	}
}

func cmpSym(k ir.CompareKind) string {
	switch k {
	case ir.CmpEq:
		return "=="
	case ir.CmpNe:
		return "!="
	case ir.CmpLt:
		return "<"
	case ir.CmpLe:
		return "<="
	case ir.CmpGt:
		return ">"
	case ir.CmpGe:
		return ">="
	default:
		return "=="
	}
}

func standardErrorCType(k ir.StandardErrorKind) string {
	switch k {
	case ir.ErrValueError:
		return "PyExc_ValueError"
	case ir.ErrTypeError:
		return "PyExc_TypeError"
	case ir.ErrAttributeError:
		return "PyExc_AttributeError"
	case ir.ErrUnboundLocalError:
		return "PyExc_UnboundLocalError"
	case ir.ErrStopIteration:
		return "PyExc_StopIteration"
	case ir.ErrIndexError:
		return "PyExc_IndexError"
	case ir.ErrKeyError:
		return "PyExc_KeyError"
	case ir.ErrRuntimeError:
		return "PyExc_RuntimeError"
	default:
		return "PyExc_RuntimeError"
	}
}

func errorValueExpr(t rtype.RType) string {
	p, ok := t.(*rtype.RPrimitive)
	if !ok || !p.UnboxedFlag {
		return "NULL"
	}
	return errorSentinelLiteral(p)
}
