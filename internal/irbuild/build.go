package irbuild

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/mypyc-go/pyc/internal/ir"
	"github.com/mypyc-go/pyc/internal/passes/exception"
	"github.com/mypyc-go/pyc/internal/past"
	"github.com/mypyc-go/pyc/internal/registry"
	"github.com/mypyc-go/pyc/internal/rtype"
)

// Builder runs the body pass: translating one past.Node function body
// at a time into an ir.FuncIR, using the declaration pass's DeclTable
// for early-bound call resolution (spec.md §4.4). One Builder is reused
// across every function in a unit, the way the teacher's Compiler
// carried one shared instance across compilePackage calls for the whole
// module. BuildID is a fresh UUID assigned by New; nothing in this
// package reads it, and the errors BuildFunc returns do not carry it.
type Builder struct {
	Decl    *DeclTable
	Reg     *registry.Registry
	Types   past.TypeMap
	BuildID uuid.UUID

	cfg      *ir.Builder
	locals   map[string]*ir.Register
	errs     []error
	handlers exception.HandlerMap

	gen         *genFrame    // non-nil while lowering a generator function's body (generator.go)
	genFrameReg *ir.Register // the active generator's frame pointer register
}

func New(decl *DeclTable, reg *registry.Registry, types past.TypeMap) *Builder {
	return &Builder{Decl: decl, Reg: reg, Types: types, BuildID: uuid.New()}
}

type loopLabels struct {
	continueTo *ir.BasicBlock
	breakTo    *ir.BasicBlock
}

// BuildFunc lowers fn's body to a FuncIR registered under qualName in
// the DeclTable. Errors accumulated during lowering are returned
// alongside a best-effort FuncIR (spec.md §7's diagnostic posture: a
// single bad construct should not abort the whole unit). The returned
// HandlerMap records, for every block created while lowering a
// try/except/finally or with statement's protected region, which
// handler block an op raising in that block must target; pass it
// straight through to internal/passes/exception.Run.
func (b *Builder) BuildFunc(qualName string, fn *past.Node) (*ir.FuncIR, exception.HandlerMap, []error) {
	if fn.Body != nil && containsYield(fn.Body) {
		return b.buildGeneratorFunc(qualName, fn)
	}

	sig := b.Decl.Sigs[qualName]
	b.cfg = ir.NewBuilder()
	b.locals = map[string]*ir.Register{}
	b.errs = nil
	b.handlers = exception.HandlerMap{}

	entry := b.cfg.NewBlock()
	b.cfg.Activate(entry)

	args := make([]*ir.Register, len(sig.ArgNames))
	for i, name := range sig.ArgNames {
		r := b.cfg.Regs.New(name, sig.ArgTypes[i])
		b.locals[name] = r
		args[i] = r
	}

	if fn.Body != nil {
		b.lowerStmtList(fn.Body.Nodes, nil)
	}
	if b.cfg.Active().Terminator() == nil {
		b.cfg.Emit(&ir.Return{})
	}

	f := &ir.FuncIR{Name: qualName, Sig: sig, Args: args, Blocks: b.cfg.Blocks(), Entry: entry}
	return f, b.handlers, b.errs
}

func (b *Builder) fail(n *past.Node, msg string) {
	b.errs = append(b.errs, &BuildError{Pos: n.Pos, Message: msg})
}

// errorFlagFor allocates the paired bool error-flag register an op
// producing dest must carry when dest's RType has error overlap
// (spec.md §3/§4.6: float and bool sentinels can double as legal
// data, so their ops are never allowed to signal failure by sentinel
// value alone). Returns nil when dest's type needs no such flag.
func (b *Builder) errorFlagFor(dest *ir.Register) *ir.Register {
	if dest == nil || !rtype.ErrorOverlap(dest.Type) {
		return nil
	}
	return b.cfg.Regs.New("", rtype.RBool)
}

// traitFor reports the trait name a method call against a value of
// static type className must dispatch through, per spec.md §3's
// secondary dispatch table: a variable statically typed as a trait
// never has a single known VTable slot for method (its runtime value
// may be any implementing class), so the call must go through that
// class's TraitSlots instead of the primary vtable. A receiver whose
// static type is a concrete class dispatches directly through its own
// vtable, same as before, so this returns "" in that case.
func (b *Builder) traitFor(className, method string) string {
	cls, ok := b.Decl.Classes[className]
	if !ok || !cls.Flags.IsTrait {
		return ""
	}
	return className
}

func (b *Builder) lowerStmtList(stmts []*past.Node, loops []loopLabels) {
	for _, s := range stmts {
		b.lowerStmt(s, loops)
		if b.cfg.Active().Terminator() != nil {
			return // rest of the list is unreachable
		}
	}
}

func (b *Builder) lowerStmt(n *past.Node, loops []loopLabels) {
	switch n.Kind {
	case past.NBlock:
		b.lowerStmtList(n.Nodes, loops)
	case past.NPass:
		// no-op
	case past.NExprStmt:
		b.lowerExpr(n.X)
	case past.NReturn:
		var v *ir.Register
		if n.X != nil {
			v = b.lowerExpr(n.X)
		}
		if b.gen != nil {
			// A `return` inside a generator body ends iteration (the
			// dialect doesn't carry the returned value out through
			// StopIteration's payload the way CPython's generators do;
			// only that the frame must never be resumed again matters
			// to this compiler's state machine), same as falling off
			// the end of the body.
			b.markGenExhausted()
			v = nil
		}
		b.cfg.Emit(&ir.Return{Value: v})
	case past.NAssign:
		b.lowerAssign(n)
	case past.NAugAssign:
		b.lowerAugAssign(n)
	case past.NIf:
		b.lowerIf(n, loops)
	case past.NWhile:
		b.lowerWhile(n, loops)
	case past.NFor:
		b.lowerFor(n, loops)
	case past.NTry:
		b.lowerTry(n, loops)
	case past.NWith:
		b.lowerWith(n, loops)
	case past.NRaise:
		b.lowerRaise(n)
	case past.NGlobal:
		// no-op: the declaration pass already resolved every module-
		// level name the body pass can see; `global x` carries no
		// further lowering obligation once early binding has resolved
		// the name.
	case past.NBreak:
		if len(loops) == 0 {
			b.fail(n, "break outside loop")
			return
		}
		b.cfg.Goto(loops[len(loops)-1].breakTo)
	case past.NContinue:
		if len(loops) == 0 {
			b.fail(n, "continue outside loop")
			return
		}
		b.cfg.Goto(loops[len(loops)-1].continueTo)
	default:
		b.fail(n, "unsupported statement")
	}
}

func (b *Builder) lowerAssign(n *past.Node) {
	if n.X != nil && n.X.Kind == past.NAttribute {
		obj := b.lowerExpr(n.X.X)
		value := b.lowerExpr(n.Y)
		b.cfg.Emit(&ir.SetAttr{Obj: obj, Name: n.X.Name, Value: value})
		return
	}
	if n.X == nil || n.X.Kind != past.NName {
		b.fail(n, "assignment target must be a simple name or attribute")
		return
	}
	value := b.lowerExpr(n.Y)
	reg, ok := b.locals[n.X.Name]
	if !ok {
		t := b.Types[n.X]
		if t == nil {
			t = b.Types[n.Y]
		}
		reg = b.cfg.Regs.New(n.X.Name, t)
		b.locals[n.X.Name] = reg
	}
	if reg != value {
		b.cfg.Emit(&ir.Assign{Dest: reg, Src: value})
	}
}

// lowerAugAssign lowers `target op= value` as a plain binop followed by
// a store, the same desugaring CPython itself performs before mypyc
// ever sees the tree — so a dedicated AugAssign Op variant is
// unnecessary (spec.md's Op variant set has none).
func (b *Builder) lowerAugAssign(n *past.Node) {
	baseOp := strings.TrimSuffix(n.Name, "=")
	resultType := b.typeOf(n, rtype.RObject)

	if n.X != nil && n.X.Kind == past.NAttribute {
		obj := b.lowerExpr(n.X.X)
		cur := b.cfg.Regs.New("", b.typeOf(n.X, rtype.RObject))
		b.cfg.Emit(&ir.GetAttr{Dest: cur, Obj: obj, Name: n.X.Name, Flag: b.errorFlagFor(cur)})
		rhs := b.lowerExpr(n.Y)
		result := b.applyBinOp(baseOp, cur, rhs, resultType)
		b.cfg.Emit(&ir.SetAttr{Obj: obj, Name: n.X.Name, Value: result})
		return
	}
	if n.X == nil || n.X.Kind != past.NName {
		b.fail(n, "augmented assignment target must be a simple name or attribute")
		return
	}
	reg, ok := b.locals[n.X.Name]
	if !ok {
		b.fail(n, "augmented assignment to undefined name: "+n.X.Name)
		return
	}
	rhs := b.lowerExpr(n.Y)
	result := b.applyBinOp(baseOp, reg, rhs, resultType)
	if result != reg {
		b.cfg.Emit(&ir.Assign{Dest: reg, Src: result})
	}
}

func (b *Builder) lowerIf(n *past.Node, loops []loopLabels) {
	cond := b.lowerExpr(n.X)
	thenBlk := b.cfg.NewBlock()
	elseBlk := b.cfg.NewBlock()
	join := b.cfg.NewBlock()
	b.cfg.Branch(cond, thenBlk, elseBlk)

	b.cfg.Activate(thenBlk)
	if n.Body != nil {
		b.lowerStmt(n.Body, loops)
	}
	if b.cfg.Active().Terminator() == nil {
		b.cfg.Goto(join)
	}

	b.cfg.Activate(elseBlk)
	if n.Y != nil {
		b.lowerStmt(n.Y, loops)
	}
	if b.cfg.Active().Terminator() == nil {
		b.cfg.Goto(join)
	}

	b.cfg.Activate(join)
}

func (b *Builder) lowerWhile(n *past.Node, loops []loopLabels) {
	header := b.cfg.NewBlock()
	body := b.cfg.NewBlock()
	exit := b.cfg.NewBlock()

	b.cfg.Goto(header)
	b.cfg.Activate(header)
	cond := b.lowerExpr(n.X)
	b.cfg.Branch(cond, body, exit)

	b.cfg.Activate(body)
	inner := append(append([]loopLabels{}, loops...), loopLabels{continueTo: header, breakTo: exit})
	if n.Body != nil {
		b.lowerStmt(n.Body, inner)
	}
	if b.cfg.Active().Terminator() == nil {
		b.cfg.Goto(header)
	}

	b.cfg.Activate(exit)
}

func (b *Builder) lowerExpr(n *past.Node) *ir.Register {
	switch n.Kind {
	case past.NName:
		if r, ok := b.locals[n.Name]; ok {
			return r
		}
		if lit, ok := b.Decl.Finals[n.Name]; ok {
			// Final-attribute inlining (spec.md §4.4): substitute the
			// constant at this read site instead of emitting a
			// late-bound module-namespace lookup.
			return b.lowerExpr(lit)
		}
		b.fail(n, "undefined name: "+n.Name)
		return b.cfg.Regs.New("", rtype.RObject)
	case past.NIntLit:
		v, _ := strconv.ParseInt(n.Name, 10, 64)
		t := b.typeOf(n, rtype.RInt)
		dest := b.cfg.Regs.New("", t)
		b.cfg.Emit(&ir.LoadLiteral{Dest: dest, LitK: ir.LitInt, IntVal: v})
		return dest
	case past.NFloatLit:
		v, _ := strconv.ParseFloat(n.Name, 64)
		dest := b.cfg.Regs.New("", rtype.RFloat)
		b.cfg.Emit(&ir.LoadLiteral{Dest: dest, LitK: ir.LitFloat, FloatVal: v})
		return dest
	case past.NStrLit:
		dest := b.cfg.Regs.New("", rtype.RStr)
		b.cfg.Emit(&ir.LoadLiteral{Dest: dest, LitK: ir.LitStr, StrVal: n.Name})
		return dest
	case past.NBoolLit:
		dest := b.cfg.Regs.New("", rtype.RBool)
		b.cfg.Emit(&ir.LoadLiteral{Dest: dest, LitK: ir.LitBool, BoolVal: n.Name == "True"})
		return dest
	case past.NNoneLit:
		dest := b.cfg.Regs.New("", rtype.RNone)
		b.cfg.Emit(&ir.LoadLiteral{Dest: dest, LitK: ir.LitNone})
		return dest
	case past.NBinOp:
		return b.lowerBinOp(n)
	case past.NCompare:
		return b.lowerCompare(n)
	case past.NBoolOp:
		return b.lowerBoolOp(n)
	case past.NUnaryOp:
		return b.lowerUnaryOp(n)
	case past.NAttribute:
		return b.lowerAttribute(n)
	case past.NCall:
		return b.lowerCall(n)
	case past.NYield:
		return b.lowerYield(n)
	case past.NYieldFrom:
		return b.lowerYieldFrom(n)
	default:
		b.fail(n, "unsupported expression")
		return b.cfg.Regs.New("", rtype.RObject)
	}
}

func (b *Builder) typeOf(n *past.Node, fallback rtype.RType) rtype.RType {
	if t, ok := b.Types[n]; ok && t != nil {
		return t
	}
	return fallback
}

func primOf(t rtype.RType) (rtype.Primitive, bool) {
	p, ok := t.(*rtype.RPrimitive)
	if !ok {
		return 0, false
	}
	return p.Prim, true
}

func isIntPrimitive(p rtype.Primitive) bool {
	switch p {
	case rtype.Int, rtype.I8, rtype.I16, rtype.I32, rtype.I64, rtype.U8, rtype.U16, rtype.U32, rtype.U64:
		return true
	}
	return false
}

var intOpKinds = map[string]ir.IntOpKind{
	"+": ir.IntAdd, "-": ir.IntSub, "*": ir.IntMul, "//": ir.IntDiv, "%": ir.IntMod,
	"<<": ir.IntShl, ">>": ir.IntShr, "&": ir.IntAnd, "|": ir.IntOr, "^": ir.IntXor,
}

var floatOpKinds = map[string]ir.IntOpKind{
	"+": ir.IntAdd, "-": ir.IntSub, "*": ir.IntMul, "/": ir.IntDiv,
}

var cmpKinds = map[string]ir.CompareKind{
	"==": ir.CmpEq, "!=": ir.CmpNe, "<": ir.CmpLt, "<=": ir.CmpLe, ">": ir.CmpGt, ">=": ir.CmpGe,
}

func (b *Builder) lowerBinOp(n *past.Node) *ir.Register {
	lhs := b.lowerExpr(n.X)
	rhs := b.lowerExpr(n.Y)
	return b.applyBinOp(n.Name, lhs, rhs, b.typeOf(n, rtype.RObject))
}

// applyBinOp lowers op(lhs, rhs) through the registry, shared by
// NBinOp and the desugared augmented-assignment path.
func (b *Builder) applyBinOp(op string, lhs, rhs *ir.Register, resultType rtype.RType) *ir.Register {
	lp, lok := primOf(lhs.Type)
	rp, rok := primOf(rhs.Type)

	if lok && rok {
		rule, ok := b.Reg.Lookup(registry.Shape("binop:"+op), []rtype.Primitive{lp, rp})
		if ok && rule.Direct {
			dest := b.cfg.Regs.New("", resultType)
			if isIntPrimitive(lp) {
				b.cfg.Emit(&ir.IntOp{Dest: dest, OpK: intOpKinds[op], Lhs: lhs, Rhs: rhs, Flag: b.errorFlagFor(dest)})
			} else if lp == rtype.Float {
				b.cfg.Emit(&ir.FloatOp{Dest: dest, OpK: floatOpKinds[op], Lhs: lhs, Rhs: rhs, Flag: b.errorFlagFor(dest)})
			} else if lp == rtype.Bool {
				b.cfg.Emit(&ir.BoolOp{Dest: dest, OpK: boolOpKindFor(op), Lhs: lhs, Rhs: rhs})
			}
			return dest
		}
		if ok && rule.CHelper != "" {
			dest := b.cfg.Regs.New("", resultType)
			b.cfg.Emit(&ir.CallC{Dest: dest, CFunc: rule.CHelper, Args: []*ir.Register{lhs, rhs}})
			return dest
		}
	}
	dest := b.cfg.Regs.New("", rtype.RObject)
	b.cfg.Emit(&ir.CallC{Dest: dest, CFunc: "PyNumber_BinOp_" + op, Args: []*ir.Register{lhs, rhs}})
	return dest
}

func boolOpKindFor(op string) ir.BoolOpKind {
	if op == "or" {
		return ir.BoolOr
	}
	return ir.BoolAnd
}

func (b *Builder) lowerCompare(n *past.Node) *ir.Register {
	lhs := b.lowerExpr(n.X)
	rhs := b.lowerExpr(n.Y)
	lp, lok := primOf(lhs.Type)
	rp, rok := primOf(rhs.Type)
	dest := b.cfg.Regs.New("", rtype.RBool)

	if lok && rok {
		rule, ok := b.Reg.Lookup(registry.Shape("cmp:"+n.Name), []rtype.Primitive{lp, rp})
		if ok && rule.Direct {
			if lp == rtype.Float {
				b.cfg.Emit(&ir.FloatComparisonOp{Dest: dest, CmpK: cmpKinds[n.Name], Lhs: lhs, Rhs: rhs})
			} else {
				b.cfg.Emit(&ir.ComparisonOp{Dest: dest, CmpK: cmpKinds[n.Name], Lhs: lhs, Rhs: rhs})
			}
			return dest
		}
	}
	b.cfg.Emit(&ir.CallC{Dest: dest, CFunc: "PyObject_RichCompare_" + n.Name, Args: []*ir.Register{lhs, rhs}})
	return dest
}

func (b *Builder) lowerBoolOp(n *past.Node) *ir.Register {
	lhs := b.lowerExpr(n.X)
	rhs := b.lowerExpr(n.Y)
	dest := b.cfg.Regs.New("", rtype.RBool)
	b.cfg.Emit(&ir.BoolOp{Dest: dest, OpK: boolOpKindFor(n.Name), Lhs: lhs, Rhs: rhs})
	return dest
}

func (b *Builder) lowerUnaryOp(n *past.Node) *ir.Register {
	src := b.lowerExpr(n.X)
	if n.Name == "not" {
		dest := b.cfg.Regs.New("", rtype.RBool)
		b.cfg.Emit(&ir.BoolOp{Dest: dest, OpK: ir.BoolNot, Lhs: src})
		return dest
	}
	if p, ok := primOf(src.Type); ok && p == rtype.Float {
		dest := b.cfg.Regs.New("", rtype.RFloat)
		b.cfg.Emit(&ir.FloatNeg{Dest: dest, Src: src})
		return dest
	}
	dest := b.cfg.Regs.New("", rtype.RObject)
	b.cfg.Emit(&ir.CallC{Dest: dest, CFunc: "PyNumber_Negative", Args: []*ir.Register{src}})
	return dest
}

func (b *Builder) lowerAttribute(n *past.Node) *ir.Register {
	obj := b.lowerExpr(n.X)
	dest := b.cfg.Regs.New("", b.typeOf(n, rtype.RObject))
	b.cfg.Emit(&ir.GetAttr{Dest: dest, Obj: obj, Name: n.Name, Flag: b.errorFlagFor(dest)})
	return dest
}

func (b *Builder) lowerCall(n *past.Node) *ir.Register {
	if n.X != nil && n.X.Kind == past.NName && n.X.Name == "isinstance" && len(n.Nodes) == 2 {
		return b.lowerIsinstance(n.Nodes[0], n.Nodes[1])
	}

	args := make([]*ir.Register, len(n.Nodes))
	for i, a := range n.Nodes {
		args[i] = b.lowerExpr(a)
	}
	retType := b.typeOf(n, rtype.RObject)

	if n.X != nil && n.X.Kind == past.NAttribute {
		obj := b.lowerExpr(n.X.X)
		method := n.X.Name
		allArgs := append([]*ir.Register{obj}, args...)
		argKinds := make([]rtype.Primitive, 0, len(allArgs))
		allKnown := true
		for _, a := range allArgs {
			p, ok := primOf(a.Type)
			if !ok {
				allKnown = false
				break
			}
			argKinds = append(argKinds, p)
		}
		if allKnown {
			if rule, ok := b.Reg.Lookup(registry.Shape("method:"+method), argKinds); ok && rule.CHelper != "" {
				dest := b.cfg.Regs.New("", retType)
				b.cfg.Emit(&ir.CallC{Dest: dest, CFunc: rule.CHelper, Args: allArgs})
				return dest
			}
		}
		if inst, ok := obj.Type.(*rtype.RInstance); ok {
			dest := b.cfg.Regs.New("", retType)
			b.cfg.Emit(&ir.MethodCall{Dest: dest, Obj: obj, Method: method, Args: args, Trait: b.traitFor(inst.ClassName, method)})
			return dest
		}
		dest := b.cfg.Regs.New("", retType)
		b.cfg.Emit(&ir.CallC{Dest: dest, CFunc: "PyObject_CallMethod", Args: allArgs})
		return dest
	}

	if n.X != nil && n.X.Kind == past.NName {
		name := n.X.Name
		if sig, ok := b.Decl.Sigs[name]; ok {
			dest := destForSig(b, sig)
			b.cfg.Emit(&ir.Call{Dest: dest, FuncName: name, Args: args, Flag: b.errorFlagFor(dest)})
			return dest
		}
		if len(args) >= 1 {
			if p, ok := primOf(args[0].Type); ok {
				if rule, ok := b.Reg.Lookup(registry.Shape("call:"+name), []rtype.Primitive{p}); ok && rule.CHelper != "" {
					dest := b.cfg.Regs.New("", retType)
					b.cfg.Emit(&ir.CallC{Dest: dest, CFunc: rule.CHelper, Args: args})
					return dest
				}
			}
		}
		dest := b.cfg.Regs.New("", retType)
		b.cfg.Emit(&ir.CallC{Dest: dest, CFunc: "PyObject_Call_" + name, Args: args})
		return dest
	}

	dest := b.cfg.Regs.New("", retType)
	b.cfg.Emit(&ir.CallC{Dest: dest, CFunc: "PyObject_CallGeneric", Args: args})
	return dest
}

func destForSig(b *Builder, sig ir.Signature) *ir.Register {
	if sig.RetType == nil {
		return nil
	}
	if _, isVoid := sig.RetType.(*rtype.RVoid); isVoid {
		return nil
	}
	return b.cfg.Regs.New("", sig.RetType)
}

// lowerIsinstance lowers `isinstance(objExpr, ClassName)` per spec.md
// §4.4: a direct type-object pointer comparison for a native class
// within the unit, falling back to the CPython API for a class that
// allows interpreted subclasses (it might be an interpreted subclass
// the native type pointer comparison can't see) or for anything not a
// statically known native class at all.
func (b *Builder) lowerIsinstance(objExpr, classExpr *past.Node) *ir.Register {
	obj := b.lowerExpr(objExpr)
	dest := b.cfg.Regs.New("", rtype.RBool)
	if classExpr.Kind == past.NName {
		if cls, ok := b.Decl.Classes[classExpr.Name]; ok {
			if cls.Flags.AllowInterpretedSubclasses {
				b.cfg.Emit(&ir.CallC{Dest: dest, CFunc: "CPy_IsInstance_" + classExpr.Name, Args: []*ir.Register{obj}})
			} else {
				b.cfg.Emit(&ir.CallC{Dest: dest, CFunc: "CPy_TypePtrEq_" + classExpr.Name, Args: []*ir.Register{obj}})
			}
			return dest
		}
	}
	b.cfg.Emit(&ir.CallC{Dest: dest, CFunc: "PyObject_IsInstance", Args: []*ir.Register{obj}})
	return dest
}

// raiseKindFor maps the dialect's built-in exception constructor names
// to the RaiseStandardError kinds the C emitter knows how to template.
var raiseKindFor = map[string]ir.StandardErrorKind{
	"ValueError":        ir.ErrValueError,
	"TypeError":         ir.ErrTypeError,
	"AttributeError":    ir.ErrAttributeError,
	"UnboundLocalError": ir.ErrUnboundLocalError,
	"StopIteration":     ir.ErrStopIteration,
	"IndexError":        ir.ErrIndexError,
	"KeyError":          ir.ErrKeyError,
	"RuntimeError":      ir.ErrRuntimeError,
}

// lowerRaise lowers `raise`, `raise Exc(...)`, and `raise expr`
// (spec.md §4.4: "raise becomes RaiseStandardError or a re-raise helper
// call"). A raise statement always transfers control away on the
// normal path, so the block is closed with Unreachable immediately
// after the raising op — matching how lowerStmtList already treats any
// other terminator.
func (b *Builder) lowerRaise(n *past.Node) {
	if n.X == nil {
		b.cfg.Emit(&ir.CallC{CFunc: "CPyErr_Reraise"})
		b.cfg.Emit(&ir.Unreachable{})
		return
	}
	if n.X.Kind == past.NCall && n.X.X != nil && n.X.X.Kind == past.NName {
		if errK, ok := raiseKindFor[n.X.X.Name]; ok {
			msg := ""
			if len(n.X.Nodes) > 0 && n.X.Nodes[0].Kind == past.NStrLit {
				msg = n.X.Nodes[0].Name
			}
			b.cfg.Emit(&ir.RaiseStandardError{ErrK: errK, Message: msg})
			b.cfg.Emit(&ir.Unreachable{})
			return
		}
	}
	exc := b.lowerExpr(n.X)
	b.cfg.Emit(&ir.CallC{CFunc: "CPyErr_SetObjectFromRaise", Args: []*ir.Register{exc}})
	b.cfg.Emit(&ir.Unreachable{})
}

// lowerFor lowers a for statement. A known list/tuple iterable gets the
// index-register fast path spec.md §4.4 calls out explicitly; anything
// else goes through the generic iterator protocol (iter() / next()
// until StopIteration).
func (b *Builder) lowerFor(n *past.Node, loops []loopLabels) {
	iterable := b.lowerExpr(n.Y)
	if p, ok := primOf(iterable.Type); ok && (p == rtype.List || p == rtype.Tuple) {
		b.lowerForIndexed(n, iterable, loops)
		return
	}
	b.lowerForProtocol(n, iterable, loops)
}

func (b *Builder) lowerForIndexed(n *past.Node, iterable *ir.Register, loops []loopLabels) {
	idx := b.cfg.Regs.New("", rtype.RInt)
	b.cfg.Emit(&ir.LoadLiteral{Dest: idx, LitK: ir.LitInt, IntVal: 0})

	header := b.cfg.NewBlock()
	body := b.cfg.NewBlock()
	incr := b.cfg.NewBlock()
	exit := b.cfg.NewBlock()

	b.cfg.Goto(header)
	b.cfg.Activate(header)
	length := b.cfg.Regs.New("", rtype.RInt)
	b.cfg.Emit(&ir.ContainerOp{Dest: length, OpK: ir.ListLen, Args: []*ir.Register{iterable}, Flag: b.errorFlagFor(length)})
	cond := b.cfg.Regs.New("", rtype.RBool)
	b.cfg.Emit(&ir.ComparisonOp{Dest: cond, CmpK: ir.CmpLt, Lhs: idx, Rhs: length})
	b.cfg.Branch(cond, body, exit)

	b.cfg.Activate(body)
	item := b.cfg.Regs.New("", b.typeOf(n.X, rtype.RObject))
	b.cfg.Emit(&ir.ContainerOp{Dest: item, OpK: ir.ListGet, Args: []*ir.Register{iterable, idx}, Flag: b.errorFlagFor(item)})
	b.bindForTarget(n.X, item)

	inner := append(append([]loopLabels{}, loops...), loopLabels{continueTo: incr, breakTo: exit})
	if n.Body != nil {
		b.lowerStmt(n.Body, inner)
	}
	if b.cfg.Active().Terminator() == nil {
		b.cfg.Goto(incr)
	}

	b.cfg.Activate(incr)
	one := b.cfg.Regs.New("", rtype.RInt)
	b.cfg.Emit(&ir.LoadLiteral{Dest: one, LitK: ir.LitInt, IntVal: 1})
	next := b.cfg.Regs.New("", rtype.RInt)
	b.cfg.Emit(&ir.IntOp{Dest: next, OpK: ir.IntAdd, Lhs: idx, Rhs: one})
	b.cfg.Emit(&ir.Assign{Dest: idx, Src: next})
	b.cfg.Goto(header)

	b.cfg.Activate(exit)
}

func (b *Builder) lowerForProtocol(n *past.Node, iterable *ir.Register, loops []loopLabels) {
	iter := b.cfg.Regs.New("", rtype.RObject)
	b.cfg.Emit(&ir.CallC{Dest: iter, CFunc: "CPyObject_GetIter", Args: []*ir.Register{iterable}})

	header := b.cfg.NewBlock()
	body := b.cfg.NewBlock()
	exit := b.cfg.NewBlock()

	b.cfg.Goto(header)
	b.cfg.Activate(header)
	hasNext := b.cfg.Regs.New("", rtype.RBool)
	b.cfg.Emit(&ir.CallC{Dest: hasNext, CFunc: "CPyIter_HasNext", Args: []*ir.Register{iter}})
	b.cfg.Branch(hasNext, body, exit)

	b.cfg.Activate(body)
	item := b.cfg.Regs.New("", b.typeOf(n.X, rtype.RObject))
	b.cfg.Emit(&ir.CallC{Dest: item, CFunc: "CPyIter_Next", Args: []*ir.Register{iter}})
	b.bindForTarget(n.X, item)

	inner := append(append([]loopLabels{}, loops...), loopLabels{continueTo: header, breakTo: exit})
	if n.Body != nil {
		b.lowerStmt(n.Body, inner)
	}
	if b.cfg.Active().Terminator() == nil {
		b.cfg.Goto(header)
	}

	b.cfg.Activate(exit)
}

func (b *Builder) bindForTarget(target *past.Node, item *ir.Register) {
	if target == nil || target.Kind != past.NName {
		return
	}
	b.locals[target.Name] = item
}

// lowerTry lowers try/except/finally (spec.md §4.4). Every op that
// raises while lowering the try body is routed, via b.handlers, to a
// dispatch block that tests the pending exception against each except
// clause's type in source order (CPyErr_ExceptionMatches_<Type>) and
// falls into the clause whose test passes; a bare `except:` always
// matches and ends the chain. If no clause matches, the exception
// either propagates straight out (no finally) or is remembered in a
// per-statement reraise flag that the finally block consults after it
// runs (mirroring CPython's own "pending exception survives finally"
// discipline, the same shape spec.md §9's open question resolves for
// DecRef placement: normalize state before the jump, not after).
func (b *Builder) lowerTry(n *past.Node, loops []loopLabels) {
	hasFinally := n.Handler != nil

	dispatch := b.cfg.NewBlock()
	after := b.cfg.NewBlock()

	var finallyBlk *ir.BasicBlock
	var reraiseFlag, trueReg *ir.Register
	if hasFinally {
		finallyBlk = b.cfg.NewBlock()
		reraiseFlag = b.cfg.Regs.New("", rtype.RBool)
		trueReg = b.cfg.Regs.New("", rtype.RBool)
		b.cfg.Emit(&ir.LoadLiteral{Dest: reraiseFlag, LitK: ir.LitBool, BoolVal: false})
		b.cfg.Emit(&ir.LoadLiteral{Dest: trueReg, LitK: ir.LitBool, BoolVal: true})
	}
	normalExit := after
	if hasFinally {
		normalExit = finallyBlk
	}

	// The body starts in a block of its own so its first ops fall inside
	// the span mapUnhandledBlocksSince routes to dispatch.
	start := len(b.cfg.Blocks())
	bodyBlk := b.cfg.NewBlock()
	b.cfg.Goto(bodyBlk)
	b.cfg.Activate(bodyBlk)
	if n.Body != nil {
		b.lowerStmt(n.Body, loops)
	}
	b.mapUnhandledBlocksSince(start, dispatch)
	if b.cfg.Active().Terminator() == nil {
		b.cfg.Goto(normalExit)
	}

	b.cfg.Activate(dispatch)
	fellThrough := b.lowerExceptClauses(n.Nodes, normalExit, loops)
	if fellThrough != nil {
		b.cfg.Activate(fellThrough)
		if hasFinally {
			b.cfg.Emit(&ir.Assign{Dest: reraiseFlag, Src: trueReg})
			b.cfg.Goto(finallyBlk)
		} else {
			b.cfg.Emit(&ir.CallC{CFunc: "CPyErr_Reraise"})
			b.cfg.Emit(&ir.Unreachable{})
		}
	}

	if hasFinally {
		b.cfg.Activate(finallyBlk)
		if n.Handler != nil {
			b.lowerStmt(n.Handler, loops)
		}
		if b.cfg.Active().Terminator() == nil {
			reraiseBlk := b.cfg.NewBlock()
			b.cfg.Branch(reraiseFlag, reraiseBlk, after)
			b.cfg.Activate(reraiseBlk)
			b.cfg.Emit(&ir.CallC{CFunc: "CPyErr_Reraise"})
			b.cfg.Emit(&ir.Unreachable{})
		}
	}

	b.cfg.Activate(after)
}

// lowerExceptClauses lowers handlers in source order starting from
// whatever block is currently active (the caller's dispatch block, or
// the previous clause's failed-match continuation). It returns the
// block execution falls into when no clause matches, or nil if the
// last clause was a bare `except:` (which always matches, so nothing
// ever falls through it).
func (b *Builder) lowerExceptClauses(handlers []*past.Node, normalExit *ir.BasicBlock, loops []loopLabels) *ir.BasicBlock {
	for _, h := range handlers {
		clauseBody := b.cfg.NewBlock()
		var nextCheck *ir.BasicBlock
		if h.X != nil {
			nextCheck = b.cfg.NewBlock()
			matches := b.cfg.Regs.New("", rtype.RBool)
			b.cfg.Emit(&ir.CallC{Dest: matches, CFunc: "CPyErr_ExceptionMatches_" + h.X.Name})
			b.cfg.Branch(matches, clauseBody, nextCheck)
		} else {
			b.cfg.Goto(clauseBody)
		}

		b.cfg.Activate(clauseBody)
		if h.Name != "" {
			excReg := b.cfg.Regs.New(h.Name, rtype.RObject)
			b.cfg.Emit(&ir.CallC{Dest: excReg, CFunc: "CPyErr_FetchValue"})
			b.locals[h.Name] = excReg
		}
		if h.Body != nil {
			b.lowerStmt(h.Body, loops)
		}
		if b.cfg.Active().Terminator() == nil {
			b.cfg.Goto(normalExit)
		}

		if nextCheck == nil {
			return nil
		}
		b.cfg.Activate(nextCheck)
	}
	return b.cfg.Active()
}

// lowerWith desugars `with ctx [as name]: body` into the try/finally
// spec.md §4.4 mandates: __enter__ runs unconditionally before the
// body, __exit__ runs on every exit path (normal or exceptional), and
// an exceptional exit still propagates once __exit__ returns.
func (b *Builder) lowerWith(n *past.Node, loops []loopLabels) {
	ctx := b.lowerExpr(n.X)
	enter := b.cfg.Regs.New("", rtype.RObject)
	b.cfg.Emit(&ir.MethodCall{Dest: enter, Obj: ctx, Method: "__enter__"})
	if n.Name != "" {
		b.locals[n.Name] = enter
	}

	trampoline := b.cfg.NewBlock()
	finallyBlk := b.cfg.NewBlock()
	after := b.cfg.NewBlock()
	reraiseFlag := b.cfg.Regs.New("", rtype.RBool)
	trueReg := b.cfg.Regs.New("", rtype.RBool)
	b.cfg.Emit(&ir.LoadLiteral{Dest: reraiseFlag, LitK: ir.LitBool, BoolVal: false})
	b.cfg.Emit(&ir.LoadLiteral{Dest: trueReg, LitK: ir.LitBool, BoolVal: true})

	// As in lowerTry, the body gets a block of its own inside the span.
	start := len(b.cfg.Blocks())
	bodyBlk := b.cfg.NewBlock()
	b.cfg.Goto(bodyBlk)
	b.cfg.Activate(bodyBlk)
	if n.Body != nil {
		b.lowerStmt(n.Body, loops)
	}
	b.mapUnhandledBlocksSince(start, trampoline)
	if b.cfg.Active().Terminator() == nil {
		b.cfg.Goto(finallyBlk)
	}

	b.cfg.Activate(trampoline)
	b.cfg.Emit(&ir.Assign{Dest: reraiseFlag, Src: trueReg})
	b.cfg.Goto(finallyBlk)

	b.cfg.Activate(finallyBlk)
	exitResult := b.cfg.Regs.New("", rtype.RObject)
	b.cfg.Emit(&ir.MethodCall{Dest: exitResult, Obj: ctx, Method: "__exit__"})
	reraiseBlk := b.cfg.NewBlock()
	b.cfg.Branch(reraiseFlag, reraiseBlk, after)

	b.cfg.Activate(reraiseBlk)
	b.cfg.Emit(&ir.CallC{CFunc: "CPyErr_Reraise"})
	b.cfg.Emit(&ir.Unreachable{})

	b.cfg.Activate(after)
}

// mapUnhandledBlocksSince routes every block created since start (and
// not already claimed by a more deeply nested protected region) to
// handler, the same "first write wins, innermost handler claims its
// own blocks before an enclosing one ever looks" discipline spec.md
// §4.4's exception-context stack describes.
func (b *Builder) mapUnhandledBlocksSince(start int, handler *ir.BasicBlock) {
	for _, blk := range b.cfg.Blocks()[start:] {
		if _, ok := b.handlers[blk]; !ok {
			b.handlers[blk] = handler
		}
	}
}
