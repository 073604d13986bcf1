package ir

import (
	"fmt"

	"github.com/mypyc-go/pyc/internal/rtype"
)

// OpKind discriminates the closed Op variant set (spec.md §3). Each
// variant is its own Go struct implementing Op, rather than the
// teacher's flat Opcode+operand Inst — our IR is typed and register
// based, not a stack machine.
type OpKind int

const (
	OGoto OpKind = iota
	OBranch
	OReturn
	OUnreachable
	ORaiseAndReturn

	OAssign
	OLoadLiteral
	OLoadAddress

	OIntOp
	OComparisonOp
	OFloatOp
	OFloatComparisonOp
	OFloatNeg
	OBoolOp

	OGetAttr
	OSetAttr
	OGetElementPtr
	OLoadMem
	OStoreMem

	OBox
	OUnbox
	OCast

	OCall
	OMethodCall
	OCallC
	OPyCall

	OIncRef
	ODecRef
	OKeepAlive

	ORaiseStandardError
	OErrorValue

	OContainerOp // type-specialised list/dict/set/tuple/str/bytes primitive

	OCheckAssigned // uninit pass: "is this local definitely assigned" test

	OCheckError // exception pass: "does this register hold its RType's error sentinel" test
)

// RaiseKind records whether an Op can raise, per spec.md §3: "Every Op
// records whether it 'can raise' (must-check, may-check, never-raise)".
type RaiseKind int

const (
	NeverRaises RaiseKind = iota
	MayRaise
	MustCheck
)

// ErrorSignal records how a raising Op signals failure to its
// consumers, per spec.md §3/§4.6.
type ErrorSignal int

const (
	ErrorNone          ErrorSignal = iota // op never raises
	ErrorSentinelValue                    // failure indicated by the RType's error sentinel
	ErrorPairedFlag                       // failure indicated by an accompanying bool register (error_overlap types)
	ErrorAlwaysChecked                    // caller must always branch on this op (e.g. Unbox/Cast)
)

// Op is the interface every IR instruction implements. Source location
// is attached to every Op purely for diagnostics (spec.md §4.2).
type Op interface {
	Kind() OpKind
	CanRaise() RaiseKind
	ErrorSignal() ErrorSignal
	// ErrorFlag is the register carrying the paired error flag, or nil
	// if this op's ErrorSignal is not ErrorPairedFlag.
	ErrorFlag() *Register
	Defines() *Register // the register this op defines, or nil for sinks
	Uses() []*Register
	String() string
}

type opBase struct {
	Pos Pos
}

// Pos is a source location, carried only for diagnostics (spec.md §4.2).
type Pos struct {
	File string
	Line int
}

func (p Pos) String() string {
	if p.File == "" {
		return "?"
	}
	return fmt.Sprintf("%s:%d", p.File, p.Line)
}

// --- Control ---

type Goto struct {
	opBase
	Target *BasicBlock
}

func (o *Goto) Kind() OpKind          { return OGoto }
func (o *Goto) CanRaise() RaiseKind   { return NeverRaises }
func (o *Goto) ErrorSignal() ErrorSignal { return ErrorNone }
func (o *Goto) ErrorFlag() *Register  { return nil }
func (o *Goto) Defines() *Register    { return nil }
func (o *Goto) Uses() []*Register     { return nil }
func (o *Goto) String() string        { return fmt.Sprintf("goto %s", o.Target.Label) }

type Branch struct {
	opBase
	Cond        *Register
	TrueBlock   *BasicBlock
	FalseBlock  *BasicBlock
	Negate      bool
}

func (o *Branch) Kind() OpKind          { return OBranch }
func (o *Branch) CanRaise() RaiseKind   { return NeverRaises }
func (o *Branch) ErrorSignal() ErrorSignal { return ErrorNone }
func (o *Branch) ErrorFlag() *Register  { return nil }
func (o *Branch) Defines() *Register    { return nil }
func (o *Branch) Uses() []*Register     { return []*Register{o.Cond} }
func (o *Branch) String() string {
	neg := ""
	if o.Negate {
		neg = "!"
	}
	return fmt.Sprintf("branch %s%s -> %s, %s", neg, o.Cond.Name, o.TrueBlock.Label, o.FalseBlock.Label)
}

type Return struct {
	opBase
	Value *Register
}

func (o *Return) Kind() OpKind          { return OReturn }
func (o *Return) CanRaise() RaiseKind   { return NeverRaises }
func (o *Return) ErrorSignal() ErrorSignal { return ErrorNone }
func (o *Return) ErrorFlag() *Register  { return nil }
func (o *Return) Defines() *Register    { return nil }
func (o *Return) Uses() []*Register {
	if o.Value == nil {
		return nil
	}
	return []*Register{o.Value}
}
func (o *Return) String() string {
	if o.Value == nil {
		return "return"
	}
	return "return " + o.Value.Name
}

type Unreachable struct{ opBase }

func (o *Unreachable) Kind() OpKind          { return OUnreachable }
func (o *Unreachable) CanRaise() RaiseKind   { return NeverRaises }
func (o *Unreachable) ErrorSignal() ErrorSignal { return ErrorNone }
func (o *Unreachable) ErrorFlag() *Register  { return nil }
func (o *Unreachable) Defines() *Register    { return nil }
func (o *Unreachable) Uses() []*Register     { return nil }
func (o *Unreachable) String() string        { return "unreachable" }

// RaiseAndReturn is emitted by the exception pass at a function's
// exception epilogue: it unconditionally propagates a pending
// exception to the caller by returning the function's own error
// sentinel (spec.md §3, §4.6).
type RaiseAndReturn struct {
	opBase
	RetType rtype.RType
}

func (o *RaiseAndReturn) Kind() OpKind          { return ORaiseAndReturn }
func (o *RaiseAndReturn) CanRaise() RaiseKind   { return NeverRaises }
func (o *RaiseAndReturn) ErrorSignal() ErrorSignal { return ErrorNone }
func (o *RaiseAndReturn) ErrorFlag() *Register  { return nil }
func (o *RaiseAndReturn) Defines() *Register    { return nil }
func (o *RaiseAndReturn) Uses() []*Register     { return nil }
func (o *RaiseAndReturn) String() string        { return "raise_and_return" }

// --- Moves / constants ---

type Assign struct {
	opBase
	Dest, Src *Register
}

func (o *Assign) Kind() OpKind          { return OAssign }
func (o *Assign) CanRaise() RaiseKind   { return NeverRaises }
func (o *Assign) ErrorSignal() ErrorSignal { return ErrorNone }
func (o *Assign) ErrorFlag() *Register  { return nil }
func (o *Assign) Defines() *Register    { return o.Dest }
func (o *Assign) Uses() []*Register     { return []*Register{o.Src} }
func (o *Assign) String() string        { return fmt.Sprintf("%s = %s", o.Dest.Name, o.Src.Name) }

type LiteralKind int

const (
	LitInt LiteralKind = iota
	LitFloat
	LitStr
	LitBool
	LitNone
)

type LoadLiteral struct {
	opBase
	Dest     *Register
	LitK     LiteralKind
	IntVal   int64
	FloatVal float64
	StrVal   string
	BoolVal  bool
}

func (o *LoadLiteral) Kind() OpKind          { return OLoadLiteral }
func (o *LoadLiteral) CanRaise() RaiseKind   { return NeverRaises }
func (o *LoadLiteral) ErrorSignal() ErrorSignal { return ErrorNone }
func (o *LoadLiteral) ErrorFlag() *Register  { return nil }
func (o *LoadLiteral) Defines() *Register    { return o.Dest }
func (o *LoadLiteral) Uses() []*Register     { return nil }
func (o *LoadLiteral) String() string        { return fmt.Sprintf("%s = literal", o.Dest.Name) }

type LoadAddress struct {
	opBase
	Dest   *Register
	Static string
}

func (o *LoadAddress) Kind() OpKind          { return OLoadAddress }
func (o *LoadAddress) CanRaise() RaiseKind   { return NeverRaises }
func (o *LoadAddress) ErrorSignal() ErrorSignal { return ErrorNone }
func (o *LoadAddress) ErrorFlag() *Register  { return nil }
func (o *LoadAddress) Defines() *Register    { return o.Dest }
func (o *LoadAddress) Uses() []*Register     { return nil }
func (o *LoadAddress) String() string {
	return fmt.Sprintf("%s = addr(%s)", o.Dest.Name, o.Static)
}

// --- Arithmetic / logical primitives ---

type IntOpKind int

const (
	IntAdd IntOpKind = iota
	IntSub
	IntMul
	IntDiv
	IntMod
	IntShl
	IntShr
	IntAnd
	IntOr
	IntXor
)

type IntOp struct {
	opBase
	Dest     *Register
	OpK      IntOpKind
	Lhs, Rhs *Register
	// Flag is the paired error-flag register, set by the builder
	// whenever Dest's RType has error overlap; nil otherwise.
	Flag *Register
}

func (o *IntOp) Kind() OpKind        { return OIntOp }
func (o *IntOp) CanRaise() RaiseKind { return MayRaise } // div/mod by zero
func (o *IntOp) ErrorSignal() ErrorSignal {
	if ErrorOverlapRegister(o.Dest) {
		return ErrorPairedFlag
	}
	return ErrorSentinelValue
}
func (o *IntOp) ErrorFlag() *Register { return o.Flag }
func (o *IntOp) Defines() *Register   { return o.Dest }
func (o *IntOp) Uses() []*Register    { return []*Register{o.Lhs, o.Rhs} }
func (o *IntOp) String() string {
	return fmt.Sprintf("%s = int_op(%d, %s, %s)", o.Dest.Name, o.OpK, o.Lhs.Name, o.Rhs.Name)
}

type CompareKind int

const (
	CmpEq CompareKind = iota
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe
)

type ComparisonOp struct {
	opBase
	Dest     *Register
	CmpK     CompareKind
	Lhs, Rhs *Register
}

func (o *ComparisonOp) Kind() OpKind          { return OComparisonOp }
func (o *ComparisonOp) CanRaise() RaiseKind   { return NeverRaises }
func (o *ComparisonOp) ErrorSignal() ErrorSignal { return ErrorNone }
func (o *ComparisonOp) ErrorFlag() *Register  { return nil }
func (o *ComparisonOp) Defines() *Register    { return o.Dest }
func (o *ComparisonOp) Uses() []*Register     { return []*Register{o.Lhs, o.Rhs} }
func (o *ComparisonOp) String() string {
	return fmt.Sprintf("%s = cmp(%d, %s, %s)", o.Dest.Name, o.CmpK, o.Lhs.Name, o.Rhs.Name)
}

type FloatOp struct {
	opBase
	Dest     *Register
	OpK      IntOpKind
	Lhs, Rhs *Register
	// Flag is the paired error-flag register; float always carries
	// error overlap (a NaN sentinel can also be legitimate data), so
	// the builder must always set this.
	Flag *Register
}

func (o *FloatOp) Kind() OpKind          { return OFloatOp }
func (o *FloatOp) CanRaise() RaiseKind   { return MayRaise } // division by zero
func (o *FloatOp) ErrorSignal() ErrorSignal { return ErrorPairedFlag }
func (o *FloatOp) ErrorFlag() *Register  { return o.Flag }
func (o *FloatOp) Defines() *Register    { return o.Dest }
func (o *FloatOp) Uses() []*Register     { return []*Register{o.Lhs, o.Rhs} }
func (o *FloatOp) String() string {
	return fmt.Sprintf("%s = float_op(%d, %s, %s)", o.Dest.Name, o.OpK, o.Lhs.Name, o.Rhs.Name)
}

type FloatComparisonOp struct {
	opBase
	Dest     *Register
	CmpK     CompareKind
	Lhs, Rhs *Register
}

func (o *FloatComparisonOp) Kind() OpKind          { return OFloatComparisonOp }
func (o *FloatComparisonOp) CanRaise() RaiseKind   { return NeverRaises }
func (o *FloatComparisonOp) ErrorSignal() ErrorSignal { return ErrorNone }
func (o *FloatComparisonOp) ErrorFlag() *Register  { return nil }
func (o *FloatComparisonOp) Defines() *Register    { return o.Dest }
func (o *FloatComparisonOp) Uses() []*Register     { return []*Register{o.Lhs, o.Rhs} }
func (o *FloatComparisonOp) String() string {
	return fmt.Sprintf("%s = fcmp(%d, %s, %s)", o.Dest.Name, o.CmpK, o.Lhs.Name, o.Rhs.Name)
}

type FloatNeg struct {
	opBase
	Dest, Src *Register
}

func (o *FloatNeg) Kind() OpKind          { return OFloatNeg }
func (o *FloatNeg) CanRaise() RaiseKind   { return NeverRaises }
func (o *FloatNeg) ErrorSignal() ErrorSignal { return ErrorNone }
func (o *FloatNeg) ErrorFlag() *Register  { return nil }
func (o *FloatNeg) Defines() *Register    { return o.Dest }
func (o *FloatNeg) Uses() []*Register     { return []*Register{o.Src} }
func (o *FloatNeg) String() string        { return fmt.Sprintf("%s = -%s", o.Dest.Name, o.Src.Name) }

type BoolOpKind int

const (
	BoolAnd BoolOpKind = iota
	BoolOr
	BoolNot
)

type BoolOp struct {
	opBase
	Dest     *Register
	OpK      BoolOpKind
	Lhs, Rhs *Register // Rhs unused for BoolNot
}

func (o *BoolOp) Kind() OpKind          { return OBoolOp }
func (o *BoolOp) CanRaise() RaiseKind   { return NeverRaises }
func (o *BoolOp) ErrorSignal() ErrorSignal { return ErrorNone }
func (o *BoolOp) ErrorFlag() *Register  { return nil }
func (o *BoolOp) Defines() *Register    { return o.Dest }
func (o *BoolOp) Uses() []*Register {
	if o.OpK == BoolNot {
		return []*Register{o.Lhs}
	}
	return []*Register{o.Lhs, o.Rhs}
}
func (o *BoolOp) String() string {
	return fmt.Sprintf("%s = bool_op(%d, %s)", o.Dest.Name, o.OpK, o.Lhs.Name)
}

// --- Memory ---

type GetAttr struct {
	opBase
	Dest *Register
	Obj  *Register
	Name string
	Flag *Register // paired error flag when Dest's RType has error overlap
}

func (o *GetAttr) Kind() OpKind          { return OGetAttr }
func (o *GetAttr) CanRaise() RaiseKind   { return MayRaise } // AttributeError
func (o *GetAttr) ErrorSignal() ErrorSignal {
	if ErrorOverlapRegister(o.Dest) {
		return ErrorPairedFlag
	}
	return ErrorSentinelValue
}
func (o *GetAttr) ErrorFlag() *Register { return o.Flag }
func (o *GetAttr) Defines() *Register   { return o.Dest }
func (o *GetAttr) Uses() []*Register    { return []*Register{o.Obj} }
func (o *GetAttr) String() string {
	return fmt.Sprintf("%s = get_attr(%s, %q)", o.Dest.Name, o.Obj.Name, o.Name)
}

type SetAttr struct {
	opBase
	Obj   *Register
	Name  string
	Value *Register
}

func (o *SetAttr) Kind() OpKind          { return OSetAttr }
func (o *SetAttr) CanRaise() RaiseKind   { return MayRaise }
func (o *SetAttr) ErrorSignal() ErrorSignal { return ErrorSentinelValue }
func (o *SetAttr) ErrorFlag() *Register  { return nil }
func (o *SetAttr) Defines() *Register    { return nil }
func (o *SetAttr) Uses() []*Register     { return []*Register{o.Obj, o.Value} }
func (o *SetAttr) String() string {
	return fmt.Sprintf("set_attr(%s, %q, %s)", o.Obj.Name, o.Name, o.Value.Name)
}

type GetElementPtr struct {
	opBase
	Dest   *Register
	Base   *Register
	Offset int
}

func (o *GetElementPtr) Kind() OpKind          { return OGetElementPtr }
func (o *GetElementPtr) CanRaise() RaiseKind   { return NeverRaises }
func (o *GetElementPtr) ErrorSignal() ErrorSignal { return ErrorNone }
func (o *GetElementPtr) ErrorFlag() *Register  { return nil }
func (o *GetElementPtr) Defines() *Register    { return o.Dest }
func (o *GetElementPtr) Uses() []*Register     { return []*Register{o.Base} }
func (o *GetElementPtr) String() string {
	return fmt.Sprintf("%s = gep(%s, %d)", o.Dest.Name, o.Base.Name, o.Offset)
}

type LoadMem struct {
	opBase
	Dest *Register
	Addr *Register
}

func (o *LoadMem) Kind() OpKind          { return OLoadMem }
func (o *LoadMem) CanRaise() RaiseKind   { return NeverRaises }
func (o *LoadMem) ErrorSignal() ErrorSignal { return ErrorNone }
func (o *LoadMem) ErrorFlag() *Register  { return nil }
func (o *LoadMem) Defines() *Register    { return o.Dest }
func (o *LoadMem) Uses() []*Register     { return []*Register{o.Addr} }
func (o *LoadMem) String() string {
	return fmt.Sprintf("%s = load(%s)", o.Dest.Name, o.Addr.Name)
}

type StoreMem struct {
	opBase
	Addr, Value *Register
}

func (o *StoreMem) Kind() OpKind          { return OStoreMem }
func (o *StoreMem) CanRaise() RaiseKind   { return NeverRaises }
func (o *StoreMem) ErrorSignal() ErrorSignal { return ErrorNone }
func (o *StoreMem) ErrorFlag() *Register  { return nil }
func (o *StoreMem) Defines() *Register    { return nil }
func (o *StoreMem) Uses() []*Register     { return []*Register{o.Addr, o.Value} }
func (o *StoreMem) String() string {
	return fmt.Sprintf("store(%s, %s)", o.Addr.Name, o.Value.Name)
}

// --- Boxing ---

type Box struct {
	opBase
	Dest, Src *Register
}

func (o *Box) Kind() OpKind          { return OBox }
func (o *Box) CanRaise() RaiseKind   { return NeverRaises }
func (o *Box) ErrorSignal() ErrorSignal { return ErrorNone }
func (o *Box) ErrorFlag() *Register  { return nil }
func (o *Box) Defines() *Register    { return o.Dest }
func (o *Box) Uses() []*Register     { return []*Register{o.Src} }
func (o *Box) String() string        { return fmt.Sprintf("%s = box(%s)", o.Dest.Name, o.Src.Name) }

type Unbox struct {
	opBase
	Dest, Src *Register
	Target    rtype.RType
}

func (o *Unbox) Kind() OpKind          { return OUnbox }
func (o *Unbox) CanRaise() RaiseKind   { return MustCheck }
func (o *Unbox) ErrorSignal() ErrorSignal { return ErrorAlwaysChecked }
func (o *Unbox) ErrorFlag() *Register  { return nil }
func (o *Unbox) Defines() *Register    { return o.Dest }
func (o *Unbox) Uses() []*Register     { return []*Register{o.Src} }
func (o *Unbox) String() string {
	return fmt.Sprintf("%s = unbox(%s, %s)", o.Dest.Name, o.Src.Name, o.Target)
}

type Cast struct {
	opBase
	Dest, Src *Register
	Target    rtype.RType
}

func (o *Cast) Kind() OpKind          { return OCast }
func (o *Cast) CanRaise() RaiseKind   { return MustCheck }
func (o *Cast) ErrorSignal() ErrorSignal { return ErrorAlwaysChecked }
func (o *Cast) ErrorFlag() *Register  { return nil }
func (o *Cast) Defines() *Register    { return o.Dest }
func (o *Cast) Uses() []*Register     { return []*Register{o.Src} }
func (o *Cast) String() string {
	return fmt.Sprintf("%s = cast(%s, %s)", o.Dest.Name, o.Src.Name, o.Target)
}

// --- Calls ---

type Call struct {
	opBase
	Dest     *Register // nil when callee returns RVoid
	FuncName string    // resolved native function in the unit
	Args     []*Register
	Flag     *Register // paired error flag when Dest's RType has error overlap
}

func (o *Call) Kind() OpKind          { return OCall }
func (o *Call) CanRaise() RaiseKind   { return MayRaise }
func (o *Call) ErrorSignal() ErrorSignal {
	if o.Dest != nil && ErrorOverlapRegister(o.Dest) {
		return ErrorPairedFlag
	}
	return ErrorSentinelValue
}
func (o *Call) ErrorFlag() *Register { return o.Flag }
func (o *Call) Defines() *Register   { return o.Dest }
func (o *Call) Uses() []*Register    { return o.Args }
func (o *Call) String() string {
	return fmt.Sprintf("%s = call(%s, %d args)", destName(o.Dest), o.FuncName, len(o.Args))
}

type MethodCall struct {
	opBase
	Dest   *Register
	Obj    *Register
	Method string
	Args   []*Register
	Trait  string // non-empty when dispatched through a trait's secondary vtable
}

func (o *MethodCall) Kind() OpKind          { return OMethodCall }
func (o *MethodCall) CanRaise() RaiseKind   { return MayRaise }
func (o *MethodCall) ErrorSignal() ErrorSignal { return ErrorSentinelValue }
func (o *MethodCall) ErrorFlag() *Register  { return nil }
func (o *MethodCall) Defines() *Register    { return o.Dest }
func (o *MethodCall) Uses() []*Register     { return append([]*Register{o.Obj}, o.Args...) }
func (o *MethodCall) String() string {
	return fmt.Sprintf("%s = method_call(%s, %q, %d args)", destName(o.Dest), o.Obj.Name, o.Method, len(o.Args))
}

type CallC struct {
	opBase
	Dest   *Register
	CFunc  string
	Args   []*Register
}

func (o *CallC) Kind() OpKind          { return OCallC }
func (o *CallC) CanRaise() RaiseKind   { return MayRaise }
func (o *CallC) ErrorSignal() ErrorSignal { return ErrorSentinelValue }
func (o *CallC) ErrorFlag() *Register  { return nil }
func (o *CallC) Defines() *Register    { return o.Dest }
func (o *CallC) Uses() []*Register     { return o.Args }
func (o *CallC) String() string {
	return fmt.Sprintf("%s = call_c(%s, %d args)", destName(o.Dest), o.CFunc, len(o.Args))
}

type PyCall struct {
	opBase
	Dest    *Register
	Callee  *Register
	Args    []*Register
	Kwargs  []*Register
	KwNames []string
}

func (o *PyCall) Kind() OpKind          { return OPyCall }
func (o *PyCall) CanRaise() RaiseKind   { return MayRaise }
func (o *PyCall) ErrorSignal() ErrorSignal { return ErrorSentinelValue }
func (o *PyCall) ErrorFlag() *Register  { return nil }
func (o *PyCall) Defines() *Register    { return o.Dest }
func (o *PyCall) Uses() []*Register {
	u := append([]*Register{o.Callee}, o.Args...)
	return append(u, o.Kwargs...)
}
func (o *PyCall) String() string {
	return fmt.Sprintf("%s = py_call(%s, %d args, %d kwargs)", destName(o.Dest), o.Callee.Name, len(o.Args), len(o.Kwargs))
}

// --- Lifetime ---

type IncRef struct {
	opBase
	Src *Register
}

func (o *IncRef) Kind() OpKind          { return OIncRef }
func (o *IncRef) CanRaise() RaiseKind   { return NeverRaises }
func (o *IncRef) ErrorSignal() ErrorSignal { return ErrorNone }
func (o *IncRef) ErrorFlag() *Register  { return nil }
func (o *IncRef) Defines() *Register    { return nil }
func (o *IncRef) Uses() []*Register     { return []*Register{o.Src} }
func (o *IncRef) String() string        { return "incref " + o.Src.Name }

type DecRef struct {
	opBase
	Src    *Register
	IsXDec bool // xdec tolerates a nil/None src
}

func (o *DecRef) Kind() OpKind          { return ODecRef }
func (o *DecRef) CanRaise() RaiseKind   { return NeverRaises }
func (o *DecRef) ErrorSignal() ErrorSignal { return ErrorNone }
func (o *DecRef) ErrorFlag() *Register  { return nil }
func (o *DecRef) Defines() *Register    { return nil }
func (o *DecRef) Uses() []*Register     { return []*Register{o.Src} }
func (o *DecRef) String() string {
	if o.IsXDec {
		return "xdecref " + o.Src.Name
	}
	return "decref " + o.Src.Name
}

type KeepAlive struct {
	opBase
	Vars []*Register
}

func (o *KeepAlive) Kind() OpKind          { return OKeepAlive }
func (o *KeepAlive) CanRaise() RaiseKind   { return NeverRaises }
func (o *KeepAlive) ErrorSignal() ErrorSignal { return ErrorNone }
func (o *KeepAlive) ErrorFlag() *Register  { return nil }
func (o *KeepAlive) Defines() *Register    { return nil }
func (o *KeepAlive) Uses() []*Register     { return o.Vars }
func (o *KeepAlive) String() string        { return "keep_alive" }

// --- Exception machinery ---

type StandardErrorKind int

const (
	ErrValueError StandardErrorKind = iota
	ErrTypeError
	ErrAttributeError
	ErrUnboundLocalError
	ErrStopIteration
	ErrIndexError
	ErrKeyError
	ErrRuntimeError
)

type RaiseStandardError struct {
	opBase
	ErrK    StandardErrorKind
	Message string
}

func (o *RaiseStandardError) Kind() OpKind          { return ORaiseStandardError }
func (o *RaiseStandardError) CanRaise() RaiseKind   { return MustCheck }
func (o *RaiseStandardError) ErrorSignal() ErrorSignal { return ErrorAlwaysChecked }
func (o *RaiseStandardError) ErrorFlag() *Register  { return nil }
func (o *RaiseStandardError) Defines() *Register    { return nil }
func (o *RaiseStandardError) Uses() []*Register     { return nil }
func (o *RaiseStandardError) String() string {
	return fmt.Sprintf("raise_standard_error(%d, %q)", o.ErrK, o.Message)
}

type ErrorValue struct {
	opBase
	Dest *Register
}

func (o *ErrorValue) Kind() OpKind          { return OErrorValue }
func (o *ErrorValue) CanRaise() RaiseKind   { return NeverRaises }
func (o *ErrorValue) ErrorSignal() ErrorSignal { return ErrorNone }
func (o *ErrorValue) ErrorFlag() *Register  { return nil }
func (o *ErrorValue) Defines() *Register    { return o.Dest }
func (o *ErrorValue) Uses() []*Register     { return nil }
func (o *ErrorValue) String() string {
	return fmt.Sprintf("%s = error_value(%s)", o.Dest.Name, o.Dest.Type)
}

// --- Containers ---

// ContainerOpKind enumerates the type-specialised container primitives
// spec.md §3 groups under "Containers". Modeled as one parameterised Op
// rather than one Go type per container/operation pair: the primitive
// registry (internal/registry) is what gives each (kind, operand
// RTypes) combination its emission template, matching spec.md §4.3's
// own "declarative table" design instead of a combinatorial type zoo.
type ContainerOpKind int

const (
	ListGet ContainerOpKind = iota
	ListSet
	ListAppend
	ListLen
	DictGet
	DictSet
	DictContains
	SetAdd
	SetContains
	TupleGet
	StrConcat
	StrLen
	BytesConcat
)

type ContainerOp struct {
	opBase
	Dest   *Register
	OpK    ContainerOpKind
	Args   []*Register
	Flag   *Register // paired error flag when Dest's RType has error overlap
}

func (o *ContainerOp) Kind() OpKind        { return OContainerOp }
func (o *ContainerOp) CanRaise() RaiseKind { return MayRaise } // IndexError/KeyError
func (o *ContainerOp) ErrorSignal() ErrorSignal {
	if o.Dest != nil && ErrorOverlapRegister(o.Dest) {
		return ErrorPairedFlag
	}
	return ErrorSentinelValue
}
func (o *ContainerOp) ErrorFlag() *Register { return o.Flag }
func (o *ContainerOp) Defines() *Register   { return o.Dest }
func (o *ContainerOp) Uses() []*Register    { return o.Args }
func (o *ContainerOp) String() string {
	return fmt.Sprintf("%s = container_op(%d, %d args)", destName(o.Dest), o.OpK, len(o.Args))
}

// CheckAssigned is inserted by the uninit pass immediately before a read
// of a local that is not definitely assigned at that program point
// (spec.md §4.5). Dest is a bool: true when Local holds a real value.
// The C emitter compares Local against its RType's error sentinel — NULL
// for pointer representations, the type's sentinel value for unboxed
// ones; no per-frame shadow bit is kept — so the IR records only the
// abstract question, the
// same split of concerns ContainerOp uses for its own representation
// choice.
type CheckAssigned struct {
	opBase
	Dest  *Register
	Local *Register
}

func (o *CheckAssigned) Kind() OpKind          { return OCheckAssigned }
func (o *CheckAssigned) CanRaise() RaiseKind   { return NeverRaises }
func (o *CheckAssigned) ErrorSignal() ErrorSignal { return ErrorNone }
func (o *CheckAssigned) ErrorFlag() *Register  { return nil }
func (o *CheckAssigned) Defines() *Register    { return o.Dest }
func (o *CheckAssigned) Uses() []*Register     { return []*Register{o.Local} }
func (o *CheckAssigned) String() string {
	return fmt.Sprintf("%s = is_assigned(%s)", o.Dest.Name, o.Local.Name)
}

// CheckError is inserted by the exception pass immediately after an op
// whose ErrorSignal is ErrorSentinelValue or ErrorAlwaysChecked (spec.md
// §4.6): it tests whether that op signaled failure. Dest is a bool: true
// when it did. Value is the op's own result register when it defines
// one (the comparison target is Value's RType error sentinel — NULL for
// pointer representations, ErrorScalar/ErrorFloat for primitives that
// carry one); Value is nil for sink ops with no Dest (e.g. SetAttr),
// in which case CheckError refers positionally to the op immediately
// preceding it in the block — by construction, the exception pass always
// places CheckError directly after the op it guards — and the C emitter
// tests PyErr_Occurred() instead of a register. Ops whose
// ErrorSignal is ErrorPairedFlag need no CheckError — the exception pass
// branches directly on their own ErrorFlag() register instead.
type CheckError struct {
	opBase
	Dest  *Register
	Value *Register
}

func (o *CheckError) Kind() OpKind          { return OCheckError }
func (o *CheckError) CanRaise() RaiseKind   { return NeverRaises }
func (o *CheckError) ErrorSignal() ErrorSignal { return ErrorNone }
func (o *CheckError) ErrorFlag() *Register  { return nil }
func (o *CheckError) Defines() *Register    { return o.Dest }
func (o *CheckError) Uses() []*Register {
	if o.Value == nil {
		return nil
	}
	return []*Register{o.Value}
}
func (o *CheckError) String() string {
	if o.Value == nil {
		return fmt.Sprintf("%s = is_error()", o.Dest.Name)
	}
	return fmt.Sprintf("%s = is_error(%s)", o.Dest.Name, o.Value.Name)
}

func destName(r *Register) string {
	if r == nil {
		return "_"
	}
	return r.Name
}

// ErrorOverlapRegister reports whether r's type requires paired-flag
// error signalling (spec.md §3/§4.1). Declared here (not in rtype) so
// Op constructors can consult it without every Op importing rtype's
// full surface beyond RType itself.
func ErrorOverlapRegister(r *Register) bool {
	if r == nil {
		return false
	}
	return rtype.ErrorOverlap(r.Type)
}
