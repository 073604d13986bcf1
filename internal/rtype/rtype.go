// Package rtype implements the RType system: the closed set of typed
// value representations that every IR register, argument, and return
// value is statically tagged with. Boxing and unboxing are always
// explicit IR operations; an RType itself never changes for the
// lifetime of a register.
package rtype

import (
	"fmt"
	"math"
)

// Kind discriminates the closed RType variant set.
type Kind int

const (
	KPrimitive Kind = iota
	KTuple
	KInstance
	KUnion
	KStruct
	KVoid
)

// Primitive names the built-in representations spec.md §3 mandates.
type Primitive int

const (
	Int Primitive = iota // tagged arbitrary-precision int
	I8
	I16
	I32
	I64
	U8
	U16
	U32
	U64
	Bool
	Float
	Str
	Bytes
	List
	Dict
	Set
	FrozenSet
	Tuple // heap tuple, as opposed to RTuple's value tuple
	NoneType
	Object
)

var primitiveNames = map[Primitive]string{
	Int: "int", I8: "i8", I16: "i16", I32: "i32", I64: "i64",
	U8: "u8", U16: "u16", U32: "u32", U64: "u64",
	Bool: "bool", Float: "float", Str: "str", Bytes: "bytes",
	List: "list", Dict: "dict", Set: "set", FrozenSet: "frozenset",
	Tuple: "tuple", NoneType: "None", Object: "object",
}

func (p Primitive) String() string {
	if n, ok := primitiveNames[p]; ok {
		return n
	}
	return fmt.Sprintf("primitive(%d)", int(p))
}

// RType is the interface implemented by every member of the closed
// RType variant set. Only the types defined in this package implement
// it; external packages may not add new variants.
type RType interface {
	Kind() Kind
	String() string
	rtypeSealed()
}

// RPrimitive is a built-in type with a fixed runtime representation.
type RPrimitive struct {
	Prim         Primitive
	UnboxedFlag  bool
	SizeBytes    int  // meaningful only when UnboxedFlag is true
	OverlapFlag  bool // error sentinel collides with a legal value
	ErrorScalar  int64
	ErrorIsFloat bool
	ErrorFloat   float64
}

func (r *RPrimitive) Kind() Kind    { return KPrimitive }
func (r *RPrimitive) rtypeSealed()  {}
func (r *RPrimitive) String() string { return r.Prim.String() }

// RTuple is a fixed-length value-type tuple of other RTypes. It is
// boxed to a heap tuple when crossing into an erased (object) context.
type RTuple struct {
	Items []RType
}

func (r *RTuple) Kind() Kind   { return KTuple }
func (r *RTuple) rtypeSealed() {}
func (r *RTuple) String() string {
	s := "tuple["
	for i, it := range r.Items {
		if i > 0 {
			s += ", "
		}
		s += it.String()
	}
	return s + "]"
}

// RInstance refers to a native class within the compilation unit by
// qualified name; the class's full layout lives in the unit's ClassIR
// table, not here, avoiding a cyclic dependency from rtype onto ir.
type RInstance struct {
	ClassName string
}

func (r *RInstance) Kind() Kind     { return KInstance }
func (r *RInstance) rtypeSealed()   {}
func (r *RInstance) String() string { return r.ClassName }

// RUnion is always represented boxed, regardless of its members.
type RUnion struct {
	Members []RType
}

func (r *RUnion) Kind() Kind   { return KUnion }
func (r *RUnion) rtypeSealed() {}
func (r *RUnion) String() string {
	s := "union["
	for i, m := range r.Members {
		if i > 0 {
			s += "|"
		}
		s += m.String()
	}
	return s + "]"
}

// RStructField is a named, typed field of an RStruct.
type RStructField struct {
	Name string
	Type RType
}

// RStruct is a raw C struct used for internal helpers (e.g. generator
// frame state).
type RStruct struct {
	Name   string
	Fields []RStructField
}

func (r *RStruct) Kind() Kind     { return KStruct }
func (r *RStruct) rtypeSealed()   {}
func (r *RStruct) String() string { return "struct " + r.Name }

// RVoid is the no-value type of sink operations.
type RVoid struct{}

func (r *RVoid) Kind() Kind     { return KVoid }
func (r *RVoid) rtypeSealed()   {}
func (r *RVoid) String() string { return "void" }

// Well-known primitive singletons, matching spec.md §4.1's decisions:
// the tagged int uses its low bit as a small/boxed-bignum tag; bool's
// sentinel is the literal value 2 (never a legal bool); float's
// sentinel is a reserved NaN payload that no float op in the dialect
// can produce as a legitimate result.
var (
	RInt = &RPrimitive{Prim: Int, UnboxedFlag: true, SizeBytes: 8}
	RI8  = &RPrimitive{Prim: I8, UnboxedFlag: true, SizeBytes: 1}
	RI16 = &RPrimitive{Prim: I16, UnboxedFlag: true, SizeBytes: 2}
	RI32 = &RPrimitive{Prim: I32, UnboxedFlag: true, SizeBytes: 4}
	RI64 = &RPrimitive{Prim: I64, UnboxedFlag: true, SizeBytes: 8}
	RU8  = &RPrimitive{Prim: U8, UnboxedFlag: true, SizeBytes: 1}
	RU16 = &RPrimitive{Prim: U16, UnboxedFlag: true, SizeBytes: 2}
	RU32 = &RPrimitive{Prim: U32, UnboxedFlag: true, SizeBytes: 4}
	RU64 = &RPrimitive{Prim: U64, UnboxedFlag: true, SizeBytes: 8}

	RBool = &RPrimitive{
		Prim: Bool, UnboxedFlag: true, SizeBytes: 1,
		OverlapFlag: true, ErrorScalar: 2,
	}
	RFloat = &RPrimitive{
		Prim: Float, UnboxedFlag: true, SizeBytes: 8,
		OverlapFlag: true, ErrorIsFloat: true,
		ErrorFloat: errorNaN(),
	}

	RStr       = &RPrimitive{Prim: Str}
	RBytes     = &RPrimitive{Prim: Bytes}
	RList      = &RPrimitive{Prim: List}
	RDict      = &RPrimitive{Prim: Dict}
	RSet       = &RPrimitive{Prim: Set}
	RFrozenSet = &RPrimitive{Prim: FrozenSet}
	RHeapTuple = &RPrimitive{Prim: Tuple}
	RNone      = &RPrimitive{Prim: NoneType}
	RObject    = &RPrimitive{Prim: Object}

	Void = &RVoid{}
)

// errorNaN returns the reserved NaN payload used as the float error
// sentinel. A specific payload bit pattern, distinguishable from any
// NaN the dialect's own float operations could legitimately produce
// (which never synthesize payload bits), per spec.md §9's open question.
func errorNaN() float64 {
	return math.Float64frombits(0x7ff8000000000001)
}

// IsUnboxed reports whether t has a compact non-heap representation.
func IsUnboxed(t RType) bool {
	switch v := t.(type) {
	case *RPrimitive:
		return v.UnboxedFlag
	case *RStruct:
		return true
	case *RTuple:
		for _, it := range v.Items {
			if !IsUnboxed(it) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// ErrorOverlap reports whether t's error sentinel can collide with a
// legal value, requiring a paired out-of-band error flag at call
// boundaries rather than sentinel-return discipline.
func ErrorOverlap(t RType) bool {
	p, ok := t.(*RPrimitive)
	return ok && p.OverlapFlag
}

// NeedsRefcount reports whether registers of this type participate in
// the refcount pass. Unboxed-only representations never do; unions
// that can carry a boxed member are always treated as boxed (the Box
// op dominates their definitions per spec.md §4.7).
func NeedsRefcount(t RType) bool {
	if IsUnboxed(t) {
		return false
	}
	if _, ok := t.(*RVoid); ok {
		return false
	}
	return true
}

// Box returns the heap type reachable via a Box op from t. Types that
// are already boxed box to themselves.
func Box(t RType) RType {
	switch v := t.(type) {
	case *RPrimitive:
		switch v.Prim {
		case Int, I8, I16, I32, I64, U8, U16, U32, U64:
			return RInt
		case Bool:
			return &RPrimitive{Prim: Bool}
		case Float:
			return &RPrimitive{Prim: Float}
		default:
			return v
		}
	case *RTuple:
		return RHeapTuple
	default:
		return t
	}
}

// Join computes the least upper bound of a and b within the closed
// RType lattice, falling back to object when no tighter join exists.
func Join(a, b RType) RType {
	if typeKey(a) == typeKey(b) {
		return a
	}
	ap, aok := a.(*RPrimitive)
	bp, bok := b.(*RPrimitive)
	if aok && bok {
		if isNumeric(ap.Prim) && isNumeric(bp.Prim) {
			return widerNumeric(ap, bp)
		}
	}
	if ia, ok := a.(*RInstance); ok {
		if ib, ok := b.(*RInstance); ok && ia.ClassName == ib.ClassName {
			return ia
		}
	}
	return RObject
}

func typeKey(t RType) string { return fmt.Sprintf("%T:%s", t, t.String()) }

func isNumeric(p Primitive) bool {
	switch p {
	case Int, I8, I16, I32, I64, U8, U16, U32, U64, Float:
		return true
	}
	return false
}

func numericRank(p Primitive) int {
	switch p {
	case I8, U8:
		return 1
	case I16, U16:
		return 2
	case I32, U32:
		return 3
	case I64, U64:
		return 4
	case Int:
		return 5
	case Float:
		return 6
	}
	return 0
}

func widerNumeric(a, b *RPrimitive) RType {
	if a.Prim == b.Prim {
		return a
	}
	if numericRank(a.Prim) >= numericRank(b.Prim) {
		return a
	}
	return b
}
