package registry

import "github.com/mypyc-go/pyc/internal/rtype"

// Default returns the registry populated with spec.md §4.3's mandatory
// primitive set: int/float arithmetic and comparisons at every
// specificity the dialect statically distinguishes, plus the handful of
// builtin-name call shapes the teacher's isBuiltinName switch treats as
// a closed set (len, append-like container growth, str conversion).
// Validate is called before returning; a load-time ambiguity here is a
// programming error, so it panics rather than returning an error, the
// same "this table must never be wrong" posture the teacher's
// isBuiltinName switch takes on its own fixed name set.
func Default() *Registry {
	r := New()

	for _, k := range []rtype.Primitive{rtype.Int, rtype.I8, rtype.I16, rtype.I32, rtype.I64, rtype.U8, rtype.U16, rtype.U32, rtype.U64} {
		r.Register(Rule{Shape: "binop:+", ArgKinds: []rtype.Primitive{k, k}, ReturnKind: k, Direct: true})
		r.Register(Rule{Shape: "binop:-", ArgKinds: []rtype.Primitive{k, k}, ReturnKind: k, Direct: true})
		r.Register(Rule{Shape: "binop:*", ArgKinds: []rtype.Primitive{k, k}, ReturnKind: k, Direct: true})
		r.Register(Rule{Shape: "binop://", ArgKinds: []rtype.Primitive{k, k}, ReturnKind: k, Direct: true})
		r.Register(Rule{Shape: "binop:%", ArgKinds: []rtype.Primitive{k, k}, ReturnKind: k, Direct: true})
		for _, cmp := range []Shape{"cmp:<", "cmp:<=", "cmp:>", "cmp:>=", "cmp:==", "cmp:!="} {
			r.Register(Rule{Shape: cmp, ArgKinds: []rtype.Primitive{k, k}, ReturnKind: rtype.Bool, Direct: true})
		}
	}

	r.Register(Rule{Shape: "binop:+", ArgKinds: []rtype.Primitive{rtype.Float, rtype.Float}, ReturnKind: rtype.Float, Direct: true})
	r.Register(Rule{Shape: "binop:-", ArgKinds: []rtype.Primitive{rtype.Float, rtype.Float}, ReturnKind: rtype.Float, Direct: true})
	r.Register(Rule{Shape: "binop:*", ArgKinds: []rtype.Primitive{rtype.Float, rtype.Float}, ReturnKind: rtype.Float, Direct: true})
	r.Register(Rule{Shape: "binop:/", ArgKinds: []rtype.Primitive{rtype.Float, rtype.Float}, ReturnKind: rtype.Float, Direct: true})
	r.Register(Rule{Shape: "unary:-", ArgKinds: []rtype.Primitive{rtype.Float}, ReturnKind: rtype.Float, Direct: true})
	for _, cmp := range []Shape{"cmp:<", "cmp:<=", "cmp:>", "cmp:>=", "cmp:==", "cmp:!="} {
		r.Register(Rule{Shape: cmp, ArgKinds: []rtype.Primitive{rtype.Float, rtype.Float}, ReturnKind: rtype.Bool, Direct: true})
	}

	r.Register(Rule{Shape: "binop:and", ArgKinds: []rtype.Primitive{rtype.Bool, rtype.Bool}, ReturnKind: rtype.Bool, Direct: true})
	r.Register(Rule{Shape: "binop:or", ArgKinds: []rtype.Primitive{rtype.Bool, rtype.Bool}, ReturnKind: rtype.Bool, Direct: true})
	r.Register(Rule{Shape: "unary:not", ArgKinds: []rtype.Primitive{rtype.Bool}, ReturnKind: rtype.Bool, Direct: true})

	// Builtin-name call shapes: each matches isBuiltinName's closed set
	// of case-on-first-byte names, generalized to (name, arg primitive)
	// keys so "len" on a list, a str, or a dict lowers to a distinct
	// runtime helper the way mypyc's own per-container builtins do.
	r.Register(Rule{Shape: "call:len", ArgKinds: []rtype.Primitive{rtype.List}, ReturnKind: rtype.Int, CHelper: "CPyList_GetItemCount"})
	r.Register(Rule{Shape: "call:len", ArgKinds: []rtype.Primitive{rtype.Dict}, ReturnKind: rtype.Int, CHelper: "CPyDict_Size"})
	r.Register(Rule{Shape: "call:len", ArgKinds: []rtype.Primitive{rtype.Set}, ReturnKind: rtype.Int, CHelper: "CPySet_Size"})
	r.Register(Rule{Shape: "call:len", ArgKinds: []rtype.Primitive{rtype.Str}, ReturnKind: rtype.Int, CHelper: "CPyStr_Size"})
	r.Register(Rule{Shape: "call:len", ArgKinds: []rtype.Primitive{rtype.Bytes}, ReturnKind: rtype.Int, CHelper: "CPyBytes_Size"})
	r.Register(Rule{Shape: "call:len", ArgKinds: []rtype.Primitive{Wildcard()}, ReturnKind: rtype.Int, CHelper: "CPyObject_Size"})

	r.Register(Rule{Shape: "method:append", ArgKinds: []rtype.Primitive{rtype.List, Wildcard()}, ReturnKind: rtype.NoneType, CHelper: "CPyList_Append"})
	r.Register(Rule{Shape: "method:add", ArgKinds: []rtype.Primitive{rtype.Set, Wildcard()}, ReturnKind: rtype.NoneType, CHelper: "CPySet_Add"})
	r.Register(Rule{Shape: "call:str", ArgKinds: []rtype.Primitive{rtype.Int}, ReturnKind: rtype.Str, CHelper: "CPyTagged_Str"})
	r.Register(Rule{Shape: "call:str", ArgKinds: []rtype.Primitive{rtype.Float}, ReturnKind: rtype.Str, CHelper: "CPyFloat_Str"})
	r.Register(Rule{Shape: "call:str", ArgKinds: []rtype.Primitive{Wildcard()}, ReturnKind: rtype.Str, CHelper: "PyObject_Str"})

	if err := r.Validate(); err != nil {
		panic(err)
	}
	return r
}
