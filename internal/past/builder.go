package past

import "github.com/mypyc-go/pyc/internal/rtype"

// Builder constructs typed-AST fixtures the way the front-end
// collaborator would hand them to the compiler core: every expression
// node created through it is immediately registered in Types, so tests
// never have to maintain the type map by hand.
type Builder struct {
	Types TypeMap
}

func NewBuilder() *Builder {
	return &Builder{Types: TypeMap{}}
}

func (b *Builder) typed(n *Node, t rtype.RType) *Node {
	if t != nil {
		b.Types[n] = t
	}
	return n
}

func (b *Builder) Name(name string, t rtype.RType) *Node {
	return b.typed(&Node{Kind: NName, Name: name}, t)
}

func (b *Builder) IntLit(v int64, t rtype.RType) *Node {
	return b.typed(&Node{Kind: NIntLit, Name: itoa64(v)}, t)
}

func (b *Builder) StrLit(s string) *Node {
	return b.typed(&Node{Kind: NStrLit, Name: s}, rtype.RStr)
}

func (b *Builder) BoolLit(v bool) *Node {
	n := "False"
	if v {
		n = "True"
	}
	return b.typed(&Node{Kind: NBoolLit, Name: n}, rtype.RBool)
}

func (b *Builder) NoneLit() *Node {
	return b.typed(&Node{Kind: NNoneLit}, rtype.RNone)
}

func (b *Builder) BinOp(op string, x, y *Node, resultType rtype.RType) *Node {
	return b.typed(&Node{Kind: NBinOp, Name: op, X: x, Y: y}, resultType)
}

func (b *Builder) Compare(op string, x, y *Node) *Node {
	return b.typed(&Node{Kind: NCompare, Name: op, X: x, Y: y}, rtype.RBool)
}

func (b *Builder) Attribute(obj *Node, name string, t rtype.RType) *Node {
	return b.typed(&Node{Kind: NAttribute, Name: name, X: obj}, t)
}

func (b *Builder) Call(fn *Node, args []*Node, t rtype.RType) *Node {
	return b.typed(&Node{Kind: NCall, X: fn, Nodes: args}, t)
}

func (b *Builder) Return(value *Node) *Node {
	return &Node{Kind: NReturn, X: value}
}

func (b *Builder) ExprStmt(e *Node) *Node {
	return &Node{Kind: NExprStmt, X: e}
}

func (b *Builder) Assign(target, value *Node) *Node {
	return &Node{Kind: NAssign, X: target, Y: value}
}

func (b *Builder) If(cond *Node, then *Node, els *Node) *Node {
	return &Node{Kind: NIf, X: cond, Body: then, Y: els}
}

func (b *Builder) While(cond, body *Node) *Node {
	return &Node{Kind: NWhile, X: cond, Body: body}
}

func (b *Builder) Block(stmts ...*Node) *Node {
	return &Node{Kind: NBlock, Nodes: stmts}
}

func (b *Builder) Param(name string, t rtype.RType) *Node {
	return b.typed(&Node{Kind: NParam, Name: name}, t)
}

func (b *Builder) FuncDef(name string, params []*Node, ret rtype.RType, body *Node) *Node {
	n := &Node{Kind: NFuncDef, Name: name, Nodes: params, Body: body}
	if ret != nil {
		b.Types[n] = ret
	}
	return n
}

func (b *Builder) UnaryOp(op string, x *Node, resultType rtype.RType) *Node {
	return b.typed(&Node{Kind: NUnaryOp, Name: op, X: x}, resultType)
}

func (b *Builder) BoolOp(op string, x, y *Node) *Node {
	return b.typed(&Node{Kind: NBoolOp, Name: op, X: x, Y: y}, rtype.RBool)
}

func (b *Builder) Break() *Node    { return &Node{Kind: NBreak} }
func (b *Builder) Continue() *Node { return &Node{Kind: NContinue} }
func (b *Builder) Pass() *Node     { return &Node{Kind: NPass} }

// AugAssign models `target op= value` (e.g. `x += 1`); Name carries the
// augmented operator spelling including its trailing '=' (e.g. "+=").
func (b *Builder) AugAssign(op string, target, value *Node) *Node {
	return &Node{Kind: NAugAssign, Name: op, X: target, Y: value}
}

// Raise models `raise exc` (exc nil for a bare re-raise).
func (b *Builder) Raise(exc *Node) *Node {
	return &Node{Kind: NRaise, X: exc}
}

// ExceptHandler is one `except excType [as name]: body` clause of a Try
// node; excType nil models a bare `except:`.
func (b *Builder) ExceptHandler(excType *Node, name string, body *Node) *Node {
	return &Node{Kind: NExceptHandler, X: excType, Name: name, Body: body}
}

// Try models `try: body except ...: ... finally: finallyBody`.
// finallyBody may be nil when the statement has no finally clause.
func (b *Builder) Try(body *Node, handlers []*Node, finallyBody *Node) *Node {
	return &Node{Kind: NTry, Body: body, Nodes: handlers, Handler: finallyBody}
}

// With models `with ctx [as asName]: body`; asName is "" when the
// statement has no `as` clause.
func (b *Builder) With(ctx *Node, asName string, body *Node) *Node {
	return &Node{Kind: NWith, X: ctx, Name: asName, Body: body}
}

// For models `for target in iter: body`, target a Name node so the
// body pass can bind it through the ordinary type-map lookup path.
func (b *Builder) For(target, iter, body *Node) *Node {
	return &Node{Kind: NFor, X: target, Y: iter, Body: body}
}

// FinalAssign models a module/class-level `name: Final = value`
// constant declaration (spec.md §4.4's "Final-attribute inlining").
func (b *Builder) FinalAssign(target, value *Node) *Node {
	return &Node{Kind: NAssign, X: target, Y: value, IsFinal: true}
}

// Yield models a `yield value` expression (value nil for a bare
// `yield`); t is the type of whatever a `send()` call resumes it with.
func (b *Builder) Yield(value *Node, t rtype.RType) *Node {
	return b.typed(&Node{Kind: NYield, X: value}, t)
}

// YieldFrom models `yield from iterable`.
func (b *Builder) YieldFrom(iterable *Node, t rtype.RType) *Node {
	return b.typed(&Node{Kind: NYieldFrom, X: iterable}, t)
}

func (b *Builder) ClassDef(name string, base string, body *Node, traits ...string) *Node {
	n := &Node{Kind: NClassDef, Name: name, Body: body, Traits: traits}
	if base != "" {
		n.X = &Node{Kind: NName, Name: base}
	}
	return n
}

// TraitDef builds a ClassDef declaring a trait: a class with no concrete
// attributes of its own that other classes implement (spec.md §3's
// secondary vtable), analogous to a Go interface but dispatched through
// ClassIR.TraitSlots rather than an itable.
func (b *Builder) TraitDef(name string, body *Node) *Node {
	n := b.ClassDef(name, "", body)
	n.IsTraitDef = true
	return n
}

// AllowSubclassing marks a ClassDef node as permitting an interpreted
// (non-native) subclass, per spec.md §4.9, and returns it for chaining.
func (n *Node) AllowSubclassing() *Node {
	n.AllowInterpretedSubclasses = true
	return n
}

func itoa64(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [24]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
