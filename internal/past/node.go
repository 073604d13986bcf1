// Package past ("typed AST") models the tree handed to the compiler
// core by the external type-checker collaborator: a typed Python-dialect
// AST plus an expression→type map and a symbol table. Parsing a source
// file into this shape is the front-end collaborator's job and is out
// of scope here (spec.md §1); this package only defines the node shape
// the IR builder consumes, and a builder API so tests can construct
// typed trees the way that collaborator would.
package past

import "github.com/mypyc-go/pyc/internal/rtype"

// NodeKind is a closed variant set, the same "one enum, one struct"
// discipline the teacher's own parser.Node used for its Go-subset
// grammar, generalized here to the Python dialect's statements and
// expressions.
type NodeKind int

const (
	NModule NodeKind = iota
	NFuncDef
	NClassDef
	NParam

	// Statements
	NBlock
	NIf
	NWhile
	NFor
	NTry
	NExceptHandler
	NWith
	NReturn
	NRaise
	NAssign
	NAugAssign
	NExprStmt
	NBreak
	NContinue
	NPass
	NGlobal

	// Expressions
	NName
	NIntLit
	NFloatLit
	NStrLit
	NBoolLit
	NNoneLit
	NBinOp
	NUnaryOp
	NBoolOp
	NCompare
	NCall
	NAttribute
	NSubscript
	NTupleExpr
	NListExpr
	NDictExpr
	NSetExpr
	NYield
	NYieldFrom
	NIfExp
	NLambda
)

// Node is the universal typed-AST node, mirroring the teacher's
// "Kind + Nodes + X/Y/Body" shape (parser.go's Node) generalized from a
// Go-subset grammar to the Python dialect's statement/expression set.
type Node struct {
	Kind NodeKind
	Pos  Position

	Name    string  // identifier, attribute name, binary/unary op spelling
	Nodes   []*Node // ordered children: block statements, call args, literal elements
	X       *Node   // primary operand / condition / iterable / object being accessed
	Y       *Node   // secondary operand (RHS of a binop, else-branch, …)
	Body    *Node   // nested block (function/class/if/while/for/try/with body)
	Handler *Node   // except/finally block attached to a Try node
	TypeAnn *Node   // optional syntactic type annotation (rarely needed; type map is authoritative)

	IsFinal bool // true for a module/class-level name declared Final

	// ClassDef-only fields (spec.md §3's trait/subclassing surface,
	// carried on the node because the symbol table only describes
	// names, not a class's declaration-site metaclass/trait list).
	IsTraitDef                 bool     // this ClassDef declares a trait rather than a concrete class
	Traits                     []string // trait base names this class implements, beyond the single X base
	AllowInterpretedSubclasses bool     // permits an interpreted (non-native) subclass, per spec.md §4.9
}

// Position is a source location, carried only for diagnostics.
type Position struct {
	File string
	Line int
	Col  int
}

func (p Position) String() string {
	if p.File == "" {
		return "<unknown>"
	}
	s := p.File
	if p.Line > 0 {
		s += ":" + itoa(p.Line)
		if p.Col > 0 {
			s += ":" + itoa(p.Col)
		}
	}
	return s
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
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

// TypeMap is the front-end collaborator's expression→type map: every
// expression Node the type-checker visited has an entry here. The IR
// builder treats this as authoritative and never re-infers a type.
type TypeMap map[*Node]rtype.RType

// SymKind classifies a name in the Symbols table.
type SymKind int

const (
	SymFunc SymKind = iota
	SymClass
	SymVar
	SymConst
)

// SymbolInfo is one entry of the front-end collaborator's symbol table:
// "a symbol table mapping each name to its (module, kind, declared
// type, is_final)" per spec.md §6.
type SymbolInfo struct {
	Module      string
	Kind        SymKind
	Declared    rtype.RType
	IsFinal     bool
	ConstIntVal int64  // valid when IsFinal && Kind == SymConst && Declared is int-like
	ConstStrVal string // valid when IsFinal && Kind == SymConst && Declared == Str
	HasConst    bool
}

// SymbolTable maps qualified names ("module.name") to their info.
type SymbolTable map[string]SymbolInfo
