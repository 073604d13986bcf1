// Package registry implements the primitive registry: a declarative
// table mapping AST operation shapes and operand RTypes to IR lowering
// rules (spec.md §4.3). Grounded on the teacher's isBuiltinName
// byte-dispatch table and dce.go's intrinsicRuntimeDep name→dependency
// table (std/compiler/ir.go, std/compiler/dce.go) — both are small
// declarative "shape → fixed behavior" tables; the registry generalizes
// that idea to a priority-ordered, load-time-validated lookup.
package registry

import (
	"fmt"
	"sort"

	"github.com/mypyc-go/pyc/internal/rtype"
)

// Shape identifies an AST operation independent of operand types, e.g.
// "binop:+", "call:len", "method:append".
type Shape string

// wildcard matches any primitive at its ArgKinds position (the
// registry's "defaulting fallback" per spec.md §4.3). No rtype.Primitive
// constant has this value.
const wildcard = rtype.Primitive(-1)

// Wildcard marks an ArgKinds position as matching any operand kind.
func Wildcard() rtype.Primitive { return wildcard }

// Rule is what the registry returns for a matching (Shape, operand
// primitives) key: either a direct Op construction template or the
// name of a C runtime helper plus coercion instructions.
type Rule struct {
	Shape      Shape
	ArgKinds   []rtype.Primitive // Wildcard() entries match any primitive at that position
	ReturnKind rtype.Primitive

	// specificity is the count of non-wildcard ArgKinds entries,
	// computed at registration time. Higher specificity rules shadow
	// lower ones for the same Shape.
	specificity int

	// CHelper is set when this rule lowers to a runtime call rather
	// than a direct Op; empty means Direct applies instead.
	CHelper string
	// Direct, when true, means the IR builder should emit the type's
	// own direct Op variant (IntOp/FloatOp/ComparisonOp/ContainerOp...)
	// rather than calling a C helper. The builder decides which Op
	// constructor to use from Shape/ArgKinds itself; the registry's
	// role is only to confirm that a direct lowering exists and at
	// what specificity, matching spec.md §4.3's "direct Op construction
	// template, or a name of a C helper to call" contract.
	Direct bool
}

// Registry is the load-time-validated lookup table.
type Registry struct {
	rules map[Shape][]Rule
}

func New() *Registry {
	return &Registry{rules: map[Shape][]Rule{}}
}

// Register adds rule to the table. It does not validate ambiguity
// immediately (multiple rules of equal specificity are allowed to
// accumulate during construction); call Validate once registration is
// complete, the same "populate during declaration pass, read-only
// afterward" discipline as spec.md §4.9/§9 prescribes for the
// compilation-unit symbol table.
func (r *Registry) Register(rule Rule) {
	n := 0
	for _, k := range rule.ArgKinds {
		if k != wildcard {
			n++
		}
	}
	rule.specificity = n
	r.rules[rule.Shape] = append(r.rules[rule.Shape], rule)
}

// Validate rejects ties among equally specific rules for the same
// Shape+ArgKinds, per spec.md §4.3: "Ties among equally specific rules
// are rejected at registry load time (the registry must be free of
// ambiguity)."
func (r *Registry) Validate() error {
	for shape, rules := range r.rules {
		seen := map[string][]Rule{}
		for _, rule := range rules {
			key := argKindsKey(rule.ArgKinds)
			seen[key] = append(seen[key], rule)
		}
		for key, dup := range seen {
			if len(dup) > 1 {
				return fmt.Errorf("registry: ambiguous rules for shape %q, arg kinds %s: %d entries", shape, key, len(dup))
			}
		}
	}
	return nil
}

func argKindsKey(kinds []rtype.Primitive) string {
	s := ""
	for i, k := range kinds {
		if i > 0 {
			s += ","
		}
		if k == wildcard {
			s += "*"
		} else {
			s += fmt.Sprintf("%d", int(k))
		}
	}
	return s
}

// Lookup returns the most specific rule matching shape against
// argKinds, or ok=false if no rule matches (the IR builder then falls
// back to PyCall, the generic "object"-typed version per spec.md §4.3).
func (r *Registry) Lookup(shape Shape, argKinds []rtype.Primitive) (Rule, bool) {
	candidates := r.rules[shape]
	var best *Rule
	for i := range candidates {
		c := &candidates[i]
		if !matches(c.ArgKinds, argKinds) {
			continue
		}
		if best == nil || c.specificity > best.specificity {
			best = c
		}
	}
	if best == nil {
		return Rule{}, false
	}
	return *best, true
}

func matches(pattern, actual []rtype.Primitive) bool {
	if len(pattern) != len(actual) {
		return false
	}
	for i, p := range pattern {
		if p == wildcard {
			continue
		}
		if p != actual[i] {
			return false
		}
	}
	return true
}

// Shapes returns every registered shape, sorted, for diagnostics/tests.
func (r *Registry) Shapes() []Shape {
	out := make([]Shape, 0, len(r.rules))
	for s := range r.rules {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
