package ir

import "github.com/mypyc-go/pyc/internal/rtype"

// Register is an SSA-like value produced exactly once. A register owns
// its RType for its entire lifetime (spec.md §3): the IR builder never
// reassigns Type after construction.
type Register struct {
	ID   int
	Name string
	Type rtype.RType
}

// RegisterAllocator hands out registers scoped to a single function,
// the way the teacher's Compiler scopes local-variable slots to one
// IRFunc via its per-function locals list (ir.go's curFunc bookkeeping).
type RegisterAllocator struct {
	next int
	regs []*Register
}

func NewRegisterAllocator() *RegisterAllocator {
	return &RegisterAllocator{}
}

// New allocates a fresh register with a synthesized diagnostic name
// ("r0", "r1", ...) when name is empty.
func (a *RegisterAllocator) New(name string, t rtype.RType) *Register {
	id := a.next
	a.next++
	if name == "" {
		name = synthName(id)
	}
	r := &Register{ID: id, Name: name, Type: t}
	a.regs = append(a.regs, r)
	return r
}

func (a *RegisterAllocator) All() []*Register { return a.regs }

func synthName(id int) string {
	digits := "0123456789"
	if id == 0 {
		return "r0"
	}
	var buf []byte
	n := id
	for n > 0 {
		buf = append([]byte{digits[n%10]}, buf...)
		n /= 10
	}
	return "r" + string(buf)
}
