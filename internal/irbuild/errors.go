package irbuild

import "github.com/mypyc-go/pyc/internal/past"

// BuildError reports a failure to lower a node, carrying its source
// position the way the teacher's Compiler.errorf attached a message
// (std/compiler/ir.go) without a position, generalized here since
// past.Node always carries one.
type BuildError struct {
	Pos     past.Position
	Message string
}

func (e *BuildError) Error() string {
	return e.Pos.String() + ": " + e.Message
}
