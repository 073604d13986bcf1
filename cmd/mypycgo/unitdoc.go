// Input decoding for mypycgo: the external front-end collaborator hands
// the compiler core a typed AST, an expr→type map, and a symbol table
// (spec.md §6). Parsing Python source into that shape is explicitly out
// of scope (spec.md's Non-goals); this file only decodes the JSON
// serialization of that already-typed tree so the CLI has something
// concrete to read from disk, the same narrow role the teacher's own
// main.go gives parseFile/parsePackageDir before CompileModule takes
// over (std/compiler/main.go, frontend.go).
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mypyc-go/pyc/internal/past"
	"github.com/mypyc-go/pyc/internal/rtype"
)

// nodeDoc is one past.Node, JSON-friendly: children are referenced by
// ID string instead of pointer, since encoding/json can't round-trip
// past.Node's pointer fields (X, Y, Body, Handler, Nodes) directly.
type nodeDoc struct {
	ID      string     `json:"id"`
	Kind    string     `json:"kind"`
	Name    string     `json:"name,omitempty"`
	Line    int        `json:"line,omitempty"`
	Col     int        `json:"col,omitempty"`
	Nodes   []string   `json:"nodes,omitempty"`
	X       string     `json:"x,omitempty"`
	Y       string     `json:"y,omitempty"`
	Body    string     `json:"body,omitempty"`
	Handler string     `json:"handler,omitempty"`
	IsFinal bool        `json:"is_final,omitempty"`
	Type    string     `json:"type,omitempty"` // this node's RType spelling, if the type-checker assigned one

	// ClassDef-only fields (spec.md §3's trait/subclassing surface).
	IsTraitDef                 bool     `json:"is_trait,omitempty"`
	Traits                     []string `json:"traits,omitempty"`
	AllowInterpretedSubclasses bool     `json:"allow_interpreted_subclasses,omitempty"`
}

// symbolDoc mirrors past.SymbolInfo, JSON-friendly.
type symbolDoc struct {
	Module      string `json:"module"`
	Kind        string `json:"kind"`
	Declared    string `json:"declared"`
	IsFinal     bool   `json:"is_final,omitempty"`
	ConstIntVal int64  `json:"const_int,omitempty"`
	ConstStrVal string `json:"const_str,omitempty"`
	HasConst    bool   `json:"has_const,omitempty"`
}

// moduleDoc is one module's complete front-end output: its import list
// (for unit.Resolve's cycle-detecting ordering), every node in its
// typed AST, the IDs of its top-level declarations, and the symbols it
// contributes to the unit-wide table.
type moduleDoc struct {
	Module  string               `json:"module"`
	File    string               `json:"file,omitempty"`
	Imports []string             `json:"imports,omitempty"`
	Nodes   []nodeDoc            `json:"nodes"`
	Top     []string             `json:"top"`
	Symbols map[string]symbolDoc `json:"symbols,omitempty"`
}

// decodedModule is a moduleDoc resolved into the real past.Node/TypeMap
// shapes irbuild and unit consume.
type decodedModule struct {
	Name    string
	Imports []string
	Top     []*past.Node
	Types   past.TypeMap
	Symbols past.SymbolTable
}

var nodeKindByName = map[string]past.NodeKind{
	"module": past.NModule, "funcdef": past.NFuncDef, "classdef": past.NClassDef, "param": past.NParam,
	"block": past.NBlock, "if": past.NIf, "while": past.NWhile, "for": past.NFor,
	"try": past.NTry, "excepthandler": past.NExceptHandler, "with": past.NWith,
	"return": past.NReturn, "raise": past.NRaise, "assign": past.NAssign, "augassign": past.NAugAssign,
	"exprstmt": past.NExprStmt, "break": past.NBreak, "continue": past.NContinue, "pass": past.NPass, "global": past.NGlobal,
	"name": past.NName, "intlit": past.NIntLit, "floatlit": past.NFloatLit, "strlit": past.NStrLit,
	"boollit": past.NBoolLit, "nonelit": past.NNoneLit, "binop": past.NBinOp, "unaryop": past.NUnaryOp,
	"boolop": past.NBoolOp, "compare": past.NCompare, "call": past.NCall, "attribute": past.NAttribute,
	"subscript": past.NSubscript, "tupleexpr": past.NTupleExpr, "listexpr": past.NListExpr,
	"dictexpr": past.NDictExpr, "setexpr": past.NSetExpr, "yield": past.NYield, "yieldfrom": past.NYieldFrom,
	"ifexp": past.NIfExp, "lambda": past.NLambda,
}

var symKindByName = map[string]past.SymKind{
	"func": past.SymFunc, "class": past.SymClass, "var": past.SymVar, "const": past.SymConst,
}

// loadModuleDoc reads and decodes one module's JSON document from path.
func loadModuleDoc(path string) (moduleDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return moduleDoc{}, err
	}
	var doc moduleDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return moduleDoc{}, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// decodeModule rebuilds the pointer-linked past.Node tree and TypeMap
// from doc. Two passes: allocate every Node first (so forward
// references between IDs resolve), then wire up the pointer fields.
func decodeModule(doc moduleDoc) (decodedModule, error) {
	byID := make(map[string]*past.Node, len(doc.Nodes))
	for _, nd := range doc.Nodes {
		kind, ok := nodeKindByName[nd.Kind]
		if !ok {
			return decodedModule{}, fmt.Errorf("module %s: node %s: unknown kind %q", doc.Module, nd.ID, nd.Kind)
		}
		byID[nd.ID] = &past.Node{
			Kind:                       kind,
			Pos:                        past.Position{File: doc.File, Line: nd.Line, Col: nd.Col},
			Name:                       nd.Name,
			IsFinal:                    nd.IsFinal,
			IsTraitDef:                 nd.IsTraitDef,
			Traits:                     nd.Traits,
			AllowInterpretedSubclasses: nd.AllowInterpretedSubclasses,
		}
	}

	types := past.TypeMap{}
	resolve := func(id string) (*past.Node, error) {
		if id == "" {
			return nil, nil
		}
		n, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("module %s: unknown node id %q", doc.Module, id)
		}
		return n, nil
	}

	for _, nd := range doc.Nodes {
		n := byID[nd.ID]
		for _, childID := range nd.Nodes {
			child, err := resolve(childID)
			if err != nil {
				return decodedModule{}, err
			}
			n.Nodes = append(n.Nodes, child)
		}
		var err error
		if n.X, err = resolve(nd.X); err != nil {
			return decodedModule{}, err
		}
		if n.Y, err = resolve(nd.Y); err != nil {
			return decodedModule{}, err
		}
		if n.Body, err = resolve(nd.Body); err != nil {
			return decodedModule{}, err
		}
		if n.Handler, err = resolve(nd.Handler); err != nil {
			return decodedModule{}, err
		}
		if nd.Type != "" {
			t, err := parseRType(nd.Type)
			if err != nil {
				return decodedModule{}, fmt.Errorf("module %s: node %s: %w", doc.Module, nd.ID, err)
			}
			types[n] = t
		}
	}

	var top []*past.Node
	for _, id := range doc.Top {
		n, err := resolve(id)
		if err != nil {
			return decodedModule{}, err
		}
		top = append(top, n)
	}

	symbols := past.SymbolTable{}
	for qualName, sd := range doc.Symbols {
		kind, ok := symKindByName[sd.Kind]
		if !ok {
			return decodedModule{}, fmt.Errorf("module %s: symbol %s: unknown kind %q", doc.Module, qualName, sd.Kind)
		}
		declared, err := parseRType(sd.Declared)
		if err != nil {
			return decodedModule{}, fmt.Errorf("module %s: symbol %s: %w", doc.Module, qualName, err)
		}
		symbols[qualName] = past.SymbolInfo{
			Module:      sd.Module,
			Kind:        kind,
			Declared:    declared,
			IsFinal:     sd.IsFinal,
			ConstIntVal: sd.ConstIntVal,
			ConstStrVal: sd.ConstStrVal,
			HasConst:    sd.HasConst,
		}
	}

	return decodedModule{
		Name:    doc.Module,
		Imports: doc.Imports,
		Top:     top,
		Types:   types,
		Symbols: symbols,
	}, nil
}

// parseRType decodes the small textual RType grammar mypycgo's JSON
// input format uses: bare primitive names ("int", "i8", ... "object",
// "void"), and "instance:ClassName" for a native class reference.
// Tuples/unions/structs aren't representable in this textual grammar
// yet — the front-end collaborator would need to emit those as nested
// JSON in a richer format, left for whenever a real one exists.
func parseRType(s string) (rtype.RType, error) {
	switch s {
	case "int":
		return rtype.RInt, nil
	case "i8":
		return rtype.RI8, nil
	case "i16":
		return rtype.RI16, nil
	case "i32":
		return rtype.RI32, nil
	case "i64":
		return rtype.RI64, nil
	case "u8":
		return rtype.RU8, nil
	case "u16":
		return rtype.RU16, nil
	case "u32":
		return rtype.RU32, nil
	case "u64":
		return rtype.RU64, nil
	case "bool":
		return rtype.RBool, nil
	case "float":
		return rtype.RFloat, nil
	case "str":
		return rtype.RStr, nil
	case "bytes":
		return rtype.RBytes, nil
	case "list":
		return rtype.RList, nil
	case "dict":
		return rtype.RDict, nil
	case "set":
		return rtype.RSet, nil
	case "frozenset":
		return rtype.RFrozenSet, nil
	case "tuple":
		return rtype.RHeapTuple, nil
	case "None":
		return rtype.RNone, nil
	case "object":
		return rtype.RObject, nil
	case "void":
		return rtype.Void, nil
	}
	const prefix = "instance:"
	if len(s) > len(prefix) && s[:len(prefix)] == prefix {
		return &rtype.RInstance{ClassName: s[len(prefix):]}, nil
	}
	return nil, fmt.Errorf("unrecognized type spelling %q", s)
}
