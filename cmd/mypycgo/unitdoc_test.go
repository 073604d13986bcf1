package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mypyc-go/pyc/internal/past"
	"github.com/mypyc-go/pyc/internal/rtype"
)

const addModuleJSON = `{
  "module": "arith",
  "file": "arith.py",
  "imports": [],
  "top": ["fn_add"],
  "nodes": [
    {"id": "fn_add", "kind": "funcdef", "name": "add", "body": "blk_body",
     "nodes": ["param_x", "param_y"]},
    {"id": "param_x", "kind": "param", "name": "x", "type": "int"},
    {"id": "param_y", "kind": "param", "name": "y", "type": "int"},
    {"id": "blk_body", "kind": "block", "nodes": ["stmt_return"]},
    {"id": "stmt_return", "kind": "return", "x": "expr_sum"},
    {"id": "expr_sum", "kind": "binop", "name": "+", "x": "name_x", "y": "name_y", "type": "int"},
    {"id": "name_x", "kind": "name", "name": "x", "type": "int"},
    {"id": "name_y", "kind": "name", "name": "y", "type": "int"}
  ],
  "symbols": {
    "arith.add": {"module": "arith", "kind": "func", "declared": "int"}
  }
}`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadAndDecodeModuleDocRebuildsNodeTree(t *testing.T) {
	path := writeTemp(t, "arith.json", addModuleJSON)
	doc, err := loadModuleDoc(path)
	require.NoError(t, err)
	assert.Equal(t, "arith", doc.Module)

	dm, err := decodeModule(doc)
	require.NoError(t, err)
	assert.Equal(t, "arith", dm.Name)
	require.Len(t, dm.Top, 1)

	fn := dm.Top[0]
	assert.Equal(t, past.NFuncDef, fn.Kind)
	assert.Equal(t, "add", fn.Name)
	require.Len(t, fn.Nodes, 2)
	assert.Equal(t, "x", fn.Nodes[0].Name)
	assert.Equal(t, "y", fn.Nodes[1].Name)

	require.NotNil(t, fn.Body)
	require.Len(t, fn.Body.Nodes, 1)
	retStmt := fn.Body.Nodes[0]
	assert.Equal(t, past.NReturn, retStmt.Kind)
	require.NotNil(t, retStmt.X)
	assert.Equal(t, past.NBinOp, retStmt.X.Kind)
	assert.Equal(t, "+", retStmt.X.Name)

	assert.Equal(t, rtype.RInt, dm.Types[retStmt.X])
	assert.Equal(t, rtype.RInt, dm.Types[fn.Nodes[0]])
}

func TestDecodeModuleRejectsUnknownNodeID(t *testing.T) {
	doc := moduleDoc{
		Module: "m",
		Top:    []string{"missing"},
		Nodes:  nil,
	}
	_, err := decodeModule(doc)
	assert.Error(t, err)
}

func TestParseRTypeCoversPrimitivesAndInstances(t *testing.T) {
	cases := map[string]rtype.RType{
		"int": rtype.RInt, "bool": rtype.RBool, "float": rtype.RFloat,
		"str": rtype.RStr, "object": rtype.RObject, "void": rtype.Void,
	}
	for spelling, want := range cases {
		got, err := parseRType(spelling)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	inst, err := parseRType("instance:Point")
	require.NoError(t, err)
	ri, ok := inst.(*rtype.RInstance)
	require.True(t, ok)
	assert.Equal(t, "Point", ri.ClassName)

	_, err = parseRType("nonsense")
	assert.Error(t, err)
}

func TestQualifiedFuncNodesDerivesMethodNames(t *testing.T) {
	topFn := &past.Node{Kind: past.NFuncDef, Name: "helper"}
	method := &past.Node{Kind: past.NFuncDef, Name: "getx"}
	cls := &past.Node{Kind: past.NClassDef, Name: "Point", Body: &past.Node{Kind: past.NBlock, Nodes: []*past.Node{method}}}

	calls := qualifiedFuncNodes([]*past.Node{topFn, cls})
	require.Len(t, calls, 2)
	assert.Equal(t, "helper", calls[0].qualName)
	assert.Equal(t, "Point.getx", calls[1].qualName)
}
