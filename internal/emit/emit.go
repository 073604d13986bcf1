// Package emit implements the C emitter (spec.md §4.8): for each
// ModuleIR it produces a header section (function prototypes, class
// struct/type object declarations), a constants section (interned
// literals), one native+wrapper function pair per FuncIR, one struct/
// type-object/vtable triple per ClassIR, and a module init function.
//
// Grounded on the teacher's backend.go CodeGen struct: named section
// buffers (code/rodata/data), a string-literal dedup map, one emission
// function per IRFunc. The byte-buffer/relocation-fixup mechanics that
// struct exists for have no analogue here — C's own linker resolves
// cross-function symbols from the textual prototypes we emit, so the
// named sections become strings.Builder text sections instead of
// byte buffers needing a fixup pass.
package emit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mypyc-go/pyc/internal/ir"
	"github.com/mypyc-go/pyc/internal/rtype"
)

// Config holds compilation-unit-level emission options (SPEC_FULL.md §2
// "Configuration"): the target C dialect and whether callers additionally
// want a textual IR dump alongside the C output. Threaded explicitly
// into CEmitter rather than held in package globals, unlike the
// teacher's targetGOOS/targetBackend/buildTags globals.
type Config struct {
	CDialect string // e.g. "c11"; informs which stdint/stdbool forms are emitted
	DumpIR   bool
}

func DefaultConfig() Config {
	return Config{CDialect: "c11"}
}

// CEmitter accumulates one module's emitted C text across named
// sections, mirroring the teacher's CodeGen section buffers.
type CEmitter struct {
	cfg Config

	proto  strings.Builder // prototypes + struct/type-object declarations (goes in the shared header)
	consts strings.Builder // interned literal definitions
	code   strings.Builder // function bodies (native + wrapper)
	initFn strings.Builder // module init function body

	stringMap map[string]string // literal content -> C symbol name, dedup (mirrors CodeGen.stringMap)
	tupleMap  map[string]string // RTuple signature -> generated struct type name, dedup
	genFrames map[string]bool   // generator frame struct names already emitted, dedup
	nextConst int
	nextTuple int

	exports []string // wrapper symbol names defined by this module, for the manifest
}

func NewCEmitter(cfg Config) *CEmitter {
	return &CEmitter{
		cfg:       cfg,
		stringMap: map[string]string{},
		tupleMap:  map[string]string{},
		genFrames: map[string]bool{},
	}
}

// ModuleOutput is one module's emitted artifacts.
type ModuleOutput struct {
	ModuleName string
	Source     string // the module's own .c file body
	Prototypes string // declarations this module contributes to the unit's shared header
	Exports    []string
	ClassCount int
	FuncCount  int
}

// EmitModule renders m's full C source body (spec.md §4.8). The
// returned Prototypes string is meant to be concatenated with every
// other module's into the unit's one shared header file.
func EmitModule(cfg Config, m *ir.ModuleIR) (ModuleOutput, error) {
	e := NewCEmitter(cfg)

	fmt.Fprintf(&e.code, "/* generated by mypycgo — module %q */\n", m.Name)
	fmt.Fprintf(&e.code, "#include \"%s.h\"\n\n", sanitizeIdent(m.Name))

	for _, c := range m.Classes {
		e.emitClass(c, m)
	}
	for _, fn := range m.Funcs {
		if err := e.emitFunc(fn, m); err != nil {
			return ModuleOutput{}, fmt.Errorf("emit: module %s: func %s: %w", m.Name, fn.Name, err)
		}
	}
	for _, cst := range m.Consts {
		e.emitFinalConst(cst)
	}
	e.emitModuleInit(m)

	var src strings.Builder
	src.WriteString(e.code.String())
	src.WriteString("\n/* === constants === */\n")
	src.WriteString(e.consts.String())
	src.WriteString("\n/* === module init === */\n")
	fmt.Fprintf(&src, "PyObject *PyInit_%s(void) {\n", sanitizeIdent(m.Name))
	src.WriteString(e.initFn.String())
	src.WriteString("}\n")

	return ModuleOutput{
		ModuleName: m.Name,
		Source:     src.String(),
		Prototypes: e.proto.String(),
		Exports:    e.exports,
		ClassCount: len(m.Classes),
		FuncCount:  len(m.Funcs),
	}, nil
}

// --- Functions ---

// emitFunc emits the native function (unboxed-arg-aware, fixed arity,
// returns RetType in its own error convention) and the Python-C-API
// wrapper that unboxes arguments, calls the native function, and boxes
// the result (spec.md §4.8).
func (e *CEmitter) emitFunc(f *ir.FuncIR, m *ir.ModuleIR) error {
	nativeName := nativeSymbol(m.Name, f.Name)
	wrapperName := wrapperSymbol(m.Name, f.Name)

	if f.Flags.IsGenerator && f.GenState != nil {
		e.emitGenFrame(f.GenState)
	}

	var params []string
	for i, a := range f.Args {
		params = append(params, fmt.Sprintf("%s %s", cType(f.Sig.ArgTypes[argTypeIndex(f, i)]), cIdent(a)))
	}
	retC := cType(f.Sig.RetType)

	proto := fmt.Sprintf("%s %s(%s);", retC, nativeName, strings.Join(params, ", "))
	fmt.Fprintln(&e.proto, proto)
	fmt.Fprintf(&e.proto, "PyObject *%s(PyObject *self, PyObject *args);\n", wrapperName)

	fmt.Fprintf(&e.code, "%s %s(%s) {\n", retC, nativeName, strings.Join(params, ", "))
	if err := e.emitBody(f); err != nil {
		return err
	}
	e.code.WriteString("}\n\n")

	e.emitWrapper(f, m, nativeName, wrapperName)
	e.exports = append(e.exports, wrapperName)
	return nil
}

// argTypeIndex guards against a malformed FuncIR where len(Args) and
// len(Sig.ArgTypes) diverge, falling back to the last declared argument
// type.
func argTypeIndex(f *ir.FuncIR, i int) int {
	if i < len(f.Sig.ArgTypes) {
		return i
	}
	return len(f.Sig.ArgTypes) - 1
}

// emitWrapper generates the PyCFunction-ABI trampoline: PyArg_ParseTuple
// into native C locals (unboxing/casting per argument RType), call the
// native function, box the result (or propagate NULL on native error).
func (e *CEmitter) emitWrapper(f *ir.FuncIR, m *ir.ModuleIR, nativeName, wrapperName string) {
	fmt.Fprintf(&e.code, "PyObject *%s(PyObject *self, PyObject *args) {\n", wrapperName)
	for i, a := range f.Args {
		t := f.Sig.ArgTypes[argTypeIndex(f, i)]
		fmt.Fprintf(&e.code, "    %s %s;\n", cType(t), cIdent(a))
	}
	format := ""
	for i := range f.Args {
		format += parseTupleFormat(f.Sig.ArgTypes[argTypeIndex(f, i)])
	}
	fmt.Fprintf(&e.code, "    if (!PyArg_ParseTuple(args, %q", format)
	for _, a := range f.Args {
		fmt.Fprintf(&e.code, ", &%s", cIdent(a))
	}
	e.code.WriteString(")) {\n        return NULL;\n    }\n")

	args := make([]string, len(f.Args))
	for i, a := range f.Args {
		args[i] = cIdent(a)
	}
	if isVoid(f.Sig.RetType) {
		fmt.Fprintf(&e.code, "    %s(%s);\n", nativeName, strings.Join(args, ", "))
		e.code.WriteString("    Py_RETURN_NONE;\n")
	} else {
		fmt.Fprintf(&e.code, "    %s native_result = %s(%s);\n", cType(f.Sig.RetType), nativeName, strings.Join(args, ", "))
		fmt.Fprintf(&e.code, "    if (%s) {\n        return NULL;\n    }\n", errorCheckExpr(f.Sig.RetType, "native_result"))
		fmt.Fprintf(&e.code, "    return %s;\n", boxExpr(f.Sig.RetType, "native_result"))
	}
	e.code.WriteString("}\n\n")
}

// emitBody lowers f's CFG to C: one label per block, op templates in
// order, goto/if-else for Goto/Branch terminators. Each Op's template
// lives in templates.go, dispatched by a type switch — the C analogue
// of the teacher's opcodeName/instArgs dispatch in backend_ir.go.
func (e *CEmitter) emitBody(f *ir.FuncIR) error {
	declared := map[*ir.Register]bool{}
	for _, a := range f.Args {
		declared[a] = true
	}
	for _, b := range f.Blocks {
		for _, op := range b.Ops {
			if d := op.Defines(); d != nil && !declared[d] {
				fmt.Fprintf(&e.code, "    %s %s;\n", cType(d.Type), cIdent(d))
				declared[d] = true
			}
		}
	}
	for _, b := range f.Blocks {
		fmt.Fprintf(&e.code, "%s:;\n", cLabel(b))
		for _, op := range b.Ops {
			stmt, err := e.emitOp(op)
			if err != nil {
				return err
			}
			if stmt != "" {
				e.code.WriteString(stmt)
			}
		}
	}
	return nil
}

// emitGenFrame declares the C struct backing a generator's reified
// frame (spec.md §4.4/§9: "the function's locals become fields of a
// generated RStruct"), once per distinct frame name. Field order
// mirrors RStruct.Fields, which internal/irbuild/generator.go appends
// to in allocation order (the resume state field first, then args,
// then every local in first-spill order).
func (e *CEmitter) emitGenFrame(st *rtype.RStruct) {
	if e.genFrames[st.Name] {
		return
	}
	e.genFrames[st.Name] = true
	fmt.Fprintf(&e.proto, "struct %s {\n", sanitizeIdent(st.Name))
	for _, f := range st.Fields {
		fmt.Fprintf(&e.proto, "    %s %s;\n", cType(f.Type), sanitizeIdent(f.Name))
	}
	fmt.Fprintf(&e.proto, "};\n")
}

// --- Classes ---

// emitClass emits the C struct (PyObject header + attributes in
// declaration order), the type object, and the vtable array (spec.md
// §4.8: "instances do not store the vtable directly; the type object
// stores a pointer to it").
func (e *CEmitter) emitClass(c *ir.ClassIR, m *ir.ModuleIR) {
	structName := classStructName(m.Name, c.Name)
	fmt.Fprintf(&e.proto, "typedef struct {\n    PyObject_HEAD\n")
	for _, attr := range c.Attrs {
		fmt.Fprintf(&e.proto, "    %s %s;\n", cType(attr.Type), sanitizeIdent(attr.Name))
	}
	fmt.Fprintf(&e.proto, "} %s;\n", structName)

	vtName := vtableName(m.Name, c.Name)
	fmt.Fprintf(&e.proto, "extern void *%s[%d];\n", vtName, maxInt(len(c.VTable), 1))
	fmt.Fprintf(&e.code, "void *%s[%d] = {\n", vtName, maxInt(len(c.VTable), 1))
	for _, entry := range c.VTable {
		fmt.Fprintf(&e.code, "    (void *)%s,\n", sanitizeIdent(entry.FuncName))
	}
	if len(c.VTable) == 0 {
		e.code.WriteString("    0,\n")
	}
	e.code.WriteString("};\n\n")

	for _, ts := range c.TraitSlots {
		slotName := fmt.Sprintf("%s_trait_%s_%d", structName, sanitizeIdent(ts.Trait), ts.Slot)
		fmt.Fprintf(&e.code, "void *%s = (void *)%s;\n", slotName, sanitizeIdent(ts.FuncName))
	}

	typeName := typeObjectName(m.Name, c.Name)
	fmt.Fprintf(&e.proto, "extern PyTypeObject %s;\n", typeName)
	fmt.Fprintf(&e.code, "PyTypeObject %s = {\n", typeName)
	fmt.Fprintf(&e.code, "    PyVarObject_HEAD_INIT(NULL, 0)\n")
	fmt.Fprintf(&e.code, "    .tp_name = %q,\n", m.Name+"."+c.Name)
	fmt.Fprintf(&e.code, "    .tp_basicsize = sizeof(%s),\n", structName)
	if c.Base != "" {
		fmt.Fprintf(&e.code, "    .tp_base = &%s,\n", typeObjectName(m.Name, c.Base))
	}
	for _, p := range c.Properties {
		fmt.Fprintf(&e.code, "    /* property %s: getter=%s setter=%s */\n", p.Name, p.Getter, p.Setter)
	}
	e.code.WriteString("};\n\n")
}

func (e *CEmitter) emitFinalConst(cst ir.FinalConst) {
	if cst.IsString {
		sym := e.internString(cst.StrVal)
		fmt.Fprintf(&e.proto, "extern PyObject *%s_%s;\n", sym, sanitizeIdent(cst.Name))
	} else {
		fmt.Fprintf(&e.consts, "static const int64_t %s = %d;\n", sanitizeIdent(cst.Name), cst.IntVal)
	}
}

func (e *CEmitter) emitModuleInit(m *ir.ModuleIR) {
	for _, c := range m.Classes {
		fmt.Fprintf(&e.initFn, "    if (PyType_Ready(&%s) < 0) return NULL;\n", typeObjectName(m.Name, c.Name))
	}
	fmt.Fprintf(&e.initFn, "    PyObject *mod = PyModule_Create(&%s_module);\n", sanitizeIdent(m.Name))
	fmt.Fprintf(&e.initFn, "    if (mod == NULL) return NULL;\n")
	for _, fn := range m.Funcs {
		wrapperName := wrapperSymbol(m.Name, fn.Name)
		fmt.Fprintf(&e.initFn, "    PyModule_AddObject(mod, %q, (PyObject *)%s);\n", fn.Name, wrapperName)
	}
	for _, c := range m.Classes {
		fmt.Fprintf(&e.initFn, "    Py_INCREF(&%s);\n", typeObjectName(m.Name, c.Name))
		fmt.Fprintf(&e.initFn, "    PyModule_AddObject(mod, %q, (PyObject *)&%s);\n", c.Name, typeObjectName(m.Name, c.Name))
	}
	for _, g := range m.Globals {
		fmt.Fprintf(&e.initFn, "    /* global %s : %s initialized lazily on first write */\n", g.Name, g.Type)
	}
	e.initFn.WriteString("    return mod;\n")
}

// internString returns the C symbol for a de-duplicated interned string
// constant, defining it in the constants section on first use (mirrors
// CodeGen.stringMap's dedup-by-content discipline).
func (e *CEmitter) internString(s string) string {
	if sym, ok := e.stringMap[s]; ok {
		return sym
	}
	sym := fmt.Sprintf("const_str_%d", e.nextConst)
	e.nextConst++
	e.stringMap[s] = sym
	fmt.Fprintf(&e.consts, "static PyObject *%s; /* interned: %q, set at module init */\n", sym, s)
	e.stringMap[s] = sym
	return sym
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// --- naming helpers ---

func sanitizeIdent(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
	}
	out := sb.String()
	if out == "" {
		return "_"
	}
	if out[0] >= '0' && out[0] <= '9' {
		return "_" + out
	}
	return out
}

func cIdent(r *ir.Register) string {
	return fmt.Sprintf("r%d_%s", r.ID, sanitizeIdent(r.Name))
}

func cLabel(b *ir.BasicBlock) string { return "label_" + sanitizeIdent(b.Label) }

func nativeSymbol(module, fn string) string {
	return sanitizeIdent(module) + "__" + sanitizeIdent(fn) + "_native"
}

func wrapperSymbol(module, fn string) string {
	return sanitizeIdent(module) + "__" + sanitizeIdent(fn) + "_wrapper"
}

func classStructName(module, class string) string {
	return sanitizeIdent(module) + "__" + sanitizeIdent(class) + "Object"
}

func typeObjectName(module, class string) string {
	return sanitizeIdent(module) + "__" + sanitizeIdent(class) + "_Type"
}

func vtableName(module, class string) string {
	return sanitizeIdent(module) + "__" + sanitizeIdent(class) + "_vtable"
}

func isVoid(t rtype.RType) bool {
	_, ok := t.(*rtype.RVoid)
	return ok || t == nil
}

// sortedKeys returns m's keys in sorted order, for deterministic
// iteration over a map built during emission. Nothing in this package
// calls it at present.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
