// Command mypycgo is the compiler driver: it reads one JSON document
// per module (the front-end collaborator's typed AST + type map +
// symbol table, spec.md §6), resolves them into a compilation unit,
// runs the declaration pass, the body pass, the three mandatory
// transform passes in order, dead-function elimination, and the C
// emitter, then writes one .c file per module plus a shared header and
// manifest.
//
// Grounded on the teacher's main.go pipeline shape (ResolveModule ->
// ValidateModule -> CompileModule -> eliminateDeadFunctions ->
// GenerateELF -> writeSizeAnalysis) and its -debug stderr tracing,
// generalized from flat fmt.Fprintf calls to a urfave/cli/v2 flag set
// and a diag.Sink trace stream.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/mypyc-go/pyc/internal/diag"
	"github.com/mypyc-go/pyc/internal/emit"
	"github.com/mypyc-go/pyc/internal/ir"
	"github.com/mypyc-go/pyc/internal/irbuild"
	"github.com/mypyc-go/pyc/internal/passes/exception"
	"github.com/mypyc-go/pyc/internal/passes/refcount"
	"github.com/mypyc-go/pyc/internal/passes/uninit"
	"github.com/mypyc-go/pyc/internal/past"
	"github.com/mypyc-go/pyc/internal/registry"
	"github.com/mypyc-go/pyc/internal/unit"
)

func main() {
	app := &cli.App{
		Name:  "mypycgo",
		Usage: "compile a typed Python-dialect unit to native C",
		Commands: []*cli.Command{
			compileCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "mypycgo:", err)
		os.Exit(1)
	}
}

func compileCommand() *cli.Command {
	return &cli.Command{
		Name:      "compile",
		Usage:     "compile a directory of module JSON documents into a unit's C sources",
		ArgsUsage: "<module.json> [module2.json ...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Value: "build", Usage: "output directory for generated C sources and manifest"},
			&cli.BoolFlag{Name: "debug", Usage: "trace each pipeline stage to stderr"},
			&cli.BoolFlag{Name: "dump-ir", Usage: "print each function's IR after every transform pass"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.Exit("no module JSON documents given", 1)
			}
			return runCompile(c.Args().Slice(), c.String("out"), c.Bool("debug"), c.Bool("dump-ir"))
		},
	}
}

func newLogger(debug bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if debug {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.WarnLevel)
	}
	return log
}

func runCompile(paths []string, outDir string, debug, dumpIR bool) error {
	log := newLogger(debug)
	sink := diag.NewSink(log)

	var sources []unit.ModuleSource
	decoded := map[string]decodedModule{}
	types := past.TypeMap{}

	for _, path := range paths {
		doc, err := loadModuleDoc(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		dm, err := decodeModule(doc)
		if err != nil {
			return fmt.Errorf("decoding %s: %w", path, err)
		}
		decoded[dm.Name] = dm
		sources = append(sources, unit.ModuleSource{Name: dm.Name, Imports: dm.Imports, Top: dm.Top})
		for n, t := range dm.Types {
			types[n] = t
		}
	}

	sink.Trace("resolve", "*", "")
	u, ok := unit.Resolve(sources, types, sink)
	if !ok {
		return reportAndExit(sink)
	}

	sink.Trace("validate", "*", "")
	if !unit.Validate(u, sink) {
		return reportAndExit(sink)
	}

	reg := registry.Default()
	modules := map[string]*ir.ModuleIR{}
	for _, name := range u.Order {
		dt := u.Decls[name]
		src := decoded[name]

		sink.Trace("build", name, "")
		b := irbuild.New(dt, reg, types)
		var funcs []*ir.FuncIR
		for _, call := range qualifiedFuncNodes(src.Top) {
			f, handlers, errs := b.BuildFunc(call.qualName, call.node)
			for _, err := range errs {
				sink.Report(diag.Diagnostic{
					Category: diag.UnsupportedConstruct,
					Severity: diag.FatalToFunction,
					Module:   name,
					Function: call.qualName,
					Message:  err.Error(),
				})
				continue
			}
			runPasses(f, handlers, sink, name, dumpIR)
			f.Finalize()
			funcs = append(funcs, f)
		}

		classes := make([]*ir.ClassIR, 0, len(dt.Classes))
		for _, cls := range dt.Classes {
			classes = append(classes, cls)
		}
		sort.Slice(classes, func(i, j int) bool { return classes[i].Name < classes[j].Name })

		modules[name] = &ir.ModuleIR{Name: name, Funcs: funcs, Classes: classes}
	}

	sink.Trace("dce", "*", "")
	unit.EliminateDead(modules)

	if sink.FatalToUnit() {
		return reportAndExit(sink)
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}

	var emitted []emit.ModuleOutput
	var runtimeDeps []string
	var headerBody string

	cfg := emit.DefaultConfig()
	for _, name := range u.Order {
		sink.Trace("emit", name, "")
		out, err := emit.EmitModule(cfg, modules[name])
		if err != nil {
			sink.Report(diag.Diagnostic{
				Category: diag.InternalInvariantFailure,
				Severity: diag.FatalToUnit,
				Module:   name,
				Message:  err.Error(),
			})
			continue
		}
		emitted = append(emitted, out)
		headerBody += out.Prototypes
		runtimeDeps = append(runtimeDeps, collectRuntimeDeps(modules[name])...)

		if err := os.WriteFile(filepath.Join(outDir, name+".c"), []byte(out.Source), 0644); err != nil {
			return err
		}
	}
	if sink.FatalToUnit() {
		return reportAndExit(sink)
	}

	headerPath := "unit.h"
	if err := os.WriteFile(filepath.Join(outDir, headerPath), []byte(headerBody), 0644); err != nil {
		return err
	}

	manifest := emit.BuildManifest(headerPath, emitted, runtimeDeps)
	if err := emit.WriteManifest(filepath.Join(outDir, "manifest.json"), manifest); err != nil {
		return err
	}

	for _, d := range sink.Diagnostics() {
		fmt.Fprintln(os.Stderr, d.String())
	}
	fmt.Printf("mypycgo: wrote %d module(s) to %s (unit %s)\n", len(emitted), outDir, u.ID)
	return nil
}

func runPasses(f *ir.FuncIR, handlers exception.HandlerMap, sink *diag.Sink, module string, dumpIR bool) {
	uninit.Run(f)
	if dumpIR {
		fmt.Fprintln(os.Stderr, ir.DumpForBugReport(f))
	}
	exception.Run(f, handlers)
	if dumpIR {
		fmt.Fprintln(os.Stderr, ir.DumpForBugReport(f))
	}
	refcount.Run(f)
	if dumpIR {
		fmt.Fprintln(os.Stderr, ir.DumpForBugReport(f))
	}
}

func collectRuntimeDeps(m *ir.ModuleIR) []string {
	var deps []string
	for _, f := range m.Funcs {
		for _, op := range f.AllOps() {
			if c, ok := op.(*ir.CallC); ok {
				deps = append(deps, c.CFunc)
			}
		}
	}
	return deps
}

func reportAndExit(sink *diag.Sink) error {
	for _, d := range sink.Diagnostics() {
		fmt.Fprintln(os.Stderr, d.String())
	}
	return cli.Exit("compilation failed", 1)
}

// funcToBuild pairs a FuncDef/method node with the qualified name its
// DeclTable entry was registered under (irbuild/decl.go's convention:
// bare name for a top-level function, "Class.method" for a method).
type funcToBuild struct {
	qualName string
	node     *past.Node
}

// qualifiedFuncNodes re-derives each function node's qualified name by
// walking top the same way irbuild.Declare's declaration pass did,
// since DeclTable.FuncNodes itself keeps only the bare node pointers.
func qualifiedFuncNodes(top []*past.Node) []funcToBuild {
	var out []funcToBuild
	for _, n := range top {
		switch n.Kind {
		case past.NFuncDef:
			out = append(out, funcToBuild{qualName: n.Name, node: n})
		case past.NClassDef:
			if n.Body == nil {
				continue
			}
			for _, member := range n.Body.Nodes {
				if member.Kind == past.NFuncDef {
					out = append(out, funcToBuild{qualName: n.Name + "." + member.Name, node: member})
				}
			}
		}
	}
	return out
}
