package emit

import (
	"encoding/json"
	"os"
	"sort"
)

// ManifestEntry describes one emitted module's artifacts (spec.md §6:
// "a manifest enumerating emitted files, module names, and exported
// symbols"). Grounded on the teacher's size_analysis.go FuncSize table,
// adapted from per-function byte sizes (meaningless for text output) to
// per-module bookkeeping: exported wrapper symbols, class and function
// counts, and the unit's runtime helper dependencies. It does not record
// which emission template produced each declaration.
type ManifestEntry struct {
	Module       string   `json:"module"`
	SourceFile   string   `json:"source_file"`
	Exports      []string `json:"exports"`
	ClassCount   int      `json:"class_count"`
	FuncCount    int      `json:"func_count"`
	RuntimeDeps  []string `json:"runtime_deps"`
}

// Manifest is the unit-level output document: one entry per module plus
// the shared header file name and the runtime-library dependency
// descriptor spec.md §6 requires.
type Manifest struct {
	HeaderFile  string          `json:"header_file"`
	Modules     []ManifestEntry `json:"modules"`
	RuntimeDeps []string        `json:"runtime_deps"`
}

// BuildManifest assembles a Manifest from a set of already-emitted
// ModuleOutputs plus the unit-wide runtime helper names referenced by
// any CallC op across the unit (spec.md §6's "runtime-library dependency
// descriptor naming the helper functions the generated code requires").
func BuildManifest(headerFile string, outputs []ModuleOutput, runtimeDeps []string) Manifest {
	deps := dedupSorted(runtimeDeps)
	entries := make([]ManifestEntry, 0, len(outputs))
	for _, out := range outputs {
		entries = append(entries, ManifestEntry{
			Module:      out.ModuleName,
			SourceFile:  out.ModuleName + ".c",
			Exports:     append([]string(nil), out.Exports...),
			ClassCount:  out.ClassCount,
			FuncCount:   out.FuncCount,
			RuntimeDeps: deps,
		})
	}
	return Manifest{HeaderFile: headerFile, Modules: entries, RuntimeDeps: deps}
}

// WriteManifest serializes m as JSON to path. Uses the standard
// library's encoding/json rather than hand-rolled byte appends (the
// teacher's size_analysis.go approach) — see DESIGN.md's justification:
// no JSON library appears anywhere in the retrieval pack, so the
// idiomatic Go choice is the standard library, not a copy of the
// teacher's workaround for its own self-hosted dialect's missing stdlib.
func WriteManifest(path string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0644)
}

func dedupSorted(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
