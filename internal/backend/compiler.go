package backend

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"kiln/internal/cpcache"
	"kiln/internal/diag"
	"kiln/internal/typeindex"
)

// Invocation is one compile round.
type Invocation struct {
	Config Config
	// Staging receives the class files of this round.
	Staging string
	// Classpath is ordered: the module output directory first, then the
	// configured entries. Staging is prepended by Args.
	Classpath []string
	// Sources are absolute paths, sorted.
	Sources []string
	// Access resolves references for export-package rules. Only the
	// self-tracking backend consults it.
	Access *cpcache.Classpath
}

// Args renders the full javac argument list except the source files.
func (inv Invocation) Args() []string {
	cp := append([]string{inv.Staging}, inv.Classpath...)
	args := []string{
		"-d", inv.Staging,
		"-classpath", strings.Join(cp, string(os.PathListSeparator)),
		"-sourcepath", "",
	}
	return append(args, inv.Config.Options()...)
}

// Result is what a backend reports for one round.
type Result struct {
	// Produced maps staging-relative outputs to their owning inputs; an
	// empty owner list marks a loose output.
	Produced map[string][]string
	// Diagnostics keep the resource the compiler reported; an empty
	// resource means no specific source.
	Diagnostics []diag.Diagnostic
	// Types is filled by backends that track types themselves, keyed by
	// owning input. Nil means the driver derives records from Produced.
	Types map[string][]typeindex.Type
}

func (r Result) ErrorCount() int {
	return diag.CountSeverity(r.Diagnostics, diag.SevError)
}

// Compiler compiles one round. Implementations must be safe for use by
// concurrent module builds.
type Compiler interface {
	Compile(ctx context.Context, inv Invocation) (Result, error)
}

// Tracker is a Compiler that keeps its own persisted type graph in place
// of the index stored in the build state.
type Tracker interface {
	Compiler
	LoadIndex() (*typeindex.Index, error)
	SaveIndex(ix *typeindex.Index) error
}

// StatePath is where backends keep private files for an output directory.
func StatePath(outputDir, name string) string {
	return filepath.Join(outputDir, ".kiln", name)
}
