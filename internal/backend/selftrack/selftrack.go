// Package selftrack is the backend that keeps its own per-type dependency
// graph and enforces export-package access rules on what it compiles.
package selftrack

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"kiln/internal/backend"
	"kiln/internal/builderr"
	"kiln/internal/classfile"
	"kiln/internal/diag"
	"kiln/internal/typeindex"
)

// GraphFile is the graph's name under the output state directory.
const GraphFile = "selftrack.graph"

const graphSchema uint16 = 1

type graphFile struct {
	Schema uint16           `msgpack:"schema"`
	Types  []typeindex.Type `msgpack:"types"`
}

// Compiler wraps the compiler that produces class files and records types
// from them itself.
type Compiler struct {
	inner     backend.Compiler
	graphPath string
}

var _ backend.Tracker = (*Compiler)(nil)

func New(inner backend.Compiler, outputDir string) *Compiler {
	return &Compiler{inner: inner, graphPath: backend.StatePath(outputDir, GraphFile)}
}

// LoadIndex reads the graph; a missing or outdated file yields an empty
// graph, which makes the next build a full one.
func (c *Compiler) LoadIndex() (*typeindex.Index, error) {
	data, err := os.ReadFile(c.graphPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return typeindex.New(), nil
		}
		return nil, builderr.IO("read graph", c.graphPath, err)
	}
	var g graphFile
	if err := msgpack.Unmarshal(data, &g); err != nil || g.Schema != graphSchema {
		return typeindex.New(), nil
	}
	return typeindex.FromRecords(g.Types)
}

// SaveIndex replaces the graph atomically.
func (c *Compiler) SaveIndex(ix *typeindex.Index) error {
	data, err := msgpack.Marshal(&graphFile{Schema: graphSchema, Types: ix.Records()})
	if err != nil {
		return fmt.Errorf("encode graph: %w", err)
	}
	dir := filepath.Dir(c.graphPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return builderr.IO("create graph dir", dir, err)
	}
	f, err := os.CreateTemp(dir, "graph-*")
	if err != nil {
		return builderr.IO("write graph", dir, err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return builderr.IO("write graph", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return builderr.IO("write graph", tmp, err)
	}
	if err := os.Rename(tmp, c.graphPath); err != nil {
		_ = os.Remove(tmp)
		return builderr.IO("commit graph", c.graphPath, err)
	}
	return nil
}

// Compile runs the inner compiler, derives type records from its class
// files and, with access rules set to error, rejects references the
// export-package rules forbid.
func (c *Compiler) Compile(ctx context.Context, inv backend.Invocation) (backend.Result, error) {
	res, err := c.inner.Compile(ctx, inv)
	if err != nil {
		return res, err
	}
	res.Types = make(map[string][]typeindex.Type)
	for _, rel := range slices.Sorted(maps.Keys(res.Produced)) {
		owners := res.Produced[rel]
		if len(owners) == 0 || !strings.HasSuffix(rel, ".class") {
			continue
		}
		full := filepath.Join(inv.Staging, filepath.FromSlash(rel))
		data, err := os.ReadFile(full)
		if err != nil {
			return backend.Result{}, builderr.IO("read output", full, err)
		}
		cf, err := classfile.Parse(data)
		if err != nil {
			res.Diagnostics = append(res.Diagnostics, diag.NewError(diag.CompilerMessage,
				diag.Location{Resource: owners[0]}, fmt.Sprintf("unreadable class file %s: %v", rel, err)))
			continue
		}
		owner := owners[0]
		res.Types[owner] = append(res.Types[owner], typeindex.FromClass(cf, owner))
		if inv.Config.AccessRules == backend.AccessError && inv.Access != nil {
			res.Diagnostics = append(res.Diagnostics, c.checkAccess(cf, owner, inv)...)
		}
	}
	for _, owner := range inv.Sources {
		if _, ok := res.Types[owner]; !ok {
			res.Types[owner] = nil
		}
	}
	return res, nil
}

func (c *Compiler) checkAccess(cf *classfile.ClassFile, owner string, inv backend.Invocation) []diag.Diagnostic {
	structural, body := cf.References()
	refs := append(structural, body...)
	slices.Sort(refs)
	var out []diag.Diagnostic
	for _, ref := range refs {
		v, bad := inv.Access.Check(ref)
		if !bad {
			continue
		}
		out = append(out, diag.NewError(diag.CompilerAccessRestriction,
			diag.Location{Resource: owner}, v.Message()))
	}
	return out
}
