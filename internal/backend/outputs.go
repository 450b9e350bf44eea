package backend

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"kiln/internal/builderr"
	"kiln/internal/classfile"
	"kiln/internal/reconcile"
)

// CollectOutputs attributes every file under staging to the source that
// produced it. Class files are matched by their SourceFile attribute and
// package directory, falling back to the outermost class name. Anything
// that matches no source is loose.
func CollectOutputs(staging string, sources []string) (map[string][]string, error) {
	files, err := reconcile.Files(staging)
	if err != nil {
		return nil, err
	}
	bySuffix := newSourceIndex(sources)
	produced := make(map[string][]string, len(files))
	for _, rel := range files {
		if !strings.HasSuffix(rel, ".class") {
			produced[rel] = nil
			continue
		}
		full := filepath.Join(staging, filepath.FromSlash(rel))
		data, err := os.ReadFile(full)
		if err != nil {
			return nil, builderr.IO("read output", full, err)
		}
		cf, err := classfile.Parse(data)
		if err != nil {
			produced[rel] = nil
			continue
		}
		pkgDir := strings.ReplaceAll(cf.Package(), ".", "/")
		if src := bySuffix.find(pkgDir, cf.SourceFile); src != "" {
			produced[rel] = []string{src}
			continue
		}
		if src := bySuffix.find(pkgDir, cf.OuterMost()+".java"); src != "" {
			produced[rel] = []string{src}
			continue
		}
		produced[rel] = nil
	}
	return produced, nil
}

type sourceIndex map[string][]string // base name -> sources, sorted

func newSourceIndex(sources []string) sourceIndex {
	idx := make(sourceIndex)
	for _, s := range sources {
		base := filepath.Base(s)
		idx[base] = append(idx[base], s)
	}
	for _, list := range idx {
		slices.Sort(list)
	}
	return idx
}

// find prefers a source laid out under its package directory; a single
// candidate with the right base name is accepted regardless of layout.
func (idx sourceIndex) find(pkgDir, file string) string {
	if file == "" {
		return ""
	}
	candidates := idx[file]
	want := "/" + file
	if pkgDir != "" {
		want = "/" + pkgDir + want
	}
	for _, c := range candidates {
		if strings.HasSuffix(filepath.ToSlash(c), want) {
			return c
		}
	}
	if len(candidates) == 1 {
		return candidates[0]
	}
	return ""
}
