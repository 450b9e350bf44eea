// Package reconcile keeps the output directory and the output ownership
// table consistent with what the last compile rounds produced.
package reconcile

import (
	"bytes"
	"errors"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"kiln/internal/builderr"
	"kiln/internal/buildstate"
)

// Changes summarizes what reconciliation did to the output directory.
// Paths are slash-separated and relative to the output directory.
type Changes struct {
	Added     []string
	Updated   []string
	Unchanged []string
	Deleted   []string
}

func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Deleted) == 0
}

func (c *Changes) merge(o Changes) {
	c.Added = append(c.Added, o.Added...)
	c.Updated = append(c.Updated, o.Updated...)
	c.Unchanged = append(c.Unchanged, o.Unchanged...)
	c.Deleted = append(c.Deleted, o.Deleted...)
}

func (c *Changes) sort() {
	slices.Sort(c.Added)
	slices.Sort(c.Updated)
	slices.Sort(c.Unchanged)
	slices.Sort(c.Deleted)
}

// Reconciler owns a working copy of the output table of one build.
type Reconciler struct {
	outputDir string
	outputs   map[string]buildstate.Output
	total     Changes
}

// New starts from outputs, which the reconciler takes over.
func New(outputDir string, outputs map[string]buildstate.Output) *Reconciler {
	if outputs == nil {
		outputs = make(map[string]buildstate.Output)
	}
	return &Reconciler{outputDir: outputDir, outputs: outputs}
}

// Outputs is the table to commit.
func (r *Reconciler) Outputs() map[string]buildstate.Output { return r.outputs }

// Total accumulates every change made through this reconciler.
func (r *Reconciler) Total() Changes {
	out := r.total
	out.sort()
	return out
}

// Remove detaches inputs from their outputs and deletes every output left
// without an owner. Outputs shared with other inputs survive.
func (r *Reconciler) Remove(inputs []string) (Changes, error) {
	gone := toSet(inputs)
	var ch Changes
	for _, rel := range slices.Sorted(maps.Keys(r.outputs)) {
		out := r.outputs[rel]
		if out.Loose {
			continue
		}
		kept := slices.DeleteFunc(slices.Clone(out.Inputs), func(in string) bool {
			_, ok := gone[in]
			return ok
		})
		if len(kept) == len(out.Inputs) {
			continue
		}
		if len(kept) > 0 {
			r.outputs[rel] = buildstate.Output{Inputs: kept}
			continue
		}
		if err := r.delete(rel); err != nil {
			return ch, err
		}
		ch.Deleted = append(ch.Deleted, rel)
	}
	r.total.merge(ch)
	return ch, nil
}

// Install moves the files produced by one round from staging into the
// output directory and updates ownership. produced maps a staging-relative
// path to its owning inputs; an empty owner list makes the output loose.
// Previous outputs of a recompiled input that the round did not produce
// again are deleted. With full set, loose outputs not produced again are
// deleted too; otherwise they are kept.
func (r *Reconciler) Install(staging string, recompiled []string, produced map[string][]string, full bool) (Changes, error) {
	var ch Changes
	redone := toSet(recompiled)

	// старые владельцы перекомпилированных входов отвязываются
	orphaned := make(map[string]struct{})
	for rel, out := range r.outputs {
		if out.Loose {
			if full {
				orphaned[rel] = struct{}{}
			}
			continue
		}
		kept := slices.DeleteFunc(slices.Clone(out.Inputs), func(in string) bool {
			_, ok := redone[in]
			return ok
		})
		if len(kept) == len(out.Inputs) {
			continue
		}
		if len(kept) == 0 {
			orphaned[rel] = struct{}{}
		}
		r.outputs[rel] = buildstate.Output{Inputs: kept}
	}

	for _, rel := range slices.Sorted(maps.Keys(produced)) {
		delete(orphaned, rel)
		_, existed := r.outputs[rel]
		same, err := r.move(staging, rel)
		if err != nil {
			return ch, err
		}
		switch {
		case same:
			ch.Unchanged = append(ch.Unchanged, rel)
		case existed:
			ch.Updated = append(ch.Updated, rel)
		default:
			ch.Added = append(ch.Added, rel)
		}

		owners := produced[rel]
		prev := r.outputs[rel]
		if len(owners) == 0 && (len(prev.Inputs) == 0 || prev.Loose) {
			r.outputs[rel] = buildstate.Output{Loose: true}
			continue
		}
		merged := slices.Clone(prev.Inputs)
		for _, o := range owners {
			if !slices.Contains(merged, o) {
				merged = append(merged, o)
			}
		}
		slices.Sort(merged)
		r.outputs[rel] = buildstate.Output{Inputs: merged}
	}

	for _, rel := range slices.Sorted(maps.Keys(orphaned)) {
		if err := r.delete(rel); err != nil {
			return ch, err
		}
		ch.Deleted = append(ch.Deleted, rel)
	}
	ch.sort()
	r.total.merge(ch)
	return ch, nil
}

// KeepLoose marks every loose output still present on disk as up to date
// and forgets the ones that disappeared. It runs on every build, including
// skipped ones, so loose outputs are never collected as unreferenced.
func (r *Reconciler) KeepLoose() (kept int, err error) {
	for _, rel := range slices.Sorted(maps.Keys(r.outputs)) {
		if !r.outputs[rel].Loose {
			continue
		}
		_, statErr := os.Stat(r.abs(rel))
		switch {
		case statErr == nil:
			kept++
		case errors.Is(statErr, fs.ErrNotExist):
			delete(r.outputs, rel)
		default:
			return kept, builderr.IO("stat output", r.abs(rel), statErr)
		}
	}
	return kept, nil
}

func (r *Reconciler) abs(rel string) string {
	return filepath.Join(r.outputDir, filepath.FromSlash(rel))
}

func (r *Reconciler) delete(rel string) error {
	delete(r.outputs, rel)
	path := r.abs(rel)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return builderr.IO("delete output", path, err)
	}
	r.prune(filepath.Dir(path))
	return nil
}

// prune removes now-empty package directories up to the output root.
func (r *Reconciler) prune(dir string) {
	root := filepath.Clean(r.outputDir)
	for dir != root && len(dir) > len(root) {
		if os.Remove(dir) != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// move installs staging/rel over the output; identical content leaves the
// existing file untouched.
func (r *Reconciler) move(staging, rel string) (same bool, err error) {
	src := filepath.Join(staging, filepath.FromSlash(rel))
	dst := r.abs(rel)
	fresh, err := os.ReadFile(src)
	if err != nil {
		return false, builderr.IO("read staged output", src, err)
	}
	if old, err := os.ReadFile(dst); err == nil && bytes.Equal(old, fresh) {
		_ = os.Remove(src)
		return true, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return false, builderr.IO("create output dir", filepath.Dir(dst), err)
	}
	if err := os.Rename(src, dst); err != nil {
		// другой том: копируем
		if werr := os.WriteFile(dst, fresh, 0o644); werr != nil {
			return false, builderr.IO("install output", dst, werr)
		}
	}
	return false, nil
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}
