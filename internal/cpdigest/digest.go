// Package cpdigest classifies classpath changes between builds as none,
// non-structural or structural, and names the external types whose shape
// moved.
package cpdigest

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"kiln/internal/cpcache"
	"kiln/internal/project"
	"kiln/internal/trace"
)

// Record is the persisted state of one classpath entry.
type Record struct {
	Kind        string                    `msgpack:"kind"`
	Readable    bool                      `msgpack:"readable"`
	Fingerprint project.Digest            `msgpack:"fp"`
	API         project.Digest            `msgpack:"api"`
	Types       map[string]project.Digest `msgpack:"types"`
}

// Table is the persisted classpath fingerprint table.
type Table struct {
	Order   []string          `msgpack:"order"`
	Entries map[string]Record `msgpack:"entries"`
}

// Result describes how the classpath moved since the previous table.
type Result struct {
	Changed    bool
	Structural bool
	// FullRebuild is set when the change cannot be narrowed to types: an
	// entry became unreadable, appeared missing, or the order changed.
	FullRebuild bool
	// ChangedTypes are binary names whose shape changed, appeared or
	// disappeared, sorted.
	ChangedTypes []string
	Unreadable   []string
	Table        Table
}

// Digest fingerprints entries in order against prev. It returns an error
// only for cancellation; unreadable entries are reported in the Result.
func Digest(ctx context.Context, entries []*cpcache.Entry, prev Table) (Result, error) {
	res := Result{Table: Table{Entries: make(map[string]Record, len(entries))}}
	changed := make(map[string]struct{})
	addTypes := func(types map[string]project.Digest) {
		for name := range types {
			changed[name] = struct{}{}
		}
	}
	unreadable := func(path string, rec Record, err error) {
		res.Changed, res.Structural, res.FullRebuild = true, true, true
		res.Unreadable = append(res.Unreadable, path)
		res.Table.Entries[path] = rec
		trace.Note(ctx, trace.ScopeUnit, "classpath:unreadable", fmt.Sprintf("%s: %v", path, err), nil)
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		res.Table.Order = append(res.Table.Order, e.Path)
		old, had := prev.Entries[e.Path]

		if e.Missing() {
			rec := Record{Kind: e.Kind.String()}
			switch {
			case had && !old.Readable:
				// отсутствовал и раньше: изменений нет, но предупреждаем снова
				res.Unreadable = append(res.Unreadable, e.Path)
				res.Table.Entries[e.Path] = rec
			case had:
				res.Changed, res.Structural = true, true
				res.Unreadable = append(res.Unreadable, e.Path)
				addTypes(old.Types)
				res.Table.Entries[e.Path] = rec
			default:
				unreadable(e.Path, rec, e.Err)
			}
			continue
		}

		fp, err := e.Fingerprint()
		if err != nil {
			unreadable(e.Path, Record{Kind: e.Kind.String()}, err)
			continue
		}
		if had && old.Readable && old.Fingerprint == fp {
			res.Table.Entries[e.Path] = old
			continue
		}
		res.Changed = true

		api, err := e.API()
		if err != nil {
			unreadable(e.Path, Record{Kind: e.Kind.String(), Fingerprint: fp}, err)
			continue
		}
		rec := Record{
			Kind:        e.Kind.String(),
			Readable:    true,
			Fingerprint: fp,
			API:         api.Digest,
			Types:       api.Types,
		}
		res.Table.Entries[e.Path] = rec

		structural := !had || !old.Readable || old.API != api.Digest
		switch {
		case !had || !old.Readable:
			addTypes(api.Types)
		case old.API != api.Digest:
			diff := diffTypes(old.Types, api.Types)
			if len(diff) == 0 {
				// поменялся только список экспортов
				addTypes(api.Types)
			}
			for _, name := range diff {
				changed[name] = struct{}{}
			}
		}
		res.Structural = res.Structural || structural
		trace.Note(ctx, trace.ScopeUnit, "classpath:changed", e.Path,
			map[string]string{"structural": fmt.Sprint(structural)})
	}

	for path, old := range prev.Entries {
		if _, still := res.Table.Entries[path]; still {
			continue
		}
		res.Changed = true
		if old.Readable {
			res.Structural = true
			addTypes(old.Types)
		}
	}

	if len(prev.Order) > 0 && !res.FullRebuild && sameSet(prev.Order, res.Table.Order) && !slices.Equal(prev.Order, res.Table.Order) {
		res.Changed, res.Structural, res.FullRebuild = true, true, true
	}

	res.ChangedTypes = slices.Sorted(maps.Keys(changed))
	return res, nil
}

func diffTypes(before, after map[string]project.Digest) []string {
	var out []string
	for name, d := range after {
		if old, ok := before[name]; !ok || old != d {
			out = append(out, name)
		}
	}
	for name := range before {
		if _, ok := after[name]; !ok {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	return slices.Equal(slices.Sorted(slices.Values(a)), slices.Sorted(slices.Values(b)))
}
