// Package typeindex tracks per-type structural signatures and dependency
// edges, and computes rebuild closures over them.
package typeindex

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"kiln/internal/project"
)

// EdgeKind classifies a dependency edge.
type EdgeKind uint8

const (
	// EdgeBody: the dependent only uses the target inside method bodies or
	// private members.
	EdgeBody EdgeKind = iota + 1
	// EdgeStructural: the target appears in the dependent's own shape.
	EdgeStructural
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeBody:
		return "body"
	case EdgeStructural:
		return "structural"
	}
	return "unknown"
}

// Type is the record of one compiled type.
type Type struct {
	Name      string              `msgpack:"name"`
	Owner     string              `msgpack:"owner"`
	Signature project.Digest      `msgpack:"sig"`
	Edges     map[string]EdgeKind `msgpack:"edges"`
}

// DuplicateError reports a type declared by more than one source.
type DuplicateError struct {
	Type   string
	Owners []string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate type %s declared in %s", e.Type, strings.Join(e.Owners, " and "))
}

// Delta describes what replacing a batch of owners did to the index.
type Delta struct {
	Added     []string
	Removed   []string
	Changed   []string
	Unchanged []string
}

// Moved returns the names whose presence or signature changed.
func (d Delta) Moved() []string {
	out := make([]string, 0, len(d.Added)+len(d.Removed)+len(d.Changed))
	out = append(out, d.Added...)
	out = append(out, d.Removed...)
	out = append(out, d.Changed...)
	slices.Sort(out)
	return out
}

// Index is not safe for concurrent mutation; a build owns its index.
type Index struct {
	types   map[string]*Type
	owners  map[string][]string
	reverse map[string]map[string]EdgeKind // target -> dependent -> kind
}

func New() *Index {
	return &Index{
		types:   make(map[string]*Type),
		owners:  make(map[string][]string),
		reverse: make(map[string]map[string]EdgeKind),
	}
}

// FromRecords rebuilds an index from persisted records.
func FromRecords(records []Type) (*Index, error) {
	ix := New()
	for i := range records {
		t := records[i]
		if prev, ok := ix.types[t.Name]; ok {
			return nil, &DuplicateError{Type: t.Name, Owners: []string{prev.Owner, t.Owner}}
		}
		ix.insert(t)
	}
	return ix, nil
}

// Records returns every record sorted by name, for persistence.
func (ix *Index) Records() []Type {
	out := make([]Type, 0, len(ix.types))
	for _, name := range slices.Sorted(maps.Keys(ix.types)) {
		out = append(out, *ix.types[name])
	}
	return out
}

func (ix *Index) Len() int { return len(ix.types) }

func (ix *Index) Lookup(name string) (Type, bool) {
	t, ok := ix.types[name]
	if !ok {
		return Type{}, false
	}
	return *t, true
}

// TypesOf lists the types owned by owner, sorted.
func (ix *Index) TypesOf(owner string) []string {
	return slices.Clone(ix.owners[owner])
}

// Owners lists every owner with at least one type, sorted.
func (ix *Index) Owners() []string {
	return slices.Sorted(maps.Keys(ix.owners))
}

// OwnersOf maps type names to their owning inputs. Unknown (external) names
// are skipped.
func (ix *Index) OwnersOf(names []string) []string {
	set := make(map[string]struct{})
	for _, n := range names {
		if t, ok := ix.types[n]; ok {
			set[t.Owner] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(set))
}

// RecordType adds a single type. It fails if another owner declares it.
func (ix *Index) RecordType(t Type) error {
	if prev, ok := ix.types[t.Name]; ok {
		if prev.Owner != t.Owner {
			return &DuplicateError{Type: t.Name, Owners: sortedPair(prev.Owner, t.Owner)}
		}
		ix.remove(t.Name)
	}
	ix.insert(t)
	return nil
}

// RemoveOwner drops every type owned by owner and returns them.
func (ix *Index) RemoveOwner(owner string) []Type {
	names := ix.owners[owner]
	out := make([]Type, 0, len(names))
	for _, name := range slices.Clone(names) {
		out = append(out, *ix.types[name])
		ix.remove(name)
	}
	return out
}

// Apply replaces, wholesale, the types of every owner in batch. Owners are
// removed first so a type may move between two owners of the same batch.
// On a duplicate the index is left as it was.
func (ix *Index) Apply(batch map[string][]Type) (Delta, error) {
	previous := make(map[string]Type)
	removed := make(map[string][]Type, len(batch))
	for owner := range batch {
		for _, t := range ix.RemoveOwner(owner) {
			previous[t.Name] = t
			removed[owner] = append(removed[owner], t)
		}
	}

	var (
		delta    Delta
		inserted []string
		dupErr   error
	)
	for _, owner := range slices.Sorted(maps.Keys(batch)) {
		for _, t := range batch[owner] {
			t.Owner = owner
			if other, ok := ix.types[t.Name]; ok {
				dupErr = &DuplicateError{Type: t.Name, Owners: sortedPair(other.Owner, owner)}
				break
			}
			ix.insert(t)
			inserted = append(inserted, t.Name)
			switch old, ok := previous[t.Name]; {
			case !ok:
				delta.Added = append(delta.Added, t.Name)
			case old.Signature != t.Signature:
				delta.Changed = append(delta.Changed, t.Name)
			default:
				delta.Unchanged = append(delta.Unchanged, t.Name)
			}
		}
		if dupErr != nil {
			break
		}
	}
	if dupErr != nil {
		for _, name := range inserted {
			ix.remove(name)
		}
		for _, types := range removed {
			for _, t := range types {
				ix.insert(t)
			}
		}
		return Delta{}, dupErr
	}

	for name := range previous {
		if _, ok := ix.types[name]; !ok {
			delta.Removed = append(delta.Removed, name)
		}
	}
	slices.Sort(delta.Added)
	slices.Sort(delta.Removed)
	slices.Sort(delta.Changed)
	slices.Sort(delta.Unchanged)
	return delta, nil
}

// Closure returns every type that depends on a seed: dependents through
// structural edges are followed transitively, dependents through body-only
// edges are included but not expanded. Seeds are part of the result only
// when reached from another seed. Cycles terminate through the visited set.
func (ix *Index) Closure(seeds []string) []string {
	result := make(map[string]struct{})
	expanded := make(map[string]struct{}, len(seeds))
	queue := make([]string, 0, len(seeds))
	for _, s := range seeds {
		if _, ok := expanded[s]; ok {
			continue
		}
		expanded[s] = struct{}{}
		queue = append(queue, s)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for from, kind := range ix.reverse[cur] {
			result[from] = struct{}{}
			if kind != EdgeStructural {
				continue
			}
			if _, done := expanded[from]; done {
				continue
			}
			expanded[from] = struct{}{}
			queue = append(queue, from)
		}
	}
	return slices.Sorted(maps.Keys(result))
}

func (ix *Index) insert(t Type) {
	rec := t
	ix.types[t.Name] = &rec
	names := append(ix.owners[t.Owner], t.Name)
	slices.Sort(names)
	ix.owners[t.Owner] = names
	for to, kind := range t.Edges {
		deps := ix.reverse[to]
		if deps == nil {
			deps = make(map[string]EdgeKind)
			ix.reverse[to] = deps
		}
		deps[t.Name] = kind
	}
}

func (ix *Index) remove(name string) {
	t, ok := ix.types[name]
	if !ok {
		return
	}
	delete(ix.types, name)
	names := slices.DeleteFunc(ix.owners[t.Owner], func(n string) bool { return n == name })
	if len(names) == 0 {
		delete(ix.owners, t.Owner)
	} else {
		ix.owners[t.Owner] = names
	}
	for to := range t.Edges {
		if deps := ix.reverse[to]; deps != nil {
			delete(deps, name)
			if len(deps) == 0 {
				delete(ix.reverse, to)
			}
		}
	}
}

func sortedPair(a, b string) []string {
	if b < a {
		a, b = b, a
	}
	return []string{a, b}
}
