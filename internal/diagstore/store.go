// Package diagstore keeps compiler messages per resource across builds.
// Messages of a recompiled resource are replaced, messages of an unmodified
// resource are carried over, and messages of a deleted resource are dropped.
package diagstore

import (
	"maps"
	"slices"

	"kiln/internal/diag"
)

type Store struct {
	byResource map[string][]diag.Diagnostic
}

func New() *Store {
	return &Store{byResource: make(map[string][]diag.Diagnostic)}
}

// FromMap wraps a persisted table. The map is copied.
func FromMap(m map[string][]diag.Diagnostic) *Store {
	s := New()
	for k, v := range m {
		if len(v) > 0 {
			s.byResource[k] = slices.Clone(v)
		}
	}
	return s
}

// Replace sets the messages of resource; an empty list clears it.
// Every item is relocated to resource.
func (s *Store) Replace(resource string, items []diag.Diagnostic) {
	if len(items) == 0 {
		delete(s.byResource, resource)
		return
	}
	out := make([]diag.Diagnostic, 0, len(items))
	for _, d := range items {
		out = append(out, d.At(resource))
	}
	diag.SortItems(out)
	s.byResource[resource] = out
}

func (s *Store) Remove(resource string) {
	delete(s.byResource, resource)
}

// Retain drops every resource keep rejects. It is how a build carries over
// messages of resources that still exist and were not recompiled.
func (s *Store) Retain(keep func(resource string) bool) {
	maps.DeleteFunc(s.byResource, func(resource string, _ []diag.Diagnostic) bool {
		return !keep(resource)
	})
}

func (s *Store) Get(resource string) []diag.Diagnostic {
	return slices.Clone(s.byResource[resource])
}

func (s *Store) Resources() []string {
	return slices.Sorted(maps.Keys(s.byResource))
}

// All returns every message, sorted by location.
func (s *Store) All() []diag.Diagnostic {
	var out []diag.Diagnostic
	for _, r := range s.Resources() {
		out = append(out, s.byResource[r]...)
	}
	diag.SortItems(out)
	return out
}

func (s *Store) ErrorCount() int {
	n := 0
	for _, items := range s.byResource {
		n += diag.CountSeverity(items, diag.SevError)
	}
	return n
}

// Map returns a copy suitable for persistence.
func (s *Store) Map() map[string][]diag.Diagnostic {
	out := make(map[string][]diag.Diagnostic, len(s.byResource))
	for k, v := range s.byResource {
		out[k] = slices.Clone(v)
	}
	return out
}
