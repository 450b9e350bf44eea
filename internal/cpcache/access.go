package cpcache

import (
	"fmt"

	"kiln/internal/classfile"
)

// Classpath is an ordered view over cached entries for one module build.
// Direct marks entries the module declared itself; the rest arrived
// transitively.
type Classpath struct {
	Entries []*Entry
	direct  map[string]bool
}

// NewClasspath resolves paths through c. direct lists the paths declared by
// the module; nil means every entry is direct.
func NewClasspath(c *Cache, paths, direct []string) *Classpath {
	cp := &Classpath{Entries: make([]*Entry, 0, len(paths))}
	for _, p := range paths {
		cp.Entries = append(cp.Entries, c.Get(p))
	}
	if direct != nil {
		cp.direct = make(map[string]bool, len(direct))
		for _, p := range direct {
			cp.direct[Canonical(p)] = true
		}
	}
	return cp
}

// IsDirect reports whether e was declared directly by the module.
func (cp *Classpath) IsDirect(e *Entry) bool {
	if cp.direct == nil {
		return true
	}
	return cp.direct[e.Path]
}

// Resolve finds the first entry defining binary.
func (cp *Classpath) Resolve(binary string) (*Entry, bool) {
	for _, e := range cp.Entries {
		if e.HasType(binary) {
			return e, true
		}
	}
	return nil, false
}

// Violation is a reference that the access rules forbid.
type Violation struct {
	Type   string
	Entry  string
	Reason string
}

func (v Violation) Message() string {
	return fmt.Sprintf("Access restriction: The type '%s' is not API (restriction on classpath entry '%s')", v.Type, v.Entry)
}

// Check applies the export-package rules to a reference to binary. Types
// that do not resolve on the classpath are not the rules' concern.
func (cp *Classpath) Check(binary string) (Violation, bool) {
	e, ok := cp.Resolve(binary)
	if !ok {
		return Violation{}, false
	}
	if !cp.IsDirect(e) {
		return Violation{Type: binary, Entry: e.Path, Reason: "transitive dependency"}, true
	}
	if !e.Exports(classfile.PackageOf(binary)) {
		return Violation{Type: binary, Entry: e.Path, Reason: "package not exported"}, true
	}
	return Violation{}, false
}
