package classfile

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"

	"kiln/internal/project"
)

// Shape returns the digest of the class's externally visible shape: access,
// supertypes, generic signature, annotations, non-private members and
// member types. Two class files with the same Shape are interchangeable for
// every consumer compiled against them.
func (cf *ClassFile) Shape() project.Digest {
	h := sha256.New()
	for _, line := range cf.shapeLines() {
		_, _ = h.Write([]byte(line))
		_, _ = h.Write([]byte{'\n'})
	}
	var out project.Digest
	copy(out[:], h.Sum(nil))
	return out
}

func (cf *ClassFile) shapeLines() []string {
	lines := []string{
		fmt.Sprintf("class %#04x %s", uint16(cf.Access&classShapeMask), cf.Name),
		"super " + cf.Super,
		"iface " + strings.Join(sortedCopy(cf.Interfaces), ","),
		"sig " + cf.Signature,
		"ann " + strings.Join(sortedCopy(cf.Annotations), ","),
	}

	var members []string
	for _, ic := range cf.InnerClasses {
		switch {
		case ic.Inner == cf.Name:
			// собственные флаги вложенного класса (static, protected...)
			lines = append(lines, fmt.Sprintf("nested %#04x", uint16(ic.Access&classShapeMask)))
		case ic.Outer == cf.Name && !ic.Access.Has(AccPrivate) && !ic.Access.Has(AccSynthetic):
			members = append(members, fmt.Sprintf("member %#04x %s", uint16(ic.Access&classShapeMask), ic.Inner))
		}
	}
	for _, f := range cf.Fields {
		if !visible(f.Access) {
			continue
		}
		members = append(members, fmt.Sprintf("field %#04x %s %s %s =%s %s",
			uint16(f.Access&fieldShapeMask), f.Name, f.Descriptor, f.Signature, f.Constant,
			strings.Join(sortedCopy(f.Annotations), ",")))
	}
	for _, m := range cf.Methods {
		if !visible(m.Access) || m.Name == "<clinit>" {
			continue
		}
		members = append(members, fmt.Sprintf("method %#04x %s %s %s throws %s %s default %s",
			uint16(m.Access&methodShapeMask), m.Name, m.Descriptor, m.Signature,
			strings.Join(sortedCopy(m.Exceptions), ","),
			strings.Join(sortedCopy(m.Annotations), ","), m.Default))
	}
	sort.Strings(members)
	return append(lines, members...)
}

// visible reports whether a member is part of the shape. Synthetic members
// other than bridges are compiler artefacts (accessors, lambdas) that move
// with implementation changes.
func visible(acc AccessFlags) bool {
	if acc.Has(AccPrivate) {
		return false
	}
	if acc.Has(AccSynthetic) && !acc.Has(AccBridge) {
		return false
	}
	return true
}

// References lists the binary names this class depends on. structural are
// the names mentioned by its shape; body holds names referenced only by
// method bodies or private members. The class itself and java.* types are
// omitted; both lists are sorted and disjoint.
func (cf *ClassFile) References() (structural, body []string) {
	self := cf.Name
	st := make(map[string]struct{})
	add := func(set map[string]struct{}, names ...string) {
		for _, n := range names {
			if n == "" || n == self || strings.HasPrefix(n, "java/") {
				continue
			}
			set[n] = struct{}{}
		}
	}

	add(st, cf.Super)
	add(st, cf.Interfaces...)
	add(st, TypesIn(cf.Signature)...)
	add(st, annotationTypes(cf.Annotations)...)
	for _, ic := range cf.InnerClasses {
		if ic.Outer == self && visible(ic.Access) {
			add(st, ic.Inner)
		}
	}

	all := make(map[string]struct{})
	for _, f := range cf.Fields {
		set := all
		if visible(f.Access) {
			set = st
		}
		add(set, TypesIn(f.Descriptor)...)
		add(set, TypesIn(f.Signature)...)
		add(set, annotationTypes(f.Annotations)...)
	}
	for _, m := range cf.Methods {
		set := all
		if visible(m.Access) {
			set = st
		}
		add(set, TypesIn(m.Descriptor)...)
		add(set, TypesIn(m.Signature)...)
		add(set, m.Exceptions...)
		add(set, annotationTypes(m.Annotations)...)
		add(set, annotationTypes([]string{m.Default})...)
	}
	for _, ref := range cf.classRefs {
		add(all, classConstantTypes(ref)...)
	}
	for _, desc := range cf.descriptors {
		add(all, TypesIn(desc)...)
	}

	for n := range st {
		structural = append(structural, BinaryName(n))
	}
	for n := range all {
		if _, ok := st[n]; ok {
			continue
		}
		body = append(body, BinaryName(n))
	}
	slices.Sort(structural)
	slices.Sort(body)
	return structural, body
}

// annotationRef matches class descriptors inside rendered annotations.
var annotationRef = regexp.MustCompile(`L[^;<>()\[\],=:@"]+;`)

func annotationTypes(rendered []string) []string {
	var out []string
	for _, a := range rendered {
		for _, m := range annotationRef.FindAllString(a, -1) {
			out = append(out, m[1:len(m)-1])
		}
	}
	return out
}

func sortedCopy(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return out
}
