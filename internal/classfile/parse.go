package classfile

import (
	"fmt"
	"strings"
)

const magic = 0xCAFEBABE

// Member is a field or method.
type Member struct {
	Access      AccessFlags
	Name        string
	Descriptor  string
	Signature   string
	Exceptions  []string // internal names, methods only
	Constant    string   // rendered ConstantValue, fields only
	Default     string   // rendered AnnotationDefault, annotation methods only
	Annotations []string // rendered annotations (visible and invisible)
}

// InnerClass is one InnerClasses attribute entry.
type InnerClass struct {
	Inner  string
	Outer  string
	Name   string
	Access AccessFlags
}

// ClassFile is the subset of a class file kiln reasons about.
type ClassFile struct {
	Major, Minor uint16
	Access       AccessFlags
	Name         string // internal name, e.g. "p/A$B"
	Super        string
	Interfaces   []string
	Fields       []Member
	Methods      []Member
	SourceFile   string
	Signature    string
	Annotations  []string
	InnerClasses []InnerClass

	// classRefs holds every CONSTANT_Class name; descriptors holds every
	// descriptor reachable from the pool (NameAndType, MethodType).
	classRefs   []string
	descriptors []string
}

// Parse decodes a class file.
func Parse(data []byte) (*ClassFile, error) {
	r := &reader{buf: data}
	if m := r.u4(); r.err == nil && m != magic {
		return nil, fmt.Errorf("bad magic %#x", m)
	}
	cf := &ClassFile{}
	cf.Minor = r.u2()
	cf.Major = r.u2()
	cp := readPool(r)
	if r.err != nil {
		return nil, r.err
	}
	cf.Access = AccessFlags(r.u2())
	cf.Name = cp.className(r.u2())
	cf.Super = cp.className(r.u2())
	ifaceCount := r.u2()
	for range ifaceCount {
		cf.Interfaces = append(cf.Interfaces, cp.className(r.u2()))
	}
	cf.Fields = readMembers(r, cp, false)
	cf.Methods = readMembers(r, cp, true)
	readAttributes(r, cp, func(name string, body *reader) {
		switch name {
		case "SourceFile":
			cf.SourceFile = cp.utf8(body.u2())
		case "Signature":
			cf.Signature = cp.utf8(body.u2())
		case "RuntimeVisibleAnnotations", "RuntimeInvisibleAnnotations":
			cf.Annotations = append(cf.Annotations, readAnnotations(body, cp)...)
		case "InnerClasses":
			n := body.u2()
			for range n {
				ic := InnerClass{
					Inner: cp.className(body.u2()),
					Outer: cp.className(body.u2()),
					Name:  cp.utf8(body.u2()),
				}
				ic.Access = AccessFlags(body.u2())
				cf.InnerClasses = append(cf.InnerClasses, ic)
			}
		}
	})
	if r.err != nil {
		return nil, r.err
	}
	if cf.Name == "" {
		return nil, fmt.Errorf("class file has no this_class")
	}
	for i := range cp {
		c := cp[i]
		switch c.tag {
		case tagClass:
			cf.classRefs = append(cf.classRefs, cp.utf8(c.a))
		case tagNameAndType:
			cf.descriptors = append(cf.descriptors, cp.utf8(c.b))
		case tagMethodType:
			cf.descriptors = append(cf.descriptors, cp.utf8(c.a))
		}
	}
	return cf, nil
}

// BinaryName is Name with package separators as dots.
func (cf *ClassFile) BinaryName() string {
	return BinaryName(cf.Name)
}

// Package returns the dotted package of the class, "" for the default package.
func (cf *ClassFile) Package() string {
	return PackageOf(cf.BinaryName())
}

// OuterMost returns the simple name of the top-level class enclosing this
// one, taken from the binary name.
func (cf *ClassFile) OuterMost() string {
	simple := cf.Name
	if i := strings.LastIndexByte(simple, '/'); i >= 0 {
		simple = simple[i+1:]
	}
	if i := strings.IndexByte(simple, '$'); i > 0 {
		simple = simple[:i]
	}
	return simple
}

// BinaryName converts an internal name ("p/A$B") into a binary name ("p.A$B").
func BinaryName(internal string) string {
	return strings.ReplaceAll(internal, "/", ".")
}

// PackageOf returns the package part of a dotted binary name.
func PackageOf(binary string) string {
	if i := strings.LastIndexByte(binary, '.'); i >= 0 {
		return binary[:i]
	}
	return ""
}

// ClassPath returns the relative class-file path of a binary name.
func ClassPath(binary string) string {
	return strings.ReplaceAll(binary, ".", "/") + ".class"
}

func readMembers(r *reader, cp pool, methods bool) []Member {
	count := r.u2()
	out := make([]Member, 0, count)
	for range count {
		m := Member{
			Access:     AccessFlags(r.u2()),
			Name:       cp.utf8(r.u2()),
			Descriptor: cp.utf8(r.u2()),
		}
		readAttributes(r, cp, func(name string, body *reader) {
			switch name {
			case "Signature":
				m.Signature = cp.utf8(body.u2())
			case "ConstantValue":
				if !methods {
					m.Constant = cp.render(body.u2())
				}
			case "Exceptions":
				n := body.u2()
				for range n {
					m.Exceptions = append(m.Exceptions, cp.className(body.u2()))
				}
			case "AnnotationDefault":
				m.Default = renderElementValue(body, cp)
			case "RuntimeVisibleAnnotations", "RuntimeInvisibleAnnotations":
				m.Annotations = append(m.Annotations, readAnnotations(body, cp)...)
			}
		})
		if r.err != nil {
			return out
		}
		out = append(out, m)
	}
	return out
}

func readAttributes(r *reader, cp pool, visit func(name string, body *reader)) {
	count := r.u2()
	for range count {
		name := cp.utf8(r.u2())
		data := r.bytes(r.u4())
		if r.err != nil {
			return
		}
		body := &reader{buf: data}
		visit(name, body)
		if body.err != nil {
			r.fail(fmt.Errorf("attribute %s: %w", name, body.err))
			return
		}
	}
}

func readAnnotations(r *reader, cp pool) []string {
	n := r.u2()
	out := make([]string, 0, n)
	for range n {
		out = append(out, renderAnnotation(r, cp))
		if r.err != nil {
			break
		}
	}
	return out
}

// renderAnnotation prints "@Lp/Ann;(k=v,...)" with constants resolved, so the
// result does not depend on constant pool layout.
func renderAnnotation(r *reader, cp pool) string {
	var b strings.Builder
	b.WriteString("@")
	b.WriteString(cp.utf8(r.u2()))
	pairs := r.u2()
	b.WriteString("(")
	for i := range pairs {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(cp.utf8(r.u2()))
		b.WriteString("=")
		b.WriteString(renderElementValue(r, cp))
		if r.err != nil {
			break
		}
	}
	b.WriteString(")")
	return b.String()
}

func renderElementValue(r *reader, cp pool) string {
	tag := r.u1()
	switch tag {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 's':
		return string(rune(tag)) + ":" + cp.render(r.u2())
	case 'e':
		typ := cp.utf8(r.u2())
		return typ + "." + cp.utf8(r.u2())
	case 'c':
		return "class:" + cp.utf8(r.u2())
	case '@':
		return renderAnnotation(r, cp)
	case '[':
		n := r.u2()
		parts := make([]string, 0, n)
		for range n {
			parts = append(parts, renderElementValue(r, cp))
			if r.err != nil {
				break
			}
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		r.fail(fmt.Errorf("unknown element value tag %q", tag))
		return ""
	}
}
