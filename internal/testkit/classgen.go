// Package testkit builds real JVM class files for tests. Package toyc uses it
// to compile a tiny Java subset so incremental builds run without a JDK.
package testkit

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Access flag values used by generated classes.
const (
	AccPublic    uint16 = 0x0001
	AccPrivate   uint16 = 0x0002
	AccProtected uint16 = 0x0004
	AccStatic    uint16 = 0x0008
	AccFinal     uint16 = 0x0010
	AccSuper     uint16 = 0x0020
	AccInterface uint16 = 0x0200
	AccAbstract  uint16 = 0x0400
	AccSynthetic uint16 = 0x1000
)

// Call is a method invocation emitted into a method body.
type Call struct {
	Owner string // internal name
	Name  string
	Desc  string
}

type Field struct {
	Access      uint16
	Name        string
	Desc        string
	Signature   string
	ConstInt    *int32
	Annotations []string // annotation descriptors, e.g. "Lp/Ann;"
}

type Method struct {
	Access      uint16
	Name        string
	Desc        string
	Signature   string
	Exceptions  []string
	Annotations []string
	Calls       []Call // body references, stored in the constant pool
	Code        []byte // raw Code attribute payload; any change is a body change
}

type Inner struct {
	Inner  string
	Outer  string
	Name   string
	Access uint16
}

// Class describes a class file. Names are internal ("p/A$B").
type Class struct {
	Major       uint16 // defaults to 52 (Java 8)
	Access      uint16 // defaults to public|super
	Name        string
	Super       string // defaults to java/lang/Object
	Interfaces  []string
	SourceFile  string
	Signature   string
	Annotations []string
	Fields      []Field
	Methods     []Method
	Inner       []Inner
}

type poolBuilder struct {
	buf   bytes.Buffer
	count uint16
	index map[string]uint16
}

func newPool() *poolBuilder {
	return &poolBuilder{count: 1, index: make(map[string]uint16)}
}

func (p *poolBuilder) intern(key string, write func(*bytes.Buffer)) uint16 {
	if idx, ok := p.index[key]; ok {
		return idx
	}
	write(&p.buf)
	idx := p.count
	p.count++
	p.index[key] = idx
	return idx
}

func (p *poolBuilder) utf8(s string) uint16 {
	return p.intern("u:"+s, func(b *bytes.Buffer) {
		b.WriteByte(1)
		writeU2(b, uint16(len(s)))
		b.WriteString(s)
	})
}

func (p *poolBuilder) class(name string) uint16 {
	nameIdx := p.utf8(name)
	return p.intern("c:"+name, func(b *bytes.Buffer) {
		b.WriteByte(7)
		writeU2(b, nameIdx)
	})
}

func (p *poolBuilder) integer(v int32) uint16 {
	return p.intern(fmt.Sprintf("i:%d", v), func(b *bytes.Buffer) {
		b.WriteByte(3)
		_ = binary.Write(b, binary.BigEndian, v)
	})
}

func (p *poolBuilder) nameAndType(name, desc string) uint16 {
	n, d := p.utf8(name), p.utf8(desc)
	return p.intern("nt:"+name+":"+desc, func(b *bytes.Buffer) {
		b.WriteByte(12)
		writeU2(b, n)
		writeU2(b, d)
	})
}

func (p *poolBuilder) methodref(c Call) uint16 {
	owner, nt := p.class(c.Owner), p.nameAndType(c.Name, c.Desc)
	return p.intern("m:"+c.Owner+"."+c.Name+c.Desc, func(b *bytes.Buffer) {
		b.WriteByte(10)
		writeU2(b, owner)
		writeU2(b, nt)
	})
}

func writeU2(b *bytes.Buffer, v uint16) { _ = binary.Write(b, binary.BigEndian, v) }
func writeU4(b *bytes.Buffer, v uint32) { _ = binary.Write(b, binary.BigEndian, v) }

type attr struct {
	name uint16
	body []byte
}

func writeAttrs(b *bytes.Buffer, attrs []attr) {
	writeU2(b, uint16(len(attrs)))
	for _, a := range attrs {
		writeU2(b, a.name)
		writeU4(b, uint32(len(a.body)))
		b.Write(a.body)
	}
}

func annotationsAttr(p *poolBuilder, descs []string) attr {
	var body bytes.Buffer
	writeU2(&body, uint16(len(descs)))
	for _, d := range descs {
		writeU2(&body, p.utf8(d))
		writeU2(&body, 0)
	}
	return attr{name: p.utf8("RuntimeVisibleAnnotations"), body: body.Bytes()}
}

func u2Attr(p *poolBuilder, name string, idx uint16) attr {
	var body bytes.Buffer
	writeU2(&body, idx)
	return attr{name: p.utf8(name), body: body.Bytes()}
}

// Bytes assembles the class file.
func (c Class) Bytes() []byte {
	p := newPool()
	major := c.Major
	if major == 0 {
		major = 52
	}
	access := c.Access
	if access == 0 {
		access = AccPublic | AccSuper
	}
	super := c.Super
	if super == "" {
		super = "java/lang/Object"
	}

	var rest bytes.Buffer
	writeU2(&rest, access)
	writeU2(&rest, p.class(c.Name))
	writeU2(&rest, p.class(super))
	writeU2(&rest, uint16(len(c.Interfaces)))
	for _, iface := range c.Interfaces {
		writeU2(&rest, p.class(iface))
	}

	writeU2(&rest, uint16(len(c.Fields)))
	for _, f := range c.Fields {
		writeU2(&rest, f.Access)
		writeU2(&rest, p.utf8(f.Name))
		writeU2(&rest, p.utf8(f.Desc))
		var attrs []attr
		if f.Signature != "" {
			attrs = append(attrs, u2Attr(p, "Signature", p.utf8(f.Signature)))
		}
		if f.ConstInt != nil {
			attrs = append(attrs, u2Attr(p, "ConstantValue", p.integer(*f.ConstInt)))
		}
		if len(f.Annotations) > 0 {
			attrs = append(attrs, annotationsAttr(p, f.Annotations))
		}
		writeAttrs(&rest, attrs)
	}

	writeU2(&rest, uint16(len(c.Methods)))
	for _, m := range c.Methods {
		writeU2(&rest, m.Access)
		writeU2(&rest, p.utf8(m.Name))
		writeU2(&rest, p.utf8(m.Desc))
		for _, call := range m.Calls {
			p.methodref(call)
		}
		var attrs []attr
		if m.Code != nil || len(m.Calls) > 0 {
			attrs = append(attrs, attr{name: p.utf8("Code"), body: append([]byte(nil), m.Code...)})
		}
		if m.Signature != "" {
			attrs = append(attrs, u2Attr(p, "Signature", p.utf8(m.Signature)))
		}
		if len(m.Exceptions) > 0 {
			var body bytes.Buffer
			writeU2(&body, uint16(len(m.Exceptions)))
			for _, e := range m.Exceptions {
				writeU2(&body, p.class(e))
			}
			attrs = append(attrs, attr{name: p.utf8("Exceptions"), body: body.Bytes()})
		}
		if len(m.Annotations) > 0 {
			attrs = append(attrs, annotationsAttr(p, m.Annotations))
		}
		writeAttrs(&rest, attrs)
	}

	var classAttrs []attr
	if c.SourceFile != "" {
		classAttrs = append(classAttrs, u2Attr(p, "SourceFile", p.utf8(c.SourceFile)))
	}
	if c.Signature != "" {
		classAttrs = append(classAttrs, u2Attr(p, "Signature", p.utf8(c.Signature)))
	}
	if len(c.Annotations) > 0 {
		classAttrs = append(classAttrs, annotationsAttr(p, c.Annotations))
	}
	if len(c.Inner) > 0 {
		var body bytes.Buffer
		writeU2(&body, uint16(len(c.Inner)))
		for _, ic := range c.Inner {
			writeU2(&body, p.class(ic.Inner))
			if ic.Outer != "" {
				writeU2(&body, p.class(ic.Outer))
			} else {
				writeU2(&body, 0)
			}
			if ic.Name != "" {
				writeU2(&body, p.utf8(ic.Name))
			} else {
				writeU2(&body, 0)
			}
			writeU2(&body, ic.Access)
		}
		classAttrs = append(classAttrs, attr{name: p.utf8("InnerClasses"), body: body.Bytes()})
	}
	writeAttrs(&rest, classAttrs)

	var out bytes.Buffer
	writeU4(&out, 0xCAFEBABE)
	writeU2(&out, 0)
	writeU2(&out, major)
	writeU2(&out, p.count)
	out.Write(p.buf.Bytes())
	out.Write(rest.Bytes())
	return out.Bytes()
}
