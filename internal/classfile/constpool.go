package classfile

import (
	"fmt"
	"math"
	"strconv"
)

// Constant pool tags.
const (
	tagUtf8               = 1
	tagInteger            = 3
	tagFloat              = 4
	tagLong               = 5
	tagDouble             = 6
	tagClass              = 7
	tagString             = 8
	tagFieldref           = 9
	tagMethodref          = 10
	tagInterfaceMethodref = 11
	tagNameAndType        = 12
	tagMethodHandle       = 15
	tagMethodType         = 16
	tagDynamic            = 17
	tagInvokeDynamic      = 18
	tagModule             = 19
	tagPackage            = 20
)

type constant struct {
	tag  uint8
	a, b uint16 // indices for reference kinds
	utf8 string
	num  uint64 // raw bits for numeric kinds
}

type pool []constant

func readPool(r *reader) pool {
	count := r.u2()
	p := make(pool, count)
	for i := 1; i < int(count); i++ {
		tag := r.u1()
		c := constant{tag: tag}
		switch tag {
		case tagUtf8:
			c.utf8 = string(r.bytes(uint32(r.u2())))
		case tagInteger, tagFloat:
			c.num = uint64(r.u4())
		case tagLong, tagDouble:
			c.num = r.u8()
		case tagClass, tagString, tagMethodType, tagModule, tagPackage:
			c.a = r.u2()
		case tagFieldref, tagMethodref, tagInterfaceMethodref, tagNameAndType, tagDynamic, tagInvokeDynamic:
			c.a = r.u2()
			c.b = r.u2()
		case tagMethodHandle:
			c.a = uint16(r.u1())
			c.b = r.u2()
		default:
			r.fail(fmt.Errorf("unknown constant pool tag %d at index %d", tag, i))
			return p
		}
		if r.err != nil {
			return p
		}
		p[i] = c
		// long и double занимают два слота
		if tag == tagLong || tag == tagDouble {
			i++
		}
	}
	return p
}

func (p pool) get(idx uint16) (constant, bool) {
	if idx == 0 || int(idx) >= len(p) {
		return constant{}, false
	}
	return p[idx], true
}

func (p pool) utf8(idx uint16) string {
	c, ok := p.get(idx)
	if !ok || c.tag != tagUtf8 {
		return ""
	}
	return c.utf8
}

// className resolves a CONSTANT_Class to its internal name ("p/A" or "[Lp/A;").
func (p pool) className(idx uint16) string {
	c, ok := p.get(idx)
	if !ok || c.tag != tagClass {
		return ""
	}
	return p.utf8(c.a)
}

// render prints a loadable constant in a layout-independent form.
func (p pool) render(idx uint16) string {
	c, ok := p.get(idx)
	if !ok {
		return ""
	}
	switch c.tag {
	case tagUtf8:
		return c.utf8
	case tagInteger:
		return strconv.FormatInt(int64(int32(uint32(c.num))), 10)
	case tagFloat:
		return "f" + strconv.FormatFloat(float64(math.Float32frombits(uint32(c.num))), 'g', -1, 32)
	case tagLong:
		return strconv.FormatInt(int64(c.num), 10) + "L"
	case tagDouble:
		return "d" + strconv.FormatFloat(math.Float64frombits(c.num), 'g', -1, 64)
	case tagString:
		return strconv.Quote(p.utf8(c.a))
	case tagClass:
		return p.utf8(c.a)
	default:
		return fmt.Sprintf("#%d", c.tag)
	}
}
