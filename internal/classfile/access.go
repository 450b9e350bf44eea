package classfile

// AccessFlags are the JVM access_flags bits.
type AccessFlags uint16

const (
	AccPublic       AccessFlags = 0x0001
	AccPrivate      AccessFlags = 0x0002
	AccProtected    AccessFlags = 0x0004
	AccStatic       AccessFlags = 0x0008
	AccFinal        AccessFlags = 0x0010
	AccSuper        AccessFlags = 0x0020 // classes; ACC_SYNCHRONIZED on methods
	AccVolatile     AccessFlags = 0x0040 // fields; ACC_BRIDGE on methods
	AccTransient    AccessFlags = 0x0080 // fields; ACC_VARARGS on methods
	AccNative       AccessFlags = 0x0100
	AccInterface    AccessFlags = 0x0200
	AccAbstract     AccessFlags = 0x0400
	AccStrict       AccessFlags = 0x0800
	AccSynthetic    AccessFlags = 0x1000
	AccAnnotation   AccessFlags = 0x2000
	AccEnum         AccessFlags = 0x4000
	AccModule       AccessFlags = 0x8000
	AccBridge                   = AccVolatile
	AccSynchronized             = AccSuper
)

func (f AccessFlags) Has(bit AccessFlags) bool { return f&bit != 0 }

// classShapeMask drops bits that never affect consumers of a class.
const classShapeMask = ^(AccSuper | AccSynthetic)

// methodShapeMask drops implementation-only method bits.
const methodShapeMask = ^(AccSynchronized | AccNative | AccStrict)

// fieldShapeMask drops implementation-only field bits.
const fieldShapeMask = ^AccVolatile
