package typeindex

import "kiln/internal/classfile"

// FromClass builds the record of a parsed class file owned by owner.
func FromClass(cf *classfile.ClassFile, owner string) Type {
	structural, body := cf.References()
	edges := make(map[string]EdgeKind, len(structural)+len(body))
	for _, n := range body {
		edges[n] = EdgeBody
	}
	for _, n := range structural {
		edges[n] = EdgeStructural
	}
	return Type{
		Name:      cf.BinaryName(),
		Owner:     owner,
		Signature: cf.Shape(),
		Edges:     edges,
	}
}
