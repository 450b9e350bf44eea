package classfile_test

import (
	"slices"
	"testing"

	"kiln/internal/classfile"
	"kiln/internal/testkit"
)

func parse(t *testing.T, c testkit.Class) *classfile.ClassFile {
	t.Helper()
	cf, err := classfile.Parse(c.Bytes())
	if err != nil {
		t.Fatalf("parse %s: %v", c.Name, err)
	}
	return cf
}

func baseA() testkit.Class {
	return testkit.Class{
		Name:       "p/A",
		SourceFile: "A.java",
		Interfaces: []string{"p/I"},
		Methods: []testkit.Method{
			{Access: testkit.AccPublic, Name: "<init>", Desc: "()V", Code: []byte{1}},
			{Access: testkit.AccPublic, Name: "foo", Desc: "(Lp/Arg;)Lp/Ret;", Code: []byte{2}},
		},
	}
}

func TestParseBasics(t *testing.T) {
	cf := parse(t, baseA())
	if cf.Name != "p/A" || cf.BinaryName() != "p.A" || cf.Package() != "p" {
		t.Fatalf("unexpected names: %q %q %q", cf.Name, cf.BinaryName(), cf.Package())
	}
	if cf.Super != "java/lang/Object" || cf.SourceFile != "A.java" {
		t.Fatalf("unexpected super/source: %q %q", cf.Super, cf.SourceFile)
	}
	if len(cf.Methods) != 2 || cf.Methods[1].Descriptor != "(Lp/Arg;)Lp/Ret;" {
		t.Fatalf("unexpected methods: %+v", cf.Methods)
	}
	if cf.Major != 52 {
		t.Fatalf("major = %d", cf.Major)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := classfile.Parse([]byte{0xCA, 0xFE}); err == nil {
		t.Fatalf("expected truncation error")
	}
	if _, err := classfile.Parse([]byte{1, 2, 3, 4, 0, 0, 0, 52, 0, 1}); err == nil {
		t.Fatalf("expected bad magic error")
	}
	data := baseA().Bytes()
	if _, err := classfile.Parse(data[:len(data)-3]); err == nil {
		t.Fatalf("expected error for truncated attributes")
	}
}

func TestShapeIgnoresBodyAndPrivateChanges(t *testing.T) {
	before := parse(t, baseA()).Shape()

	body := baseA()
	body.Methods[1].Code = []byte{9, 9, 9}
	body.Methods[1].Calls = []testkit.Call{{Owner: "p/Helper", Name: "run", Desc: "()V"}}
	body.Methods = append(body.Methods, testkit.Method{Access: testkit.AccPrivate, Name: "secret", Desc: "()V"})
	body.Methods = append(body.Methods, testkit.Method{Access: testkit.AccStatic | testkit.AccSynthetic, Name: "access$000", Desc: "()V"})
	if got := parse(t, body).Shape(); got != before {
		t.Fatalf("body-only change altered the shape")
	}

	public := baseA()
	public.Methods = append(public.Methods, testkit.Method{Access: testkit.AccPublic, Name: "bar", Desc: "()V"})
	if parse(t, public).Shape() == before {
		t.Fatalf("new public method must change the shape")
	}

	super := baseA()
	super.Super = "p/Base"
	if parse(t, super).Shape() == before {
		t.Fatalf("new supertype must change the shape")
	}

	annotated := baseA()
	annotated.Annotations = []string{"Lp/Marker;"}
	if parse(t, annotated).Shape() == before {
		t.Fatalf("class annotation must change the shape")
	}
}

func TestShapeTracksInlinedConstants(t *testing.T) {
	one, two := int32(1), int32(2)
	c := testkit.Class{Name: "p/K", Fields: []testkit.Field{
		{Access: testkit.AccPublic | testkit.AccStatic | testkit.AccFinal, Name: "N", Desc: "I", ConstInt: &one},
	}}
	before := parse(t, c).Shape()
	c.Fields[0].ConstInt = &two
	if parse(t, c).Shape() == before {
		t.Fatalf("constant value change must change the shape")
	}
}

func TestShapeIndependentOfMemberOrder(t *testing.T) {
	a := baseA()
	b := baseA()
	slices.Reverse(b.Methods)
	if parse(t, a).Shape() != parse(t, b).Shape() {
		t.Fatalf("member order must not matter")
	}
}

func TestReferencesSplitStructuralAndBody(t *testing.T) {
	c := baseA()
	c.Super = "p/Base"
	c.Annotations = []string{"Lq/Marker;"}
	c.Fields = []testkit.Field{
		{Access: testkit.AccPrivate, Name: "cache", Desc: "Lp/Cache;"},
		{Access: testkit.AccProtected, Name: "items", Desc: "Ljava/util/List;", Signature: "Ljava/util/List<Lp/Item;>;"},
	}
	c.Methods[1].Calls = []testkit.Call{{Owner: "p/Helper", Name: "run", Desc: "(Lp/Token;)V"}}
	c.Methods = append(c.Methods, testkit.Method{
		Access: testkit.AccPublic, Name: "go", Desc: "()V", Exceptions: []string{"p/Failure"},
	})
	structural, body := parse(t, c).References()

	wantStructural := []string{"p.Arg", "p.Base", "p.Failure", "p.I", "p.Item", "p.Ret", "q.Marker"}
	if !slices.Equal(structural, wantStructural) {
		t.Fatalf("structural = %v, want %v", structural, wantStructural)
	}
	wantBody := []string{"p.Cache", "p.Helper", "p.Token"}
	if !slices.Equal(body, wantBody) {
		t.Fatalf("body = %v, want %v", body, wantBody)
	}
}

func TestTypesInSignatures(t *testing.T) {
	cases := map[string][]string{
		"(ILjava/lang/String;[Lp/A;)V":                                 {"java/lang/String", "p/A"},
		"<T::Ljava/lang/Comparable<-TT;>;>(Ljava/util/List<TT;>;)TT;": {"java/lang/Comparable", "java/util/List"},
		"Lp/Outer<Ljava/lang/String;>.Inner<+Lp/X;>;":                   {"p/Outer", "java/lang/String", "p/Outer$Inner", "p/X"},
		"Ljava/util/Map<*[[Lp/K;>;":                                     {"java/util/Map", "p/K"},
		"TLIST;":                                                        nil,
	}
	for sig, want := range cases {
		if got := classfile.TypesIn(sig); !slices.Equal(got, want) {
			t.Fatalf("TypesIn(%q) = %v, want %v", sig, got, want)
		}
	}
}

func TestNestedClassHelpers(t *testing.T) {
	cf := parse(t, testkit.Class{
		Name: "p/Outer$Inner",
		Inner: []testkit.Inner{
			{Inner: "p/Outer$Inner", Outer: "p/Outer", Name: "Inner", Access: testkit.AccPublic | testkit.AccStatic},
		},
	})
	if cf.OuterMost() != "Outer" {
		t.Fatalf("OuterMost = %q", cf.OuterMost())
	}
	if classfile.ClassPath("p.Outer$Inner") != "p/Outer$Inner.class" {
		t.Fatalf("ClassPath mismatch")
	}
	if classfile.PackageOf("Top") != "" {
		t.Fatalf("default package expected")
	}
}
