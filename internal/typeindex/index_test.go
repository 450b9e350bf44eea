package typeindex

import (
	"errors"
	"slices"
	"testing"

	"kiln/internal/classfile"
	"kiln/internal/project"
	"kiln/internal/testkit"
)

func rec(name, owner string, sig string, edges map[string]EdgeKind) Type {
	return Type{Name: name, Owner: owner, Signature: project.HashBytes([]byte(sig)), Edges: edges}
}

func chain() *Index {
	ix := New()
	must := func(t Type) {
		if err := ix.RecordType(t); err != nil {
			panic(err)
		}
	}
	// C extends B extends A; D calls A; E calls C.
	must(rec("p.A", "A.java", "a", nil))
	must(rec("p.B", "B.java", "b", map[string]EdgeKind{"p.A": EdgeStructural}))
	must(rec("p.C", "C.java", "c", map[string]EdgeKind{"p.B": EdgeStructural}))
	must(rec("p.D", "D.java", "d", map[string]EdgeKind{"p.A": EdgeBody}))
	must(rec("p.E", "E.java", "e", map[string]EdgeKind{"p.C": EdgeBody}))
	return ix
}

func TestClosureFollowsStructuralEdges(t *testing.T) {
	ix := chain()
	got := ix.Closure([]string{"p.A"})
	want := []string{"p.B", "p.C", "p.D", "p.E"}
	if !slices.Equal(got, want) {
		t.Fatalf("closure(A) = %v, want %v", got, want)
	}
	if got := ix.Closure([]string{"p.D"}); len(got) != 0 {
		t.Fatalf("closure(D) = %v, want empty", got)
	}
}

func TestClosureStopsAtBodyEdges(t *testing.T) {
	ix := New()
	_ = ix.RecordType(rec("p.A", "A.java", "a", nil))
	_ = ix.RecordType(rec("p.B", "B.java", "b", map[string]EdgeKind{"p.A": EdgeBody}))
	_ = ix.RecordType(rec("p.C", "C.java", "c", map[string]EdgeKind{"p.B": EdgeStructural}))
	got := ix.Closure([]string{"p.A"})
	if !slices.Equal(got, []string{"p.B"}) {
		t.Fatalf("closure = %v, want [p.B]", got)
	}
}

func TestClosureTerminatesOnCycles(t *testing.T) {
	ix := New()
	_ = ix.RecordType(rec("p.A", "A.java", "a", map[string]EdgeKind{"p.B": EdgeStructural}))
	_ = ix.RecordType(rec("p.B", "B.java", "b", map[string]EdgeKind{"p.A": EdgeStructural}))
	got := ix.Closure([]string{"p.A"})
	if !slices.Equal(got, []string{"p.A", "p.B"}) {
		t.Fatalf("closure = %v", got)
	}
}

func TestClosureOfExternalType(t *testing.T) {
	ix := New()
	_ = ix.RecordType(rec("p.A", "A.java", "a", map[string]EdgeKind{"lib.X": EdgeBody}))
	if got := ix.Closure([]string{"lib.X"}); !slices.Equal(got, []string{"p.A"}) {
		t.Fatalf("closure = %v", got)
	}
	if got := ix.OwnersOf([]string{"p.A", "lib.X"}); !slices.Equal(got, []string{"A.java"}) {
		t.Fatalf("owners = %v", got)
	}
}

func TestRecordTypeDuplicate(t *testing.T) {
	ix := chain()
	err := ix.RecordType(rec("p.A", "Other.java", "x", nil))
	var dup *DuplicateError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateError, got %v", err)
	}
	if !slices.Equal(dup.Owners, []string{"A.java", "Other.java"}) {
		t.Fatalf("owners = %v", dup.Owners)
	}
}

func TestApplyDelta(t *testing.T) {
	ix := chain()
	delta, err := ix.Apply(map[string][]Type{
		"A.java": {rec("p.A", "", "a2", nil), rec("p.A2", "", "n", nil)},
		"B.java": {rec("p.B", "", "b", map[string]EdgeKind{"p.A": EdgeStructural})},
		"D.java": nil,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !slices.Equal(delta.Added, []string{"p.A2"}) ||
		!slices.Equal(delta.Changed, []string{"p.A"}) ||
		!slices.Equal(delta.Removed, []string{"p.D"}) ||
		!slices.Equal(delta.Unchanged, []string{"p.B"}) {
		t.Fatalf("unexpected delta %+v", delta)
	}
	if got := ix.TypesOf("A.java"); !slices.Equal(got, []string{"p.A", "p.A2"}) {
		t.Fatalf("types of A.java = %v", got)
	}
	if _, ok := ix.Lookup("p.D"); ok {
		t.Fatalf("p.D should be gone")
	}
	if got := ix.Closure([]string{"p.A"}); !slices.Contains(got, "p.B") {
		t.Fatalf("closure of A = %v", got)
	}
}

func TestApplyMovesTypeBetweenOwners(t *testing.T) {
	ix := chain()
	delta, err := ix.Apply(map[string][]Type{
		"A.java":     nil,
		"Moved.java": {rec("p.A", "", "a", nil)},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !slices.Equal(delta.Unchanged, []string{"p.A"}) || len(delta.Removed) != 0 {
		t.Fatalf("unexpected delta %+v", delta)
	}
	if got, _ := ix.Lookup("p.A"); got.Owner != "Moved.java" {
		t.Fatalf("owner = %q", got.Owner)
	}
}

func TestApplyDuplicateRollsBack(t *testing.T) {
	ix := chain()
	before := ix.Records()
	_, err := ix.Apply(map[string][]Type{
		"New.java": {rec("p.B", "", "x", nil)},
		"A.java":   {rec("p.A", "", "a3", nil)},
	})
	var dup *DuplicateError
	if !errors.As(err, &dup) || dup.Type != "p.B" {
		t.Fatalf("expected duplicate on p.B, got %v", err)
	}
	after := ix.Records()
	if len(after) != len(before) {
		t.Fatalf("records changed: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i].Name != after[i].Name || before[i].Signature != after[i].Signature {
			t.Fatalf("record %d changed: %+v -> %+v", i, before[i], after[i])
		}
	}
}

func TestRecordsRoundTrip(t *testing.T) {
	ix := chain()
	back, err := FromRecords(ix.Records())
	if err != nil {
		t.Fatalf("from records: %v", err)
	}
	if !slices.Equal(back.Closure([]string{"p.A"}), ix.Closure([]string{"p.A"})) {
		t.Fatalf("closure differs after reload")
	}
}

func TestFromClass(t *testing.T) {
	cf, err := classfile.Parse(testkit.Class{
		Name:  "p/B",
		Super: "p/A",
		Methods: []testkit.Method{
			{Access: testkit.AccPublic, Name: "run", Desc: "()V", Calls: []testkit.Call{{Owner: "p/H", Name: "go", Desc: "()V"}}},
		},
	}.Bytes())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ty := FromClass(cf, "B.java")
	if ty.Name != "p.B" || ty.Owner != "B.java" {
		t.Fatalf("unexpected record %+v", ty)
	}
	if ty.Edges["p.A"] != EdgeStructural || ty.Edges["p.H"] != EdgeBody {
		t.Fatalf("unexpected edges %v", ty.Edges)
	}
}
