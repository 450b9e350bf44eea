package diag

import (
	"strings"
	"testing"
)

func TestBagLimitAndCounts(t *testing.T) {
	b := NewBag(2)
	if !b.Add(NewError(CompilerMessage, Location{Resource: "A.java", Line: 1}, "x")) {
		t.Fatalf("first add must succeed")
	}
	b.Add(NewWarning(CompilerMessage, Location{Resource: "A.java", Line: 2}, "y"))
	if b.Add(NewError(CompilerMessage, Location{}, "z")) {
		t.Fatalf("limit must reject third diagnostic")
	}
	if !b.HasErrors() || !b.HasWarnings() {
		t.Fatalf("expected both severities")
	}
	if b.Count(SevError) != 1 || b.Count(SevWarning) != 1 {
		t.Fatalf("unexpected counts: %d errors, %d warnings", b.Count(SevError), b.Count(SevWarning))
	}

	unlimited := NewBag(0)
	for range 1000 {
		unlimited.Add(NewWarning(CompilerMessage, Location{}, "w"))
	}
	if unlimited.Len() != 1000 {
		t.Fatalf("unlimited bag dropped items: %d", unlimited.Len())
	}
}

func TestBagSort(t *testing.T) {
	b := NewBag(10)
	r := BagReporter{Bag: b}
	r.Report(CompilerMessage, SevWarning, Location{Resource: "B.java", Line: 3, Column: 1}, "w")
	r.Report(CompilerMessage, SevError, Location{Resource: "A.java", Line: 9}, "e2")
	r.Report(CompilerMessage, SevError, Location{Resource: "A.java", Line: 2}, "e1")
	b.Sort()
	items := b.Items()
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if items[0].Message != "e1" || items[1].Message != "e2" || items[2].Location.Resource != "B.java" {
		t.Fatalf("unexpected order: %+v", items)
	}
}

func TestDedupReporter(t *testing.T) {
	b := NewBag(10)
	r := NewDedupReporter(BagReporter{Bag: b})
	loc := Location{Resource: "p/A.java", Line: 4, Column: 2}
	ReportError(r, CompilerMessage, loc, "cannot find symbol")
	ReportError(r, CompilerMessage, loc, "cannot find symbol")
	ReportWarning(r, CompilerMessage, loc, "cannot find symbol")
	if b.Len() != 2 {
		t.Fatalf("expected 2 diagnostics, got %d", b.Len())
	}
}

func TestFormatShort(t *testing.T) {
	items := []Diagnostic{
		NewWarning(CompilerMessage, Location{Resource: "/src/p/B.java", Line: 2, Column: 5}, "unchecked call\n  detail"),
		NewError(ClasspathMissing, Location{Resource: "/src/kiln.toml"}, "missing entry"),
	}
	got := FormatShort(items, "/src")
	want := strings.Join([]string{
		"kiln.toml: ERROR KLN2001: missing entry",
		"p/B.java:2:5: WARNING KLN1001: unchecked call",
		"",
	}, "\n")
	if got != want {
		t.Fatalf("FormatShort mismatch:\n%s\nwant:\n%s", got, want)
	}
}

func TestParseSeverity(t *testing.T) {
	if s, ok := ParseSeverity("error"); !ok || s != SevError {
		t.Fatalf("error not parsed")
	}
	if s, ok := ParseSeverity("warning"); !ok || s != SevWarning {
		t.Fatalf("warning not parsed")
	}
	if _, ok := ParseSeverity("note"); ok {
		t.Fatalf("note must not parse")
	}
}
