package diagstore

import (
	"testing"

	"kiln/internal/diag"
)

func warn(res string, line uint32, msg string) diag.Diagnostic {
	return diag.NewWarning(diag.CompilerMessage, diag.Location{Resource: res, Line: line}, msg)
}

func TestReplaceCarryRemove(t *testing.T) {
	s := FromMap(map[string][]diag.Diagnostic{
		"A.java": {warn("A.java", 1, "old a")},
		"B.java": {warn("B.java", 2, "b")},
		"C.java": {warn("C.java", 3, "c")},
	})

	s.Replace("A.java", []diag.Diagnostic{
		diag.NewError(diag.CompilerMessage, diag.Location{Line: 9}, "new a"),
	})
	s.Retain(func(r string) bool { return r != "C.java" })

	all := s.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 messages, got %+v", all)
	}
	if all[0].Message != "new a" || all[0].Location.Resource != "A.java" {
		t.Fatalf("replacement not applied or not relocated: %+v", all[0])
	}
	if all[1].Message != "b" {
		t.Fatalf("B.java messages must be carried over: %+v", all[1])
	}
	if s.ErrorCount() != 1 {
		t.Fatalf("error count = %d", s.ErrorCount())
	}

	s.Replace("A.java", nil)
	s.Remove("B.java")
	if len(s.Resources()) != 0 {
		t.Fatalf("expected empty store, have %v", s.Resources())
	}
}

func TestMapIsACopy(t *testing.T) {
	s := New()
	s.Replace("A.java", []diag.Diagnostic{warn("", 1, "x")})
	m := s.Map()
	m["A.java"][0].Message = "mutated"
	if got := s.Get("A.java")[0].Message; got != "x" {
		t.Fatalf("store mutated through Map: %q", got)
	}
}
