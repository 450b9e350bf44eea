package cpdigest

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"kiln/internal/cpcache"
	"kiln/internal/testkit"
)

func jar(t *testing.T, path string, classes ...testkit.Class) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for _, c := range classes {
		w, err := zw.Create(c.Name + ".class")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(c.Bytes()); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

// run digests paths with a fresh cache, the way a new process would.
func run(t *testing.T, prev Table, paths ...string) Result {
	t.Helper()
	c := cpcache.New()
	defer c.Close()
	var entries []*cpcache.Entry
	for _, p := range paths {
		entries = append(entries, c.Get(p))
	}
	res, err := Digest(context.Background(), entries, prev)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func lib(code byte, extra ...testkit.Method) testkit.Class {
	return testkit.Class{Name: "lib/Util", Methods: append([]testkit.Method{
		{Access: testkit.AccPublic, Name: "run", Desc: "()V", Code: []byte{code}},
	}, extra...)}
}

func TestFirstDigestIsStructural(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lib.jar")
	jar(t, path, lib(1), testkit.Class{Name: "lib/Other"})
	res := run(t, Table{}, path)
	if !res.Changed || !res.Structural || res.FullRebuild {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !slices.Equal(res.ChangedTypes, []string{"lib.Other", "lib.Util"}) {
		t.Fatalf("changed types = %v", res.ChangedTypes)
	}
}

func TestUnchangedClasspath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lib.jar")
	jar(t, path, lib(1))
	first := run(t, Table{}, path)
	second := run(t, first.Table, path)
	if second.Changed || second.Structural || len(second.ChangedTypes) != 0 {
		t.Fatalf("expected no change: %+v", second)
	}
}

func TestBodyOnlySwapIsNonStructural(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lib.jar")
	jar(t, path, lib(1))
	first := run(t, Table{}, path)

	jar(t, path, lib(2))
	res := run(t, first.Table, path)
	if !res.Changed {
		t.Fatalf("byte-different archive must be reported as changed")
	}
	if res.Structural || len(res.ChangedTypes) != 0 {
		t.Fatalf("API-identical swap must not be structural: %+v", res)
	}
}

func TestAPISwapNamesChangedTypes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lib.jar")
	jar(t, path, lib(1), testkit.Class{Name: "lib/Stable"})
	first := run(t, Table{}, path)

	jar(t, path, lib(1, testkit.Method{Access: testkit.AccPublic, Name: "added", Desc: "()V"}), testkit.Class{Name: "lib/Stable"})
	res := run(t, first.Table, path)
	if !res.Structural || res.FullRebuild {
		t.Fatalf("expected narrow structural change: %+v", res)
	}
	if !slices.Equal(res.ChangedTypes, []string{"lib.Util"}) {
		t.Fatalf("changed types = %v", res.ChangedTypes)
	}
}

func TestRemovedAndMissingEntries(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.jar")
	b := filepath.Join(dir, "b.jar")
	jar(t, a, testkit.Class{Name: "a/A"})
	jar(t, b, testkit.Class{Name: "b/B"})
	first := run(t, Table{}, a, b)

	removed := run(t, first.Table, a)
	if !removed.Structural || !slices.Equal(removed.ChangedTypes, []string{"b.B"}) {
		t.Fatalf("removed entry: %+v", removed)
	}

	if err := os.Remove(b); err != nil {
		t.Fatal(err)
	}
	missing := run(t, first.Table, a, b)
	if !missing.Structural || !slices.Equal(missing.ChangedTypes, []string{"b.B"}) {
		t.Fatalf("vanished entry: %+v", missing)
	}
	if !slices.Equal(missing.Unreadable, []string{b}) {
		t.Fatalf("vanished entry not reported: %v", missing.Unreadable)
	}
	again := run(t, missing.Table, a, b)
	if again.Changed {
		t.Fatalf("entry missing in both builds is not a change: %+v", again)
	}
	if !slices.Equal(again.Unreadable, []string{b}) {
		t.Fatalf("entry still missing must be reported again: %v", again.Unreadable)
	}

	ghost := run(t, Table{}, filepath.Join(dir, "ghost.jar"))
	if !ghost.FullRebuild || len(ghost.Unreadable) != 1 {
		t.Fatalf("never-seen missing entry must force a full rebuild: %+v", ghost)
	}
}

func TestOrderChangeForcesFullRebuild(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.jar")
	b := filepath.Join(dir, "b.jar")
	jar(t, a, testkit.Class{Name: "x/T"})
	jar(t, b, testkit.Class{Name: "x/T", Interfaces: []string{"x/I"}})
	first := run(t, Table{}, a, b)
	res := run(t, first.Table, b, a)
	if !res.FullRebuild {
		t.Fatalf("reordering must force a full rebuild: %+v", res)
	}
}

func TestCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := cpcache.New()
	if _, err := Digest(ctx, []*cpcache.Entry{c.Get(t.TempDir())}, Table{}); err == nil {
		t.Fatalf("expected context error")
	}
}
