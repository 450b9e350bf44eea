package reconcile

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"kiln/internal/buildstate"
)

func write(t *testing.T, dir, rel, content string) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func exists(dir, rel string) bool {
	_, err := os.Stat(filepath.Join(dir, filepath.FromSlash(rel)))
	return err == nil
}

func seeded(t *testing.T) (string, *Reconciler) {
	t.Helper()
	out := t.TempDir()
	write(t, out, "p/A.class", "a1")
	write(t, out, "p/A$X.class", "ax")
	write(t, out, "p/B.class", "b1")
	write(t, out, "META-INF/gen.txt", "loose")
	write(t, out, "res/shared.txt", "shared")
	return out, New(out, map[string]buildstate.Output{
		"p/A.class":        {Inputs: []string{"A.java"}},
		"p/A$X.class":      {Inputs: []string{"A.java"}},
		"p/B.class":        {Inputs: []string{"B.java"}},
		"META-INF/gen.txt": {Loose: true},
		"res/shared.txt":   {Inputs: []string{"A.java", "B.java"}},
	})
}

func TestInstallReplacesOutputsOfRecompiledInputs(t *testing.T) {
	out, r := seeded(t)
	stage := t.TempDir()
	write(t, stage, "p/A.class", "a2")
	write(t, stage, "p/A$Y.class", "ay")

	ch, err := r.Install(stage, []string{"A.java"}, map[string][]string{
		"p/A.class":   {"A.java"},
		"p/A$Y.class": {"A.java"},
	}, false)
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if !slices.Equal(ch.Added, []string{"p/A$Y.class"}) ||
		!slices.Equal(ch.Updated, []string{"p/A.class"}) ||
		!slices.Equal(ch.Deleted, []string{"p/A$X.class"}) {
		t.Fatalf("unexpected changes %+v", ch)
	}
	if exists(out, "p/A$X.class") || !exists(out, "p/A$Y.class") {
		t.Fatalf("stale output not replaced")
	}
	if data, _ := os.ReadFile(filepath.Join(out, "p", "A.class")); string(data) != "a2" {
		t.Fatalf("A.class not updated: %q", data)
	}
	if !exists(out, "p/B.class") || !exists(out, "META-INF/gen.txt") {
		t.Fatalf("unrelated outputs must survive")
	}
	// shared output keeps B.java as owner
	if got := r.Outputs()["res/shared.txt"].Inputs; !slices.Equal(got, []string{"B.java"}) {
		t.Fatalf("shared owners = %v", got)
	}
}

func TestInstallIdenticalContentIsUnchanged(t *testing.T) {
	out, r := seeded(t)
	stage := t.TempDir()
	write(t, stage, "p/B.class", "b1")
	ch, err := r.Install(stage, []string{"B.java"}, map[string][]string{"p/B.class": {"B.java"}}, false)
	if err != nil {
		t.Fatal(err)
	}
	if !ch.Empty() || !slices.Equal(ch.Unchanged, []string{"p/B.class"}) {
		t.Fatalf("unexpected changes %+v", ch)
	}
	if !exists(out, "p/B.class") {
		t.Fatalf("B.class vanished")
	}
}

func TestRemoveDeletesOnlyUnsharedOutputs(t *testing.T) {
	out, r := seeded(t)
	ch, err := r.Remove([]string{"A.java"})
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(ch.Deleted, []string{"p/A$X.class", "p/A.class"}) {
		t.Fatalf("deleted = %v", ch.Deleted)
	}
	if !exists(out, "res/shared.txt") || !exists(out, "p/B.class") {
		t.Fatalf("shared or foreign outputs deleted")
	}

	if _, err := r.Remove([]string{"B.java"}); err != nil {
		t.Fatal(err)
	}
	if exists(out, "p") {
		t.Fatalf("empty package directory should be pruned")
	}
	if !exists(out, "META-INF/gen.txt") {
		t.Fatalf("loose output must survive removals")
	}
}

func TestLooseOutputs(t *testing.T) {
	out, r := seeded(t)
	kept, err := r.KeepLoose()
	if err != nil || kept != 1 {
		t.Fatalf("KeepLoose = %d, %v", kept, err)
	}
	if _, ok := r.Outputs()["META-INF/gen.txt"]; !ok {
		t.Fatalf("loose output dropped from table")
	}

	// partial rebuild keeps loose outputs not produced again
	if _, err := r.Install(t.TempDir(), []string{"B.java"}, nil, false); err != nil {
		t.Fatal(err)
	}
	if !exists(out, "META-INF/gen.txt") {
		t.Fatalf("partial rebuild deleted a loose output")
	}

	// a full rebuild collects them
	if _, err := r.Install(t.TempDir(), nil, nil, true); err != nil {
		t.Fatal(err)
	}
	if exists(out, "META-INF/gen.txt") {
		t.Fatalf("full rebuild kept an unproduced loose output")
	}
}

func TestKeepLooseForgetsMissingFiles(t *testing.T) {
	out, r := seeded(t)
	if err := os.Remove(filepath.Join(out, "META-INF", "gen.txt")); err != nil {
		t.Fatal(err)
	}
	kept, err := r.KeepLoose()
	if err != nil || kept != 0 {
		t.Fatalf("KeepLoose = %d, %v", kept, err)
	}
	if _, ok := r.Outputs()["META-INF/gen.txt"]; ok {
		t.Fatalf("missing loose output still tracked")
	}
}

func TestStagingHelpers(t *testing.T) {
	out := t.TempDir()
	stage, err := NewStaging(out)
	if err != nil {
		t.Fatal(err)
	}
	write(t, stage, "p/A.class", "x")
	write(t, stage, "p/q/B.class", "y")
	files, err := Files(stage)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(files, []string{"p/A.class", "p/q/B.class"}) {
		t.Fatalf("files = %v", files)
	}
}
