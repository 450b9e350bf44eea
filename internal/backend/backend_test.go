package backend

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"kiln/internal/builderr"
	"kiln/internal/project"
	"kiln/internal/testkit"
)

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"javac": KindJavac, "forked": KindForked, "Self-Tracking": KindSelfTracking} {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Fatalf("ParseKind(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseKind("ecj"); builderr.KindOf(err) != builderr.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func module() project.Module {
	return project.Module{
		Backend:          "javac",
		Source:           "17",
		Target:           "17",
		Proc:             "both",
		Processors:       []string{"a.P", "b.Q"},
		ProcessorOptions: map[string]string{"z": "1", "a": "2"},
		Debug:            "lines,source",
		ShowWarnings:     true,
		AccessRules:      "ignore",
		GeneratedSources: "/gen",
		Encoding:         "UTF-8",
	}
}

func TestOptions(t *testing.T) {
	cfg, err := FromModule(module())
	if err != nil {
		t.Fatalf("FromModule: %v", err)
	}
	want := []string{
		"-source", "17", "-target", "17", "-implicit:none",
		"-s", "/gen", "-processor", "a.P,b.Q", "-Aa=2", "-Az=1",
		"-g:lines,source", "-Xlint:all",
	}
	if got := cfg.Options(); !slices.Equal(got, want) {
		t.Fatalf("options = %q\nwant      %q", got, want)
	}

	inv := Invocation{Config: cfg, Staging: "/stage", Classpath: []string{"/out", "/lib/a.jar"}}
	args := inv.Args()
	sep := string(os.PathListSeparator)
	if args[0] != "-d" || args[1] != "/stage" || args[3] != "/stage"+sep+"/out"+sep+"/lib/a.jar" || args[5] != "" {
		t.Fatalf("args = %q", args)
	}
}

func TestValidate(t *testing.T) {
	mod := module()
	mod.AccessRules = "error"
	if _, err := FromModule(mod); builderr.KindOf(err) != builderr.KindConfiguration {
		t.Fatalf("access rules on javac must be rejected, got %v", err)
	}
	mod.Backend = "self-tracking"
	if _, err := FromModule(mod); err != nil {
		t.Fatalf("self-tracking with access rules: %v", err)
	}

	mod = module()
	mod.Encoding = "no-such-charset"
	if _, err := FromModule(mod); builderr.KindOf(err) != builderr.KindConfiguration {
		t.Fatalf("unknown encoding must be rejected, got %v", err)
	}

	mod = module()
	mod.Debug = "lines,bogus"
	if _, err := FromModule(mod); builderr.KindOf(err) != builderr.KindConfiguration {
		t.Fatalf("bad debug keyword must be rejected, got %v", err)
	}
}

func TestDigestTracksOptions(t *testing.T) {
	a, _ := FromModule(module())
	b := a
	if a.Digest() != b.Digest() {
		t.Fatalf("equal configs must digest equally")
	}
	b.Target = "21"
	if a.Digest() == b.Digest() {
		t.Fatalf("target change must alter the digest")
	}
	c := a
	c.Encoding = "ISO-8859-1"
	if a.Digest() == c.Digest() {
		t.Fatalf("encoding change must alter the digest")
	}
}

func writeClass(t *testing.T, dir string, c testkit.Class) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(c.Name)+".class")
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, c.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCollectOutputs(t *testing.T) {
	stage := t.TempDir()
	writeClass(t, stage, testkit.Class{Name: "p/A", SourceFile: "A.java"})
	writeClass(t, stage, testkit.Class{Name: "p/A$1", SourceFile: "A.java"})
	writeClass(t, stage, testkit.Class{Name: "p/Helper", SourceFile: "A.java"})
	writeClass(t, stage, testkit.Class{Name: "q/B"})
	writeClass(t, stage, testkit.Class{Name: "gen/G", SourceFile: "G.java"})
	if err := os.MkdirAll(filepath.Join(stage, "META-INF"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(stage, "META-INF", "x.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	a := "/src/p/A.java"
	b := "/src/q/B.java"
	got, err := CollectOutputs(stage, []string{a, b})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	want := map[string][]string{
		"p/A.class":      {a},
		"p/A$1.class":    {a},
		"p/Helper.class": {a},
		"q/B.class":      {b},
		"gen/G.class":    nil,
		"META-INF/x.txt": nil,
	}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for k, v := range want {
		if !slices.Equal(got[k], v) {
			t.Fatalf("%s owners = %v, want %v", k, got[k], v)
		}
	}
}
