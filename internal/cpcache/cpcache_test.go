package cpcache

import (
	"archive/zip"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"kiln/internal/testkit"
)

func writeJar(t *testing.T, path string, files map[string][]byte) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for name, data := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(data); err != nil {
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

func writeClass(t *testing.T, dir string, c testkit.Class) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(c.Name)+".class")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, c.Bytes(), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestArchiveEntry(t *testing.T) {
	jar := filepath.Join(t.TempDir(), "lib.jar")
	writeJar(t, jar, map[string][]byte{
		"api/Service.class":       testkit.Class{Name: "api/Service"}.Bytes(),
		"impl/ServiceImpl.class":  testkit.Class{Name: "impl/ServiceImpl", Interfaces: []string{"api/Service"}}.Bytes(),
		"impl/res/data.txt":       []byte("x"),
		ExportPackagePath:         []byte("# public surface\napi\n"),
		"META-INF/MANIFEST.MF":    []byte("Manifest-Version: 1.0\n"),
	})
	c := New()
	defer c.Close()
	e := c.Get(jar)
	if e.Kind != KindArchive {
		t.Fatalf("kind = %s (%v)", e.Kind, e.Err)
	}
	for _, pkg := range []string{"api", "impl", "impl.res"} {
		if !e.HasPackage(pkg) {
			t.Fatalf("missing package %q", pkg)
		}
	}
	if !e.HasType("impl.ServiceImpl") || e.HasType("impl.Other") {
		t.Fatalf("HasType mismatch")
	}
	if !e.Exports("api") || e.Exports("impl") {
		t.Fatalf("export list not honoured")
	}
	types, err := e.Types()
	if err != nil || len(types) != 2 {
		t.Fatalf("types = %v, err = %v", types, err)
	}
	api, err := e.API()
	if err != nil {
		t.Fatal(err)
	}
	if len(api.Types) != 2 || api.Digest.IsZero() {
		t.Fatalf("unexpected API: %+v", api)
	}
	if c.Get(jar) != e {
		t.Fatalf("second Get must return the cached entry")
	}
}

func TestArchiveFingerprintVsAPI(t *testing.T) {
	dir := t.TempDir()
	v1 := filepath.Join(dir, "v1.jar")
	v2 := filepath.Join(dir, "v2.jar")
	bodyChanged := testkit.Class{Name: "p/A", Methods: []testkit.Method{{Access: testkit.AccPublic, Name: "f", Desc: "()V", Code: []byte{1}}}}
	writeJar(t, v1, map[string][]byte{"p/A.class": bodyChanged.Bytes()})
	bodyChanged.Methods[0].Code = []byte{2, 2}
	writeJar(t, v2, map[string][]byte{"p/A.class": bodyChanged.Bytes()})

	c := New()
	defer c.Close()
	e1, e2 := c.Get(v1), c.Get(v2)
	fp1, _ := e1.Fingerprint()
	fp2, _ := e2.Fingerprint()
	if fp1 == fp2 {
		t.Fatalf("fingerprints must differ for different bytes")
	}
	api1, _ := e1.API()
	api2, _ := e2.API()
	if api1.Digest != api2.Digest {
		t.Fatalf("API digests must match for body-only change")
	}
}

func TestDirectoryEntryIsLazy(t *testing.T) {
	dir := t.TempDir()
	c := New()
	e := c.Get(dir)
	if e.Kind != KindDirectory {
		t.Fatalf("kind = %s", e.Kind)
	}
	if e.HasType("p.A") {
		t.Fatalf("empty directory has no types")
	}
	writeClass(t, dir, testkit.Class{Name: "p/A"})
	if !e.HasType("p.A") || !e.HasPackage("p") {
		t.Fatalf("directory lookups must see files created after construction")
	}
	data, err := e.ReadClass("p.A")
	if err != nil || len(data) == 0 {
		t.Fatalf("ReadClass: %v", err)
	}
}

func TestDirectoryFingerprintTracksMtime(t *testing.T) {
	dir := t.TempDir()
	writeClass(t, dir, testkit.Class{Name: "p/A"})
	c := New()
	fp1, err := c.Get(dir).Fingerprint()
	if err != nil {
		t.Fatal(err)
	}
	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(filepath.Join(dir, "p", "A.class"), later, later); err != nil {
		t.Fatal(err)
	}
	fpCached, _ := c.Get(dir).Fingerprint()
	if fpCached != fp1 {
		t.Fatalf("fingerprint must be computed once per entry")
	}
	c.Invalidate(dir)
	fp2, _ := c.Get(dir).Fingerprint()
	if fp2 == fp1 {
		t.Fatalf("fingerprint must follow modification time after invalidation")
	}
}

func TestMissingEntry(t *testing.T) {
	c := New()
	e := c.Get(filepath.Join(t.TempDir(), "nope.jar"))
	if !e.Missing() || e.Err == nil {
		t.Fatalf("expected missing entry")
	}
	if _, err := e.Fingerprint(); err == nil {
		t.Fatalf("missing entry must not fingerprint")
	}
	if _, err := e.API(); err == nil {
		t.Fatalf("missing entry has no API")
	}

	garbage := filepath.Join(t.TempDir(), "bad.jar")
	if err := os.WriteFile(garbage, []byte("not a zip"), 0o600); err != nil {
		t.Fatal(err)
	}
	if e := c.Get(garbage); !e.Missing() {
		t.Fatalf("unreadable archive must be reported as missing")
	}
}

func TestConcurrentGetBuildsOnce(t *testing.T) {
	dir := t.TempDir()
	c := New()
	var wg sync.WaitGroup
	got := make([]*Entry, 16)
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i] = c.Get(dir)
		}()
	}
	wg.Wait()
	for _, e := range got {
		if e != got[0] {
			t.Fatalf("concurrent Get returned distinct entries")
		}
	}
	if c.Len() != 1 {
		t.Fatalf("cache len = %d", c.Len())
	}
}

func TestAccessRules(t *testing.T) {
	dir := t.TempDir()
	direct := filepath.Join(dir, "direct.jar")
	transitive := filepath.Join(dir, "transitive.jar")
	writeJar(t, direct, map[string][]byte{
		"api/Service.class":  testkit.Class{Name: "api/Service"}.Bytes(),
		"impl/Hidden.class":  testkit.Class{Name: "impl/Hidden"}.Bytes(),
		ExportPackagePath:    []byte("api\n"),
	})
	writeJar(t, transitive, map[string][]byte{
		"util/Strings.class": testkit.Class{Name: "util/Strings"}.Bytes(),
	})
	c := New()
	defer c.Close()
	cp := NewClasspath(c, []string{direct, transitive}, []string{direct})

	if _, bad := cp.Check("api.Service"); bad {
		t.Fatalf("exported type must be accessible")
	}
	v, bad := cp.Check("impl.Hidden")
	if !bad || v.Reason != "package not exported" {
		t.Fatalf("expected export violation, got %+v", v)
	}
	v, bad = cp.Check("util.Strings")
	if !bad || v.Reason != "transitive dependency" {
		t.Fatalf("expected transitive violation, got %+v", v)
	}
	want := "Access restriction: The type 'util.Strings' is not API (restriction on classpath entry '" + c.Get(transitive).Path + "')"
	if v.Message() != want {
		t.Fatalf("message = %q", v.Message())
	}
	if _, bad := cp.Check("unknown.Type"); bad {
		t.Fatalf("unresolved types are not violations")
	}
}
