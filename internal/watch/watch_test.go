package watch

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, roots []string, setup func(*Watcher)) *Watcher {
	t.Helper()
	w, err := New(roots, 50*time.Millisecond)
	require.NoError(t, err)
	if setup != nil {
		setup(w)
	}
	require.NoError(t, w.Start())
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func waitBatch(t *testing.T, w *Watcher) []string {
	t.Helper()
	select {
	case b := <-w.Batches():
		return b
	case <-time.After(5 * time.Second):
		t.Fatal("no batch within 5s")
		return nil
	}
}

func resolved(t *testing.T, dir string) string {
	t.Helper()
	p, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	return p
}

func TestWriteProducesBatch(t *testing.T) {
	dir := resolved(t, t.TempDir())
	w := startWatcher(t, []string{dir}, nil)

	path := filepath.Join(dir, "A.java")
	require.NoError(t, os.WriteFile(path, []byte("class A {}"), 0o644))

	assert.Contains(t, waitBatch(t, w), path)
}

func TestNewDirectoryIsWatched(t *testing.T) {
	dir := resolved(t, t.TempDir())
	w := startWatcher(t, []string{dir}, nil)

	sub := filepath.Join(dir, "p", "q")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	path := filepath.Join(sub, "B.java")
	require.NoError(t, os.WriteFile(path, []byte("class B {}"), 0o644))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case b := <-w.Batches():
			if slices.Contains(b, path) {
				return
			}
		case <-deadline:
			t.Fatal("write in new directory was not reported")
		}
	}
}

func TestIgnoredDirectoryIsSilent(t *testing.T) {
	dir := resolved(t, t.TempDir())
	out := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(out, 0o755))
	w := startWatcher(t, []string{dir}, func(w *Watcher) { w.Ignore(out) })

	require.NoError(t, os.WriteFile(filepath.Join(out, "A.class"), []byte{0xCA}, 0o644))
	select {
	case b := <-w.Batches():
		t.Fatalf("unexpected batch %v", b)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestSingleFile(t *testing.T) {
	dir := resolved(t, t.TempDir())
	manifest := filepath.Join(dir, "kiln.toml")
	require.NoError(t, os.WriteFile(manifest, []byte("[[module]]\n"), 0o644))
	w := startWatcher(t, nil, func(w *Watcher) { w.File(manifest) })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(manifest, []byte("[[module]]\nname = \"a\"\n"), 0o644))

	b := waitBatch(t, w)
	assert.Equal(t, []string{manifest}, b)
}

func TestSettledWaitsForQuiet(t *testing.T) {
	w := &Watcher{quiet: time.Second, pending: map[string]time.Time{}}
	now := time.Now()
	w.pending["/a"] = now.Add(-2 * time.Second)
	w.pending["/b"] = now.Add(-100 * time.Millisecond)
	assert.Nil(t, w.settled(now))
	assert.Equal(t, []string{"/a", "/b"}, w.settled(now.Add(time.Second)))
	assert.Empty(t, w.pending)
}
