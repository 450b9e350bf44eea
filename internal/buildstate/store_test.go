package buildstate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"kiln/internal/cpdigest"
	"kiln/internal/diag"
	"kiln/internal/project"
	"kiln/internal/typeindex"
)

func sample() *State {
	st := Empty().Next()
	st.Fresh = false
	st.ConfigDigest = project.HashBytes([]byte("cfg"))
	st.Inputs["/src/p/A.java"] = Input{Hash: project.HashBytes([]byte("A")), ModTime: 10, Size: 1}
	st.Types = []typeindex.Type{{
		Name:      "p.A",
		Owner:     "/src/p/A.java",
		Signature: project.HashBytes([]byte("shape")),
		Edges:     map[string]typeindex.EdgeKind{"lib.X": typeindex.EdgeStructural},
	}}
	st.Classpath = cpdigest.Table{
		Order:   []string{"/lib/x.jar"},
		Entries: map[string]cpdigest.Record{"/lib/x.jar": {Kind: "archive", Readable: true}},
	}
	st.Outputs["p/A.class"] = Output{Inputs: []string{"/src/p/A.java"}}
	st.Outputs["META-INF/services/x"] = Output{Loose: true}
	st.Messages["/src/p/A.java"] = []diag.Diagnostic{
		diag.NewWarning(diag.CompilerMessage, diag.Location{Resource: "/src/p/A.java", Line: 3}, "unchecked"),
	}
	return st
}

func TestCommitAndLoad(t *testing.T) {
	dir := t.TempDir()
	store := Open(dir)
	want := sample()
	require.NoError(t, store.Commit(want))

	got, err := store.Load()
	require.NoError(t, err)
	assert.False(t, got.Fresh)
	assert.Empty(t, got.Discarded)
	assert.Equal(t, want.BuildID, got.BuildID)
	assert.Equal(t, want.ConfigDigest, got.ConfigDigest)
	assert.Equal(t, want.Inputs, got.Inputs)
	assert.Equal(t, want.Outputs, got.Outputs)
	assert.Equal(t, want.Messages, got.Messages)
	assert.Equal(t, want.Classpath.Order, got.Classpath.Order)
	require.Len(t, got.Types, 1)
	assert.Equal(t, typeindex.EdgeStructural, got.Types[0].Edges["lib.X"])

	entries, err := os.ReadDir(filepath.Join(dir, DirName))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not survive a commit")
}

func TestLoadMissingIsFresh(t *testing.T) {
	st, err := Open(t.TempDir()).Load()
	require.NoError(t, err)
	assert.True(t, st.Fresh)
	assert.Empty(t, st.Discarded)
	assert.NotNil(t, st.Inputs)
}

func TestLoadDiscardsOtherSchema(t *testing.T) {
	dir := t.TempDir()
	path := PathFor(dir)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	data, err := msgpack.Marshal(&State{Schema: SchemaVersion + 1, BuildID: "old"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	st, err := Open(dir).Load()
	require.NoError(t, err)
	assert.True(t, st.Fresh)
	assert.Contains(t, st.Discarded, "schema")
}

func TestLoadDiscardsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := PathFor(dir)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte{0xc1, 0xff, 0x00}, 0o644))

	st, err := Open(dir).Load()
	require.NoError(t, err)
	assert.True(t, st.Fresh)
	assert.NotEmpty(t, st.Discarded)
}

func TestNextDoesNotAliasPrevious(t *testing.T) {
	prev := sample()
	next := prev.Next()
	assert.Equal(t, prev.BuildID, next.PrevBuildID)
	assert.NotEqual(t, prev.BuildID, next.BuildID)

	next.Inputs["/src/p/B.java"] = Input{}
	next.Messages["/src/p/A.java"][0].Message = "changed"
	next.Outputs["p/A.class"].Inputs[0] = "other"
	assert.NotContains(t, prev.Inputs, "/src/p/B.java")
	assert.Equal(t, "unchecked", prev.Messages["/src/p/A.java"][0].Message)
	assert.Equal(t, "/src/p/A.java", prev.Outputs["p/A.class"].Inputs[0])
}

func TestIndexFromState(t *testing.T) {
	st := sample()
	ix, err := st.Index()
	require.NoError(t, err)
	_, ok := ix.Lookup("p.A")
	assert.True(t, ok)
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	store := Open(dir)
	require.NoError(t, store.Commit(sample()))
	require.NoError(t, store.Remove())
	_, err := os.Stat(filepath.Join(dir, DirName))
	assert.True(t, os.IsNotExist(err))
}
