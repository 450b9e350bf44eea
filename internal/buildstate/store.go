package buildstate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"kiln/internal/builderr"
	"kiln/internal/diag"
)

const (
	DirName  = ".kiln"
	FileName = "base.state"
)

// PathFor returns the state file location for an output directory.
func PathFor(outputDir string) string {
	return filepath.Join(outputDir, DirName, FileName)
}

// Store reads and atomically replaces one state file.
// Thread-safe for concurrent access.
type Store struct {
	mu   sync.RWMutex
	path string
}

func Open(outputDir string) *Store {
	return &Store{path: PathFor(outputDir)}
}

func (s *Store) Path() string { return s.path }

// Load returns the committed state. A missing file yields Empty; an
// undecodable file or one with another schema yields Empty with Discarded
// set. Only read failures other than absence are errors.
func (s *Store) Load() (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Empty(), nil
		}
		return nil, builderr.IO("read state", s.path, err)
	}
	defer f.Close()

	var st State
	if err := msgpack.NewDecoder(f).Decode(&st); err != nil {
		fresh := Empty()
		fresh.Discarded = fmt.Sprintf("state file is unreadable: %v", err)
		return fresh, nil
	}
	if st.Schema != SchemaVersion {
		fresh := Empty()
		fresh.Discarded = fmt.Sprintf("state schema %d, expected %d", st.Schema, SchemaVersion)
		return fresh, nil
	}
	if st.Inputs == nil {
		st.Inputs = make(map[string]Input)
	}
	if st.Outputs == nil {
		st.Outputs = make(map[string]Output)
	}
	if st.Messages == nil {
		st.Messages = make(map[string][]diag.Diagnostic)
	}
	return &st, nil
}

// Commit writes st next to the current file and renames it into place, so a
// reader sees either the old or the new state, never a torn one.
func (s *Store) Commit(st *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return builderr.IO("create state dir", dir, err)
	}
	f, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return builderr.IO("create state", dir, err)
	}
	tmp := f.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmp)
		}
	}()

	st.Schema = SchemaVersion
	if err := msgpack.NewEncoder(f).Encode(st); err != nil {
		_ = f.Close()
		return builderr.IO("encode state", tmp, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return builderr.IO("sync state", tmp, err)
	}
	if err := f.Close(); err != nil {
		return builderr.IO("close state", tmp, err)
	}
	// Атомарная замена
	if err := os.Rename(tmp, s.path); err != nil {
		return builderr.IO("commit state", s.path, err)
	}
	committed = true
	return nil
}

// Remove deletes the state directory.
func (s *Store) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir := filepath.Dir(s.path)
	if err := os.RemoveAll(dir); err != nil {
		return builderr.IO("remove state", dir, err)
	}
	return nil
}
