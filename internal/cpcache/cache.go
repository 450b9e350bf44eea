// Package cpcache resolves classpath locations to immutable, queryable
// entries. One Cache is shared by every module build of a process.
package cpcache

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// Cache maps canonical paths to entries. Construction happens under a single
// lock; constructed entries are immutable and read without locking.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Entry
	retired []*Entry // invalidated entries kept until Close
}

func New() *Cache {
	return &Cache{entries: make(map[string]*Entry)}
}

// Canonical resolves path to an absolute, symlink-free form. For paths that
// do not exist only the parent directory is resolved.
func Canonical(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	// несуществующий путь: канонизируем хотя бы родителя
	if dir, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
		return filepath.Join(dir, filepath.Base(abs))
	}
	return abs
}

// Get returns the entry for path, building it on first access. It never
// returns nil: locations that do not exist or cannot be opened yield an
// entry of KindMissing carrying the cause.
func (c *Cache) Get(path string) *Entry {
	key := Canonical(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e
	}
	e := open(key)
	c.entries[key] = e
	return e
}

// Invalidate drops the cached entry for path so the next Get observes the
// current contents. Used for output directories of modules built earlier in
// the same run.
func (c *Cache) Invalidate(path string) {
	key := Canonical(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.retired = append(c.retired, e)
	}
}

// Len reports how many entries are cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close releases open archives.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for _, e := range c.entries {
		errs = append(errs, e.close())
	}
	for _, e := range c.retired {
		errs = append(errs, e.close())
	}
	c.entries = make(map[string]*Entry)
	c.retired = nil
	return errors.Join(errs...)
}

func open(path string) *Entry {
	info, err := os.Stat(path)
	if err != nil {
		return &Entry{Path: path, Kind: KindMissing, Err: err}
	}
	if info.IsDir() {
		return openDirectory(path)
	}
	return openArchive(path)
}
