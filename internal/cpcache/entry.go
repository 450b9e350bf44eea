package cpcache

import (
	"archive/zip"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"kiln/internal/classfile"
	"kiln/internal/project"
)

// ExportPackagePath is the entry-relative location of the export-package
// allowlist: one package name per line, '#' starts a comment.
const ExportPackagePath = "META-INF/kiln/export-package"

// stateDir holds the build state when the entry is another module's output
// directory; it is never part of the entry's content.
const stateDir = ".kiln"

type Kind uint8

const (
	KindMissing Kind = iota
	KindDirectory
	KindArchive
)

func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "directory"
	case KindArchive:
		return "archive"
	default:
		return "missing"
	}
}

// API is the structural view of an entry.
type API struct {
	Digest project.Digest            // aggregate over Types
	Types  map[string]project.Digest // binary name -> shape digest
}

// Entry is one classpath location.
type Entry struct {
	Path string
	Kind Kind
	Err  error // set for KindMissing

	exports map[string]struct{} // nil: every package is exported

	// archives only
	zr       *zip.ReadCloser
	classes  map[string]*zip.File // binary name -> file
	packages map[string]struct{}

	fpOnce sync.Once
	fp     project.Digest
	fpErr  error

	apiOnce sync.Once
	api     *API
	apiErr  error
}

func openDirectory(path string) *Entry {
	e := &Entry{Path: path, Kind: KindDirectory}
	data, err := os.ReadFile(filepath.Join(path, filepath.FromSlash(ExportPackagePath)))
	switch {
	case err == nil:
		e.exports = parseExports(data)
	case !errors.Is(err, fs.ErrNotExist):
		return &Entry{Path: path, Kind: KindMissing, Err: err}
	}
	return e
}

func openArchive(path string) *Entry {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return &Entry{Path: path, Kind: KindMissing, Err: fmt.Errorf("open archive: %w", err)}
	}
	e := &Entry{
		Path:     path,
		Kind:     KindArchive,
		zr:       zr,
		classes:  make(map[string]*zip.File),
		packages: make(map[string]struct{}),
	}
	for _, f := range zr.File {
		name := f.Name
		if name == ExportPackagePath {
			data, err := readZipFile(f)
			if err != nil {
				_ = zr.Close()
				return &Entry{Path: path, Kind: KindMissing, Err: err}
			}
			e.exports = parseExports(data)
			continue
		}
		if strings.HasSuffix(name, "/") {
			continue
		}
		if dir := pathDir(name); dir != "" {
			e.packages[strings.ReplaceAll(dir, "/", ".")] = struct{}{}
		}
		if strings.HasSuffix(name, ".class") && !strings.HasPrefix(name, "META-INF/") {
			binary := strings.ReplaceAll(strings.TrimSuffix(name, ".class"), "/", ".")
			e.classes[binary] = f
		}
	}
	return e
}

func pathDir(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[:i]
	}
	return ""
}

func parseExports(data []byte) map[string]struct{} {
	out := make(map[string]struct{})
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line != "" {
			out[line] = struct{}{}
		}
	}
	return out
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (e *Entry) close() error {
	if e.zr != nil {
		return e.zr.Close()
	}
	return nil
}

// Missing reports whether the location could not be opened.
func (e *Entry) Missing() bool { return e.Kind == KindMissing }

// HasPackage reports whether the entry contains classes or resources in pkg.
// Directories answer by looking at the file system on every call.
func (e *Entry) HasPackage(pkg string) bool {
	switch e.Kind {
	case KindArchive:
		_, ok := e.packages[pkg]
		return ok
	case KindDirectory:
		info, err := os.Stat(filepath.Join(e.Path, filepath.FromSlash(strings.ReplaceAll(pkg, ".", "/"))))
		return err == nil && info.IsDir()
	}
	return false
}

// HasType reports whether the entry defines the binary type name.
func (e *Entry) HasType(binary string) bool {
	switch e.Kind {
	case KindArchive:
		_, ok := e.classes[binary]
		return ok
	case KindDirectory:
		info, err := os.Stat(filepath.Join(e.Path, filepath.FromSlash(classfile.ClassPath(binary))))
		return err == nil && !info.IsDir()
	}
	return false
}

// ReadClass returns the class file bytes for binary.
func (e *Entry) ReadClass(binary string) ([]byte, error) {
	switch e.Kind {
	case KindArchive:
		f, ok := e.classes[binary]
		if !ok {
			return nil, fs.ErrNotExist
		}
		return readZipFile(f)
	case KindDirectory:
		return os.ReadFile(filepath.Join(e.Path, filepath.FromSlash(classfile.ClassPath(binary))))
	}
	return nil, fs.ErrNotExist
}

// Exports reports whether pkg is visible to consumers under the entry's
// export-package allowlist.
func (e *Entry) Exports(pkg string) bool {
	if e.exports == nil {
		return true
	}
	_, ok := e.exports[pkg]
	return ok
}

// Types lists the binary names of all classes in the entry, sorted.
func (e *Entry) Types() ([]string, error) {
	switch e.Kind {
	case KindArchive:
		out := make([]string, 0, len(e.classes))
		for name := range e.classes {
			out = append(out, name)
		}
		slices.Sort(out)
		return out, nil
	case KindDirectory:
		var out []string
		err := filepath.WalkDir(e.Path, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() && d.Name() == stateDir && path != e.Path {
				return filepath.SkipDir
			}
			if d.IsDir() || !strings.HasSuffix(path, ".class") {
				return nil
			}
			rel, err := filepath.Rel(e.Path, path)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if strings.HasPrefix(rel, "META-INF/") {
				return nil
			}
			out = append(out, strings.ReplaceAll(strings.TrimSuffix(rel, ".class"), "/", "."))
			return nil
		})
		slices.Sort(out)
		return out, err
	}
	return nil, e.Err
}

// Fingerprint is the content fingerprint: names, sizes and CRCs of archive
// members, or relative paths, sizes and modification times of directory
// files. Computed once per entry.
func (e *Entry) Fingerprint() (project.Digest, error) {
	e.fpOnce.Do(func() {
		e.fp, e.fpErr = e.fingerprint()
	})
	return e.fp, e.fpErr
}

func (e *Entry) fingerprint() (project.Digest, error) {
	var lines []string
	switch e.Kind {
	case KindArchive:
		for _, f := range e.zr.File {
			lines = append(lines, fmt.Sprintf("%s %d %08x", f.Name, f.UncompressedSize64, f.CRC32))
		}
	case KindDirectory:
		err := filepath.WalkDir(e.Path, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if d.Name() == stateDir && path != e.Path {
					return filepath.SkipDir
				}
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(e.Path, path)
			if err != nil {
				return err
			}
			lines = append(lines, fmt.Sprintf("%s %d %d", filepath.ToSlash(rel), info.Size(), info.ModTime().UnixNano()))
			return nil
		})
		if err != nil {
			return project.Digest{}, err
		}
	default:
		return project.Digest{}, e.Err
	}
	slices.Sort(lines)
	return project.HashBytes([]byte(e.Kind.String() + "\n" + strings.Join(lines, "\n"))), nil
}

// API parses every class of the entry and digests its shape. Computed once
// per entry; expensive for large archives, so callers only ask when the
// fingerprint moved.
func (e *Entry) API() (*API, error) {
	e.apiOnce.Do(func() {
		e.api, e.apiErr = e.computeAPI()
	})
	return e.api, e.apiErr
}

func (e *Entry) computeAPI() (*API, error) {
	if e.Kind == KindMissing {
		return nil, e.Err
	}
	names, err := e.Types()
	if err != nil {
		return nil, err
	}
	api := &API{Types: make(map[string]project.Digest, len(names))}
	var all []project.Digest
	for _, name := range names {
		data, err := e.ReadClass(name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		cf, err := classfile.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		shape := cf.Shape()
		api.Types[name] = shape
		all = append(all, project.HashBytes([]byte(name)), shape)
	}
	var exports []string
	for pkg := range e.exports {
		exports = append(exports, pkg)
	}
	slices.Sort(exports)
	// список экспортов тоже часть API: он меняет видимость типов
	api.Digest = project.Combine(project.HashBytes([]byte(strings.Join(exports, "\n"))), all...)
	return api, nil
}
