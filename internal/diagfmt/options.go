package diagfmt

import (
	"path/filepath"
	"strings"
)

// PathMode specifies how file paths are displayed.
type PathMode uint8

const (
	// PathModeAuto prints paths under Root relative to it, others absolute.
	PathModeAuto PathMode = iota
	// PathModeAbsolute always uses absolute paths.
	PathModeAbsolute
	PathModeRelative
	PathModeBasename
)

// ParsePathMode maps a flag value to a PathMode.
func ParsePathMode(s string) (PathMode, bool) {
	switch s {
	case "", "auto":
		return PathModeAuto, true
	case "absolute":
		return PathModeAbsolute, true
	case "relative":
		return PathModeRelative, true
	case "basename":
		return PathModeBasename, true
	}
	return 0, false
}

// PrettyOpts configures pretty-printing of diagnostics.
type PrettyOpts struct {
	Color    bool
	PathMode PathMode
	Root     string
	Width    uint8 // максимальная ширина строки контекста, 0 - не ограничено
	// Context prints the offending source line under diagnostics that
	// carry a line number.
	Context bool
	Max     int
	Summary bool
}

// JSONOpts configures JSON output of diagnostics.
type JSONOpts struct {
	PathMode PathMode
	Root     string
	Max      int // обрезка вывода, не Bag
}

func formatPath(path string, mode PathMode, root string) string {
	if path == "" {
		return ""
	}
	switch mode {
	case PathModeAbsolute:
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	case PathModeBasename:
		path = filepath.Base(path)
	case PathModeRelative, PathModeAuto:
		if root == "" {
			break
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			break
		}
		if mode == PathModeAuto && strings.HasPrefix(rel, "..") {
			break
		}
		path = rel
	}
	return filepath.ToSlash(path)
}
