package diag

import (
	"fmt"
	"path/filepath"
	"strings"
)

// FormatShort renders diagnostics one per line in a stable order:
//
//	path:line:col: SEVERITY KLN1001: message
//
// Resources under root are printed relative to it. Multi-line messages keep
// only their first line.
func FormatShort(items []Diagnostic, root string) string {
	if len(items) == 0 {
		return ""
	}
	sorted := make([]Diagnostic, len(items))
	copy(sorted, items)
	SortItems(sorted)

	var b strings.Builder
	for _, d := range sorted {
		loc := d.Location
		loc.Resource = relativeTo(root, loc.Resource)
		msg, _, _ := strings.Cut(d.Message, "\n")
		fmt.Fprintf(&b, "%s: %s %s: %s\n", loc, d.Severity, d.Code, msg)
	}
	return b.String()
}

func relativeTo(root, path string) string {
	if root == "" || path == "" {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
