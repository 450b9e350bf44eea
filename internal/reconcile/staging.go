package reconcile

import (
	"io/fs"
	"os"
	"path/filepath"

	"kiln/internal/builderr"
	"kiln/internal/buildstate"
)

// NewStaging creates an empty directory for one compile round next to the
// build state, on the same volume as the output directory.
func NewStaging(outputDir string) (string, error) {
	base := filepath.Join(outputDir, buildstate.DirName)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", builderr.IO("create staging", base, err)
	}
	dir, err := os.MkdirTemp(base, "stage-*")
	if err != nil {
		return "", builderr.IO("create staging", base, err)
	}
	return dir, nil
}

// Files lists every regular file under dir as slash-separated relative paths.
func Files(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, builderr.IO("list staging", dir, err)
	}
	return out, nil
}

