// Package scan enumerates source inputs under configured roots and
// classifies them against the previous build.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"kiln/internal/builderr"
	"kiln/internal/buildstate"
	"kiln/internal/project"
	"kiln/internal/trace"
)

// SourceExt is the only extension include patterns may select.
const SourceExt = ".java"

// DefaultIncludes apply when no include pattern is configured.
var DefaultIncludes = []string{"**/*" + SourceExt}

type Status uint8

const (
	Unmodified Status = iota
	Added
	Modified
	Removed
)

func (s Status) String() string {
	switch s {
	case Unmodified:
		return "unmodified"
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	}
	return "unknown"
}

// Source is one enumerated input.
type Source struct {
	Path   string // absolute, cleaned
	Root   string
	Rel    string // slash-separated, relative to Root
	Input  buildstate.Input
	Status Status
}

// Options select sources. Roots keep their order; the first root that
// yields a relative path wins on overlap.
type Options struct {
	Roots    []string
	Includes []string
	Excludes []string
}

// Validate checks the filters: include patterns must select SourceExt files.
func (o Options) Validate() error {
	var illegal []string
	for _, inc := range o.Includes {
		if !strings.HasSuffix(inc, SourceExt) {
			illegal = append(illegal, inc)
		}
	}
	if len(illegal) > 0 {
		return builderr.Config("include patterns must end with %s. Illegal patterns: [%s]",
			SourceExt, strings.Join(illegal, ", "))
	}
	for _, p := range append(slices.Clone(o.Includes), o.Excludes...) {
		if !validPattern(p) {
			return builderr.Config("malformed source pattern %q", p)
		}
	}
	return nil
}

func (o Options) includes() []string {
	if len(o.Includes) == 0 {
		return DefaultIncludes
	}
	return o.Includes
}

// Selected reports whether rel passes the include and exclude filters.
func (o Options) Selected(rel string) bool {
	for _, ex := range o.Excludes {
		if Match(ex, rel) {
			return false
		}
	}
	for _, inc := range o.includes() {
		if Match(inc, rel) {
			return true
		}
	}
	return false
}

// Walk enumerates matching files under every root, sorted by path.
// Missing roots are skipped with a trace point.
func Walk(ctx context.Context, opts Options) ([]Source, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []Source
	for _, root := range opts.Roots {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			trace.Note(ctx, trace.ScopeUnit, "source-root", root+" does not exist or is not a directory, skipped", nil)
			continue
		}
		matched := 0
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if !opts.Selected(rel) {
				return nil
			}
			if _, dup := seen[path]; dup {
				return nil
			}
			seen[path] = struct{}{}
			out = append(out, Source{Path: path, Root: root, Rel: rel})
			matched++
			return nil
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, builderr.IO("scan sources", root, err)
		}
		trace.Note(ctx, trace.ScopeUnit, "source-root", root, map[string]string{
			"matched": fmt.Sprint(matched),
		})
	}
	slices.SortFunc(out, func(a, b Source) int { return strings.Compare(a.Path, b.Path) })
	return out, nil
}

// Result is the classification of a scan against the previous inputs.
type Result struct {
	Sources []Source // every current source, with status
	Removed []string // paths present before and gone now, sorted
}

// Paths lists the sources whose status is one of statuses, sorted.
func (r Result) Paths(statuses ...Status) []string {
	var out []string
	for _, s := range r.Sources {
		if slices.Contains(statuses, s.Status) {
			out = append(out, s.Path)
		}
	}
	return out
}

// Inputs is the fingerprint table of the current sources.
func (r Result) Inputs() map[string]buildstate.Input {
	out := make(map[string]buildstate.Input, len(r.Sources))
	for _, s := range r.Sources {
		out[s.Path] = s.Input
	}
	return out
}

// Classify fingerprints sources against prev. Size and modification time
// equal to the previous build skip hashing; otherwise the content hash
// decides, so a touched but identical file stays unmodified.
func Classify(sources []Source, prev map[string]buildstate.Input) (Result, error) {
	res := Result{Sources: make([]Source, len(sources))}
	current := make(map[string]struct{}, len(sources))
	for i, s := range sources {
		current[s.Path] = struct{}{}
		info, err := os.Stat(s.Path)
		if err != nil {
			return Result{}, builderr.IO("stat source", s.Path, err)
		}
		in := buildstate.Input{ModTime: info.ModTime().UnixNano(), Size: info.Size()}
		old, known := prev[s.Path]
		switch {
		case known && old.ModTime == in.ModTime && old.Size == in.Size && !old.Hash.IsZero():
			in.Hash = old.Hash
			s.Status = Unmodified
		default:
			h, err := project.HashFile(s.Path)
			if err != nil {
				return Result{}, builderr.IO("hash source", s.Path, err)
			}
			in.Hash = h
			switch {
			case !known:
				s.Status = Added
			case old.Hash == h:
				s.Status = Unmodified
			default:
				s.Status = Modified
			}
		}
		s.Input = in
		res.Sources[i] = s
	}
	for path := range prev {
		if _, ok := current[path]; !ok {
			res.Removed = append(res.Removed, path)
		}
	}
	slices.Sort(res.Removed)
	return res, nil
}
