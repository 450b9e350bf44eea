package diagfmt

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"fortio.org/safecast"
	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"kiln/internal/diag"
)

type palette struct {
	err, warn, code, path, dim *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		err:  color.New(color.FgRed, color.Bold),
		warn: color.New(color.FgYellow, color.Bold),
		code: color.New(color.Bold),
		path: color.New(color.FgCyan),
		dim:  color.New(color.Faint),
	}
	for _, c := range []*color.Color{p.err, p.warn, p.code, p.path, p.dim} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p palette) severity(s diag.Severity) *color.Color {
	if s == diag.SevError {
		return p.err
	}
	return p.warn
}

// Pretty форматирует диагностики в человекочитаемый вид.
// Для каждой диагностики печатает
//
//	<path>:<line>:<col>: <SEV> <CODE>: <Message>
//
// затем строку исходника с ^ под колонкой, затем продолжение сообщения.
// items are printed in the order given; callers sort them first.
func Pretty(w io.Writer, items []diag.Diagnostic, opts PrettyOpts) {
	pal := newPalette(opts.Color)
	lines := newLineCache()

	shown := items
	if opts.Max > 0 && len(shown) > opts.Max {
		shown = shown[:opts.Max]
	}
	for _, d := range shown {
		loc := d.Location
		loc.Resource = formatPath(loc.Resource, opts.PathMode, opts.Root)
		head, rest, _ := strings.Cut(d.Message, "\n")

		if loc.Resource != "" {
			fmt.Fprintf(w, "%s: ", pal.path.Sprint(loc.String()))
		}
		fmt.Fprintf(w, "%s %s: %s\n", pal.severity(d.Severity).Sprint(d.Severity), pal.code.Sprint(d.Code.ID()), head)

		if opts.Context && d.Location.Line > 0 {
			if text, ok := lines.line(d.Location.Resource, d.Location.Line); ok {
				printContext(w, pal, text, d, opts.Width)
			}
		}
		for _, l := range strings.Split(rest, "\n") {
			if rest == "" {
				break
			}
			fmt.Fprintf(w, "    %s\n", l)
		}
	}
	if hidden := len(items) - len(shown); hidden > 0 {
		fmt.Fprintf(w, "%s\n", pal.dim.Sprintf("... %d more diagnostic(s) not shown", hidden))
	}
	if opts.Summary {
		PrintSummary(w, items, opts.Color)
	}
}

// PrintSummary prints the "N error(s), M warning(s)" line; nothing when
// there are no diagnostics.
func PrintSummary(w io.Writer, items []diag.Diagnostic, useColor bool) {
	errs := diag.CountSeverity(items, diag.SevError)
	warns := diag.CountSeverity(items, diag.SevWarning)
	if errs == 0 && warns == 0 {
		return
	}
	pal := newPalette(useColor)
	var parts []string
	if errs > 0 {
		parts = append(parts, pal.err.Sprintf("%d error(s)", errs))
	}
	if warns > 0 {
		parts = append(parts, pal.warn.Sprintf("%d warning(s)", warns))
	}
	fmt.Fprintln(w, strings.Join(parts, ", "))
}

func printContext(w io.Writer, pal palette, text string, d diag.Diagnostic, width uint8) {
	text = strings.ReplaceAll(strings.TrimRight(text, "\r"), "\t", "    ")
	if width > 0 {
		text = runewidth.Truncate(text, int(width), "…")
	}
	lineNo := fmt.Sprintf("%d", d.Location.Line)
	gutter := strings.Repeat(" ", len(lineNo))
	fmt.Fprintf(w, " %s %s %s\n", pal.dim.Sprint(lineNo), pal.dim.Sprint("|"), text)

	col, err := safecast.Conv[int](d.Location.Column)
	if err != nil || col == 0 {
		return
	}
	// колонка в рунах, отступ в ячейках терминала
	runes := []rune(text)
	if col-1 > len(runes) {
		return
	}
	pad := runewidth.StringWidth(string(runes[:col-1]))
	fmt.Fprintf(w, " %s %s %s%s\n", gutter, pal.dim.Sprint("|"), strings.Repeat(" ", pad), pal.severity(d.Severity).Sprint("^"))
}

type lineCache struct {
	files map[string][]string
}

func newLineCache() *lineCache {
	return &lineCache{files: make(map[string][]string)}
}

func (c *lineCache) line(path string, n uint32) (string, bool) {
	lines, ok := c.files[path]
	if !ok {
		data, err := os.ReadFile(path)
		if err == nil {
			sc := bufio.NewScanner(bytes.NewReader(data))
			sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
			for sc.Scan() {
				lines = append(lines, sc.Text())
			}
		}
		c.files[path] = lines
	}
	idx, err := safecast.Conv[int](n)
	if err != nil || idx < 1 || idx > len(lines) {
		return "", false
	}
	return lines[idx-1], true
}
