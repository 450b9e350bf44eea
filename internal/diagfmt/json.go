package diagfmt

import (
	"encoding/json"
	"io"

	"kiln/internal/diag"
)

// LocationJSON представляет местоположение в файле для JSON
type LocationJSON struct {
	File   string `json:"file,omitempty"`
	Line   uint32 `json:"line,omitempty"`
	Column uint32 `json:"column,omitempty"`
}

// DiagnosticJSON представляет диагностику в JSON формате
type DiagnosticJSON struct {
	Module   string       `json:"module,omitempty"`
	Severity string       `json:"severity"`
	Code     string       `json:"code"`
	Title    string       `json:"title"`
	Message  string       `json:"message"`
	Location LocationJSON `json:"location"`
}

// DiagnosticsOutput представляет корневую структуру JSON вывода
type DiagnosticsOutput struct {
	Diagnostics []DiagnosticJSON `json:"diagnostics"`
	Count       int              `json:"count"`
	Errors      int              `json:"errors"`
	Warnings    int              `json:"warnings"`
	Truncated   int              `json:"truncated,omitempty"`
}

// Group is the diagnostics of one module.
type Group struct {
	Module string
	Items  []diag.Diagnostic
}

// BuildDiagnosticsOutput формирует структуру JSON-вывода без сериализации.
// Errors and Warnings count every diagnostic, including truncated ones.
func BuildDiagnosticsOutput(groups []Group, opts JSONOpts) DiagnosticsOutput {
	out := DiagnosticsOutput{Diagnostics: []DiagnosticJSON{}}
	for _, g := range groups {
		out.Errors += diag.CountSeverity(g.Items, diag.SevError)
		out.Warnings += diag.CountSeverity(g.Items, diag.SevWarning)
		for _, d := range g.Items {
			if opts.Max > 0 && len(out.Diagnostics) >= opts.Max {
				out.Truncated++
				continue
			}
			out.Diagnostics = append(out.Diagnostics, DiagnosticJSON{
				Module:   g.Module,
				Severity: d.Severity.String(),
				Code:     d.Code.ID(),
				Title:    d.Code.Title(),
				Message:  d.Message,
				Location: LocationJSON{
					File:   formatPath(d.Location.Resource, opts.PathMode, opts.Root),
					Line:   d.Location.Line,
					Column: d.Location.Column,
				},
			})
		}
	}
	out.Count = len(out.Diagnostics)
	return out
}

// JSON форматирует диагностики в JSON формат.
func JSON(w io.Writer, groups []Group, opts JSONOpts) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(BuildDiagnosticsOutput(groups, opts))
}
