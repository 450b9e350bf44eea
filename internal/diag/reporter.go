package diag

// Reporter - минимальный контракт получения диагностик от стадий сборки.
// Реализации: BagReporter и DedupReporter.
type Reporter interface {
	Report(code Code, sev Severity, loc Location, msg string)
}

// ReportError is a shortcut for SevError diagnostics.
func ReportError(r Reporter, code Code, loc Location, msg string) {
	if r != nil {
		r.Report(code, SevError, loc, msg)
	}
}

// ReportWarning is a shortcut for SevWarning diagnostics.
func ReportWarning(r Reporter, code Code, loc Location, msg string) {
	if r != nil {
		r.Report(code, SevWarning, loc, msg)
	}
}

// BagReporter пишет в *Bag.
type BagReporter struct{ Bag *Bag }

func (r BagReporter) Report(code Code, sev Severity, loc Location, msg string) {
	if r.Bag == nil {
		return
	}
	r.Bag.Add(New(sev, code, loc, msg))
}
