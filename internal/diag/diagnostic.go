package diag

import "fmt"

// Location points into a resource. Line and Column are 1-based; zero means
// the compiler gave no position.
type Location struct {
	Resource string `msgpack:"resource"`
	Line     uint32 `msgpack:"line"`
	Column   uint32 `msgpack:"column"`
}

func (l Location) String() string {
	switch {
	case l.Line == 0:
		return l.Resource
	case l.Column == 0:
		return fmt.Sprintf("%s:%d", l.Resource, l.Line)
	default:
		return fmt.Sprintf("%s:%d:%d", l.Resource, l.Line, l.Column)
	}
}

type Diagnostic struct {
	Severity Severity `msgpack:"sev"`
	Code     Code     `msgpack:"code"`
	Location Location `msgpack:"loc"`
	Message  string   `msgpack:"msg"`
}

func New(sev Severity, code Code, loc Location, msg string) Diagnostic {
	return Diagnostic{
		Severity: sev,
		Code:     code,
		Location: loc,
		Message:  msg,
	}
}

func NewError(code Code, loc Location, msg string) Diagnostic {
	return New(SevError, code, loc, msg)
}

func NewWarning(code Code, loc Location, msg string) Diagnostic {
	return New(SevWarning, code, loc, msg)
}

// At returns a copy relocated to another resource, keeping line and column.
func (d Diagnostic) At(resource string) Diagnostic {
	d.Location.Resource = resource
	return d
}
