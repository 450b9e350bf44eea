package diag

// Severity defines the importance of a diagnostic.
type Severity uint8

const (
	// SevWarning is for diagnostics that never fail a build.
	SevWarning Severity = iota + 1
	SevError
)

func (s Severity) String() string {
	switch s {
	case SevWarning:
		return "WARNING"
	case SevError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// ParseSeverity maps compiler wording ("error", "warning") to a Severity.
func ParseSeverity(s string) (Severity, bool) {
	switch s {
	case "error", "ERROR":
		return SevError, true
	case "warning", "WARNING", "mandatory warning":
		return SevWarning, true
	}
	return 0, false
}
