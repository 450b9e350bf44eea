// Package diag defines the diagnostic model shared by every build stage.
//
// A Diagnostic carries a Severity (warning or error), a numeric Code with a
// stable "KLN" string form, a Location (resource path plus optional line and
// column) and the message text as reported by the compiler or by kiln itself.
//
// Producers emit through a Reporter; BagReporter collects into a Bag that
// supports limits and sorting, DedupReporter drops repeats. Rendering lives in
// internal/diagfmt, persistence across builds in internal/diagstore.
//
// Diagnostics are plain data and are serialised as part of the build state,
// so keep new fields deterministic.
package diag
