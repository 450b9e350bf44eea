// Package classfile reads JVM class files far enough to answer two questions
// for incremental compilation: what is the externally visible shape of the
// type, and which other types does it reference, split into references that
// are part of that shape (structural) and references that only occur in
// method bodies and private members (body-only).
//
// Type names are binary names with dots for packages and '$' for nesting,
// e.g. "com.acme.Outer$Inner".
package classfile
