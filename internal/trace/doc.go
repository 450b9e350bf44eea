// Package trace provides the tracing and logging subsystem for kiln builds.
//
// Every build is a tree of spans: the CLI invocation (driver), one span per
// module, one per state-machine phase (scan, digest, decide, compile,
// reconcile, commit), one per recompilation round and, at the finest level,
// per compiled unit. Decisions such as "classpath changed" or "No sources,
// skipping compilation" are point events attached to the active span.
//
// # Usage
//
//	kiln build --trace=- --trace-level=phase
//	kiln build --trace=build.ndjson --trace-level=debug
//
// # Architecture
//
//   - Nop: zero-overhead tracer when disabled
//   - StreamTracer: immediate write to output (file/stderr)
//   - RingTracer: circular buffer dumped on failure
//   - MultiTracer: fan-out to several tracers
//
// # Levels
//
//   - LevelOff: no tracing
//   - LevelError: ring dump on failure only
//   - LevelPhase: driver, module and phase spans
//   - LevelDetail: adds recompilation rounds
//   - LevelDebug: everything including per-unit events
//
// # Context Propagation
//
//	ctx = trace.WithTracer(ctx, tracer)
//
//	ctx, span := trace.Enter(ctx, trace.ScopePhase, "digest")
//	defer span.End("")
//	trace.Note(ctx, trace.ScopeUnit, "classpath:changed", path, nil)
package trace
