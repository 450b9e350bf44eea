package buildpipeline

import "time"

// Stage describes a high-level pipeline phase of one module build.
type Stage string

const (
	// StageScan enumerates and fingerprints sources.
	StageScan Stage = "scan"
	// StageDigest compares sources and classpath with the committed state.
	StageDigest Stage = "digest"
	// StageCompile runs the compile rounds.
	StageCompile Stage = "compile"
	// StageReconcile installs outputs and prunes stale ones.
	StageReconcile Stage = "reconcile"
	// StageCommit persists the build state.
	StageCommit Stage = "commit"
)

// Status captures progress state within a stage.
type Status string

const (
	// StatusQueued indicates the module is waiting to start.
	StatusQueued Status = "queued"
	// StatusWorking indicates the module is currently working.
	StatusWorking Status = "working"
	// StatusDone indicates the module compiled and committed.
	StatusDone Status = "done"
	// StatusUpToDate indicates nothing had to be compiled.
	StatusUpToDate Status = "up-to-date"
	// StatusBlocked indicates a dependency failed.
	StatusBlocked Status = "blocked"
	// StatusError indicates the module failed.
	StatusError Status = "error"
)

// Event reports progress for a module (or for the whole build when Module
// is empty).
type Event struct {
	Module  string
	Stage   Stage
	Status  Status
	Err     error
	Elapsed time.Duration
}

// ProgressSink consumes progress events. Sinks are called from the
// goroutines building modules and must be safe for concurrent use.
type ProgressSink interface {
	OnEvent(Event)
}

// Timings holds stage durations.
type Timings struct {
	stages map[Stage]time.Duration
}

func (t *Timings) ensure() {
	if t.stages == nil {
		t.stages = make(map[Stage]time.Duration)
	}
}

// Set stores a duration for the given stage.
func (t *Timings) Set(stage Stage, dur time.Duration) {
	if t == nil {
		return
	}
	t.ensure()
	t.stages[stage] = dur
}

// Add accumulates a duration for the given stage.
func (t *Timings) Add(stage Stage, dur time.Duration) {
	if t == nil {
		return
	}
	t.ensure()
	t.stages[stage] += dur
}

// Merge adds every stage of other.
func (t *Timings) Merge(other Timings) {
	for stage, dur := range other.stages {
		t.Add(stage, dur)
	}
}

// Has reports whether a duration for stage is recorded.
func (t Timings) Has(stage Stage) bool {
	if t.stages == nil {
		return false
	}
	_, ok := t.stages[stage]
	return ok
}

// Duration returns the recorded duration for stage.
func (t Timings) Duration(stage Stage) time.Duration {
	if t.stages == nil {
		return 0
	}
	return t.stages[stage]
}

// Sum returns the sum of durations across the provided stages.
func (t Timings) Sum(stages ...Stage) time.Duration {
	if t.stages == nil {
		return 0
	}
	var total time.Duration
	for _, stage := range stages {
		total += t.stages[stage]
	}
	return total
}
