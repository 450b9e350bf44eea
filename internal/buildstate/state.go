// Package buildstate persists what a successful build left behind: input
// fingerprints, the type index, the classpath table, output ownership and
// the diagnostics still attached to unchanged inputs.
package buildstate

import (
	"maps"
	"slices"

	"github.com/google/uuid"

	"kiln/internal/cpdigest"
	"kiln/internal/diag"
	"kiln/internal/project"
	"kiln/internal/typeindex"
)

// SchemaVersion - увеличивать при любом изменении формата State
const SchemaVersion uint16 = 1

// Input is the fingerprint of one source file at the last commit.
type Input struct {
	Hash    project.Digest `msgpack:"hash"`
	ModTime int64          `msgpack:"mtime"`
	Size    int64          `msgpack:"size"`
}

// Output records which inputs produced a file under the output directory.
// Loose outputs were produced by a build but could not be mapped to any
// input (annotation processor resources, package-info leftovers).
type Output struct {
	Inputs []string `msgpack:"inputs"`
	Loose  bool     `msgpack:"loose"`
}

// State is the persisted build state of one module.
type State struct {
	Schema       uint16                       `msgpack:"schema"`
	BuildID      string                       `msgpack:"build_id"`
	PrevBuildID  string                       `msgpack:"prev_build_id"`
	ConfigDigest project.Digest               `msgpack:"config"`
	Inputs       map[string]Input             `msgpack:"inputs"`
	Types        []typeindex.Type             `msgpack:"types"`
	Classpath    cpdigest.Table               `msgpack:"classpath"`
	Outputs      map[string]Output            `msgpack:"outputs"`
	Messages     map[string][]diag.Diagnostic `msgpack:"messages"`

	// Fresh is set when no usable state was found on disk.
	Fresh bool `msgpack:"-"`
	// Discarded explains why an existing state file was ignored.
	Discarded string `msgpack:"-"`
}

// Empty returns a fresh state for a module never built before.
func Empty() *State {
	return &State{
		Schema:   SchemaVersion,
		Inputs:   make(map[string]Input),
		Outputs:  make(map[string]Output),
		Messages: make(map[string][]diag.Diagnostic),
		Fresh:    true,
	}
}

// Next starts the successor of st under a new build id. Maps are copied so
// st stays intact if the build fails.
func (st *State) Next() *State {
	next := &State{
		Schema:       SchemaVersion,
		BuildID:      uuid.NewString(),
		PrevBuildID:  st.BuildID,
		ConfigDigest: st.ConfigDigest,
		Inputs:       maps.Clone(st.Inputs),
		Types:        slices.Clone(st.Types),
		Classpath:    st.Classpath,
		Outputs:      make(map[string]Output, len(st.Outputs)),
		Messages:     make(map[string][]diag.Diagnostic, len(st.Messages)),
	}
	if next.Inputs == nil {
		next.Inputs = make(map[string]Input)
	}
	for k, v := range st.Outputs {
		next.Outputs[k] = Output{Inputs: slices.Clone(v.Inputs), Loose: v.Loose}
	}
	for k, v := range st.Messages {
		next.Messages[k] = slices.Clone(v)
	}
	return next
}

// Index rebuilds the type index from the persisted records.
func (st *State) Index() (*typeindex.Index, error) {
	return typeindex.FromRecords(st.Types)
}

