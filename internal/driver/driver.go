// Package driver runs the build-avoidance state machine of one module:
// scan sources, digest the classpath, decide, compile in rounds until the
// rebuild closure is exhausted, reconcile outputs and commit the state.
package driver

import (
	"context"
	"fmt"
	"slices"

	"kiln/internal/backend"
	"kiln/internal/buildstate"
	"kiln/internal/cpcache"
	"kiln/internal/cpdigest"
	"kiln/internal/diag"
	"kiln/internal/diagstore"
	"kiln/internal/observ"
	"kiln/internal/reconcile"
	"kiln/internal/scan"
	"kiln/internal/trace"
	"kiln/internal/typeindex"
)

// Module is everything one build needs from its host.
type Module struct {
	Name      string
	Sources   scan.Options
	Classpath []string // ordered
	// Direct lists the classpath entries the module declared itself; nil
	// means all of them.
	Direct    []string
	OutputDir string
	Config    backend.Config
	// Resource receives diagnostics that name no source, usually the
	// manifest path.
	Resource string
}

// Outcome is what a build reports back.
type Outcome struct {
	Module      string
	State       State
	History     []State
	Skipped     bool
	Full        bool
	Reason      string
	BuildID     string
	Sources     int
	Compiled    []string
	Rounds      int
	Changes     reconcile.Changes
	Diagnostics []diag.Diagnostic
}

func (o Outcome) ErrorCount() int {
	return diag.CountSeverity(o.Diagnostics, diag.SevError)
}

// Driver runs module builds. One Driver may serve concurrent builds of
// different modules; the entry cache is the only state they share.
type Driver struct {
	Cache    *cpcache.Cache
	Compiler backend.Compiler
	Timer    *observ.Timer
	// Observer, if set, sees every phase boundary.
	Observer PhaseObserver
}

func New(cache *cpcache.Cache, compiler backend.Compiler, timer *observ.Timer) *Driver {
	return &Driver{Cache: cache, Compiler: compiler, Timer: timer}
}

// build is the per-run state threaded through the phases.
type build struct {
	d    *Driver
	mod  Module
	ctx  context.Context
	m    *machine
	out  *Outcome
	prev *buildstate.State
	cp   cpdigest.Result
	scan scan.Result

	ix      *typeindex.Index
	ixLost  bool
	tracker backend.Tracker
	store   *diagstore.Store
}

// Run builds mod. Compile errors end in Failed with a CompileError; the
// previously committed state is left untouched on every failure.
func (d *Driver) Run(ctx context.Context, mod Module) (out Outcome, err error) {
	out.Module = mod.Name
	ctx, modSpan := trace.Enter(ctx, trace.ScopeModule, "module:"+mod.Name)

	b := &build{d: d, mod: mod, out: &out}
	var (
		phase    *trace.Span
		timerIdx = -1
		clock    = &phaseClock{module: mod.Name, observe: d.Observer}
	)
	b.ctx = ctx
	b.m = &machine{onEnter: func(_, to State) {
		clock.enter(to)
		phase.End("")
		d.Timer.End(timerIdx, "")
		phase, timerIdx = nil, -1
		if to.Terminal() {
			return
		}
		b.ctx, phase = trace.Enter(ctx, trace.ScopePhase, to.String())
		timerIdx = d.Timer.Begin(mod.Name + "/" + to.String())
	}}

	defer func() {
		if err != nil && !b.m.state.Terminal() {
			b.m.to(Failed)
		}
		clock.close()
		phase.End("")
		d.Timer.End(timerIdx, "")
		out.State = b.m.state
		out.History = slices.Clone(b.m.history)
		modSpan.WithExtra("state", out.State.String())
		modSpan.End(out.Reason)
	}()

	if err := mod.Config.Validate(); err != nil {
		return out, err
	}
	if err := mod.Sources.Validate(); err != nil {
		return out, err
	}

	b.m.to(Scanning)
	sources, err := scan.Walk(b.ctx, mod.Sources)
	if err != nil {
		return out, err
	}
	out.Sources = len(sources)

	b.m.to(Digesting)
	if err := b.digest(sources); err != nil {
		return out, err
	}

	b.m.to(Deciding)
	if len(sources) == 0 {
		out.Skipped = true
		out.Reason = "No sources, skipping compilation"
		b.point("decide", out.Reason)
		b.m.to(Skipped)
		return out, nil
	}
	full, reason := b.needsFull()
	pending, err := b.decide(full)
	if err != nil {
		return out, err
	}
	if !full && len(pending) == 0 && len(b.scan.Removed) == 0 {
		out.Skipped = true
		out.Reason = fmt.Sprintf("Skipped compilation, all %d sources are up to date", len(sources))
		b.point("decide", out.Reason)
		b.m.to(Skipped)
		err = b.skip()
		return out, err
	}
	out.Full = full
	out.Reason = reason
	b.point("decide", fmt.Sprintf("Compiling %d sources to %s", len(pending), mod.OutputDir))

	b.m.to(Compiling)
	err = b.compile(pending, full)
	return out, err
}

func (b *build) point(name, detail string) {
	trace.Note(b.ctx, trace.ScopePhase, name, detail, nil)
}

// digest loads the committed state, classifies sources and digests the
// classpath against it.
func (b *build) digest(sources []scan.Source) error {
	prev, err := buildstate.Open(b.mod.OutputDir).Load()
	if err != nil {
		return err
	}
	if prev.Discarded != "" {
		b.point("state", "previous build state discarded: "+prev.Discarded)
	}
	b.prev = prev
	b.store = diagstore.FromMap(prev.Messages)
	if err := b.loadIndex(); err != nil {
		return err
	}

	b.scan, err = scan.Classify(sources, prev.Inputs)
	if err != nil {
		return err
	}

	entries := make([]*cpcache.Entry, 0, len(b.mod.Classpath))
	for _, p := range b.mod.Classpath {
		entries = append(entries, b.d.Cache.Get(p))
	}
	b.cp, err = cpdigest.Digest(b.ctx, entries, prev.Classpath)
	if err != nil {
		return err
	}
	for _, path := range b.cp.Unreadable {
		b.out.Diagnostics = append(b.out.Diagnostics, diag.NewWarning(diag.ClasspathUnreadable,
			diag.Location{Resource: path}, "classpath entry is missing or unreadable"))
	}
	if b.cp.Changed {
		b.point("classpath", fmt.Sprintf("classpath changed (structural=%t)", b.cp.Structural))
	}
	return nil
}

// needsFull reports whether nothing of the previous build can be reused.
func (b *build) needsFull() (bool, string) {
	switch {
	case b.prev.Fresh && b.prev.Discarded != "":
		return true, "previous build state discarded"
	case b.prev.Fresh:
		return true, "no previous build state"
	case b.prev.ConfigDigest != b.mod.Config.Digest():
		return true, "compiler configuration changed"
	case b.cp.FullRebuild:
		return true, "classpath order or readability changed"
	case b.ixLost:
		return true, "type index unavailable"
	}
	return false, ""
}

// skip is the no-change path: carried diagnostics are reported again and
// loose outputs are kept. The state is committed only if it moved.
func (b *build) skip() error {
	b.out.Diagnostics = append(b.out.Diagnostics, b.store.All()...)
	b.m.to(Reconciling)

	next := b.prev.Next()
	next.Inputs = b.scan.Inputs()
	next.Classpath = b.cp.Table
	rec := reconcile.New(b.mod.OutputDir, next.Outputs)
	if _, err := rec.KeepLoose(); err != nil {
		return err
	}
	next.Outputs = rec.Outputs()

	if !b.cp.Changed && sameFingerprints(b.prev, next) {
		b.out.BuildID = b.prev.BuildID
		b.m.to(Committed)
		return nil
	}
	if err := buildstate.Open(b.mod.OutputDir).Commit(next); err != nil {
		return err
	}
	b.out.BuildID = next.BuildID
	b.m.to(Committed)
	return nil
}

func sameFingerprints(a, b *buildstate.State) bool {
	if len(a.Inputs) != len(b.Inputs) || len(a.Outputs) != len(b.Outputs) {
		return false
	}
	for k, v := range a.Inputs {
		if b.Inputs[k] != v {
			return false
		}
	}
	for k := range a.Outputs {
		if _, ok := b.Outputs[k]; !ok {
			return false
		}
	}
	return true
}
