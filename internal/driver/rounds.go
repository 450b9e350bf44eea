package driver

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"kiln/internal/backend"
	"kiln/internal/builderr"
	"kiln/internal/buildstate"
	"kiln/internal/classfile"
	"kiln/internal/cpcache"
	"kiln/internal/diag"
	"kiln/internal/reconcile"
	"kiln/internal/scan"
	"kiln/internal/trace"
	"kiln/internal/typeindex"
)

// maxRounds bounds the fixpoint; every round compiles at least one source
// whose dependency moved, so real projects settle within a few rounds.
const maxRounds = 64

// loadIndex picks the type graph of the previous build: the backend's own
// when it tracks types, the one stored in the build state otherwise.
func (b *build) loadIndex() error {
	if t, ok := b.d.Compiler.(backend.Tracker); ok {
		b.tracker = t
		ix, err := t.LoadIndex()
		if err != nil {
			return err
		}
		b.ix = ix
		b.ixLost = ix.Len() == 0 && len(b.prev.Inputs) > 0
		return nil
	}
	ix, err := b.prev.Index()
	if err != nil {
		b.point("state", "type index rejected: "+err.Error())
		b.ix, b.ixLost = typeindex.New(), true
		return nil
	}
	b.ix = ix
	return nil
}

// decide computes the first round: added and modified inputs plus the
// owners of everything depending on types that disappeared with removed
// inputs or changed on the classpath.
func (b *build) decide(full bool) ([]string, error) {
	if full {
		b.ix = typeindex.New()
		return b.scan.Paths(scan.Added, scan.Modified, scan.Unmodified), nil
	}
	var seeds []string
	for _, in := range b.scan.Removed {
		seeds = append(seeds, b.ix.TypesOf(in)...)
	}
	seeds = append(seeds, b.cp.ChangedTypes...)

	pending := make(map[string]struct{})
	for _, p := range b.scan.Paths(scan.Added, scan.Modified) {
		pending[p] = struct{}{}
	}
	current := b.currentSources()
	for _, owner := range b.ix.OwnersOf(b.ix.Closure(seeds)) {
		if _, ok := current[owner]; ok {
			pending[owner] = struct{}{}
		}
	}
	lost := b.lostOwners()
	for _, owner := range lost {
		pending[owner] = struct{}{}
	}
	if len(lost) > 0 {
		b.point("decide", fmt.Sprintf("%d unchanged sources lost outputs", len(lost)))
	}

	if len(b.scan.Removed) > 0 {
		batch := make(map[string][]typeindex.Type, len(b.scan.Removed))
		for _, in := range b.scan.Removed {
			batch[in] = nil
		}
		if _, err := b.ix.Apply(batch); err != nil {
			return nil, err
		}
	}
	return slices.Sorted(maps.Keys(pending)), nil
}

// lostOwners returns the unmodified sources that own an output missing
// from disk. Outputs vanish when deleted by hand, or when a failed build
// already removed them for a source that was later restored unchanged.
func (b *build) lostOwners() []string {
	unmodified := toSet(b.scan.Paths(scan.Unmodified))
	lost := make(map[string]struct{})
	for rel, o := range b.prev.Outputs {
		if o.Loose {
			continue
		}
		if _, err := os.Stat(filepath.Join(b.mod.OutputDir, filepath.FromSlash(rel))); err == nil {
			continue
		}
		for _, in := range o.Inputs {
			if _, ok := unmodified[in]; ok {
				lost[in] = struct{}{}
			}
		}
	}
	return slices.Sorted(maps.Keys(lost))
}

func (b *build) currentSources() map[string]struct{} {
	set := make(map[string]struct{}, len(b.scan.Sources))
	for _, s := range b.scan.Sources {
		set[s.Path] = struct{}{}
	}
	return set
}

// round is one compiled batch waiting to be installed.
type round struct {
	staging  string
	sources  []string
	produced map[string][]string
}

// compile runs rounds until no further input is selected, then installs
// every round in order. Nothing reaches the output directory unless all
// rounds compiled cleanly, except the outputs of removed inputs, which are
// deleted up front.
func (b *build) compile(pending []string, full bool) error {
	rec := reconcile.New(b.mod.OutputDir, maps.Clone(b.prev.Outputs))
	if _, err := rec.Remove(b.scan.Removed); err != nil {
		return err
	}
	for _, in := range b.scan.Removed {
		b.store.Remove(in)
	}

	var access *cpcache.Classpath
	if b.mod.Config.AccessRules == backend.AccessError {
		access = cpcache.NewClasspath(b.d.Cache, b.mod.Classpath, b.mod.Direct)
	}

	var rounds []round
	defer func() {
		for _, r := range rounds {
			_ = os.RemoveAll(r.staging)
		}
	}()

	current := b.currentSources()
	compiled := make(map[string]struct{})
	var global []diag.Diagnostic
	errorsSeen := 0
	for n := 0; len(pending) > 0; n++ {
		if n == maxRounds {
			return fmt.Errorf("rebuild did not settle after %d rounds", maxRounds)
		}
		staging, err := reconcile.NewStaging(b.mod.OutputDir)
		if err != nil {
			return err
		}
		rounds = append(rounds, round{staging: staging, sources: pending})

		cp := make([]string, 0, len(rounds)+len(b.mod.Classpath))
		for i := len(rounds) - 2; i >= 0; i-- {
			cp = append(cp, rounds[i].staging)
		}
		cp = append(cp, b.mod.OutputDir)
		cp = append(cp, b.mod.Classpath...)

		res, err := b.runRound(n, backend.Invocation{
			Config:    b.mod.Config,
			Staging:   staging,
			Classpath: cp,
			Sources:   pending,
			Access:    access,
		})
		if err != nil {
			return err
		}
		rounds[n].produced = res.Produced
		for _, p := range pending {
			compiled[p] = struct{}{}
		}

		perSource, rest := b.split(res.Diagnostics, current)
		global = append(global, rest...)
		for _, p := range pending {
			b.store.Replace(p, perSource[p])
		}
		errorsSeen += res.ErrorCount()
		if errorsSeen > 0 {
			break
		}

		batch, err := b.records(staging, pending, res)
		if err != nil {
			return err
		}
		delta, err := b.ix.Apply(batch)
		var dup *typeindex.DuplicateError
		if errors.As(err, &dup) {
			owner := dup.Owners[len(dup.Owners)-1]
			b.store.Replace(owner, append(b.store.Get(owner),
				diag.NewError(diag.CompilerDuplicateType, diag.Location{Resource: owner}, dup.Error())))
			errorsSeen++
			break
		}
		if err != nil {
			return err
		}

		moved := delta.Moved()
		this := toSet(pending)
		next := make(map[string]struct{})
		for _, owner := range b.ix.OwnersOf(b.ix.Closure(moved)) {
			if _, ok := current[owner]; !ok {
				continue
			}
			if _, ok := this[owner]; ok {
				continue
			}
			next[owner] = struct{}{}
		}
		if len(moved) > 0 {
			b.point("round", fmt.Sprintf("round %d moved %d types, %d dependents selected", n, len(moved), len(next)))
		}
		pending = slices.Sorted(maps.Keys(next))
	}

	b.out.Rounds = len(rounds)
	b.out.Compiled = slices.Sorted(maps.Keys(compiled))
	if b.mod.Resource != "" {
		b.store.Replace(b.mod.Resource, global)
	}
	b.out.Diagnostics = append(b.out.Diagnostics, b.store.All()...)
	if b.mod.Resource == "" {
		b.out.Diagnostics = append(b.out.Diagnostics, global...)
	}
	diag.SortItems(b.out.Diagnostics)

	if errorsSeen > 0 {
		b.m.to(Failed)
		return &builderr.CompileError{Count: diag.CountSeverity(b.out.Diagnostics, diag.SevError)}
	}
	b.point("compile", fmt.Sprintf("Compiled %d sources", len(compiled)))

	b.m.to(Reconciling)
	for i, r := range rounds {
		if _, err := rec.Install(r.staging, r.sources, r.produced, full && i == 0); err != nil {
			return err
		}
	}
	if _, err := rec.KeepLoose(); err != nil {
		return err
	}
	b.out.Changes = rec.Total()
	return b.commit(rec)
}

func (b *build) runRound(n int, inv backend.Invocation) (backend.Result, error) {
	ctx, span := trace.Enter(b.ctx, trace.ScopeRound, "round "+strconv.Itoa(n))
	span.WithExtra("sources", strconv.Itoa(len(inv.Sources)))
	for _, src := range inv.Sources {
		trace.Note(ctx, trace.ScopeUnit, "compile", src, nil)
	}
	res, err := b.d.Compiler.Compile(ctx, inv)
	if err != nil {
		span.End(err.Error())
		return res, err
	}
	span.WithExtra("produced", strconv.Itoa(len(res.Produced)))
	span.End(fmt.Sprintf("%d errors", res.ErrorCount()))
	return res, nil
}

// split groups diagnostics by current source; the rest have no source the
// module tracks.
func (b *build) split(items []diag.Diagnostic, current map[string]struct{}) (map[string][]diag.Diagnostic, []diag.Diagnostic) {
	per := make(map[string][]diag.Diagnostic)
	var rest []diag.Diagnostic
	for _, d := range items {
		if _, ok := current[d.Location.Resource]; ok {
			per[d.Location.Resource] = append(per[d.Location.Resource], d)
			continue
		}
		if b.mod.Resource != "" {
			d = d.At(b.mod.Resource)
		}
		rest = append(rest, d)
	}
	return per, rest
}

// records returns the type records of one round keyed by owner. Every
// compiled source appears, so owners that stopped declaring types lose
// them.
func (b *build) records(staging string, sources []string, res backend.Result) (map[string][]typeindex.Type, error) {
	batch := make(map[string][]typeindex.Type, len(sources))
	for _, src := range sources {
		batch[src] = nil
	}
	if res.Types != nil {
		for owner, types := range res.Types {
			batch[owner] = types
		}
		return batch, nil
	}
	for _, rel := range slices.Sorted(maps.Keys(res.Produced)) {
		owners := res.Produced[rel]
		if len(owners) == 0 || filepath.Ext(rel) != ".class" {
			continue
		}
		path := filepath.Join(staging, filepath.FromSlash(rel))
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, builderr.IO("read output", path, err)
		}
		cf, err := classfile.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", rel, err)
		}
		batch[owners[0]] = append(batch[owners[0]], typeindex.FromClass(cf, owners[0]))
	}
	return batch, nil
}

// commit persists the successor state. The self-tracking graph is saved
// first; a graph newer than the state only causes extra recompilation.
func (b *build) commit(rec *reconcile.Reconciler) error {
	next := b.prev.Next()
	next.ConfigDigest = b.mod.Config.Digest()
	next.Inputs = b.scan.Inputs()
	next.Classpath = b.cp.Table
	next.Outputs = rec.Outputs()

	current := b.currentSources()
	b.store.Retain(func(resource string) bool {
		if resource == b.mod.Resource {
			return true
		}
		_, ok := current[resource]
		return ok
	})
	next.Messages = b.store.Map()

	if b.tracker != nil {
		if err := b.tracker.SaveIndex(b.ix); err != nil {
			return err
		}
		next.Types = nil
	} else {
		next.Types = b.ix.Records()
	}
	if err := buildstate.Open(b.mod.OutputDir).Commit(next); err != nil {
		return err
	}
	b.out.BuildID = next.BuildID
	b.m.to(Committed)
	return nil
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}
