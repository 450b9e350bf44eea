// Package buildpipeline orchestrates the module builds of a manifest.
package buildpipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"kiln/internal/backend"
	"kiln/internal/builderr"
	"kiln/internal/cpcache"
	"kiln/internal/diag"
	"kiln/internal/driver"
	"kiln/internal/observ"
	"kiln/internal/project"
	"kiln/internal/scan"
	"kiln/internal/trace"
)

// Request configures a build of planned modules.
type Request struct {
	Plan *Plan
	// Jobs bounds modules built at once; <= 0 means GOMAXPROCS.
	Jobs      int
	Compilers Factory
	// Cache is shared by every module of the build. Nil means a cache
	// private to this build.
	Cache    *cpcache.Cache
	Timer    *observ.Timer
	Progress ProgressSink
}

// ModuleResult is the outcome of one planned module.
type ModuleResult struct {
	Module  project.Module
	Outcome driver.Outcome
	Err     error
	// Blocked names the failed dependencies that kept the module from
	// building.
	Blocked []string
	Timings Timings
	Elapsed time.Duration
}

// Status summarizes the result for progress output.
func (r ModuleResult) Status() Status {
	switch {
	case len(r.Blocked) > 0:
		return StatusBlocked
	case r.Err != nil:
		return StatusError
	case r.Outcome.Skipped:
		return StatusUpToDate
	}
	return StatusDone
}

// Diagnostics are the module's diagnostics, plus one error per failed
// dependency when the module was blocked.
func (r ModuleResult) Diagnostics() []diag.Diagnostic {
	out := append([]diag.Diagnostic(nil), r.Outcome.Diagnostics...)
	for _, dep := range r.Blocked {
		out = append(out, diag.NewError(diag.ProjDependencyFailed, diag.Location{},
			fmt.Sprintf("module %q was not built: dependency %q failed", r.Module.Name, dep)))
	}
	return out
}

// Result collects every module in build order.
type Result struct {
	Modules []ModuleResult
	Timings Timings
}

// Diagnostics flattens module diagnostics in build order.
func (r Result) Diagnostics() []diag.Diagnostic {
	var out []diag.Diagnostic
	for _, m := range r.Modules {
		out = append(out, m.Diagnostics()...)
	}
	return out
}

// Err is nil when every module committed or was up to date. Compile
// failures across modules fold into one CompileError; any other failure
// is returned as is, the first one winning.
func (r Result) Err() error {
	total := 0
	var failed []string
	for _, m := range r.Modules {
		if m.Err == nil {
			continue
		}
		var ce *builderr.CompileError
		if !errors.As(m.Err, &ce) {
			return fmt.Errorf("module %s: %w", m.Module.Name, m.Err)
		}
		total += ce.Count
		failed = append(failed, m.Module.Name)
	}
	if total > 0 {
		return fmt.Errorf("module %s: %w", strings.Join(failed, ", "), &builderr.CompileError{Count: total})
	}
	return nil
}

// Build runs the plan batch by batch. Modules of a batch build in parallel;
// a module whose dependency failed is reported blocked and not built. The
// returned error is only set for cancellation; module failures are in the
// result.
func Build(ctx context.Context, req *Request) (Result, error) {
	var result Result
	if ctx == nil {
		ctx = context.Background()
	}
	if req == nil || req.Plan == nil {
		return result, fmt.Errorf("missing build request")
	}
	if req.Compilers == nil {
		return result, fmt.Errorf("missing compiler factory")
	}
	cache := req.Cache
	if cache == nil {
		cache = cpcache.New()
		defer cache.Close()
	}
	jobs := req.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}

	ctx, span := trace.Enter(ctx, trace.ScopeDriver, "build")
	defer span.End("")

	for _, mod := range req.Plan.Modules() {
		emit(req.Progress, Event{Module: mod.Name, Stage: StageScan, Status: StatusQueued})
	}

	failed := make(map[string]bool)
	for _, batch := range req.Plan.Batches {
		results := make([]ModuleResult, len(batch))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(min(jobs, len(batch)))
		for i, mod := range batch {
			var blocked []string
			for _, dep := range mod.Depends {
				if failed[dep] {
					blocked = append(blocked, dep)
				}
			}
			if len(blocked) > 0 {
				results[i] = ModuleResult{Module: mod, Blocked: blocked}
				emit(req.Progress, Event{Module: mod.Name, Stage: StageScan, Status: StatusBlocked})
				continue
			}
			g.Go(func() error {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				// индекс i уникален для горутины, мьютекс не нужен
				results[i] = buildModule(gctx, req, cache, mod)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return result, err
		}

		for _, r := range results {
			if r.Err != nil || len(r.Blocked) > 0 {
				failed[r.Module.Name] = true
				continue
			}
			// dependents of a later batch must see the new outputs
			cache.Invalidate(r.Module.Output)
			result.Timings.Merge(r.Timings)
		}
		result.Modules = append(result.Modules, results...)
	}
	span.WithExtra("modules", fmt.Sprint(len(result.Modules)))
	return result, nil
}

// DriverModule converts a manifest module into a driver build description.
func (p *Plan) DriverModule(mod project.Module) (driver.Module, error) {
	cfg, err := backend.FromModule(mod)
	if err != nil {
		return driver.Module{}, err
	}
	entries, direct := p.Classpath(mod)
	roots := slices.Clone(mod.Sources)
	if cfg.Proc != backend.ProcNone {
		roots = append(roots, cfg.GeneratedSources)
	}
	return driver.Module{
		Name: mod.Name,
		Sources: scan.Options{
			Roots:    roots,
			Includes: mod.Includes,
			Excludes: mod.Excludes,
		},
		Classpath: entries,
		Direct:    direct,
		OutputDir: mod.Output,
		Config:    cfg,
		Resource:  p.Manifest.Path,
	}, nil
}

func buildModule(ctx context.Context, req *Request, cache *cpcache.Cache, mod project.Module) ModuleResult {
	res := ModuleResult{Module: mod}
	start := time.Now()
	defer func() { res.Elapsed = time.Since(start) }()

	fail := func(err error) ModuleResult {
		res.Err = err
		res.Elapsed = time.Since(start)
		emit(req.Progress, Event{Module: mod.Name, Stage: StageScan, Status: StatusError, Err: err, Elapsed: res.Elapsed})
		return res
	}

	dm, err := req.Plan.DriverModule(mod)
	if err != nil {
		return fail(err)
	}
	compiler, err := req.Compilers(dm.Config, dm.OutputDir)
	if err != nil {
		return fail(err)
	}

	d := driver.New(cache, compiler, req.Timer)
	d.Observer = func(ev driver.PhaseEvent) {
		stage := stageOf(ev.State)
		switch ev.Status {
		case driver.PhaseStart:
			emit(req.Progress, Event{Module: mod.Name, Stage: stage, Status: StatusWorking})
		case driver.PhaseEnd:
			res.Timings.Add(stage, ev.Elapsed)
		}
	}

	out, err := d.Run(ctx, dm)
	res.Outcome = out
	res.Err = err
	res.Elapsed = time.Since(start)
	evt := Event{Module: mod.Name, Stage: StageCommit, Status: res.Status(), Err: err, Elapsed: res.Elapsed}
	if err != nil {
		evt.Stage = stageOf(lastActive(out.History))
	}
	emit(req.Progress, evt)
	return res
}

func stageOf(s driver.State) Stage {
	switch s {
	case driver.Idle, driver.Scanning:
		return StageScan
	case driver.Digesting, driver.Deciding:
		return StageDigest
	case driver.Compiling:
		return StageCompile
	case driver.Skipped, driver.Reconciling:
		return StageReconcile
	}
	return StageCommit
}

// lastActive is the state a failed build was in when it failed.
func lastActive(history []driver.State) driver.State {
	for i := len(history) - 1; i >= 0; i-- {
		if !history[i].Terminal() {
			return history[i]
		}
	}
	return driver.Idle
}
