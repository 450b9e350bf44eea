package buildpipeline

import (
	"slices"
	"strings"

	"kiln/internal/builderr"
	"kiln/internal/diag"
	"kiln/internal/project"
	"kiln/internal/project/dag"
)

// Plan is the build order of the selected manifest modules.
type Plan struct {
	Manifest *project.Manifest
	// Batches hold modules that do not depend on each other; a batch only
	// starts once every earlier batch finished.
	Batches [][]project.Module
	// Diagnostics are the problems found in the module graph.
	Diagnostics []diag.Diagnostic

	deps map[string][]string // direct dependencies in declaration order
}

// NewPlan orders the modules of m. With selected names, only those modules
// and everything they depend on are planned. Graph errors (cycles, unknown
// or duplicate modules) are a configuration error; the plan still carries
// the diagnostics.
func NewPlan(m *project.Manifest, selected []string) (*Plan, error) {
	plan := &Plan{Manifest: m, deps: make(map[string][]string, len(m.Modules))}
	nodes := make([]dag.ModuleNode, 0, len(m.Modules))
	for _, mod := range m.Modules {
		nodes = append(nodes, dag.ModuleNode{Name: mod.Name, Depends: mod.Depends, Manifest: m.Path})
		plan.deps[mod.Name] = mod.Depends
	}

	idx := dag.BuildIndex(nodes)
	bag := diag.NewBag(0)
	// повторы в depends дают одинаковые сообщения
	reporter := diag.NewDedupReporter(diag.BagReporter{Bag: bag})
	g, slots := dag.BuildGraph(idx, nodes, reporter)
	sched := dag.NewSchedule(g)
	dag.ReportCycles(idx, slots, sched, reporter)
	bag.Sort()
	plan.Diagnostics = bag.Items()
	if n := bag.Count(diag.SevError); n > 0 {
		return plan, builderr.Config("module graph of %s has %d error(s)", m.Path, n)
	}

	want, err := plan.closure(selected)
	if err != nil {
		return plan, err
	}
	var keep func(dag.ModuleID) bool
	if want != nil {
		keep = func(id dag.ModuleID) bool { return want[idx.IDToName[int(id)]] }
	}
	for _, wave := range sched.Only(keep) {
		var mods []project.Module
		for _, name := range idx.Names(wave) {
			if mod, ok := m.Lookup(name); ok {
				mods = append(mods, mod)
			}
		}
		if len(mods) > 0 {
			plan.Batches = append(plan.Batches, mods)
		}
	}
	return plan, nil
}

// closure returns selected plus everything it depends on; nil means all.
func (p *Plan) closure(selected []string) (map[string]bool, error) {
	if len(selected) == 0 {
		return nil, nil
	}
	want := make(map[string]bool)
	var unknown []string
	stack := slices.Clone(selected)
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if want[name] {
			continue
		}
		deps, ok := p.deps[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		want[name] = true
		stack = append(stack, deps...)
	}
	if len(unknown) > 0 {
		slices.Sort(unknown)
		return nil, builderr.Config("unknown module(s): %s", strings.Join(unknown, ", "))
	}
	return want, nil
}

// Modules lists the planned modules in build order.
func (p *Plan) Modules() []project.Module {
	var out []project.Module
	for _, b := range p.Batches {
		out = append(out, b...)
	}
	return out
}

// Dependencies returns every module mod depends on, direct ones first in
// declaration order, then the transitive ones breadth-first.
func (p *Plan) Dependencies(mod string) (all []string, direct []string) {
	direct = slices.Clone(p.deps[mod])
	seen := map[string]bool{mod: true}
	queue := slices.Clone(direct)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if seen[name] {
			continue
		}
		seen[name] = true
		all = append(all, name)
		queue = append(queue, p.deps[name]...)
	}
	return all, direct
}

// Classpath is the ordered classpath of mod: dependency output directories
// first, then the module's own entries. Direct lists the entries the
// module declared itself, which excludes outputs of transitive modules.
func (p *Plan) Classpath(mod project.Module) (entries, direct []string) {
	all, directDeps := p.Dependencies(mod.Name)
	isDirect := make(map[string]bool, len(directDeps))
	for _, d := range directDeps {
		isDirect[d] = true
	}
	for _, name := range all {
		dep, ok := p.Manifest.Lookup(name)
		if !ok {
			continue
		}
		entries = append(entries, dep.Output)
		if isDirect[name] {
			direct = append(direct, dep.Output)
		}
	}
	entries = append(entries, mod.Classpath...)
	direct = append(direct, mod.Classpath...)
	return entries, direct
}
