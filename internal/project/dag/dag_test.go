package dag

import (
	"strings"
	"testing"

	"kiln/internal/diag"
)

func batchesToNames(idx ModuleIndex, batches [][]ModuleID) [][]string {
	out := make([][]string, len(batches))
	for i, batch := range batches {
		out[i] = idx.Names(batch)
	}
	return out
}

func TestBuildIndexIncludesDependencies(t *testing.T) {
	nodes := []ModuleNode{
		{Name: "app", Depends: []string{"core", "util"}},
		{Name: "util"},
	}
	idx := BuildIndex(nodes)
	want := []string{"app", "core", "util"}
	if len(idx.IDToName) != len(want) {
		t.Fatalf("unexpected module count: %d", len(idx.IDToName))
	}
	for i, name := range want {
		if idx.IDToName[i] != name {
			t.Fatalf("idx.IDToName[%d] = %q, want %q", i, idx.IDToName[i], name)
		}
		if id := idx.NameToID[name]; int(id) != i {
			t.Fatalf("idx.NameToID[%q] = %d, want %d", name, id, i)
		}
	}
}

func TestScheduleBuildsDependenciesFirst(t *testing.T) {
	nodes := []ModuleNode{
		{Name: "app", Depends: []string{"api", "impl"}},
		{Name: "impl", Depends: []string{"api"}},
		{Name: "api"},
		{Name: "tools", Depends: []string{"api"}},
	}
	idx := BuildIndex(nodes)
	bag := diag.NewBag(10)
	g, _ := BuildGraph(idx, nodes, diag.BagReporter{Bag: bag})
	if bag.Len() != 0 {
		t.Fatalf("unexpected diagnostics: %+v", bag.Items())
	}
	sched := NewSchedule(g)
	if sched.Cyclic() {
		t.Fatalf("unexpected cycle")
	}
	got := batchesToNames(idx, sched.Waves)
	want := [][]string{{"api"}, {"impl", "tools"}, {"app"}}
	if len(got) != len(want) {
		t.Fatalf("batches = %v, want %v", got, want)
	}
	for i := range want {
		if strings.Join(got[i], ",") != strings.Join(want[i], ",") {
			t.Fatalf("batch %d = %v, want %v", i, got[i], want[i])
		}
	}
	deps := idx.Names(g.Deps[int(idx.NameToID["app"])])
	if strings.Join(deps, ",") != "api,impl" {
		t.Fatalf("app deps = %v", deps)
	}
	dependents := idx.Names(g.Dependents(idx.NameToID["api"]))
	if strings.Join(dependents, ",") != "app,impl,tools" {
		t.Fatalf("api dependents = %v", dependents)
	}
}

func TestBuildGraphReportsProblems(t *testing.T) {
	nodes := []ModuleNode{
		{Name: "app", Depends: []string{"ghost", "app"}, Manifest: "kiln.toml"},
		{Name: "lib", Manifest: "kiln.toml"},
		{Name: "lib", Manifest: "kiln.toml"},
	}
	idx := BuildIndex(nodes)
	bag := diag.NewBag(10)
	BuildGraph(idx, nodes, diag.BagReporter{Bag: bag})

	codes := map[diag.Code]int{}
	for _, d := range bag.Items() {
		codes[d.Code]++
	}
	if codes[diag.ProjMissingModule] != 1 || codes[diag.ProjSelfDependency] != 1 || codes[diag.ProjDuplicateModule] != 1 {
		t.Fatalf("unexpected diagnostics: %+v", bag.Items())
	}
}

func TestCyclesAreReported(t *testing.T) {
	nodes := []ModuleNode{
		{Name: "a", Depends: []string{"b"}},
		{Name: "b", Depends: []string{"c"}},
		{Name: "c", Depends: []string{"a"}},
		{Name: "d"},
	}
	idx := BuildIndex(nodes)
	g, slots := BuildGraph(idx, nodes, nil)
	sched := NewSchedule(g)
	if !sched.Cyclic() {
		t.Fatalf("cycle not detected")
	}
	if got := strings.Join(idx.Names(sched.Stuck), ","); got != "a,b,c" {
		t.Fatalf("cycle members = %s", got)
	}
	if got := strings.Join(idx.Names(sched.Order()), ","); got != "d" {
		t.Fatalf("order = %s", got)
	}
	bag := diag.NewBag(10)
	ReportCycles(idx, slots, sched, diag.BagReporter{Bag: bag})
	if bag.Count(diag.SevError) != 3 {
		t.Fatalf("expected one cycle error per member, got %d", bag.Len())
	}
}

func TestScheduleOnlyDropsEmptyWaves(t *testing.T) {
	nodes := []ModuleNode{
		{Name: "app", Depends: []string{"api"}},
		{Name: "api"},
		{Name: "docs"},
	}
	idx := BuildIndex(nodes)
	g, _ := BuildGraph(idx, nodes, nil)
	sched := NewSchedule(g)
	if got := batchesToNames(idx, sched.Only(nil)); len(got) != 2 || strings.Join(got[0], ",") != "api,docs" {
		t.Fatalf("all waves = %v", got)
	}
	app := idx.NameToID["app"]
	only := sched.Only(func(id ModuleID) bool { return id == app })
	if got := batchesToNames(idx, only); len(got) != 1 || got[0][0] != "app" {
		t.Fatalf("filtered waves = %v", got)
	}
}
