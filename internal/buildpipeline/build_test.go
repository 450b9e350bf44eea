package buildpipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiln/internal/backend"
	"kiln/internal/backend/selftrack"
	"kiln/internal/builderr"
	"kiln/internal/diag"
	"kiln/internal/project"
	"kiln/internal/testkit/toyc"
)

type workspace struct {
	t     *testing.T
	root  string
	cc    *toyc.Compiler
	clock time.Time
}

func newWorkspace(t *testing.T, manifest string) *workspace {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "kiln.toml"), []byte(manifest), 0o644))
	return &workspace{t: t, root: root, cc: toyc.New(), clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (w *workspace) write(module, rel, body string) string {
	w.t.Helper()
	path := filepath.Join(w.root, module, "src", filepath.FromSlash(rel))
	require.NoError(w.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(w.t, os.WriteFile(path, []byte(body), 0o644))
	w.clock = w.clock.Add(time.Second)
	require.NoError(w.t, os.Chtimes(path, w.clock, w.clock))
	return path
}

func (w *workspace) factory(cfg backend.Config, outputDir string) (backend.Compiler, error) {
	if cfg.Backend == backend.KindSelfTracking {
		return selftrack.New(w.cc, outputDir), nil
	}
	return w.cc, nil
}

func (w *workspace) plan(selected ...string) (*Plan, error) {
	m, err := project.LoadManifest(filepath.Join(w.root, "kiln.toml"))
	require.NoError(w.t, err)
	return NewPlan(m, selected)
}

func (w *workspace) build(sink ProgressSink, selected ...string) Result {
	w.t.Helper()
	plan, err := w.plan(selected...)
	require.NoError(w.t, err)
	res, err := Build(context.Background(), &Request{Plan: plan, Jobs: 2, Compilers: w.factory, Progress: sink})
	require.NoError(w.t, err)
	return res
}

func (r Result) module(name string) ModuleResult {
	for _, m := range r.Modules {
		if m.Module.Name == name {
			return m
		}
	}
	return ModuleResult{}
}

const twoModules = `
[[module]]
name = "core"
dir = "core"
sources = ["src"]
output = "out"

[[module]]
name = "app"
dir = "app"
sources = ["src"]
output = "out"
depends = ["core"]
`

func TestDependencyOrder(t *testing.T) {
	w := newWorkspace(t, twoModules)
	w.write("core", "p/A.java", "package p;\npublic class A\npublic method run() void\n")
	w.write("app", "q/B.java", "package q;\npublic class B extends p.A\n")

	res := w.build(nil)
	require.NoError(t, res.Err())
	require.Len(t, res.Modules, 2)
	assert.Equal(t, "core", res.Modules[0].Module.Name)
	assert.Equal(t, "app", res.Modules[1].Module.Name)
	assert.Equal(t, StatusDone, res.Modules[1].Status())
	assert.FileExists(t, filepath.Join(w.root, "app", "out", "q", "B.class"))

	again := w.build(nil)
	require.NoError(t, again.Err())
	for _, m := range again.Modules {
		assert.Equal(t, StatusUpToDate, m.Status(), m.Module.Name)
	}
}

func TestDependencyApiChangeRecompilesDependents(t *testing.T) {
	w := newWorkspace(t, twoModules)
	w.write("core", "p/A.java", "package p;\npublic class A\npublic method run() void\n")
	b := w.write("app", "q/B.java", "package q;\npublic class B extends p.A\n")
	require.NoError(t, w.build(nil).Err())

	w.write("core", "p/A.java", "package p;\npublic class A\npublic method run() void\npublic method stop() void\n")
	res := w.build(nil)
	require.NoError(t, res.Err())
	app := res.module("app")
	assert.False(t, app.Outcome.Skipped)
	assert.Contains(t, app.Outcome.Compiled, b)
}

func TestFailedDependencyBlocksDependents(t *testing.T) {
	w := newWorkspace(t, twoModules)
	w.write("core", "p/A.java", "package p;\npublic class A\nerror: boom\n")
	w.write("app", "q/B.java", "package q;\npublic class B\n")

	res := w.build(nil)
	err := res.Err()
	require.Error(t, err)
	assert.Equal(t, builderr.KindCompilation, builderr.KindOf(err))

	app := res.module("app")
	assert.Equal(t, []string{"core"}, app.Blocked)
	assert.Equal(t, StatusBlocked, app.Status())
	assert.NoDirExists(t, filepath.Join(w.root, "app", "out"))

	var codes []diag.Code
	for _, d := range res.Diagnostics() {
		codes = append(codes, d.Code)
	}
	assert.Contains(t, codes, diag.ProjDependencyFailed)
	assert.Contains(t, codes, diag.CompilerMessage)
}

func TestSelectionPlansDependencies(t *testing.T) {
	w := newWorkspace(t, twoModules+`
[[module]]
name = "tool"
dir = "tool"
sources = ["src"]
`)
	plan, err := w.plan("app")
	require.NoError(t, err)
	var names []string
	for _, m := range plan.Modules() {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"core", "app"}, names)

	_, err = w.plan("nope")
	require.Error(t, err)
	assert.Equal(t, builderr.KindConfiguration, builderr.KindOf(err))
	assert.Contains(t, err.Error(), "nope")
}

func TestCycleIsConfigurationError(t *testing.T) {
	w := newWorkspace(t, `
[[module]]
name = "a"
depends = ["b"]

[[module]]
name = "b"
depends = ["a"]
`)
	plan, err := w.plan()
	require.Error(t, err)
	assert.Equal(t, builderr.KindConfiguration, builderr.KindOf(err))
	require.NotNil(t, plan)
	require.NotEmpty(t, plan.Diagnostics)
	assert.Equal(t, diag.ProjDependencyCycle, plan.Diagnostics[0].Code)
}

func TestClasspathOrder(t *testing.T) {
	w := newWorkspace(t, `
[[module]]
name = "lib"
dir = "lib"
output = "out"

[[module]]
name = "core"
dir = "core"
output = "out"
depends = ["lib"]

[[module]]
name = "app"
dir = "app"
output = "out"
classpath = ["ext.jar"]
depends = ["core"]
`)
	plan, err := w.plan()
	require.NoError(t, err)
	app, ok := plan.Manifest.Lookup("app")
	require.True(t, ok)

	entries, direct := plan.Classpath(app)
	assert.Equal(t, []string{
		filepath.Join(w.root, "core", "out"),
		filepath.Join(w.root, "lib", "out"),
		filepath.Join(w.root, "app", "ext.jar"),
	}, entries)
	assert.Equal(t, []string{
		filepath.Join(w.root, "core", "out"),
		filepath.Join(w.root, "app", "ext.jar"),
	}, direct)
}

func TestProgressEvents(t *testing.T) {
	w := newWorkspace(t, twoModules)
	w.write("core", "p/A.java", "package p;\npublic class A\n")
	w.write("app", "q/B.java", "package q;\npublic class B\n")

	var mu sync.Mutex
	var events []Event
	sink := SinkFunc(func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})
	res := w.build(sink)
	require.NoError(t, res.Err())

	last := map[string]Event{}
	queued := 0
	for _, e := range events {
		if e.Status == StatusQueued {
			queued++
		}
		last[e.Module] = e
	}
	assert.Equal(t, 2, queued)
	for _, name := range []string{"core", "app"} {
		assert.Equal(t, StageCommit, last[name].Stage, name)
		assert.Equal(t, StatusDone, last[name].Status, name)
	}
	assert.True(t, res.Timings.Has(StageCompile))
}

func TestTransitiveAccessIsRejected(t *testing.T) {
	w := newWorkspace(t, `
[[module]]
name = "lib"
dir = "lib"
sources = ["src"]
output = "out"

[[module]]
name = "core"
dir = "core"
sources = ["src"]
output = "out"
depends = ["lib"]

[[module]]
name = "app"
dir = "app"
sources = ["src"]
output = "out"
depends = ["core"]
backend = "self-tracking"
access_rules = "error"
`)
	w.write("lib", "l/Util.java", "package l;\npublic class Util\n")
	w.write("core", "c/Api.java", "package c;\npublic class Api\nuses l.Util\n")
	ok := w.write("app", "a/Main.java", "package a;\npublic class Main\nuses c.Api\n")
	require.NoError(t, w.build(nil).Err())

	bad := w.write("app", "a/Sneaky.java", "package a;\npublic class Sneaky\nuses l.Util\n")
	res := w.build(nil)
	err := res.Err()
	require.Error(t, err)
	assert.Equal(t, builderr.KindCompilation, builderr.KindOf(err))

	app := res.module("app")
	require.Len(t, app.Outcome.Diagnostics, 1)
	d := app.Outcome.Diagnostics[0]
	assert.Equal(t, diag.CompilerAccessRestriction, d.Code)
	assert.Equal(t, bad, d.Location.Resource)
	assert.True(t, strings.Contains(d.Message, "l/Util") || strings.Contains(d.Message, "l.Util"), d.Message)
	assert.NotEqual(t, ok, d.Location.Resource)
}
