package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"kiln/internal/buildpipeline"
	"kiln/internal/builderr"
	"kiln/internal/cpcache"
	"kiln/internal/diag"
	"kiln/internal/diagfmt"
	"kiln/internal/observ"
	"kiln/internal/project"
)

var buildCmd = &cobra.Command{
	Use:   "build [module...]",
	Short: "Compile the modules of the manifest",
	Long: `Compile the modules of kiln.toml. Only sources affected by a change since the
last successful build are recompiled. Naming modules builds them and everything
they depend on.`,
	RunE: buildExecution,
}

func init() {
	addBuildFlags(buildCmd)
}

func addBuildFlags(cmd *cobra.Command) {
	cmd.Flags().Int("jobs", 0, "modules built in parallel (0 = number of CPUs)")
	cmd.Flags().String("ui", "auto", "user interface (auto|on|off)")
	cmd.Flags().String("format", "pretty", "diagnostics format (pretty|short|json)")
	cmd.Flags().String("paths", "auto", "diagnostic paths (auto|absolute|relative|basename)")
}

// buildSettings are the flag values shared by build and watch.
type buildSettings struct {
	manifest *project.Manifest
	selected []string
	jobs     int
	format   string
	paths    diagfmt.PathMode
	useTUI   bool
	quiet    bool
	timings  bool
	maxDiag  int
	out      io.Writer
}

func readBuildSettings(cmd *cobra.Command, args []string) (buildSettings, error) {
	s := buildSettings{selected: args, out: cmd.OutOrStdout()}
	var err error
	if s.jobs, err = cmd.Flags().GetInt("jobs"); err != nil {
		return s, err
	}
	uiValue, err := cmd.Flags().GetString("ui")
	if err != nil {
		return s, err
	}
	if s.format, err = cmd.Flags().GetString("format"); err != nil {
		return s, err
	}
	pathsValue, err := cmd.Flags().GetString("paths")
	if err != nil {
		return s, err
	}
	if s.quiet, err = cmd.Root().PersistentFlags().GetBool("quiet"); err != nil {
		return s, err
	}
	if s.timings, err = cmd.Root().PersistentFlags().GetBool("timings"); err != nil {
		return s, err
	}
	if s.maxDiag, err = cmd.Root().PersistentFlags().GetInt("max-diagnostics"); err != nil {
		return s, fmt.Errorf("failed to get max-diagnostics flag: %w", err)
	}

	s.format = strings.ToLower(s.format)
	switch s.format {
	case "pretty", "short", "json":
	default:
		return s, builderr.Config("unsupported format %q (must be pretty, short or json)", s.format)
	}
	mode, ok := diagfmt.ParsePathMode(pathsValue)
	if !ok {
		return s, builderr.Config("invalid --paths value %q", pathsValue)
	}
	s.paths = mode
	ui, err := readUIMode(uiValue)
	if err != nil {
		return s, err
	}
	s.useTUI = s.format == "pretty" && !s.quiet && shouldUseTUI(ui)

	s.manifest, err = loadManifest(cmd)
	return s, err
}

func buildExecution(cmd *cobra.Command, args []string) error {
	cleanup, err := setupTracing(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	s, err := readBuildSettings(cmd, args)
	if err != nil {
		return err
	}
	cache := cpcache.New()
	defer cache.Close()
	_, err = runBuild(cmd.Context(), s, cache)
	return err
}

// runBuild plans, builds and reports one build of the manifest.
func runBuild(ctx context.Context, s buildSettings, cache *cpcache.Cache) (buildpipeline.Result, error) {
	plan, err := buildpipeline.NewPlan(s.manifest, s.selected)
	if err != nil {
		if plan != nil && len(plan.Diagnostics) > 0 {
			s.printDiagnostics([]diagfmt.Group{{Items: plan.Diagnostics}})
		}
		return buildpipeline.Result{}, err
	}

	var timer *observ.Timer
	if s.timings {
		timer = observ.NewTimer()
	}
	toolchain := &buildpipeline.Toolchain{Jobs: s.jobs}
	req := &buildpipeline.Request{
		Plan:      plan,
		Jobs:      s.jobs,
		Compilers: toolchain.Compiler,
		Cache:     cache,
		Timer:     timer,
	}

	var res buildpipeline.Result
	if s.useTUI {
		var names []string
		for _, m := range plan.Modules() {
			names = append(names, m.Name)
		}
		res, err = runBuildWithUI(ctx, "kiln build", names, req)
	} else {
		if !s.quiet && s.format == "pretty" {
			req.Progress = s.progressPrinter()
		}
		res, err = buildpipeline.Build(ctx, req)
	}
	if err != nil {
		return res, err
	}

	groups := make([]diagfmt.Group, 0, len(res.Modules))
	for _, m := range res.Modules {
		if items := m.Diagnostics(); len(items) > 0 {
			groups = append(groups, diagfmt.Group{Module: m.Module.Name, Items: items})
		}
	}
	s.printDiagnostics(groups)
	if s.timings && s.format == "pretty" {
		printStageTimings(s.out, res.Timings, timer)
	}
	return res, res.Err()
}

func (s buildSettings) printDiagnostics(groups []diagfmt.Group) {
	if s.format == "json" {
		if err := diagfmt.JSON(s.out, groups, diagfmt.JSONOpts{PathMode: s.paths, Root: s.manifest.Root, Max: s.maxDiag}); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write diagnostics: %v\n", err)
		}
		return
	}
	var items []diag.Diagnostic
	for _, g := range groups {
		items = append(items, g.Items...)
	}
	if s.quiet {
		items = errorsOnly(items)
	}
	if s.format == "short" {
		fmt.Fprint(s.out, diag.FormatShort(items, s.manifest.Root))
		return
	}
	diagfmt.Pretty(s.out, items, diagfmt.PrettyOpts{
		Color:    !color.NoColor,
		PathMode: s.paths,
		Root:     s.manifest.Root,
		Context:  true,
		Max:      s.maxDiag,
		Summary:  !s.quiet,
	})
}

func errorsOnly(items []diag.Diagnostic) []diag.Diagnostic {
	var out []diag.Diagnostic
	for _, d := range items {
		if d.Severity == diag.SevError {
			out = append(out, d)
		}
	}
	return out
}

// progressPrinter prints one line per finished module.
func (s buildSettings) progressPrinter() buildpipeline.ProgressSink {
	var mu sync.Mutex
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)
	return buildpipeline.SinkFunc(func(ev buildpipeline.Event) {
		var text string
		var c *color.Color
		switch ev.Status {
		case buildpipeline.StatusDone:
			text, c = "compiled", green
		case buildpipeline.StatusUpToDate:
			text, c = "up to date", green
		case buildpipeline.StatusBlocked:
			text, c = "blocked", yellow
		case buildpipeline.StatusError:
			text, c = "failed", red
		default:
			return
		}
		label := c.Sprintf("%12s", text)
		mu.Lock()
		defer mu.Unlock()
		if ev.Elapsed > 0 {
			fmt.Fprintf(s.out, "%s %s (%.1f ms)\n", label, ev.Module, toMillis(ev.Elapsed))
			return
		}
		fmt.Fprintf(s.out, "%s %s\n", label, ev.Module)
	})
}
