package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"kiln/internal/builderr"
	"kiln/internal/cpcache"
	"kiln/internal/project"
	"kiln/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch [module...]",
	Short: "Rebuild whenever a source or the manifest changes",
	RunE:  watchExecution,
}

func init() {
	addBuildFlags(watchCmd)
	watchCmd.Flags().Duration("debounce", 300*time.Millisecond, "quiet period before a rebuild starts")
}

func watchExecution(cmd *cobra.Command, args []string) error {
	cleanup, err := setupTracing(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	debounce, err := cmd.Flags().GetDuration("debounce")
	if err != nil {
		return err
	}
	s, err := readBuildSettings(cmd, args)
	if err != nil {
		return err
	}
	// прогресс-UI мешает выводу между сборками
	s.useTUI = false

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for {
		restart, err := watchManifest(ctx, s, debounce)
		if err != nil || !restart {
			return err
		}
		m, err := project.LoadManifest(s.manifest.Path)
		if err != nil {
			// keep the last good manifest until the file is fixed
			printError(err)
			continue
		}
		s.manifest = m
	}
}

// watchManifest builds once and then on every settled change. It returns
// true when the manifest itself changed and must be reloaded.
func watchManifest(ctx context.Context, s buildSettings, debounce time.Duration) (bool, error) {
	var roots, outputs []string
	for _, mod := range s.manifest.Modules {
		roots = append(roots, mod.Sources...)
		roots = append(roots, mod.GeneratedSources)
		outputs = append(outputs, mod.Output)
	}
	w, err := watch.New(roots, debounce)
	if err != nil {
		return false, &builderr.EnvError{Msg: "cannot watch the file system", Err: err}
	}
	w.File(s.manifest.Path)
	w.Ignore(outputs...)
	if err := w.Start(); err != nil {
		_ = w.Stop()
		return false, &builderr.EnvError{Msg: "cannot watch the file system", Err: err}
	}
	defer w.Stop()

	rebuild := func() {
		// jar fingerprints are computed once per cache entry, so every
		// cycle starts from a fresh cache
		cache := cpcache.New()
		defer cache.Close()
		if _, err := runBuild(ctx, s, cache); err != nil && ctx.Err() == nil {
			printError(err)
		}
		if !s.quiet {
			fmt.Fprintf(s.out, "watching %d module(s), press Ctrl+C to stop\n", len(s.manifest.Modules))
		}
	}
	rebuild()

	for {
		select {
		case <-ctx.Done():
			return false, nil
		case err, ok := <-w.Errors():
			if ok {
				printError(err)
			}
		case batch, ok := <-w.Batches():
			if !ok {
				return false, nil
			}
			for _, p := range batch {
				if p == s.manifest.Path {
					if !s.quiet {
						fmt.Fprintf(s.out, "%s changed, reloading\n", formatPathForOutput(s.manifest.Root, p))
					}
					return true, nil
				}
			}
			if !s.quiet {
				fmt.Fprintf(s.out, "%d file(s) changed\n", len(batch))
			}
			rebuild()
		}
	}
}
