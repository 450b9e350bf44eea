package main

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"kiln/internal/backend"
	"kiln/internal/backend/selftrack"
	"kiln/internal/builderr"
	"kiln/internal/buildstate"
	"kiln/internal/project"
)

var cleanCmd = &cobra.Command{
	Use:   "clean [module...]",
	Short: "Remove build state and compiled outputs",
	Long: `Remove the build state, the self-tracking type graph and the output directory
of every module (or of the named modules). With --state-only the outputs stay and
the next build is a full rebuild.`,
	RunE: runClean,
}

func init() {
	cleanCmd.Flags().Bool("state-only", false, "keep output directories")
}

func runClean(cmd *cobra.Command, args []string) error {
	stateOnly, err := cmd.Flags().GetBool("state-only")
	if err != nil {
		return err
	}
	quiet, err := cmd.Root().PersistentFlags().GetBool("quiet")
	if err != nil {
		return err
	}
	m, err := loadManifest(cmd)
	if err != nil {
		return err
	}
	for _, name := range args {
		if _, ok := m.Lookup(name); !ok {
			return builderr.Config("unknown module %q", name)
		}
	}

	out := cmd.OutOrStdout()
	for _, mod := range m.Modules {
		if len(args) > 0 && !slices.Contains(args, mod.Name) {
			continue
		}
		removed, err := cleanModule(mod, stateOnly)
		if err != nil {
			return err
		}
		if quiet {
			continue
		}
		if len(removed) == 0 {
			fmt.Fprintf(out, "%s: nothing to clean\n", mod.Name)
			continue
		}
		for _, p := range removed {
			fmt.Fprintf(out, "%s: removed %s\n", mod.Name, formatPathForOutput(m.Root, p))
		}
	}
	return nil
}

// cleanModule deletes the module's state files and, unless stateOnly, its
// output directory. It returns what existed and was removed.
func cleanModule(mod project.Module, stateOnly bool) ([]string, error) {
	var removed []string
	// граф лежит в том же каталоге состояния, удаляем его первым
	graph := backend.StatePath(mod.Output, selftrack.GraphFile)
	if exists(graph) {
		if err := os.Remove(graph); err != nil {
			return removed, builderr.IO("remove", graph, err)
		}
		removed = append(removed, graph)
	}
	statePath := buildstate.PathFor(mod.Output)
	if exists(statePath) {
		if err := buildstate.Open(mod.Output).Remove(); err != nil {
			return removed, err
		}
		removed = append(removed, statePath)
	}
	if stateOnly {
		return removed, nil
	}
	info, err := os.Stat(mod.Output)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return removed, nil
		}
		return removed, builderr.IO("stat", mod.Output, err)
	}
	if !info.IsDir() {
		return removed, builderr.Config("%s is not a directory", mod.Output)
	}
	if err := os.RemoveAll(mod.Output); err != nil {
		return removed, builderr.IO("remove", mod.Output, err)
	}
	return append(removed, mod.Output), nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
