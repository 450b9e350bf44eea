package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"kiln/internal/builderr"
	"kiln/internal/project"
)

var initCmd = &cobra.Command{
	Use:   "init [path|name]",
	Short: "Create a kiln.toml with one module",
	Long: `Create a kiln.toml manifest with one module reading src/main/java and writing
target/classes, plus a starter class. If [path|name] is omitted the current
directory is initialized; a directory that does not exist is created.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().String("release", "17", "Java source and target level")
}

var invalidModuleChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// runInit refuses to overwrite an existing manifest. An existing source
// tree is left untouched; the starter class is only written into an empty
// project.
func runInit(cmd *cobra.Command, args []string) error {
	release, err := cmd.Flags().GetString("release")
	if err != nil {
		return err
	}
	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	target := wd
	if len(args) > 0 && args[0] != "." {
		target = args[0]
		if !filepath.IsAbs(target) {
			target = filepath.Join(wd, target)
		}
	}

	if st, err := os.Stat(target); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return builderr.IO("stat", target, err)
		}
		if err := os.MkdirAll(target, 0o755); err != nil {
			return builderr.IO("create directory", target, err)
		}
	} else if !st.IsDir() {
		return builderr.Config("%q is not a directory", target)
	}

	for _, name := range project.ManifestNames {
		if p := filepath.Join(target, name); exists(p) {
			return builderr.Config("project already initialized: %s exists", p)
		}
	}

	name := strings.Trim(invalidModuleChars.ReplaceAllString(filepath.Base(target), "-"), "-")
	if name == "" || name == "." {
		name = "app"
	}
	manifestPath := filepath.Join(target, project.ManifestNames[0])
	if err := os.WriteFile(manifestPath, []byte(defaultManifest(name, release)), 0o644); err != nil {
		return builderr.IO("write", manifestPath, err)
	}

	srcRoot := filepath.Join(target, filepath.FromSlash(project.DefaultSourceRoot))
	created := []string{project.ManifestNames[0]}
	if !exists(srcRoot) {
		mainPath := filepath.Join(srcRoot, "app", "Main.java")
		if err := os.MkdirAll(filepath.Dir(mainPath), 0o755); err != nil {
			return builderr.IO("create directory", filepath.Dir(mainPath), err)
		}
		if err := os.WriteFile(mainPath, []byte(defaultMain), 0o644); err != nil {
			return builderr.IO("write", mainPath, err)
		}
		created = append(created, filepath.ToSlash(filepath.Join(project.DefaultSourceRoot, "app", "Main.java")))
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Initialized kiln project in %s\n", formatPathForOutput(wd, target))
	for _, c := range created {
		fmt.Fprintf(out, "  - %s\n", c)
	}
	return nil
}

func defaultManifest(name, release string) string {
	return fmt.Sprintf(`# kiln manifest
[[module]]
name = %q
sources = [%q]
output = %q
source = %q
encoding = "UTF-8"
# backend = "javac"          # javac | forked | self-tracking
# depends = ["other-module"]
# classpath = ["lib/some.jar"]
`, name, project.DefaultSourceRoot, project.DefaultOutput, release)
}

const defaultMain = `package app;

public class Main {
    public static void main(String[] args) {
        System.out.println("Hello from kiln");
    }
}
`
