package main

import (
	"github.com/spf13/cobra"

	"kiln/internal/backend/forked"
	"kiln/internal/backend/javac"
)

// workerCmd is the child side of the forked backend. The parent passes the
// configuration and result file paths; the exit status follows forked.Main.
var workerCmd = &cobra.Command{
	Use:    forked.WorkerCommand + " <config> <result>",
	Hidden: true,
	Args:   cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tool, err := javac.Locate()
		if err != nil {
			return &exitError{code: forked.ExitInternal, err: err}
		}
		c := javac.New(tool, 1)
		code, err := forked.Main(cmd.Context(), args[0], args[1], forked.JavacRunner(c, tool.Javac))
		if err != nil {
			return &exitError{code: code, err: err}
		}
		if code != forked.ExitOK {
			return &exitError{code: code, silent: true}
		}
		return nil
	},
}
