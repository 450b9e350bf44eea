// Package javac runs the JDK compiler directly and turns its console output
// into diagnostics.
package javac

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"kiln/internal/builderr"
)

// Toolchain locates a javac executable.
type Toolchain struct {
	Javac string
	Home  string // JAVA_HOME it was found under, if any
}

func exeName() string {
	if runtime.GOOS == "windows" {
		return "javac.exe"
	}
	return "javac"
}

// Locate prefers $JAVA_HOME/bin/javac and falls back to PATH.
func Locate() (Toolchain, error) {
	if home := os.Getenv("JAVA_HOME"); home != "" {
		candidate := filepath.Join(home, "bin", exeName())
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return Toolchain{Javac: candidate, Home: home}, nil
		}
	}
	path, err := exec.LookPath(exeName())
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return Toolchain{}, &builderr.EnvError{
				Msg:  "javac not found",
				Hint: "install a JDK and set JAVA_HOME, or put javac on PATH",
				Err:  err,
			}
		}
		return Toolchain{}, &builderr.EnvError{Msg: "cannot use javac", Err: err}
	}
	return Toolchain{Javac: path}, nil
}
