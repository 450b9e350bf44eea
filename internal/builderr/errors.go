// Package builderr holds the failure taxonomy shared by every build stage.
package builderr

import (
	"errors"
	"fmt"
)

// Kind classifies a build failure.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindCompilation
	KindEnvironment
	KindProcess
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindCompilation:
		return "compilation"
	case KindEnvironment:
		return "environment"
	case KindProcess:
		return "process"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

// ExitCode is the process exit status cmd/kiln uses for the kind.
func (k Kind) ExitCode() int {
	switch k {
	case KindCompilation:
		return 1
	case KindConfiguration:
		return 2
	case KindEnvironment:
		return 3
	case KindProcess:
		return 4
	case KindIO:
		return 5
	default:
		return 1
	}
}

// ConfigError reports bad build parameters. Raised before anything is compiled.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Config builds a ConfigError from a format string.
func Config(format string, args ...any) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// CompileError means at least one error-severity diagnostic was reported.
type CompileError struct {
	Count int
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("%d error(s) encountered, see previous message(s) for details", e.Count)
}

// EnvError reports a missing or unusable toolchain.
type EnvError struct {
	Msg  string
	Hint string
	Err  error
}

func (e *EnvError) Error() string {
	msg := e.Msg
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Hint != "" {
		msg += "\n" + e.Hint
	}
	return msg
}

func (e *EnvError) Unwrap() error { return e.Err }

// ProcessError reports a child process that failed without explaining itself
// through diagnostics.
type ProcessError struct {
	Cmd      string
	ExitCode int
	Output   string
	Err      error
}

func (e *ProcessError) Error() string {
	msg := fmt.Sprintf("%s failed", e.Cmd)
	if e.ExitCode != 0 {
		msg = fmt.Sprintf("%s exited with status %d", e.Cmd, e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Output != "" {
		msg += "\n" + e.Output
	}
	return msg
}

func (e *ProcessError) Unwrap() error { return e.Err }

// IOError wraps state or temp-file I/O failures.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// IO wraps err as an IOError unless it is nil or already classified.
func IO(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	return &IOError{Op: op, Path: path, Err: err}
}

// KindOf finds the first classified error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var (
		cfgErr  *ConfigError
		compErr *CompileError
		envErr  *EnvError
		procErr *ProcessError
		ioErr   *IOError
	)
	switch {
	case errors.As(err, &cfgErr):
		return KindConfiguration
	case errors.As(err, &compErr):
		return KindCompilation
	case errors.As(err, &envErr):
		return KindEnvironment
	case errors.As(err, &procErr):
		return KindProcess
	case errors.As(err, &ioErr):
		return KindIO
	default:
		return KindUnknown
	}
}
