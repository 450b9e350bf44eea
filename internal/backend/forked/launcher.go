package forked

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"kiln/internal/backend"
	"kiln/internal/builderr"
	"kiln/internal/diag"
	"kiln/internal/trace"
)

// WorkerCommand is the hidden subcommand the child is started with.
const WorkerCommand = "javac-worker"

// Compiler launches one child per round and blocks on it.
type Compiler struct {
	// Exe is the child executable, normally the running kiln binary.
	Exe string
	// Args come before the configuration and result paths.
	Args []string
}

// New starts children from the running executable.
func New() (*Compiler, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, &builderr.EnvError{Msg: "cannot locate the kiln executable", Err: err}
	}
	return &Compiler{Exe: exe, Args: []string{WorkerCommand}}, nil
}

// Compile writes the configuration, runs the child and reads its records.
// The temporary directory is removed only after the records were parsed;
// on any failure it is kept and named in the error.
func (c *Compiler) Compile(ctx context.Context, inv backend.Invocation) (backend.Result, error) {
	_, span := trace.Enter(ctx, trace.ScopeUnit, "fork")
	defer span.End("")

	tmp, err := os.MkdirTemp("", "kiln-fork-*")
	if err != nil {
		return backend.Result{}, builderr.IO("create temp dir", os.TempDir(), err)
	}
	cfgPath := filepath.Join(tmp, "config.msgpack")
	outPath := filepath.Join(tmp, "result.msgpack")

	cfg := Configuration{
		Encoding: inv.Config.Encoding,
		Options:  inv.Args(),
		Sources:  inv.Sources,
	}
	if err := WriteConfiguration(cfgPath, cfg); err != nil {
		return backend.Result{}, retained(err, tmp)
	}

	runCtx := ctx
	timeout := inv.Config.Fork.Timeout
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var buf bytes.Buffer
	args := append(append([]string(nil), c.Args...), cfgPath, outPath)
	cmd := exec.CommandContext(runCtx, c.Exe, args...)
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	cmd.SysProcAttr = sysProcAttr()
	cmd.WaitDelay = 5 * time.Second
	span.WithExtra("sources", fmt.Sprint(len(inv.Sources)))
	runErr := cmd.Run()

	if runErr != nil {
		if timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return backend.Result{}, retained(&builderr.ProcessError{
				Cmd:    c.command(),
				Output: strings.TrimSpace(buf.String()),
				Err:    fmt.Errorf("timed out after %s", timeout),
			}, tmp)
		}
		if ctx.Err() != nil {
			return backend.Result{}, retained(ctx.Err(), tmp)
		}
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return backend.Result{}, retained(&builderr.ProcessError{Cmd: c.command(), Output: buf.String(), Err: runErr}, tmp)
		}
		// ненулевой код допустим, только если его объясняют ошибки в записях
		res, err := ReadResult(outPath)
		if err != nil || exitErr.ExitCode() != ExitErrors || !hasErrors(res) {
			return backend.Result{}, retained(&builderr.ProcessError{
				Cmd:      c.command(),
				ExitCode: exitErr.ExitCode(),
				Output:   strings.TrimSpace(buf.String()),
			}, tmp)
		}
		_ = os.RemoveAll(tmp)
		return Collect(res, inv.Sources), nil
	}

	res, err := ReadResult(outPath)
	if err != nil {
		return backend.Result{}, retained(err, tmp)
	}
	_ = os.RemoveAll(tmp)
	return Collect(res, inv.Sources), nil
}

func (c *Compiler) command() string {
	return strings.Join(append([]string{c.Exe}, c.Args...), " ")
}

func hasErrors(res Result) bool {
	for _, r := range res.Records {
		if r.Kind == RecordDiagnostic && r.Severity == diag.SevError {
			return true
		}
	}
	return false
}

// retained notes the kept temp dir on err.
func retained(err error, dir string) error {
	return fmt.Errorf("%w (temporary files kept in %s)", err, dir)
}
