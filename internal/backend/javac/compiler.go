package javac

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sync/semaphore"

	"kiln/internal/backend"
	"kiln/internal/builderr"
	"kiln/internal/diag"
	"kiln/internal/trace"
)

// Compiler invokes javac. At most size invocations run at once; a build
// acquires a slot for the whole round and releases it afterwards.
type Compiler struct {
	tool Toolchain
	sem  *semaphore.Weighted
}

func New(tool Toolchain, size int) *Compiler {
	if size < 1 {
		size = 1
	}
	return &Compiler{tool: tool, sem: semaphore.NewWeighted(int64(size))}
}

// Request is a single javac run.
type Request struct {
	Args     []string // options, without sources
	Encoding string
	Sources  []string
}

// Response is the raw outcome of a run.
type Response struct {
	Diagnostics []diag.Diagnostic
	ExitCode    int
	Output      string
}

func (c *Compiler) Compile(ctx context.Context, inv backend.Invocation) (backend.Result, error) {
	resp, err := c.Run(ctx, Request{Args: inv.Args(), Encoding: inv.Config.Encoding, Sources: inv.Sources})
	if err != nil {
		return backend.Result{}, err
	}
	if err := Explain(resp, c.tool.Javac); err != nil {
		return backend.Result{}, err
	}
	produced, err := backend.CollectOutputs(inv.Staging, inv.Sources)
	if err != nil {
		return backend.Result{}, err
	}
	return backend.Result{Produced: produced, Diagnostics: resp.Diagnostics}, nil
}

// Run executes javac with an argument file so long source lists never hit
// command line limits.
func (c *Compiler) Run(ctx context.Context, req Request) (Response, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return Response{}, err
	}
	defer c.sem.Release(1)

	_, span := trace.Enter(ctx, trace.ScopeUnit, "javac")
	defer span.End("")

	args := append([]string(nil), req.Args...)
	if req.Encoding != "" {
		args = append(args, "-encoding", req.Encoding)
	}
	args = append(args, req.Sources...)

	argfile, err := writeArgFile(args)
	if err != nil {
		return Response{}, err
	}
	defer os.Remove(argfile)

	var buf bytes.Buffer
	cmd := exec.CommandContext(ctx, c.tool.Javac, "@"+argfile)
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	runErr := cmd.Run()

	resp := Response{Output: buf.String()}
	resp.Diagnostics = ParseOutput(resp.Output)
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			if ctx.Err() != nil {
				return Response{}, ctx.Err()
			}
			return Response{}, &builderr.ProcessError{Cmd: c.tool.Javac, Output: resp.Output, Err: runErr}
		}
		resp.ExitCode = exitErr.ExitCode()
	}
	return resp, nil
}

// Explain turns a failed run into a ProcessError unless its diagnostics
// account for the failure. javac exits with 1 for compile errors; anything
// else is a command line, system or abnormal termination.
func Explain(resp Response, cmd string) error {
	if resp.ExitCode == 0 {
		return nil
	}
	if resp.ExitCode == 1 && diag.CountSeverity(resp.Diagnostics, diag.SevError) > 0 {
		return nil
	}
	return &builderr.ProcessError{Cmd: cmd, ExitCode: resp.ExitCode, Output: strings.TrimSpace(resp.Output)}
}

func writeArgFile(args []string) (string, error) {
	f, err := os.CreateTemp("", "kiln-javac-*.args")
	if err != nil {
		return "", builderr.IO("create argfile", os.TempDir(), err)
	}
	var b strings.Builder
	for _, a := range args {
		b.WriteString(quoteArg(a))
		b.WriteByte('\n')
	}
	if _, err := f.WriteString(b.String()); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", builderr.IO("write argfile", f.Name(), err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", builderr.IO("write argfile", f.Name(), err)
	}
	return f.Name(), nil
}

// quoteArg follows the javac @argfile syntax: whitespace, quotes and
// backslashes need a quoted argument with escapes.
func quoteArg(a string) string {
	if a != "" && !strings.ContainsAny(a, " \t\r\n\"'\\#") {
		return a
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(a) + `"`
}
