package forked

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"kiln/internal/backend"
)

// Runner compiles inside the child. It receives the options exactly as
// the parent rendered them.
type Runner interface {
	Run(ctx context.Context, cfg Configuration) (backend.Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, cfg Configuration) (backend.Result, error)

func (f RunnerFunc) Run(ctx context.Context, cfg Configuration) (backend.Result, error) {
	return f(ctx, cfg)
}

// Serve is the child's whole job: configuration in, records out. Produced
// records come first in output order, then diagnostics in report order.
// failed reports whether any error diagnostic was produced.
func Serve(ctx context.Context, cfg Configuration, run Runner) (res Result, failed bool, err error) {
	out, err := run.Run(ctx, cfg)
	if err != nil {
		return Result{}, false, err
	}
	for _, rel := range slices.Sorted(maps.Keys(out.Produced)) {
		owners := out.Produced[rel]
		if len(owners) == 0 {
			res.Records = append(res.Records, Produced("", rel))
			continue
		}
		for _, in := range owners {
			res.Records = append(res.Records, Produced(in, rel))
		}
	}
	for _, d := range out.Diagnostics {
		res.Records = append(res.Records, DiagnosticRecord(d))
	}
	return res, out.ErrorCount() > 0, nil
}

// Exit codes of the worker entry point.
const (
	ExitOK       = 0
	ExitErrors   = 1 // compile errors, explained by diagnostic records
	ExitInternal = 3
)

// Main is the child entry point. It reads the configuration at cfgPath,
// serves it and writes the records to outPath.
func Main(ctx context.Context, cfgPath, outPath string, run Runner) (int, error) {
	cfg, err := ReadConfiguration(cfgPath)
	if err != nil {
		return ExitInternal, err
	}
	res, failed, err := Serve(ctx, cfg, run)
	if err != nil {
		return ExitInternal, err
	}
	if err := WriteResult(outPath, res); err != nil {
		return ExitInternal, err
	}
	if failed {
		return ExitErrors, nil
	}
	return ExitOK, nil
}

// OutputDir extracts the -d argument from rendered options.
func OutputDir(options []string) (string, error) {
	for i := 0; i+1 < len(options); i++ {
		if options[i] == "-d" {
			return options[i+1], nil
		}
	}
	return "", fmt.Errorf("no -d option in forked configuration")
}

// Collect turns records back into a backend result. Produced records whose
// input is not among sources become loose outputs.
func Collect(res Result, sources []string) backend.Result {
	known := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		known[s] = struct{}{}
	}
	out := backend.Result{Produced: make(map[string][]string)}
	for _, r := range res.Records {
		switch r.Kind {
		case RecordProduced:
			owners := out.Produced[r.Output]
			if _, ok := known[r.Input]; ok && !slices.Contains(owners, r.Input) {
				owners = append(owners, r.Input)
			}
			out.Produced[r.Output] = owners
		case RecordDiagnostic:
			out.Diagnostics = append(out.Diagnostics, r.Diagnostic())
		}
	}
	return out
}
