package forked

import (
	"context"

	"kiln/internal/backend"
	"kiln/internal/backend/javac"
)

// JavacRunner compiles in the child with javac and attributes outputs the
// same way the direct backend does.
func JavacRunner(c *javac.Compiler, cmd string) Runner {
	return RunnerFunc(func(ctx context.Context, cfg Configuration) (backend.Result, error) {
		dir, err := OutputDir(cfg.Options)
		if err != nil {
			return backend.Result{}, err
		}
		resp, err := c.Run(ctx, javac.Request{Args: cfg.Options, Encoding: cfg.Encoding, Sources: cfg.Sources})
		if err != nil {
			return backend.Result{}, err
		}
		if err := javac.Explain(resp, cmd); err != nil {
			return backend.Result{}, err
		}
		produced, err := backend.CollectOutputs(dir, cfg.Sources)
		if err != nil {
			return backend.Result{}, err
		}
		return backend.Result{Produced: produced, Diagnostics: resp.Diagnostics}, nil
	})
}
