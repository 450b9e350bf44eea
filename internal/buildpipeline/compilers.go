package buildpipeline

import (
	"sync"

	"kiln/internal/backend"
	"kiln/internal/backend/forked"
	"kiln/internal/backend/javac"
	"kiln/internal/backend/selftrack"
	"kiln/internal/builderr"
)

// Factory creates the compiler serving one module.
type Factory func(cfg backend.Config, outputDir string) (backend.Compiler, error)

// Toolchain hands out compilers backed by the local JDK. The JDK and the
// kiln executable are located once, on first use, so a manifest that only
// uses the forked backend never needs javac in the parent process.
type Toolchain struct {
	// Jobs bounds concurrent javac runs of the direct backend.
	Jobs int

	directOnce sync.Once
	direct     *javac.Compiler
	directErr  error

	forkOnce sync.Once
	fork     *forked.Compiler
	forkErr  error
}

func (t *Toolchain) directCompiler() (*javac.Compiler, error) {
	t.directOnce.Do(func() {
		tool, err := javac.Locate()
		if err != nil {
			t.directErr = err
			return
		}
		t.direct = javac.New(tool, t.Jobs)
	})
	return t.direct, t.directErr
}

func (t *Toolchain) forkCompiler() (*forked.Compiler, error) {
	t.forkOnce.Do(func() {
		t.fork, t.forkErr = forked.New()
	})
	return t.fork, t.forkErr
}

// Compiler is a Factory.
func (t *Toolchain) Compiler(cfg backend.Config, outputDir string) (backend.Compiler, error) {
	switch cfg.Backend {
	case backend.KindJavac:
		c, err := t.directCompiler()
		if err != nil {
			return nil, err
		}
		return c, nil
	case backend.KindForked:
		c, err := t.forkCompiler()
		if err != nil {
			return nil, err
		}
		return c, nil
	case backend.KindSelfTracking:
		c, err := t.directCompiler()
		if err != nil {
			return nil, err
		}
		return selftrack.New(c, outputDir), nil
	}
	return nil, builderr.Config("unsupported backend %s", cfg.Backend)
}
