package backend

import (
	"maps"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/encoding/ianaindex"

	"kiln/internal/builderr"
	"kiln/internal/project"
)

// ForkOptions tune the forked backend.
type ForkOptions struct {
	MemInitial string
	MaxMem     string
	Timeout    time.Duration
}

// Config is built once per module build and never mutated.
type Config struct {
	Backend          Kind
	Source           string
	Target           string
	Encoding         string
	Proc             Proc
	Processors       []string
	ProcessorOptions map[string]string
	Debug            string
	ShowWarnings     bool
	Verbose          bool
	AccessRules      AccessRules
	GeneratedSources string
	Fork             ForkOptions
}

// FromModule parses and validates the compiler settings of a manifest module.
func FromModule(mod project.Module) (Config, error) {
	kind, err := ParseKind(mod.Backend)
	if err != nil {
		return Config{}, err
	}
	proc, err := ParseProc(mod.Proc)
	if err != nil {
		return Config{}, err
	}
	rules, err := ParseAccessRules(mod.AccessRules)
	if err != nil {
		return Config{}, err
	}
	debug, err := ParseDebug(mod.Debug)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Backend:          kind,
		Source:           mod.Source,
		Target:           targetFor(mod.Target, mod.Source),
		Encoding:         mod.Encoding,
		Proc:             proc,
		Processors:       slices.Clone(mod.Processors),
		ProcessorOptions: maps.Clone(mod.ProcessorOptions),
		Debug:            debug,
		ShowWarnings:     mod.ShowWarnings,
		Verbose:          mod.Verbose,
		AccessRules:      rules,
		GeneratedSources: mod.GeneratedSources,
		Fork: ForkOptions{
			MemInitial: mod.Fork.MemInitial,
			MaxMem:     mod.Fork.MaxMem,
			Timeout:    mod.ForkTimeout(),
		},
	}
	return cfg, cfg.Validate()
}

// targetFor defaults the target level to the source level; 1.2 and 1.3
// sources cannot target themselves and get 1.4.
func targetFor(target, source string) string {
	if target != "" || source == "" {
		return target
	}
	if source == "1.2" || source == "1.3" {
		return "1.4"
	}
	return source
}

// Validate rejects combinations no backend can honor.
func (c Config) Validate() error {
	if _, ok := kindNames[c.Backend]; !ok {
		return builderr.Config("unsupported backend %d", c.Backend)
	}
	if c.Encoding != "" {
		if _, err := ianaindex.IANA.Encoding(c.Encoding); err != nil {
			return &builderr.ConfigError{Msg: "unsupported source encoding " + c.Encoding, Err: err}
		}
	}
	if c.AccessRules == AccessError && c.Backend != KindSelfTracking {
		return builderr.Config("access_rules = \"error\" is not supported by the %s backend; use backend = \"self-tracking\"", c.Backend)
	}
	if c.Proc != ProcNone && c.GeneratedSources == "" {
		return builderr.Config("annotation processing requires generated_sources")
	}
	return nil
}

// Options renders the compiler options that do not change between rounds.
// Output directory, classpath and encoding are added by the invocation.
func (c Config) Options() []string {
	var opts []string
	if c.Source != "" {
		opts = append(opts, "-source", c.Source)
	}
	if c.Target != "" {
		opts = append(opts, "-target", c.Target)
	}
	opts = append(opts, "-implicit:none")
	switch c.Proc {
	case ProcNone:
		opts = append(opts, "-proc:none")
	case ProcOnly:
		opts = append(opts, "-proc:only")
	case ProcBoth:
	}
	if c.Proc != ProcNone {
		opts = append(opts, "-s", c.GeneratedSources)
		if len(c.Processors) > 0 {
			opts = append(opts, "-processor", strings.Join(c.Processors, ","))
		}
		for _, k := range slices.Sorted(maps.Keys(c.ProcessorOptions)) {
			opts = append(opts, "-A"+k+"="+c.ProcessorOptions[k])
		}
	}
	if c.Verbose {
		opts = append(opts, "-verbose")
	}
	switch c.Debug {
	case "all":
		opts = append(opts, "-g")
	case "none":
		opts = append(opts, "-g:none")
	default:
		opts = append(opts, "-g:"+c.Debug)
	}
	if c.ShowWarnings {
		opts = append(opts, "-Xlint:all")
	} else {
		opts = append(opts, "-nowarn")
	}
	if c.Backend == KindForked {
		if c.Fork.MemInitial != "" {
			opts = append(opts, "-J-Xms"+c.Fork.MemInitial)
		}
		if c.Fork.MaxMem != "" {
			opts = append(opts, "-J-Xmx"+c.Fork.MaxMem)
		}
	}
	return opts
}

// Digest identifies the configuration. A different digest from the one the
// previous build committed forces a full rebuild.
func (c Config) Digest() project.Digest {
	var b strings.Builder
	b.WriteString("backend=" + c.Backend.String() + "\n")
	b.WriteString("encoding=" + c.Encoding + "\n")
	b.WriteString("access=" + c.AccessRules.String() + "\n")
	for _, o := range c.Options() {
		b.WriteString(o)
		b.WriteByte('\n')
	}
	return project.HashBytes([]byte(b.String()))
}
