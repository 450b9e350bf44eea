package project

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"kiln/internal/builderr"
)

// Defaults applied to modules that leave the key unset.
const (
	DefaultSourceRoot       = "src/main/java"
	DefaultOutput           = "target/classes"
	DefaultGeneratedSources = "target/generated-sources/annotations"
	DefaultInclude          = "**/*.java"
	DefaultBackend          = "javac"
	DefaultProc             = "none"
	DefaultDebug            = "all"
	DefaultAccessRules      = "ignore"
)

// Manifest is a parsed kiln.toml / kiln.yaml.
type Manifest struct {
	Path    string
	Root    string
	Modules []Module
}

// Module is one [[module]] table. Paths are relative to the module Dir until
// Resolve makes them absolute.
type Module struct {
	Name             string            `toml:"name" yaml:"name"`
	Dir              string            `toml:"dir" yaml:"dir"`
	Sources          []string          `toml:"sources" yaml:"sources"`
	Includes         []string          `toml:"includes" yaml:"includes"`
	Excludes         []string          `toml:"excludes" yaml:"excludes"`
	Classpath        []string          `toml:"classpath" yaml:"classpath"`
	Depends          []string          `toml:"depends" yaml:"depends"`
	Output           string            `toml:"output" yaml:"output"`
	GeneratedSources string            `toml:"generated_sources" yaml:"generated_sources"`
	Backend          string            `toml:"backend" yaml:"backend"`
	Source           string            `toml:"source" yaml:"source"`
	Target           string            `toml:"target" yaml:"target"`
	Encoding         string            `toml:"encoding" yaml:"encoding"`
	Proc             string            `toml:"proc" yaml:"proc"`
	Processors       []string          `toml:"processors" yaml:"processors"`
	ProcessorOptions map[string]string `toml:"processor_options" yaml:"processor_options"`
	Debug            string            `toml:"debug" yaml:"debug"`
	ShowWarnings     bool              `toml:"show_warnings" yaml:"show_warnings"`
	Verbose          bool              `toml:"verbose" yaml:"verbose"`
	AccessRules      string            `toml:"access_rules" yaml:"access_rules"`
	Fork             ForkSettings      `toml:"fork" yaml:"fork"`
}

// ForkSettings tune the forked backend's child process.
type ForkSettings struct {
	MemInitial string `toml:"meminitial" yaml:"meminitial"`
	MaxMem     string `toml:"maxmem" yaml:"maxmem"`
	Timeout    string `toml:"timeout" yaml:"timeout"`
}

type manifestFile struct {
	Modules []Module `toml:"module" yaml:"module"`
}

// LoadManifest reads the manifest at path. The format follows the extension.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, builderr.IO("read", path, err)
	}
	var file manifestFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.Decode(string(data), &file)
		if err != nil {
			return nil, &builderr.ConfigError{Msg: path + ": failed to parse TOML", Err: err}
		}
		if !meta.IsDefined("module") {
			return nil, builderr.Config("%s: missing [[module]]", path)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, builderr.Config("%s: unknown key %s", path, undecoded[0].String())
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&file); err != nil {
			return nil, &builderr.ConfigError{Msg: path + ": failed to parse YAML", Err: err}
		}
		if len(file.Modules) == 0 {
			return nil, builderr.Config("%s: missing module list", path)
		}
	default:
		return nil, builderr.Config("%s: unsupported manifest format", path)
	}

	m := &Manifest{Path: path, Root: filepath.Dir(path)}
	seen := make(map[string]struct{}, len(file.Modules))
	for i, mod := range file.Modules {
		if strings.TrimSpace(mod.Name) == "" {
			return nil, builderr.Config("%s: module #%d: missing name", path, i+1)
		}
		if _, dup := seen[mod.Name]; dup {
			return nil, builderr.Config("%s: duplicate module %q", path, mod.Name)
		}
		seen[mod.Name] = struct{}{}
		if err := mod.validate(); err != nil {
			return nil, &builderr.ConfigError{Msg: fmt.Sprintf("%s: module %q", path, mod.Name), Err: err}
		}
		m.Modules = append(m.Modules, mod.withDefaults().Resolve(m.Root))
	}
	return m, nil
}

// Lookup returns the module with the given name.
func (m *Manifest) Lookup(name string) (Module, bool) {
	for _, mod := range m.Modules {
		if mod.Name == name {
			return mod, true
		}
	}
	return Module{}, false
}

func (mod Module) validate() error {
	if mod.Fork.Timeout != "" {
		if _, err := time.ParseDuration(mod.Fork.Timeout); err != nil {
			return fmt.Errorf("fork.timeout: %w", err)
		}
	}
	for _, dep := range mod.Depends {
		if dep == mod.Name {
			return fmt.Errorf("depends on itself")
		}
	}
	return nil
}

// ForkTimeout parses fork.timeout; zero means no watchdog.
func (mod Module) ForkTimeout() time.Duration {
	d, err := time.ParseDuration(mod.Fork.Timeout)
	if err != nil {
		return 0
	}
	return d
}

func (mod Module) withDefaults() Module {
	if mod.Dir == "" {
		mod.Dir = "."
	}
	if len(mod.Sources) == 0 {
		mod.Sources = []string{DefaultSourceRoot}
	}
	if len(mod.Includes) == 0 {
		mod.Includes = []string{DefaultInclude}
	}
	if mod.Output == "" {
		mod.Output = DefaultOutput
	}
	if mod.GeneratedSources == "" {
		mod.GeneratedSources = DefaultGeneratedSources
	}
	if mod.Backend == "" {
		mod.Backend = DefaultBackend
	}
	if mod.Proc == "" {
		mod.Proc = DefaultProc
	}
	if mod.Debug == "" {
		mod.Debug = DefaultDebug
	}
	if mod.AccessRules == "" {
		mod.AccessRules = DefaultAccessRules
	}
	return mod
}

// Resolve makes every path of the module absolute against root.
func (mod Module) Resolve(root string) Module {
	mod.Dir = absUnder(root, mod.Dir)
	mod.Sources = absAll(mod.Dir, mod.Sources)
	mod.Classpath = absAll(mod.Dir, mod.Classpath)
	mod.Output = absUnder(mod.Dir, mod.Output)
	mod.GeneratedSources = absUnder(mod.Dir, mod.GeneratedSources)
	return mod
}

func absAll(base string, paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, absUnder(base, p))
	}
	return out
}

func absUnder(base, p string) string {
	p = filepath.FromSlash(p)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(base, p)
}
