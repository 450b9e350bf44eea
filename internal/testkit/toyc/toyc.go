// Package toyc compiles a tiny line-oriented Java subset into real class
// files. It implements backend.Compiler so driver tests run without a JDK.
//
// Grammar, one statement per line:
//
//	package a.b;
//	[public|private] class Name [extends T] [implements T, U]
//	[public] interface Name [extends T, U]
//	nested Name                      member type of the current class
//	[public|private] method name(T, U) R
//	[public|private] field name T
//	uses T                           body-only reference
//	body text                        changes the class initializer body
//	resource path/in/output          loose output
//	error: message / warning: message
//
// Simple type names resolve in the current package; dotted names are
// qualified; int, boolean, void and String are built in. Every referenced
// type must be declared by the compiled sources or found on the classpath.
package toyc

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"kiln/internal/backend"
	"kiln/internal/diag"
	"kiln/internal/testkit"
)

// Compiler records every round it compiles.
type Compiler struct {
	mu     sync.Mutex
	rounds [][]string
}

func New() *Compiler { return &Compiler{} }

// Rounds returns the sources of every Compile call so far.
func (c *Compiler) Rounds() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]string, len(c.rounds))
	for i, r := range c.rounds {
		out[i] = slices.Clone(r)
	}
	return out
}

// Compiled flattens Rounds into a sorted, unique list of base names.
func (c *Compiler) Compiled() []string {
	seen := map[string]bool{}
	for _, r := range c.Rounds() {
		for _, s := range r {
			seen[filepath.Base(s)] = true
		}
	}
	var out []string
	for s := range seen {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// Reset forgets recorded rounds.
func (c *Compiler) Reset() {
	c.mu.Lock()
	c.rounds = nil
	c.mu.Unlock()
}

type ref struct {
	name string // internal
	line uint32
}

type unit struct {
	path    string
	classes []*testkit.Class
	refs    []ref
	diags   []diag.Diagnostic
	loose   []string
}

func (c *Compiler) Compile(_ context.Context, inv backend.Invocation) (backend.Result, error) {
	c.mu.Lock()
	c.rounds = append(c.rounds, slices.Clone(inv.Sources))
	c.mu.Unlock()

	var units []*unit
	declared := map[string]bool{}
	for _, src := range inv.Sources {
		u, err := parseUnit(src)
		if err != nil {
			return backend.Result{}, err
		}
		for _, cls := range u.classes {
			declared[cls.Name] = true
		}
		units = append(units, u)
	}

	var res backend.Result
	for _, u := range units {
		res.Diagnostics = append(res.Diagnostics, u.diags...)
		for _, r := range u.refs {
			if declared[r.name] || strings.HasPrefix(r.name, "java/") || onClasspath(inv.Classpath, r.name) {
				continue
			}
			res.Diagnostics = append(res.Diagnostics, diag.NewError(diag.CompilerMessage,
				diag.Location{Resource: u.path, Line: r.line, Column: 1},
				"cannot find symbol\n  symbol: class "+strings.ReplaceAll(r.name, "/", ".")))
		}
	}
	if res.ErrorCount() > 0 {
		return res, nil
	}

	for _, u := range units {
		for _, cls := range u.classes {
			if err := write(inv.Staging, cls.Name+".class", cls.Bytes()); err != nil {
				return backend.Result{}, err
			}
		}
		for _, l := range u.loose {
			if err := write(inv.Staging, l, []byte("generated by "+filepath.Base(u.path))); err != nil {
				return backend.Result{}, err
			}
		}
	}
	produced, err := backend.CollectOutputs(inv.Staging, inv.Sources)
	if err != nil {
		return backend.Result{}, err
	}
	res.Produced = produced
	return res, nil
}

func write(dir, rel string, data []byte) error {
	p := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

func onClasspath(entries []string, internal string) bool {
	rel := internal + ".class"
	for _, e := range entries {
		info, err := os.Stat(e)
		if err != nil {
			continue
		}
		if info.IsDir() {
			if _, err := os.Stat(filepath.Join(e, filepath.FromSlash(rel))); err == nil {
				return true
			}
			continue
		}
		zr, err := zip.OpenReader(e)
		if err != nil {
			continue
		}
		found := false
		for _, f := range zr.File {
			if f.Name == rel {
				found = true
				break
			}
		}
		_ = zr.Close()
		if found {
			return true
		}
	}
	return false
}

func parseUnit(path string) (*unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	u := &unit{path: path}
	pkg := ""
	var cur *testkit.Class
	var outer *testkit.Class
	source := filepath.Base(path)

	for i, raw := range strings.Split(string(data), "\n") {
		line := uint32(i + 1)
		text := strings.TrimSpace(raw)
		if text == "" || strings.HasPrefix(text, "//") {
			continue
		}
		resolve := func(name string) string {
			internal, desc := typeName(pkg, name)
			if desc == "" && !strings.HasPrefix(internal, "java/") {
				u.refs = append(u.refs, ref{name: internal, line: line})
			}
			return internal
		}
		at := diag.Location{Resource: path, Line: line, Column: 1}

		switch {
		case strings.HasPrefix(text, "package "):
			pkg = strings.TrimSuffix(strings.TrimSpace(strings.TrimPrefix(text, "package ")), ";")
		case strings.HasPrefix(text, "error:"):
			u.diags = append(u.diags, diag.NewError(diag.CompilerMessage, at, strings.TrimSpace(text[len("error:"):])))
		case strings.HasPrefix(text, "warning:"):
			u.diags = append(u.diags, diag.NewWarning(diag.CompilerMessage, at, strings.TrimSpace(text[len("warning:"):])))
		case strings.HasPrefix(text, "resource "):
			u.loose = append(u.loose, strings.TrimSpace(strings.TrimPrefix(text, "resource ")))
		default:
			access, rest := modifiers(text)
			word, tail, _ := strings.Cut(rest, " ")
			switch word {
			case "class", "interface":
				cls := declareClass(pkg, word, access, tail, source, resolve)
				u.classes = append(u.classes, cls)
				cur, outer = cls, cls
			case "nested":
				if outer == nil {
					return nil, fmt.Errorf("%s:%d: nested outside of a class", path, line)
				}
				name := outer.Name + "$" + strings.TrimSpace(tail)
				simple := strings.TrimSpace(tail)
				inner := testkit.Inner{Inner: name, Outer: outer.Name, Name: simple, Access: testkit.AccPublic | testkit.AccStatic}
				cls := &testkit.Class{Name: name, SourceFile: source, Inner: []testkit.Inner{inner}}
				outer.Inner = append(outer.Inner, inner)
				u.classes = append(u.classes, cls)
				cur = cls
			case "method":
				if cur == nil {
					return nil, fmt.Errorf("%s:%d: method outside of a class", path, line)
				}
				cur.Methods = append(cur.Methods, parseMethod(access, tail, pkg, resolve))
			case "field":
				if cur == nil {
					return nil, fmt.Errorf("%s:%d: field outside of a class", path, line)
				}
				name, typ, _ := strings.Cut(strings.TrimSpace(tail), " ")
				cur.Fields = append(cur.Fields, testkit.Field{Access: access, Name: name, Desc: descriptor(pkg, strings.TrimSpace(typ), resolve)})
			case "uses":
				if cur == nil {
					return nil, fmt.Errorf("%s:%d: uses outside of a class", path, line)
				}
				owner := resolve(strings.TrimSpace(tail))
				init := clinit(cur)
				init.Calls = append(init.Calls, testkit.Call{Owner: owner, Name: "touch", Desc: "()V"})
			case "body":
				if cur == nil {
					return nil, fmt.Errorf("%s:%d: body outside of a class", path, line)
				}
				sum := sha256.Sum256([]byte(tail))
				init := clinit(cur)
				init.Code = append(init.Code, sum[:4]...)
			default:
				return nil, fmt.Errorf("%s:%d: cannot parse %q", path, line, text)
			}
		}
	}
	return u, nil
}

func modifiers(text string) (uint16, string) {
	switch {
	case strings.HasPrefix(text, "public "):
		return testkit.AccPublic, strings.TrimPrefix(text, "public ")
	case strings.HasPrefix(text, "private "):
		return testkit.AccPrivate, strings.TrimPrefix(text, "private ")
	}
	return 0, text
}

func declareClass(pkg, word string, access uint16, tail, source string, resolve func(string) string) *testkit.Class {
	fields := strings.Fields(strings.ReplaceAll(tail, ",", " "))
	cls := &testkit.Class{SourceFile: source}
	if len(fields) > 0 {
		cls.Name = qualify(pkg, fields[0])
	}
	if word == "interface" {
		cls.Access = testkit.AccPublic | testkit.AccInterface | testkit.AccAbstract
	} else if access != 0 {
		cls.Access = access | testkit.AccSuper
	}
	mode := ""
	for _, f := range fields[1:] {
		switch f {
		case "extends", "implements":
			mode = f
			continue
		}
		name := resolve(f)
		if mode == "extends" && word == "class" {
			cls.Super = name
		} else {
			cls.Interfaces = append(cls.Interfaces, name)
		}
	}
	return cls
}

func parseMethod(access uint16, tail, pkg string, resolve func(string) string) testkit.Method {
	tail = strings.TrimSpace(tail)
	open := strings.IndexByte(tail, '(')
	closing := strings.IndexByte(tail, ')')
	if open < 0 || closing < open {
		return testkit.Method{Access: access, Name: tail, Desc: "()V", Code: []byte{0}}
	}
	name := tail[:open]
	var params strings.Builder
	for _, p := range strings.Split(tail[open+1:closing], ",") {
		if p = strings.TrimSpace(p); p != "" {
			params.WriteString(descriptor(pkg, p, resolve))
		}
	}
	ret := strings.TrimSpace(tail[closing+1:])
	if ret == "" {
		ret = "void"
	}
	return testkit.Method{
		Access: access,
		Name:   name,
		Desc:   "(" + params.String() + ")" + descriptor(pkg, ret, resolve),
		Code:   []byte{0},
	}
}

func clinit(cls *testkit.Class) *testkit.Method {
	for i := range cls.Methods {
		if cls.Methods[i].Name == "<clinit>" {
			return &cls.Methods[i]
		}
	}
	cls.Methods = append(cls.Methods, testkit.Method{Access: testkit.AccStatic, Name: "<clinit>", Desc: "()V", Code: []byte{0}})
	return &cls.Methods[len(cls.Methods)-1]
}

var builtins = map[string]string{"int": "I", "boolean": "Z", "void": "V", "long": "J"}

// typeName returns the internal name of a reference type, or the
// descriptor of a primitive.
func typeName(pkg, name string) (internal, primitive string) {
	if d, ok := builtins[name]; ok {
		return "", d
	}
	if name == "String" || name == "Object" {
		return "java/lang/" + name, ""
	}
	return qualify(pkg, name), ""
}

func descriptor(pkg, name string, resolve func(string) string) string {
	if _, prim := typeName(pkg, name); prim != "" {
		return prim
	}
	return "L" + resolve(name) + ";"
}

func qualify(pkg, name string) string {
	if strings.Contains(name, ".") {
		return strings.ReplaceAll(name, ".", "/")
	}
	if pkg == "" {
		return name
	}
	return strings.ReplaceAll(pkg, ".", "/") + "/" + name
}
