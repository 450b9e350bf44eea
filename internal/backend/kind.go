// Package backend defines the compiler backends a build can dispatch to and
// the immutable configuration they share.
package backend

import (
	"strings"

	"kiln/internal/builderr"
)

// Kind selects a backend. The set is closed; every switch over it is
// exhaustive.
type Kind uint8

const (
	KindJavac Kind = iota + 1
	KindForked
	KindSelfTracking
)

var kindNames = map[Kind]string{
	KindJavac:        "javac",
	KindForked:       "forked",
	KindSelfTracking: "self-tracking",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind maps a manifest backend id to its Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if strings.EqualFold(s, name) {
			return k, nil
		}
	}
	return 0, builderr.Config("unsupported backend %q (expected javac, forked or self-tracking)", s)
}

// Proc is the annotation processing mode.
type Proc uint8

const (
	ProcNone Proc = iota
	ProcOnly
	ProcBoth
)

func (p Proc) String() string {
	switch p {
	case ProcOnly:
		return "only"
	case ProcBoth:
		return "both"
	default:
		return "none"
	}
}

func ParseProc(s string) (Proc, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return ProcNone, nil
	case "only":
		return ProcOnly, nil
	case "both", "proc":
		return ProcBoth, nil
	}
	return 0, builderr.Config("unsupported proc mode %q (expected none, only or both)", s)
}

// AccessRules is the export-package enforcement mode.
type AccessRules uint8

const (
	AccessIgnore AccessRules = iota
	AccessError
)

func (a AccessRules) String() string {
	if a == AccessError {
		return "error"
	}
	return "ignore"
}

func ParseAccessRules(s string) (AccessRules, error) {
	switch strings.ToLower(s) {
	case "", "ignore":
		return AccessIgnore, nil
	case "error":
		return AccessError, nil
	}
	return 0, builderr.Config("unsupported access rules mode %q (expected ignore or error)", s)
}

var debugKeywords = map[string]bool{"lines": true, "vars": true, "source": true}

// ParseDebug normalizes the debug setting to "all", "none" or a
// comma-separated subset of lines, vars and source.
func ParseDebug(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "all", "true":
		return "all", nil
	case "none", "false":
		return "none", nil
	}
	parts := strings.Split(s, ",")
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if !debugKeywords[p] {
			return "", builderr.Config("unsupported debug keyword %q (expected all, none or lines,vars,source)", p)
		}
		parts[i] = p
	}
	return strings.Join(parts, ","), nil
}
