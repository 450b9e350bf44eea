// Package forked runs each compile round in a child process and exchanges
// a versioned msgpack configuration and result file with it.
package forked

import (
	"errors"
	"fmt"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"kiln/internal/builderr"
	"kiln/internal/diag"
)

// ProtocolVersion - менять при любом изменении Configuration или Record
const ProtocolVersion uint16 = 1

// NoSource marks a diagnostic without a specific source.
const NoSource = "."

// ErrVersion is returned when a file was written by another protocol version.
var ErrVersion = errors.New("forked protocol version mismatch")

// Configuration is what the parent hands to the child.
type Configuration struct {
	Version  uint16   `msgpack:"v"`
	Encoding string   `msgpack:"encoding"`
	Options  []string `msgpack:"options"`
	Sources  []string `msgpack:"sources"`
}

type RecordKind uint8

const (
	RecordProduced RecordKind = iota + 1
	RecordDiagnostic
)

// Record is one line of the child's result: either a produced output or a
// diagnostic. Output is relative to the -d directory, slash-separated.
type Record struct {
	Kind     RecordKind    `msgpack:"k"`
	Input    string        `msgpack:"in,omitempty"`
	Output   string        `msgpack:"out,omitempty"`
	Path     string        `msgpack:"path,omitempty"`
	Line     uint32        `msgpack:"line,omitempty"`
	Column   uint32        `msgpack:"col,omitempty"`
	Severity diag.Severity `msgpack:"sev,omitempty"`
	Message  string        `msgpack:"msg,omitempty"`
}

// Result is the child's output file.
type Result struct {
	Version uint16   `msgpack:"v"`
	Records []Record `msgpack:"records"`
}

func Produced(input, output string) Record {
	return Record{Kind: RecordProduced, Input: input, Output: output}
}

// DiagnosticRecord converts d; an empty resource becomes NoSource.
func DiagnosticRecord(d diag.Diagnostic) Record {
	path := d.Location.Resource
	if path == "" {
		path = NoSource
	}
	return Record{
		Kind:     RecordDiagnostic,
		Path:     path,
		Line:     d.Location.Line,
		Column:   d.Location.Column,
		Severity: d.Severity,
		Message:  d.Message,
	}
}

// Diagnostic converts a diagnostic record back; NoSource becomes an empty
// resource.
func (r Record) Diagnostic() diag.Diagnostic {
	path := r.Path
	if path == NoSource {
		path = ""
	}
	return diag.New(r.Severity, diag.CompilerMessage, diag.Location{Resource: path, Line: r.Line, Column: r.Column}, r.Message)
}

func WriteConfiguration(path string, cfg Configuration) error {
	cfg.Version = ProtocolVersion
	return writeFile(path, &cfg)
}

func ReadConfiguration(path string) (Configuration, error) {
	var cfg Configuration
	if err := readFile(path, &cfg); err != nil {
		return Configuration{}, err
	}
	if cfg.Version != ProtocolVersion {
		return Configuration{}, fmt.Errorf("%s: %w (file %d, expected %d)", path, ErrVersion, cfg.Version, ProtocolVersion)
	}
	return cfg, nil
}

func WriteResult(path string, res Result) error {
	res.Version = ProtocolVersion
	return writeFile(path, &res)
}

func ReadResult(path string) (Result, error) {
	var res Result
	if err := readFile(path, &res); err != nil {
		return Result{}, err
	}
	if res.Version != ProtocolVersion {
		return Result{}, fmt.Errorf("%s: %w (file %d, expected %d)", path, ErrVersion, res.Version, ProtocolVersion)
	}
	return res, nil
}

func writeFile(path string, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return builderr.IO("write", path, err)
	}
	return nil
}

func readFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return builderr.IO("read", path, err)
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
