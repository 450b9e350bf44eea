package javac

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"

	"fortio.org/safecast"

	"kiln/internal/diag"
)

var (
	headerRe  = regexp.MustCompile(`^(.+?):(\d+): (error|warning|mandatory warning): (.*)$`)
	globalRe  = regexp.MustCompile(`^(error|warning): (.*)$`)
	countRe   = regexp.MustCompile(`^\d+ (errors?|warnings?)$`)
	caretLine = regexp.MustCompile(`^\s*\^\s*$`)
)

type pending struct {
	d     diag.Diagnostic
	lines []string
}

// ParseOutput extracts diagnostics from javac console output. The caret
// line gives the column; lines after it extend the message. Note lines and
// the trailing counts are dropped.
func ParseOutput(text string) []diag.Diagnostic {
	var (
		out []diag.Diagnostic
		cur *pending
	)
	flush := func() {
		if cur == nil {
			return
		}
		out = append(out, finish(cur))
		cur = nil
	}

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		switch {
		case strings.HasPrefix(line, "Note: "):
			flush()
		case countRe.MatchString(line):
			flush()
		case headerRe.MatchString(line):
			flush()
			m := headerRe.FindStringSubmatch(line)
			sev, _ := diag.ParseSeverity(m[3])
			n, _ := strconv.ParseUint(m[2], 10, 32)
			lineNo, _ := safecast.Conv[uint32](n)
			cur = &pending{d: diag.New(sev, diag.CompilerMessage, diag.Location{Resource: m[1], Line: lineNo}, m[4])}
		case globalRe.MatchString(line):
			flush()
			m := globalRe.FindStringSubmatch(line)
			sev, _ := diag.ParseSeverity(m[1])
			cur = &pending{d: diag.New(sev, diag.CompilerMessage, diag.Location{}, m[2])}
		case cur != nil:
			cur.lines = append(cur.lines, line)
		}
	}
	flush()
	return out
}

// finish resolves the column and appends continuation lines. The line
// right before the caret is the echoed source and is not part of the
// message.
func finish(p *pending) diag.Diagnostic {
	d := p.d
	caret := -1
	for i, l := range p.lines {
		if caretLine.MatchString(l) {
			caret = i
			break
		}
	}
	var extra []string
	if caret >= 0 {
		col, _ := safecast.Conv[uint32](strings.IndexByte(p.lines[caret], '^') + 1)
		d.Location.Column = col
		if caret > 0 {
			extra = append(extra, p.lines[:caret-1]...)
		}
		extra = append(extra, p.lines[caret+1:]...)
	} else {
		extra = p.lines
	}
	for _, l := range extra {
		if strings.TrimSpace(l) == "" {
			continue
		}
		d.Message += "\n" + l
	}
	return d
}
