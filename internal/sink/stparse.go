package sink

import (
	"regexp"
	"strings"
)

// ── Reading generated ST back ────────────────────────────────────────────────
// The PLCopen writer needs the emitted text as variables again. Only the
// shapes the emitter writes are understood: one declaration per line, led by
// attribute pragmas and // comment lines.

type attr struct {
	name  string
	value string
}

type varInfo struct {
	name     string
	typeName string
	initVal  string
	address  string
	comment  string
	attrs    []attr
}

type varBlock struct {
	kind string // VAR_GLOBAL or VAR
	vars []varInfo
}

var (
	rePragma = regexp.MustCompile(`^\{attribute\s+'([^']+)'(?:\s*:=\s*'([^']*)')?\s*\}$`)
	reDecl   = regexp.MustCompile(`^(\w+)(?:\s+AT\s+(%\S+))?\s*:\s*(.+?)(?:\s*:=\s*(.+?))?\s*;\s*(?://\s*(.*))?$`)
	reIdent  = regexp.MustCompile(`^[A-Za-z_]\w*$`)
)

// parsePragma returns the attribute of a {attribute 'name' := 'value'} line.
func parsePragma(line string) (attr, bool) {
	m := rePragma.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return attr{}, false
	}
	return attr{name: m[1], value: m[2]}, true
}

// parseVarDecl parses "name [AT %addr] : type [:= init]; [// comment]".
func parseVarDecl(line string) *varInfo {
	m := reDecl.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return nil
	}
	return &varInfo{
		name:     m[1],
		address:  m[2],
		typeName: m[3],
		initVal:  m[4],
		comment:  strings.TrimSpace(m[5]),
	}
}

// pending collects pragmas and comment lines until the declaration they
// belong to is reached.
type pending struct {
	attrs    []attr
	comments []string
}

func (p *pending) take(line string) bool {
	if a, ok := parsePragma(line); ok {
		p.attrs = append(p.attrs, a)
		return true
	}
	if c, ok := strings.CutPrefix(line, "//"); ok {
		p.comments = append(p.comments, strings.TrimSpace(c))
		return true
	}
	return false
}

func (p *pending) attach(v *varInfo) {
	v.attrs = append(v.attrs, p.attrs...)
	if len(p.comments) > 0 {
		v.comment = strings.TrimSpace(strings.Join(append(p.comments, v.comment), "\n"))
	}
	*p = pending{}
}

// parseVarBlocks returns the VAR_GLOBAL / VAR blocks of text and the pragmas
// written in front of them.
func parseVarBlocks(text string) (blocks []varBlock, blockAttrs []attr) {
	var cur *varBlock
	var pend pending
	for _, line := range strings.Split(text, "\n") {
		t := strings.TrimSpace(line)
		switch {
		case t == "VAR_GLOBAL" || t == "VAR":
			blocks = append(blocks, varBlock{kind: t})
			cur = &blocks[len(blocks)-1]
			blockAttrs = append(blockAttrs, pend.attrs...)
			pend = pending{}
		case t == "END_VAR":
			cur = nil
			pend = pending{}
		case pend.take(t):
		case cur != nil:
			if v := parseVarDecl(t); v != nil {
				pend.attach(v)
				cur.vars = append(cur.vars, *v)
			}
		}
	}
	return blocks, blockAttrs
}

// parseStructFields returns the members of the STRUCT of a TYPE block.
func parseStructFields(text string) []varInfo {
	var fields []varInfo
	var pend pending
	in := false
	for _, line := range strings.Split(text, "\n") {
		t := strings.TrimSpace(line)
		switch {
		case t == "STRUCT":
			in = true
		case t == "END_STRUCT":
			return fields
		case !in || pend.take(t):
		default:
			if v := parseVarDecl(t); v != nil {
				pend.attach(v)
				fields = append(fields, *v)
			}
		}
	}
	return fields
}

// splitProgram separates a generated PROGRAM into its declaration part and
// its statements.
func splitProgram(text string) (decl, body string) {
	i := strings.LastIndex(text, "END_VAR")
	if i < 0 {
		return text, ""
	}
	end := i + len("END_VAR")
	body = strings.TrimSpace(text[end:])
	body = strings.TrimSpace(strings.TrimSuffix(body, "END_PROGRAM"))
	return text[:end], body
}

type member struct {
	name  string
	value string
}

// structInit splits a "(a := 1, b := X)" initialiser into its members.
func structInit(init string) ([]member, bool) {
	init = strings.TrimSpace(init)
	if len(init) < 2 || init[0] != '(' || init[len(init)-1] != ')' {
		return nil, false
	}
	var out []member
	for _, part := range splitTopLevel(init[1 : len(init)-1]) {
		name, value, ok := strings.Cut(part, ":=")
		name = strings.TrimSpace(name)
		if !ok || !reIdent.MatchString(name) {
			return nil, false
		}
		out = append(out, member{name: name, value: strings.TrimSpace(value)})
	}
	return out, len(out) > 0
}

// splitTopLevel splits s at commas outside brackets and string literals.
func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	quoted := false
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\'':
			quoted = !quoted
		case quoted:
		case c == '(' || c == '[':
			depth++
		case c == ')' || c == ']':
			depth--
		case c == ',' && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}
