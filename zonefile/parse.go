// Package zonefile parses BIND zone files into an ordered document of lines
// that serializes back byte-for-byte, and exposes the resource records in it
// for in-place create, update and delete.
package zonefile

import (
	"strings"

	"jabberwocky238/bindzone/internal/types"
)

// Line is one line of a zone document without its line terminator.
type Line struct {
	Kind   types.LineKind
	Text   string
	Record *types.Record // set when Kind is LineRecord
}

// Document is the structured view of one zone file.
type Document struct {
	// Origin is the zone origin used to qualify relative owner names that
	// appear before any $ORIGIN directive. Lower-case, no trailing dot.
	Origin string

	lines           []Line
	trailingNewline bool
	crlf            bool
}

// Parse splits text into lines and classifies each one. It never fails:
// anything that is not a recognisable single-line record is kept as raw text.
func Parse(text, origin string) *Document {
	d := &Document{Origin: types.NormalizeName(origin)}
	if text == "" {
		return d
	}
	if strings.HasSuffix(text, "\n") {
		d.trailingNewline = true
		text = text[:len(text)-1]
	}

	raw := strings.Split(text, "\n")
	d.lines = make([]Line, 0, len(raw))
	d.crlf = len(raw) > 0 && strings.HasSuffix(raw[0], "\r")

	current := d.Origin
	depth := 0
	for i, s := range raw {
		toks := tokenize(stripComment(s))
		line := Line{Kind: types.LineRaw, Text: s}

		if depth == 0 {
			if o, ok := originDirective(toks, current); ok {
				current = o
			} else if rec, ok := classify(s, toks, current); ok {
				rec.SourceIndex = i
				line.Kind = types.LineRecord
				line.Record = rec
			}
		}

		depth += parenDelta(toks)
		if depth < 0 {
			depth = 0
		}
		d.lines = append(d.lines, line)
	}
	return d
}

// String serializes the document. For an unmodified document this returns
// exactly the text it was parsed from.
func (d *Document) String() string {
	var b strings.Builder
	for i, l := range d.lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(l.Text)
	}
	if d.trailingNewline {
		b.WriteByte('\n')
	}
	return b.String()
}

// Bytes is String as a byte slice.
func (d *Document) Bytes() []byte { return []byte(d.String()) }

// Lines returns a copy of the document lines.
func (d *Document) Lines() []Line {
	out := make([]Line, len(d.lines))
	copy(out, d.lines)
	return out
}

// Len returns the number of lines.
func (d *Document) Len() int { return len(d.lines) }

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	c := *d
	c.lines = make([]Line, len(d.lines))
	for i, l := range d.lines {
		if l.Record != nil {
			r := *l.Record
			l.Record = &r
		}
		c.lines[i] = l
	}
	return &c
}

func originDirective(toks []token, current string) (string, bool) {
	if len(toks) < 2 || !strings.EqualFold(toks[0].text, "$ORIGIN") {
		return "", false
	}
	return qualify(toks[1].text, current), true
}

// classify decides whether a line is a single-line resource record of the
// form <name> [ttl] [class] <type> <rdata>.
func classify(line string, toks []token, origin string) (*types.Record, bool) {
	if line == "" || line[0] == ' ' || line[0] == '\t' {
		return nil, false
	}
	if line[0] == '$' || line[0] == ';' {
		return nil, false
	}
	if len(toks) < 3 || parenDelta(toks) != 0 {
		return nil, false
	}
	for _, t := range toks {
		if t.text == "(" || t.text == ")" {
			return nil, false
		}
	}

	rec := &types.Record{Name: toks[0].text, Class: types.ClassIN}
	i := typeIndex(line, toks)
	if i < 0 || i >= len(toks)-1 {
		return nil, false
	}
	for _, t := range toks[1:i] {
		if ttl, ok := parseTTL(t.text); ok {
			rec.TTL = &ttl
		} else {
			rec.Class = strings.ToUpper(t.text)
		}
	}

	rt := types.RecordType(strings.ToUpper(toks[i].text))
	if !rt.IsValid() || rt.IsProtected() {
		return nil, false
	}
	rec.Type = rt

	stripped := stripComment(line)
	rec.Data = strings.TrimSpace(stripped[toks[i].end:])
	rec.FQDN = qualify(rec.Name, origin)
	return rec, true
}

// typeIndex returns the index of the type token in a record line: after
// the owner, unless the line starts with a blank, and at most one TTL and
// one class in either order. It returns -1 when no token is left.
func typeIndex(line string, toks []token) int {
	i := 0
	if line != "" && line[0] != ' ' && line[0] != '\t' {
		i = 1
	}
	seenTTL, seenClass := false, false
	for i < len(toks) {
		tok := toks[i].text
		if _, ok := parseTTL(tok); ok && !seenTTL {
			seenTTL = true
			i++
			continue
		}
		if isClass(tok) && !seenClass {
			seenClass = true
			i++
			continue
		}
		break
	}
	if i >= len(toks) {
		return -1
	}
	return i
}

// qualify resolves an owner name against an origin. The result is
// lower-case without a trailing dot.
func qualify(name, origin string) string {
	switch {
	case name == "@":
		return origin
	case strings.HasSuffix(name, "."):
		return types.NormalizeName(name)
	case origin == "":
		return types.NormalizeName(name)
	default:
		return types.NormalizeName(name) + "." + origin
	}
}
