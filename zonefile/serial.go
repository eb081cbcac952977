package zonefile

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"jabberwocky238/bindzone/internal/types"
)

// serialRef locates the SOA serial token inside the document.
type serialRef struct {
	line       int
	start, end int
	value      uint32
}

// NextSerial computes the serial that follows current under the
// YYYYMMDDnn scheme. Within the same day the two-digit counter is
// incremented; on any other day it restarts at 01. A counter already at 99
// yields ErrSerialOverflow.
func NextSerial(current uint32, today time.Time) (uint32, error) {
	y, m, d := today.Date()
	base := uint32(y*10000+int(m)*100+d) * 100
	if current >= base && current < base+100 {
		if current >= base+99 {
			return 0, fmt.Errorf("serial %d: %w", current, types.ErrSerialOverflow)
		}
		return current + 1, nil
	}
	return base + 1, nil
}

// Serial returns the SOA serial of the document, if it has an SOA record.
func (d *Document) Serial() (uint32, bool) {
	ref, ok := d.findSerial()
	return ref.value, ok
}

// SetSerial rewrites the serial in place, preserving the rest of the SOA
// block. It reports false when the document has no SOA record.
func (d *Document) SetSerial(v uint32) bool {
	ref, ok := d.findSerial()
	if !ok {
		return false
	}
	l := &d.lines[ref.line]
	l.Text = l.Text[:ref.start] + formatUint(v) + l.Text[ref.end:]
	return true
}

// BumpSerial advances the SOA serial for a write happening at now.
// ok is false when the document has no SOA record; the document is then
// left untouched.
func (d *Document) BumpSerial(now time.Time) (old, next uint32, ok bool, err error) {
	old, ok = d.Serial()
	if !ok {
		return 0, 0, false, nil
	}
	next, err = NextSerial(old, now)
	if err != nil {
		return old, 0, true, err
	}
	d.SetSerial(next)
	return old, next, true, nil
}

// findSerial locates the first SOA record, a line at parenthesis depth
// zero with SOA in the type position, and walks to its third rdata field
// (MNAME, RNAME, SERIAL) across continuation lines.
func (d *Document) findSerial() (serialRef, bool) {
	depth := 0
	for i, l := range d.lines {
		toks := tokenize(stripComment(l.Text))
		if depth == 0 && !strings.HasPrefix(l.Text, "$") {
			if at := typeIndex(l.Text, toks); at >= 0 && strings.EqualFold(toks[at].text, "SOA") {
				return d.serialFrom(i, at+1)
			}
		}
		depth = max(depth+parenDelta(toks), 0)
	}
	return serialRef{}, false
}

func (d *Document) serialFrom(line, tok int) (serialRef, bool) {
	field := 0
	for i := line; i < len(d.lines); i++ {
		toks := tokenize(stripComment(d.lines[i].Text))
		if i == line {
			toks = toks[tok:]
		}
		for _, t := range toks {
			if t.text == "(" || t.text == ")" {
				continue
			}
			field++
			if field < 3 {
				continue
			}
			v, err := strconv.ParseUint(t.text, 10, 32)
			if err != nil {
				return serialRef{}, false
			}
			return serialRef{line: i, start: t.start, end: t.end, value: uint32(v)}, true
		}
	}
	return serialRef{}, false
}
