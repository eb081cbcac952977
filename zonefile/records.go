package zonefile

import (
	"fmt"
	"iter"
	"net/netip"
	"strings"

	"github.com/miekg/dns"

	"jabberwocky238/bindzone/internal/types"
)

// Records returns a restartable sequence over the resource records of the
// document in document order, optionally restricted to the given types.
func (d *Document) Records(filter ...types.RecordType) iter.Seq[types.Record] {
	return func(yield func(types.Record) bool) {
		for _, l := range d.lines {
			if l.Kind != types.LineRecord {
				continue
			}
			if len(filter) > 0 && !containsType(filter, l.Record.Type) {
				continue
			}
			if !yield(*l.Record) {
				return
			}
		}
	}
}

// Find returns the first record in document order matching sel.
func (d *Document) Find(sel types.Selector) (types.Record, bool) {
	if i := d.index(sel); i >= 0 {
		return *d.lines[i].Record, true
	}
	return types.Record{}, false
}

// Add appends rec at the end of the document. rec.Name is taken as an
// absolute name (or "@") and written with a trailing dot. It fails with
// ErrRecordExists when a record with the same name, type and rdata is
// already present.
func (d *Document) Add(rec types.Record) (types.Record, error) {
	if err := checkWritable(rec.Type, rec.Data); err != nil {
		return types.Record{}, err
	}
	rec.FQDN = types.NormalizeName(rec.Name)
	if rec.Name == "@" {
		rec.FQDN = d.Origin
	}
	if rec.FQDN == "" {
		return types.Record{}, types.ErrInvalidName
	}
	rec.Name = rec.FQDN + "."
	if rec.Class == "" {
		rec.Class = types.ClassIN
	}
	if err := d.checkRdata(rec); err != nil {
		return types.Record{}, err
	}
	if d.exists(rec.Key(), -1) {
		return types.Record{}, fmt.Errorf("%s %s %s: %w", rec.FQDN, rec.Type, rec.Data, types.ErrRecordExists)
	}

	rec.SourceIndex = len(d.lines)
	d.lines = append(d.lines, Line{Kind: types.LineRecord, Text: d.render(rec), Record: &rec})
	d.trailingNewline = true
	return rec, nil
}

// Update rewrites the first record matching sel with the non-zero fields.
// The rewritten line loses any trailing comment.
func (d *Document) Update(sel types.Selector, fields types.RecordFields) (old, updated types.Record, err error) {
	i := d.index(sel)
	if i < 0 {
		return old, updated, fmt.Errorf("%s: %w", types.NormalizeName(sel.Name), types.ErrRecordNotFound)
	}
	old = *d.lines[i].Record
	updated = old
	if fields.Type != "" {
		updated.Type = fields.Type
	}
	if fields.Data != "" {
		updated.Data = fields.Data
	}
	if fields.TTL != nil {
		ttl := *fields.TTL
		updated.TTL = &ttl
	}
	if err := checkWritable(updated.Type, updated.Data); err != nil {
		return old, updated, err
	}
	if err := d.checkRdata(updated); err != nil {
		return old, updated, err
	}
	if d.exists(updated.Key(), i) {
		return old, updated, fmt.Errorf("%s %s %s: %w", updated.FQDN, updated.Type, updated.Data, types.ErrRecordExists)
	}

	d.lines[i] = Line{Kind: types.LineRecord, Text: d.render(updated), Record: &updated}
	return old, updated, nil
}

// Delete removes the first record matching sel and leaves every other line
// untouched.
func (d *Document) Delete(sel types.Selector) (types.Record, error) {
	i := d.index(sel)
	if i < 0 {
		return types.Record{}, fmt.Errorf("%s: %w", types.NormalizeName(sel.Name), types.ErrRecordNotFound)
	}
	removed := *d.lines[i].Record
	d.lines = append(d.lines[:i], d.lines[i+1:]...)
	d.reindex(i)
	return removed, nil
}

// Diff reports the record-level changes between two documents. A record
// that disappeared and a record that appeared under the same owner name and
// type are reported together as one update.
func Diff(before, after *Document) types.Changes {
	oldKeys := make(map[types.RecordKey]types.Record)
	for r := range before.Records() {
		oldKeys[r.Key()] = r
	}
	newKeys := make(map[types.RecordKey]bool)

	var changes types.Changes
	var added []types.Record
	for r := range after.Records() {
		newKeys[r.Key()] = true
		if _, ok := oldKeys[r.Key()]; !ok {
			added = append(added, r)
		}
	}

	var deleted []types.Record
	for r := range before.Records() {
		if !newKeys[r.Key()] {
			deleted = append(deleted, r)
		}
	}

	for _, a := range added {
		paired := false
		for j, del := range deleted {
			if del.FQDN == a.FQDN && (del.Type == a.Type || (del.Type.IsAddress() && a.Type.IsAddress())) {
				changes.Updated = append(changes.Updated, a)
				deleted = append(deleted[:j], deleted[j+1:]...)
				paired = true
				break
			}
		}
		if !paired {
			changes.Added = append(changes.Added, a)
		}
	}
	changes.Deleted = deleted
	return changes
}

func (d *Document) index(sel types.Selector) int {
	for i, l := range d.lines {
		if l.Kind == types.LineRecord && sel.Matches(*l.Record) {
			return i
		}
	}
	return -1
}

func (d *Document) exists(key types.RecordKey, skip int) bool {
	for i, l := range d.lines {
		if i == skip || l.Kind != types.LineRecord {
			continue
		}
		if l.Record.Key() == key {
			return true
		}
	}
	return false
}

func (d *Document) reindex(from int) {
	for i := from; i < len(d.lines); i++ {
		if d.lines[i].Record != nil {
			d.lines[i].Record.SourceIndex = i
		}
	}
}

func (d *Document) render(rec types.Record) string {
	s := rec.String()
	if d.crlf {
		s += "\r"
	}
	return s
}

func checkWritable(rt types.RecordType, data string) error {
	if rt.IsProtected() {
		return types.ErrProtectedRecord
	}
	if !rt.IsValid() {
		return fmt.Errorf("%q: %w", rt, types.ErrInvalidRecordType)
	}
	if strings.TrimSpace(data) == "" || strings.ContainsAny(data, "\r\n()") {
		return fmt.Errorf("empty or multi-line rdata: %w", types.ErrMalformedRequest)
	}
	if stripComment(data) != data {
		return fmt.Errorf("rdata contains a comment: %w", types.ErrMalformedRequest)
	}
	return nil
}

// checkRdata parses rec as a one-line zone so that nothing is written
// which the name server would refuse to load. Addresses must also match the
// family of their type.
func (d *Document) checkRdata(rec types.Record) error {
	if rec.Type.IsAddress() {
		addr, err := netip.ParseAddr(strings.TrimSpace(rec.Data))
		if err != nil || addr.Zone() != "" || addr.Is4() != (rec.Type == types.RecordTypeA) {
			return fmt.Errorf("%s %q: %w", rec.Type, rec.Data, types.ErrInvalidIP)
		}
	}

	rec.Name = rec.FQDN + "."
	zp := dns.NewZoneParser(strings.NewReader(rec.String()+"\n"), dns.Fqdn(d.Origin), "")
	zp.SetIncludeAllowed(false)
	if _, ok := zp.Next(); !ok {
		err := zp.Err()
		if err == nil {
			err = fmt.Errorf("no record parsed")
		}
		return fmt.Errorf("%s %s %q: %v: %w", rec.FQDN, rec.Type, rec.Data, err, types.ErrMalformedRequest)
	}
	return nil
}

func containsType(list []types.RecordType, rt types.RecordType) bool {
	for _, t := range list {
		if t == rt {
			return true
		}
	}
	return false
}
