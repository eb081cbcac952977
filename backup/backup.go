// Package backup keeps timestamped snapshots of zone files, pins the ones a
// rollback is using, and prunes old snapshots beyond a retention count.
package backup

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the timestamp suffix of a snapshot name.
const TimeLayout = "20060102_150405"

// Snapshot identifies one immutable copy of a zone file.
type Snapshot struct {
	// Base is the basename of the zone file the snapshot was taken from.
	Base string `json:"base"`
	// Name is "<base>.<YYYYMMDD_HHMMSS>" with an optional "_N" suffix when
	// several snapshots were taken in the same second.
	Name string    `json:"name"`
	Time time.Time `json:"time"`
	Seq  int       `json:"seq"`
	Size int64     `json:"size"`
}

// Store persists snapshots. Implementations must be safe for concurrent use.
type Store interface {
	// Save writes data as a new snapshot of base taken at the given time.
	// It never overwrites an existing snapshot.
	Save(ctx context.Context, base string, data []byte, at time.Time) (Snapshot, error)
	// Load returns the bytes of the named snapshot or ErrSnapshotNotFound.
	Load(ctx context.Context, name string) ([]byte, error)
	// List returns the snapshots of base, newest first.
	List(ctx context.Context, base string) ([]Snapshot, error)
	// Delete removes the named snapshot.
	Delete(ctx context.Context, name string) error
}

// SnapshotName builds the snapshot name for base at t with sequence seq.
func SnapshotName(base string, t time.Time, seq int) string {
	name := base + "." + t.Format(TimeLayout)
	if seq > 0 {
		name += "_" + strconv.Itoa(seq)
	}
	return name
}

// ParseName reports whether name is a snapshot of base and decodes it.
// Timestamps are interpreted in the local time zone, the zone they were
// formatted in.
func ParseName(base, name string) (Snapshot, bool) {
	rest, ok := strings.CutPrefix(name, base+".")
	if !ok || len(rest) < len(TimeLayout) {
		return Snapshot{}, false
	}
	ts, suffix := rest[:len(TimeLayout)], rest[len(TimeLayout):]
	t, err := time.ParseInLocation(TimeLayout, ts, time.Local)
	if err != nil {
		return Snapshot{}, false
	}
	seq := 0
	if suffix != "" {
		n, ok := strings.CutPrefix(suffix, "_")
		if !ok {
			return Snapshot{}, false
		}
		seq, err = strconv.Atoi(n)
		if err != nil || seq < 1 {
			return Snapshot{}, false
		}
	}
	return Snapshot{Base: base, Name: name, Time: t, Seq: seq}, true
}

// SortNewestFirst orders snapshots by time then sequence, newest first.
func SortNewestFirst(snaps []Snapshot) {
	slices.SortFunc(snaps, func(a, b Snapshot) int {
		if c := b.Time.Compare(a.Time); c != 0 {
			return c
		}
		return b.Seq - a.Seq
	})
}
