// Package storage persists zone documents: it serializes mutations per zone
// file, snapshots the previous contents, writes atomically, triggers a
// reload and rolls back when the reload is rejected.
package storage

import (
	"context"
	"time"

	"jabberwocky238/bindzone/backup"
	"jabberwocky238/bindzone/internal/types"
	"jabberwocky238/bindzone/zonefile"
)

// ZoneStore defines the record-level interface of one zone with CRUD
// operations that are persisted before they return.
type ZoneStore interface {
	// Zone returns the zone origin, lower-case without a trailing dot.
	Zone() string

	// Records returns the records of the zone as currently on disk,
	// optionally restricted to the given types.
	Records(ctx context.Context, filter ...types.RecordType) ([]types.Record, error)

	// Add appends a record and persists the zone.
	Add(ctx context.Context, rec types.Record) (*Result, error)

	// Update rewrites the first record matching sel and persists the zone.
	Update(ctx context.Context, sel types.Selector, fields types.RecordFields) (*Result, error)

	// Delete removes the first record matching sel and persists the zone.
	Delete(ctx context.Context, sel types.Selector) (*Result, error)

	// Apply runs an arbitrary mutation under the zone lock and persists it.
	Apply(ctx context.Context, op string, mutate MutateFunc) (*Result, error)
}

// MutateFunc edits a freshly parsed document. Returning an error discards
// the edit; nothing is backed up or written.
type MutateFunc func(doc *zonefile.Document) error

// State is a step of the persistence state machine.
type State int

const (
	StateIdle State = iota
	StateBackedUp
	StateWritten
	StateVerified
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateBackedUp:
		return "backed_up"
	case StateWritten:
		return "written"
	case StateVerified:
		return "verified"
	case StateRolledBack:
		return "rolled_back"
	default:
		return "idle"
	}
}

// Result describes one run of the state machine. It is returned alongside
// the error so callers can report how far a failed write got.
type Result struct {
	Zone      string
	Op        string
	State     State
	Snapshot  backup.Snapshot
	OldSerial uint32
	Serial    uint32
	Bumped    bool
	Changes   types.Changes
	Duration  time.Duration
}

// Observer receives the outcome of every engine operation.
type Observer interface {
	ObserveOperation(zone, op string, res *Result, err error)
	ObserveExternalChange(zone string, changes types.Changes)
}
