package storage

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"jabberwocky238/bindzone/backup"
	"jabberwocky238/bindzone/internal/types"
	"jabberwocky238/bindzone/reload"
	"jabberwocky238/bindzone/zonefile"
)

// DefaultReloadTimeout bounds a single reload trigger invocation.
const DefaultReloadTimeout = 30 * time.Second

// Config holds the collaborators of an Engine.
type Config struct {
	Zone          string // zone origin
	Path          string // zone file
	Backups       backup.Store
	Pins          *backup.Pins   // shared with the sweeper
	Reloader      reload.Trigger // default reload.Noop
	ReloadTimeout time.Duration  // default DefaultReloadTimeout
	Checker       Checker        // optional pre-write validation
	Locks         *LockRegistry  // default DefaultLocks
	Observer      Observer       // optional
}

// Engine is the persistence engine of one zone file. It implements
// ZoneStore.
type Engine struct {
	zone          string
	path          string
	base          string
	backups       backup.Store
	pins          *backup.Pins
	reloader      reload.Trigger
	reloadTimeout time.Duration
	checker       Checker
	locks         *LockRegistry
	observer      Observer

	now func() time.Time

	mu       sync.Mutex
	lastHash [sha256.Size]byte
	lastDoc  *zonefile.Document
}

var _ ZoneStore = (*Engine)(nil)

// NewEngine creates an Engine for cfg.Path. The file does not need to be
// readable yet.
func NewEngine(cfg Config) (*Engine, error) {
	zone := types.NormalizeName(cfg.Zone)
	if zone == "" {
		return nil, fmt.Errorf("zone name is required")
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("zone %s: file path is required", zone)
	}
	if cfg.Backups == nil {
		return nil, fmt.Errorf("zone %s: backup store is required", zone)
	}
	path, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve zone file path: %w", err)
	}

	e := &Engine{
		zone:          zone,
		path:          path,
		base:          filepath.Base(path),
		backups:       cfg.Backups,
		pins:          cfg.Pins,
		reloader:      cfg.Reloader,
		reloadTimeout: cfg.ReloadTimeout,
		checker:       cfg.Checker,
		locks:         cfg.Locks,
		observer:      cfg.Observer,
		now:           time.Now,
	}
	if e.pins == nil {
		e.pins = backup.NewPins()
	}
	if e.reloader == nil {
		e.reloader = reload.Noop
	}
	if e.reloadTimeout <= 0 {
		e.reloadTimeout = DefaultReloadTimeout
	}
	if e.locks == nil {
		e.locks = DefaultLocks
	}
	if data, err := os.ReadFile(path); err == nil {
		e.remember(data, zonefile.Parse(string(data), zone))
	}
	return e, nil
}

// Zone returns the zone origin.
func (e *Engine) Zone() string { return e.zone }

// Path returns the absolute path of the zone file.
func (e *Engine) Path() string { return e.path }

// Base returns the zone file basename, which prefixes its snapshot names.
func (e *Engine) Base() string { return e.base }

// Records reads the zone file without taking the lock. Writes replace the
// file by rename, so a reader always sees one complete version.
func (e *Engine) Records(_ context.Context, filter ...types.RecordType) ([]types.Record, error) {
	data, err := os.ReadFile(e.path)
	if err != nil {
		return nil, fmt.Errorf("read zone file: %w", err)
	}
	return slices.Collect(zonefile.Parse(string(data), e.zone).Records(filter...)), nil
}

// Add appends rec and persists the zone.
func (e *Engine) Add(ctx context.Context, rec types.Record) (*Result, error) {
	return e.Apply(ctx, "add", func(doc *zonefile.Document) error {
		_, err := doc.Add(rec)
		return err
	})
}

// Update rewrites the first record matching sel and persists the zone.
func (e *Engine) Update(ctx context.Context, sel types.Selector, fields types.RecordFields) (*Result, error) {
	return e.Apply(ctx, "update", func(doc *zonefile.Document) error {
		_, _, err := doc.Update(sel, fields)
		return err
	})
}

// Delete removes the first record matching sel and persists the zone.
func (e *Engine) Delete(ctx context.Context, sel types.Selector) (*Result, error) {
	return e.Apply(ctx, "delete", func(doc *zonefile.Document) error {
		_, err := doc.Delete(sel)
		return err
	})
}

// Apply locks the zone, parses the current file, runs mutate and persists
// the result: backup, atomic write, reload, and rollback to the backup if
// the reload fails. Once the backup has started the caller's cancellation
// is ignored so that a rollback always completes.
func (e *Engine) Apply(ctx context.Context, op string, mutate MutateFunc) (res *Result, err error) {
	start := time.Now()
	res = &Result{Zone: e.zone, Op: op}
	defer func() {
		res.Duration = time.Since(start)
		e.finish(res, err)
	}()

	unlock, err := e.locks.Lock(ctx, e.path)
	if err != nil {
		return res, err
	}
	defer unlock()

	raw, mode, err := e.read()
	if err != nil {
		return res, err
	}
	doc := zonefile.Parse(string(raw), e.zone)
	before := doc.Clone()
	if err := mutate(doc); err != nil {
		return res, err
	}

	if err := e.bump(res, doc); err != nil {
		return res, err
	}
	return res, e.commit(ctx, res, raw, mode, before, doc)
}

// Restore replaces the zone file with the named snapshot through the same
// backup, write and reload sequence as any other mutation. The restored
// serial is moved past the current one so that secondaries pick it up.
func (e *Engine) Restore(ctx context.Context, name string) (res *Result, err error) {
	start := time.Now()
	res = &Result{Zone: e.zone, Op: "restore"}
	defer func() {
		res.Duration = time.Since(start)
		e.finish(res, err)
	}()

	release := e.pins.Pin(name)
	defer release()

	unlock, err := e.locks.Lock(ctx, e.path)
	if err != nil {
		return res, err
	}
	defer unlock()

	data, err := e.backups.Load(ctx, name)
	if err != nil {
		return res, err
	}
	raw, mode, err := e.read()
	if err != nil {
		return res, err
	}
	before := zonefile.Parse(string(raw), e.zone)
	doc := zonefile.Parse(string(data), e.zone)
	if cur, ok := before.Serial(); ok {
		if restored, ok := doc.Serial(); ok && int32(cur-restored) > 0 {
			doc.SetSerial(cur)
		}
	}

	if err := e.bump(res, doc); err != nil {
		return res, err
	}
	return res, e.commit(ctx, res, raw, mode, before, doc)
}

// Snapshots lists the backups of this zone file, newest first.
func (e *Engine) Snapshots(ctx context.Context) ([]backup.Snapshot, error) {
	return e.backups.List(ctx, e.base)
}

// Health checks the zone file on disk with the built-in checker and the
// configured one.
func (e *Engine) Health(ctx context.Context) (*zonefile.CheckResult, error) {
	data, err := os.ReadFile(e.path)
	if err != nil {
		return nil, fmt.Errorf("read zone file: %w", err)
	}
	res, err := zonefile.Check(data, e.zone, e.path)
	if err != nil {
		return nil, err
	}
	if e.checker != nil {
		if err := e.checker.Check(ctx, data, e.zone, e.path); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (e *Engine) bump(res *Result, doc *zonefile.Document) error {
	old, next, bumped, err := doc.BumpSerial(e.now())
	if err != nil {
		return err
	}
	res.OldSerial, res.Serial, res.Bumped = old, next, bumped
	if bumped && next < old {
		slog.Warn("SOA serial moved backwards", "zone", e.zone, "old", old, "new", next)
	}
	return nil
}

// commit runs the state machine from Idle. raw is the current file content
// and becomes the backup; doc is the candidate.
func (e *Engine) commit(ctx context.Context, res *Result, raw []byte, mode fs.FileMode, before, doc *zonefile.Document) error {
	out := doc.Bytes()
	if e.checker != nil {
		if err := e.checker.Check(ctx, out, e.zone, e.path); err != nil {
			return err
		}
	}
	res.Changes = zonefile.Diff(before, doc)
	serial, _ := doc.Serial()

	ctx = context.WithoutCancel(ctx)

	snap, err := e.backups.Save(ctx, e.base, raw, e.now())
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrBackupFailed, err)
	}
	release := e.pins.Pin(snap.Name)
	defer release()
	res.Snapshot = snap
	res.State = StateBackedUp
	slog.Debug("zone backed up", "zone", e.zone, "op", res.Op, "snapshot", snap.Name)

	if err := writeAtomic(e.path, out, mode); err != nil {
		return fmt.Errorf("%w: %v", types.ErrWriteFailed, err)
	}
	res.State = StateWritten
	e.remember(out, doc)
	slog.Debug("zone written", "zone", e.zone, "op", res.Op, "bytes", len(out), "serial", serial)

	rctx, cancel := context.WithTimeout(ctx, e.reloadTimeout)
	reloadErr := e.reloader.Reload(rctx, e.zone, serial)
	cancel()
	if reloadErr == nil {
		res.State = StateVerified
		return nil
	}
	if !errors.Is(reloadErr, types.ErrReloadFailed) {
		reloadErr = fmt.Errorf("%w: %v", types.ErrReloadFailed, reloadErr)
	}

	slog.Warn("reload rejected, restoring snapshot", "zone", e.zone, "op", res.Op, "snapshot", snap.Name, "err", reloadErr)
	if err := writeAtomic(e.path, raw, mode); err != nil {
		return fmt.Errorf("%w: restore %s: %v: %w", types.ErrRollbackFailed, snap.Name, err, reloadErr)
	}
	res.State = StateRolledBack
	e.remember(raw, before)
	return reloadErr
}

func (e *Engine) finish(res *Result, err error) {
	switch {
	case err == nil:
		slog.Info("zone updated",
			"zone", e.zone,
			"op", res.Op,
			"serial", res.Serial,
			"snapshot", res.Snapshot.Name,
			"added", len(res.Changes.Added),
			"updated", len(res.Changes.Updated),
			"deleted", len(res.Changes.Deleted),
			"duration", res.Duration,
		)
	case errors.Is(err, types.ErrRollbackFailed):
		slog.Error("zone rollback failed, file may hold an unloaded version",
			"zone", e.zone, "op", res.Op, "snapshot", res.Snapshot.Name, "err", err)
	case res.State == StateIdle:
		slog.Info("zone operation rejected", "zone", e.zone, "op", res.Op, "reason", types.Reason(err), "err", err)
	default:
		slog.Warn("zone operation failed", "zone", e.zone, "op", res.Op, "state", res.State, "err", err)
	}
	if e.observer != nil {
		e.observer.ObserveOperation(e.zone, res.Op, res, err)
	}
}

func (e *Engine) read() ([]byte, fs.FileMode, error) {
	info, err := os.Stat(e.path)
	if err != nil {
		return nil, 0, fmt.Errorf("stat zone file: %w", err)
	}
	data, err := os.ReadFile(e.path)
	if err != nil {
		return nil, 0, fmt.Errorf("read zone file: %w", err)
	}
	return data, info.Mode().Perm(), nil
}

func (e *Engine) remember(data []byte, doc *zonefile.Document) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastHash = sha256.Sum256(data)
	e.lastDoc = doc.Clone()
}

// writeAtomic replaces path with data via a temp file in the same directory
// and a rename, so readers see either the old or the new file.
func writeAtomic(path string, data []byte, mode fs.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".bindzone-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
