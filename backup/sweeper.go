package backup

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Pins marks snapshots that are in use by a rollback or restore. Pinned
// snapshots are never pruned.
type Pins struct {
	mu   sync.Mutex
	refs map[string]int
}

// NewPins returns an empty pin set.
func NewPins() *Pins {
	return &Pins{refs: make(map[string]int)}
}

// Pin marks name as in use until the returned release func is called.
// Release is idempotent.
func (p *Pins) Pin(name string) (release func()) {
	p.mu.Lock()
	p.refs[name]++
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if p.refs[name] <= 1 {
				delete(p.refs, name)
				return
			}
			p.refs[name]--
		})
	}
}

// Pinned reports whether name is currently pinned.
func (p *Pins) Pinned(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refs[name] > 0
}

// SweepObserver receives the outcome of each sweep.
type SweepObserver interface {
	ObserveSweep(base string, removed int, err error)
}

// Sweeper prunes snapshots beyond a retention count.
type Sweeper struct {
	store     Store
	pins      *Pins
	bases     func() []string
	retention int
	interval  time.Duration
	observer  SweepObserver

	now func() time.Time
}

// SweeperConfig configures a Sweeper.
type SweeperConfig struct {
	Retention int           // snapshots kept per zone; default 30
	Interval  time.Duration // default 24h
	Observer  SweepObserver
}

// NewSweeper creates a sweeper over store. bases returns the zone file
// basenames to prune; it is called on every sweep so that zones added at
// runtime are covered.
func NewSweeper(store Store, pins *Pins, bases func() []string, cfg SweeperConfig) *Sweeper {
	if cfg.Retention <= 0 {
		cfg.Retention = 30
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if pins == nil {
		pins = NewPins()
	}
	return &Sweeper{
		store:     store,
		pins:      pins,
		bases:     bases,
		retention: cfg.Retention,
		interval:  cfg.Interval,
		observer:  cfg.Observer,
		now:       time.Now,
	}
}

// Run sweeps once per interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("backup sweeper started", "interval", s.interval, "retention", s.retention)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce prunes every zone and returns the number of snapshots removed.
// Failures are logged and do not stop the sweep of other zones.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	total := 0
	for _, base := range s.bases() {
		n, err := s.SweepBase(ctx, base)
		if err != nil {
			slog.Error("backup sweep failed", "zone_file", base, "err", err)
		}
		total += n
	}
	return total
}

// SweepBase keeps the newest snapshots of one zone file and deletes the
// rest. Snapshots that are pinned or newer than the start of the scan are
// always kept and do not count against the retention.
func (s *Sweeper) SweepBase(ctx context.Context, base string) (int, error) {
	start := s.now()
	snaps, err := s.store.List(ctx, base)
	if err != nil {
		s.observe(base, 0, err)
		return 0, err
	}

	kept, removed := 0, 0
	var firstErr error
	for _, snap := range snaps {
		if snap.Time.After(start) || s.pins.Pinned(snap.Name) {
			continue
		}
		if kept < s.retention {
			kept++
			continue
		}
		if err := s.store.Delete(ctx, snap.Name); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		removed++
		slog.Debug("pruned snapshot", "snapshot", snap.Name)
	}

	if removed > 0 {
		slog.Info("backup sweep complete", "zone_file", base, "removed", removed, "kept", kept)
	}
	s.observe(base, removed, firstErr)
	return removed, firstErr
}

func (s *Sweeper) observe(base string, removed int, err error) {
	if s.observer != nil {
		s.observer.ObserveSweep(base, removed, err)
	}
}
