package storage

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"jabberwocky238/bindzone/internal/types"
)

// Registry is a thread-safe set of zone engines keyed by origin.
type Registry struct {
	mu          sync.RWMutex
	engines     map[string]*Engine
	defaultZone string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]*Engine)}
}

// Register adds an engine. Zone files must differ in basename as well as
// path, since snapshots are named after the basename. The first registered
// zone becomes the default unless SetDefault is called.
func (r *Registry) Register(e *Engine) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.engines[e.Zone()]; exists {
		return fmt.Errorf("zone %s registered twice", e.Zone())
	}
	for _, other := range r.engines {
		if other.Path() == e.Path() {
			return fmt.Errorf("zone %s: file %s already served as zone %s", e.Zone(), e.Path(), other.Zone())
		}
		if other.Base() == e.Base() {
			return fmt.Errorf("zone %s: file name %s already used by zone %s (%s); snapshots would collide",
				e.Zone(), e.Base(), other.Zone(), other.Path())
		}
	}
	r.engines[e.Zone()] = e
	if r.defaultZone == "" {
		r.defaultZone = e.Zone()
	}
	return nil
}

// SetDefault selects the zone used when a request names none.
func (r *Registry) SetDefault(zone string) error {
	zone = types.NormalizeName(zone)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.engines[zone]; !ok {
		return fmt.Errorf("default zone %s: %w", zone, types.ErrUnknownZone)
	}
	r.defaultZone = zone
	return nil
}

// Lookup returns the engine for zone, or the default engine when zone is
// empty.
func (r *Registry) Lookup(zone string) (*Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if zone == "" {
		zone = r.defaultZone
	}
	e, ok := r.engines[types.NormalizeName(zone)]
	if !ok {
		return nil, fmt.Errorf("zone %q: %w", zone, types.ErrUnknownZone)
	}
	return e, nil
}

// Store is Lookup returning the ZoneStore interface.
func (r *Registry) Store(zone string) (ZoneStore, error) {
	e, err := r.Lookup(zone)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ForName returns the engine of the most specific zone containing name.
func (r *Registry) ForName(name string) (*Engine, error) {
	name = types.NormalizeName(name)
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Engine
	for zone, e := range r.engines {
		if !InZone(name, zone) {
			continue
		}
		if best == nil || len(zone) > len(best.Zone()) {
			best = e
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%s: %w", name, types.ErrUnknownZone)
	}
	return best, nil
}

// Engines returns all engines sorted by zone.
func (r *Registry) Engines() []*Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Engine, 0, len(r.engines))
	for _, e := range r.engines {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b *Engine) int { return strings.Compare(a.Zone(), b.Zone()) })
	return out
}

// Zones returns the registered origins, sorted.
func (r *Registry) Zones() []string {
	var zones []string
	for _, e := range r.Engines() {
		zones = append(zones, e.Zone())
	}
	return zones
}

// Bases returns the zone file basenames, for the backup sweeper.
func (r *Registry) Bases() []string {
	var bases []string
	for _, e := range r.Engines() {
		bases = append(bases, e.Base())
	}
	return bases
}

// DefaultZone returns the zone used when a request names none.
func (r *Registry) DefaultZone() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultZone
}

// InZone reports whether name equals zone or is below it. Both must be
// normalized.
func InZone(name, zone string) bool {
	return name == zone || strings.HasSuffix(name, "."+zone)
}
