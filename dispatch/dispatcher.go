package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"jabberwocky238/bindzone/internal/types"
	"jabberwocky238/bindzone/storage"
	"jabberwocky238/bindzone/zonefile"
)

// Zones resolves the zone a request targets.
type Zones interface {
	Store(zone string) (storage.ZoneStore, error)
}

// Dispatcher validates requests and runs them against the zone stores.
type Dispatcher struct {
	zones Zones
}

// New creates a Dispatcher over zones.
func New(zones Zones) *Dispatcher {
	return &Dispatcher{zones: zones}
}

// Handle runs one request. Input errors are rejected before any zone file
// is read. Every failure is reported in the response; Handle never panics
// on bad input and never returns a Go error.
func (d *Dispatcher) Handle(ctx context.Context, req Request) Response {
	var (
		resp Response
		err  error
	)
	switch req.Action {
	case ActionAdd:
		resp, err = d.add(ctx, req)
	case ActionDelete:
		resp, err = d.delete(ctx, req)
	case ActionUpdate:
		resp, err = d.update(ctx, req)
	case ActionList:
		resp, err = d.list(ctx, req)
	default:
		err = fmt.Errorf("invalid action %q: %w", req.Action, types.ErrMalformedRequest)
	}
	if err != nil {
		return failure(err)
	}
	return resp
}

// target validates the domain and resolves the zone that must contain it.
func (d *Dispatcher) target(req Request) (storage.ZoneStore, string, error) {
	if req.Domain == "" {
		return nil, "", fmt.Errorf("domain is required: %w", types.ErrMalformedRequest)
	}
	name, err := ValidateDomain(req.Domain)
	if err != nil {
		return nil, "", err
	}
	store, err := d.zones.Store(req.Zone)
	if err != nil {
		return nil, "", err
	}
	if !storage.InZone(name, store.Zone()) {
		return nil, "", fmt.Errorf("%s is outside zone %s: %w", name, store.Zone(), types.ErrInvalidName)
	}
	return store, name, nil
}

func (d *Dispatcher) address(req Request) (string, types.RecordType, error) {
	if req.IP == "" {
		return "", "", fmt.Errorf("ip is required: %w", types.ErrMalformedRequest)
	}
	addr, rt, err := ValidateIP(req.IP)
	if err != nil {
		return "", "", err
	}
	return addr.String(), rt, nil
}

var addressTypes = []types.RecordType{types.RecordTypeA, types.RecordTypeAAAA}

// add refuses a name that already has an address record of either family.
func (d *Dispatcher) add(ctx context.Context, req Request) (Response, error) {
	store, name, err := d.target(req)
	if err != nil {
		return Response{}, err
	}
	ip, rt, err := d.address(req)
	if err != nil {
		return Response{}, err
	}

	_, err = store.Apply(ctx, string(ActionAdd), func(doc *zonefile.Document) error {
		if existing, ok := doc.Find(types.Selector{Name: name, Types: addressTypes}); ok {
			return fmt.Errorf("%s already has %s record %s: %w", name, existing.Type, existing.Data, types.ErrRecordExists)
		}
		_, err := doc.Add(types.Record{Name: name, TTL: req.TTL, Type: rt, Data: ip})
		return err
	})
	if err != nil {
		return Response{}, err
	}
	return success(fmt.Sprintf("added %s record: %s -> %s", rt, name, ip)), nil
}

func (d *Dispatcher) delete(ctx context.Context, req Request) (Response, error) {
	store, name, err := d.target(req)
	if err != nil {
		return Response{}, err
	}
	if _, err := store.Delete(ctx, types.Selector{Name: name, Types: addressTypes}); err != nil {
		return Response{}, err
	}
	return success(fmt.Sprintf("deleted record: %s", name)), nil
}

// update rewrites the first address record of the name. The record type
// follows the new address family.
func (d *Dispatcher) update(ctx context.Context, req Request) (Response, error) {
	store, name, err := d.target(req)
	if err != nil {
		return Response{}, err
	}
	ip, rt, err := d.address(req)
	if err != nil {
		return Response{}, err
	}

	fields := types.RecordFields{Type: rt, Data: ip, TTL: req.TTL}
	if _, err := store.Update(ctx, types.Selector{Name: name, Types: addressTypes}, fields); err != nil {
		return Response{}, err
	}
	return success(fmt.Sprintf("updated record: %s -> %s (%s)", name, ip, rt)), nil
}

func (d *Dispatcher) list(ctx context.Context, req Request) (Response, error) {
	store, err := d.zones.Store(req.Zone)
	if err != nil {
		return Response{}, err
	}
	recs, err := store.Records(ctx, addressTypes...)
	if err != nil {
		slog.Error("list zone records", "zone", store.Zone(), "err", err)
		return Response{}, err
	}

	entries := make([]types.DomainEntry, 0, len(recs))
	for _, r := range recs {
		entries = append(entries, types.DomainEntry{Domain: r.FQDN, Type: r.Type, IP: r.Data})
	}
	resp := success(fmt.Sprintf("listed %d records", len(entries)))
	resp.Domains = entries
	return resp, nil
}
