package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/miekg/dns"
	"github.com/urfave/cli/v3"

	"jabberwocky238/bindzone/internal/types"
	"jabberwocky238/bindzone/storage"
)

func zoneFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "zone",
		Usage: "zone origin; default is the most specific configured zone containing the name",
	}
}

func ttlFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "ttl",
		Usage: "record TTL in seconds; empty inherits the zone default",
	}
}

func noReloadFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "no-reload",
		Usage: "write the zone without reloading the name server",
	}
}

func recordsCommand() *cli.Command {
	return &cli.Command{
		Name:    "records",
		Aliases: []string{"record"},
		Usage:   "List and edit zone records",
		Description: `Edits go through the same lock, snapshot, serial bump and reload as the
	management servers, so they are safe while "bindzone serve" runs.`,
		Commands: []*cli.Command{
			{
				Name:      "list",
				Usage:     "List the records of one or all zones",
				ArgsUsage: "[type...]",
				Flags:     []cli.Flag{zoneFlag(), &cli.BoolFlag{Name: "json", Usage: "print JSON instead of a table"}},
				Action:    listRecords,
			},
			{
				Name:      "add",
				Usage:     "Add a record",
				ArgsUsage: "<name> <type> <data>",
				Flags:     []cli.Flag{zoneFlag(), ttlFlag(), noReloadFlag()},
				Action:    addRecord,
			},
			{
				Name:      "update",
				Usage:     "Rewrite the first record matching name and type",
				ArgsUsage: "<name> <type> [data]",
				Flags: []cli.Flag{
					zoneFlag(), ttlFlag(), noReloadFlag(),
					&cli.StringFlag{Name: "new-type", Usage: "replacement record type"},
					&cli.StringFlag{Name: "new-data", Usage: "replacement record data"},
				},
				Action: updateRecord,
			},
			{
				Name:      "delete",
				Usage:     "Delete the first record matching name and type",
				ArgsUsage: "<name> <type> [data]",
				Flags:     []cli.Flag{zoneFlag(), noReloadFlag()},
				Action:    deleteRecord,
			},
		},
	}
}

func listRecords(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(cmd, appOptions{noReload: true})
	if err != nil {
		return err
	}

	var filter []types.RecordType
	for _, arg := range cmd.Args().Slice() {
		rt, err := parseType(arg)
		if err != nil {
			return err
		}
		filter = append(filter, rt)
	}

	engines := a.zones.Engines()
	if zone := cmd.String("zone"); zone != "" {
		e, err := a.zones.Lookup(zone)
		if err != nil {
			return err
		}
		engines = []*storage.Engine{e}
	}

	var all []types.Record
	for _, e := range engines {
		recs, err := e.Records(ctx, filter...)
		if err != nil {
			return fmt.Errorf("zone %s: %w", e.Zone(), err)
		}
		all = append(all, recs...)
	}

	if cmd.Bool("json") {
		enc := json.NewEncoder(stdout(cmd))
		enc.SetIndent("", "  ")
		return enc.Encode(all)
	}
	tw := tabwriter.NewWriter(stdout(cmd), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTTL\tTYPE\tDATA")
	for _, r := range all {
		ttl := "-"
		if r.TTL != nil {
			ttl = strconv.FormatUint(uint64(*r.TTL), 10)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.FQDN, ttl, r.Type, r.Data)
	}
	return tw.Flush()
}

func addRecord(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 3 {
		return fmt.Errorf("add takes <name> <type> <data>: %w", types.ErrMalformedRequest)
	}
	name, rt, err := nameAndType(cmd)
	if err != nil {
		return err
	}
	ttl, err := parseTTL(cmd.String("ttl"))
	if err != nil {
		return err
	}
	e, err := target(cmd, name)
	if err != nil {
		return err
	}

	res, err := e.Add(ctx, types.Record{Name: name, TTL: ttl, Type: rt, Data: cmd.Args().Get(2)})
	return report(cmd, res, err)
}

func updateRecord(ctx context.Context, cmd *cli.Command) error {
	if n := cmd.Args().Len(); n < 2 || n > 3 {
		return fmt.Errorf("update takes <name> <type> [data]: %w", types.ErrMalformedRequest)
	}
	name, rt, err := nameAndType(cmd)
	if err != nil {
		return err
	}
	ttl, err := parseTTL(cmd.String("ttl"))
	if err != nil {
		return err
	}
	fields := types.RecordFields{TTL: ttl, Data: cmd.String("new-data")}
	if nt := cmd.String("new-type"); nt != "" {
		if fields.Type, err = parseType(nt); err != nil {
			return err
		}
	}
	if fields.Type == "" && fields.Data == "" && fields.TTL == nil {
		return fmt.Errorf("nothing to update: %w", types.ErrMalformedRequest)
	}
	e, err := target(cmd, name)
	if err != nil {
		return err
	}

	sel := types.Selector{Name: name, Types: []types.RecordType{rt}, Data: cmd.Args().Get(2)}
	res, err := e.Update(ctx, sel, fields)
	return report(cmd, res, err)
}

func deleteRecord(ctx context.Context, cmd *cli.Command) error {
	if n := cmd.Args().Len(); n < 2 || n > 3 {
		return fmt.Errorf("delete takes <name> <type> [data]: %w", types.ErrMalformedRequest)
	}
	name, rt, err := nameAndType(cmd)
	if err != nil {
		return err
	}
	e, err := target(cmd, name)
	if err != nil {
		return err
	}

	sel := types.Selector{Name: name, Types: []types.RecordType{rt}, Data: cmd.Args().Get(2)}
	res, err := e.Delete(ctx, sel)
	return report(cmd, res, err)
}

// target builds the app and picks the engine owning name.
func target(cmd *cli.Command, name string) (*storage.Engine, error) {
	a, err := setup(cmd, appOptions{noReload: cmd.Bool("no-reload")})
	if err != nil {
		return nil, err
	}
	zone := cmd.String("zone")
	if zone == "" {
		return a.zones.ForName(name)
	}
	e, err := a.zones.Lookup(zone)
	if err != nil {
		return nil, err
	}
	if !storage.InZone(name, e.Zone()) {
		return nil, fmt.Errorf("%s is outside zone %s: %w", name, e.Zone(), types.ErrInvalidName)
	}
	return e, nil
}

func nameAndType(cmd *cli.Command) (string, types.RecordType, error) {
	raw := cmd.Args().Get(0)
	if _, ok := dns.IsDomainName(raw); !ok || raw == "" {
		return "", "", fmt.Errorf("%q: %w", raw, types.ErrInvalidName)
	}
	rt, err := parseType(cmd.Args().Get(1))
	if err != nil {
		return "", "", err
	}
	return types.NormalizeName(raw), rt, nil
}

func parseType(s string) (types.RecordType, error) {
	rt := types.RecordType(strings.ToUpper(s))
	if !rt.IsValid() {
		return "", fmt.Errorf("%q: %w", s, types.ErrInvalidRecordType)
	}
	return rt, nil
}

func parseTTL(s string) (*uint32, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("ttl %q: %w", s, types.ErrMalformedRequest)
	}
	ttl := uint32(v)
	return &ttl, nil
}

// report prints the outcome of an edit. A failed write still reports the
// state it reached so a rollback is visible.
func report(cmd *cli.Command, res *storage.Result, err error) error {
	if res != nil && (err == nil || res.State != storage.StateIdle) {
		fmt.Fprintf(stdout(cmd), "zone %s: %s, serial %d -> %d", res.Zone, res.State, res.OldSerial, res.Serial)
		if res.Snapshot.Name != "" {
			fmt.Fprintf(stdout(cmd), ", snapshot %s", res.Snapshot.Name)
		}
		fmt.Fprintln(stdout(cmd))
	}
	if err != nil {
		return fmt.Errorf("%s: %w", types.Reason(err), err)
	}
	return nil
}
