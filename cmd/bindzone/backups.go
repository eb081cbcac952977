package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"jabberwocky238/bindzone/internal/types"
)

func backupsCommand() *cli.Command {
	return &cli.Command{
		Name:    "backups",
		Aliases: []string{"backup"},
		Usage:   "Inspect, prune and restore zone snapshots",
		Commands: []*cli.Command{
			{
				Name:      "list",
				Usage:     "List the snapshots of a zone, newest first",
				ArgsUsage: "<zone>",
				Action:    listBackups,
			},
			{
				Name:  "sweep",
				Usage: "Prune snapshots beyond the configured retention now",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, err := setup(cmd, appOptions{noReload: true})
					if err != nil {
						return err
					}
					removed := a.sweeper().SweepOnce(ctx)
					fmt.Fprintf(stdout(cmd), "removed %d snapshots\n", removed)
					return nil
				},
			},
			{
				Name:      "restore",
				Usage:     "Put a snapshot back in place of the live zone file",
				ArgsUsage: "<zone> <snapshot>",
				Flags:     []cli.Flag{noReloadFlag()},
				Action:    restoreBackup,
			},
		},
	}
}

func listBackups(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("list takes <zone>: %w", types.ErrMalformedRequest)
	}
	a, err := setup(cmd, appOptions{noReload: true})
	if err != nil {
		return err
	}
	e, err := a.zones.Lookup(cmd.Args().First())
	if err != nil {
		return err
	}
	snaps, err := e.Snapshots(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(stdout(cmd), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTIME\tSIZE")
	for _, s := range snaps {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", s.Name, s.Time.Format(time.RFC3339), s.Size)
	}
	return tw.Flush()
}

func restoreBackup(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 2 {
		return fmt.Errorf("restore takes <zone> <snapshot>: %w", types.ErrMalformedRequest)
	}
	a, err := setup(cmd, appOptions{noReload: cmd.Bool("no-reload")})
	if err != nil {
		return err
	}
	e, err := a.zones.Lookup(cmd.Args().First())
	if err != nil {
		return err
	}
	res, err := e.Restore(ctx, cmd.Args().Get(1))
	return report(cmd, res, err)
}
