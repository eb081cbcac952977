package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"jabberwocky238/bindzone/internal/config"
	"jabberwocky238/bindzone/internal/logging"
)

var version = "dev"

func main() {
	if err := newRootCommand().Run(context.Background(), os.Args); err != nil {
		slog.Error("bindzone failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:    "bindzone",
		Usage:   "Manage records in BIND zone files",
		Version: version,
		Description: `bindzone edits BIND zone files in place. Every change takes a snapshot
of the previous file, bumps the SOA serial, writes the new file atomically
and reloads the zone; a rejected reload restores the snapshot.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the configuration file (default $" + config.EnvConfigPath + " or " + config.DefaultPath + ")",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override the configured log level",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			checkCommand(),
			recordsCommand(),
			backupsCommand(),
			certCommand(),
			versionCommand(),
		},
	}
}

// loadConfig reads the configuration named by the global flags and
// installs the configured logger.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	path := config.ResolvePath(cmd.String("config"))
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if lvl := cmd.String("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	logging.Configure(cfg.Logging)
	slog.Debug("configuration loaded", "path", path)
	return cfg, nil
}

// setup loads the configuration and builds the zone engines.
func setup(cmd *cli.Command, opts appOptions) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return newApp(cfg, opts)
}

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Validate the configuration and parse every zone file",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := setup(cmd, appOptions{noReload: true})
			if err != nil {
				return err
			}
			for _, e := range a.zones.Engines() {
				res, err := e.Health(ctx)
				if err != nil {
					return fmt.Errorf("zone %s: %w", e.Zone(), err)
				}
				fmt.Fprintf(stdout(cmd), "%s\t%s\t%d records\tserial %d\n", e.Zone(), e.Path(), res.Records, res.Serial)
			}
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print the version",
		Action: func(_ context.Context, cmd *cli.Command) error {
			fmt.Fprintf(stdout(cmd), "bindzone %s\n", version)
			return nil
		},
	}
}

// stdout returns where command output goes.
func stdout(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}
