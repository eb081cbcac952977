package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"jabberwocky238/bindzone/acme"
)

func certCommand() *cli.Command {
	return &cli.Command{
		Name:  "cert",
		Usage: "Obtain and inspect ACME certificates validated through the managed zones",
		Commands: []*cli.Command{
			{
				Name:      "obtain",
				Usage:     "Obtain a certificate now, or renew it when it is close to expiry",
				ArgsUsage: "[domain...]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Usage: "obtain a new certificate even when the stored one is valid"},
				},
				Action: obtainCert,
			},
			{
				Name:   "list",
				Usage:  "List stored certificates and their expiry",
				Action: listCerts,
			},
		},
	}
}

func obtainCert(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(cmd, appOptions{})
	if err != nil {
		return err
	}
	domains := cmd.Args().Slice()
	if len(domains) == 0 {
		domains = a.cfg.ACME.Domains
	}
	if len(domains) == 0 {
		return fmt.Errorf("no domains given and none configured")
	}

	manager, err := a.certManager()
	if err != nil {
		return err
	}
	cert, err := manager.Ensure(ctx, domains, cmd.Bool("force"))
	if err != nil {
		return err
	}
	state := "valid"
	if cert.Renewed {
		state = "issued"
	}
	fmt.Fprintf(stdout(cmd), "%s: %s until %s\n", cert.Domain, state, cert.NotAfter.Format(time.RFC3339))
	return nil
}

func listCerts(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a := &app{cfg: cfg}
	acmeCfg := a.acmeConfig()
	certs, err := a.certStorage(acmeCfg)
	if err != nil {
		return err
	}
	domains, err := certs.List(ctx)
	if err != nil {
		return err
	}

	// Inspect only reads storage; no issuer is needed.
	inspector := acme.NewManager(nil, certs, acmeCfg.RenewBefore)

	tw := tabwriter.NewWriter(stdout(cmd), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DOMAIN\tNOT AFTER\tREMAINING")
	for _, domain := range domains {
		managed, err := inspector.Inspect(ctx, domain)
		if err != nil {
			fmt.Fprintf(tw, "%s\t%s\t-\n", domain, err)
			continue
		}
		remaining := time.Until(managed.NotAfter).Truncate(time.Hour)
		fmt.Fprintf(tw, "%s\t%s\t%s\n", domain, managed.NotAfter.Format(time.RFC3339), remaining)
	}
	return tw.Flush()
}
