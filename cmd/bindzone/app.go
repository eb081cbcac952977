package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"k8s.io/client-go/kubernetes"

	"jabberwocky238/bindzone/acme"
	"jabberwocky238/bindzone/backup"
	"jabberwocky238/bindzone/internal/config"
	"jabberwocky238/bindzone/metrics"
	"jabberwocky238/bindzone/reload"
	"jabberwocky238/bindzone/storage"
)

// app holds the components every subcommand is built from.
type app struct {
	cfg      *config.Config
	zones    *storage.Registry
	backups  backup.Store
	pins     *backup.Pins
	metrics  *metrics.Metrics
	k8s      kubernetes.Interface
	reloader reload.Trigger
}

type appOptions struct {
	// noReload replaces the reload command with reload.Noop, for editing
	// zone files while the name server is down.
	noReload bool
}

func newApp(cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{
		cfg:     cfg,
		zones:   storage.NewRegistry(),
		pins:    backup.NewPins(),
		metrics: metrics.New(),
	}

	store, err := a.backupStore()
	if err != nil {
		return nil, err
	}
	a.backups = store

	a.reloader = a.buildReloader()
	if opts.noReload {
		a.reloader = reload.Noop
	}

	zones, err := cfg.ResolveZones()
	if err != nil {
		return nil, err
	}
	checker := a.checker()
	locks := storage.NewFileLockRegistry()
	for _, z := range zones {
		e, err := storage.NewEngine(storage.Config{
			Zone:          z.Name,
			Path:          z.File,
			Backups:       a.backups,
			Pins:          a.pins,
			Reloader:      a.reloader,
			ReloadTimeout: cfg.Reload.Timeout,
			Checker:       checker,
			Locks:         locks,
			Observer:      a.metrics,
		})
		if err != nil {
			return nil, fmt.Errorf("zone %s: %w", z.Name, err)
		}
		if err := a.zones.Register(e); err != nil {
			return nil, err
		}
		slog.Debug("zone registered", "zone", e.Zone(), "file", e.Path())
	}
	if cfg.DefaultZone != "" {
		if err := a.zones.SetDefault(cfg.DefaultZone); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// kube returns the in-cluster client, created on first use.
func (a *app) kube() (kubernetes.Interface, error) {
	if a.k8s != nil {
		return a.k8s, nil
	}
	client, err := backup.NewK8sClient()
	if err != nil {
		return nil, err
	}
	a.k8s = client
	return client, nil
}

func (a *app) backupStore() (backup.Store, error) {
	switch a.cfg.Backup.Type {
	case "configmap":
		client, err := a.kube()
		if err != nil {
			return nil, fmt.Errorf("backup store: %w", err)
		}
		return backup.NewConfigMapStore(client, a.cfg.Backup.ConfigMap.Namespace, a.cfg.Backup.ConfigMap.Prefix), nil
	default:
		store, err := backup.NewDirStore(a.cfg.Backup.Dir)
		if err != nil {
			return nil, fmt.Errorf("backup store: %w", err)
		}
		return store, nil
	}
}

func (a *app) buildReloader() reload.Trigger {
	rc := a.cfg.Reload
	var chain reload.Chain
	if len(rc.Command) > 0 {
		chain = append(chain, reload.NewCommand(rc.Command...))
	}
	if rc.Probe.Enabled {
		chain = append(chain, reload.NewSOAProbe(reload.ProbeConfig{
			Server:   rc.Probe.Server,
			Attempts: rc.Probe.Attempts,
			Interval: rc.Probe.Interval,
			Timeout:  rc.Probe.Timeout,
		}))
	}
	if len(chain) == 0 {
		return reload.Noop
	}
	return chain
}

func (a *app) checker() storage.Checker {
	if !a.cfg.Check.BeforeWrite {
		return nil
	}
	checkers := storage.Checkers{storage.BuiltinChecker{}}
	if len(a.cfg.Check.Command) > 0 {
		checkers = append(checkers, storage.CommandChecker{Args: a.cfg.Check.Command})
	}
	return checkers
}

func (a *app) sweeper() *backup.Sweeper {
	return backup.NewSweeper(a.backups, a.pins, a.zones.Bases, backup.SweeperConfig{
		Retention: a.cfg.Backup.Retention,
		Interval:  a.cfg.Backup.SweepInterval,
		Observer:  a.metrics,
	})
}

// checkZones parses every zone file and fails on the first unreadable one.
func (a *app) checkZones(ctx context.Context) error {
	for _, e := range a.zones.Engines() {
		res, err := e.Health(ctx)
		if err != nil {
			return fmt.Errorf("zone %s (%s): %w", e.Zone(), e.Path(), err)
		}
		slog.Info("zone loaded", "zone", e.Zone(), "file", e.Path(), "records", res.Records, "serial", res.Serial)
	}
	return nil
}

func (a *app) acmeConfig() *acme.Config {
	c := a.cfg.ACME
	cfg := acme.DefaultConfig()
	if c.ServerURL != "" {
		cfg.ServerURL = c.ServerURL
	}
	cfg.Email = c.Email
	if c.KeyType != "" {
		cfg.KeyType = c.KeyType
	}
	if c.RenewBefore > 0 {
		cfg.RenewBefore = c.RenewBefore
	}
	if c.PropagationWait > 0 {
		cfg.PropagationWait = c.PropagationWait
	}
	cfg.Resolvers = c.Resolvers
	cfg.AccountKeyPath = c.AccountKey
	cfg.Storage = acme.StorageConfig{Type: c.Storage.Type, Namespace: c.Storage.Namespace, Path: c.Storage.Path}
	cfg.EAB.KID = c.EAB.KID
	if c.EAB.HMACKeyEnv != "" {
		cfg.EAB.HMACKey = os.Getenv(c.EAB.HMACKeyEnv)
	}
	return cfg
}

func (a *app) certStorage(cfg *acme.Config) (acme.CertificateStorage, error) {
	var client kubernetes.Interface
	if cfg.Storage.Type == "kubernetes-secret" {
		k, err := a.kube()
		if err != nil {
			return nil, fmt.Errorf("certificate storage: %w", err)
		}
		client = k
	}
	return acme.NewCertificateStorage(cfg.Storage, client)
}

// certManager registers an ACME account and returns a manager that issues
// through it.
func (a *app) certManager() (*acme.Manager, error) {
	cfg := a.acmeConfig()
	certs, err := a.certStorage(cfg)
	if err != nil {
		return nil, err
	}
	client, err := acme.NewClient(cfg, a.zones)
	if err != nil {
		return nil, err
	}
	if err := client.Register(); err != nil {
		return nil, err
	}
	return acme.NewManager(client, certs, cfg.RenewBefore), nil
}
