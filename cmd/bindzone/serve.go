package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"jabberwocky238/bindzone/acme"
	"jabberwocky238/bindzone/dispatch"
	jwhttp "jabberwocky238/bindzone/http"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the management servers, the backup sweeper and the zone watchers",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := setup(cmd, appOptions{})
			if err != nil {
				return err
			}
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	slog.Info("starting bindzone", "version", version, "zones", a.zones.Zones(), "default_zone", a.zones.DefaultZone())

	if err := a.checkZones(ctx); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	fail := func(err error) {
		select {
		case errCh <- err:
		default:
		}
		stop()
	}

	sweeper := a.sweeper()
	wg.Go(func() {
		if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("backup sweeper stopped", "error", err)
		}
	})

	if a.cfg.Watch.Enabled {
		for _, e := range a.zones.Engines() {
			wg.Go(func() {
				if err := e.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
					slog.Error("zone watcher stopped", "zone", e.Zone(), "error", err)
				}
			})
		}
	}

	d := dispatch.New(a.zones)

	if a.cfg.TCP.Enabled {
		srv := dispatch.NewTCPServer(dispatch.TCPConfig{
			Listen:      a.cfg.TCP.Listen,
			ReadTimeout: a.cfg.TCP.ReadTimeout,
		}, d)
		wg.Go(func() {
			if err := srv.ListenAndServe(ctx); err != nil {
				fail(fmt.Errorf("tcp server: %w", err))
			}
		})
	}

	if a.cfg.HTTP.Enabled {
		var metricsHandler http.Handler
		if a.cfg.HTTP.Metrics {
			metricsHandler = a.metrics.Handler()
		}
		srv := jwhttp.NewServer(jwhttp.ServerConfig{
			Listen:    a.cfg.HTTP.Listen,
			AuthToken: a.cfg.AuthToken(),
			Metrics:   metricsHandler,
		}, a.zones, d)
		wg.Go(func() {
			if err := srv.Start(); err != nil {
				fail(fmt.Errorf("http server: %w", err))
			}
		})
		stopHTTP := context.AfterFunc(ctx, srv.Shutdown)
		defer stopHTTP()
	}

	if a.cfg.ACME.Enabled {
		wg.Go(func() { a.runCertificates(ctx) })
	}

	<-ctx.Done()
	slog.Info("shutting down")
	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// runCertificates keeps the configured certificate valid, checking once at
// startup and then every CheckInterval.
func (a *app) runCertificates(ctx context.Context) {
	domains := a.cfg.ACME.Domains
	var manager *acme.Manager

	ensure := func() {
		if manager == nil {
			m, err := a.certManager()
			if err != nil {
				slog.Error("ACME setup failed", "error", err)
				return
			}
			manager = m
		}
		if _, err := manager.Ensure(ctx, domains, false); err != nil {
			slog.Error("certificate renewal failed", "domains", domains, "error", err)
		}
	}

	ensure()
	ticker := time.NewTicker(a.cfg.ACME.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ensure()
		}
	}
}
