package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/SimplyPrint/sign-agent/internal/api"
	"github.com/SimplyPrint/sign-agent/internal/config"
	"github.com/SimplyPrint/sign-agent/internal/core"
	"github.com/SimplyPrint/sign-agent/internal/gateway"
	"github.com/SimplyPrint/sign-agent/internal/keystore"
	"github.com/SimplyPrint/sign-agent/internal/logging"
	"github.com/SimplyPrint/sign-agent/internal/metrics"
	"github.com/SimplyPrint/sign-agent/internal/operation"
	"github.com/SimplyPrint/sign-agent/internal/registry"
	"github.com/SimplyPrint/sign-agent/internal/service"
	"github.com/SimplyPrint/sign-agent/internal/settings"
	"github.com/SimplyPrint/sign-agent/internal/tray"
)

// running invocations get this long to finish on shutdown before they are cancelled
const drainTimeout = 10 * time.Second

type agent struct {
	cfg       *config.Config
	db        *registry.Database
	factory   *operation.Factory
	runner    *operation.Runner
	server    *api.Server
	autostart service.Service
	platform  bool
}

func newAgent(ctx context.Context, cfg *config.Config) (*agent, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	store, err := registry.OpenBadgerStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	db, err := registry.Open(ctx, store, registry.Options{LookupCacheSize: cfg.CacheSize, Metrics: m})
	if err != nil {
		store.Close()
		return nil, err
	}

	var (
		providers []keystore.Provider
		p12Paths  []string
	)
	if cfg.P12Path != "" {
		p12Paths = append(p12Paths, cfg.P12Path)
		providers = append(providers, &keystore.PKCS12Provider{
			Paths:    p12Paths,
			Password: keystore.StaticPassword(cfg.P12Password),
		})
	}
	manager := keystore.NewManager(providers...)
	prober, err := keystore.NewProber(manager, cfg.CacheSize, m)
	if err != nil {
		db.Close()
		return nil, err
	}

	deps := &operation.Deps{
		Registry:    db,
		Keystores:   manager,
		Prober:      prober,
		Detect:      keystore.WithSoftwareCards(core.FactoryDetector(core.DefaultContextFactory{}), p12Paths...),
		Environment: core.CurrentEnvironment(api.Version),
	}
	if cfg.PlatformEnabled() {
		platform, err := newPlatform(cfg, m)
		if err != nil {
			db.Close()
			return nil, err
		}
		deps.Platform = platform
	}

	factory := operation.NewFactory(deps, m)
	a := &agent{
		cfg:       cfg,
		db:        db,
		factory:   factory,
		runner:    operation.NewRunner(factory, operation.DefaultEventBuffer),
		autostart: service.New(),
		platform:  deps.Platform != nil,
	}
	a.server = api.NewServer(api.Options{
		Addr:           cfg.Address(),
		Factory:        factory,
		Runner:         a.runner,
		Registry:       db,
		Autostart:      a.autostart,
		Gatherer:       reg,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	logging.Info(logging.CatSystem, "Agent initialized", map[string]any{
		"keystoreAPIs": manager.APIs(),
		"knownCards":   db.Len(),
		"platform":     a.platform,
		"origins":      cfg.AllowedOrigins,
	})
	return a, nil
}

func newPlatform(cfg *config.Config, m *metrics.Metrics) (*gateway.Platform, error) {
	auth, err := gateway.NewJWTAuth(cfg.ClientID, []byte(cfg.ClientSecret), cfg.PlatformURL)
	if err != nil {
		return nil, err
	}
	verifier, err := gateway.DefaultVerifier()
	if err != nil {
		return nil, err
	}
	client, err := gateway.New(gateway.Options{
		BaseURL:        cfg.PlatformURL,
		Version:        api.Version,
		Platform:       core.CurrentPlatform(),
		ConnectTimeout: cfg.ConnectTimeout,
		Auth:           auth,
		Metrics:        m,
	})
	if err != nil {
		return nil, err
	}
	return gateway.NewPlatform(client, verifier), nil
}

// run serves until a signal, an API shutdown request or a tray quit, then
// drains the runner and closes the registry.
func (a *agent) run(parent context.Context, useTray bool) error {
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	a.server.SetShutdownHook(cancel)

	sinks := []func(operation.Event){a.server.Deliver}
	var trayApp *tray.App
	if useTray {
		trayApp = tray.New(a.cfg.Address(), a.runner, a.autostart, cancel)
		sinks = append(sinks, trayApp.Deliver)
	}

	serve := func() error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return a.db.RunAutosave(gctx, a.cfg.Autosave)
		})
		g.Go(func() error {
			return a.server.ListenAndServe(gctx)
		})
		g.Go(func() error {
			// ends when the runner closes its event channel
			for ev := range a.runner.Events() {
				for _, deliver := range sinks {
					deliver(ev)
				}
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			drainCtx, stop := context.WithTimeout(context.Background(), drainTimeout)
			defer stop()
			if err := a.runner.Close(drainCtx); err != nil {
				logging.Warn(logging.CatOperation, "Running operations cancelled at shutdown", map[string]any{
					"error": err.Error(),
				})
			}
			return nil
		})

		if a.platform && settings.IsSyncDevicesEnabled() {
			if _, err := a.runner.Submit(operation.NewInvocation(operation.KindSyncDevices, "startup")); err != nil {
				logging.Warn(logging.CatGateway, "Startup device sync not submitted", map[string]any{
					"error": err.Error(),
				})
			}
		}
		return g.Wait()
	}

	var err error
	if trayApp == nil {
		err = serve()
	} else {
		logging.Info(logging.CatSystem, "Starting with system tray", nil)
		errCh := make(chan error, 1)
		trayApp.Run(func() {
			errCh <- serve()
			trayApp.Quit()
		})
		err = <-errCh
	}

	logging.Info(logging.CatSystem, "Shutting down", nil)
	if cerr := a.db.Close(); cerr != nil {
		logging.Error(logging.CatRegistry, "Failed to close registry", map[string]any{
			"error": cerr.Error(),
		})
		if err == nil {
			err = cerr
		}
	}
	return err
}
