// Package app wires configuration, storage, the explorer session and the
// front-ends together.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arpa-simc/provami/internal/database"
	"github.com/arpa-simc/provami/internal/log"
	"github.com/arpa-simc/provami/internal/managers"
	"github.com/arpa-simc/provami/internal/metrics"
	"github.com/arpa-simc/provami/internal/session"
	"github.com/arpa-simc/provami/internal/webapi"
	"github.com/arpa-simc/provami/pkg/config"
)

// App represents the main application
type App struct {
	configProvider config.ConfigProvider
	logger         *zap.SugaredLogger

	// started is closed once the controllers accept connections
	started chan struct{}
	addr    string
}

// New creates a new application instance
func New(configProvider config.ConfigProvider, logger *zap.SugaredLogger) *App {
	if logger == nil {
		logger = log.GetSugaredLogger()
	}
	return &App{
		configProvider: configProvider,
		logger:         logger,
		started:        make(chan struct{}),
	}
}

// Started is closed when the server is accepting connections.
func (a *App) Started() <-chan struct{} {
	return a.started
}

// Addr returns the address the server listens on, once started.
func (a *App) Addr() string {
	return a.addr
}

// Run starts the application and blocks until shutdown
func (a *App) Run(ctx context.Context) error {
	cfg, err := a.configProvider.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	s, err := session.Open(cfg.DBURL, session.Config{
		DataLimit: cfg.Session.DataLimit,
		Logger:    log.Named("session"),
		Metrics:   m,
	})
	if err != nil {
		return fmt.Errorf("error opening %s: %w", database.RedactURL(cfg.DBURL), err)
	}
	defer s.Close()

	api := webapi.New(s, log.Named("api"), m)

	var wg sync.WaitGroup
	eg, egctx := errgroup.WithContext(ctx)

	cm, err := managers.NewControllerManager(egctx, &wg, cfg.Server, api, reg, a.logger)
	if err != nil {
		return err
	}
	l, err := cm.Listen()
	if err != nil {
		return err
	}
	if err := cm.StartControllers(l); err != nil {
		l.Close()
		return err
	}
	a.addr = l.Addr().String()
	close(a.started)

	// Build the explorer summary in the background so the first page load
	// does not pay for the full scan
	eg.Go(func() error {
		if _, err := s.Init(egctx); err != nil && egctx.Err() == nil {
			a.logger.Warnf("initial summary failed: %v", err)
		}
		return nil
	})

	log.Info("Application started successfully")
	fmt.Fprintf(os.Stderr, "Open %s in your browser\n", cm.REST.StartURL())

	<-egctx.Done()
	log.Info("shutdown signal received, initiating graceful shutdown...")

	err = eg.Wait()

	// Wait for all controllers to terminate
	log.Info("waiting for all workers to terminate...")
	wg.Wait()
	log.Info("shutdown complete")

	return err
}
