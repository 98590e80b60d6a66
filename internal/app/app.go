// Package app wires the pipeline components together from configuration.
// Each component is enabled by the presence of its config section, so the
// same binary can run the full pipeline or a single supervised role.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rwilli/localweather/internal/aggregator"
	"github.com/rwilli/localweather/internal/alarm"
	"github.com/rwilli/localweather/internal/bus"
	"github.com/rwilli/localweather/internal/controllers/rest"
	"github.com/rwilli/localweather/internal/gateway"
	"github.com/rwilli/localweather/internal/log"
	"github.com/rwilli/localweather/internal/persister"
	"github.com/rwilli/localweather/internal/storage"
	"github.com/rwilli/localweather/internal/storage/sqlite"
	"github.com/rwilli/localweather/internal/storage/timescaledb"
	"github.com/rwilli/localweather/pkg/config"
	"go.uber.org/zap"
)

// App represents the main application.
type App struct {
	configProvider config.ConfigProvider
	logger         *zap.SugaredLogger
}

// New creates a new application instance.
func New(configProvider config.ConfigProvider, logger *zap.SugaredLogger) *App {
	return &App{
		configProvider: configProvider,
		logger:         logger,
	}
}

// Run starts the configured components and blocks until shutdown.
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, err := a.configProvider.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}

	store, err := a.openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	var agg *aggregator.Aggregator
	if cfg.Aggregator != nil {
		if store == nil {
			return fmt.Errorf("aggregator requires a configured sample store")
		}
		agg, err = aggregator.New(store, *cfg.Aggregator, a.logger)
		if err != nil {
			return err
		}
		agg.StartScheduler(ctx, &wg)
	}

	var interceptor *gateway.Interceptor
	if cfg.Gateway != nil {
		busClient, err := bus.NewClient(cfg.Bus, "gateway", false, a.logger)
		if err != nil {
			return fmt.Errorf("could not connect interceptor to bus: %w", err)
		}
		defer busClient.Close()

		interceptor, err = gateway.NewInterceptor(ctx, &wg, *cfg.Gateway, busClient, a.logger)
		if err != nil {
			return err
		}
		if err := interceptor.Start(); err != nil {
			return fmt.Errorf("could not start gateway interceptor: %w", err)
		}
	}

	if store != nil {
		busClient, err := bus.NewClient(cfg.Bus, "persister", true, a.logger)
		if err != nil {
			return fmt.Errorf("could not connect persister to bus: %w", err)
		}
		defer busClient.Close()

		p := persister.New(ctx, store, a.logger)
		if err := p.Start(busClient); err != nil {
			return fmt.Errorf("could not start persister: %w", err)
		}
	}

	if cfg.ControlAPI != nil {
		if agg == nil {
			return fmt.Errorf("control API requires a configured aggregator")
		}
		var status rest.StatusSource
		if interceptor != nil {
			status = interceptor
		}
		var alarms *alarm.Evaluator
		if len(cfg.Alarms) > 0 {
			alarms = alarm.NewEvaluator(cfg.Alarms)
			a.logger.Infof("alarm evaluation enabled with %d rules", alarms.RuleCount())
		}
		cm, err := rest.NewController(ctx, &wg, *cfg.ControlAPI, store, agg, alarms, status, a.logger)
		if err != nil {
			return err
		}
		if err := cm.StartController(); err != nil {
			return err
		}
	}

	log.Info("application started successfully")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigs:
		log.Info("shutdown signal received, initiating graceful shutdown...")
	case <-ctx.Done():
		log.Info("context cancelled, shutting down...")
	}

	cancel()

	log.Info("waiting for all workers to terminate...")
	wg.Wait()
	log.Info("shutdown complete")

	return nil
}

// openStore opens the configured sample store backend, or returns nil when
// no store is configured (interceptor-only deployments).
func (a *App) openStore(ctx context.Context, cfg *config.ConfigData) (storage.SampleStore, error) {
	switch {
	case cfg.Storage.SQLite != nil && cfg.Storage.TimescaleDB != nil:
		return nil, fmt.Errorf("both sqlite and timescaledb storage configured; the store is single-writer, pick one")
	case cfg.Storage.SQLite != nil:
		return sqlite.New(cfg.Storage.SQLite.Path)
	case cfg.Storage.TimescaleDB != nil:
		return timescaledb.New(ctx, cfg.Storage.TimescaleDB.ConnectionString)
	default:
		return nil, nil
	}
}
