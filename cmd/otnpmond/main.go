package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"codeberg.org/mutker/otnpmon/internal/alarm"
	"codeberg.org/mutker/otnpmon/internal/clock"
	"codeberg.org/mutker/otnpmon/internal/config"
	"codeberg.org/mutker/otnpmon/internal/devspec"
	"codeberg.org/mutker/otnpmon/internal/errors"
	"codeberg.org/mutker/otnpmon/internal/hardware"
	"codeberg.org/mutker/otnpmon/internal/logger"
	"codeberg.org/mutker/otnpmon/internal/metrics"
	"codeberg.org/mutker/otnpmon/internal/peripheral"
	"codeberg.org/mutker/otnpmon/internal/pid"
	"codeberg.org/mutker/otnpmon/internal/pm"
	"codeberg.org/mutker/otnpmon/internal/store"
	"codeberg.org/mutker/otnpmon/internal/sysstat"
	"codeberg.org/mutker/otnpmon/internal/telemetry"
	"codeberg.org/mutker/otnpmon/internal/thermal"
)

const shutdownTimeout = 10 * time.Second

type app struct {
	cfg       *config.Config
	store     store.Store
	metrics   metrics.Collector
	publisher telemetry.Publisher
	syncer    *peripheral.Syncer
	thermal   *thermal.Controller
	server    *http.Server
}

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load(os.Args[1:])
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogLevel, logger.IsService()); err != nil {
		logger.Warn().Err(err).Msg("Invalid log level, using info")
	}
	logger.Debug().Msg("Config loaded")
}

func main() {
	if err := pid.Write(cfg.PIDFile); err != nil {
		logger.ErrorWithCode(err).Msg("Failed to write PID file")
		os.Exit(1)
	}
	defer func() {
		if err := pid.Remove(cfg.PIDFile); err != nil {
			logger.ErrorWithCode(err).Msg("Failed to remove PID file")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

	a, err := newApp(ctx, cfg)
	if err != nil {
		logger.ErrorWithCode(err).Msg("Failed to initialize")
		return
	}
	a.applyOverrides(ctx, cfg)
	go a.handleSignals(ctx, sigs, cancel)

	a.run(ctx)
	a.cleanup()
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	errFactory := errors.New()
	clk := clock.Real()

	spec, err := devspec.Load(cfg.DevSpec)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInitApp, err)
	}

	collector, err := metrics.NewService(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Listen:  cfg.Metrics.Listen,
	})
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInitApp, err)
	}

	publisher, err := telemetry.NewService(telemetry.Config{
		Enabled:   cfg.Telemetry.Enabled,
		Brokers:   cfg.Telemetry.Brokers,
		Topic:     cfg.Telemetry.Topic,
		QueueSize: telemetry.DefaultConfig().QueueSize,
	}, logger.Component("telemetry"))
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInitApp, err)
	}

	backend, err := openStore(ctx, cfg, clk)
	if err != nil {
		publisher.Close()
		return nil, errFactory.Wrap(errors.ErrInitApp, err)
	}
	router := store.NewRouter(backend, spec.Number(hardware.Linecard))

	client, err := hardware.NewClient(cfg.Hardware.Socket)
	if err != nil {
		backend.Close()
		publisher.Close()
		return nil, errFactory.Wrap(errors.ErrInitApp, err)
	}
	hw := hardware.WithRetry(client, hardware.RetryConfig{
		Attempts: cfg.Hardware.RetryAttempts,
		Delay:    cfg.Hardware.RetryDelay,
		Clock:    clk,
		Metrics:  collector,
		Logger:   logger.Component("hardware"),
	})

	alarms := alarm.New(alarm.Config{
		Router:    router,
		Clock:     clk,
		Metrics:   collector,
		Publisher: publisher,
		Logger:    logger.Component("alarm"),
	})
	aggregator := pm.NewAggregator(pm.Config{
		Router:  router,
		Clock:   clk,
		Metrics: collector,
		Logger:  logger.Component("pm"),
	})

	registry, err := peripheral.NewRegistry(peripheral.Env{
		Hardware: hw,
		Alarms:   alarms,
		PM:       aggregator,
		Router:   router,
		Spec:     spec,
		Host:     sysstat.NewHost(),
		Clock:    clk,
		Metrics:  collector,
		Logger:   logger.Component("peripheral"),
	})
	if err != nil {
		backend.Close()
		publisher.Close()
		return nil, errFactory.Wrap(errors.ErrInitApp, err)
	}

	syncer, err := peripheral.NewSyncer(registry, cfg.SyncInterval)
	if err != nil {
		backend.Close()
		publisher.Close()
		return nil, errFactory.Wrap(errors.ErrInitApp, err)
	}

	controller, err := thermal.New(thermal.Config{
		Hardware: hw,
		Alarms:   alarms,
		Spec:     spec,
		Interval: cfg.ThermalInterval,
		Metrics:  collector,
		Logger:   logger.Component("thermal"),
	})
	if err != nil {
		backend.Close()
		publisher.Close()
		return nil, errFactory.Wrap(errors.ErrInitApp, err)
	}

	a := &app{
		cfg:       cfg,
		store:     backend,
		metrics:   collector,
		publisher: publisher,
		syncer:    syncer,
		thermal:   controller,
	}
	if collector.IsEnabled() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		a.server = &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	logger.Info().
		Int("modules", len(registry.All())).
		Str("store", cfg.Store.Backend).
		Bool("metrics", collector.IsEnabled()).
		Bool("telemetry", cfg.Telemetry.Enabled).
		Msg("Platform monitor initialized")
	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config, clk clock.Clock) (store.Store, error) {
	if cfg.Store.Backend == config.StoreMemory {
		return store.NewMemory(clk), nil
	}
	return store.NewSQLite(ctx, store.SQLiteConfig{
		Path:          cfg.Store.Path,
		PurgeInterval: cfg.Store.PurgeInterval,
		Clock:         clk,
		Logger:        logger.Component("store"),
	})
}

// run blocks until ctx is canceled and both loops have returned.
func (a *app) run(ctx context.Context) {
	var wg sync.WaitGroup

	loops := []struct {
		code errors.ErrorCode
		run  func(context.Context) error
	}{
		{errors.ErrSyncLoop, a.syncer.Run},
		{errors.ErrThermalLoop, a.thermal.Run},
	}
	for _, loop := range loops {
		loop := loop
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := loop.run(ctx); err != nil {
				logger.ErrorWithCode(errors.New().Wrap(loop.code, err)).Msg("Loop terminated")
			}
		}()
	}

	if a.server != nil {
		go func() {
			logger.Info().Str("listen", a.server.Addr).Msg("Serving metrics")
			if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.ErrorWithCode(errors.New().Wrap(errors.ErrMetricsServe, err)).Msg("Metrics endpoint failed")
			}
		}()
	}

	wg.Wait()
}

// handleSignals reapplies the fan overrides on SIGHUP and cancels ctx on
// SIGINT or SIGTERM.
func (a *app) handleSignals(ctx context.Context, sigs <-chan os.Signal, cancel context.CancelFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			if sig == syscall.SIGHUP {
				a.reload(ctx)
				continue
			}
			logger.Info().Msg("Received termination signal.")
			cancel()
			return
		}
	}
}

func (a *app) reload(ctx context.Context) {
	reloaded, err := config.Load(os.Args[1:])
	if err != nil {
		logger.ErrorWithCode(err).Msg("Failed to reload config")
		return
	}
	a.applyOverrides(ctx, reloaded)
}

func (a *app) applyOverrides(ctx context.Context, cfg *config.Config) {
	overrides, err := cfg.FanOverrides()
	if err == nil {
		err = a.thermal.ApplyOverrides(ctx, overrides)
	}
	if err != nil {
		logger.ErrorWithCode(err).Msg("Failed to apply fan overrides")
		return
	}
	if len(overrides) > 0 {
		logger.Info().Int("fans", len(overrides)).Msg("Fan overrides applied")
	}
}

// cleanup leaves the fans at full speed and releases every backend.
func (a *app) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.thermal.FullSpeed(ctx); err != nil {
		logger.ErrorWithCode(errors.New().Wrap(errors.ErrRestoreFans, err)).Msg("Failed to restore fan speed")
	}
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to stop metrics endpoint")
		}
	}
	if err := a.publisher.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close telemetry publisher")
	}
	if err := a.store.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close store")
	}
	logger.Info().Msg("Exiting...")
}
