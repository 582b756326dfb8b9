package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bloomdevelop/weasel/internal/catalog"
	"github.com/bloomdevelop/weasel/internal/driver"
	"github.com/bloomdevelop/weasel/internal/kernel"
	"github.com/bloomdevelop/weasel/internal/plugin"
	"github.com/bloomdevelop/weasel/internal/plugin/discovery"
	"github.com/bloomdevelop/weasel/internal/plugin/engine"
	"github.com/bloomdevelop/weasel/internal/plugin/exchange"
	"github.com/bloomdevelop/weasel/internal/settings"
	"github.com/bloomdevelop/weasel/modules/commands"
	"github.com/bloomdevelop/weasel/pkg/bytesize"
	"github.com/bloomdevelop/weasel/pkg/weasel"
)

// bot is a fully wired kernel plus the resources it must release.
type bot struct {
	logger   *slog.Logger
	kernel   *kernel.Kernel
	stats    weasel.CommandStatsProvider
	settings *settings.Store
}

// assemble loads the catalog, opens settings and builds drivers, then
// registers everything with a new kernel. The caller owns bot.close.
func assemble(ctx context.Context, logger *slog.Logger, cfg config, registry *driver.Registry) (*bot, error) {
	store, err := loadCatalog(ctx, logger, cfg, newExchanger(logger, cfg))
	if err != nil {
		return nil, err
	}
	runner := engine.New(store, engine.WithLogger(logger.With("component", "engine")))

	settingsStore, err := settings.Open(cfg.Settings.Database)
	if err != nil {
		return nil, fmt.Errorf("open settings: %w", err)
	}
	assembled := &bot{logger: logger, settings: settingsStore}
	if provider, ok := runner.Recorder().(weasel.CommandStatsProvider); ok {
		assembled.stats = provider
	}

	if err := assembled.wire(ctx, cfg, registry, serviceSet{
		runner:      runner,
		diagnostics: store,
		settings:    settingsStore,
		stats:       assembled.stats,
	}); err != nil {
		assembled.close()
		return nil, err
	}

	return assembled, nil
}

func (b *bot) wire(ctx context.Context, cfg config, registry *driver.Registry, services serviceSet) error {
	runtimes, err := registry.BuildEnabled(ctx, cfg.definitions, b.logger)
	if err != nil {
		return fmt.Errorf("build drivers: %w", err)
	}
	if services.sink, err = driver.NewCompositeSinkDispatcher(runtimes); err != nil {
		return fmt.Errorf("build sink dispatcher: %w", err)
	}

	b.kernel = kernel.New(
		kernel.WithLogger(b.logger),
		kernel.WithModuleHookTimeout(cfg.Kernel.ModuleHookTimeout.std()),
		kernel.WithShutdownTimeout(cfg.Kernel.ShutdownTimeout.std()),
		kernel.WithDefaultSubscriptionBuffer(cfg.Kernel.SubscriptionBuffer),
		kernel.WithDefaultSubscriptionWorkers(cfg.Kernel.SubscriptionWorkers),
		kernel.WithModuleRouting(cfg.defaultRoute, cfg.moduleRoutes),
	)
	for _, runtime := range runtimes {
		if err := b.kernel.RegisterDriver(runtime.Driver); err != nil {
			return fmt.Errorf("register driver %s: %w", runtime.Driver.Name(), err)
		}
	}
	if err := registerServices(b.kernel, services); err != nil {
		return err
	}

	module := commands.New(
		commands.WithPrefix(cfg.Commands.Prefix),
		commands.WithLogger(b.logger.With("module", "commands")),
		commands.WithSizeUnits(cfg.Commands.SizeUnits),
		commands.WithBufferPreview(cfg.Commands.BufferPreview),
	)
	if err := b.kernel.RegisterModule(ctx, module); err != nil {
		return fmt.Errorf("register commands module: %w", err)
	}

	return nil
}

// run blocks until ctx ends or a driver fails. Command stats are logged on the
// way out.
func (b *bot) run(ctx context.Context) error {
	err := b.kernel.Run(ctx)
	if b.stats != nil {
		logCommandStats(b.logger, b.stats)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run kernel: %w", err)
	}

	return nil
}

func (b *bot) close() {
	if err := b.settings.Close(); err != nil {
		b.logger.Error("close settings failed", "error", err)
	}
}

func newDiscoverer(logger *slog.Logger, cfg config) *discovery.Service {
	return discovery.New(
		discovery.WithLogger(logger),
		discovery.WithDuplicatePolicy(cfg.Plugins.DuplicatePolicy),
	)
}

func newExchanger(logger *slog.Logger, cfg config) exchange.Exchanger {
	if cfg.Plugins.Isolation == isolationLocal {
		return exchange.NewLocal(newDiscoverer(logger.With("component", "discovery"), cfg), logger)
	}

	return exchange.NewProcess(exchange.WithProcessLogger(logger))
}

// loadCatalog fills a fresh store from one discovery exchange. Nothing writes
// to the store afterwards.
func loadCatalog(
	ctx context.Context,
	logger *slog.Logger,
	cfg config,
	exchanger exchange.Exchanger,
) (*catalog.Store[string, plugin.Descriptor], error) {
	store := catalog.New[string, plugin.Descriptor](catalog.WithCapacity(cfg.Commands.StoreCapacity))

	loadCtx, cancel := context.WithTimeout(ctx, cfg.Plugins.DiscoveryTimeout.std())
	defer cancel()

	started := time.Now()
	result, err := exchange.Load(loadCtx, exchanger, cfg.Plugins.Root, store)
	if err != nil {
		return nil, fmt.Errorf("load plugin commands from %s: %w", cfg.Plugins.Root, err)
	}
	for _, skip := range result.Skips {
		logger.Warn("plugin file skipped", "path", skip.Path, "reason", skip.Reason)
	}
	logger.Info("plugin commands loaded",
		"root", cfg.Plugins.Root,
		"isolation", cfg.Plugins.Isolation,
		"commands", result.Loaded,
		"skipped", len(result.Skips),
		"log_size", bytesize.Format(uint64(store.LogSize()), cfg.Commands.SizeUnits),
		"duration", time.Since(started),
	)

	return store, nil
}

func logCommandStats(logger *slog.Logger, provider weasel.CommandStatsProvider) {
	for _, stat := range provider.CommandStats() {
		logger.Info("command stats",
			"command", stat.Name,
			"invocations", stat.Invocations,
			"failures", stat.Failures,
			"total_duration", stat.TotalDuration,
			"max_duration", stat.MaxDuration,
		)
	}
}

// serviceSet is registered before modules. sink and runner are required.
type serviceSet struct {
	sink        weasel.SinkDispatcher
	runner      weasel.CommandRunner
	stats       weasel.CommandStatsProvider
	diagnostics weasel.CatalogDiagnostics
	settings    weasel.CommandSettings
}

func registerServices(k *kernel.Kernel, services serviceSet) error {
	if services.sink == nil || services.runner == nil {
		return errors.New("register services: sink dispatcher and command runner are required")
	}

	registrations := []struct {
		name    string
		service any
	}{
		{weasel.ServiceSinkDispatcher, services.sink},
		{weasel.ServiceCommandRunner, services.runner},
		{weasel.ServiceCatalogDiagnostics, services.diagnostics},
		{weasel.ServiceCommandSettings, services.settings},
		{weasel.ServiceCommandStats, services.stats},
	}
	for _, registration := range registrations {
		if registration.service == nil {
			continue
		}
		if err := k.RegisterService(registration.name, registration.service); err != nil {
			return fmt.Errorf("register %s service: %w", registration.name, err)
		}
	}

	return nil
}
