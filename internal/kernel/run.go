package kernel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bloomdevelop/weasel/pkg/weasel"
)

// Run starts modules, then drivers, and blocks until ctx is done, every driver
// has returned, or one driver fails. Teardown always runs before Run returns.
func (k *Kernel) Run(ctx context.Context) error {
	if !k.running.CompareAndSwap(false, true) {
		return fmt.Errorf("kernel run: already running")
	}
	defer k.running.Store(false)

	if err := k.startModules(ctx); err != nil {
		return errors.Join(err, k.shutdown(ctx))
	}

	driverCtx, stopDrivers := context.WithCancel(ctx)
	defer stopDrivers()

	group, groupCtx := errgroup.WithContext(driverCtx)
	for _, driver := range k.driverList() {
		group.Go(func() error {
			return k.runDriver(groupCtx, driver)
		})
	}
	finished := make(chan error, 1)
	go func() {
		finished <- group.Wait()
	}()

	var runErr error
	select {
	case runErr = <-finished:
	case <-ctx.Done():
		stopDrivers()
		k.awaitDrivers(ctx, finished)
	}

	return errors.Join(runErr, k.shutdown(ctx))
}

func (k *Kernel) runDriver(ctx context.Context, driver weasel.Driver) error {
	name := driver.Name()
	k.cfg.logger.InfoContext(ctx, "driver starting", "driver", name)

	err := guard("driver "+name+" Start", func() error {
		return driver.Start(ctx, k.bus)
	})
	if err != nil && !isContextCancellation(err) {
		return fmt.Errorf("run driver %s: %w", name, err)
	}
	k.cfg.logger.InfoContext(ctx, "driver stopped", "driver", name)

	return nil
}

// awaitDrivers waits for drivers to return after cancellation, up to the
// shutdown timeout.
func (k *Kernel) awaitDrivers(ctx context.Context, finished <-chan error) {
	timer := time.NewTimer(k.cfg.shutdownTimeout)
	defer timer.Stop()

	select {
	case err := <-finished:
		if err != nil {
			k.cfg.logger.WarnContext(ctx, "driver failed during stop", "error", err)
		}
	case <-timer.C:
		k.cfg.logger.WarnContext(ctx, "drivers still running after shutdown timeout", "timeout", k.cfg.shutdownTimeout)
	}
}

func (k *Kernel) startModules(ctx context.Context) error {
	for _, record := range k.moduleList() {
		if err := k.hook(ctx, record.name, "OnStart", record.module.OnStart); err != nil {
			return fmt.Errorf("start module %s: %w", record.name, err)
		}
	}

	return nil
}

// shutdown stops drivers and modules in reverse registration order, then closes
// the bus. It ignores ctx cancellation and is bounded by the shutdown timeout.
func (k *Kernel) shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.shutdownTimeout)
	defer cancel()

	var failures []error
	for _, driver := range slices.Backward(k.driverList()) {
		name := driver.Name()
		if err := guard("driver "+name+" Shutdown", func() error { return driver.Shutdown(ctx) }); err != nil {
			failures = append(failures, fmt.Errorf("shutdown driver %s: %w", name, err))
		}
	}
	for _, record := range slices.Backward(k.moduleList()) {
		if err := record.closeSubscriptions(ctx); err != nil {
			failures = append(failures, fmt.Errorf("shutdown module %s subscriptions: %w", record.name, err))
		}
		if err := k.hook(ctx, record.name, "OnShutdown", record.module.OnShutdown); err != nil {
			failures = append(failures, fmt.Errorf("shutdown module %s: %w", record.name, err))
		}
	}
	if err := k.bus.Close(ctx); err != nil {
		failures = append(failures, err)
	}

	if err := errors.Join(failures...); err != nil {
		return fmt.Errorf("kernel shutdown: %w", err)
	}

	return nil
}

// hook runs one lifecycle callback under the module hook timeout.
func (k *Kernel) hook(ctx context.Context, module string, stage string, fn func(context.Context) error) error {
	hookCtx, cancel := context.WithTimeout(ctx, k.cfg.hookTimeout)
	defer cancel()

	return guard("module "+module+" "+stage, func() error {
		return fn(hookCtx)
	})
}

func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
