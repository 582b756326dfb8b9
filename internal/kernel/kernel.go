// Package kernel hosts drivers and modules around one event bus and service
// registry.
package kernel

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/bloomdevelop/weasel/pkg/weasel"
)

// Kernel owns registration and the run lifecycle.
type Kernel struct {
	cfg      settings
	bus      *Bus
	services *ServiceRegistry

	mu      sync.RWMutex
	modules []*moduleRecord
	drivers []weasel.Driver

	running atomic.Bool
}

// New creates a kernel with an empty registry and an idle bus.
func New(options ...Option) *Kernel {
	cfg := defaultSettings()
	for _, option := range options {
		option(&cfg)
	}

	return &Kernel{
		cfg:      cfg,
		bus:      NewBus(cfg.subscription, cfg.reportError),
		services: NewServiceRegistry(),
	}
}

// Bus exposes the event bus.
func (k *Kernel) Bus() weasel.EventBus {
	return k.bus
}

// Services exposes the service registry.
func (k *Kernel) Services() weasel.ServiceRegistry {
	return k.services
}

// RegisterService registers a named singleton.
func (k *Kernel) RegisterService(name string, service any) error {
	if err := k.services.Register(name, service); err != nil {
		return fmt.Errorf("register service %s: %w", name, err)
	}

	return nil
}

// RegisterModule validates module's spec, checks required services, runs
// OnRegister and subscribes its handlers. Any failure undoes the registration.
func (k *Kernel) RegisterModule(ctx context.Context, module weasel.Module) error {
	if module == nil {
		return fmt.Errorf("register module: nil module")
	}
	name := module.Name()
	if name == "" {
		return fmt.Errorf("register module: empty module name")
	}
	spec := module.Spec()
	if err := validateModuleSpec(spec); err != nil {
		return fmt.Errorf("register module %s: %w", name, err)
	}
	record := &moduleRecord{name: name, module: module, capabilities: spec.Capabilities()}
	if err := k.checkRequiredServices(record.capabilities); err != nil {
		return fmt.Errorf("register module %s: %w", name, err)
	}

	k.mu.Lock()
	if k.findModule(name) >= 0 {
		k.mu.Unlock()
		return fmt.Errorf("register module %s: %w", name, weasel.ErrModuleAlreadyRegistered)
	}
	k.modules = append(k.modules, record)
	k.mu.Unlock()

	route := k.cfg.route(name)
	runtime := &moduleRuntime{record: record, services: k.services, bus: k.bus, sink: route.Sink}

	hookCtx, cancel := context.WithTimeout(ctx, k.cfg.hookTimeout)
	defer cancel()

	err := k.attach(hookCtx, module, runtime, route, spec.Handlers)
	if err != nil {
		k.detach(ctx, record)
		return fmt.Errorf("register module %s: %w", name, err)
	}
	k.cfg.logger.DebugContext(ctx, "module registered", "module", name, "handlers", len(spec.Handlers))

	return nil
}

// attach runs OnRegister and subscribes declared handlers, narrowing each
// interest to the module's routed sources.
func (k *Kernel) attach(
	ctx context.Context,
	module weasel.Module,
	runtime *moduleRuntime,
	route ModuleRoute,
	handlers []weasel.ModuleHandler,
) error {
	name := runtime.record.name
	if registrar, ok := module.(weasel.ModuleRegistrar); ok {
		if err := guard("module "+name+" OnRegister", func() error {
			return registrar.OnRegister(ctx, runtime)
		}); err != nil {
			return err
		}
	}

	for index, declared := range handlers {
		interest := declared.Capability.Interest
		if len(route.Sources) > 0 {
			interest.Sources = slices.Clone(route.Sources)
		}
		subscription := declared.Subscription
		if subscription.Name == "" {
			subscription.Name = fmt.Sprintf("%s-handler-%d", name, index+1)
		}
		if _, err := runtime.Subscribe(ctx, interest, subscription, declared.Handler); err != nil {
			return fmt.Errorf("capability %s: %w", declared.Capability.Name, err)
		}
	}

	return nil
}

// detach drops a half-registered module.
func (k *Kernel) detach(ctx context.Context, record *moduleRecord) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.hookTimeout)
	defer cancel()
	if err := record.closeSubscriptions(closeCtx); err != nil {
		k.cfg.reportError(closeCtx, "module "+record.name+" rollback", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.modules = slices.DeleteFunc(k.modules, func(candidate *moduleRecord) bool { return candidate == record })
}

// RegisterDriver adds a driver. Names must be unique.
func (k *Kernel) RegisterDriver(driver weasel.Driver) error {
	if driver == nil {
		return fmt.Errorf("register driver: nil driver")
	}
	name := driver.Name()
	if name == "" {
		return fmt.Errorf("register driver: empty name")
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if slices.ContainsFunc(k.drivers, func(existing weasel.Driver) bool { return existing.Name() == name }) {
		return fmt.Errorf("register driver %s: %w", name, weasel.ErrDriverAlreadyRegistered)
	}
	k.drivers = append(k.drivers, driver)

	return nil
}

// findModule returns the index of name or -1. Callers hold mu.
func (k *Kernel) findModule(name string) int {
	return slices.IndexFunc(k.modules, func(record *moduleRecord) bool { return record.name == name })
}

func (k *Kernel) moduleList() []*moduleRecord {
	k.mu.RLock()
	defer k.mu.RUnlock()

	return slices.Clone(k.modules)
}

func (k *Kernel) driverList() []weasel.Driver {
	k.mu.RLock()
	defer k.mu.RUnlock()

	return slices.Clone(k.drivers)
}

func (k *Kernel) checkRequiredServices(capabilities []weasel.Capability) error {
	for _, capability := range capabilities {
		for _, service := range capability.RequiredServices {
			if _, err := k.services.Resolve(service); err != nil {
				return fmt.Errorf("capability %s requires service %s: %w", capability.Name, service, err)
			}
		}
	}

	return nil
}

// validateModuleSpec rejects unnamed or duplicate capabilities, nil handlers
// and duplicate subscription names.
func validateModuleSpec(spec weasel.ModuleSpec) error {
	capabilities := make(map[string]bool)
	subscriptions := make(map[string]bool)

	for index, handler := range spec.Handlers {
		name := handler.Capability.Name
		switch {
		case name == "":
			return fmt.Errorf("module handler %d: empty capability name", index)
		case capabilities[name]:
			return fmt.Errorf("module handler %d: duplicate capability name %s", index, name)
		case handler.Handler == nil:
			return fmt.Errorf("module handler %s: nil handler", name)
		}
		capabilities[name] = true

		if subscription := handler.Subscription.Name; subscription != "" {
			if subscriptions[subscription] {
				return fmt.Errorf("module handler %s: duplicate subscription name %s", name, subscription)
			}
			subscriptions[subscription] = true
		}
	}

	for index, capability := range spec.AdditionalCapabilities {
		switch {
		case capability.Name == "":
			return fmt.Errorf("additional capability %d: empty capability name", index)
		case capabilities[capability.Name]:
			return fmt.Errorf("additional capability %d: duplicate capability name %s", index, capability.Name)
		}
		capabilities[capability.Name] = true
	}

	return nil
}
