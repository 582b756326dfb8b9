package weasel

import "context"

// EventHandler handles one event delivered by a subscription.
type EventHandler func(ctx context.Context, event *Event) error

// EventDispatcher is the bus as drivers see it.
type EventDispatcher interface {
	Publish(ctx context.Context, event *Event) error
}

// ModuleRuntime is what a module may touch while it registers.
type ModuleRuntime interface {
	Services() ServiceRegistry
	// Subscribe adds a subscription owned by the module. Its interest must be
	// covered by a declared capability.
	Subscribe(ctx context.Context, interest InterestSet, spec SubscriptionSpec, handler EventHandler) (Subscription, error)
}

// ModuleHandler pairs a capability with the handler that serves it.
type ModuleHandler struct {
	Capability   Capability
	Subscription SubscriptionSpec
	Handler      EventHandler
}

// ModuleSpec declares a module's handlers. The kernel subscribes Handlers after
// OnRegister. AdditionalCapabilities cover subscriptions the module makes
// itself.
type ModuleSpec struct {
	Handlers               []ModuleHandler
	AdditionalCapabilities []Capability
}

// Capabilities lists handler capabilities followed by the additional ones.
func (s ModuleSpec) Capabilities() []Capability {
	capabilities := make([]Capability, 0, len(s.Handlers)+len(s.AdditionalCapabilities))
	for _, handler := range s.Handlers {
		capabilities = append(capabilities, handler.Capability)
	}

	return append(capabilities, s.AdditionalCapabilities...)
}

// Module is a unit of bot behavior hosted by the kernel. Handlers may run on
// several workers at once unless the subscription pins Workers to 1.
type Module interface {
	Name() string
	Spec() ModuleSpec
	OnStart(ctx context.Context) error
	OnShutdown(ctx context.Context) error
}

// ModuleRegistrar is an optional Module hook for resolving services.
type ModuleRegistrar interface {
	OnRegister(ctx context.Context, runtime ModuleRuntime) error
}

// Driver connects one chat platform account.
type Driver interface {
	Name() string
	// Start publishes inbound events until ctx is done or the connection
	// fails for good.
	Start(ctx context.Context, dispatcher EventDispatcher) error
	// Shutdown releases what Start's context does not.
	Shutdown(ctx context.Context) error
}
