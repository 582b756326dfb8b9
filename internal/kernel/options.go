package kernel

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/bloomdevelop/weasel/pkg/weasel"
)

// settings are the resolved kernel knobs.
type settings struct {
	hookTimeout     time.Duration
	shutdownTimeout time.Duration
	// subscription holds Buffer, Workers and HandlerTimeout defaults.
	subscription weasel.SubscriptionSpec
	logger       *slog.Logger
	report       func(context.Context, string, error)
	fallback     *ModuleRoute
	routes       map[string]ModuleRoute
}

func defaultSettings() settings {
	return settings{
		hookTimeout:     5 * time.Second,
		shutdownTimeout: 10 * time.Second,
		subscription: weasel.SubscriptionSpec{
			Buffer:         256,
			Workers:        1,
			HandlerTimeout: 3 * time.Second,
		},
		logger: slog.Default(),
	}
}

// reportError sends a background failure to the configured handler, or logs it.
func (s settings) reportError(ctx context.Context, scope string, err error) {
	if s.report != nil {
		s.report(ctx, scope, err)
		return
	}
	s.logger.ErrorContext(ctx, "kernel async error", "scope", scope, "error", err)
}

// route returns the module's own route, the fallback, or an empty route.
func (s settings) route(module string) ModuleRoute {
	if route, ok := s.routes[module]; ok {
		return route
	}
	if s.fallback != nil {
		return *s.fallback
	}

	return ModuleRoute{}
}

// ModuleRoute pins a module to a set of inbound sources and a default sink.
type ModuleRoute struct {
	// Sources narrows delivery. Empty means every source.
	Sources []weasel.EventSource
	// Sink is applied to outbound requests that name no sink.
	Sink *weasel.EventSink
}

func (r ModuleRoute) clone() ModuleRoute {
	cloned := ModuleRoute{Sources: slices.Clone(r.Sources)}
	if r.Sink != nil {
		sink := *r.Sink
		cloned.Sink = &sink
	}

	return cloned
}

// Option configures a Kernel.
type Option func(*settings)

func positive[T int | time.Duration](value T, target *T) {
	if value > 0 {
		*target = value
	}
}

// WithModuleHookTimeout bounds each OnRegister, OnStart and OnShutdown call.
func WithModuleHookTimeout(timeout time.Duration) Option {
	return func(s *settings) { positive(timeout, &s.hookTimeout) }
}

// WithShutdownTimeout bounds the whole teardown after Run stops.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(s *settings) { positive(timeout, &s.shutdownTimeout) }
}

// WithDefaultSubscriptionBuffer sets the queue depth of subscriptions that do
// not pick one.
func WithDefaultSubscriptionBuffer(size int) Option {
	return func(s *settings) { positive(size, &s.subscription.Buffer) }
}

// WithDefaultSubscriptionWorkers sets the worker count of subscriptions that do
// not pick one.
func WithDefaultSubscriptionWorkers(workers int) Option {
	return func(s *settings) { positive(workers, &s.subscription.Workers) }
}

// WithDefaultHandlerTimeout sets the per-event deadline of subscriptions that
// leave HandlerTimeout at zero.
func WithDefaultHandlerTimeout(timeout time.Duration) Option {
	return func(s *settings) { positive(timeout, &s.subscription.HandlerTimeout) }
}

// WithLogger sets the kernel logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAsyncErrorHandler receives handler failures and dropped events instead
// of the logger.
func WithAsyncErrorHandler(handler func(context.Context, string, error)) Option {
	return func(s *settings) {
		if handler != nil {
			s.report = handler
		}
	}
}

// WithModuleRouting sets per-module routes. fallback applies to modules
// without their own entry and may be nil.
func WithModuleRouting(fallback *ModuleRoute, routes map[string]ModuleRoute) Option {
	return func(s *settings) {
		s.fallback = nil
		if fallback != nil {
			cloned := fallback.clone()
			s.fallback = &cloned
		}
		s.routes = make(map[string]ModuleRoute, len(routes))
		for module, route := range routes {
			s.routes[module] = route.clone()
		}
	}
}
