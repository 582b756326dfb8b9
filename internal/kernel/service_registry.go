package kernel

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"

	"github.com/bloomdevelop/weasel/pkg/weasel"
)

// ServiceRegistry is a concurrency-safe name to singleton map.
type ServiceRegistry struct {
	mu       sync.RWMutex
	services map[string]any
}

// NewServiceRegistry creates an empty registry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{services: make(map[string]any)}
}

// Register binds service to name once. Nil values, including typed nil
// pointers, are rejected.
func (r *ServiceRegistry) Register(name string, service any) error {
	switch {
	case name == "":
		return fmt.Errorf("register service: empty name")
	case isNil(service):
		return fmt.Errorf("register service %s: nil service", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.services[name]; taken {
		return fmt.Errorf("register service %s: %w", name, weasel.ErrServiceAlreadyRegistered)
	}
	r.services[name] = service

	return nil
}

// Resolve looks up name. A miss wraps weasel.ErrServiceNotFound.
func (r *ServiceRegistry) Resolve(name string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	service, ok := r.services[name]
	if !ok {
		return nil, fmt.Errorf("resolve service %q: %w", name, weasel.ErrServiceNotFound)
	}

	return service, nil
}

// Names lists registered names in sorted order.
func (r *ServiceRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.services))
}

func isNil(value any) bool {
	if value == nil {
		return true
	}
	switch reflected := reflect.ValueOf(value); reflected.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return reflected.IsNil()
	}

	return false
}
