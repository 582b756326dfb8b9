package weasel

import "fmt"

// ServiceRegistry shares named singletons between cmd wiring and modules.
type ServiceRegistry interface {
	Register(name string, service any) error
	Resolve(name string) (any, error)
}

// ResolveAs resolves name and asserts it to T. A miss keeps ErrServiceNotFound
// in the chain.
func ResolveAs[T any](registry ServiceRegistry, name string) (T, error) {
	var zero T

	service, err := registry.Resolve(name)
	if err != nil {
		return zero, fmt.Errorf("resolve service %s: %w", name, err)
	}
	typed, ok := service.(T)
	if !ok {
		return zero, fmt.Errorf("resolve service %s: type assertion failed: have %T", name, service)
	}

	return typed, nil
}
