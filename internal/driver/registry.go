// Package driver turns the drivers section of the config into running
// platform drivers, and routes replies back to the one owning a conversation.
package driver

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/bloomdevelop/weasel/pkg/weasel"
)

// Definition is one entry of the drivers config section.
type Definition struct {
	// Name is unique across definitions and doubles as the event source id.
	Name string
	// Type picks the Descriptor that builds it.
	Type    string
	Enabled bool
	// Config is passed to the builder untouched, as JSON.
	Config []byte
}

// Runtime is a built driver. SinkDispatcher is nil for inbound-only drivers.
type Runtime struct {
	Source         weasel.EventSource
	Driver         weasel.Driver
	SinkDispatcher weasel.SinkDispatcher
}

// BuilderFunc builds the runtime for one definition.
type BuilderFunc func(ctx context.Context, definition Definition, logger *slog.Logger) (Runtime, error)

// Descriptor teaches a Registry one driver type.
type Descriptor struct {
	Type     string
	Platform weasel.Platform
	Builder  BuilderFunc
}

// Registry holds descriptors sorted by type. It never changes after
// NewRegistry returns.
type Registry struct {
	descriptors []Descriptor
}

// NewRegistry rejects incomplete or repeated descriptors.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	sorted := slices.Clone(descriptors)
	slices.SortStableFunc(sorted, func(a, b Descriptor) int { return cmp.Compare(a.Type, b.Type) })

	for index, descriptor := range sorted {
		if descriptor.Type == "" || descriptor.Platform == "" || descriptor.Builder == nil {
			return nil, fmt.Errorf("new driver registry: incomplete descriptor %q", descriptor.Type)
		}
		if index > 0 && sorted[index-1].Type == descriptor.Type {
			return nil, fmt.Errorf("new driver registry: type %s: %w", descriptor.Type, weasel.ErrDriverAlreadyRegistered)
		}
	}

	return &Registry{descriptors: sorted}, nil
}

func (r *Registry) lookup(driverType string) (Descriptor, bool) {
	if r == nil {
		return Descriptor{}, false
	}
	index, found := slices.BinarySearchFunc(r.descriptors, driverType, func(d Descriptor, target string) int {
		return cmp.Compare(d.Type, target)
	})
	if !found {
		return Descriptor{}, false
	}

	return r.descriptors[index], true
}

// Types lists the known driver types alphabetically.
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}

	types := make([]string, len(r.descriptors))
	for index, descriptor := range r.descriptors {
		types[index] = descriptor.Type
	}

	return types
}

// PlatformForType reports the platform stamped on events of driverType.
func (r *Registry) PlatformForType(driverType string) (weasel.Platform, error) {
	descriptor, ok := r.lookup(driverType)
	if !ok {
		return "", fmt.Errorf("unsupported driver type %q", driverType)
	}

	return descriptor.Platform, nil
}

// BuildEnabled builds the enabled definitions in order. Definitions are all
// checked before anything is built, and nothing is returned on failure.
func (r *Registry) BuildEnabled(ctx context.Context, definitions []Definition, logger *slog.Logger) ([]Runtime, error) {
	if r == nil {
		return nil, errors.New("build drivers: nil registry")
	}
	if logger == nil {
		logger = slog.Default()
	}

	enabled, err := r.check(definitions)
	if err != nil {
		return nil, fmt.Errorf("build drivers: %w", err)
	}

	runtimes := make([]Runtime, 0, len(enabled))
	for _, definition := range enabled {
		runtime, err := r.build(ctx, definition, logger)
		if err != nil {
			return nil, fmt.Errorf("build driver %s: %w", definition.Name, err)
		}
		runtimes = append(runtimes, runtime)
	}

	return runtimes, nil
}

func (r *Registry) check(definitions []Definition) ([]Definition, error) {
	enabled := make([]Definition, 0, len(definitions))
	names := make(map[string]bool, len(definitions))
	for _, definition := range definitions {
		if !definition.Enabled {
			continue
		}
		switch {
		case definition.Name == "":
			return nil, fmt.Errorf("driver of type %q has no name", definition.Type)
		case names[definition.Name]:
			return nil, fmt.Errorf("driver name %s used twice", definition.Name)
		}
		if _, ok := r.lookup(definition.Type); !ok {
			return nil, fmt.Errorf("driver %s: unsupported type %q", definition.Name, definition.Type)
		}
		names[definition.Name] = true
		enabled = append(enabled, definition)
	}

	return enabled, nil
}

func (r *Registry) build(ctx context.Context, definition Definition, logger *slog.Logger) (Runtime, error) {
	descriptor, _ := r.lookup(definition.Type)
	runtime, err := descriptor.Builder(ctx, definition, logger.With("driver", definition.Name))
	if err != nil {
		return Runtime{}, err
	}
	if runtime.Driver == nil {
		return Runtime{}, fmt.Errorf("%s builder returned no driver", definition.Type)
	}

	runtime.Source.Platform = cmp.Or(runtime.Source.Platform, descriptor.Platform)
	runtime.Source.ID = cmp.Or(runtime.Source.ID, definition.Name)

	return runtime, nil
}
