// Package plugin defines the command catalog exchanged between discovery and the
// execution engine, and the interpreter runtimes both sides share.
package plugin

import (
	"fmt"
	"sort"
	"strings"
)

// Runtime names the language a plugin was written in.
type Runtime string

const (
	// RuntimeGo marks plugins interpreted by yaegi.
	RuntimeGo Runtime = "go"
	// RuntimeLua marks plugins interpreted by gopher-lua.
	RuntimeLua Runtime = "lua"
)

// BindingKind describes what a binding value holds.
type BindingKind string

const (
	// BindingData holds a JSON document.
	BindingData BindingKind = "data"
	// BindingCallable holds function source text.
	BindingCallable BindingKind = "callable"
)

// Binding is one auxiliary module export a command body may reference.
type Binding struct {
	// Kind is informational. Resolution always tries JSON first.
	Kind BindingKind `json:"kind"`
	// Value is JSON text for data, or minified source for callables.
	Value string `json:"value"`
	// Type is the Go type expression of a data binding, when it only uses
	// predeclared types.
	Type string `json:"type,omitempty"`
}

// Import is one import spec of the file a Go command was defined in.
type Import struct {
	Name string `json:"name,omitempty"`
	Path string `json:"path"`
}

// Descriptor is the portable form of one discovered command.
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// Body is the minified function literal of the command's execute logic.
	Body     string             `json:"body"`
	Bindings map[string]Binding `json:"bindings,omitempty"`
	// Source is the plugin file path, for diagnostics only.
	Source  string   `json:"source"`
	Runtime Runtime  `json:"runtime"`
	Async   bool     `json:"async,omitempty"`
	Imports []Import `json:"imports,omitempty"`
}

// Validate checks descriptor invariants.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidDescriptor)
	}
	if strings.TrimSpace(d.Body) == "" {
		return fmt.Errorf("%w %s: missing body", ErrInvalidDescriptor, d.Name)
	}
	switch d.Runtime {
	case RuntimeGo, RuntimeLua:
	default:
		return fmt.Errorf("%w %s: unsupported runtime %q", ErrInvalidDescriptor, d.Name, d.Runtime)
	}

	return nil
}

// BindingNames returns binding identifiers in sorted order.
func (d Descriptor) BindingNames() []string {
	names := make([]string, 0, len(d.Bindings))
	for name := range d.Bindings {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Catalog maps command names to descriptors.
type Catalog map[string]Descriptor

// Names returns catalog names in sorted order.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// DuplicatePolicy decides what discovery does when two files export the same
// command name.
type DuplicatePolicy string

const (
	// DuplicateLastWins keeps the command processed last in traversal order.
	DuplicateLastWins DuplicatePolicy = "last_wins"
	// DuplicateFail aborts the discovery pass.
	DuplicateFail DuplicatePolicy = "fail"
)

// ParseDuplicatePolicy parses a config value. Empty selects DuplicateLastWins.
func ParseDuplicatePolicy(raw string) (DuplicatePolicy, error) {
	switch policy := DuplicatePolicy(strings.ToLower(strings.TrimSpace(raw))); policy {
	case "":
		return DuplicateLastWins, nil
	case DuplicateLastWins, DuplicateFail:
		return policy, nil
	default:
		return "", fmt.Errorf("parse duplicate policy %q: unsupported value", raw)
	}
}
