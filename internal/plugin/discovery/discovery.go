// Package discovery walks a plugin tree and captures every command it finds as a
// portable plugin.Descriptor.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bloomdevelop/weasel/internal/plugin"
)

// Loader captures the commands defined by one plugin file.
type Loader interface {
	Load(ctx context.Context, path string, src []byte) ([]plugin.Descriptor, error)
}

// Skip records one candidate file that produced no command.
type Skip struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Result is the outcome of one discovery pass.
type Result struct {
	// Catalog holds every captured command by name.
	Catalog plugin.Catalog
	// Order lists loaded candidate files in traversal order.
	Order []string
	// Skips lists candidates that failed or matched no command shape.
	Skips []Skip
}

// Service runs discovery passes.
type Service struct {
	logger  *slog.Logger
	policy  plugin.DuplicatePolicy
	loaders map[string]Loader
}

// Option mutates service construction.
type Option func(*Service)

// WithLogger configures the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(service *Service) {
		if logger != nil {
			service.logger = logger
		}
	}
}

// WithDuplicatePolicy configures how name collisions are handled.
func WithDuplicatePolicy(policy plugin.DuplicatePolicy) Option {
	return func(service *Service) {
		if policy != "" {
			service.policy = policy
		}
	}
}

// WithLoader registers loader for files ending in suffix, replacing any default.
func WithLoader(suffix string, loader Loader) Option {
	return func(service *Service) {
		if loader == nil {
			delete(service.loaders, suffix)
			return
		}
		service.loaders[suffix] = loader
	}
}

// New creates a discovery service with Go and Lua loaders.
func New(options ...Option) *Service {
	service := &Service{
		logger: slog.Default(),
		policy: plugin.DuplicateLastWins,
		loaders: map[string]Loader{
			".go":  GoLoader{},
			".lua": LuaLoader{},
		},
	}
	for _, option := range options {
		option(service)
	}

	return service
}

// Discover walks root in lexical order and captures every command.
//
// Failing to enumerate root, and duplicates under plugin.DuplicateFail, abort the
// pass with plugin.ErrDiscoveryAbort. Every other failure becomes a Skip.
func (s *Service) Discover(ctx context.Context, root string) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	info, err := os.Stat(root)
	if err != nil {
		return Result{}, fmt.Errorf("%w: stat root %s: %w", plugin.ErrDiscoveryAbort, root, err)
	}
	if !info.IsDir() {
		return Result{}, fmt.Errorf("%w: root %s is not a directory", plugin.ErrDiscoveryAbort, root)
	}

	result := Result{Catalog: make(plugin.Catalog)}
	sources := make(map[string]string)

	walkErr := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return fmt.Errorf("%w: read root %s: %w", plugin.ErrDiscoveryAbort, root, err)
			}
			s.skip(ctx, &result, path, err)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", plugin.ErrDiscoveryAbort, err)
		}
		if entry.IsDir() {
			return nil
		}
		loader, ok := s.loaderFor(path)
		if !ok {
			return nil
		}

		result.Order = append(result.Order, path)
		descriptors, err := s.loadFile(ctx, loader, path)
		if err != nil {
			s.skip(ctx, &result, path, err)
			return nil
		}
		for _, descriptor := range descriptors {
			if err := s.add(ctx, &result, sources, descriptor); err != nil {
				return err
			}
		}

		return nil
	})
	if walkErr != nil {
		return Result{}, walkErr
	}

	s.logger.InfoContext(ctx, "plugin discovery complete",
		"root", root,
		"commands", len(result.Catalog),
		"files", len(result.Order),
		"skipped", len(result.Skips),
	)

	return result, nil
}

func (s *Service) loaderFor(path string) (Loader, bool) {
	if strings.HasSuffix(path, "_test.go") {
		return nil, false
	}
	loader, ok := s.loaders[filepath.Ext(path)]

	return loader, ok
}

func (s *Service) loadFile(ctx context.Context, loader Loader, path string) (descriptors []plugin.Descriptor, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			descriptors = nil
			err = fmt.Errorf("load panic: %v", recovered)
		}
	}()

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	descriptors, err = loader.Load(ctx, path, src)
	if err != nil {
		return nil, err
	}
	for _, descriptor := range descriptors {
		if err := descriptor.Validate(); err != nil {
			return nil, err
		}
	}

	return descriptors, nil
}

func (s *Service) add(
	ctx context.Context,
	result *Result,
	sources map[string]string,
	descriptor plugin.Descriptor,
) error {
	if previous, exists := sources[descriptor.Name]; exists {
		if s.policy == plugin.DuplicateFail {
			return fmt.Errorf("%w: %w %q in %s and %s",
				plugin.ErrDiscoveryAbort,
				plugin.ErrDuplicateCommand,
				descriptor.Name,
				previous,
				descriptor.Source,
			)
		}
		s.logger.WarnContext(ctx, "plugin command redefined, keeping last",
			"command", descriptor.Name,
			"previous", previous,
			"source", descriptor.Source,
		)
	}

	sources[descriptor.Name] = descriptor.Source
	result.Catalog[descriptor.Name] = descriptor
	s.logger.DebugContext(ctx, "plugin command captured",
		"command", descriptor.Name,
		"runtime", descriptor.Runtime,
		"bindings", len(descriptor.Bindings),
		"source", descriptor.Source,
	)

	return nil
}

func (s *Service) skip(ctx context.Context, result *Result, path string, err error) {
	reason := err.Error()
	if errors.Is(err, plugin.ErrNoCommand) {
		reason = "no export matches the command shape"
	}
	result.Skips = append(result.Skips, Skip{Path: path, Reason: reason})
	s.logger.WarnContext(ctx, "plugin file skipped", "path", path, "reason", reason)
}
