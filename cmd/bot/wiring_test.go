package main

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bloomdevelop/weasel/internal/driver"
	"github.com/bloomdevelop/weasel/internal/kernel"
	"github.com/bloomdevelop/weasel/internal/plugin"
	"github.com/bloomdevelop/weasel/internal/plugin/engine"
	"github.com/bloomdevelop/weasel/pkg/pluginapi"
	"github.com/bloomdevelop/weasel/pkg/weasel"
)

func localConfig(root string) config {
	cfg := defaultConfig()
	cfg.Plugins.Root = root
	cfg.Plugins.Isolation = isolationLocal

	return cfg
}

func TestLoadCatalogFromBundledPlugins(t *testing.T) {
	t.Parallel()

	cfg := localConfig(filepath.Join("..", "..", "plugins"))
	logger := slog.New(slog.DiscardHandler)

	store, err := loadCatalog(context.Background(), logger, cfg, newExchanger(logger, cfg))
	if err != nil {
		t.Fatalf("load catalog failed: %v", err)
	}
	for _, name := range []string{"ping", "echo", "roll"} {
		if !store.Has(name) {
			t.Fatalf("catalog missing %s; have %v", name, store.Keys())
		}
	}

	runner := engine.New(store, engine.WithLogger(logger))
	responder := &recordingResponder{}
	message := pluginapi.NewMessage(context.Background(), responder)
	outcome, err := runner.RunCommand(context.Background(), "echo", []string{"hi", "there"}, message)
	if err != nil {
		t.Fatalf("run echo failed: %v", err)
	}
	if outcome.Fault != nil {
		t.Fatalf("echo fault = %v", outcome.Fault)
	}
	if got := responder.texts(); len(got) != 1 || got[0] != "hi there" {
		t.Fatalf("replies = %q, want [hi there]", got)
	}

	if _, err := runner.RunCommand(context.Background(), "nope", nil, message); !errors.Is(err, weasel.ErrCommandNotFound) {
		t.Fatalf("error = %v, want %v", err, weasel.ErrCommandNotFound)
	}
}

func TestLoadCatalogReportsDiscoveryAbort(t *testing.T) {
	t.Parallel()

	cfg := localConfig(filepath.Join(t.TempDir(), "missing"))
	logger := slog.New(slog.DiscardHandler)

	if _, err := loadCatalog(context.Background(), logger, cfg, newExchanger(logger, cfg)); !errors.Is(err, plugin.ErrDiscoveryAbort) {
		t.Fatalf("error = %v, want %v", err, plugin.ErrDiscoveryAbort)
	}
}

func TestRegisterServices(t *testing.T) {
	t.Parallel()

	sink, err := driver.NewCompositeSinkDispatcher(nil)
	if err != nil {
		t.Fatalf("new composite sink dispatcher failed: %v", err)
	}

	tests := []struct {
		name         string
		services     serviceSet
		wantErr      bool
		wantResolved []string
		wantMissing  []string
	}{
		{
			name:         "optional services are skipped when nil",
			services:     serviceSet{sink: sink, runner: engine.New(nil), stats: engine.NewStats()},
			wantResolved: []string{weasel.ServiceSinkDispatcher, weasel.ServiceCommandRunner, weasel.ServiceCommandStats},
			wantMissing:  []string{weasel.ServiceCommandSettings, weasel.ServiceCatalogDiagnostics},
		},
		{
			name:     "runner is required",
			services: serviceSet{sink: sink},
			wantErr:  true,
		},
		{
			name:     "sink is required",
			services: serviceSet{runner: engine.New(nil)},
			wantErr:  true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			k := kernel.New()
			err := registerServices(k, testCase.services)
			if testCase.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("register services failed: %v", err)
			}
			for _, name := range testCase.wantResolved {
				if _, err := k.Services().Resolve(name); err != nil {
					t.Fatalf("resolve %s failed: %v", name, err)
				}
			}
			for _, name := range testCase.wantMissing {
				if _, err := k.Services().Resolve(name); !errors.Is(err, weasel.ErrServiceNotFound) {
					t.Fatalf("resolve %s error = %v, want %v", name, err, weasel.ErrServiceNotFound)
				}
			}
		})
	}
}

func TestAssembleWiresConsoleBot(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	cfg := localConfig(filepath.Join("..", "..", "plugins"))
	cfg.Settings.Database = filepath.Join(t.TempDir(), "settings.db")
	cfg.Drivers = []driverEntry{{Name: "local", Type: "console"}}
	if err := cfg.finish(registry); err != nil {
		t.Fatalf("finish config failed: %v", err)
	}

	assembled, err := assemble(context.Background(), slog.New(slog.DiscardHandler), cfg, registry)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	defer assembled.close()

	if assembled.stats == nil {
		t.Fatal("expected command stats provider")
	}
	for _, name := range []string{weasel.ServiceCommandSettings, weasel.ServiceCatalogDiagnostics, weasel.ServiceCommandRunner} {
		if _, err := assembled.kernel.Services().Resolve(name); err != nil {
			t.Fatalf("resolve %s failed: %v", name, err)
		}
	}
}

type recordingResponder struct {
	mu      sync.Mutex
	replies []string
}

func (r *recordingResponder) Reply(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, text)

	return nil
}

func (r *recordingResponder) Send(ctx context.Context, text string) error {
	return r.Reply(ctx, text)
}

func (*recordingResponder) React(context.Context, string) error {
	return nil
}

func (r *recordingResponder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.replies...)
}
