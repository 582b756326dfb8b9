package kernel

import (
	"errors"
	"slices"
	"testing"

	"github.com/bloomdevelop/weasel/pkg/weasel"
)

func TestServiceRegistry(t *testing.T) {
	t.Parallel()

	var nilSettings *struct{}
	tests := []struct {
		name    string
		key     string
		value   any
		wantErr bool
	}{
		{name: "runner", key: weasel.ServiceCommandRunner, value: "runner"},
		{name: "empty name", key: "", value: "x", wantErr: true},
		{name: "nil value", key: "nil", value: nil, wantErr: true},
		{name: "typed nil pointer", key: weasel.ServiceCommandSettings, value: nilSettings, wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			registry := NewServiceRegistry()
			err := registry.Register(testCase.key, testCase.value)
			if testCase.wantErr {
				if err == nil {
					t.Fatal("expected register error")
				}
				return
			}
			if err != nil {
				t.Fatalf("register failed: %v", err)
			}
			if err := registry.Register(testCase.key, "second"); !errors.Is(err, weasel.ErrServiceAlreadyRegistered) {
				t.Fatalf("duplicate error = %v, want %v", err, weasel.ErrServiceAlreadyRegistered)
			}
			got, err := registry.Resolve(testCase.key)
			if err != nil || got != testCase.value {
				t.Fatalf("resolve = %v, %v, want %v", got, err, testCase.value)
			}
		})
	}
}

func TestServiceRegistryMissAndNames(t *testing.T) {
	t.Parallel()

	registry := NewServiceRegistry()
	if _, err := registry.Resolve("missing"); !errors.Is(err, weasel.ErrServiceNotFound) {
		t.Fatalf("miss error = %v, want %v", err, weasel.ErrServiceNotFound)
	}
	for _, name := range []string{weasel.ServiceCommandStats, weasel.ServiceCatalogDiagnostics, weasel.ServiceCommandRunner} {
		if err := registry.Register(name, name); err != nil {
			t.Fatalf("register %s failed: %v", name, err)
		}
	}

	want := []string{weasel.ServiceCatalogDiagnostics, weasel.ServiceCommandRunner, weasel.ServiceCommandStats}
	slices.Sort(want)
	if got := registry.Names(); !slices.Equal(got, want) {
		t.Fatalf("names = %v, want %v", got, want)
	}
}
