package driver

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/bloomdevelop/weasel/internal/driver/console"
	"github.com/bloomdevelop/weasel/internal/driver/telegram"
)

// NewBuiltinRegistry knows the telegram and console drivers. The console
// driver is bound to the process stdin and stdout.
func NewBuiltinRegistry() (*Registry, error) {
	return NewBuiltinRegistryWithIO(os.Stdin, os.Stdout)
}

// NewBuiltinRegistryWithIO binds the console driver to input and output.
func NewBuiltinRegistryWithIO(input io.Reader, output io.Writer) (*Registry, error) {
	return NewRegistry([]Descriptor{
		{Type: telegram.DriverType, Platform: telegram.DriverPlatform, Builder: buildTelegram},
		{Type: console.DriverType, Platform: console.DriverPlatform, Builder: consoleBuilder(input, output)},
	})
}

func buildTelegram(_ context.Context, definition Definition, logger *slog.Logger) (Runtime, error) {
	built, err := telegram.BuildRuntime(definition.Name, logger, definition.Config)
	if err != nil {
		return Runtime{}, err
	}

	return Runtime{Source: built.Source, Driver: built.Driver, SinkDispatcher: built.Sink}, nil
}

func consoleBuilder(input io.Reader, output io.Writer) BuilderFunc {
	return func(_ context.Context, definition Definition, logger *slog.Logger) (Runtime, error) {
		source, driver, sink, err := console.BuildRuntimeFromConfig(definition.Name, logger, definition.Config, input, output)
		if err != nil {
			return Runtime{}, err
		}

		return Runtime{Source: source, Driver: driver, SinkDispatcher: sink}, nil
	}
}
