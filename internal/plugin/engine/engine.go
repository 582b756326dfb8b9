// Package engine reconstructs stored command text into executables and runs them.
//
// Nothing is cached: every invocation synthesizes a fresh unit from the catalog
// entry, so each run sees exactly the text currently stored.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bloomdevelop/weasel/internal/catalog"
	"github.com/bloomdevelop/weasel/internal/plugin"
	"github.com/bloomdevelop/weasel/pkg/pluginapi"
	"github.com/bloomdevelop/weasel/pkg/weasel"
)

// FaultReplyPrefix starts the reply sent when a command faults.
const FaultReplyPrefix = "Error executing command: "

// Invocation is the execution context of one command run.
type Invocation struct {
	ID      string
	Command string
	Args    []string
	// Bindings lists resolved binding names.
	Bindings []string
	// Unavailable lists bindings replaced by placeholders.
	Unavailable []string
	StartedAt   time.Time
	Duration    time.Duration
}

// Fault is a failure raised while synthesizing or running a command.
type Fault struct {
	Command      string
	InvocationID string
	Cause        error
}

// Error implements error.
func (f *Fault) Error() string {
	return fmt.Sprintf("command %s (%s): %v", f.Command, f.InvocationID, f.Cause)
}

// Unwrap exposes the cause.
func (f *Fault) Unwrap() error {
	return f.Cause
}

// Outcome is the result of one Invoke.
type Outcome struct {
	Invocation
	// Fault is nil on success.
	Fault *Fault
}

// Recorder receives the result of every invocation.
type Recorder interface {
	Record(command string, duration time.Duration, err error)
}

type executable struct {
	run         func(message *pluginapi.Message, args []string, logger pluginapi.Logger) error
	unavailable []string
	release     func()
}

type synthesizer interface {
	Synthesize(descriptor plugin.Descriptor) (*executable, error)
}

// Engine runs commands held in a catalog store.
type Engine struct {
	store    *catalog.Store[string, plugin.Descriptor]
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time
	newID    func() string

	synthesizers map[plugin.Runtime]synthesizer
}

// Option mutates engine construction.
type Option func(*Engine)

// WithLogger configures the engine logger. Plugins receive a child of it.
func WithLogger(logger *slog.Logger) Option {
	return func(engine *Engine) {
		if logger != nil {
			engine.logger = logger
		}
	}
}

// WithRecorder replaces the default in-memory Stats recorder.
func WithRecorder(recorder Recorder) Option {
	return func(engine *Engine) {
		if recorder != nil {
			engine.recorder = recorder
		}
	}
}

// WithClock overrides the time source used for durations.
func WithClock(now func() time.Time) Option {
	return func(engine *Engine) {
		if now != nil {
			engine.now = now
		}
	}
}

// WithIDGenerator overrides invocation id generation.
func WithIDGenerator(newID func() string) Option {
	return func(engine *Engine) {
		if newID != nil {
			engine.newID = newID
		}
	}
}

// New creates an engine over store.
func New(store *catalog.Store[string, plugin.Descriptor], options ...Option) *Engine {
	engine := &Engine{
		store:    store,
		logger:   slog.Default(),
		recorder: NewStats(),
		now:      time.Now,
		newID:    uuid.NewString,
		synthesizers: map[plugin.Runtime]synthesizer{
			plugin.RuntimeGo:  goSynthesizer{},
			plugin.RuntimeLua: luaSynthesizer{},
		},
	}
	for _, option := range options {
		option(engine)
	}

	return engine
}

// Recorder returns the configured invocation recorder.
func (e *Engine) Recorder() Recorder {
	return e.recorder
}

// Invoke runs command name against message.
//
// A lookup miss returns weasel.ErrCommandNotFound and touches nothing. Every other
// failure is a Fault: it is replied to message, recorded, and returned in the
// Outcome, never as the error.
func (e *Engine) Invoke(
	ctx context.Context,
	name string,
	args []string,
	message *pluginapi.Message,
) (Outcome, error) {
	startedAt := e.now()
	descriptor, ok := e.store.Get(name)
	if !ok {
		return Outcome{}, fmt.Errorf("invoke %q: %w", name, weasel.ErrCommandNotFound)
	}
	if message == nil {
		message = pluginapi.NewMessage(ctx, nil)
	}

	invocation := Invocation{
		ID:        e.newID(),
		Command:   name,
		Args:      args,
		Bindings:  descriptor.BindingNames(),
		StartedAt: startedAt,
	}
	logger := e.logger.With("command", name, "invocation_id", invocation.ID)

	unavailable, err := e.execute(descriptor, message, args, logger)
	invocation.Unavailable = unavailable
	invocation.Duration = e.now().Sub(startedAt)
	e.recorder.Record(name, invocation.Duration, err)

	if err == nil {
		logger.DebugContext(ctx, "command executed", "duration", invocation.Duration)
		return Outcome{Invocation: invocation}, nil
	}

	fault := &Fault{Command: name, InvocationID: invocation.ID, Cause: err}
	logger.WarnContext(ctx, "command faulted",
		"duration", invocation.Duration,
		"unavailable", unavailable,
		"error", err,
	)
	if replyErr := message.Reply(FaultReplyPrefix + err.Error()); replyErr != nil {
		logger.ErrorContext(ctx, "command fault reply failed", "error", replyErr)
	}

	return Outcome{Invocation: invocation, Fault: fault}, nil
}

// execute synthesizes and runs one descriptor. Panics anywhere below become
// errors.
func (e *Engine) execute(
	descriptor plugin.Descriptor,
	message *pluginapi.Message,
	args []string,
	logger *slog.Logger,
) (unavailable []string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = panicError(recovered)
		}
	}()

	synth, ok := e.synthesizers[descriptor.Runtime]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported runtime %q", plugin.ErrSynthesis, descriptor.Runtime)
	}
	unit, err := synth.Synthesize(descriptor)
	if err != nil {
		return nil, err
	}
	if unit.release != nil {
		defer unit.release()
	}

	if !descriptor.Async {
		return unit.unavailable, unit.run(message, args, logger)
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				done <- panicError(recovered)
			}
		}()
		done <- unit.run(message, args, logger)
	}()

	return unit.unavailable, <-done
}

func panicError(recovered any) error {
	if err, ok := recovered.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}

	return fmt.Errorf("panic: %v", recovered)
}

// RunCommand implements weasel.CommandRunner.
func (e *Engine) RunCommand(
	ctx context.Context,
	name string,
	args []string,
	message *pluginapi.Message,
) (weasel.CommandOutcome, error) {
	outcome, err := e.Invoke(ctx, name, args, message)
	if err != nil {
		return weasel.CommandOutcome{}, err
	}

	result := weasel.CommandOutcome{
		Command:      outcome.Command,
		InvocationID: outcome.ID,
		Duration:     outcome.Duration,
	}
	if outcome.Fault != nil {
		result.Fault = outcome.Fault
	}

	return result, nil
}

// ListCommands implements weasel.CommandRunner.
func (e *Engine) ListCommands() []weasel.CommandInfo {
	infos := make([]weasel.CommandInfo, 0, e.store.Len())
	for name, descriptor := range e.store.All() {
		infos = append(infos, weasel.CommandInfo{
			Name:        name,
			Description: descriptor.Description,
			Runtime:     string(descriptor.Runtime),
			Async:       descriptor.Async,
			Source:      descriptor.Source,
		})
	}

	return infos
}
