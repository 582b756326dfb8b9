// Package commands routes prefixed chat messages to built-in handlers and to
// the plugin command runner.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bloomdevelop/weasel/pkg/bytesize"
	"github.com/bloomdevelop/weasel/pkg/pluginapi"
	"github.com/bloomdevelop/weasel/pkg/weasel"
)

const (
	// DefaultPrefix introduces a command when no prefix is configured.
	DefaultPrefix = "/"
	// DefaultBufferPreview bounds the hex characters shown by the buffer command.
	DefaultBufferPreview = 1500

	unknownCommandReply = "Unknown command"
)

// Module parses command messages and executes them.
type Module struct {
	prefix        string
	logger        *slog.Logger
	units         bytesize.Units
	bufferPreview int
	readRSS       func(context.Context) (uint64, error)

	dispatcher  weasel.SinkDispatcher
	runner      weasel.CommandRunner
	stats       weasel.CommandStatsProvider
	diagnostics weasel.CatalogDiagnostics
	settings    weasel.CommandSettings

	builtins map[string]builtin
}

// Option mutates module configuration.
type Option func(*Module)

// WithPrefix sets the command prefix. Empty keeps the default.
func WithPrefix(prefix string) Option {
	return func(module *Module) {
		if prefix != "" {
			module.prefix = prefix
		}
	}
}

// WithLogger configures module logging.
func WithLogger(logger *slog.Logger) Option {
	return func(module *Module) {
		if logger != nil {
			module.logger = logger
		}
	}
}

// WithSizeUnits selects binary or SI units for reported sizes.
func WithSizeUnits(units bytesize.Units) Option {
	return func(module *Module) {
		if units != "" {
			module.units = units
		}
	}
}

// WithBufferPreview bounds the hex characters printed by the buffer command.
func WithBufferPreview(limit int) Option {
	return func(module *Module) {
		if limit > 0 {
			module.bufferPreview = limit
		}
	}
}

// New creates a commands module.
func New(options ...Option) *Module {
	module := &Module{
		prefix:        DefaultPrefix,
		logger:        slog.Default(),
		units:         bytesize.Binary,
		bufferPreview: DefaultBufferPreview,
		readRSS:       processRSS,
	}
	for _, option := range options {
		option(module)
	}
	module.builtins = module.builtinTable()

	return module
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "commands"
}

// Spec declares interest in text messages. Invocations run on one worker with no
// handler deadline.
func (m *Module) Spec() weasel.ModuleSpec {
	return weasel.ModuleSpec{
		Handlers: []weasel.ModuleHandler{
			{
				Capability: weasel.Capability{
					Name:        "command-dispatch",
					Description: "runs built-in and plugin commands for prefixed messages",
					Interest: weasel.InterestSet{
						Kinds:       []weasel.EventKind{weasel.EventKindMessageCreated},
						RequireText: true,
					},
					RequiredServices: []string{
						weasel.ServiceSinkDispatcher,
						weasel.ServiceCommandRunner,
					},
				},
				Subscription: weasel.SubscriptionSpec{
					Name:           "commands",
					Workers:        1,
					HandlerTimeout: -1,
				},
				Handler: m.handleMessage,
			},
		},
	}
}

// OnRegister resolves the dispatcher and runner. Stats, diagnostics and settings
// are optional.
func (m *Module) OnRegister(_ context.Context, runtime weasel.ModuleRuntime) error {
	services := runtime.Services()

	dispatcher, err := weasel.ResolveAs[weasel.SinkDispatcher](services, weasel.ServiceSinkDispatcher)
	if err != nil {
		return fmt.Errorf("commands resolve outbound dispatcher: %w", err)
	}
	runner, err := weasel.ResolveAs[weasel.CommandRunner](services, weasel.ServiceCommandRunner)
	if err != nil {
		return fmt.Errorf("commands resolve command runner: %w", err)
	}
	m.dispatcher = dispatcher
	m.runner = runner

	if m.stats, err = resolveOptional[weasel.CommandStatsProvider](services, weasel.ServiceCommandStats); err != nil {
		return fmt.Errorf("commands resolve command stats: %w", err)
	}
	if m.diagnostics, err = resolveOptional[weasel.CatalogDiagnostics](services, weasel.ServiceCatalogDiagnostics); err != nil {
		return fmt.Errorf("commands resolve catalog diagnostics: %w", err)
	}
	if m.settings, err = resolveOptional[weasel.CommandSettings](services, weasel.ServiceCommandSettings); err != nil {
		return fmt.Errorf("commands resolve command settings: %w", err)
	}

	return nil
}

func resolveOptional[T any](registry weasel.ServiceRegistry, name string) (T, error) {
	value, err := weasel.ResolveAs[T](registry, name)
	if errors.Is(err, weasel.ErrServiceNotFound) {
		var zero T
		return zero, nil
	}

	return value, err
}

// OnStart starts the module lifecycle.
func (m *Module) OnStart(_ context.Context) error {
	return nil
}

// OnShutdown stops the module lifecycle.
func (m *Module) OnShutdown(_ context.Context) error {
	return nil
}

func (m *Module) handleMessage(ctx context.Context, event *weasel.Event) error {
	if event == nil || event.Message == nil || event.Actor.IsBot {
		return nil
	}
	if m.dispatcher == nil || m.runner == nil {
		return fmt.Errorf("commands handle message: module not registered")
	}

	candidate, matched, err := weasel.ParseCommandCandidate(event.Message.Text, m.prefix)
	if !matched {
		return nil
	}
	if err != nil {
		m.logger.DebugContext(ctx, "ignoring prefix without command", "event_id", event.ID)
		return nil
	}

	target, err := weasel.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("commands derive outbound target: %w", err)
	}
	responder := &sinkResponder{dispatcher: m.dispatcher, target: target, messageID: event.Message.ID}
	message := pluginapi.NewMessage(ctx, responder)
	message.ID = event.Message.ID
	message.Content = event.Message.Text
	message.ConversationID = event.Conversation.ID
	message.Author = pluginapi.Author{
		ID:          event.Actor.ID,
		Username:    event.Actor.Username,
		DisplayName: event.Actor.DisplayName,
		IsBot:       event.Actor.IsBot,
	}

	logger := m.logger.With("command", candidate.Name, "conversation", event.Conversation.ID)
	if handler, ok := m.builtins[candidate.Name]; ok {
		if err := handler.run(ctx, message, candidate.Args); err != nil {
			return fmt.Errorf("commands run builtin %s: %w", candidate.Name, err)
		}
		logger.DebugContext(ctx, "builtin command handled")
		return nil
	}

	if m.settings != nil {
		disabled, err := m.settings.IsDisabled(ctx, event.Conversation.ID, candidate.Name)
		if err != nil {
			logger.WarnContext(ctx, "command settings lookup failed", "error", err)
		} else if disabled {
			if err := message.Reply(fmt.Sprintf("Command %s is disabled here", candidate.Name)); err != nil {
				return fmt.Errorf("commands reply disabled %s: %w", candidate.Name, err)
			}
			return nil
		}
	}

	outcome, err := m.runner.RunCommand(ctx, candidate.Name, candidate.Args, message)
	if errors.Is(err, weasel.ErrCommandNotFound) {
		logger.DebugContext(ctx, "command not found", "available", m.availableNames())
		if err := message.Reply(unknownCommandReply); err != nil {
			return fmt.Errorf("commands reply unknown %s: %w", candidate.Name, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("commands run %s: %w", candidate.Name, err)
	}
	if outcome.Fault != nil {
		logger.WarnContext(ctx, "command faulted",
			"invocation_id", outcome.InvocationID,
			"duration", outcome.Duration,
			"error", outcome.Fault,
		)
		return nil
	}
	logger.InfoContext(ctx, "command executed",
		"invocation_id", outcome.InvocationID,
		"duration", outcome.Duration,
	)

	return nil
}

func (m *Module) availableNames() []string {
	infos := m.runner.ListCommands()
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}

	return names
}

// sinkResponder answers plugin output through the outbound dispatcher.
type sinkResponder struct {
	dispatcher weasel.SinkDispatcher
	target     weasel.OutboundTarget
	messageID  string
}

func (r *sinkResponder) Reply(ctx context.Context, text string) error {
	return r.send(ctx, text, r.messageID)
}

func (r *sinkResponder) Send(ctx context.Context, text string) error {
	return r.send(ctx, text, "")
}

func (r *sinkResponder) send(ctx context.Context, text string, replyTo string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	_, err := r.dispatcher.SendMessage(ctx, weasel.SendMessageRequest{
		Target:           r.target,
		Text:             text,
		ReplyToMessageID: replyTo,
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	return nil
}

func (r *sinkResponder) React(ctx context.Context, emoji string) error {
	err := r.dispatcher.SetReaction(ctx, weasel.SetReactionRequest{
		Target:    r.target,
		MessageID: r.messageID,
		Emoji:     emoji,
		Action:    weasel.ReactionActionAdd,
	})
	if err != nil {
		return fmt.Errorf("set reaction: %w", err)
	}

	return nil
}

var (
	_ weasel.Module          = (*Module)(nil)
	_ weasel.ModuleRegistrar = (*Module)(nil)
	_ pluginapi.Responder    = (*sinkResponder)(nil)
)
