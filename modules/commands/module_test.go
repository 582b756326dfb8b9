package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bloomdevelop/weasel/pkg/pluginapi"
	"github.com/bloomdevelop/weasel/pkg/weasel"
)

func TestModuleHandleMessage(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		isBot       bool
		disabled    []string
		wantRuns    []string
		wantReplies []string
	}{
		{
			name:        "plugin command runs with args",
			text:        "/echo hello world",
			wantRuns:    []string{"echo:hello,world"},
			wantReplies: []string{"hello world"},
		},
		{
			name:        "mention suffix is stripped",
			text:        "/ping@weasel_bot",
			wantRuns:    []string{"ping:"},
			wantReplies: []string{"Pong!"},
		},
		{
			name:        "unknown command replies",
			text:        "/missing",
			wantReplies: []string{unknownCommandReply},
		},
		{
			name:        "names are case sensitive",
			text:        "/PING",
			wantReplies: []string{unknownCommandReply},
		},
		{
			name:        "disabled command is refused",
			text:        "/ping",
			disabled:    []string{"ping"},
			wantReplies: []string{"Command ping is disabled here"},
		},
		{name: "plain text is ignored", text: "ping"},
		{name: "bare prefix is ignored", text: "/   "},
		{name: "bot authors are ignored", text: "/ping", isBot: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			module, dispatcher, runner := newRegisteredModule(t)
			for _, name := range testCase.disabled {
				if err := module.settings.Disable(context.Background(), "42", name); err != nil {
					t.Fatalf("disable failed: %v", err)
				}
			}

			event := newMessageEvent(testCase.text)
			event.Actor.IsBot = testCase.isBot
			if err := module.handleMessage(context.Background(), event); err != nil {
				t.Fatalf("handle message failed: %v", err)
			}

			if got := runner.runs(); strings.Join(got, "|") != strings.Join(testCase.wantRuns, "|") {
				t.Fatalf("runs = %v, want %v", got, testCase.wantRuns)
			}
			got := dispatcher.texts()
			if strings.Join(got, "|") != strings.Join(testCase.wantReplies, "|") {
				t.Fatalf("replies = %q, want %q", got, testCase.wantReplies)
			}
			for _, request := range dispatcher.sent {
				if request.ReplyToMessageID != "msg-1" {
					t.Fatalf("reply_to = %q, want msg-1", request.ReplyToMessageID)
				}
				if request.Target.Sink == nil || request.Target.Sink.ID != "tg-main" {
					t.Fatalf("target sink = %+v, want tg-main", request.Target.Sink)
				}
			}
		})
	}
}

func TestModuleBuildsPluginMessage(t *testing.T) {
	t.Parallel()

	module, dispatcher, runner := newRegisteredModule(t)
	if err := module.handleMessage(context.Background(), newMessageEvent("/react")); err != nil {
		t.Fatalf("handle message failed: %v", err)
	}

	message := runner.lastMessage
	if message == nil {
		t.Fatal("runner did not receive a message")
	}
	if message.ID != "msg-1" || message.ConversationID != "42" || message.Content != "/react" {
		t.Fatalf("message = %+v", message)
	}
	if message.Author.Username != "alice" {
		t.Fatalf("author = %+v, want alice", message.Author)
	}
	if len(dispatcher.reactions) != 1 || dispatcher.reactions[0].Emoji != "👍" {
		t.Fatalf("reactions = %+v, want one 👍", dispatcher.reactions)
	}
	if dispatcher.reactions[0].MessageID != "msg-1" {
		t.Fatalf("reaction message id = %s, want msg-1", dispatcher.reactions[0].MessageID)
	}
}

func TestModuleFaultIsNotAnError(t *testing.T) {
	t.Parallel()

	module, _, _ := newRegisteredModule(t)
	if err := module.handleMessage(context.Background(), newMessageEvent("/boom")); err != nil {
		t.Fatalf("handle message = %v, want nil for captured fault", err)
	}
}

func TestModuleRunnerErrorPropagates(t *testing.T) {
	t.Parallel()

	module, _, _ := newRegisteredModule(t)
	if err := module.handleMessage(context.Background(), newMessageEvent("/broken")); err == nil {
		t.Fatal("expected runner error")
	}
}

func TestModuleBuiltins(t *testing.T) {
	tests := []struct {
		name         string
		text         string
		wantContains []string
		wantReply    bool
	}{
		{
			name:         "help lists plugins and builtins",
			text:         "/help",
			wantContains: []string{"/echo - echo arguments", "/ping", "Built-in: /buffer, /disable, /enable, /help, /stats"},
			wantReply:    true,
		},
		{
			name:         "help describes one plugin",
			text:         "/help echo",
			wantContains: []string{"/echo", "echo arguments", "Runtime\ngo", "plugins/test/echo.go"},
			wantReply:    true,
		},
		{
			name:         "help describes a builtin",
			text:         "/help /stats",
			wantContains: []string{"/stats", "(built-in)"},
			wantReply:    true,
		},
		{
			name:         "buffer truncates hex",
			text:         "/buffer",
			wantContains: []string{"Buffer (4 B): \n```\n0a0b...\n```"},
		},
		{
			name:         "stats renders all sections",
			text:         "/stats",
			wantContains: []string{"entries: 2", "records: 3", "log: 4 B of 64 B", "grows: 1", "rss: 1 MiB", "echo: 2 runs, 1 failed, avg 1.5ms, max 2ms"},
			wantReply:    true,
		},
		{
			name:         "disable requires one argument",
			text:         "/disable",
			wantContains: []string{"Usage: /disable|enable <command>"},
			wantReply:    true,
		},
		{
			name:         "builtins cannot be toggled",
			text:         "/disable help",
			wantContains: []string{"Command help cannot be toggled"},
			wantReply:    true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			module, dispatcher, runner := newRegisteredModule(t)
			if err := module.handleMessage(context.Background(), newMessageEvent(testCase.text)); err != nil {
				t.Fatalf("handle message failed: %v", err)
			}
			if len(runner.runs()) != 0 {
				t.Fatalf("runner invoked for builtin: %v", runner.runs())
			}
			if len(dispatcher.sent) != 1 {
				t.Fatalf("sent = %d, want 1", len(dispatcher.sent))
			}
			request := dispatcher.sent[0]
			for _, want := range testCase.wantContains {
				if !strings.Contains(request.Text, want) {
					t.Fatalf("text = %q, want substring %q", request.Text, want)
				}
			}
			if replied := request.ReplyToMessageID != ""; replied != testCase.wantReply {
				t.Fatalf("replied = %v, want %v", replied, testCase.wantReply)
			}
		})
	}
}

func TestModuleDisableEnableRoundTrip(t *testing.T) {
	t.Parallel()

	module, dispatcher, runner := newRegisteredModule(t)
	steps := []string{"/disable ping", "/ping", "/enable ping", "/ping"}
	for _, text := range steps {
		if err := module.handleMessage(context.Background(), newMessageEvent(text)); err != nil {
			t.Fatalf("handle %q failed: %v", text, err)
		}
	}

	want := []string{"Command ping disabled", "Command ping is disabled here", "Command ping enabled", "Pong!"}
	if got := dispatcher.texts(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("replies = %q, want %q", got, want)
	}
	if len(runner.runs()) != 1 {
		t.Fatalf("runs = %v, want one ping", runner.runs())
	}
}

func TestModuleBuiltinsWithoutOptionalServices(t *testing.T) {
	t.Parallel()

	module := New()
	dispatcher := &captureDispatcher{}
	module.dispatcher = dispatcher
	module.runner = newRunnerStub()
	module.readRSS = func(context.Context) (uint64, error) { return 0, errors.New("unsupported") }

	for _, text := range []string{"/buffer", "/stats", "/enable ping"} {
		if err := module.handleMessage(context.Background(), newMessageEvent(text)); err != nil {
			t.Fatalf("handle %q failed: %v", text, err)
		}
	}

	want := []string{"Catalog diagnostics are not available", "Stats", "Command settings are not available"}
	if got := dispatcher.texts(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("replies = %q, want %q", got, want)
	}
}

func TestModuleCustomPrefix(t *testing.T) {
	t.Parallel()

	module, dispatcher, runner := newRegisteredModule(t, WithPrefix("!"))
	for _, text := range []string{"/ping", "!ping"} {
		if err := module.handleMessage(context.Background(), newMessageEvent(text)); err != nil {
			t.Fatalf("handle %q failed: %v", text, err)
		}
	}
	if len(runner.runs()) != 1 || len(dispatcher.sent) != 1 {
		t.Fatalf("runs = %v sent = %d, want one", runner.runs(), len(dispatcher.sent))
	}
}

func TestModuleOnRegister(t *testing.T) {
	tests := []struct {
		name     string
		values   map[string]any
		wantErr  bool
		optional bool
	}{
		{
			name: "required only",
			values: map[string]any{
				weasel.ServiceSinkDispatcher: &captureDispatcher{},
				weasel.ServiceCommandRunner:  newRunnerStub(),
			},
		},
		{
			name: "with optional services",
			values: map[string]any{
				weasel.ServiceSinkDispatcher:     &captureDispatcher{},
				weasel.ServiceCommandRunner:      newRunnerStub(),
				weasel.ServiceCommandStats:       statsStub{},
				weasel.ServiceCatalogDiagnostics: diagnosticsStub{},
				weasel.ServiceCommandSettings:    newSettingsStub(),
			},
			optional: true,
		},
		{
			name:    "missing runner",
			values:  map[string]any{weasel.ServiceSinkDispatcher: &captureDispatcher{}},
			wantErr: true,
		},
		{
			name: "wrong optional type",
			values: map[string]any{
				weasel.ServiceSinkDispatcher:  &captureDispatcher{},
				weasel.ServiceCommandRunner:   newRunnerStub(),
				weasel.ServiceCommandSettings: "not settings",
			},
			wantErr: true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			module := New()
			err := module.OnRegister(context.Background(), moduleRuntimeStub{
				registry: serviceRegistryStub{values: testCase.values},
			})
			if testCase.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("OnRegister failed: %v", err)
			}
			if module.dispatcher == nil || module.runner == nil {
				t.Fatal("expected required services to be configured")
			}
			if hasOptional := module.settings != nil && module.stats != nil && module.diagnostics != nil; hasOptional != testCase.optional {
				t.Fatalf("optional services configured = %v, want %v", hasOptional, testCase.optional)
			}
		})
	}
}

func TestModuleSpec(t *testing.T) {
	t.Parallel()

	spec := New().Spec()
	if len(spec.Handlers) != 1 {
		t.Fatalf("handler count = %d, want 1", len(spec.Handlers))
	}
	handler := spec.Handlers[0]
	if !handler.Capability.Interest.RequireText {
		t.Fatal("expected RequireText to be true")
	}
	if len(handler.Capability.Interest.Kinds) != 1 || handler.Capability.Interest.Kinds[0] != weasel.EventKindMessageCreated {
		t.Fatalf("kinds = %v, want [%s]", handler.Capability.Interest.Kinds, weasel.EventKindMessageCreated)
	}
	if handler.Subscription.Workers != 1 {
		t.Fatalf("workers = %d, want 1", handler.Subscription.Workers)
	}
	if handler.Subscription.HandlerTimeout >= 0 {
		t.Fatalf("handler timeout = %v, want disabled", handler.Subscription.HandlerTimeout)
	}
	if len(handler.Capability.RequiredServices) != 2 {
		t.Fatalf("required services = %v, want dispatcher and runner", handler.Capability.RequiredServices)
	}
}

func newRegisteredModule(t *testing.T, options ...Option) (*Module, *captureDispatcher, *runnerStub) {
	t.Helper()

	options = append([]Option{WithBufferPreview(4)}, options...)
	module := New(options...)
	module.readRSS = func(context.Context) (uint64, error) { return 1 << 20, nil }
	dispatcher := &captureDispatcher{}
	runner := newRunnerStub()
	err := module.OnRegister(context.Background(), moduleRuntimeStub{
		registry: serviceRegistryStub{values: map[string]any{
			weasel.ServiceSinkDispatcher:     dispatcher,
			weasel.ServiceCommandRunner:      runner,
			weasel.ServiceCommandStats:       statsStub{},
			weasel.ServiceCatalogDiagnostics: diagnosticsStub{},
			weasel.ServiceCommandSettings:    newSettingsStub(),
		}},
	})
	if err != nil {
		t.Fatalf("OnRegister failed: %v", err)
	}

	return module, dispatcher, runner
}

func newMessageEvent(text string) *weasel.Event {
	return &weasel.Event{
		ID:         "event-1",
		Kind:       weasel.EventKindMessageCreated,
		OccurredAt: time.Unix(1, 0).UTC(),
		Source: weasel.EventSource{
			Platform: weasel.PlatformTelegram,
			ID:       "tg-main",
		},
		Conversation: weasel.Conversation{
			ID:   "42",
			Type: weasel.ConversationTypeGroup,
		},
		Actor: weasel.Actor{
			ID:       "7",
			Username: "alice",
		},
		Message: &weasel.Message{
			ID:   "msg-1",
			Text: text,
		},
	}
}

type captureDispatcher struct {
	mu        sync.Mutex
	sent      []weasel.SendMessageRequest
	reactions []weasel.SetReactionRequest
}

func (d *captureDispatcher) SendMessage(
	_ context.Context,
	request weasel.SendMessageRequest,
) (*weasel.OutboundMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, request)

	return &weasel.OutboundMessage{ID: fmt.Sprintf("sent-%d", len(d.sent)), Target: request.Target}, nil
}

func (d *captureDispatcher) SetReaction(_ context.Context, request weasel.SetReactionRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reactions = append(d.reactions, request)

	return nil
}

func (*captureDispatcher) ListSinks(context.Context) ([]weasel.EventSink, error) {
	return nil, nil
}

func (*captureDispatcher) ListSinksByPlatform(context.Context, weasel.Platform) ([]weasel.EventSink, error) {
	return nil, nil
}

func (d *captureDispatcher) texts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	texts := make([]string, 0, len(d.sent))
	for _, request := range d.sent {
		text := request.Text
		if strings.HasPrefix(text, "Stats") {
			text = "Stats"
		}
		texts = append(texts, text)
	}

	return texts
}

type runnerStub struct {
	mu          sync.Mutex
	calls       []string
	lastMessage *pluginapi.Message
	commands    map[string]func(*pluginapi.Message, []string) error
}

func newRunnerStub() *runnerStub {
	return &runnerStub{
		commands: map[string]func(*pluginapi.Message, []string) error{
			"ping": func(message *pluginapi.Message, _ []string) error { return message.Reply("Pong!") },
			"echo": func(message *pluginapi.Message, args []string) error {
				return message.Reply(strings.Join(args, " "))
			},
			"react": func(message *pluginapi.Message, _ []string) error { return message.React("👍") },
			"boom":  func(*pluginapi.Message, []string) error { return errors.New("boom") },
		},
	}
}

func (r *runnerStub) RunCommand(
	_ context.Context,
	name string,
	args []string,
	message *pluginapi.Message,
) (weasel.CommandOutcome, error) {
	if name == "broken" {
		return weasel.CommandOutcome{}, errors.New("runner unavailable")
	}
	command, ok := r.commands[name]
	if !ok {
		return weasel.CommandOutcome{}, fmt.Errorf("run %s: %w", name, weasel.ErrCommandNotFound)
	}

	r.mu.Lock()
	r.calls = append(r.calls, name+":"+strings.Join(args, ","))
	r.lastMessage = message
	r.mu.Unlock()

	outcome := weasel.CommandOutcome{Command: name, InvocationID: "inv-1", Duration: time.Millisecond}
	outcome.Fault = command(message, args)

	return outcome, nil
}

func (r *runnerStub) ListCommands() []weasel.CommandInfo {
	return []weasel.CommandInfo{
		{Name: "ping", Description: "replies Pong!", Runtime: "go", Source: "plugins/test/ping.go"},
		{Name: "echo", Description: "echo arguments", Runtime: "go", Source: "plugins/test/echo.go"},
	}
}

func (r *runnerStub) runs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.calls...)
}

type statsStub struct{}

func (statsStub) CommandStats() []weasel.CommandStat {
	return []weasel.CommandStat{{
		Name:          "echo",
		Invocations:   2,
		Failures:      1,
		TotalDuration: 3 * time.Millisecond,
		LastDuration:  time.Millisecond,
		MaxDuration:   2 * time.Millisecond,
		LastError:     "boom",
	}}
}

type diagnosticsStub struct{}

func (diagnosticsStub) LogHex() string { return "0a0b0c0d" }
func (diagnosticsStub) LogSize() int   { return 4 }
func (diagnosticsStub) Cap() int       { return 64 }
func (diagnosticsStub) Len() int       { return 2 }
func (diagnosticsStub) Grows() int     { return 1 }

func (diagnosticsStub) LogRecords() (int, error) { return 3, nil }

type settingsStub struct {
	mu       sync.Mutex
	disabled map[string]bool
}

func newSettingsStub() *settingsStub {
	return &settingsStub{disabled: map[string]bool{}}
}

func (s *settingsStub) IsDisabled(_ context.Context, conversation string, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.disabled[conversation+"/"+name], nil
}

func (s *settingsStub) Disable(_ context.Context, conversation string, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled[conversation+"/"+name] = true

	return nil
}

func (s *settingsStub) Enable(_ context.Context, conversation string, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.disabled, conversation+"/"+name)

	return nil
}

func (s *settingsStub) Disabled(context.Context, string) ([]string, error) {
	return nil, nil
}

type moduleRuntimeStub struct {
	registry weasel.ServiceRegistry
}

func (s moduleRuntimeStub) Services() weasel.ServiceRegistry {
	return s.registry
}

func (moduleRuntimeStub) Subscribe(
	context.Context,
	weasel.InterestSet,
	weasel.SubscriptionSpec,
	weasel.EventHandler,
) (weasel.Subscription, error) {
	return nil, nil
}

type serviceRegistryStub struct {
	values map[string]any
}

func (serviceRegistryStub) Register(string, any) error {
	return nil
}

func (s serviceRegistryStub) Resolve(name string) (any, error) {
	value, ok := s.values[name]
	if !ok {
		return nil, weasel.ErrServiceNotFound
	}

	return value, nil
}
