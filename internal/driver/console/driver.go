// Package console implements a line-oriented driver over a reader and writer.
//
// Every non-empty input line becomes one message.created event in a single
// private conversation. Replies and reactions are printed to the writer.
package console

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bloomdevelop/weasel/pkg/weasel"
)

const (
	// DriverType is the configured driver type token.
	DriverType = "console"
	// DriverPlatform is the platform stamped on console events.
	DriverPlatform = weasel.PlatformConsole
	// ConversationID is the id of the only console conversation.
	ConversationID = "console"

	defaultUser           = "operator"
	defaultPublishTimeout = 2 * time.Second
)

type config struct {
	User           string `json:"user"`
	PublishTimeout string `json:"publish_timeout"`
}

// Driver publishes input lines as message events.
type Driver struct {
	name           string
	user           string
	publishTimeout time.Duration
	input          io.Reader
	now            func() time.Time
	logger         *slog.Logger

	sequence atomic.Int64
}

// Sink prints outbound operations for the console conversation.
type Sink struct {
	ref weasel.EventSink

	mu     sync.Mutex
	output io.Writer
	sent   atomic.Int64
}

// BuildRuntimeFromConfig builds a console driver and sink over input and output.
func BuildRuntimeFromConfig(
	name string,
	logger *slog.Logger,
	rawConfig []byte,
	input io.Reader,
	output io.Writer,
) (weasel.EventSource, weasel.Driver, weasel.SinkDispatcher, error) {
	var cfg config
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return weasel.EventSource{}, nil, nil, fmt.Errorf("parse console config: %w", err)
		}
	}
	publishTimeout := defaultPublishTimeout
	if raw := strings.TrimSpace(cfg.PublishTimeout); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return weasel.EventSource{}, nil, nil, fmt.Errorf("parse console publish_timeout %q: must be a positive duration", raw)
		}
		publishTimeout = parsed
	}
	if logger == nil {
		logger = slog.Default()
	}

	driver := NewDriver(name, input,
		WithUser(cfg.User),
		WithPublishTimeout(publishTimeout),
		WithLogger(logger),
	)
	source := weasel.EventSource{Platform: DriverPlatform, ID: driver.Name()}

	return source, driver, NewSink(source.ID, output), nil
}

// Option mutates driver configuration.
type Option func(*Driver)

// WithUser sets the actor name stamped on events.
func WithUser(user string) Option {
	return func(driver *Driver) {
		if user = strings.TrimSpace(user); user != "" {
			driver.user = user
		}
	}
}

// WithPublishTimeout bounds each Publish call.
func WithPublishTimeout(timeout time.Duration) Option {
	return func(driver *Driver) {
		if timeout > 0 {
			driver.publishTimeout = timeout
		}
	}
}

// WithLogger configures driver logging.
func WithLogger(logger *slog.Logger) Option {
	return func(driver *Driver) {
		if logger != nil {
			driver.logger = logger
		}
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(driver *Driver) {
		if now != nil {
			driver.now = now
		}
	}
}

// NewDriver creates a console driver reading input.
func NewDriver(name string, input io.Reader, options ...Option) *Driver {
	if name == "" {
		name = DriverType
	}
	driver := &Driver{
		name:           name,
		user:           defaultUser,
		publishTimeout: defaultPublishTimeout,
		input:          input,
		now:            time.Now,
		logger:         slog.Default(),
	}
	for _, option := range options {
		option(driver)
	}

	return driver
}

// Name returns the driver instance name.
func (d *Driver) Name() string {
	return d.name
}

// Start publishes one event per input line until EOF or cancellation.
func (d *Driver) Start(ctx context.Context, dispatcher weasel.EventDispatcher) error {
	if dispatcher == nil {
		return fmt.Errorf("start console driver: nil dispatcher")
	}
	if d.input == nil {
		<-ctx.Done()
		return nil
	}

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(d.input)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				scanErr <- nil
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				if err := <-scanErr; err != nil {
					return fmt.Errorf("start console driver: read input: %w", err)
				}
				d.logger.InfoContext(ctx, "console input closed")
				<-ctx.Done()
				return nil
			}
			if err := d.publishLine(ctx, dispatcher, line); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				d.logger.WarnContext(ctx, "console publish failed", "error", err)
			}
		}
	}
}

func (d *Driver) publishLine(ctx context.Context, dispatcher weasel.EventDispatcher, line string) error {
	text := strings.TrimRight(line, "\r")
	if strings.TrimSpace(text) == "" {
		return nil
	}

	messageID := strconv.FormatInt(d.sequence.Add(1), 10)
	event := &weasel.Event{
		ID:         "console:" + d.name + ":" + messageID,
		Kind:       weasel.EventKindMessageCreated,
		OccurredAt: d.now().UTC(),
		Source:     weasel.EventSource{Platform: DriverPlatform, ID: d.name},
		Conversation: weasel.Conversation{
			ID:    ConversationID,
			Type:  weasel.ConversationTypePrivate,
			Title: ConversationID,
		},
		Actor: weasel.Actor{
			ID:          d.user,
			Username:    d.user,
			DisplayName: d.user,
		},
		Message: &weasel.Message{ID: messageID, Text: text},
	}

	publishCtx, cancel := context.WithTimeout(ctx, d.publishTimeout)
	defer cancel()
	if err := dispatcher.Publish(publishCtx, event); err != nil {
		return fmt.Errorf("publish console line %s: %w", messageID, err)
	}

	return nil
}

// Shutdown is a no-op; Start returns when its context ends.
func (d *Driver) Shutdown(context.Context) error {
	return nil
}

// NewSink creates a sink printing to output.
func NewSink(id string, output io.Writer) *Sink {
	if id == "" {
		id = DriverType
	}
	if output == nil {
		output = io.Discard
	}

	return &Sink{
		ref:    weasel.EventSink{Platform: DriverPlatform, ID: id},
		output: output,
	}
}

// SendMessage prints text, marking the quoted message when replying.
func (s *Sink) SendMessage(
	ctx context.Context,
	request weasel.SendMessageRequest,
) (*weasel.OutboundMessage, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("console send message: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("console send message: %w", err)
	}

	id := "out-" + strconv.FormatInt(s.sent.Add(1), 10)
	prefix := "> "
	if request.ReplyToMessageID != "" {
		prefix = "> [re #" + request.ReplyToMessageID + "] "
	}
	if err := s.write(prefix + strings.ReplaceAll(request.Text, "\n", "\n  ") + "\n"); err != nil {
		return nil, fmt.Errorf("console send message: %w", err)
	}

	return &weasel.OutboundMessage{ID: id, Target: request.Target}, nil
}

// SetReaction prints the reaction change.
func (s *Sink) SetReaction(ctx context.Context, request weasel.SetReactionRequest) error {
	if err := request.Validate(); err != nil {
		return fmt.Errorf("console set reaction: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("console set reaction: %w", err)
	}

	sign := "+"
	if request.Action == weasel.ReactionActionRemove {
		sign = "-"
	}
	if err := s.write(fmt.Sprintf("> [%s%s on #%s]\n", sign, request.Emoji, request.MessageID)); err != nil {
		return fmt.Errorf("console set reaction: %w", err)
	}

	return nil
}

// ListSinks returns the console sink.
func (s *Sink) ListSinks(ctx context.Context) ([]weasel.EventSink, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list sinks: %w", err)
	}

	return []weasel.EventSink{s.ref}, nil
}

// ListSinksByPlatform returns the console sink when platform matches.
func (s *Sink) ListSinksByPlatform(ctx context.Context, platform weasel.Platform) ([]weasel.EventSink, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list sinks by platform: %w", err)
	}
	if platform != s.ref.Platform {
		return []weasel.EventSink{}, nil
	}

	return []weasel.EventSink{s.ref}, nil
}

func (s *Sink) write(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := io.WriteString(s.output, text)
	return err
}
