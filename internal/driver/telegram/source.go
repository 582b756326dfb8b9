package telegram

import (
	"context"
	"errors"
	"fmt"

	"github.com/bloomdevelop/weasel/pkg/weasel"
)

// EventHandler receives one mapped event.
type EventHandler func(ctx context.Context, event *weasel.Event) error

// Source feeds events to the driver.
type Source interface {
	// Consume calls handler for every event until ctx ends, the feed closes,
	// or handler fails.
	Consume(ctx context.Context, handler EventHandler) error
}

// ChannelSource replays events from a channel. Tests and bridges use it.
type ChannelSource struct {
	Events <-chan *weasel.Event
}

// Consume implements Source.
func (s ChannelSource) Consume(ctx context.Context, handler EventHandler) error {
	if handler == nil {
		return errors.New("channel source: nil handler")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-s.Events:
			if !ok {
				return nil
			}
			if err := handler(ctx, event); err != nil {
				return fmt.Errorf("channel source: %w", err)
			}
		}
	}
}

// SessionRunner keeps a gotd connection open for the duration of fn.
type SessionRunner interface {
	Run(ctx context.Context, fn func(runCtx context.Context) error) error
}

// RawUpdateStream exposes raw gotd updates.
type RawUpdateStream interface {
	Updates(ctx context.Context) (<-chan any, error)
}

// RawUpdateMapper turns a raw update into an event. ok is false for updates
// the bot does not care about.
type RawUpdateMapper interface {
	Map(ctx context.Context, raw any) (event *weasel.Event, ok bool, err error)
}

// GotdSource is the production Source: a live session whose raw updates pass
// through a mapper.
type GotdSource struct {
	session SessionRunner
	stream  RawUpdateStream
	mapper  RawUpdateMapper
	report  func(context.Context, error)
}

// NewGotdSource wires the three gotd pieces together. report may be nil.
func NewGotdSource(
	session SessionRunner,
	stream RawUpdateStream,
	mapper RawUpdateMapper,
	report func(context.Context, error),
) (*GotdSource, error) {
	if session == nil || stream == nil || mapper == nil {
		return nil, fmt.Errorf("new gotd source: session=%t stream=%t mapper=%t",
			session != nil, stream != nil, mapper != nil)
	}
	if report == nil {
		report = func(context.Context, error) {}
	}

	return &GotdSource{session: session, stream: stream, mapper: mapper, report: report}, nil
}

// Consume implements Source. Mapping failures are reported and skipped.
func (s *GotdSource) Consume(ctx context.Context, handler EventHandler) error {
	if handler == nil {
		return errors.New("gotd source: nil handler")
	}

	err := s.session.Run(ctx, func(runCtx context.Context) error {
		raws, err := s.stream.Updates(runCtx)
		if err != nil {
			return fmt.Errorf("open update stream: %w", err)
		}
		return s.pump(runCtx, raws, handler)
	})
	if err != nil {
		return fmt.Errorf("gotd source: %w", err)
	}

	return nil
}

func (s *GotdSource) pump(ctx context.Context, raws <-chan any, handler EventHandler) error {
	for {
		var raw any
		select {
		case <-ctx.Done():
			return nil
		case next, open := <-raws:
			if !open {
				return nil
			}
			raw = next
		}

		event, ok, err := s.mapOne(ctx, raw)
		switch {
		case err != nil:
			s.report(ctx, err)
		case ok:
			if err := handler(ctx, event); err != nil {
				return fmt.Errorf("handle event %s: %w", event.ID, err)
			}
		}
	}
}

func (s *GotdSource) mapOne(ctx context.Context, raw any) (event *weasel.Event, ok bool, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			event, ok, err = nil, false, fmt.Errorf("map gotd update panic: %v", recovered)
		}
	}()

	return s.mapper.Map(ctx, raw)
}
