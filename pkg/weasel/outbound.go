package weasel

import (
	"context"
	"fmt"
)

// ServiceSinkDispatcher is the registry key of the SinkDispatcher.
const ServiceSinkDispatcher = "weasel.sink_dispatcher"

// EventSink names the driver instance that delivers outbound traffic.
type EventSink struct {
	Platform Platform
	ID       string
}

// SinkDispatcher delivers replies and reactions to chat platforms.
type SinkDispatcher interface {
	SendMessage(ctx context.Context, request SendMessageRequest) (*OutboundMessage, error)
	SetReaction(ctx context.Context, request SetReactionRequest) error
	ListSinks(ctx context.Context) ([]EventSink, error)
	ListSinksByPlatform(ctx context.Context, platform Platform) ([]EventSink, error)
}

// OutboundTarget is a conversation plus an optional sink. A nil Sink leaves
// the choice to routing.
type OutboundTarget struct {
	Conversation Conversation
	Sink         *EventSink
}

// Validate requires a conversation and, when a sink is given, some identity.
func (t OutboundTarget) Validate() error {
	if t.Conversation.ID == "" {
		return fmt.Errorf("%w: missing conversation id", ErrInvalidOutboundRequest)
	}
	if t.Sink != nil && *t.Sink == (EventSink{}) {
		return fmt.Errorf("%w: empty sink", ErrInvalidOutboundRequest)
	}

	return nil
}

// OutboundTargetFromEvent answers into the conversation event came from,
// through the driver that produced it.
func OutboundTargetFromEvent(event *Event) (OutboundTarget, error) {
	if event == nil {
		return OutboundTarget{}, fmt.Errorf("%w: nil event", ErrInvalidOutboundRequest)
	}

	target := OutboundTarget{Conversation: event.Conversation}
	if event.Source != (EventSource{}) {
		target.Sink = &EventSink{Platform: event.Source.Platform, ID: event.Source.ID}
	}
	if err := target.Validate(); err != nil {
		return OutboundTarget{}, fmt.Errorf("target for event %s: %w", event.ID, err)
	}

	return target, nil
}

// OutboundMessage is a delivered message.
type OutboundMessage struct {
	ID     string
	Target OutboundTarget
}

// SendMessageRequest posts text, optionally as a reply.
type SendMessageRequest struct {
	Target           OutboundTarget
	Text             string
	ReplyToMessageID string
	// Silent asks the platform not to notify, where supported.
	Silent bool
}

// Validate requires a valid target and non-empty text.
func (r SendMessageRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	if r.Text == "" {
		return fmt.Errorf("%w: missing message text", ErrInvalidOutboundRequest)
	}

	return nil
}

// ReactionAction is add or remove.
type ReactionAction string

const (
	ReactionActionAdd    ReactionAction = "add"
	ReactionActionRemove ReactionAction = "remove"
)

// SetReactionRequest changes a reaction on MessageID. Emoji may be empty only
// when removing.
type SetReactionRequest struct {
	Target    OutboundTarget
	MessageID string
	Emoji     string
	Action    ReactionAction
}

// Validate checks the target, the message id, the action and the emoji.
func (r SetReactionRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("set reaction: %w", err)
	}

	switch {
	case r.MessageID == "":
		return fmt.Errorf("%w: missing message id", ErrInvalidOutboundRequest)
	case r.Action != ReactionActionAdd && r.Action != ReactionActionRemove:
		return fmt.Errorf("%w: unsupported reaction action %q", ErrInvalidOutboundRequest, r.Action)
	case r.Action == ReactionActionAdd && r.Emoji == "":
		return fmt.Errorf("%w: missing reaction emoji", ErrInvalidOutboundRequest)
	}

	return nil
}
