// Package weasel holds the platform-neutral contracts between the kernel,
// chat drivers and bot modules.
package weasel

import (
	"fmt"
	"time"
)

// EventKind names what happened.
type EventKind string

const (
	EventKindMessageCreated EventKind = "message.created"
	EventKindMessageEdited  EventKind = "message.edited"
)

// Platform names a chat network.
type Platform string

const (
	PlatformTelegram Platform = "telegram"
	// PlatformConsole reads commands from stdin and prints replies.
	PlatformConsole Platform = "console"
)

// ConversationType distinguishes direct chats from shared ones.
type ConversationType string

const (
	ConversationTypePrivate ConversationType = "private"
	ConversationTypeGroup   ConversationType = "group"
	ConversationTypeChannel ConversationType = "channel"
)

// EventSource is the driver instance an event came from. ID is the configured
// driver name.
type EventSource struct {
	Platform Platform
	ID       string
}

// Event is what drivers publish and modules handle.
type Event struct {
	ID   string
	Kind EventKind
	// OccurredAt is the platform's timestamp, not the time of receipt.
	OccurredAt   time.Time
	Source       EventSource
	Conversation Conversation
	Actor        Actor
	// Message is set for message kinds.
	Message *Message
	// Metadata carries driver-specific extras such as forward or edit markers.
	Metadata map[string]string
}

// Conversation is a chat, group or channel.
type Conversation struct {
	ID    string
	Type  ConversationType
	Title string
}

// Actor is the account behind an event.
type Actor struct {
	ID          string
	Username    string
	DisplayName string
	IsBot       bool
}

// Message is the text payload of message events.
type Message struct {
	ID        string
	ThreadID  string
	ReplyToID string
	Text      string
}

// Validate reports a malformed envelope or a kind without its payload.
func (e *Event) Validate() error {
	var missing string
	switch {
	case e == nil:
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	case e.ID == "":
		missing = "id"
	case e.Kind == "":
		missing = "kind"
	case e.OccurredAt.IsZero():
		missing = "occurred_at"
	case e.Conversation.ID == "":
		missing = "conversation id"
	}
	if missing != "" {
		return fmt.Errorf("%w: missing %s", ErrInvalidEvent, missing)
	}

	switch e.Kind {
	case EventKindMessageCreated, EventKindMessageEdited:
		if e.Message == nil {
			return fmt.Errorf("%w: %s without message", ErrInvalidEvent, e.Kind)
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidEvent, e.Kind)
	}
}
