package pluginapi

import (
	"context"
	"errors"
)

// ErrNoResponder reports a message built without a reply channel.
var ErrNoResponder = errors.New("pluginapi: message has no responder")

// Responder delivers plugin output back to the originating conversation.
type Responder interface {
	// Reply answers the inbound message.
	Reply(ctx context.Context, text string) error
	// Send posts a message to the conversation without quoting.
	Send(ctx context.Context, text string) error
	// React sets an emoji reaction on the inbound message.
	React(ctx context.Context, emoji string) error
}

// Author identifies the sender of an inbound message.
type Author struct {
	ID          string
	Username    string
	DisplayName string
	IsBot       bool
}

// Message is the inbound chat message a command executes against.
type Message struct {
	// ID is the platform message id.
	ID string
	// Content is the full message text, command prefix included.
	Content string
	// Author is the sender.
	Author Author
	// ConversationID identifies the chat the message arrived in.
	ConversationID string

	ctx       context.Context
	responder Responder
}

// NewMessage creates a message bound to ctx and responder.
func NewMessage(ctx context.Context, responder Responder) *Message {
	if ctx == nil {
		ctx = context.Background()
	}

	return &Message{ctx: ctx, responder: responder}
}

// Context returns the context of the invocation handling this message.
func (m *Message) Context() context.Context {
	if m == nil || m.ctx == nil {
		return context.Background()
	}

	return m.ctx
}

// Reply answers the message with text.
func (m *Message) Reply(text string) error {
	if m == nil || m.responder == nil {
		return ErrNoResponder
	}

	return m.responder.Reply(m.Context(), text)
}

// ReplyEmbed answers the message with a rendered embed.
func (m *Message) ReplyEmbed(embed *Embed) error {
	return m.Reply(embed.Render())
}

// Send posts text to the message's conversation.
func (m *Message) Send(text string) error {
	if m == nil || m.responder == nil {
		return ErrNoResponder
	}

	return m.responder.Send(m.Context(), text)
}

// React adds an emoji reaction to the message.
func (m *Message) React(emoji string) error {
	if m == nil || m.responder == nil {
		return ErrNoResponder
	}

	return m.responder.React(m.Context(), emoji)
}
