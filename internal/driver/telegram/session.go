package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"

	"github.com/bloomdevelop/weasel/pkg/weasel"
)

const defaultUpdateBuffer = 256

// ClientSession runs a gotd client, logging in before handing control to the
// caller.
type ClientSession struct {
	client *gotdtelegram.Client
	login  func(ctx context.Context) error
}

// NewClientSession wraps client. login may be nil when the stored session is
// always valid.
func NewClientSession(client *gotdtelegram.Client, login func(ctx context.Context) error) (*ClientSession, error) {
	if client == nil {
		return nil, errors.New("new client session: nil client")
	}

	return &ClientSession{client: client, login: login}, nil
}

// Run implements SessionRunner.
func (s *ClientSession) Run(ctx context.Context, fn func(runCtx context.Context) error) error {
	if fn == nil {
		return errors.New("client session: nil callback")
	}

	return s.client.Run(ctx, func(connected context.Context) error {
		if s.login != nil {
			if err := s.login(connected); err != nil {
				return fmt.Errorf("login: %w", err)
			}
		}
		return fn(connected)
	})
}

// UpdateChannel receives updates from gotd and queues them one by one for the
// source. It implements both gotd's UpdateHandler and RawUpdateStream.
type UpdateChannel struct {
	queue chan any
}

// NewUpdateChannel creates a channel holding up to buffer pending updates.
func NewUpdateChannel(buffer int) *UpdateChannel {
	if buffer <= 0 {
		buffer = defaultUpdateBuffer
	}

	return &UpdateChannel{queue: make(chan any, buffer)}
}

// Updates implements RawUpdateStream.
func (c *UpdateChannel) Updates(context.Context) (<-chan any, error) {
	if c == nil || c.queue == nil {
		return nil, errors.New("update channel not initialized")
	}

	return c.queue, nil
}

// Handle blocks until every update in the container is queued or ctx ends.
func (c *UpdateChannel) Handle(ctx context.Context, updates tg.UpdatesClass) error {
	for _, item := range unpack(updates) {
		select {
		case c.queue <- item:
		case <-ctx.Done():
			return fmt.Errorf("queue %s: %w", item.class, ctx.Err())
		}
	}

	return nil
}

// rawUpdate is one update plus the entities its container shipped with.
type rawUpdate struct {
	update   tg.UpdateClass
	class    string
	at       time.Time
	entities *entities
}

type knownChat struct {
	title string
	kind  weasel.ConversationType
	peer  tg.InputPeerClass
}

type entities struct {
	users map[int64]*tg.User
	chats map[int64]knownChat
}

func (e *entities) user(id int64) (*tg.User, bool) {
	if e == nil {
		return nil, false
	}
	user, ok := e.users[id]
	return user, ok
}

func (e *entities) chat(id int64) (knownChat, bool) {
	if e == nil {
		return knownChat{}, false
	}
	chat, ok := e.chats[id]
	return chat, ok
}

// unpack splits a gotd container. Short forms are widened into regular new
// message updates; containers without messages yield nothing.
func unpack(updates tg.UpdatesClass) []rawUpdate {
	switch typed := updates.(type) {
	case *tg.Updates:
		return unpackBatch(typed.Updates, typed.Date, collectEntities(typed.Users, typed.Chats))
	case *tg.UpdatesCombined:
		return unpackBatch(typed.Updates, typed.Date, collectEntities(typed.Users, typed.Chats))
	case *tg.UpdateShort:
		return unpackBatch([]tg.UpdateClass{typed.Update}, typed.Date, nil)
	case *tg.UpdateShortMessage:
		reply, _ := typed.GetReplyTo()
		message := widen(typed.ID, typed.Out, typed.Date, typed.Message,
			&tg.PeerUser{UserID: typed.UserID}, typed.UserID, reply)
		return []rawUpdate{{
			update: &tg.UpdateNewMessage{Message: message},
			class:  typed.TypeName(),
			at:     unixTime(typed.Date),
		}}
	case *tg.UpdateShortChatMessage:
		reply, _ := typed.GetReplyTo()
		message := widen(typed.ID, typed.Out, typed.Date, typed.Message,
			&tg.PeerChat{ChatID: typed.ChatID}, typed.FromID, reply)
		return []rawUpdate{{
			update: &tg.UpdateNewMessage{Message: message},
			class:  typed.TypeName(),
			at:     unixTime(typed.Date),
		}}
	}

	return nil
}

func widen(id int, out bool, date int, text string, peer tg.PeerClass, from int64, reply tg.MessageReplyHeaderClass) *tg.Message {
	message := &tg.Message{ID: id, Out: out, Date: date, Message: text, PeerID: peer}
	message.SetFromID(&tg.PeerUser{UserID: from})
	if reply != nil {
		message.SetReplyTo(reply)
	}

	return message
}

func unpackBatch(updates []tg.UpdateClass, date int, known *entities) []rawUpdate {
	at := unixTime(date)
	out := make([]rawUpdate, 0, len(updates))
	for _, update := range updates {
		if update != nil {
			out = append(out, rawUpdate{update: update, class: update.TypeName(), at: at, entities: known})
		}
	}

	return out
}

func collectEntities(users []tg.UserClass, chats []tg.ChatClass) *entities {
	known := &entities{
		users: make(map[int64]*tg.User, len(users)),
		chats: make(map[int64]knownChat, len(chats)),
	}
	for _, candidate := range users {
		if candidate == nil {
			continue
		}
		if user, ok := candidate.AsNotEmpty(); ok && user != nil {
			known.users[user.ID] = user
		}
	}
	for _, candidate := range chats {
		if id, chat, ok := describeChat(candidate); ok {
			known.chats[id] = chat
		}
	}

	return known
}

func describeChat(chat tg.ChatClass) (int64, knownChat, bool) {
	switch typed := chat.(type) {
	case *tg.Chat:
		return typed.ID, knownChat{typed.Title, weasel.ConversationTypeGroup, typed.AsInputPeer()}, true
	case *tg.ChatForbidden:
		return typed.ID, knownChat{typed.Title, weasel.ConversationTypeGroup, &tg.InputPeerChat{ChatID: typed.ID}}, true
	case *tg.Channel:
		return typed.ID, knownChat{typed.Title, broadcastKind(typed.Megagroup), typed.AsInputPeer()}, true
	case *tg.ChannelForbidden:
		peer := &tg.InputPeerChannel{ChannelID: typed.ID, AccessHash: typed.AccessHash}
		return typed.ID, knownChat{typed.Title, broadcastKind(typed.Megagroup), peer}, true
	}

	return 0, knownChat{}, false
}

// Megagroups are channels on the wire but behave as groups.
func broadcastKind(megagroup bool) weasel.ConversationType {
	if megagroup {
		return weasel.ConversationTypeGroup
	}

	return weasel.ConversationTypeChannel
}

func unixTime(seconds int) time.Time {
	if seconds <= 0 {
		return time.Time{}
	}

	return time.Unix(int64(seconds), 0).UTC()
}
