package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gotd/td/tg"

	"github.com/bloomdevelop/weasel/pkg/weasel"
)

// MessageMapper converts new and edited text messages into events. Every peer
// it sees is recorded so replies can be addressed later.
type MessageMapper struct {
	peers *PeerCache
	now   func() time.Time
}

// NewMessageMapper creates a mapper feeding cache. cache may be nil.
func NewMessageMapper(cache *PeerCache) MessageMapper {
	return MessageMapper{peers: cache, now: time.Now}
}

// Map implements RawUpdateMapper. raw is a queued rawUpdate or a bare
// tg.UpdateClass.
func (m MessageMapper) Map(ctx context.Context, raw any) (*weasel.Event, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, fmt.Errorf("map update: %w", err)
	}

	var item rawUpdate
	switch typed := raw.(type) {
	case rawUpdate:
		item = typed
	case tg.UpdateClass:
		if typed == nil {
			return nil, false, fmt.Errorf("map update: nil update")
		}
		item = rawUpdate{update: typed, class: typed.TypeName()}
	default:
		return nil, false, fmt.Errorf("map update: unexpected %T", raw)
	}
	if item.entities != nil {
		m.peers.RememberEntities(item.entities.users, item.entities.chats)
	}

	kind, message := messageOf(item.update)
	if message == nil {
		return nil, false, nil
	}

	return m.event(kind, message, item), true, nil
}

func messageOf(update tg.UpdateClass) (weasel.EventKind, *tg.Message) {
	var (
		kind  weasel.EventKind
		inner tg.MessageClass
	)
	switch typed := update.(type) {
	case *tg.UpdateNewMessage:
		kind, inner = weasel.EventKindMessageCreated, typed.Message
	case *tg.UpdateNewChannelMessage:
		kind, inner = weasel.EventKindMessageCreated, typed.Message
	case *tg.UpdateEditMessage:
		kind, inner = weasel.EventKindMessageEdited, typed.Message
	case *tg.UpdateEditChannelMessage:
		kind, inner = weasel.EventKindMessageEdited, typed.Message
	default:
		return "", nil
	}

	message, _ := inner.(*tg.Message)
	return kind, message
}

func (m MessageMapper) event(kind weasel.EventKind, message *tg.Message, item rawUpdate) *weasel.Event {
	conversation := conversationOf(message.PeerID, item.entities)
	actor, ok := actorOf(message.FromID, item.entities)
	if !ok {
		// Private chats and channel posts omit from_id.
		actor, _ = actorOf(message.PeerID, item.entities)
	}
	m.peers.RememberConversation(conversation, inputPeerOf(message.PeerID, item.entities))

	body := &weasel.Message{ID: strconv.Itoa(message.ID), Text: message.Message}
	if reply, ok := message.GetReplyTo(); ok {
		if header, ok := reply.(*tg.MessageReplyHeader); ok {
			if id, ok := header.GetReplyToMsgID(); ok {
				body.ReplyToID = strconv.Itoa(id)
			}
			if id, ok := header.GetReplyToTopID(); ok {
				body.ThreadID = strconv.Itoa(id)
			}
		}
	}

	at := unixTime(message.Date)
	if edited, ok := message.GetEditDate(); ok && kind == weasel.EventKindMessageEdited {
		at = unixTime(edited)
	}
	if at.IsZero() {
		at = item.at
	}
	if at.IsZero() {
		at = m.now().UTC()
	}

	metadata := map[string]string{"gotd_update": item.class}
	if message.Out {
		metadata["telegram_outgoing"] = "true"
	}

	verb := "new"
	if kind == weasel.EventKindMessageEdited {
		verb = "edit"
	}

	return &weasel.Event{
		ID:           fmt.Sprintf("tg:%s:%s:%s:%d", verb, conversation.ID, body.ID, at.Unix()),
		Kind:         kind,
		OccurredAt:   at,
		Conversation: conversation,
		Actor:        actor,
		Message:      body,
		Metadata:     metadata,
	}
}

func conversationOf(peer tg.PeerClass, known *entities) weasel.Conversation {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		actor, _ := actorOf(typed, known)
		return weasel.Conversation{ID: actor.ID, Type: weasel.ConversationTypePrivate, Title: actor.DisplayName}
	case *tg.PeerChat:
		return chatConversation(typed.ChatID, weasel.ConversationTypeGroup, known)
	case *tg.PeerChannel:
		return chatConversation(typed.ChannelID, weasel.ConversationTypeChannel, known)
	}

	return weasel.Conversation{ID: "unknown", Type: weasel.ConversationTypePrivate}
}

func chatConversation(id int64, fallback weasel.ConversationType, known *entities) weasel.Conversation {
	conversation := weasel.Conversation{ID: strconv.FormatInt(id, 10), Type: fallback}
	if chat, ok := known.chat(id); ok {
		conversation.Type = chat.kind
		conversation.Title = chat.title
	}

	return conversation
}

// actorOf reports false when peer names nobody.
func actorOf(peer tg.PeerClass, known *entities) (weasel.Actor, bool) {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		if typed.UserID == 0 {
			break
		}
		id := strconv.FormatInt(typed.UserID, 10)
		user, ok := known.user(typed.UserID)
		if !ok {
			return weasel.Actor{ID: id, DisplayName: id}, true
		}
		return userActor(id, user), true
	case *tg.PeerChat:
		chat, _ := known.chat(typed.ChatID)
		return weasel.Actor{ID: strconv.FormatInt(typed.ChatID, 10), DisplayName: chat.title}, true
	case *tg.PeerChannel:
		chat, _ := known.chat(typed.ChannelID)
		return weasel.Actor{ID: strconv.FormatInt(typed.ChannelID, 10), DisplayName: chat.title}, true
	}

	return weasel.Actor{ID: "unknown"}, false
}

func userActor(id string, user *tg.User) weasel.Actor {
	username, _ := user.GetUsername()
	first, _ := user.GetFirstName()
	last, _ := user.GetLastName()

	display := strings.TrimSpace(first + " " + last)
	for _, candidate := range []string{username, id} {
		if display == "" {
			display = candidate
		}
	}

	return weasel.Actor{ID: id, Username: username, DisplayName: display, IsBot: user.Bot}
}

func inputPeerOf(peer tg.PeerClass, known *entities) tg.InputPeerClass {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		if user, ok := known.user(typed.UserID); ok {
			return user.AsInputPeer()
		}
	case *tg.PeerChat:
		if typed.ChatID != 0 {
			return &tg.InputPeerChat{ChatID: typed.ChatID}
		}
	case *tg.PeerChannel:
		if chat, ok := known.chat(typed.ChannelID); ok {
			return chat.peer
		}
	}

	return nil
}
