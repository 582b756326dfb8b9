package telegram

import (
	"context"
	"errors"
	"testing"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/bloomdevelop/weasel/pkg/weasel"
)

type stubRPC struct {
	peer      tg.InputPeerClass
	text      string
	replyTo   int
	messageID int
	reactions []tg.ReactionClass
	err       error
}

func (r *stubRPC) SendText(_ context.Context, peer tg.InputPeerClass, text string, replyTo int, _ bool) (int, error) {
	r.peer, r.text, r.replyTo = peer, text, replyTo
	if r.err != nil {
		return 0, r.err
	}

	return 901, nil
}

func (r *stubRPC) SetReaction(_ context.Context, peer tg.InputPeerClass, messageID int, reactions []tg.ReactionClass) error {
	r.peer, r.messageID, r.reactions = peer, messageID, reactions
	return r.err
}

func newTestOutbound(t *testing.T, rpc *stubRPC) *SinkDispatcher {
	t.Helper()

	peers := NewPeerCache()
	peers.RememberConversation(weasel.Conversation{ID: "42", Type: weasel.ConversationTypeGroup}, &tg.InputPeerChat{ChatID: 42})
	dispatcher, err := newOutboundDispatcher(rpc, peers, WithSinkID("tg-main"))
	if err != nil {
		t.Fatalf("new outbound dispatcher failed: %v", err)
	}

	return dispatcher
}

func groupTarget() weasel.OutboundTarget {
	return weasel.OutboundTarget{
		Conversation: weasel.Conversation{ID: "42", Type: weasel.ConversationTypeGroup},
		Sink:         &weasel.EventSink{Platform: weasel.PlatformTelegram, ID: "tg-main"},
	}
}

func TestSinkDispatcherSendMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		request     weasel.SendMessageRequest
		rpcErr      error
		wantErr     error
		wantReplyTo int
	}{
		{
			name:        "reply",
			request:     weasel.SendMessageRequest{Target: groupTarget(), Text: "pong", ReplyToMessageID: "7"},
			wantReplyTo: 7,
		},
		{
			name:    "invalid reply id",
			request: weasel.SendMessageRequest{Target: groupTarget(), Text: "pong", ReplyToMessageID: "x"},
			wantErr: weasel.ErrInvalidOutboundRequest,
		},
		{
			name:    "empty text",
			request: weasel.SendMessageRequest{Target: groupTarget()},
			wantErr: weasel.ErrInvalidOutboundRequest,
		},
		{
			name: "foreign platform",
			request: weasel.SendMessageRequest{
				Target: weasel.OutboundTarget{
					Conversation: weasel.Conversation{ID: "42"},
					Sink:         &weasel.EventSink{Platform: weasel.PlatformConsole},
				},
				Text: "pong",
			},
			wantErr: weasel.ErrOutboundUnsupported,
		},
		{
			name:    "flood wait",
			request: weasel.SendMessageRequest{Target: groupTarget(), Text: "pong"},
			rpcErr:  tgerr.New(420, "FLOOD_WAIT_3"),
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			rpc := &stubRPC{err: testCase.rpcErr}
			sent, err := newTestOutbound(t, rpc).SendMessage(context.Background(), testCase.request)
			switch {
			case testCase.wantErr != nil:
				if !errors.Is(err, testCase.wantErr) {
					t.Fatalf("error = %v, want %v", err, testCase.wantErr)
				}
			case testCase.rpcErr != nil:
				if _, ok := tgerr.AsFloodWait(err); !ok {
					t.Fatalf("error = %v, want flood wait", err)
				}
			default:
				if err != nil {
					t.Fatalf("send message failed: %v", err)
				}
				if sent.ID != "901" || rpc.text != "pong" || rpc.replyTo != testCase.wantReplyTo {
					t.Fatalf("sent = %+v rpc = %+v", sent, rpc)
				}
				if chat, ok := rpc.peer.(*tg.InputPeerChat); !ok || chat.ChatID != 42 {
					t.Fatalf("peer = %#v, want chat 42", rpc.peer)
				}
			}
		})
	}
}

func TestSinkDispatcherSetReaction(t *testing.T) {
	t.Parallel()

	rpc := &stubRPC{}
	dispatcher := newTestOutbound(t, rpc)

	err := dispatcher.SetReaction(context.Background(), weasel.SetReactionRequest{
		Target:    groupTarget(),
		MessageID: "12",
		Emoji:     "custom:555",
		Action:    weasel.ReactionActionAdd,
	})
	if err != nil {
		t.Fatalf("set reaction failed: %v", err)
	}
	if rpc.messageID != 12 || len(rpc.reactions) != 1 {
		t.Fatalf("rpc = %+v", rpc)
	}
	if custom, ok := rpc.reactions[0].(*tg.ReactionCustomEmoji); !ok || custom.DocumentID != 555 {
		t.Fatalf("reaction = %#v, want custom 555", rpc.reactions[0])
	}

	err = dispatcher.SetReaction(context.Background(), weasel.SetReactionRequest{
		Target:    groupTarget(),
		MessageID: "12",
		Action:    weasel.ReactionActionRemove,
	})
	if err != nil {
		t.Fatalf("remove reaction failed: %v", err)
	}
	if len(rpc.reactions) != 0 {
		t.Fatalf("reactions = %v, want cleared", rpc.reactions)
	}

	err = dispatcher.SetReaction(context.Background(), weasel.SetReactionRequest{
		Target:    weasel.OutboundTarget{Conversation: weasel.Conversation{ID: "404"}},
		MessageID: "1",
		Emoji:     "👍",
		Action:    weasel.ReactionActionAdd,
	})
	if err == nil {
		t.Fatal("expected unseen conversation error")
	}
}

func TestSinkDispatcherListSinks(t *testing.T) {
	t.Parallel()

	dispatcher := newTestOutbound(t, &stubRPC{})
	sinks, err := dispatcher.ListSinks(context.Background())
	if err != nil || len(sinks) != 1 || sinks[0].ID != "tg-main" {
		t.Fatalf("sinks = %v, %v", sinks, err)
	}
	console, err := dispatcher.ListSinksByPlatform(context.Background(), weasel.PlatformConsole)
	if err != nil || len(console) != 0 {
		t.Fatalf("console sinks = %v, %v, want none", console, err)
	}
}

func TestParseReaction(t *testing.T) {
	t.Parallel()

	if emoji, ok := parseReaction(" 🔥 ").(*tg.ReactionEmoji); !ok || emoji.Emoticon != "🔥" {
		t.Fatalf("reaction = %#v", emoji)
	}
	if emoji, ok := parseReaction("custom:x").(*tg.ReactionEmoji); !ok || emoji.Emoticon != "custom:x" {
		t.Fatalf("reaction = %#v", emoji)
	}
}
