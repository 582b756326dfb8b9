package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gotd/td/crypto"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message"
	msgunpack "github.com/gotd/td/telegram/message/unpack"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/bloomdevelop/weasel/pkg/weasel"
)

const defaultOutboundTimeout = 3 * time.Second

// OutboundOption mutates outbound dispatcher configuration.
type OutboundOption func(*SinkDispatcher)

// WithOutboundTimeout bounds each outbound RPC.
func WithOutboundTimeout(timeout time.Duration) OutboundOption {
	return func(d *SinkDispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithOutboundLogger configures outbound logging.
func WithOutboundLogger(logger *slog.Logger) OutboundOption {
	return func(d *SinkDispatcher) {
		d.logger = logger
	}
}

// WithSinkID sets the sink id reported by ListSinks.
func WithSinkID(id string) OutboundOption {
	return func(d *SinkDispatcher) {
		if id != "" {
			d.sink.ID = id
		}
	}
}

type outboundRPC interface {
	SendText(ctx context.Context, peer tg.InputPeerClass, text string, replyTo int, silent bool) (int, error)
	SetReaction(ctx context.Context, peer tg.InputPeerClass, messageID int, reactions []tg.ReactionClass) error
}

// SinkDispatcher sends replies and reactions through Telegram RPC.
type SinkDispatcher struct {
	rpc     outboundRPC
	peers   *PeerCache
	timeout time.Duration
	logger  *slog.Logger
	sink    weasel.EventSink
}

// NewOutboundDispatcher creates a dispatcher over a gotd client.
func NewOutboundDispatcher(
	client *gotdtelegram.Client,
	peers *PeerCache,
	options ...OutboundOption,
) (*SinkDispatcher, error) {
	if client == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil client")
	}

	return newOutboundDispatcher(newGotdRPC(client.API()), peers, options...)
}

func newOutboundDispatcher(rpc outboundRPC, peers *PeerCache, options ...OutboundOption) (*SinkDispatcher, error) {
	if rpc == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil rpc")
	}
	if peers == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil peer cache")
	}

	dispatcher := &SinkDispatcher{
		rpc:     rpc,
		peers:   peers,
		timeout: defaultOutboundTimeout,
		sink:    weasel.EventSink{Platform: DriverPlatform, ID: DriverType},
	}
	for _, option := range options {
		option(dispatcher)
	}

	return dispatcher, nil
}

// SendMessage posts text to the target conversation.
func (d *SinkDispatcher) SendMessage(
	ctx context.Context,
	request weasel.SendMessageRequest,
) (*weasel.OutboundMessage, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	peer, err := d.resolvePeer(request.Target)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	replyTo := 0
	if request.ReplyToMessageID != "" {
		if replyTo, err = parseMessageID(request.ReplyToMessageID); err != nil {
			return nil, fmt.Errorf("send message reply id: %w", err)
		}
	}

	rpcCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	id, err := d.rpc.SendText(rpcCtx, peer, request.Text, replyTo, request.Silent)
	if err != nil {
		return nil, fmt.Errorf("send message to %s: %w", request.Target.Conversation.ID, describeRPCError(err))
	}

	d.log(ctx, "send_message",
		"conversation", request.Target.Conversation.ID,
		"message_id", id,
		"reply_to_message_id", request.ReplyToMessageID,
	)

	return &weasel.OutboundMessage{ID: strconv.Itoa(id), Target: request.Target}, nil
}

// SetReaction adds or clears the reaction on a message. Telegram replaces the
// whole reaction set, so remove clears every reaction the account placed.
func (d *SinkDispatcher) SetReaction(ctx context.Context, request weasel.SetReactionRequest) error {
	if err := request.Validate(); err != nil {
		return fmt.Errorf("set reaction: %w", err)
	}
	peer, err := d.resolvePeer(request.Target)
	if err != nil {
		return fmt.Errorf("set reaction: %w", err)
	}
	messageID, err := parseMessageID(request.MessageID)
	if err != nil {
		return fmt.Errorf("set reaction message id: %w", err)
	}

	var reactions []tg.ReactionClass
	if request.Action == weasel.ReactionActionAdd {
		reactions = []tg.ReactionClass{parseReaction(request.Emoji)}
	}

	rpcCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.rpc.SetReaction(rpcCtx, peer, messageID, reactions); err != nil {
		return fmt.Errorf("set reaction on %s: %w", request.MessageID, describeRPCError(err))
	}

	d.log(ctx, "set_reaction",
		"conversation", request.Target.Conversation.ID,
		"message_id", request.MessageID,
		"action", request.Action,
		"emoji", request.Emoji,
	)

	return nil
}

// ListSinks returns the configured sink.
func (d *SinkDispatcher) ListSinks(ctx context.Context) ([]weasel.EventSink, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list sinks: %w", err)
	}

	return []weasel.EventSink{d.sink}, nil
}

// ListSinksByPlatform returns the configured sink when platform is Telegram.
func (d *SinkDispatcher) ListSinksByPlatform(ctx context.Context, platform weasel.Platform) ([]weasel.EventSink, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list sinks by platform: %w", err)
	}
	if platform != d.sink.Platform {
		return []weasel.EventSink{}, nil
	}

	return []weasel.EventSink{d.sink}, nil
}

func (d *SinkDispatcher) resolvePeer(target weasel.OutboundTarget) (tg.InputPeerClass, error) {
	if target.Sink != nil && target.Sink.Platform != "" && target.Sink.Platform != DriverPlatform {
		return nil, fmt.Errorf("%w: platform %s", weasel.ErrOutboundUnsupported, target.Sink.Platform)
	}

	return d.peers.Resolve(target.Conversation)
}

func (d *SinkDispatcher) log(ctx context.Context, operation string, attrs ...any) {
	if d.logger == nil {
		return
	}

	d.logger.DebugContext(ctx, "telegram outbound", append([]any{"operation", operation}, attrs...)...)
}

func parseMessageID(raw string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("%w: invalid message id %q", weasel.ErrInvalidOutboundRequest, raw)
	}

	return value, nil
}

// parseReaction accepts a plain emoji or "custom:<document id>".
func parseReaction(emoji string) tg.ReactionClass {
	trimmed := strings.TrimSpace(emoji)
	if raw, ok := strings.CutPrefix(trimmed, "custom:"); ok {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
			return &tg.ReactionCustomEmoji{DocumentID: id}
		}
	}

	return &tg.ReactionEmoji{Emoticon: trimmed}
}

func describeRPCError(err error) error {
	if wait, ok := tgerr.AsFloodWait(err); ok {
		return fmt.Errorf("rate limited for %s: %w", wait, err)
	}

	return err
}

type gotdRPC struct {
	raw    *tg.Client
	rand   io.Reader
	sender *message.Sender
}

func newGotdRPC(raw *tg.Client) gotdRPC {
	return gotdRPC{raw: raw, rand: crypto.DefaultRand(), sender: message.NewSender(raw)}
}

func (r gotdRPC) SendText(ctx context.Context, peer tg.InputPeerClass, text string, replyTo int, silent bool) (int, error) {
	randomID, err := crypto.RandInt64(r.rand)
	if err != nil {
		return 0, fmt.Errorf("random id: %w", err)
	}

	request := &tg.MessagesSendMessageRequest{
		Peer:     peer,
		Message:  text,
		Silent:   silent,
		RandomID: randomID,
	}
	if replyTo > 0 {
		request.ReplyTo = &tg.InputReplyToMessage{ReplyToMsgID: replyTo}
	}

	updates, err := r.raw.MessagesSendMessage(ctx, request)
	if err != nil {
		return 0, err
	}
	id, err := msgunpack.MessageID(updates, nil)
	if err != nil {
		return 0, fmt.Errorf("extract sent message id: %w", err)
	}

	return id, nil
}

func (r gotdRPC) SetReaction(ctx context.Context, peer tg.InputPeerClass, messageID int, reactions []tg.ReactionClass) error {
	_, err := r.sender.To(peer).Reaction(ctx, messageID, reactions...)
	return err
}
