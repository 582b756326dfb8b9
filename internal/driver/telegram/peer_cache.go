package telegram

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/gotd/td/tg"

	"github.com/bloomdevelop/weasel/pkg/weasel"
)

// PeerCache maps conversations seen on inbound updates to the input peers
// outbound RPCs need.
//
// Megagroups surface as group conversations but address as channel peers, so
// group and channel lookups fall back to each other.
type PeerCache struct {
	mu    sync.RWMutex
	peers map[string]tg.InputPeerClass
}

// NewPeerCache creates an empty cache.
func NewPeerCache() *PeerCache {
	return &PeerCache{peers: make(map[string]tg.InputPeerClass)}
}

// RememberEntities records the users and chats attached to an update container.
func (c *PeerCache) RememberEntities(users map[int64]*tg.User, chats map[int64]knownChat) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, user := range users {
		if user == nil {
			continue
		}
		c.store(weasel.ConversationTypePrivate, strconv.FormatInt(id, 10), user.AsInputPeer())
	}
	for id, chat := range chats {
		c.store(chat.kind, strconv.FormatInt(id, 10), chat.peer)
	}
}

// RememberConversation records the peer addressing conversation.
func (c *PeerCache) RememberConversation(conversation weasel.Conversation, peer tg.InputPeerClass) {
	if c == nil || conversation.ID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(conversation.Type, conversation.ID, peer)
}

// store requires c.mu held for writing.
func (c *PeerCache) store(kind weasel.ConversationType, id string, peer tg.InputPeerClass) {
	if peer == nil {
		return
	}
	if user, ok := peer.(*tg.InputPeerUser); ok && user == nil {
		return
	}
	c.peers[peerKey(kind, id)] = cloneInputPeer(peer)
}

// Resolve returns the input peer for conversation. An empty conversation type
// matches any kind recorded under the id.
func (c *PeerCache) Resolve(conversation weasel.Conversation) (tg.InputPeerClass, error) {
	if c == nil {
		return nil, fmt.Errorf("resolve peer: nil cache")
	}
	if conversation.ID == "" {
		return nil, fmt.Errorf("%w: missing conversation id", weasel.ErrInvalidOutboundRequest)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, kind := range lookupOrder(conversation.Type) {
		if peer, ok := c.peers[peerKey(kind, conversation.ID)]; ok {
			return cloneInputPeer(peer), nil
		}
	}

	return nil, fmt.Errorf("resolve peer: conversation %s/%s not seen", conversation.Type, conversation.ID)
}

// Len reports how many peers are cached.
func (c *PeerCache) Len() int {
	if c == nil {
		return 0
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.peers)
}

func lookupOrder(kind weasel.ConversationType) []weasel.ConversationType {
	switch kind {
	case weasel.ConversationTypePrivate:
		return []weasel.ConversationType{weasel.ConversationTypePrivate}
	case weasel.ConversationTypeGroup:
		return []weasel.ConversationType{weasel.ConversationTypeGroup, weasel.ConversationTypeChannel}
	case weasel.ConversationTypeChannel:
		return []weasel.ConversationType{weasel.ConversationTypeChannel, weasel.ConversationTypeGroup}
	default:
		return []weasel.ConversationType{
			weasel.ConversationTypePrivate,
			weasel.ConversationTypeGroup,
			weasel.ConversationTypeChannel,
		}
	}
}

func peerKey(kind weasel.ConversationType, id string) string {
	return string(kind) + ":" + id
}

func cloneInputPeer(peer tg.InputPeerClass) tg.InputPeerClass {
	switch typed := peer.(type) {
	case *tg.InputPeerUser:
		clone := *typed
		return &clone
	case *tg.InputPeerChat:
		clone := *typed
		return &clone
	case *tg.InputPeerChannel:
		clone := *typed
		return &clone
	default:
		return peer
	}
}
