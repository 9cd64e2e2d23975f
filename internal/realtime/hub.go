package realtime

import (
	"log"
	"sync"
)

// Hub is the process-wide connection registry: it maps live connections to
// their owning party and to the request channels they have joined, and fans
// events out to channel members. All access goes through the internal mutex;
// the maps are never exposed.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	channels map[string]map[*Client]struct{} // request id -> joined connections
}

func NewHub() *Hub {
	return &Hub{
		clients:  make(map[*Client]struct{}),
		channels: make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

// Unregister removes the connection and every channel membership it holds.
// Nothing is retained for a disconnected party.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	for requestID := range c.joined {
		h.removeFromChannel(c, requestID)
	}
	c.closeSend()
}

// Join subscribes the connection to a request channel. Idempotent.
func (h *Hub) Join(c *Client, requestID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	members, ok := h.channels[requestID]
	if !ok {
		members = make(map[*Client]struct{})
		h.channels[requestID] = members
	}
	members[c] = struct{}{}
	c.joined[requestID] = struct{}{}
}

// Leave unsubscribes the connection from a request channel. Idempotent.
func (h *Hub) Leave(c *Client, requestID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeFromChannel(c, requestID)
}

func (h *Hub) removeFromChannel(c *Client, requestID string) {
	delete(c.joined, requestID)
	members, ok := h.channels[requestID]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.channels, requestID)
	}
}

// Broadcast pushes an event to every member of the request channel except
// exclude (pass nil to reach everyone). A member whose outbound queue is full
// is disconnected rather than allowed to stall the hub.
func (h *Hub) Broadcast(requestID string, event Event, exclude *Client) {
	h.mu.RLock()
	var overflowed []*Client
	for member := range h.channels[requestID] {
		if member == exclude {
			continue
		}
		if !member.enqueue(event) {
			overflowed = append(overflowed, member)
		}
	}
	h.mu.RUnlock()

	for _, member := range overflowed {
		log.Printf("[HUB] Dropping slow connection for user %s", member.UserID)
		h.Unregister(member)
		member.closeConn()
	}
}

// JoinedChannels returns a snapshot of the channels the connection is in.
func (h *Hub) JoinedChannels(c *Client) map[string]struct{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	snapshot := make(map[string]struct{}, len(c.joined))
	for requestID := range c.joined {
		snapshot[requestID] = struct{}{}
	}
	return snapshot
}

// Joined reports whether the connection is currently a member of the channel.
func (h *Hub) Joined(c *Client, requestID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.channels[requestID][c]
	return ok
}

// ChannelSize returns the number of connections joined to the channel.
func (h *Hub) ChannelSize(requestID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[requestID])
}
