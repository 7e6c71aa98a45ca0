package ws

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/roumaissazd/ApplicationSummerIntership/internal/metrics"
)

// Broadcaster is the narrow fan-out capability handed to the components that
// need it (session gateway, typing broadcaster, REST handlers).
type Broadcaster interface {
	Broadcast(conversationID uint, payload []byte, excludeSession string)
}

// Hub is the room registry: it maps conversations to the sessions currently
// listening to them. All state is transient and rebuildable from live
// sessions; the hub is never consulted for authorization.
//
// Invariant: a client's send channel is never closed. Delivery stops by
// closing the client's done channel, so broadcasts racing an unregister can
// never panic on a half-removed entry.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[uint]map[*Client]struct{}
	sessions map[string]*Client
}

func NewHub() *Hub {
	return &Hub{
		rooms:    make(map[uint]map[*Client]struct{}),
		sessions: make(map[string]*Client),
	}
}

// RegisterSession makes a connected session addressable. Joining rooms is a
// separate, per-conversation step gated by the authorization check in the
// gateway.
func (h *Hub) RegisterSession(c *Client) {
	h.mu.Lock()
	h.sessions[c.sessionID] = c
	h.mu.Unlock()
	metrics.WsConnections.Inc()
}

// UnregisterSession removes the session from every room and from the session
// index, then stops delivery to it. Safe to call more than once.
func (h *Hub) UnregisterSession(c *Client) {
	h.mu.Lock()
	if _, ok := h.sessions[c.sessionID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, c.sessionID)
	for convID := range c.rooms {
		h.removeLocked(c, convID)
	}
	h.mu.Unlock()
	c.shutdown()
	metrics.WsConnections.Dec()
}

// Join registers the session under the conversation's room. The caller must
// have verified the user is a participant.
func (h *Hub) Join(c *Client, conversationID uint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[c.sessionID]; !ok {
		return
	}
	room := h.rooms[conversationID]
	if room == nil {
		room = make(map[*Client]struct{})
		h.rooms[conversationID] = room
	}
	room[c] = struct{}{}
	c.rooms[conversationID] = struct{}{}
}

// Leave removes the session from one room; no-op when it was not joined.
func (h *Hub) Leave(c *Client, conversationID uint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c, conversationID)
}

// LeaveAll removes the session from every room it belongs to.
func (h *Hub) LeaveAll(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for convID := range c.rooms {
		h.removeLocked(c, convID)
	}
}

func (h *Hub) removeLocked(c *Client, conversationID uint) {
	if room, ok := h.rooms[conversationID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, conversationID)
		}
	}
	delete(c.rooms, conversationID)
}

// InRoom reports whether the session is currently joined to the conversation.
func (h *Hub) InRoom(c *Client, conversationID uint) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room, ok := h.rooms[conversationID]
	if !ok {
		return false
	}
	_, joined := room[c]
	return joined
}

// RoomsOf returns the conversations the session is joined to.
func (h *Hub) RoomsOf(c *Client) []uint {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]uint, 0, len(c.rooms))
	for convID := range c.rooms {
		out = append(out, convID)
	}
	return out
}

// Online returns the number of sessions in a room.
func (h *Hub) Online(conversationID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[conversationID])
}

// Broadcast delivers a payload to every session in the room except
// excludeSession. Delivery is best-effort: a session whose buffer is full is
// dropped and unregistered; recovery for missed events is the catch-up API,
// not redelivery here.
func (h *Hub) Broadcast(conversationID uint, payload []byte, excludeSession string) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[conversationID]))
	for c := range h.rooms[conversationID] {
		if c.sessionID == excludeSession {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	var dead []*Client
	for _, c := range targets {
		select {
		case c.send <- payload:
			metrics.BroadcastDeliveries.Inc()
		case <-c.done:
			metrics.BroadcastDropped.Inc()
		default:
			// Buffer full: the session is too slow to keep up. Drop it; the
			// client reconciles via catch-up after reconnecting.
			metrics.BroadcastDropped.Inc()
			dead = append(dead, c)
		}
	}
	for _, c := range dead {
		log.Warn().
			Str("session_id", c.sessionID).
			Uint("user_id", c.userID).
			Uint("conversation_id", conversationID).
			Msg("dropping session with full send buffer")
		h.UnregisterSession(c)
	}
}

// Stop disconnects every live session. Used on shutdown.
func (h *Hub) Stop() {
	h.mu.Lock()
	all := make([]*Client, 0, len(h.sessions))
	for _, c := range h.sessions {
		all = append(all, c)
	}
	h.mu.Unlock()
	for _, c := range all {
		h.UnregisterSession(c)
	}
}
