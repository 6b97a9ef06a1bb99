package ws

import (
	"log"
	"sync"

	"github.com/playmatatu/duels/internal/game"
)

// Hub maps each connected player to their matchmaking channel. A newer
// connection for the same player replaces the older one.
type Hub struct {
	mu      sync.RWMutex
	clients map[int]*Client
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{clients: make(map[int]*Client)}
}

// Register makes c the player's current channel and closes the one it replaces.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	old := h.clients[c.playerID]
	h.clients[c.playerID] = c
	h.mu.Unlock()

	if old != nil && old != c {
		log.Printf("[WS] player %d reconnected to matchmaking, closing old connection", c.playerID)
		old.Close(game.CloseNormal, "replaced by new connection")
	}
	log.Printf("[WS] player %d connected to matchmaking", c.playerID)
}

// Unregister removes c only if it is still the player's current channel.
func (h *Hub) Unregister(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.clients[c.playerID]; ok && cur == c {
		delete(h.clients, c.playerID)
		log.Printf("[WS] player %d left matchmaking", c.playerID)
		return true
	}
	return false
}

// SendToUser pushes an event to the player's channel, if any.
func (h *Hub) SendToUser(playerID int, event string, payload interface{}) {
	h.mu.RLock()
	c := h.clients[playerID]
	h.mu.RUnlock()

	if c == nil {
		log.Printf("[WS] SendToUser: no channel for player %d, dropping %s", playerID, event)
		return
	}
	c.Send(event, payload)
}

// Connected reports whether the player has an open matchmaking channel.
func (h *Hub) Connected(playerID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[playerID]
	return ok
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
