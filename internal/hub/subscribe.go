package hub

import (
	"github.com/banchess/server/internal/protocol"
	"github.com/banchess/server/internal/store"
)

// subscribeGame registers c for a game's bus channel (cross-process
// frame relay, §4.5 subscription fan-out), subscribing the Hub's process
// to the underlying channel only once, on the first local connection.
func (h *Hub) subscribeGame(c *Client, gameId protocol.GameId) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.busSubCount[gameId]++
	if h.busSubCount[gameId] > 1 {
		return
	}

	ch, unsubscribe := h.bus.Subscribe(store.GameChannel(gameId))
	h.busUnsub[gameId] = unsubscribe
	go h.relayLoop(gameId, ch)
}

// unsubscribeGame drops c's interest in gameId, tearing down the bus
// subscription once the last local connection for that game disconnects
// or leaves.
func (h *Hub) unsubscribeGame(gameId protocol.GameId, userId protocol.UserId) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.rooms[gameId]; ok {
		r.Unsubscribe(userId)
	}

	h.busSubCount[gameId]--
	if h.busSubCount[gameId] > 0 {
		return
	}
	delete(h.busSubCount, gameId)
	if unsubscribe, ok := h.busUnsub[gameId]; ok {
		unsubscribe()
		delete(h.busUnsub, gameId)
	}
}

// relayLoop forwards raw bus payloads for gameId to every local
// connection currently attached to it.
func (h *Hub) relayLoop(gameId protocol.GameId, ch <-chan []byte) {
	for payload := range ch {
		h.mu.RLock()
		var targets []*Client
		for _, c := range h.clients {
			if c.gameId == gameId {
				targets = append(targets, c)
			}
		}
		h.mu.RUnlock()

		for _, c := range targets {
			c.deliverRaw(payload)
		}
	}
}
