package hub

import (
	"context"
	"time"

	"github.com/banchess/server/internal/protocol"
	"github.com/banchess/server/internal/room"
)

// leaseRenewInterval must stay comfortably under store.LockTTL (10s) so a
// live Room never loses its lease to a transient store hiccup.
const leaseRenewInterval = 3 * time.Second

// CreateRoom satisfies matchmaking.RoomRegistry: it acquires this
// process's cross-process lease on gameId (§4.4) and starts a Room actor
// under it.
func (h *Hub) CreateRoom(ctx context.Context, g *protocol.Game) error {
	return h.startRoom(ctx, g)
}

func (h *Hub) startRoom(ctx context.Context, g *protocol.Game) error {
	ok, err := h.store.AcquireGameLock(ctx, g.GameId, h.holderID)
	if err != nil {
		return err
	}
	if !ok {
		return room.ErrLeaseHeldElsewhere
	}

	r, err := room.New(room.Config{Game: g, Store: h.store, Arch: h.arch, Log: h.log})
	if err != nil {
		h.store.ReleaseGameLock(context.Background(), g.GameId, h.holderID)
		return err
	}

	h.mu.Lock()
	h.rooms[g.GameId] = r
	h.userToGame[g.WhiteId] = g.GameId
	h.userToGame[g.BlackId] = g.GameId
	h.mu.Unlock()

	go h.renewLease(r, g.GameId)
	go h.reapRoom(r, g.GameId)

	return nil
}

func (h *Hub) renewLease(r *room.Room, gameId protocol.GameId) {
	ticker := time.NewTicker(leaseRenewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			h.store.RenewGameLock(ctx, gameId, h.holderID)
			cancel()
		case <-r.Done():
			return
		}
	}
}

// reapRoom drops the Room from the registry once it exits, freeing its
// lease and user mappings for a future rematch.
func (h *Hub) reapRoom(r *room.Room, gameId protocol.GameId) {
	<-r.Done()

	h.mu.Lock()
	delete(h.rooms, gameId)
	for u, g := range h.userToGame {
		if g == gameId {
			delete(h.userToGame, u)
		}
	}
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h.store.ReleaseGameLock(ctx, gameId, h.holderID)
}

func (h *Hub) roomFor(gameId protocol.GameId) (*room.Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[gameId]
	return r, ok
}

// attachToRoom joins c to gameId's Room (resident locally or owned by
// another process, relayed via the bus) and subscribes c to its frames.
func (h *Hub) attachToRoom(c *Client, gameId protocol.GameId) {
	c.gameId = gameId
	h.subscribeGame(c, gameId)

	if r, ok := h.roomFor(gameId); ok {
		r.Subscribe(c.userId, c.deliver)
		r.Join(c.userId, func(frame any, err error) {
			if err != nil {
				c.deliver(errFrame(err))
				return
			}
			c.deliver(frame)
		})
		return
	}

	// Not resident on this process: the bus subscription above will
	// relay frames once the owning process broadcasts; there is nothing
	// further to do locally except ask the store for a snapshot so the
	// client isn't left blank until the next broadcast.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if g, err := h.store.LoadGame(ctx, gameId); err == nil {
		c.deliver(protocol.JoinedFrame{
			Type:        protocol.SFJoined,
			GameId:      g.GameId,
			Players:     protocol.Players{White: g.WhiteId, Black: g.BlackId},
			TimeControl: g.TimeControl,
		})
	}
}
