package hub

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/banchess/server/internal/protocol"
	"github.com/banchess/server/internal/room"
	"github.com/banchess/server/internal/store"
	"github.com/google/uuid"
)

// handleFrame routes one decoded client frame to the right collaborator.
func (h *Hub) handleFrame(c *Client, f *protocol.ClientFrame) {
	switch f.Type {
	case protocol.CFAuthenticate:
		// Already authenticated at handshake time; a second authenticate
		// frame is accepted as a no-op re-announcement.
		c.deliver(protocol.AuthenticatedFrame{Type: protocol.SFAuthenticated, UserId: c.userId, Username: c.ident.DisplayName})

	case protocol.CFPing:
		c.deliver(protocol.PongFrame{Type: protocol.SFPong})

	case protocol.CFJoinGame:
		h.attachToRoom(c, protocol.GameId(f.GameId))

	case protocol.CFAction:
		h.withRoom(c, f.GameId, func(r *room.Room) {
			action, err := f.Action.ToAction()
			if err != nil {
				c.deliver(errFrame(err))
				return
			}
			r.SubmitAction(c.userId, action, time.Now().UnixMilli(), h.replyTo(c))
		})

	case protocol.CFGiveTime:
		h.withRoom(c, f.GameId, func(r *room.Room) {
			amount := 15 * time.Second
			if f.Amount != nil {
				amount = time.Duration(*f.Amount) * time.Second
			}
			r.GiveTime(c.userId, amount, h.replyTo(c))
		})

	case protocol.CFResign:
		h.withRoom(c, f.GameId, func(r *room.Room) { r.Resign(c.userId, h.replyTo(c)) })

	case protocol.CFOfferDraw:
		h.withRoom(c, f.GameId, func(r *room.Room) { r.OfferDraw(c.userId, h.replyTo(c)) })

	case protocol.CFAcceptDraw:
		h.withRoom(c, f.GameId, func(r *room.Room) { r.AcceptDraw(c.userId, h.replyTo(c)) })

	case protocol.CFDeclineDraw:
		h.withRoom(c, f.GameId, func(r *room.Room) { r.DeclineDraw(c.userId, h.replyTo(c)) })

	case protocol.CFJoinQueue:
		h.handleJoinQueue(c, f)

	case protocol.CFLeaveQueue:
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if h.queue != nil {
			h.queue.Dequeue(ctx, c.userId)
		}

	case protocol.CFCreateSoloGame:
		h.handleCreateSolo(c, f)

	default:
		c.deliver(protocol.ErrorFrame{Type: protocol.SFError, Message: "unhandled frame type"})
	}
}

// withRoom resolves the Room for gameId and invokes fn, or replies with
// GameNotFound if this process doesn't have it resident (the client
// should have reattached via join-game first, which resolves remote
// residency through the bus relay instead).
func (h *Hub) withRoom(c *Client, gameId string, fn func(r *room.Room)) {
	r, ok := h.roomFor(protocol.GameId(gameId))
	if !ok {
		c.deliver(protocol.ErrorFrame{Type: protocol.SFError, Message: "game not resident on this connection's process"})
		return
	}
	fn(r)
}

// replyTo adapts a Room reply callback into a Client delivery, mapping a
// *room.Error into the wire ErrorFrame shape.
func (h *Hub) replyTo(c *Client) func(frame any, err error) {
	return func(frame any, err error) {
		if err != nil {
			c.deliver(errFrame(err))
			return
		}
		c.deliver(frame)
	}
}

func errFrame(err error) protocol.ErrorFrame {
	var re *room.Error
	if errors.As(err, &re) {
		return protocol.ErrorFrame{Type: protocol.SFError, Message: re.Detail}
	}
	return protocol.ErrorFrame{Type: protocol.SFError, Message: err.Error()}
}

func (h *Hub) handleJoinQueue(c *Client, f *protocol.ClientFrame) {
	if h.queue == nil {
		c.deliver(protocol.ErrorFrame{Type: protocol.SFError, Message: "matchmaking unavailable"})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := h.queue.Enqueue(ctx, c.userId, c.ident.DisplayName, f.TimeControl); err != nil {
		c.deliver(protocol.ErrorFrame{Type: protocol.SFError, Message: "failed to join queue"})
	}
}

func (h *Hub) handleCreateSolo(c *Client, f *protocol.ClientFrame) {
	tc := protocol.DefaultTimeControl
	if f.TimeControl != nil {
		tc = *f.TimeControl
	}
	now := time.Now()
	game := &protocol.Game{
		GameId:         protocol.GameId(uuid.NewString()),
		WhiteId:        c.userId,
		BlackId:        c.userId,
		FEN:            protocol.InitialBanChessFEN,
		StartTime:      now,
		LastActionTime: now,
		ActionHistory:  []string{},
		Events:         []protocol.GameEvent{},
		TimeControl:    &tc,
		IsSolo:         true,
		Status:         protocol.StatusCreated,
	}
	if !tc.IsUnlimited() {
		game.Clocks = &protocol.Clocks{
			White: protocol.PlayerClock{RemainingMs: tc.InitialSec * 1000, LastUpdateWallMs: now.UnixMilli()},
			Black: protocol.PlayerClock{RemainingMs: tc.InitialSec * 1000, LastUpdateWallMs: now.UnixMilli()},
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.store.SaveGame(ctx, game); err != nil {
		c.deliver(protocol.ErrorFrame{Type: protocol.SFError, Message: "failed to create game"})
		return
	}
	if err := h.startRoom(ctx, game); err != nil {
		c.deliver(protocol.ErrorFrame{Type: protocol.SFError, Message: "failed to start game"})
		return
	}
	c.deliver(protocol.GameCreatedFrame{Type: protocol.SFGameCreated, GameId: game.GameId, TimeControl: game.TimeControl})
	h.attachToRoom(c, game.GameId)
}

// NotifyMatched satisfies matchmaking.Notifier: deliver directly if the
// user has a local connection, otherwise rely on the queue bus channel
// for processes that do.
func (h *Hub) NotifyMatched(userId protocol.UserId, gameId protocol.GameId, color protocol.Color, opponent protocol.UserId, tc protocol.TimeControl) {
	frame := protocol.MatchedFrame{Type: protocol.SFMatched, GameId: gameId, Color: color, Opponent: opponent, TimeControl: tc}
	h.notifyUser(userId, frame)
}

// NotifyQueued satisfies matchmaking.Notifier.
func (h *Hub) NotifyQueued(userId protocol.UserId, position int) {
	h.notifyUser(userId, protocol.QueuedFrame{Type: protocol.SFQueued, Position: position})
}

// queueEnvelope carries a matchmaking notification across the bus
// tagged with its intended recipient, since MatchedFrame/QueuedFrame
// themselves carry no userId — they're delivered to whichever single
// connection the frame is meant for, never broadcast.
type queueEnvelope struct {
	TargetUserId protocol.UserId `json:"targetUserId"`
	Frame        any             `json:"frame"`
}

func (h *Hub) notifyUser(userId protocol.UserId, frame any) {
	h.mu.RLock()
	c, ok := h.clients[userId]
	h.mu.RUnlock()
	if ok {
		c.deliver(frame)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h.bus.PublishJSON(ctx, store.QueueChannel, queueEnvelope{TargetUserId: userId, Frame: frame})
}

// watchQueueChannel relays matchmaking notifications published by other
// processes to a matching local connection, if any. Call once at
// startup.
func (h *Hub) watchQueueChannel(ctx context.Context) {
	ch, unsubscribe := h.bus.Subscribe(store.QueueChannel)
	go func() {
		<-ctx.Done()
		unsubscribe()
	}()
	go func() {
		for payload := range ch {
			var env struct {
				TargetUserId protocol.UserId `json:"targetUserId"`
				Frame        json.RawMessage `json:"frame"`
			}
			if err := json.Unmarshal(payload, &env); err != nil {
				continue
			}
			h.mu.RLock()
			c, ok := h.clients[env.TargetUserId]
			h.mu.RUnlock()
			if ok {
				c.deliverRaw(env.Frame)
			}
		}
	}()
}
