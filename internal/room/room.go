// Package room implements the Game Room (C4): the single-writer actor
// that owns one game's mutation rights. Every action arrives as a message
// on a bounded inbox channel and is processed strictly one at a time,
// which is what makes P1-P9 hold.
package room

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/banchess/server/internal/clock"
	"github.com/banchess/server/internal/protocol"
	"github.com/banchess/server/internal/rules"
)

// inboxCapacity bounds the Room's inbox; per §5 an overflowing inbox is
// treated as a disconnect by the caller, not queued indefinitely.
const inboxCapacity = 128

// maxFrameBytes mirrors the §5 oversized-frame limit. Nothing in this
// package checks it; the Hub enforces the limit at the socket boundary.
const maxFrameBytes = 64 * 1024

// Store is the persistence+bus port a Room needs from C7. Room treats it
// as an external collaborator behind an interface, in randomtoy's ports.go
// hexagonal style, so *store.Store (production) and an in-memory fake
// (tests) can both satisfy it.
type Store interface {
	SaveGame(ctx context.Context, g *protocol.Game) error
	Publish(ctx context.Context, gameId protocol.GameId, frame any) error
}

// Archiver is the C8 port: Room hands off terminal games and forgets them.
type Archiver interface {
	Enqueue(g *protocol.Game)
}

// replyFunc is a subscriber's sink for broadcast frames, backed by
// whatever transport (Hub connection) registered it — Room never touches
// a network connection directly.
type replyFunc func(frame any)

// Room owns exclusive mutation rights over one Game.
type Room struct {
	id    protocol.GameId
	game  *protocol.Game
	pos   *rules.Position
	clk   *clock.Clock
	store Store
	arch  Archiver
	log   *slog.Logger

	inbox chan any

	drawOffer *protocol.Color

	subscribers map[protocol.UserId]replyFunc
	subMu       sync.RWMutex

	shutdown chan struct{}
	done     chan struct{}
}

// Config bundles the inputs needed to start a Room.
type Config struct {
	Game  *protocol.Game
	Store Store
	Arch  Archiver
	Log   *slog.Logger
}

// New constructs and starts a Room's processing goroutine. The caller
// must have already acquired the game's cross-process lease (§4.4) before
// calling New.
func New(cfg Config) (*Room, error) {
	pos, err := rules.FromFEN(cfg.Game.FEN)
	if err != nil {
		return nil, wrapErr(KindFatal, "initial position invalid", err)
	}

	logger := cfg.Log
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "room", "gameId", string(cfg.Game.GameId))

	r := &Room{
		id:          cfg.Game.GameId,
		game:        cfg.Game,
		pos:         pos,
		store:       cfg.Store,
		arch:        cfg.Arch,
		log:         logger,
		inbox:       make(chan any, inboxCapacity),
		subscribers: make(map[protocol.UserId]replyFunc),
		shutdown:    make(chan struct{}),
		done:        make(chan struct{}),
	}

	if cfg.Game.TimeControl != nil && !cfg.Game.TimeControl.IsUnlimited() && !cfg.Game.Over {
		clockOut := make(chan any, 8)
		r.clk = clock.New(*cfg.Game.TimeControl, pos.SideToMove(), clockOut)
		r.clk.Start()
		go r.pumpClock(clockOut)
	}

	go r.run()
	return r, nil
}

// pumpClock relays clock messages onto the Room's own inbox so all
// mutation — including timeout handling — goes through the single
// serialized loop.
func (r *Room) pumpClock(clockOut <-chan any) {
	for msg := range clockOut {
		select {
		case r.inbox <- msg:
		case <-r.shutdown:
			return
		}
	}
}

// Send enqueues a message. Returns false if the inbox is full (caller
// treats this as a disconnect per §5 back-pressure policy) or the room
// has shut down.
func (r *Room) Send(msg any) bool {
	select {
	case r.inbox <- msg:
		return true
	case <-r.shutdown:
		return false
	default:
		return false
	}
}

// Subscribe registers a per-user reply sink for broadcast frames
// (state/game-event/clock-update/game-ended/timeout). Join should be sent
// through the inbox first so the caller's full-state frame is ordered
// correctly relative to this subscription.
func (r *Room) Subscribe(userId protocol.UserId, fn replyFunc) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.subscribers[userId] = fn
}

func (r *Room) Unsubscribe(userId protocol.UserId) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	delete(r.subscribers, userId)
}

func (r *Room) broadcast(frame any) {
	r.subMu.RLock()
	for _, fn := range r.subscribers {
		fn(frame)
	}
	r.subMu.RUnlock()
	r.publishRemote(frame)
}

// publishRemote fans a frame out over the cross-process bus so Hubs on
// other machines with a locally-connected player in this game can relay
// it too. Best-effort: a publish failure is logged, never surfaced to the
// player, since the in-process broadcast above already reached anyone
// this machine serves directly.
func (r *Room) publishRemote(frame any) {
	if r.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.store.Publish(ctx, r.id, frame); err != nil {
			r.log.Warn("bus publish failed", "err", err)
		}
	}()
}

// Done reports when the Room's processing loop has exited.
func (r *Room) Done() <-chan struct{} { return r.done }

func (r *Room) run() {
	defer close(r.done)
	for {
		select {
		case msg, ok := <-r.inbox:
			if !ok {
				return
			}
			r.process(msg)
		case <-r.shutdown:
			r.drainAndExit()
			return
		}
	}
}

func (r *Room) drainAndExit() {
	if r.clk != nil {
		r.clk.Destroy()
	}
}

// process handles one message and traps any panic into a Fatal
// transition instead of letting it escape the loop (§4.4 failure
// semantics, §7 Fatal kind).
func (r *Room) process(msg any) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in room loop, marking game aborted", "panic", rec)
			r.forceAbort()
		}
	}()

	switch m := msg.(type) {
	case joinMsg:
		r.handleJoin(m)
	case submitActionMsg:
		r.handleSubmitAction(m)
	case giveTimeMsg:
		r.handleGiveTime(m)
	case resignMsg:
		r.handleResign(m)
	case offerDrawMsg:
		r.handleOfferDraw(m)
	case acceptDrawMsg:
		r.handleAcceptDraw(m)
	case declineDrawMsg:
		r.handleDeclineDraw(m)
	case clock.TimeoutMsg:
		r.handleClockTimeout(m)
	case clock.TickMsg:
		r.handleClockTick(m)
	case shutdownMsg:
		close(r.shutdown)
	}
}

func (r *Room) forceAbort() {
	if r.game.Over {
		return
	}
	r.game.Over = true
	r.game.Result = "aborted"
	r.game.Status = protocol.StatusTerminal
	r.recordEvent(protocol.EventAborted, "game aborted after an internal error", "")
	r.persistAndArchive("internal error")
}
