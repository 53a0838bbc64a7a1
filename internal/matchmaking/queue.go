// Package matchmaking implements the Matchmaking Queue (C6): a FIFO,
// dedup'd wait list that pairs two queued players into a new game room.
// Structurally this keeps a Queue/Start/Stop/processLoop ticker shape,
// but Elo-bucketed matching (canMatch/checkEloCompatibility/
// calculateEloRange) is gone — this system pairs strictly in arrival
// order, so there is no "no match found
// within range" retry ladder to run.
package matchmaking

import (
	"context"
	"log/slog"
	"time"

	"github.com/banchess/server/internal/protocol"
	"github.com/banchess/server/internal/store"
	"github.com/google/uuid"
)

// processingInterval is how often the background loop attempts a pairing
// pass, independent of any explicit TryMatch call a caller makes on
// enqueue.
const processingInterval = 500 * time.Millisecond

// RoomRegistry is implemented by the Session Hub: matchmaking builds and
// persists the Game record, then hands it off for the Hub to spin up a
// Game Room under the cross-process lease, matching §4.4's ownership
// rule that only the lease-holding process may construct a Room.
type RoomRegistry interface {
	CreateRoom(ctx context.Context, g *protocol.Game) error
}

// Notifier delivers matchmaking outcomes to connected clients. The Hub
// implements this by looking up local connections and, for users served
// by other processes, relying on the store's queue channel fan-out.
type Notifier interface {
	NotifyMatched(userId protocol.UserId, gameId protocol.GameId, color protocol.Color, opponent protocol.UserId, tc protocol.TimeControl)
	NotifyQueued(userId protocol.UserId, position int)
}

// Queue is the matchmaking actor.
type Queue struct {
	store  *store.Store
	rooms  RoomRegistry
	notify Notifier
	log    *slog.Logger

	ticker *time.Ticker
	stopCh chan struct{}
}

// New constructs a Queue. s, rooms and notify must all be non-nil.
func New(s *store.Store, rooms RoomRegistry, notify Notifier, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	return &Queue{
		store:  s,
		rooms:  rooms,
		notify: notify,
		log:    log.With("component", "matchmaking"),
		stopCh: make(chan struct{}),
	}
}

// Start begins the background pairing loop.
func (q *Queue) Start() {
	q.ticker = time.NewTicker(processingInterval)
	go q.processLoop()
	q.log.Info("matchmaking queue started")
}

// Stop halts the background pairing loop.
func (q *Queue) Stop() {
	if q.ticker != nil {
		q.ticker.Stop()
	}
	close(q.stopCh)
	q.log.Info("matchmaking queue stopped")
}

func (q *Queue) processLoop() {
	for {
		select {
		case <-q.ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := q.TryMatch(ctx); err != nil {
				q.log.Warn("TryMatch failed", "err", err)
			}
			cancel()
		case <-q.stopCh:
			return
		}
	}
}

// Enqueue adds a player to the queue, or — per §4.6's idempotence rule —
// leaves their existing entry unchanged if they're already queued. It
// then makes a best-effort immediate TryMatch so a pairing doesn't have
// to wait for the next tick, and sends the caller a queued notification
// with their resulting position if they are still waiting (none if they
// were matched immediately). It returns only an error.
func (q *Queue) Enqueue(ctx context.Context, userId protocol.UserId, username string, tc *protocol.TimeControl) error {
	entry := store.QueueEntry{
		UserId:      userId,
		Username:    username,
		TimeControl: tc,
		JoinedAtMs:  time.Now().UnixMilli(),
	}
	if err := q.store.EnqueuePlayer(ctx, entry); err != nil {
		return err
	}

	if err := q.TryMatch(ctx); err != nil {
		q.log.Warn("TryMatch after enqueue failed", "err", err)
	}

	position, err := q.store.QueuePosition(ctx, userId)
	if err != nil {
		return err
	}
	if position > 0 {
		q.notify.NotifyQueued(userId, position)
	}
	return nil
}

// Dequeue removes a player from the queue, e.g. on cancellation or
// disconnect.
func (q *Queue) Dequeue(ctx context.Context, userId protocol.UserId) error {
	_, err := q.store.DequeuePlayer(ctx, userId)
	return err
}

// TryMatch attempts to pop and pair the two longest-waiting players. A
// no-op returning nil if fewer than two are waiting.
func (q *Queue) TryMatch(ctx context.Context) error {
	first, second, err := q.store.PopPair(ctx)
	if err != nil {
		return err
	}
	if first == nil || second == nil {
		return nil
	}

	tc := protocol.DefaultTimeControl
	if first.TimeControl != nil {
		tc = *first.TimeControl
	} else if second.TimeControl != nil {
		tc = *second.TimeControl
	}

	now := time.Now()
	game := &protocol.Game{
		GameId:         protocol.GameId(uuid.NewString()),
		WhiteId:        first.UserId,
		BlackId:        second.UserId,
		FEN:            protocol.InitialBanChessFEN,
		StartTime:      now,
		LastActionTime: now,
		ActionHistory:  []string{},
		Events:         []protocol.GameEvent{},
		TimeControl:    &tc,
		IsSolo:         false,
		Status:         protocol.StatusCreated,
	}
	if !tc.IsUnlimited() {
		game.Clocks = &protocol.Clocks{
			White: protocol.PlayerClock{RemainingMs: tc.InitialSec * 1000, LastUpdateWallMs: now.UnixMilli()},
			Black: protocol.PlayerClock{RemainingMs: tc.InitialSec * 1000, LastUpdateWallMs: now.UnixMilli()},
		}
	}

	if err := q.store.SaveGame(ctx, game); err != nil {
		return err
	}
	if err := q.rooms.CreateRoom(ctx, game); err != nil {
		return err
	}

	q.notify.NotifyMatched(first.UserId, game.GameId, protocol.White, second.UserId, tc)
	q.notify.NotifyMatched(second.UserId, game.GameId, protocol.Black, first.UserId, tc)

	remaining, err := q.store.ListQueue(ctx)
	if err != nil {
		return err
	}
	for i, e := range remaining {
		q.notify.NotifyQueued(e.UserId, i+1)
	}
	return nil
}
