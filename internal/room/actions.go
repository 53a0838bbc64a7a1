package room

import (
	"context"
	"time"

	"github.com/banchess/server/internal/clock"
	"github.com/banchess/server/internal/protocol"
	"github.com/banchess/server/internal/rules"
)

const (
	defaultGiveTimeSeconds = 15
	minGiveTimeSeconds     = 1
	maxGiveTimeSeconds     = 300
)

// actorFor resolves which UserId is allowed to perform the next half-action
// and which seat they'd occupy. For a solo game both seats are the same
// player, so any submitted action is accepted regardless of FEN-derived
// color; for a two-player game the FEN's ban field/side-to-move (not cached
// state) names the seat whose turn it is, per the §9 design note.
func (r *Room) actorFor(kind protocol.ActionKind) protocol.UserId {
	var turnColor protocol.Color
	if kind == protocol.KindBan {
		turnColor = r.pos.BanField().Color
	} else {
		turnColor = r.pos.SideToMove()
	}
	if turnColor == protocol.White {
		return r.game.WhiteId
	}
	return r.game.BlackId
}

func (r *Room) handleJoin(m joinMsg) {
	if r.game.Over {
		m.reply(r.fullStateFrame(), nil)
		return
	}
	if !r.game.IsSolo && m.userId != r.game.WhiteId && m.userId != r.game.BlackId {
		m.reply(nil, newErr(KindNotAPlayer, "user is not seated in this game"))
		return
	}
	r.recordEvent(protocol.EventPlayerJoined, "player joined", r.colorOf(m.userId))
	m.reply(r.fullStateFrame(), nil)
}

func (r *Room) colorOf(u protocol.UserId) protocol.Color {
	c, ok := r.game.SeatOf(u)
	if !ok {
		return ""
	}
	return c
}

func (r *Room) handleSubmitAction(m submitActionMsg) {
	if r.game.Over {
		m.reply(nil, newErr(KindGameOver, "game has already ended"))
		return
	}

	if m.action.Kind != r.pos.NextKind() {
		m.reply(nil, newErr(KindIllegalAction, "wrong half-action kind for the current turn"))
		return
	}
	expectedActor := r.actorFor(m.action.Kind)
	if !r.game.IsSolo && m.userId != expectedActor {
		m.reply(nil, newErr(KindNotAPlayer, "it is not this user's turn to act"))
		return
	}

	res, err := r.pos.Apply(m.action)
	if err != nil {
		m.reply(nil, wrapErr(KindIllegalAction, "action rejected by rules engine", err))
		return
	}

	bcn, err := protocol.EncodeBCN(m.action)
	if err != nil {
		m.reply(nil, wrapErr(KindIllegalAction, "could not encode accepted action", err))
		return
	}

	actingColor := r.colorOrFENColor(m.userId, m.action.Kind)
	prevPos := r.pos
	prevFEN := r.game.FEN
	prevLastAction := r.game.LastActionTime
	prevDrawOffer := r.drawOffer
	r.pos, err = rules.FromFEN(res.FENAfter)
	if err != nil {
		// The rules engine just handed back a FEN it cannot itself re-parse.
		// That can only mean an adapter bug, not a player-caused failure.
		m.reply(nil, wrapErr(KindFatal, "post-action position failed to re-parse", err))
		r.forceAbort()
		return
	}

	r.game.FEN = res.FENAfter
	r.game.ActionHistory = append(r.game.ActionHistory, bcn)
	if m.action.Kind == protocol.KindMove {
		r.game.MoveCount++
	}
	r.game.LastActionTime = time.Now()
	r.drawOffer = nil

	entry := protocol.HistoryEntry{
		TurnNumber:  len(r.game.ActionHistory),
		Player:      actingColor,
		Kind:        m.action.Kind,
		Action:      bcn,
		SAN:         res.SAN,
		FENAfter:    res.FENAfter,
		TimestampMs: m.receivedAtMs,
	}
	r.game.History = append(r.game.History, entry)
	r.game.Events = append(r.game.Events, protocol.GameEvent{
		TimestampMs: m.receivedAtMs,
		Type:        eventTypeFor(m.action.Kind),
		Message:     eventMessageFor(m.action.Kind, res.SAN, bcn),
		Player:      actingColor,
	})

	// The hot store is the source of truth for reconnects and other
	// processes: the action is only committed once its write lands. On a
	// store failure the in-memory state rolls back so the submitter can
	// retry the same action once the store recovers (§4.7 failure mode).
	if err := r.persistState(); err != nil {
		r.pos = prevPos
		r.game.FEN = prevFEN
		r.game.ActionHistory = r.game.ActionHistory[:len(r.game.ActionHistory)-1]
		r.game.History = r.game.History[:len(r.game.History)-1]
		r.game.Events = r.game.Events[:len(r.game.Events)-1]
		if m.action.Kind == protocol.KindMove {
			r.game.MoveCount--
		}
		r.game.LastActionTime = prevLastAction
		r.drawOffer = prevDrawOffer
		m.reply(nil, wrapErr(KindStoreUnavailable, "could not persist action", err))
		return
	}

	if r.clk != nil {
		r.clk.Switch(r.pos.SideToMove(), m.action.Kind == protocol.KindMove)
	}

	if res.Terminal != nil {
		r.applyTerminal(*res.Terminal)
	}

	m.reply(r.incrementalFrame(entry), nil)
	r.broadcast(r.incrementalFrame(entry))
}

// colorOrFENColor resolves the seat that actually performed the action, for
// solo games where userId alone can't disambiguate.
func (r *Room) colorOrFENColor(u protocol.UserId, kind protocol.ActionKind) protocol.Color {
	if !r.game.IsSolo {
		c, _ := r.game.SeatOf(u)
		return c
	}
	if kind == protocol.KindBan {
		return r.pos.BanField().Color
	}
	return r.pos.SideToMove()
}

func eventTypeFor(k protocol.ActionKind) protocol.GameEventType {
	if k == protocol.KindBan {
		return protocol.EventBanMade
	}
	return protocol.EventMoveMade
}

func eventMessageFor(k protocol.ActionKind, san, bcn string) string {
	if k == protocol.KindBan {
		return "a move was banned"
	}
	if san != "" {
		return san
	}
	return bcn
}

func (r *Room) handleGiveTime(m giveTimeMsg) {
	switch {
	case r.game.Over:
		m.reply(nil, newErr(KindGameOver, "game has already ended"))
		return
	case r.clk == nil || r.game.TimeControl == nil || r.game.TimeControl.IsUnlimited():
		m.reply(nil, newErr(KindIllegalAction, "this game has no time control"))
		return
	case r.game.IsSolo:
		m.reply(nil, newErr(KindIllegalAction, "giving time has no meaning in a solo game"))
		return
	}

	giverColor, ok := r.game.SeatOf(m.userId)
	if !ok {
		m.reply(nil, newErr(KindNotAPlayer, "user is not seated in this game"))
		return
	}
	recipient := giverColor.Opponent()

	amount := m.amount
	if amount == 0 {
		amount = defaultGiveTimeSeconds * time.Second
	}
	secs := int(amount / time.Second)
	if secs < minGiveTimeSeconds || secs > maxGiveTimeSeconds {
		m.reply(nil, newErr(KindIllegalAction, "amount must be between 1 and 300 seconds"))
		return
	}

	r.clk.GiveTime(recipient, amount)
	r.recordEvent(protocol.EventTimeGiven, "time was given", giverColor)
	m.reply(r.clockUpdateFrame(), nil)
	r.broadcast(r.clockUpdateFrame())
}

func (r *Room) handleResign(m resignMsg) {
	if r.game.Over {
		m.reply(nil, newErr(KindGameOver, "game has already ended"))
		return
	}
	resignerColor, ok := r.game.SeatOf(m.userId)
	if !ok {
		m.reply(nil, newErr(KindNotAPlayer, "user is not seated in this game"))
		return
	}

	r.game.Over = true
	r.game.Status = protocol.StatusTerminal
	r.game.Result = string(resignerColor.Opponent()) + " won by resignation"
	r.recordEvent(protocol.EventResignation, "resignation", resignerColor)
	r.persistAndArchive("resignation")

	m.reply(r.gameEndedFrame("resignation"), nil)
	r.broadcast(r.gameEndedFrame("resignation"))
}

func (r *Room) handleOfferDraw(m offerDrawMsg) {
	if r.game.Over {
		m.reply(nil, newErr(KindGameOver, "game has already ended"))
		return
	}
	offererColor, ok := r.game.SeatOf(m.userId)
	if !ok {
		m.reply(nil, newErr(KindNotAPlayer, "user is not seated in this game"))
		return
	}
	r.drawOffer = &offererColor
	m.reply(r.stateFrame(), nil)
	r.broadcast(r.stateFrame())
}

func (r *Room) handleAcceptDraw(m acceptDrawMsg) {
	if r.game.Over {
		m.reply(nil, newErr(KindGameOver, "game has already ended"))
		return
	}
	accepterColor, ok := r.game.SeatOf(m.userId)
	if !ok {
		m.reply(nil, newErr(KindNotAPlayer, "user is not seated in this game"))
		return
	}
	if r.drawOffer == nil || *r.drawOffer == accepterColor {
		m.reply(nil, newErr(KindIllegalAction, "no pending draw offer from the opponent"))
		return
	}

	r.game.Over = true
	r.game.Status = protocol.StatusTerminal
	r.game.Result = "draw by agreement"
	r.drawOffer = nil
	r.recordEvent(protocol.EventDraw, "draw by agreement", accepterColor)
	r.persistAndArchive("draw agreed")

	m.reply(r.gameEndedFrame("draw agreed"), nil)
	r.broadcast(r.gameEndedFrame("draw agreed"))
}

func (r *Room) handleDeclineDraw(m declineDrawMsg) {
	if _, ok := r.game.SeatOf(m.userId); !ok {
		m.reply(nil, newErr(KindNotAPlayer, "user is not seated in this game"))
		return
	}
	r.drawOffer = nil
	m.reply(r.stateFrame(), nil)
	r.broadcast(r.stateFrame())
}

func (r *Room) handleClockTimeout(m clock.TimeoutMsg) {
	if r.game.Over {
		return
	}
	r.game.Over = true
	r.game.Status = protocol.StatusTerminal
	r.game.Result = string(m.Loser.Opponent()) + " won on time"
	r.recordEvent(protocol.EventTimeout, "flag fell", m.Loser)
	r.persistAndArchive("timeout")
	r.broadcast(protocol.TimeoutFrame{Type: protocol.SFTimeout, GameId: r.id, Winner: m.Loser.Opponent()})
	r.broadcast(r.gameEndedFrame("timeout"))
}

func (r *Room) handleClockTick(m clock.TickMsg) {
	r.game.Clocks = &m.Clocks
	r.broadcast(protocol.ClockUpdateFrame{Type: protocol.SFClockUpdate, GameId: r.id, Clocks: m.Clocks})
}

// applyTerminal marks the game over for a rules-detected terminal state
// (checkmate, stalemate, draw by rule, or the ban-phase immediate-mate
// special case) and records the matching event.
func (r *Room) applyTerminal(t rules.Terminal) {
	r.game.Over = true
	r.game.Status = protocol.StatusTerminal

	var eventType protocol.GameEventType
	switch t.Kind {
	case protocol.TerminalCheckmate:
		eventType = protocol.EventCheckmate
		r.game.Result = string(t.Loser.Opponent()) + " won by checkmate"
	case protocol.TerminalStalemate:
		eventType = protocol.EventStalemate
		r.game.Result = "draw by stalemate"
	default:
		eventType = protocol.EventDraw
		r.game.Result = "draw by " + string(t.Kind)
	}

	r.recordEvent(eventType, string(eventType), t.Loser)
	r.persistAndArchive(string(t.Kind))
	r.broadcast(r.gameEndedFrame(string(t.Kind)))
}

func (r *Room) recordEvent(t protocol.GameEventType, message string, player protocol.Color) {
	r.game.Events = append(r.game.Events, protocol.GameEvent{
		TimestampMs: time.Now().UnixMilli(),
		Type:        t,
		Message:     message,
		Player:      player,
	})
	r.broadcast(protocol.GameEventFrame{Type: protocol.SFGameEvent, GameId: r.id, Event: r.game.Events[len(r.game.Events)-1]})
}

// persistState writes the current game document to the hot store
// synchronously. Called after every accepted action so a reconnecting
// client — possibly served by another process — always reads a current
// record.
func (r *Room) persistState() error {
	if r.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.store.SaveGame(ctx, r.game)
}

// persistAndArchive saves the current (now-terminal) game state, hands it
// off to the archiver unless it's a solo game (pinned Open Question: solo
// games are never archived), and tears down the clock. It does not change
// r.game.Status past Terminal; the archiver alone decides when to mark a
// game Archived once its durable write lands.
func (r *Room) persistAndArchive(reason string) {
	if r.clk != nil {
		r.clk.Destroy()
	}
	if r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.store.SaveGame(ctx, r.game); err != nil {
			r.log.Error("failed to persist terminal game state", "reason", reason, "err", err)
		}
	}
	if r.arch != nil && !r.game.IsSolo {
		r.arch.Enqueue(r.game)
	}
}
