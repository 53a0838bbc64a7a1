package room

import "github.com/banchess/server/internal/protocol"

// stateFrame builds the base "state" snapshot common to every emission:
// fen, players, next actor/kind, legal actions, clocks — but never the
// full History/Events logs. Used directly for draw-offer/decline acks,
// which have no lastMove and aren't a rejoin.
func (r *Room) stateFrame() protocol.StateFrame {
	_, legal := r.pos.LegalActions()
	startMs := r.game.StartTime.UnixMilli()

	var lastAction string
	if n := len(r.game.ActionHistory); n > 0 {
		lastAction = r.game.ActionHistory[n-1]
	}

	return protocol.StateFrame{
		Type:   protocol.SFState,
		GameId: r.id,
		FEN:    r.pos.FEN(),
		Players: protocol.Players{
			White: r.game.WhiteId,
			Black: r.game.BlackId,
		},
		NextAction:    r.pos.NextKind(),
		LegalActions:  legal,
		InCheck:       r.pos.InCheck(),
		ActionHistory: r.game.ActionHistory,
		SyncState: protocol.SyncState{
			FEN:        r.pos.FEN(),
			LastAction: lastAction,
			MoveNumber: r.game.MoveCount,
		},
		TimeControl: r.game.TimeControl,
		Clocks:      r.liveClocks(),
		StartTime:   &startMs,
		GameOver:    r.game.Over,
		Result:      r.game.Result,
	}
}

// fullStateFrame is the §4.4 join/rejoin emission: the base snapshot plus
// the entire action history and event log, so a reconnecting client never
// needs a second request to rebuild its view of the game.
func (r *Room) fullStateFrame() protocol.StateFrame {
	f := r.stateFrame()
	f.History = r.game.History
	f.Events = r.game.Events
	return f
}

// incrementalFrame is the §4.4 post-action emission: the base snapshot
// plus just the half-action that was accepted, never the full logs.
func (r *Room) incrementalFrame(entry protocol.HistoryEntry) protocol.StateFrame {
	f := r.stateFrame()
	f.LastMove = &entry
	return f
}

func (r *Room) clockUpdateFrame() protocol.ClockUpdateFrame {
	return protocol.ClockUpdateFrame{Type: protocol.SFClockUpdate, GameId: r.id, Clocks: r.liveClocksValue()}
}

func (r *Room) gameEndedFrame(reason string) protocol.GameEndedFrame {
	return protocol.GameEndedFrame{Type: protocol.SFGameEnded, GameId: r.id, Result: r.game.Result, Reason: reason}
}

func (r *Room) liveClocks() *protocol.Clocks {
	if r.clk == nil {
		return r.game.Clocks
	}
	c := r.clk.Snapshot()
	return &c
}

func (r *Room) liveClocksValue() protocol.Clocks {
	if r.clk == nil {
		if r.game.Clocks != nil {
			return *r.game.Clocks
		}
		return protocol.Clocks{}
	}
	return r.clk.Snapshot()
}
