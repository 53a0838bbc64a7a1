package archive

import (
	"testing"
	"time"

	"github.com/banchess/server/internal/protocol"
)

func newFinishedGame(id protocol.GameId, solo bool) *protocol.Game {
	now := time.Now()
	return &protocol.Game{
		GameId:         id,
		WhiteId:        "white-user",
		BlackId:        "black-user",
		FEN:            protocol.InitialBanChessFEN,
		StartTime:      now,
		LastActionTime: now,
		ActionHistory:  []string{"b:e2e4", "m:d2d4"},
		History: []protocol.HistoryEntry{
			{TurnNumber: 1, Player: protocol.Black, Kind: protocol.KindBan, Action: "b:e2e4"},
			{TurnNumber: 2, Player: protocol.White, Kind: protocol.KindMove, Action: "m:d2d4", SAN: "d4"},
		},
		Events: []protocol.GameEvent{
			{TimestampMs: now.UnixMilli(), Type: protocol.EventGameStarted, Message: "game started"},
		},
		IsSolo:    solo,
		Over:      true,
		Result:    "white won by resignation",
		MoveCount: 1,
		Status:    protocol.StatusTerminal,
	}
}

// TestEnqueueSkipsSoloGames pins the Open Question decision that solo
// games are never archived: Enqueue must not even buffer one.
func TestEnqueueSkipsSoloGames(t *testing.T) {
	a := New(nil, nil)
	a.Enqueue(newFinishedGame("solo-1", true))
	if n := bufferedCount(a); n != 0 {
		t.Fatalf("expected a solo game to never be buffered, got %d buffered", n)
	}
}

func TestEnqueueBuffersNonSoloGames(t *testing.T) {
	a := New(nil, nil)
	a.Enqueue(newFinishedGame("g-1", false))
	if n := bufferedCount(a); n != 1 {
		t.Fatalf("expected 1 buffered game, got %d", n)
	}
}

func TestEnqueueIsIdempotentPerGame(t *testing.T) {
	a := New(nil, nil)
	g := newFinishedGame("g-1", false)
	a.Enqueue(g)
	a.Enqueue(g) // a Room should only ever hand off a terminal game once, but re-enqueuing must not double-buffer
	if n := bufferedCount(a); n != 1 {
		t.Fatalf("expected re-enqueuing the same game id to not create a second buffer entry, got %d", n)
	}
	if len(a.order) != 1 {
		t.Fatalf("expected the FIFO order slice to also stay at 1 entry, got %d", len(a.order))
	}
}

func TestIsWinMatchesResultPrefix(t *testing.T) {
	cases := []struct {
		result string
		white  bool
		black  bool
	}{
		{"white won by checkmate", true, false},
		{"black won by resignation", false, true},
		{"draw by stalemate", false, false},
		{"draw by agreement", false, false},
	}
	for _, c := range cases {
		if got := isWin(c.result, protocol.White); got != c.white {
			t.Fatalf("isWin(%q, white) = %v, want %v", c.result, got, c.white)
		}
		if got := isWin(c.result, protocol.Black); got != c.black {
			t.Fatalf("isWin(%q, black) = %v, want %v", c.result, got, c.black)
		}
	}
}

func bufferedCount(a *Archiver) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffer)
}
