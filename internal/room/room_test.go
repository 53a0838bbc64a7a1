package room_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/banchess/server/internal/protocol"
	"github.com/banchess/server/internal/room"
)

// fakeStore satisfies room.Store without touching a real hot store.
type fakeStore struct {
	mu        sync.Mutex
	saved     []*protocol.Game
	published []any
	failSaves bool
}

func (f *fakeStore) SaveGame(ctx context.Context, g *protocol.Game) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSaves {
		return errors.New("store unavailable")
	}
	f.saved = append(f.saved, g)
	return nil
}

func (f *fakeStore) Publish(ctx context.Context, gameId protocol.GameId, frame any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, frame)
	return nil
}

// fakeArchiver satisfies room.Archiver by just recording what it was handed.
type fakeArchiver struct {
	mu       sync.Mutex
	enqueued []*protocol.Game
}

func (f *fakeArchiver) Enqueue(g *protocol.Game) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, g)
}

func (f *fakeArchiver) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.enqueued)
}

func newTestRoom(t *testing.T, g *protocol.Game) (*room.Room, *fakeStore, *fakeArchiver) {
	t.Helper()
	st := &fakeStore{}
	arch := &fakeArchiver{}
	r, err := room.New(room.Config{Game: g, Store: st, Arch: arch})
	if err != nil {
		t.Fatalf("room.New: %v", err)
	}
	t.Cleanup(r.Shutdown)
	return r, st, arch
}

func newTwoPlayerGame() *protocol.Game {
	now := time.Now()
	return &protocol.Game{
		GameId:         "g1",
		WhiteId:        "white-user",
		BlackId:        "black-user",
		FEN:            protocol.InitialBanChessFEN,
		StartTime:      now,
		LastActionTime: now,
		ActionHistory:  []string{},
		Events:         []protocol.GameEvent{},
		Status:         protocol.StatusActive,
	}
}

// syncCall sends a Room method and blocks for its reply, with a timeout so
// a bug that drops a reply fails the test instead of hanging it forever.
func syncCall(t *testing.T, send func(reply func(frame any, err error)) bool) (any, error) {
	t.Helper()
	type result struct {
		frame any
		err   error
	}
	done := make(chan result, 1)
	if ok := send(func(frame any, err error) { done <- result{frame, err} }); !ok {
		t.Fatal("room rejected the message (inbox full or shut down)")
	}
	select {
	case r := <-done:
		return r.frame, r.err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for room reply")
		return nil, nil
	}
}

func TestSubmitActionWrongTurnIsRejected(t *testing.T) {
	r, _, _ := newTestRoom(t, newTwoPlayerGame())

	// Ply 1 is black's ban; white attempting a ban is NotAPlayer-for-this-turn.
	_, err := syncCall(t, func(reply func(frame any, err error)) bool {
		return r.SubmitAction("white-user", protocol.Action{Kind: protocol.KindBan, From: "e2", To: "e4"}, 0, reply)
	})
	if err == nil {
		t.Fatal("expected white to be rejected for acting out of turn")
	}
}

func TestSubmitActionOpeningBanThenMove(t *testing.T) {
	r, st, _ := newTestRoom(t, newTwoPlayerGame())

	_, err := syncCall(t, func(reply func(frame any, err error)) bool {
		return r.SubmitAction("black-user", protocol.Action{Kind: protocol.KindBan, From: "e2", To: "e4"}, 1, reply)
	})
	if err != nil {
		t.Fatalf("black's opening ban: %v", err)
	}

	_, err = syncCall(t, func(reply func(frame any, err error)) bool {
		return r.SubmitAction("white-user", protocol.Action{Kind: protocol.KindMove, From: "e2", To: "e4"}, 2, reply)
	})
	if err == nil {
		t.Fatal("expected the banned move e2e4 to be rejected")
	}

	frame, err := syncCall(t, func(reply func(frame any, err error)) bool {
		return r.SubmitAction("white-user", protocol.Action{Kind: protocol.KindMove, From: "d2", To: "d4"}, 3, reply)
	})
	if err != nil {
		t.Fatalf("white's d2d4: %v", err)
	}
	sf, ok := frame.(protocol.StateFrame)
	if !ok {
		t.Fatalf("expected a StateFrame, got %T", frame)
	}
	if sf.NextAction != protocol.KindBan {
		t.Fatalf("expected a ban to be owed next, got %q", sf.NextAction)
	}
	if len(sf.ActionHistory) != 2 {
		t.Fatalf("expected a 2-entry action history, got %d", len(sf.ActionHistory))
	}

	// Every accepted action is persisted before it is acknowledged, so a
	// reconnecting client always reads a current record from the store.
	st.mu.Lock()
	saved := len(st.saved)
	lastFEN := ""
	if saved > 0 {
		lastFEN = st.saved[saved-1].FEN
	}
	st.mu.Unlock()
	if saved != 2 {
		t.Fatalf("expected one SaveGame per accepted action (2), got %d", saved)
	}
	if lastFEN != sf.FEN {
		t.Fatalf("expected the stored FEN %q to match the acknowledged FEN %q", lastFEN, sf.FEN)
	}
}

// TestStoreFailureDoesNotAdvanceState pins the §4.7-style failure mode: a
// hot-store outage surfaces an error to the submitter and leaves the game
// exactly where it was, so the same action succeeds on retry.
func TestStoreFailureDoesNotAdvanceState(t *testing.T) {
	r, st, _ := newTestRoom(t, newTwoPlayerGame())

	st.mu.Lock()
	st.failSaves = true
	st.mu.Unlock()

	_, err := syncCall(t, func(reply func(frame any, err error)) bool {
		return r.SubmitAction("black-user", protocol.Action{Kind: protocol.KindBan, From: "e2", To: "e4"}, 1, reply)
	})
	if err == nil {
		t.Fatal("expected the action to fail while the store is down")
	}

	st.mu.Lock()
	st.failSaves = false
	st.mu.Unlock()

	frame, err := syncCall(t, func(reply func(frame any, err error)) bool {
		return r.SubmitAction("black-user", protocol.Action{Kind: protocol.KindBan, From: "e2", To: "e4"}, 2, reply)
	})
	if err != nil {
		t.Fatalf("expected the same action to succeed once the store recovered: %v", err)
	}
	sf, ok := frame.(protocol.StateFrame)
	if !ok {
		t.Fatalf("expected a StateFrame, got %T", frame)
	}
	if len(sf.ActionHistory) != 1 {
		t.Fatalf("expected exactly one accepted action after the retry, got %d", len(sf.ActionHistory))
	}
}

func TestGiveTimeRejectedInSoloGame(t *testing.T) {
	now := time.Now()
	tc := protocol.TimeControl{InitialSec: 60}
	solo := &protocol.Game{
		GameId:        "solo1",
		WhiteId:       "u1",
		BlackId:       "u1",
		FEN:           protocol.InitialBanChessFEN,
		StartTime:     now,
		ActionHistory: []string{},
		Events:        []protocol.GameEvent{},
		TimeControl:   &tc,
		IsSolo:        true,
	}
	r, _, _ := newTestRoom(t, solo)

	_, err := syncCall(t, func(reply func(frame any, err error)) bool {
		return r.GiveTime("u1", 15*time.Second, reply)
	})
	if err == nil {
		t.Fatal("expected give-time to be rejected in a solo game")
	}
}

func TestGiveTimeRejectsNonPlayers(t *testing.T) {
	tc := protocol.TimeControl{InitialSec: 60}
	g := newTwoPlayerGame()
	g.TimeControl = &tc
	r, _, _ := newTestRoom(t, g)

	_, err := syncCall(t, func(reply func(frame any, err error)) bool {
		return r.GiveTime("not-a-player", 15*time.Second, reply)
	})
	if err == nil {
		t.Fatal("expected give-time from a non-player to be rejected")
	}
}

func TestGiveTimeOutOfRangeRejected(t *testing.T) {
	tc := protocol.TimeControl{InitialSec: 60}
	g := newTwoPlayerGame()
	g.TimeControl = &tc
	r, _, _ := newTestRoom(t, g)

	for _, amount := range []time.Duration{0, 500 * time.Millisecond, 301 * time.Second} {
		_, err := syncCall(t, func(reply func(frame any, err error)) bool {
			return r.GiveTime("white-user", amount, reply)
		})
		if amount == 0 {
			continue // 0 means "use the default", always valid
		}
		if err == nil {
			t.Fatalf("expected amount %v to be rejected", amount)
		}
	}
}

func TestGiveTimeCreditsOpponent(t *testing.T) {
	tc := protocol.TimeControl{InitialSec: 60}
	g := newTwoPlayerGame()
	g.TimeControl = &tc
	r, _, _ := newTestRoom(t, g)

	frame, err := syncCall(t, func(reply func(frame any, err error)) bool {
		return r.GiveTime("white-user", 15*time.Second, reply)
	})
	if err != nil {
		t.Fatalf("valid give-time: %v", err)
	}
	cf, ok := frame.(protocol.ClockUpdateFrame)
	if !ok {
		t.Fatalf("expected a ClockUpdateFrame, got %T", frame)
	}
	if cf.Clocks.Black.RemainingMs <= 60*1000 {
		t.Fatalf("expected black to be credited 15s, got %dms", cf.Clocks.Black.RemainingMs)
	}
}

func TestResignEndsGameAndArchives(t *testing.T) {
	r, st, arch := newTestRoom(t, newTwoPlayerGame())

	frame, err := syncCall(t, func(reply func(frame any, err error)) bool {
		return r.Resign("white-user", reply)
	})
	if err != nil {
		t.Fatalf("Resign: %v", err)
	}
	ef, ok := frame.(protocol.GameEndedFrame)
	if !ok {
		t.Fatalf("expected a GameEndedFrame, got %T", frame)
	}
	if ef.Result != "black won by resignation" {
		t.Fatalf("unexpected result: %q", ef.Result)
	}

	// Further actions must be refused once the game is over.
	_, err = syncCall(t, func(reply func(frame any, err error)) bool {
		return r.Resign("black-user", reply)
	})
	if err == nil {
		t.Fatal("expected a second resignation on an already-over game to be rejected")
	}

	deadline := time.Now().Add(time.Second)
	for {
		if arch.count() > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expected the finished game to be handed to the archiver")
		}
		time.Sleep(5 * time.Millisecond)
	}
	_ = st
}

func TestSoloGameNeverArchived(t *testing.T) {
	now := time.Now()
	solo := &protocol.Game{
		GameId:        "solo2",
		WhiteId:       "u1",
		BlackId:       "u1",
		FEN:           protocol.InitialBanChessFEN,
		StartTime:     now,
		ActionHistory: []string{},
		Events:        []protocol.GameEvent{},
		IsSolo:        true,
	}
	r, _, arch := newTestRoom(t, solo)

	_, err := syncCall(t, func(reply func(frame any, err error)) bool {
		return r.Resign("u1", reply)
	})
	if err != nil {
		t.Fatalf("Resign: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if arch.count() != 0 {
		t.Fatalf("expected a solo game to never be archived, but Enqueue was called %d time(s)", arch.count())
	}
}

func TestDrawOfferAcceptFlow(t *testing.T) {
	r, _, _ := newTestRoom(t, newTwoPlayerGame())

	_, err := syncCall(t, func(reply func(frame any, err error)) bool {
		return r.OfferDraw("white-user", reply)
	})
	if err != nil {
		t.Fatalf("OfferDraw: %v", err)
	}

	// The offerer themselves cannot accept their own offer.
	_, err = syncCall(t, func(reply func(frame any, err error)) bool {
		return r.AcceptDraw("white-user", reply)
	})
	if err == nil {
		t.Fatal("expected the offerer accepting their own draw offer to be rejected")
	}

	frame, err := syncCall(t, func(reply func(frame any, err error)) bool {
		return r.AcceptDraw("black-user", reply)
	})
	if err != nil {
		t.Fatalf("AcceptDraw: %v", err)
	}
	ef, ok := frame.(protocol.GameEndedFrame)
	if !ok {
		t.Fatalf("expected a GameEndedFrame, got %T", frame)
	}
	if ef.Result != "draw by agreement" {
		t.Fatalf("unexpected result: %q", ef.Result)
	}
}

func TestDeclineDrawClearsOffer(t *testing.T) {
	r, _, _ := newTestRoom(t, newTwoPlayerGame())

	_, err := syncCall(t, func(reply func(frame any, err error)) bool {
		return r.OfferDraw("white-user", reply)
	})
	if err != nil {
		t.Fatalf("OfferDraw: %v", err)
	}
	_, err = syncCall(t, func(reply func(frame any, err error)) bool {
		return r.DeclineDraw("black-user", reply)
	})
	if err != nil {
		t.Fatalf("DeclineDraw: %v", err)
	}
	_, err = syncCall(t, func(reply func(frame any, err error)) bool {
		return r.AcceptDraw("black-user", reply)
	})
	if err == nil {
		t.Fatal("expected accepting a declined draw offer to be rejected")
	}
}

func TestJoinReturnsFullState(t *testing.T) {
	r, _, _ := newTestRoom(t, newTwoPlayerGame())

	frame, err := syncCall(t, func(reply func(frame any, err error)) bool {
		return r.Join("white-user", reply)
	})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	sf, ok := frame.(protocol.StateFrame)
	if !ok {
		t.Fatalf("expected a StateFrame, got %T", frame)
	}
	if sf.Events == nil {
		t.Fatal("expected a full-state join to carry the event log")
	}
}

func TestJoinRejectsNonPlayerInTwoPlayerGame(t *testing.T) {
	r, _, _ := newTestRoom(t, newTwoPlayerGame())

	_, err := syncCall(t, func(reply func(frame any, err error)) bool {
		return r.Join("a-stranger", reply)
	})
	if err == nil {
		t.Fatal("expected a non-seated user's join to be rejected")
	}
}

// TestClockTimeoutEndsGame drives a real 1s clock to expiry and checks
// that subscribers observe a timeout frame and the game ends exactly once.
func TestClockTimeoutEndsGame(t *testing.T) {
	tc := protocol.TimeControl{InitialSec: 1}
	g := newTwoPlayerGame()
	g.TimeControl = &tc
	r, _, arch := newTestRoom(t, g)

	frames := make(chan any, 16)
	r.Subscribe("white-user", func(frame any) { frames <- frame })

	deadline := time.After(3 * time.Second)
	sawTimeout := false
	sawEnded := false
	for !sawTimeout || !sawEnded {
		select {
		case frame := <-frames:
			switch f := frame.(type) {
			case protocol.TimeoutFrame:
				sawTimeout = true
				if f.Winner != protocol.Black {
					t.Fatalf("expected black to win on time (white's clock was running), got %q", f.Winner)
				}
			case protocol.GameEndedFrame:
				sawEnded = true
			}
		case <-deadline:
			t.Fatalf("timed out waiting for timeout frames (sawTimeout=%v sawEnded=%v)", sawTimeout, sawEnded)
		}
	}

	deadline = time.After(time.Second)
	for {
		if arch.count() > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected the timed-out game to be archived")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSoloGameActorAcceptsBothHalves(t *testing.T) {
	now := time.Now()
	solo := &protocol.Game{
		GameId:        "solo3",
		WhiteId:       "u1",
		BlackId:       "u1",
		FEN:           protocol.InitialBanChessFEN,
		StartTime:     now,
		ActionHistory: []string{},
		Events:        []protocol.GameEvent{},
		IsSolo:        true,
	}
	r, _, _ := newTestRoom(t, solo)

	_, err := syncCall(t, func(reply func(frame any, err error)) bool {
		return r.SubmitAction("u1", protocol.Action{Kind: protocol.KindBan, From: "e2", To: "e4"}, 1, reply)
	})
	if err != nil {
		t.Fatalf("solo ban: %v", err)
	}
	_, err = syncCall(t, func(reply func(frame any, err error)) bool {
		return r.SubmitAction("u1", protocol.Action{Kind: protocol.KindMove, From: "d2", To: "d4"}, 2, reply)
	})
	if err != nil {
		t.Fatalf("solo move: %v", err)
	}
}
