package protocol_test

import (
	"testing"

	"github.com/banchess/server/internal/protocol"
)

func TestDecomposeInitialPosition(t *testing.T) {
	d, err := protocol.Decompose(protocol.InitialBanChessFEN)
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if d.SideToMove != protocol.White {
		t.Fatalf("expected white to move, got %q", d.SideToMove)
	}
	if !d.Ban.Pending || d.Ban.Color != protocol.Black {
		t.Fatalf("expected black to owe the opening ban, got %+v", d.Ban)
	}
	if d.Ban.NextKind() != protocol.KindBan {
		t.Fatalf("expected NextKind ban, got %q", d.Ban.NextKind())
	}
}

func TestRecomposeIsInverseOfDecompose(t *testing.T) {
	fens := []string{
		protocol.InitialBanChessFEN,
		"rnbqkbnr/pppp1ppp/8/4p3/4P3/8/PPPP1PPP/RNBQKBNR w KQkq e6 0 2 w:e2e4",
	}
	for _, fen := range fens {
		d, err := protocol.Decompose(fen)
		if err != nil {
			t.Fatalf("Decompose(%q): %v", fen, err)
		}
		if got := protocol.Recompose(d); got != fen {
			t.Fatalf("Recompose(Decompose(%q)) = %q, want identity", fen, got)
		}
	}
}

func TestDecomposeRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1",       // missing ban field
		"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR x KQkq - 0 1 b:ban", // bad side
		"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1 z:ban", // bad ban color
		"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1 b:abc", // too-short uci
		"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1 noSeparator",
	}
	for _, fen := range bad {
		if _, err := protocol.Decompose(fen); err == nil {
			t.Fatalf("expected Decompose(%q) to fail", fen)
		}
	}
}

func TestBanFieldEncodingAfterBan(t *testing.T) {
	d, err := protocol.Decompose(protocol.InitialBanChessFEN)
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	d.Ban = protocol.BanField{Color: protocol.Black, Pending: false, BannedUCI: "e2e4"}
	got := protocol.Recompose(d)
	want := "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1 b:e2e4"
	if got != want {
		t.Fatalf("Recompose: want %q, got %q", want, got)
	}
	redecomposed, err := protocol.Decompose(got)
	if err != nil {
		t.Fatalf("Decompose(recomposed): %v", err)
	}
	if redecomposed.Ban.NextKind() != protocol.KindMove {
		t.Fatalf("expected NextKind move once a ban is recorded, got %q", redecomposed.Ban.NextKind())
	}
}
