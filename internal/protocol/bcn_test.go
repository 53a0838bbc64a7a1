package protocol_test

import (
	"testing"

	"github.com/banchess/server/internal/protocol"
)

func TestEncodeDecodeBCNRoundTrip(t *testing.T) {
	cases := []protocol.Action{
		{Kind: protocol.KindMove, From: "e2", To: "e4"},
		{Kind: protocol.KindMove, From: "e7", To: "e8", Promo: "q"},
		{Kind: protocol.KindBan, From: "d2", To: "d4"},
	}
	for _, a := range cases {
		bcn, err := protocol.EncodeBCN(a)
		if err != nil {
			t.Fatalf("EncodeBCN(%+v): %v", a, err)
		}
		back, err := protocol.DecodeBCN(bcn)
		if err != nil {
			t.Fatalf("DecodeBCN(%q): %v", bcn, err)
		}
		if back != a {
			t.Fatalf("round trip mismatch: want %+v, got %+v (bcn %q)", a, back, bcn)
		}
	}
}

func TestEncodeBCNRejectsBanWithPromotion(t *testing.T) {
	_, err := protocol.EncodeBCN(protocol.Action{Kind: protocol.KindBan, From: "e7", To: "e8", Promo: "q"})
	if err == nil {
		t.Fatal("expected an error encoding a ban with a promotion")
	}
}

func TestDecodeBCNMalformed(t *testing.T) {
	bad := []string{"", "x", "m:e2", "m-e2e4", "q:e2e4", "m:e2e4qq"}
	for _, s := range bad {
		if _, err := protocol.DecodeBCN(s); err == nil {
			t.Fatalf("expected DecodeBCN(%q) to fail", s)
		}
	}
}

func TestDecodeBCNRejectsBanWithPromotion(t *testing.T) {
	if _, err := protocol.DecodeBCN("b:e7e8q"); err == nil {
		t.Fatal("expected a ban with a trailing promotion character to be rejected")
	}
}

func TestEncodeDecodeHistory(t *testing.T) {
	actions := []protocol.Action{
		{Kind: protocol.KindBan, From: "e2", To: "e4"},
		{Kind: protocol.KindMove, From: "d2", To: "d4"},
	}
	history, err := protocol.EncodeHistory(actions)
	if err != nil {
		t.Fatalf("EncodeHistory: %v", err)
	}
	want := []string{"b:e2e4", "m:d2d4"}
	for i, s := range want {
		if history[i] != s {
			t.Fatalf("history[%d]: want %q, got %q", i, s, history[i])
		}
	}

	back, err := protocol.DecodeHistory(history)
	if err != nil {
		t.Fatalf("DecodeHistory: %v", err)
	}
	for i, a := range actions {
		if back[i] != a {
			t.Fatalf("decoded history[%d]: want %+v, got %+v", i, a, back[i])
		}
	}
}

func TestDecodeHistoryReportsFailingIndex(t *testing.T) {
	_, err := protocol.DecodeHistory([]string{"m:e2e4", "garbage"})
	if err == nil {
		t.Fatal("expected an error for the malformed second entry")
	}
}
