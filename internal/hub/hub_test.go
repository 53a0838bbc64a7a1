package hub

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/banchess/server/internal/auth"
	"github.com/banchess/server/internal/middleware"
	"github.com/banchess/server/internal/protocol"
	"github.com/banchess/server/internal/room"
	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, secret, userID, displayName string, expired bool) string {
	t.Helper()
	exp := time.Now().Add(time.Hour)
	if expired {
		exp = time.Now().Add(-time.Hour)
	}
	claims := auth.Claims{
		UserID:      userID,
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestAuthenticateUpgradeAcceptsValidToken(t *testing.T) {
	h := New(Config{Validator: auth.NewSessionValidator("secret")})
	tok := signedToken(t, "secret", "u1", "Alice", false)
	r := httptest.NewRequest("GET", "/ws?token="+tok, nil)

	ident, ok := h.authenticateUpgrade(r)
	if !ok {
		t.Fatal("expected a valid token to authenticate")
	}
	if ident.UserId != "u1" || ident.DisplayName != "Alice" {
		t.Fatalf("unexpected identity: %+v", ident)
	}
}

func TestAuthenticateUpgradeRejectsExpiredToken(t *testing.T) {
	h := New(Config{Validator: auth.NewSessionValidator("secret")})
	tok := signedToken(t, "secret", "u1", "Alice", true)
	r := httptest.NewRequest("GET", "/ws?token="+tok, nil)

	if _, ok := h.authenticateUpgrade(r); ok {
		t.Fatal("expected an expired token to be rejected")
	}
}

func TestAuthenticateUpgradeRejectsWrongSecret(t *testing.T) {
	h := New(Config{Validator: auth.NewSessionValidator("secret")})
	tok := signedToken(t, "wrong-secret", "u1", "Alice", false)
	r := httptest.NewRequest("GET", "/ws?token="+tok, nil)

	if _, ok := h.authenticateUpgrade(r); ok {
		t.Fatal("expected a token signed with the wrong secret to be rejected")
	}
}

func TestAuthenticateUpgradeFallsBackWhenNoToken(t *testing.T) {
	h := New(Config{Validator: auth.NewSessionValidator("secret")})
	r := httptest.NewRequest("GET", "/ws", nil)

	if _, ok := h.authenticateUpgrade(r); ok {
		t.Fatal("expected no token to report ok=false so the caller falls back to the guest handshake")
	}
}

func TestCredentialsForDistinguishesAbsentFromInvalid(t *testing.T) {
	h := New(Config{Validator: auth.NewSessionValidator("secret")})

	r := httptest.NewRequest("GET", "/ws", nil)
	if _, verdict := h.credentialsFor(r); verdict != credAbsent {
		t.Fatalf("expected a bare request to report absent credentials, got %v", verdict)
	}

	r = httptest.NewRequest("GET", "/ws?token="+signedToken(t, "wrong-secret", "u1", "Alice", false), nil)
	if _, verdict := h.credentialsFor(r); verdict != credInvalid {
		t.Fatalf("expected a badly-signed token to report invalid credentials, got %v", verdict)
	}

	r = httptest.NewRequest("GET", "/ws?token="+signedToken(t, "secret", "u1", "Alice", false), nil)
	ident, verdict := h.credentialsFor(r)
	if verdict != credOK {
		t.Fatalf("expected a valid token to authenticate, got %v", verdict)
	}
	if ident.UserId != "u1" {
		t.Fatalf("unexpected identity: %+v", ident)
	}
}

func TestAuthenticateFrameAcceptsWellFormedAuthenticate(t *testing.T) {
	f := &protocol.ClientFrame{Type: protocol.CFAuthenticate, Username: "Guesty"}
	ident, ok := authenticateFrame(f)
	if !ok {
		t.Fatal("expected a well-formed authenticate frame to succeed")
	}
	if want := auth.GuestIdentity("Guesty").DisplayName; ident.DisplayName != want {
		t.Fatalf("unexpected display name %q, want the generated guest name %q", ident.DisplayName, want)
	}
}

func TestAuthenticateFrameRejectsEmptyUsername(t *testing.T) {
	f := &protocol.ClientFrame{Type: protocol.CFAuthenticate, Username: ""}
	if _, ok := authenticateFrame(f); ok {
		t.Fatal("expected an empty username to be rejected")
	}
}

func TestAuthenticateFrameRejectsWrongType(t *testing.T) {
	f := &protocol.ClientFrame{Type: protocol.CFPing, Username: "Guesty"}
	if _, ok := authenticateFrame(f); ok {
		t.Fatal("expected a non-authenticate frame type to be rejected")
	}
}

func TestAuthenticateFrameIsDeterministicPerUsername(t *testing.T) {
	a, _ := authenticateFrame(&protocol.ClientFrame{Type: protocol.CFAuthenticate, Username: "Same"})
	b, _ := authenticateFrame(&protocol.ClientFrame{Type: protocol.CFAuthenticate, Username: "Same"})
	if a.UserId != b.UserId {
		t.Fatalf("expected the same username to resolve to the same guest identity, got %q and %q", a.UserId, b.UserId)
	}
}

func TestErrFrameUnwrapsRoomError(t *testing.T) {
	re := &room.Error{Kind: room.KindIllegalAction, Detail: "banned move"}
	frame := errFrame(re)
	if frame.Message != "banned move" {
		t.Fatalf("expected room.Error detail to surface verbatim, got %q", frame.Message)
	}
}

func TestErrFrameFallsBackToErrorString(t *testing.T) {
	frame := errFrame(errors.New("boom"))
	if frame.Message != "boom" {
		t.Fatalf("expected a plain error's message to surface, got %q", frame.Message)
	}
}

func TestStatsStartsEmpty(t *testing.T) {
	h := New(Config{Validator: auth.NewSessionValidator("secret"), Origins: middleware.NewOriginChecker(nil)})
	conns, games := h.Stats()
	if conns != 0 || games != 0 {
		t.Fatalf("expected a fresh Hub to report 0 connections and 0 games, got %d, %d", conns, games)
	}
}
