package hub

import (
	"context"
	"net/http"
	"time"

	"github.com/banchess/server/internal/auth"
	"github.com/banchess/server/internal/protocol"
)

// sessionCookieName is the cookie the external session issuer sets; its
// value is an opaque key looked up in the hot store's cookie_sessions
// collection (§6 handshake, credential path (a)).
const sessionCookieName = "session"

// credVerdict distinguishes "no credentials at all" (fall back to the
// legacy guest handshake) from "credentials present but invalid" (refuse
// the upgrade with 401).
type credVerdict int

const (
	credAbsent credVerdict = iota
	credOK
	credInvalid
)

// credentialsFor extracts an Identity from the upgrade request: a signed
// session JWT in the "token" query parameter, or a session cookie whose
// value resolves in the session store. It never mints credentials itself
// — both forms are produced by the external session issuer (§1).
func (h *Hub) credentialsFor(r *http.Request) (protocol.Identity, credVerdict) {
	if token := r.URL.Query().Get("token"); token != "" {
		ident, ok := h.authenticateUpgrade(r)
		if !ok {
			return protocol.Identity{}, credInvalid
		}
		return ident, credOK
	}

	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		if h.store == nil {
			return protocol.Identity{}, credInvalid
		}
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		ident, err := h.store.LookupCookieSession(ctx, cookie.Value)
		if err != nil {
			return protocol.Identity{}, credInvalid
		}
		return ident, credOK
	}

	return protocol.Identity{}, credAbsent
}

// authenticateUpgrade validates the upgrade request's "token" query
// parameter (a signed session JWT from the external issuer, §1/§4.5), or
// returns ok=false when it is missing or fails verification.
func (h *Hub) authenticateUpgrade(r *http.Request) (protocol.Identity, bool) {
	token := r.URL.Query().Get("token")
	if token == "" {
		return protocol.Identity{}, false
	}
	claims, err := h.validator.Validate(token)
	if err != nil {
		return protocol.Identity{}, false
	}
	return protocol.Identity{
		UserId:      protocol.UserId(claims.UserID),
		DisplayName: claims.DisplayName,
	}, true
}

// authenticateFrame turns a client's "authenticate" frame into a guest
// Identity. Used when the upgrade request carried no credentials at all.
func authenticateFrame(f *protocol.ClientFrame) (protocol.Identity, bool) {
	if f.Type != protocol.CFAuthenticate || f.Username == "" {
		return protocol.Identity{}, false
	}
	return auth.GuestIdentity(f.Username), true
}
