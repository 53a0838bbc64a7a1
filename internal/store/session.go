package store

import (
	"context"
	"time"

	"github.com/banchess/server/internal/protocol"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SessionStatus mirrors §3's Session.status enum.
type SessionStatus string

const (
	SessionOnline SessionStatus = "online"
	SessionQueued SessionStatus = "queued"
	SessionInGame SessionStatus = "in_game"
)

// sessionDoc is the §3 Session record plus its TTL field.
type sessionDoc struct {
	UserId     protocol.UserId `bson:"_id"`
	Username   string          `bson:"username"`
	Status     SessionStatus   `bson:"status"`
	LastSeenMs int64           `bson:"lastSeenMs"`
	ExpiresAt  time.Time       `bson:"expiresAt"`
}

// TouchSession upserts a session record and refreshes its TTL. The Hub
// calls it when a connection registers; heartbeats and actions do not
// refresh the record.
func (s *Store) TouchSession(ctx context.Context, userId protocol.UserId, username string, status SessionStatus) error {
	doc := sessionDoc{
		UserId:     userId,
		Username:   username,
		Status:     status,
		LastSeenMs: time.Now().UnixMilli(),
		ExpiresAt:  time.Now().Add(SessionTTL),
	}
	_, err := s.sessions.ReplaceOne(ctx,
		bson.M{"_id": userId},
		doc,
		(&options.ReplaceOptions{}).SetUpsert(true),
	)
	return err
}

// DropSession removes a session immediately, e.g. on clean disconnect.
func (s *Store) DropSession(ctx context.Context, userId protocol.UserId) error {
	_, err := s.sessions.DeleteOne(ctx, bson.M{"_id": userId})
	return err
}

// cookieSessionDoc is a session record the external issuer writes, keyed
// by the opaque cookie value it hands the browser. This system only ever
// reads these at handshake time — it never creates one.
type cookieSessionDoc struct {
	Value     string          `bson:"_id"`
	UserId    protocol.UserId `bson:"userId"`
	Username  string          `bson:"username"`
	ExpiresAt time.Time       `bson:"expiresAt"`
}

// LookupCookieSession resolves a session-cookie value to the identity the
// external issuer bound it to, or ErrNotFound when the cookie is unknown
// or already TTL-expired.
func (s *Store) LookupCookieSession(ctx context.Context, value string) (protocol.Identity, error) {
	var doc cookieSessionDoc
	err := s.cookieSessions.FindOne(ctx, bson.M{"_id": value}).Decode(&doc)
	if err != nil {
		return protocol.Identity{}, ErrNotFound
	}
	if !doc.ExpiresAt.IsZero() && doc.ExpiresAt.Before(time.Now()) {
		return protocol.Identity{}, ErrNotFound
	}
	return protocol.Identity{UserId: doc.UserId, DisplayName: doc.Username}, nil
}
