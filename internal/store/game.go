package store

import (
	"context"
	"errors"
	"time"

	"github.com/banchess/server/internal/protocol"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// gameDoc wraps protocol.Game with the TTL field the hot store needs. It
// embeds the wire type directly — the document IS the hash-plus-lists the
// Room already maintains in memory, so persisting it is a single atomic
// replace rather than a pipelined hash-set-plus-list-push like a
// Redis-flavored store would need.
type gameDoc struct {
	protocol.Game `bson:",inline"`
	ExpiresAt     time.Time `bson:"expiresAt"`
}

// SaveGame upserts the full game document, satisfying room.Store. A single
// MongoDB document write is atomic, which is what gives the hash/history
// atomicity §4.7 asks for — there's no separate history collection to fall
// out of sync with it.
func (s *Store) SaveGame(ctx context.Context, g *protocol.Game) error {
	ttl := ActiveGameTTL
	if g.Over {
		ttl = FinishedGameTTL
	}
	doc := gameDoc{Game: *g, ExpiresAt: time.Now().Add(ttl)}

	_, err := s.games.ReplaceOne(ctx,
		bson.M{"_id": g.GameId},
		doc,
		(&options.ReplaceOptions{}).SetUpsert(true),
	)
	return err
}

// LoadGame fetches a game by id, used to rebuild a Room after a process
// restart or to serve a reconnecting client whose Room isn't resident on
// this machine.
func (s *Store) LoadGame(ctx context.Context, id protocol.GameId) (*protocol.Game, error) {
	var doc gameDoc
	err := s.games.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc.Game, nil
}
