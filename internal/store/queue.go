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

// QueueEntry is one waiting player (§3: QueueEntry, I6 dedup).
type QueueEntry struct {
	UserId      protocol.UserId       `bson:"userId"`
	Username    string                `bson:"username"`
	TimeControl *protocol.TimeControl `bson:"timeControl,omitempty"`
	JoinedAtMs  int64                 `bson:"joinedAtMs"`
}

// EnqueuePlayer inserts a queue entry, relying on the unique index on
// userId as the dedup set (§4.7's "list plus dedup set" collapses to one
// collection with a uniqueness constraint under Mongo, rather than a
// separate list+set pair). Re-enqueueing an already-queued user is
// idempotent: the duplicate-key error is swallowed and their existing
// position is simply unchanged.
func (s *Store) EnqueuePlayer(ctx context.Context, e QueueEntry) error {
	_, err := s.queue.InsertOne(ctx, e)
	if isDuplicateKeyError(err) {
		return nil
	}
	return err
}

// DequeuePlayer removes a user's queue entry, e.g. on disconnect or
// cancellation. Returns (false, nil) if the user wasn't queued.
func (s *Store) DequeuePlayer(ctx context.Context, userId protocol.UserId) (bool, error) {
	res, err := s.queue.DeleteOne(ctx, bson.M{"userId": userId})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

// QueuePosition returns a user's 1-based FIFO position, or 0 if not
// queued.
func (s *Store) QueuePosition(ctx context.Context, userId protocol.UserId) (int, error) {
	entries, err := s.ListQueue(ctx)
	if err != nil {
		return 0, err
	}
	for i, e := range entries {
		if e.UserId == userId {
			return i + 1, nil
		}
	}
	return 0, nil
}

// ListQueue returns all queue entries in FIFO order.
func (s *Store) ListQueue(ctx context.Context) ([]QueueEntry, error) {
	cursor, err := s.queue.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "joinedAtMs", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var entries []QueueEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// PopPair removes the two longest-waiting queue entries, returning them
// in FIFO order (head first). With fewer than two entries queued it pops
// nothing, so this only ever returns a full pair or nothing: if another
// process removes one of the pair first, the entry this call had already
// removed is pushed back ("left-push the singleton back" per §4.6).
func (s *Store) PopPair(ctx context.Context) (*QueueEntry, *QueueEntry, error) {
	entries, err := s.ListQueue(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(entries) < 2 {
		return nil, nil, nil
	}
	first, second := entries[0], entries[1]

	res, err := s.queue.DeleteOne(ctx, bson.M{"userId": first.UserId})
	if err != nil {
		return nil, nil, err
	}
	if res.DeletedCount == 0 {
		// Another process popped the head first; nothing was taken here.
		return nil, nil, nil
	}
	res, err = s.queue.DeleteOne(ctx, bson.M{"userId": second.UserId})
	if err != nil || res.DeletedCount == 0 {
		// Another process took second first: push first back with its
		// original joinedAtMs so it keeps its place at the head.
		s.EnqueuePlayer(ctx, first)
		return nil, nil, err
	}
	return &first, &second, nil
}

func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Code == 11000 {
		return true
	}
	return false
}

// nowMs is a tiny helper so callers don't import time just for this.
func nowMs() int64 { return time.Now().UnixMilli() }
