package store

import (
	"context"
	"os"
	"time"

	"github.com/banchess/server/internal/protocol"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// AcquireGameLock takes the cross-process ownership lease for a game
// (§4.4: a Room may only run on the process that holds the game's lock),
// via a FindOneAndUpdate-upsert-with-expiry idiom. holderID should be
// stable for the life of the process (a hostname or PID-derived string).
func (s *Store) AcquireGameLock(ctx context.Context, id protocol.GameId, holderID string) (bool, error) {
	now := time.Now()
	expiry := now.Add(LockTTL)

	filter := bson.M{
		"_id": lockID(id),
		"$or": []bson.M{
			{"expiresAt": bson.M{"$exists": false}},
			{"expiresAt": bson.M{"$lt": now}},
			{"holder": holderID},
		},
	}
	update := bson.M{
		"$set": bson.M{
			"expiresAt": expiry,
			"holder":    holderID,
			"renewedAt": now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true)
	err := s.locks.FindOneAndUpdate(ctx, filter, update, opts).Err()
	if err != nil {
		return false, nil // someone else holds it, or transient contention — not a hard error
	}
	return true, nil
}

// RenewGameLock extends a held lease. The Hub calls it on a fixed timer
// (every leaseRenewInterval, 3s) while a Room runs, not per processed
// action; a failed renewal is not acted on.
func (s *Store) RenewGameLock(ctx context.Context, id protocol.GameId, holderID string) (bool, error) {
	return s.AcquireGameLock(ctx, id, holderID)
}

// ReleaseGameLock drops a held lease immediately, e.g. when a Room exits
// after a terminal game, freeing the id for a future rematch.
func (s *Store) ReleaseGameLock(ctx context.Context, id protocol.GameId, holderID string) error {
	_, err := s.locks.DeleteOne(ctx, bson.M{"_id": lockID(id), "holder": holderID})
	return err
}

func lockID(id protocol.GameId) string {
	return "game:" + string(id) + ":lock"
}

// ProcessHolderID derives a stable per-process lease identity from the
// hostname plus PID, so two processes on the same host never collide.
func ProcessHolderID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return host + ":" + itoa(os.Getpid())
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
