// Package store implements the State Store & Bus (C7): a hot per-game
// hash+history+events record, a FIFO matchmaking queue with a dedup set,
// TTL'd sessions, a TTL game-ownership lease, and a pub/sub bus for
// cross-process fan-out — all backed by MongoDB, in a collections-as-
// tables idiom (Change Streams as the bus, FindOneAndUpdate upserts as
// leases).
package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Active/finished TTLs per §4.7.
const (
	ActiveGameTTL   = 4 * time.Hour
	FinishedGameTTL = 24 * time.Hour
	SessionTTL      = 1 * time.Hour
	BusEventTTL     = 60 * time.Second
	LockTTL         = 10 * time.Second
)

// Store is the C7 collaborator: a thin handle over the collections this
// package's sibling files (game.go, queue.go, session.go, lock.go, bus.go)
// operate on.
type Store struct {
	client *mongo.Client
	db     *mongo.Database

	games          *mongo.Collection
	queue          *mongo.Collection
	sessions       *mongo.Collection
	cookieSessions *mongo.Collection
	locks          *mongo.Collection
	busEvents      *mongo.Collection

	bus *Bus
}

// AttachBus wires the Store to a Bus so SaveGame's sibling Publish method
// (the room.Store contract) can reach cross-process subscribers. Done as
// a second step because Bus itself is built from this Store's collection.
func (s *Store) AttachBus(b *Bus) { s.bus = b }

// Connect dials the hot store and verifies connectivity. Index creation
// runs in the background so it never blocks server startup.
func Connect(ctx context.Context, uri string) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(200).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(5 * time.Minute)
	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	database := client.Database(databaseNameFromURI(uri))
	s := &Store{
		client:         client,
		db:             database,
		games:          database.Collection("games"),
		queue:          database.Collection("queue"),
		sessions:       database.Collection("sessions"),
		cookieSessions: database.Collection("cookie_sessions"),
		locks:          database.Collection("locks"),
		busEvents:      database.Collection("bus_events"),
	}

	go s.ensureIndexes()
	return s, nil
}

// databaseNameFromURI extracts the path component of a mongodb URI,
// defaulting to "banchess" when the URI carries none (e.g. a bare
// "mongodb://localhost:27017").
func databaseNameFromURI(uri string) string {
	for i := len(uri) - 1; i >= 0; i-- {
		if uri[i] == '/' {
			if i > 0 && uri[i-1] == '/' {
				break // the scheme's "//": the URI has no path
			}
			name := uri[i+1:]
			if q := indexOfByte(name, '?'); q >= 0 {
				name = name[:q]
			}
			if name != "" {
				return name
			}
			break
		}
	}
	return "banchess"
}

func indexOfByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func (s *Store) ensureIndexes() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	type indexSet struct {
		collection *mongo.Collection
		models     []mongo.IndexModel
	}

	sets := []indexSet{
		{s.games, []mongo.IndexModel{
			{Keys: bson.D{{Key: "expiresAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
		}},
		{s.queue, []mongo.IndexModel{
			{Keys: bson.D{{Key: "userId", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "joinedAtMs", Value: 1}}},
		}},
		{s.sessions, []mongo.IndexModel{
			{Keys: bson.D{{Key: "expiresAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
		}},
		{s.cookieSessions, []mongo.IndexModel{
			{Keys: bson.D{{Key: "expiresAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
		}},
		{s.busEvents, []mongo.IndexModel{
			{Keys: bson.D{{Key: "createdAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(int32(BusEventTTL.Seconds()))},
		}},
	}

	for _, set := range sets {
		if _, err := set.collection.Indexes().CreateMany(ctx, set.models); err != nil {
			// Index creation failing is non-fatal — the store degrades to
			// unindexed scans/no TTL cleanup rather than refusing to serve.
			continue
		}
	}
}

// Close disconnects from the store, used on graceful shutdown.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// ErrNotFound is returned by lookups that find no document.
var ErrNotFound = fmt.Errorf("store: not found")
