package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/banchess/server/internal/protocol"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// GameChannel builds the bus channel name for a game's frame fan-out.
func GameChannel(id protocol.GameId) string { return "game:" + string(id) }

// QueueChannel is the bus channel matchmaking position updates travel on.
const QueueChannel = "queue"

// Publish satisfies room.Store: it marshals frame and publishes it on the
// game's channel. A nil bus (store built without AttachBus, e.g. in a
// single-process dev run) makes this a no-op rather than an error.
func (s *Store) Publish(ctx context.Context, gameId protocol.GameId, frame any) error {
	if s.bus == nil {
		return nil
	}
	return s.bus.PublishJSON(ctx, GameChannel(gameId), frame)
}

// busEventDoc is the document stored in bus_events. Channel is an opaque
// routing key — "game:<id>" for per-game frame fan-out, "queue" for
// matchmaking queue-position updates.
type busEventDoc struct {
	OriginMachineID string    `bson:"originMachineId"`
	Channel         string    `bson:"channel"`
	Payload         []byte    `bson:"payload"`
	CreatedAt       time.Time `bson:"createdAt"`
}

// Bus is the cross-process pub/sub, the event-bus counterpart to the
// hot store: local publishes fan out in-process immediately (the caller's
// own Room.broadcast already does that); Bus only needs to carry a frame
// to OTHER machines, via a Change Stream watch over bus_events.
type Bus struct {
	machineID  string
	collection *mongo.Collection
	log        *slog.Logger

	mu   sync.RWMutex
	subs map[string][]chan []byte
}

// NewBus constructs a Bus over the store's bus_events collection.
func NewBus(s *Store, log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		machineID:  generateMachineID(),
		collection: s.busEvents,
		log:        log.With("component", "bus"),
		subs:       make(map[string][]chan []byte),
	}
}

func generateMachineID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// Start launches the reconnecting Change Stream watch loop.
func (b *Bus) Start(ctx context.Context) {
	go b.watchLoop(ctx)
}

// Publish inserts a payload tagged with channel. Remote Bus instances
// watching bus_events will dispatch it to their local subscribers;
// callers are expected to have already delivered it to in-process
// subscribers themselves.
func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	doc := busEventDoc{
		OriginMachineID: b.machineID,
		Channel:         channel,
		Payload:         payload,
		CreatedAt:       time.Now(),
	}
	_, err := b.collection.InsertOne(ctx, doc)
	return err
}

// PublishJSON marshals v and publishes it.
func (b *Bus) PublishJSON(ctx context.Context, channel string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Publish(ctx, channel, payload)
}

// Subscribe registers a local channel for remote-origin payloads on
// channel. The returned func unregisters it. The watch loop delivers
// without blocking: a payload that arrives while the channel's 32-slot
// buffer is full is dropped.
func (b *Bus) Subscribe(channel string) (<-chan []byte, func()) {
	ch := make(chan []byte, 32)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[channel]
		for i, c := range list {
			if c == ch {
				b.subs[channel] = append(list[:i], list[i+1:]...)
				close(ch)
				break
			}
		}
		if len(b.subs[channel]) == 0 {
			delete(b.subs, channel)
		}
	}
	return ch, unsubscribe
}

func (b *Bus) dispatch(channel string, payload []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
			b.log.Warn("subscriber channel full, dropping bus event", "channel", channel)
		}
	}
}

func (b *Bus) watchLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		err := b.watch(ctx)
		if ctx.Err() != nil {
			return
		}
		b.log.Warn("change stream error, reconnecting", "err", err)
		time.Sleep(2 * time.Second)
	}
}

func (b *Bus) watch(ctx context.Context) error {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "operationType", Value: "insert"}}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	cs, err := b.collection.Watch(ctx, pipeline, opts)
	if err != nil {
		return err
	}
	defer cs.Close(ctx)

	for cs.Next(ctx) {
		var change struct {
			FullDocument busEventDoc `bson:"fullDocument"`
		}
		if err := cs.Decode(&change); err != nil {
			b.log.Warn("failed to decode change event", "err", err)
			continue
		}
		event := change.FullDocument
		if event.OriginMachineID == b.machineID {
			continue
		}
		b.dispatch(event.Channel, event.Payload)
	}
	return cs.Err()
}
