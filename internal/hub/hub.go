// Package hub implements the Session Hub (C5): the connection registry
// that authenticates inbound WebSocket connections, dedupes sessions per
// user with last-writer-wins takeover, routes frames to Game Rooms and
// the matchmaker, and fans out bus events to local connections. Built on
// a Hub/Client register/unregister-channel shape with a readPump/
// writePump split per connection, generalized from per-session-id
// spectator fan-out to per-user single-seat routing.
package hub

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/banchess/server/internal/auth"
	"github.com/banchess/server/internal/matchmaking"
	"github.com/banchess/server/internal/middleware"
	"github.com/banchess/server/internal/protocol"
	"github.com/banchess/server/internal/room"
	"github.com/banchess/server/internal/store"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hub is the C5 collaborator.
type Hub struct {
	store     *store.Store
	bus       *store.Bus
	validator *auth.SessionValidator
	origins   *middleware.OriginChecker
	arch      room.Archiver
	queue     *matchmaking.Queue
	holderID  string
	log       *slog.Logger

	mu          sync.RWMutex
	clients     map[protocol.UserId]*Client
	rooms       map[protocol.GameId]*room.Room
	userToGame  map[protocol.UserId]protocol.GameId
	busUnsub    map[protocol.GameId]func()
	busSubCount map[protocol.GameId]int
}

// Config bundles the Hub's external collaborators.
type Config struct {
	Store     *store.Store
	Bus       *store.Bus
	Validator *auth.SessionValidator
	Origins   *middleware.OriginChecker
	Archiver  room.Archiver
	Log       *slog.Logger
}

// New constructs a Hub. Call SetQueue once the matchmaking.Queue (which
// itself depends on this Hub as a RoomRegistry/Notifier) is built.
func New(cfg Config) *Hub {
	logger := cfg.Log
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		store:       cfg.Store,
		bus:         cfg.Bus,
		validator:   cfg.Validator,
		origins:     cfg.Origins,
		arch:        cfg.Archiver,
		holderID:    store.ProcessHolderID(),
		log:         logger.With("component", "hub"),
		clients:     make(map[protocol.UserId]*Client),
		rooms:       make(map[protocol.GameId]*room.Room),
		userToGame:  make(map[protocol.UserId]protocol.GameId),
		busUnsub:    make(map[protocol.GameId]func()),
		busSubCount: make(map[protocol.GameId]int),
	}
}

// SetQueue wires the matchmaking queue in after construction, breaking
// the Hub<->Queue initialization cycle.
func (h *Hub) SetQueue(q *matchmaking.Queue) { h.queue = q }

// Start launches the Hub's background concerns: the bus's own Change
// Stream watcher and this Hub's queue-channel relay.
func (h *Hub) Start(ctx context.Context) {
	h.bus.Start(ctx)
	h.watchQueueChannel(ctx)
}

// ServeWS is the http.HandlerFunc for the WebSocket upgrade endpoint.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !h.origins.Allowed(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ident, verdict := h.credentialsFor(r)
	if verdict == credInvalid {
		http.Error(w, "invalid session credentials", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", "err", err)
		return
	}

	if verdict == credAbsent {
		var ok bool
		ident, ok = h.awaitGuestHandshake(conn)
		if !ok {
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication required"))
			conn.Close()
			return
		}
	}

	client := newClient(h, conn, ident)
	h.register(client)

	go client.writePump()
	client.deliver(protocol.AuthenticatedFrame{Type: protocol.SFAuthenticated, UserId: ident.UserId, Username: ident.DisplayName})
	h.restoreSession(client)
	client.readPump()
}

// awaitGuestHandshake blocks for one incoming frame and accepts it only
// if it is a well-formed "authenticate" frame, used when the upgrade
// carried no session token.
func (h *Hub) awaitGuestHandshake(conn *websocket.Conn) (protocol.Identity, bool) {
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, data, err := conn.ReadMessage()
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		return protocol.Identity{}, false
	}
	frame, err := protocol.DecodeClientFrame(data)
	if err != nil {
		return protocol.Identity{}, false
	}
	return authenticateFrame(frame)
}

// register installs client as the live connection for its user, evicting
// and closing any prior connection for the same user (§4.5 last-writer-
// wins takeover).
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	old, existed := h.clients[c.userId]
	h.clients[c.userId] = c
	h.mu.Unlock()

	if existed && old != c {
		old.closeWithReason(websocket.CloseNormalClosure, "session takeover")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	h.store.TouchSession(ctx, c.userId, c.ident.DisplayName, store.SessionOnline)
}

func (h *Hub) onDisconnect(c *Client) {
	h.mu.Lock()
	if current, ok := h.clients[c.userId]; ok && current == c {
		delete(h.clients, c.userId)
	}
	gameId := c.gameId
	h.mu.Unlock()

	if gameId != "" {
		h.unsubscribeGame(gameId, c.userId)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	h.store.DropSession(ctx, c.userId)
	if h.queue != nil {
		h.queue.Dequeue(ctx, c.userId)
	}
}

// restoreSession re-attaches a reconnecting client to its live game, if
// the Hub knows of one, per §4.5 reconnect restore.
func (h *Hub) restoreSession(c *Client) {
	h.mu.RLock()
	gameId, ok := h.userToGame[c.userId]
	h.mu.RUnlock()
	if !ok {
		return
	}
	h.attachToRoom(c, gameId)
}

// CloseAll sends every live connection a normal-closure frame with the
// given reason, used on graceful shutdown so clients see a clean
// close(1000) instead of a dropped socket.
func (h *Hub) CloseAll(reason string) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.closeWithReason(websocket.CloseNormalClosure, reason)
	}
}

// Stats reports the counts the /health endpoint exposes (§6): connections
// live on this process and games resident (owned) by this process.
func (h *Hub) Stats() (connections, activeGames int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients), len(h.rooms)
}
