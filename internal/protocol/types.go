// Package protocol defines the wire schema shared between the game server
// and clients: tagged-union JSON frames, FEN-plus-ban-field decomposition,
// Ban-Chess Notation, and the append-only history/event shapes a Game Room
// accumulates.
package protocol

import "time"

// Color is a player seat.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Opponent returns the other seat.
func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

// ActionKind distinguishes a ban from a move half-action.
type ActionKind string

const (
	KindMove ActionKind = "move"
	KindBan  ActionKind = "ban"
)

// UserId, GameId and ConnectionId are opaque string identifiers. UserId is a
// UUID (random for registered users, deterministic UUIDv5 for guests —
// see internal/auth). GameId is a UUID minted by the matchmaker or the
// solo-game handler. ConnectionId is ephemeral, scoped to one hub process.
type UserId string
type GameId string
type ConnectionId string

// Identity is the fully-formed claim set a connection arrives with. Nothing
// in this repository mints one — it is handed to the Hub by an external
// session issuer at handshake time.
type Identity struct {
	UserId      UserId `json:"userId"`
	DisplayName string `json:"username"`
	IsGuest     bool   `json:"isGuest,omitempty"`
	Provider    string `json:"provider,omitempty"`
}

// GameStatus is the one-way state machine a Game moves through.
type GameStatus string

const (
	StatusCreated  GameStatus = "created"
	StatusActive   GameStatus = "active"
	StatusTerminal GameStatus = "terminal"
	StatusArchived GameStatus = "archived"
)

// TerminalKind names how a game ended.
type TerminalKind string

const (
	TerminalCheckmate    TerminalKind = "checkmate"
	TerminalStalemate    TerminalKind = "stalemate"
	TerminalInsufficient TerminalKind = "insufficient"
	TerminalFifty        TerminalKind = "fifty"
	TerminalRepetition   TerminalKind = "repetition"
	TerminalResignation  TerminalKind = "resignation"
	TerminalTimeout      TerminalKind = "timeout"
	TerminalDraw         TerminalKind = "draw"
	TerminalAborted      TerminalKind = "aborted"
)

// HistoryEntry is one accepted half-action, append-only.
type HistoryEntry struct {
	TurnNumber  int        `json:"turnNumber" bson:"turnNumber"`
	Player      Color      `json:"player" bson:"player"`
	Kind        ActionKind `json:"kind" bson:"kind"`
	Action      string     `json:"action" bson:"action"` // BCN
	SAN         string     `json:"san,omitempty" bson:"san,omitempty"`
	FENAfter    string     `json:"fenAfter" bson:"fenAfter"`
	TimestampMs int64      `json:"timestamp" bson:"timestamp"`
}

// GameEventType enumerates the append-only event log entries (§3).
type GameEventType string

const (
	EventTimeGiven    GameEventType = "time-given"
	EventGameStarted  GameEventType = "game-started"
	EventTimeout      GameEventType = "timeout"
	EventCheckmate    GameEventType = "checkmate"
	EventStalemate    GameEventType = "stalemate"
	EventDraw         GameEventType = "draw"
	EventResignation  GameEventType = "resignation"
	EventPlayerJoined GameEventType = "player-joined"
	EventMoveMade     GameEventType = "move-made"
	EventBanMade      GameEventType = "ban-made"
	EventAborted      GameEventType = "aborted"
)

// GameEvent is an append-only, human-readable record of something that
// happened in a game, distinct from the replay-equivalence-critical
// HistoryEntry log.
type GameEvent struct {
	TimestampMs int64             `json:"timestampMs" bson:"timestampMs"`
	Type        GameEventType     `json:"type" bson:"type"`
	Message     string            `json:"message" bson:"message"`
	Player      Color             `json:"player,omitempty" bson:"player,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// PlayerClock is a single seat's clock snapshot. Invariant I5: the true
// remaining time is RemainingMs - (now - LastUpdateWallMs) while running,
// else RemainingMs exactly — internal/clock is the only thing permitted to
// mutate these.
type PlayerClock struct {
	RemainingMs      int64 `json:"remainingMs" bson:"remainingMs"`
	LastUpdateWallMs int64 `json:"lastUpdateWallMs" bson:"lastUpdateWallMs"`
}

// Clocks bundles both seats.
type Clocks struct {
	White PlayerClock `json:"white" bson:"white"`
	Black PlayerClock `json:"black" bson:"black"`
}

// Game is the full in-memory record a Room owns exclusively. FEN is
// canonical; ActionHistory/Events are append-only logs kept in lock-step.
type Game struct {
	GameId         GameId         `json:"gameId" bson:"_id"`
	WhiteId        UserId         `json:"whiteId,omitempty" bson:"whiteId,omitempty"`
	BlackId        UserId         `json:"blackId,omitempty" bson:"blackId,omitempty"`
	FEN            string         `json:"fen" bson:"fen"`
	StartTime      time.Time      `json:"startTime" bson:"startTime"`
	LastActionTime time.Time      `json:"lastActionTime" bson:"lastActionTime"`
	ActionHistory  []string       `json:"actionHistory" bson:"actionHistory"` // BCN
	History        []HistoryEntry `json:"history" bson:"history"`
	Events         []GameEvent    `json:"events" bson:"events"`
	Clocks         *Clocks        `json:"clocks,omitempty" bson:"clocks,omitempty"`
	TimeControl    *TimeControl   `json:"timeControl,omitempty" bson:"timeControl,omitempty"`
	IsSolo         bool           `json:"isSolo" bson:"isSolo"`
	Over           bool           `json:"over" bson:"over"`
	Result         string         `json:"result,omitempty" bson:"result,omitempty"`
	MoveCount      int            `json:"moveCount" bson:"moveCount"`
	Status         GameStatus     `json:"status" bson:"status"`
}

// SeatOf returns the color userId occupies, or "" if they're not a player.
// In solo games both seats map to the same id, so the player gets an
// empty color with ok=true — callers that need the actor-derived color
// must consult FEN, never this helper.
func (g *Game) SeatOf(u UserId) (Color, bool) {
	if g.IsSolo {
		if u == g.WhiteId {
			return "", true // ambiguous on purpose: caller must use FEN-derived actor
		}
		return "", false
	}
	if u != "" && u == g.WhiteId {
		return White, true
	}
	if u != "" && u == g.BlackId {
		return Black, true
	}
	return "", false
}
