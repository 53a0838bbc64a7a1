package protocol

import (
	"bytes"
	"encoding/json"
)

// FrameError is returned by DecodeClientFrame on malformed input; it always
// maps to the BadFrame error kind at the Hub boundary.
type FrameError struct {
	Reason string
}

func (e *FrameError) Error() string { return "protocol: bad frame: " + e.Reason }

// ClientFrameType enumerates the client->server tagged union (§6).
type ClientFrameType string

const (
	CFAuthenticate   ClientFrameType = "authenticate"
	CFJoinGame       ClientFrameType = "join-game"
	CFAction         ClientFrameType = "action"
	CFGiveTime       ClientFrameType = "give-time"
	CFResign         ClientFrameType = "resign"
	CFOfferDraw      ClientFrameType = "offer-draw"
	CFAcceptDraw     ClientFrameType = "accept-draw"
	CFDeclineDraw    ClientFrameType = "decline-draw"
	CFJoinQueue      ClientFrameType = "join-queue"
	CFLeaveQueue     ClientFrameType = "leave-queue"
	CFCreateSoloGame ClientFrameType = "create-solo-game"
	CFPing           ClientFrameType = "ping"
)

var validClientFrameTypes = map[ClientFrameType]bool{
	CFAuthenticate: true, CFJoinGame: true, CFAction: true, CFGiveTime: true,
	CFResign: true, CFOfferDraw: true, CFAcceptDraw: true, CFDeclineDraw: true,
	CFJoinQueue: true, CFLeaveQueue: true, CFCreateSoloGame: true, CFPing: true,
}

// ActionPayload is the "action" frame's nested move-or-ban field. Exactly
// one of Move/Ban must be set; a frame with both or neither is BadFrame.
type ActionPayload struct {
	Move *MoveSpec `json:"move,omitempty"`
	Ban  *BanSpec  `json:"ban,omitempty"`
}

type MoveSpec struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Promo string `json:"promo,omitempty"`
}

type BanSpec struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ToAction converts a decoded ActionPayload into an internal Action,
// failing closed if neither or both variants are present.
func (p ActionPayload) ToAction() (Action, error) {
	switch {
	case p.Move != nil && p.Ban == nil:
		return Action{Kind: KindMove, From: p.Move.From, To: p.Move.To, Promo: p.Move.Promo}, nil
	case p.Ban != nil && p.Move == nil:
		return Action{Kind: KindBan, From: p.Ban.From, To: p.Ban.To}, nil
	default:
		return Action{}, &FrameError{Reason: "action frame must set exactly one of move or ban"}
	}
}

// ClientFrame is the fully-decoded client->server envelope.
type ClientFrame struct {
	Type ClientFrameType

	// authenticate
	UserId   string
	Username string

	// join-game / action / give-time / resign / offer-draw / accept-draw / decline-draw
	GameId string
	Action *ActionPayload
	Amount *int

	// join-queue / create-solo-game
	TimeControl *TimeControl
}

type rawClientFrame struct {
	Type        ClientFrameType `json:"type"`
	UserId      string          `json:"userId"`
	Username    string          `json:"username"`
	GameId      string          `json:"gameId"`
	Action      json.RawMessage `json:"action"`
	Amount      *int            `json:"amount"`
	TimeControl *TimeControl    `json:"timeControl"`
}

// DecodeClientFrame strictly parses a client->server frame: unknown JSON,
// a missing/unknown discriminator, or a type-mismatched field all produce
// a FrameError (BadFrame), never a silently-defaulted frame.
func DecodeClientFrame(data []byte) (*ClientFrame, error) {
	var raw rawClientFrame
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, &FrameError{Reason: err.Error()}
	}
	if raw.Type == "" {
		return nil, &FrameError{Reason: "missing type discriminator"}
	}
	if !validClientFrameTypes[raw.Type] {
		return nil, &FrameError{Reason: "unknown frame type " + string(raw.Type)}
	}

	out := &ClientFrame{
		Type:        raw.Type,
		UserId:      raw.UserId,
		Username:    raw.Username,
		GameId:      raw.GameId,
		Amount:      raw.Amount,
		TimeControl: raw.TimeControl,
	}

	if raw.Type == CFAction {
		if len(raw.Action) == 0 {
			return nil, &FrameError{Reason: "action frame missing action payload"}
		}
		var payload ActionPayload
		if err := json.Unmarshal(raw.Action, &payload); err != nil {
			return nil, &FrameError{Reason: "malformed action payload: " + err.Error()}
		}
		out.Action = &payload
	}

	return out, nil
}

// ServerFrameType enumerates the server->client tagged union (§6).
type ServerFrameType string

const (
	SFAuthenticated ServerFrameType = "authenticated"
	SFState         ServerFrameType = "state"
	SFJoined        ServerFrameType = "joined"
	SFMatched       ServerFrameType = "matched"
	SFQueued        ServerFrameType = "queued"
	SFGameCreated   ServerFrameType = "game-created"
	SFClockUpdate   ServerFrameType = "clock-update"
	SFGameEvent     ServerFrameType = "game-event"
	SFGameEnded     ServerFrameType = "game-ended"
	SFTimeout       ServerFrameType = "timeout"
	SFError         ServerFrameType = "error"
	SFPong          ServerFrameType = "pong"
)

// Players names both seats for frames that describe a joined/matched game.
type Players struct {
	White UserId `json:"white,omitempty"`
	Black UserId `json:"black,omitempty"`
}

// StateFrame is the "state" server frame. It is reused for both full-state
// (on join/reconnect, carrying History/Events) and incremental (carrying
// only LastMove) emissions — Room decides which fields to populate.
type StateFrame struct {
	Type          ServerFrameType `json:"type"`
	GameId        GameId          `json:"gameId"`
	FEN           string          `json:"fen"`
	Players       Players         `json:"players"`
	NextAction    ActionKind      `json:"nextAction"`
	LegalActions  []string        `json:"legalActions"`
	InCheck       bool            `json:"inCheck"`
	History       []HistoryEntry  `json:"history,omitempty"`
	LastMove      *HistoryEntry   `json:"lastMove,omitempty"`
	ActionHistory []string        `json:"actionHistory"`
	SyncState     SyncState       `json:"syncState"`
	TimeControl   *TimeControl    `json:"timeControl,omitempty"`
	Clocks        *Clocks         `json:"clocks,omitempty"`
	StartTime     *int64          `json:"startTime,omitempty"`
	GameOver      bool            `json:"gameOver,omitempty"`
	Result        string          `json:"result,omitempty"`
	Events        []GameEvent     `json:"events,omitempty"`
}

type SyncState struct {
	FEN        string `json:"fen"`
	LastAction string `json:"lastAction,omitempty"`
	MoveNumber int    `json:"moveNumber"`
}

type JoinedFrame struct {
	Type        ServerFrameType `json:"type"`
	GameId      GameId          `json:"gameId"`
	Color       Color           `json:"color"`
	Players     Players         `json:"players"`
	TimeControl *TimeControl    `json:"timeControl,omitempty"`
}

type MatchedFrame struct {
	Type        ServerFrameType `json:"type"`
	GameId      GameId          `json:"gameId"`
	Color       Color           `json:"color"`
	Opponent    UserId          `json:"opponent"`
	TimeControl TimeControl     `json:"timeControl"`
}

type QueuedFrame struct {
	Type     ServerFrameType `json:"type"`
	Position int             `json:"position"`
}

type GameCreatedFrame struct {
	Type        ServerFrameType `json:"type"`
	GameId      GameId          `json:"gameId"`
	TimeControl *TimeControl    `json:"timeControl,omitempty"`
}

type ClockUpdateFrame struct {
	Type   ServerFrameType `json:"type"`
	GameId GameId          `json:"gameId"`
	Clocks Clocks          `json:"clocks"`
}

type GameEventFrame struct {
	Type   ServerFrameType `json:"type"`
	GameId GameId          `json:"gameId"`
	Event  GameEvent       `json:"event"`
}

type GameEndedFrame struct {
	Type   ServerFrameType `json:"type"`
	GameId GameId          `json:"gameId"`
	Result string          `json:"result"`
	Reason string          `json:"reason"`
}

type TimeoutFrame struct {
	Type   ServerFrameType `json:"type"`
	GameId GameId          `json:"gameId"`
	Winner Color           `json:"winner"`
}

type ErrorFrame struct {
	Type    ServerFrameType `json:"type"`
	Message string          `json:"message"`
}

type PongFrame struct {
	Type ServerFrameType `json:"type"`
}

type AuthenticatedFrame struct {
	Type     ServerFrameType `json:"type"`
	UserId   UserId          `json:"userId"`
	Username string          `json:"username"`
}
