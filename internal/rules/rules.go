// Package rules adapts github.com/notnil/chess into the ban-chess action
// model. The wrapped library has no notion of a ban: it only ever sees
// real moves. A ban is pure adapter-level bookkeeping recorded in the 7th
// FEN field and enforced by excluding the banned UCI from the legal-move
// list handed back for the following move.
package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/notnil/chess"

	"github.com/banchess/server/internal/protocol"
)

// Sentinel errors. IllegalAction wraps ErrIllegalAction with a reason.
var (
	ErrInvalidPosition = errors.New("rules: invalid position")
	ErrReplay          = errors.New("rules: replay failed")
	ErrIllegalAction   = errors.New("rules: illegal action")
)

// IllegalActionError carries the human-readable reason a half-action was
// rejected (wrong turn, not in legal list, banned move played, ...).
type IllegalActionError struct {
	Reason string
}

func (e *IllegalActionError) Error() string {
	return fmt.Sprintf("rules: illegal action: %s", e.Reason)
}
func (e *IllegalActionError) Unwrap() error { return ErrIllegalAction }

// Position is the adapter's view of a game: the standard chess position
// plus the ban-chess-specific 7th field, kept in lock-step with an
// underlying *chess.Game that only ever records real moves.
type Position struct {
	fen string
	ban protocol.BanField
	cg  *chess.Game
}

// Terminal describes why a position is game-over, if it is.
type Terminal struct {
	Kind  protocol.TerminalKind
	Loser protocol.Color // empty for draws/stalemate
}

// ApplyResult is what Apply returns on success.
type ApplyResult struct {
	SAN      string
	FENAfter string
	Terminal *Terminal
}

// FromFEN parses an extended (7-field) FEN into a Position.
func FromFEN(fen string) (*Position, error) {
	d, err := protocol.Decompose(fen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPosition, err)
	}

	standardFEN := standardSixFields(fen)
	fenOpt, err := chess.FEN(standardFEN)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPosition, err)
	}
	cg := chess.NewGame(fenOpt, chess.UseNotation(chess.UCINotation{}))

	return &Position{fen: fen, ban: d.Ban, cg: cg}, nil
}

// standardSixFields strips the 7th ban field so the underlying library,
// which only understands standard FEN, can parse the rest.
func standardSixFields(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) < 6 {
		return fen
	}
	return strings.Join(fields[:6], " ")
}

// Replay reconstructs a Position by applying a BCN history from the
// initial ban-chess position in order, reporting the first index that
// fails to apply.
func Replay(history []string) (*Position, error) {
	actions, err := protocol.DecodeHistory(history)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReplay, err)
	}

	pos, err := FromFEN(protocol.InitialBanChessFEN)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReplay, err)
	}

	for i, a := range actions {
		res, err := pos.Apply(a)
		if err != nil {
			return nil, fmt.Errorf("%w at index %d: %v", ErrReplay, i, err)
		}
		pos, err = FromFEN(res.FENAfter)
		if err != nil {
			return nil, fmt.Errorf("%w at index %d: %v", ErrReplay, i, err)
		}
	}
	return pos, nil
}

// FEN returns the current extended FEN.
func (p *Position) FEN() string { return p.fen }

// SideToMove is whoever the standard FEN side-to-move field names —
// the eventual mover, whether or not a ban is still pending.
func (p *Position) SideToMove() protocol.Color {
	d, _ := protocol.Decompose(p.fen)
	return d.SideToMove
}

// NextKind reports whether the next half-action must be a ban or a move.
func (p *Position) NextKind() protocol.ActionKind { return p.ban.NextKind() }

// BanField exposes the 7th-field bookkeeping directly, so callers that need
// to know who owes the next ban don't have to re-decompose the FEN string.
func (p *Position) BanField() protocol.BanField { return p.ban }

// InCheck reports whether the side to move is in check.
func (p *Position) InCheck() bool {
	return p.cg.Position().InCheck()
}

// legalMoveUCIs enumerates the underlying library's legal moves for the
// side to move, encoded as UCI, excluding any move currently banned.
func (p *Position) legalMoveUCIs() []string {
	moves := p.cg.ValidMoves()
	out := make([]string, 0, len(moves))
	for _, m := range moves {
		uci := chess.UCINotation{}.Encode(p.cg.Position(), m)
		if !p.ban.Pending && p.ban.BannedUCI == uci {
			continue
		}
		out = append(out, uci)
	}
	return out
}

// LegalActions returns the list of legal half-actions for the current
// position: legal moves (minus any banned one) when NextKind is move,
// or the same list reframed as ban candidates when NextKind is ban — a
// ban names one of the mover's otherwise-legal moves to forbid.
func (p *Position) LegalActions() (protocol.ActionKind, []string) {
	return p.NextKind(), p.legalMoveUCIs()
}

// legalMoveUCIsIgnoringBan is used for the pre-ban terminal check and for
// ban-legality checks: at those points the candidate pool is the mover's
// full legal-move list, not the already-banned-filtered one used for
// actually playing a move.
func (p *Position) legalMoveUCIsIgnoringBan() []string {
	moves := p.cg.ValidMoves()
	out := make([]string, 0, len(moves))
	for _, m := range moves {
		out = append(out, chess.UCINotation{}.Encode(p.cg.Position(), m))
	}
	return out
}

// Terminal is the authoritative, anytime terminal check for a position:
// safe to call on a freshly-replayed, reconnected, or just-mutated
// position alike. It covers both the underlying library's own terminal
// detection (checkmate/stalemate/draws reached exactly on a move) and the
// ban-chess-specific immediate-checkmate-during-ban rule (P9), which the
// library has no way to know about on its own.
func (p *Position) Terminal() *Terminal {
	if t := outcomeTerminal(p.cg); t != nil {
		return t
	}
	if p.ban.NextKind() != protocol.KindBan {
		return nil
	}
	// A lone legal move is as good as none once a ban is owed: the
	// opponent must name a legal move, and with only one available they
	// are forced to name it. So both branches fire on <= 1, declared
	// here before any ban is submitted.
	legal := p.legalMoveUCIsIgnoringBan()
	mover := p.SideToMove()
	if p.InCheck() && len(legal) <= 1 {
		return &Terminal{Kind: protocol.TerminalCheckmate, Loser: mover}
	}
	if !p.InCheck() && len(legal) <= 1 {
		return &Terminal{Kind: protocol.TerminalStalemate}
	}
	return nil
}

// Apply applies one half-action and returns the resulting SAN (moves
// only), new FEN, and terminal status if the game just ended.
func (p *Position) Apply(a protocol.Action) (*ApplyResult, error) {
	switch a.Kind {
	case protocol.KindBan:
		return p.applyBan(a)
	case protocol.KindMove:
		return p.applyMove(a)
	default:
		return nil, &IllegalActionError{Reason: "unknown action kind"}
	}
}

func (p *Position) applyBan(a protocol.Action) (*ApplyResult, error) {
	if !p.ban.Pending {
		return nil, &IllegalActionError{Reason: "no ban is pending"}
	}
	uci := a.UCI()
	found := false
	for _, m := range p.legalMoveUCIsIgnoringBan() {
		if m == uci {
			found = true
			break
		}
	}
	if !found {
		return nil, &IllegalActionError{Reason: "banned move is not a legal move"}
	}

	d, _ := protocol.Decompose(p.fen)
	d.Ban = protocol.BanField{Color: d.Ban.Color, Pending: false, BannedUCI: uci}
	newFEN := protocol.Recompose(d)

	resultPos := &Position{fen: newFEN, ban: d.Ban, cg: p.cg}
	return &ApplyResult{FENAfter: newFEN, Terminal: resultPos.Terminal()}, nil
}

func (p *Position) applyMove(a protocol.Action) (*ApplyResult, error) {
	if p.ban.Pending {
		return nil, &IllegalActionError{Reason: "a ban must be issued before this move"}
	}
	uci := a.UCI()
	if uci == p.ban.BannedUCI {
		return nil, &IllegalActionError{Reason: "banned"}
	}

	legal := false
	for _, m := range p.legalMoveUCIs() {
		if m == uci {
			legal = true
			break
		}
	}
	if !legal {
		return nil, &IllegalActionError{Reason: "not a legal move"}
	}

	standardFEN := standardSixFields(p.fen)
	fenOpt, err := chess.FEN(standardFEN)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPosition, err)
	}
	newCG := chess.NewGame(fenOpt, chess.UseNotation(chess.UCINotation{}))
	if err := newCG.MoveStr(uci); err != nil {
		return nil, &IllegalActionError{Reason: "move rejected by rules engine: " + err.Error()}
	}

	moves := newCG.Moves()
	san := ""
	if len(moves) > 0 {
		san = chess.AlgebraicNotation{}.Encode(p.cg.Position(), moves[len(moves)-1])
	}

	newPos := newCG.Position()
	// The player who just moved is the one who owes the next ban — they
	// now forbid one of their opponent's replies before it is played.
	mover := p.SideToMove()
	newFEN := newPos.String() + " " + string(mover[0]) + ":ban"

	resultPos := &Position{fen: newFEN, ban: protocol.BanField{Color: mover, Pending: true}, cg: newCG}
	term := resultPos.Terminal()

	return &ApplyResult{SAN: san, FENAfter: newFEN, Terminal: term}, nil
}

// outcomeTerminal maps the underlying library's outcome/method after an
// ordinary move to a Terminal. This only fires on the classic
// no-ban-phase-involved terminal states (mate on the move itself,
// stalemate, insufficient material, fifty-move, repetition) — the
// ban-phase special case (legal-move count <= 1 while a ban is still
// owed) is handled separately inside Position.Terminal.
func outcomeTerminal(cg *chess.Game) *Terminal {
	if cg.Outcome() == chess.NoOutcome {
		return nil
	}
	loser := protocol.Color("")
	switch cg.Outcome() {
	case chess.WhiteWon:
		loser = protocol.Black
	case chess.BlackWon:
		loser = protocol.White
	}
	switch cg.Method() {
	case chess.Checkmate:
		return &Terminal{Kind: protocol.TerminalCheckmate, Loser: loser}
	case chess.Stalemate:
		return &Terminal{Kind: protocol.TerminalStalemate}
	case chess.InsufficientMaterial:
		return &Terminal{Kind: protocol.TerminalInsufficient}
	case chess.FiftyMoveRule:
		return &Terminal{Kind: protocol.TerminalFifty}
	case chess.ThreefoldRepetition:
		return &Terminal{Kind: protocol.TerminalRepetition}
	default:
		return &Terminal{Kind: protocol.TerminalDraw}
	}
}

// PGN renders the underlying library's recorded moves. A Position built
// straight from a FEN has no recorded moves, so for a finished game's
// full movetext use PGNFromHistory instead.
func (p *Position) PGN() string {
	return p.cg.String()
}

// PGNFromHistory rebuilds the PGN movetext for a game by replaying only
// the move half-actions of a BCN history onto a single fresh game. Bans
// never appear in PGN — they shape which moves were available, but the
// move sequence alone is what standard tooling can re-parse.
func PGNFromHistory(history []string) (string, error) {
	actions, err := protocol.DecodeHistory(history)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrReplay, err)
	}
	cg := chess.NewGame(chess.UseNotation(chess.UCINotation{}))
	for i, a := range actions {
		if a.Kind != protocol.KindMove {
			continue
		}
		if err := cg.MoveStr(a.UCI()); err != nil {
			return "", fmt.Errorf("%w at index %d: %v", ErrReplay, i, err)
		}
	}
	return cg.String(), nil
}

// GameOver reports whether the underlying move sequence has reached a
// library-recognized terminal state (does not by itself account for the
// ban-phase special case, which Apply surfaces at the moment it occurs).
func (p *Position) GameOver() bool {
	return p.cg.Outcome() != chess.NoOutcome
}
