package protocol

import (
	"fmt"
	"strings"
)

// BanField is the 7th, non-standard FEN field. It is load-bearing: it is
// the only place side-to-move-and-next-action-kind is recorded, and every
// actor/kind derivation in this repository reads it rather than cached
// state (§9 design note).
type BanField struct {
	// Color is whose turn the ban field concerns.
	Color Color
	// Pending is true when Color still owes a ban ("w:ban"/"b:ban").
	Pending bool
	// BannedUCI is the move Color has already banned for its opponent
	// ("w:e2e4" style), set only when Pending is false.
	BannedUCI string
}

// NextKind derives the half-action kind the field calls for next.
func (b BanField) NextKind() ActionKind {
	if b.Pending {
		return KindBan
	}
	return KindMove
}

// Decomposed is the structured breakdown of an extended FEN string.
type Decomposed struct {
	Position   string
	SideToMove Color
	Castling   string
	EPSquare   string
	Halfmove   string
	Fullmove   string
	Ban        BanField
}

// Decompose splits a standard-6-field FEN plus the 7th ban field into its
// parts. It fails closed: any missing or malformed field is an error,
// never a silent default (C1 contract).
func Decompose(fen string) (Decomposed, error) {
	fields := strings.Fields(fen)
	if len(fields) != 7 {
		return Decomposed{}, fmt.Errorf("protocol: fen must have 7 fields (6 standard + ban), got %d", len(fields))
	}

	var side Color
	switch fields[1] {
	case "w":
		side = White
	case "b":
		side = Black
	default:
		return Decomposed{}, fmt.Errorf("protocol: invalid side-to-move field %q", fields[1])
	}

	ban, err := parseBanField(fields[6])
	if err != nil {
		return Decomposed{}, err
	}

	return Decomposed{
		Position:   fields[0],
		SideToMove: side,
		Castling:   fields[2],
		EPSquare:   fields[3],
		Halfmove:   fields[4],
		Fullmove:   fields[5],
		Ban:        ban,
	}, nil
}

// Recompose rebuilds the extended FEN string from its parts.
func Recompose(d Decomposed) string {
	side := "w"
	if d.SideToMove == Black {
		side = "b"
	}
	return strings.Join([]string{
		d.Position, side, d.Castling, d.EPSquare, d.Halfmove, d.Fullmove,
		encodeBanField(d.Ban),
	}, " ")
}

func parseBanField(field string) (BanField, error) {
	parts := strings.SplitN(field, ":", 2)
	if len(parts) != 2 {
		return BanField{}, fmt.Errorf("protocol: invalid ban field %q", field)
	}

	var color Color
	switch parts[0] {
	case "w":
		color = White
	case "b":
		color = Black
	default:
		return BanField{}, fmt.Errorf("protocol: invalid ban field color %q", parts[0])
	}

	if parts[1] == "ban" {
		return BanField{Color: color, Pending: true}, nil
	}

	if len(parts[1]) < 4 {
		return BanField{}, fmt.Errorf("protocol: invalid ban field uci %q", parts[1])
	}
	return BanField{Color: color, Pending: false, BannedUCI: parts[1]}, nil
}

func encodeBanField(b BanField) string {
	color := "w"
	if b.Color == Black {
		color = "b"
	}
	if b.Pending {
		return color + ":ban"
	}
	return color + ":" + b.BannedUCI
}

// InitialBanChessFEN is the starting position: White's pieces on their
// standard squares, ply 1 belongs to Black issuing the opening ban.
const InitialBanChessFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1 b:ban"
