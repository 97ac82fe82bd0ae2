// Package pgn holds the relay's data model for a parsed chess game:
// moves, tags, and the identity/clock helpers derived from them.
//
// The actual PGN tokenizer is an external collaborator: this package
// only defines the shape a decoded game takes and the pure functions
// the sync engine needs from it.
package pgn

import "strings"

// Square is a board square, 0-63, ordered as file + 8*rank.
type Square int

// Role identifies a chess piece kind for promotions and drops.
type Role int

const (
	RoleNone Role = iota
	Queen
	Rook
	Bishop
	Knight
	King
	Pawn
)

// Move is one ply of a game's mainline.
type Move struct {
	From      Square
	To        Square
	Promotion Role
	Drop      Role

	// SAN is the authoritative form for tree-diff comparison.
	SAN string
	// UCI is used only for transmission, never for comparison.
	UCI string
	// Clock is the trimmed payload of a "[%clk h:m:s]" annotation on
	// this move's trailing comment, if any.
	Clock string
	// HasClock reports whether Clock was actually present; Clock may
	// legitimately be the empty string only when HasClock is true and
	// the annotation itself was empty, which practice never produces,
	// but the flag keeps the zero value unambiguous.
	HasClock bool

	// IsCastle marks a castling move. When set, RookSquare is the
	// square of the rook being castled with; the sync engine
	// substitutes it for To when Chess960-encoding the move for the
	// path codec, while UCI/orig/dest keep the ordinary
	// king-destination form for transmission.
	IsCastle   bool
	RookSquare Square

	// FENBefore is the FEN of the position immediately before this
	// move is played. Board/move generation is an external
	// collaborator's concern; the decoder that produces a Game is
	// expected to stamp this per move.
	FENBefore string

	// null marks a null move ("--"), which the path codec cannot encode.
	null bool
}

// IsNull reports whether m is a null move.
func (m Move) IsNull() bool { return m.null }

// NullMove returns a Move representing a null move.
func NullMove() Move { return Move{null: true} }

// Tags is the flattened set of PGN header tags for a game (White,
// Black, Result, WhiteElo, BlackElo, ECO, ...).
type Tags map[string]string

// Game is a decoded game: its tag metadata and its mainline moves.
// Variations and sidelines are not represented; only the mainline is
// ever consumed.
//
// RawPGN is the verbatim PGN text for this game, used only when a new
// chapter must be created from it; move-by-move appends never
// re-send it.
type Game struct {
	Tags     Tags
	Mainline []Move
	RawPGN   string
}

// Key derives the stable game identity used to match an incoming game
// to a chapter: lowercase, hyphen-joined "<white>-vs-<black>", or ""
// if either side is missing.
func Key(tags Tags) string {
	white := normalizeName(tags["White"])
	black := normalizeName(tags["Black"])
	if white == "" || black == "" {
		return ""
	}
	return white + "-vs-" + black
}

// normalizeName strips commas, splits on whitespace, rejoins with
// hyphens, and lowercases — e.g. "Carlsen, M" -> "carlsen-m".
func normalizeName(raw string) string {
	raw = strings.ReplaceAll(raw, ",", "")
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(strings.Join(fields, "-"))
}

// Title derives a human-readable "<white> vs <black>" string from the
// substrings of White/Black before their first ", ".
func Title(tags Tags) string {
	white := beforeComma(tags["White"])
	black := beforeComma(tags["Black"])
	if white == "" || black == "" {
		return ""
	}
	return white + " vs " + black
}

func beforeComma(raw string) string {
	if raw == "" {
		return ""
	}
	if i := strings.Index(raw, ", "); i >= 0 {
		return raw[:i]
	}
	return raw
}

const clkOpen = "[%clk "
const clkClose = "]"

// ClockFromComment extracts the trimmed payload of a "[%clk h:m:s]"
// annotation from a move comment.
func ClockFromComment(comment string) (string, bool) {
	start := strings.Index(comment, clkOpen)
	if start < 0 {
		return "", false
	}
	rest := comment[start+len(clkOpen):]
	end := strings.Index(rest, clkClose)
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// Decoder turns raw PGN bytes into the games they describe. The real
// tokenizer is an external collaborator; this interface is the seam
// the sync engine and poll driver depend on instead of a concrete
// parser.
type Decoder interface {
	Decode(pgnBytes []byte) ([]Game, error)
}
