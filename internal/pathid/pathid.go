// Package pathid encodes a chess move into the two-symbol node
// identifier the remote study tree uses as a path segment.
package pathid

import (
	"github.com/nmxmxh/pgnstudyrelay/internal/pgn"
	"github.com/nmxmxh/pgnstudyrelay/internal/relayerr"
)

// base is the first printable code point the codec draws symbols from.
const base = 35

// void is emitted only where a contract defines no value; the codec
// never emits it for a legal move.
const void = 33

// promotion roles, indexed 0..4 in the order the wire format expects.
// King is kept in the table intentionally: the remote service's own
// scheme includes it even though standard chess forbids promoting to
// a king, and the codec exists to be wire-compatible, not to validate
// legality.
var promoOrder = [5]pgn.Role{pgn.Queen, pgn.Rook, pgn.Bishop, pgn.Knight, pgn.King}

// drop roles, indexed 0..4.
var dropOrder = [5]pgn.Role{pgn.Queen, pgn.Rook, pgn.Bishop, pgn.Knight, pgn.Pawn}

func promoIndex(r pgn.Role) (int, bool) {
	for i, role := range promoOrder {
		if role == r {
			return i, true
		}
	}
	return 0, false
}

func dropIndex(r pgn.Role) (int, bool) {
	for i, role := range dropOrder {
		if role == r {
			return i, true
		}
	}
	return 0, false
}

// squareSymbol returns the single-character node id for a board square.
func squareSymbol(s pgn.Square) byte {
	rank := int(s) / 8
	file := int(s) % 8
	return byte(base + 8*rank + file)
}

// promoSymbol returns the single-character node id for a promotion to
// role r landing on destination file f.
func promoSymbol(f int, r pgn.Role) (byte, bool) {
	idx, ok := promoIndex(r)
	if !ok {
		return void, false
	}
	return byte(base + 64 + idx*8 + f), true
}

// dropSymbol returns the single-character node id for dropping role r.
func dropSymbol(r pgn.Role) (byte, bool) {
	idx, ok := dropIndex(r)
	if !ok {
		return void, false
	}
	return byte(base + 64 + 40 + idx), true
}

// Encode produces the deterministic two-symbol path segment for m.
//
// Null moves are undefined and return UnsupportedMove: the codec has
// no wire form for them.
func Encode(m pgn.Move) (string, error) {
	if m.IsNull() {
		return "", relayerr.ErrUnsupportedMove("null move has no path encoding")
	}

	from := squareSymbol(m.From)

	switch {
	case m.Drop != pgn.RoleNone:
		sym, ok := dropSymbol(m.Drop)
		if !ok {
			return "", relayerr.ErrUnsupportedMove("unrecognized drop role")
		}
		return string([]byte{from, sym}), nil

	case m.Promotion != pgn.RoleNone:
		file := int(m.To) % 8
		sym, ok := promoSymbol(file, m.Promotion)
		if !ok {
			return "", relayerr.ErrUnsupportedMove("unrecognized promotion role")
		}
		return string([]byte{from, sym}), nil

	default:
		to := squareSymbol(m.To)
		return string([]byte{from, to}), nil
	}
}
