package pathid

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nmxmxh/pgnstudyrelay/internal/pgn"
)

func sq(file, rank int) pgn.Square { return pgn.Square(rank*8 + file) }

func TestEncodeTestVectors(t *testing.T) {
	cases := []struct {
		name string
		move pgn.Move
		want string
	}{
		{"e2e4", pgn.Move{From: sq(4, 1), To: sq(4, 3)}, "/?"},
		{"a7a8=Q", pgn.Move{From: sq(0, 6), To: sq(0, 7), Promotion: pgn.Queen}, "Sc"},
		{"h7h8=N", pgn.Move{From: sq(7, 6), To: sq(7, 7), Promotion: pgn.Knight}, "Z\x82"},
		{"e1 castles with h1", pgn.Move{From: sq(4, 0), To: sq(7, 0)}, "'*"},
		{"e1 castles with g1", pgn.Move{From: sq(4, 0), To: sq(6, 0)}, "')"},
		{"e8 castles with g8", pgn.Move{From: sq(4, 7), To: sq(6, 7)}, "_a"},
		{"e8 castles with h8", pgn.Move{From: sq(4, 7), To: sq(7, 7)}, "_b"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := Encode(c.move)
			assert.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestEncodeNullMoveIsUnsupported(t *testing.T) {
	_, err := Encode(pgn.NullMove())
	assert.Error(t, err)
}

func TestEncodeAlwaysTwoSymbolsAboveBase(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	seen := map[string]pgn.Move{}
	for i := 0; i < 2000; i++ {
		m := randomLegalMove(rng)
		got, err := Encode(m)
		if err != nil {
			continue
		}
		assert.Len(t, got, 2)
		for _, b := range []byte(got) {
			assert.GreaterOrEqual(t, int(b), base)
		}
		if prior, ok := seen[got]; ok {
			assert.Equal(t, prior, m, "distinct legal moves must not collide: %+v vs %+v", prior, m)
		} else {
			seen[got] = m
		}
	}
}

func randomLegalMove(rng *rand.Rand) pgn.Move {
	from := pgn.Square(rng.Intn(64))
	switch rng.Intn(3) {
	case 0:
		return pgn.Move{From: from, To: pgn.Square(rng.Intn(64))}
	case 1:
		roles := []pgn.Role{pgn.Queen, pgn.Rook, pgn.Bishop, pgn.Knight, pgn.King}
		return pgn.Move{From: from, To: pgn.Square(rng.Intn(8) + 56), Promotion: roles[rng.Intn(len(roles))]}
	default:
		roles := []pgn.Role{pgn.Queen, pgn.Rook, pgn.Bishop, pgn.Knight, pgn.Pawn}
		return pgn.Move{From: from, Drop: roles[rng.Intn(len(roles))]}
	}
}
