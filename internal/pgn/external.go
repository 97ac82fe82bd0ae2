package pgn

import "errors"

// externalDecoder is the seam where a real PGN tokenizer plugs in.
// The tokenizer itself is an out-of-scope external collaborator: this
// repo only defines the Decoder contract it must satisfy.
type externalDecoder struct{}

func (externalDecoder) Decode([]byte) ([]Game, error) {
	return nil, errors.New("pgn: no tokenizer wired; supply a Decoder implementation")
}

// NotWired returns a Decoder placeholder for callers (notably
// cmd/pgnstudyrelay) that have not injected a real PGN tokenizer yet.
func NotWired() Decoder {
	return externalDecoder{}
}
