package study

import "encoding/json"

// outboundEnvelope is the tagged-union wire shape every outbound
// websocket message shares: top-level "t" for type, "d" for payload.
type outboundEnvelope struct {
	T string `json:"t"`
	D any    `json:"d,omitempty"`
}

// inboundEnvelope is the same shape for messages read off the socket;
// D is left raw until the dispatcher knows which payload to decode it
// into.
type inboundEnvelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d"`
}

type addChapterPayload struct {
	Name        string `json:"name"`
	Game        any    `json:"game"`
	Variant     string `json:"variant"`
	Fen         any    `json:"fen"`
	Pgn         string `json:"pgn"`
	Orientation string `json:"orientation"`
	Mode        string `json:"mode"`
	Initial     bool   `json:"initial"`
	Sticky      bool   `json:"sticky"`
}

type anaMovePayload struct {
	Orig      string `json:"orig"`
	Dest      string `json:"dest"`
	Fen       string `json:"fen"`
	Path      string `json:"path"`
	Ch        string `json:"ch"`
	Sticky    bool   `json:"sticky"`
	Promote   bool   `json:"promote"`
	Promotion string `json:"promotion,omitempty"`
	Clock     string `json:"clock,omitempty"`
}

type setTagPayload struct {
	ChapterID string `json:"chapterId"`
	Name      string `json:"name"`
	Value     string `json:"value"`
}

type setCommentPayload struct {
	Ch   string `json:"ch"`
	Path string `json:"path"`
	Text string `json:"text"`
}

// pushAddChapter is the server-pushed notification that a new chapter
// exists; the relay reacts to it by refreshing that chapter. The
// chapter id is nested under "p", not top-level.
type pushAddChapter struct {
	P struct {
		ChapterID string `json:"chapterId"`
	} `json:"p"`
}

// pushReload carries an optional chapter id; absent, it means "full
// sync".
type pushReload struct {
	ChapterID string `json:"chapterId"`
}

// pushMessage is a chat line. If its author is a contributor and the
// text begins with "sync ", the relay forces a full sync.
type pushMessage struct {
	User string `json:"u"`
	Text string `json:"t"`
}
