package study

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nmxmxh/pgnstudyrelay/internal/relayerr"
)

// State is the remote-study client's connection lifecycle.
type State int32

const (
	StateConnected State = iota
	StateStreaming
	StateClosing
	StateClosed
)

// Dialer abstracts websocket.DefaultDialer so tests can point the
// client at an httptest-backed server.
type Dialer interface {
	Dial(url string, header map[string][]string) (*websocket.Conn, error)
}

// DefaultDialer dials a real websocket.DefaultDialer connection.
type DefaultDialer struct{}

func (DefaultDialer) Dial(url string, header map[string][]string) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	return conn, err
}

// Client is the relay's single websocket connection to a study's
// socket. It owns the send side; the read loop and heartbeat are the
// only other goroutines that touch the connection.
type Client struct {
	conn     *websocket.Conn
	writeMu  sync.Mutex
	state    atomic.Int32
	sri      string
	username string
	cache    *ChapterCache
	logWS    bool
	logger   *slog.Logger

	shouldStop atomic.Bool
	done       chan struct{}
	heartbeat  chan struct{}
}

// NewClient builds an unconnected Client bound to cache for refresh
// dispatch on server push.
func NewClient(cache *ChapterCache, username string, logWS bool, logger *slog.Logger) *Client {
	return &Client{
		sri:      newSRI(),
		username: username,
		cache:    cache,
		logWS:    logWS,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// newSRI generates the 10-character random client session identifier
// the remote service uses to disambiguate websocket clients.
func newSRI() string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return id[:10]
}

// SRI exposes the session identifier, e.g. for building the dial URL.
func (c *Client) SRI() string { return c.sri }

// Connect dials wsURL and starts the read loop and heartbeat.
func (c *Client) Connect(ctx context.Context, wsURL string, dialer Dialer) error {
	conn, err := dialer.Dial(wsURL, nil)
	if err != nil {
		return relayerr.ErrTransportLost(err)
	}
	c.conn = conn
	c.state.Store(int32(StateConnected))

	go c.readLoop(ctx)
	go c.heartbeatLoop(ctx)
	return nil
}

// EnsureContributor checks that Client.username appears in the
// cache's last membership snapshot with write role "w".
func (c *Client) EnsureContributor() error {
	members := c.cache.Members()
	m, ok := members[c.username]
	if !ok || m.Role != "w" {
		return relayerr.ErrNotAContributor(c.username)
	}
	return nil
}

// send marshals t/d and writes it; sending on a detached connection is
// a programmer error.
func (c *Client) send(t string, d any) error {
	if c.conn == nil {
		panic("study: send on detached websocket")
	}
	msg := outboundEnvelope{T: t, D: d}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if c.logWS {
		c.logger.Debug("ws send", slog.String("payload", string(data)))
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.shouldStop.Store(true)
		return relayerr.ErrTransportLost(err)
	}
	return nil
}

// SendAddChapter creates a new chapter from a full PGN.
func (c *Client) SendAddChapter(name, pgnText string) error {
	return c.send("addChapter", addChapterPayload{
		Name:        name,
		Game:        nil,
		Variant:     "Automatic",
		Fen:         nil,
		Pgn:         pgnText,
		Orientation: "white",
		Mode:        "normal",
		Initial:     false,
		Sticky:      false,
	})
}

// AnaMoveParams carries the fields needed to append one move.
type AnaMoveParams struct {
	Orig      string
	Dest      string
	Fen       string
	Path      string
	ChapterID string
	Promotion string // role name, e.g. "queen"; empty if not a promotion
	Clock     string // "[%clk ...]" payload; empty if absent
}

// SendAnaMove appends one move to the tree. promote is always true so
// the server auto-promotes to queen when Promotion is empty.
func (c *Client) SendAnaMove(p AnaMoveParams) error {
	return c.send("anaMove", anaMovePayload{
		Orig:      p.Orig,
		Dest:      p.Dest,
		Fen:       p.Fen,
		Path:      p.Path,
		Ch:        p.ChapterID,
		Sticky:    false,
		Promote:   true,
		Promotion: p.Promotion,
		Clock:     p.Clock,
	})
}

// SendSetTag updates a chapter-level tag.
func (c *Client) SendSetTag(chapterID, name, value string) error {
	return c.send("setTag", setTagPayload{ChapterID: chapterID, Name: name, Value: value})
}

// SendSetComment attaches a comment at path.
func (c *Client) SendSetComment(chapterID, path, text string) error {
	return c.send("setComment", setCommentPayload{Ch: chapterID, Path: path, Text: text})
}

// SendTalk posts a free-form chat line.
func (c *Client) SendTalk(text string) error {
	return c.send("talk", text)
}

// heartbeatLoop sends a "p" ping every second until should_stop is
// latched or ctx is done.
func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			if c.shouldStop.Load() {
				return
			}
			if err := c.send("p", nil); err != nil {
				return
			}
		}
	}
}

// readLoop consumes server push messages and dispatches them. On
// CLOSED/ERROR it latches should_stop and does not reconnect.
func (c *Client) readLoop(ctx context.Context) {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shouldStop.Store(true)
			c.state.Store(int32(StateClosed))
			return
		}
		var env inboundEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("unparsable ws frame", slog.Any("err", err))
			continue
		}
		c.dispatch(ctx, env)
	}
}

func (c *Client) dispatch(ctx context.Context, env inboundEnvelope) {
	switch env.T {
	case "addChapter":
		var p pushAddChapter
		if err := json.Unmarshal(env.D, &p); err != nil {
			return
		}
		if err := c.cache.SyncChapter(ctx, p.P.ChapterID); err != nil {
			c.logger.Warn("chapter resync failed", slog.String("chapter_id", p.P.ChapterID), slog.Any("err", err))
		}

	case "reload":
		var p pushReload
		_ = json.Unmarshal(env.D, &p)
		if p.ChapterID != "" {
			if err := c.cache.SyncChapter(ctx, p.ChapterID); err != nil {
				c.logger.Warn("chapter resync failed", slog.String("chapter_id", p.ChapterID), slog.Any("err", err))
			}
			return
		}
		if _, err := c.cache.SyncFull(ctx); err != nil {
			c.logger.Warn("full resync failed", slog.Any("err", err))
		}

	case "message":
		var p pushMessage
		if err := json.Unmarshal(env.D, &p); err != nil {
			return
		}
		members := c.cache.Members()
		if m, ok := members[p.User]; ok && m.Role == "w" && strings.HasPrefix(p.Text, "sync ") {
			if _, err := c.cache.SyncFull(ctx); err != nil {
				c.logger.Warn("forced full resync failed", slog.Any("err", err))
			}
		}
	}
}

// ShouldStop reports whether the transport has latched a terminal
// failure; the poll driver's outer loop observes this.
func (c *Client) ShouldStop() bool { return c.shouldStop.Load() }

// Done is closed once the read loop exits.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close transitions to closing/closed and releases the connection.
func (c *Client) Close() error {
	c.state.Store(int32(StateClosing))
	defer c.state.Store(int32(StateClosed))
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
