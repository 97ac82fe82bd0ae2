// Package sync implements the core synchronisation engine (C5): for
// each incoming game it locates or creates a chapter, diffs the
// incoming mainline against the chapter's stored tree, streams the new
// suffix, and propagates the terminal result.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/nmxmxh/pgnstudyrelay/internal/pathid"
	"github.com/nmxmxh/pgnstudyrelay/internal/pgn"
	"github.com/nmxmxh/pgnstudyrelay/internal/study"
)

// Sender is the subset of *study.Client the engine depends on, so
// tests can substitute a recording fake.
type Sender interface {
	SendAddChapter(name, pgnText string) error
	SendAnaMove(p study.AnaMoveParams) error
	SendSetTag(chapterID, name, value string) error
	SendSetComment(chapterID, path, text string) error
	SendTalk(text string) error
}

// Cache is the subset of *study.ChapterCache the engine depends on.
type Cache interface {
	GetChapters() map[string]study.Chapter
	GetChapter(id string) (study.Chapter, bool)
	SyncChapter(ctx context.Context, id string) error
}

// Sleeper abstracts the append loop's pacing sleep so tests don't pay
// real wall-clock time for it.
type Sleeper func(time.Duration)

// Engine is the sync engine. It owns the per-game-key last-seen PGN
// cache; the chapter cache and websocket client are borrowed
// references.
type Engine struct {
	cache  Cache
	client Sender
	logger *slog.Logger
	sleep  Sleeper

	mu        sync.Mutex
	pgnsByKey map[string]pgn.Game
}

// New builds an Engine. sleep may be nil to use time.Sleep.
func New(cache Cache, client Sender, logger *slog.Logger, sleep Sleeper) *Engine {
	if sleep == nil {
		sleep = time.Sleep
	}
	return &Engine{
		cache:     cache,
		client:    client,
		logger:    logger,
		sleep:     sleep,
		pgnsByKey: make(map[string]pgn.Game),
	}
}

const appendPace = 500 * time.Millisecond

// Sync runs one cycle of the match/diff/append/terminal-report
// algorithm for a single decoded game.
func (e *Engine) Sync(ctx context.Context, g pgn.Game) error {
	key := pgn.Key(g.Tags)
	if key == "" {
		// Edge policy: a game with missing player tags is dropped silently.
		return nil
	}

	// Step 1 — short-circuit on an identical re-poll.
	if e.identicalToLast(key, g) {
		return nil
	}
	e.remember(key, g)

	// Step 2 — chapter match.
	chapter, ok := e.matchChapter(key)
	if !ok {
		if len(g.Mainline) == 0 {
			// Defer chapter creation until moves exist.
			return nil
		}
		title := pgn.Title(g.Tags)
		return e.client.SendAddChapter(title, g.RawPGN)
	}

	// Step 3 — tree diff.
	d := diffTree(chapter.TreeParts, g.Mainline)
	if d.diverged {
		// Fork: stop at the divergence, rewrite nothing, let the next
		// poll try again.
		e.logger.Info("mainline diverged from chapter tree; deferring to next poll",
			slog.String("chapter_id", chapter.ID), slog.Int("ply", d.curIdx))
		return nil
	}

	if d.hasNewMoves {
		// Step 4 — append loop.
		finalIdx, finalPath, err := e.appendLoop(ctx, chapter, g, d)
		if err != nil {
			return err
		}
		d.curIdx, d.path = finalIdx, finalPath

		if err := e.cache.SyncChapter(ctx, chapter.ID); err != nil {
			e.logger.Warn("post-append chapter resync failed", slog.String("chapter_id", chapter.ID), slog.Any("err", err))
		}
	}

	// Step 5 — terminal result.
	return e.maybeReportTerminal(ctx, chapter.ID, g, d)
}

func (e *Engine) identicalToLast(key string, g pgn.Game) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev, ok := e.pgnsByKey[key]
	return ok && reflect.DeepEqual(prev, g)
}

func (e *Engine) remember(key string, g pgn.Game) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pgnsByKey[key] = g
}

func (e *Engine) matchChapter(key string) (study.Chapter, bool) {
	for _, c := range e.cache.GetChapters() {
		if pgn.Key(c.Tags) == key {
			return c, true
		}
	}
	return study.Chapter{}, false
}

// appendLoop streams moves from d.curIdx through the end of g's
// mainline, re-checking the chapter's version at the top of every
// iteration. It returns the ply index and path reached when the loop stopped,
// whether by completion, version-guard abort, or an UnsupportedMove.
func (e *Engine) appendLoop(ctx context.Context, chapter study.Chapter, g pgn.Game, d diffResult) (int, string, error) {
	curIdx := d.curIdx
	path := d.path
	version := chapter.Version

	for {
		latest, ok := e.cache.GetChapter(chapter.ID)
		if !ok || latest.Version != version {
			// A concurrent server push invalidated the chapter; abort
			// cleanly, the next poll resumes from the new state.
			break
		}

		cur := g.Mainline[curIdx-1]

		orig, dest := uciSquares(cur.UCI)
		promotion := ""
		if cur.Promotion != pgn.RoleNone {
			promotion = roleName(cur.Promotion)
		}
		clockStr := ""
		if cur.HasClock {
			clockStr = cur.Clock
		}

		if err := e.client.SendAnaMove(study.AnaMoveParams{
			Orig:      orig,
			Dest:      dest,
			Fen:       cur.FENBefore,
			Path:      path,
			ChapterID: chapter.ID,
			Promotion: promotion,
			Clock:     clockStr,
		}); err != nil {
			return curIdx, path, fmt.Errorf("sending anaMove: %w", err)
		}

		encodable := cur
		if cur.IsCastle {
			encodable.To = cur.RookSquare
		}
		seg, err := pathid.Encode(encodable)
		if err != nil {
			e.logger.Warn("unsupported move, aborting append loop",
				slog.String("chapter_id", chapter.ID), slog.Any("err", err))
			break
		}
		path += seg

		if curIdx == len(g.Mainline) {
			break
		}
		curIdx++
		e.sleep(appendPace)
	}

	return curIdx, path, nil
}

// maybeReportTerminal implements step 5: if the incoming game records
// a final result not yet reflected on the chapter, and cur is the
// final move of the incoming mainline, announce it.
func (e *Engine) maybeReportTerminal(ctx context.Context, chapterID string, g pgn.Game, d diffResult) error {
	result := g.Tags["Result"]
	if result == "" || result == "*" {
		return nil
	}
	if d.curIdx != len(g.Mainline) {
		return nil
	}
	latest, ok := e.cache.GetChapter(chapterID)
	if !ok || latest.Tags["Result"] == result {
		return nil
	}

	if err := e.client.SendSetTag(chapterID, "Result", result); err != nil {
		return err
	}
	if err := e.client.SendSetComment(chapterID, d.path, "Game ended in: "+result); err != nil {
		return err
	}
	title := pgn.Title(g.Tags)
	if err := e.client.SendTalk(title + " ended in: " + result); err != nil {
		return err
	}
	if err := e.cache.SyncChapter(ctx, chapterID); err != nil {
		e.logger.Warn("post-terminal chapter resync failed", slog.String("chapter_id", chapterID), slog.Any("err", err))
	}
	return nil
}

func roleName(r pgn.Role) string {
	switch r {
	case pgn.Queen:
		return "queen"
	case pgn.Rook:
		return "rook"
	case pgn.Bishop:
		return "bishop"
	case pgn.Knight:
		return "knight"
	case pgn.King:
		return "king"
	case pgn.Pawn:
		return "pawn"
	default:
		return ""
	}
}

// uciSquares splits a UCI move string into its origin/destination
// square pair, ignoring a trailing promotion letter if present.
func uciSquares(uci string) (string, string) {
	if len(uci) < 4 {
		return "", ""
	}
	return uci[0:2], uci[2:4]
}
