// Package study holds the chapter cache and the websocket
// remote-study client.
package study

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/nmxmxh/pgnstudyrelay/internal/pgn"
	"github.com/nmxmxh/pgnstudyrelay/internal/relayerr"
)

// TreeNode mirrors one entry of a chapter's analysis.treeParts: the
// server-side mainline node, cached locally.
type TreeNode struct {
	ID    string
	SAN   string
	UCI   string
	Ply   int
	Clock *float64 // seconds; nil if the node carries no clock
}

// Chapter is the cached view of a remote study chapter. Version is
// the relay's own optimistic-concurrency counter: it increments every
// time SyncChapter re-fetches this chapter, and is never consumed by
// the remote service.
type Chapter struct {
	ID        string
	Tags      pgn.Tags
	TreeParts []TreeNode
	Version   uint64
}

// Member is one study.members entry.
type Member struct {
	Role string
}

// Snapshot is a study-level membership view, taken at connect time or
// whenever a full sync is forced.
type Snapshot struct {
	Members map[string]Member
}

// HTTPFetcher is the subset of *lichess.Client the cache depends on,
// so tests can substitute an httptest-backed fake without pulling in
// cookie/login plumbing.
type HTTPFetcher interface {
	GetStudy(ctx context.Context, studyID string, epoch int64) (*http.Response, error)
	GetChapter(ctx context.Context, studyID, chapterID string, epoch int64) (*http.Response, error)
}

// Clock supplies the epoch used as the cache-busting query parameter;
// injectable so tests get deterministic URLs.
type Clock func() int64

// ChapterCache owns map<ChapterId, Chapter> and is written only here,
// read by the sync engine.
type ChapterCache struct {
	mu       sync.RWMutex
	chapters map[string]Chapter
	studyID  string
	http     HTTPFetcher
	now      Clock
	logger   *slog.Logger

	membersMu sync.RWMutex
	members   map[string]Member
}

// NewChapterCache builds an empty cache for the given study.
func NewChapterCache(studyID string, http HTTPFetcher, now Clock, logger *slog.Logger) *ChapterCache {
	return &ChapterCache{
		chapters: make(map[string]Chapter),
		studyID:  studyID,
		http:     http,
		now:      now,
		logger:   logger,
		members:  make(map[string]Member),
	}
}

type wireStudy struct {
	Study struct {
		Members  map[string]struct{ Role string `json:"role"` } `json:"members"`
		Chapters []struct {
			ID string `json:"id"`
		} `json:"chapters"`
	} `json:"study"`
}

type wireChapter struct {
	Study struct {
		Chapter struct {
			Tags [][2]string `json:"tags"`
		} `json:"chapter"`
	} `json:"study"`
	Analysis struct {
		TreeParts []wireTreeNode `json:"treeParts"`
	} `json:"analysis"`
}

type wireTreeNode struct {
	ID    string   `json:"id"`
	San   string   `json:"san"`
	Uci   string   `json:"uci"`
	Ply   int      `json:"ply"`
	Clock *float64 `json:"clock,omitempty"`
}

// SyncFull GETs the study and then syncs every listed chapter; used
// at connect and on any chapter-less "reload" push. The
// initial study fetch is retried once, matching the original Python
// relay's tolerance for a slow chapter list racing the first poll.
func (c *ChapterCache) SyncFull(ctx context.Context) (Snapshot, error) {
	resp, err := c.http.GetStudy(ctx, c.studyID, c.now())
	if err != nil || resp.StatusCode != http.StatusOK {
		if resp != nil {
			resp.Body.Close()
		}
		resp, err = c.http.GetStudy(ctx, c.studyID, c.now())
	}
	if err != nil {
		return Snapshot{}, relayerr.ErrStudyUnavailable(c.studyID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, relayerr.ErrStudyUnavailable(c.studyID, fmt.Errorf("study fetch returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Snapshot{}, relayerr.ErrStudyUnavailable(c.studyID, err)
	}
	var w wireStudy
	if err := json.Unmarshal(body, &w); err != nil {
		return Snapshot{}, relayerr.ErrStudyUnavailable(c.studyID, err)
	}

	members := make(map[string]Member, len(w.Study.Members))
	for user, m := range w.Study.Members {
		members[user] = Member{Role: m.Role}
	}
	c.membersMu.Lock()
	c.members = members
	c.membersMu.Unlock()

	for _, ch := range w.Study.Chapters {
		if err := c.SyncChapter(ctx, ch.ID); err != nil {
			c.logger.Warn("chapter sync failed during full sync", slog.String("chapter_id", ch.ID), slog.Any("err", err))
		}
	}
	return Snapshot{Members: members}, nil
}

// SyncChapter GETs one chapter, flattens its tags, and stores it with
// an incremented version counter.
func (c *ChapterCache) SyncChapter(ctx context.Context, id string) error {
	resp, err := c.http.GetChapter(ctx, c.studyID, id, c.now())
	if err != nil {
		return relayerr.ErrStudyUnavailable(c.studyID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return relayerr.ErrStudyUnavailable(c.studyID, fmt.Errorf("chapter fetch returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return relayerr.ErrStudyUnavailable(c.studyID, err)
	}
	var w wireChapter
	if err := json.Unmarshal(body, &w); err != nil {
		return relayerr.ErrStudyUnavailable(c.studyID, err)
	}

	tags := make(pgn.Tags, len(w.Study.Chapter.Tags))
	for _, pair := range w.Study.Chapter.Tags {
		tags[pair[0]] = pair[1]
	}
	parts := make([]TreeNode, len(w.Analysis.TreeParts))
	for i, n := range w.Analysis.TreeParts {
		parts[i] = TreeNode{ID: n.ID, SAN: n.San, UCI: n.Uci, Ply: n.Ply, Clock: n.Clock}
	}

	c.mu.Lock()
	prev := c.chapters[id]
	c.chapters[id] = Chapter{ID: id, Tags: tags, TreeParts: parts, Version: prev.Version + 1}
	c.mu.Unlock()
	return nil
}

// GetChapters returns a read-only snapshot of all cached chapters.
func (c *ChapterCache) GetChapters() map[string]Chapter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Chapter, len(c.chapters))
	for k, v := range c.chapters {
		out[k] = v
	}
	return out
}

// GetChapter returns a read-only view of one cached chapter.
func (c *ChapterCache) GetChapter(id string) (Chapter, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.chapters[id]
	return ch, ok
}

// Members returns the membership snapshot taken at the last full sync.
func (c *ChapterCache) Members() map[string]Member {
	c.membersMu.RLock()
	defer c.membersMu.RUnlock()
	out := make(map[string]Member, len(c.members))
	for k, v := range c.members {
		out[k] = v
	}
	return out
}
