package study

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okResponse(body string) *http.Response {
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(body))}
}

type fakeFetcher struct {
	studyBody    string
	studyErr     error
	studyCalls   int
	chapterBody  map[string]string
	chapterErr   map[string]error
	chapterCalls map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		chapterBody:  make(map[string]string),
		chapterErr:   make(map[string]error),
		chapterCalls: make(map[string]int),
	}
}

func (f *fakeFetcher) GetStudy(ctx context.Context, studyID string, epoch int64) (*http.Response, error) {
	f.studyCalls++
	if f.studyErr != nil {
		return nil, f.studyErr
	}
	return okResponse(f.studyBody), nil
}

func (f *fakeFetcher) GetChapter(ctx context.Context, studyID, chapterID string, epoch int64) (*http.Response, error) {
	f.chapterCalls[chapterID]++
	if err, ok := f.chapterErr[chapterID]; ok {
		return nil, err
	}
	return okResponse(f.chapterBody[chapterID]), nil
}

const studyWireJSON = `{
	"study": {
		"members": {"alice": {"role": "w"}, "bob": {"role": "r"}},
		"chapters": [{"id": "c1"}, {"id": "c2"}]
	}
}`

const chapterWireJSON = `{
	"study": {"chapter": {"tags": [["White", "Carlsen, M"], ["Black", "Nakamura, H"]]}},
	"analysis": {"treeParts": [
		{"id": "", "san": "", "uci": "", "ply": 0},
		{"id": "A1", "san": "e4", "uci": "e2e4", "ply": 1}
	]}
}`

func TestChapterCache_SyncFullPopulatesMembersAndChapters(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.studyBody = studyWireJSON
	fetcher.chapterBody["c1"] = chapterWireJSON
	fetcher.chapterBody["c2"] = chapterWireJSON

	cache := NewChapterCache("study1", fetcher, func() int64 { return 1 }, testLogger())
	snap, err := cache.SyncFull(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "w", snap.Members["alice"].Role)
	assert.Equal(t, "r", snap.Members["bob"].Role)

	chapters := cache.GetChapters()
	require.Contains(t, chapters, "c1")
	require.Contains(t, chapters, "c2")
	assert.Equal(t, "Carlsen, M", chapters["c1"].Tags["White"])
	require.Len(t, chapters["c1"].TreeParts, 2)
	assert.Equal(t, "e4", chapters["c1"].TreeParts[1].SAN)
	assert.Equal(t, uint64(1), chapters["c1"].Version)
}

func TestChapterCache_SyncChapterIncrementsVersionOnEachCall(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.chapterBody["c1"] = chapterWireJSON
	cache := NewChapterCache("study1", fetcher, func() int64 { return 1 }, testLogger())

	require.NoError(t, cache.SyncChapter(context.Background(), "c1"))
	c1, _ := cache.GetChapter("c1")
	assert.Equal(t, uint64(1), c1.Version)

	require.NoError(t, cache.SyncChapter(context.Background(), "c1"))
	c1, _ = cache.GetChapter("c1")
	assert.Equal(t, uint64(2), c1.Version)
}

func TestChapterCache_SyncFullRetriesOnceOnInitialFailure(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.studyErr = errors.New("connection reset")
	cache := NewChapterCache("study1", fetcher, func() int64 { return 1 }, testLogger())

	_, err := cache.SyncFull(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 2, fetcher.studyCalls, "the initial study fetch must be retried exactly once before giving up")
}

func TestChapterCache_SyncChapterSurfacesStudyUnavailable(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.chapterErr["missing"] = errors.New("404")
	cache := NewChapterCache("study1", fetcher, func() int64 { return 1 }, testLogger())

	err := cache.SyncChapter(context.Background(), "missing")
	assert.Error(t, err)
}

func TestChapterCache_GetChaptersReturnsIndependentSnapshot(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.chapterBody["c1"] = chapterWireJSON
	cache := NewChapterCache("study1", fetcher, func() int64 { return 1 }, testLogger())
	require.NoError(t, cache.SyncChapter(context.Background(), "c1"))

	snapshot := cache.GetChapters()
	delete(snapshot, "c1")
	_, stillThere := cache.GetChapter("c1")
	assert.True(t, stillThere, "mutating a returned snapshot must not affect the cache")
}
