package lichess

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseStudyURL(t *testing.T) {
	ref, err := ParseStudyURL("https://lichess.org/study/abcd1234")
	require.NoError(t, err)
	assert.Equal(t, "https", ref.Scheme)
	assert.Equal(t, "lichess.org", ref.Host)
	assert.Equal(t, "abcd1234", ref.ID)
}

func TestParseStudyURL_RejectsMissingID(t *testing.T) {
	_, err := ParseStudyURL("https://lichess.org/study/")
	assert.Error(t, err)
}

func TestParseStudyURL_AcceptsStagingDomain(t *testing.T) {
	ref, err := ParseStudyURL("https://listage.ovh/study/abcd1234")
	require.NoError(t, err)
	assert.Equal(t, "listage.ovh", ref.Host)
}

func TestParseStudyURL_RejectsUnknownHost(t *testing.T) {
	_, err := ParseStudyURL("https://evil.example/study/abcd1234")
	assert.Error(t, err)
}

func TestStudyRef_WebsocketURL(t *testing.T) {
	ref := StudyRef{Scheme: "https", Host: "lichess.org", ID: "abcd1234"}
	assert.Equal(t, "wss://socket.lichess.org/study/abcd1234/socket/v2?sri=xyz", ref.WebsocketURL("xyz"))
}

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	c, err := New(StudyRef{Scheme: u.Scheme, Host: u.Host}, testLogger())
	require.NoError(t, err)
	return c
}

func TestClient_LoginSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/login", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "alice", r.FormValue("username"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := newTestClient(t, server)
	assert.NoError(t, c.Login(context.Background(), "alice", "hunter2"))
}

func TestClient_LoginFailureIsAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := newTestClient(t, server)
	assert.Error(t, c.Login(context.Background(), "alice", "wrong"))
}

func TestClient_GetStudyIncludesCacheBusterQuery(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newTestClient(t, server)
	resp, err := c.GetStudy(context.Background(), "study1", 12345)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "/study/study1?_=12345", gotPath)
}

func TestClient_GetChapterIncludesStudyAndChapterID(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newTestClient(t, server)
	resp, err := c.GetChapter(context.Background(), "study1", "ch1", 1)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "/study/study1/ch1", gotPath)
}
