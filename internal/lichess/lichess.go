// Package lichess logs in, holds the resulting session cookie, and
// issues the authenticated GETs the chapter cache needs. The
// websocket transport and the sync engine live in internal/study and
// internal/sync; this package only speaks plain HTTP.
package lichess

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"

	"github.com/nmxmxh/pgnstudyrelay/internal/relayerr"
)

// Study hosts the relay is willing to talk to: a live production
// domain and a staging domain. Any other host is rejected before a
// session is ever opened.
const (
	LiveDomain    = "lichess.org"
	StagingDomain = "listage.ovh"
)

// StudyRef identifies a study on a host, derived from a study URL:
// the host is the URL's scheme+authority, the study id its final path
// segment.
type StudyRef struct {
	Scheme string
	Host   string
	ID     string
}

// WebsocketURL returns the wss:// URL for this study's socket,
// carrying the given client session identifier.
func (r StudyRef) WebsocketURL(sri string) string {
	return fmt.Sprintf("wss://socket.%s/study/%s/socket/v2?sri=%s", r.Host, r.ID, sri)
}

// ParseStudyURL extracts the StudyRef from a study URL such as
// "https://lichess.org/study/abcd1234".
func ParseStudyURL(raw string) (StudyRef, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return StudyRef{}, relayerr.Wrap(relayerr.CodeStudyUnavailable, "cannot parse study URL", err)
	}
	if u.Host != LiveDomain && u.Host != StagingDomain {
		return StudyRef{}, relayerr.New(relayerr.CodeAuthFailure,
			fmt.Sprintf("%s is not one of %s or %s", u.Host, LiveDomain, StagingDomain))
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) == 0 || segments[len(segments)-1] == "" {
		return StudyRef{}, relayerr.New(relayerr.CodeStudyUnavailable, "study URL has no id segment")
	}
	return StudyRef{
		Scheme: u.Scheme,
		Host:   u.Host,
		ID:     segments[len(segments)-1],
	}, nil
}

// Client is the relay's single HTTP session, shared by every
// authenticated request.
type Client struct {
	http   *http.Client
	scheme string
	host   string
	logger *slog.Logger
}

// New builds a Client for the given study host. The session cookie
// set by Login is held by an http.CookieJar scoped to this client.
func New(ref StudyRef, logger *slog.Logger) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		http:   &http.Client{Jar: jar},
		scheme: ref.Scheme,
		host:   ref.Host,
		logger: logger,
	}, nil
}

func (c *Client) baseURL() string {
	return c.scheme + "://" + c.host
}

// Login posts credentials to /login; a non-200 response is a fatal
// AuthFailure.
func (c *Client) Login(ctx context.Context, username, password string) error {
	form := url.Values{"username": {username}, "password": {password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return relayerr.ErrAuthFailure(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return relayerr.ErrAuthFailure(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return relayerr.ErrAuthFailure(fmt.Errorf("login returned status %d", resp.StatusCode))
	}
	c.logger.Info("logged in", slog.String("username", username))
	return nil
}

// AccountInfo performs the informational GET /account/info call; its
// response is not otherwise consumed by the relay.
func (c *Client) AccountInfo(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL()+"/account/info", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// GetStudy fetches the study-level JSON: GET /study/<id>?_=<epoch>.
func (c *Client) GetStudy(ctx context.Context, studyID string, epoch int64) (*http.Response, error) {
	return c.get(ctx, fmt.Sprintf("/study/%s?_=%s", studyID, strconv.FormatInt(epoch, 10)))
}

// GetChapter fetches one chapter's JSON: GET
// /study/<id>/<chapterId>?_=<epoch> (the query parameter is a
// cache-buster).
func (c *Client) GetChapter(ctx context.Context, studyID, chapterID string, epoch int64) (*http.Response, error) {
	return c.get(ctx, fmt.Sprintf("/study/%s/%s?_=%s", studyID, chapterID, strconv.FormatInt(epoch, 10)))
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL()+path, nil)
	if err != nil {
		return nil, err
	}
	return c.http.Do(req)
}

// SetBaseURLForTest overwrites the client's scheme+host, for tests that
// need to point a *Client at an httptest.Server.
func (c *Client) SetBaseURLForTest(scheme, host string) {
	c.scheme = scheme
	c.host = host
}
