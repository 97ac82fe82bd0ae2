// Package poll implements the poll driver: it periodically feeds
// fresh PGN bytes to the sync engine from a URL, a single file, or a
// directory of files.
package poll

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nmxmxh/pgnstudyrelay/internal/pgn"
	"github.com/nmxmxh/pgnstudyrelay/internal/relayerr"
)

// Kind classifies the source argument.
type Kind int

const (
	KindURL Kind = iota
	KindDirectory
	KindFile
)

// Source is a classified poll source.
type Source struct {
	Kind  Kind
	Value string
}

// Classify inspects raw: an http(s):// prefix selects URL polling; an
// existing directory selects a directory walk; anything else is
// treated as a single re-read file.
func Classify(raw string) (Source, error) {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return Source{Kind: KindURL, Value: raw}, nil
	}
	info, err := os.Stat(raw)
	if err == nil && info.IsDir() {
		return Source{Kind: KindDirectory, Value: raw}, nil
	}
	return Source{Kind: KindFile, Value: raw}, nil
}

// Syncer is the sync engine's entry point, as seen by the poll driver.
type Syncer interface {
	Sync(ctx context.Context, g pgn.Game) error
}

// Clock supplies the epoch-seconds cache-buster for URL polling.
type Clock func() int64

// Driver runs one of the three poll shapes in a loop until ctx is
// cancelled or an unrecoverable transport/auth failure is observed
// upstream: websocket loss is terminal for the run, and the poll
// driver's outer loop only observes that state via ctx.
type Driver struct {
	source    Source
	pollDelay time.Duration
	decoder   pgn.Decoder
	syncer    Syncer
	logger    *slog.Logger
	http      *http.Client
	now       Clock

	processed map[string]bool
}

// New builds a Driver. now defaults to time.Now().Unix() when nil.
func New(source Source, pollDelay time.Duration, decoder pgn.Decoder, syncer Syncer, logger *slog.Logger, httpClient *http.Client, now Clock) *Driver {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Driver{
		source:    source,
		pollDelay: pollDelay,
		decoder:   decoder,
		syncer:    syncer,
		logger:    logger,
		http:      httpClient,
		now:       now,
		processed: make(map[string]bool),
	}
}

// Run drives the configured source until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	switch d.source.Kind {
	case KindURL:
		return d.runURL(ctx)
	case KindDirectory:
		return d.runDirectory(ctx)
	default:
		return d.runFile(ctx)
	}
}

func (d *Driver) runURL(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		url := fmt.Sprintf("%s?v=%s", d.source.Value, strconv.FormatInt(d.now(), 10))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err == nil {
			resp, err := d.http.Do(req)
			if err != nil {
				d.logger.Warn("poll fetch failed", slog.Any("err", err))
			} else {
				body, readErr := io.ReadAll(resp.Body)
				resp.Body.Close()
				if readErr != nil {
					d.logger.Warn("poll read failed", slog.Any("err", readErr))
				} else {
					d.feed(ctx, body)
				}
			}
		}
		if d.sleepOrDone(ctx) {
			return nil
		}
	}
}

func (d *Driver) runDirectory(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		paths, err := filepath.Glob(filepath.Join(d.source.Value, "*.pgn"))
		if err != nil {
			d.logger.Warn("directory listing failed", slog.Any("err", err))
		} else {
			sort.Strings(paths)
			for _, p := range paths {
				if d.processed[p] {
					continue
				}
				body, err := os.ReadFile(p)
				if err != nil {
					d.logger.Warn("pgn file read failed", slog.String("path", p), slog.Any("err", err))
					continue
				}
				d.feed(ctx, body)
				d.processed[p] = true
				if d.sleepOrDone(ctx) {
					return nil
				}
			}
		}
		if d.sleepOrDone(ctx) {
			return nil
		}
	}
}

func (d *Driver) runFile(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		body, err := os.ReadFile(d.source.Value)
		if err != nil {
			d.logger.Warn("pgn file read failed", slog.String("path", d.source.Value), slog.Any("err", err))
		} else {
			d.feed(ctx, body)
		}
		if d.sleepOrDone(ctx) {
			return nil
		}
	}
}

func (d *Driver) sleepOrDone(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-time.After(d.pollDelay):
		return false
	}
}

var bom = []byte{0xEF, 0xBB, 0xBF}

// feed strips a leading UTF-8 BOM, decodes the remaining bytes as
// ISO-8859-1, parses them, and hands each game to the sync engine. A
// parse failure is MalformedPGN: non-fatal, the cycle is skipped.
func (d *Driver) feed(ctx context.Context, raw []byte) {
	raw = bytes.TrimPrefix(raw, bom)
	text := latin1ToUTF8(raw)

	games, err := d.decoder.Decode([]byte(text))
	if err != nil {
		relayErr := relayerr.ErrMalformedPGN(err)
		d.logger.Warn("pgn decode failed", slog.Any("err", relayErr))
		return
	}
	for _, g := range games {
		if err := d.syncer.Sync(ctx, g); err != nil {
			d.logger.Warn("sync cycle failed", slog.Any("err", err))
		}
	}
}

// latin1ToUTF8 re-encodes ISO-8859-1 bytes as a UTF-8 Go string: each
// input byte is its own Unicode code point (0-255), which is exactly
// what ISO-8859-1 guarantees. No ecosystem repo in the retrieval pack
// imports an encoding/charmap style package for this, so it is done
// directly rather than adding a dependency for a seven-line mapping.
func latin1ToUTF8(raw []byte) string {
	runes := make([]rune, len(raw))
	for i, b := range raw {
		runes[i] = rune(b)
	}
	return string(runes)
}
