// Command pgnstudyrelay observes a stream of PGN data and projects it
// incrementally into a remote study's move tree.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nmxmxh/pgnstudyrelay/internal/lichess"
	"github.com/nmxmxh/pgnstudyrelay/internal/pgn"
	"github.com/nmxmxh/pgnstudyrelay/internal/poll"
	"github.com/nmxmxh/pgnstudyrelay/internal/study"
	syncengine "github.com/nmxmxh/pgnstudyrelay/internal/sync"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: pgnstudyrelay <username> <password> <study_url> <source> [--poll_delay <seconds>] [--log_ws]")
	flag.PrintDefaults()
}

func main() {
	pollDelay := flag.Float64("poll_delay", 1.0, "seconds between poll cycles")
	logWS := flag.Bool("log_ws", false, "log every outbound websocket frame")
	flag.Usage = usage
	flag.Parse()

	// Flags may also follow the four positional arguments, as in the
	// usage line; flag.Parse stops at the first positional, so parse
	// whatever comes after them as flags too.
	args := flag.Args()
	if len(args) > 4 {
		_ = flag.CommandLine.Parse(args[4:])
		if flag.NArg() != 0 {
			usage()
			os.Exit(2)
		}
		args = args[:4]
	}
	if len(args) != 4 {
		usage()
		os.Exit(2)
	}
	username, password, studyURL, source := args[0], args[1], args[2], args[3]

	logOpts := &slog.HandlerOptions{}
	if *logWS {
		// The client logs outbound frames at Debug level.
		logOpts.Level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, logOpts))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := run(ctx, logger, username, password, studyURL, source, time.Duration(*pollDelay*float64(time.Second)), *logWS)
	os.Exit(code)
}

func run(ctx context.Context, logger *slog.Logger, username, password, studyURL, sourceArg string, pollDelay time.Duration, logWS bool) int {
	ref, err := lichess.ParseStudyURL(studyURL)
	if err != nil {
		logger.Error("invalid study URL", slog.Any("err", err))
		return 1
	}

	httpClient, err := lichess.New(ref, logger)
	if err != nil {
		logger.Error("building http client failed", slog.Any("err", err))
		return 1
	}
	if err := httpClient.Login(ctx, username, password); err != nil {
		logger.Error("login failed", slog.Any("err", err))
		return 1
	}
	_ = httpClient.AccountInfo(ctx)

	cache := study.NewChapterCache(ref.ID, httpClient, func() int64 { return time.Now().Unix() }, logger)
	if _, err := cache.SyncFull(ctx); err != nil {
		logger.Error("initial study sync failed", slog.Any("err", err))
		return 1
	}

	wsClient := study.NewClient(cache, username, logWS, logger)
	wsURL := ref.WebsocketURL(wsClient.SRI())
	if err := wsClient.Connect(ctx, wsURL, study.DefaultDialer{}); err != nil {
		logger.Error("websocket connect failed", slog.Any("err", err))
		return 1
	}
	defer wsClient.Close()

	if err := wsClient.EnsureContributor(); err != nil {
		logger.Error("not a contributor", slog.Any("err", err))
		return 1
	}

	engine := syncengine.New(cache, wsClient, logger, nil)

	src, err := poll.Classify(sourceArg)
	if err != nil {
		logger.Error("invalid source", slog.Any("err", err))
		return 1
	}
	driver := poll.New(src, pollDelay, pgn.NotWired(), engine, logger, nil, nil)

	pollCtx, cancelPoll := context.WithCancel(ctx)
	defer cancelPoll()

	done := make(chan error, 1)
	go func() { done <- driver.Run(pollCtx) }()

	select {
	case <-ctx.Done():
		cancelPoll()
		<-done
		return 0
	case <-wsClient.Done():
		// Transport loss is terminal for the run: no in-process
		// reconnect, the poll loop is torn down and the process exits
		// non-zero.
		cancelPoll()
		<-done
		logger.Error("websocket transport lost")
		return 1
	case err := <-done:
		if err != nil {
			logger.Error("poll driver exited", slog.Any("err", err))
			return 1
		}
		return 0
	}
}
