package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"pindl/internal/blobstore"
	"pindl/internal/cleanup"
	"pindl/internal/config"
	"pindl/internal/downloader"
	"pindl/internal/extractor"
	"pindl/internal/fetch"
	"pindl/internal/history"
	"pindl/internal/pinboard"
	"pindl/internal/session"
	"pindl/internal/store"
	"pindl/internal/transcode"
	"pindl/pkg/fuzzy"
	"pindl/pkg/models"
)

// historyRetention bounds how long per-item outcome rows are kept
const historyRetention = 60 * 24 * time.Hour

func main() {
	if err := run(); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	user := flag.String("user", "", "owner handle or profile URL to download")
	pin := flag.String("pin", "", "single item ID to download")
	mediaType := flag.String("type", "all", "media type filter: all, images or videos")
	overwrite := flag.Bool("overwrite", false, "re-download files that already exist")
	concurrency := flag.Int("concurrency", 0, "parallel transfers (overrides CONCURRENCY)")
	maxPages := flag.Int("max-pages", 0, "page ceiling for one run (overrides MAX_PAGES)")
	resume := flag.Bool("resume", false, "continue the session recorded by a previous interrupted run")
	showHistory := flag.Bool("history", false, "list recorded downloads, optionally fuzzy-filtered by the first argument")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	setupLogging(cfg.LogLevel)

	switch models.MediaType(*mediaType) {
	case models.MediaTypeAll, models.MediaTypeImage, models.MediaTypeVideo:
	default:
		return fmt.Errorf("invalid -type %q, must be all, images or videos", *mediaType)
	}
	if *concurrency > 0 {
		cfg.Concurrency = *concurrency
	}
	if *maxPages > 0 {
		cfg.MaxPages = *maxPages
	}

	historyDB, err := history.New(filepath.Join(cfg.StatePath, "history.db"))
	if err != nil {
		// History is a convenience layer; a broken database never blocks
		// the downloads themselves.
		slog.Warn("History database unavailable", "error", err)
		historyDB = nil
	} else {
		defer historyDB.Close()
		if err := historyDB.DeleteOldEntries(historyRetention); err != nil {
			slog.Warn("Failed to prune old history entries", "error", err)
		}
	}

	if *showHistory {
		return printHistory(historyDB, flag.Arg(0))
	}
	if *user == "" && *pin == "" && !*resume {
		flag.Usage()
		return fmt.Errorf("one of -user, -pin or -resume is required")
	}

	blob, err := blobstore.NewLocal(cfg.RootPath)
	if err != nil {
		return fmt.Errorf("failed to open blob store: %w", err)
	}

	persistence := store.New(blob, cfg.StatePath)
	sweeper := cleanup.NewService(cfg.ScratchPath)
	if removed, err := sweeper.SweepStale(); err != nil {
		slog.Warn("Scratch sweep failed", "error", err)
	} else if removed > 0 {
		slog.Info("Removed stale scratch files from a previous session", "count", removed)
	}

	owner := *user
	if cp, ok := persistence.LoadCheckpoint(); ok && cp.Resumable() {
		if *resume || pinboard.NormalizeUsername(owner) == cp.Owner {
			slog.Info("Continuing interrupted session",
				"owner", cp.Owner,
				"last_index", cp.LastCompletedIndex,
				"success", cp.SuccessCount,
				"skip", cp.SkipCount,
				"fail", cp.FailCount)
			if owner == "" {
				owner = cp.Owner
			}
		} else {
			slog.Warn("A previous session was interrupted; rerun with -resume to continue it",
				"owner", cp.Owner)
		}
	}
	if owner == "" && *pin == "" {
		return fmt.Errorf("no interrupted session found to resume")
	}

	timeout := time.Duration(cfg.HTTPTimeoutSec) * time.Second
	fetcher := fetch.New(timeout)
	client := pinboard.New(fetcher.HTTPClient())
	scheduler := downloader.NewScheduler(blob, fetcher, cfg.ScratchPath, cfg.Concurrency)
	transcoder := transcode.NewFFmpeg()
	if !transcoder.Available() {
		slog.Info("ffmpeg not found; segmented streams fall back to direct renditions")
	}

	runner := session.NewRunner(client, extractor.NewService(), scheduler, transcoder,
		persistence, historyDB, blob, cfg.ScratchPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("Received shutdown signal", "signal", sig.String())
		cancel()
	}()

	if *pin != "" {
		return runSinglePin(ctx, runner, *pin, *overwrite)
	}

	result, err := runner.Run(ctx, session.RunOptions{
		Username:       owner,
		MediaType:      models.MediaType(*mediaType),
		Overwrite:      *overwrite,
		MaxPages:       cfg.MaxPages,
		EmptyPageLimit: cfg.EmptyPageLimit,
		PageSize:       cfg.PageSize,
		OnCounters: func(success, skip, fail int) {
			fmt.Printf("\rdone %d  skipped %d  failed %d", success, skip, fail)
		},
	})
	fmt.Println()
	if err != nil {
		if errors.Is(err, session.ErrAllDownloaded) {
			slog.Info("Nothing to do, everything is already downloaded", "owner", owner)
			return nil
		}
		if result != nil && result.State == session.StateCancelled {
			return nil
		}
		return err
	}

	if result.State == session.StateCancelled {
		// Cancellation ends cleanly; the persisted record is resumable
		_ = sweeper.SweepAll()
	}
	printBanner(result)
	return nil
}

func runSinglePin(ctx context.Context, runner *session.Runner, pinID string, overwrite bool) error {
	item, err := runner.RunSingle(ctx, pinID, overwrite)
	if err != nil {
		if models.IsCancelled(err) {
			slog.Info("Cancelled")
			return nil
		}
		return err
	}
	slog.Info("Item downloaded", "id", item.ID, "title", item.Title)
	return nil
}

func printBanner(result *session.RunResult) {
	rec := result.Record
	switch result.State {
	case session.StateCompleted:
		fmt.Printf("completed: %d downloaded, %d skipped, %d failed\n",
			rec.SuccessCount, rec.SkipCount, rec.FailCount)
	case session.StateCancelled:
		fmt.Printf("interrupted at item %d of %d; rerun with -resume to continue\n",
			rec.LastCompletedIndex+1, len(rec.Items))
	default:
		fmt.Println("failed; a fresh start is required")
	}
}

// printHistory lists recorded downloads, fuzzy-ranked by owner when a
// query is given.
func printHistory(db *history.DB, query string) error {
	if db == nil {
		return fmt.Errorf("history database unavailable")
	}

	var entries []*history.Entry
	if query == "" {
		var err error
		entries, err = db.ListRecent(50)
		if err != nil {
			return err
		}
	} else {
		owners, err := db.Owners()
		if err != nil {
			return err
		}
		ranked := fuzzy.NewMatcher().RankOwners(query, owners)
		if len(ranked) == 0 {
			fmt.Printf("no recorded owners match %q\n", query)
			return nil
		}
		entries, err = db.ListByOwner(ranked[0], 50)
		if err != nil {
			return err
		}
	}

	for _, entry := range entries {
		fmt.Printf("%s  @%-20s %-9s %s  %s\n",
			entry.CreatedAt.Format("2006-01-02 15:04"),
			entry.Owner, entry.Status, entry.Filename,
			humanize.Time(entry.CreatedAt))
	}
	if len(entries) == 0 {
		fmt.Println("no downloads recorded yet")
	}
	return nil
}

// setupLogging configures structured logging based on the log level
func setupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	handler := slog.NewTextHandler(os.Stderr, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)
}
