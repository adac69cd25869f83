// Package downloader implements the bounded-concurrency download scheduler
package downloader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"pindl/pkg/models"
)

// DefaultConcurrency is the worker pool size when the caller passes 0
const DefaultConcurrency = 3

// progressLogInterval throttles per-item progress log lines
const progressLogInterval = 500 * time.Millisecond

// Task is one directly-fetchable transfer. Manifest-backed video items are
// never submitted here; the session layer routes them to the transcoder.
type Task struct {
	Index    int
	Item     models.MediaItem
	URL      string
	Filename string
	Folder   string
	MimeType string
}

// Callbacks report per-item outcomes and byte progress. OnProgress is the
// only sub-item-granularity signal exposed; it fires per chunk for the item
// currently transferring.
type Callbacks struct {
	OnDone     func(task Task, publicPath string)
	OnSkip     func(task Task, reason string)
	OnFail     func(task Task, reason string)
	OnProgress func(task Task, bytesReceived, bytesTotal int64)
}

// Scheduler drains a task list through a bounded worker pool
type Scheduler struct {
	blob        BlobStore
	fetcher     Fetcher
	scratchDir  string
	concurrency int
	logger      *slog.Logger
}

// NewScheduler creates a download scheduler writing scratch files under
// scratchDir before publishing them through the blob store.
func NewScheduler(blob BlobStore, fetcher Fetcher, scratchDir string, concurrency int) *Scheduler {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &Scheduler{
		blob:        blob,
		fetcher:     fetcher,
		scratchDir:  scratchDir,
		concurrency: concurrency,
		logger:      slog.Default(),
	}
}

// Run blocks until every task got a terminal outcome or ctx is cancelled.
// Cancellation aborts in-flight transfers, discards their scratch files and
// drops the pending queue; tasks that never started get no callback at all.
// A single task's failure never stops the queue.
func (s *Scheduler) Run(ctx context.Context, tasks []Task, overwrite bool, cb Callbacks) error {
	if len(tasks) == 0 {
		return nil
	}
	if err := os.MkdirAll(s.scratchDir, 0o755); err != nil {
		return fmt.Errorf("failed to create scratch directory: %w", err)
	}

	queue := make(chan Task, len(tasks))
	for _, task := range tasks {
		queue <- task
	}
	close(queue)

	var wg sync.WaitGroup
	for i := 0; i < s.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case task, ok := <-queue:
					if !ok {
						return
					}
					s.process(ctx, task, overwrite, cb)
				}
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return models.ErrCancelled
	}
	return nil
}

// process handles one task end to end: skip check, scratch transfer, publish
func (s *Scheduler) process(ctx context.Context, task Task, overwrite bool, cb Callbacks) {
	if !overwrite && s.blob.Exists(task.Filename, task.Folder) {
		s.logger.Debug("Skipping existing file", "filename", task.Filename, "folder", task.Folder)
		if cb.OnSkip != nil {
			cb.OnSkip(task, "already exists")
		}
		return
	}

	scratchPath := filepath.Join(s.scratchDir, fmt.Sprintf("%s.%d.tmp", task.Filename, task.Index))
	defer func() {
		// Publish moves the scratch file on success, so this is a no-op
		// then; it matters on failure and cancellation.
		if err := os.Remove(scratchPath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("Failed to remove scratch file", "path", scratchPath, "error", err)
		}
	}()

	lastLog := time.Now()
	err := s.fetcher.Fetch(ctx, task.URL, scratchPath, func(received, total int64) {
		if cb.OnProgress != nil {
			cb.OnProgress(task, received, total)
		}
		if now := time.Now(); now.Sub(lastLog) >= progressLogInterval {
			s.logger.Debug("Transfer progress",
				"filename", task.Filename,
				"received", humanize.Bytes(uint64(received)))
			lastLog = now
		}
	})
	if err != nil {
		if models.IsCancelled(err) || ctx.Err() != nil {
			return
		}
		if cb.OnFail != nil {
			cb.OnFail(task, err.Error())
		}
		return
	}

	publicPath, err := s.blob.Publish(scratchPath, task.Filename, task.Folder, task.MimeType, overwrite)
	if err != nil {
		if cb.OnFail != nil {
			cb.OnFail(task, fmt.Sprintf("publish failed: %v", err))
		}
		return
	}

	s.logger.Info("Download completed", "filename", task.Filename, "path", publicPath)
	if cb.OnDone != nil {
		cb.OnDone(task, publicPath)
	}
}
