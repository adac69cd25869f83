package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pindl/internal/blobstore"
	"pindl/internal/downloader"
	"pindl/internal/extractor"
	"pindl/internal/history"
	"pindl/internal/pinboard"
	"pindl/internal/store"
	"pindl/internal/transcode"
	"pindl/pkg/models"
)

// RunOptions configures one session run
type RunOptions struct {
	Username       string
	MediaType      models.MediaType
	Overwrite      bool
	MaxPages       int
	EmptyPageLimit int
	PageSize       int

	// OnCounters receives the running success/skip/fail display counters
	// after every applied outcome.
	OnCounters func(success, skip, fail int)
}

// RunResult reports how a session ended
type RunResult struct {
	State  State
	Record *models.SessionRecord
}

// Runner drives one owner's session end to end: pagination, extraction,
// scheduling, outcome bookkeeping and persistence.
type Runner struct {
	client     *pinboard.Client
	extractor  *extractor.Service
	scheduler  *downloader.Scheduler
	transcoder transcode.Transcoder
	store      *store.Store
	history    *history.DB
	blob       blobstore.Store
	scratchDir string
	logger     *slog.Logger

	// cpMu guards the shared checkpoint snapshot; byte-progress callbacks
	// arrive from multiple workers.
	cpMu sync.Mutex
	cp   *models.CrashCheckpoint
}

// NewRunner wires a session runner. history may be nil when outcome rows
// should not be recorded.
func NewRunner(
	client *pinboard.Client,
	extractorSvc *extractor.Service,
	scheduler *downloader.Scheduler,
	transcoder transcode.Transcoder,
	persistence *store.Store,
	historyDB *history.DB,
	blob blobstore.Store,
	scratchDir string,
) *Runner {
	return &Runner{
		client:     client,
		extractor:  extractorSvc,
		scheduler:  scheduler,
		transcoder: transcoder,
		store:      persistence,
		history:    historyDB,
		blob:       blob,
		scratchDir: scratchDir,
		logger:     slog.Default(),
	}
}

// event is one terminal per-item message sent to the outcome inbox
type event struct {
	index     int
	outcome   Outcome
	reason    string
	path      string
	filename  string
	mediaType models.MediaType
}

func taskEvent(task downloader.Task, outcome Outcome, reason, path string) event {
	mediaType := models.MediaTypeImage
	if strings.HasSuffix(task.Folder, "/Videos") {
		mediaType = models.MediaTypeVideo
	}
	return event{
		index:     task.Index,
		outcome:   outcome,
		reason:    reason,
		path:      path,
		filename:  task.Filename,
		mediaType: mediaType,
	}
}

// pendingItem is one not-yet-processed item with its global index
type pendingItem struct {
	index int
	item  models.MediaItem
}

// Run executes a full session for one owner. Cancellation is not an error:
// the result carries StateCancelled and the persisted record is resumable.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	username := pinboard.NormalizeUsername(opts.Username)
	if opts.MediaType == "" {
		opts.MediaType = models.MediaTypeAll
	}

	tracker := NewTracker()
	if err := tracker.BeginFetch(); err != nil {
		return nil, err
	}

	r.cp = &models.CrashCheckpoint{
		TaskID:             uuid.NewString(),
		TaskKind:           models.TaskKindExtraction,
		Status:             models.TaskStatusActive,
		Owner:              username,
		LastCompletedIndex: -1,
	}
	r.persistCheckpoint()

	rec, resumed, err := r.loadOrFetch(ctx, username, opts)
	if err != nil {
		if models.IsCancelled(err) {
			_ = tracker.Cancel()
			r.markCheckpoint(models.TaskStatusInterrupted)
			return &RunResult{State: tracker.State()}, nil
		}
		_ = tracker.Fail()
		r.markCheckpoint(models.TaskStatusFailed)
		return &RunResult{State: tracker.State()}, err
	}
	if resumed {
		r.logger.Info("Resuming persisted session",
			"username", username,
			"items", len(rec.Items),
			"last_index", rec.LastCompletedIndex)
	}

	if err := tracker.SetRecord(rec); err != nil {
		_ = tracker.Fail()
		r.markCheckpoint(models.TaskStatusFailed)
		return &RunResult{State: tracker.State(), Record: rec},
			fmt.Errorf("no downloadable items for %s", username)
	}

	if err := tracker.BeginDownload(opts.MediaType, opts.Overwrite); err != nil {
		if errors.Is(err, ErrAllDownloaded) {
			r.markCheckpoint(models.TaskStatusCompleted)
			r.store.ClearCheckpoint()
			return &RunResult{State: tracker.State(), Record: rec}, err
		}
		return nil, err
	}

	// Persist the item list before any transfer so an interruption can
	// resume without refetching.
	r.persistRecord(rec)
	r.syncCheckpoint(rec, models.TaskKindDownload)

	directTasks, manifestItems, prefilled := r.routeItems(rec, username, opts.MediaType)

	events := make(chan event, len(rec.Items))
	for _, ev := range prefilled {
		events <- ev
	}

	var producers sync.WaitGroup
	producers.Add(1)
	go func() {
		defer producers.Done()
		_ = r.scheduler.Run(ctx, directTasks, opts.Overwrite, r.callbacks(events))
	}()
	producers.Add(1)
	go func() {
		defer producers.Done()
		r.processManifests(ctx, manifestItems, username, opts.Overwrite, events)
	}()
	go func() {
		producers.Wait()
		close(events)
	}()

	r.drainInbox(rec, tracker, events, opts.OnCounters)

	if ctx.Err() != nil {
		_ = tracker.Cancel()
	} else if err := tracker.Complete(); err != nil {
		r.logger.Warn("Could not complete session", "error", err)
	}

	r.persistRecord(rec)
	if tracker.State() == StateCompleted {
		r.markCheckpoint(models.TaskStatusCompleted)
		r.store.ClearCheckpoint()
	} else {
		r.markCheckpoint(models.TaskStatusInterrupted)
	}

	return &RunResult{State: tracker.State(), Record: rec}, nil
}

// loadOrFetch reuses the owner's persisted record in continue mode or walks
// the paginator for a fresh item list.
func (r *Runner) loadOrFetch(ctx context.Context, username string, opts RunOptions) (*models.SessionRecord, bool, error) {
	rec, ok, err := r.store.Load(username)
	if err != nil {
		// Best effort: a broken record never blocks a fresh fetch
		r.logger.Warn("Failed to load session record", "username", username, "error", err)
	}
	if ok && len(rec.Items) > 0 {
		return rec, true, nil
	}

	result, err := r.client.FetchAll(ctx, username, pinboard.Options{
		MaxPages:       opts.MaxPages,
		EmptyPageLimit: opts.EmptyPageLimit,
		PageSize:       opts.PageSize,
		OnPage: func(pageIndex, itemCount int) {
			r.cpMu.Lock()
			r.cp.CurrentPage = pageIndex + 1
			r.cpMu.Unlock()
			r.persistCheckpoint()
			r.logger.Info("Fetched page", "page", pageIndex+1, "items", itemCount)
		},
	})
	if err != nil {
		return nil, false, err
	}

	rawItems := make([]map[string]any, len(result.Items))
	for i, raw := range result.Items {
		rawItems[i] = raw
	}
	items := r.extractor.NormalizeAll(rawItems)

	owner := result.Owner
	if owner.Username == "" {
		owner.Username = username
	}
	return models.NewSessionRecord(owner, items), false, nil
}

// routeItems splits the pending range into direct download tasks, manifest
// items for the transcode path, and prefilled filtered events for items
// outside the media-type filter.
func (r *Runner) routeItems(rec *models.SessionRecord, username string, mediaType models.MediaType) ([]downloader.Task, []pendingItem, []event) {
	var directTasks []downloader.Task
	var manifestItems []pendingItem
	var prefilled []event

	for i := rec.LastCompletedIndex + 1; i < len(rec.Items); i++ {
		item := rec.Items[i]
		if !item.Matches(mediaType) {
			prefilled = append(prefilled, event{index: i, outcome: OutcomeFiltered})
			continue
		}

		if useVideo(&item, mediaType) {
			if item.Video.NeedsTranscode {
				manifestItems = append(manifestItems, pendingItem{index: i, item: item})
				continue
			}
			directTasks = append(directTasks, videoTask(i, item, username))
			continue
		}
		directTasks = append(directTasks, imageTask(i, item, username))
	}
	return directTasks, manifestItems, prefilled
}

// callbacks adapts scheduler callbacks into inbox events and byte-progress
// checkpoint updates.
func (r *Runner) callbacks(events chan<- event) downloader.Callbacks {
	return downloader.Callbacks{
		OnDone: func(task downloader.Task, publicPath string) {
			events <- taskEvent(task, OutcomeDone, "", publicPath)
		},
		OnSkip: func(task downloader.Task, reason string) {
			events <- taskEvent(task, OutcomeSkip, reason, "")
		},
		OnFail: func(task downloader.Task, reason string) {
			events <- taskEvent(task, OutcomeFail, reason, "")
		},
		OnProgress: func(task downloader.Task, received, total int64) {
			r.cpMu.Lock()
			r.cp.BytesReceived = received
			r.cp.BytesTotal = total
			r.cp.CurrentFilename = task.Filename
			snapshot := *r.cp
			r.cpMu.Unlock()
			if err := r.store.CheckpointBytes(&snapshot); err != nil {
				r.logger.Debug("Checkpoint byte write failed", "error", err)
			}
		},
	}
}

// processManifests handles manifest-backed video items. With a transcoder
// available each manifest is assembled into a container file and published;
// without one the item is re-extracted in the hope of a direct rendition,
// and fails with a readable reason when none exists.
func (r *Runner) processManifests(ctx context.Context, items []pendingItem, username string, overwrite bool, events chan<- event) {
	var fallbackTasks []downloader.Task

	for _, pending := range items {
		if ctx.Err() != nil {
			return
		}

		task := videoTask(pending.index, pending.item, username)
		if !overwrite && r.blob.Exists(task.Filename, task.Folder) {
			events <- taskEvent(task, OutcomeSkip, "already exists", "")
			continue
		}

		if r.transcoder != nil && r.transcoder.Available() {
			r.transcodeItem(ctx, pending, task, overwrite, events)
			continue
		}

		// Fallback re-extraction path: fetch the item detail again and
		// hope a directly fetchable rendition shows up.
		if task, ok := r.reextractDirect(ctx, pending, username); ok {
			fallbackTasks = append(fallbackTasks, task)
			continue
		}
		if ctx.Err() != nil {
			return
		}
		events <- taskEvent(task, OutcomeFail,
			"segmented stream requires transcoding and no direct rendition was found", "")
	}

	if len(fallbackTasks) > 0 {
		_ = r.scheduler.Run(ctx, fallbackTasks, overwrite, r.callbacks(events))
	}
}

// transcodeItem converts one manifest into a local container file and
// publishes it through the blob store.
func (r *Runner) transcodeItem(ctx context.Context, pending pendingItem, task downloader.Task, overwrite bool, events chan<- event) {
	scratchPath := filepath.Join(r.scratchDir, fmt.Sprintf("%s.%d.tmp.mp4", pending.item.ID, pending.index))
	defer os.Remove(scratchPath)

	if err := os.MkdirAll(r.scratchDir, 0o755); err != nil {
		events <- taskEvent(task, OutcomeFail, err.Error(), "")
		return
	}

	if err := r.transcoder.Convert(ctx, pending.item.Video.URL, "", scratchPath); err != nil {
		if ctx.Err() != nil {
			return
		}
		events <- taskEvent(task, OutcomeFail, fmt.Sprintf("transcode failed: %v", err), "")
		return
	}

	publicPath, err := r.blob.Publish(scratchPath, task.Filename, task.Folder, task.MimeType, overwrite)
	if err != nil {
		events <- taskEvent(task, OutcomeFail, fmt.Sprintf("publish failed: %v", err), "")
		return
	}
	events <- taskEvent(task, OutcomeDone, "", publicPath)
}

// reextractDirect refetches one item and resolves it again, accepting only
// a directly fetchable video URL.
func (r *Runner) reextractDirect(ctx context.Context, pending pendingItem, username string) (downloader.Task, bool) {
	raw, err := r.client.FetchPin(ctx, pending.item.ID)
	if err != nil {
		return downloader.Task{}, false
	}
	item, ok := r.extractor.Normalize(raw)
	if !ok || !item.HasVideo() || item.Video.NeedsTranscode {
		return downloader.Task{}, false
	}
	item.ID = pending.item.ID
	return videoTask(pending.index, *item, username), true
}

// drainInbox is the single writer for counters and the completed index. It
// buffers out-of-order worker completions and advances strictly
// sequentially, checkpointing every applied outcome.
func (r *Runner) drainInbox(rec *models.SessionRecord, tracker *Tracker, events <-chan event, onCounters func(int, int, int)) {
	buffered := make(map[int]event)
	next := rec.LastCompletedIndex + 1

	for ev := range events {
		buffered[ev.index] = ev
		for {
			applied, ok := buffered[next]
			if !ok {
				break
			}
			delete(buffered, next)
			next++

			tracker.Advance(applied.outcome)
			if applied.outcome != OutcomeFiltered {
				r.recordHistory(rec, applied)
				if onCounters != nil {
					onCounters(rec.SuccessCount, rec.SkipCount, rec.FailCount)
				}
			}
			r.syncCheckpoint(rec, models.TaskKindDownload)
		}
	}

	if len(buffered) > 0 {
		// Outcomes past a never-finished earlier item are dropped; the
		// resumed session rediscovers them via the exists check.
		r.logger.Debug("Discarding non-contiguous outcomes", "count", len(buffered))
	}
}

// recordHistory writes one outcome row; failures only get logged
func (r *Runner) recordHistory(rec *models.SessionRecord, ev event) {
	if r.history == nil {
		return
	}

	item := rec.Items[ev.index]
	status := history.StatusDone
	switch ev.outcome {
	case OutcomeSkip:
		status = history.StatusSkipped
	case OutcomeFail:
		status = history.StatusFailed
	}

	entry := &history.Entry{
		Owner:     rec.Author.Username,
		ItemID:    item.ID,
		Title:     item.Title,
		Filename:  ev.filename,
		MediaType: ev.mediaType,
		Status:    status,
		Reason:    ev.reason,
		Path:      ev.path,
		CreatedAt: time.Now(),
	}
	if err := r.history.RecordOutcome(entry); err != nil {
		r.logger.Warn("Failed to record history entry", "item", item.ID, "error", err)
	}
}

// syncCheckpoint copies the record's counters into the checkpoint and
// writes it immediately (index and count changes bypass the throttle).
func (r *Runner) syncCheckpoint(rec *models.SessionRecord, kind models.TaskKind) {
	r.cpMu.Lock()
	r.cp.TaskKind = kind
	r.cp.SuccessCount = rec.SuccessCount
	r.cp.SkipCount = rec.SkipCount
	r.cp.FailCount = rec.FailCount
	r.cp.LastCompletedIndex = rec.LastCompletedIndex
	snapshot := *r.cp
	r.cpMu.Unlock()

	if err := r.store.Checkpoint(&snapshot); err != nil {
		r.logger.Warn("Checkpoint write failed", "error", err)
	}
}

// markCheckpoint sets the checkpoint status and writes it
func (r *Runner) markCheckpoint(status models.TaskStatus) {
	r.cpMu.Lock()
	r.cp.Status = status
	snapshot := *r.cp
	r.cpMu.Unlock()

	if err := r.store.Checkpoint(&snapshot); err != nil {
		r.logger.Warn("Checkpoint write failed", "error", err)
	}
}

// persistCheckpoint writes the current checkpoint snapshot
func (r *Runner) persistCheckpoint() {
	r.cpMu.Lock()
	snapshot := *r.cp
	r.cpMu.Unlock()

	if err := r.store.Checkpoint(&snapshot); err != nil {
		r.logger.Warn("Checkpoint write failed", "error", err)
	}
}

// persistRecord saves the session record; the in-memory record stays
// authoritative when the write fails.
func (r *Runner) persistRecord(rec *models.SessionRecord) {
	if err := r.store.Save(rec); err != nil {
		r.logger.Warn("Failed to persist session record", "owner", rec.Author.Username, "error", err)
	}
}

// useVideo decides which side of an item a session transfers. The video
// side wins for both-sided items unless the session is images-only.
func useVideo(item *models.MediaItem, mediaType models.MediaType) bool {
	if mediaType == models.MediaTypeImage {
		return false
	}
	return item.HasVideo()
}

func videoTask(index int, item models.MediaItem, username string) downloader.Task {
	ext := extFromURL(item.Video.URL, ".mp4")
	if item.Video.NeedsTranscode {
		ext = ".mp4"
	}
	return downloader.Task{
		Index:    index,
		Item:     item,
		URL:      item.Video.URL,
		Filename: item.ID + ext,
		Folder:   store.OwnerFolder(username) + "/Videos",
		MimeType: mimeForExt(ext),
	}
}

func imageTask(index int, item models.MediaItem, username string) downloader.Task {
	ext := extFromURL(item.Image, ".jpg")
	return downloader.Task{
		Index:    index,
		Item:     item,
		URL:      item.Image,
		Filename: item.ID + ext,
		Folder:   store.OwnerFolder(username) + "/Images",
		MimeType: mimeForExt(ext),
	}
}

// extFromURL pulls the file extension out of a URL path, falling back when
// the URL has none.
func extFromURL(rawURL, fallback string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fallback
	}
	ext := strings.ToLower(path.Ext(parsed.Path))
	if ext == "" || ext == models.ManifestExtension {
		return fallback
	}
	return ext
}

func mimeForExt(ext string) string {
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	default:
		return "application/octet-stream"
	}
}
