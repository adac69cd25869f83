package models

import (
	"time"
)

// SessionRecord is the durable, resumable unit of work for one owner. It is
// persisted as a single JSON document keyed by the owner's stable numeric ID
// and overwritten at session end or on interruption. Counters accumulate
// across resumed sessions and are never reset.
type SessionRecord struct {
	Author             OwnerMeta   `json:"author"`
	Items              []MediaItem `json:"pins"`
	TotalImages        int         `json:"totalImages"`
	TotalVideos        int         `json:"totalVideos"`
	SuccessCount       int         `json:"success_downloaded"`
	SkipCount          int         `json:"skip_downloaded"`
	FailCount          int         `json:"failed_downloaded"`
	LastCompletedIndex int         `json:"last_index_downloaded"`
	WasInterrupted     bool        `json:"was_interrupted"`
	SavedAt            time.Time   `json:"saved_at"`
}

// NewSessionRecord creates a fresh record with nothing completed yet
func NewSessionRecord(author OwnerMeta, items []MediaItem) *SessionRecord {
	rec := &SessionRecord{
		Author:             author,
		Items:              items,
		LastCompletedIndex: -1,
	}
	for i := range items {
		if items[i].HasImage() {
			rec.TotalImages++
		}
		if items[i].HasVideo() {
			rec.TotalVideos++
		}
	}
	return rec
}

// Total returns the item count for the given media-type filter
func (r *SessionRecord) Total(mediaType MediaType) int {
	switch mediaType {
	case MediaTypeImage:
		return r.TotalImages
	case MediaTypeVideo:
		return r.TotalVideos
	default:
		return len(r.Items)
	}
}

// Remaining computes the pending work for a media-type filter, clamped to
// zero. The index is global across the item list, so for a typed filter this
// is an upper bound rather than an exact count.
func (r *SessionRecord) Remaining(mediaType MediaType) int {
	remaining := r.Total(mediaType) - (r.LastCompletedIndex + 1)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Processed returns the cumulative outcome total across all sessions
func (r *SessionRecord) Processed() int {
	return r.SuccessCount + r.SkipCount + r.FailCount
}

// TaskKind distinguishes the two phases a crash checkpoint can cover
type TaskKind string

const (
	TaskKindExtraction TaskKind = "extraction"
	TaskKindDownload   TaskKind = "download"
)

// TaskStatus is the lifecycle state recorded in a crash checkpoint
type TaskStatus string

const (
	TaskStatusActive      TaskStatus = "active"
	TaskStatusInterrupted TaskStatus = "interrupted"
	TaskStatusCompleted   TaskStatus = "completed"
	TaskStatusFailed      TaskStatus = "failed"
)

// CrashCheckpoint is the ephemeral high-frequency recovery record, distinct
// from SessionRecord. It is created when a session starts, updated on every
// state-affecting event (byte-progress fields through a throttle), deleted on
// clean completion, and read once at process start to offer resume.
type CrashCheckpoint struct {
	TaskID             string     `json:"task_id"`
	TaskKind           TaskKind   `json:"task_kind"`
	Status             TaskStatus `json:"status"`
	Owner              string     `json:"owner"`
	SuccessCount       int        `json:"success_downloaded"`
	SkipCount          int        `json:"skip_downloaded"`
	FailCount          int        `json:"failed_downloaded"`
	LastCompletedIndex int        `json:"last_index_downloaded"`
	CurrentPage        int        `json:"current_page"`
	BytesReceived      int64      `json:"bytes_received"`
	BytesTotal         int64      `json:"bytes_total"`
	CurrentFilename    string     `json:"current_filename"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Resumable reports whether the checkpoint describes a session worth
// offering to resume at process start.
func (c *CrashCheckpoint) Resumable() bool {
	return c.Status == TaskStatusActive || c.Status == TaskStatusInterrupted
}
