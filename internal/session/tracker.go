// Package session orchestrates one owner's extraction and download run and
// tracks its authoritative state.
package session

import (
	"errors"
	"fmt"

	"pindl/pkg/models"
)

// State is the lifecycle position of one session
type State string

const (
	StateIdle            State = "idle"
	StateFetchingInfo    State = "fetching_info"
	StateReadyToDownload State = "ready_to_download"
	StateDownloading     State = "downloading"
	StateCompleted       State = "completed"
	StateCancelled       State = "cancelled"
	StateFailed          State = "failed"
)

// Terminal reports whether the state is an exit state
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// ErrAllDownloaded blocks a download start when the selected media type has
// no remaining items and overwrite is disabled.
var ErrAllDownloaded = errors.New("all items of the selected type are already downloaded")

// Outcome is one terminal per-item result fed to the tracker
type Outcome int

const (
	OutcomeDone Outcome = iota
	OutcomeSkip
	OutcomeFail
	// OutcomeFiltered advances past an item outside the active media-type
	// filter without touching the user-visible counters.
	OutcomeFiltered
)

// Tracker is the session state machine. Pure counters and transitions, no
// I/O; exactly one goroutine mutates it (the runner's outcome inbox).
type Tracker struct {
	state  State
	record *models.SessionRecord
}

// NewTracker creates a tracker in the idle state
func NewTracker() *Tracker {
	return &Tracker{state: StateIdle}
}

// State returns the current lifecycle state
func (t *Tracker) State() State {
	return t.state
}

// Record returns the session record the tracker owns; nil before SetRecord
func (t *Tracker) Record() *models.SessionRecord {
	return t.record
}

// BeginFetch moves idle -> fetchingInfo
func (t *Tracker) BeginFetch() error {
	if t.state != StateIdle {
		return t.invalid(StateFetchingInfo)
	}
	t.state = StateFetchingInfo
	return nil
}

// SetRecord moves fetchingInfo -> readyToDownload. Requires at least one
// normalized item.
func (t *Tracker) SetRecord(rec *models.SessionRecord) error {
	if t.state != StateFetchingInfo {
		return t.invalid(StateReadyToDownload)
	}
	if rec == nil || len(rec.Items) == 0 {
		return fmt.Errorf("cannot become ready without items")
	}
	t.record = rec
	t.state = StateReadyToDownload
	return nil
}

// BeginDownload moves readyToDownload -> downloading. Refused with
// ErrAllDownloaded when nothing of the selected type remains and overwrite
// is disabled. Once downloading, a session only exits via a terminal state.
func (t *Tracker) BeginDownload(mediaType models.MediaType, overwrite bool) error {
	if t.state != StateReadyToDownload {
		return t.invalid(StateDownloading)
	}
	if !overwrite && t.record.Remaining(mediaType) == 0 {
		return ErrAllDownloaded
	}
	t.state = StateDownloading
	return nil
}

// Advance applies one terminal per-item outcome in item order. The index
// moves by exactly one per outcome, never skipped or batched; counters only
// ever grow.
func (t *Tracker) Advance(outcome Outcome) {
	switch outcome {
	case OutcomeDone:
		t.record.SuccessCount++
	case OutcomeSkip:
		t.record.SkipCount++
	case OutcomeFail:
		t.record.FailCount++
	}
	t.record.LastCompletedIndex++
}

// Complete moves downloading -> completed
func (t *Tracker) Complete() error {
	if t.state != StateDownloading {
		return t.invalid(StateCompleted)
	}
	t.state = StateCompleted
	t.record.WasInterrupted = false
	return nil
}

// Cancel records user cancellation, preserving all counters
func (t *Tracker) Cancel() error {
	switch t.state {
	case StateFetchingInfo, StateReadyToDownload, StateDownloading:
		t.state = StateCancelled
		if t.record != nil {
			t.record.WasInterrupted = true
		}
		return nil
	default:
		return t.invalid(StateCancelled)
	}
}

// Fail moves a non-terminal state to failed
func (t *Tracker) Fail() error {
	if t.state.Terminal() || t.state == StateIdle {
		return t.invalid(StateFailed)
	}
	t.state = StateFailed
	return nil
}

func (t *Tracker) invalid(to State) error {
	return fmt.Errorf("invalid transition %s -> %s", t.state, to)
}
