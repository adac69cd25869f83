// Package store persists session records and crash checkpoints
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"pindl/internal/blobstore"
	"pindl/pkg/models"
)

const (
	checkpointFilename = "checkpoint.json"

	// byteThrottle caps checkpoint writes driven by byte progress at one
	// per second; index and counter changes bypass it.
	byteThrottle = time.Second
)

// Store is the persistence adapter. Session records go through the blob
// store so they live next to the downloaded files; the crash checkpoint is
// a local state-dir file written far more often.
type Store struct {
	blob     blobstore.Store
	stateDir string
	logger   *slog.Logger

	mu            sync.Mutex
	lastByteWrite time.Time
}

// New creates a persistence adapter
func New(blob blobstore.Store, stateDir string) *Store {
	return &Store{
		blob:     blob,
		stateDir: stateDir,
		logger:   slog.Default(),
	}
}

// OwnerFolder is the blob folder holding one owner's files and record
func OwnerFolder(username string) string {
	return "@" + username
}

// recordName derives the session filename from the owner's stable numeric
// identifier, never the mutable display name, so a renamed account does not
// grow duplicate records.
func recordName(author models.OwnerMeta) string {
	if author.ID != "" {
		return author.ID + ".json"
	}
	return author.Username + ".json"
}

// Save overwrites the owner's session record
func (s *Store) Save(rec *models.SessionRecord) error {
	rec.SavedAt = time.Now().UTC()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return &models.PersistenceError{Op: "encode session", Err: err}
	}

	folder := OwnerFolder(rec.Author.Username)
	if _, err := s.blob.WriteText(string(data), recordName(rec.Author), folder); err != nil {
		return &models.PersistenceError{Op: "write session", Err: err}
	}
	return nil
}

// Load finds the owner's session record by scanning the owner folder for a
// JSON document; the filename is the numeric ID, which the caller does not
// know before the first fetch.
func (s *Store) Load(username string) (*models.SessionRecord, bool, error) {
	folder := OwnerFolder(username)
	names, err := s.blob.List(folder, ".json")
	if err != nil {
		return nil, false, &models.PersistenceError{Op: "list session folder", Err: err}
	}
	if len(names) == 0 {
		return nil, false, nil
	}

	content, ok, err := s.blob.ReadText(names[0], folder)
	if err != nil {
		return nil, false, &models.PersistenceError{Op: "read session", Err: err}
	}
	if !ok {
		return nil, false, nil
	}

	var rec models.SessionRecord
	if err := json.Unmarshal([]byte(content), &rec); err != nil {
		return nil, false, &models.PersistenceError{Op: "decode session", Err: err}
	}
	if rec.LastCompletedIndex >= len(rec.Items) {
		return nil, false, &models.PersistenceError{
			Op:  "validate session",
			Err: fmt.Errorf("last index %d out of range for %d items", rec.LastCompletedIndex, len(rec.Items)),
		}
	}
	return &rec, true, nil
}

// SaveItemMetadata writes a single item's metadata JSON for single-item
// sessions, under the flat metadata folder.
func (s *Store) SaveItemMetadata(item *models.MediaItem) error {
	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return &models.PersistenceError{Op: "encode metadata", Err: err}
	}
	if _, err := s.blob.WriteText(string(data), item.ID+".json", "metadata"); err != nil {
		return &models.PersistenceError{Op: "write metadata", Err: err}
	}
	return nil
}

func (s *Store) checkpointPath() string {
	return filepath.Join(s.stateDir, checkpointFilename)
}

// Checkpoint writes the crash checkpoint immediately. Index and counter
// changes go through here; at most one checkpoint exists at a time.
func (s *Store) Checkpoint(cp *models.CrashCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeCheckpoint(cp)
}

// CheckpointBytes writes the checkpoint for a byte-progress change, gated
// so these high-frequency updates hit disk at most once per second.
func (s *Store) CheckpointBytes(cp *models.CrashCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Since(s.lastByteWrite) < byteThrottle {
		return nil
	}
	s.lastByteWrite = time.Now()
	return s.writeCheckpoint(cp)
}

func (s *Store) writeCheckpoint(cp *models.CrashCheckpoint) error {
	cp.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(cp)
	if err != nil {
		return &models.PersistenceError{Op: "encode checkpoint", Err: err}
	}
	if err := os.MkdirAll(s.stateDir, 0o755); err != nil {
		return &models.PersistenceError{Op: "create state dir", Err: err}
	}
	if err := os.WriteFile(s.checkpointPath(), data, 0o644); err != nil {
		return &models.PersistenceError{Op: "write checkpoint", Err: err}
	}
	return nil
}

// LoadCheckpoint reads the pending checkpoint, if any. Called once at
// process start to offer resume.
func (s *Store) LoadCheckpoint() (*models.CrashCheckpoint, bool) {
	data, err := os.ReadFile(s.checkpointPath())
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Failed to read checkpoint", "error", err)
		}
		return nil, false
	}

	var cp models.CrashCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		s.logger.Warn("Discarding unreadable checkpoint", "error", err)
		return nil, false
	}
	return &cp, true
}

// ClearCheckpoint removes the checkpoint after clean completion
func (s *Store) ClearCheckpoint() {
	if err := os.Remove(s.checkpointPath()); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("Failed to clear checkpoint", "error", err)
	}
}
