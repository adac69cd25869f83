// Package cleanup removes leftover scratch files from interrupted sessions
package cleanup

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Service sweeps the scratch directory. Scratch files are only reusable by
// the byte-range resume of the very next run; anything older is dead weight.
type Service struct {
	scratchDir string
	maxAge     time.Duration
	logger     *slog.Logger
}

// NewService creates a cleanup service for the given scratch directory
func NewService(scratchDir string) *Service {
	return &Service{
		scratchDir: scratchDir,
		maxAge:     24 * time.Hour,
		logger:     slog.Default(),
	}
}

// SweepStale removes scratch files older than the age limit and returns
// how many were removed. Missing scratch directory is not an error.
func (s *Service) SweepStale() (int, error) {
	entries, err := os.ReadDir(s.scratchDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-s.maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.Contains(entry.Name(), ".tmp") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(s.scratchDir, entry.Name())
		if err := os.Remove(path); err != nil {
			s.logger.Warn("Failed to remove stale scratch file", "path", path, "error", err)
			continue
		}
		s.logger.Info("Removed stale scratch file", "path", path)
		removed++
	}
	return removed, nil
}

// SweepAll removes every scratch file regardless of age. Used after a
// cancelled session so nothing is left for later cleanup.
func (s *Service) SweepAll() error {
	entries, err := os.ReadDir(s.scratchDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(s.scratchDir, entry.Name())
		if err := os.Remove(path); err != nil {
			s.logger.Warn("Failed to remove scratch file", "path", path, "error", err)
		}
	}
	return nil
}
