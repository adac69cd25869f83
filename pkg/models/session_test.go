package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSessionRecord(t *testing.T) {
	items := []MediaItem{
		{ID: "1", Image: "https://i.example.com/1.jpg"},
		{ID: "2", Image: "https://i.example.com/2.jpg"},
		{ID: "3", Video: &VideoRef{URL: "https://v.example.com/3.mp4"}},
		{ID: "4", Image: "https://i.example.com/4.jpg", Video: &VideoRef{URL: "https://v.example.com/4.mp4"}},
	}

	rec := NewSessionRecord(OwnerMeta{ID: "99", Username: "alice"}, items)

	require.Equal(t, 3, rec.TotalImages)
	require.Equal(t, 2, rec.TotalVideos)
	require.Equal(t, -1, rec.LastCompletedIndex)
	require.Equal(t, 0, rec.Processed())
}

func TestSessionRecord_Remaining(t *testing.T) {
	rec := NewSessionRecord(OwnerMeta{Username: "alice"}, []MediaItem{
		{ID: "1", Image: "a"},
		{ID: "2", Image: "b"},
		{ID: "3", Image: "c"},
	})

	require.Equal(t, 3, rec.Remaining(MediaTypeAll))
	require.Equal(t, 3, rec.Remaining(MediaTypeImage))
	require.Equal(t, 0, rec.Remaining(MediaTypeVideo))

	rec.LastCompletedIndex = 1
	require.Equal(t, 1, rec.Remaining(MediaTypeAll))

	rec.LastCompletedIndex = 2
	require.Equal(t, 0, rec.Remaining(MediaTypeAll))
	// Clamped, never negative
	require.Equal(t, 0, rec.Remaining(MediaTypeVideo))
}

func TestSessionRecord_JSONKeys(t *testing.T) {
	rec := NewSessionRecord(OwnerMeta{ID: "42", Username: "alice"}, []MediaItem{
		{ID: "1", Image: "https://i.example.com/1.jpg"},
	})
	rec.SuccessCount = 1

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	// The on-disk key set is a compatibility contract
	for _, key := range []string{
		"author", "pins", "totalImages", "totalVideos",
		"success_downloaded", "skip_downloaded", "failed_downloaded",
		"last_index_downloaded", "was_interrupted", "saved_at",
	} {
		require.Contains(t, decoded, key)
	}
}

func TestCrashCheckpoint_Resumable(t *testing.T) {
	tests := []struct {
		status   TaskStatus
		expected bool
	}{
		{TaskStatusActive, true},
		{TaskStatusInterrupted, true},
		{TaskStatusCompleted, false},
		{TaskStatusFailed, false},
	}

	for _, tt := range tests {
		cp := CrashCheckpoint{Status: tt.status}
		require.Equal(t, tt.expected, cp.Resumable(), "status %s", tt.status)
	}
}
