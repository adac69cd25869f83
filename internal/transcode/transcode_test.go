package transcode

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFFmpeg_Unavailable(t *testing.T) {
	f := &FFmpeg{}
	require.False(t, f.Available())

	err := f.Convert(context.Background(), "https://v.example.com/a.m3u8", "", "/tmp/out.mp4")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not available")
}

func TestLastLine(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"", ""},
		{"single", "single"},
		{"first\nsecond\nthird", "third"},
		{"trailing newline\n", "trailing newline"},
	}

	for _, tt := range tests {
		require.Equal(t, tt.expected, lastLine(tt.in), "input %q", tt.in)
	}
}
