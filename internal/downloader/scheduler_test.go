package downloader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"pindl/internal/downloader/mocks"
	"pindl/internal/fetch"
	"pindl/pkg/models"
)

// recorder collects callback invocations across worker goroutines
type recorder struct {
	mu    sync.Mutex
	done  []string
	skips []string
	fails []string
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnDone: func(task Task, publicPath string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.done = append(r.done, task.Filename)
		},
		OnSkip: func(task Task, reason string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.skips = append(r.skips, task.Filename)
		},
		OnFail: func(task Task, reason string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.fails = append(r.fails, task.Filename)
		},
	}
}

func TestNewScheduler(t *testing.T) {
	s := NewScheduler(nil, nil, t.TempDir(), 0)
	require.Equal(t, DefaultConcurrency, s.concurrency)

	s = NewScheduler(nil, nil, t.TempDir(), 8)
	require.Equal(t, 8, s.concurrency)
}

func TestScheduler_RunEmpty(t *testing.T) {
	s := NewScheduler(nil, nil, t.TempDir(), 1)
	require.NoError(t, s.Run(context.Background(), nil, false, Callbacks{}))
}

func TestScheduler_RunDownloadsAndPublishes(t *testing.T) {
	ctrl := gomock.NewController(t)
	blob := mocks.NewMockBlobStore(ctrl)
	fetcher := mocks.NewMockFetcher(ctrl)
	scratchDir := t.TempDir()

	blob.EXPECT().Exists("a.jpg", "@alice/Images").Return(false)
	fetcher.EXPECT().
		Fetch(gomock.Any(), "https://i.example.com/a.jpg", gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, url, destPath string, onProgress fetch.ProgressFunc) error {
			if onProgress != nil {
				onProgress(11, 11)
			}
			return os.WriteFile(destPath, []byte("image-bytes"), 0o644)
		})
	blob.EXPECT().
		Publish(gomock.Any(), "a.jpg", "@alice/Images", "image/jpeg", false).
		Return("/root/@alice/Images/a.jpg", nil)

	var progressTotal int64
	rec := &recorder{}
	cb := rec.callbacks()
	cb.OnProgress = func(task Task, bytesReceived, bytesTotal int64) {
		progressTotal = bytesTotal
	}

	s := NewScheduler(blob, fetcher, scratchDir, 2)
	err := s.Run(context.Background(), []Task{{
		Index:    0,
		URL:      "https://i.example.com/a.jpg",
		Filename: "a.jpg",
		Folder:   "@alice/Images",
		MimeType: "image/jpeg",
	}}, false, cb)
	require.NoError(t, err)
	require.Equal(t, []string{"a.jpg"}, rec.done)
	require.Empty(t, rec.skips)
	require.Empty(t, rec.fails)
	require.Equal(t, int64(11), progressTotal)
}

func TestScheduler_RunSkipsExistingWithoutFetching(t *testing.T) {
	ctrl := gomock.NewController(t)
	blob := mocks.NewMockBlobStore(ctrl)
	fetcher := mocks.NewMockFetcher(ctrl)

	// No Fetch expectation: a single network call fails the test
	blob.EXPECT().Exists("a.jpg", "@alice/Images").Return(true)

	rec := &recorder{}
	s := NewScheduler(blob, fetcher, t.TempDir(), 1)
	err := s.Run(context.Background(), []Task{{
		Index:    0,
		URL:      "https://i.example.com/a.jpg",
		Filename: "a.jpg",
		Folder:   "@alice/Images",
	}}, false, rec.callbacks())
	require.NoError(t, err)
	require.Equal(t, []string{"a.jpg"}, rec.skips)
	require.Empty(t, rec.done)
}

func TestScheduler_RunOverwriteBypassesExistsCheck(t *testing.T) {
	ctrl := gomock.NewController(t)
	blob := mocks.NewMockBlobStore(ctrl)
	fetcher := mocks.NewMockFetcher(ctrl)

	fetcher.EXPECT().
		Fetch(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, url, destPath string, onProgress fetch.ProgressFunc) error {
			return os.WriteFile(destPath, []byte("x"), 0o644)
		})
	blob.EXPECT().
		Publish(gomock.Any(), "a.jpg", "f", "", true).
		Return("/root/f/a.jpg", nil)

	rec := &recorder{}
	s := NewScheduler(blob, fetcher, t.TempDir(), 1)
	err := s.Run(context.Background(), []Task{{Filename: "a.jpg", Folder: "f"}}, true, rec.callbacks())
	require.NoError(t, err)
	require.Equal(t, []string{"a.jpg"}, rec.done)
}

func TestScheduler_RunFailureDoesNotStopQueue(t *testing.T) {
	ctrl := gomock.NewController(t)
	blob := mocks.NewMockBlobStore(ctrl)
	fetcher := mocks.NewMockFetcher(ctrl)

	blob.EXPECT().Exists(gomock.Any(), gomock.Any()).Return(false).Times(2)
	fetcher.EXPECT().
		Fetch(gomock.Any(), "https://i.example.com/bad.jpg", gomock.Any(), gomock.Any()).
		Return(errors.New("connection reset"))
	fetcher.EXPECT().
		Fetch(gomock.Any(), "https://i.example.com/good.jpg", gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, url, destPath string, onProgress fetch.ProgressFunc) error {
			return os.WriteFile(destPath, []byte("x"), 0o644)
		})
	blob.EXPECT().
		Publish(gomock.Any(), "good.jpg", gomock.Any(), gomock.Any(), false).
		Return("/root/good.jpg", nil)

	rec := &recorder{}
	s := NewScheduler(blob, fetcher, t.TempDir(), 1)
	err := s.Run(context.Background(), []Task{
		{Index: 0, URL: "https://i.example.com/bad.jpg", Filename: "bad.jpg", Folder: "f"},
		{Index: 1, URL: "https://i.example.com/good.jpg", Filename: "good.jpg", Folder: "f"},
	}, false, rec.callbacks())
	require.NoError(t, err)
	require.Equal(t, []string{"bad.jpg"}, rec.fails)
	require.Equal(t, []string{"good.jpg"}, rec.done)
}

func TestScheduler_RunPublishFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	blob := mocks.NewMockBlobStore(ctrl)
	fetcher := mocks.NewMockFetcher(ctrl)

	blob.EXPECT().Exists(gomock.Any(), gomock.Any()).Return(false)
	fetcher.EXPECT().
		Fetch(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, url, destPath string, onProgress fetch.ProgressFunc) error {
			return os.WriteFile(destPath, []byte("x"), 0o644)
		})
	blob.EXPECT().
		Publish(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), false).
		Return("", errors.New("disk full"))

	rec := &recorder{}
	s := NewScheduler(blob, fetcher, t.TempDir(), 1)
	err := s.Run(context.Background(), []Task{{Filename: "a.jpg", Folder: "f"}}, false, rec.callbacks())
	require.NoError(t, err)
	require.Equal(t, []string{"a.jpg"}, rec.fails)
}

func TestScheduler_RunCancellationCleansUp(t *testing.T) {
	ctrl := gomock.NewController(t)
	blob := mocks.NewMockBlobStore(ctrl)
	fetcher := mocks.NewMockFetcher(ctrl)
	scratchDir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())

	blob.EXPECT().Exists(gomock.Any(), gomock.Any()).Return(false).AnyTimes()
	fetcher.EXPECT().
		Fetch(gomock.Any(), "https://i.example.com/first.jpg", gomock.Any(), gomock.Any()).
		DoAndReturn(func(fctx context.Context, url, destPath string, onProgress fetch.ProgressFunc) error {
			// Simulate a transfer in flight when cancellation arrives
			require.NoError(t, os.WriteFile(destPath, []byte("partial"), 0o644))
			cancel()
			<-fctx.Done()
			return models.ErrCancelled
		})
	// Workers racing the closed context may still pull a queued task; its
	// fetch observes the cancelled context immediately.
	fetcher.EXPECT().
		Fetch(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(models.ErrCancelled).
		AnyTimes()

	rec := &recorder{}
	s := NewScheduler(blob, fetcher, scratchDir, 1)
	err := s.Run(ctx, []Task{
		{Index: 0, URL: "https://i.example.com/first.jpg", Filename: "first.jpg", Folder: "f"},
		{Index: 1, URL: "https://i.example.com/second.jpg", Filename: "second.jpg", Folder: "f"},
		{Index: 2, URL: "https://i.example.com/third.jpg", Filename: "third.jpg", Folder: "f"},
	}, false, rec.callbacks())
	require.ErrorIs(t, err, models.ErrCancelled)

	// Cancellation is not a failure outcome and aborted items stay silent
	require.Empty(t, rec.fails)
	require.Empty(t, rec.done)

	// Every scratch file is discarded
	entries, readErr := os.ReadDir(scratchDir)
	require.NoError(t, readErr)
	require.Empty(t, entries)
}

func TestScheduler_ScratchNamesAreIndexScoped(t *testing.T) {
	ctrl := gomock.NewController(t)
	blob := mocks.NewMockBlobStore(ctrl)
	fetcher := mocks.NewMockFetcher(ctrl)
	scratchDir := t.TempDir()

	blob.EXPECT().Exists(gomock.Any(), gomock.Any()).Return(false)
	fetcher.EXPECT().
		Fetch(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, url, destPath string, onProgress fetch.ProgressFunc) error {
			require.Equal(t, filepath.Join(scratchDir, "a.jpg.7.tmp"), destPath)
			return os.WriteFile(destPath, []byte("x"), 0o644)
		})
	blob.EXPECT().
		Publish(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), false).
		Return("/root/f/a.jpg", nil)

	s := NewScheduler(blob, fetcher, scratchDir, 1)
	err := s.Run(context.Background(), []Task{{Index: 7, Filename: "a.jpg", Folder: "f"}}, false, Callbacks{})
	require.NoError(t, err)

	waitEmpty(t, scratchDir)
}

// waitEmpty asserts the directory drains; the deferred scratch removal runs
// after Publish so a brief settle window is allowed.
func waitEmpty(t *testing.T, dir string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		if len(entries) == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("directory %s still has %d entries", dir, len(entries))
		}
		time.Sleep(10 * time.Millisecond)
	}
}
