package downloader

import (
	"context"

	"pindl/internal/fetch"
)

// BlobStore defines the blob store operations used by the scheduler
//
//go:generate mockgen -source=interfaces.go -destination=mocks/mock_interfaces.go -package=mocks
type BlobStore interface {
	Publish(localPath, name, folder, mimeType string, overwrite bool) (string, error)
	Exists(name, folder string) bool
}

// Fetcher defines the streaming download operation used by the scheduler
type Fetcher interface {
	Fetch(ctx context.Context, url, destPath string, onProgress fetch.ProgressFunc) error
}
