// Package fetch provides the streaming HTTP download capability with
// byte-progress reporting and cookie continuity.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"os"
	"time"

	"pindl/pkg/models"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// ProgressFunc receives cumulative byte counts for the transfer in flight.
// bytesTotal is -1 when the server does not announce a length.
type ProgressFunc func(bytesReceived, bytesTotal int64)

// Fetcher streams remote files to local paths
type Fetcher interface {
	// Fetch streams url into destPath, resuming an existing partial file
	// via a Range request when the destination already has bytes.
	Fetch(ctx context.Context, url, destPath string, onProgress ProgressFunc) error
}

// Client is the default Fetcher. A single cookie jar spans all calls made
// through one client, which the upstream API requires within a paginator run.
type Client struct {
	httpClient *http.Client
}

// New creates a streaming fetch client
func New(timeout time.Duration) *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Jar:     jar,
		},
	}
}

// HTTPClient exposes the underlying client so the API layer shares the
// same cookie jar.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Fetch streams url into destPath with chunked progress callbacks
func (c *Client) Fetch(ctx context.Context, url, destPath string, onProgress ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &models.ValidationError{Field: "url", Reason: err.Error()}
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	// Resume a partial file left by a previous interrupted transfer
	var resumeFrom int64
	if stat, statErr := os.Stat(destPath); statErr == nil {
		resumeFrom = stat.Size()
		if resumeFrom > 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeFrom))
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return models.ErrCancelled
		}
		return &models.NetworkError{Op: "fetch " + url, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// Server ignored the Range request; start over
		resumeFrom = 0
	case http.StatusPartialContent:
	default:
		return &models.NetworkError{Op: "fetch " + url, StatusCode: resp.StatusCode}
	}

	var file *os.File
	if resumeFrom > 0 {
		file, err = os.OpenFile(destPath, os.O_APPEND|os.O_WRONLY, 0o644)
	} else {
		file, err = os.Create(destPath)
	}
	if err != nil {
		return fmt.Errorf("failed to open destination: %w", err)
	}
	defer file.Close()

	bytesTotal := int64(-1)
	if resp.ContentLength >= 0 {
		bytesTotal = resp.ContentLength + resumeFrom
	}

	return copyWithProgress(ctx, file, resp.Body, resumeFrom, bytesTotal, onProgress)
}

func copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, received, total int64, onProgress ProgressFunc) error {
	buffer := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return models.ErrCancelled
		default:
		}

		n, err := src.Read(buffer)
		if n > 0 {
			if _, writeErr := dst.Write(buffer[:n]); writeErr != nil {
				return fmt.Errorf("failed to write to file: %w", writeErr)
			}
			received += int64(n)
			if onProgress != nil {
				onProgress(received, total)
			}
		}

		if err != nil {
			if err == io.EOF {
				return nil
			}
			if ctx.Err() != nil {
				return models.ErrCancelled
			}
			return &models.NetworkError{Op: "read response body", Err: err}
		}
	}
}
