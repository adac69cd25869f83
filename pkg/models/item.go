// Package models defines the data structures used throughout the application
package models

import (
	"strings"
	"time"
)

// MediaType identifies which side of an item a download session targets
type MediaType string

const (
	MediaTypeAll    MediaType = "all"
	MediaTypeImage  MediaType = "images"
	MediaTypeVideo  MediaType = "videos"
)

// VideoRef points at a downloadable or transcodable video resource
type VideoRef struct {
	URL            string `json:"url"`
	Quality        string `json:"quality"`
	NeedsTranscode bool   `json:"needs_transcode"`
}

// MediaItem is one downloadable unit extracted from a raw upstream record.
// At least one of Image or Video is set; records resolving to neither are
// discarded by the extractor and never constructed.
type MediaItem struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Image      string     `json:"image,omitempty"`
	Video      *VideoRef  `json:"video,omitempty"`
	Thumbnail  string     `json:"thumbnail,omitempty"`
	UploadedAt *time.Time `json:"uploaded_at,omitempty"`
}

// HasImage reports whether the item carries an image URL
func (m *MediaItem) HasImage() bool {
	return m.Image != ""
}

// HasVideo reports whether the item carries a video reference
func (m *MediaItem) HasVideo() bool {
	return m.Video != nil && m.Video.URL != ""
}

// Matches reports whether the item belongs to the given media-type filter.
// Items carrying both an image and a video match either filter.
func (m *MediaItem) Matches(mediaType MediaType) bool {
	switch mediaType {
	case MediaTypeImage:
		return m.HasImage()
	case MediaTypeVideo:
		return m.HasVideo()
	default:
		return true
	}
}

// OwnerMeta holds display metadata for the account whose items are listed.
// Captured once from the first page that carries it and never overwritten.
type OwnerMeta struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Avatar   string `json:"avatar,omitempty"`
}

// ManifestExtension is the segmented-streaming playlist extension. URLs ending
// in it require transcoding before they are a single playable file.
const ManifestExtension = ".m3u8"

// IsManifestURL reports whether a URL points at a segmented-streaming
// manifest rather than a directly downloadable container file.
func IsManifestURL(rawURL string) bool {
	trimmed := rawURL
	if idx := strings.IndexAny(trimmed, "?#"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.HasSuffix(strings.ToLower(trimmed), ManifestExtension)
}
