// Package extractor normalizes raw upstream pin records into media items
package extractor

import (
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"pindl/pkg/models"
)

// manifestTags are the two known segmented-streaming entries in a video
// list. First one found wins; upstream emitting both at once is an
// undefined tie-break.
var manifestTags = []string{"V_HLSV3_MOBILE", "V_HLSV4"}

// preferredQualities orders direct-file candidates best first
var preferredQualities = []string{"V_720P", "V_480P", "V_EXP7", "V_EXP6", "V_EXP5", "V_EXP4", "V_EXP3"}

var containerExtensions = map[string]bool{
	".mp4":  true,
	".m4v":  true,
	".mov":  true,
	".webm": true,
}

// timestampLayouts are the two accepted textual upload-time formats
var timestampLayouts = []string{
	time.RFC1123Z,
	"2006-01-02T15:04:05",
}

// videoResolver inspects one raw record and either resolves a video
// reference or reports not-found so the next resolver runs.
type videoResolver func(record map[string]any) (models.VideoRef, bool)

// Service converts raw item records into normalized media items
type Service struct {
	logger    *slog.Logger
	resolvers []videoResolver
}

// NewService creates a new extractor service
func NewService() *Service {
	s := &Service{logger: slog.Default()}
	s.resolvers = []videoResolver{
		s.resolveDirectFile,
		s.resolveStoryBlocks,
		s.resolveManifestTag,
		s.resolveQualityManifest,
		s.resolveAnyEntry,
	}
	return s
}

// Normalize converts one raw record into a MediaItem. Records resolving to
// neither an image nor a video are discarded (ok=false).
func (s *Service) Normalize(record map[string]any) (*models.MediaItem, bool) {
	if record == nil {
		return nil, false
	}

	item := &models.MediaItem{
		ID:    recordID(record),
		Title: recordTitle(record),
	}
	if item.ID == "" {
		return nil, false
	}

	item.Image = imageURL(record, "orig")
	item.Thumbnail = imageURL(record, "236x")
	if item.Thumbnail == "" {
		item.Thumbnail = imageURL(record, "474x")
	}

	for _, resolve := range s.resolvers {
		if ref, ok := resolve(record); ok {
			item.Video = &ref
			break
		}
	}

	if !item.HasImage() && !item.HasVideo() {
		s.logger.Debug("Discarding record with no usable media", "id", item.ID)
		return nil, false
	}

	if ts, ok := parseUploadedAt(record["created_at"]); ok {
		item.UploadedAt = &ts
	}

	return item, true
}

// NormalizeAll converts a batch of raw records, dropping unusable ones
func (s *Service) NormalizeAll(records []map[string]any) []models.MediaItem {
	items := make([]models.MediaItem, 0, len(records))
	for _, record := range records {
		if item, ok := s.Normalize(record); ok {
			items = append(items, *item)
		}
	}
	return items
}

// resolveDirectFile finds a quality-tagged entry whose URL ends in a known
// container extension.
func (s *Service) resolveDirectFile(record map[string]any) (models.VideoRef, bool) {
	list, ok := videoList(record)
	if !ok {
		return models.VideoRef{}, false
	}
	for _, quality := range orderedQualities(list) {
		url := entryURL(list, quality)
		if url != "" && hasContainerExtension(url) {
			return models.VideoRef{URL: url, Quality: quality}, true
		}
	}
	return models.VideoRef{}, false
}

// resolveStoryBlocks searches the story page/block tree for a manifest
// fallback. Only reachable when the primary video collection is fully
// absent, not merely empty.
func (s *Service) resolveStoryBlocks(record map[string]any) (models.VideoRef, bool) {
	if _, present := record["videos"].(map[string]any); present {
		return models.VideoRef{}, false
	}

	story, ok := record["story_pin_data"].(map[string]any)
	if !ok {
		return models.VideoRef{}, false
	}
	pages, ok := story["pages"].([]any)
	if !ok {
		return models.VideoRef{}, false
	}

	for _, rawPage := range pages {
		page, ok := rawPage.(map[string]any)
		if !ok {
			continue
		}
		blocks, ok := page["blocks"].([]any)
		if !ok {
			continue
		}
		for _, rawBlock := range blocks {
			block, ok := rawBlock.(map[string]any)
			if !ok {
				continue
			}
			video, ok := block["video"].(map[string]any)
			if !ok {
				continue
			}
			list, ok := video["video_list"].(map[string]any)
			if !ok {
				continue
			}
			for _, tag := range manifestTags {
				if url := entryURL(list, tag); url != "" {
					return models.VideoRef{URL: url, Quality: tag, NeedsTranscode: true}, true
				}
			}
		}
	}
	return models.VideoRef{}, false
}

// resolveManifestTag finds one of the known segmented-manifest entries
func (s *Service) resolveManifestTag(record map[string]any) (models.VideoRef, bool) {
	list, ok := videoList(record)
	if !ok {
		return models.VideoRef{}, false
	}
	for _, tag := range manifestTags {
		if url := entryURL(list, tag); url != "" {
			return models.VideoRef{URL: url, Quality: tag, NeedsTranscode: true}, true
		}
	}
	return models.VideoRef{}, false
}

// resolveQualityManifest accepts a quality-tagged entry whose URL is itself
// a manifest by extension.
func (s *Service) resolveQualityManifest(record map[string]any) (models.VideoRef, bool) {
	list, ok := videoList(record)
	if !ok {
		return models.VideoRef{}, false
	}
	for _, quality := range orderedQualities(list) {
		url := entryURL(list, quality)
		if url != "" && models.IsManifestURL(url) {
			return models.VideoRef{URL: url, Quality: quality, NeedsTranscode: true}, true
		}
	}
	return models.VideoRef{}, false
}

// resolveAnyEntry takes the first remaining entry with any URL, inferring
// the transcode flag from the extension.
func (s *Service) resolveAnyEntry(record map[string]any) (models.VideoRef, bool) {
	list, ok := videoList(record)
	if !ok {
		return models.VideoRef{}, false
	}
	for _, quality := range orderedQualities(list) {
		if url := entryURL(list, quality); url != "" {
			return models.VideoRef{
				URL:            url,
				Quality:        quality,
				NeedsTranscode: models.IsManifestURL(url),
			}, true
		}
	}
	return models.VideoRef{}, false
}

// videoList digs out the primary quality-keyed video collection
func videoList(record map[string]any) (map[string]any, bool) {
	videos, ok := record["videos"].(map[string]any)
	if !ok {
		return nil, false
	}
	list, ok := videos["video_list"].(map[string]any)
	if !ok || len(list) == 0 {
		return nil, false
	}
	return list, true
}

// orderedQualities yields the preferred qualities first, then the rest in a
// stable order so resolution is deterministic across runs.
func orderedQualities(list map[string]any) []string {
	ordered := make([]string, 0, len(list))
	seen := make(map[string]bool, len(list))
	for _, quality := range preferredQualities {
		if _, ok := list[quality]; ok {
			ordered = append(ordered, quality)
			seen[quality] = true
		}
	}
	rest := make([]string, 0, len(list))
	for quality := range list {
		if !seen[quality] {
			rest = append(rest, quality)
		}
	}
	sort.Strings(rest)
	return append(ordered, rest...)
}

func entryURL(list map[string]any, key string) string {
	entry, ok := list[key].(map[string]any)
	if !ok {
		return ""
	}
	url, _ := entry["url"].(string)
	return url
}

func hasContainerExtension(url string) bool {
	trimmed := url
	if idx := strings.IndexAny(trimmed, "?#"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	for ext := range containerExtensions {
		if strings.HasSuffix(strings.ToLower(trimmed), ext) {
			return true
		}
	}
	return false
}

func imageURL(record map[string]any, size string) string {
	images, ok := record["images"].(map[string]any)
	if !ok {
		return ""
	}
	variant, ok := images[size].(map[string]any)
	if !ok {
		return ""
	}
	url, _ := variant["url"].(string)
	return url
}

func recordID(record map[string]any) string {
	switch id := record["id"].(type) {
	case string:
		return id
	case float64:
		return strconv.FormatInt(int64(id), 10)
	default:
		return ""
	}
}

func recordTitle(record map[string]any) string {
	for _, key := range []string{"grid_title", "title", "description"} {
		if title, ok := record[key].(string); ok {
			if trimmed := strings.TrimSpace(title); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

// parseUploadedAt accepts the verbose textual format and the compact
// numeric one, and reports failure instead of raising.
func parseUploadedAt(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case string:
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, v); err == nil {
				return ts, true
			}
		}
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil && epoch > 0 {
			return time.Unix(epoch, 0).UTC(), true
		}
	case float64:
		if v > 0 {
			return time.Unix(int64(v), 0).UTC(), true
		}
	}
	return time.Time{}, false
}
