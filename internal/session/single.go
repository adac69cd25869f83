package session

import (
	"context"
	"fmt"

	"pindl/internal/downloader"
	"pindl/pkg/models"
)

// RunSingle downloads one item by its upstream ID into the blob root, with
// its metadata JSON under the flat metadata folder. Manifest-backed videos
// go through the transcoder when one is available.
func (r *Runner) RunSingle(ctx context.Context, itemID string, overwrite bool) (*models.MediaItem, error) {
	raw, err := r.client.FetchPin(ctx, itemID)
	if err != nil {
		return nil, err
	}

	item, ok := r.extractor.Normalize(raw)
	if !ok {
		return nil, fmt.Errorf("item %s has no downloadable media", itemID)
	}

	if err := r.store.SaveItemMetadata(item); err != nil {
		// Metadata is best effort; the transfer still proceeds
		r.logger.Warn("Failed to save item metadata", "item", item.ID, "error", err)
	}

	task := singleTask(item)

	if item.HasVideo() && item.Video.NeedsTranscode {
		if r.transcoder == nil || !r.transcoder.Available() {
			return item, fmt.Errorf("item %s is a segmented stream and no transcoder is available", itemID)
		}
		events := make(chan event, 1)
		r.transcodeItem(ctx, pendingItem{index: 0, item: *item}, task, overwrite, events)
		close(events)
		for ev := range events {
			if ev.outcome == OutcomeFail {
				return item, fmt.Errorf("%s", ev.reason)
			}
		}
		return item, nil
	}

	var failReason string
	skipped := false
	err = r.scheduler.Run(ctx, []downloader.Task{task}, overwrite, downloader.Callbacks{
		OnFail: func(_ downloader.Task, reason string) { failReason = reason },
		OnSkip: func(_ downloader.Task, _ string) { skipped = true },
	})
	if err != nil {
		return item, err
	}
	if failReason != "" {
		return item, fmt.Errorf("%s", failReason)
	}
	if skipped {
		r.logger.Info("File already exists, skipped", "item", item.ID)
	}
	return item, nil
}

// singleTask targets the blob root rather than an owner folder
func singleTask(item *models.MediaItem) downloader.Task {
	if item.HasVideo() && !item.Video.NeedsTranscode {
		ext := extFromURL(item.Video.URL, ".mp4")
		return downloader.Task{
			Item:     *item,
			URL:      item.Video.URL,
			Filename: item.ID + ext,
			MimeType: mimeForExt(ext),
		}
	}
	if item.HasVideo() && item.Video.NeedsTranscode {
		return downloader.Task{
			Item:     *item,
			URL:      item.Video.URL,
			Filename: item.ID + ".mp4",
			MimeType: "video/mp4",
		}
	}
	ext := extFromURL(item.Image, ".jpg")
	return downloader.Task{
		Item:     *item,
		URL:      item.Image,
		Filename: item.ID + ext,
		MimeType: mimeForExt(ext),
	}
}
