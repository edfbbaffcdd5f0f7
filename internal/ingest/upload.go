package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"

	"github.com/kozaktomas/facepic/internal/detector"
	"github.com/kozaktomas/facepic/internal/thumbnail"
)

// UploadPending pushes every image with is_uploaded = false to the blob
// sink, regenerating missing thumbnails from the original on the way.
// Used by the --upload-only mode and safe to re-run.
func (s *Scheduler) UploadPending(ctx context.Context) (*Summary, error) {
	if s.worker.sink == nil {
		return nil, errors.New("blob storage is not configured")
	}

	images, err := s.store.ImagesPendingUpload(ctx)
	if err != nil {
		return nil, err
	}
	summary := &Summary{Queued: len(images)}
	if len(images) == 0 {
		return summary, nil
	}

	var bar *progressbar.ProgressBar
	if !s.quiet {
		bar = progressbar.NewOptions(len(images),
			progressbar.OptionSetDescription("uploading"),
			progressbar.OptionShowCount(),
		)
	}

	for i := range images {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		img := &images[i]
		if bar != nil {
			bar.Add(1)
		}

		srcPath := img.FilePath
		if srcPath == "" {
			srcPath = filepath.Join(s.cfg.Paths.ImportDir, filepath.FromSlash(img.RelativePath))
		}
		data, err := os.ReadFile(srcPath)
		if err != nil {
			summary.Failed++
			recordError(summary, fmt.Errorf("reading %s: %w", img.RelativePath, err))
			continue
		}

		thumbPath := filepath.Join(s.cfg.Paths.ThumbnailDir, filepath.FromSlash(img.ThumbnailPath))
		thumbData, err := os.ReadFile(thumbPath)
		if err != nil {
			// Thumbnail missing locally, rebuild it from the original.
			decoded, derr := thumbnail.Decode(data)
			if derr != nil {
				summary.Failed++
				recordError(summary, fmt.Errorf("rebuilding thumbnail for %s: %w", img.RelativePath, derr))
				continue
			}
			thumbData, derr = s.worker.thumbs.ForImage(decoded)
			if derr != nil {
				summary.Failed++
				recordError(summary, fmt.Errorf("rebuilding thumbnail for %s: %w", img.RelativePath, derr))
				continue
			}
			os.WriteFile(thumbPath, thumbData, 0o644)
		}

		mimeType := detector.DetectMIMEType(data)
		if err := s.worker.sink.PutBytes(ctx, "images/"+img.Filename, data, mimeType); err != nil {
			summary.Failed++
			recordError(summary, err)
			continue
		}
		thumbName := filepath.Base(img.ThumbnailPath)
		if err := s.worker.sink.PutBytes(ctx, "thumbnails/"+thumbName, thumbData, "image/jpeg"); err != nil {
			summary.Failed++
			recordError(summary, err)
			continue
		}

		if err := s.store.MarkImageUploaded(ctx, img.ID, img.Filename, img.ThumbnailPath); err != nil {
			summary.Failed++
			recordError(summary, err)
			continue
		}
		summary.Succeeded++
	}
	return summary, nil
}
