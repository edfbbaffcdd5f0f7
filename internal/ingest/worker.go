// Package ingest implements the ingestion pipeline: per-image workers
// and the adaptive scheduler that drives them.
package ingest

import (
	"context"
	"fmt"
	"image"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/facepic/internal/blob"
	"github.com/kozaktomas/facepic/internal/catalog"
	"github.com/kozaktomas/facepic/internal/cluster"
	"github.com/kozaktomas/facepic/internal/config"
	"github.com/kozaktomas/facepic/internal/detector"
	"github.com/kozaktomas/facepic/internal/embedding"
	"github.com/kozaktomas/facepic/internal/thumbnail"
)

// Task is one image to process, addressed both absolutely and relative
// to the import root.
type Task struct {
	AbsPath string
	RelPath string
}

// Result is what a worker hands back to the scheduler. Only successful
// results are appended to the progress log.
type Result struct {
	RelPath string
	OK      bool
	Err     error
	Entry   catalog.ProgressEntry
}

// Worker executes the per-image pipeline. Workers share the store, the
// detector client and the clustering engine; each call to Process is
// independent.
type Worker struct {
	store  catalog.Store
	det    detector.Detector
	engine *cluster.Engine
	thumbs *thumbnail.Generator
	sink   blob.Sink // nil when uploads are disabled
	cfg    *config.Config
}

func NewWorker(store catalog.Store, det detector.Detector, engine *cluster.Engine, sink blob.Sink, cfg *config.Config) *Worker {
	return &Worker{
		store:  store,
		det:    det,
		engine: engine,
		thumbs: thumbnail.NewGenerator(cfg.Thumbnails),
		sink:   sink,
		cfg:    cfg,
	}
}

// Process runs the ordered per-image steps. It never returns an error
// to the caller; failures, including panics, become failure results so
// the pool keeps draining.
func (w *Worker) Process(ctx context.Context, task Task) (res Result) {
	res.RelPath = task.RelPath
	defer func() {
		if r := recover(); r != nil {
			res.OK = false
			res.Err = fmt.Errorf("panic processing %s: %v", task.RelPath, r)
		}
	}()

	data, err := os.ReadFile(task.AbsPath)
	if err != nil {
		res.Err = fmt.Errorf("reading %s: %w", task.RelPath, err)
		return res
	}
	mimeType := detector.DetectMIMEType(data)
	if !detector.IsSupportedImage(data) {
		res.Err = fmt.Errorf("refusing %s: unsupported type %s", task.RelPath, mimeType)
		return res
	}

	// Decode once, EXIF transpose applied; all pixel work below shares
	// this image.
	img, err := thumbnail.Decode(data)
	if err != nil {
		res.Err = fmt.Errorf("decoding %s: %w", task.RelPath, err)
		return res
	}
	bounds := img.Bounds()

	faces, err := w.det.Detect(ctx, data)
	if err != nil {
		res.Err = fmt.Errorf("detecting faces in %s: %w", task.RelPath, err)
		return res
	}
	accepted := w.filterFaces(faces, bounds.Dx(), bounds.Dy())

	imageID := uuid.NewString()
	thumbName := "thumb_" + imageID + ".jpg"
	thumbData, err := w.thumbs.ForImage(img)
	if err != nil {
		res.Err = fmt.Errorf("thumbnailing %s: %w", task.RelPath, err)
		return res
	}
	thumbPath := filepath.Join(w.cfg.Paths.ImageThumbDir(), thumbName)
	if err := os.WriteFile(thumbPath, thumbData, 0o644); err != nil {
		res.Err = fmt.Errorf("writing thumbnail for %s: %w", task.RelPath, err)
		return res
	}

	storedName := imageID + strings.ToLower(filepath.Ext(task.AbsPath))
	uploaded := false
	if w.sink != nil {
		errOrig := w.sink.PutBytes(ctx, "images/"+storedName, data, mimeType)
		errThumb := w.sink.PutBytes(ctx, "thumbnails/"+thumbName, thumbData, "image/jpeg")
		// Upload failures do not fail the task; the image stays flagged
		// for the next upload-only pass.
		uploaded = errOrig == nil && errThumb == nil
	}

	folderID, err := w.store.EnsureFolderPath(ctx, path.Dir(task.RelPath))
	if err != nil {
		res.Err = fmt.Errorf("ensuring folders for %s: %w", task.RelPath, err)
		return res
	}

	// Re-ingestion of a path replaces the previous document entirely.
	if prior, err := w.store.GetImageByRelPath(ctx, task.RelPath); err == nil {
		if err := w.store.DeleteImage(ctx, prior.ID); err != nil {
			res.Err = fmt.Errorf("replacing %s: %w", task.RelPath, err)
			return res
		}
	}

	doc := &catalog.Image{
		ID:               imageID,
		Filename:         storedName,
		OriginalFilename: filepath.Base(task.AbsPath),
		FilePath:         task.AbsPath,
		ThumbnailPath:    "images/" + thumbName,
		Width:            bounds.Dx(),
		Height:           bounds.Dy(),
		FileSize:         int64(len(data)),
		MimeType:         mimeType,
		UploadedAt:       time.Now().UTC(),
		Processed:        catalog.StatePending,
		IsUploaded:       uploaded,
		RelativePath:     task.RelPath,
		Metadata:         thumbnail.ExtractMetadata(data),
		FolderID:         folderID,
	}
	if err := w.store.InsertImage(ctx, doc); err != nil {
		res.Err = fmt.Errorf("inserting %s: %w", task.RelPath, err)
		return res
	}

	summaries, err := w.processFaces(ctx, img, imageID, accepted)
	if err != nil {
		w.store.UpdateImageState(ctx, imageID, catalog.StateFailed)
		res.Err = fmt.Errorf("processing faces of %s: %w", task.RelPath, err)
		return res
	}

	faceIDs := make([]string, len(summaries))
	for i, s := range summaries {
		faceIDs[i] = s.FaceID
	}
	if err := w.store.SetImageFaces(ctx, imageID, faceIDs); err != nil {
		w.store.UpdateImageState(ctx, imageID, catalog.StateFailed)
		res.Err = fmt.Errorf("patching faces of %s: %w", task.RelPath, err)
		return res
	}
	if err := w.store.UpdateImageState(ctx, imageID, catalog.StateProcessed); err != nil {
		res.Err = fmt.Errorf("finishing %s: %w", task.RelPath, err)
		return res
	}

	res.OK = true
	res.Entry = catalog.ProgressEntry{
		ProcessedAt: time.Now().UTC().Format(time.RFC3339),
		Thumbnail:   thumbName,
		Faces:       summaries,
	}
	return res
}

// filterFaces drops detections below the score floor or touching the
// image edge.
func (w *Worker) filterFaces(faces []detector.Face, width, height int) []detector.Face {
	var out []detector.Face
	for _, f := range faces {
		if f.DetScore < w.cfg.Detection.MinScore {
			continue
		}
		if len(f.BBox) != 4 {
			continue
		}
		box := bboxFromDetection(f.BBox)
		if box.TouchesEdge(width, height, w.cfg.Detection.EdgeMargin) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// processFaces stores each accepted face, assigns it to a person and
// maintains the person's representative thumbnail.
func (w *Worker) processFaces(ctx context.Context, img image.Image, imageID string, faces []detector.Face) ([]catalog.FaceSummary, error) {
	var summaries []catalog.FaceSummary
	for _, f := range faces {
		v := embedding.Vector{Values: f.Embedding, Elem: embedding.F32}
		if v.Dim() != embedding.DimInsightFace && v.Dim() != embedding.DimLegacy {
			continue // unsupported embedding, face is not catalogued
		}
		if v.Dim() == embedding.DimInsightFace {
			embedding.Normalize(v.Values)
		}

		box := bboxFromDetection(f.BBox)
		face := &catalog.Face{
			ID:       uuid.NewString(),
			ImageID:  imageID,
			BBox:     box,
			Encoding: embedding.Encode(v.Values),
			Metadata: catalog.FaceMetadata{DetScore: f.DetScore, Age: f.Age, Gender: f.Gender},
		}
		if err := w.store.InsertFace(ctx, face); err != nil {
			return nil, err
		}

		personID, _, err := w.engine.Assign(ctx, face.ID, v.Values)
		if err != nil {
			return nil, err
		}

		thumbRel := cluster.RepThumbRel(personID)
		if err := w.store.SetFaceThumbnail(ctx, face.ID, thumbRel); err != nil {
			return nil, err
		}
		if _, err := w.engine.PromoteRepresentative(ctx, personID, face.ID, f.DetScore, func() ([]byte, error) {
			return w.thumbs.ForFace(img, box)
		}); err != nil {
			return nil, err
		}

		summaries = append(summaries, catalog.FaceSummary{
			FaceID:        face.ID,
			PersonID:      personID,
			ThumbnailPath: thumbRel,
		})
	}
	return summaries, nil
}

func bboxFromDetection(b []float64) catalog.BBox {
	return catalog.BBox{
		Left:   int(b[0]),
		Top:    int(b[1]),
		Right:  int(b[2]),
		Bottom: int(b[3]),
	}
}
