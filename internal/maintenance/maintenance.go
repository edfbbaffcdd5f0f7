// Package maintenance implements the offline catalogue repair
// operations: prune, duplicate merge, orientation fix and cleanup.
package maintenance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/kozaktomas/facepic/internal/blob"
	"github.com/kozaktomas/facepic/internal/catalog"
	"github.com/kozaktomas/facepic/internal/cluster"
	"github.com/kozaktomas/facepic/internal/config"
	"github.com/kozaktomas/facepic/internal/thumbnail"
)

// Runner holds the shared dependencies of all maintenance operations.
// sink may be nil when blob storage is not configured.
type Runner struct {
	store  catalog.Store
	cfg    *config.Config
	sink   blob.Sink
	thumbs *thumbnail.Generator
}

func New(store catalog.Store, cfg *config.Config, sink blob.Sink) *Runner {
	return &Runner{
		store:  store,
		cfg:    cfg,
		sink:   sink,
		thumbs: thumbnail.NewGenerator(cfg.Thumbnails),
	}
}

// PruneResult summarises a prune pass.
type PruneResult struct {
	FacesDeleted   int
	PersonsDeleted int
}

// Prune deletes faces below the detection score floor or touching the
// edge of their owning image, then removes persons left without faces.
// Faces whose image document is missing are left untouched.
// Idempotent: a second pass finds nothing to do.
func (r *Runner) Prune(ctx context.Context) (*PruneResult, error) {
	faces, err := r.store.AllFaces(ctx)
	if err != nil {
		return nil, err
	}

	res := &PruneResult{}
	images := make(map[string]*catalog.Image)
	touched := make(map[string]bool)

	for i := range faces {
		f := &faces[i]

		img, ok := images[f.ImageID]
		if !ok {
			img, err = r.store.GetImage(ctx, f.ImageID)
			if err != nil {
				img = nil
			}
			images[f.ImageID] = img
		}
		if img == nil {
			// Orphaned face, its image is gone. Left in place so a
			// later re-cluster can still use its embedding.
			continue
		}

		bad := f.Metadata.DetScore < r.cfg.Detection.MinScore
		if !bad && f.BBox.TouchesEdge(img.Width, img.Height, r.cfg.Detection.EdgeMargin) {
			bad = true
		}
		if !bad {
			continue
		}

		if err := r.store.DeleteFace(ctx, f.ID); err != nil {
			return res, fmt.Errorf("deleting face %s: %w", f.ID, err)
		}
		res.FacesDeleted++
		if f.PersonID != "" {
			touched[f.PersonID] = true
		}
	}

	for personID := range touched {
		n, err := r.store.CountFacesByPerson(ctx, personID)
		if err != nil {
			return res, err
		}
		if n > 0 {
			continue
		}
		if err := r.store.DeletePerson(ctx, personID); err != nil {
			return res, err
		}
		res.PersonsDeleted++
		os.Remove(filepath.Join(r.cfg.Paths.FaceThumbDir(), cluster.RepThumbFile(personID)))
		if r.sink != nil {
			// Best effort; a dangling remote thumbnail is harmless.
			r.sink.Delete(ctx, cluster.RepThumbRel(personID))
		}
	}
	return res, nil
}

// MergeDuplicates runs the duplicate-person sweep with the given
// tolerance (0 uses the configured 512-d tolerance).
func (r *Runner) MergeDuplicates(ctx context.Context, tolerance float64) (int, error) {
	if tolerance <= 0 {
		tolerance = r.cfg.Clustering.InsightFaceTolerance
	}
	return cluster.SweepDuplicates(ctx, r.store, r.cfg.Paths.FaceThumbDir(), tolerance)
}

// FixOrientation rebuilds each person's representative thumbnail by
// re-reading the best face's original image with EXIF transpose
// applied. Persons whose originals are gone from disk are skipped.
func (r *Runner) FixOrientation(ctx context.Context) (int, error) {
	persons, err := r.store.AllPersons(ctx)
	if err != nil {
		return 0, err
	}

	fixed := 0
	for _, p := range persons {
		faces, err := r.store.FacesByPerson(ctx, p.ID)
		if err != nil {
			return fixed, err
		}
		sort.SliceStable(faces, func(i, j int) bool {
			return faces[i].Metadata.DetScore > faces[j].Metadata.DetScore
		})

		for i := range faces {
			f := &faces[i]
			img, err := r.store.GetImage(ctx, f.ImageID)
			if err != nil {
				continue
			}
			data, err := os.ReadFile(img.FilePath)
			if err != nil {
				continue
			}
			decoded, err := thumbnail.Decode(data)
			if err != nil {
				continue
			}
			thumbData, err := r.thumbs.ForFace(decoded, f.BBox)
			if err != nil {
				continue
			}

			path := filepath.Join(r.cfg.Paths.FaceThumbDir(), cluster.RepThumbFile(p.ID))
			if err := os.WriteFile(path, thumbData, 0o644); err != nil {
				return fixed, fmt.Errorf("writing thumbnail for person %s: %w", p.ID, err)
			}
			if err := r.store.UpdatePersonRepresentative(ctx, p.ID, f.ID, f.Metadata.DetScore); err != nil {
				return fixed, err
			}
			if r.sink != nil {
				r.sink.PutBytes(ctx, cluster.RepThumbRel(p.ID), thumbData, "image/jpeg")
			}
			fixed++
			break
		}
	}
	return fixed, nil
}

// Cleanup truncates every collection, wipes the thumbnail and upload
// directories and deletes the progress log. The confirmation prompt
// lives in the CLI layer; this function is unconditional.
func (r *Runner) Cleanup(ctx context.Context) error {
	if err := r.store.TruncateAll(ctx); err != nil {
		return err
	}

	for _, dir := range []string{
		r.cfg.Paths.ImageThumbDir(),
		r.cfg.Paths.FaceThumbDir(),
		r.cfg.Paths.UploadDir,
	} {
		if err := wipeDir(dir); err != nil {
			return err
		}
	}

	if err := os.Remove(r.cfg.Paths.ProcessedLogFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing progress log: %w", err)
	}
	return nil
}

// wipeDir removes the contents of a directory but keeps the directory.
func wipeDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", dir, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("removing %s: %w", e.Name(), err)
		}
	}
	return nil
}
