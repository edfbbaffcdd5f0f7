package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/kozaktomas/facepic/internal/catalog"
	"github.com/kozaktomas/facepic/internal/config"
	"github.com/kozaktomas/facepic/internal/embedding"
)

// ErrDifferentNames is returned when a merge would join two persons
// that carry different labels. Such merges need a human decision.
var ErrDifferentNames = errors.New("refusing to merge persons with different names")

// MergeResult describes a completed merge.
type MergeResult struct {
	WinnerID string
	LoserID  string
	Moved    int
}

// Merge folds person b into person a, or the other way round when only
// b carries a name: a named person always wins over an unlabeled one.
// Two differently named persons are never merged.
func Merge(ctx context.Context, store catalog.Store, thumbDir, aID, bID string) (*MergeResult, error) {
	a, err := store.GetPerson(ctx, aID)
	if err != nil {
		return nil, fmt.Errorf("loading person %s: %w", aID, err)
	}
	b, err := store.GetPerson(ctx, bID)
	if err != nil {
		return nil, fmt.Errorf("loading person %s: %w", bID, err)
	}

	if a.Name != "" && b.Name != "" && !SameName(a.Name, b.Name) {
		return nil, fmt.Errorf("%w: %q vs %q", ErrDifferentNames, a.Name, b.Name)
	}

	winner, loser := a, b
	if a.Name == "" && b.Name != "" {
		winner, loser = b, a
	}

	moved, err := store.MoveFaces(ctx, loser.ID, winner.ID)
	if err != nil {
		return nil, fmt.Errorf("moving faces: %w", err)
	}

	// The loser's representative takes over when it scored better. Its
	// thumbnail is copied onto the winner's stable file name.
	if loser.BestFaceScore > winner.BestFaceScore && loser.RepresentativeFaceID != "" {
		src := filepath.Join(thumbDir, RepThumbFile(loser.ID))
		dst := filepath.Join(thumbDir, RepThumbFile(winner.ID))
		if err := copyFile(src, dst); err == nil {
			if err := store.UpdatePersonRepresentative(ctx, winner.ID, loser.RepresentativeFaceID, loser.BestFaceScore); err != nil {
				return nil, err
			}
		}
	}

	if err := store.SetFaceThumbnailsByPerson(ctx, winner.ID, RepThumbRel(winner.ID)); err != nil {
		return nil, err
	}
	if err := store.DeletePerson(ctx, loser.ID); err != nil {
		return nil, err
	}
	os.Remove(filepath.Join(thumbDir, RepThumbFile(loser.ID)))

	return &MergeResult{WinnerID: winner.ID, LoserID: loser.ID, Moved: moved}, nil
}

// SweepDuplicates merges persons whose representative embeddings sit
// closer than the tolerance, pairwise over all persons. One vector per
// person keeps a stray low-quality face from bridging two distinct
// clusters. Differently named pairs are skipped. Returns the number of
// merges performed.
func SweepDuplicates(ctx context.Context, store catalog.Store, thumbDir string, tolerance float64) (int, error) {
	snap, err := buildSnapshot(ctx, store)
	if err != nil {
		return 0, err
	}
	persons, err := store.AllPersons(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading persons: %w", err)
	}
	names := make(map[string]string, len(persons))
	reps := make(map[string][]float32, len(persons))
	for i := range persons {
		p := &persons[i]
		names[p.ID] = p.Name
		reps[p.ID] = representativeVector(ctx, store, p, snap)
	}

	merged := 0
	skip := make([]bool, len(snap.order))

	for i := 0; i < len(snap.order); i++ {
		if skip[i] {
			continue
		}
		aID := snap.order[i]
		for j := i + 1; j < len(snap.order); j++ {
			if skip[j] {
				continue
			}
			bID := snap.order[j]
			nameA, nameB := names[aID], names[bID]
			if nameA != "" && nameB != "" && !SameName(nameA, nameB) {
				continue
			}
			repA, repB := reps[aID], reps[bID]
			if repA == nil || repB == nil || len(repA) != len(repB) {
				continue
			}
			if embedding.Distance(repA, repB) >= tolerance {
				continue
			}

			res, err := Merge(ctx, store, thumbDir, aID, bID)
			if err != nil {
				return merged, fmt.Errorf("merging %s and %s: %w", aID, bID, err)
			}
			merged++
			skip[j] = true

			snap.exemplars[res.WinnerID] = append(snap.exemplars[res.WinnerID], snap.exemplars[res.LoserID]...)
			if res.WinnerID != aID {
				// A named b won; keep sweeping with the winner in a's slot.
				snap.order[i] = res.WinnerID
				aID = res.WinnerID
			}
			// The merge may have adopted the loser's better-scoring
			// representative; keep comparing against the current one.
			if w, err := store.GetPerson(ctx, res.WinnerID); err == nil {
				reps[res.WinnerID] = representativeVector(ctx, store, w, snap)
			}
		}
	}
	return merged, nil
}

// representativeVector decodes the embedding of a person's
// representative face, falling back to the first stored exemplar when
// no representative is recorded. Returns nil when neither is usable.
func representativeVector(ctx context.Context, store catalog.Store, p *catalog.Person, snap *snapshot) []float32 {
	if p.RepresentativeFaceID != "" {
		if f, err := store.GetFace(ctx, p.RepresentativeFaceID); err == nil {
			if v, err := embedding.Decode(f.Encoding); err == nil {
				return v.Values
			}
		}
	}
	if ex := snap.exemplars[p.ID]; len(ex) > 0 {
		return ex[0]
	}
	return nil
}

// ReclusterResult summarises a full re-cluster.
type ReclusterResult struct {
	Faces   int
	Persons int
	Skipped int
}

// Recluster drops every person and reassigns all faces from scratch in
// stored order, using the single-threaded variant of the online
// matcher. Representative thumbnails are carried over from each new
// representative face's previous file.
func Recluster(ctx context.Context, store catalog.Store, cfg config.ClusteringConfig, thumbDir string) (*ReclusterResult, error) {
	faces, err := store.AllFaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading faces: %w", err)
	}

	if err := store.ClearFacePersons(ctx); err != nil {
		return nil, err
	}
	if err := store.DeleteAllPersons(ctx); err != nil {
		return nil, err
	}

	type newCluster struct {
		personID  string
		exemplars [][]float32
		bestScore float64
		bestFace  string
		bestThumb string
	}
	var clusters []*newCluster
	res := &ReclusterResult{}

	for i := range faces {
		f := &faces[i]
		v, err := embedding.Decode(f.Encoding)
		if err != nil {
			res.Skipped++
			continue
		}

		tol := embedding.ToleranceFor(v.Dim())
		if v.Dim() == embedding.DimInsightFace && cfg.InsightFaceTolerance > 0 {
			tol = cfg.InsightFaceTolerance
		} else if v.Dim() != embedding.DimInsightFace && cfg.FaceRecognitionTolerance > 0 {
			tol = cfg.FaceRecognitionTolerance
		}

		cands := make([]embedding.Candidate, len(clusters))
		for j, c := range clusters {
			cands[j] = embedding.Candidate{PersonID: c.personID, Exemplars: c.exemplars}
		}
		idx, _, ok := embedding.Match(v.Values, cands, tol)

		var target *newCluster
		if ok {
			target = clusters[idx]
		} else {
			target = &newCluster{personID: uuid.NewString()}
			clusters = append(clusters, target)
			if err := store.InsertPerson(ctx, &catalog.Person{ID: target.personID}); err != nil {
				return nil, fmt.Errorf("creating person: %w", err)
			}
		}

		target.exemplars = append(target.exemplars, v.Values)
		if f.Metadata.DetScore > target.bestScore || target.bestFace == "" {
			target.bestScore = f.Metadata.DetScore
			target.bestFace = f.ID
			target.bestThumb = f.ThumbnailPath
		}
		if err := store.UpdateFacePerson(ctx, f.ID, target.personID); err != nil {
			return nil, err
		}
		res.Faces++
	}

	for _, c := range clusters {
		if c.bestThumb != "" {
			src := filepath.Join(thumbDir, filepath.Base(c.bestThumb))
			copyFile(src, filepath.Join(thumbDir, RepThumbFile(c.personID)))
		}
		if err := store.UpdatePersonRepresentative(ctx, c.personID, c.bestFace, c.bestScore); err != nil {
			return nil, err
		}
		if err := store.SetFaceThumbnailsByPerson(ctx, c.personID, RepThumbRel(c.personID)); err != nil {
			return nil, err
		}
	}
	res.Persons = len(clusters)
	return res, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
