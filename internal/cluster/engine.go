// Package cluster groups detected faces into persons: an online
// match-or-create pass during ingestion, plus the merge, re-cluster and
// duplicate-sweep maintenance operations.
package cluster

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/kozaktomas/facepic/internal/blob"
	"github.com/kozaktomas/facepic/internal/catalog"
	"github.com/kozaktomas/facepic/internal/config"
	"github.com/kozaktomas/facepic/internal/embedding"
)

// RepThumbFile is the stable on-disk name of a person's representative
// thumbnail. It is overwritten in place when a better face arrives, so
// references to it never go stale.
func RepThumbFile(personID string) string {
	return "person_" + personID + ".jpg"
}

// RepThumbRel is the thumbnail path recorded on face and person
// documents, relative to the thumbnail root.
func RepThumbRel(personID string) string {
	return "faces/" + RepThumbFile(personID)
}

type runCluster struct {
	personID  string
	exemplars [][]float32
}

// Engine assigns faces to persons while an ingestion run is active.
//
// Matching works against two layers: an immutable snapshot of the
// clusters that existed at startup, and a shared list of clusters
// touched during this run. Workers race on the shared layer; a missed
// match can create a duplicate person, which the duplicate sweep
// reconciles afterwards.
type Engine struct {
	store    catalog.Store
	cfg      config.ClusteringConfig
	thumbDir string // absolute face thumbnail directory
	sink     blob.Sink

	snap *snapshot

	mu       sync.RWMutex
	run      map[string]*runCluster
	runOrder []string

	promoteMu sync.Mutex
	best      map[string]float64
}

// NewEngine loads the snapshot layer and the cached best-face scores.
// sink may be nil when blob uploads are disabled.
func NewEngine(ctx context.Context, store catalog.Store, cfg config.ClusteringConfig, thumbDir string, sink blob.Sink) (*Engine, error) {
	snap, err := buildSnapshot(ctx, store)
	if err != nil {
		return nil, err
	}

	persons, err := store.AllPersons(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading persons: %w", err)
	}
	best := make(map[string]float64, len(persons))
	for _, p := range persons {
		best[p.ID] = p.BestFaceScore
	}

	return &Engine{
		store:    store,
		cfg:      cfg,
		thumbDir: thumbDir,
		sink:     sink,
		snap:     snap,
		run:      make(map[string]*runCluster),
		best:     best,
	}, nil
}

func (e *Engine) toleranceFor(dim int) float64 {
	if dim == embedding.DimInsightFace {
		if e.cfg.InsightFaceTolerance > 0 {
			return e.cfg.InsightFaceTolerance
		}
		return embedding.DefaultInsightFaceTolerance
	}
	if e.cfg.FaceRecognitionTolerance > 0 {
		return e.cfg.FaceRecognitionTolerance
	}
	return embedding.DefaultFaceRecognitionTolerance
}

// runToleranceFor is the slightly looser threshold used between faces
// of the same run, where lighting and pose tend to repeat.
func (e *Engine) runToleranceFor(dim int) float64 {
	if dim == embedding.DimInsightFace && e.cfg.RunClusterTolerance > 0 {
		return e.cfg.RunClusterTolerance
	}
	return e.toleranceFor(dim)
}

// Assign matches the face embedding against existing clusters and
// either attaches the face to the best match or creates a new person.
// Returns the person id and whether a new person was created.
func (e *Engine) Assign(ctx context.Context, faceID string, vec []float32) (string, bool, error) {
	snapCands := e.snap.candidatesFor(vec)
	snapIdx, snapDist, snapOK := embedding.Match(vec, snapCands, e.toleranceFor(len(vec)))

	e.mu.RLock()
	runCands := make([]embedding.Candidate, len(e.runOrder))
	for i, id := range e.runOrder {
		c := e.run[id]
		runCands[i] = embedding.Candidate{PersonID: c.personID, Exemplars: c.exemplars}
	}
	e.mu.RUnlock()
	runIdx, runDist, runOK := embedding.Match(vec, runCands, e.runToleranceFor(len(vec)))

	var personID string
	switch {
	case snapOK && runOK && snapDist <= runDist:
		personID = snapCands[snapIdx].PersonID
	case runOK:
		personID = runCands[runIdx].PersonID
	case snapOK:
		personID = snapCands[snapIdx].PersonID
	}

	if personID != "" {
		e.addExemplar(personID, vec)
		if err := e.store.UpdateFacePerson(ctx, faceID, personID); err != nil {
			return "", false, err
		}
		return personID, false, nil
	}

	person := &catalog.Person{ID: uuid.NewString()}
	if err := e.store.InsertPerson(ctx, person); err != nil {
		return "", false, fmt.Errorf("creating person: %w", err)
	}
	if err := e.store.UpdateFacePerson(ctx, faceID, person.ID); err != nil {
		return "", false, err
	}
	e.addExemplar(person.ID, vec)
	return person.ID, true, nil
}

// addExemplar records the vector on the shared run layer so later faces
// of this run can match against it.
func (e *Engine) addExemplar(personID string, vec []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.run[personID]
	if !ok {
		c = &runCluster{personID: personID}
		e.run[personID] = c
		e.runOrder = append(e.runOrder, personID)
	}
	c.exemplars = append(c.exemplars, vec)
}

// PromoteRepresentative makes the face the person's representative when
// its detection score beats the cached best, or when the person's
// thumbnail file is missing on disk. The render callback is
// only invoked on promotion; it must return the face thumbnail JPEG.
// The thumbnail is written over the person's stable file name, so
// existing references keep working.
func (e *Engine) PromoteRepresentative(ctx context.Context, personID, faceID string, score float64, render func() ([]byte, error)) (bool, error) {
	e.promoteMu.Lock()
	defer e.promoteMu.Unlock()

	path := filepath.Join(e.thumbDir, RepThumbFile(personID))
	if score <= e.best[personID] {
		// A lost thumbnail file is rebuilt even by a lower-scoring face.
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}

	data, err := render()
	if err != nil {
		return false, fmt.Errorf("rendering representative thumbnail: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("writing representative thumbnail: %w", err)
	}

	if err := e.store.UpdatePersonRepresentative(ctx, personID, faceID, score); err != nil {
		return false, err
	}
	e.best[personID] = score

	if e.sink != nil {
		if err := e.sink.PutBytes(ctx, RepThumbRel(personID), data, "image/jpeg"); err != nil {
			return true, fmt.Errorf("uploading representative thumbnail: %w", err)
		}
	}
	return true, nil
}
