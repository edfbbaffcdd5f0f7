package cluster

import (
	"context"
	"errors"
	"fmt"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/facepic/internal/catalog"
	"github.com/kozaktomas/facepic/internal/embedding"
)

// hnswMaxNeighbors is the M parameter of the candidate graph.
const hnswMaxNeighbors = 16

// snapCandidates is how many nearest exemplars the graph is asked for
// before exact per-cluster distances are computed.
const snapCandidates = 24

// snapshot is the immutable view of the clusters that existed when the
// run started. 512-d exemplars are additionally indexed in an HNSW
// graph so candidate lookup stays fast on large catalogues.
type snapshot struct {
	exemplars map[string][][]float32 // person id -> exemplar vectors
	order     []string               // person ids in load order

	graph  *hnsw.Graph[int]
	owners []string // graph node key -> person id
}

// buildSnapshot loads every assigned face and groups the decodable
// embeddings by person. Faces with unsupported encodings are skipped.
func buildSnapshot(ctx context.Context, store catalog.Store) (*snapshot, error) {
	faces, err := store.AllFaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading faces for cluster snapshot: %w", err)
	}

	s := &snapshot{exemplars: make(map[string][][]float32)}
	for i := range faces {
		f := &faces[i]
		if f.PersonID == "" {
			continue
		}
		v, err := embedding.Decode(f.Encoding)
		if err != nil {
			if errors.Is(err, embedding.ErrBadLength) {
				continue
			}
			return nil, fmt.Errorf("decoding face %s: %w", f.ID, err)
		}

		if _, seen := s.exemplars[f.PersonID]; !seen {
			s.order = append(s.order, f.PersonID)
		}
		s.exemplars[f.PersonID] = append(s.exemplars[f.PersonID], v.Values)

		if v.Dim() == embedding.DimInsightFace {
			if s.graph == nil {
				g := hnsw.NewGraph[int]()
				g.M = hnswMaxNeighbors
				g.Ml = 1.0 / float64(hnswMaxNeighbors)
				g.Distance = hnsw.CosineDistance
				s.graph = g
			}
			s.graph.Add(hnsw.MakeNode(len(s.owners), v.Values))
			s.owners = append(s.owners, f.PersonID)
		}
	}
	return s, nil
}

// candidatesFor returns the clusters worth an exact distance check for
// the query. 512-d queries go through the graph; everything else falls
// back to a full scan, which is fine for the small legacy population.
func (s *snapshot) candidatesFor(query []float32) []embedding.Candidate {
	if len(query) == embedding.DimInsightFace && s.graph != nil {
		seen := make(map[string]bool)
		var out []embedding.Candidate
		for _, node := range s.graph.Search(query, snapCandidates) {
			personID := s.owners[node.Key]
			if seen[personID] {
				continue
			}
			seen[personID] = true
			out = append(out, embedding.Candidate{
				PersonID:  personID,
				Exemplars: s.exemplars[personID],
			})
		}
		return out
	}

	out := make([]embedding.Candidate, 0, len(s.order))
	for _, personID := range s.order {
		out = append(out, embedding.Candidate{
			PersonID:  personID,
			Exemplars: s.exemplars[personID],
		})
	}
	return out
}
