package embedding

import "math"

// Default matching tolerances by dimensionality. 512-d InsightFace
// embeddings are compared by cosine distance (1 - dot on unit vectors),
// 128-d embeddings by Euclidean distance.
const (
	DefaultInsightFaceTolerance     = 0.4
	DefaultFaceRecognitionTolerance = 0.6
)

// Candidate is one cluster's exemplar set as seen by the matcher.
type Candidate struct {
	PersonID  string
	Exemplars [][]float32
}

// CosineDistance computes 1 - dot(a, b). Both vectors are expected to be
// unit-norm, so the dot product is the cosine similarity.
func CosineDistance(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return 1 - dot
}

// EuclideanDistance computes the L2 distance between two vectors.
func EuclideanDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Distance picks the metric implied by dimensionality: cosine for 512-d,
// Euclidean otherwise.
func Distance(a, b []float32) float64 {
	if len(a) == DimInsightFace {
		return CosineDistance(a, b)
	}
	return EuclideanDistance(a, b)
}

// ClusterDistance is the nearest-neighbour linkage: the minimum distance
// between the query and any exemplar of the cluster. Exemplars with a
// different dimensionality than the query are skipped silently. The
// boolean result is false when no exemplar was comparable.
func ClusterDistance(query []float32, exemplars [][]float32) (float64, bool) {
	best := math.Inf(1)
	found := false
	for _, ex := range exemplars {
		if len(ex) != len(query) {
			continue
		}
		if d := Distance(query, ex); d < best {
			best = d
			found = true
		}
	}
	return best, found
}

// Match finds the best matching candidate for a query under the given
// tolerance. Returns the candidate index, its distance, and whether any
// candidate matched. Ties are broken by first-encountered order.
func Match(query []float32, candidates []Candidate, tolerance float64) (int, float64, bool) {
	bestIdx := -1
	bestDist := math.Inf(1)
	for i, c := range candidates {
		d, ok := ClusterDistance(query, c.Exemplars)
		if !ok {
			continue
		}
		if d < tolerance && d < bestDist {
			bestIdx = i
			bestDist = d
		}
	}
	if bestIdx < 0 {
		return -1, 0, false
	}
	return bestIdx, bestDist, true
}

// ToleranceFor returns the default tolerance for a given dimensionality.
func ToleranceFor(dim int) float64 {
	if dim == DimInsightFace {
		return DefaultInsightFaceTolerance
	}
	return DefaultFaceRecognitionTolerance
}
