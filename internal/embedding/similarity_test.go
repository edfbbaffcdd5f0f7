package embedding

import (
	"math"
	"testing"
)

func unit512(seed int) []float32 {
	v := make([]float32, 512)
	for i := range v {
		v[i] = float32(math.Sin(float64(seed*977 + i)))
	}
	Normalize(v)
	return v
}

func TestCosineDistance_Symmetry(t *testing.T) {
	a := unit512(1)
	b := unit512(2)

	ab := CosineDistance(a, b)
	ba := CosineDistance(b, a)
	if ab != ba {
		t.Errorf("cosine distance not symmetric: %v != %v", ab, ba)
	}
}

func TestCosineDistance_Identity(t *testing.T) {
	a := unit512(3)
	if d := CosineDistance(a, a); math.Abs(d) > 1e-5 {
		t.Errorf("self distance should be ~0, got %v", d)
	}
}

func TestEuclideanDistance(t *testing.T) {
	a := []float32{0, 0, 0}
	b := []float32{1, 2, 2}
	if d := EuclideanDistance(a, b); math.Abs(d-3) > 1e-9 {
		t.Errorf("expected distance 3, got %v", d)
	}
}

func TestDistance_MetricByDimension(t *testing.T) {
	// 512-d uses cosine: identical unit vectors have distance ~0.
	a := unit512(4)
	if d := Distance(a, a); math.Abs(d) > 1e-5 {
		t.Errorf("512-d self distance should be ~0, got %v", d)
	}

	// 128-d uses Euclidean.
	c := make([]float32, 128)
	d := make([]float32, 128)
	d[0] = 0.5
	if got := Distance(c, d); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("128-d distance should be 0.5, got %v", got)
	}
}

func TestClusterDistance_MinLinkage(t *testing.T) {
	query := unit512(5)
	near := make([]float32, 512)
	copy(near, query) // distance 0
	far := unit512(6)

	d, ok := ClusterDistance(query, [][]float32{far, near})
	if !ok {
		t.Fatal("expected a comparable exemplar")
	}
	if math.Abs(d) > 1e-5 {
		t.Errorf("min linkage should pick the nearest exemplar, got %v", d)
	}
}

func TestClusterDistance_SkipsMismatchedDims(t *testing.T) {
	query := unit512(7)
	short := make([]float32, 128)

	if _, ok := ClusterDistance(query, [][]float32{short}); ok {
		t.Error("dimension mismatch should not be comparable")
	}
}

func TestMatch(t *testing.T) {
	target := unit512(8)
	same := make([]float32, 512)
	copy(same, target)
	other := unit512(9)

	candidates := []Candidate{
		{PersonID: "p1", Exemplars: [][]float32{other}},
		{PersonID: "p2", Exemplars: [][]float32{same}},
	}

	idx, dist, ok := Match(target, candidates, DefaultInsightFaceTolerance)
	if !ok {
		t.Fatal("expected a match")
	}
	if idx != 1 {
		t.Errorf("expected candidate 1, got %d", idx)
	}
	if dist > 1e-5 {
		t.Errorf("expected near-zero distance, got %v", dist)
	}
}

func TestMatch_NoneUnderTolerance(t *testing.T) {
	query := unit512(10)
	// An orthogonal-ish vector should sit near distance 1.
	far := unit512(11)

	if CosineDistance(query, far) < DefaultInsightFaceTolerance {
		t.Skip("generated vectors unexpectedly close")
	}

	_, _, ok := Match(query, []Candidate{{PersonID: "p", Exemplars: [][]float32{far}}}, DefaultInsightFaceTolerance)
	if ok {
		t.Error("expected no match above tolerance")
	}
}

func TestMatch_TieBrokenByFirstEncountered(t *testing.T) {
	query := unit512(12)
	same := make([]float32, 512)
	copy(same, query)

	candidates := []Candidate{
		{PersonID: "first", Exemplars: [][]float32{same}},
		{PersonID: "second", Exemplars: [][]float32{same}},
	}

	idx, _, ok := Match(query, candidates, DefaultInsightFaceTolerance)
	if !ok || idx != 0 {
		t.Errorf("tie should resolve to first candidate, got idx=%d ok=%v", idx, ok)
	}
}

func TestToleranceFor(t *testing.T) {
	if ToleranceFor(512) != DefaultInsightFaceTolerance {
		t.Error("512-d should use the cosine tolerance")
	}
	if ToleranceFor(128) != DefaultFaceRecognitionTolerance {
		t.Error("128-d should use the Euclidean tolerance")
	}
}
