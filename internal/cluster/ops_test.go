package cluster

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/kozaktomas/facepic/internal/catalog"
	"github.com/kozaktomas/facepic/internal/catalog/mock"
	"github.com/kozaktomas/facepic/internal/embedding"
)

func writeThumb(t *testing.T, dir, name, payload string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(payload), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestMerge(t *testing.T) {
	ctx := context.Background()

	t.Run("NamedWinsOverUnlabeled", func(t *testing.T) {
		store := mock.New()
		dir := t.TempDir()
		store.InsertPerson(ctx, &catalog.Person{ID: "unnamed", BestFaceScore: 0.9, RepresentativeFaceID: "fa"})
		store.InsertPerson(ctx, &catalog.Person{ID: "alice", Name: "Alice", BestFaceScore: 0.7, RepresentativeFaceID: "fb"})
		insertFace(t, store, "fa", "img1", "unnamed", vec512(0), 0.9)
		insertFace(t, store, "fb", "img2", "alice", near512(0), 0.7)
		writeThumb(t, dir, RepThumbFile("unnamed"), "unnamed-thumb")
		writeThumb(t, dir, RepThumbFile("alice"), "alice-thumb")

		res, err := Merge(ctx, store, dir, "unnamed", "alice")
		if err != nil {
			t.Fatalf("Merge failed: %v", err)
		}
		if res.WinnerID != "alice" || res.LoserID != "unnamed" {
			t.Fatalf("expected alice to win, got %+v", res)
		}
		if res.Moved != 1 {
			t.Errorf("expected 1 face moved, got %d", res.Moved)
		}

		if _, err := store.GetPerson(ctx, "unnamed"); !errors.Is(err, catalog.ErrNotFound) {
			t.Error("loser should be deleted")
		}

		// The unnamed person's face scored better, so its thumbnail and
		// representative take over under the winner's name.
		winner, _ := store.GetPerson(ctx, "alice")
		if winner.RepresentativeFaceID != "fa" || winner.BestFaceScore != 0.9 {
			t.Errorf("representative not adopted: %+v", winner)
		}
		data, _ := os.ReadFile(filepath.Join(dir, RepThumbFile("alice")))
		if string(data) != "unnamed-thumb" {
			t.Errorf("thumbnail not copied: %q", data)
		}

		faces, _ := store.FacesByPerson(ctx, "alice")
		if len(faces) != 2 {
			t.Fatalf("expected 2 faces on winner, got %d", len(faces))
		}
		for _, f := range faces {
			if f.ThumbnailPath != RepThumbRel("alice") {
				t.Errorf("face thumbnail not rewritten: %s", f.ThumbnailPath)
			}
		}
	})

	t.Run("DifferentNamesRefused", func(t *testing.T) {
		store := mock.New()
		store.InsertPerson(ctx, &catalog.Person{ID: "a", Name: "Alice"})
		store.InsertPerson(ctx, &catalog.Person{ID: "b", Name: "Bob"})

		if _, err := Merge(ctx, store, t.TempDir(), "a", "b"); !errors.Is(err, ErrDifferentNames) {
			t.Errorf("expected ErrDifferentNames, got %v", err)
		}
		n, _ := store.CountPersons(ctx)
		if n != 2 {
			t.Errorf("nothing should be merged, got %d persons", n)
		}
	})

	t.Run("SameNameModuloDiacritics", func(t *testing.T) {
		store := mock.New()
		store.InsertPerson(ctx, &catalog.Person{ID: "a", Name: "Jiří Novák"})
		store.InsertPerson(ctx, &catalog.Person{ID: "b", Name: "jiri novak"})
		insertFace(t, store, "f1", "img1", "b", vec512(0), 0.8)

		res, err := Merge(ctx, store, t.TempDir(), "a", "b")
		if err != nil {
			t.Fatalf("Merge failed: %v", err)
		}
		if res.WinnerID != "a" {
			t.Errorf("expected first person to win, got %s", res.WinnerID)
		}
	})
}

func TestSweepDuplicates(t *testing.T) {
	ctx := context.Background()

	t.Run("MergesNearbyClusters", func(t *testing.T) {
		store := mock.New()
		store.InsertPerson(ctx, &catalog.Person{ID: "p1"})
		store.InsertPerson(ctx, &catalog.Person{ID: "p2"})
		store.InsertPerson(ctx, &catalog.Person{ID: "p3"})
		insertFace(t, store, "f1", "img1", "p1", vec512(0), 0.9)
		insertFace(t, store, "f2", "img2", "p2", near512(0), 0.8)
		insertFace(t, store, "f3", "img3", "p3", vec512(100), 0.7)

		merged, err := SweepDuplicates(ctx, store, t.TempDir(), 0.4)
		if err != nil {
			t.Fatalf("SweepDuplicates failed: %v", err)
		}
		if merged != 1 {
			t.Fatalf("expected 1 merge, got %d", merged)
		}
		n, _ := store.CountPersons(ctx)
		if n != 2 {
			t.Errorf("expected 2 persons left, got %d", n)
		}
		n, _ = store.CountFacesByPerson(ctx, "p1")
		if n != 2 {
			t.Errorf("expected both faces on p1, got %d", n)
		}
	})

	t.Run("SkipsDifferentlyNamedPairs", func(t *testing.T) {
		store := mock.New()
		store.InsertPerson(ctx, &catalog.Person{ID: "p1", Name: "Alice"})
		store.InsertPerson(ctx, &catalog.Person{ID: "p2", Name: "Bob"})
		insertFace(t, store, "f1", "img1", "p1", vec512(0), 0.9)
		insertFace(t, store, "f2", "img2", "p2", near512(0), 0.8)

		merged, err := SweepDuplicates(ctx, store, t.TempDir(), 0.4)
		if err != nil {
			t.Fatalf("SweepDuplicates failed: %v", err)
		}
		if merged != 0 {
			t.Errorf("expected no merges across names, got %d", merged)
		}
	})

	t.Run("StrayFacesDoNotBridgeClusters", func(t *testing.T) {
		store := mock.New()
		store.InsertPerson(ctx, &catalog.Person{ID: "p1", RepresentativeFaceID: "f1", BestFaceScore: 0.9})
		store.InsertPerson(ctx, &catalog.Person{ID: "p2", RepresentativeFaceID: "f2", BestFaceScore: 0.9})
		insertFace(t, store, "f1", "img1", "p1", vec512(0), 0.9)
		insertFace(t, store, "f2", "img2", "p2", vec512(100), 0.9)
		// A blurry background face landed in each cluster. The two strays
		// are near-identical, but the clusters are not the same person.
		insertFace(t, store, "s1", "img3", "p1", vec512(50), 0.5)
		insertFace(t, store, "s2", "img4", "p2", near512(50), 0.5)

		merged, err := SweepDuplicates(ctx, store, t.TempDir(), 0.4)
		if err != nil {
			t.Fatalf("SweepDuplicates failed: %v", err)
		}
		if merged != 0 {
			t.Errorf("expected no merges, got %d", merged)
		}
		n, _ := store.CountPersons(ctx)
		if n != 2 {
			t.Errorf("expected both persons to survive, got %d", n)
		}
	})

	t.Run("AdoptedRepresentativeExtendsChain", func(t *testing.T) {
		store := mock.New()
		dir := t.TempDir()
		store.InsertPerson(ctx, &catalog.Person{ID: "p1", RepresentativeFaceID: "f1", BestFaceScore: 0.5})
		store.InsertPerson(ctx, &catalog.Person{ID: "p2", RepresentativeFaceID: "f2", BestFaceScore: 0.9})
		store.InsertPerson(ctx, &catalog.Person{ID: "p3", RepresentativeFaceID: "f3", BestFaceScore: 0.8})
		insertFace(t, store, "f1", "img1", "p1", vec512(0), 0.5)
		insertFace(t, store, "f2", "img2", "p2", near512(0), 0.9)
		// Close to p2's representative, too far from p1's original one.
		v3 := make([]float32, embedding.DimInsightFace)
		v3[0] = float32(math.Sqrt(1 - 0.81))
		v3[1] = 0.9
		insertFace(t, store, "f3", "img3", "p3", v3, 0.8)
		writeThumb(t, dir, RepThumbFile("p2"), "p2-thumb")

		merged, err := SweepDuplicates(ctx, store, dir, 0.4)
		if err != nil {
			t.Fatalf("SweepDuplicates failed: %v", err)
		}
		// p1 absorbs p2 and adopts its better-scoring representative;
		// that refreshed vector then reaches p3 as well.
		if merged != 2 {
			t.Fatalf("expected 2 merges, got %d", merged)
		}
		n, _ := store.CountPersons(ctx)
		if n != 1 {
			t.Errorf("expected a single person left, got %d", n)
		}
	})

	t.Run("ChainsThroughNamedWinner", func(t *testing.T) {
		store := mock.New()
		store.InsertPerson(ctx, &catalog.Person{ID: "p1"})
		store.InsertPerson(ctx, &catalog.Person{ID: "p2", Name: "Alice"})
		insertFace(t, store, "f1", "img1", "p1", vec512(0), 0.9)
		insertFace(t, store, "f2", "img2", "p2", near512(0), 0.8)

		merged, err := SweepDuplicates(ctx, store, t.TempDir(), 0.4)
		if err != nil {
			t.Fatalf("SweepDuplicates failed: %v", err)
		}
		if merged != 1 {
			t.Fatalf("expected 1 merge, got %d", merged)
		}
		// The named person must survive.
		if _, err := store.GetPerson(ctx, "p2"); err != nil {
			t.Errorf("named person should survive: %v", err)
		}
	})
}

func TestRecluster(t *testing.T) {
	ctx := context.Background()
	store := mock.New()
	dir := t.TempDir()

	// Two old persons that actually depict the same individual, plus a
	// genuinely different one.
	store.InsertPerson(ctx, &catalog.Person{ID: "old1"})
	store.InsertPerson(ctx, &catalog.Person{ID: "old2"})
	store.InsertPerson(ctx, &catalog.Person{ID: "old3"})
	insertFace(t, store, "f1", "img1", "old1", vec512(0), 0.9)
	insertFace(t, store, "f2", "img2", "old2", near512(0), 0.95)
	insertFace(t, store, "f3", "img3", "old3", vec512(100), 0.7)
	store.SetFaceThumbnail(ctx, "f2", RepThumbRel("old2"))
	writeThumb(t, dir, RepThumbFile("old2"), "best-face")

	res, err := Recluster(ctx, store, clusteringConfig(), dir)
	if err != nil {
		t.Fatalf("Recluster failed: %v", err)
	}
	if res.Faces != 3 {
		t.Errorf("expected 3 faces assigned, got %d", res.Faces)
	}
	if res.Persons != 2 {
		t.Fatalf("expected 2 persons, got %d", res.Persons)
	}

	// Old persons are gone, all faces reattached.
	if _, err := store.GetPerson(ctx, "old1"); !errors.Is(err, catalog.ErrNotFound) {
		t.Error("old persons should be deleted")
	}
	f1, _ := store.GetFace(ctx, "f1")
	f2, _ := store.GetFace(ctx, "f2")
	f3, _ := store.GetFace(ctx, "f3")
	if f1.PersonID == "" || f1.PersonID != f2.PersonID {
		t.Errorf("f1 and f2 should share a person: %s vs %s", f1.PersonID, f2.PersonID)
	}
	if f3.PersonID == f1.PersonID {
		t.Error("f3 should get its own person")
	}

	// The representative of the joint cluster is the best-scoring face,
	// and its thumbnail was carried over to the new stable name.
	p, err := store.GetPerson(ctx, f1.PersonID)
	if err != nil {
		t.Fatal(err)
	}
	if p.RepresentativeFaceID != "f2" || p.BestFaceScore != 0.95 {
		t.Errorf("unexpected representative: %+v", p)
	}
	data, err := os.ReadFile(filepath.Join(dir, RepThumbFile(p.ID)))
	if err != nil || string(data) != "best-face" {
		t.Errorf("representative thumbnail not carried over: %v", err)
	}
	if f1.ThumbnailPath != RepThumbRel(p.ID) {
		t.Errorf("face thumbnail not rewritten: %s", f1.ThumbnailPath)
	}
}

func TestNormalizePersonName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Jiří", "jiri"},
		{"Anna-Marie  Nová", "anna marie nova"},
		{"BOB", "bob"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizePersonName(tc.in); got != tc.want {
			t.Errorf("NormalizePersonName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	if SameName("", "") {
		t.Error("empty names must not match")
	}
	if !SameName("Jiří Novák", "jiri novak") {
		t.Error("expected names to match modulo diacritics and case")
	}
}
