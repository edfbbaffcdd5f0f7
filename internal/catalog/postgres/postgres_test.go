//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kozaktomas/facepic/internal/catalog"
	"github.com/kozaktomas/facepic/internal/config"
	"github.com/kozaktomas/facepic/internal/embedding"
)

func setupTestContainer(t *testing.T) (*Store, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}
	if container == nil {
		t.Skip("Docker not available, skipping integration test")
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	cfg := &config.DatabaseConfig{
		URL:          fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port()),
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	store, err := New(cfg)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		store.Close()
		container.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		store.Close()
		container.Terminate(ctx)
	}
	return store, cleanup
}

func encoded512(seed float32) []byte {
	values := make([]float32, embedding.DimInsightFace)
	for i := range values {
		values[i] = seed + float32(i)/512.0
	}
	embedding.Normalize(values)
	return embedding.Encode(values)
}

func TestImageLifecycle(t *testing.T) {
	store, cleanup := setupTestContainer(t)
	if store == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()

	img := &catalog.Image{
		ID:               "img1",
		Filename:         "abc.jpg",
		OriginalFilename: "photo.jpg",
		FilePath:         "/import/Vacation/photo.jpg",
		MimeType:         "image/jpeg",
		Processed:        catalog.StatePending,
		RelativePath:     "Vacation/photo.jpg",
		Metadata:         catalog.ImageMetadata{Make: "Canon"},
	}

	t.Run("InsertAndGet", func(t *testing.T) {
		if err := store.InsertImage(ctx, img); err != nil {
			t.Fatalf("Failed to insert image: %v", err)
		}
		got, err := store.GetImage(ctx, "img1")
		if err != nil {
			t.Fatalf("Failed to get image: %v", err)
		}
		if got.OriginalFilename != "photo.jpg" {
			t.Errorf("Expected original filename 'photo.jpg', got '%s'", got.OriginalFilename)
		}
		if got.Metadata.Make != "Canon" {
			t.Errorf("Expected Make 'Canon', got '%s'", got.Metadata.Make)
		}
	})

	t.Run("GetByRelPath", func(t *testing.T) {
		got, err := store.GetImageByRelPath(ctx, "Vacation/photo.jpg")
		if err != nil {
			t.Fatalf("Failed to get image by path: %v", err)
		}
		if got.ID != "img1" {
			t.Errorf("Expected img1, got %s", got.ID)
		}
		if _, err := store.GetImageByRelPath(ctx, "missing.jpg"); err != catalog.ErrNotFound {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("StateAndFaces", func(t *testing.T) {
		if err := store.UpdateImageState(ctx, "img1", catalog.StateProcessed); err != nil {
			t.Fatalf("Failed to update state: %v", err)
		}
		if err := store.SetImageFaces(ctx, "img1", []string{"f1", "f2"}); err != nil {
			t.Fatalf("Failed to set faces: %v", err)
		}
		if err := store.RemoveImageFace(ctx, "img1", "f1"); err != nil {
			t.Fatalf("Failed to remove face: %v", err)
		}
		got, _ := store.GetImage(ctx, "img1")
		if got.Processed != catalog.StateProcessed {
			t.Errorf("Expected processed state, got %s", got.Processed)
		}
		if len(got.Faces) != 1 || got.Faces[0] != "f2" {
			t.Errorf("Expected faces [f2], got %v", got.Faces)
		}
	})

	t.Run("Upload", func(t *testing.T) {
		pending, err := store.ImagesPendingUpload(ctx)
		if err != nil {
			t.Fatalf("Failed to list pending: %v", err)
		}
		if len(pending) != 1 {
			t.Fatalf("Expected 1 pending image, got %d", len(pending))
		}
		if err := store.MarkImageUploaded(ctx, "img1", "new.jpg", "thumb_new.jpg"); err != nil {
			t.Fatalf("Failed to mark uploaded: %v", err)
		}
		pending, _ = store.ImagesPendingUpload(ctx)
		if len(pending) != 0 {
			t.Errorf("Expected 0 pending images, got %d", len(pending))
		}
	})

	t.Run("DeleteCascades", func(t *testing.T) {
		face := &catalog.Face{
			ID:       "f2",
			ImageID:  "img1",
			BBox:     catalog.BBox{Top: 10, Right: 100, Bottom: 110, Left: 20},
			Encoding: encoded512(0.1),
		}
		if err := store.InsertFace(ctx, face); err != nil {
			t.Fatalf("Failed to insert face: %v", err)
		}
		if err := store.DeleteImage(ctx, "img1"); err != nil {
			t.Fatalf("Failed to delete image: %v", err)
		}
		if _, err := store.GetFace(ctx, "f2"); err != catalog.ErrNotFound {
			t.Errorf("Expected face to be cascaded away, got %v", err)
		}
	})
}

func TestFaceQueries(t *testing.T) {
	store, cleanup := setupTestContainer(t)
	if store == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()

	if err := store.InsertImage(ctx, &catalog.Image{ID: "img1", Filename: "a.jpg", OriginalFilename: "a.jpg", FilePath: "/a.jpg"}); err != nil {
		t.Fatalf("Failed to insert image: %v", err)
	}
	for i := 0; i < 4; i++ {
		f := &catalog.Face{
			ID:       fmt.Sprintf("f%d", i),
			ImageID:  "img1",
			PersonID: "p1",
			BBox:     catalog.BBox{Top: 0, Right: 50, Bottom: 50, Left: 0},
			Encoding: encoded512(float32(i)),
			Metadata: catalog.FaceMetadata{DetScore: 0.9},
		}
		if err := store.InsertFace(ctx, f); err != nil {
			t.Fatalf("Failed to insert face %d: %v", i, err)
		}
	}

	t.Run("FindSimilar", func(t *testing.T) {
		query, err := embedding.Decode(encoded512(0))
		if err != nil {
			t.Fatal(err)
		}
		faces, distances, err := store.FindSimilarFaces(ctx, query.Values, 3)
		if err != nil {
			t.Fatalf("Failed to find similar faces: %v", err)
		}
		if len(faces) != 3 {
			t.Fatalf("Expected 3 faces, got %d", len(faces))
		}
		if faces[0].ID != "f0" {
			t.Errorf("Expected f0 nearest, got %s", faces[0].ID)
		}
		for i := 1; i < len(distances); i++ {
			if distances[i] < distances[i-1] {
				t.Error("Distances not sorted")
			}
		}
	})

	t.Run("MoveFaces", func(t *testing.T) {
		moved, err := store.MoveFaces(ctx, "p1", "p2")
		if err != nil {
			t.Fatalf("Failed to move faces: %v", err)
		}
		if moved != 4 {
			t.Errorf("Expected 4 moved, got %d", moved)
		}
		n, _ := store.CountFacesByPerson(ctx, "p2")
		if n != 4 {
			t.Errorf("Expected 4 faces on p2, got %d", n)
		}
	})

	t.Run("ClearFacePersons", func(t *testing.T) {
		if err := store.ClearFacePersons(ctx); err != nil {
			t.Fatalf("Failed to clear: %v", err)
		}
		n, _ := store.CountFacesByPerson(ctx, "p2")
		if n != 0 {
			t.Errorf("Expected 0 faces on p2, got %d", n)
		}
	})

	t.Run("DeleteFaceDetaches", func(t *testing.T) {
		if err := store.SetImageFaces(ctx, "img1", []string{"f0", "f1", "f2", "f3"}); err != nil {
			t.Fatal(err)
		}
		if err := store.DeleteFace(ctx, "f0"); err != nil {
			t.Fatalf("Failed to delete face: %v", err)
		}
		img, _ := store.GetImage(ctx, "img1")
		if len(img.Faces) != 3 {
			t.Errorf("Expected 3 face ids left on image, got %v", img.Faces)
		}
	})
}

func TestPersonsAndFolders(t *testing.T) {
	store, cleanup := setupTestContainer(t)
	if store == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()

	t.Run("PersonLifecycle", func(t *testing.T) {
		p := &catalog.Person{ID: "p1"}
		if err := store.InsertPerson(ctx, p); err != nil {
			t.Fatalf("Failed to insert person: %v", err)
		}
		if err := store.UpdatePersonName(ctx, "p1", "Alice"); err != nil {
			t.Fatalf("Failed to rename: %v", err)
		}
		if err := store.UpdatePersonRepresentative(ctx, "p1", "f1", 0.97); err != nil {
			t.Fatalf("Failed to set representative: %v", err)
		}
		got, err := store.GetPerson(ctx, "p1")
		if err != nil {
			t.Fatalf("Failed to get person: %v", err)
		}
		if got.Name != "Alice" || got.RepresentativeFaceID != "f1" || got.BestFaceScore != 0.97 {
			t.Errorf("Unexpected person: %+v", got)
		}
	})

	t.Run("EnsureFolderPath", func(t *testing.T) {
		leaf, err := store.EnsureFolderPath(ctx, "2024/Vacation/Beach")
		if err != nil {
			t.Fatalf("Failed to ensure folders: %v", err)
		}
		if leaf == "" {
			t.Fatal("Expected leaf folder id")
		}

		again, err := store.EnsureFolderPath(ctx, "2024/Vacation/Beach")
		if err != nil {
			t.Fatalf("Failed on repeat: %v", err)
		}
		if again != leaf {
			t.Errorf("Expected idempotent leaf id, got %s vs %s", again, leaf)
		}

		n, _ := store.CountFolders(ctx)
		if n != 3 {
			t.Errorf("Expected 3 folders, got %d", n)
		}

		f, err := store.GetFolder(ctx, leaf)
		if err != nil {
			t.Fatalf("Failed to get folder: %v", err)
		}
		if f.Path != "/2024/Vacation/Beach" || f.Name != "Beach" {
			t.Errorf("Unexpected folder: %+v", f)
		}
	})

	t.Run("RootImageHasNoFolder", func(t *testing.T) {
		id, err := store.EnsureFolderPath(ctx, ".")
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if id != "" {
			t.Errorf("Expected empty folder id for import root, got %s", id)
		}
	})

	t.Run("TruncateAll", func(t *testing.T) {
		if err := store.TruncateAll(ctx); err != nil {
			t.Fatalf("Failed to truncate: %v", err)
		}
		n, _ := store.CountPersons(ctx)
		if n != 0 {
			t.Errorf("Expected 0 persons, got %d", n)
		}
		n, _ = store.CountFolders(ctx)
		if n != 0 {
			t.Errorf("Expected 0 folders, got %d", n)
		}
	})
}
