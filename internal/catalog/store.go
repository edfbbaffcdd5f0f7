package catalog

import (
	"context"
	"errors"
)

// ErrNotFound is returned by lookups for missing documents.
var ErrNotFound = errors.New("document not found")

// ImageStore provides access to the images collection.
type ImageStore interface {
	InsertImage(ctx context.Context, img *Image) error
	GetImage(ctx context.Context, id string) (*Image, error)
	// GetImageByRelPath looks an image up by its import-relative path,
	// the resume key. Returns ErrNotFound when absent.
	GetImageByRelPath(ctx context.Context, relPath string) (*Image, error)
	UpdateImageState(ctx context.Context, id, state string) error
	// SetImageFaces replaces the denormalised face id list.
	SetImageFaces(ctx context.Context, id string, faceIDs []string) error
	// RemoveImageFace pulls a single face id out of the list.
	RemoveImageFace(ctx context.Context, id, faceID string) error
	// MarkImageUploaded flips is_uploaded and records the blob-side names.
	MarkImageUploaded(ctx context.Context, id, filename, thumbnailPath string) error
	// DeleteImage removes the image and cascades to its faces.
	DeleteImage(ctx context.Context, id string) error
	ListImages(ctx context.Context, limit, offset int) ([]Image, error)
	ImagesByFolder(ctx context.Context, folderID string) ([]Image, error)
	// ImagesPendingUpload streams images with is_uploaded = false.
	ImagesPendingUpload(ctx context.Context) ([]Image, error)
	CountImages(ctx context.Context) (int, error)
}

// FaceStore provides access to the faces collection.
type FaceStore interface {
	InsertFace(ctx context.Context, f *Face) error
	GetFace(ctx context.Context, id string) (*Face, error)
	DeleteFace(ctx context.Context, id string) error
	SetFaceThumbnail(ctx context.Context, id, path string) error
	UpdateFacePerson(ctx context.Context, id, personID string) error
	FacesByImage(ctx context.Context, imageID string) ([]Face, error)
	FacesByPerson(ctx context.Context, personID string) ([]Face, error)
	CountFacesByPerson(ctx context.Context, personID string) (int, error)
	// AllFaces returns every face in deterministic (insertion) order.
	AllFaces(ctx context.Context) ([]Face, error)
	// MoveFaces reassigns all faces of one person to another and returns
	// the number moved.
	MoveFaces(ctx context.Context, fromPersonID, toPersonID string) (int, error)
	// SetFaceThumbnailsByPerson rewrites the thumbnail path of every face
	// of a person, used after merges.
	SetFaceThumbnailsByPerson(ctx context.Context, personID, path string) error
	// ClearFacePersons detaches every face from its person (re-cluster).
	ClearFacePersons(ctx context.Context) error
	// FindSimilarFaces returns the nearest 512-d faces to the query by
	// cosine distance, with distances. Faces without a 512-d embedding
	// are not considered.
	FindSimilarFaces(ctx context.Context, embedding []float32, limit int) ([]Face, []float64, error)
	CountFaces(ctx context.Context) (int, error)
}

// PersonStore provides access to the persons collection.
type PersonStore interface {
	InsertPerson(ctx context.Context, p *Person) error
	GetPerson(ctx context.Context, id string) (*Person, error)
	DeletePerson(ctx context.Context, id string) error
	DeleteAllPersons(ctx context.Context) error
	UpdatePersonName(ctx context.Context, id, name string) error
	// UpdatePersonRepresentative sets the representative face and the
	// best score it was chosen by.
	UpdatePersonRepresentative(ctx context.Context, id, faceID string, bestScore float64) error
	ListPersons(ctx context.Context, limit, offset int) ([]Person, error)
	AllPersons(ctx context.Context) ([]Person, error)
	CountPersons(ctx context.Context) (int, error)
}

// FolderStore materialises the folder hierarchy of the import tree.
type FolderStore interface {
	// EnsureFolderPath walks the components of relPath, upserting one
	// folder per component keyed by path, and returns the leaf id.
	// Idempotent and safe to call concurrently for overlapping prefixes.
	EnsureFolderPath(ctx context.Context, relPath string) (string, error)
	GetFolder(ctx context.Context, id string) (*Folder, error)
	ListFolders(ctx context.Context) ([]Folder, error)
	CountFolders(ctx context.Context) (int, error)
}

// Store is the full catalogue surface used by the pipeline, the
// clustering engine, maintenance and the read API.
type Store interface {
	ImageStore
	FaceStore
	PersonStore
	FolderStore

	// TruncateAll empties every collection. Used by cleanup only.
	TruncateAll(ctx context.Context) error
}
