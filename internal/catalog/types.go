// Package catalog defines the document model of the face catalogue and
// the storage interfaces implemented by the postgres and mock backends.
package catalog

import "time"

// Processing states of an image document.
const (
	StatePending   = "pending"
	StateProcessed = "processed"
	StateFailed    = "failed"
)

// Image is one ingested photograph.
type Image struct {
	ID               string
	Filename         string // generated, globally unique stored name
	OriginalFilename string
	FilePath         string // absolute on-disk path of the source file
	ThumbnailPath    string
	Width            int
	Height           int
	FileSize         int64
	MimeType         string
	UploadedAt       time.Time
	Processed        string // pending | processed | failed
	IsUploaded       bool   // original + thumbnail reached the blob sink
	RelativePath     string // path relative to the import root, resume key
	ProcessedAt      time.Time
	Metadata         ImageMetadata
	FolderID         string   // empty for images at the import root
	Faces            []string // ordered face ids, denormalised for detail reads
}

// ImageMetadata holds the extracted EXIF tags.
type ImageMetadata struct {
	DateTime  string   `json:"DateTime,omitempty"`
	Make      string   `json:"Make,omitempty"`
	Model     string   `json:"Model,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// BBox is a face bounding box in pixel coordinates of the owning image.
type BBox struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// Width returns the horizontal extent of the box.
func (b BBox) Width() int { return b.Right - b.Left }

// Height returns the vertical extent of the box.
func (b BBox) Height() int { return b.Bottom - b.Top }

// TouchesEdge reports whether the box comes within margin pixels of the
// image border. Such faces are partial and are pruned by maintenance.
func (b BBox) TouchesEdge(imgWidth, imgHeight, margin int) bool {
	return b.Left < margin ||
		b.Top < margin ||
		b.Right > imgWidth-margin ||
		b.Bottom > imgHeight-margin
}

// Face is one detected face within an image.
type Face struct {
	ID            string
	ImageID       string
	PersonID      string // empty between insertion and clustering
	BBox          BBox
	Encoding      []byte // stored embedding bytes, see the embedding package
	ThumbnailPath string
	CreatedAt     time.Time
	Metadata      FaceMetadata
}

// FaceMetadata carries detector outputs beyond the embedding.
type FaceMetadata struct {
	DetScore float64 `json:"det_score"`
	Age      *int    `json:"age,omitempty"`
	Gender   *int    `json:"gender,omitempty"`
}

// Person is a cluster of faces believed to depict one individual.
type Person struct {
	ID                   string
	Name                 string // empty = unlabeled
	CreatedAt            time.Time
	UpdatedAt            time.Time
	RepresentativeFaceID string
	BestFaceScore        float64
}

// Folder mirrors one directory of the import tree.
type Folder struct {
	ID        string
	Name      string
	ParentID  string
	Path      string // materialised /a/b/c path from the import root, unique
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Stats summarises the catalogue for the read API.
type Stats struct {
	Images  int `json:"images"`
	Faces   int `json:"faces"`
	Persons int `json:"persons"`
	Folders int `json:"folders"`
}
