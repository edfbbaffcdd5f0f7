package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/facepic/internal/catalog"
)

// ImagesHandler serves the image collection.
type ImagesHandler struct {
	store catalog.Store
}

func NewImagesHandler(store catalog.Store) *ImagesHandler {
	return &ImagesHandler{store: store}
}

// ImageResponse is one image in API responses.
type ImageResponse struct {
	ID               string                `json:"id"`
	Filename         string                `json:"filename"`
	OriginalFilename string                `json:"original_filename"`
	ThumbnailPath    string                `json:"thumbnail_path"`
	Width            int                   `json:"width"`
	Height           int                   `json:"height"`
	FileSize         int64                 `json:"file_size"`
	MimeType         string                `json:"mime_type"`
	UploadedAt       time.Time             `json:"uploaded_at"`
	Processed        string                `json:"processed"`
	IsUploaded       bool                  `json:"is_uploaded"`
	RelativePath     string                `json:"relative_path"`
	FolderID         string                `json:"folder_id,omitempty"`
	Metadata         catalog.ImageMetadata `json:"metadata"`
	Faces            []FaceResponse        `json:"faces,omitempty"`
	FaceCount        int                   `json:"face_count"`
}

// FaceResponse is one face in API responses.
type FaceResponse struct {
	ID            string       `json:"id"`
	ImageID       string       `json:"image_id"`
	PersonID      string       `json:"person_id,omitempty"`
	BBox          catalog.BBox `json:"bbox"`
	ThumbnailPath string       `json:"thumbnail_path"`
	DetScore      float64      `json:"det_score"`
}

func imageToResponse(img *catalog.Image) ImageResponse {
	return ImageResponse{
		ID:               img.ID,
		Filename:         img.Filename,
		OriginalFilename: img.OriginalFilename,
		ThumbnailPath:    img.ThumbnailPath,
		Width:            img.Width,
		Height:           img.Height,
		FileSize:         img.FileSize,
		MimeType:         img.MimeType,
		UploadedAt:       img.UploadedAt,
		Processed:        img.Processed,
		IsUploaded:       img.IsUploaded,
		RelativePath:     img.RelativePath,
		FolderID:         img.FolderID,
		Metadata:         img.Metadata,
		FaceCount:        len(img.Faces),
	}
}

func faceToResponse(f *catalog.Face) FaceResponse {
	return FaceResponse{
		ID:            f.ID,
		ImageID:       f.ImageID,
		PersonID:      f.PersonID,
		BBox:          f.BBox,
		ThumbnailPath: f.ThumbnailPath,
		DetScore:      f.Metadata.DetScore,
	}
}

// List returns images, newest first, paged by limit/offset.
func (h *ImagesHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := paging(r)
	images, err := h.store.ListImages(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list images")
		return
	}
	total, err := h.store.CountImages(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to count images")
		return
	}

	response := make([]ImageResponse, len(images))
	for i := range images {
		response[i] = imageToResponse(&images[i])
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"images": response,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// Get returns one image with its faces.
func (h *ImagesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	img, err := h.store.GetImage(r.Context(), id)
	if errors.Is(err, catalog.ErrNotFound) {
		respondError(w, http.StatusNotFound, "image not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get image")
		return
	}

	faces, err := h.store.FacesByImage(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get faces")
		return
	}

	response := imageToResponse(img)
	response.Faces = make([]FaceResponse, len(faces))
	for i := range faces {
		response.Faces[i] = faceToResponse(&faces[i])
	}
	respondJSON(w, http.StatusOK, response)
}
