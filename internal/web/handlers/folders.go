package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/facepic/internal/catalog"
)

// FoldersHandler exposes the materialised folder tree.
type FoldersHandler struct {
	store catalog.Store
}

func NewFoldersHandler(store catalog.Store) *FoldersHandler {
	return &FoldersHandler{store: store}
}

// FolderResponse is one folder in API responses.
type FolderResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
	Path     string `json:"path"`
}

func folderToResponse(f *catalog.Folder) FolderResponse {
	return FolderResponse{
		ID:       f.ID,
		Name:     f.Name,
		ParentID: f.ParentID,
		Path:     f.Path,
	}
}

// List returns every folder ordered by path.
func (h *FoldersHandler) List(w http.ResponseWriter, r *http.Request) {
	folders, err := h.store.ListFolders(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list folders")
		return
	}
	response := make([]FolderResponse, len(folders))
	for i := range folders {
		response[i] = folderToResponse(&folders[i])
	}
	respondJSON(w, http.StatusOK, response)
}

// Images returns the images directly inside one folder.
func (h *FoldersHandler) Images(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.store.GetFolder(r.Context(), id); errors.Is(err, catalog.ErrNotFound) {
		respondError(w, http.StatusNotFound, "folder not found")
		return
	} else if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get folder")
		return
	}

	images, err := h.store.ImagesByFolder(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list images")
		return
	}
	response := make([]ImageResponse, len(images))
	for i := range images {
		response[i] = imageToResponse(&images[i])
	}
	respondJSON(w, http.StatusOK, response)
}
