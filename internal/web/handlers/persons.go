package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/facepic/internal/catalog"
	"github.com/kozaktomas/facepic/internal/cluster"
)

// PersonsHandler serves the person collection and the merge operation.
type PersonsHandler struct {
	store    catalog.Store
	thumbDir string
}

func NewPersonsHandler(store catalog.Store, thumbDir string) *PersonsHandler {
	return &PersonsHandler{store: store, thumbDir: thumbDir}
}

// PersonResponse is one person in API responses.
type PersonResponse struct {
	ID                   string         `json:"id"`
	Name                 string         `json:"name,omitempty"`
	Thumbnail            string         `json:"thumbnail"`
	RepresentativeFaceID string         `json:"representative_face_id,omitempty"`
	BestFaceScore        float64        `json:"best_face_score"`
	FaceCount            int            `json:"face_count"`
	CreatedAt            time.Time      `json:"created_at"`
	Faces                []FaceResponse `json:"faces,omitempty"`
}

func (h *PersonsHandler) personToResponse(r *http.Request, p *catalog.Person) (PersonResponse, error) {
	count, err := h.store.CountFacesByPerson(r.Context(), p.ID)
	if err != nil {
		return PersonResponse{}, err
	}
	return PersonResponse{
		ID:                   p.ID,
		Name:                 p.Name,
		Thumbnail:            "/thumbnails/" + cluster.RepThumbRel(p.ID),
		RepresentativeFaceID: p.RepresentativeFaceID,
		BestFaceScore:        p.BestFaceScore,
		FaceCount:            count,
		CreatedAt:            p.CreatedAt,
	}, nil
}

// List returns persons with face counts, paged by limit/offset.
func (h *PersonsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := paging(r)
	persons, err := h.store.ListPersons(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list persons")
		return
	}
	total, err := h.store.CountPersons(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to count persons")
		return
	}

	response := make([]PersonResponse, len(persons))
	for i := range persons {
		response[i], err = h.personToResponse(r, &persons[i])
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to count faces")
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"persons": response,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

// Get returns one person with all their faces.
func (h *PersonsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := h.store.GetPerson(r.Context(), id)
	if errors.Is(err, catalog.ErrNotFound) {
		respondError(w, http.StatusNotFound, "person not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get person")
		return
	}

	response, err := h.personToResponse(r, p)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to count faces")
		return
	}
	faces, err := h.store.FacesByPerson(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get faces")
		return
	}
	response.Faces = make([]FaceResponse, len(faces))
	for i := range faces {
		response.Faces[i] = faceToResponse(&faces[i])
	}
	respondJSON(w, http.StatusOK, response)
}

type renameRequest struct {
	Name string `json:"name"`
}

// Rename labels a person. An empty name clears the label.
func (h *PersonsHandler) Rename(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	name := strings.TrimSpace(req.Name)

	if _, err := h.store.GetPerson(r.Context(), id); errors.Is(err, catalog.ErrNotFound) {
		respondError(w, http.StatusNotFound, "person not found")
		return
	} else if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get person")
		return
	}

	if err := h.store.UpdatePersonName(r.Context(), id, name); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to rename person")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": id, "name": name})
}

type mergeRequest struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
}

// Merge folds the source person into the target. Which of the two
// survives is decided by their labels; see cluster.Merge.
func (h *PersonsHandler) Merge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.SourceID == "" || req.TargetID == "" || req.SourceID == req.TargetID {
		respondError(w, http.StatusBadRequest, "source_id and target_id must be two distinct person ids")
		return
	}

	res, err := cluster.Merge(r.Context(), h.store, h.thumbDir, req.TargetID, req.SourceID)
	if errors.Is(err, catalog.ErrNotFound) {
		respondError(w, http.StatusNotFound, "person not found")
		return
	}
	if errors.Is(err, cluster.ErrDifferentNames) {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to merge persons")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"winner_id": res.WinnerID,
		"loser_id":  res.LoserID,
		"moved":     res.Moved,
	})
}
